// AngelaMos | 2026
// client.go

package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/carterperez-dev/quotachat/internal/config"
	"github.com/carterperez-dev/quotachat/internal/core"
)

const jsonAPIContentType = "application/vnd.api+json"

var (
	ErrNotConfigured = errors.New("billing customer API not configured")
	ErrCustomerAPI   = errors.New("billing customer API error")
)

type jsonAPIRelation struct {
	Data jsonAPIRef `json:"data"`
}

type jsonAPIRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type createCustomerRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"attributes"`
		Relationships struct {
			Store jsonAPIRelation `json:"store"`
		} `json:"relationships"`
	} `json:"data"`
}

type createCustomerResponse struct {
	Data struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"data"`
}

// Client talks to the Lemon Squeezy REST API.
type Client struct {
	cfg      config.BillingConfig
	baseURL  string
	outbound *core.Outbound
}

func NewClient(cfg config.BillingConfig, outbound *core.Outbound) *Client {
	if outbound == nil {
		outbound = core.NewOutbound(core.OutboundSettings{
			Name:      "billing",
			Timeout:   cfg.Timeout,
			UserAgent: "quotachat/1.0",
		})
	}
	return &Client{
		cfg:      cfg,
		baseURL:  strings.TrimRight(cfg.APIURL, "/"),
		outbound: outbound,
	}
}

func (c *Client) Outbound() *core.Outbound {
	return c.outbound
}

// CreateCustomer registers email with the store and returns the provider's
// customer id.
func (c *Client) CreateCustomer(
	ctx context.Context,
	email, name string,
) (string, error) {
	if !c.cfg.CustomerAPIConfigured() {
		return "", ErrNotConfigured
	}

	var body createCustomerRequest
	body.Data.Type = "customers"
	body.Data.Attributes.Name = name
	body.Data.Attributes.Email = email
	body.Data.Relationships.Store.Data = jsonAPIRef{
		Type: "stores",
		ID:   c.cfg.StoreID,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal customer: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/customers",
		bytes.NewReader(payload),
	)
	if err != nil {
		return "", fmt.Errorf("create customer request: %w", err)
	}
	req.Header.Set("Accept", jsonAPIContentType)
	req.Header.Set("Content-Type", jsonAPIContentType)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.outbound.Do(req)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // context only
		return "", fmt.Errorf(
			"%w: status %d: %s",
			ErrCustomerAPI,
			resp.StatusCode,
			strings.TrimSpace(string(detail)),
		)
	}

	var out createCustomerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %w", ErrCustomerAPI, err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("%w: response missing customer id", ErrCustomerAPI)
	}

	return out.Data.ID, nil
}

// CheckoutLink prefills the hosted checkout with the user's email. An
// unconfigured link is returned empty.
func (c *Client) CheckoutLink(email string) string {
	return CheckoutLink(c.cfg.CheckoutLink, email)
}

func CheckoutLink(base, email string) string {
	if base == "" || email == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "checkout[email]=" + url.QueryEscape(email)
}

// AngelaMos | 2026
// client.go

package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carterperez-dev/quotachat/internal/config"
	"github.com/carterperez-dev/quotachat/internal/core"
)

var (
	ErrNotConfigured = errors.New("completion gateway not configured")
	ErrUnavailable   = errors.New("completion gateway unavailable")
	ErrBadResponse   = errors.New("completion gateway returned an unusable response")
)

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Client calls an OpenAI-compatible /chat/completions endpoint. One prompt
// in, one reply out; no streaming and no retries.
type Client struct {
	cfg      config.CompletionConfig
	baseURL  string
	outbound *core.Outbound
}

func NewClient(cfg config.CompletionConfig, outbound *core.Outbound) *Client {
	if outbound == nil {
		outbound = core.NewOutbound(core.OutboundSettings{
			Name:      "completion",
			Timeout:   cfg.Timeout,
			UserAgent: "quotachat/1.0",
		})
	}

	return &Client{
		cfg:      cfg,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		outbound: outbound,
	}
}

func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

func (c *Client) Outbound() *core.Outbound {
	return c.outbound
}

// Complete returns the model's reply to prompt. Any transport failure,
// timeout, non-2xx status or empty answer is an error.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(chatRequest{
		Model:     c.cfg.Model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(payload),
	)
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.outbound.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // context only
		return "", fmt.Errorf(
			"%w: status %d: %s",
			ErrBadResponse,
			resp.StatusCode,
			strings.TrimSpace(string(body)),
		)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %w", ErrBadResponse, err)
	}

	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrBadResponse)
	}

	reply := strings.TrimSpace(out.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ErrBadResponse)
	}

	return reply, nil
}

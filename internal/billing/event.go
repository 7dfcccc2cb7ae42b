// AngelaMos | 2026
// event.go

package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	EventSubscriptionCreated   = "subscription_created"
	EventSubscriptionUpdated   = "subscription_updated"
	EventSubscriptionCancelled = "subscription_cancelled"
	EventSubscriptionExpired   = "subscription_expired"

	StatusActive = "active"
)

// Event is a verified billing webhook reduced to the fields reconciliation
// reads. Missing* flags record structural gaps in the payload.
type Event struct {
	Name              string
	WebhookID         string
	MissingData       bool
	MissingAttributes bool
	CustomerID        string
	VariantID         string
	Status            string
	RenewsAt          string
}

type webhookPayload struct {
	Meta struct {
		EventName string `json:"event_name"`
		WebhookID string `json:"webhook_id"`
	} `json:"meta"`
	Data *struct {
		Attributes map[string]json.RawMessage `json:"attributes"`
	} `json:"data"`
}

// ParseEvent decodes a webhook body. headerName, when set, wins over the
// event name carried in the payload's meta block.
func ParseEvent(payload []byte, headerName string) (Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Event{}, fmt.Errorf("decode webhook payload: %w", err)
	}

	ev := Event{
		Name:      strings.TrimSpace(headerName),
		WebhookID: p.Meta.WebhookID,
	}
	if ev.Name == "" {
		ev.Name = p.Meta.EventName
	}

	if p.Data == nil {
		ev.MissingData = true
		return ev, nil
	}
	if len(p.Data.Attributes) == 0 {
		ev.MissingAttributes = true
		return ev, nil
	}

	attrs := p.Data.Attributes
	ev.CustomerID = scalarString(attrs["customer_id"])
	ev.VariantID = scalarString(attrs["variant_id"])
	ev.Status = scalarString(attrs["status"])
	ev.RenewsAt = scalarString(attrs["renews_at"])

	return ev, nil
}

// scalarString renders a JSON string or number as text. null, false, zero,
// empty strings and composite values all read as absent.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		n, err := strconv.ParseFloat(string(raw), 64)
		if err != nil || n == 0 {
			return ""
		}
		return string(raw)
	default:
		return ""
	}
}

// AngelaMos | 2026
// webhook_test.go

package billing

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/usage"
)

const testSecret = "whsec_test"

func newTestWebhook(t *testing.T, secret string, store *fakePlanStore) *WebhookHandler {
	t.Helper()
	r := NewReconciler(testVariants, store, fixedClock(testToday), nil)
	return NewWebhookHandler(secret, r, nil)
}

func postWebhook(
	t *testing.T,
	h *WebhookHandler,
	body, eventName, signature string,
) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/lemonsqueezy", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	if eventName != "" {
		req.Header.Set(EventNameHeader, eventName)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func signed(body string) string {
	return core.SignPayload(testSecret, []byte(body))
}

func TestWebhook_Authentication(t *testing.T) {
	body := `{"meta":{"webhook_id":"wh_1"},"data":{"attributes":{"customer_id":9}}}`

	t.Run("secret not configured", func(t *testing.T) {
		h := newTestWebhook(t, "", newFakePlanStore())
		rec := postWebhook(t, h, body, EventSubscriptionCreated, signed(body))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		h := newTestWebhook(t, testSecret, newFakePlanStore())
		rec := postWebhook(t, h, body, EventSubscriptionCreated, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("signature mismatch", func(t *testing.T) {
		h := newTestWebhook(t, testSecret, newFakePlanStore())
		rec := postWebhook(t, h, body, EventSubscriptionCreated, core.SignPayload("other", []byte(body)))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("signature over different body", func(t *testing.T) {
		h := newTestWebhook(t, testSecret, newFakePlanStore())
		rec := postWebhook(t, h, body+" ", EventSubscriptionCreated, signed(body))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("malformed json with valid signature", func(t *testing.T) {
		h := newTestWebhook(t, testSecret, newFakePlanStore())
		bad := `{"meta":`
		rec := postWebhook(t, h, bad, EventSubscriptionCreated, signed(bad))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWebhook_Reconciliation(t *testing.T) {
	tests := []struct {
		name       string
		event      string
		body       string
		wantStatus int
		wantBody   string
		wantPlan   usage.Plan
	}{
		{
			name:       "active standard subscription",
			event:      EventSubscriptionCreated,
			body:       `{"meta":{"webhook_id":"wh_1"},"data":{"attributes":{"customer_id":42,"variant_id":111,"status":"active","renews_at":"2026-04-10T17:26:09.000000Z"}}}`,
			wantStatus: http.StatusOK,
			wantBody:   "Webhook processed successfully",
			wantPlan:   usage.PlanStandard,
		},
		{
			name:       "event name from meta",
			body:       `{"meta":{"event_name":"subscription_updated"},"data":{"attributes":{"customer_id":"42","variant_id":"222","status":"active"}}}`,
			wantStatus: http.StatusOK,
			wantBody:   "Webhook processed successfully",
			wantPlan:   usage.PlanPro,
		},
		{
			name:       "cancellation",
			event:      EventSubscriptionCancelled,
			body:       `{"data":{"attributes":{"customer_id":42,"status":"cancelled"}}}`,
			wantStatus: http.StatusOK,
			wantBody:   "Webhook processed successfully",
			wantPlan:   usage.PlanFree,
		},
		{
			name:       "unmatched customer",
			event:      EventSubscriptionCancelled,
			body:       `{"data":{"attributes":{"customer_id":7}}}`,
			wantStatus: http.StatusAccepted,
			wantBody:   "User not found in DB",
			wantPlan:   usage.PlanStandard,
		},
		{
			name:       "missing data",
			event:      EventSubscriptionCreated,
			body:       `{"meta":{}}`,
			wantStatus: http.StatusAccepted,
			wantBody:   "Warning: Missing data object",
			wantPlan:   usage.PlanStandard,
		},
		{
			name:       "empty attributes",
			event:      EventSubscriptionCreated,
			body:       `{"data":{"attributes":{}}}`,
			wantStatus: http.StatusAccepted,
			wantBody:   "Warning: Missing attributes object",
			wantPlan:   usage.PlanStandard,
		},
		{
			name:       "null customer id",
			event:      EventSubscriptionCreated,
			body:       `{"data":{"attributes":{"customer_id":null,"status":"active"}}}`,
			wantStatus: http.StatusAccepted,
			wantBody:   "Warning: Missing customer ID",
			wantPlan:   usage.PlanStandard,
		},
		{
			name:       "past due ignored",
			event:      EventSubscriptionUpdated,
			body:       `{"data":{"attributes":{"customer_id":42,"variant_id":111,"status":"past_due"}}}`,
			wantStatus: http.StatusOK,
			wantBody:   "Ignoring non-active status: past_due",
			wantPlan:   usage.PlanStandard,
		},
		{
			name:       "unknown variant",
			event:      EventSubscriptionCreated,
			body:       `{"data":{"attributes":{"customer_id":42,"variant_id":5,"status":"active"}}}`,
			wantStatus: http.StatusOK,
			wantBody:   "Event for unknown variant ignored",
			wantPlan:   usage.PlanStandard,
		},
		{
			name:       "unhandled event",
			event:      "order_created",
			body:       `{"data":{"attributes":{"customer_id":42}}}`,
			wantStatus: http.StatusOK,
			wantBody:   "Event ignored",
			wantPlan:   usage.PlanStandard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakePlanStore()
			store.states["42"] = usage.State{Plan: usage.PlanStandard, MessagesThisMonth: 57}
			h := newTestWebhook(t, testSecret, store)

			rec := postWebhook(t, h, tt.body, tt.event, signed(tt.body))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, tt.wantPlan, store.states["42"].Plan)
		})
	}
}

func TestWebhook_StoreFailureAsksForRetry(t *testing.T) {
	store := newFakePlanStore()
	store.err = errors.New("db down")
	h := newTestWebhook(t, testSecret, store)

	body := `{"data":{"attributes":{"customer_id":42}}}`
	rec := postWebhook(t, h, body, EventSubscriptionExpired, signed(body))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhook_DuplicateDeliveryConverges(t *testing.T) {
	store := newFakePlanStore()
	store.states["42"] = usage.State{Plan: usage.PlanFree, MessagesThisHour: 2}
	h := newTestWebhook(t, testSecret, store)

	body := `{"data":{"attributes":{"customer_id":42,"variant_id":111,"status":"active","renews_at":"2026-04-10T00:00:00Z"}}}`

	first := postWebhook(t, h, body, EventSubscriptionCreated, signed(body))
	require.Equal(t, http.StatusOK, first.Code)
	afterOnce := store.states["42"]

	second := postWebhook(t, h, body, EventSubscriptionCreated, signed(body))
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, afterOnce, store.states["42"])
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig := core.SignPayload("s3cret", payload)

	require.NoError(t, VerifySignature("s3cret", payload, sig))
	assert.ErrorIs(t, VerifySignature("s3cret", payload, strings.ToUpper(sig)), ErrSignatureMismatch)
	assert.ErrorIs(t, VerifySignature("s3cret", payload, ""), ErrSignatureMismatch)
	assert.ErrorIs(t, VerifySignature("wrong", payload, sig), ErrSignatureMismatch)
}

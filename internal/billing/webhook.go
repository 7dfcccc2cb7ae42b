// AngelaMos | 2026
// webhook.go

package billing

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carterperez-dev/quotachat/internal/core"
)

const (
	SignatureHeader = "X-Signature"
	EventNameHeader = "X-Event-Name"

	maxWebhookBodySize = 256 * 1024
)

var ErrSignatureMismatch = errors.New("webhook signature mismatch")

// VerifySignature checks a hex HMAC-SHA256 of the raw body in constant time.
func VerifySignature(secret string, payload []byte, signature string) error {
	if !core.VerifyPayloadSignature(secret, payload, signature) {
		return ErrSignatureMismatch
	}
	return nil
}

// WebhookHandler is the public billing callback. Responses are plain text
// because the provider only inspects the status code.
type WebhookHandler struct {
	secret     string
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewWebhookHandler(
	secret string,
	reconciler *Reconciler,
	logger *slog.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		secret:     secret,
		reconciler: reconciler,
		logger:     logger,
	}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook/lemonsqueezy", h.Handle)
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.secret == "" {
		h.logger.ErrorContext(ctx, "webhook secret not configured")
		writeText(w, http.StatusInternalServerError, "Webhook secret not configured")
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		h.logger.WarnContext(ctx, "webhook signature header missing")
		writeText(w, http.StatusBadRequest, "Missing signature")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		writeText(w, http.StatusBadRequest, "Unreadable request body")
		return
	}

	if err := VerifySignature(h.secret, payload, signature); err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed")
		writeText(w, http.StatusForbidden, "Invalid signature")
		return
	}

	ev, err := ParseEvent(payload, r.Header.Get(EventNameHeader))
	if err != nil {
		h.logger.WarnContext(ctx, "invalid webhook payload", "error", err)
		writeText(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	h.logger.InfoContext(ctx, "billing webhook received",
		"event", ev.Name,
		"webhook_id", ev.WebhookID,
	)

	res, err := h.reconciler.Handle(ctx, ev)
	if err != nil {
		core.SetSpanError(ctx, err)
	}

	writeText(w, res.Status, res.Message)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // best-effort response write
	_, _ = io.WriteString(w, body)
}

// AngelaMos | 2026
// handler.go

package chat

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/middleware"
	"github.com/carterperez-dev/quotachat/internal/usage"
)

type Handler struct {
	service   *Service
	validator *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
	limiter func(http.Handler) http.Handler,
) {
	r.Route("/chat", func(r chi.Router) {
		r.Use(authenticator)
		r.Get("/usage", h.GetUsage)

		r.With(limiter).Post("/messages", h.SendMessage)
	})
}

func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		core.Unauthorized(w, "")
		return
	}

	view, err := h.service.GetUsage(r.Context(), userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "user")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, view)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		core.Unauthorized(w, "")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		core.BadRequest(w, "Please enter a message")
		return
	}

	result, err := h.service.SendMessage(r.Context(), userID, req.Message)
	if err != nil {
		h.writeSendError(w, err)
		return
	}

	if !result.Admitted {
		if result.RetryAfter > 0 {
			secs := int(math.Ceil(result.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(1, secs)))
		}
		core.JSONError(w, core.NewAppError(
			quotaError(result.Reason),
			result.Notice,
			http.StatusTooManyRequests,
			"QUOTA_EXCEEDED",
		))
		return
	}

	core.OK(w, SendMessageResponse{
		Reply: result.Reply,
		Usage: result.Usage,
	})
}

func (h *Handler) writeSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		core.BadRequest(w, "Please enter a message")
	case errors.Is(err, ErrGatewayNotConfigured):
		core.JSONError(w, core.UnavailableError("Chatbot service is currently unavailable."))
	case errors.Is(err, ErrGatewayFailed):
		core.JSONError(w, core.NewAppError(
			err,
			"Sorry, I encountered an error processing your request.",
			http.StatusBadGateway,
			"COMPLETION_FAILED",
		))
	case errors.Is(err, usage.ErrLockBusy):
		core.JSONError(w, core.ConflictError("another message is still being processed"))
	case errors.Is(err, core.ErrNotFound):
		core.NotFound(w, "user")
	default:
		core.InternalServerError(w, err)
	}
}

func quotaError(reason usage.Reason) error {
	return errors.New(string(reason))
}

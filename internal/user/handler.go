// AngelaMos | 2026
// handler.go

package user

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/middleware"
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

// RegisterRoutes mounts the caller's profile under /users/me and the
// read-only operator lookup under /admin/users.
func (h *Handler) RegisterRoutes(r chi.Router, authenticator, adminOnly func(http.Handler) http.Handler) {
	r.With(authenticator).Route("/users/me", func(r chi.Router) {
		r.Get("/", h.Me)
		r.Patch("/", h.UpdateMe)
	})

	r.With(authenticator, adminOnly).Route("/admin/users", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{userID}", h.Get)
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Profile(r.Context(), middleware.GetUserID(r.Context()))
	writeUser(w, u, err)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	u, err := h.service.Rename(r.Context(), middleware.GetUserID(r.Context()), req.Name)
	writeUser(w, u, err)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Profile(r.Context(), chi.URLParam(r, "userID"))
	writeUser(w, u, err)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f, err := ParseListFilter(r.URL.Query())
	if err != nil {
		core.BadRequest(w, "plan must be one of: free standard pro")
		return
	}

	users, total, err := h.service.List(r.Context(), f)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	out := make([]UserResponse, len(users))
	for i := range users {
		out[i] = ToUserResponse(&users[i])
	}
	core.Paginated(w, out, f.Page, f.PageSize, total)
}

func writeUser(w http.ResponseWriter, u *User, err error) {
	switch {
	case err == nil:
		core.OK(w, ToUserResponse(u))
	case errors.Is(err, core.ErrNotFound):
		core.NotFound(w, "user")
	case errors.Is(err, core.ErrUnauthorized):
		core.Unauthorized(w, "")
	default:
		core.InternalServerError(w, err)
	}
}

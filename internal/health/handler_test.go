// AngelaMos | 2026
// handler_test.go

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	up   = pingFunc(func(context.Context) error { return nil })
	down = pingFunc(func(context.Context) error { return errors.New("down") })
)

func readiness(t *testing.T, h *Handler) (int, ReadinessResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     []Check
		wantStatus int
		wantBody   string
	}{
		{
			name: "all healthy",
			checks: []Check{
				{Name: "database", Checker: up, Critical: true},
				{Name: "redis", Checker: up, Critical: true},
				{Name: "completion", Checker: up},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "open breaker only degrades",
			checks: []Check{
				{Name: "database", Checker: up, Critical: true},
				{Name: "completion", Checker: down},
			},
			wantStatus: http.StatusOK,
			wantBody:   "degraded",
		},
		{
			name: "database down",
			checks: []Check{
				{Name: "database", Checker: down, Critical: true},
				{Name: "completion", Checker: down},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unavailable",
		},
		{
			name: "missing critical checker",
			checks: []Check{
				{Name: "redis", Critical: true},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := readiness(t, NewHandler(tt.checks...))

			assert.Equal(t, tt.wantStatus, code)
			assert.Equal(t, tt.wantBody, body.Status)
			require.Len(t, body.Checks, len(tt.checks))
			for i, c := range tt.checks {
				assert.Equal(t, c.Name, body.Checks[i].Name)
			}
		})
	}
}

func TestShutdownAndNotReady(t *testing.T) {
	h := NewHandler(Check{Name: "database", Checker: up, Critical: true})

	h.SetReady(false)
	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")

	h.SetReady(true)
	h.SetShutdown(true)
	rec = httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "shutting_down")
}

// AngelaMos | 2026
// handler.go

package admin

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/usage"
)

// Upstream is a third-party dependency guarded by a circuit breaker.
type Upstream interface {
	Name() string
	State() string
}

type HandlerConfig struct {
	DBStats    func() sql.DBStats
	DBPing     func(ctx context.Context) error
	RedisStats func() *redis.PoolStats
	RedisPing  func(ctx context.Context) error
	PlanCounts func(ctx context.Context) (map[usage.Plan]int, error)
	Upstreams  []Upstream
}

type Handler struct {
	cfg HandlerConfig
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

func (h *Handler) RegisterRoutes(r chi.Router, authenticator, adminOnly func(http.Handler) http.Handler) {
	r.With(authenticator, adminOnly).Route("/admin/stats", func(r chi.Router) {
		r.Get("/", h.GetOverview)
		r.Get("/plans", h.GetPlanStats)
		r.Get("/upstreams", h.GetUpstreamStats)
	})
}

// GetOverview pings both stores and counts subscribers in parallel. A
// failed ping marks the store unhealthy; a failed count fails the request.
func (h *Handler) GetOverview(w http.ResponseWriter, r *http.Request) {
	var (
		out   Overview
		plans *PlanStatsResponse
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		out.Database = storeStatus(ctx, h.cfg.DBPing, dbPool(h.cfg.DBStats))
		return nil
	})
	g.Go(func() error {
		out.Redis = storeStatus(ctx, h.cfg.RedisPing, redisPool(h.cfg.RedisStats))
		return nil
	})
	if h.cfg.PlanCounts != nil {
		g.Go(func() error {
			p, err := h.planStats(ctx)
			plans = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		core.InternalServerError(w, err)
		return
	}

	out.Plans = plans
	out.Runtime = readRuntime()
	out.Upstreams = h.upstreams()
	core.OK(w, out)
}

func (h *Handler) GetPlanStats(w http.ResponseWriter, r *http.Request) {
	if h.cfg.PlanCounts == nil {
		core.JSONError(w, core.UnavailableError("plan counts not configured"))
		return
	}

	stats, err := h.planStats(r.Context())
	if err != nil {
		core.InternalServerError(w, err)
		return
	}
	core.OK(w, stats)
}

func (h *Handler) GetUpstreamStats(w http.ResponseWriter, _ *http.Request) {
	core.OK(w, h.upstreams())
}

func (h *Handler) planStats(ctx context.Context) (*PlanStatsResponse, error) {
	counts, err := h.cfg.PlanCounts(ctx)
	if err != nil {
		return nil, err
	}

	s := &PlanStatsResponse{
		Free:     counts[usage.PlanFree],
		Standard: counts[usage.PlanStandard],
		Pro:      counts[usage.PlanPro],
	}
	s.Total = s.Free + s.Standard + s.Pro
	return s, nil
}

func (h *Handler) upstreams() []UpstreamStatus {
	out := make([]UpstreamStatus, 0, len(h.cfg.Upstreams))
	for _, u := range h.cfg.Upstreams {
		out = append(out, UpstreamStatus{Name: u.Name(), Breaker: u.State()})
	}
	return out
}

func storeStatus(ctx context.Context, ping func(context.Context) error, pool *PoolStats) StoreStatus {
	st := StoreStatus{Healthy: true, Pool: pool}
	if ping != nil {
		if err := ping(ctx); err != nil {
			st.Healthy = false
			st.Error = err.Error()
		}
	}
	return st
}

func dbPool(stats func() sql.DBStats) *PoolStats {
	if stats == nil {
		return nil
	}
	s := stats()
	return &PoolStats{
		Open:     s.OpenConnections,
		InUse:    s.InUse,
		Idle:     s.Idle,
		Waits:    s.WaitCount,
		WaitTime: s.WaitDuration.String(),
	}
}

func redisPool(stats func() *redis.PoolStats) *PoolStats {
	if stats == nil {
		return nil
	}
	s := stats()
	return &PoolStats{
		Open:     int(s.TotalConns),
		InUse:    int(s.TotalConns - s.IdleConns),
		Idle:     int(s.IdleConns),
		Timeouts: int64(s.Timeouts),
	}
}

func readRuntime() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeStats{
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		HeapBytes:  m.HeapAlloc,
		NumGC:      m.NumGC,
	}
}

type Overview struct {
	Database  StoreStatus        `json:"database"`
	Redis     StoreStatus        `json:"redis"`
	Plans     *PlanStatsResponse `json:"plans,omitempty"`
	Upstreams []UpstreamStatus   `json:"upstreams"`
	Runtime   RuntimeStats       `json:"runtime"`
}

type StoreStatus struct {
	Healthy bool       `json:"healthy"`
	Error   string     `json:"error,omitempty"`
	Pool    *PoolStats `json:"pool,omitempty"`
}

// PoolStats is the common view of the sql and redis pools. Fields a pool
// does not track stay zero.
type PoolStats struct {
	Open     int    `json:"open"`
	InUse    int    `json:"in_use"`
	Idle     int    `json:"idle"`
	Waits    int64  `json:"waits,omitempty"`
	WaitTime string `json:"wait_time,omitempty"`
	Timeouts int64  `json:"timeouts,omitempty"`
}

type PlanStatsResponse struct {
	Free     int `json:"free"`
	Standard int `json:"standard"`
	Pro      int `json:"pro"`
	Total    int `json:"total"`
}

type UpstreamStatus struct {
	Name    string `json:"name"`
	Breaker string `json:"breaker"`
}

type RuntimeStats struct {
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	HeapBytes  uint64 `json:"heap_bytes"`
	NumGC      uint32 `json:"num_gc"`
}

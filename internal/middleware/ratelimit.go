// AngelaMos | 2026
// ratelimit.go

package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/carterperez-dev/quotachat/internal/core"
)

var errRateLimited = errors.New("rate limited")

// Allower is the shared counter store. *redis_rate.Limiter satisfies it.
type Allower interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

type RateLimitConfig struct {
	Limit   redis_rate.Limit
	Prefix  string
	KeyFunc func(*http.Request) string
	Skip    func(*http.Request) bool
	// FailOpen keeps limiting per process when the shared store errors.
	// Without it those requests get 503.
	FailOpen bool
}

type RateLimiter struct {
	shared Allower
	local  *memoryLimiter
	cfg    RateLimitConfig
}

func NewRateLimiter(rdb *redis.Client, cfg RateLimitConfig) *RateLimiter {
	return newRateLimiter(redis_rate.NewLimiter(rdb), cfg)
}

func newRateLimiter(shared Allower, cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = KeyByIP
	}
	return &RateLimiter{
		shared: shared,
		local:  &memoryLimiter{buckets: map[string]*bucket{}},
		cfg:    cfg,
	}
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.cfg.Skip != nil && rl.cfg.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		key := rl.cfg.Prefix + rl.cfg.KeyFunc(r)
		res, err := rl.shared.Allow(r.Context(), key, rl.cfg.Limit)
		if err != nil {
			if !rl.cfg.FailOpen {
				core.JSONError(w, core.UnavailableError("rate limiter unavailable"))
				return
			}
			slog.WarnContext(r.Context(), "shared rate limit store failed, limiting locally",
				"key", key,
				"error", err,
			)
			res = rl.local.allow(key, rl.cfg.Limit, time.Now())
		}

		setLimitHeaders(w.Header(), rl.cfg.Limit, res)
		if res.Allowed > 0 {
			next.ServeHTTP(w, r)
			return
		}

		retry := max(1, int(math.Ceil(res.RetryAfter.Seconds())))
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		core.JSONError(w, core.NewAppError(
			errRateLimited,
			fmt.Sprintf("Rate limit exceeded. Retry after %d seconds.", retry),
			http.StatusTooManyRequests,
			"RATE_LIMITED",
		))
	})
}

func setLimitHeaders(h http.Header, limit redis_rate.Limit, res *redis_rate.Result) {
	h.Set("RateLimit-Limit", strconv.Itoa(limit.Rate))
	h.Set("RateLimit-Remaining", strconv.Itoa(max(0, res.Remaining)))
	h.Set("RateLimit-Reset", strconv.Itoa(int(math.Ceil(res.ResetAfter.Seconds()))))
	h.Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", limit.Rate, int(limit.Period.Seconds())))
}

// SkipPaths matches exact request paths. Provider callbacks and health checks
// are never throttled.
func SkipPaths(paths ...string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.URL.Path]
		return ok
	}
}

// clientIP trusts the last X-Forwarded-For hop, which the fronting proxy
// appends, then X-Real-IP, then the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		return strings.TrimSpace(hops[len(hops)-1])
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func KeyByIP(r *http.Request) string {
	return "ip:" + clientIP(r)
}

// KeyByUser falls back to the client address for anonymous requests.
func KeyByUser(r *http.Request) string {
	if id := GetUserID(r.Context()); id != "" {
		return "user:" + id
	}
	return KeyByIP(r)
}

func KeyByUserAndPath(r *http.Request) string {
	return KeyByUser(r) + ":" + r.URL.Path
}

const bucketIdle = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// memoryLimiter is the per-process stand-in for redis_rate. Idle buckets
// are swept on access.
type memoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func (m *memoryLimiter) allow(key string, limit redis_rate.Limit, now time.Time) *redis_rate.Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) > bucketIdle {
		for k, b := range m.buckets {
			if now.Sub(b.seen) > bucketIdle {
				delete(m.buckets, k)
			}
		}
		m.lastSweep = now
	}

	interval := limit.Period / time.Duration(max(1, limit.Rate))
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(interval), max(1, limit.Burst))}
		m.buckets[key] = b
	}
	b.seen = now

	res := &redis_rate.Result{
		Limit:      limit,
		RetryAfter: -1,
		ResetAfter: interval,
	}
	if b.lim.AllowN(now, 1) {
		res.Allowed = 1
	} else {
		res.RetryAfter = interval
	}
	res.Remaining = int(b.lim.TokensAt(now))
	return res
}

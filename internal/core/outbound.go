// AngelaMos | 2026
// outbound.go

package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

// UpstreamStatusError reports a response the breaker counted as a failure.
type UpstreamStatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.StatusCode, e.Body)
}

func (e *UpstreamStatusError) Unwrap() error {
	return ErrUnavailable
}

// Outbound is an HTTP client for a single third-party service guarded by
// a circuit breaker. Requests are never retried.
type Outbound struct {
	name      string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	userAgent string
}

type OutboundSettings struct {
	Name             string
	Timeout          time.Duration
	UserAgent        string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Client           *http.Client
}

func NewOutbound(cfg OutboundSettings) *Outbound {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// A caller hanging up says nothing about upstream health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Outbound{
		name:      cfg.Name,
		client:    client,
		breaker:   cb,
		userAgent: cfg.UserAgent,
	}
}

// Do sends req through the breaker. 5xx and 429 responses are returned as
// *UpstreamStatusError with the body already closed; every other response
// is handed back for the caller to close.
func (o *Outbound) Do(req *http.Request) (*http.Response, error) {
	if o.userAgent != "" {
		req.Header.Set("User-Agent", o.userAgent)
	}

	ctx, span := StartSpan(req.Context(), o.name+".request", trace.SpanKindClient,
		attribute.String("http.request.method", req.Method),
		attribute.String("server.address", req.URL.Host),
	)
	defer span.End()
	req = req.WithContext(ctx)

	resp, err := o.breaker.Execute(func() (*http.Response, error) {
		r, doErr := o.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}

		if r.StatusCode >= http.StatusInternalServerError ||
			r.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 512)) //nolint:errcheck // context only
			_ = r.Body.Close()                                 //nolint:errcheck // drained
			return nil, &UpstreamStatusError{
				Service:    o.name,
				StatusCode: r.StatusCode,
				Body:       string(body),
			}
		}

		return r, nil
	})
	if err != nil {
		SetSpanError(ctx, err)
		if errors.Is(err, gobreaker.ErrOpenState) ||
			errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w: %w", o.name, ErrCircuitOpen, ErrUnavailable)
		}
		var statusErr *UpstreamStatusError
		if errors.As(err, &statusErr) {
			span.SetAttributes(attribute.Int("http.response.status_code", statusErr.StatusCode))
			return nil, err
		}
		return nil, fmt.Errorf("%s request: %w: %w", o.name, ErrUnavailable, err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

func (o *Outbound) Name() string {
	return o.name
}

func (o *Outbound) State() string {
	return o.breaker.State().String()
}

// Ping fails while the breaker is open so readiness reflects upstream health
// without generating upstream traffic.
func (o *Outbound) Ping(_ context.Context) error {
	if o.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("%s: %w", o.name, ErrCircuitOpen)
	}
	return nil
}

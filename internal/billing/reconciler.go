// AngelaMos | 2026
// reconciler.go

package billing

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/usage"
)

// FallbackRenewal is used as the next reset date when an event carries no
// usable renewal instant.
const FallbackRenewal = 30 * 24 * time.Hour

type OutcomeKind int

const (
	// OutcomeApply carries a plan change to write by customer id.
	OutcomeApply OutcomeKind = iota
	// OutcomeIgnore is a deliberate no-op, acknowledged with 200.
	OutcomeIgnore
	// OutcomeUnactionable is acknowledged with 202 and logged.
	OutcomeUnactionable
)

type Outcome struct {
	Kind         OutcomeKind
	CustomerID   string
	Change       usage.PlanChange
	Message      string
	UsedFallback bool
}

// Variants maps billing variant ids to paid plans.
type Variants map[string]usage.Plan

func NewVariants(standardID, proID string) Variants {
	v := Variants{}
	if standardID != "" {
		v[standardID] = usage.PlanStandard
	}
	if proID != "" {
		v[proID] = usage.PlanPro
	}
	return v
}

// Reconcile maps a verified event onto a plan change. It reads no state
// and the resulting change is a full overwrite, so replays are harmless.
func Reconcile(ev Event, today time.Time, variants Variants) Outcome {
	if ev.MissingData {
		return Outcome{Kind: OutcomeUnactionable, Message: "Warning: Missing data object"}
	}
	if ev.MissingAttributes {
		return Outcome{Kind: OutcomeUnactionable, Message: "Warning: Missing attributes object"}
	}
	if ev.CustomerID == "" {
		return Outcome{Kind: OutcomeUnactionable, Message: "Warning: Missing customer ID"}
	}

	switch ev.Name {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if ev.Status != StatusActive {
			return Outcome{
				Kind:       OutcomeIgnore,
				CustomerID: ev.CustomerID,
				Message:    "Ignoring non-active status: " + ev.Status,
			}
		}

		if ev.VariantID == "" {
			return Outcome{
				Kind:       OutcomeUnactionable,
				CustomerID: ev.CustomerID,
				Message:    "Warning: Missing variant ID",
			}
		}

		plan, ok := variants[ev.VariantID]
		if !ok {
			return Outcome{
				Kind:       OutcomeIgnore,
				CustomerID: ev.CustomerID,
				Message:    "Event for unknown variant ignored",
			}
		}

		resetDate, ok := ParseRenewal(ev.RenewsAt)
		if !ok {
			resetDate = usage.DateOf(today.Add(FallbackRenewal))
		}

		return Outcome{
			Kind:         OutcomeApply,
			CustomerID:   ev.CustomerID,
			Change:       usage.PlanChange{Plan: plan, ResetDate: &resetDate},
			UsedFallback: !ok,
		}

	case EventSubscriptionCancelled, EventSubscriptionExpired:
		return Outcome{
			Kind:       OutcomeApply,
			CustomerID: ev.CustomerID,
			Change:     usage.Downgrade(),
		}

	default:
		return Outcome{
			Kind:       OutcomeIgnore,
			CustomerID: ev.CustomerID,
			Message:    "Event ignored",
		}
	}
}

var renewalLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	time.DateOnly,
}

// ParseRenewal returns the UTC calendar date of a renewal timestamp.
// Timestamps without an offset are read as UTC.
func ParseRenewal(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range renewalLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return usage.DateOf(t), true
		}
	}
	return time.Time{}, false
}

// PlanStore writes a plan change by external customer id and reports
// whether a user matched.
type PlanStore interface {
	ApplyPlanChange(
		ctx context.Context,
		customerID string,
		change usage.PlanChange,
	) (bool, error)
}

type Result struct {
	Status  int
	Message string
}

type Reconciler struct {
	variants Variants
	store    PlanStore
	clock    core.Clock
	logger   *slog.Logger
}

func NewReconciler(
	variants Variants,
	store PlanStore,
	clock core.Clock,
	logger *slog.Logger,
) *Reconciler {
	if clock == nil {
		clock = core.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		variants: variants,
		store:    store,
		clock:    clock,
		logger:   logger,
	}
}

// Handle reconciles ev and commits the resulting change. The returned
// error is non-nil only for store failures the provider should retry.
func (r *Reconciler) Handle(ctx context.Context, ev Event) (Result, error) {
	out := Reconcile(ev, r.clock.Now(), r.variants)

	log := r.logger.With(
		"webhook_id", ev.WebhookID,
		"event", ev.Name,
		"customer_id", out.CustomerID,
	)

	core.AddSpanEvent(ctx, "billing.reconcile",
		attribute.String("event", ev.Name),
		attribute.Int("outcome", int(out.Kind)),
	)

	switch out.Kind {
	case OutcomeIgnore:
		log.InfoContext(ctx, "billing event ignored", "reason", out.Message)
		return Result{Status: http.StatusOK, Message: out.Message}, nil

	case OutcomeUnactionable:
		log.WarnContext(ctx, "billing event not actionable", "reason", out.Message)
		return Result{Status: http.StatusAccepted, Message: out.Message}, nil
	}

	if out.UsedFallback {
		log.WarnContext(ctx, "renewal date missing or unparsable, using fallback",
			"renews_at", ev.RenewsAt,
			"reset_date", out.Change.ResetDate.Format(time.DateOnly),
		)
	}

	matched, err := r.store.ApplyPlanChange(ctx, out.CustomerID, out.Change)
	if err != nil {
		log.ErrorContext(ctx, "apply plan change failed", "error", err)
		return Result{
			Status:  http.StatusInternalServerError,
			Message: "Internal Server Error",
		}, fmt.Errorf("apply plan change: %w", err)
	}

	if !matched {
		log.WarnContext(ctx, "no user for billing customer", "plan", out.Change.Plan)
		return Result{Status: http.StatusAccepted, Message: "User not found in DB"}, nil
	}

	log.InfoContext(ctx, "plan change applied", "plan", out.Change.Plan)
	return Result{Status: http.StatusOK, Message: "Webhook processed successfully"}, nil
}

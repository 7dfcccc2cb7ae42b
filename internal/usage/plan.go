// AngelaMos | 2026
// plan.go

package usage

import (
	"fmt"
	"time"
)

type Plan string

const (
	PlanFree     Plan = "free"
	PlanStandard Plan = "standard"
	PlanPro      Plan = "pro"
)

func ParsePlan(s string) (Plan, error) {
	switch Plan(s) {
	case PlanFree, PlanStandard, PlanPro:
		return Plan(s), nil
	}
	return "", fmt.Errorf("unknown plan %q", s)
}

func (p Plan) IsPaid() bool {
	return p == PlanStandard || p == PlanPro
}

func (p Plan) DisplayName() string {
	switch p {
	case PlanStandard:
		return "Standard"
	case PlanPro:
		return "Pro"
	default:
		return "Free"
	}
}

// FreeWindow is the length of the Free plan's rolling window.
const FreeWindow = time.Hour

type Limits struct {
	FreeHourly      int
	StandardMonthly int
}

func DefaultLimits() Limits {
	return Limits{
		FreeHourly:      2,
		StandardMonthly: 100,
	}
}

// State is one user's plan and usage counters as read from the store.
// ResetDate is a UTC calendar date (midnight) or nil.
type State struct {
	Plan              Plan
	MessageCount      int64
	MessagesThisHour  int
	LastMessageAt     *time.Time
	MessagesThisMonth int
	ResetDate         *time.Time
	Version           int64
}

// LimitInfo renders the plan's quota the way the chat page shows it.
func LimitInfo(s State, limits Limits) string {
	switch s.Plan {
	case PlanPro:
		return "Unlimited messages"
	case PlanStandard:
		return fmt.Sprintf(
			"%d/%d messages this month",
			s.MessagesThisMonth,
			limits.StandardMonthly,
		)
	default:
		return fmt.Sprintf("%d/hour message limit", limits.FreeHourly)
	}
}

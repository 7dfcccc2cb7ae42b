// AngelaMos | 2026
// engine.go

package usage

import (
	"time"
)

type Reason string

const (
	ReasonNone         Reason = ""
	ReasonHourlyLimit  Reason = "hourly limit reached"
	ReasonMonthlyLimit Reason = "monthly limit reached"
)

// Decision is the outcome of an admission check. Deltas are tentative:
// they must only be persisted once the completion call has succeeded.
type Decision struct {
	Admit     bool
	Reason    Reason
	Deltas    Deltas
	NewWindow bool
}

// Evaluate decides whether a message may be sent by a user in state s at
// instant now. It is pure and must be called on the post-reset state.
func Evaluate(s State, now time.Time, limits Limits) Decision {
	switch s.Plan {
	case PlanPro:
		return Decision{
			Admit:  true,
			Deltas: Deltas{MessageCount: 1},
		}

	case PlanStandard:
		if s.MessagesThisMonth >= limits.StandardMonthly {
			return Decision{Reason: ReasonMonthlyLimit}
		}
		return Decision{
			Admit: true,
			Deltas: Deltas{
				MessageCount:      1,
				MessagesThisMonth: 1,
			},
		}

	default:
		return evaluateFree(s, now.UTC(), limits)
	}
}

func evaluateFree(s State, now time.Time, limits Limits) Decision {
	if !withinWindow(s.LastMessageAt, now) {
		one := 1
		return Decision{
			Admit:     true,
			NewWindow: true,
			Deltas: Deltas{
				MessageCount:     1,
				MessagesThisHour: &one,
				LastMessageAt:    &now,
			},
		}
	}

	if s.MessagesThisHour >= limits.FreeHourly {
		return Decision{Reason: ReasonHourlyLimit}
	}

	next := s.MessagesThisHour + 1
	return Decision{
		Admit: true,
		Deltas: Deltas{
			MessageCount:     1,
			MessagesThisHour: &next,
			LastMessageAt:    &now,
		},
	}
}

// withinWindow reports whether now falls inside the rolling window opened
// by last. Elapsed time equal to FreeWindow is outside.
func withinWindow(last *time.Time, now time.Time) bool {
	if last == nil {
		return false
	}
	return now.Sub(*last) < FreeWindow
}

// WindowResetsAt returns when a Free user in state s regains quota, or the
// zero time when the window is not active.
func WindowResetsAt(s State, now time.Time) time.Time {
	if s.Plan != PlanFree || !withinWindow(s.LastMessageAt, now) {
		return time.Time{}
	}
	return s.LastMessageAt.Add(FreeWindow)
}

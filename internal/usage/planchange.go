// AngelaMos | 2026
// planchange.go

package usage

import (
	"time"
)

// PlanChange is a full overwrite of a user's plan and usage slate. Applying
// the same PlanChange twice yields the same state.
type PlanChange struct {
	Plan      Plan
	ResetDate *time.Time
}

func Downgrade() PlanChange {
	return PlanChange{Plan: PlanFree}
}

func (c PlanChange) Apply(s State) State {
	s.Plan = c.Plan
	s.MessagesThisHour = 0
	s.LastMessageAt = nil
	s.MessagesThisMonth = 0
	s.ResetDate = nil
	if c.Plan.IsPaid() && c.ResetDate != nil {
		d := DateOf(*c.ResetDate)
		s.ResetDate = &d
	}
	return s
}

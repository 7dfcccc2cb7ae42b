// AngelaMos | 2026
// reset.go

package usage

import (
	"time"
)

// MaybeReset returns the monthly reset due for s on the calendar date of
// today, or nil. It never moves ResetDate; only billing events do that, so
// a stale date keeps re-triggering the (idempotent) reset.
func MaybeReset(s State, today time.Time) *Deltas {
	if !s.Plan.IsPaid() || s.ResetDate == nil {
		return nil
	}

	if DateOf(today).Before(DateOf(*s.ResetDate)) {
		return nil
	}

	return &Deltas{ResetMonth: true}
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

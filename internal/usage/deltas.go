// AngelaMos | 2026
// deltas.go

package usage

import (
	"time"
)

// Deltas describes a counter mutation. ResetMonth is applied before the
// additive fields; MessagesThisHour and LastMessageAt overwrite when set.
type Deltas struct {
	ResetMonth        bool
	MessageCount      int64
	MessagesThisMonth int
	MessagesThisHour  *int
	LastMessageAt     *time.Time
}

func (d Deltas) IsZero() bool {
	return !d.ResetMonth &&
		d.MessageCount == 0 &&
		d.MessagesThisMonth == 0 &&
		d.MessagesThisHour == nil &&
		d.LastMessageAt == nil
}

// Then returns a single mutation equivalent to applying d followed by next.
func (d Deltas) Then(next Deltas) Deltas {
	out := d
	if next.ResetMonth {
		out.ResetMonth = true
		out.MessagesThisMonth = 0
	}
	out.MessageCount += next.MessageCount
	out.MessagesThisMonth += next.MessagesThisMonth
	if next.MessagesThisHour != nil {
		out.MessagesThisHour = next.MessagesThisHour
	}
	if next.LastMessageAt != nil {
		out.LastMessageAt = next.LastMessageAt
	}
	return out
}

// Apply returns s with d applied. Plan, ResetDate and Version are untouched.
func (d Deltas) Apply(s State) State {
	if d.ResetMonth {
		s.MessagesThisMonth = 0
	}
	s.MessageCount += d.MessageCount
	s.MessagesThisMonth += d.MessagesThisMonth
	if d.MessagesThisHour != nil {
		s.MessagesThisHour = *d.MessagesThisHour
	}
	if d.LastMessageAt != nil {
		t := *d.LastMessageAt
		s.LastMessageAt = &t
	}
	return s
}

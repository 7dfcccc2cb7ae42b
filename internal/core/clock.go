// AngelaMos | 2026
// clock.go

package core

import (
	"time"
)

// Clock supplies the current instant. Implementations must return UTC.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func SystemClock() Clock {
	return systemClock{}
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f().UTC()
}

// AngelaMos | 2026
// entity.go

package user

import (
	"time"

	"github.com/carterperez-dev/quotachat/internal/usage"
)

type User struct {
	ID                 string     `db:"id"`
	Email              string     `db:"email"`
	PasswordHash       string     `db:"password_hash"`
	Name               string     `db:"name"`
	Role               string     `db:"role"`
	ExternalCustomerID string     `db:"external_customer_id"`
	Plan               usage.Plan `db:"plan"`
	MessageCount       int64      `db:"message_count"`
	MessagesThisHour   int        `db:"messages_this_hour"`
	LastMessageAt      *time.Time `db:"last_message_at"`
	MessagesThisMonth  int        `db:"messages_this_month"`
	UsageResetDate     *time.Time `db:"usage_reset_date"`
	UsageVersion       int64      `db:"usage_version"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

// UsageState returns the user's plan and counters as seen by the quota
// engine. Timestamps are normalized to UTC.
func (u *User) UsageState() usage.State {
	s := usage.State{
		Plan:              u.Plan,
		MessageCount:      u.MessageCount,
		MessagesThisHour:  u.MessagesThisHour,
		MessagesThisMonth: u.MessagesThisMonth,
		Version:           u.UsageVersion,
	}
	if u.LastMessageAt != nil {
		t := u.LastMessageAt.UTC()
		s.LastMessageAt = &t
	}
	if u.UsageResetDate != nil {
		d := u.UsageResetDate.UTC()
		s.ResetDate = &d
	}
	return s
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

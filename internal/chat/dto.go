// AngelaMos | 2026
// dto.go

package chat

import (
	"time"

	"github.com/carterperez-dev/quotachat/internal/usage"
)

type SendMessageRequest struct {
	Message string `json:"message" validate:"max=4000"`
}

type SendMessageResponse struct {
	Reply string    `json:"reply"`
	Usage UsageView `json:"usage"`
}

type UsageView struct {
	Plan              usage.Plan `json:"plan"`
	PlanName          string     `json:"plan_name"`
	LimitInfo         string     `json:"limit_info"`
	MessageCount      int64      `json:"message_count"`
	MessagesThisHour  int        `json:"messages_this_hour"`
	MessagesThisMonth int        `json:"messages_this_month"`
	HourlyLimit       *int       `json:"hourly_limit,omitempty"`
	MonthlyLimit      *int       `json:"monthly_limit,omitempty"`
	WindowResetsAt    *time.Time `json:"window_resets_at,omitempty"`
	UsageResetDate    *string    `json:"usage_reset_date,omitempty"`
	CheckoutLink      string     `json:"checkout_link,omitempty"`
}

func newUsageView(
	s usage.State,
	limits usage.Limits,
	now time.Time,
	checkoutLink string,
) UsageView {
	v := UsageView{
		Plan:              s.Plan,
		PlanName:          s.Plan.DisplayName(),
		LimitInfo:         usage.LimitInfo(s, limits),
		MessageCount:      s.MessageCount,
		MessagesThisHour:  s.MessagesThisHour,
		MessagesThisMonth: s.MessagesThisMonth,
		CheckoutLink:      checkoutLink,
	}

	switch s.Plan {
	case usage.PlanFree:
		hourly := limits.FreeHourly
		v.HourlyLimit = &hourly
		if at := usage.WindowResetsAt(s, now); !at.IsZero() {
			v.WindowResetsAt = &at
		} else {
			// The stored count belongs to an expired window.
			v.MessagesThisHour = 0
		}
	case usage.PlanStandard:
		monthly := limits.StandardMonthly
		v.MonthlyLimit = &monthly
	}

	if s.ResetDate != nil {
		d := s.ResetDate.Format(time.DateOnly)
		v.UsageResetDate = &d
	}

	return v
}

// AngelaMos | 2026
// dto.go

package user

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/usage"
)

type ProfileUpdate struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

type UserResponse struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	Name      string        `json:"name"`
	Role      string        `json:"role"`
	Plan      string        `json:"plan"`
	Usage     UsageResponse `json:"usage"`
	CreatedAt time.Time     `json:"created_at"`
}

// UsageResponse is the raw counter set. The chat usage endpoint renders
// the human-readable limit text.
type UsageResponse struct {
	MessageCount      int64      `json:"message_count"`
	MessagesThisHour  int        `json:"messages_this_hour"`
	LastMessageAt     *time.Time `json:"last_message_at"`
	MessagesThisMonth int        `json:"messages_this_month"`
	ResetDate         *string    `json:"reset_date"`
}

func ToUserResponse(u *User) UserResponse {
	resp := UserResponse{
		ID:    u.ID,
		Email: u.Email,
		Name:  u.Name,
		Role:  u.Role,
		Plan:  string(u.Plan),
		Usage: UsageResponse{
			MessageCount:      u.MessageCount,
			MessagesThisHour:  u.MessagesThisHour,
			LastMessageAt:     u.LastMessageAt,
			MessagesThisMonth: u.MessagesThisMonth,
		},
		CreatedAt: u.CreatedAt,
	}
	if u.UsageResetDate != nil {
		d := u.UsageResetDate.UTC().Format(time.DateOnly)
		resp.Usage.ResetDate = &d
	}
	return resp
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListFilter selects users for the admin listing.
type ListFilter struct {
	Page     int
	PageSize int
	Plan     usage.Plan
	Search   string
}

// ParseListFilter reads page, page_size, plan and q. Malformed numbers
// fall back to defaults; an unknown plan is an input error.
func ParseListFilter(q url.Values) (ListFilter, error) {
	f := ListFilter{
		Page:     atoiOr(q.Get("page"), 1),
		PageSize: atoiOr(q.Get("page_size"), defaultPageSize),
		Search:   strings.TrimSpace(q.Get("q")),
	}
	if raw := q.Get("plan"); raw != "" {
		plan, err := usage.ParsePlan(raw)
		if err != nil {
			return f, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
		}
		f.Plan = plan
	}
	f.normalize()
	return f, nil
}

func (f *ListFilter) normalize() {
	f.Page = max(f.Page, 1)
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	f.PageSize = min(f.PageSize, maxPageSize)
}

func (f ListFilter) offset() int {
	return (f.Page - 1) * f.PageSize
}

// where returns the SQL predicate and its positional arguments. Search
// is a case-insensitive email prefix match.
func (f ListFilter) where() (string, []any) {
	clauses := []string{"TRUE"}
	var args []any

	if f.Plan != "" {
		args = append(args, string(f.Plan))
		clauses = append(clauses, fmt.Sprintf("plan = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, likePrefix(f.Search))
		clauses = append(clauses, fmt.Sprintf(`email ILIKE $%d ESCAPE '\'`, len(args)))
	}

	return strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(s string) string {
	return likeEscaper.Replace(s) + "%"
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

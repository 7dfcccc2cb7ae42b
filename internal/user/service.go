// AngelaMos | 2026
// service.go

package user

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/carterperez-dev/quotachat/internal/auth"
	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/usage"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create inserts a new account on the Free plan with a clean usage slate.
// customerID is the billing provider's id and never changes afterwards.
func (s *Service) Create(ctx context.Context, email, passwordHash, name, customerID string) (*auth.UserInfo, error) {
	if customerID == "" {
		return nil, fmt.Errorf("create user: missing customer id: %w", core.ErrInvalidInput)
	}

	u := &User{
		ID:                 uuid.NewString(),
		Email:              strings.TrimSpace(email),
		PasswordHash:       passwordHash,
		Name:               name,
		Role:               RoleUser,
		ExternalCustomerID: customerID,
		Plan:               usage.PlanFree,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return toUserInfo(u), nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*auth.UserInfo, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toUserInfo(u), nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*auth.UserInfo, error) {
	u, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	return toUserInfo(u), nil
}

func (s *Service) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.repo.ExistsByEmail(ctx, strings.TrimSpace(email))
}

// Profile loads the full record, counters included.
func (s *Service) Profile(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, fmt.Errorf("profile: %w", core.ErrUnauthorized)
	}
	return s.repo.GetByID(ctx, id)
}

// Rename changes the display name only. Plan and counters are owned by
// the chat and billing flows.
func (s *Service) Rename(ctx context.Context, id, name string) (*User, error) {
	if id == "" {
		return nil, fmt.Errorf("rename: %w", core.ErrUnauthorized)
	}
	return s.repo.Rename(ctx, id, strings.TrimSpace(name))
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]User, int, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) PlanCounts(ctx context.Context) (map[usage.Plan]int, error) {
	return s.repo.CountByPlan(ctx)
}

func toUserInfo(u *User) *auth.UserInfo {
	return &auth.UserInfo{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		Plan:         string(u.Plan),
		CreatedAt:    u.CreatedAt,
	}
}

var _ auth.UserProvider = (*Service)(nil)

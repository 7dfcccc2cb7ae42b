// AngelaMos | 2026
// service.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/middleware"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailExists        = errors.New("email already exists")
	ErrBillingUnavailable = errors.New("billing customer could not be created")
)

// UserInfo is the slice of the user record auth needs.
type UserInfo struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Plan         string
	CreatedAt    time.Time
}

type UserProvider interface {
	GetByEmail(ctx context.Context, email string) (*UserInfo, error)
	GetByID(ctx context.Context, id string) (*UserInfo, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, email, passwordHash, name, customerID string) (*UserInfo, error)
}

// CustomerCreator registers a new account with the billing provider and
// returns the provider's customer identifier.
type CustomerCreator interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
}

type Denier interface {
	Deny(ctx context.Context, tokenID string, expiresAt time.Time) error
}

type ServiceConfig struct {
	Sessions  SessionStore
	Tokens    *TokenIssuer
	Users     UserProvider
	Customers CustomerCreator
	Denylist  Denier
	Clock     core.Clock
}

type Service struct {
	sessions  SessionStore
	tokens    *TokenIssuer
	users     UserProvider
	customers CustomerCreator
	denylist  Denier
	clock     core.Clock
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock()
	}
	return &Service{
		sessions:  cfg.Sessions,
		tokens:    cfg.Tokens,
		users:     cfg.Users,
		customers: cfg.Customers,
		denylist:  cfg.Denylist,
		clock:     cfg.Clock,
	}
}

// Register creates the billing customer first and the user second, so
// every stored user carries an external customer id. A billing failure
// leaves no user row behind.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	email := strings.TrimSpace(req.Email)

	exists, err := s.users.EmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, ErrEmailExists
	}

	hash, err := core.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	customerID, err := s.customers.CreateCustomer(ctx, email, CustomerName(email))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBillingUnavailable, err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = CustomerName(email)
	}

	u, err := s.users.Create(ctx, email, hash, name, customerID)
	if errors.Is(err, core.ErrDuplicateKey) {
		return nil, ErrEmailExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return s.startSession(ctx, u)
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	email := strings.TrimSpace(req.Email)

	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, core.ErrNotFound):
		core.CheckPasswordConstantTime(req.Password, "")
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("load user: %w", err)
	}

	if !core.CheckPasswordConstantTime(req.Password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.startSession(ctx, u)
}

// Refresh exchanges an active refresh token for a new pair. The old
// session is revoked in the same statement that creates the new one, so
// a token can be redeemed once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	sess, err := s.sessions.ByTokenHash(ctx, core.HashToken(refreshToken))
	switch {
	case errors.Is(err, core.ErrNotFound):
		return nil, fmt.Errorf("refresh: %w", core.ErrTokenInvalid)
	case err != nil:
		return nil, fmt.Errorf("refresh: %w", err)
	}

	if !sess.Active(s.clock.Now()) {
		if sess.RevokedAt != nil {
			return nil, fmt.Errorf("refresh: %w", core.ErrTokenRevoked)
		}
		return nil, fmt.Errorf("refresh: %w", core.ErrTokenExpired)
	}

	u, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("refresh: load user: %w", err)
	}

	next, raw, err := s.newSession(u.ID)
	if err != nil {
		return nil, err
	}
	ok, err := s.sessions.Rotate(ctx, sess.ID, next)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("refresh: %w", core.ErrTokenRevoked)
	}

	return s.respond(u, raw)
}

// Logout denies the caller's access token and revokes the session behind
// refreshToken. An unknown refresh token is not an error.
func (s *Service) Logout(ctx context.Context, p *middleware.Principal, refreshToken string) error {
	if s.denylist != nil && p.TokenID != "" {
		if err := s.denylist.Deny(ctx, p.TokenID, p.ExpiresAt); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}

	if refreshToken == "" {
		return nil
	}

	sess, err := s.sessions.ByTokenHash(ctx, core.HashToken(refreshToken))
	switch {
	case errors.Is(err, core.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("logout: %w", err)
	}
	if sess.UserID != p.UserID {
		return fmt.Errorf("logout: %w", core.ErrForbidden)
	}

	if err := s.sessions.Revoke(ctx, sess.ID); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (s *Service) startSession(ctx context.Context, u *UserInfo) (*AuthResponse, error) {
	sess, raw, err := s.newSession(u.ID)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Insert(ctx, sess); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return s.respond(u, raw)
}

func (s *Service) newSession(userID string) (*Session, string, error) {
	raw, err := core.NewOpaqueToken()
	if err != nil {
		return nil, "", fmt.Errorf("new refresh token: %w", err)
	}
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: core.HashToken(raw),
		ExpiresAt: s.clock.Now().Add(s.tokens.RefreshTTL()),
	}, raw, nil
}

func (s *Service) respond(u *UserInfo, refreshToken string) (*AuthResponse, error) {
	access, expires, err := s.tokens.IssueAccess(u)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		User: toUserResponse(u),
		Tokens: TokenResponse{
			AccessToken:  access,
			RefreshToken: refreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    int(s.tokens.AccessTTL() / time.Second),
			ExpiresAt:    expires,
		},
	}, nil
}

// CustomerName derives the billing display name from the email local
// part with dots and plus signs removed.
func CustomerName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return strings.NewReplacer(".", "", "+", "").Replace(local)
}

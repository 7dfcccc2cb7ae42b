// AngelaMos | 2026
// service_test.go

package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/quotachat/internal/config"
	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/middleware"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]*Session{}}
}

func (f *fakeSessions) Insert(_ context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.CreatedAt = time.Now()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessions) ByTokenHash(_ context.Context, hash string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.TokenHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *fakeSessions) Rotate(_ context.Context, oldID string, next *Session) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.sessions[oldID]
	if !ok || !old.Active(time.Now()) {
		return false, nil
	}
	now := time.Now()
	old.RevokedAt = &now
	next.UserID = old.UserID
	next.CreatedAt = now
	f.sessions[next.ID] = next
	return true, nil
}

func (f *fakeSessions) Revoke(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok && s.RevokedAt == nil {
		now := time.Now()
		s.RevokedAt = &now
	}
	return nil
}

func (f *fakeSessions) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.Active(time.Now()) {
			n++
		}
	}
	return n
}

type fakeUsers struct {
	calls     *[]string
	users     map[string]*UserInfo
	existsErr error
	createErr error
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*UserInfo, error) {
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, core.ErrNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*UserInfo, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, core.ErrNotFound
}

func (f *fakeUsers) EmailExists(_ context.Context, email string) (bool, error) {
	*f.calls = append(*f.calls, "exists:"+email)
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.users[email]
	return ok, nil
}

func (f *fakeUsers) Create(_ context.Context, email, passwordHash, name, customerID string) (*UserInfo, error) {
	*f.calls = append(*f.calls, "create:"+customerID)
	if f.createErr != nil {
		return nil, f.createErr
	}
	u := &UserInfo{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         "user",
		Plan:         "free",
		CreatedAt:    time.Now(),
	}
	f.users[email] = u
	return u, nil
}

type fakeCustomers struct {
	calls *[]string
	err   error
}

func (f *fakeCustomers) CreateCustomer(_ context.Context, _, name string) (string, error) {
	*f.calls = append(*f.calls, "customer:"+name)
	if f.err != nil {
		return "", f.err
	}
	return "cus_1", nil
}

type memDenylist struct {
	mu     sync.Mutex
	denied map[string]time.Time
}

func (d *memDenylist) Deny(_ context.Context, id string, exp time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denied[id] = exp
	return nil
}

func (d *memDenylist) Denied(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.denied[id]
	return ok, nil
}

func testJWTConfig(t *testing.T) config.JWTConfig {
	t.Helper()

	dir := t.TempDir()
	priv := filepath.Join(dir, "private.pem")
	pub := filepath.Join(dir, "public.pem")
	require.NoError(t, WriteKeyPair(priv, pub))

	return config.JWTConfig{
		PrivateKeyPath:     priv,
		PublicKeyPath:      pub,
		AccessTokenExpire:  15 * time.Minute,
		RefreshTokenExpire: time.Hour,
		Issuer:             "quotachat",
		Audience:           "quotachat-api",
	}
}

type authFixture struct {
	calls     []string
	users     *fakeUsers
	customers *fakeCustomers
	sessions  *fakeSessions
	denylist  *memDenylist
	tokens    *TokenIssuer
	svc       *Service
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	f := &authFixture{
		sessions: newFakeSessions(),
		denylist: &memDenylist{denied: map[string]time.Time{}},
	}
	f.users = &fakeUsers{calls: &f.calls, users: map[string]*UserInfo{}}
	f.customers = &fakeCustomers{calls: &f.calls}

	tokens, err := NewTokenIssuer(testJWTConfig(t), f.denylist)
	require.NoError(t, err)
	f.tokens = tokens

	f.svc = NewService(ServiceConfig{
		Sessions:  f.sessions,
		Tokens:    tokens,
		Users:     f.users,
		Customers: f.customers,
		Denylist:  f.denylist,
	})
	return f
}

func (f *authFixture) register(t *testing.T, email string) *AuthResponse {
	t.Helper()
	resp, err := f.svc.Register(context.Background(), RegisterRequest{
		Email:    email,
		Password: "hunter2hunter2",
	})
	require.NoError(t, err)
	return resp
}

func TestRegister_CreatesCustomerBeforeUser(t *testing.T) {
	f := newAuthFixture(t)

	resp := f.register(t, " jane.doe+ai@example.com ")

	assert.Equal(t, []string{
		"exists:jane.doe+ai@example.com",
		"customer:janedoeai",
		"create:cus_1",
	}, f.calls)

	assert.Equal(t, "jane.doe+ai@example.com", resp.User.Email)
	assert.Equal(t, "janedoeai", resp.User.Name)
	assert.Equal(t, "free", resp.User.Plan)
	assert.NotEmpty(t, resp.Tokens.AccessToken)
	assert.NotEmpty(t, resp.Tokens.RefreshToken)
	assert.Equal(t, "Bearer", resp.Tokens.TokenType)
	assert.Equal(t, 900, resp.Tokens.ExpiresIn)
	assert.Equal(t, 1, f.sessions.active())
}

func TestRegister_Failures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *authFixture)
		wantErr   error
		wantCalls []string
	}{
		{
			name: "email already registered",
			setup: func(f *authFixture) {
				f.users.users["a@example.com"] = &UserInfo{ID: "u1", Email: "a@example.com"}
			},
			wantErr:   ErrEmailExists,
			wantCalls: []string{"exists:a@example.com"},
		},
		{
			name:      "billing provider rejects",
			setup:     func(f *authFixture) { f.customers.err = errors.New("422") },
			wantErr:   ErrBillingUnavailable,
			wantCalls: []string{"exists:a@example.com", "customer:a"},
		},
		{
			name:      "insert races a duplicate",
			setup:     func(f *authFixture) { f.users.createErr = core.ErrDuplicateKey },
			wantErr:   ErrEmailExists,
			wantCalls: []string{"exists:a@example.com", "customer:a", "create:cus_1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			tt.setup(f)

			_, err := f.svc.Register(context.Background(), RegisterRequest{
				Email:    "a@example.com",
				Password: "hunter2hunter2",
			})

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, f.calls)
			assert.Zero(t, f.sessions.active())
		})
	}
}

func TestLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterRequest{
		Email:    "a@example.com",
		Password: "hunter2hunter2",
		Name:     "Alice",
	})
	require.NoError(t, err)

	resp, err := f.svc.Login(ctx, LoginRequest{Email: " a@example.com", Password: "hunter2hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", resp.User.Name)
	assert.Equal(t, 2, f.sessions.active())

	_, err = f.svc.Login(ctx, LoginRequest{Email: "a@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "hunter2hunter2"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_RotatesOnce(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	first := f.register(t, "a@example.com")

	second, err := f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.Tokens.RefreshToken, second.Tokens.RefreshToken)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, 1, f.sessions.active())

	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	assert.ErrorIs(t, err, core.ErrTokenRevoked)

	_, err = f.svc.Refresh(ctx, "never-issued")
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestRefresh_Expired(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.register(t, "a@example.com")

	f.svc.clock = core.ClockFunc(func() time.Time { return time.Now().Add(2 * time.Hour) })

	_, err := f.svc.Refresh(context.Background(), resp.Tokens.RefreshToken)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	resp := f.register(t, "a@example.com")

	p, err := f.tokens.Verify(ctx, resp.Tokens.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, p, resp.Tokens.RefreshToken))
	assert.Zero(t, f.sessions.active())

	_, err = f.tokens.Verify(ctx, resp.Tokens.AccessToken)
	assert.ErrorIs(t, err, core.ErrTokenRevoked)

	_, err = f.svc.Refresh(ctx, resp.Tokens.RefreshToken)
	assert.ErrorIs(t, err, core.ErrTokenRevoked)
}

func TestLogout_OtherUsersSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice@example.com")
	bob := f.register(t, "bob@example.com")

	p := &middleware.Principal{UserID: bob.User.ID}
	err := f.svc.Logout(ctx, p, alice.Tokens.RefreshToken)
	assert.ErrorIs(t, err, core.ErrForbidden)
	assert.Equal(t, 2, f.sessions.active())

	assert.NoError(t, f.svc.Logout(ctx, p, "unknown-token"))
	assert.NoError(t, f.svc.Logout(ctx, p, ""))
}

func TestCustomerName(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"jane.doe@example.com", "janedoe"},
		{"john+news@example.com", "johnnews"},
		{"a.b+c.d@example.com", "abcd"},
		{"plain@example.com", "plain"},
		{"no-at-sign", "no-at-sign"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CustomerName(tt.email), tt.email)
	}
}

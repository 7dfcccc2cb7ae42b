// AngelaMos | 2026
// tokens.go

package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/carterperez-dev/quotachat/internal/config"
	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/middleware"
)

const (
	claimRole = "role"
	claimUse  = "use"
	useAccess = "access"
)

// DenyChecker reports whether an access token id was revoked before its
// expiry.
type DenyChecker interface {
	Denied(ctx context.Context, tokenID string) (bool, error)
}

// TokenIssuer signs and verifies ES256 access tokens. Refresh tokens are
// opaque and live in the session store.
type TokenIssuer struct {
	signing jwk.Key
	public  jwk.Key
	jwks    jwk.Set
	cfg     config.JWTConfig
	denied  DenyChecker
}

func NewTokenIssuer(cfg config.JWTConfig, denied DenyChecker) (*TokenIssuer, error) {
	pemBytes, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	signing, err := jwk.ParseKey(pemBytes, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	if err := signing.Set(jwk.AlgorithmKey, jwa.ES256()); err != nil {
		return nil, fmt.Errorf("set key algorithm: %w", err)
	}
	// The key id is the RFC 7638 thumbprint, stable across restarts.
	if err := jwk.AssignKeyID(signing); err != nil {
		return nil, fmt.Errorf("assign key id: %w", err)
	}

	public, err := signing.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	if err := public.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("set key usage: %w", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(public); err != nil {
		return nil, fmt.Errorf("build jwks: %w", err)
	}

	return &TokenIssuer{
		signing: signing,
		public:  public,
		jwks:    set,
		cfg:     cfg,
		denied:  denied,
	}, nil
}

// WriteKeyPair generates a P-256 key and writes it as PEM files.
func WriteKeyPair(privatePath, publicPath string) error {
	raw, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	private, err := jwk.Import(raw)
	if err != nil {
		return fmt.Errorf("import key: %w", err)
	}
	public, err := private.PublicKey()
	if err != nil {
		return fmt.Errorf("derive public key: %w", err)
	}

	for _, f := range []struct {
		path string
		key  jwk.Key
		mode os.FileMode
	}{
		{privatePath, private, 0o600},
		{publicPath, public, 0o644},
	} {
		data, err := jwk.Pem(f.key)
		if err != nil {
			return fmt.Errorf("encode %s: %w", f.path, err)
		}
		if err := os.WriteFile(f.path, data, f.mode); err != nil {
			return fmt.Errorf("write %s: %w", f.path, err)
		}
	}
	return nil
}

// IssueAccess signs a short-lived access token for u.
func (t *TokenIssuer) IssueAccess(u *UserInfo) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(t.cfg.AccessTokenExpire)

	tok, err := jwt.NewBuilder().
		JwtID(uuid.NewString()).
		Issuer(t.cfg.Issuer).
		Audience([]string{t.cfg.Audience}).
		Subject(u.ID).
		IssuedAt(now).
		NotBefore(now).
		Expiration(expires).
		Claim(claimRole, u.Role).
		Claim(claimUse, useAccess).
		Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build access token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.ES256(), t.signing))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return string(signed), expires, nil
}

// Verify implements middleware.TokenVerifier.
func (t *TokenIssuer) Verify(ctx context.Context, raw string) (*middleware.Principal, error) {
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.ES256(), t.public),
		jwt.WithValidate(true),
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithAudience(t.cfg.Audience),
	)
	if err != nil {
		if errors.Is(err, jwt.TokenExpiredError()) {
			return nil, fmt.Errorf("verify access token: %w", core.ErrTokenExpired)
		}
		return nil, fmt.Errorf("verify access token: %w", core.ErrTokenInvalid)
	}

	var use, role string
	if err := tok.Get(claimUse, &use); err != nil || use != useAccess {
		return nil, fmt.Errorf("verify access token: wrong use: %w", core.ErrTokenInvalid)
	}
	if err := tok.Get(claimRole, &role); err != nil {
		return nil, fmt.Errorf("verify access token: no role: %w", core.ErrTokenInvalid)
	}
	sub, _ := tok.Subject()
	jti, _ := tok.JwtID()
	exp, _ := tok.Expiration()
	if sub == "" || jti == "" {
		return nil, fmt.Errorf("verify access token: missing sub or jti: %w", core.ErrTokenInvalid)
	}

	if t.denied != nil {
		denied, err := t.denied.Denied(ctx, jti)
		if err != nil {
			return nil, fmt.Errorf("verify access token: %w", err)
		}
		if denied {
			return nil, fmt.Errorf("verify access token: %w", core.ErrTokenRevoked)
		}
	}

	return &middleware.Principal{
		UserID:    sub,
		Role:      role,
		TokenID:   jti,
		ExpiresAt: exp,
	}, nil
}

func (t *TokenIssuer) KeyID() string {
	kid, _ := t.public.KeyID()
	return kid
}

func (t *TokenIssuer) AccessTTL() time.Duration  { return t.cfg.AccessTokenExpire }
func (t *TokenIssuer) RefreshTTL() time.Duration { return t.cfg.RefreshTokenExpire }

// JWKSHandler serves the public verification key set.
func (t *TokenIssuer) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if err := json.NewEncoder(w).Encode(t.jwks); err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}
}

var _ middleware.TokenVerifier = (*TokenIssuer)(nil)

// AngelaMos | 2026
// repository.go

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/carterperez-dev/quotachat/internal/core"
)

type SessionStore interface {
	Insert(ctx context.Context, s *Session) error
	ByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	// Rotate revokes the active session oldID and inserts next in one
	// statement. It reports false when oldID was no longer active.
	Rotate(ctx context.Context, oldID string, next *Session) (bool, error)
	Revoke(ctx context.Context, id string) error
}

type sessionStore struct {
	db core.DBTX
}

func NewSessionStore(db core.DBTX) SessionStore {
	return &sessionStore{db: db}
}

func (r *sessionStore) Insert(ctx context.Context, s *Session) error {
	const query = `
		INSERT INTO sessions (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	if err := r.db.GetContext(ctx, &s.CreatedAt, query,
		s.ID, s.UserID, s.TokenHash, s.ExpiresAt,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionStore) ByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	const query = `
		SELECT id, user_id, token_hash, expires_at, created_at, revoked_at
		FROM sessions
		WHERE token_hash = $1`

	var s Session
	if err := r.db.GetContext(ctx, &s, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session by hash: %w", core.ErrNotFound)
		}
		return nil, fmt.Errorf("session by hash: %w", err)
	}
	return &s, nil
}

func (r *sessionStore) Rotate(ctx context.Context, oldID string, next *Session) (bool, error) {
	const query = `
		WITH revoked AS (
			UPDATE sessions
			SET revoked_at = NOW()
			WHERE id = $1 AND revoked_at IS NULL AND expires_at > NOW()
			RETURNING user_id
		)
		INSERT INTO sessions (id, user_id, token_hash, expires_at)
		SELECT $2, user_id, $3, $4 FROM revoked
		RETURNING created_at`

	err := r.db.GetContext(ctx, &next.CreatedAt, query,
		oldID, next.ID, next.TokenHash, next.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rotate session: %w", err)
	}
	return true, nil
}

func (r *sessionStore) Revoke(ctx context.Context, id string) error {
	const query = `
		UPDATE sessions
		SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

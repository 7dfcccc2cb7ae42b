// AngelaMos | 2026
// denylist.go

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const denyKeyPrefix = "auth:denied:"

// Denylist records access tokens revoked at logout. Entries expire with
// the token, so the set never outgrows the live token population.
type Denylist struct {
	client redis.Cmdable
}

func NewDenylist(client redis.Cmdable) *Denylist {
	return &Denylist{client: client}
}

func (d *Denylist) Deny(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, denyKeyPrefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("deny access token: %w", err)
	}
	return nil
}

func (d *Denylist) Denied(ctx context.Context, tokenID string) (bool, error) {
	n, err := d.client.Exists(ctx, denyKeyPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("check denied token: %w", err)
	}
	return n > 0, nil
}

var _ DenyChecker = (*Denylist)(nil)

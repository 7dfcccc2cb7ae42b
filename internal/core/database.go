// AngelaMos | 2026
// database.go

package core

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/quotachat/internal/config"
)

const dbPingTimeout = 5 * time.Second

// Database owns the Postgres pool. Usage counters and plan changes are
// single-statement writes guarded by usage_version, so repositories take a
// DBTX rather than opening transactions.
type Database struct {
	DB *sqlx.DB
}

// DBTX is satisfied by *sqlx.DB and *sqlx.Tx.
type DBTX interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func NewDatabase(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	// Spread connection recycling so replicas don't reconnect in lockstep.
	db.SetConnMaxLifetime(withJitter(cfg.ConnMaxLifetime, 7))

	d := &Database{DB: db}
	if err := d.Ping(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // startup failure
		return nil, err
	}
	return d, nil
}

// Ping implements health.Checker.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func (d *Database) Stats() sql.DBStats { return d.DB.Stats() }

func (d *Database) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// withJitter adds up to base/div on top of base.
func withJitter(base time.Duration, div int64) time.Duration {
	span := int64(base) / div
	if span <= 0 {
		return base
	}
	//nolint:gosec // G404: pool jitter
	return base + time.Duration(rand.Int64N(span))
}

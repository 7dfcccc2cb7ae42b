// AngelaMos | 2026
// repository.go

package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/usage"
)

type Repository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByExternalCustomerID(ctx context.Context, customerID string) (*User, error)
	Rename(ctx context.Context, id, name string) (*User, error)
	List(ctx context.Context, f ListFilter) ([]User, int, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	CountByPlan(ctx context.Context) (map[usage.Plan]int, error)
	CommitUsage(
		ctx context.Context,
		id string,
		expectedVersion int64,
		next usage.State,
	) (bool, error)
	ApplyPlanChange(
		ctx context.Context,
		customerID string,
		change usage.PlanChange,
	) (bool, error)
}

type repository struct {
	db core.DBTX
}

func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

const userColumns = `
	id, email, password_hash, name, role, external_customer_id, plan,
	message_count, messages_this_hour, last_message_at, messages_this_month,
	usage_reset_date, usage_version, created_at, updated_at`

func (r *repository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (
			id, email, password_hash, name, role, external_customer_id, plan
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at, usage_version`

	err := r.db.GetContext(ctx, user, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.Role,
		user.ExternalCustomerID,
		string(user.Plan),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("create user: %w", core.ErrDuplicateKey)
		}
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getOne(ctx, "get user", "id", id)
}

func (r *repository) GetByEmail(
	ctx context.Context,
	email string,
) (*User, error) {
	return r.getOne(ctx, "get user by email", "email", email)
}

func (r *repository) GetByExternalCustomerID(
	ctx context.Context,
	customerID string,
) (*User, error) {
	return r.getOne(
		ctx,
		"get user by customer id",
		"external_customer_id",
		customerID,
	)
}

func (r *repository) getOne(
	ctx context.Context,
	op, column, value string,
) (*User, error) {
	//nolint:gosec // G201: column is one of a fixed set of identifiers
	query := fmt.Sprintf(
		"SELECT %s FROM users WHERE %s = $1",
		userColumns,
		column,
	)

	var user User
	err := r.db.GetContext(ctx, &user, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

func (r *repository) Rename(ctx context.Context, id, name string) (*User, error) {
	query := fmt.Sprintf(`
		UPDATE users SET name = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING %s`, userColumns)

	var user User
	err := r.db.GetContext(ctx, &user, query, id, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rename user: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("rename user: %w", err)
	}

	return &user, nil
}

// CommitUsage writes next's counters only if the stored usage_version still
// equals expectedVersion. It reports false when another writer got there
// first or the row does not exist.
func (r *repository) CommitUsage(
	ctx context.Context,
	id string,
	expectedVersion int64,
	next usage.State,
) (bool, error) {
	query := `
		UPDATE users
		SET message_count = $3,
		    messages_this_hour = $4,
		    last_message_at = $5,
		    messages_this_month = $6,
		    usage_version = usage_version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND usage_version = $2`

	matched, err := r.exec(ctx, query,
		id,
		expectedVersion,
		next.MessageCount,
		next.MessagesThisHour,
		next.LastMessageAt,
		next.MessagesThisMonth,
	)
	if err != nil {
		return false, fmt.Errorf("commit usage: %w", err)
	}

	return matched, nil
}

// ApplyPlanChange overwrites plan, counters and reset date for the user
// owning customerID. It reports whether a user matched.
func (r *repository) ApplyPlanChange(
	ctx context.Context,
	customerID string,
	change usage.PlanChange,
) (bool, error) {
	applied := change.Apply(usage.State{})

	query := `
		UPDATE users
		SET plan = $2,
		    messages_this_hour = 0,
		    last_message_at = NULL,
		    messages_this_month = 0,
		    usage_reset_date = $3,
		    usage_version = usage_version + 1,
		    updated_at = NOW()
		WHERE external_customer_id = $1`

	matched, err := r.exec(ctx, query,
		customerID,
		string(applied.Plan),
		applied.ResetDate,
	)
	if err != nil {
		return false, fmt.Errorf("apply plan change: %w", err)
	}

	return matched, nil
}

// List pages through users newest first. An empty Plan or Search does
// not filter.
func (r *repository) List(ctx context.Context, f ListFilter) ([]User, int, error) {
	f.normalize()

	where, args := f.where()

	var total int
	//nolint:gosec // G201: where is built from fixed fragments
	countQuery := "SELECT COUNT(*) FROM users WHERE " + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	if total == 0 {
		return []User{}, 0, nil
	}

	n := len(args)
	//nolint:gosec // G201: where is built from fixed fragments
	query := fmt.Sprintf(
		"SELECT %s FROM users WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
		userColumns, where, n+1, n+2,
	)
	args = append(args, f.PageSize, f.offset())

	users := []User{}
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	return users, total, nil
}

func (r *repository) ExistsByEmail(
	ctx context.Context,
	email string,
) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, email); err != nil {
		return false, fmt.Errorf("check email exists: %w", err)
	}

	return exists, nil
}

func (r *repository) CountByPlan(
	ctx context.Context,
) (map[usage.Plan]int, error) {
	query := `SELECT plan, COUNT(*) AS total FROM users GROUP BY plan`

	var rows []struct {
		Plan  usage.Plan `db:"plan"`
		Total int        `db:"total"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count users by plan: %w", err)
	}

	counts := map[usage.Plan]int{
		usage.PlanFree:     0,
		usage.PlanStandard: 0,
		usage.PlanPro:      0,
	}
	for _, row := range rows {
		counts[row.Plan] = row.Total
	}

	return counts, nil
}

func (r *repository) exec(
	ctx context.Context,
	query string,
	args ...any,
) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// AngelaMos | 2026
// service.go

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/usage"
	"github.com/carterperez-dev/quotachat/internal/user"
)

var (
	ErrEmptyMessage         = errors.New("message is empty")
	ErrGatewayNotConfigured = errors.New("completion gateway not configured")
	ErrGatewayFailed        = errors.New("completion gateway failed")
)

const defaultLockWait = 20 * time.Second

type UsageStore interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
	CommitUsage(
		ctx context.Context,
		id string,
		expectedVersion int64,
		next usage.State,
	) (bool, error)
}

type Completer interface {
	Configured() bool
	Complete(ctx context.Context, prompt string) (string, error)
}

type CheckoutLinker interface {
	CheckoutLink(email string) string
}

type ServiceConfig struct {
	Store    UsageStore
	Locker   usage.Locker
	Gateway  Completer
	Checkout CheckoutLinker
	Limits   usage.Limits
	LockWait time.Duration
	Clock    core.Clock
	Logger   *slog.Logger
}

type Service struct {
	store    UsageStore
	locker   usage.Locker
	gateway  Completer
	checkout CheckoutLinker
	limits   usage.Limits
	lockWait time.Duration
	clock    core.Clock
	logger   *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.Limits == (usage.Limits{}) {
		cfg.Limits = usage.DefaultLimits()
	}

	return &Service{
		store:    cfg.Store,
		locker:   cfg.Locker,
		gateway:  cfg.Gateway,
		checkout: cfg.Checkout,
		limits:   cfg.Limits,
		lockWait: cfg.LockWait,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
}

// SendResult is the outcome of one message. A rejected message is not an
// error: Admitted is false and Notice says why.
type SendResult struct {
	Admitted   bool
	Reason     usage.Reason
	Notice     string
	RetryAfter time.Duration
	Reply      string
	Usage      UsageView
}

// SendMessage runs the access cycle for one message: monthly reset, quota
// admission, completion, commit. The whole cycle holds the user's lock and
// counters are written with a version check, so a message either commits
// all of its deltas or none.
func (s *Service) SendMessage(
	ctx context.Context,
	userID, message string,
) (*SendResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	unlock, err := s.locker.Lock(lockCtx, userID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("lock usage: %w", err)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.WarnContext(ctx, "usage unlock failed",
				"user_id", userID,
				"error", err,
			)
		}
	}()

	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := s.clock.Now()
	base := u.UsageState()
	pending, state := s.applyReset(ctx, userID, base, now)

	if s.gateway == nil || !s.gateway.Configured() {
		s.persistReset(ctx, userID, base, pending)
		return nil, ErrGatewayNotConfigured
	}

	decision := usage.Evaluate(state, now, s.limits)
	if !decision.Admit {
		core.AddSpanEvent(ctx, "usage.reject",
			attribute.String("plan", string(state.Plan)),
			attribute.String("reason", string(decision.Reason)),
		)
		s.logger.InfoContext(ctx, "message rejected",
			"user_id", userID,
			"plan", state.Plan,
			"reason", decision.Reason,
		)

		committed := s.persistReset(ctx, userID, base, pending)
		result := &SendResult{
			Admitted: false,
			Reason:   decision.Reason,
			Notice:   s.limitNotice(decision.Reason),
			Usage:    s.view(u, committed, now),
		}
		if at := usage.WindowResetsAt(committed, now); !at.IsZero() {
			result.RetryAfter = at.Sub(now)
		}
		return result, nil
	}

	core.AddSpanEvent(ctx, "usage.admit",
		attribute.String("plan", string(state.Plan)),
		attribute.Bool("new_window", decision.NewWindow),
	)

	reply, err := s.gateway.Complete(ctx, message)
	if err != nil {
		s.logger.WarnContext(ctx, "completion failed, usage not committed",
			"user_id", userID,
			"error", err,
		)
		s.persistReset(ctx, userID, base, pending)
		return nil, fmt.Errorf("%w: %w", ErrGatewayFailed, err)
	}

	next := pending.Then(decision.Deltas).Apply(base)

	// The reply has already been paid for upstream; a caller hanging up now
	// must not drop the usage write.
	commitCtx := context.WithoutCancel(ctx)
	ok, err := s.store.CommitUsage(commitCtx, userID, base.Version, next)
	if err != nil {
		return nil, fmt.Errorf("commit usage: %w", err)
	}
	if !ok {
		fresh, retried, err := s.retryCommit(commitCtx, userID, base, decision.Deltas, now)
		if err != nil {
			return nil, err
		}
		if !retried {
			s.logger.WarnContext(ctx, "plan changed during completion, message not counted",
				"user_id", userID,
				"expected_version", base.Version,
			)
		}
		return &SendResult{
			Admitted: true,
			Reply:    reply,
			Usage:    s.view(fresh, fresh.UsageState(), now),
		}, nil
	}
	next.Version = base.Version + 1

	return &SendResult{
		Admitted: true,
		Reply:    reply,
		Usage:    s.view(u, next, now),
	}, nil
}

// GetUsage returns the user's quota view, persisting a due monthly reset
// first. The reset is only written under the user's lock; while a message
// holds it the view is derived without writing.
func (s *Service) GetUsage(ctx context.Context, userID string) (*UsageView, error) {
	unlock, lockErr := s.locker.TryLock(ctx, userID)
	if lockErr == nil {
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "usage unlock failed",
					"user_id", userID,
					"error", err,
				)
			}
		}()
	} else if !errors.Is(lockErr, usage.ErrLockBusy) {
		return nil, fmt.Errorf("lock usage: %w", lockErr)
	}

	u, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	now := s.clock.Now()
	base := u.UsageState()
	pending, state := s.applyReset(ctx, userID, base, now)
	if lockErr == nil {
		state = s.persistReset(ctx, userID, base, pending)
	}

	view := s.view(u, state, now)
	return &view, nil
}

// retryCommit handles a version miss after a completion. The record is
// reloaded and, when plan and reset date are unchanged, the message deltas
// are re-applied once. A plan change resets the slate, so the message is
// not counted on top of it.
func (s *Service) retryCommit(
	ctx context.Context,
	userID string,
	base usage.State,
	deltas usage.Deltas,
	now time.Time,
) (*user.User, bool, error) {
	fresh, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("reload user: %w", err)
	}

	state := fresh.UsageState()
	if state.Plan != base.Plan || !sameDate(state.ResetDate, base.ResetDate) {
		return fresh, false, nil
	}

	pending, _ := s.applyReset(ctx, userID, state, now)
	next := pending.Then(deltas).Apply(state)
	ok, err := s.store.CommitUsage(ctx, userID, state.Version, next)
	if err != nil {
		return nil, false, fmt.Errorf("commit usage: %w", err)
	}
	if !ok {
		return fresh, false, nil
	}

	applyState(fresh, next)
	return fresh, true, nil
}

func (s *Service) applyReset(
	ctx context.Context,
	userID string,
	base usage.State,
	now time.Time,
) (usage.Deltas, usage.State) {
	reset := usage.MaybeReset(base, now)
	// A stale reset date keeps the reset due; once the month is zeroed
	// there is nothing to write.
	if reset == nil || base.MessagesThisMonth == 0 {
		return usage.Deltas{}, base
	}

	core.AddSpanEvent(ctx, "usage.reset",
		attribute.String("plan", string(base.Plan)),
		attribute.Int("messages_this_month", base.MessagesThisMonth),
	)
	s.logger.InfoContext(ctx, "monthly usage reset due",
		"user_id", userID,
		"reset_date", base.ResetDate.Format(time.DateOnly),
	)

	return *reset, reset.Apply(base)
}

// persistReset writes a pending reset on its own and returns the state the
// caller should report. Failure is logged, not returned: the reset is
// re-derived on the next access.
func (s *Service) persistReset(
	ctx context.Context,
	userID string,
	base usage.State,
	pending usage.Deltas,
) usage.State {
	if pending.IsZero() {
		return base
	}

	next := pending.Apply(base)
	ok, err := s.store.CommitUsage(ctx, userID, base.Version, next)
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "persist monthly reset failed",
			"user_id", userID,
			"error", err,
		)
	case !ok:
		s.logger.InfoContext(ctx, "monthly reset raced with another writer",
			"user_id", userID,
		)
	default:
		next.Version = base.Version + 1
	}

	return next
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return usage.DateOf(*a).Equal(usage.DateOf(*b))
}

func applyState(u *user.User, st usage.State) {
	u.MessageCount = st.MessageCount
	u.MessagesThisHour = st.MessagesThisHour
	u.MessagesThisMonth = st.MessagesThisMonth
	u.LastMessageAt = st.LastMessageAt
	u.UsageVersion = st.Version + 1
}

func (s *Service) limitNotice(reason usage.Reason) string {
	switch reason {
	case usage.ReasonMonthlyLimit:
		return fmt.Sprintf(
			"Standard plan limit reached (%d messages this month).",
			s.limits.StandardMonthly,
		)
	case usage.ReasonHourlyLimit:
		return fmt.Sprintf(
			"Free plan limit reached (%d messages this hour). Please wait.",
			s.limits.FreeHourly,
		)
	default:
		return "Message limit reached."
	}
}

func (s *Service) view(u *user.User, state usage.State, now time.Time) UsageView {
	link := ""
	if s.checkout != nil {
		link = s.checkout.CheckoutLink(u.Email)
	}
	return newUsageView(state, s.limits, now, link)
}

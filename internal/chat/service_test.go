// AngelaMos | 2026
// service_test.go

package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/quotachat/internal/core"
	"github.com/carterperez-dev/quotachat/internal/usage"
	"github.com/carterperez-dev/quotachat/internal/user"
)

type fakeStore struct {
	mu      sync.Mutex
	users   map[string]*user.User
	commits int
	getErr  error
	// onCommit runs before a commit is checked, inside the store lock.
	onCommit func(u *user.User)
}

func newFakeStore(users ...*user.User) *fakeStore {
	f := &fakeStore{users: map[string]*user.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) CommitUsage(
	_ context.Context,
	id string,
	expectedVersion int64,
	next usage.State,
) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[id]
	if !ok {
		return false, nil
	}
	if f.onCommit != nil {
		f.onCommit(u)
	}
	if u.UsageVersion != expectedVersion {
		return false, nil
	}

	u.MessageCount = next.MessageCount
	u.MessagesThisHour = next.MessagesThisHour
	u.LastMessageAt = next.LastMessageAt
	u.MessagesThisMonth = next.MessagesThisMonth
	u.UsageVersion++
	f.commits++
	return true, nil
}

func (f *fakeStore) get(id string) user.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.users[id]
}

type fakeGateway struct {
	configured bool
	err        error
	delay      time.Duration
	calls      atomic.Int32
}

func (g *fakeGateway) Configured() bool { return g.configured }

func (g *fakeGateway) Complete(ctx context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.err != nil {
		return "", g.err
	}
	return "echo: " + prompt, nil
}

type fakeCheckout struct{}

func (fakeCheckout) CheckoutLink(email string) string {
	return "https://checkout.test/?checkout[email]=" + email
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func dateRef(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func timeRef(t time.Time) *time.Time {
	return &t
}

type fixture struct {
	store   *fakeStore
	gateway *fakeGateway
	clock   *testClock
	svc     *Service
}

func newFixture(t *testing.T, u *user.User) *fixture {
	t.Helper()
	f := &fixture{
		store:   newFakeStore(u),
		gateway: &fakeGateway{configured: true},
		clock:   &testClock{now: t0},
	}
	f.svc = NewService(ServiceConfig{
		Store:    f.store,
		Locker:   usage.NewLocalLocker(),
		Gateway:  f.gateway,
		Checkout: fakeCheckout{},
		Limits:   usage.DefaultLimits(),
		LockWait: time.Second,
		Clock:    f.clock,
	})
	return f
}

func freeUser() *user.User {
	return &user.User{ID: "u1", Email: "a@example.com", Plan: usage.PlanFree}
}

func TestSendMessage_FreeHourlyWindow(t *testing.T) {
	f := newFixture(t, freeUser())
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		f.clock.set(t0.Add(time.Duration(i) * time.Minute))
		res, err := f.svc.SendMessage(ctx, "u1", "hi")
		require.NoError(t, err)
		require.True(t, res.Admitted, "message %d", i)
		assert.Equal(t, "echo: hi", res.Reply)
	}

	f.clock.set(t0.Add(30 * time.Minute))
	res, err := f.svc.SendMessage(ctx, "u1", "hi")
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Equal(t, usage.ReasonHourlyLimit, res.Reason)
	assert.Equal(t, "Free plan limit reached (2 messages this hour). Please wait.", res.Notice)

	stored := f.store.get("u1")
	assert.Equal(t, 2, stored.MessagesThisHour)
	assert.Equal(t, int64(2), stored.MessageCount)
	assert.True(t, t0.Add(2*time.Minute).Equal(*stored.LastMessageAt))

	// The window is anchored at the last admitted message.
	f.clock.set(t0.Add(2*time.Minute + time.Hour))
	res, err = f.svc.SendMessage(ctx, "u1", "hi")
	require.NoError(t, err)
	assert.True(t, res.Admitted)

	stored = f.store.get("u1")
	assert.Equal(t, 1, stored.MessagesThisHour)
	assert.Equal(t, int64(3), stored.MessageCount)
}

func TestSendMessage_WindowBoundary(t *testing.T) {
	tests := []struct {
		name      string
		elapsed   time.Duration
		wantAdmit bool
	}{
		{"one second short of an hour is inside", time.Hour - time.Second, false},
		{"exactly one hour is a new window", time.Hour, true},
		{"past one hour is a new window", time.Hour + time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := freeUser()
			u.MessagesThisHour = 2
			u.LastMessageAt = timeRef(t0)
			f := newFixture(t, u)
			f.clock.set(t0.Add(tt.elapsed))

			res, err := f.svc.SendMessage(context.Background(), "u1", "hi")
			require.NoError(t, err)
			assert.Equal(t, tt.wantAdmit, res.Admitted)
		})
	}
}

func TestSendMessage_FreeLimitReachedPersistsNothing(t *testing.T) {
	u := freeUser()
	u.MessagesThisHour = 2
	u.LastMessageAt = timeRef(t0.Add(-10 * time.Minute))
	f := newFixture(t, u)

	res, err := f.svc.SendMessage(context.Background(), "u1", "hi")
	require.NoError(t, err)

	assert.False(t, res.Admitted)
	assert.Equal(t, usage.ReasonHourlyLimit, res.Reason)
	assert.Equal(t, 0, f.store.commits)
	assert.Equal(t, int32(0), f.gateway.calls.Load())
	require.NotNil(t, res.Usage.WindowResetsAt)
	assert.True(t, t0.Add(50*time.Minute).Equal(*res.Usage.WindowResetsAt))
}

func TestSendMessage_StandardMonthlyLimit(t *testing.T) {
	u := &user.User{
		ID:                "u1",
		Plan:              usage.PlanStandard,
		MessagesThisMonth: 99,
		UsageResetDate:    dateRef(2026, 4, 10),
	}
	f := newFixture(t, u)
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, "u1", "hundredth")
	require.NoError(t, err)
	require.True(t, res.Admitted)
	assert.Equal(t, 100, f.store.get("u1").MessagesThisMonth)
	assert.Equal(t, "100/100 messages this month", res.Usage.LimitInfo)

	res, err = f.svc.SendMessage(ctx, "u1", "one too many")
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Equal(t, usage.ReasonMonthlyLimit, res.Reason)
	assert.Equal(t, "Standard plan limit reached (100 messages this month).", res.Notice)
	assert.Equal(t, 100, f.store.get("u1").MessagesThisMonth)

	f.clock.set(time.Date(2026, 4, 10, 0, 0, 1, 0, time.UTC))
	res, err = f.svc.SendMessage(ctx, "u1", "new period")
	require.NoError(t, err)
	assert.True(t, res.Admitted)

	stored := f.store.get("u1")
	assert.Equal(t, 1, stored.MessagesThisMonth)
	require.NotNil(t, stored.UsageResetDate)
	assert.True(t, dateRef(2026, 4, 10).Equal(*stored.UsageResetDate))
}

func TestSendMessage_ResetThenAdmit(t *testing.T) {
	u := &user.User{
		ID:                "u1",
		Plan:              usage.PlanStandard,
		MessageCount:      500,
		MessagesThisMonth: 80,
		UsageResetDate:    dateRef(2026, 3, 9),
	}
	f := newFixture(t, u)

	res, err := f.svc.SendMessage(context.Background(), "u1", "hi")
	require.NoError(t, err)
	require.True(t, res.Admitted)

	stored := f.store.get("u1")
	assert.Equal(t, 1, stored.MessagesThisMonth)
	assert.Equal(t, int64(501), stored.MessageCount)
	assert.Equal(t, 1, f.store.commits)
	assert.Equal(t, "1/100 messages this month", res.Usage.LimitInfo)
}

func TestSendMessage_GatewayFailureCommitsNothing(t *testing.T) {
	last := t0.Add(-2 * time.Hour)
	u := freeUser()
	u.MessageCount = 7
	u.MessagesThisHour = 2
	u.LastMessageAt = &last
	f := newFixture(t, u)
	f.gateway.err = errors.New("upstream 500")

	_, err := f.svc.SendMessage(context.Background(), "u1", "hi")
	require.ErrorIs(t, err, ErrGatewayFailed)

	stored := f.store.get("u1")
	assert.Equal(t, 2, stored.MessagesThisHour)
	assert.True(t, last.Equal(*stored.LastMessageAt))
	assert.Equal(t, int64(7), stored.MessageCount)
	assert.Equal(t, 0, f.store.commits)
}

func TestSendMessage_GatewayFailureStillPersistsDueReset(t *testing.T) {
	u := &user.User{
		ID:                "u1",
		Plan:              usage.PlanPro,
		MessageCount:      40,
		MessagesThisMonth: 12,
		UsageResetDate:    dateRef(2026, 3, 1),
	}
	f := newFixture(t, u)
	f.gateway.err = errors.New("timeout")

	_, err := f.svc.SendMessage(context.Background(), "u1", "hi")
	require.ErrorIs(t, err, ErrGatewayFailed)

	stored := f.store.get("u1")
	assert.Equal(t, 0, stored.MessagesThisMonth)
	assert.Equal(t, int64(40), stored.MessageCount)
	assert.True(t, dateRef(2026, 3, 1).Equal(*stored.UsageResetDate))
}

func TestSendMessage_NotConfigured(t *testing.T) {
	f := newFixture(t, freeUser())
	f.gateway.configured = false

	_, err := f.svc.SendMessage(context.Background(), "u1", "hi")
	assert.ErrorIs(t, err, ErrGatewayNotConfigured)
	assert.Equal(t, int32(0), f.gateway.calls.Load())
}

func TestSendMessage_EmptyMessage(t *testing.T) {
	f := newFixture(t, freeUser())

	_, err := f.svc.SendMessage(context.Background(), "u1", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendMessage_UnknownUser(t *testing.T) {
	f := newFixture(t, freeUser())

	_, err := f.svc.SendMessage(context.Background(), "ghost", "hi")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSendMessage_ProIsUnlimited(t *testing.T) {
	u := &user.User{ID: "u1", Plan: usage.PlanPro, MessagesThisMonth: 10_000}
	f := newFixture(t, u)

	for range 5 {
		res, err := f.svc.SendMessage(context.Background(), "u1", "hi")
		require.NoError(t, err)
		require.True(t, res.Admitted)
		assert.Equal(t, "Unlimited messages", res.Usage.LimitInfo)
	}
	assert.Equal(t, int64(5), f.store.get("u1").MessageCount)
	assert.Equal(t, 10_000, f.store.get("u1").MessagesThisMonth)
}

func TestSendMessage_ConcurrentAdmissionIsSerialized(t *testing.T) {
	f := newFixture(t, freeUser())
	f.gateway.delay = 5 * time.Millisecond

	const workers = 8
	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
		rejected atomic.Int32
	)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.SendMessage(context.Background(), "u1", "hi")
			if !assert.NoError(t, err) {
				return
			}
			if res.Admitted {
				admitted.Add(1)
			} else {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), admitted.Load())
	assert.Equal(t, int32(workers-2), rejected.Load())
	assert.Equal(t, 2, f.store.get("u1").MessagesThisHour)
	assert.Equal(t, int32(2), f.gateway.calls.Load())
}

func TestSendMessage_PlanChangeDuringCompletion(t *testing.T) {
	f := newFixture(t, freeUser())
	f.store.onCommit = func(u *user.User) {
		// A billing webhook lands while the completion is in flight.
		u.Plan = usage.PlanStandard
		u.UsageResetDate = dateRef(2026, 4, 10)
		u.MessagesThisHour = 0
		u.LastMessageAt = nil
		u.UsageVersion++
		f.store.onCommit = nil
	}

	res, err := f.svc.SendMessage(context.Background(), "u1", "hi")
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, "echo: hi", res.Reply)
	assert.Equal(t, usage.PlanStandard, res.Usage.Plan)
	assert.Equal(t, int64(0), f.store.get("u1").MessageCount)
}

func TestGetUsage(t *testing.T) {
	t.Run("persists due reset", func(t *testing.T) {
		u := &user.User{
			ID:                "u1",
			Email:             "s@example.com",
			Plan:              usage.PlanStandard,
			MessagesThisMonth: 57,
			UsageResetDate:    dateRef(2026, 3, 10),
		}
		f := newFixture(t, u)

		view, err := f.svc.GetUsage(context.Background(), "u1")
		require.NoError(t, err)

		assert.Equal(t, "Standard", view.PlanName)
		assert.Equal(t, "0/100 messages this month", view.LimitInfo)
		assert.Equal(t, 0, f.store.get("u1").MessagesThisMonth)
		require.NotNil(t, view.UsageResetDate)
		assert.Equal(t, "2026-03-10", *view.UsageResetDate)
		assert.Equal(t, "https://checkout.test/?checkout[email]=s@example.com", view.CheckoutLink)
	})

	t.Run("reset not due", func(t *testing.T) {
		u := &user.User{
			ID:                "u1",
			Plan:              usage.PlanStandard,
			MessagesThisMonth: 57,
			UsageResetDate:    dateRef(2026, 3, 11),
		}
		f := newFixture(t, u)

		view, err := f.svc.GetUsage(context.Background(), "u1")
		require.NoError(t, err)

		assert.Equal(t, "57/100 messages this month", view.LimitInfo)
		assert.Equal(t, 0, f.store.commits)
	})

	t.Run("free plan with expired window", func(t *testing.T) {
		u := freeUser()
		u.MessagesThisHour = 2
		u.LastMessageAt = timeRef(t0.Add(-3 * time.Hour))
		f := newFixture(t, u)

		view, err := f.svc.GetUsage(context.Background(), "u1")
		require.NoError(t, err)

		assert.Equal(t, "2/hour message limit", view.LimitInfo)
		assert.Equal(t, 0, view.MessagesThisHour)
		assert.Nil(t, view.WindowResetsAt)
		require.NotNil(t, view.HourlyLimit)
		assert.Equal(t, 2, *view.HourlyLimit)
	})
}

func TestGetUsage_DuringCompletionKeepsMessage(t *testing.T) {
	u := &user.User{
		ID:                "u1",
		Plan:              usage.PlanStandard,
		MessageCount:      10,
		MessagesThisMonth: 80,
		UsageResetDate:    dateRef(2026, 3, 9),
	}
	f := newFixture(t, u)
	f.gateway.delay = 200 * time.Millisecond

	done := make(chan *SendResult, 1)
	go func() {
		res, err := f.svc.SendMessage(context.Background(), "u1", "hi")
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool {
		return f.gateway.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	view, err := f.svc.GetUsage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "0/100 messages this month", view.LimitInfo)

	res := <-done
	require.NotNil(t, res)
	assert.True(t, res.Admitted)
	assert.Equal(t, "1/100 messages this month", res.Usage.LimitInfo)

	stored := f.store.get("u1")
	assert.Equal(t, int64(11), stored.MessageCount)
	assert.Equal(t, 1, stored.MessagesThisMonth)
	assert.Equal(t, 1, f.store.commits)
}

func TestGetUsage_StaleResetDateWithZeroMonthWritesNothing(t *testing.T) {
	u := &user.User{
		ID:             "u1",
		Plan:           usage.PlanStandard,
		UsageResetDate: dateRef(2026, 3, 1),
	}
	f := newFixture(t, u)

	for range 3 {
		view, err := f.svc.GetUsage(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "0/100 messages this month", view.LimitInfo)
	}

	assert.Equal(t, 0, f.store.commits)
	assert.Equal(t, int64(0), f.store.get("u1").UsageVersion)
}

func TestSendMessage_VersionMovedWithoutPlanChangeRetries(t *testing.T) {
	u := &user.User{
		ID:                "u1",
		Plan:              usage.PlanStandard,
		MessageCount:      40,
		MessagesThisMonth: 5,
		UsageResetDate:    dateRef(2026, 4, 10),
	}
	f := newFixture(t, u)
	f.store.onCommit = func(u *user.User) {
		u.UsageVersion++
		f.store.onCommit = nil
	}

	res, err := f.svc.SendMessage(context.Background(), "u1", "hi")
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, "6/100 messages this month", res.Usage.LimitInfo)

	stored := f.store.get("u1")
	assert.Equal(t, int64(41), stored.MessageCount)
	assert.Equal(t, 6, stored.MessagesThisMonth)
	assert.Equal(t, int64(2), stored.UsageVersion)
	assert.Equal(t, 1, f.store.commits)
}

// AngelaMos | 2026
// locker.go

package usage

import (
	"context"
	"errors"
	"sync"
)

var ErrLockBusy = errors.New("usage lock busy")

// Unlock releases a per-user lock. It is safe to call once.
type Unlock func(ctx context.Context) error

// Locker serializes the admission-and-commit cycle per user id.
// TryLock makes a single attempt and reports ErrLockBusy when another
// cycle holds the lock.
type Locker interface {
	Lock(ctx context.Context, userID string) (Unlock, error)
	TryLock(ctx context.Context, userID string) (Unlock, error)
}

// LocalLocker is an in-process Locker for single instance deployments
// and tests.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, userID string) (Unlock, error) {
	s := l.acquire(userID)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, s)
		return nil, errors.Join(ErrLockBusy, ctx.Err())
	}

	return l.unlocker(userID, s), nil
}

func (l *LocalLocker) TryLock(_ context.Context, userID string) (Unlock, error) {
	s := l.acquire(userID)

	select {
	case s.ch <- struct{}{}:
	default:
		l.release(userID, s)
		return nil, ErrLockBusy
	}

	return l.unlocker(userID, s), nil
}

func (l *LocalLocker) acquire(userID string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[userID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[userID] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) unlocker(userID string, s *slot) Unlock {
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-s.ch
			l.release(userID, s)
		})
		return nil
	}
}

func (l *LocalLocker) release(userID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, userID)
	}
}

var _ Locker = (*LocalLocker)(nil)

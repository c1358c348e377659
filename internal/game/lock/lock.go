// Package lock provides short-TTL, key-scoped mutual exclusion across all
// server processes sharing the fast store. At most one critical section per
// key runs concurrently; the TTL bounds staleness if a holder crashes
// mid-section.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned without retry when the key is already held. The
// caller reports the contention to its client; no mutation has happened.
var ErrLocked = errors.New("lock: key held")

// Store is the pair of primitives the manager needs, satisfied by the fast
// store client.
type Store interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

type Manager struct {
	store Store
	ttl   time.Duration
}

func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl}
}

// WithLock runs fn while holding key. Acquisition is a single atomic
// "set iff absent, with expiry"; release is best-effort and guarded by the
// holder token, so an expired-and-reacquired key is never released by the
// old holder.
func (m *Manager) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	ok, err := m.store.AcquireLock(ctx, key, token, m.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLocked
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.store.ReleaseLock(releaseCtx, key, token)
	}()
	return fn(ctx)
}

// Package ratelimit gates mutating events with windowed counters in the fast
// store, shared across all server processes.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Counter is the windowed-increment primitive the limiter rides on,
// satisfied by the fast store client.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Limiter struct {
	store Counter
	now   func() time.Time
}

func New(store Counter) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Allow increments the (user, action, bucket) counter and reports whether the
// call is within limit. Exactly limit calls succeed per window; the
// rejection itself has no side effect beyond the counter.
func (l *Limiter) Allow(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error) {
	bucket := l.now().Unix() / int64(window.Seconds())
	key := fmt.Sprintf("rl:%s:%s:%d", userID, action, bucket)
	n, err := l.store.IncrWindow(ctx, key, window)
	if err != nil {
		return false, err
	}
	return n <= int64(limit), nil
}

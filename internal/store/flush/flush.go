// Package flush moves dirty fast-tier state to the durable tier in the
// background. This is the accepted write-behind path for
// non-ownership-transferring state; trades write through synchronously
// elsewhere.
package flush

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"shardworld/internal/store/durable"
	"shardworld/internal/store/fast"
)

type Flusher struct {
	store    *fast.Client
	db       *durable.DB
	interval time.Duration
	log      *log.Logger
}

func New(store *fast.Client, db *durable.DB, interval time.Duration, logger *log.Logger) *Flusher {
	return &Flusher{store: store, db: db, interval: interval, log: logger}
}

// Run flushes on a fixed interval until ctx is cancelled. Failures are
// transient: the marker stays set and the next interval retries. A slow
// flush only delays itself; interactive traffic never waits on it.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.FlushOnce(ctx)
		}
	}
}

// FlushOnce drains the dirty sets. Per-key failures are logged and skipped
// so one bad key never blocks the rest of the batch.
func (f *Flusher) FlushOnce(ctx context.Context) {
	seeds, err := f.store.DirtySeeds(ctx)
	if err != nil {
		f.log.Printf("flush: list dirty seeds: %v", err)
		return
	}
	for _, seed := range seeds {
		keys, err := f.store.DirtyKeys(ctx, seed)
		if err != nil {
			f.log.Printf("flush: list dirty keys for %s: %v", seed, err)
			continue
		}
		clean := true
		for _, key := range keys {
			if err := f.flushKey(ctx, seed, key); err != nil {
				f.log.Printf("flush: %s: %v", key, err)
				clean = false
				continue
			}
			if err := f.store.ClearDirty(ctx, seed, key); err != nil {
				f.log.Printf("flush: clear %s: %v", key, err)
				clean = false
			}
		}
		if clean {
			_ = f.store.ClearDirtySeed(ctx, seed)
		}
	}
}

func (f *Flusher) flushKey(ctx context.Context, seed, key string) error {
	// Keys look like poi:<seed>:<poi-id>.
	rest, ok := strings.CutPrefix(key, "poi:"+seed+":")
	if !ok {
		// Unknown key shape; drop the marker rather than retrying forever.
		return nil
	}
	var state json.RawMessage
	if err := f.store.GetJSON(ctx, key, &state); err != nil {
		if errors.Is(err, fast.ErrNotFound) {
			return nil
		}
		return err
	}
	return f.db.UpsertPOIState(ctx, seed, rest, state)
}

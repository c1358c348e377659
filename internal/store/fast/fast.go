// Package fast wraps the shared low-latency key-value tier. It is the source
// of truth for latency-sensitive working state (POI/NPC state, locks, rate
// counters) and relays cross-process room fan-out over pub/sub.
package fast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	rdb *redis.Client
}

func New(addr, password string) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error { return c.rdb.Close() }

// ErrNotFound is returned by GetJSON for absent keys.
var ErrNotFound = errors.New("fast: key not found")

func (c *Client) GetJSON(ctx context.Context, key string, v any) error {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (c *Client) SetJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, 0).Err()
}

// AcquireLock performs the atomic "set iff absent, with expiry" that the lock
// manager is built on. The token identifies the holder for release.
func (c *Client) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, token, ttl).Result()
}

// releaseScript deletes the key only while the caller still holds it, so a
// slow holder cannot release a lock the TTL already handed to someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *Client) ReleaseLock(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, c.rdb, []string{key}, token).Err()
}

// incrWindowScript is an atomic increment-with-expiry: the window starts with
// the bucket's first increment.
var incrWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// IncrWindow increments a windowed counter and returns the new count.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := incrWindowScript.Run(ctx, c.rdb, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

func dirtyKey(seed string) string { return "dirty:" + seed }

const dirtySeedsKey = "dirty_seeds"

// MarkDirty records that a key under a seed needs flushing to the durable
// tier.
func (c *Client) MarkDirty(ctx context.Context, seed, key string) error {
	if err := c.rdb.SAdd(ctx, dirtyKey(seed), key).Err(); err != nil {
		return err
	}
	return c.rdb.SAdd(ctx, dirtySeedsKey, seed).Err()
}

// DirtySeeds lists seeds with pending flushes.
func (c *Client) DirtySeeds(ctx context.Context) ([]string, error) {
	return c.rdb.SMembers(ctx, dirtySeedsKey).Result()
}

// ClearDirtySeed drops a seed from the pending set once its keys are
// flushed. A concurrent MarkDirty simply re-adds it.
func (c *Client) ClearDirtySeed(ctx context.Context, seed string) error {
	return c.rdb.SRem(ctx, dirtySeedsKey, seed).Err()
}

// DirtyKeys lists the keys pending flush for a seed.
func (c *Client) DirtyKeys(ctx context.Context, seed string) ([]string, error) {
	return c.rdb.SMembers(ctx, dirtyKey(seed)).Result()
}

// ClearDirty removes flushed keys from the dirty set. Called only after a
// successful durable write; a failed flush leaves the marker for the next
// interval.
func (c *Client) ClearDirty(ctx context.Context, seed string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	return c.rdb.SRem(ctx, dirtyKey(seed), members...).Err()
}

func presenceKey(userID, procID string) string {
	return "presence:" + userID + ":" + procID
}

// SetPresence marks a user online on one process. Each process owns its own
// key, written on connect and refreshed by the heartbeat; the TTL covers
// processes that die without cleaning up.
func (c *Client) SetPresence(ctx context.Context, userID, procID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, presenceKey(userID, procID), "1", ttl).Err()
}

// ClearPresence drops one process's presence key for a user. Keys held by
// other processes are untouched.
func (c *Client) ClearPresence(ctx context.Context, userID, procID string) error {
	return c.rdb.Del(ctx, presenceKey(userID, procID)).Err()
}

// IsOnline reports cluster-wide presence: true while any process still holds
// a presence key for the user.
func (c *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, "presence:"+userID+":*", 16).Result()
		if err != nil {
			return false, err
		}
		if len(keys) > 0 {
			return true, nil
		}
		if next == 0 {
			return false, nil
		}
		cursor = next
	}
}

// Publish relays a frame to a named room channel so subscribers on other
// processes receive it too.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a pattern subscription. The returned channel closes when
// ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, pattern string) <-chan Message {
	sub := c.rdb.PSubscribe(ctx, pattern)
	out := make(chan Message, 256)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				out <- Message{Channel: m.Channel, Payload: []byte(m.Payload)}
			}
		}
	}()
	return out
}

type Message struct {
	Channel string
	Payload []byte
}

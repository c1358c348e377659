// Package durable is the source-of-truth relational tier. Settled state
// (player inventories, trades, POI snapshots, friend relations) lives here;
// working state stays in the fast tier until the flush task writes it
// through.
package durable

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB
}

func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// Transactions begin immediate: the trade-completion read-then-write
	// shape must take the write lock up front and serialize behind
	// busy_timeout, not fail mid-transaction on the lock upgrade.
	db, err := sql.Open("sqlite", path+"?_txlock=immediate")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS players (
			user_id   TEXT PRIMARY KEY,
			name      TEXT NOT NULL,
			guest     INTEGER NOT NULL DEFAULT 0,
			last_seen TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS player_items (
			user_id TEXT NOT NULL,
			item    TEXT NOT NULL,
			qty     INTEGER NOT NULL,
			PRIMARY KEY (user_id, item)
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			trade_id         TEXT PRIMARY KEY,
			seed             TEXT NOT NULL,
			seller_id        TEXT NOT NULL,
			buyer_id         TEXT NOT NULL,
			status           TEXT NOT NULL,
			seller_offer     TEXT NOT NULL DEFAULT '[]',
			buyer_offer      TEXT NOT NULL DEFAULT '[]',
			seller_confirmed INTEGER NOT NULL DEFAULT 0,
			buyer_confirmed  INTEGER NOT NULL DEFAULT 0,
			reason           TEXT NOT NULL DEFAULT '',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_party_status
			ON trades (seller_id, buyer_id, status);`,
		`CREATE TABLE IF NOT EXISTS poi_state (
			seed       TEXT NOT NULL,
			poi_id     TEXT NOT NULL,
			state      TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (seed, poi_id)
		);`,
		`CREATE TABLE IF NOT EXISTS friends (
			user_id   TEXT NOT NULL,
			friend_id TEXT NOT NULL,
			PRIMARY KEY (user_id, friend_id)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

func (d *DB) UpsertPlayer(ctx context.Context, userID, name string, guest bool) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO players (user_id, name, guest, last_seen)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(user_id) DO UPDATE SET name=excluded.name, last_seen=excluded.last_seen`,
		userID, name, boolInt(guest))
	return err
}

// Items returns a player's current holdings.
func (d *DB) Items(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT item, qty FROM player_items WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var item string
		var qty int
		if err := rows.Scan(&item, &qty); err != nil {
			return nil, err
		}
		out[item] = qty
	}
	return out, rows.Err()
}

// GrantItems adds quantities to a player's holdings.
func (d *DB) GrantItems(ctx context.Context, userID string, items map[string]int) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for item, qty := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO player_items (user_id, item, qty) VALUES (?, ?, ?)
			ON CONFLICT(user_id, item) DO UPDATE SET qty = qty + excluded.qty`,
			userID, item, qty); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AreFriends reports whether a friend relation exists in either direction.
func (d *DB) AreFriends(ctx context.Context, a, b string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM friends
		WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)`,
		a, b, b, a).Scan(&n)
	return n > 0, err
}

func (d *DB) AddFriend(ctx context.Context, userID, friendID string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO friends (user_id, friend_id) VALUES (?, ?)`,
		userID, friendID)
	return err
}

// UpsertPOIState writes a flushed POI snapshot through to the durable tier.
func (d *DB) UpsertPOIState(ctx context.Context, seed, poiID string, state []byte) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO poi_state (seed, poi_id, state, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(seed, poi_id) DO UPDATE SET state=excluded.state, updated_at=excluded.updated_at`,
		seed, poiID, state)
	return err
}

func (d *DB) POIState(ctx context.Context, seed, poiID string) ([]byte, error) {
	var state []byte
	err := d.db.QueryRowContext(ctx,
		`SELECT state FROM poi_state WHERE seed = ? AND poi_id = ?`,
		seed, poiID).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return state, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

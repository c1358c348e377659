package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"shardworld/internal/protocol"
)

// Trade statuses. Transitions are monotonic: pending -> accepted ->
// completed, with cancelled reachable from pending or accepted.
const (
	TradePending   = "pending"
	TradeAccepted  = "accepted"
	TradeCompleted = "completed"
	TradeCancelled = "cancelled"
)

var (
	ErrTradeNotFound = errors.New("durable: trade not found")
	ErrBadStatus     = errors.New("durable: status transition not allowed")
	// ErrInsufficientItems is the confirm-time verification failure: a party
	// no longer owns everything they offered. The transaction has been rolled
	// back; no items moved.
	ErrInsufficientItems = errors.New("durable: offered items no longer held")
)

type TradeRow struct {
	TradeID         string
	Seed            string
	SellerID        string
	BuyerID         string
	Status          string
	SellerOffer     []protocol.ItemPair
	BuyerOffer      []protocol.ItemPair
	SellerConfirmed bool
	BuyerConfirmed  bool
	Reason          string
}

func (t *TradeRow) Party(userID string) bool {
	return t.SellerID == userID || t.BuyerID == userID
}

func (d *DB) CreateTrade(ctx context.Context, tradeID, seed, sellerID, buyerID string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO trades (trade_id, seed, seller_id, buyer_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		tradeID, seed, sellerID, buyerID, TradePending)
	return err
}

func (d *DB) Trade(ctx context.Context, tradeID string) (*TradeRow, error) {
	return scanTrade(d.db.QueryRowContext(ctx, `
		SELECT trade_id, seed, seller_id, buyer_id, status,
		       seller_offer, buyer_offer, seller_confirmed, buyer_confirmed, reason
		FROM trades WHERE trade_id = ?`, tradeID))
}

// OpenTradesForUser lists non-terminal trades where the user is a party.
func (d *DB) OpenTradesForUser(ctx context.Context, userID string) ([]*TradeRow, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT trade_id, seed, seller_id, buyer_id, status,
		       seller_offer, buyer_offer, seller_confirmed, buyer_confirmed, reason
		FROM trades
		WHERE (seller_id = ? OR buyer_id = ?) AND status IN (?, ?)`,
		userID, userID, TradePending, TradeAccepted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*TradeRow
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AcceptTrade moves pending -> accepted. Accepting an already-accepted trade
// is an idempotent no-op.
func (d *DB) AcceptTrade(ctx context.Context, tradeID string) (*TradeRow, error) {
	_, err := d.db.ExecContext(ctx, `
		UPDATE trades SET status = ?, updated_at = datetime('now')
		WHERE trade_id = ? AND status = ?`,
		TradeAccepted, tradeID, TradePending)
	if err != nil {
		return nil, err
	}
	t, err := d.Trade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != TradeAccepted {
		return nil, fmt.Errorf("%w: accept from %s", ErrBadStatus, t.Status)
	}
	return t, nil
}

// SetTradeOffer replaces one party's offered items and resets both
// confirmation flags: a changed offer invalidates prior consent.
func (d *DB) SetTradeOffer(ctx context.Context, tradeID, userID string, items []protocol.ItemPair) (*TradeRow, error) {
	t, err := d.Trade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != TradePending && t.Status != TradeAccepted {
		return nil, fmt.Errorf("%w: offer on %s", ErrBadStatus, t.Status)
	}
	col := "seller_offer"
	if userID == t.BuyerID {
		col = "buyer_offer"
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	_, err = d.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE trades SET %s = ?, seller_confirmed = 0, buyer_confirmed = 0,
		                  updated_at = datetime('now')
		WHERE trade_id = ?`, col), raw, tradeID)
	if err != nil {
		return nil, err
	}
	return d.Trade(ctx, tradeID)
}

// SetTradeConfirm sets one party's confirmation flag on an accepted trade.
func (d *DB) SetTradeConfirm(ctx context.Context, tradeID, userID string) (*TradeRow, error) {
	t, err := d.Trade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != TradeAccepted {
		return nil, fmt.Errorf("%w: confirm on %s", ErrBadStatus, t.Status)
	}
	col := "seller_confirmed"
	if userID == t.BuyerID {
		col = "buyer_confirmed"
	}
	_, err = d.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE trades SET %s = 1, updated_at = datetime('now')
		WHERE trade_id = ?`, col), tradeID)
	if err != nil {
		return nil, err
	}
	return d.Trade(ctx, tradeID)
}

// CancelTrade moves a non-terminal trade to cancelled. Cancelling an already
// terminal trade returns ErrBadStatus.
func (d *DB) CancelTrade(ctx context.Context, tradeID, reason string) (*TradeRow, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE trades SET status = ?, reason = ?, updated_at = datetime('now')
		WHERE trade_id = ? AND status IN (?, ?)`,
		TradeCancelled, reason, tradeID, TradePending, TradeAccepted)
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		t, err := d.Trade(ctx, tradeID)
		if err != nil {
			return nil, err
		}
		return t, fmt.Errorf("%w: cancel from %s", ErrBadStatus, t.Status)
	}
	return d.Trade(ctx, tradeID)
}

// CompleteTrade runs the exchange inside one transaction: re-read both
// parties' current holdings, verify each still owns everything they offered,
// then debit/credit both sides and mark the trade completed. Any
// verification failure rolls the whole transaction back; the trade stays
// accepted and no items move.
func (d *DB) CompleteTrade(ctx context.Context, tradeID string) (*TradeRow, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, err := scanTrade(tx.QueryRowContext(ctx, `
		SELECT trade_id, seed, seller_id, buyer_id, status,
		       seller_offer, buyer_offer, seller_confirmed, buyer_confirmed, reason
		FROM trades WHERE trade_id = ?`, tradeID))
	if err != nil {
		return nil, err
	}
	if t.Status != TradeAccepted || !t.SellerConfirmed || !t.BuyerConfirmed {
		return nil, fmt.Errorf("%w: complete requires accepted + both confirms", ErrBadStatus)
	}

	// Correctness-critical: offers were stated earlier; holdings may have
	// changed since. Verify against the rows inside this transaction.
	if err := verifyAndDebit(ctx, tx, t.SellerID, t.SellerOffer); err != nil {
		return nil, err
	}
	if err := verifyAndDebit(ctx, tx, t.BuyerID, t.BuyerOffer); err != nil {
		return nil, err
	}
	if err := credit(ctx, tx, t.BuyerID, t.SellerOffer); err != nil {
		return nil, err
	}
	if err := credit(ctx, tx, t.SellerID, t.BuyerOffer); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE trades SET status = ?, updated_at = datetime('now')
		WHERE trade_id = ?`, TradeCompleted, tradeID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	t.Status = TradeCompleted
	return t, nil
}

func verifyAndDebit(ctx context.Context, tx *sql.Tx, userID string, offer []protocol.ItemPair) error {
	for _, p := range offer {
		var qty int
		err := tx.QueryRowContext(ctx,
			`SELECT qty FROM player_items WHERE user_id = ? AND item = ?`,
			userID, p.Item).Scan(&qty)
		if err == sql.ErrNoRows || (err == nil && qty < p.Qty) {
			return fmt.Errorf("%w: %s lacks %dx %s", ErrInsufficientItems, userID, p.Qty, p.Item)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE player_items SET qty = qty - ? WHERE user_id = ? AND item = ?`,
			p.Qty, userID, p.Item); err != nil {
			return err
		}
	}
	return nil
}

func credit(ctx context.Context, tx *sql.Tx, userID string, offer []protocol.ItemPair) error {
	for _, p := range offer {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO player_items (user_id, item, qty) VALUES (?, ?, ?)
			ON CONFLICT(user_id, item) DO UPDATE SET qty = qty + excluded.qty`,
			userID, p.Item, p.Qty); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(r rowScanner) (*TradeRow, error) {
	var t TradeRow
	var sellerOffer, buyerOffer []byte
	var sc, bc int
	err := r.Scan(&t.TradeID, &t.Seed, &t.SellerID, &t.BuyerID, &t.Status,
		&sellerOffer, &buyerOffer, &sc, &bc, &t.Reason)
	if err == sql.ErrNoRows {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sellerOffer, &t.SellerOffer); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(buyerOffer, &t.BuyerOffer); err != nil {
		return nil, err
	}
	t.SellerConfirmed = sc != 0
	t.BuyerConfirmed = bc != 0
	return &t, nil
}

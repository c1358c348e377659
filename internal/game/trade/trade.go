// Package trade coordinates the two-party trade state machine. Status flow is
// pending -> accepted -> completed, with cancelled reachable from pending or
// accepted. Item movement happens exactly once, inside exactly one durable
// transaction, gated by both confirmation flags.
package trade

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"shardworld/internal/audit"
	"shardworld/internal/protocol"
	"shardworld/internal/store/durable"
)

// OnlineFunc reports whether a user currently has a live connection.
type OnlineFunc func(userID string) bool

type Manager struct {
	db       *durable.DB
	online   OnlineFunc
	auditLog *audit.Logger
}

func NewManager(db *durable.DB, online OnlineFunc, auditLog *audit.Logger) *Manager {
	return &Manager{db: db, online: online, auditLog: auditLog}
}

// Result is the outcome reported back to the server layer. Code is an
// enumerated client-facing keyword ("" on success); Trade carries the row to
// render into a TRADE_UPDATE.
type Result struct {
	Trade *durable.TradeRow
	Code  string
}

func (m *Manager) audit(kind, userID, tradeID string, detail any) {
	if m.auditLog == nil {
		return
	}
	_ = m.auditLog.Write(audit.Entry{
		At: time.Now(), Kind: kind, UserID: userID, TradeID: tradeID, Detail: detail,
	})
}

// Request opens a trade from seller to buyer. A counterparty with no live
// connection fails immediately: the caller gets a synthetic cancelled update
// and nothing persists.
func (m *Manager) Request(ctx context.Context, seed, sellerID, buyerID string) (Result, error) {
	if buyerID == "" || buyerID == sellerID {
		return Result{Code: protocol.ErrBadRequest}, nil
	}
	if !m.online(buyerID) {
		return Result{
			Trade: &durable.TradeRow{
				SellerID: sellerID,
				BuyerID:  buyerID,
				Status:   durable.TradeCancelled,
				Reason:   "target_offline",
			},
			Code: protocol.ErrTargetOffline,
		}, nil
	}
	tradeID := uuid.NewString()
	if err := m.db.CreateTrade(ctx, tradeID, seed, sellerID, buyerID); err != nil {
		return Result{Code: protocol.ErrUnavailable}, err
	}
	t, err := m.db.Trade(ctx, tradeID)
	if err != nil {
		return Result{Code: protocol.ErrUnavailable}, err
	}
	m.audit("trade_request", sellerID, tradeID, map[string]string{"buyer": buyerID})
	return Result{Trade: t}, nil
}

// Accept is counterparty-only and idempotent once accepted.
func (m *Manager) Accept(ctx context.Context, tradeID, userID string) (Result, error) {
	t, err := m.db.Trade(ctx, tradeID)
	if err != nil {
		return notFoundResult(err)
	}
	if t.BuyerID != userID {
		return Result{Code: protocol.ErrInvalidTarget}, nil
	}
	if t.Status == durable.TradeAccepted {
		return Result{Trade: t}, nil
	}
	t, err = m.db.AcceptTrade(ctx, tradeID)
	if err != nil {
		if errors.Is(err, durable.ErrBadStatus) {
			return Result{Code: protocol.ErrConflict}, nil
		}
		return Result{Code: protocol.ErrUnavailable}, err
	}
	return Result{Trade: t}, nil
}

// Offer replaces the caller's own offered items. Allowed from either party
// any time before completion; does not change status.
func (m *Manager) Offer(ctx context.Context, tradeID, userID string, items []protocol.ItemPair) (Result, error) {
	t, err := m.db.Trade(ctx, tradeID)
	if err != nil {
		return notFoundResult(err)
	}
	if !t.Party(userID) {
		return Result{Code: protocol.ErrInvalidTarget}, nil
	}
	t, err = m.db.SetTradeOffer(ctx, tradeID, userID, items)
	if err != nil {
		if errors.Is(err, durable.ErrBadStatus) {
			return Result{Code: protocol.ErrConflict}, nil
		}
		return Result{Code: protocol.ErrUnavailable}, err
	}
	m.audit("trade_offer", userID, tradeID, items)
	return Result{Trade: t}, nil
}

// Confirm sets the caller's confirmation flag. Once both flags are set the
// exchange runs inside one durable transaction; a holdings verification
// failure leaves the trade accepted with zero item movement and surfaces
// E_INSUFFICIENT_ITEMS.
func (m *Manager) Confirm(ctx context.Context, tradeID, userID string) (Result, error) {
	t, err := m.db.Trade(ctx, tradeID)
	if err != nil {
		return notFoundResult(err)
	}
	if !t.Party(userID) {
		return Result{Code: protocol.ErrInvalidTarget}, nil
	}
	t, err = m.db.SetTradeConfirm(ctx, tradeID, userID)
	if err != nil {
		if errors.Is(err, durable.ErrBadStatus) {
			return Result{Code: protocol.ErrConflict}, nil
		}
		return Result{Code: protocol.ErrUnavailable}, err
	}
	if !t.SellerConfirmed || !t.BuyerConfirmed {
		return Result{Trade: t}, nil
	}
	done, err := m.db.CompleteTrade(ctx, tradeID)
	if err != nil {
		if errors.Is(err, durable.ErrInsufficientItems) {
			// Rolled back: status stays accepted, both parties renegotiate.
			t, rerr := m.db.Trade(ctx, tradeID)
			if rerr != nil {
				return Result{Code: protocol.ErrUnavailable}, rerr
			}
			return Result{Trade: t, Code: protocol.ErrInsufficientItems}, nil
		}
		if errors.Is(err, durable.ErrBadStatus) {
			return Result{Code: protocol.ErrConflict}, nil
		}
		return Result{Code: protocol.ErrUnavailable}, err
	}
	m.audit("trade_completed", userID, tradeID, nil)
	return Result{Trade: done}, nil
}

// Cancel moves a non-terminal trade to cancelled. Either party; no item
// movement.
func (m *Manager) Cancel(ctx context.Context, tradeID, userID, reason string) (Result, error) {
	t, err := m.db.Trade(ctx, tradeID)
	if err != nil {
		return notFoundResult(err)
	}
	if !t.Party(userID) {
		return Result{Code: protocol.ErrInvalidTarget}, nil
	}
	t, err = m.db.CancelTrade(ctx, tradeID, reason)
	if err != nil {
		if errors.Is(err, durable.ErrBadStatus) {
			return Result{Trade: t, Code: protocol.ErrConflict}, nil
		}
		return Result{Code: protocol.ErrUnavailable}, err
	}
	m.audit("trade_cancelled", userID, tradeID, map[string]string{"reason": reason})
	return Result{Trade: t}, nil
}

// ForceCancelAll cancels every non-terminal trade involving a user. Called
// when the user's last connection drops, so no escrow stays stuck.
func (m *Manager) ForceCancelAll(ctx context.Context, userID string) ([]*durable.TradeRow, error) {
	open, err := m.db.OpenTradesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var cancelled []*durable.TradeRow
	for _, t := range open {
		row, err := m.db.CancelTrade(ctx, t.TradeID, "party_disconnected")
		if err != nil {
			// Raced with a concurrent terminal transition; skip this one.
			continue
		}
		m.audit("trade_cancelled", userID, t.TradeID, map[string]string{"reason": "party_disconnected"})
		cancelled = append(cancelled, row)
	}
	return cancelled, nil
}

func notFoundResult(err error) (Result, error) {
	if errors.Is(err, durable.ErrTradeNotFound) {
		return Result{Code: protocol.ErrInvalidTarget}, nil
	}
	return Result{Code: protocol.ErrUnavailable}, err
}

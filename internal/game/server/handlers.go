package server

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"shardworld/internal/config"
	"shardworld/internal/game/chunkmap"
	"shardworld/internal/game/movement"
	"shardworld/internal/game/session"
	"shardworld/internal/game/trade"
	"shardworld/internal/protocol"
	"shardworld/internal/store/durable"
)

type handlerFunc func(ctx context.Context, sess *session.Session, raw []byte)

func (s *Server) dispatchTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.TypeMove:          s.handleMove,
		protocol.TypeChat:          s.handleChat,
		protocol.TypeInteractPOI:   s.handleInteractPOI,
		protocol.TypeEnterPOI:      s.handleEnterPOI,
		protocol.TypeTradeRequest:  s.handleTradeRequest,
		protocol.TypeTradeAccept:   s.handleTradeAccept,
		protocol.TypeTradeOffer:    s.handleTradeOffer,
		protocol.TypeTradeConfirm:  s.handleTradeConfirm,
		protocol.TypeTradeCancel:   s.handleTradeCancel,
		protocol.TypeDirectMessage: s.handleDirectMessage,
	}
}

// Dispatch routes one inbound frame. Handler failures are contained here and
// turned into an error event to the originating connection only.
func (s *Server) Dispatch(ctx context.Context, sess *session.Session, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Printf("dispatch %s: recovered: %v", sess.ConnID, r)
			s.sendError(sess, protocol.ErrInternal, "", "")
		}
	}()
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		s.sendError(sess, protocol.ErrBadRequest, "malformed message", "")
		return
	}
	h := s.handlers[base.Type]
	if h == nil {
		s.sendError(sess, protocol.ErrBadRequest, "unknown message type", base.Type)
		return
	}
	h(ctx, sess, raw)
}

func (s *Server) sendError(sess *session.Session, code, message, ref string) {
	sess.TrySend(mustMarshal(protocol.ErrorMsg{
		Type:    protocol.TypeError,
		Code:    code,
		Message: message,
		Ref:     ref,
	}))
}

// allow gates a mutating event on its named windowed limiter. A store
// failure fails closed: the event is rejected.
func (s *Server) allow(ctx context.Context, sess *session.Session, action string, limit config.Limit) bool {
	ok, err := s.limiter.Allow(ctx, sess.Identity.UserID, action, limit.Max, limit.Window())
	if err != nil {
		s.log.Printf("rate limit %s/%s: %v", sess.Identity.UserID, action, err)
		s.sendError(sess, protocol.ErrUnavailable, "", action)
		return false
	}
	if !ok {
		s.sendError(sess, protocol.ErrRateLimit, "", action)
		return false
	}
	return true
}

// handleMove validates and applies a position update. Pure position updates
// skip the windowed limiter: they are throttled to one accepted update per
// tick interval instead.
func (s *Server) handleMove(ctx context.Context, sess *session.Session, raw []byte) {
	var msg protocol.MoveMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(sess, protocol.ErrBadRequest, "malformed move", "")
		return
	}
	now := s.now()
	last := sess.LastMove()
	if now.Sub(last) < s.cfg.TickInterval() {
		return
	}
	man, err := s.worlds.Manifest(sess.Seed)
	if err != nil {
		s.log.Printf("move %s: manifest: %v", sess.ConnID, err)
		return
	}
	prev := sess.Pos()
	corrected := movement.Validate(prev, last, msg.Pos, now, movement.Params{
		MaxSpeed:   s.cfg.MaxSpeed,
		MinElapsed: time.Duration(s.cfg.MinMoveElapsed) * time.Millisecond,
	}, man.Terrain.Walkable)

	oldChunk := sess.Chunk()
	newChunk := chunkmap.ID(corrected.X, corrected.Y, s.cfg.ChunkSize)
	if newChunk != oldChunk {
		moved := s.router.Move(
			chunkChannel(sess.Seed, oldChunk),
			chunkChannel(sess.Seed, newChunk),
			sess.ConnID,
		)
		if !moved {
			// Destination at capacity: room membership and position both
			// stay put, so they never drift apart.
			sess.TrySend(mustMarshal(protocol.ChunkFullMsg{
				Type:  protocol.TypeChunkFull,
				Chunk: newChunk,
				Pos:   prev,
			}))
			return
		}
	}
	sess.SetPos(corrected, newChunk, now)
}

func (s *Server) handleChat(ctx context.Context, sess *session.Session, raw []byte) {
	var msg protocol.ChatMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(sess, protocol.ErrBadRequest, "malformed chat", "")
		return
	}
	if !s.allow(ctx, sess, "chat", s.cfg.RateLimits.Chat) {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		s.sendError(sess, protocol.ErrBadRequest, "empty message", "")
		return
	}
	channel, ok := normalizeChatChannel(msg.Channel)
	if !ok {
		s.sendError(sess, protocol.ErrBadRequest, "unknown channel", msg.Channel)
		return
	}
	out := mustMarshal(protocol.ChatMessageMsg{
		Type:    protocol.TypeChatMessage,
		Channel: channel,
		From:    sess.Identity.UserID,
		Name:    sess.Identity.Name,
		Text:    text,
	})
	switch channel {
	case "local":
		s.sendToChannel(ctx, chunkChannel(sess.Seed, sess.Chunk()), out)
	case "global":
		s.sendToChannel(ctx, globalChannel(sess.Seed), out)
	}
}

func normalizeChatChannel(raw string) (string, bool) {
	ch := strings.ToLower(strings.TrimSpace(raw))
	if ch == "" {
		ch = "local"
	}
	switch ch {
	case "local", "global":
		return ch, true
	}
	return "", false
}

func (s *Server) handleInteractPOI(ctx context.Context, sess *session.Session, raw []byte) {
	var msg protocol.InteractPOIMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(sess, protocol.ErrBadRequest, "malformed interact", "")
		return
	}
	if !s.allow(ctx, sess, "interact_poi", s.cfg.RateLimits.InteractPOI) {
		return
	}
	st, code, err := s.pois.Interact(ctx, sess.Seed, sess.Identity.UserID, msg.POIID, msg.Action, msg.TemplateHash)
	if err != nil {
		s.log.Printf("interact %s/%s: %v", sess.ConnID, msg.POIID, err)
	}
	reply := protocol.POIResultMsg{
		Type:   protocol.TypePOIResult,
		POIID:  msg.POIID,
		Action: msg.Action,
		OK:     code == "",
		Code:   code,
	}
	if st != nil {
		reply.State = st.AsMap()
	}
	sess.TrySend(mustMarshal(reply))
}

func (s *Server) handleEnterPOI(ctx context.Context, sess *session.Session, raw []byte) {
	var msg protocol.EnterPOIMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(sess, protocol.ErrBadRequest, "malformed enter", "")
		return
	}
	if !s.allow(ctx, sess, "enter_poi", s.cfg.RateLimits.EnterPOI) {
		return
	}
	code, err := s.pois.CheckEntry(sess.Seed, msg.POIID, sess.Pos())
	if err != nil {
		s.log.Printf("enter %s/%s: %v", sess.ConnID, msg.POIID, err)
	}
	if code != "" {
		sess.TrySend(mustMarshal(protocol.POIResultMsg{
			Type: protocol.TypePOIResult, POIID: msg.POIID, OK: false, Code: code,
		}))
		return
	}
	// Entry persists discovery; a durable/lock failure here is visible and
	// retryable.
	st, code, err := s.pois.Interact(ctx, sess.Seed, sess.Identity.UserID, msg.POIID, "discover", "")
	if err != nil {
		s.log.Printf("enter %s/%s: discover: %v", sess.ConnID, msg.POIID, err)
	}
	if code != "" {
		sess.TrySend(mustMarshal(protocol.POIResultMsg{
			Type: protocol.TypePOIResult, POIID: msg.POIID, OK: false, Code: code,
		}))
		return
	}
	s.joinPOIRoom(sess, msg.POIID)
	reply := protocol.POIResultMsg{
		Type: protocol.TypePOIResult, POIID: msg.POIID, OK: true,
	}
	if st != nil {
		reply.State = st.AsMap()
	}
	sess.TrySend(mustMarshal(reply))
}

func tradeUpdate(t *durable.TradeRow) protocol.TradeUpdateMsg {
	return protocol.TradeUpdateMsg{
		Type:    protocol.TypeTradeUpdate,
		TradeID: t.TradeID,
		Status:  t.Status,
		Reason:  t.Reason,
		Seller:  t.SellerID,
		Buyer:   t.BuyerID,
		Offers: protocol.TradeSides{
			Seller: t.SellerOffer,
			Buyer:  t.BuyerOffer,
		},
		Confirms: protocol.TradeFlags{
			Seller: t.SellerConfirmed,
			Buyer:  t.BuyerConfirmed,
		},
	}
}

// notifyTradeParties sends the trade update to both parties across
// processes.
func (s *Server) notifyTradeParties(ctx context.Context, t *durable.TradeRow) {
	update := tradeUpdate(t)
	s.notifyUser(ctx, t.SellerID, update)
	if t.BuyerID != t.SellerID {
		s.notifyUser(ctx, t.BuyerID, update)
	}
}

func (s *Server) handleTradeRequest(ctx context.Context, sess *session.Session, raw []byte) {
	var msg protocol.TradeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(sess, protocol.ErrBadRequest, "malformed trade request", "")
		return
	}
	if !s.allow(ctx, sess, "trade_request", s.cfg.RateLimits.Trade) {
		return
	}
	res, err := s.trades.Request(ctx, sess.Seed, sess.Identity.UserID, msg.To)
	if err != nil {
		s.log.Printf("trade request %s: %v", sess.ConnID, err)
	}
	switch {
	case res.Code == protocol.ErrTargetOffline:
		// Offline counterparty: only the initiator hears about it, and
		// nothing was persisted.
		sess.TrySend(mustMarshal(tradeUpdate(res.Trade)))
	case res.Code != "":
		s.sendError(sess, res.Code, "", msg.To)
	default:
		s.notifyTradeParties(ctx, res.Trade)
	}
}

func (s *Server) handleTradeAccept(ctx context.Context, sess *session.Session, raw []byte) {
	s.handleTradeAction(ctx, sess, raw, "trade_accept", s.trades.Accept)
}

func (s *Server) handleTradeConfirm(ctx context.Context, sess *session.Session, raw []byte) {
	var msg protocol.TradeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(sess, protocol.ErrBadRequest, "malformed trade confirm", "")
		return
	}
	if !s.allow(ctx, sess, "trade_confirm", s.cfg.RateLimits.Trade) {
		return
	}
	res, err := s.trades.Confirm(ctx, msg.TradeID, sess.Identity.UserID)
	if err != nil {
		s.log.Printf("trade confirm %s: %v", sess.ConnID, err)
	}
	if res.Trade != nil && res.Code == protocol.ErrInsufficientItems {
		// Verification failed at completion: nothing moved, status stays
		// accepted, both parties hear about it.
		update := tradeUpdate(res.Trade)
		update.Reason = "insufficient_items"
		s.notifyUser(ctx, res.Trade.SellerID, update)
		s.notifyUser(ctx, res.Trade.BuyerID, update)
		return
	}
	if res.Code != "" {
		s.sendError(sess, res.Code, "", msg.TradeID)
		return
	}
	s.notifyTradeParties(ctx, res.Trade)
}

func (s *Server) handleTradeCancel(ctx context.Context, sess *session.Session, raw []byte) {
	var msg protocol.TradeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(sess, protocol.ErrBadRequest, "malformed trade cancel", "")
		return
	}
	if !s.allow(ctx, sess, "trade_cancel", s.cfg.RateLimits.Trade) {
		return
	}
	res, err := s.trades.Cancel(ctx, msg.TradeID, sess.Identity.UserID, "cancelled_by_party")
	if err != nil {
		s.log.Printf("trade cancel %s: %v", sess.ConnID, err)
	}
	if res.Code != "" {
		s.sendError(sess, res.Code, "", msg.TradeID)
		return
	}
	s.notifyTradeParties(ctx, res.Trade)
}

func (s *Server) handleTradeOffer(ctx context.Context, sess *session.Session, raw []byte) {
	var msg protocol.TradeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(sess, protocol.ErrBadRequest, "malformed trade offer", "")
		return
	}
	if !s.allow(ctx, sess, "trade_offer", s.cfg.RateLimits.Trade) {
		return
	}
	for _, p := range msg.Items {
		if p.Item == "" || p.Qty <= 0 {
			s.sendError(sess, protocol.ErrBadRequest, "bad item pair", msg.TradeID)
			return
		}
	}
	res, err := s.trades.Offer(ctx, msg.TradeID, sess.Identity.UserID, msg.Items)
	if err != nil {
		s.log.Printf("trade offer %s: %v", sess.ConnID, err)
	}
	if res.Code != "" {
		s.sendError(sess, res.Code, "", msg.TradeID)
		return
	}
	s.notifyTradeParties(ctx, res.Trade)
}

func (s *Server) handleTradeAction(ctx context.Context, sess *session.Session, raw []byte, action string, fn func(context.Context, string, string) (trade.Result, error)) {
	var msg protocol.TradeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(sess, protocol.ErrBadRequest, "malformed "+action, "")
		return
	}
	if !s.allow(ctx, sess, action, s.cfg.RateLimits.Trade) {
		return
	}
	res, err := fn(ctx, msg.TradeID, sess.Identity.UserID)
	if err != nil {
		s.log.Printf("%s %s: %v", action, sess.ConnID, err)
	}
	if res.Code != "" {
		s.sendError(sess, res.Code, "", msg.TradeID)
		return
	}
	s.notifyTradeParties(ctx, res.Trade)
}

func (s *Server) handleDirectMessage(ctx context.Context, sess *session.Session, raw []byte) {
	var msg protocol.DirectMessageMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(sess, protocol.ErrBadRequest, "malformed direct message", "")
		return
	}
	if !s.allow(ctx, sess, "direct_message", s.cfg.RateLimits.DirectMessage) {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" || msg.To == "" {
		s.sendError(sess, protocol.ErrBadRequest, "empty message or recipient", "")
		return
	}
	friends, err := s.db.AreFriends(ctx, sess.Identity.UserID, msg.To)
	if err != nil {
		s.log.Printf("dm %s: friends: %v", sess.ConnID, err)
		s.sendError(sess, protocol.ErrUnavailable, "", msg.To)
		return
	}
	if !friends {
		s.sendError(sess, protocol.ErrNotFriends, "", msg.To)
		return
	}
	if !s.online(msg.To) {
		s.sendError(sess, protocol.ErrTargetOffline, "", msg.To)
		return
	}
	s.notifyUser(ctx, msg.To, protocol.DirectMessageMsg{
		Type: protocol.TypeDirectMessage,
		From: sess.Identity.UserID,
		Name: sess.Identity.Name,
		Text: text,
	})
}

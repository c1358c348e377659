package protocol

import "encoding/json"

const Version = "1.2"

// Client -> server message types.
const (
	TypeMove          = "MOVE"
	TypeChat          = "CHAT"
	TypeInteractPOI   = "INTERACT_POI"
	TypeEnterPOI      = "ENTER_POI"
	TypeTradeRequest  = "TRADE_REQUEST"
	TypeTradeAccept   = "TRADE_ACCEPT"
	TypeTradeOffer    = "TRADE_OFFER"
	TypeTradeConfirm  = "TRADE_CONFIRM"
	TypeTradeCancel   = "TRADE_CANCEL"
	TypeDirectMessage = "DIRECT_MESSAGE"
)

// Server -> client message types.
const (
	TypeWelcome       = "WELCOME"
	TypePlayersMoved  = "PLAYERS_MOVED"
	TypeChatMessage   = "CHAT_MESSAGE"
	TypePOIResult     = "POI_RESULT"
	TypeTradeUpdate   = "TRADE_UPDATE"
	TypeEntityUpdates = "ENTITY_UPDATES"
	TypeChunkFull     = "CHUNK_FULL"
	TypeError         = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

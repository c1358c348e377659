package protocol

// Position is a point in continuous world-space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MOVE (client -> server). No client timestamp is trusted; elapsed time is
// measured on the server.
type MoveMsg struct {
	Type string   `json:"type"`
	Pos  Position `json:"pos"`
}

// CHAT (client -> server)
type ChatMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// INTERACT_POI (client -> server)
type InteractPOIMsg struct {
	Type         string `json:"type"`
	POIID        string `json:"poi_id"`
	Action       string `json:"action"`
	TemplateHash string `json:"template_hash,omitempty"`
}

// ENTER_POI (client -> server)
type EnterPOIMsg struct {
	Type  string `json:"type"`
	POIID string `json:"poi_id"`
}

// TRADE_REQUEST / TRADE_ACCEPT / TRADE_CANCEL / TRADE_CONFIRM / TRADE_OFFER
// (client -> server)
type TradeMsg struct {
	Type    string     `json:"type"`
	TradeID string     `json:"trade_id,omitempty"`
	To      string     `json:"to,omitempty"`
	Items   []ItemPair `json:"items,omitempty"`
}

type ItemPair struct {
	Item string `json:"item"`
	Qty  int    `json:"qty"`
}

// DIRECT_MESSAGE (client -> server and server -> client)
type DirectMessageMsg struct {
	Type string `json:"type"`
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
	Name string `json:"name,omitempty"`
	Text string `json:"text"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	UserID          string      `json:"user_id"`
	Name            string      `json:"name"`
	Guest           bool        `json:"guest"`
	Spawn           Position    `json:"spawn"`
	World           WorldParams `json:"world"`
}

type WorldParams struct {
	Seed       string  `json:"seed"`
	TickRateHz int     `json:"tick_rate_hz"`
	ChunkSize  float64 `json:"chunk_size"`
	MaxSpeed   float64 `json:"max_speed"`
}

// PLAYERS_MOVED (server -> client): one batched delta per chunk per tick.
type PlayersMovedMsg struct {
	Type    string        `json:"type"`
	Chunk   string        `json:"chunk"`
	Players []PlayerDelta `json:"players"`
}

type PlayerDelta struct {
	UserID string   `json:"user_id"`
	Name   string   `json:"name"`
	Pos    Position `json:"pos"`
}

// CHAT_MESSAGE (server -> client)
type ChatMessageMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	From    string `json:"from"`
	Name    string `json:"name"`
	Text    string `json:"text"`
}

// POI_RESULT (server -> client): outcome of INTERACT_POI / ENTER_POI.
type POIResultMsg struct {
	Type   string         `json:"type"`
	POIID  string         `json:"poi_id"`
	Action string         `json:"action,omitempty"`
	OK     bool           `json:"ok"`
	Code   string         `json:"code,omitempty"`
	State  map[string]any `json:"state,omitempty"`
}

// TRADE_UPDATE (server -> client)
type TradeUpdateMsg struct {
	Type     string     `json:"type"`
	TradeID  string     `json:"trade_id"`
	Status   string     `json:"status"`
	Reason   string     `json:"reason,omitempty"`
	Seller   string     `json:"seller,omitempty"`
	Buyer    string     `json:"buyer,omitempty"`
	Offers   TradeSides `json:"offers,omitempty"`
	Confirms TradeFlags `json:"confirms,omitempty"`
}

type TradeSides struct {
	Seller []ItemPair `json:"seller,omitempty"`
	Buyer  []ItemPair `json:"buyer,omitempty"`
}

type TradeFlags struct {
	Seller bool `json:"seller"`
	Buyer  bool `json:"buyer"`
}

// ENTITY_UPDATES (server -> client): NPC deltas fanned out per POI
// interest-group.
type EntityUpdatesMsg struct {
	Type     string        `json:"type"`
	POIID    string        `json:"poi_id"`
	Entities []EntityDelta `json:"entities"`
}

type EntityDelta struct {
	EntityID string   `json:"entity_id"`
	Pos      Position `json:"pos"`
	Facing   float64  `json:"facing,omitempty"`
}

// CHUNK_FULL (server -> client): chunk transition denied; position reverted.
type ChunkFullMsg struct {
	Type  string   `json:"type"`
	Chunk string   `json:"chunk"`
	Pos   Position `json:"pos"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

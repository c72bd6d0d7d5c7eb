package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	PlayerName      string            `json:"player_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	// Zstd asks for TEMPLATE messages as zstd-compressed binary frames.
	Zstd bool `json:"zstd,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	ServerID        string         `json:"server_id"`
	Limits          Limits         `json:"limits"`
	Shapes          []string       `json:"shapes"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type Limits struct {
	TickRateHz        int `json:"tick_rate_hz"`
	BlocksPerTick     int `json:"blocks_per_tick"`
	MaxCachedChanges  int `json:"max_cached_changes"`
	MaxShapeDimension int `json:"max_shape_dimension"`
	MaxShapeBlocks    int `json:"max_shape_blocks"`
}

type CatalogDigests struct {
	BlockPalette DigestRef `json:"block_palette"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// SHAPE (client -> server): rasterize a shape into the session template.
type ShapeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Shape           string `json:"shape"`
	Width           int    `json:"width"`
	Length          int    `json:"length"`
	Height          int    `json:"height"`
	Frequency       int    `json:"frequency,omitempty"`
	Block           string `json:"block,omitempty"`
	Hollow          bool   `json:"hollow,omitempty"`
}

// TEMPLATE (server -> client)
type TemplateMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ReqID           string   `json:"req_id"`
	Shape           string   `json:"shape"`
	Size            [3]int   `json:"size"`
	Min             [3]int   `json:"min"`
	Max             [3]int   `json:"max"`
	Palette         []string `json:"palette"`
	// Blocks are [x, y, z, palette index].
	Blocks [][4]int `json:"blocks"`
}

// PLACE (client -> server): place the session template at Anchor.
type PlaceMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Anchor          [3]int `json:"anchor"`
}

type FillMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Min             [3]int `json:"min"`
	Max             [3]int `json:"max"`
	Block           string `json:"block"`
}

type ReplaceMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Min             [3]int `json:"min"`
	Max             [3]int `json:"max"`
	From            string `json:"from"`
	To              string `json:"to"`
}

type RemoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Min             [3]int `json:"min"`
	Max             [3]int `json:"max"`
	Block           string `json:"block"`
}

type UndoMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
	QueueDepth      int    `json:"queue_depth,omitempty"`
}

package observerproto

// Version is the observer protocol version (separate from the player WS protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: only stream edits made by this player.
	Actor string `json:"actor,omitempty"`
	// Optional: include captured positions with every edit.
	Blocks bool `json:"blocks,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	ServerID        string   `json:"server_id"`
	Tick            uint64   `json:"tick"`
	TickRateHz      int      `json:"tick_rate_hz"`
	QueueDepth      int      `json:"queue_depth"`
	HistorySize     int      `json:"history_size"`
	Sessions        int64    `json:"sessions"`
	BlockPalette    []string `json:"block_palette"`
}

// Server -> Client. Sent once per completed edit.
type ChangeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Actor           string `json:"actor"`
	Kind            string `json:"kind"`
	Undo            bool   `json:"undo"`
	Written         int    `json:"written"`
	Captured        int    `json:"captured"`
	Archived        bool   `json:"archived"`
	Evicted         int    `json:"evicted,omitempty"`

	// Blocks are [x, y, z] of every captured position, newest capture last.
	Blocks [][3]int `json:"blocks,omitempty"`
}

package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello    = "HELLO"
	TypeWelcome  = "WELCOME"
	TypeShape    = "SHAPE"
	TypeTemplate = "TEMPLATE"
	TypePlace    = "PLACE"
	TypeFill     = "FILL"
	TypeReplace  = "REPLACE"
	TypeRemove   = "REMOVE"
	TypeUndo     = "UNDO"
	TypeAck      = "ACK"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Request layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrUnknownBlock  = "E_UNKNOWN_BLOCK"
	ErrTooLarge      = "E_TOO_LARGE"
	ErrNoTemplate    = "E_NO_TEMPLATE"
	ErrNothingToUndo = "E_NOTHING_TO_UNDO"
	ErrSessionClosed = "E_SESSION_CLOSED"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrUnknownBlock:    {},
	ErrTooLarge:        {},
	ErrNoTemplate:      {},
	ErrNothingToUndo:   {},
	ErrSessionClosed:   {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

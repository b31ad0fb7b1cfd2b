package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Ingress.
	ErrBackpressure = "E_BACKPRESSURE"
	ErrRateLimit    = "E_RATE_LIMIT"

	// Routing.
	ErrNotFound = "E_NOT_FOUND"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBackpressure:    {},
	ErrRateLimit:       {},
	ErrNotFound:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is a protocol failure that can be reported to a client as-is.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func badRequest(msg string) *Error {
	return &Error{Code: ErrProtoBadRequest, Message: msg}
}

package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Chunk layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrRateLimit  = "E_RATE_LIMIT"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadRequest:      {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

package protocol

// Error codes surfaced to clients as enumerated keywords. Raw Go errors never
// cross the wire.
const (
	// Input validation.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrNotFriends    = "E_NOT_FRIENDS"

	// POI entry/interaction.
	ErrTooFar        = "E_TOO_FAR"
	ErrWrongApproach = "E_WRONG_APPROACH"
	ErrStaleTemplate = "E_STALE_TEMPLATE"
	ErrChunkFull     = "E_CHUNK_FULL"

	// Contention: guaranteed zero side effects; safe to retry.
	ErrLocked            = "E_LOCKED"
	ErrTargetOffline     = "E_TARGET_OFFLINE"
	ErrInsufficientItems = "E_INSUFFICIENT_ITEMS"
	ErrConflict          = "E_CONFLICT"

	// Infrastructure: durable-tier-dependent action failed closed.
	ErrUnavailable = "E_UNAVAILABLE"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:        {},
	ErrRateLimit:         {},
	ErrInvalidTarget:     {},
	ErrNotFriends:        {},
	ErrTooFar:            {},
	ErrWrongApproach:     {},
	ErrStaleTemplate:     {},
	ErrChunkFull:         {},
	ErrLocked:            {},
	ErrTargetOffline:     {},
	ErrInsufficientItems: {},
	ErrConflict:          {},
	ErrUnavailable:       {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

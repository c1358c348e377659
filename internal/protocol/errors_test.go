package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	for _, code := range []string{
		ErrBadRequest, ErrRateLimit, ErrLocked, ErrTargetOffline,
		ErrTooFar, ErrWrongApproach, ErrStaleTemplate, ErrChunkFull,
		ErrInsufficientItems, ErrConflict, ErrNotFriends, ErrUnavailable,
		ErrInvalidTarget, ErrInternal, "",
	} {
		if !IsKnownCode(code) {
			t.Fatalf("%q should be known", code)
		}
	}
	if IsKnownCode("E_MADE_UP") {
		t.Fatalf("unknown code accepted")
	}
}

// Package video implements the frame-admission and decoder-discipline state
// machine that decides which H.264 payloads reach the decoder, which are
// dropped, and when the decoder is torn down and recreated.
package video

// State is the decoder discipline state.
type State int32

const (
	// StateAwaitingIDR is the initial and post-reset state. Only a payload
	// carrying an IDR slice can leave it.
	StateAwaitingIDR State = iota
	// StateStreaming admits payloads subject to staleness rejection.
	StateStreaming
	// StateStalled is entered when fed payloads produce no output within the
	// stall timeout. A keyframe request has been emitted.
	StateStalled
	// StatePoisoned is entered when an IDR failed to resynchronize a stalled
	// decoder. It always proceeds to StateResetting.
	StatePoisoned
	// StateResetting is transient while the decoder is recreated.
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateAwaitingIDR:
		return "awaiting_idr"
	case StateStreaming:
		return "streaming"
	case StateStalled:
		return "stalled"
	case StatePoisoned:
		return "poisoned"
	case StateResetting:
		return "resetting"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StateObserver is notified of every state transition. It is called outside
// the engine lock and must not block.
type StateObserver func(from, to State)

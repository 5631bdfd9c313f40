package video

import (
	"context"
	"time"
)

// Frame is one access-unit bundle handed to the decoder.
type Frame struct {
	// Data is Annex-B H.264 with start codes.
	Data []byte

	Width  uint32
	Height uint32

	// IDR reports whether Data carries an IDR slice.
	IDR bool

	// ReceivedAt is the local wall-clock receipt time of the newest payload
	// in the bundle.
	ReceivedAt time.Time

	// Seq numbers frames in admission order.
	Seq uint64
}

// Age returns the wall-clock time since receipt.
func (f *Frame) Age(now time.Time) time.Duration {
	return now.Sub(f.ReceivedAt)
}

// Decoder is the external decoder handle. Decode and Reset are only called
// from the engine's Run goroutine.
type Decoder interface {
	// Decode submits one frame. An error forces a reset.
	Decode(ctx context.Context, f *Frame) error
	// Reset tears the decoder down and recreates it.
	Reset(ctx context.Context) error
	// Release frees the decoder for good.
	Release() error
}

// OutputSource is implemented by decoders that announce rendered output
// through a callback. The engine registers its ReportOutput with them.
type OutputSource interface {
	SetOutputHandler(h func())
}

// Command is an intent emitted to the protocol command layer.
type Command int

const (
	// CommandRequestKeyframe asks the phone for a new IDR.
	CommandRequestKeyframe Command = iota + 1
	// CommandResetDecoder announces that the decoder is being recreated.
	CommandResetDecoder
)

func (c Command) String() string {
	switch c {
	case CommandRequestKeyframe:
		return "request_keyframe"
	case CommandResetDecoder:
		return "reset_decoder"
	default:
		return "unknown"
	}
}

// CommandSink receives command intents. Implementations must not block.
type CommandSink interface {
	SendCommand(c Command)
}

// CommandSinkFunc adapts a function to CommandSink.
type CommandSinkFunc func(c Command)

// SendCommand calls f(c).
func (f CommandSinkFunc) SendCommand(c Command) { f(c) }

type discardSink struct{}

func (discardSink) SendCommand(Command) {}

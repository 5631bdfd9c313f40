package video

import (
	"context"
	"sync"
	"sync/atomic"
)

// NullDecoder accepts every frame and reports output immediately. It stands
// in for the hardware decoder during headless replay.
type NullDecoder struct {
	mu       sync.Mutex
	onOutput func()

	frames atomic.Uint64
	bytes  atomic.Uint64
	resets atomic.Uint64
}

// NewNullDecoder creates a NullDecoder.
func NewNullDecoder() *NullDecoder {
	return &NullDecoder{}
}

// SetOutputHandler implements OutputSource.
func (d *NullDecoder) SetOutputHandler(h func()) {
	d.mu.Lock()
	d.onOutput = h
	d.mu.Unlock()
}

// Decode implements Decoder.
func (d *NullDecoder) Decode(_ context.Context, f *Frame) error {
	d.frames.Add(1)
	d.bytes.Add(uint64(len(f.Data)))

	d.mu.Lock()
	h := d.onOutput
	d.mu.Unlock()
	if h != nil {
		h()
	}
	return nil
}

// Reset implements Decoder.
func (d *NullDecoder) Reset(context.Context) error {
	d.resets.Add(1)
	return nil
}

// Release implements Decoder.
func (d *NullDecoder) Release() error { return nil }

// Frames returns the number of frames decoded.
func (d *NullDecoder) Frames() uint64 { return d.frames.Load() }

// Bytes returns the number of bytes decoded.
func (d *NullDecoder) Bytes() uint64 { return d.bytes.Load() }

// Resets returns the number of resets performed.
func (d *NullDecoder) Resets() uint64 { return d.resets.Load() }

// Package audio buffers PCM payloads per logical channel so a playback sink
// can drain them continuously, never blocking the producer and never
// stalling the consumer.
package audio

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// FillMode selects what a read returns for bytes the producer has not
// delivered yet.
type FillMode int

const (
	// FillSilence pads underruns with zero samples.
	FillSilence FillMode = iota
	// FillRepeat pads underruns by repeating the last delivered frame.
	FillRepeat
)

func (m FillMode) String() string {
	switch m {
	case FillRepeat:
		return "repeat"
	default:
		return "silence"
	}
}

// ParseFillMode parses "silence" or "repeat".
func ParseFillMode(s string) (FillMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "silence":
		return FillSilence, nil
	case "repeat":
		return FillRepeat, nil
	default:
		return FillSilence, fmt.Errorf("unknown fill mode %q", s)
	}
}

// maxReadAttempts bounds how often a read retries after being lapped by the
// producer mid-copy.
const maxReadAttempts = 4

// RingStats is a snapshot of ring counters.
type RingStats struct {
	Capacity      int    `json:"capacity"`
	Buffered      int    `json:"buffered"`
	Written       uint64 `json:"written_bytes"`
	Overwritten   uint64 `json:"overwritten_bytes"`
	Underruns     uint64 `json:"underruns"`
	UnderrunBytes uint64 `json:"underrun_bytes"`
}

// Ring is a fixed-capacity single-producer single-consumer PCM buffer.
//
// Positions are monotonically increasing byte counts. The producer owns head
// and claim, the consumer owns tail. On overflow the producer simply writes
// over the oldest bytes; the consumer notices that head has lapped tail,
// skips forward and counts the evicted bytes. A read is checked against
// claim after the copy and retried if the producer reached into it.
type Ring struct {
	buf       []byte
	capacity  uint64
	frameSize int
	fill      FillMode

	head  atomic.Uint64
	claim atomic.Uint64
	tail  atomic.Uint64

	// last is the most recently delivered frame, consumer-owned.
	last []byte

	written       atomic.Uint64
	overwritten   atomic.Uint64
	underruns     atomic.Uint64
	underrunBytes atomic.Uint64
}

// NewRing creates a ring holding up to capacity bytes, rounded down to a
// whole number of frames (at least one frame).
func NewRing(capacity, frameSize int, fill FillMode) *Ring {
	if frameSize <= 0 {
		frameSize = 1
	}
	capacity -= capacity % frameSize
	if capacity < frameSize {
		capacity = frameSize
	}
	return &Ring{
		buf:       make([]byte, capacity),
		capacity:  uint64(capacity),
		frameSize: frameSize,
		fill:      fill,
		last:      make([]byte, frameSize),
	}
}

// Capacity returns the ring size in bytes.
func (r *Ring) Capacity() int { return int(r.capacity) }

// FrameSize returns the PCM frame size the ring aligns to.
func (r *Ring) FrameSize() int { return r.frameSize }

// Write stores p, evicting the oldest unread bytes if the ring is full. A
// trailing partial frame is discarded. Write never blocks and returns the
// number of bytes accepted. Producer only.
func (r *Ring) Write(p []byte) int {
	p = p[:len(p)-len(p)%r.frameSize]
	n := len(p)
	if n == 0 {
		return 0
	}
	if uint64(n) > r.capacity {
		// Only the newest capacity bytes can survive.
		drop := uint64(n) - r.capacity
		r.overwritten.Add(drop)
		p = p[drop:]
	}

	h := r.head.Load()
	end := h + uint64(len(p))
	r.claim.Store(end)

	off := h % r.capacity
	c := copy(r.buf[off:], p)
	copy(r.buf, p[c:])

	r.head.Store(end)
	r.written.Add(uint64(n))
	return n
}

// Fill copies buffered PCM into p and pads any shortfall according to the
// fill mode, so p is always completely populated. It returns the number of
// real (non-fill) bytes. Consumer only.
func (r *Ring) Fill(p []byte) int {
	want := uint64(len(p) - len(p)%r.frameSize)
	var got uint64

	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		t := r.tail.Load()
		h := r.head.Load()
		if h-t > r.capacity {
			lapped := h - r.capacity
			r.overwritten.Add(lapped - t)
			t = lapped
			r.tail.Store(t)
		}

		n := min(h-t, want)
		if n == 0 {
			break
		}
		off := t % r.capacity
		c := copy(p[:n], r.buf[off:])
		copy(p[c:n], r.buf)

		if r.claim.Load() > t+r.capacity {
			continue
		}
		r.tail.Store(t + n)
		got = n
		break
	}

	if got >= uint64(r.frameSize) {
		copy(r.last, p[got-uint64(r.frameSize):got])
	}
	if got < uint64(len(p)) {
		r.pad(p[got:])
		// Nothing ever written is a sink starting early, not a stall.
		if r.head.Load() > 0 {
			r.underruns.Add(1)
			r.underrunBytes.Add(uint64(len(p)) - got)
		}
	}
	return int(got)
}

func (r *Ring) pad(p []byte) {
	if r.fill == FillRepeat {
		for i := 0; i < len(p); i += r.frameSize {
			copy(p[i:], r.last)
		}
		return
	}
	clear(p)
}

// Read implements io.Reader. It always fills p completely and never
// returns an error.
func (r *Ring) Read(p []byte) (int, error) {
	r.Fill(p)
	return len(p), nil
}

// Buffered returns the number of unread bytes.
func (r *Ring) Buffered() int {
	h := r.head.Load()
	t := r.tail.Load()
	if h-t > r.capacity {
		return int(r.capacity)
	}
	return int(h - t)
}

// Stats returns a counter snapshot.
func (r *Ring) Stats() RingStats {
	return RingStats{
		Capacity:      int(r.capacity),
		Buffered:      r.Buffered(),
		Written:       r.written.Load(),
		Overwritten:   r.overwritten.Load(),
		Underruns:     r.underruns.Load(),
		UnderrunBytes: r.underrunBytes.Load(),
	}
}

package protocol

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"time"
)

// Message is one framed message. The payload is freshly allocated per
// message and owned by whichever pipeline consumes it.
type Message struct {
	Header  Header
	Payload []byte
	// ReceivedAt is the local wall-clock time the payload finished arriving.
	ReceivedAt time.Time
}

// Type is shorthand for m.Header.Type.
func (m *Message) Type() MessageType {
	return m.Header.Type
}

// Framer turns a forward-only byte stream into messages.
//
// The framer keeps no state between messages except its byte cursor. Once a
// framing fault is seen every later call returns that same fault.
type Framer struct {
	r          io.Reader
	maxPayload uint32
	now        func() time.Time

	offset int64
	hdr    [HeaderSize]byte
	err    error
}

// FramerOption configures a Framer.
type FramerOption func(*Framer)

// WithMaxPayload lowers the payload ceiling. Values above MaxPayloadSize
// are clamped.
func WithMaxPayload(n int) FramerOption {
	return func(f *Framer) {
		if n > 0 && n <= MaxPayloadSize {
			f.maxPayload = uint32(n)
		}
	}
}

// WithClock overrides the clock used to stamp ReceivedAt.
func WithClock(now func() time.Time) FramerOption {
	return func(f *Framer) {
		if now != nil {
			f.now = now
		}
	}
}

// NewFramer creates a framer reading from r.
func NewFramer(r io.Reader, opts ...FramerOption) *Framer {
	f := &Framer{
		r:          r,
		maxPayload: MaxPayloadSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Offset returns the number of bytes consumed so far.
func (f *Framer) Offset() int64 {
	return f.offset
}

// Next reads the next message. It returns io.EOF when the stream ends
// cleanly on a message boundary and io.ErrUnexpectedEOF when it ends inside
// a message. Framing faults are returned as *FramingError.
func (f *Framer) Next() (*Message, error) {
	if f.err != nil {
		return nil, f.err
	}

	start := f.offset
	n, err := io.ReadFull(f.r, f.hdr[:])
	f.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, io.EOF
		}
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		f.err = fmt.Errorf("reading header: %w", err)
		return nil, f.err
	}

	hdr, _ := DecodeHeader(f.hdr[:])
	if err := hdr.Validate(f.maxPayload); err != nil {
		var fe *FramingError
		if errors.As(err, &fe) {
			fe.Offset = start
		}
		f.err = err
		return nil, err
	}

	payload := make([]byte, hdr.PayloadLength)
	n, err = io.ReadFull(f.r, payload)
	f.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		f.err = fmt.Errorf("reading %s payload: %w", hdr.Type, err)
		return nil, f.err
	}

	return &Message{
		Header:     hdr,
		Payload:    payload,
		ReceivedAt: f.now(),
	}, nil
}

// All returns a lazy sequence over the remaining messages. The sequence ends
// after io.EOF, or after yielding the first non-EOF error.
func (f *Framer) All() iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		for {
			msg, err := f.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(msg, err) || err != nil {
				return
			}
		}
	}
}

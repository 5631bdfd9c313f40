package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire constants.
const (
	// HeaderSize is the fixed size of every message header.
	HeaderSize = 16

	// MagicCleartext marks a header followed by a plain payload.
	MagicCleartext uint32 = 0x55AA55AA
	// MagicEncrypted marks a header followed by an encrypted payload.
	MagicEncrypted uint32 = 0x55BB55BB

	// MaxPayloadSize is the payload length ceiling.
	MaxPayloadSize = 1024 * 1024
)

// Sentinel framing errors. Use errors.Is against these.
var (
	ErrBadMagic         = errors.New("bad magic")
	ErrTypeMismatch     = errors.New("type check mismatch")
	ErrOversizedPayload = errors.New("oversized payload")
)

// FramingKind classifies a framing fault.
type FramingKind int

const (
	// FramingBadMagic means the magic field matched neither known value.
	FramingBadMagic FramingKind = iota + 1
	// FramingTypeMismatch means typeCheck was not the complement of messageType.
	FramingTypeMismatch
	// FramingOversizedPayload means payloadLength exceeded the ceiling.
	FramingOversizedPayload
)

func (k FramingKind) String() string {
	switch k {
	case FramingBadMagic:
		return "bad_magic"
	case FramingTypeMismatch:
		return "type_mismatch"
	case FramingOversizedPayload:
		return "oversized_payload"
	default:
		return "unknown"
	}
}

// FramingError reports a desynchronized stream. It is session-fatal.
type FramingError struct {
	Kind   FramingKind
	Header Header
	// Offset is the stream position of the offending header.
	Offset int64
}

func (e *FramingError) Error() string {
	switch e.Kind {
	case FramingBadMagic:
		return fmt.Sprintf("framing: %s 0x%08X at offset %d", ErrBadMagic, e.Header.Magic, e.Offset)
	case FramingTypeMismatch:
		return fmt.Sprintf("framing: %s (type 0x%08X, check 0x%08X) at offset %d",
			ErrTypeMismatch, uint32(e.Header.Type), e.Header.TypeCheck, e.Offset)
	case FramingOversizedPayload:
		return fmt.Sprintf("framing: %s (%d bytes) at offset %d", ErrOversizedPayload, e.Header.PayloadLength, e.Offset)
	default:
		return "framing: unknown fault"
	}
}

// Unwrap maps the kind onto its sentinel so errors.Is works.
func (e *FramingError) Unwrap() error {
	switch e.Kind {
	case FramingBadMagic:
		return ErrBadMagic
	case FramingTypeMismatch:
		return ErrTypeMismatch
	case FramingOversizedPayload:
		return ErrOversizedPayload
	default:
		return nil
	}
}

// Header is the fixed 16-byte message header.
type Header struct {
	Magic         uint32
	PayloadLength uint32
	Type          MessageType
	TypeCheck     uint32
}

// Encrypted reports whether the payload following this header is encrypted.
func (h Header) Encrypted() bool {
	return h.Magic == MagicEncrypted
}

// DecodeHeader decodes a header without validating it.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(b))
	}
	return Header{
		Magic:         binary.LittleEndian.Uint32(b[0:4]),
		PayloadLength: binary.LittleEndian.Uint32(b[4:8]),
		Type:          MessageType(binary.LittleEndian.Uint32(b[8:12])),
		TypeCheck:     binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// Validate checks the header invariants against the given payload ceiling.
// The returned error is always a *FramingError.
func (h Header) Validate(maxPayload uint32) error {
	if h.Magic != MagicCleartext && h.Magic != MagicEncrypted {
		return &FramingError{Kind: FramingBadMagic, Header: h}
	}
	if h.TypeCheck != ^uint32(h.Type) {
		return &FramingError{Kind: FramingTypeMismatch, Header: h}
	}
	if maxPayload == 0 || maxPayload > MaxPayloadSize {
		maxPayload = MaxPayloadSize
	}
	if h.PayloadLength > maxPayload {
		return &FramingError{Kind: FramingOversizedPayload, Header: h}
	}
	return nil
}

// NewHeader builds a valid cleartext header for the given type and length.
func NewHeader(t MessageType, payloadLength int) Header {
	return Header{
		Magic:         MagicCleartext,
		PayloadLength: uint32(payloadLength),
		Type:          t,
		TypeCheck:     ^uint32(t),
	}
}

// AppendHeader appends the little-endian encoding of h to b.
func AppendHeader(b []byte, h Header) []byte {
	b = binary.LittleEndian.AppendUint32(b, h.Magic)
	b = binary.LittleEndian.AppendUint32(b, h.PayloadLength)
	b = binary.LittleEndian.AppendUint32(b, uint32(h.Type))
	return binary.LittleEndian.AppendUint32(b, h.TypeCheck)
}

// AppendMessage appends a complete cleartext message (header and payload) to b.
func AppendMessage(b []byte, t MessageType, payload []byte) []byte {
	b = AppendHeader(b, NewHeader(t, len(payload)))
	return append(b, payload...)
}

// HasMagicPrefix reports whether b starts with a known magic value.
func HasMagicPrefix(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	m := binary.LittleEndian.Uint32(b)
	return m == MagicCleartext || m == MagicEncrypted
}

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// VideoPrefixSize is the size of the fixed prefix before Annex-B data.
const VideoPrefixSize = 20

// ErrShortVideoPayload is returned for video payloads smaller than the prefix.
var ErrShortVideoPayload = errors.New("video payload shorter than prefix")

// VideoFrame is a parsed VideoData payload.
//
// Length and Reserved are carried as-is; some firmware puts a presentation
// timestamp there, which is never trusted for timing.
type VideoFrame struct {
	Width    uint32
	Height   uint32
	Flags    uint32
	Length   uint32
	Reserved uint32
	// Data is the Annex-B H.264 byte sequence. It aliases the message payload.
	Data []byte
}

// ParseVideoFrame splits a VideoData payload into prefix fields and NAL data.
func ParseVideoFrame(payload []byte) (VideoFrame, error) {
	if len(payload) < VideoPrefixSize {
		return VideoFrame{}, fmt.Errorf("%w: %d bytes", ErrShortVideoPayload, len(payload))
	}
	return VideoFrame{
		Width:    binary.LittleEndian.Uint32(payload[0:4]),
		Height:   binary.LittleEndian.Uint32(payload[4:8]),
		Flags:    binary.LittleEndian.Uint32(payload[8:12]),
		Length:   binary.LittleEndian.Uint32(payload[12:16]),
		Reserved: binary.LittleEndian.Uint32(payload[16:20]),
		Data:     payload[VideoPrefixSize:],
	}, nil
}

// AppendVideoFrame appends the wire encoding of v (prefix and data) to b.
func AppendVideoFrame(b []byte, v VideoFrame) []byte {
	b = binary.LittleEndian.AppendUint32(b, v.Width)
	b = binary.LittleEndian.AppendUint32(b, v.Height)
	b = binary.LittleEndian.AppendUint32(b, v.Flags)
	b = binary.LittleEndian.AppendUint32(b, v.Length)
	b = binary.LittleEndian.AppendUint32(b, v.Reserved)
	return append(b, v.Data...)
}

package replay

import (
	"bytes"
	"io"
	"time"

	"github.com/jmylchreest/cpcbridge/internal/protocol"
)

// captureBuilder assembles an in-memory blob and matching index.
type captureBuilder struct {
	blob bytes.Buffer
	idx  Index
}

func newCapture(id string) *captureBuilder {
	return &captureBuilder{idx: Index{Session: SessionInfo{ID: id}}}
}

func (c *captureBuilder) add(dir Direction, t protocol.MessageType, tsMs int64, payload []byte) *captureBuilder {
	msg := protocol.AppendMessage(nil, t, payload)
	c.idx.Packets = append(c.idx.Packets, PacketRecord{
		Seq:         int64(len(c.idx.Packets) + 1),
		Dir:         dir,
		Type:        t,
		TypeName:    t.String(),
		TimestampMs: tsMs,
		Offset:      int64(c.blob.Len()),
		Length:      int64(len(msg)),
	})
	c.blob.Write(msg)
	return c
}

func (c *captureBuilder) recording() *Recording {
	data := bytes.Clone(c.blob.Bytes())
	idx := c.idx
	return NewRecording(&idx, func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

func fastConfig() PlayerConfig {
	return PlayerConfig{DrainGrace: time.Millisecond, ProgressInterval: 500 * time.Millisecond}
}

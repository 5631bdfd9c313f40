package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jmylchreest/cpcbridge/internal/protocol"
)

// Recorder writes framed messages to a blob and builds the matching index.
// Offsets refer to the uncompressed blob.
type Recorder struct {
	mu     sync.Mutex
	w      io.WriteCloser
	now    func() time.Time
	start  time.Time
	offset int64
	seq    int64
	idx    Index
	closed bool
}

// NewRecorder records into blob using the given compression.
func NewRecorder(blob io.Writer, sessionID string, c Compression) (*Recorder, error) {
	w, err := NewCompressWriter(blob, c)
	if err != nil {
		return nil, err
	}
	now := time.Now
	start := now()
	return &Recorder{
		w:     w,
		now:   now,
		start: start,
		idx: Index{
			Session: SessionInfo{ID: sessionID, Started: Timestamp{Time: start}},
		},
	}, nil
}

// Record appends msg as header plus payload.
func (r *Recorder) Record(dir Direction, msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder closed")
	}

	at := msg.ReceivedAt
	if at.IsZero() {
		at = r.now()
	}

	buf := protocol.AppendHeader(make([]byte, 0, protocol.HeaderSize+len(msg.Payload)), msg.Header)
	buf = append(buf, msg.Payload...)
	if _, err := r.w.Write(buf); err != nil {
		return fmt.Errorf("writing blob: %w", err)
	}

	r.seq++
	r.idx.Packets = append(r.idx.Packets, PacketRecord{
		Seq:         r.seq,
		Dir:         dir,
		Type:        msg.Type(),
		TypeName:    msg.Type().String(),
		TimestampMs: at.Sub(r.start).Milliseconds(),
		Offset:      r.offset,
		Length:      int64(len(buf)),
	})
	r.offset += int64(len(buf))
	return nil
}

// Packets returns the number of recorded packets.
func (r *Recorder) Packets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.idx.Packets)
}

// Close flushes the blob encoder and finalises the session times. The
// underlying writer is left open.
func (r *Recorder) Close() (*Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		end := r.now()
		r.idx.Session.Ended = Timestamp{Time: end}
		r.idx.Session.DurationMs = end.Sub(r.start).Milliseconds()
		if err := r.w.Close(); err != nil {
			return nil, fmt.Errorf("flushing blob: %w", err)
		}
	}
	idx := r.idx
	idx.Packets = append([]PacketRecord(nil), r.idx.Packets...)
	return &idx, nil
}

// WriteIndex encodes idx as indented JSON.
func WriteIndex(w io.Writer, idx *Index) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(idx)
}

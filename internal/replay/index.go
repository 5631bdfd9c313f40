package replay

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/cpcbridge/internal/protocol"
)

// Direction is the traffic direction of a recorded packet.
type Direction string

const (
	// DirIn is adapter to host traffic. Only IN packets are replayed.
	DirIn Direction = "IN"
	// DirOut is host to adapter traffic.
	DirOut Direction = "OUT"
)

// Timestamp is a capture wall-clock time. It decodes from an RFC 3339
// string or a number of Unix milliseconds and encodes as RFC 3339.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing timestamp %s: %w", b, err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// SessionInfo describes the recorded session.
type SessionInfo struct {
	ID         string    `json:"id"`
	Started    Timestamp `json:"started"`
	Ended      Timestamp `json:"ended"`
	DurationMs int64     `json:"durationMs"`
}

// PacketRecord locates one recorded packet in the blob.
type PacketRecord struct {
	Seq         int64                `json:"seq"`
	Dir         Direction            `json:"dir"`
	Type        protocol.MessageType `json:"type"`
	TypeName    string               `json:"typeName"`
	TimestampMs int64                `json:"timestampMs"`
	Offset      int64                `json:"offset"`
	Length      int64                `json:"length"`
}

// Index is a capture index document.
type Index struct {
	Session SessionInfo    `json:"session"`
	Packets []PacketRecord `json:"packets"`
}

// rawPacket detects missing fields, which plain decoding would zero.
type rawPacket struct {
	Seq         *int64  `json:"seq"`
	Dir         *string `json:"dir"`
	Type        *uint32 `json:"type"`
	TypeName    string  `json:"typeName"`
	TimestampMs *int64  `json:"timestampMs"`
	Offset      *int64  `json:"offset"`
	Length      *int64  `json:"length"`
}

type rawIndex struct {
	Session *SessionInfo `json:"session"`
	Packets []rawPacket  `json:"packets"`
}

// LoadIndex decodes and validates a capture index.
func LoadIndex(r io.Reader) (*Index, error) {
	var raw rawIndex
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, replayErr(KindInvalidIndex, -1, "decoding JSON", err)
	}
	if raw.Session == nil {
		return nil, replayErr(KindMissingField, -1, "session", nil)
	}
	if raw.Session.ID == "" {
		return nil, replayErr(KindMissingField, -1, "session.id", nil)
	}

	idx := &Index{Session: *raw.Session, Packets: make([]PacketRecord, 0, len(raw.Packets))}
	for i, rp := range raw.Packets {
		p, err := rp.record(i)
		if err != nil {
			return nil, err
		}
		idx.Packets = append(idx.Packets, p)
	}
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (rp rawPacket) record(i int) (PacketRecord, error) {
	missing := func(field string) error {
		seq := int64(-1)
		if rp.Seq != nil {
			seq = *rp.Seq
		}
		return replayErr(KindMissingField, seq, fmt.Sprintf("packets[%d].%s", i, field), nil)
	}
	switch {
	case rp.Seq == nil:
		return PacketRecord{}, missing("seq")
	case rp.Dir == nil:
		return PacketRecord{}, missing("dir")
	case rp.TimestampMs == nil:
		return PacketRecord{}, missing("timestampMs")
	case rp.Offset == nil:
		return PacketRecord{}, missing("offset")
	case rp.Length == nil:
		return PacketRecord{}, missing("length")
	}

	p := PacketRecord{
		Seq:         *rp.Seq,
		Dir:         Direction(strings.ToUpper(*rp.Dir)),
		TypeName:    rp.TypeName,
		TimestampMs: *rp.TimestampMs,
		Offset:      *rp.Offset,
		Length:      *rp.Length,
	}
	switch {
	case rp.Type != nil:
		p.Type = protocol.MessageType(*rp.Type)
	case rp.TypeName != "":
		t, ok := protocol.ParseMessageType(rp.TypeName)
		if !ok {
			return PacketRecord{}, replayErr(KindInvalidIndex, p.Seq, fmt.Sprintf("unknown typeName %q", rp.TypeName), nil)
		}
		p.Type = t
	default:
		return PacketRecord{}, missing("type")
	}
	if p.TypeName == "" {
		p.TypeName = p.Type.String()
	}
	return p, nil
}

// Validate checks direction values, field ranges and that sequence numbers
// strictly increase.
func (idx *Index) Validate() error {
	for i, p := range idx.Packets {
		if p.Dir != DirIn && p.Dir != DirOut {
			return replayErr(KindInvalidIndex, p.Seq, fmt.Sprintf("direction %q", p.Dir), nil)
		}
		if p.Offset < 0 || p.Length < 0 {
			return replayErr(KindInvalidIndex, p.Seq, fmt.Sprintf("offset %d length %d", p.Offset, p.Length), nil)
		}
		if p.Length > protocol.HeaderSize+protocol.MaxPayloadSize {
			return replayErr(KindInvalidIndex, p.Seq, fmt.Sprintf("length %d exceeds message ceiling", p.Length), nil)
		}
		if i > 0 && p.Seq <= idx.Packets[i-1].Seq {
			return replayErr(KindNonMonotonicSeq, p.Seq, fmt.Sprintf("follows %d", idx.Packets[i-1].Seq), nil)
		}
	}
	return nil
}

// InPackets returns the IN packets in ascending timestamp order, ties kept
// in sequence order.
func (idx *Index) InPackets() []PacketRecord {
	var in []PacketRecord
	for _, p := range idx.Packets {
		if p.Dir == DirIn {
			in = append(in, p)
		}
	}
	slices.SortStableFunc(in, func(a, b PacketRecord) int {
		return cmp.Compare(a.TimestampMs, b.TimestampMs)
	})
	return in
}

// EffectiveDuration is the span between the first and last IN packet
// timestamps. Idle time before the first packet is excluded.
func (idx *Index) EffectiveDuration() time.Duration {
	in := idx.InPackets()
	if len(in) < 2 {
		return 0
	}
	return time.Duration(in[len(in)-1].TimestampMs-in[0].TimestampMs) * time.Millisecond
}

// SessionDuration is the duration recorded in the session header.
func (idx *Index) SessionDuration() time.Duration {
	return time.Duration(idx.Session.DurationMs) * time.Millisecond
}

// Summary aggregates an index for display.
type Summary struct {
	SessionID         string         `json:"session_id"`
	Packets           int            `json:"packets"`
	In                int            `json:"in"`
	Out               int            `json:"out"`
	Bytes             int64          `json:"bytes"`
	SessionDuration   time.Duration  `json:"session_duration"`
	EffectiveDuration time.Duration  `json:"effective_duration"`
	ByType            map[string]int `json:"by_type"`
}

// Summarize counts packets per direction and type.
func (idx *Index) Summarize() Summary {
	s := Summary{
		SessionID:         idx.Session.ID,
		Packets:           len(idx.Packets),
		SessionDuration:   idx.SessionDuration(),
		EffectiveDuration: idx.EffectiveDuration(),
		ByType:            make(map[string]int),
	}
	for _, p := range idx.Packets {
		if p.Dir == DirIn {
			s.In++
		} else {
			s.Out++
		}
		s.Bytes += p.Length
		s.ByType[p.TypeName]++
	}
	return s
}

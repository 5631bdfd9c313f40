package replay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/cpcbridge/internal/protocol"
)

func TestPlayPacing(t *testing.T) {
	timestamps := []int64{0, 200, 450, 2000}
	c := newCapture("pacing")
	for i, ts := range timestamps {
		c.add(DirIn, protocol.TypeHeartBeat, ts, []byte{byte(i)})
	}

	var delivered []time.Time
	p := NewPlayer(c.recording(), fastConfig())
	err := p.Play(context.Background(), func(pkt Packet) error {
		delivered = append(delivered, time.Now())
		return nil
	})
	require.NoError(t, err)
	require.Len(t, delivered, len(timestamps))

	for i, ts := range timestamps {
		got := delivered[i].Sub(delivered[0])
		want := time.Duration(ts) * time.Millisecond
		assert.InDelta(t, want.Milliseconds(), got.Milliseconds(), 20, "packet %d", i)
	}
}

func TestPlaySkipsOutPacketsAndLeadingIdle(t *testing.T) {
	c := newCapture("idle").
		add(DirOut, protocol.TypeCommand, 0, []byte{1, 0, 0, 0}).
		add(DirIn, protocol.TypeOpen, 5000, []byte{0xAA}).
		add(DirIn, protocol.TypeHeartBeat, 5010, nil)

	var got []protocol.MessageType
	start := time.Now()
	err := NewPlayer(c.recording(), fastConfig()).Play(context.Background(), func(pkt Packet) error {
		got = append(got, pkt.Record.Type)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []protocol.MessageType{protocol.TypeOpen, protocol.TypeHeartBeat}, got)
	assert.Less(t, time.Since(start), time.Second, "idle before the first IN packet is not waited out")
}

func TestPlayReturnsRecordedBytes(t *testing.T) {
	c := newCapture("bytes").
		add(DirIn, protocol.TypeAudioData, 0, []byte("first")).
		add(DirOut, protocol.TypeCommand, 1, []byte("skipped")).
		add(DirIn, protocol.TypeAudioData, 2, []byte("second"))

	var frames [][]byte
	err := NewPlayer(c.recording(), fastConfig()).Play(context.Background(), func(pkt Packet) error {
		frames = append(frames, pkt.Data)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, protocol.AppendMessage(nil, protocol.TypeAudioData, []byte("first")), frames[0])
	assert.Equal(t, protocol.AppendMessage(nil, protocol.TypeAudioData, []byte("second")), frames[1])
}

func TestPlayNonSequentialOffset(t *testing.T) {
	c := newCapture("backwards").
		add(DirIn, protocol.TypeHeartBeat, 0, nil).
		add(DirIn, protocol.TypeHeartBeat, 10, nil)
	// Second packet points back into the first.
	c.idx.Packets[1].Offset = 4

	var emitted int
	err := NewPlayer(c.recording(), fastConfig()).Play(context.Background(), func(Packet) error {
		emitted++
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonSequentialOffset)
	assert.Equal(t, 1, emitted)

	var rerr *ReplayError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, int64(2), rerr.Seq)
}

func TestPlayShortRead(t *testing.T) {
	c := newCapture("short").add(DirIn, protocol.TypeHeartBeat, 0, nil)
	c.idx.Packets[0].Length = 64

	err := NewPlayer(c.recording(), fastConfig()).Play(context.Background(), func(Packet) error { return nil })
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestPlaySkipsGaps(t *testing.T) {
	c := newCapture("gaps").
		add(DirIn, protocol.TypeHeartBeat, 0, nil).
		add(DirOut, protocol.TypeCommand, 1, []byte{1, 2, 3, 4}).
		add(DirIn, protocol.TypeOpen, 2, []byte{9})

	var last []byte
	err := NewPlayer(c.recording(), fastConfig()).Play(context.Background(), func(pkt Packet) error {
		last = pkt.Data
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.AppendMessage(nil, protocol.TypeOpen, []byte{9}), last)
}

func TestPlayCancellation(t *testing.T) {
	c := newCapture("cancel").
		add(DirIn, protocol.TypeHeartBeat, 0, nil).
		add(DirIn, protocol.TypeHeartBeat, 10_000, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	var emitted int
	err := NewPlayer(c.recording(), fastConfig()).Play(ctx, func(Packet) error {
		emitted++
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, emitted)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPlayEmitErrorStops(t *testing.T) {
	c := newCapture("emit").
		add(DirIn, protocol.TypeHeartBeat, 0, nil).
		add(DirIn, protocol.TypeHeartBeat, 1, nil)

	boom := errors.New("consumer gone")
	err := NewPlayer(c.recording(), fastConfig()).Play(context.Background(), func(Packet) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestPlayDrainGrace(t *testing.T) {
	c := newCapture("drain").add(DirIn, protocol.TypeHeartBeat, 0, nil)
	cfg := fastConfig()
	cfg.DrainGrace = 150 * time.Millisecond

	start := time.Now()
	err := NewPlayer(c.recording(), cfg).Play(context.Background(), func(Packet) error { return nil })
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestPlayProgress(t *testing.T) {
	c := newCapture("progress")
	for i := 0; i < 5; i++ {
		c.add(DirIn, protocol.TypeHeartBeat, int64(i), nil)
	}

	var reports []Progress
	p := NewPlayer(c.recording(), fastConfig(), WithProgress(func(pr Progress) {
		reports = append(reports, pr)
	}))
	require.NoError(t, p.Play(context.Background(), func(Packet) error { return nil }))

	// The first packet reports immediately; the rest fall inside the
	// interval until the final report.
	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].Emitted)
	last := reports[len(reports)-1]
	assert.True(t, last.Done)
	assert.Equal(t, 5, last.Emitted)
	assert.Equal(t, 5, last.Total)
}

func TestPlayLoop(t *testing.T) {
	c := newCapture("loop").
		add(DirIn, protocol.TypeHeartBeat, 0, nil).
		add(DirIn, protocol.TypeHeartBeat, 5, nil)
	cfg := fastConfig()
	cfg.Loop = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var passes []int
	err := NewPlayer(c.recording(), cfg).Play(ctx, func(pkt Packet) error {
		passes = append(passes, pkt.Pass)
		if len(passes) == 6 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{0, 0, 1, 1, 2, 2}, passes)
}

func TestSourceFeedsFramer(t *testing.T) {
	c := newCapture("source").
		add(DirIn, protocol.TypeOpen, 0, []byte{1, 2, 3}).
		add(DirIn, protocol.TypeHeartBeat, 5, nil)
	// A record stored as a bare payload gets a header synthesised.
	c.idx.Packets = append(c.idx.Packets, PacketRecord{
		Seq: 3, Dir: DirIn, Type: protocol.TypeAudioData, TypeName: "AudioData",
		TimestampMs: 10, Offset: int64(c.blob.Len()), Length: 4,
	})
	c.blob.Write([]byte{7, 7, 7, 7})

	src := NewSource(context.Background(), NewPlayer(c.recording(), fastConfig()))
	defer src.Close()

	var types []protocol.MessageType
	f := protocol.NewFramer(src)
	for msg, err := range f.All() {
		require.NoError(t, err)
		types = append(types, msg.Type())
		if msg.Type() == protocol.TypeAudioData {
			assert.Equal(t, []byte{7, 7, 7, 7}, msg.Payload)
		}
	}
	assert.Equal(t, []protocol.MessageType{protocol.TypeOpen, protocol.TypeHeartBeat, protocol.TypeAudioData}, types)
	assert.NoError(t, src.Err())
}

func TestSourceCloseStopsReplay(t *testing.T) {
	c := newCapture("close").
		add(DirIn, protocol.TypeHeartBeat, 0, nil).
		add(DirIn, protocol.TypeHeartBeat, 30_000, nil)

	src := NewSource(context.Background(), NewPlayer(c.recording(), fastConfig()))
	buf := make([]byte, protocol.HeaderSize)
	_, err := io.ReadFull(src, buf)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.Discard, src)
	}()

	done := make(chan struct{})
	go func() {
		assert.NoError(t, src.Close())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the replay")
	}
	wg.Wait()
	assert.NoError(t, src.Err())
}

func TestFrameKeepsExistingHeader(t *testing.T) {
	msg := protocol.AppendMessage(nil, protocol.TypeOpen, []byte{1})
	assert.True(t, bytes.Equal(msg, Frame(Packet{Data: msg, Record: PacketRecord{Type: protocol.TypeAudioData}})))
}

package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/cpcbridge/internal/observability"
	"github.com/jmylchreest/cpcbridge/internal/protocol"
	"github.com/jmylchreest/cpcbridge/internal/replay"
	"github.com/jmylchreest/cpcbridge/internal/video"
)

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func TestCommandWriterEncodesKeyframeRequest(t *testing.T) {
	var out syncBuffer
	var rec bytes.Buffer
	recorder, err := replay.NewRecorder(&rec, "cmd", replay.CompressionNone)
	require.NoError(t, err)

	w := NewCommandWriter(&out, observability.Discard(), recorder)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.SendCommand(video.CommandRequestKeyframe)
	w.SendCommand(video.CommandResetDecoder)

	require.Eventually(t, func() bool { return w.Sent() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	msg, err := protocol.NewFramer(bytes.NewReader(out.Bytes())).Next()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeCommand, msg.Type())
	require.Len(t, msg.Payload, 4)
	assert.Equal(t, protocol.CommandRequestKeyframe, protocol.CommandCode(binary.LittleEndian.Uint32(msg.Payload)))
	assert.Len(t, out.Bytes(), protocol.HeaderSize+4, "reset intents stay local")

	idx, err := recorder.Close()
	require.NoError(t, err)
	require.Len(t, idx.Packets, 1)
	assert.Equal(t, replay.DirOut, idx.Packets[0].Dir)
}

func TestCommandWriterDropsWhenFull(t *testing.T) {
	w := NewCommandWriter(&bytes.Buffer{}, observability.Discard(), nil)
	for i := 0; i < commandQueueSize+3; i++ {
		w.SendCommand(video.CommandRequestKeyframe)
	}
	assert.Equal(t, uint64(3), w.Dropped())
	assert.Zero(t, w.Sent())
}

func TestFanout(t *testing.T) {
	var a, b []video.Command
	f := fanout{
		video.CommandSinkFunc(func(c video.Command) { a = append(a, c) }),
		video.CommandSinkFunc(func(c video.Command) { b = append(b, c) }),
	}
	f.SendCommand(video.CommandResetDecoder)
	assert.Equal(t, []video.Command{video.CommandResetDecoder}, a)
	assert.Equal(t, a, b)
}

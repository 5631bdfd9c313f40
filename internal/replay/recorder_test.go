package replay

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/cpcbridge/internal/protocol"
)

func TestRecorderRoundTrip(t *testing.T) {
	var blob bytes.Buffer
	rec, err := NewRecorder(&blob, "rec-1", CompressionBzip2)
	require.NoError(t, err)

	base := time.Now()
	msgs := []*protocol.Message{
		{Header: protocol.NewHeader(protocol.TypeOpen, 3), Payload: []byte{1, 2, 3}, ReceivedAt: base},
		{Header: protocol.NewHeader(protocol.TypeHeartBeat, 0), ReceivedAt: base.Add(40 * time.Millisecond)},
	}
	require.NoError(t, rec.Record(DirIn, msgs[0]))
	require.NoError(t, rec.Record(DirOut, &protocol.Message{Header: protocol.NewHeader(protocol.TypeCommand, 4), Payload: []byte{12, 0, 0, 0}}))
	require.NoError(t, rec.Record(DirIn, msgs[1]))
	assert.Equal(t, 3, rec.Packets())

	idx, err := rec.Close()
	require.NoError(t, err)
	require.NoError(t, idx.Validate())
	assert.Equal(t, "rec-1", idx.Session.ID)
	assert.False(t, idx.Session.Ended.IsZero())
	assert.Equal(t, []int64{0, 19, 39}, []int64{idx.Packets[0].Offset, idx.Packets[1].Offset, idx.Packets[2].Offset})

	assert.Error(t, rec.Record(DirIn, msgs[0]), "closed recorder rejects writes")

	var idxBuf bytes.Buffer
	require.NoError(t, WriteIndex(&idxBuf, idx))
	loaded, err := LoadIndex(&idxBuf)
	require.NoError(t, err)

	data := blob.Bytes()
	recording := NewRecording(loaded, func() (io.ReadCloser, error) {
		return NewBlobReader(bytes.NewReader(data), "blob")
	})
	var got []*protocol.Message
	src := NewSource(context.Background(), NewPlayer(recording, fastConfig()))
	defer src.Close()
	for msg, err := range protocol.NewFramer(src).All() {
		require.NoError(t, err)
		got = append(got, msg)
	}
	require.Len(t, got, 2)
	assert.Equal(t, protocol.TypeOpen, got[0].Type())
	assert.Equal(t, []byte{1, 2, 3}, got[0].Payload)
	assert.Equal(t, protocol.TypeHeartBeat, got[1].Type())
}

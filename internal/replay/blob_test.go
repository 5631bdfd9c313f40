package replay

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/jmylchreest/cpcbridge/internal/protocol"
)

func compressWith(t *testing.T, c Compression, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch c {
	case CompressionGzip:
		w := gzip.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case CompressionBzip2:
		w, err := bzip2.NewWriter(&buf, nil)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case CompressionXZ:
		w, err := xz.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case CompressionBrotli:
		w := brotli.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	default:
		buf.Write(data)
	}
	return buf.Bytes()
}

func TestNewBlobReaderDetectsCompression(t *testing.T) {
	payload := bytes.Repeat([]byte("cpcbridge capture blob "), 200)

	tests := []struct {
		compression Compression
		name        string
	}{
		{CompressionNone, "capture.bin"},
		{CompressionGzip, "capture.bin"},
		{CompressionBzip2, "capture.bin"},
		{CompressionXZ, "capture.bin"},
		{CompressionBrotli, "capture.bin.br"},
	}
	for _, tt := range tests {
		t.Run(string(tt.compression), func(t *testing.T) {
			data := compressWith(t, tt.compression, payload)
			r, err := NewBlobReader(bytes.NewReader(data), tt.name)
			require.NoError(t, err)
			defer r.Close()

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestNewBlobReaderShortInput(t *testing.T) {
	r, err := NewBlobReader(bytes.NewReader([]byte{0x01}), "tiny")
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)
}

func TestCompressWriterRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0x55, 0xAA, 0x01, 0x02}, 1000)
	for _, c := range []Compression{CompressionNone, CompressionGzip, CompressionBzip2, CompressionXZ, CompressionBrotli} {
		t.Run(string(c), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewCompressWriter(&buf, c)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := NewBlobReader(&buf, "blob"+c.Extension())
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{
		"":       CompressionNone,
		"gz":     CompressionGzip,
		"BZIP2":  CompressionBzip2,
		"xz":     CompressionXZ,
		"brotli": CompressionBrotli,
	} {
		got, err := ParseCompression(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCompression("zstd")
	assert.Error(t, err)
}

func TestLoadCompressedFiles(t *testing.T) {
	c := newCapture("files").
		add(DirIn, protocol.TypeOpen, 0, []byte{1, 2}).
		add(DirIn, protocol.TypeHeartBeat, 3, nil)

	dir := t.TempDir()
	blobPath := filepath.Join(dir, "capture.bin.xz")
	require.NoError(t, os.WriteFile(blobPath, compressWith(t, CompressionXZ, c.blob.Bytes()), 0o600))

	var idxBuf bytes.Buffer
	require.NoError(t, WriteIndex(&idxBuf, &c.idx))
	indexPath := filepath.Join(dir, "capture.json.gz")
	require.NoError(t, os.WriteFile(indexPath, compressWith(t, CompressionGzip, idxBuf.Bytes()), 0o600))

	rec, err := Load(indexPath, blobPath)
	require.NoError(t, err)
	assert.Equal(t, "files", rec.Index.Session.ID)

	var n int
	require.NoError(t, NewPlayer(rec, fastConfig()).Play(context.Background(), func(Packet) error {
		n++
		return nil
	}))
	assert.Equal(t, 2, n)
}

func TestLoadMissingBlob(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "capture.json")
	require.NoError(t, os.WriteFile(indexPath, []byte(`{"session": {"id": "x"}, "packets": []}`), 0o600))

	_, err := Load(indexPath, filepath.Join(dir, "absent.bin"))
	assert.ErrorIs(t, err, ErrBlob)
}

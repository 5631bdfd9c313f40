package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/cpcbridge/internal/config"
	"github.com/jmylchreest/cpcbridge/internal/protocol"
	"github.com/jmylchreest/cpcbridge/internal/replay"
)

func TestToMap(t *testing.T) {
	m := toMap(config.Default())

	video, ok := m["video"].(map[string]any)
	require.True(t, ok)
	assert.IsType(t, "", video["staleness_budget"])

	audio, ok := m["audio"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, config.Default().Audio.BufferSize.String(), audio["buffer_size"])

	_, err := yaml.Marshal(m)
	assert.NoError(t, err)
}

func TestCompressionFromPath(t *testing.T) {
	tests := map[string]replay.Compression{
		"a.bin":     replay.CompressionNone,
		"a.bin.gz":  replay.CompressionGzip,
		"a.bin.bz2": replay.CompressionBzip2,
		"a.bin.xz":  replay.CompressionXZ,
		"a.bin.br":  replay.CompressionBrotli,
	}
	for path, want := range tests {
		assert.Equal(t, want, compressionFromPath(path), path)
	}
}

func TestServeOptionsValidation(t *testing.T) {
	newCmd := func(flags map[string]string) *cobra.Command {
		c := &cobra.Command{}
		addServeFlags(c.Flags())
		for k, v := range flags {
			require.NoError(t, c.Flags().Set(k, v))
		}
		return c
	}

	_, err := serveOptionsFrom(newCmd(nil))
	assert.ErrorContains(t, err, "required")

	_, err = serveOptionsFrom(newCmd(map[string]string{"capture-index": "a.json"}))
	assert.ErrorContains(t, err, "--capture-blob")

	_, err = serveOptionsFrom(newCmd(map[string]string{"input": "-", "record-compression": "zip"}))
	assert.ErrorContains(t, err, "unknown compression")

	opts, err := serveOptionsFrom(newCmd(map[string]string{"input": "-", "record-compression": "xz"}))
	require.NoError(t, err)
	assert.Equal(t, replay.CompressionXZ, opts.compression)
	assert.True(t, opts.linger)
}

func TestInspect(t *testing.T) {
	var blob bytes.Buffer
	rec, err := replay.NewRecorder(&blob, "sess-1", replay.CompressionNone)
	require.NoError(t, err)

	start := time.Now()
	for _, at := range []time.Duration{0, 1500 * time.Millisecond} {
		require.NoError(t, rec.Record(replay.DirIn, &protocol.Message{
			Header:     protocol.NewHeader(protocol.TypeHeartBeat, 0),
			ReceivedAt: start.Add(at),
		}))
	}
	idx, err := rec.Close()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sess.index.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, replay.WriteIndex(f, idx))
	require.NoError(t, f.Close())

	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)
	require.NoError(t, runInspect(c, []string{path}))

	var report inspectReport
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "sess-1", report.SessionID)
	assert.Equal(t, 2, report.In)
	assert.Equal(t, "1.5s", report.EffectiveDuration)
}

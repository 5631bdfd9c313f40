package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jmylchreest/cpcbridge/internal/audio"
	"github.com/jmylchreest/cpcbridge/internal/catalog"
	"github.com/jmylchreest/cpcbridge/internal/config"
	"github.com/jmylchreest/cpcbridge/internal/metrics"
	"github.com/jmylchreest/cpcbridge/internal/observability"
	"github.com/jmylchreest/cpcbridge/internal/protocol"
	"github.com/jmylchreest/cpcbridge/internal/replay"
	"github.com/jmylchreest/cpcbridge/internal/video"
)

func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New(cfg.Metrics.Namespace)
}

// openCatalog opens and migrates the capture catalog.
func openCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *catalog.DB, err error) {
	logger = observability.WithComponent(logger, "catalog")
	done := observability.TimedOperationWithError(ctx, logger, "open catalog", &err)
	defer done()

	db, err := catalog.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	if err := catalog.Migrate(ctx, db.DB, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating catalog: %w", err)
	}
	return db, nil
}

// newDecoder returns a TS dump decoder when dumpPath is set, otherwise a
// decoder that only counts.
func newDecoder(dumpPath string, logger *slog.Logger) (video.Decoder, error) {
	if dumpPath == "" {
		return video.NewNullDecoder(), nil
	}
	f, err := os.Create(dumpPath)
	if err != nil {
		return nil, fmt.Errorf("creating TS dump: %w", err)
	}
	return video.NewTSDumpDecoder(f, logger), nil
}

// compressionFromPath guesses a blob's compression from its extension.
func compressionFromPath(path string) replay.Compression {
	for _, c := range []replay.Compression{
		replay.CompressionGzip, replay.CompressionBzip2, replay.CompressionXZ, replay.CompressionBrotli,
	} {
		if strings.HasSuffix(path, c.Extension()) {
			return c
		}
	}
	return replay.CompressionNone
}

// startAudioDrain writes the main channel to path in real time.
func startAudioDrain(ctx context.Context, mixer *audio.Mixer, path string, logger *slog.Logger) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating audio output: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := audio.Drain(ctx, mixer.Channel(protocol.AudioMain), f, 0); err != nil {
			logger.Error("audio drain stopped", slog.String("error", err.Error()))
		}
	}()
	return func() {
		cancel()
		<-done
		_ = f.Close()
	}, nil
}

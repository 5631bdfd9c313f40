package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/cpcbridge/internal/audio"
	"github.com/jmylchreest/cpcbridge/internal/catalog"
	"github.com/jmylchreest/cpcbridge/internal/config"
	internalhttp "github.com/jmylchreest/cpcbridge/internal/http"
	"github.com/jmylchreest/cpcbridge/internal/http/handlers"
	"github.com/jmylchreest/cpcbridge/internal/metrics"
	"github.com/jmylchreest/cpcbridge/internal/observability"
	"github.com/jmylchreest/cpcbridge/internal/replay"
	"github.com/jmylchreest/cpcbridge/internal/session"
	"github.com/jmylchreest/cpcbridge/internal/startup"
	"github.com/jmylchreest/cpcbridge/internal/storage"
	"github.com/jmylchreest/cpcbridge/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a bridge session with the status server",
	Long: `Run one bridge session over an adapter byte stream.

The input is a file, a device node, "-" for stdin, or a capture replayed
with its original timing (--capture-index/--capture-blob). Outbound
commands such as keyframe requests are written to --output when set.

The status server exposes:
- /health, /livez and /readyz
- /api/v1/sessions and /api/v1/captures
- /metrics for Prometheus
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addServeFlags(serveCmd.Flags())

	serveCmd.Flags().String("host", "127.0.0.1", "status server host")
	serveCmd.Flags().Int("port", 8490, "status server port")
	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func addServeFlags(fs *pflag.FlagSet) {
	fs.StringP("input", "i", "", `adapter byte stream ("-" for stdin)`)
	fs.StringP("output", "o", "", "where outbound command messages are written")
	fs.String("capture-index", "", "replay a capture index instead of reading --input")
	fs.String("capture-blob", "", "blob of the replayed capture")
	fs.String("record", "", "directory to record the session into")
	fs.String("record-compression", "gzip", "compression for recorded blobs (none, gzip, bzip2, xz, br)")
	fs.String("name", "", "catalog name for the recorded capture")
	fs.String("dump-ts", "", "write decoded video to an MPEG-TS file")
	fs.String("audio-out", "", "write the main audio channel as raw PCM")
	fs.Bool("linger", true, "keep the status server running after the session ends")
}

type serveOptions struct {
	input, output             string
	captureIndex, captureBlob string
	recordDir, name           string
	compression               replay.Compression
	dumpTS, audioOut          string
	linger                    bool
}

func serveOptionsFrom(cmd *cobra.Command) (serveOptions, error) {
	f := cmd.Flags()
	var o serveOptions
	o.input, _ = f.GetString("input")
	o.output, _ = f.GetString("output")
	o.captureIndex, _ = f.GetString("capture-index")
	o.captureBlob, _ = f.GetString("capture-blob")
	o.recordDir, _ = f.GetString("record")
	o.name, _ = f.GetString("name")
	o.dumpTS, _ = f.GetString("dump-ts")
	o.audioOut, _ = f.GetString("audio-out")
	o.linger, _ = f.GetBool("linger")

	compression, _ := f.GetString("record-compression")
	c, err := replay.ParseCompression(compression)
	if err != nil {
		return o, err
	}
	o.compression = c

	switch {
	case o.input == "" && o.captureIndex == "":
		return o, errors.New("one of --input or --capture-index is required")
	case o.input != "" && o.captureIndex != "":
		return o, errors.New("--input and --capture-index are mutually exclusive")
	case o.captureIndex != "" && o.captureBlob == "":
		return o, errors.New("--capture-blob is required with --capture-index")
	}
	return o, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	opts, err := serveOptionsFrom(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	m := newMetrics(cfg)

	db, err := openCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if n, err := startup.RecoverStaleRuns(ctx, logger, catalog.NewReplayRunRepository(db.DB)); err == nil && n > 0 {
		logger.Info("recovered stale replay runs", slog.Int("count", n))
	}
	if opts.recordDir != "" {
		if _, err := startup.CleanupOrphanedBlobs(logger, opts.recordDir, startup.DefaultCleanupAge); err != nil {
			logger.Warn("capture directory cleanup failed", slog.String("error", err.Error()))
		}
	}

	registry := session.NewRegistry(16)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.Enabled {
		srv := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), observability.WithComponent(logger, "http"), version.Version)
		handlers.NewHealthHandler(version.Version).WithDB(db).WithSessions(registry).Register(srv.API())
		handlers.NewSessionHandler(registry).Register(srv.API())
		handlers.NewCaptureHandler(catalog.NewCaptureRepository(db.DB), catalog.NewReplayRunRepository(db.DB)).Register(srv.API())
		srv.MountMetrics(m)
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	g.Go(func() error {
		err := serveSession(gctx, cfg, opts, registry, db, m, logger)
		if err != nil || !cfg.Server.Enabled || !opts.linger {
			stop()
			return err
		}
		logger.Info("session ended, status server still running")
		return nil
	})

	return g.Wait()
}

func serveSession(ctx context.Context, cfg *config.Config, opts serveOptions, registry *session.Registry, db *catalog.DB, m *metrics.Metrics, logger *slog.Logger) error {
	id := uuid.NewString()
	deps := session.Deps{ID: id, Logger: logger, Metrics: m}

	decoder, err := newDecoder(opts.dumpTS, logger)
	if err != nil {
		return err
	}
	deps.Decoder = decoder

	if opts.captureIndex != "" {
		rec, err := replay.Load(opts.captureIndex, opts.captureBlob)
		if err != nil {
			return err
		}
		player := replay.NewPlayer(rec, playerConfig(cfg), replay.WithPlayerLogger(logger), replay.WithPlayerMetrics(m))
		src := replay.NewSource(ctx, player)
		defer src.Close()
		deps.Source = src
	} else {
		src, err := openInput(opts.input)
		if err != nil {
			return err
		}
		defer src.Close()
		deps.Source = src
	}

	if opts.output != "" {
		out, err := os.OpenFile(opts.output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening command output: %w", err)
		}
		defer out.Close()
		deps.CommandOut = out
	}

	deps.AudioControl = audio.ControlSinkFunc(func(c audio.Control) {
		logger.Info("audio control",
			slog.String("channel", c.Channel.String()),
			slog.Int("command", int(c.Command)),
			slog.Float64("volume", float64(c.Volume)))
	})

	var capture *recording
	if opts.recordDir != "" {
		capture, err = startRecording(opts.recordDir, id, opts.compression)
		if err != nil {
			return err
		}
		deps.Recorder = capture.recorder
	}

	sessCfg, err := session.ConfigFrom(cfg)
	if err != nil {
		return err
	}
	s, err := session.New(sessCfg, deps)
	if err != nil {
		return err
	}

	if opts.audioOut != "" {
		stopDrain, err := startAudioDrain(ctx, s.Mixer(), opts.audioOut, logger)
		if err != nil {
			return err
		}
		defer stopDrain()
	}

	runErr := registry.Run(ctx, s)

	if capture != nil {
		name := opts.name
		if name == "" {
			name = id
		}
		if err := capture.finish(context.WithoutCancel(ctx), db, name); err != nil {
			logger.Error("saving capture", slog.String("error", err.Error()))
			if runErr == nil {
				runErr = err
			}
		}
	}
	return runErr
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}

func playerConfig(cfg *config.Config) replay.PlayerConfig {
	return replay.PlayerConfig{
		DrainGrace:       cfg.Replay.DrainGrace,
		ProgressInterval: cfg.Replay.ProgressInterval,
		Loop:             cfg.Replay.Loop,
	}
}

// recording writes a live session to a capture and registers it.
type recording struct {
	store       *storage.CaptureStore
	recorder    *replay.Recorder
	blob        *os.File
	blobPath    string
	compression replay.Compression
}

func startRecording(dir, sessionID string, c replay.Compression) (*recording, error) {
	store, err := storage.NewCaptureStore(dir)
	if err != nil {
		return nil, err
	}
	blob, blobPath, err := store.CreateBlob(sessionID, c)
	if err != nil {
		return nil, err
	}
	rec, err := replay.NewRecorder(blob, sessionID, c)
	if err != nil {
		_ = blob.Close()
		return nil, err
	}
	return &recording{store: store, recorder: rec, blob: blob, blobPath: blobPath, compression: c}, nil
}

func (r *recording) finish(ctx context.Context, db *catalog.DB, name string) error {
	idx, err := r.recorder.Close()
	if closeErr := r.blob.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("closing capture blob: %w", err)
	}

	indexPath, err := r.store.WriteIndex(idx)
	if err != nil {
		return err
	}

	capture := catalog.CaptureFromIndex(name, indexPath, r.blobPath, string(r.compression), idx)
	return catalog.NewCaptureRepository(db.DB).Create(ctx, capture)
}

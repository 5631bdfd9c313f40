package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/cpcbridge/internal/catalog"
	"github.com/jmylchreest/cpcbridge/internal/replay"
	"github.com/jmylchreest/cpcbridge/internal/session"
)

var replayCmd = &cobra.Command{
	Use:   "replay INDEX BLOB",
	Short: "Replay a capture through the pipeline",
	Long: `Replay a recorded capture through the framer, video engine and audio
mixer with its original packet timing, then print the session statistics.

Either file may be compressed (gzip, bzip2, xz or brotli). Each run is
recorded in the capture catalog unless --no-catalog is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().String("dump-ts", "", "write decoded video to an MPEG-TS file")
	replayCmd.Flags().String("audio-out", "", "write the main audio channel as raw PCM")
	replayCmd.Flags().Bool("loop", false, "replay the capture until interrupted")
	replayCmd.Flags().Bool("no-catalog", false, "do not record the run in the catalog")
	replayCmd.Flags().String("name", "", "catalog name if the capture is not catalogued yet")
	mustBindPFlag("replay.loop", replayCmd.Flags().Lookup("loop"))
}

// replayReport is printed when a replay finishes.
type replayReport struct {
	Capture  replay.Summary `json:"capture"`
	Emitted  int            `json:"emitted"`
	Passes   int            `json:"passes"`
	Elapsed  string         `json:"elapsed"`
	Session  session.Stats  `json:"session"`
	RunID    string         `json:"run_id,omitempty"`
	Outcome  string         `json:"outcome"`
	ErrorMsg string         `json:"error,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	indexPath, blobPath := args[0], args[1]
	dumpTS, _ := cmd.Flags().GetString("dump-ts")
	audioOut, _ := cmd.Flags().GetString("audio-out")
	noCatalog, _ := cmd.Flags().GetBool("no-catalog")
	name, _ := cmd.Flags().GetString("name")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	rec, err := replay.Load(indexPath, blobPath)
	if err != nil {
		return err
	}

	var (
		runs catalog.ReplayRunRepository
		run  *catalog.ReplayRun
	)
	if !noCatalog {
		db, err := openCatalog(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		captureID, err := ensureCapture(ctx, catalog.NewCaptureRepository(db.DB), name, indexPath, blobPath, rec.Index)
		if err != nil {
			return err
		}
		runs = catalog.NewReplayRunRepository(db.DB)
		if run, err = runs.Start(ctx, captureID); err != nil {
			return fmt.Errorf("starting replay run: %w", err)
		}
	}

	var (
		mu   sync.Mutex
		last replay.Progress
	)
	player := replay.NewPlayer(rec, playerConfig(cfg),
		replay.WithPlayerLogger(logger),
		replay.WithProgress(func(p replay.Progress) {
			mu.Lock()
			last = p
			mu.Unlock()
			logger.Debug("replay progress",
				slog.Int("pass", p.Pass),
				slog.Int("emitted", p.Emitted),
				slog.Int("total", p.Total),
				slog.Duration("elapsed", p.Elapsed))
		}))
	src := replay.NewSource(ctx, player)
	defer src.Close()

	decoder, err := newDecoder(dumpTS, logger)
	if err != nil {
		return err
	}
	sessCfg, err := session.ConfigFrom(cfg)
	if err != nil {
		return err
	}
	s, err := session.New(sessCfg, session.Deps{
		ID:      rec.Index.Session.ID,
		Source:  src,
		Decoder: decoder,
		Logger:  logger,
		Metrics: newMetrics(cfg),
	})
	if err != nil {
		return err
	}

	if audioOut != "" {
		stopDrain, err := startAudioDrain(ctx, s.Mixer(), audioOut, logger)
		if err != nil {
			return err
		}
		defer stopDrain()
	}

	start := time.Now()
	runErr := s.Run(ctx)
	if runErr == nil {
		runErr = src.Err()
	}

	mu.Lock()
	final := last
	mu.Unlock()

	report := replayReport{
		Capture: rec.Index.Summarize(),
		Emitted: final.Emitted,
		Passes:  final.Pass + 1,
		Elapsed: time.Since(start).Round(time.Millisecond).String(),
		Session: s.Stats(),
		Outcome: string(outcomeOf(ctx, runErr)),
	}
	if runErr != nil {
		report.ErrorMsg = runErr.Error()
	}

	if run != nil {
		run.Outcome = outcomeOf(ctx, runErr)
		run.Emitted = final.Emitted
		run.Error = report.ErrorMsg
		run.ApplyStats(report.Session)
		// The signal context may already be cancelled.
		if err := runs.Finish(context.WithoutCancel(ctx), run); err != nil {
			logger.Error("recording replay run", slog.String("error", err.Error()))
		}
		report.RunID = run.ID.String()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return runErr
}

// ensureCapture returns the catalog ID for idx, registering it if needed.
func ensureCapture(ctx context.Context, repo catalog.CaptureRepository, name, indexPath, blobPath string, idx *replay.Index) (catalog.ULID, error) {
	existing, err := repo.GetBySessionID(ctx, idx.Session.ID)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return catalog.ULID{}, fmt.Errorf("looking up capture: %w", err)
	}

	if name == "" {
		name = idx.Session.ID
	}
	capture := catalog.CaptureFromIndex(name, indexPath, blobPath, string(compressionFromPath(blobPath)), idx)
	if err := repo.Create(ctx, capture); err != nil {
		return catalog.ULID{}, fmt.Errorf("registering capture: %w", err)
	}
	return capture.ID, nil
}

func outcomeOf(ctx context.Context, err error) catalog.RunOutcome {
	switch {
	case ctx.Err() != nil:
		return catalog.OutcomeCancelled
	case err != nil:
		return catalog.OutcomeFailed
	default:
		return catalog.OutcomeCompleted
	}
}

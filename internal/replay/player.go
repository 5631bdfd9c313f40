package replay

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jmylchreest/cpcbridge/internal/metrics"
	"github.com/jmylchreest/cpcbridge/internal/observability"
)

// Recording couples a validated index with a way to open its blob. The blob
// is reopened for every pass since it can only be read forward.
type Recording struct {
	Index *Index
	open  func() (io.ReadCloser, error)
}

// NewRecording builds a Recording from an index and a blob opener.
func NewRecording(idx *Index, open func() (io.ReadCloser, error)) *Recording {
	return &Recording{Index: idx, open: open}
}

// Load reads an index file and prepares its blob for replay. Both files
// may be compressed.
func Load(indexPath, blobPath string) (*Recording, error) {
	f, err := os.Open(indexPath)
	if err != nil {
		return nil, replayErr(KindInvalidIndex, -1, indexPath, err)
	}
	defer f.Close()

	r, err := NewBlobReader(f, indexPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	idx, err := LoadIndex(r)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(blobPath); err != nil {
		return nil, replayErr(KindBlob, -1, blobPath, err)
	}
	return NewRecording(idx, func() (io.ReadCloser, error) { return OpenBlob(blobPath) }), nil
}

// Packet is one replayed IN packet.
type Packet struct {
	Record PacketRecord
	Data   []byte
	// Due is the scheduled offset from the start of the pass.
	Due time.Duration
	// Pass counts completed loops, starting at zero.
	Pass int
}

// Progress reports replay position.
type Progress struct {
	Pass     int
	Emitted  int
	Total    int
	Elapsed  time.Duration
	Duration time.Duration
	Done     bool
}

// PlayerConfig tunes a Player.
type PlayerConfig struct {
	// DrainGrace is how long Play waits after the last packet so consumers
	// can finish with buffered data.
	DrainGrace time.Duration
	// ProgressInterval bounds how often the progress callback fires.
	ProgressInterval time.Duration
	// Loop restarts from the first packet after each pass.
	Loop bool
}

// DefaultPlayerConfig returns the standard timings.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		DrainGrace:       500 * time.Millisecond,
		ProgressInterval: 500 * time.Millisecond,
	}
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithProgress sets the progress callback.
func WithProgress(fn func(Progress)) PlayerOption {
	return func(p *Player) { p.progress = fn }
}

// WithPlayerLogger sets the logger.
func WithPlayerLogger(l *slog.Logger) PlayerOption {
	return func(p *Player) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPlayerMetrics sets the metrics recorder.
func WithPlayerMetrics(m *metrics.Metrics) PlayerOption {
	return func(p *Player) { p.metrics = m }
}

// Player re-emits the IN packets of a recording at their recorded pace.
type Player struct {
	rec      *Recording
	cfg      PlayerConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	progress func(Progress)
}

// NewPlayer creates a player for rec.
func NewPlayer(rec *Recording, cfg PlayerConfig, opts ...PlayerOption) *Player {
	p := &Player{
		rec:    rec,
		cfg:    cfg,
		logger: observability.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play emits packets to emit, pacing each to its timestamp relative to the
// first IN packet. It returns ctx.Err() on cancellation, the first emit
// error, or a *ReplayError for blob faults.
func (p *Player) Play(ctx context.Context, emit func(Packet) error) error {
	packets := p.rec.Index.InPackets()
	p.logger.InfoContext(ctx, "replay starting",
		slog.String("session_id", p.rec.Index.Session.ID),
		slog.Int("packets", len(packets)),
		slog.Duration("effective_duration", p.rec.Index.EffectiveDuration()),
		slog.Bool("loop", p.cfg.Loop))

	for pass := 0; ; pass++ {
		if err := p.playPass(ctx, pass, packets, emit); err != nil {
			return err
		}
		if !p.cfg.Loop || len(packets) == 0 {
			break
		}
	}

	if err := sleep(ctx, p.cfg.DrainGrace); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "replay finished", slog.String("session_id", p.rec.Index.Session.ID))
	return nil
}

func (p *Player) playPass(ctx context.Context, pass int, packets []PacketRecord, emit func(Packet) error) error {
	blob, err := p.rec.open()
	if err != nil {
		return err
	}
	defer blob.Close()

	cur := &cursor{r: blob}
	total := p.rec.Index.EffectiveDuration()
	start := time.Now()
	var lastProgress time.Time

	report := func(emitted int, done bool) {
		if p.progress == nil {
			return
		}
		now := time.Now()
		if !done && now.Sub(lastProgress) < p.cfg.ProgressInterval {
			return
		}
		lastProgress = now
		p.progress(Progress{
			Pass:     pass,
			Emitted:  emitted,
			Total:    len(packets),
			Elapsed:  now.Sub(start),
			Duration: total,
			Done:     done,
		})
	}

	for i, rec := range packets {
		data, err := cur.read(rec)
		if err != nil {
			return err
		}

		due := time.Duration(rec.TimestampMs-packets[0].TimestampMs) * time.Millisecond
		if err := sleep(ctx, due-time.Since(start)); err != nil {
			return err
		}

		if err := emit(Packet{Record: rec, Data: data, Due: due, Pass: pass}); err != nil {
			return err
		}
		lag := time.Since(start) - due
		p.metrics.RecordReplayPacket(lag.Seconds())
		if lag > 50*time.Millisecond {
			p.logger.Debug("replay behind schedule",
				slog.Int64("seq", rec.Seq),
				slog.Duration("lag", lag))
		}
		report(i+1, false)
	}
	report(len(packets), true)
	return nil
}

// sleep waits for d or until ctx is done. Non-positive durations only check
// the context.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/cpcbridge/internal/codec"
	"github.com/jmylchreest/cpcbridge/internal/metrics"
	"github.com/jmylchreest/cpcbridge/internal/protocol"
)

// ErrDecoderReset is returned by Run when the decoder could not be recreated.
// The session cannot continue.
var ErrDecoderReset = errors.New("decoder reset failed")

// Reset causes.
const (
	causePoisoned         = "poisoned"
	causeRetriesExhausted = "keyframe_retries_exhausted"
	causeDecoderError     = "decoder_error"
	causeRequested        = "requested"
)

// Config holds engine tuning.
type Config struct {
	// StalenessBudget is the maximum wall-clock age of a non-IDR payload at
	// admission and at handoff.
	StalenessBudget time.Duration
	// StallTimeout is how long fed payloads may go without output.
	StallTimeout time.Duration
	// KeyframeRetries is the number of keyframe requests made while stalled
	// before the decoder is reset.
	KeyframeRetries int
	// WatchdogInterval is the liveness check period used by Run.
	WatchdogInterval time.Duration
	// CacheParameterSets keeps the last SPS/PPS and prepends them to bare IDRs.
	CacheParameterSets bool
	// MaxBundleSize bounds a coalesced IDR bundle.
	MaxBundleSize int
}

// DefaultConfig returns the default engine tuning.
func DefaultConfig() Config {
	return Config{
		StalenessBudget:    40 * time.Millisecond,
		StallTimeout:       200 * time.Millisecond,
		KeyframeRetries:    3,
		WatchdogInterval:   50 * time.Millisecond,
		CacheParameterSets: true,
		MaxBundleSize:      protocol.MaxPayloadSize,
	}
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	State      State  `json:"state"`
	Generation uint64 `json:"generation"`

	Admitted   uint64 `json:"admitted"`
	Fed        uint64 `json:"fed"`
	Outputs    uint64 `json:"outputs"`
	Superseded uint64 `json:"superseded"`
	Coalesced  uint64 `json:"coalesced"`

	DroppedAwaitingIDR uint64 `json:"dropped_awaiting_idr"`
	DroppedStale       uint64 `json:"dropped_stale"`
	DroppedMalformed   uint64 `json:"dropped_malformed"`
	DroppedNoSlice     uint64 `json:"dropped_no_slice"`
	DroppedResetting   uint64 `json:"dropped_resetting"`
	DroppedOverflow    uint64 `json:"dropped_overflow"`

	KeyframeRequests uint64 `json:"keyframe_requests"`
	Resets           uint64 `json:"resets"`
	DecodeErrors     uint64 `json:"decode_errors"`

	// Since the last reset.
	IDRsFed        uint64 `json:"idrs_fed"`
	OutputsInEpoch uint64 `json:"outputs_in_epoch"`

	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithCommandSink sets the sink for keyframe and reset intents.
func WithCommandSink(s CommandSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStateObserver registers a transition observer.
func WithStateObserver(o StateObserver) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

type transition struct {
	from, to State
	cause    string
}

// effects are collected under the lock and applied after it is released, so
// sinks and observers may call back into the engine.
type effects struct {
	transitions []transition
	commands    []Command
	wake        bool
}

// Engine is the video admission state machine. Admit is called from the
// producer goroutine, ReportOutput and ReportError from the decoder's
// context, and Run drives handoff, resets and the liveness watchdog. All
// state lives behind one mutex.
type Engine struct {
	cfg       Config
	decoder   Decoder
	sink      CommandSink
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	observers []StateObserver

	wake chan struct{}

	mu    sync.Mutex
	state State
	// pending is the single handoff slot.
	pending *Frame
	seq     uint64
	sps     []byte
	pps     []byte

	// awaitingOutputSince is the time of the first feed after the last
	// output, zero when nothing is outstanding.
	awaitingOutputSince time.Time
	stallStarted        time.Time
	lastFire            time.Time
	idrFedAt            time.Time // last IDR fed while stalled
	keyframeRequests    int
	resetPending        bool
	closed              bool

	stats Stats
}

// NewEngine creates an engine in StateAwaitingIDR.
func NewEngine(cfg Config, dec Decoder, opts ...Option) *Engine {
	if cfg.MaxBundleSize <= 0 || cfg.MaxBundleSize > protocol.MaxPayloadSize {
		cfg.MaxBundleSize = protocol.MaxPayloadSize
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = DefaultConfig().WatchdogInterval
	}
	e := &Engine{
		cfg:     cfg,
		decoder: dec,
		sink:    discardSink{},
		logger:  slog.Default(),
		now:     time.Now,
		wake:    make(chan struct{}, 1),
		state:   StateAwaitingIDR,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "video"))
	if src, ok := dec.(OutputSource); ok {
		src.SetOutputHandler(e.ReportOutput)
	}
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.State = e.state
	return s
}

// dispatch runs fn under the engine lock and applies its effects afterwards.
func (e *Engine) dispatch(fn func(fx *effects)) {
	var fx effects
	e.mu.Lock()
	if !e.closed {
		fn(&fx)
	}
	e.mu.Unlock()
	e.apply(fx)
}

func (e *Engine) apply(fx effects) {
	for _, t := range fx.transitions {
		e.logger.Info("video state changed",
			slog.String("from", t.from.String()),
			slog.String("to", t.to.String()),
			slog.String("cause", t.cause))
		for _, o := range e.observers {
			o(t.from, t.to)
		}
	}
	for _, c := range fx.commands {
		e.sink.SendCommand(c)
	}
	if fx.wake {
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}
}

func (e *Engine) transition(fx *effects, to State, cause string) {
	if e.state == to {
		return
	}
	fx.transitions = append(fx.transitions, transition{from: e.state, to: to, cause: cause})
	e.state = to
	e.metrics.RecordStateTransition(to.String())
}

// Admit decides the fate of one video payload. It never blocks on the
// decoder. receivedAt is the local wall-clock receipt time; source
// timestamps are never consulted.
func (e *Engine) Admit(frame protocol.VideoFrame, receivedAt time.Time) Decision {
	d := DecisionDropResetting
	e.dispatch(func(fx *effects) {
		d = e.admit(fx, frame, receivedAt)
		e.count(d)
	})
	if d.Dropped() {
		e.logger.Debug("video payload dropped",
			slog.String("reason", d.String()),
			slog.Int("bytes", len(frame.Data)))
	}
	return d
}

func (e *Engine) admit(fx *effects, frame protocol.VideoFrame, receivedAt time.Time) Decision {
	bundle, err := codec.ClassifyH264(frame.Data)
	if err != nil {
		return DecisionDropMalformed
	}
	if e.cfg.CacheParameterSets {
		if bundle.SPS != nil {
			e.cacheSPS(bundle.SPS)
		}
		if bundle.PPS != nil {
			e.pps = append(e.pps[:0], bundle.PPS...)
		}
	}

	kind := bundle.Kind()
	switch e.state {
	case StateResetting, StatePoisoned:
		return DecisionDropResetting

	case StateAwaitingIDR:
		switch kind {
		case codec.KindIDR:
		case codec.KindParameterSets:
			return DecisionCached
		default:
			return DecisionDropAwaitingIDR
		}

	default:
		switch kind {
		case codec.KindIDR, codec.KindNonIDR:
		case codec.KindParameterSets:
			return DecisionCached
		default:
			return DecisionDropNoSlice
		}
	}

	now := e.now()
	f := &Frame{
		Data:       frame.Data,
		Width:      frame.Width,
		Height:     frame.Height,
		IDR:        kind == codec.KindIDR,
		ReceivedAt: receivedAt,
	}

	if f.IDR {
		if !bundle.HasParameterSets() && (e.sps != nil || e.pps != nil) {
			data, err := bundle.WithParameterSets(e.sps, e.pps)
			if err != nil {
				return DecisionDropMalformed
			}
			f.Data = data
		}
		if e.state == StateAwaitingIDR {
			e.transition(fx, StateStreaming, "idr")
		}
	} else {
		// IDRs are exempt: dropping the only resync point perpetuates corruption.
		if f.Age(now) > e.cfg.StalenessBudget {
			return DecisionDropStale
		}
		if p := e.pending; p != nil && p.IDR {
			if len(p.Data)+len(f.Data) > e.cfg.MaxBundleSize {
				return DecisionDropOverflow
			}
			p.Data = append(p.Data, f.Data...)
			p.ReceivedAt = f.ReceivedAt
			fx.wake = true
			return DecisionCoalesced
		}
	}

	if e.pending != nil {
		e.stats.Superseded++
		e.metrics.RecordVideoDropped("superseded")
	}
	e.seq++
	f.Seq = e.seq
	e.pending = f
	fx.wake = true
	return DecisionAdmitted
}

func (e *Engine) cacheSPS(sps []byte) {
	changed := !bytes.Equal(sps, e.sps)
	e.sps = append(e.sps[:0], sps...)
	if !changed {
		return
	}
	info, err := codec.ParseSPS(e.sps)
	if err != nil {
		e.logger.Debug("unparseable SPS", slog.String("error", err.Error()))
		return
	}
	e.stats.Width, e.stats.Height = info.Width, info.Height
	e.logger.Info("video parameters",
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.Float64("fps", info.FPS))
}

func (e *Engine) count(d Decision) {
	switch d {
	case DecisionAdmitted:
		e.stats.Admitted++
		e.metrics.RecordVideoAdmitted()
		return
	case DecisionCoalesced:
		e.stats.Coalesced++
		e.metrics.RecordVideoAdmitted()
		return
	case DecisionCached:
		return
	case DecisionDropAwaitingIDR:
		e.stats.DroppedAwaitingIDR++
	case DecisionDropStale:
		e.stats.DroppedStale++
	case DecisionDropMalformed:
		e.stats.DroppedMalformed++
	case DecisionDropNoSlice:
		e.stats.DroppedNoSlice++
	case DecisionDropResetting:
		e.stats.DroppedResetting++
	case DecisionDropOverflow:
		e.stats.DroppedOverflow++
	}
	e.metrics.RecordVideoDropped(d.String())
}

// take empties the handoff slot. Non-IDR frames that went stale while
// waiting are dropped here.
func (e *Engine) take() *Frame {
	var f *Frame
	e.dispatch(func(fx *effects) {
		if e.pending == nil || e.resetPending {
			return
		}
		p := e.pending
		e.pending = nil

		now := e.now()
		age := p.Age(now)
		if !p.IDR && age > e.cfg.StalenessBudget {
			e.count(DecisionDropStale)
			return
		}

		e.stats.Fed++
		if e.awaitingOutputSince.IsZero() {
			e.awaitingOutputSince = now
		}
		if p.IDR {
			e.stats.IDRsFed++
			if e.state == StateStalled {
				e.idrFedAt = now
			}
		}
		e.metrics.ObserveHandoffAge(age.Seconds())
		f = p
	})
	return f
}

// Pending reports whether a frame is waiting in the handoff slot.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

// ReportOutput records that the decoder produced a frame. Safe to call from
// any goroutine.
func (e *Engine) ReportOutput() {
	e.dispatch(func(fx *effects) {
		e.stats.Outputs++
		e.stats.OutputsInEpoch++
		e.awaitingOutputSince = time.Time{}
		if e.state == StateStalled {
			e.keyframeRequests = 0
			e.idrFedAt = time.Time{}
			e.transition(fx, StateStreaming, "output")
		}
	})
}

// ReportError records a decoder failure and forces a reset.
func (e *Engine) ReportError(err error) {
	e.dispatch(func(fx *effects) {
		e.stats.DecodeErrors++
		if e.state == StateResetting {
			return
		}
		e.logger.Warn("decoder error", slog.String("error", err.Error()))
		e.beginReset(fx, causeDecoderError)
	})
}

// RequestReset forces a reset, e.g. on user request.
func (e *Engine) RequestReset() {
	e.dispatch(func(fx *effects) {
		if e.state != StateResetting {
			e.beginReset(fx, causeRequested)
		}
	})
}

// CheckLiveness runs one watchdog evaluation at now.
func (e *Engine) CheckLiveness(now time.Time) {
	e.dispatch(func(fx *effects) {
		switch e.state {
		case StateStreaming:
			if e.awaitingOutputSince.IsZero() || now.Sub(e.awaitingOutputSince) < e.cfg.StallTimeout {
				return
			}
			e.stallStarted = now
			e.lastFire = now
			e.idrFedAt = time.Time{}
			e.keyframeRequests = 0
			e.transition(fx, StateStalled, "no_output")
			e.requestKeyframe(fx)

		case StateStalled:
			if now.Sub(e.lastFire) < e.cfg.StallTimeout {
				return
			}
			// An IDR still inside its decode window has not failed yet.
			if !e.idrFedAt.IsZero() && now.Sub(e.idrFedAt) < e.cfg.StallTimeout {
				return
			}
			e.lastFire = now
			switch {
			case !e.idrFedAt.IsZero():
				e.transition(fx, StatePoisoned, "idr_without_output")
				e.beginReset(fx, causePoisoned)
			case e.keyframeRequests >= e.cfg.KeyframeRetries:
				e.beginReset(fx, causeRetriesExhausted)
			default:
				e.requestKeyframe(fx)
			}
		}
	})
}

func (e *Engine) requestKeyframe(fx *effects) {
	e.keyframeRequests++
	e.stats.KeyframeRequests++
	e.metrics.RecordKeyframeRequest()
	fx.commands = append(fx.commands, CommandRequestKeyframe)
}

func (e *Engine) beginReset(fx *effects, cause string) {
	e.transition(fx, StateResetting, cause)
	e.pending = nil
	e.resetPending = true
	e.stats.Resets++
	e.metrics.RecordDecoderReset(cause)
	fx.commands = append(fx.commands, CommandResetDecoder)
	fx.wake = true
}

// finishReset returns to StateAwaitingIDR with all in-flight state discarded.
func (e *Engine) finishReset() {
	e.dispatch(func(fx *effects) {
		e.resetPending = false
		e.pending = nil
		e.awaitingOutputSince = time.Time{}
		e.stallStarted = time.Time{}
		e.lastFire = time.Time{}
		e.idrFedAt = time.Time{}
		e.keyframeRequests = 0
		e.stats.IDRsFed = 0
		e.stats.OutputsInEpoch = 0
		e.stats.Generation++
		e.transition(fx, StateAwaitingIDR, "reset_complete")
	})
}

func (e *Engine) needsReset() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resetPending
}

// Run feeds the decoder from the handoff slot, performs resets and drives
// the liveness watchdog until ctx is done. It returns nil on cancellation
// and an error wrapping ErrDecoderReset if the decoder cannot be recreated.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.CheckLiveness(e.now())
		case <-e.wake:
		}
		if err := e.drain(ctx); err != nil {
			return err
		}
	}
}

func (e *Engine) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		if e.needsReset() {
			// Decoder calls happen outside the lock so callbacks can't deadlock.
			if err := e.decoder.Reset(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %v", ErrDecoderReset, err)
			}
			e.finishReset()
			continue
		}

		f := e.take()
		if f == nil {
			return nil
		}
		if err := e.decoder.Decode(ctx, f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.ReportError(err)
		}
	}
	return nil
}

// Flush discards the pending frame.
func (e *Engine) Flush() {
	e.dispatch(func(fx *effects) {
		e.pending = nil
	})
}

// Close flushes the slot, stops accepting events and releases the decoder.
// Call it after Run has returned.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.pending = nil
	e.mu.Unlock()

	if err := e.decoder.Release(); err != nil {
		return fmt.Errorf("releasing decoder: %w", err)
	}
	return nil
}

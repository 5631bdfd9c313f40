// Package session owns one adapter connection: it reads the transport,
// frames messages, routes them to the video and audio pipelines and tears
// everything down when the connection ends.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/cpcbridge/internal/audio"
	"github.com/jmylchreest/cpcbridge/internal/metrics"
	"github.com/jmylchreest/cpcbridge/internal/observability"
	"github.com/jmylchreest/cpcbridge/internal/protocol"
	"github.com/jmylchreest/cpcbridge/internal/replay"
	"github.com/jmylchreest/cpcbridge/internal/router"
	"github.com/jmylchreest/cpcbridge/internal/video"
)

// ErrSessionFault means the stream desynchronised. The transport must
// reconnect and start a new session.
var ErrSessionFault = errors.New("session fault")

// Source is the transport byte stream. If it also implements io.Closer it
// is closed on cancellation to unblock a pending read.
type Source interface {
	io.Reader
}

// Deps are the collaborators a session is built from.
type Deps struct {
	Source  Source
	Decoder video.Decoder
	// ID overrides the generated session ID.
	ID string

	// CommandOut receives outbound command messages. Optional.
	CommandOut io.Writer
	// Commands observes every engine command. Optional.
	Commands video.CommandSink
	// Messages receives non-media messages. Defaults to a debug log sink.
	Messages router.MessageSink
	// AudioControl receives in-band audio control tails. Optional.
	AudioControl audio.ControlSink
	// Recorder captures inbound and outbound traffic. Optional.
	Recorder *replay.Recorder
	// StateObserver is notified of video state transitions. Optional.
	StateObserver video.StateObserver

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Status is the lifecycle phase of a session.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusEnded   Status = "ended"
	StatusFaulted Status = "faulted"
)

// Session is one adapter connection and its pipelines.
type Session struct {
	id       string
	cfg      Config
	src      Source
	engine   *video.Engine
	mixer    *audio.Mixer
	router   *router.Router
	commands *CommandWriter
	recorder *replay.Recorder
	logger   *slog.Logger
	metrics  *metrics.Metrics

	framed atomic.Uint64
	offset atomic.Int64

	mu        sync.Mutex
	status    Status
	startedAt time.Time
	endedAt   time.Time
	err       error
	cancel    context.CancelFunc
	done      chan struct{}
}

// New builds a session. Source and Decoder are required.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Source == nil {
		return nil, errors.New("session: source is required")
	}
	if deps.Decoder == nil {
		return nil, errors.New("session: decoder is required")
	}

	id := deps.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithSession(logger, id)

	s := &Session{
		id:       id,
		cfg:      cfg,
		src:      deps.Source,
		recorder: deps.Recorder,
		logger:   observability.WithComponent(logger, "session"),
		metrics:  deps.Metrics,
		status:   StatusCreated,
	}

	var sinks fanout
	if deps.CommandOut != nil {
		s.commands = NewCommandWriter(deps.CommandOut, observability.WithComponent(logger, "commands"), deps.Recorder)
		sinks = append(sinks, s.commands)
	}
	if deps.Commands != nil {
		sinks = append(sinks, deps.Commands)
	}

	videoOpts := []video.Option{
		video.WithLogger(logger),
		video.WithMetrics(deps.Metrics),
	}
	if len(sinks) > 0 {
		videoOpts = append(videoOpts, video.WithCommandSink(sinks))
	}
	if deps.StateObserver != nil {
		videoOpts = append(videoOpts, video.WithStateObserver(deps.StateObserver))
	}
	s.engine = video.NewEngine(cfg.Video, deps.Decoder, videoOpts...)

	audioOpts := []audio.Option{
		audio.WithLogger(logger),
		audio.WithMetrics(deps.Metrics),
	}
	if deps.AudioControl != nil {
		audioOpts = append(audioOpts, audio.WithControlSink(deps.AudioControl))
	}
	s.mixer = audio.NewMixer(cfg.Audio, audioOpts...)

	routerOpts := []router.Option{
		router.WithLogger(logger),
		router.WithMetrics(deps.Metrics),
	}
	if deps.Messages != nil {
		routerOpts = append(routerOpts, router.WithMessageSink(deps.Messages))
	}
	s.router = router.New(s.engine, s.mixer, routerOpts...)

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Engine returns the video engine.
func (s *Session) Engine() *video.Engine { return s.engine }

// Mixer returns the audio mixer.
func (s *Session) Mixer() *audio.Mixer { return s.mixer }

// Run drives the session until the source ends, a framing fault occurs, the
// decoder cannot be reset or ctx is cancelled. A clean end of stream and
// cancellation return nil. Framing faults return an error wrapping both
// ErrSessionFault and the *protocol.FramingError.
func (s *Session) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.status != StatusCreated {
		s.mu.Unlock()
		return fmt.Errorf("session %s already started", s.id)
	}
	s.status = StatusRunning
	s.startedAt = time.Now()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.metrics.SessionStarted()
	s.logger.InfoContext(ctx, "session started")
	defer func() {
		s.teardown(err)
		close(done)
	}()

	g, gctx := errgroup.WithContext(ctx)
	if c, ok := s.src.(io.Closer); ok {
		stop := context.AfterFunc(gctx, func() {
			_ = c.Close()
		})
		defer stop()
	}

	g.Go(func() error {
		return s.engine.Run(gctx)
	})
	if s.commands != nil {
		g.Go(func() error {
			return s.commands.Run(gctx)
		})
	}
	g.Go(func() error {
		// The other goroutines only stop on cancellation.
		defer cancel()
		return s.produce(gctx)
	})

	return g.Wait()
}

// Close stops a running session and waits for Run to finish tearing it
// down. A session that never ran is marked ended and its decoder released.
// Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.status {
	case StatusCreated:
		s.status = StatusEnded
		s.endedAt = time.Now()
		s.mu.Unlock()
		return s.engine.Close()
	case StatusRunning:
		cancel, done := s.cancel, s.done
		s.mu.Unlock()
		cancel()
		<-done
		return nil
	default:
		s.mu.Unlock()
		return nil
	}
}

func (s *Session) produce(ctx context.Context) error {
	r := io.Reader(s.src)
	if s.cfg.ReadChunkSize > 0 {
		r = bufio.NewReaderSize(r, s.cfg.ReadChunkSize)
	}
	framer := protocol.NewFramer(r, protocol.WithMaxPayload(s.cfg.MaxPayload))

	for {
		msg, err := framer.Next()
		s.offset.Store(framer.Offset())
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("transport closed", slog.Int64("offset", framer.Offset()))
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}

			var fe *protocol.FramingError
			if errors.As(err, &fe) {
				s.metrics.RecordFramingError(fe.Kind.String())
				s.logger.Error("framing fault, closing session",
					slog.String("kind", fe.Kind.String()),
					slog.Int64("offset", fe.Offset),
					slog.String("error", err.Error()))
				return fmt.Errorf("%w: %w", ErrSessionFault, err)
			}
			return fmt.Errorf("reading transport: %w", err)
		}

		s.framed.Add(1)
		if s.recorder != nil {
			if err := s.recorder.Record(replay.DirIn, msg); err != nil {
				s.logger.Warn("recording message failed", slog.String("error", err.Error()))
			}
		}
		s.router.Dispatch(msg)
	}
}

func (s *Session) teardown(runErr error) {
	s.engine.Flush()
	s.mixer.Flush()
	if err := s.engine.Close(); err != nil {
		s.logger.Warn("releasing decoder failed", slog.String("error", err.Error()))
	}

	fault := runErr != nil
	s.mu.Lock()
	s.endedAt = time.Now()
	s.err = runErr
	s.status = StatusEnded
	if fault {
		s.status = StatusFaulted
	}
	s.mu.Unlock()

	s.metrics.SessionEnded(fault)
	attrs := []any{
		slog.Uint64("messages", s.framed.Load()),
		slog.Duration("duration", s.endedAt.Sub(s.startedAt)),
	}
	if fault {
		s.logger.Error("session ended with fault", append(attrs, slog.String("error", runErr.Error()))...)
		return
	}
	s.logger.Info("session ended", attrs...)
}

// Stats is a point-in-time view of a session.
type Stats struct {
	ID        string           `json:"id"`
	Status    Status           `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
	Error     string           `json:"error,omitempty"`
	Messages  uint64           `json:"messages"`
	Offset    int64            `json:"offset"`
	Router    router.Stats     `json:"router"`
	Video     video.Stats      `json:"video"`
	Audio     audio.MixerStats `json:"audio"`
	Commands  *CommandStats    `json:"commands,omitempty"`
}

// CommandStats counts outbound commands.
type CommandStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Stats returns a snapshot of the session and its pipelines.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		ID:        s.id,
		Status:    s.status,
		StartedAt: s.startedAt,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		st.EndedAt = &ended
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	s.mu.Unlock()

	st.Messages = s.framed.Load()
	st.Offset = s.offset.Load()
	st.Router = s.router.Stats()
	st.Video = s.engine.Stats()
	st.Audio = s.mixer.Stats()
	if s.commands != nil {
		st.Commands = &CommandStats{Sent: s.commands.Sent(), Dropped: s.commands.Dropped()}
	}
	return st
}

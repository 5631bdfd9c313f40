package audio

import (
	"log/slog"
	"sync/atomic"

	"github.com/jmylchreest/cpcbridge/internal/metrics"
	"github.com/jmylchreest/cpcbridge/internal/protocol"
)

// Admission is the outcome of pushing one audio payload.
type Admission int

const (
	// Admitted wrote the PCM into the channel ring.
	Admitted Admission = iota
	// Forwarded passed an in-band control tail to the ControlSink.
	Forwarded
	// DroppedUndersized rejected PCM shorter than the configured floor.
	DroppedUndersized
	// DroppedMisaligned rejected PCM that is not a whole number of frames.
	DroppedMisaligned
	// DroppedUnknownFormat rejected an unmapped decode type.
	DroppedUnknownFormat
	// DroppedUnknownChannel rejected an unmapped audio type.
	DroppedUnknownChannel
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case Forwarded:
		return "forwarded"
	case DroppedUndersized:
		return "undersized"
	case DroppedMisaligned:
		return "misaligned"
	case DroppedUnknownFormat:
		return "unknown_format"
	case DroppedUnknownChannel:
		return "unknown_channel"
	default:
		return "unknown"
	}
}

// Dropped reports whether the payload was discarded.
func (a Admission) Dropped() bool {
	return a >= DroppedUndersized
}

// Control is an in-band audio control message.
type Control struct {
	Channel protocol.AudioType
	Command protocol.AudioCommand
	// RampDuration is set for volume ramps, in seconds.
	RampDuration float32
	Volume       float32
}

// ControlSink receives audio control messages. Implementations must not
// block.
type ControlSink interface {
	AudioControl(c Control)
}

// ControlSinkFunc adapts a function to ControlSink.
type ControlSinkFunc func(c Control)

// AudioControl calls f(c).
func (f ControlSinkFunc) AudioControl(c Control) { f(c) }

// Config holds mixer settings.
type Config struct {
	// BufferSize is the per-channel ring capacity in bytes.
	BufferSize int
	// MinPayload is the PCM floor below which payloads are dropped. A 4-byte
	// payload never reaches it: the framing layer reads 1- and 4-byte tails
	// as control, so one stereo 16-bit frame alone is never PCM.
	MinPayload int
	Fill       FillMode
}

// DefaultConfig returns the default mixer settings.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256 * 1024,
		MinPayload: 64,
		Fill:       FillSilence,
	}
}

type channelRing struct {
	ring       *Ring
	decodeType protocol.DecodeType
	format     protocol.AudioFormat
}

// Channel is one logical audio channel. Push writes into it from the
// producer goroutine; the playback sink for the channel reads from it.
type Channel struct {
	Type protocol.AudioType

	cur     atomic.Pointer[channelRing]
	metrics *metrics.Metrics
}

// Format returns the PCM layout currently buffered, false before the first
// payload.
func (c *Channel) Format() (protocol.AudioFormat, bool) {
	cr := c.cur.Load()
	if cr == nil {
		return protocol.AudioFormat{}, false
	}
	return cr.format, true
}

// Ring returns the current ring, nil before the first payload. A format
// change replaces the ring, so sinks should fetch it per read.
func (c *Channel) Ring() *Ring {
	cr := c.cur.Load()
	if cr == nil {
		return nil
	}
	return cr.ring
}

// Fill reads from the current ring into p, padding with silence when no
// ring exists yet. Returns the number of real bytes.
func (c *Channel) Fill(p []byte) int {
	r := c.Ring()
	if r == nil {
		clear(p)
		return 0
	}
	underruns, overwritten := r.underruns.Load(), r.overwritten.Load()
	n := r.Fill(p)
	if r.underruns.Load() != underruns {
		c.metrics.RecordAudioUnderrun(c.Type.String())
	}
	c.metrics.RecordAudioOverwritten(c.Type.String(), int(r.overwritten.Load()-overwritten))
	return n
}

// Read implements io.Reader over Fill.
func (c *Channel) Read(p []byte) (int, error) {
	c.Fill(p)
	return len(p), nil
}

// MixerStats is a snapshot of mixer counters.
type MixerStats struct {
	Admitted  uint64               `json:"admitted"`
	Forwarded uint64               `json:"forwarded"`
	Dropped   map[string]uint64    `json:"dropped"`
	Channels  map[string]RingStats `json:"channels"`
}

// Mixer routes audio payloads to per-channel rings. Mixing and ducking
// between channels is left to the playback sink.
type Mixer struct {
	cfg      Config
	control  ControlSink
	logger   *slog.Logger
	metrics  *metrics.Metrics
	channels map[protocol.AudioType]*Channel

	admitted  atomic.Uint64
	forwarded atomic.Uint64
	dropped   [DroppedUnknownChannel + 1]atomic.Uint64
}

// Option configures a Mixer.
type Option func(*Mixer)

// WithControlSink sets the receiver for in-band audio control messages.
func WithControlSink(s ControlSink) Option {
	return func(m *Mixer) { m.control = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mixer) { m.logger = l }
}

// WithMetrics sets the Prometheus metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Mixer) { m.metrics = mt }
}

// NewMixer creates a mixer with one channel per known audio type.
func NewMixer(cfg Config, opts ...Option) *Mixer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	m := &Mixer{
		cfg:    cfg,
		logger: slog.Default(),
		channels: map[protocol.AudioType]*Channel{
			protocol.AudioMain:       {Type: protocol.AudioMain},
			protocol.AudioNavigation: {Type: protocol.AudioNavigation},
			protocol.AudioMicrophone: {Type: protocol.AudioMicrophone},
			protocol.AudioAlert:      {Type: protocol.AudioAlert},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "audio"))
	for _, ch := range m.channels {
		ch.metrics = m.metrics
	}
	return m
}

// Channel returns the channel for t, nil if t is not a known audio type.
func (m *Mixer) Channel(t protocol.AudioType) *Channel {
	return m.channels[t]
}

// Push admits one audio payload. It never blocks.
func (m *Mixer) Push(f protocol.AudioFrame) Admission {
	a := m.push(f)
	switch {
	case a == Admitted:
		m.admitted.Add(1)
	case a == Forwarded:
		m.forwarded.Add(1)
	default:
		m.dropped[a].Add(1)
		m.metrics.RecordAudioDropped(a.String())
		m.logger.Debug("audio payload dropped",
			slog.String("reason", a.String()),
			slog.String("channel", f.AudioType.String()),
			slog.Int("bytes", len(f.Samples)))
	}
	return a
}

func (m *Mixer) push(f protocol.AudioFrame) Admission {
	if f.Control {
		if m.control != nil {
			m.control.AudioControl(Control{
				Channel:      f.AudioType,
				Command:      f.Command,
				RampDuration: f.RampDuration,
				Volume:       f.VolumeLevel(),
			})
		}
		return Forwarded
	}

	format, ok := f.DecodeType.Format()
	if !ok {
		return DroppedUnknownFormat
	}
	if len(f.Samples) < m.cfg.MinPayload || len(f.Samples) == 0 {
		return DroppedUndersized
	}
	if len(f.Samples)%format.FrameSize() != 0 {
		return DroppedMisaligned
	}
	ch := m.channels[f.AudioType]
	if ch == nil {
		return DroppedUnknownChannel
	}

	cr := ch.cur.Load()
	if cr == nil || cr.decodeType != f.DecodeType {
		cr = &channelRing{
			ring:       NewRing(m.cfg.BufferSize, format.FrameSize(), m.cfg.Fill),
			decodeType: f.DecodeType,
			format:     format,
		}
		ch.cur.Store(cr)
		m.logger.Info("audio channel format",
			slog.String("channel", f.AudioType.String()),
			slog.String("format", format.String()))
	}

	n := cr.ring.Write(f.Samples)
	m.metrics.RecordAudioWritten(f.AudioType.String(), n)
	return Admitted
}

// Flush discards all buffered audio by replacing every ring with an empty
// one of the same format.
func (m *Mixer) Flush() {
	for _, ch := range m.channels {
		cr := ch.cur.Load()
		if cr == nil {
			continue
		}
		ch.cur.Store(&channelRing{
			ring:       NewRing(m.cfg.BufferSize, cr.format.FrameSize(), m.cfg.Fill),
			decodeType: cr.decodeType,
			format:     cr.format,
		})
	}
}

// Stats returns a counter snapshot.
func (m *Mixer) Stats() MixerStats {
	s := MixerStats{
		Admitted:  m.admitted.Load(),
		Forwarded: m.forwarded.Load(),
		Dropped:   make(map[string]uint64),
		Channels:  make(map[string]RingStats),
	}
	for a := DroppedUndersized; a <= DroppedUnknownChannel; a++ {
		if n := m.dropped[a].Load(); n > 0 {
			s.Dropped[a.String()] = n
		}
	}
	for t, ch := range m.channels {
		if r := ch.Ring(); r != nil {
			s.Channels[t.String()] = r.Stats()
		}
	}
	return s
}

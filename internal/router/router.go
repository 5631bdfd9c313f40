// Package router dispatches framed messages to the video pipeline, the audio
// pipeline, or the external message sink.
package router

import (
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/cpcbridge/internal/audio"
	"github.com/jmylchreest/cpcbridge/internal/metrics"
	"github.com/jmylchreest/cpcbridge/internal/observability"
	"github.com/jmylchreest/cpcbridge/internal/protocol"
	"github.com/jmylchreest/cpcbridge/internal/video"
)

// VideoPipeline accepts video payloads. Admit must not block.
type VideoPipeline interface {
	Admit(frame protocol.VideoFrame, receivedAt time.Time) video.Decision
}

// AudioPipeline accepts audio payloads. Push must not block.
type AudioPipeline interface {
	Push(frame protocol.AudioFrame) audio.Admission
}

// MessageSink receives every message that is neither video nor audio.
// Implementations must not block.
type MessageSink interface {
	HandleMessage(msg *protocol.Message)
}

// MessageSinkFunc adapts a function to MessageSink.
type MessageSinkFunc func(msg *protocol.Message)

// HandleMessage calls f(msg).
func (f MessageSinkFunc) HandleMessage(msg *protocol.Message) { f(msg) }

// Route is the destination a message was dispatched to.
type Route int

const (
	RouteVideo Route = iota
	RouteAudio
	RouteMessage
	// RouteDropped means the media prefix could not be parsed.
	RouteDropped
)

func (r Route) String() string {
	switch r {
	case RouteVideo:
		return "video"
	case RouteAudio:
		return "audio"
	case RouteMessage:
		return "message"
	default:
		return "dropped"
	}
}

// Stats is a snapshot of router counters.
type Stats struct {
	Video    uint64 `json:"video"`
	Audio    uint64 `json:"audio"`
	Messages uint64 `json:"messages"`
	Dropped  uint64 `json:"dropped"`
}

// Router dispatches synchronously on the producer goroutine. Payload
// ownership passes to exactly one destination.
type Router struct {
	video    VideoPipeline
	audio    AudioPipeline
	messages MessageSink
	logger   *slog.Logger
	metrics  *metrics.Metrics

	counts [RouteDropped + 1]atomic.Uint64
}

// Option configures a Router.
type Option func(*Router)

// WithMessageSink sets the sink for non-media messages.
func WithMessageSink(s MessageSink) Option {
	return func(r *Router) { r.messages = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New creates a router. Without a message sink, non-media messages are
// logged at debug level.
func New(v VideoPipeline, a AudioPipeline, opts ...Option) *Router {
	r := &Router{
		video:  v,
		audio:  a,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "router"))
	if r.messages == nil {
		r.messages = NewLogSink(r.logger)
	}
	return r
}

// Dispatch hands msg to its destination.
func (r *Router) Dispatch(msg *protocol.Message) Route {
	route := r.dispatch(msg)
	r.counts[route].Add(1)
	r.metrics.RecordMessageFramed(msg.Type().String())
	r.metrics.RecordRouted(route.String())
	return route
}

func (r *Router) dispatch(msg *protocol.Message) Route {
	switch msg.Type() {
	case protocol.TypeVideoData:
		frame, err := protocol.ParseVideoFrame(msg.Payload)
		if err != nil {
			r.logger.Debug("video payload dropped", slog.String("error", err.Error()))
			return RouteDropped
		}
		r.video.Admit(frame, msg.ReceivedAt)
		return RouteVideo

	case protocol.TypeAudioData:
		frame, err := protocol.ParseAudioFrame(msg.Payload)
		if err != nil {
			r.logger.Debug("audio payload dropped", slog.String("error", err.Error()))
			return RouteDropped
		}
		r.audio.Push(frame)
		return RouteAudio

	default:
		r.messages.HandleMessage(msg)
		return RouteMessage
	}
}

// Stats returns a counter snapshot.
func (r *Router) Stats() Stats {
	return Stats{
		Video:    r.counts[RouteVideo].Load(),
		Audio:    r.counts[RouteAudio].Load(),
		Messages: r.counts[RouteMessage].Load(),
		Dropped:  r.counts[RouteDropped].Load(),
	}
}

// LogSink logs non-media messages. Pairing secrets are logged under keys the
// logger redacts.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// HandleMessage implements MessageSink.
func (s *LogSink) HandleMessage(msg *protocol.Message) {
	attrs := []any{
		slog.String("type", msg.Type().String()),
		slog.Int("bytes", len(msg.Payload)),
	}
	switch msg.Type() {
	case protocol.TypeBluetoothPIN:
		attrs = append(attrs, slog.String(observability.KeyBluetoothPIN, payloadString(msg.Payload)))
	case protocol.TypeBluetoothAddress:
		attrs = append(attrs, slog.String(observability.KeyBluetoothAddress, payloadString(msg.Payload)))
	case protocol.TypeBluetoothDeviceName, protocol.TypeWifiDeviceName, protocol.TypeSoftwareVersion:
		attrs = append(attrs, slog.String("value", payloadString(msg.Payload)))
	}
	s.logger.Debug("message received", attrs...)
}

func payloadString(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}

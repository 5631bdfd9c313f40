// Package metrics exposes Prometheus instrumentation for the bridge pipelines.
//
// All recording methods are safe on a nil *Metrics so pipelines can be built
// without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for a bridge process.
type Metrics struct {
	registry *prometheus.Registry

	// Framing
	MessagesFramed *prometheus.CounterVec
	FramingErrors  *prometheus.CounterVec
	MessagesRouted *prometheus.CounterVec

	// Video
	VideoAdmitted    prometheus.Counter
	VideoDropped     *prometheus.CounterVec
	VideoHandoffAge  prometheus.Histogram
	StateTransitions *prometheus.CounterVec
	KeyframeRequests prometheus.Counter
	DecoderResets    *prometheus.CounterVec

	// Audio
	AudioWritten     *prometheus.CounterVec
	AudioDropped     *prometheus.CounterVec
	AudioUnderruns   *prometheus.CounterVec
	AudioOverwritten *prometheus.CounterVec

	// Replay
	ReplayPackets prometheus.Counter
	ReplayLag     prometheus.Histogram

	// Sessions
	ActiveSessions prometheus.Gauge
	SessionFaults  prometheus.Counter
}

// New creates and registers all metrics on a fresh registry under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MessagesFramed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_framed_total",
			Help:      "Total number of protocol messages framed, by type",
		}, []string{"type"}),
		FramingErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "framing_errors_total",
			Help:      "Total number of framing faults, by kind",
		}, []string{"kind"}),
		MessagesRouted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Total number of messages dispatched, by destination",
		}, []string{"destination"}),

		VideoAdmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_admitted_total",
			Help:      "Total number of video payloads placed in the handoff slot",
		}),
		VideoDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_dropped_total",
			Help:      "Total number of video payloads dropped, by reason",
		}, []string{"reason"}),
		VideoHandoffAge: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "video_handoff_age_seconds",
			Help:      "Wall-clock age of video payloads at decoder handoff",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~0.5s
		}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_state_transitions_total",
			Help:      "Total number of decoder state transitions, by target state",
		}, []string{"state"}),
		KeyframeRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_keyframe_requests_total",
			Help:      "Total number of keyframe requests emitted",
		}),
		DecoderResets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_decoder_resets_total",
			Help:      "Total number of decoder resets, by cause",
		}, []string{"cause"}),

		AudioWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_written_bytes_total",
			Help:      "Total PCM bytes written to ring buffers, by channel",
		}, []string{"channel"}),
		AudioDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_dropped_total",
			Help:      "Total number of audio payloads dropped, by reason",
		}, []string{"reason"}),
		AudioUnderruns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_underruns_total",
			Help:      "Total number of reads padded with fill, by channel",
		}, []string{"channel"}),
		AudioOverwritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_overwritten_bytes_total",
			Help:      "Total unread PCM bytes evicted by overflow, by channel",
		}, []string{"channel"}),

		ReplayPackets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_packets_total",
			Help:      "Total number of packets emitted by the replay harness",
		}),
		ReplayLag: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replay_lag_seconds",
			Help:      "Delay between scheduled and actual replay emission",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of running bridge sessions",
		}),
		SessionFaults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_faults_total",
			Help:      "Total number of sessions ended by a connection-level fault",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordMessageFramed increments the framed counter for a message type name.
func (m *Metrics) RecordMessageFramed(typeName string) {
	if m == nil {
		return
	}
	m.MessagesFramed.WithLabelValues(typeName).Inc()
}

// RecordFramingError increments the framing fault counter.
func (m *Metrics) RecordFramingError(kind string) {
	if m == nil {
		return
	}
	m.FramingErrors.WithLabelValues(kind).Inc()
}

// RecordRouted increments the dispatch counter for a destination.
func (m *Metrics) RecordRouted(destination string) {
	if m == nil {
		return
	}
	m.MessagesRouted.WithLabelValues(destination).Inc()
}

// RecordVideoAdmitted increments the admitted counter.
func (m *Metrics) RecordVideoAdmitted() {
	if m == nil {
		return
	}
	m.VideoAdmitted.Inc()
}

// RecordVideoDropped increments the drop counter for reason.
func (m *Metrics) RecordVideoDropped(reason string) {
	if m == nil {
		return
	}
	m.VideoDropped.WithLabelValues(reason).Inc()
}

// ObserveHandoffAge records the age of a payload at decoder handoff.
func (m *Metrics) ObserveHandoffAge(seconds float64) {
	if m == nil {
		return
	}
	m.VideoHandoffAge.Observe(seconds)
}

// RecordStateTransition increments the transition counter for the new state.
func (m *Metrics) RecordStateTransition(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

// RecordKeyframeRequest increments the keyframe request counter.
func (m *Metrics) RecordKeyframeRequest() {
	if m == nil {
		return
	}
	m.KeyframeRequests.Inc()
}

// RecordDecoderReset increments the reset counter for cause.
func (m *Metrics) RecordDecoderReset(cause string) {
	if m == nil {
		return
	}
	m.DecoderResets.WithLabelValues(cause).Inc()
}

// RecordAudioWritten adds n bytes to the channel's written counter.
func (m *Metrics) RecordAudioWritten(channel string, n int) {
	if m == nil {
		return
	}
	m.AudioWritten.WithLabelValues(channel).Add(float64(n))
}

// RecordAudioDropped increments the audio drop counter for reason.
func (m *Metrics) RecordAudioDropped(reason string) {
	if m == nil {
		return
	}
	m.AudioDropped.WithLabelValues(reason).Inc()
}

// RecordAudioUnderrun increments the underrun counter for channel.
func (m *Metrics) RecordAudioUnderrun(channel string) {
	if m == nil {
		return
	}
	m.AudioUnderruns.WithLabelValues(channel).Inc()
}

// RecordAudioOverwritten adds n evicted bytes for channel.
func (m *Metrics) RecordAudioOverwritten(channel string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioOverwritten.WithLabelValues(channel).Add(float64(n))
}

// RecordReplayPacket records one replayed packet and its scheduling lag.
func (m *Metrics) RecordReplayPacket(lagSeconds float64) {
	if m == nil {
		return
	}
	m.ReplayPackets.Inc()
	m.ReplayLag.Observe(lagSeconds)
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active session gauge and counts faults.
func (m *Metrics) SessionEnded(fault bool) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	if fault {
		m.SessionFaults.Inc()
	}
}

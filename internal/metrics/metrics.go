// Package metrics exposes Prometheus instrumentation for streaming sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smartstream"

// Metrics holds the collectors for one process. A nil *Metrics is valid and
// records nothing, so components can be built without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	framesCaptured   prometheus.Counter
	framesSkipped    prometheus.Counter
	unitsSent        prometheus.Counter
	unitsDropped     prometheus.Counter
	flushesSkipped   prometheus.Counter
	samplesBuffered  prometheus.Counter
	inboundUnits     *prometheus.CounterVec
	inboundErrors    prometheus.Counter
	playbackErrors   prometheus.Counter
	sessionsStarted  prometheus.Counter
	teardowns        *prometheus.CounterVec
	connectionStates *prometheus.GaugeVec
}

// New creates a Metrics instance backed by its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_captured_total",
			Help: "Screen frames rasterized and encoded.",
		}),
		framesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_skipped_total",
			Help: "Capture ticks skipped because the source had no dimensions.",
		}),
		unitsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbound_units_sent_total",
			Help: "Outbound media units written to the backend.",
		}),
		unitsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbound_units_dropped_total",
			Help: "Outbound media units dropped because the connection was not open or the write failed.",
		}),
		flushesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_flushes_skipped_total",
			Help: "Flush ticks that found an empty sample buffer.",
		}),
		samplesBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_samples_buffered_total",
			Help: "Microphone samples appended to the sample buffer.",
		}),
		inboundUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_units_total",
			Help: "Inbound units received, by kind.",
		}, []string{"kind"}),
		inboundErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_parse_errors_total",
			Help: "Inbound messages dropped because they could not be parsed.",
		}),
		playbackErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "playback_errors_total",
			Help: "Audio chunks that could not be queued for playback.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_started_total",
			Help: "Sessions whose handshake completed.",
		}),
		teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_teardowns_total",
			Help: "Session teardowns, by reason.",
		}, []string{"reason"}),
		connectionStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connection_state",
			Help: "1 for the current transport state of the active session.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.framesCaptured, m.framesSkipped, m.unitsSent, m.unitsDropped,
		m.flushesSkipped, m.samplesBuffered, m.inboundUnits, m.inboundErrors,
		m.playbackErrors, m.sessionsStarted, m.teardowns, m.connectionStates,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FrameCaptured() {
	if m != nil {
		m.framesCaptured.Inc()
	}
}

func (m *Metrics) FrameSkipped() {
	if m != nil {
		m.framesSkipped.Inc()
	}
}

func (m *Metrics) UnitSent() {
	if m != nil {
		m.unitsSent.Inc()
	}
}

func (m *Metrics) UnitDropped() {
	if m != nil {
		m.unitsDropped.Inc()
	}
}

func (m *Metrics) FlushSkipped() {
	if m != nil {
		m.flushesSkipped.Inc()
	}
}

func (m *Metrics) SamplesBuffered(n int) {
	if m != nil {
		m.samplesBuffered.Add(float64(n))
	}
}

// InboundUnit counts a parsed inbound unit under its kind label.
func (m *Metrics) InboundUnit(kind string) {
	if m != nil {
		m.inboundUnits.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) InboundParseError() {
	if m != nil {
		m.inboundErrors.Inc()
	}
}

func (m *Metrics) PlaybackError() {
	if m != nil {
		m.playbackErrors.Inc()
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

// Teardown counts a session teardown under its reason label.
func (m *Metrics) Teardown(reason string) {
	if m != nil {
		m.teardowns.WithLabelValues(reason).Inc()
	}
}

// ConnectionState marks state as the only active connection state.
func (m *Metrics) ConnectionState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionStates.WithLabelValues(s).Set(v)
	}
}

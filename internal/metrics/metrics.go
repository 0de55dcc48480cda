// Package metrics is a thin abstraction over Prometheus so the dispatcher
// and key responder can be used with or without metrics. When a
// *prometheus.Registry is supplied a Prometheus-backed sink is built;
// otherwise a no-op sink is used and the hot path pays nothing for metric
// updates. Mirrors the shape of the metricsSink interface the teacher repo
// uses for its shard-level cache counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the internal interface abstracting away the concrete metrics
// backend. Dispatcher and key responder code only depend on this, never on
// prometheus types directly.
type Sink interface {
	IncAccepted(msgType string)
	IncRejected(reason string)
	IncEvictions()
	SetLiveEntries(n int)
	IncKeyReply(kind string)
}

type noopSink struct{}

func (noopSink) IncAccepted(string)  {}
func (noopSink) IncRejected(string)  {}
func (noopSink) IncEvictions()       {}
func (noopSink) SetLiveEntries(int)  {}
func (noopSink) IncKeyReply(string)  {}

// Noop returns a Sink that discards every observation.
func Noop() Sink { return noopSink{} }

type promSink struct {
	accepted  *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	evictions prometheus.Counter
	live      prometheus.Gauge
	keyReply  *prometheus.CounterVec
}

// NewProm builds a Sink registered against reg. Metric names follow the
// namespace "acache" so they sit alongside any other service metrics in the
// same registry.
func NewProm(reg *prometheus.Registry) Sink {
	s := &promSink{
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acache",
			Name:      "dispatcher_messages_total",
			Help:      "Inbound messages accepted by the dispatcher, by type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acache",
			Name:      "dispatcher_rejected_total",
			Help:      "Inbound messages rejected by the dispatcher, by reason.",
		}, []string{"reason"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "acache",
			Name:      "cache_evictions_total",
			Help:      "Cache entries evicted or explicitly removed.",
		}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "acache",
			Name:      "cache_live_entries",
			Help:      "Currently live cache entries.",
		}),
		keyReply: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acache",
			Name:      "key_responder_replies_total",
			Help:      "Key-request replies sent, by kind (clear|encrypted).",
		}, []string{"kind"}),
	}
	reg.MustRegister(s.accepted, s.rejected, s.evictions, s.live, s.keyReply)
	return s
}

func (s *promSink) IncAccepted(msgType string) { s.accepted.WithLabelValues(msgType).Inc() }
func (s *promSink) IncRejected(reason string)  { s.rejected.WithLabelValues(reason).Inc() }
func (s *promSink) IncEvictions()              { s.evictions.Inc() }
func (s *promSink) SetLiveEntries(n int)       { s.live.Set(float64(n)) }
func (s *promSink) IncKeyReply(kind string)    { s.keyReply.WithLabelValues(kind).Inc() }

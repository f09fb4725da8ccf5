package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds a private Prometheus registry and the bus meters.
type Metrics struct {
	Registry       *prometheus.Registry
	FramesReceived prometheus.Counter
	FramesDecoded  *prometheus.CounterVec
	DecodeFailures *prometheus.CounterVec
	FramesSent     *prometheus.CounterVec
	Errors         *prometheus.CounterVec
	DrainDuration  prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	received := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "canman_frames_received_total",
		Help: "Frames read from the bus.",
	})
	decoded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canman_frames_decoded_total",
		Help: "Frames decoded into signal values.",
	}, []string{"id"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canman_decode_failures_total",
		Help: "Frames that could not be decoded, by reason.",
	}, []string{"reason"})
	sent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canman_frames_sent_total",
		Help: "Messages encoded and sent.",
	}, []string{"message"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "canman_errors_total",
		Help: "Propagated errors by stage.",
	}, []string{"stage"})
	drain := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "canman_drain_duration_seconds",
		Help:    "Duration of one receive drain.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	reg.MustRegister(received, decoded, failures, sent, errs, drain)

	return &Metrics{
		Registry:       reg,
		FramesReceived: received,
		FramesDecoded:  decoded,
		DecodeFailures: failures,
		FramesSent:     sent,
		Errors:         errs,
		DrainDuration:  drain,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

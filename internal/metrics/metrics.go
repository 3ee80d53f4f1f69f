// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"errors"
	"net/http"
	"strings"

	"alertrelay/internal/channel"
	"alertrelay/internal/manager"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alertrelay"

// Event results.
const (
	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultPartial = "partial"
	ResultError   = "error"
)

// Metrics owns a private registry so tests and multiple instances do not
// collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	events    *prometheus.CounterVec
	queued    *prometheus.CounterVec
	debounced *prometheus.CounterVec
	sends     *prometheus.CounterVec
	sendTime  *prometheus.HistogramVec
	queueSize prometheus.Gauge
	promoted  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events handled by source context and result.",
		}, []string{"source", "result"}),
		queued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_queued_total",
			Help:      "Alerts enqueued by processor domain.",
		}, []string{"domain"}),
		debounced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_debounced_total",
			Help:      "Alerts suppressed by the debounce window.",
		}, []string{"type"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_sends_total",
			Help:      "Channel send outcomes.",
		}, []string{"channel", "status"}),
		sendTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "channel_send_seconds",
			Help:      "Channel send latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"channel"}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Pending alerts at the last observation.",
		}),
		promoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_promoted_total",
			Help:      "Low priority alerts promoted by queue scans.",
		}),
	}
	reg.MustRegister(
		m.events, m.queued, m.debounced, m.sends, m.sendTime, m.queueSize, m.promoted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

var _ manager.Recorder = (*Metrics)(nil)

func (m *Metrics) EventHandled(label string, err error) {
	m.events.WithLabelValues(source(label), Classify(err)).Inc()
}

func (m *Metrics) AlertQueued(domain string, n int) {
	if n > 0 {
		m.queued.WithLabelValues(domain).Add(float64(n))
	}
}

func (m *Metrics) AlertDebounced(alertType string) {
	m.debounced.WithLabelValues(alertType).Inc()
}

// ObserveOutcome is a channel.Observer.
func (m *Metrics) ObserveOutcome(o channel.Outcome) {
	m.sends.WithLabelValues(o.Channel, o.Status).Inc()
	if o.Took > 0 {
		m.sendTime.WithLabelValues(o.Channel).Observe(o.Took.Seconds())
	}
}

func (m *Metrics) SetQueueSize(n int) { m.queueSize.Set(float64(n)) }

func (m *Metrics) AddPromoted(n int) {
	if n > 0 {
		m.promoted.Add(float64(n))
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Classify maps a Manage error to a result label.
func Classify(err error) string {
	var pd *manager.PartialDeliveryError
	switch {
	case err == nil:
		return ResultOK
	case manager.IsValidation(err):
		return ResultInvalid
	case errors.As(err, &pd):
		return ResultPartial
	default:
		return ResultError
	}
}

func source(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return "none"
	}
	return label
}

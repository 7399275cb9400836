// Package metrics records core events as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftpro/chatcore/chat"
)

const namespace = "chatcore"

// Recorder implements chat.Metrics on its own registry.
type Recorder struct {
	reg *prometheus.Registry

	messages      *prometheus.CounterVec
	retries       prometheus.Counter
	deliveries    *prometheus.CounterVec
	fanoutLatency prometheus.Histogram
}

// New returns a Recorder with the core metrics and the Go runtime
// collectors registered.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended, by chat kind.",
		}, []string{"kind"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seq_reserve_retries_total",
			Help:      "Sequence reservations retried after a conflict.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification deliveries, by channel and outcome.",
		}, []string{"channel", "status"}),
		fanoutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_duration_seconds",
			Help:      "Time to fan out one event to every recipient.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	r.reg.MustRegister(
		r.messages,
		r.retries,
		r.deliveries,
		r.fanoutLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) MessageAppended(kind chat.Kind) {
	r.messages.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) SeqReserveRetry() {
	r.retries.Inc()
}

func (r *Recorder) Delivery(channel chat.Channel, status chat.DeliveryStatus) {
	r.deliveries.WithLabelValues(string(channel), string(status)).Inc()
}

func (r *Recorder) FanoutCompleted(d time.Duration) {
	r.fanoutLatency.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

var _ chat.Metrics = (*Recorder)(nil)

// Package metrics adapts data-ingestion's prometheus Registry pattern to
// the subscription engine's counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every Prometheus metric the engine and client report
// through. It satisfies subscription.EngineMetrics.
type Registry struct {
	notificationsQueued  prometheus.Counter
	notificationsDropped prometheus.Counter
	publishLatency       prometheus.Histogram
	keepAlivesSent       prometheus.Counter
	stateTransitions     *prometheus.CounterVec
	publishTokensInflight prometheus.Gauge
	alarmTransitions     *prometheus.CounterVec
}

// NewRegistry creates and registers every metric listed in the
// engine's external interfaces.
func NewRegistry() *Registry {
	return &Registry{
		notificationsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscription_notifications_queued_total",
			Help: "Total number of notifications appended to a monitored item queue",
		}),
		notificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscription_notifications_dropped_total",
			Help: "Total number of notifications discarded by queue overflow",
		}),
		publishLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "subscription_publish_latency_seconds",
			Help:    "Latency between a publish request's intake and its matched response",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		keepAlivesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscription_keepalives_total",
			Help: "Total number of keep-alive publish responses sent",
		}),
		stateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "subscription_state_transitions_total",
			Help: "Total number of subscription state machine transitions",
		}, []string{"from", "to"}),
		publishTokensInflight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "client_publish_tokens_inflight",
			Help: "Current number of in-flight client publish requests",
		}),
		alarmTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "alarm_transitions_total",
			Help: "Total number of alarm condition state transitions",
		}, []string{"kind"}),
	}
}

func (r *Registry) NotificationsQueued(count int)  { r.notificationsQueued.Add(float64(count)) }
func (r *Registry) NotificationsDropped(count int) { r.notificationsDropped.Add(float64(count)) }
func (r *Registry) PublishLatency(d time.Duration)  { r.publishLatency.Observe(d.Seconds()) }
func (r *Registry) KeepAliveSent()                  { r.keepAlivesSent.Inc() }
func (r *Registry) StateTransition(from, to string) { r.stateTransitions.WithLabelValues(from, to).Inc() }
func (r *Registry) SetPublishTokensInflight(n int)  { r.publishTokensInflight.Set(float64(n)) }
func (r *Registry) AlarmTransition(kind string)     { r.alarmTransitions.WithLabelValues(kind).Inc() }

// Package metrics wraps a prometheus.Registry exposing the handful of
// gauges/counters the presence hub and dispatcher update. Constructed
// with a nil registry the recorder becomes a no-op, mirroring the
// enabled/disabled guard the rest of the pack uses for optional
// instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder updates the server's exported metrics. A zero-value
// Recorder (Registry == nil) is safe to call and does nothing.
type Recorder struct {
	registry *prometheus.Registry

	onlineUsers        prometheus.Gauge
	messagesDispatched *prometheus.CounterVec
	messagesQueued     prometheus.Counter
}

// New builds a Recorder registered against a fresh prometheus.Registry
// and returns both so callers can mount /metrics over it.
func New() (*Recorder, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gg_online_users",
			Help: "Number of sessions currently registered with the presence hub.",
		}),
		messagesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gg_messages_dispatched_total",
			Help: "Messages dispatched, labeled by outcome (delivered, queued, not_delivered).",
		}, []string{"outcome"}),
		messagesQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gg_messages_queued_total",
			Help: "Messages that ended up queued for offline delivery.",
		}),
	}

	reg.MustRegister(r.onlineUsers, r.messagesDispatched, r.messagesQueued)
	return r, reg
}

// Disabled returns a Recorder whose every method is a no-op, for runs
// with metrics turned off.
func Disabled() *Recorder {
	return &Recorder{}
}

// SetOnlineUsers records the presence hub's current online count.
func (r *Recorder) SetOnlineUsers(n int) {
	if r == nil || r.onlineUsers == nil {
		return
	}
	r.onlineUsers.Set(float64(n))
}

// ObserveDispatch records one dispatch outcome (spec §3 AckStatus
// names, lowercased: "delivered", "queued", "not_delivered", ...).
func (r *Recorder) ObserveDispatch(outcome string) {
	if r == nil || r.messagesDispatched == nil {
		return
	}
	r.messagesDispatched.WithLabelValues(outcome).Inc()
	if outcome == "queued" {
		r.messagesQueued.Inc()
	}
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking core.
type BookingMetrics struct {
	attemptsTotal   *prometheus.CounterVec
	lockSeconds     prometheus.Histogram
	mirrorTasks     *prometheus.CounterVec
	sweeperExpired  prometheus.Counter
	sweeperFailures prometheus.Counter
	outboxDelivered *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		lockSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "salon",
			Subsystem: "booking",
			Name:      "lock_seconds",
			Help:      "Time spent inside the resource-locked booking transaction",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		mirrorTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "mirror",
			Name:      "tasks_total",
			Help:      "Calendar mirror tasks by operation and final status",
		}, []string{"op", "status"}),
		sweeperExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "sweeper",
			Name:      "expired_total",
			Help:      "Provisional bookings expired by the sweeper",
		}),
		sweeperFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "sweeper",
			Name:      "failures_total",
			Help:      "Provisional bookings the sweeper failed to expire",
		}),
		outboxDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "salon",
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbox deliveries by event type and status",
		}, []string{"type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attemptsTotal, m.lockSeconds, m.mirrorTasks, m.sweeperExpired, m.sweeperFailures, m.outboxDelivered)
	return m
}

// ObserveBooking counts a booking attempt; outcome is "success" or an error kind.
func (m *BookingMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveLock(seconds float64) {
	if m == nil {
		return
	}
	m.lockSeconds.Observe(seconds)
}

func (m *BookingMetrics) ObserveMirrorTask(op, status string) {
	if m == nil {
		return
	}
	m.mirrorTasks.WithLabelValues(op, status).Inc()
}

func (m *BookingMetrics) ObserveSweep(expired, failed int) {
	if m == nil {
		return
	}
	m.sweeperExpired.Add(float64(expired))
	m.sweeperFailures.Add(float64(failed))
}

func (m *BookingMetrics) ObserveOutboxDelivery(eventType, status string) {
	if m == nil {
		return
	}
	m.outboxDelivered.WithLabelValues(eventType, status).Inc()
}

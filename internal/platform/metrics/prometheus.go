package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var breakerStates = []string{"closed", "open", "half-open"}

// PrometheusSink implements Sink with client_golang collectors.
// Registration failures are logged and the collector keeps working unregistered.
type PrometheusSink struct {
	notifications    *prometheus.CounterVec
	notificationTime *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
	mutations        *prometheus.CounterVec
	inFlight         prometheus.Gauge
	logger           *slog.Logger
}

func NewPrometheusSink(reg prometheus.Registerer, logger *slog.Logger) *PrometheusSink {
	s := &PrometheusSink{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gym_workload_notifications_total",
			Help: "Workload notifications by transport and outcome.",
		}, []string{"transport", "outcome"}),
		notificationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gym_workload_notification_duration_seconds",
			Help:    "Time spent delivering one workload notification, including short-circuits.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"transport"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gym_workload_breaker_state",
			Help: "1 for the current circuit breaker state of the workload client, 0 otherwise.",
		}, []string{"state"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gym_training_mutations_total",
			Help: "Training create/delete operations by result.",
		}, []string{"action", "result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gym_workload_dispatch_in_flight",
			Help: "Workload notifications dispatched and not yet finished.",
		}),
		logger: logger,
	}

	s.register(reg, s.notifications, "gym_workload_notifications_total")
	s.register(reg, s.notificationTime, "gym_workload_notification_duration_seconds")
	s.register(reg, s.breakerState, "gym_workload_breaker_state")
	s.register(reg, s.mutations, "gym_training_mutations_total")
	s.register(reg, s.inFlight, "gym_workload_dispatch_in_flight")
	s.BreakerStateChanged("closed")
	return s
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if reg == nil {
		return
	}
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return
		}
		if s.logger != nil {
			s.logger.Warn("metrics: failed to register collector", "name", name, "error", err)
		}
	}
}

func (s *PrometheusSink) NotificationOutcome(transport, outcome string, duration time.Duration) {
	s.notifications.WithLabelValues(transport, outcome).Inc()
	s.notificationTime.WithLabelValues(transport).Observe(duration.Seconds())
}

func (s *PrometheusSink) BreakerStateChanged(state string) {
	for _, known := range breakerStates {
		v := 0.0
		if known == state {
			v = 1
		}
		s.breakerState.WithLabelValues(known).Set(v)
	}
}

func (s *PrometheusSink) TrainingMutation(action, result string) {
	s.mutations.WithLabelValues(action, result).Inc()
}

func (s *PrometheusSink) DispatchInFlightIncr() { s.inFlight.Inc() }
func (s *PrometheusSink) DispatchInFlightDecr() { s.inFlight.Dec() }

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

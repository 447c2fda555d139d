package metrics

import "time"

// Sink records workload synchronization metrics.
// Implementations must not block or propagate errors.
type Sink interface {
	NotificationOutcome(transport, outcome string, duration time.Duration)
	BreakerStateChanged(state string)
	TrainingMutation(action, result string)
	DispatchInFlightIncr()
	DispatchInFlightDecr()
}

// Result labels for TrainingMutation.
const (
	ResultOK          = "ok"
	ResultNotFound    = "not_found"
	ResultInvalid     = "invalid"
	ResultPersistence = "persistence_error"
)

// NoopSink discards everything.
type NoopSink struct{}

func (NoopSink) NotificationOutcome(string, string, time.Duration) {}
func (NoopSink) BreakerStateChanged(string)                        {}
func (NoopSink) TrainingMutation(string, string)                   {}
func (NoopSink) DispatchInFlightIncr()                             {}
func (NoopSink) DispatchInFlightDecr()                             {}

// Package workload delivers trainer workload changes to the trainer-workload
// service. Two interchangeable notifiers exist: HTTPNotifier calls the service
// directly behind a circuit breaker, QueueNotifier publishes to JetStream.
// Neither ever returns an error to its caller; failures end up in logs and metrics.
package workload

import (
	"context"
	"errors"
	"fmt"

	"github.com/gymapp/main-service/internal/contracts"
)

// Transport labels used in logs and metrics.
const (
	TransportHTTP  = "http"
	TransportQueue = "queue"
)

var (
	ErrDeliveryFailed = errors.New("workload delivery failed")
	ErrPublishFailed  = errors.New("workload publish failed")
)

// Status is the terminal state of one notification attempt.
type Status string

const (
	StatusDelivered      Status = "delivered"
	StatusPublished      Status = "published"
	StatusFailed         Status = "failed"
	StatusShortCircuited Status = "short_circuited"
)

// Outcome describes what happened to one notification. Err is set unless the
// notification was delivered or published.
type Outcome struct {
	Status     Status
	StatusCode int
	Err        error
}

func (o Outcome) OK() bool {
	return o.Status == StatusDelivered || o.Status == StatusPublished
}

// Notifier delivers one event. Implementations absorb every failure.
type Notifier interface {
	Notify(ctx context.Context, event contracts.WorkloadChangeEvent) Outcome
}

// StatusError is returned for a non-2xx answer from the workload service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("workload service responded %d", e.Code)
}

func (e *StatusError) Unwrap() error {
	return ErrDeliveryFailed
}

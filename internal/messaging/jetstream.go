package messaging

import (
	"errors"
	"time"

	"github.com/gymapp/main-service/internal/sharding"
	"github.com/nats-io/nats.go"
)

const (
	// WorkloadStream stores workload change events until the workload service consumes them.
	WorkloadStream = "TRAINER_WORKLOAD"

	// DuplicateWindow bounds how long JetStream remembers Nats-Msg-Id values.
	DuplicateWindow = 2 * time.Minute
)

// WorkloadSubjects is the subject filter bound to WorkloadStream.
func WorkloadSubjects() string {
	return sharding.SubjectPrefix + ".>"
}

// StreamManager is the part of nats.JetStreamContext used to provision streams.
type StreamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// EnsureStreams creates (or validates) the workload stream:
// - workload.training.>
func EnsureStreams(js StreamManager) error {
	if _, err := js.StreamInfo(WorkloadStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:       WorkloadStream,
			Subjects:   []string{WorkloadSubjects()},
			Retention:  nats.LimitsPolicy,
			Storage:    nats.FileStorage,
			Replicas:   1,
			Duplicates: DuplicateWindow,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}

// Package workloadsink is the receiving end of workload notifications, for both
// transports. It journals every event and keeps monthly minute totals per trainer.
package workloadsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gymapp/main-service/internal/contracts"
	"github.com/gymapp/main-service/internal/platform/logging"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")

const (
	SourceQueue = "queue"
	SourceHTTP  = "http"
)

// Received is one event together with how it arrived.
type Received struct {
	Event         contracts.WorkloadChangeEvent
	Source        string
	TransactionID string
	// MsgID and StreamSeq are only set for queue deliveries.
	MsgID     string
	StreamSeq uint64
}

type Repository interface {
	// RecordEvent journals r and applies it to the monthly totals. A MsgID seen
	// before is ignored. It reports whether the event was applied.
	RecordEvent(ctx context.Context, r Received) (bool, error)
}

type Service struct {
	Repository Repository
	Logger     *slog.Logger
}

func NewService(repository Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{Repository: repository, Logger: logger}
}

// Decode parses and validates a notification payload.
func Decode(payload []byte) (contracts.WorkloadChangeEvent, error) {
	var event contracts.WorkloadChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return contracts.WorkloadChangeEvent{}, fmt.Errorf("%w: %w", ErrInvalidEventPayload, err)
	}
	if err := event.Validate(); err != nil {
		return contracts.WorkloadChangeEvent{}, fmt.Errorf("%w: %w", ErrInvalidEventPayload, err)
	}
	return event, nil
}

func (s *Service) Handle(ctx context.Context, r Received) error {
	applied, err := s.Repository.RecordEvent(ctx, r)
	if err != nil {
		return fmt.Errorf("record workload event: %w", err)
	}
	if !applied {
		s.Logger.InfoContext(ctx, "duplicate workload event ignored", "source", r.Source, "msg_id", r.MsgID)
		return nil
	}
	s.Logger.InfoContext(ctx, "workload event applied",
		"source", r.Source,
		"trainer", r.Event.TrainerUsername,
		"action", string(r.Event.ActionType),
		"training_date", r.Event.TrainingDate.String(),
		"duration_minutes", r.Event.TrainingDuration,
		"stream_seq", r.StreamSeq,
	)
	return nil
}

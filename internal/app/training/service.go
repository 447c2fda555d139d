// Package training records training sessions and keeps the trainer-workload
// service informed about them. Local writes are authoritative: a workload
// notification is sent only after a commit and its result never reaches the caller.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gymapp/main-service/internal/contracts"
	"github.com/gymapp/main-service/internal/platform/logging"
	"github.com/gymapp/main-service/internal/platform/metrics"
)

var (
	ErrInvalidRequest    = errors.New("invalid training request")
	ErrReferenceNotFound = errors.New("reference not found")
	ErrPersistence       = errors.New("training persistence failed")
)

const (
	actionCreate = "create"
	actionDelete = "delete"
)

// Dispatcher hands an event off for delivery without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, event contracts.WorkloadChangeEvent)
}

type CreateTrainingRequest struct {
	TraineeUsername  string         `json:"traineeUsername"`
	TrainerUsername  string         `json:"trainerUsername"`
	TrainingName     string         `json:"trainingName"`
	TrainingDate     contracts.Date `json:"trainingDate"`
	TrainingTypeName string         `json:"trainingTypeName"`
	TrainingDuration int            `json:"trainingDuration"`
}

func (r CreateTrainingRequest) normalize() CreateTrainingRequest {
	r.TraineeUsername = strings.TrimSpace(r.TraineeUsername)
	r.TrainerUsername = strings.TrimSpace(r.TrainerUsername)
	r.TrainingName = strings.TrimSpace(r.TrainingName)
	r.TrainingTypeName = strings.TrimSpace(r.TrainingTypeName)
	return r
}

func (r CreateTrainingRequest) validate() error {
	switch {
	case r.TraineeUsername == "":
		return fmt.Errorf("%w: traineeUsername is required", ErrInvalidRequest)
	case r.TrainerUsername == "":
		return fmt.Errorf("%w: trainerUsername is required", ErrInvalidRequest)
	case r.TrainingName == "":
		return fmt.Errorf("%w: trainingName is required", ErrInvalidRequest)
	case r.TrainingDate.IsZero():
		return fmt.Errorf("%w: trainingDate is required", ErrInvalidRequest)
	case r.TrainingTypeName == "":
		return fmt.Errorf("%w: trainingTypeName is required", ErrInvalidRequest)
	case r.TrainingDuration <= 0:
		return fmt.Errorf("%w: trainingDuration must be positive", ErrInvalidRequest)
	}
	return nil
}

type Service struct {
	Repo       Repository
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Metrics    metrics.Sink
}

func NewService(repo Repository, dispatcher Dispatcher, logger *slog.Logger, sink metrics.Sink) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Service{Repo: repo, Dispatcher: dispatcher, Logger: logger, Metrics: sink}
}

// RecordTrainingCreated stores the training and, once committed, schedules an ADD
// notification built from the stored trainer. It returns the new training id.
func (s *Service) RecordTrainingCreated(ctx context.Context, req CreateTrainingRequest) (int64, error) {
	id, err := s.create(ctx, req.normalize())
	s.Metrics.TrainingMutation(actionCreate, resultOf(err))
	return id, err
}

func (s *Service) create(ctx context.Context, req CreateTrainingRequest) (int64, error) {
	if err := req.validate(); err != nil {
		return 0, err
	}

	trainer, err := s.Repo.FindTrainer(ctx, req.TrainerUsername)
	if err != nil {
		return 0, s.lookupError(err, "trainer", req.TrainerUsername)
	}
	if _, err := s.Repo.FindTrainee(ctx, req.TraineeUsername); err != nil {
		return 0, s.lookupError(err, "trainee", req.TraineeUsername)
	}
	trainingType, err := s.Repo.FindTrainingType(ctx, req.TrainingTypeName)
	if err != nil {
		return 0, s.lookupError(err, "training type", req.TrainingTypeName)
	}

	stored, err := s.Repo.InsertTraining(ctx, NewTraining{
		TrainerUsername: trainer.Username,
		TraineeUsername: req.TraineeUsername,
		TypeID:          trainingType.ID,
		Name:            req.TrainingName,
		Date:            req.TrainingDate,
		DurationMinutes: req.TrainingDuration,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("%w: training references changed during insert", ErrReferenceNotFound)
		}
		s.Logger.ErrorContext(ctx, "insert training failed", "trainer", req.TrainerUsername, "error", err)
		return 0, fmt.Errorf("%w: insert: %w", ErrPersistence, err)
	}

	s.Logger.InfoContext(ctx, "training created", "training_id", stored.ID, "trainer", stored.Trainer.Username)
	s.notify(ctx, stored, contracts.ActionAdd)
	return stored.ID, nil
}

// RecordTrainingDeleted removes the training and schedules a DELETE notification
// built from the row as it was before removal.
func (s *Service) RecordTrainingDeleted(ctx context.Context, id int64) error {
	err := s.delete(ctx, id)
	s.Metrics.TrainingMutation(actionDelete, resultOf(err))
	return err
}

func (s *Service) delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: training id must be positive", ErrInvalidRequest)
	}
	snapshot, err := s.Repo.DeleteTraining(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: training %d", ErrReferenceNotFound, id)
		}
		s.Logger.ErrorContext(ctx, "delete training failed", "training_id", id, "error", err)
		return fmt.Errorf("%w: delete: %w", ErrPersistence, err)
	}

	s.Logger.InfoContext(ctx, "training deleted", "training_id", id, "trainer", snapshot.Trainer.Username)
	s.notify(ctx, snapshot, contracts.ActionDelete)
	return nil
}

func (s *Service) GetTraining(ctx context.Context, id int64) (Training, error) {
	t, err := s.Repo.GetTraining(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Training{}, fmt.Errorf("%w: training %d", ErrReferenceNotFound, id)
		}
		return Training{}, fmt.Errorf("%w: get: %w", ErrPersistence, err)
	}
	return t, nil
}

func (s *Service) ListTrainerTrainings(ctx context.Context, trainerUsername string, limit int) ([]Training, error) {
	trainerUsername = strings.TrimSpace(trainerUsername)
	if trainerUsername == "" {
		return nil, fmt.Errorf("%w: trainer is required", ErrInvalidRequest)
	}
	if _, err := s.Repo.FindTrainer(ctx, trainerUsername); err != nil {
		return nil, s.lookupError(err, "trainer", trainerUsername)
	}
	list, err := s.Repo.ListTrainerTrainings(ctx, trainerUsername, ListLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrPersistence, err)
	}
	return list, nil
}

// RegisterTrainer creates or updates a trainer profile.
func (s *Service) RegisterTrainer(ctx context.Context, p Person) error {
	return s.registerPerson(ctx, p, s.Repo.UpsertTrainer)
}

// RegisterTrainee creates or updates a trainee profile.
func (s *Service) RegisterTrainee(ctx context.Context, p Person) error {
	return s.registerPerson(ctx, p, s.Repo.UpsertTrainee)
}

func (s *Service) registerPerson(ctx context.Context, p Person, upsert func(context.Context, Person) error) error {
	p.Username = strings.TrimSpace(p.Username)
	if p.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidRequest)
	}
	if err := upsert(ctx, p); err != nil {
		return fmt.Errorf("%w: upsert %s: %w", ErrPersistence, p.Username, err)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, t Training, action contracts.ActionType) {
	event, err := contracts.NewWorkloadChangeEvent(t.Trainer, t.Date, t.DurationMinutes, action)
	if err != nil {
		s.Logger.ErrorContext(ctx, "workload event not built", "training_id", t.ID, "action", string(action), "error", err)
		return
	}
	s.Dispatcher.Dispatch(ctx, event)
}

func (s *Service) lookupError(err error, kind, name string) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s %q", ErrReferenceNotFound, kind, name)
	}
	return fmt.Errorf("%w: find %s: %w", ErrPersistence, kind, err)
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrInvalidRequest):
		return metrics.ResultInvalid
	case errors.Is(err, ErrReferenceNotFound):
		return metrics.ResultNotFound
	default:
		return metrics.ResultPersistence
	}
}

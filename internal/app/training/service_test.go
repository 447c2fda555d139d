package training

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gymapp/main-service/internal/app/workload"
	"github.com/gymapp/main-service/internal/circuitbreaker"
	"github.com/gymapp/main-service/internal/contracts"
	"github.com/gymapp/main-service/internal/platform/auth"
	"github.com/gymapp/main-service/internal/platform/logging"
	"github.com/gymapp/main-service/internal/platform/txid"
)

func TestRecordTrainingCreated_NotifiesAdd(t *testing.T) {
	repo := seeded()
	dispatcher := &recordingDispatcher{}
	sink := &mutationSink{}
	svc := NewService(repo, dispatcher, nil, sink)

	ctx, id := txid.Begin(context.Background(), "")
	trainingID, err := svc.RecordTrainingCreated(ctx, yogaRequest())
	if err != nil {
		t.Fatalf("RecordTrainingCreated error: %v", err)
	}
	if trainingID != 1 || repo.count() != 1 {
		t.Fatalf("unexpected id %d / stored %d", trainingID, repo.count())
	}

	events := dispatcher.all()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	want := contracts.WorkloadChangeEvent{
		TrainerUsername:  "john.doe",
		TrainerFirstName: "John",
		TrainerLastName:  "Doe",
		TrainerActive:    true,
		TrainingDate:     contracts.Date{Year: 2023, Month: time.October, Day: 1},
		TrainingDuration: 60,
		ActionType:       contracts.ActionAdd,
	}
	if events[0].event != want {
		t.Fatalf("event: got %+v want %+v", events[0].event, want)
	}
	if events[0].transactionID != id {
		t.Fatalf("event dispatched outside the request scope: %q", events[0].transactionID)
	}
	if len(sink.mutations) != 1 || sink.mutations[0] != "create/ok" {
		t.Fatalf("unexpected mutations %v", sink.mutations)
	}
}

func TestRecordTrainingCreated_InactiveTrainerSnapshot(t *testing.T) {
	repo := seeded()
	repo.trainers["john.doe"] = Person{Username: "john.doe", FirstName: "John", LastName: "Doe", Active: false}
	dispatcher := &recordingDispatcher{}

	if _, err := NewService(repo, dispatcher, nil, nil).RecordTrainingCreated(context.Background(), yogaRequest()); err != nil {
		t.Fatalf("RecordTrainingCreated error: %v", err)
	}
	if ev := dispatcher.all()[0].event; ev.TrainerActive {
		t.Fatalf("event should carry inactive trainer, got %+v", ev)
	}
}

func TestRecordTrainingCreated_MissingReference(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateTrainingRequest)
	}{
		{"trainer", func(r *CreateTrainingRequest) { r.TrainerUsername = "ghost" }},
		{"trainee", func(r *CreateTrainingRequest) { r.TraineeUsername = "ghost" }},
		{"training type", func(r *CreateTrainingRequest) { r.TrainingTypeName = "PILATES" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := seeded()
			dispatcher := &recordingDispatcher{}
			sink := &mutationSink{}
			req := yogaRequest()
			tt.mutate(&req)

			_, err := NewService(repo, dispatcher, nil, sink).RecordTrainingCreated(context.Background(), req)
			if !errors.Is(err, ErrReferenceNotFound) {
				t.Fatalf("expected ErrReferenceNotFound, got %v", err)
			}
			if repo.inserts != 0 {
				t.Fatal("nothing should be written when a reference is missing")
			}
			if len(dispatcher.all()) != 0 {
				t.Fatal("no notification expected")
			}
			if sink.mutations[0] != "create/not_found" {
				t.Fatalf("unexpected mutations %v", sink.mutations)
			}
		})
	}
}

func TestRecordTrainingCreated_InvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateTrainingRequest)
	}{
		{"blank trainer", func(r *CreateTrainingRequest) { r.TrainerUsername = "  " }},
		{"blank trainee", func(r *CreateTrainingRequest) { r.TraineeUsername = "" }},
		{"blank name", func(r *CreateTrainingRequest) { r.TrainingName = "" }},
		{"no date", func(r *CreateTrainingRequest) { r.TrainingDate = contracts.Date{} }},
		{"no type", func(r *CreateTrainingRequest) { r.TrainingTypeName = "" }},
		{"zero duration", func(r *CreateTrainingRequest) { r.TrainingDuration = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := seeded()
			dispatcher := &recordingDispatcher{}
			req := yogaRequest()
			tt.mutate(&req)

			_, err := NewService(repo, dispatcher, nil, nil).RecordTrainingCreated(context.Background(), req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			if repo.inserts != 0 || len(dispatcher.all()) != 0 {
				t.Fatal("invalid requests must not write or notify")
			}
		})
	}
}

func TestRecordTrainingCreated_PersistenceFailure(t *testing.T) {
	repo := seeded()
	repo.insertErr = errors.New("connection reset")
	dispatcher := &recordingDispatcher{}

	_, err := NewService(repo, dispatcher, nil, nil).RecordTrainingCreated(context.Background(), yogaRequest())
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if len(dispatcher.all()) != 0 {
		t.Fatal("no notification expected after a failed write")
	}
}

func TestRecordTrainingCreated_ReferenceVanishesDuringInsert(t *testing.T) {
	repo := seeded()
	repo.insertErr = ErrNotFound

	_, err := NewService(repo, &recordingDispatcher{}, nil, nil).RecordTrainingCreated(context.Background(), yogaRequest())
	if !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("expected ErrReferenceNotFound, got %v", err)
	}
}

func TestRecordTrainingDeleted_UsesSnapshotBeforeRemoval(t *testing.T) {
	repo := seeded()
	dispatcher := &recordingDispatcher{}
	sink := &mutationSink{}
	svc := NewService(repo, dispatcher, nil, sink)

	id, err := svc.RecordTrainingCreated(context.Background(), yogaRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.RecordTrainingDeleted(context.Background(), id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := svc.GetTraining(context.Background(), id); !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("training should be gone, got %v", err)
	}
	events := dispatcher.all()
	if len(events) != 2 {
		t.Fatalf("expected ADD and DELETE, got %d events", len(events))
	}
	del := events[1].event
	if del.ActionType != contracts.ActionDelete {
		t.Fatalf("unexpected action %s", del.ActionType)
	}
	if del.TrainerUsername != "john.doe" || del.TrainerFirstName != "John" || del.TrainingDuration != 60 || del.TrainingDate.String() != "2023-10-01" {
		t.Fatalf("delete event lost the removed training's data: %+v", del)
	}
	if sink.mutations[1] != "delete/ok" {
		t.Fatalf("unexpected mutations %v", sink.mutations)
	}
}

func TestRecordTrainingDeleted_Missing(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	err := NewService(seeded(), dispatcher, nil, nil).RecordTrainingDeleted(context.Background(), 42)
	if !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("expected ErrReferenceNotFound, got %v", err)
	}
	if len(dispatcher.all()) != 0 {
		t.Fatal("no notification expected")
	}
}

func TestRecordTrainingDeleted_PersistenceFailure(t *testing.T) {
	repo := seeded()
	repo.deleteErr = errors.New("deadlock detected")
	dispatcher := &recordingDispatcher{}

	err := NewService(repo, dispatcher, nil, nil).RecordTrainingDeleted(context.Background(), 1)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if len(dispatcher.all()) != 0 {
		t.Fatal("no notification expected")
	}
}

func TestLocalWriteSucceedsWhateverTheWorkloadService(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	notifier := workload.NewHTTPNotifier(srv.URL, auth.NewManager("secret", time.Minute), "main-service", breaker)
	dispatcher := workload.NewDispatcher(notifier, time.Second, logging.Discard(), nil)
	repo := seeded()
	svc := NewService(repo, dispatcher, nil, nil)

	// Enough failures to open the breaker, then more writes while it is open.
	for i := 0; i < 15; i++ {
		if _, err := svc.RecordTrainingCreated(context.Background(), yogaRequest()); err != nil {
			t.Fatalf("create %d: %v", i+1, err)
		}
		dispatcher.Wait()
	}
	if repo.count() != 15 {
		t.Fatalf("expected 15 stored trainings, got %d", repo.count())
	}
	if breaker.State() != circuitbreaker.Open {
		t.Fatalf("breaker should be open, got %s", breaker.State())
	}
	if got := hits.Load(); got != 10 {
		t.Fatalf("expected 10 calls before the circuit opened, got %d", got)
	}
}

func TestListTrainerTrainings(t *testing.T) {
	svc := NewService(seeded(), &recordingDispatcher{}, nil, nil)
	for i := 0; i < 3; i++ {
		if _, err := svc.RecordTrainingCreated(context.Background(), yogaRequest()); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := svc.ListTrainerTrainings(context.Background(), "john.doe", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ID != 3 {
		t.Fatalf("unexpected list %+v", list)
	}
	if _, err := svc.ListTrainerTrainings(context.Background(), "ghost", 10); !errors.Is(err, ErrReferenceNotFound) {
		t.Fatalf("expected ErrReferenceNotFound, got %v", err)
	}
}

func TestListTrainerTrainings_LimitRange(t *testing.T) {
	repo := seeded()
	svc := NewService(repo, &recordingDispatcher{}, nil, nil)

	tests := []struct {
		requested int
		want      int
	}{
		{0, DefaultListLimit},
		{-3, DefaultListLimit},
		{1, 1},
		{120, 120},
		{200, 200},
		{201, MaxListLimit},
		{5000, MaxListLimit},
	}
	for _, tt := range tests {
		if _, err := svc.ListTrainerTrainings(context.Background(), "john.doe", tt.requested); err != nil {
			t.Fatalf("list %d: %v", tt.requested, err)
		}
		if repo.lastLimit != tt.want {
			t.Errorf("limit %d reached the repository as %d, want %d", tt.requested, repo.lastLimit, tt.want)
		}
	}
}

func TestRegisterTrainer(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &recordingDispatcher{}, nil, nil)

	if err := svc.RegisterTrainer(context.Background(), Person{Username: " "}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if err := svc.RegisterTrainer(context.Background(), Person{Username: "john.doe", FirstName: "John", Active: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := repo.trainers["john.doe"]; !ok {
		t.Fatal("trainer not stored")
	}
}

package training

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gymapp/main-service/internal/contracts"
	"github.com/gymapp/main-service/internal/platform/txid"
)

type fakeRepo struct {
	mu        sync.Mutex
	trainers  map[string]Person
	trainees  map[string]Person
	types     map[string]TrainingType
	trainings map[int64]Training
	nextID    int64
	inserts   int
	lastLimit int

	findErr   error
	insertErr error
	deleteErr error
}

func newFakeRepo() *fakeRepo {
	r := &fakeRepo{
		trainers:  map[string]Person{},
		trainees:  map[string]Person{},
		types:     map[string]TrainingType{},
		trainings: map[int64]Training{},
	}
	for i, name := range SeedTrainingTypes {
		r.types[name] = TrainingType{ID: int64(i + 1), Name: name}
	}
	return r
}

// seeded returns a repository with trainer john.doe and trainee jane.roe.
func seeded() *fakeRepo {
	r := newFakeRepo()
	r.trainers["john.doe"] = Person{Username: "john.doe", FirstName: "John", LastName: "Doe", Active: true}
	r.trainees["jane.roe"] = Person{Username: "jane.roe", FirstName: "Jane", LastName: "Roe", Active: true}
	return r
}

func (r *fakeRepo) EnsureSchema(ctx context.Context) error { return nil }

func (r *fakeRepo) UpsertTrainer(ctx context.Context, p Person) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trainers[p.Username] = p
	return nil
}

func (r *fakeRepo) UpsertTrainee(ctx context.Context, p Person) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trainees[p.Username] = p
	return nil
}

func (r *fakeRepo) FindTrainer(ctx context.Context, username string) (Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return Person{}, r.findErr
	}
	p, ok := r.trainers[username]
	if !ok {
		return Person{}, ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) FindTrainee(ctx context.Context, username string) (Person, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.trainees[username]
	if !ok {
		return Person{}, ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) FindTrainingType(ctx context.Context, name string) (TrainingType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.types[strings.ToUpper(name)]
	if !ok {
		return TrainingType{}, ErrNotFound
	}
	return t, nil
}

func (r *fakeRepo) InsertTraining(ctx context.Context, nt NewTraining) (Training, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	if r.insertErr != nil {
		return Training{}, r.insertErr
	}
	var typeName string
	for _, t := range r.types {
		if t.ID == nt.TypeID {
			typeName = t.Name
		}
	}
	r.nextID++
	t := Training{
		ID:              r.nextID,
		Trainer:         r.trainers[nt.TrainerUsername].Snapshot(),
		TraineeUsername: nt.TraineeUsername,
		TypeName:        typeName,
		Name:            nt.Name,
		Date:            nt.Date,
		DurationMinutes: nt.DurationMinutes,
		CreatedAt:       time.Date(2023, time.October, 1, 9, 0, 0, 0, time.UTC),
	}
	r.trainings[t.ID] = t
	return t, nil
}

func (r *fakeRepo) DeleteTraining(ctx context.Context, id int64) (Training, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return Training{}, r.deleteErr
	}
	t, ok := r.trainings[id]
	if !ok {
		return Training{}, ErrNotFound
	}
	t.Trainer = r.trainers[t.Trainer.Username].Snapshot()
	delete(r.trainings, id)
	return t, nil
}

func (r *fakeRepo) GetTraining(ctx context.Context, id int64) (Training, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trainings[id]
	if !ok {
		return Training{}, ErrNotFound
	}
	return t, nil
}

func (r *fakeRepo) ListTrainerTrainings(ctx context.Context, trainerUsername string, limit int) ([]Training, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLimit = limit
	var out []Training
	for _, t := range r.trainings {
		if t.Trainer.Username == trainerUsername {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trainings)
}

type dispatched struct {
	event         contracts.WorkloadChangeEvent
	transactionID string
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatched
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, event contracts.WorkloadChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatched{event: event, transactionID: txid.Current(ctx)})
}

func (d *recordingDispatcher) all() []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatched(nil), d.events...)
}

type mutationSink struct {
	mu        sync.Mutex
	mutations []string
}

func (s *mutationSink) NotificationOutcome(string, string, time.Duration) {}
func (s *mutationSink) BreakerStateChanged(string)                        {}
func (s *mutationSink) DispatchInFlightIncr()                             {}
func (s *mutationSink) DispatchInFlightDecr()                             {}
func (s *mutationSink) TrainingMutation(action, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutations = append(s.mutations, action+"/"+result)
}

func yogaRequest() CreateTrainingRequest {
	return CreateTrainingRequest{
		TraineeUsername:  "jane.roe",
		TrainerUsername:  "john.doe",
		TrainingName:     "Morning Yoga",
		TrainingDate:     contracts.Date{Year: 2023, Month: time.October, Day: 1},
		TrainingTypeName: "YOGA",
		TrainingDuration: 60,
	}
}

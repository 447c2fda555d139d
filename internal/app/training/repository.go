package training

import (
	"context"
	"errors"
	"time"

	"github.com/gymapp/main-service/internal/contracts"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

// SeedTrainingTypes are inserted by EnsureSchema.
var SeedTrainingTypes = []string{"FITNESS", "YOGA", "ZUMBA", "STRETCHING", "RESISTANCE"}

const foreignKeyViolation = "23503"

type Person struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Active    bool   `json:"isActive"`
}

func (p Person) Snapshot() contracts.TrainerSnapshot {
	return contracts.TrainerSnapshot{Username: p.Username, FirstName: p.FirstName, LastName: p.LastName, Active: p.Active}
}

type TrainingType struct {
	ID   int64
	Name string
}

// NewTraining is a validated training ready to insert.
type NewTraining struct {
	TrainerUsername string
	TraineeUsername string
	TypeID          int64
	Name            string
	Date            contracts.Date
	DurationMinutes int
}

// Training is a stored training together with its trainer as of the read.
type Training struct {
	ID              int64
	Trainer         contracts.TrainerSnapshot
	TraineeUsername string
	TypeName        string
	Name            string
	Date            contracts.Date
	DurationMinutes int
	CreatedAt       time.Time
}

type Repository interface {
	EnsureSchema(ctx context.Context) error
	UpsertTrainer(ctx context.Context, p Person) error
	UpsertTrainee(ctx context.Context, p Person) error
	FindTrainer(ctx context.Context, username string) (Person, error)
	FindTrainee(ctx context.Context, username string) (Person, error)
	FindTrainingType(ctx context.Context, name string) (TrainingType, error)
	// InsertTraining stores t and returns it with the trainer read in the same transaction.
	InsertTraining(ctx context.Context, t NewTraining) (Training, error)
	// DeleteTraining removes the row and returns it as it was just before removal.
	DeleteTraining(ctx context.Context, id int64) (Training, error)
	GetTraining(ctx context.Context, id int64) (Training, error)
	ListTrainerTrainings(ctx context.Context, trainerUsername string, limit int) ([]Training, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

const createTrainersSQL = `
CREATE TABLE IF NOT EXISTS trainers (
  username text PRIMARY KEY,
  first_name text NOT NULL DEFAULT '',
  last_name text NOT NULL DEFAULT '',
  is_active boolean NOT NULL DEFAULT true
)`

const createTraineesSQL = `
CREATE TABLE IF NOT EXISTS trainees (
  username text PRIMARY KEY,
  first_name text NOT NULL DEFAULT '',
  last_name text NOT NULL DEFAULT '',
  is_active boolean NOT NULL DEFAULT true
)`

const createTrainingTypesSQL = `
CREATE TABLE IF NOT EXISTS training_types (
  id bigserial PRIMARY KEY,
  name text NOT NULL UNIQUE
)`

const createTrainingsSQL = `
CREATE TABLE IF NOT EXISTS trainings (
  id bigserial PRIMARY KEY,
  trainer_username text NOT NULL REFERENCES trainers(username),
  trainee_username text NOT NULL REFERENCES trainees(username),
  training_type_id bigint NOT NULL REFERENCES training_types(id),
  training_name text NOT NULL,
  training_date date NOT NULL,
  duration_minutes integer NOT NULL CHECK (duration_minutes > 0),
  created_at timestamptz NOT NULL DEFAULT now()
)`

const createTrainingsTrainerIndexSQL = `
CREATE INDEX IF NOT EXISTS trainings_trainer_date_idx ON trainings (trainer_username, training_date DESC)`

const seedTrainingTypeSQL = `
INSERT INTO training_types (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createTrainersSQL,
		createTraineesSQL,
		createTrainingTypesSQL,
		createTrainingsSQL,
		createTrainingsTrainerIndexSQL,
	} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	for _, name := range SeedTrainingTypes {
		if _, err := r.Pool.Exec(ctx, seedTrainingTypeSQL, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) UpsertTrainer(ctx context.Context, p Person) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO trainers (username, first_name, last_name, is_active)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (username) DO UPDATE
		 SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, is_active = EXCLUDED.is_active`,
		p.Username, p.FirstName, p.LastName, p.Active,
	)
	return err
}

func (r *PostgresRepository) UpsertTrainee(ctx context.Context, p Person) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO trainees (username, first_name, last_name, is_active)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (username) DO UPDATE
		 SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, is_active = EXCLUDED.is_active`,
		p.Username, p.FirstName, p.LastName, p.Active,
	)
	return err
}

func (r *PostgresRepository) FindTrainer(ctx context.Context, username string) (Person, error) {
	return r.findPerson(ctx, `SELECT username, first_name, last_name, is_active FROM trainers WHERE username = $1`, username)
}

func (r *PostgresRepository) FindTrainee(ctx context.Context, username string) (Person, error) {
	return r.findPerson(ctx, `SELECT username, first_name, last_name, is_active FROM trainees WHERE username = $1`, username)
}

func (r *PostgresRepository) findPerson(ctx context.Context, sql, username string) (Person, error) {
	var p Person
	err := r.Pool.QueryRow(ctx, sql, username).Scan(&p.Username, &p.FirstName, &p.LastName, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Person{}, ErrNotFound
		}
		return Person{}, err
	}
	return p, nil
}

func (r *PostgresRepository) FindTrainingType(ctx context.Context, name string) (TrainingType, error) {
	var t TrainingType
	err := r.Pool.QueryRow(ctx,
		`SELECT id, name FROM training_types WHERE upper(name) = upper($1)`,
		name,
	).Scan(&t.ID, &t.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TrainingType{}, ErrNotFound
		}
		return TrainingType{}, err
	}
	return t, nil
}

const selectTrainingSQL = `
SELECT t.id, tr.username, tr.first_name, tr.last_name, tr.is_active,
       t.trainee_username, tt.name, t.training_name, t.training_date,
       t.duration_minutes, t.created_at
FROM trainings t
JOIN trainers tr ON tr.username = t.trainer_username
JOIN training_types tt ON tt.id = t.training_type_id`

func scanTraining(row pgx.Row) (Training, error) {
	var t Training
	var date time.Time
	err := row.Scan(
		&t.ID,
		&t.Trainer.Username,
		&t.Trainer.FirstName,
		&t.Trainer.LastName,
		&t.Trainer.Active,
		&t.TraineeUsername,
		&t.TypeName,
		&t.Name,
		&date,
		&t.DurationMinutes,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Training{}, ErrNotFound
		}
		return Training{}, err
	}
	t.Date = contracts.DateOf(date)
	return t, nil
}

func (r *PostgresRepository) InsertTraining(ctx context.Context, nt NewTraining) (Training, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Training{}, err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO trainings (trainer_username, trainee_username, training_type_id, training_name, training_date, duration_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		nt.TrainerUsername, nt.TraineeUsername, nt.TypeID, nt.Name, nt.Date.Time(), nt.DurationMinutes,
	).Scan(&id)
	if err != nil {
		// A reference removed between lookup and insert.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return Training{}, ErrNotFound
		}
		return Training{}, err
	}

	stored, err := scanTraining(tx.QueryRow(ctx, selectTrainingSQL+` WHERE t.id = $1`, id))
	if err != nil {
		return Training{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Training{}, err
	}
	return stored, nil
}

func (r *PostgresRepository) DeleteTraining(ctx context.Context, id int64) (Training, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Training{}, err
	}
	defer tx.Rollback(ctx)

	snapshot, err := scanTraining(tx.QueryRow(ctx, selectTrainingSQL+` WHERE t.id = $1 FOR UPDATE OF t`, id))
	if err != nil {
		return Training{}, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM trainings WHERE id = $1`, id); err != nil {
		return Training{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Training{}, err
	}
	return snapshot, nil
}

func (r *PostgresRepository) GetTraining(ctx context.Context, id int64) (Training, error) {
	return scanTraining(r.Pool.QueryRow(ctx, selectTrainingSQL+` WHERE t.id = $1`, id))
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListLimit maps a requested page size onto 1..MaxListLimit; zero or negative
// means DefaultListLimit.
func ListLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	}
	return limit
}

func (r *PostgresRepository) ListTrainerTrainings(ctx context.Context, trainerUsername string, limit int) ([]Training, error) {
	limit = ListLimit(limit)
	rows, err := r.Pool.Query(ctx,
		selectTrainingSQL+`
		 WHERE t.trainer_username = $1
		 ORDER BY t.training_date DESC, t.id DESC
		 LIMIT $2`,
		trainerUsername, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Training, 0, limit)
	for rows.Next() {
		t, err := scanTraining(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

package workloadsink

import (
	"context"

	"github.com/gymapp/main-service/internal/contracts"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createWorkloadEventsSQL = `
CREATE TABLE IF NOT EXISTS workload_events (
  id bigserial PRIMARY KEY,
  msg_id text UNIQUE,
  stream_seq bigint NOT NULL DEFAULT 0,
  source text NOT NULL,
  transaction_id text NOT NULL DEFAULT '',
  trainer_username text NOT NULL,
  trainer_first_name text NOT NULL DEFAULT '',
  trainer_last_name text NOT NULL DEFAULT '',
  trainer_active boolean NOT NULL,
  training_date date NOT NULL,
  duration_minutes integer NOT NULL,
  action_type text NOT NULL,
  received_at timestamptz NOT NULL DEFAULT now()
)`

const createMonthlyWorkloadSQL = `
CREATE TABLE IF NOT EXISTS trainer_monthly_workload (
  trainer_username text NOT NULL,
  year integer NOT NULL,
  month integer NOT NULL,
  total_minutes integer NOT NULL DEFAULT 0,
  trainer_first_name text NOT NULL DEFAULT '',
  trainer_last_name text NOT NULL DEFAULT '',
  trainer_active boolean NOT NULL DEFAULT true,
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (trainer_username, year, month)
)`

const insertWorkloadEventSQL = `
INSERT INTO workload_events (
  msg_id, stream_seq, source, transaction_id,
  trainer_username, trainer_first_name, trainer_last_name, trainer_active,
  training_date, duration_minutes, action_type
)
VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (msg_id) DO NOTHING
`

// Totals never go below zero; a DELETE for a month never seen is absorbed.
const applyMonthlyDeltaSQL = `
INSERT INTO trainer_monthly_workload (
  trainer_username, year, month, total_minutes,
  trainer_first_name, trainer_last_name, trainer_active, updated_at
)
VALUES ($1, $2, $3, GREATEST($4, 0), $5, $6, $7, now())
ON CONFLICT (trainer_username, year, month) DO UPDATE
SET total_minutes = GREATEST(trainer_monthly_workload.total_minutes + $4, 0),
    trainer_first_name = EXCLUDED.trainer_first_name,
    trainer_last_name = EXCLUDED.trainer_last_name,
    trainer_active = EXCLUDED.trainer_active,
    updated_at = now()
`

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, createWorkloadEventsSQL); err != nil {
		return err
	}
	if _, err := r.Pool.Exec(ctx, createMonthlyWorkloadSQL); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) RecordEvent(ctx context.Context, rec Received) (bool, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	e := rec.Event
	tag, err := tx.Exec(ctx, insertWorkloadEventSQL,
		rec.MsgID,
		int64(rec.StreamSeq),
		rec.Source,
		rec.TransactionID,
		e.TrainerUsername,
		e.TrainerFirstName,
		e.TrainerLastName,
		e.TrainerActive,
		e.TrainingDate.Time(),
		e.TrainingDuration,
		string(e.ActionType),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, applyMonthlyDeltaSQL,
		e.TrainerUsername,
		e.TrainingDate.Year,
		int(e.TrainingDate.Month),
		MinutesDelta(e),
		e.TrainerFirstName,
		e.TrainerLastName,
		e.TrainerActive,
	); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// MinutesDelta is the signed change an event applies to its month.
func MinutesDelta(e contracts.WorkloadChangeEvent) int {
	if e.ActionType == contracts.ActionDelete {
		return -e.TrainingDuration
	}
	return e.TrainingDuration
}

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/indexops/recalc/internal/task"
)

type PostgresRecorder struct {
	db *sql.DB
}

func NewPostgresRecorder(connectionString string) (*PostgresRecorder, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRecorder{db: db}, nil
}

func (r *PostgresRecorder) RecordCreated(ctx context.Context, t *task.Task) error {
	descriptor, err := json.Marshal(t.Descriptor)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	query := `
		INSERT INTO task_history (
			task_id, kind, type, descriptor, status, progress, message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id) DO NOTHING
	`

	_, err = r.db.ExecContext(
		ctx,
		query,
		t.ID,
		string(t.Kind),
		t.Descriptor.Type,
		descriptor,
		string(t.Status),
		t.Progress,
		t.Message,
		t.CreatedAt,
	)

	return err
}

func (r *PostgresRecorder) RecordTransition(ctx context.Context, t *task.Task) error {
	var failureKind, failureMessage sql.NullString
	if t.Result != nil && t.Result.Failure != nil {
		failureKind = sql.NullString{String: t.Result.Failure.Kind, Valid: true}
		failureMessage = sql.NullString{String: t.Result.Failure.Message, Valid: true}
	}

	var startedAt, completedAt sql.NullTime
	if t.StartedAt != nil {
		startedAt = sql.NullTime{Time: *t.StartedAt, Valid: true}
	}
	if t.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *t.CompletedAt, Valid: true}
	}

	query := `
		UPDATE task_history
		SET status = $1,
		    progress = $2,
		    message = $3,
		    started_at = $4,
		    completed_at = $5,
		    failure_kind = $6,
		    failure_message = $7
		WHERE task_id = $8
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		string(t.Status),
		t.Progress,
		t.Message,
		startedAt,
		completedAt,
		failureKind,
		failureMessage,
		t.ID,
	)

	return err
}

func (r *PostgresRecorder) LogExecution(ctx context.Context, taskID string, status task.Status, durationMs int64, errMsg string) error {
	query := `
		INSERT INTO task_execution_log (
			task_id, status, completed_at, duration_ms, error_message
		) VALUES ($1, $2, NOW(), $3, $4)
	`

	var durationMsVal any
	if durationMs == 0 {
		durationMsVal = nil
	} else {
		durationMsVal = durationMs
	}

	var errMsgVal any
	if errMsg == "" {
		errMsgVal = nil
	} else {
		errMsgVal = errMsg
	}

	_, err := r.db.ExecContext(ctx, query, taskID, string(status), durationMsVal, errMsgVal)

	return err
}

func (r *PostgresRecorder) DB() *sql.DB {
	return r.db
}

func (r *PostgresRecorder) Close() error {
	return r.db.Close()
}

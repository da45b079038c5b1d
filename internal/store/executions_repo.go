package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"phonepilot/internal/core"
)

// InsertExecution stores a new execution in pending status.
func (s *Store) InsertExecution(ctx context.Context, exec *core.Execution) error {
	now := time.Now().UTC()
	exec.CreatedAt = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO executions (id, task_id, device_serial, command, status, started_at, finished_at, error, recording_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exec.ID, nullableString(exec.TaskID), exec.DeviceSerial, exec.Command, exec.Status,
		nullableTime(exec.StartedAt), nullableTime(exec.FinishedAt),
		nullableString(exec.ErrorMessage), nullableString(exec.RecordingPath),
		now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// MarkExecutionStarted transitions a pending execution to running.
func (s *Store) MarkExecutionStarted(ctx context.Context, id string, startedAt time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE executions SET status = ?, started_at = ? WHERE id = ?
	`, core.ExecutionRunning, startedAt.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark execution started: %w", err)
	}
	return requireRow(res)
}

// UpdateExecutionStatus records a non-terminal status change (pause and
// resume transitions).
func (s *Store) UpdateExecutionStatus(ctx context.Context, id string, status core.ExecutionStatus) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE executions SET status = ? WHERE id = ?
	`, status, id)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	return requireRow(res)
}

// AppendExecutionStep persists one finalized step. Steps are append-only;
// the primary key rejects a repeated index.
func (s *Store) AppendExecutionStep(ctx context.Context, id string, step core.ExecutionStep) error {
	var action any
	if step.Action != nil {
		data, err := json.Marshal(step.Action)
		if err != nil {
			return fmt.Errorf("marshal action: %w", err)
		}
		action = string(data)
	}
	var screenshot any
	if step.Screenshot != "" {
		screenshot = step.Screenshot
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO execution_steps (execution_id, step, thinking, action, raw, screenshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, step.Index, step.Thinking, action, step.Raw, screenshot,
		step.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append execution step: %w", err)
	}
	return nil
}

// MarkExecutionFinished freezes an execution at its terminal status.
func (s *Store) MarkExecutionFinished(ctx context.Context, id string, status core.ExecutionStatus, finishedAt time.Time, errMsg, recordingPath *string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE executions SET status = ?, finished_at = ?, error = ?, recording_path = ? WHERE id = ?
	`, status, finishedAt.UTC().Format(time.RFC3339Nano), nullableString(errMsg), nullableString(recordingPath), id)
	if err != nil {
		return fmt.Errorf("mark execution finished: %w", err)
	}
	return requireRow(res)
}

// GetExecution loads an execution with its full step log.
func (s *Store) GetExecution(ctx context.Context, id string) (*core.Execution, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, task_id, device_serial, command, status, started_at, finished_at, error, recording_path, created_at
		FROM executions WHERE id = ?
	`, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrExecutionNotFound
		}
		return nil, err
	}
	steps, err := s.ExecutionSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	exec.Steps = steps
	return exec, nil
}

// ExecutionSteps returns the persisted step log in index order.
func (s *Store) ExecutionSteps(ctx context.Context, id string) ([]core.ExecutionStep, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT step, thinking, action, raw, screenshot, created_at
		FROM execution_steps WHERE execution_id = ? ORDER BY step
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list execution steps: %w", err)
	}
	defer rows.Close()
	var steps []core.ExecutionStep
	for rows.Next() {
		var (
			step       core.ExecutionStep
			action     sql.NullString
			screenshot sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&step.Index, &step.Thinking, &action, &step.Raw, &screenshot, &createdAt); err != nil {
			return nil, fmt.Errorf("scan execution step: %w", err)
		}
		if action.Valid && action.String != "" {
			var a core.Action
			if err := json.Unmarshal([]byte(action.String), &a); err != nil {
				return nil, fmt.Errorf("decode step action: %w", err)
			}
			step.Action = &a
		}
		if screenshot.Valid {
			step.Screenshot = screenshot.String
		}
		step.Timestamp = mustParseTime(createdAt)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// ListExecutions returns execution summaries, newest first, optionally
// filtered by task.
func (s *Store) ListExecutions(ctx context.Context, taskID string, limit, offset int) ([]*core.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, task_id, device_serial, command, status, started_at, finished_at, error, recording_path, created_at
		FROM executions`
	args := []any{}
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	var execs []*core.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return execs, nil
}

// DeleteExecution removes a terminal execution and its step log.
func (s *Store) DeleteExecution(ctx context.Context, id string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM execution_steps WHERE execution_id = ?`, id); err != nil {
		return fmt.Errorf("delete execution steps: %w", err)
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return core.ErrExecutionNotFound
	}
	return nil
}

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*core.Execution, error) {
	var (
		exec       core.Execution
		taskID     sql.NullString
		startedAt  sql.NullString
		finishedAt sql.NullString
		errMsg     sql.NullString
		recording  sql.NullString
		createdAt  string
	)
	if err := scanner.Scan(&exec.ID, &taskID, &exec.DeviceSerial, &exec.Command, &exec.Status,
		&startedAt, &finishedAt, &errMsg, &recording, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	if taskID.Valid {
		exec.TaskID = &taskID.String
	}
	if startedAt.Valid {
		t := mustParseTime(startedAt.String)
		exec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := mustParseTime(finishedAt.String)
		exec.FinishedAt = &t
	}
	if errMsg.Valid {
		exec.ErrorMessage = &errMsg.String
	}
	if recording.Valid {
		exec.RecordingPath = &recording.String
	}
	exec.CreatedAt = mustParseTime(createdAt)
	return &exec, nil
}

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

// GetTask loads one task record.
func (s *Store) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListEnabledTasks returns every enabled task, for scheduler sync.
func (s *Store) ListEnabledTasks(ctx context.Context) ([]*core.Task, error) {
	return s.listTasks(ctx, taskSelect+` WHERE enabled = 1 ORDER BY created_at`)
}

// ListTasks returns every task record.
func (s *Store) ListTasks(ctx context.Context) ([]*core.Task, error) {
	return s.listTasks(ctx, taskSelect+` ORDER BY created_at`)
}

// InsertTask stores a task record. The management layer owns task content;
// this exists for seeding and tests.
func (s *Store) InsertTask(ctx context.Context, task *core.Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	var channels any
	if len(task.NotificationChannelIDs) > 0 {
		data, err := json.Marshal(task.NotificationChannelIDs)
		if err != nil {
			return fmt.Errorf("marshal channel ids: %w", err)
		}
		channels = string(data)
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (
			id, name, command, cron, timezone, random_delay_minutes,
			device_serial, wake_before_run, unlock_before_run,
			go_home_after_run, auto_confirm_sensitive, enabled,
			notify_on_success, notify_on_failure, notification_channel_ids,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Name, task.Command, task.Cron, task.Timezone, task.RandomDelayMinutes,
		task.DeviceSerial, task.WakeBeforeRun, task.UnlockBeforeRun,
		task.GoHomeAfterRun, task.AutoConfirmSensitive, task.Enabled,
		task.NotifyOnSuccess, task.NotifyOnFailure, channels,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

const taskSelect = `
	SELECT id, name, command, cron, timezone, random_delay_minutes,
	       device_serial, wake_before_run, unlock_before_run,
	       go_home_after_run, auto_confirm_sensitive, enabled,
	       notify_on_success, notify_on_failure, notification_channel_ids,
	       created_at, updated_at
	FROM tasks`

func (s *Store) listTasks(ctx context.Context, query string) ([]*core.Task, error) {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		task      core.Task
		channels  sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(
		&task.ID, &task.Name, &task.Command, &task.Cron, &task.Timezone,
		&task.RandomDelayMinutes, &task.DeviceSerial, &task.WakeBeforeRun,
		&task.UnlockBeforeRun, &task.GoHomeAfterRun, &task.AutoConfirmSensitive,
		&task.Enabled, &task.NotifyOnSuccess, &task.NotifyOnFailure,
		&channels, &createdAt, &updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if channels.Valid && channels.String != "" {
		if err := json.Unmarshal([]byte(channels.String), &task.NotificationChannelIDs); err != nil {
			return nil, fmt.Errorf("decode channel ids: %w", err)
		}
	}
	task.CreatedAt = mustParseTime(createdAt)
	task.UpdatedAt = mustParseTime(updatedAt)
	return &task, nil
}

package core

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskSource is the scheduler's read-only view of task records.
type TaskSource interface {
	GetTask(ctx context.Context, id string) (*Task, error)
	ListEnabledTasks(ctx context.Context) ([]*Task, error)
}

// DeviceResolver turns a task's device selection into a concrete serial.
// An empty preferred serial resolves to the globally selected device, or
// the first online one.
type DeviceResolver interface {
	ResolveDevice(ctx context.Context, preferred string) (string, error)
}

// Starter is the scheduler's handle on the engine.
type Starter interface {
	Start(ctx context.Context, req StartRequest) (*Execution, error)
}

// Scheduler fires enabled tasks from their cron expressions, evaluated in
// each task's timezone, with optional uniform random jitter. Every task's
// timer is independent; one task's long run never delays another's firing.
type Scheduler struct {
	tasks   TaskSource
	engine  Starter
	devices DeviceResolver
	logger  *slog.Logger

	cron    *cron.Cron
	entryMu sync.RWMutex
	entries map[string]cron.EntryID

	rngMu sync.Mutex
	rng   *rand.Rand

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(tasks TaskSource, engine Starter, devices DeviceResolver, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:   tasks,
		engine:  engine,
		devices: devices,
		logger:  logger,
		cron:    cron.New(cron.WithParser(cronParser)),
		entries: make(map[string]cron.EntryID),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start begins the scheduling loop. ctx bounds fired runs and jitter waits.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop stops the scheduler and returns a context that closes when dispatch
// of in-flight cron jobs has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Sync loads enabled tasks and ensures each has a schedule entry; tasks no
// longer enabled are unscheduled.
func (s *Scheduler) Sync(ctx context.Context) error {
	tasks, err := s.tasks.ListEnabledTasks(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		seen[task.ID] = true
		if err := s.scheduleTask(task); err != nil {
			s.logger.Error("schedule task", "task_id", task.ID, "err", err)
		}
	}
	s.entryMu.Lock()
	for taskID, entryID := range s.entries {
		if !seen[taskID] {
			s.cron.Remove(entryID)
			delete(s.entries, taskID)
		}
	}
	s.entryMu.Unlock()
	return nil
}

// NextRun returns the next computed firing instant for a scheduled task.
func (s *Scheduler) NextRun(taskID string) (time.Time, bool) {
	s.entryMu.RLock()
	entryID, ok := s.entries[taskID]
	s.entryMu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	next := s.cron.Entry(entryID).Next
	return next, !next.IsZero()
}

func (s *Scheduler) scheduleTask(task *Task) error {
	loc := time.Local
	if task.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(task.Timezone)
		if err != nil {
			return err
		}
	}
	schedule, err := ParseCron(task.Cron, loc)
	if err != nil {
		return err
	}

	s.unscheduleTask(task.ID)
	taskID := task.ID
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.fire(taskID)
	}))
	s.entryMu.Lock()
	s.entries[taskID] = entryID
	s.entryMu.Unlock()
	return nil
}

func (s *Scheduler) unscheduleTask(taskID string) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	if entryID, ok := s.entries[taskID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, taskID)
	}
}

// fire handles one cron trigger: re-read the task, apply jitter, start the
// run. A busy device means this occurrence is skipped outright; it is
// logged, never queued or retried, and leaves no execution record.
func (s *Scheduler) fire(taskID string) {
	ctx := s.ctxOrBackground()
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		s.logger.Error("fetch task for scheduled run", "task_id", taskID, "err", err)
		return
	}
	if !task.Enabled {
		return
	}

	go func() {
		if task.RandomDelayMinutes > 0 {
			s.rngMu.Lock()
			delay := JitterDelay(task.RandomDelayMinutes, s.rng)
			s.rngMu.Unlock()
			s.logger.Debug("delaying scheduled run", "task_id", task.ID, "delay", delay)
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}

		serial, err := s.devices.ResolveDevice(ctx, task.DeviceSerial)
		if err != nil {
			s.logger.Error("resolve device for scheduled run", "task_id", task.ID, "err", err)
			return
		}

		_, err = s.engine.Start(ctx, StartRequestForTask(task, serial))
		switch {
		case errors.Is(err, ErrDeviceBusy):
			s.logger.Info("skipping scheduled run, device busy", "task_id", task.ID, "device", serial)
		case err != nil:
			s.logger.Error("start scheduled run", "task_id", task.ID, "err", err)
		}
	}()
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// StartRequestForTask maps a task's toggles onto a start request.
func StartRequestForTask(task *Task, deviceSerial string) StartRequest {
	return StartRequest{
		Task:         task,
		Command:      task.Command,
		DeviceSerial: deviceSerial,
		Prep: PrepOptions{
			Wake:   task.WakeBeforeRun,
			Unlock: task.UnlockBeforeRun,
			GoHome: task.GoHomeAfterRun,
		},
		AutoConfirmSensitive: task.AutoConfirmSensitive,
		Record:               true,
	}
}

package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Store abstracts execution persistence for the engine. Step records are
// append-only during a run and frozen at terminal status.
type Store interface {
	InsertExecution(ctx context.Context, exec *Execution) error
	MarkExecutionStarted(ctx context.Context, id string, startedAt time.Time) error
	UpdateExecutionStatus(ctx context.Context, id string, status ExecutionStatus) error
	AppendExecutionStep(ctx context.Context, id string, step ExecutionStep) error
	MarkExecutionFinished(ctx context.Context, id string, status ExecutionStatus, finishedAt time.Time, errMsg, recordingPath *string) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
}

// NotificationSink receives execution summaries at terminal transitions.
// Delivery is fire-and-forget; failures stay inside the sink.
type NotificationSink interface {
	Notify(ctx context.Context, task *Task, summary ExecutionSummary)
}

// EngineConfig tunes run behavior.
type EngineConfig struct {
	// MaxSteps is the step budget; a loop that never finishes fails with
	// ErrStepBudgetExceeded at exactly this count.
	MaxSteps int
	// SensitiveActions are action names that pause the run for human
	// confirmation unless the task auto-confirms.
	SensitiveActions []string
	// TakeoverAction hands control to the operator until resumed.
	TakeoverAction string
	// ContinueInstruction re-drives the agent loop on resume.
	ContinueInstruction string
	// UnlockGesture is the configured unlock replay, used when a request
	// enables the unlock stage without its own gesture.
	UnlockGesture *Gesture
}

func (c *EngineConfig) setDefaults() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 100
	}
	if len(c.SensitiveActions) == 0 {
		c.SensitiveActions = []string{"Sensitive", "Confirm"}
	}
	if c.TakeoverAction == "" {
		c.TakeoverAction = "Take_over"
	}
	if c.ContinueInstruction == "" {
		c.ContinueInstruction = "continue"
	}
}

// StartRequest describes one run to begin. Task is nil for ad-hoc runs.
type StartRequest struct {
	Task                 *Task
	Command              string
	DeviceSerial         string
	Prep                 PrepOptions
	AutoConfirmSensitive bool
	Record               bool
}

// Engine owns execution lifecycles: it holds the per-device exclusivity
// locks, drives the agent loop, pauses and resumes runs, and publishes the
// step stream.
type Engine struct {
	store     Store
	agents    AgentFactory
	actuators ActuatorFactory
	recorder  Recorder
	sink      NotificationSink
	bus       *Bus
	logger    *slog.Logger
	cfg       EngineConfig

	baseCtx context.Context

	mu       sync.Mutex
	byDevice map[string]*run
	byID     map[string]*run
}

type run struct {
	exec     *Execution
	req      StartRequest
	agent    Agent
	act      Actuator
	cancel   context.CancelFunc
	resumeCh chan string

	mu     sync.Mutex
	status ExecutionStatus
	pause  *PauseState
}

// NewEngine constructs the engine. sink and recorder may be nil.
func NewEngine(store Store, agents AgentFactory, actuators ActuatorFactory, recorder Recorder, sink NotificationSink, bus *Bus, logger *slog.Logger, cfg EngineConfig) *Engine {
	cfg.setDefaults()
	return &Engine{
		store:     store,
		agents:    agents,
		actuators: actuators,
		recorder:  recorder,
		sink:      sink,
		bus:       bus,
		logger:    logger,
		cfg:       cfg,
		baseCtx:   context.Background(),
		byDevice:  make(map[string]*run),
		byID:      make(map[string]*run),
	}
}

// SetBaseContext sets the context run goroutines derive from. Cancelling it
// cancels every active run on shutdown.
func (e *Engine) SetBaseContext(ctx context.Context) { e.baseCtx = ctx }

// Bus exposes the step stream for observers.
func (e *Engine) Bus() *Bus { return e.bus }

// ActiveExecution returns the id of the device's active run, if any.
func (e *Engine) ActiveExecution(deviceSerial string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.byDevice[deviceSerial]
	if !ok {
		return "", false
	}
	return r.exec.ID, true
}

// Start begins a run. It fails fast with ErrDeviceBusy when the device
// already has an active (running or paused) execution; the device lock is
// taken atomically here and released only on terminal transition.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*Execution, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("command is required")
	}
	if req.DeviceSerial == "" {
		return nil, fmt.Errorf("device serial is required")
	}

	exec := &Execution{
		ID:           uuid.NewString(),
		DeviceSerial: req.DeviceSerial,
		Command:      req.Command,
		Status:       ExecutionPending,
	}
	if req.Task != nil {
		id := req.Task.ID
		exec.TaskID = &id
	}

	// The cancel func must exist before the run is visible in the maps:
	// a Cancel arriving while Start is still persisting the execution
	// finds a usable handle, not a nil func.
	runCtx, cancel := context.WithCancel(e.baseCtx)
	r := &run{
		exec:     exec,
		req:      req,
		cancel:   cancel,
		resumeCh: make(chan string, 1),
		status:   ExecutionPending,
	}

	e.mu.Lock()
	if _, busy := e.byDevice[req.DeviceSerial]; busy {
		e.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("device %s: %w", req.DeviceSerial, ErrDeviceBusy)
	}
	e.byDevice[req.DeviceSerial] = r
	e.byID[exec.ID] = r
	e.mu.Unlock()

	if err := e.store.InsertExecution(ctx, exec); err != nil {
		cancel()
		e.release(r)
		return nil, fmt.Errorf("insert execution: %w", err)
	}

	agent, err := e.agents.NewAgent(req.DeviceSerial)
	if err != nil {
		cancel()
		e.failBeforeRun(r, fmt.Errorf("open agent session: %w", err))
		return nil, err
	}
	r.agent = agent
	r.act = e.actuators.Actuator(req.DeviceSerial)

	go e.loop(runCtx, r)

	return exec, nil
}

// Resume re-drives a paused run with the configured continuation
// instruction. Any other state yields ErrInvalidStateTransition.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	r, err := e.lookup(ctx, executionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if !r.status.Paused() {
		r.mu.Unlock()
		return fmt.Errorf("resume from %s: %w", r.status, ErrInvalidStateTransition)
	}
	instruction := e.cfg.ContinueInstruction
	if r.pause != nil && r.pause.Resume != "" {
		instruction = r.pause.Resume
	}
	r.mu.Unlock()

	select {
	case r.resumeCh <- instruction:
		return nil
	default:
		return fmt.Errorf("resume already pending: %w", ErrInvalidStateTransition)
	}
}

// Cancel forcibly terminates a non-terminal run. The execution transitions
// to failed with a Cancelled error and every attached stream receives a
// terminal done event.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	r, err := e.lookup(ctx, executionID)
	if err != nil {
		return err
	}
	r.cancel()
	return nil
}

func (e *Engine) lookup(ctx context.Context, executionID string) (*run, error) {
	e.mu.Lock()
	r, ok := e.byID[executionID]
	e.mu.Unlock()
	if ok {
		return r, nil
	}
	// Not active: distinguish a finished execution from an unknown one.
	if _, err := e.store.GetExecution(ctx, executionID); err != nil {
		return nil, ErrExecutionNotFound
	}
	return nil, fmt.Errorf("execution is terminal: %w", ErrInvalidStateTransition)
}

func (e *Engine) release(r *run) {
	e.mu.Lock()
	delete(e.byDevice, r.exec.DeviceSerial)
	delete(e.byID, r.exec.ID)
	e.mu.Unlock()
}

func (e *Engine) failBeforeRun(r *run, cause error) {
	now := time.Now().UTC()
	msg := cause.Error()
	if err := e.store.MarkExecutionFinished(e.baseCtx, r.exec.ID, ExecutionFailed, now, &msg, nil); err != nil {
		e.logger.Error("mark execution failed", "execution_id", r.exec.ID, "err", err)
	}
	e.bus.Publish(r.exec.ID, doneEvent(false, msg, ""))
	e.bus.Close(r.exec.ID)
	e.release(r)
}

func (e *Engine) setStatus(ctx context.Context, r *run, status ExecutionStatus) {
	r.mu.Lock()
	r.status = status
	if !status.Paused() {
		r.pause = nil
	}
	r.mu.Unlock()
	if err := e.store.UpdateExecutionStatus(ctx, r.exec.ID, status); err != nil {
		e.logger.Error("update execution status", "execution_id", r.exec.ID, "status", status, "err", err)
	}
}

// loop is the run goroutine: preparation, agent consumption, pause
// handling, terminal transition. Every start ends in a terminal status or
// an explicit pause; executions are never silently dropped.
func (e *Engine) loop(ctx context.Context, r *run) {
	execID := r.exec.ID
	logger := e.logger.With("execution_id", execID, "device", r.exec.DeviceSerial)

	startedAt := time.Now().UTC()
	if err := e.store.MarkExecutionStarted(ctx, execID, startedAt); err != nil {
		logger.Error("mark execution started", "err", err)
	}
	r.mu.Lock()
	r.status = ExecutionRunning
	r.mu.Unlock()

	if r.req.Record && e.recorder != nil {
		if err := e.recorder.Start(ctx, execID, r.exec.DeviceSerial); err != nil {
			logger.Warn("start recording", "err", err)
		}
	}

	prep := r.req.Prep
	if prep.UnlockGesture == nil {
		prep.UnlockGesture = e.cfg.UnlockGesture
	}
	Prepare(ctx, r.act, prep, logger)

	var (
		success     bool
		failure     error
		lastMessage string
		curStep     atomic.Int64
	)
	onToken := func(phase Phase, content string) {
		e.bus.Publish(execID, tokenEvent(int(curStep.Load()), phase, content))
	}

	instruction := r.exec.Command
	stepIdx := 0

consume:
	for {
		// Checked at the top so a run resumed on the budget boundary
		// cannot consume an extra step.
		if stepIdx >= e.cfg.MaxSteps {
			failure = ErrStepBudgetExceeded
			break
		}
		curStep.Store(int64(stepIdx + 1))
		res, err := r.agent.Step(ctx, instruction, onToken)
		instruction = ""
		if err != nil {
			var actErr *ActuatorError
			switch {
			case ctx.Err() != nil:
				failure = ErrCancelled
			case errors.As(err, &actErr):
				failure = err
			default:
				failure = &AgentError{Err: err}
			}
			break
		}

		if res.Thinking == "" && res.Action == nil && res.Raw == "" {
			// Nothing to record or stream for an empty yield.
			if res.Finished {
				success = res.Success
				lastMessage = res.Message
				break
			}
			continue
		}

		stepIdx++
		step := ExecutionStep{
			Index:      stepIdx,
			Thinking:   res.Thinking,
			Action:     res.Action,
			Raw:        res.Raw,
			Screenshot: res.Screenshot,
			Timestamp:  time.Now().UTC(),
		}
		if err := e.store.AppendExecutionStep(ctx, execID, step); err != nil {
			logger.Error("append step", "step", stepIdx, "err", err)
		}
		e.bus.Publish(execID, stepEvent(step, res.Finished, res.Success, res.Message))

		switch e.classify(res) {
		case PauseTakeover:
			msg := pausePrompt(res, "manual action required, resume when done")
			e.setStatus(ctx, r, ExecutionPausedTakeover)
			r.mu.Lock()
			r.pause = &PauseState{Reason: PauseTakeover, Step: stepIdx, Message: msg}
			r.mu.Unlock()
			e.bus.Publish(execID, takeoverEvent(stepIdx, msg))
			e.bus.Publish(execID, doneEvent(true, msg, PauseTakeover))
			if !e.awaitResume(ctx, r, &instruction) {
				failure = ErrCancelled
				break consume
			}
			continue
		case PauseSensitive:
			if !r.req.AutoConfirmSensitive {
				msg := pausePrompt(res, "confirmation required for a sensitive action")
				e.setStatus(ctx, r, ExecutionPausedSensitive)
				r.mu.Lock()
				r.pause = &PauseState{Reason: PauseSensitive, Step: stepIdx, Message: msg}
				r.mu.Unlock()
				e.bus.Publish(execID, sensitiveEvent(stepIdx, msg, res.Action))
				e.bus.Publish(execID, doneEvent(true, msg, PauseSensitive))
				if !e.awaitResume(ctx, r, &instruction) {
					failure = ErrCancelled
					break consume
				}
				continue
			}
		}

		if res.Finished {
			success = res.Success
			lastMessage = res.Message
			break
		}
	}

	e.finish(r, success, lastMessage, failure, logger)
}

// awaitResume blocks a paused run until resume or cancellation. Returns
// false when the run was cancelled.
func (e *Engine) awaitResume(ctx context.Context, r *run, instruction *string) bool {
	select {
	case instr := <-r.resumeCh:
		e.setStatus(ctx, r, ExecutionRunning)
		*instruction = instr
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) finish(r *run, success bool, lastMessage string, failure error, logger *slog.Logger) {
	execID := r.exec.ID
	status := ExecutionSuccess
	var errMsg *string
	if failure != nil {
		status = ExecutionFailed
		msg := failure.Error()
		errMsg = &msg
	} else if !success {
		status = ExecutionFailed
		if lastMessage != "" {
			errMsg = &lastMessage
		}
	}

	// Post-run stages run on a fresh context: the run context may already
	// be cancelled.
	tailCtx, cancelTail := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelTail()

	var recordingPath *string
	if r.req.Record && e.recorder != nil {
		if path, err := e.recorder.Stop(tailCtx, execID); err != nil {
			logger.Warn("stop recording", "err", err)
		} else if path != "" {
			recordingPath = &path
		}
	}

	Finish(tailCtx, r.act, r.req.Prep, logger)

	if err := r.agent.Close(); err != nil {
		logger.Warn("close agent session", "err", err)
	}

	finishedAt := time.Now().UTC()
	if err := e.store.MarkExecutionFinished(tailCtx, execID, status, finishedAt, errMsg, recordingPath); err != nil {
		logger.Error("mark execution finished", "err", err)
	}
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()

	var agentErr *AgentError
	var actErr *ActuatorError
	if errors.As(failure, &agentErr) || errors.As(failure, &actErr) {
		e.bus.Publish(execID, errorEvent(failure.Error()))
	}
	doneMsg := lastMessage
	if errMsg != nil {
		doneMsg = *errMsg
	}
	e.bus.Publish(execID, doneEvent(status == ExecutionSuccess, doneMsg, ""))
	e.bus.Close(execID)

	e.release(r)
	logger.Info("execution finished", "status", status)

	if e.sink != nil && r.req.Task != nil {
		task := r.req.Task
		notify := (status == ExecutionSuccess && task.NotifyOnSuccess) ||
			(status == ExecutionFailed && task.NotifyOnFailure)
		if notify {
			summary := ExecutionSummary{
				TaskName:   task.Name,
				Status:     status,
				FinishedAt: finishedAt,
				ResultText: lastMessage,
			}
			if errMsg != nil {
				summary.ErrorMessage = *errMsg
			}
			e.sink.Notify(tailCtx, task, summary)
		}
	}
}

// classify decides whether a step pauses the run.
func (e *Engine) classify(res *StepResult) PauseReason {
	name := ""
	if res.Action != nil {
		name = res.Action.Name
	}
	if name == e.cfg.TakeoverAction || strings.Contains(res.Raw, e.cfg.TakeoverAction) {
		return PauseTakeover
	}
	if res.Finished {
		return ""
	}
	for _, s := range e.cfg.SensitiveActions {
		if name == s || strings.Contains(res.Raw, s) {
			return PauseSensitive
		}
	}
	return ""
}

func pausePrompt(res *StepResult, fallback string) string {
	if msg := res.Action.Message(); msg != "" {
		return FirstLine(msg)
	}
	if res.Message != "" {
		return FirstLine(res.Message)
	}
	return fallback
}

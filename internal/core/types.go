package core

import (
	"time"
)

// ExecutionStatus describes the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionPending         ExecutionStatus = "pending"
	ExecutionRunning         ExecutionStatus = "running"
	ExecutionPausedSensitive ExecutionStatus = "paused_sensitive"
	ExecutionPausedTakeover  ExecutionStatus = "paused_takeover"
	ExecutionSuccess         ExecutionStatus = "success"
	ExecutionFailed          ExecutionStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSuccess || s == ExecutionFailed
}

// Paused reports whether the execution is waiting for an operator.
func (s ExecutionStatus) Paused() bool {
	return s == ExecutionPausedSensitive || s == ExecutionPausedTakeover
}

// Task is a schedule definition. The management layer owns task records; the
// engine and scheduler only read them.
type Task struct {
	ID                 string
	Name               string
	Command            string
	Cron               string
	Timezone           string
	RandomDelayMinutes int
	// DeviceSerial selects the target device. Empty means the globally
	// selected device (or the first online one).
	DeviceSerial         string
	WakeBeforeRun        bool
	UnlockBeforeRun      bool
	GoHomeAfterRun       bool
	AutoConfirmSensitive bool
	Enabled              bool
	NotifyOnSuccess      bool
	NotifyOnFailure      bool
	// NotificationChannelIDs limits delivery to a channel subset. Empty
	// means every enabled channel.
	NotificationChannelIDs []string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Execution is a single run of a command against one device.
type Execution struct {
	ID            string
	TaskID        *string
	DeviceSerial  string
	Command       string
	Status        ExecutionStatus
	StartedAt     *time.Time
	FinishedAt    *time.Time
	ErrorMessage  *string
	RecordingPath *string
	Steps         []ExecutionStep
	CreatedAt     time.Time
}

// ExecutionStep is one reasoning+action unit yielded by the agent loop.
// Indices start at 1 and strictly increase within an execution.
type ExecutionStep struct {
	Index      int       `json:"step"`
	Thinking   string    `json:"thinking,omitempty"`
	Action     *Action   `json:"action,omitempty"`
	Raw        string    `json:"description,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PauseReason tags the paused state variant.
type PauseReason string

const (
	PauseSensitive PauseReason = "sensitive"
	PauseTakeover  PauseReason = "takeover"
)

// PauseState captures why a running execution stopped consuming the agent
// loop and what resumes it. Transient; never persisted on its own.
type PauseState struct {
	Reason  PauseReason
	Step    int
	Message string
	Resume  string
}

// NotificationChannel is a configured notification sink. Channel records are
// managed externally; the engine only reads them at terminal transitions.
type NotificationChannel struct {
	ID      string
	Type    string
	Config  map[string]string
	Enabled bool
}

// ExecutionSummary is what the notification sink receives at a terminal
// transition.
type ExecutionSummary struct {
	TaskName     string
	Status       ExecutionStatus
	FinishedAt   time.Time
	ResultText   string
	ErrorMessage string
}

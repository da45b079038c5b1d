package core

import (
	"context"
)

// TokenFunc receives incremental model output while a step is being
// produced. Called from the agent's streaming goroutine.
type TokenFunc func(phase Phase, content string)

// StepResult is one finalized unit from the agent loop.
type StepResult struct {
	Thinking string
	// Action is the structured record when the raw action text parsed;
	// Raw always carries the original text.
	Action *Action
	Raw    string
	// Screenshot is the base64 PNG the step acted on, when available.
	Screenshot string
	Finished   bool
	Success    bool
	Message    string
}

// Agent is one attached agent-loop session for a single execution. Step is
// called with the task command first, then with "" to continue, and with a
// continuation instruction after a pause. It blocks until the model yields a
// complete step or ctx is cancelled.
type Agent interface {
	Step(ctx context.Context, instruction string, onToken TokenFunc) (*StepResult, error)
	// Close releases the session. Safe to call after a failed Step.
	Close() error
}

// AgentFactory opens an agent session bound to one device.
type AgentFactory interface {
	NewAgent(deviceSerial string) (Agent, error)
}

package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceBusy is a policy rejection, not a fault: the target device
	// already has an active execution. Callers may retry later.
	ErrDeviceBusy = errors.New("device busy")

	// ErrInvalidStateTransition means resume or cancel was issued against
	// a state that does not accept it.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrCancelled marks an operator-initiated termination.
	ErrCancelled = errors.New("execution cancelled")

	// ErrStepBudgetExceeded is the safety limit on runaway agent loops.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")

	ErrExecutionNotFound = errors.New("execution not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrNoDevice          = errors.New("no online device")
)

// ActuatorErrorKind distinguishes device-side fault classes.
type ActuatorErrorKind string

const (
	ActuatorTimeout    ActuatorErrorKind = "timeout"
	ActuatorDisconnect ActuatorErrorKind = "disconnect"
)

// ActuatorError wraps a device command failure. Non-fatal during wake and
// unlock, fatal during the run proper.
type ActuatorError struct {
	Kind ActuatorErrorKind
	Op   string
	Err  error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("actuator %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ActuatorError) Unwrap() error { return e.Err }

// AgentError wraps a fault raised by the external agent loop. Always fatal
// to the execution.
type AgentError struct {
	Err error
}

func (e *AgentError) Error() string { return fmt.Sprintf("agent loop: %v", e.Err) }

func (e *AgentError) Unwrap() error { return e.Err }

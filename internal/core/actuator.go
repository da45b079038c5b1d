package core

import (
	"context"
	"time"
)

// GestureKind selects how a configured unlock gesture replays.
type GestureKind string

const (
	GestureSwipe     GestureKind = "swipe"
	GestureLongPress GestureKind = "long_press"
)

// Gesture is an unlock gesture: a timed swipe between two points, or a
// long-press on a single point.
type Gesture struct {
	Kind     GestureKind
	X1, Y1   int
	X2, Y2   int
	Duration time.Duration
}

// Actuator issues primitive commands against one device. Implementations
// bound every command with their own timeout and surface faults as
// *ActuatorError; the engine never hangs on a device call.
type Actuator interface {
	Wake(ctx context.Context) error
	Unlock(ctx context.Context, g Gesture) error
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error
	InputText(ctx context.Context, text string) error
	Launch(ctx context.Context, pkg string) error
	Home(ctx context.Context) error
	// Screenshot returns a PNG of the current screen.
	Screenshot(ctx context.Context) ([]byte, error)
}

// ActuatorFactory binds an actuator to a device serial.
type ActuatorFactory interface {
	Actuator(deviceSerial string) Actuator
}

// Recorder captures screen recordings, one session per execution.
type Recorder interface {
	Start(ctx context.Context, executionID, deviceSerial string) error
	// Stop ends the execution's recording and returns the stored file
	// path, or "" if nothing was captured.
	Stop(ctx context.Context, executionID string) (string, error)
}

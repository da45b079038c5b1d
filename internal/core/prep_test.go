package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// prepActuator records calls and fails the ops listed in failOps.
type prepActuator struct {
	nopActuator
	calls   []string
	failOps map[string]bool
	gesture Gesture
}

func (a *prepActuator) record(op string) error {
	a.calls = append(a.calls, op)
	if a.failOps[op] {
		return &ActuatorError{Kind: ActuatorTimeout, Op: op, Err: errors.New("device did not respond")}
	}
	return nil
}

func (a *prepActuator) Wake(ctx context.Context) error { return a.record("wake") }

func (a *prepActuator) Unlock(ctx context.Context, g Gesture) error {
	a.gesture = g
	return a.record("unlock")
}

func (a *prepActuator) Home(ctx context.Context) error { return a.record("home") }

func prepLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPrepareRunsWakeThenUnlock(t *testing.T) {
	gesture := &Gesture{Kind: GestureSwipe, X1: 540, Y1: 1800, X2: 540, Y2: 600, Duration: 300 * time.Millisecond}
	act := &prepActuator{failOps: map[string]bool{}}

	Prepare(context.Background(), act, PrepOptions{Wake: true, Unlock: true, UnlockGesture: gesture}, prepLogger())

	assert.Equal(t, []string{"wake", "unlock"}, act.calls)
	assert.Equal(t, *gesture, act.gesture)
}

func TestPrepareSkipsDisabledStages(t *testing.T) {
	act := &prepActuator{failOps: map[string]bool{}}

	Prepare(context.Background(), act, PrepOptions{}, prepLogger())

	assert.Empty(t, act.calls)
}

func TestPrepareSkipsUnlockWithoutGesture(t *testing.T) {
	act := &prepActuator{failOps: map[string]bool{}}

	Prepare(context.Background(), act, PrepOptions{Unlock: true}, prepLogger())

	assert.Empty(t, act.calls)
}

func TestPrepareAbsorbsStageFailures(t *testing.T) {
	gesture := &Gesture{Kind: GestureLongPress, X1: 540, Y1: 1200, X2: 540, Y2: 1200, Duration: 800 * time.Millisecond}
	act := &prepActuator{failOps: map[string]bool{"wake": true, "unlock": true}}

	// Both stages fail; Prepare must still run each one and return.
	Prepare(context.Background(), act, PrepOptions{Wake: true, Unlock: true, UnlockGesture: gesture}, prepLogger())

	assert.Equal(t, []string{"wake", "unlock"}, act.calls)
}

func TestFinishGoesHome(t *testing.T) {
	act := &prepActuator{failOps: map[string]bool{}}

	Finish(context.Background(), act, PrepOptions{GoHome: true}, prepLogger())
	assert.Equal(t, []string{"home"}, act.calls)

	act.calls = nil
	Finish(context.Background(), act, PrepOptions{}, prepLogger())
	assert.Empty(t, act.calls)
}

func TestFinishAbsorbsHomeFailure(t *testing.T) {
	act := &prepActuator{failOps: map[string]bool{"home": true}}

	Finish(context.Background(), act, PrepOptions{GoHome: true}, prepLogger())

	assert.Equal(t, []string{"home"}, act.calls)
}

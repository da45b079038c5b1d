package adb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"phonepilot/internal/core"
)

// Actuator implements core.Actuator for one device over adb.
type Actuator struct {
	runner *Runner
	serial string
}

// Factory implements core.ActuatorFactory.
type Factory struct {
	Runner *Runner
}

func (f *Factory) Actuator(deviceSerial string) core.Actuator {
	return &Actuator{runner: f.Runner, serial: deviceSerial}
}

func (a *Actuator) Wake(ctx context.Context) error {
	_, err := a.runner.Shell(ctx, a.serial, "input", "keyevent", "KEYCODE_WAKEUP")
	return err
}

// Unlock replays the configured gesture. Swipes and long-presses both map
// onto input swipe; a long-press is a swipe that does not move.
func (a *Actuator) Unlock(ctx context.Context, g core.Gesture) error {
	x2, y2 := g.X2, g.Y2
	if g.Kind == core.GestureLongPress {
		x2, y2 = g.X1, g.Y1
	}
	return a.Swipe(ctx, g.X1, g.Y1, x2, y2, g.Duration)
}

func (a *Actuator) Tap(ctx context.Context, x, y int) error {
	_, err := a.runner.Shell(ctx, a.serial, "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

func (a *Actuator) Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error {
	ms := int(d / time.Millisecond)
	if ms <= 0 {
		ms = 300
	}
	_, err := a.runner.Shell(ctx, a.serial, "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2), strconv.Itoa(ms))
	return err
}

func (a *Actuator) InputText(ctx context.Context, text string) error {
	// input text cannot carry spaces unescaped.
	escaped := strings.ReplaceAll(text, " ", "%s")
	_, err := a.runner.Shell(ctx, a.serial, "input", "text", escaped)
	return err
}

func (a *Actuator) Launch(ctx context.Context, pkg string) error {
	_, err := a.runner.Shell(ctx, a.serial, "monkey", "-p", pkg,
		"-c", "android.intent.category.LAUNCHER", "1")
	return err
}

func (a *Actuator) Home(ctx context.Context) error {
	_, err := a.runner.Shell(ctx, a.serial, "input", "keyevent", "KEYCODE_HOME")
	return err
}

// Screenshot captures the screen as PNG via exec-out, which keeps the binary
// stream intact.
func (a *Actuator) Screenshot(ctx context.Context) ([]byte, error) {
	out, err := a.runner.Run(ctx, a.serial, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &core.ActuatorError{Kind: core.ActuatorDisconnect, Op: "screencap",
			Err: fmt.Errorf("empty screenshot from %s", a.serial)}
	}
	return out, nil
}

// Package adb drives Android devices through the adb command line tool. It
// implements the engine's actuator, device resolution, and screen recording
// against a local or remote adb server.
package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"phonepilot/internal/core"
)

// Runner executes adb commands with a bounded timeout. A zero ServerSocket
// talks to the default local server.
type Runner struct {
	// ServerSocket is host:port of a remote adb server, or empty.
	ServerSocket string
	// Timeout bounds each command. Zero means no bound beyond the caller's
	// context.
	Timeout time.Duration
}

// Run executes an adb command against the given device and returns stdout.
// Faults are classified into *core.ActuatorError: deadline overruns become
// timeouts, everything else a disconnect.
func (r *Runner) Run(ctx context.Context, serial string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	full := r.baseArgs(serial)
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, "adb", full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	op := args[0]
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &core.ActuatorError{Kind: core.ActuatorTimeout, Op: op, Err: ctx.Err()}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, &core.ActuatorError{Kind: core.ActuatorDisconnect, Op: op, Err: fmt.Errorf("adb %s: %s", op, msg)}
	}
	return stdout.Bytes(), nil
}

// Shell runs a shell command on the device.
func (r *Runner) Shell(ctx context.Context, serial string, args ...string) ([]byte, error) {
	return r.Run(ctx, serial, append([]string{"shell"}, args...)...)
}

func (r *Runner) baseArgs(serial string) []string {
	var args []string
	if r.ServerSocket != "" {
		host, port, err := net.SplitHostPort(r.ServerSocket)
		if err == nil {
			args = append(args, "-H", host, "-P", port)
		}
	}
	if serial != "" {
		args = append(args, "-s", serial)
	}
	return args
}

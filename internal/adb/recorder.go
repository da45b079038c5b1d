package adb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Recorder captures device screens with `adb shell screenrecord`. Each
// execution gets its own recording session; the file is pulled off the
// device when the session stops.
type Recorder struct {
	runner *Runner
	logger *slog.Logger
	// PathFor maps an execution ID to the local file the recording lands
	// in.
	pathFor func(executionID string) string

	mu       sync.Mutex
	sessions map[string]*recordSession
}

type recordSession struct {
	serial     string
	remotePath string
	cmd        *exec.Cmd
	done       chan struct{}
}

func NewRecorder(runner *Runner, logger *slog.Logger, pathFor func(executionID string) string) *Recorder {
	return &Recorder{
		runner:   runner,
		logger:   logger,
		pathFor:  pathFor,
		sessions: make(map[string]*recordSession),
	}
}

// Start begins recording the device screen. screenrecord caps a single file
// at three minutes; runs longer than that keep their first segment only.
func (r *Recorder) Start(ctx context.Context, executionID, deviceSerial string) error {
	remotePath := fmt.Sprintf("/sdcard/phonepilot-%s.mp4", executionID)

	args := r.runner.baseArgs(deviceSerial)
	args = append(args, "shell", "screenrecord", "--time-limit", "180", remotePath)

	// The recording outlives the run context on purpose: Stop terminates
	// it explicitly so the trailer gets written.
	cmd := exec.Command("adb", args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start screenrecord: %w", err)
	}

	sess := &recordSession{
		serial:     deviceSerial,
		remotePath: remotePath,
		cmd:        cmd,
		done:       make(chan struct{}),
	}
	go func() {
		cmd.Wait()
		close(sess.done)
	}()

	r.mu.Lock()
	r.sessions[executionID] = sess
	r.mu.Unlock()
	return nil
}

// Stop ends the recording, pulls the file off the device, and removes the
// remote copy.
func (r *Recorder) Stop(ctx context.Context, executionID string) (string, error) {
	r.mu.Lock()
	sess, ok := r.sessions[executionID]
	delete(r.sessions, executionID)
	r.mu.Unlock()
	if !ok {
		return "", nil
	}

	// SIGINT lets screenrecord finalize the mp4 container.
	select {
	case <-sess.done:
	default:
		if err := sess.cmd.Process.Signal(os.Interrupt); err != nil {
			sess.cmd.Process.Kill()
		}
		select {
		case <-sess.done:
		case <-time.After(5 * time.Second):
			sess.cmd.Process.Kill()
		}
		// Give the device a moment to flush the file.
		time.Sleep(500 * time.Millisecond)
	}

	localPath := r.pathFor(executionID)
	if _, err := r.runner.Run(ctx, sess.serial, "pull", sess.remotePath, localPath); err != nil {
		return "", fmt.Errorf("pull recording: %w", err)
	}
	if _, err := r.runner.Shell(ctx, sess.serial, "rm", "-f", sess.remotePath); err != nil {
		r.logger.Warn("remove remote recording", "path", sess.remotePath, "err", err)
	}
	return localPath, nil
}

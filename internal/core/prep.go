package core

import (
	"context"
	"log/slog"
)

// PrepOptions toggles the preparation stages around one run.
type PrepOptions struct {
	Wake   bool
	Unlock bool
	// UnlockGesture replays during the unlock stage. Nil means no gesture
	// is configured and the stage is skipped silently.
	UnlockGesture *Gesture
	GoHome        bool
}

// Prepare runs the pre-run stages: wake, then unlock. Stage failures are
// logged and absorbed, the run proceeds; the agent can often recover by
// observing the lock screen itself.
func Prepare(ctx context.Context, act Actuator, opts PrepOptions, logger *slog.Logger) {
	if opts.Wake {
		if err := act.Wake(ctx); err != nil {
			logger.Warn("wake before run failed", "err", err)
		}
	}
	if opts.Unlock {
		if opts.UnlockGesture == nil {
			logger.Debug("no unlock gesture configured, skipping unlock")
		} else if err := act.Unlock(ctx, *opts.UnlockGesture); err != nil {
			logger.Warn("unlock before run failed", "err", err)
		}
	}
}

// Finish runs the post-run stage: go-home, issued regardless of the run's
// outcome. Failures are logged only; the execution is already terminal.
func Finish(ctx context.Context, act Actuator, opts PrepOptions, logger *slog.Logger) {
	if !opts.GoHome {
		return
	}
	if err := act.Home(ctx); err != nil {
		logger.Warn("go home after run failed", "err", err)
	}
}

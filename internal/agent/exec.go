package agent

import (
	"context"
	"strings"
	"time"

	"phonepilot/internal/core"
)

// perform executes a parsed action on the device. Pause and finish actions
// never reach here; unknown actions are logged and skipped so a model
// hallucination does not kill the run.
func (s *Session) perform(ctx context.Context, a *core.Action) error {
	switch strings.ToLower(a.Name) {
	case "tap":
		x, y, ok := pointOf(a, "x", "y")
		if !ok {
			s.logger.Warn("tap without coordinates", "action", a.Name)
			return nil
		}
		return s.act.Tap(ctx, x, y)
	case "swipe":
		x1, y1, ok1 := pointOf(a, "x1", "y1")
		x2, y2, ok2 := pointOf(a, "x2", "y2")
		if !ok1 || !ok2 {
			s.logger.Warn("swipe without coordinates", "action", a.Name)
			return nil
		}
		d := time.Duration(intParam(a, "duration", 300)) * time.Millisecond
		return s.act.Swipe(ctx, x1, y1, x2, y2, d)
	case "type", "input", "input_text":
		text := a.Param("text")
		if text == "" {
			return nil
		}
		return s.act.InputText(ctx, text)
	case "launch", "open", "open_app":
		pkg := packageFor(a.Param("app"))
		if pkg == "" {
			s.logger.Warn("unknown app, skipping launch", "app", a.Param("app"))
			return nil
		}
		return s.act.Launch(ctx, pkg)
	case "home", "press_home":
		return s.act.Home(ctx)
	case "wait", "sleep":
		d := time.Duration(intParam(a, "seconds", 1)) * time.Second
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	case "sensitive", "confirm", "take_over":
		return nil
	default:
		s.logger.Warn("unrecognized action, skipping", "action", a.Name)
		return nil
	}
}

// pointOf reads a coordinate pair from named params. Falls back to the
// element param, a list of [x, y] points some models emit instead.
func pointOf(a *core.Action, xKey, yKey string) (int, int, bool) {
	x, okX := numParam(a, xKey)
	y, okY := numParam(a, yKey)
	if okX && okY {
		return x, y, true
	}
	if pts := elementPoints(a); len(pts) > 0 {
		idx := 0
		if xKey == "x2" && len(pts) > 1 {
			idx = 1
		}
		return pts[idx][0], pts[idx][1], true
	}
	return 0, 0, false
}

func elementPoints(a *core.Action) [][2]int {
	raw, ok := a.Params["element"].([]any)
	if !ok {
		return nil
	}
	var pts [][2]int
	for _, item := range raw {
		pair, ok := item.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		x, okX := asInt(pair[0])
		y, okY := asInt(pair[1])
		if okX && okY {
			pts = append(pts, [2]int{x, y})
		}
	}
	return pts
}

func numParam(a *core.Action, key string) (int, bool) {
	v, ok := a.Params[key]
	if !ok {
		return 0, false
	}
	return asInt(v)
}

func intParam(a *core.Action, key string, def int) int {
	if v, ok := numParam(a, key); ok {
		return v
	}
	return def
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

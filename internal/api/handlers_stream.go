package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"phonepilot/internal/core"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

// handleStreamExecution serves the step stream over SSE. Late joiners get
// the persisted step log first, then the live tail; token granularity is
// only available live.
func (s *Server) handleStreamExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	exec, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "execution not found")
		} else {
			s.logger.Error("load execution", "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load execution")
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse := func(event string, data any) bool {
		payload, err := json.Marshal(data)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	doneData := func(exec *core.Execution) map[string]any {
		data := map[string]any{"success": exec.Status == core.ExecutionSuccess}
		if exec.ErrorMessage != nil {
			data["message"] = *exec.ErrorMessage
		}
		if exec.Status.Paused() {
			data["success"] = true
			data["paused"] = true
			if exec.Status == core.ExecutionPausedSensitive {
				data["pauseReason"] = string(core.PauseSensitive)
			} else {
				data["pauseReason"] = string(core.PauseTakeover)
			}
		}
		return data
	}

	// Finished executions replay entirely from the store.
	if exec.Status.Terminal() {
		for _, step := range exec.Steps {
			if !sse("step", step) {
				return
			}
		}
		sse("done", doneData(exec))
		return
	}

	// Subscribe before re-reading so no event falls between the snapshot
	// and the live tail.
	events, cancel := s.engine.Bus().Subscribe(id)
	defer cancel()

	sent := make(map[int]bool)
	fresh, err := s.store.GetExecution(r.Context(), id)
	if err == nil {
		for _, step := range fresh.Steps {
			if sent[step.Index] {
				continue
			}
			sent[step.Index] = true
			if !sse("step", step) {
				return
			}
		}
		if fresh.Status.Terminal() || fresh.Status.Paused() {
			sse("done", doneData(fresh))
			if fresh.Status.Terminal() {
				return
			}
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if !sse("heartbeat", map[string]any{}) {
				return
			}
		case ev, open := <-events:
			if !open {
				return
			}
			if ev.Type == core.EventStep {
				if idx, ok := ev.Data["step"].(int); ok {
					if sent[idx] {
						continue
					}
					sent[idx] = true
				}
			}
			if !sse(string(ev.Type), ev.Data) {
				return
			}
			// A done without a pause marker ends the stream segment for
			// good; a paused done keeps the connection usable but
			// clients typically reconnect after resume.
			if ev.Type == core.EventDone {
				if paused, _ := ev.Data["paused"].(bool); !paused {
					return
				}
			}
		}
	}
}

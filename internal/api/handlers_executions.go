package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"phonepilot/internal/core"
	"phonepilot/internal/store"
)

type startExecutionRequest struct {
	TaskID       *string `json:"task_id"`
	Command      string  `json:"command"`
	DeviceSerial string  `json:"device_serial"`

	Wake                 *bool `json:"wake_before_run"`
	Unlock               *bool `json:"unlock_before_run"`
	GoHome               *bool `json:"go_home_after_run"`
	AutoConfirmSensitive *bool `json:"auto_confirm_sensitive"`
	Record               *bool `json:"record"`
}

type executionResponse struct {
	ID            string               `json:"id"`
	TaskID        *string              `json:"task_id,omitempty"`
	DeviceSerial  string               `json:"device_serial"`
	Command       string               `json:"command"`
	Status        string               `json:"status"`
	StartedAt     *string              `json:"started_at,omitempty"`
	FinishedAt    *string              `json:"finished_at,omitempty"`
	ErrorMessage  *string              `json:"error_message,omitempty"`
	RecordingPath *string              `json:"recording_path,omitempty"`
	Steps         []core.ExecutionStep `json:"steps,omitempty"`
	CreatedAt     string               `json:"created_at"`
}

func executionToResponse(exec *core.Execution) executionResponse {
	resp := executionResponse{
		ID:            exec.ID,
		TaskID:        exec.TaskID,
		DeviceSerial:  exec.DeviceSerial,
		Command:       exec.Command,
		Status:        string(exec.Status),
		ErrorMessage:  exec.ErrorMessage,
		RecordingPath: exec.RecordingPath,
		Steps:         exec.Steps,
		CreatedAt:     exec.CreatedAt.UTC().Format(time.RFC3339),
	}
	if exec.StartedAt != nil {
		v := exec.StartedAt.UTC().Format(time.RFC3339)
		resp.StartedAt = &v
	}
	if exec.FinishedAt != nil {
		v := exec.FinishedAt.UTC().Format(time.RFC3339)
		resp.FinishedAt = &v
	}
	return resp
}

func (s *Server) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req startExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	var startReq core.StartRequest
	if req.TaskID != nil {
		task, err := s.store.GetTask(r.Context(), *req.TaskID)
		if err != nil {
			if errors.Is(err, core.ErrTaskNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "task not found")
			} else {
				s.logger.Error("load task", "err", err)
				writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
			}
			return
		}
		serial, err := s.resolver.ResolveDevice(r.Context(), task.DeviceSerial)
		if err != nil {
			writeError(w, http.StatusConflict, "no_device", err.Error())
			return
		}
		startReq = core.StartRequestForTask(task, serial)
	} else {
		req.Command = strings.TrimSpace(req.Command)
		if req.Command == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "command is required")
			return
		}
		serial, err := s.resolver.ResolveDevice(r.Context(), req.DeviceSerial)
		if err != nil {
			writeError(w, http.StatusConflict, "no_device", err.Error())
			return
		}
		startReq = core.StartRequest{
			Command:      req.Command,
			DeviceSerial: serial,
			Prep:         core.PrepOptions{Wake: true, GoHome: true},
			Record:       true,
		}
	}

	applyOverrides(&startReq, &req)
	startReq.Command = s.applyPromptRules(r.Context(), startReq.Command)

	exec, err := s.engine.Start(r.Context(), startReq)
	if err != nil {
		if errors.Is(err, core.ErrDeviceBusy) {
			writeError(w, http.StatusConflict, "device_busy", err.Error())
			return
		}
		s.logger.Error("start execution", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, executionToResponse(exec))
}

func applyOverrides(startReq *core.StartRequest, req *startExecutionRequest) {
	if req.Wake != nil {
		startReq.Prep.Wake = *req.Wake
	}
	if req.Unlock != nil {
		startReq.Prep.Unlock = *req.Unlock
	}
	if req.GoHome != nil {
		startReq.Prep.GoHome = *req.GoHome
	}
	if req.AutoConfirmSensitive != nil {
		startReq.AutoConfirmSensitive = *req.AutoConfirmSensitive
	}
	if req.Record != nil {
		startReq.Record = *req.Record
	}
}

// applyPromptRules wraps the command with the configured prefix and suffix
// rules before the agent sees it.
func (s *Server) applyPromptRules(ctx context.Context, command string) string {
	prefix, err := s.store.GetSetting(ctx, store.SettingPromptPrefix)
	if err != nil {
		s.logger.Warn("load prompt prefix", "err", err)
	}
	suffix, err := s.store.GetSetting(ctx, store.SettingPromptSuffix)
	if err != nil {
		s.logger.Warn("load prompt suffix", "err", err)
	}
	if prefix != "" {
		command = prefix + "\n" + command
	}
	if suffix != "" {
		command = command + "\n" + suffix
	}
	return command
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, executionToResponse(exec))
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	taskID := r.URL.Query().Get("task_id")

	execs, err := s.store.ListExecutions(r.Context(), taskID, limit, offset)
	if err != nil {
		s.logger.Error("list executions", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list executions")
		return
	}
	out := make([]executionResponse, 0, len(execs))
	for _, exec := range execs {
		out = append(out, executionToResponse(exec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": out})
}

func (s *Server) handleDeleteExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	exec, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "execution not found")
		} else {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load execution")
		}
		return
	}
	if !exec.Status.Terminal() {
		writeError(w, http.StatusConflict, "not_terminal", "execution is still active")
		return
	}

	if exec.RecordingPath != nil {
		if err := os.Remove(*exec.RecordingPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove recording file", "path", *exec.RecordingPath, "err", err)
		}
	}
	if err := s.store.DeleteExecution(r.Context(), id); err != nil {
		s.logger.Error("delete execution", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete execution")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "execution deleted"})
}

func (s *Server) handleResumeExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	if err := s.engine.Resume(r.Context(), id); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	if err := s.engine.Cancel(r.Context(), id); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")
	exec, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "execution not found")
		} else {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load execution")
		}
		return
	}
	if exec.RecordingPath == nil {
		writeError(w, http.StatusNotFound, "not_found", "recording not found")
		return
	}
	if _, err := os.Stat(*exec.RecordingPath); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "recording file not found")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, *exec.RecordingPath)
}

func writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrExecutionNotFound):
		writeError(w, http.StatusNotFound, "not_found", "execution not found")
	case errors.Is(err, core.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}

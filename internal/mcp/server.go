package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"phonepilot/internal/adb"
	"phonepilot/internal/core"
	"phonepilot/internal/store"
)

// MCPServer exposes run control over the Model Context Protocol, so an
// assistant can drive the phone the same way the HTTP API does.
type MCPServer struct {
	store    *store.Store
	engine   *core.Engine
	runner   *adb.Runner
	resolver *adb.Resolver
	logger   *slog.Logger
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(st *store.Store, engine *core.Engine, runner *adb.Runner, resolver *adb.Resolver, logger *slog.Logger) *MCPServer {
	return &MCPServer{
		store:    st,
		engine:   engine,
		runner:   runner,
		resolver: resolver,
		logger:   logger,
	}
}

func (s *MCPServer) build() *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"phonepilot",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	return mcpServer
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.build())
}

// Handler returns the MCP server as an HTTP handler for mounting under the
// API router.
func (s *MCPServer) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.build(), server.WithStateLess(true))
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	// phone_run
	mcpServer.AddTool(mcp.NewTool("phone_run",
		mcp.WithDescription("Run a natural-language command on an Android device. Pass either a task_id to run a stored task, or a command for an ad-hoc run."),
		mcp.WithString("task_id",
			mcp.Description("ID of a stored task to run now"),
		),
		mcp.WithString("command",
			mcp.Description("Natural-language instruction for an ad-hoc run, e.g. 'Open Settings and enable dark mode'"),
		),
		mcp.WithString("device_serial",
			mcp.Description("Target device serial. Empty uses the selected or first online device"),
		),
		mcp.WithBoolean("record",
			mcp.Description("Record the screen during the run (default true)"),
		),
	), s.handleRun)

	// phone_execution_status
	mcpServer.AddTool(mcp.NewTool("phone_execution_status",
		mcp.WithDescription("Get the status and step history of an execution"),
		mcp.WithString("execution_id",
			mcp.Required(),
			mcp.Description("Execution ID"),
		),
		mcp.WithNumber("tail",
			mcp.Description("Only show the last N steps, default all"),
			mcp.Min(0),
		),
	), s.handleExecutionStatus)

	// phone_list_executions
	mcpServer.AddTool(mcp.NewTool("phone_list_executions",
		mcp.WithDescription("List recent executions, newest first"),
		mcp.WithString("task_id",
			mcp.Description("Only executions of this task"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of records to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListExecutions)

	// phone_resume
	mcpServer.AddTool(mcp.NewTool("phone_resume",
		mcp.WithDescription("Resume a paused execution after a sensitive action was confirmed or a manual take-over finished"),
		mcp.WithString("execution_id",
			mcp.Required(),
			mcp.Description("Execution ID"),
		),
	), s.handleResume)

	// phone_cancel
	mcpServer.AddTool(mcp.NewTool("phone_cancel",
		mcp.WithDescription("Cancel a running or paused execution"),
		mcp.WithString("execution_id",
			mcp.Required(),
			mcp.Description("Execution ID"),
		),
	), s.handleCancel)

	// phone_list_devices
	mcpServer.AddTool(mcp.NewTool("phone_list_devices",
		mcp.WithDescription("List connected Android devices and which one is selected"),
	), s.handleListDevices)

	// phone_cron_preview
	mcpServer.AddTool(mcp.NewTool("phone_cron_preview",
		mcp.WithDescription("Preview the next fire times of a cron expression"),
		mcp.WithString("cron",
			mcp.Required(),
			mcp.Description("Standard 5-field cron expression, e.g. '0 9 * * 1-5'"),
		),
		mcp.WithString("timezone",
			mcp.Description("IANA timezone name, default UTC"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times to return, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handleCronPreview)

	s.logger.Info("MCP tools registered", "count", 7)
}

// handleRun handles the phone_run tool call.
func (s *MCPServer) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	command := mcp.ParseString(request, "command", "")
	deviceSerial := mcp.ParseString(request, "device_serial", "")
	record := mcp.ParseBoolean(request, "record", true)

	var req core.StartRequest
	if taskID != "" {
		task, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, core.ErrTaskNotFound) {
				return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("get task: %v", err)), nil
		}
		preferred := task.DeviceSerial
		if deviceSerial != "" {
			preferred = deviceSerial
		}
		serial, err := s.resolver.ResolveDevice(ctx, preferred)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resolve device: %v", err)), nil
		}
		req = core.StartRequestForTask(task, serial)
	} else {
		if command == "" {
			return mcp.NewToolResultError("either task_id or command is required"), nil
		}
		serial, err := s.resolver.ResolveDevice(ctx, deviceSerial)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resolve device: %v", err)), nil
		}
		req = core.StartRequest{
			Command:      command,
			DeviceSerial: serial,
			Prep:         core.PrepOptions{Wake: true, GoHome: true},
			Record:       true,
		}
	}
	req.Record = record
	req.Command = s.applyPromptRules(ctx, req.Command)

	exec, err := s.engine.Start(ctx, req)
	if err != nil {
		if errors.Is(err, core.ErrDeviceBusy) {
			return mcp.NewToolResultError(fmt.Sprintf("device %s is busy with another execution", req.DeviceSerial)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("start execution: %v", err)), nil
	}

	s.logger.Info("execution started via mcp", "execution_id", exec.ID, "device", exec.DeviceSerial)

	return mcp.NewToolResultText(fmt.Sprintf("Execution started\nID: %s\nDevice: %s\nCommand: %s",
		exec.ID, exec.DeviceSerial, exec.Command)), nil
}

// handleExecutionStatus handles the phone_execution_status tool call.
func (s *MCPServer) handleExecutionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID := mcp.ParseString(request, "execution_id", "")

	exec, err := s.store.GetExecution(ctx, executionID)
	if err != nil {
		if errors.Is(err, core.ErrExecutionNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("execution not found: %s", executionID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("get execution: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Execution %s\n", exec.ID)
	fmt.Fprintf(&b, "Status: %s\n", exec.Status)
	fmt.Fprintf(&b, "Device: %s\n", exec.DeviceSerial)
	fmt.Fprintf(&b, "Command: %s\n", exec.Command)
	if exec.StartedAt != nil {
		fmt.Fprintf(&b, "Started: %s\n", formatTime(exec.StartedAt))
	}
	if exec.FinishedAt != nil {
		fmt.Fprintf(&b, "Finished: %s\n", formatTime(exec.FinishedAt))
	}
	if exec.ErrorMessage != nil {
		fmt.Fprintf(&b, "Message: %s\n", *exec.ErrorMessage)
	}
	if exec.RecordingPath != nil {
		fmt.Fprintf(&b, "Recording: %s\n", *exec.RecordingPath)
	}

	steps := exec.Steps
	tail := int(mcp.ParseFloat64(request, "tail", 0))
	if tail > 0 && len(steps) > tail {
		steps = steps[len(steps)-tail:]
	}
	if len(steps) > 0 {
		fmt.Fprintf(&b, "\nSteps (%d of %d):\n", len(steps), len(exec.Steps))
		for _, step := range steps {
			fmt.Fprintf(&b, "  %d. %s\n", step.Index, describeStep(step))
		}
	}

	return mcp.NewToolResultText(b.String()), nil
}

// handleListExecutions handles the phone_list_executions tool call.
func (s *MCPServer) handleListExecutions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	execs, err := s.store.ListExecutions(ctx, taskID, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list executions: %v", err)), nil
	}

	if len(execs) == 0 {
		return mcp.NewToolResultText("No executions found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d executions:\n\n", len(execs))
	for _, exec := range execs {
		fmt.Fprintf(&b, "[%s] %s\n", exec.Status, exec.ID)
		fmt.Fprintf(&b, "    Device: %s\n", exec.DeviceSerial)
		fmt.Fprintf(&b, "    Command: %s\n", truncateString(exec.Command, 60))
		if exec.StartedAt != nil {
			fmt.Fprintf(&b, "    Started: %s\n", formatTime(exec.StartedAt))
		}
		b.WriteString("\n")
	}

	return mcp.NewToolResultText(b.String()), nil
}

// handleResume handles the phone_resume tool call.
func (s *MCPServer) handleResume(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID := mcp.ParseString(request, "execution_id", "")

	if err := s.engine.Resume(ctx, executionID); err != nil {
		return mcp.NewToolResultError(controlError("resume", executionID, err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Execution resumed: %s", executionID)), nil
}

// handleCancel handles the phone_cancel tool call.
func (s *MCPServer) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID := mcp.ParseString(request, "execution_id", "")

	if err := s.engine.Cancel(ctx, executionID); err != nil {
		return mcp.NewToolResultError(controlError("cancel", executionID, err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Execution cancelled: %s", executionID)), nil
}

// handleListDevices handles the phone_list_devices tool call.
func (s *MCPServer) handleListDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices, err := s.runner.ListDevices(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list devices: %v", err)), nil
	}

	if len(devices) == 0 {
		return mcp.NewToolResultText("No devices connected"), nil
	}

	selected, err := s.store.GetSetting(ctx, store.SettingSelectedDevice)
	if err != nil {
		s.logger.Warn("read selected device", "err", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d devices:\n\n", len(devices))
	for _, d := range devices {
		fmt.Fprintf(&b, "%s (%s)", d.Serial, d.State)
		if d.Model != "" {
			fmt.Fprintf(&b, " model=%s", d.Model)
		}
		if d.Serial == selected {
			b.WriteString(" [selected]")
		}
		if id, busy := s.engine.ActiveExecution(d.Serial); busy {
			fmt.Fprintf(&b, " busy=%s", id)
		}
		b.WriteString("\n")
	}

	return mcp.NewToolResultText(b.String()), nil
}

// handleCronPreview handles the phone_cron_preview tool call.
func (s *MCPServer) handleCronPreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cronExpr := mcp.ParseString(request, "cron", "")
	timezone := mcp.ParseString(request, "timezone", "")

	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid timezone: %v", err)), nil
		}
	}

	schedule, err := core.ParseCron(cronExpr, loc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", err)), nil
	}

	count := int(mcp.ParseFloat64(request, "count", 5))
	nextTimes := core.NextOccurrences(schedule, time.Now().In(loc), count)

	var b strings.Builder
	fmt.Fprintf(&b, "Cron: %s\n", cronExpr)
	fmt.Fprintf(&b, "Timezone: %s\n\n", loc)
	b.WriteString("Next fire times:\n")
	for i, t := range nextTimes {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, t.In(loc).Format("2006-01-02 15:04:05"))
	}

	return mcp.NewToolResultText(b.String()), nil
}

// applyPromptRules wraps the command with the stored prefix and suffix
// rules, matching the HTTP start path.
func (s *MCPServer) applyPromptRules(ctx context.Context, command string) string {
	prefix, err := s.store.GetSetting(ctx, store.SettingPromptPrefix)
	if err != nil {
		s.logger.Warn("read prompt prefix", "err", err)
	}
	suffix, err := s.store.GetSetting(ctx, store.SettingPromptSuffix)
	if err != nil {
		s.logger.Warn("read prompt suffix", "err", err)
	}
	if prefix != "" {
		command = prefix + "\n" + command
	}
	if suffix != "" {
		command = command + "\n" + suffix
	}
	return command
}

// Helper functions

func controlError(op, executionID string, err error) string {
	switch {
	case errors.Is(err, core.ErrExecutionNotFound):
		return fmt.Sprintf("execution not found: %s", executionID)
	case errors.Is(err, core.ErrInvalidStateTransition):
		return fmt.Sprintf("cannot %s execution %s: %v", op, executionID, err)
	default:
		return fmt.Sprintf("%s execution: %v", op, err)
	}
}

func describeStep(step core.ExecutionStep) string {
	if step.Action != nil {
		return step.Action.String()
	}
	if step.Thinking != "" {
		return truncateString(step.Thinking, 80)
	}
	return truncateString(step.Raw, 80)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"phonepilot/internal/adb"
	"phonepilot/internal/agent"
	"phonepilot/internal/api"
	"phonepilot/internal/config"
	"phonepilot/internal/core"
	"phonepilot/internal/logging"
	phonepilotmcp "phonepilot/internal/mcp"
	"phonepilot/internal/notify"
	"phonepilot/internal/relay"
	"phonepilot/internal/store"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	baseCtx := context.Background()
	storeInst, err := store.Open(baseCtx, cfg.StateDir, cfg.RecordingsDir)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer storeInst.DB.Close()

	runner := &adb.Runner{
		ServerSocket: cfg.ADB.ServerSocket,
		Timeout:      cfg.ADB.CommandTimeout,
	}
	actuators := &adb.Factory{Runner: runner}
	resolver := &adb.Resolver{
		Runner:      runner,
		Settings:    storeInst,
		SelectedKey: store.SettingSelectedDevice,
	}
	recorder := adb.NewRecorder(runner, logger, storeInst.RecordingPath)

	agents := agent.NewFactory(agent.Config{
		BaseURL:      cfg.Agent.BaseURL,
		APIKey:       cfg.Agent.APIKey,
		Model:        cfg.Agent.Model,
		Lang:         cfg.Agent.Lang,
		SystemPrompt: cfg.Agent.SystemPrompt,
	}, actuators, logger)

	notifier := notify.NewService(storeInst, logger)
	bus := core.NewBus()

	engine := core.NewEngine(storeInst, agents, actuators, recorder, notifier, bus, logger, core.EngineConfig{
		MaxSteps:         cfg.Agent.MaxSteps,
		SensitiveActions: cfg.SensitiveActions,
		TakeoverAction:   cfg.TakeoverAction,
		UnlockGesture:    cfg.UnlockGesture,
	})

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()
	engine.SetBaseContext(ctx)

	scheduler := core.NewScheduler(storeInst, engine, resolver, logger)
	scheduler.Start(ctx)
	if err := scheduler.Sync(ctx); err != nil {
		logger.Error("initial sync", "err", err)
	}

	relayMgr := relay.NewManager(runner, cfg.Relay.ServerPath, cfg.Relay.PortBase, cfg.Relay.DataTimeout,
		relay.Options{MaxSize: cfg.Relay.MaxSize, BitRate: cfg.Relay.BitRate}, logger)
	mcpServer := phonepilotmcp.NewMCPServer(storeInst, engine, runner, resolver, logger)

	switch cfg.Mode {
	case "http", "":
		runHTTPMode(cfg, storeInst, engine, scheduler, runner, resolver, relayMgr, mcpServer, logger)
	case "mcp":
		runMCPMode(mcpServer, scheduler, logger, cancel)
	case "both":
		runBothMode(cfg, storeInst, engine, scheduler, runner, resolver, relayMgr, mcpServer, logger)
	default:
		logger.Error("invalid mode", "mode", cfg.Mode, "valid", []string{"http", "mcp", "both"})
		os.Exit(1)
	}
}

// runHTTPMode starts only the HTTP server. MCP is still reachable over the
// /mcp endpoint.
func runHTTPMode(cfg *config.Config, st *store.Store, engine *core.Engine, scheduler *core.Scheduler, runner *adb.Runner, resolver *adb.Resolver, relayMgr *relay.Manager, mcpServer *phonepilotmcp.MCPServer, logger *slog.Logger) {
	server := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, st, engine, scheduler, runner, resolver, relayMgr, mcpServer.Handler(), logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", cfg.Server.Addr)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdown(cfg, server, scheduler, logger)
}

// runMCPMode starts only the MCP server on stdio.
func runMCPMode(mcpServer *phonepilotmcp.MCPServer, scheduler *core.Scheduler, logger *slog.Logger, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		logger.Info("received signal, shutting down...")
		cancel()
	}()

	if err := mcpServer.Run(); err != nil {
		logger.Error("mcp server error", "err", err)
		os.Exit(1)
	}
}

// runBothMode starts the HTTP server and the stdio MCP server together.
func runBothMode(cfg *config.Config, st *store.Store, engine *core.Engine, scheduler *core.Scheduler, runner *adb.Runner, resolver *adb.Resolver, relayMgr *relay.Manager, mcpServer *phonepilotmcp.MCPServer, logger *slog.Logger) {
	mcpErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Run(); err != nil {
			mcpErr <- err
		}
	}()

	server := api.NewServer(cfg.Server.Addr, cfg.Server.AuthToken, st, engine, scheduler, runner, resolver, relayMgr, mcpServer.Handler(), logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", cfg.Server.Addr)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	case err := <-mcpErr:
		logger.Error("mcp server error", "err", err)
	}

	shutdown(cfg, server, scheduler, logger)
}

func shutdown(cfg *config.Config, server *api.Server, scheduler *core.Scheduler, logger *slog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}

	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cfg.ShutdownGrace):
		logger.Warn("scheduler stop timed out")
	}
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"axon/pkg/agent"
	"axon/pkg/automation"
	"axon/pkg/config"
	"axon/pkg/handler"
	"axon/pkg/httpapi"
	"axon/pkg/plugin"
	_ "axon/pkg/plugins/autoload" // register built-in plugin types
	"axon/pkg/store"
)

func main() {
	cfg, sysCfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(sysCfg.LogLevel)
	logger.Info("Starting up", "instances", len(cfg.Instances), "assistants", len(cfg.Assistants))

	// Store selection: sqlite when a path is configured, memory otherwise.
	var st store.Store
	var closeStore func() error
	if cfg.StorePath != "" {
		sqlStore, err := store.OpenSQLite(cfg.StorePath)
		if err != nil {
			logger.Error("Failed to open sqlite store", "path", cfg.StorePath, "error", err)
			os.Exit(1)
		}
		st = sqlStore
		closeStore = sqlStore.Close
	} else {
		st = store.NewMemory()
		closeStore = func() error { return nil }
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := plugin.NewRegistry(logger)
	engine := agent.NewEngine(registry, st, logger, agent.WithMaxIterations(sysCfg.MaxIterations))

	msgHandler := handler.NewHandler(registry, engine, st, st, logger,
		handler.WithContextWindow(sysCfg.ContextWindow, time.Duration(sysCfg.ContextTTLMin)*time.Minute),
		handler.WithTypingInterval(time.Duration(sysCfg.TypingIntervalMs)*time.Millisecond),
	)
	registry.SetDispatcher(msgHandler)

	invoker := automation.NewInvoker(engine, registry, st, st, logger,
		automation.WithMaxExecutions(sysCfg.MaxExecutions))

	if err := applyConfig(ctx, cfg, st, registry, logger); err != nil {
		logger.Error("Failed to apply configuration", "error", err)
		os.Exit(1)
	}

	if err := invoker.Start(ctx); err != nil {
		logger.Error("Failed to start automation scheduler", "error", err)
		os.Exit(1)
	}

	var server *httpapi.Server
	if cfg.HTTPAddr != "" {
		server = httpapi.NewServer(cfg.HTTPAddr, engine, registry, invoker, st, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("HTTP API server error", "error", err)
			}
		}()
	}

	// Hot reload: watch the config files and re-apply the declarative state.
	reloadCh := config.WatchConfig(ctx, "config.json", "system.json")
	go func() {
		for range reloadCh {
			newCfg, _, err := config.Load()
			if err != nil {
				logger.Error("Reload skipped, configuration invalid", "error", err)
				continue
			}
			if err := applyConfig(ctx, newCfg, st, registry, logger); err != nil {
				logger.Error("Reload failed", "error", err)
				continue
			}
			for _, a := range newCfg.Automations {
				if err := invoker.Reschedule(a); err != nil {
					logger.Error("Reschedule failed", "id", a.ID, "error", err)
				}
			}
			logger.Info("Configuration reloaded")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error", "error", err)
		}
	}
	invoker.Stop()
	cancel()
	registry.Shutdown(shutdownCtx)
	if err := closeStore(); err != nil {
		logger.Error("Store close error", "error", err)
	}
	logger.Info("Bye!")
}

// applyConfig seeds the store and synchronizes the registry with the
// declarative instance list: new ids are added, existing ids are
// reconfigured, ids no longer listed are removed.
func applyConfig(ctx context.Context, cfg *config.Config, st store.Store, registry *plugin.Registry, logger *slog.Logger) error {
	for _, a := range cfg.Assistants {
		if err := st.SaveAssistant(ctx, a); err != nil {
			return err
		}
	}
	for channelID, assistantID := range cfg.Bindings {
		if err := st.BindChannel(ctx, channelID, assistantID); err != nil {
			return err
		}
	}
	for _, a := range cfg.Automations {
		if err := st.SaveAutomation(ctx, a); err != nil {
			return err
		}
	}

	declared := make(map[string]bool, len(cfg.Instances))
	for _, ic := range cfg.Instances {
		var opts []plugin.Option
		if ic.DisplayName != "" {
			opts = append(opts, plugin.WithDisplayName(ic.DisplayName))
		}
		if !ic.IsEnabled() {
			opts = append(opts, plugin.Disabled())
		}

		if ic.ID != "" {
			declared[ic.ID] = true
			if _, ok := registry.Get(ic.ID); ok {
				if err := registry.Reconfigure(ctx, ic.ID, ic.Config); err != nil {
					logger.Error("Instance reconfigure failed", "id", ic.ID, "type", ic.Type, "error", err)
				}
				continue
			}
		}

		inst, err := registry.AddInstance(ctx, ic.Type, ic.Config, ic.ID, opts...)
		if err != nil {
			logger.Error("Instance startup failed", "id", ic.ID, "type", ic.Type, "error", err)
			continue
		}
		declared[inst.ID] = true
		logger.Info("Instance loaded", "id", inst.ID, "type", inst.Type, "capabilities", inst.Capabilities)
	}

	// Drop instances removed from the config.
	for _, inst := range registry.ListInstances() {
		if !declared[inst.ID] {
			if err := registry.RemoveInstance(ctx, inst.ID); err != nil {
				logger.Error("Instance removal failed", "id", inst.ID, "error", err)
			}
		}
	}
	return nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

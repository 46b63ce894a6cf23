package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/colinzhu/jmeter-web-runner-sub000/config"
	"github.com/colinzhu/jmeter-web-runner-sub000/execution"
	"github.com/colinzhu/jmeter-web-runner-sub000/logger"
	"github.com/colinzhu/jmeter-web-runner-sub000/runner"
	"github.com/colinzhu/jmeter-web-runner-sub000/server"
	"github.com/colinzhu/jmeter-web-runner-sub000/storage"
)

// ServeCmd starts the web server and execution orchestrator
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the jwr web server and execution orchestrator",
	Long: `Launch the web server: test plan uploads, execution queueing with a
concurrency ceiling, JMeter process management, report downloads, and a
WebSocket stream of execution state changes.`,
	RunE: runServe,
}

var (
	servePort       int
	serveConfigPath string
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	ServeCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to jwr.toml (overrides discovery)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Logger.Named("serve")

	var cfg *config.Config
	var err error
	if serveConfigPath != "" {
		cfg, err = config.LoadFromFile(serveConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	live := config.NewLive(cfg)

	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open metadata database: %w", err)
	}
	defer db.Close()

	plans, err := storage.NewPlanStore(db, filepath.Join(cfg.Storage.Dir, "plans"), log)
	if err != nil {
		return fmt.Errorf("failed to initialize plan store: %w", err)
	}
	reports := storage.NewReportStore(db, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jmeter := runner.NewJMeter(live, filepath.Join(cfg.Storage.Dir, "executions"), log)
	sched := execution.NewScheduler(ctx, cfg.MaxConcurrentExecutions(), jmeter, plans, reports, log)
	srv := server.NewServer(ctx, sched, plans, reports, cfg.Server.AllowedOrigins, log)

	// Hot-reload jmeter.path on config file changes; other settings
	// require a restart.
	if configFile := resolveConfigFile(); configFile != "" {
		watcher, err := config.NewWatcher(configFile)
		if err != nil {
			log.Warnw("Config watcher unavailable, jmeter.path changes require restart", "error", err)
		} else {
			watcher.OnReload(func(updated *config.Config) error {
				live.Replace(updated)
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("jwr server listening",
			"port", cfg.Server.Port,
			"max_concurrent", cfg.MaxConcurrentExecutions(),
			"storage_dir", cfg.Storage.Dir,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		log.Infow("Shutting down", "signal", sig)
	}

	// Stop accepting requests, then stop the orchestrator. Running
	// JMeter processes are killed through the scheduler context.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP shutdown incomplete", "error", err)
	}
	cancel()

	return nil
}

func resolveConfigFile() string {
	if serveConfigPath != "" {
		return serveConfigPath
	}
	return config.ConfigFilePath()
}

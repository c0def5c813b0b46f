package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zkhan93/claude-explains-api/internal/cache"
	"github.com/zkhan93/claude-explains-api/internal/claude"
	"github.com/zkhan93/claude-explains-api/internal/config"
	"github.com/zkhan93/claude-explains-api/internal/eventlog"
	"github.com/zkhan93/claude-explains-api/internal/prompts"
	"github.com/zkhan93/claude-explains-api/internal/registry"
	"github.com/zkhan93/claude-explains-api/internal/server"
	"github.com/zkhan93/claude-explains-api/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the analysis service as an HTTP daemon. Settings come from
ANALYZER_-prefixed environment variables, optionally layered over a config
file passed with --config.`,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config host/port)")
}

func runServe(_ *cobra.Command, _ []string) error {
	settings, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(os.Stderr, settings.LogLevel)
	if err != nil {
		return err
	}

	shutdownTracing, err := tracing.Init(settings.TracingEnabled)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promptStore, err := prompts.Load(settings.PromptsFile, logger)
	if err != nil {
		return err
	}
	if err := promptStore.Watch(ctx); err != nil {
		logger.Warn("prompt hot reload unavailable", "error", err)
	}

	repos, err := registry.Load(settings.ReposFile)
	if err != nil {
		return err
	}

	resultCache, err := cache.New(settings.CacheDir, settings.CacheTTL(), logger)
	if err != nil {
		return err
	}

	events, err := eventlog.New(settings.EventLogFile, logger)
	if err != nil {
		return err
	}
	defer events.Close()

	runner, err := claude.NewRunner(claude.Config{
		Binary:       settings.ClaudeBinary,
		OutputDir:    settings.OutputDir,
		PollInterval: settings.PollInterval(),
		MaxBudgetUSD: settings.MaxBudgetUSD,
		Logger:       logger,
		EventLog:     events,
	})
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Settings: settings,
		Runner:   runner,
		Prompts:  promptStore,
		Registry: repos,
		Cache:    resultCache,
		Logger:   logger,
	})

	addr := serveAddr
	if addr == "" {
		addr = settings.Addr()
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("analyzer listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", "error", err)
	}
	return nil
}

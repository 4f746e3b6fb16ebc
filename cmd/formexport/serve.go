package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/formexport/internal/core"
	"github.com/JonMunkholm/formexport/internal/metrics"
	"github.com/JonMunkholm/formexport/internal/store"
	"github.com/JonMunkholm/formexport/internal/web"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the export HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	cfg := a.cfg
	slog.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		v, err := store.Migrate(cfg.Database.URL)
		if err != nil {
			return err
		}
		slog.Info("database schema up to date", "version", v)
	}

	m := metrics.New()
	limiter := core.NewExportLimiter(cfg.Export.MaxConcurrent, cfg.Export.MaxWaitTime)
	worker := core.NewWorker(limiter, cfg.Export.Timeout)

	rt, err := openRuntime(ctx, cfg, core.WithMetrics(m), core.WithWorker(worker))
	defer rt.Close()
	if err != nil {
		return err
	}

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	go rt.service.StartStallSweeper(jobCtx, core.StallConfig{
		Timeout:  cfg.Export.StallTimeout,
		Interval: cfg.Export.SweepInterval,
	})

	server := web.NewServer(rt.service, cfg,
		web.WithMetrics(m.Handler()),
		web.WithHealthCheck(rt.pool.Ping),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	cancelJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if n := worker.Active(); n > 0 {
		slog.Info("waiting for exports to complete", "active", n)
	}
	if err := worker.Drain(shutdownCtx); err != nil {
		slog.Warn("exports did not complete in time", "error", err)
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

package cli

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"support_server/config"
	"support_server/internal/bootstrap"
	"support_server/pkg/logger"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func APICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), true, false)
		},
	}
}

func WorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start source polling and answer drafting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), false, true)
		},
	}
}

func AllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Start the HTTP API and the worker in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), true, true)
		},
	}
}

func serve(parent context.Context, withAPI, withWorker bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withDependencies(ctx, func(cfg *config.Config, deps *bootstrap.Dependencies) error {
		var wg sync.WaitGroup
		errCh := make(chan error, 1)

		if withWorker {
			w := bootstrap.NewWorker(cfg, deps)
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Run(ctx)
			}()
		}

		if withAPI {
			app := bootstrap.NewAPI(ctx, cfg, deps)
			go func() {
				addr := ":" + cfg.Port
				logger.Info("Starting API server on %s", addr)
				if err := app.Listen(addr); err != nil {
					errCh <- err
				}
			}()
			defer func() {
				logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
				if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
					logger.WithError(err).Error("Error shutting down API server")
				}
			}()
		}

		var runErr error
		select {
		case <-ctx.Done():
		case runErr = <-errCh:
			stop()
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			logger.Warn("Worker shutdown timed out")
		}
		return runErr
	})
}

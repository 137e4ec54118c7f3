// Package cli holds the support-server commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"support_server/config"
	"support_server/internal/bootstrap"
	"support_server/pkg/logger"
	"support_server/pkg/telemetry"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const serviceName = "support-server"

// NewRootCommand assembles the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "support-server",
		Short:         "Customer support triage server",
		Long:          "Ingests customer requests, triages them for operators and serves the knowledge base",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(APICmd())
	root.AddCommand(WorkerCmd())
	root.AddCommand(AllCmd())
	root.AddCommand(MigrateCmd())
	root.AddCommand(KnowledgeCmd())
	root.AddCommand(TokenCmd())

	return root
}

// Execute runs the root command. Without arguments it starts the API and the worker.
func Execute() {
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "all")
	}
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads .env (if present) and the environment, then initializes logging and
// error reporting. The returned func flushes Sentry.
func loadConfig() (*config.Config, func(), error) {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: serviceName,
		Pretty:  cfg.IsDevelopment(),
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	sampleRate := 0.1
	if cfg.IsDevelopment() {
		sampleRate = 1.0
	}
	flush, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, flush, nil
}

// withDependencies loads config, connects dependencies and calls fn with both.
func withDependencies(ctx context.Context, fn func(cfg *config.Config, deps *bootstrap.Dependencies) error) error {
	cfg, flush, err := loadConfig()
	if err != nil {
		return err
	}
	defer flush()

	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer cleanup()

	return fn(cfg, deps)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

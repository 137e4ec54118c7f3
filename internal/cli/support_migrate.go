package cli

import (
	"fmt"

	"support_server/infra/database"
	"support_server/pkg/logger"

	"github.com/spf13/cobra"
)

func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, flush, err := loadConfig()
			if err != nil {
				return err
			}
			defer flush()

			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			if err := database.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Migrations applied")
			return nil
		},
	}
}

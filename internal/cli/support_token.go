package cli

import (
	"fmt"
	"time"

	"support_server/infra/database"
	"support_server/infra/middleware"

	"github.com/spf13/cobra"
)

// TokenCmd issues and revokes operator tokens signed with JWT_SECRET.
func TokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage operator access tokens",
	}

	cmd.AddCommand(tokenIssueCmd())
	cmd.AddCommand(tokenRevokeCmd())

	return cmd
}

func tokenIssueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue <operator-id>",
		Short: "Issue an operator access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, flush, err := loadConfig()
			if err != nil {
				return err
			}
			defer flush()

			token, err := middleware.IssueToken(cfg.JWTSecret, args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringP("role", "r", "operator", "Operator role")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")

	return cmd
}

func tokenRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke a token by its jti claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, flush, err := loadConfig()
			if err != nil {
				return err
			}
			defer flush()

			if cfg.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is required to revoke tokens")
			}
			client, err := database.NewRedis(cmd.Context(), cfg.RedisURL, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := middleware.NewRedisRevocations(client).Revoke(cmd.Context(), args[0], ttl); err != nil {
				return fmt.Errorf("revoke: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().Duration("ttl", 12*time.Hour, "How long to remember the revocation; at least the token's remaining lifetime")

	return cmd
}

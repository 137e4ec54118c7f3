package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"support_server/config"
	"support_server/core/service/knowledge"
	"support_server/internal/bootstrap"

	"github.com/spf13/cobra"
)

// KnowledgeCmd manages the knowledge base without going through the HTTP API.
func KnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "kb",
		Aliases: []string{"knowledge"},
		Short:   "Manage the knowledge base",
	}

	cmd.AddCommand(kbUploadCmd())
	cmd.AddCommand(kbSearchCmd())
	cmd.AddCommand(kbListCmd())
	cmd.AddCommand(kbDeleteCmd())

	return cmd
}

func kbUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file.pdf>...",
		Short: "Upload one or more PDF documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			category, _ := cmd.Flags().GetString("category")
			tags, _ := cmd.Flags().GetStringSlice("tags")

			return runKnowledge(cmd, func(ctx context.Context, kb *knowledge.Service) error {
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}
					result, err := kb.Upload(ctx, knowledge.UploadCommand{
						Filename: filepath.Base(path),
						Data:     data,
						Category: category,
						Tags:     tags,
					})
					if err != nil {
						return fmt.Errorf("upload %s: %w", path, err)
					}
					if err := printJSON(cmd.OutOrStdout(), result); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringP("category", "c", "", "Document category")
	cmd.Flags().StringSliceP("tags", "t", nil, "Comma separated tags")

	return cmd
}

func kbSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			category, _ := cmd.Flags().GetString("category")
			query := strings.Join(args, " ")

			return runKnowledge(cmd, func(ctx context.Context, kb *knowledge.Service) error {
				hits, err := kb.Search(ctx, query, limit, category)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), hits)
			})
		},
	}

	cmd.Flags().IntP("limit", "l", 0, "Maximum number of results (0 uses the configured default)")
	cmd.Flags().StringP("category", "c", "", "Only search this category")

	return cmd
}

func kbListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List uploaded documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKnowledge(cmd, func(ctx context.Context, kb *knowledge.Service) error {
				docs, err := kb.ListDocuments(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), docs)
			})
		},
	}
}

func kbDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>...",
		Short: "Delete documents and all of their chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKnowledge(cmd, func(ctx context.Context, kb *knowledge.Service) error {
				for _, id := range args {
					if err := kb.DeleteDocument(ctx, id); err != nil {
						return fmt.Errorf("delete %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

func runKnowledge(cmd *cobra.Command, fn func(ctx context.Context, kb *knowledge.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return withDependencies(ctx, func(_ *config.Config, deps *bootstrap.Dependencies) error {
		return fn(ctx, deps.Knowledge)
	})
}

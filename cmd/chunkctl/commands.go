package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/retriever"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/logger"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "chunkctl",
		Short:         "Operate the course chunk store and search index",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger.SetupWriter(cmd.ErrOrStderr(), "chunkctl", opts.logLevel, "text")
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "configs/development.yaml", "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level written to stderr")

	root.AddCommand(
		newMigrateCmd(opts),
		newReindexCmd(opts),
		newMetaCmd(opts),
		newStatusCmd(opts),
		newIngestCmd(opts),
		newRetrieveCmd(opts),
	)
	return root
}

// open loads the config and builds the engine. Kafka and Redis are joined
// when configured so that changes made here reach running replicas.
func (o *rootOptions) open(ctx context.Context, tweak func(*config.Config)) (*bootstrap.App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if tweak != nil {
		tweak(cfg)
	}
	return bootstrap.New(ctx, cfg, bootstrap.Options{
		Redis: cfg.Redis.Addr != "",
		Kafka: true,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply chunk store and search index schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.open(cmd.Context(), func(c *config.Config) { c.Store.AutoMigrate = true })
			if err != nil {
				return err
			}
			defer app.Close()
			cmd.Printf("migrations applied (store=%s index=%s)\n", app.Config.Store.Backend, app.Config.Index.Backend)
			return nil
		},
	}
}

func newReindexCmd(opts *rootOptions) *cobra.Command {
	var courseID, fileID string
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild index entries from the chunk store",
		Long: "Without --file every stored file is reindexed and orphaned index entries are dropped.\n" +
			"An in-memory index lives only as long as this command, so reindex is mostly useful\n" +
			"against the postgres index or to verify that stored chunks are indexable.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := opts.open(ctx, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			if fileID != "" {
				n, err := app.Pipeline.ReindexFile(ctx, courseID, fileID)
				if err != nil {
					return err
				}
				cmd.Printf("reindexed %s: %d chunks\n", fileID, n)
				return nil
			}
			report, err := app.Pipeline.Rebuild(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&courseID, "course", "", "course that must own --file")
	cmd.Flags().StringVar(&fileID, "file", "", "reindex a single file")
	return cmd
}

func newMetaCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "meta <courseId> <fileId>",
		Short: "Show the index metadata of one file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.open(ctx, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			meta, err := app.Pipeline.Meta(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), meta)
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <courseId>",
		Short: "Show chunk counts per kind and every file's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.open(ctx, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			status, err := app.Pipeline.Status(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "ingest <request.json>",
		Short: "Ingest one file from a JSON ingest request (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var src io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				src = f
			}
			var req ingestion.Request
			if err := json.NewDecoder(src).Decode(&req); err != nil {
				return fmt.Errorf("decoding %s: %w", args[0], err)
			}
			req.Force = req.Force || force

			app, err := opts.open(ctx, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Pipeline.Ingest(ctx, &req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reingest even when the content hash is unchanged")
	return cmd
}

func newRetrieveCmd(opts *rootOptions) *cobra.Command {
	var limit int
	var hydrate bool
	cmd := &cobra.Command{
		Use:   "retrieve <courseId> <query>",
		Short: "Run a retrieval and print the fused result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.open(ctx, func(c *config.Config) { c.Index.RebuildOnStart = true })
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Warm(ctx); err != nil {
				return err
			}

			res, err := app.Retriever.Retrieve(ctx, retriever.Request{
				CourseID: args[0],
				Query:    args[1],
				Limit:    limit,
				Hydrate:  hydrate,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum hits; 0 uses the configured default")
	cmd.Flags().BoolVar(&hydrate, "hydrate", false, "include full chunk content")
	return cmd
}

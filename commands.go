package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/config"
	"github.com/JonMunkholm/DbChat/internal/logging"
	"github.com/JonMunkholm/DbChat/internal/schema"
)

// cli carries state shared by every subcommand once PersistentPreRunE has run.
type cli struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "dbchat",
		Short: "Ask questions about your database in plain language",
		Long: `dbchat turns natural-language questions into SQL, runs the SQL against
the configured database and explains the results.

Configuration comes from an optional YAML file, a .env file and the
environment (see DB_*, LLM_*, EMBEDDING_*, SCHEMA_* and CATALOG_*).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			c.cfg, c.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a YAML config file")

	root.AddCommand(c.serveCmd(), c.chatCmd(), c.indexCmd(), c.schemaCmd(), c.mcpCmd())
	return root
}

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the MCP endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger, appOptions{llm: true, populate: c.cfg.Index.OnStartup})
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = c.cfg.Server.Addr
			}
			return a.serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to ADDR)")
	return cmd
}

func (c *cli) chatCmd() *cobra.Command {
	var history string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive question prompt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger, appOptions{llm: true, populate: c.cfg.Index.OnStartup})
			if err != nil {
				return err
			}
			defer a.Close()

			r := newREPL(a.pipeline, cmd.OutOrStdout(), replOptions{HistoryFile: history})
			return r.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&history, "history", defaultHistoryFile(), "readline history file")
	return cmd
}

func (c *cli) indexCmd() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Compute missing embeddings for the schema catalog",
		Long: `index embeds every catalog element that has no embedding yet. With --seed
it first adds one element per table and column found in the database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if seed {
				n, err := a.seedCatalog(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "seeded %d elements\n", n)
			}

			report, err := a.populate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "embedded %d of %d missing elements (%d failed)\n",
				report.Embedded, report.Missing, report.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "add introspected tables and columns before embedding")
	return cmd
}

func (c *cli) schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect the database schema",
	}

	var textOut, jsonOut string
	dump := &cobra.Command{
		Use:   "dump",
		Short: "Write the introspected schema as prompt text and raw JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := openDatabase(ctx, c.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			tables, err := schema.Introspect(ctx, db, catalogTables...)
			if err != nil {
				return fmt.Errorf("introspect schema: %w", err)
			}
			c.logger.Info("schema introspected", zap.Int("tables", len(tables)))

			if err := writeOutput(cmd.OutOrStdout(), textOut, []byte(schema.PromptText(tables)+"\n")); err != nil {
				return err
			}
			if jsonOut == "" {
				return nil
			}
			raw, err := schema.RawJSON(tables)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), jsonOut, raw)
		},
	}
	dump.Flags().StringVarP(&textOut, "out", "o", "", "prompt text file (default stdout)")
	dump.Flags().StringVar(&jsonOut, "json", "", "raw JSON file")

	cmd.AddCommand(dump)
	return cmd
}

func (c *cli) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger, appOptions{llm: true, populate: c.cfg.Index.OnStartup})
			if err != nil {
				return err
			}
			defer a.Close()

			stdio := server.NewStdioServer(newMCPServer(a.pipeline, c.logger))
			return stdio.Listen(ctx, os.Stdin, os.Stdout)
		},
	}
}

// writeOutput writes b to path, or to stdout when path is empty or "-".
func writeOutput(stdout io.Writer, path string, b []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(b)
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

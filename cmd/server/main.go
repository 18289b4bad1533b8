// Package main is the entry point for the microblog server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (environment + layered .env files, then flags)
// 2. Create the logger
// 3. Hand both to internal/server and block until shutdown
//
// COMMANDS:
//
//	microblog serve   [--port N] [--db PATH]   run the HTTP API
//	microblog migrate [--db PATH]              create or upgrade the schema and exit
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/microblog/internal/config"
	"github.com/sakif/microblog/internal/server"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. It is a function rather than package
// vars so tests get fresh flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "microblog",
		Short: "Microblog social-graph API server",
		Long: `microblog serves a small social network over JSON: accounts,
follow relationships, short posts and a personalised timeline.

Configuration comes from the environment and layered .env files
(see MICROBLOG_ENV). Flags override both.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		port   int
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}

			logger := newLogger(cfg.LogLevel)

			if err := server.EnsureDBDir(cfg.DBPath); err != nil {
				logger.Error("failed to create database directory", slog.String("error", err.Error()))
				return err
			}

			srv, err := server.New(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("failed to create server", slog.String("error", err.Error()))
				return err
			}

			// Start blocks until the server is shut down (via Ctrl+C or SIGTERM).
			if err := srv.Start(); err != nil {
				logger.Error("server error", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "listen port (overrides PORT)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema, then exit",
		Long: `migrate opens the database, applies every pending migration and exits.
It needs only DB_PATH (or --db); JWT_SECRET is not required.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = os.Getenv("DB_PATH")
			}
			if dbPath == "" {
				dbPath = "data/microblog.db"
			}

			if err := server.EnsureDBDir(dbPath); err != nil {
				return err
			}
			if err := server.Migrate(dbPath); err != nil {
				return fmt.Errorf("migrating %s: %w", dbPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", dbPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	return cmd
}

// newLogger creates the process-wide text logger.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

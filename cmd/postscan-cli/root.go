package main

import (
	"github.com/spf13/cobra"

	"github.com/vrsandeep/postscan/internal/config"
	"github.com/vrsandeep/postscan/internal/core"
	"github.com/vrsandeep/postscan/internal/logging"
)

// commandContext carries the global flags and opens the App on demand.
type commandContext struct {
	dbPath   string
	logLevel string
}

func (c *commandContext) withApp(fn func(app *core.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		cfg.Database.Path = c.dbPath
	}
	app, err := core.Open(cfg, version)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "postscan-cli",
		Short:         "Operate the postscan database from the command line",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.InitWriter(cmd.ErrOrStderr(), ctx.logLevel, true)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.dbPath, "db", "", "Path to the sqlite database (overrides database.path)")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newPostsCommand(ctx))
	rootCmd.AddCommand(newUsersCommand(ctx))

	return rootCmd
}

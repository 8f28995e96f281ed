package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/shard-coordinator/internal/config"
	"github.com/JakeFAU/shard-coordinator/internal/logging"
	"github.com/JakeFAU/shard-coordinator/internal/server"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

// runner is what serve needs from the built application. It is a variable
// so tests can substitute a fake.
type runner interface {
	Run(ctx context.Context) error
}

var buildApp = func(ctx context.Context, cfg *config.Config) (runner, error) {
	return server.Build(ctx, cfg, version)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Hands out crawl shards to volunteer workers.",
		Long: `coordinator assigns units of crawl work to volunteer workers, reclaims
work from workers that go silent, and keeps a live ETA for the whole run.
Run several instances behind a load balancer; one is elected to run the
background duties.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars with the COORD_ prefix override it)")

	cmd.AddCommand(newServeCmd(&cfgFile), newMigrateCmd(&cfgFile), newVersionCmd())
	return cmd
}

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when elected, the leader duties",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err := buildApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run: %w", err)
			}
			return nil
		},
	}
}

func newMigrateCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the jobs, workers and leaderboard tables if missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer func() {
				_ = logger.Sync()
			}()
			return server.Migrate(cmd.Context(), &cfg, logger.Named("migrate"))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version)
		},
	}
}

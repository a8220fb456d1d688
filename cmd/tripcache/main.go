package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Khoshtrip/backend/config"
	"github.com/Khoshtrip/backend/service"
	"github.com/Khoshtrip/backend/types"
	"github.com/Khoshtrip/backend/utils"
)

const configEnv = "TRIPCACHE_CONFIG"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tripcache",
		Short:         "Read-through view cache for the trip marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to the configuration file (env "+configEnv+")")

	root.AddCommand(newServeCommand(), newFlushCommand(), newStatsCommand())
	return root
}

// flagOrEnv returns the flag value, then the environment value, then the default.
func flagOrEnv(cmd *cobra.Command, flagName, envName, defaultValue string) string {
	if value, _ := cmd.Flags().GetString(flagName); value != "" {
		return value
	}
	if value, ok := os.LookupEnv(envName); ok && value != "" {
		return value
	}
	return defaultValue
}

func configPath(cmd *cobra.Command) string {
	return flagOrEnv(cmd, "config", configEnv, "config.yaml")
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := service.NewService(cmd.Context(), configPath(cmd))
			if err != nil {
				return err
			}
			return svc.Start()
		},
	}
}

func newFlushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Remove every cached view",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				removed, err := c.Invalidator.Flush(ctx)
				if err != nil {
					return err
				}
				c.Logger.Info("Cache flushed", zap.Int("keys", removed))
				return printJSON(cmd, map[string]int{"removed": removed})
			})
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics and store info",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				summary, err := c.Recorder.Summary(ctx)
				if err != nil {
					return types.WrapError(err, "failed to read cache metrics")
				}

				info, err := c.Store.Info(ctx)
				if err != nil {
					c.Logger.Warn("Store info unavailable", zap.Error(err))
				}

				return printJSON(cmd, struct {
					Metrics types.MetricsSummary `json:"metrics"`
					Store   types.StoreInfo      `json:"store"`
				}{summary, info})
			})
		},
	}
}

// withComponents builds the cache core from the configuration file, runs fn
// against a started store and releases everything afterwards.
func withComponents(cmd *cobra.Command, fn func(ctx context.Context, c *service.Components) error) error {
	ctx := cmd.Context()

	configManager, err := config.NewConfigurationManager(ctx, configPath(cmd))
	if err != nil {
		return err
	}

	c, err := service.NewComponents(configManager)
	if err != nil {
		return err
	}

	if err = c.Logs.Start(); err != nil {
		return err
	}
	defer func() { _ = c.Logs.Stop() }()

	if err = c.Store.Start(); err != nil {
		return types.WrapError(err, "failed to start store")
	}
	defer func() { _ = c.Store.Stop() }()

	return fn(ctx, c)
}

func printJSON(cmd *cobra.Command, value interface{}) error {
	data, err := utils.Marshal(value)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

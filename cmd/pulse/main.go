// Command pulse is the operator CLI for the recomputation engine: run
// database migrations, fire a trigger outside its schedule, recompute a
// single task, or take a productivity snapshot on demand.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/projectpulse/pulse/internal/app"
	"github.com/projectpulse/pulse/internal/domain"
	"github.com/projectpulse/pulse/pkg/config"
	"github.com/projectpulse/pulse/pkg/observability"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger(observability.DevelopmentLogConfig()).
			Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logCfg := observability.DevelopmentLogConfig()
	logCfg.Level = cfg.LogLevel
	logger := observability.NewLogger(logCfg)

	root := &cobra.Command{
		Use:           "pulse",
		Short:         "Derived-metrics recomputation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		migrateCmd(ctx, cfg, logger),
		triggerCmd(ctx, cfg, logger),
		recalcCmd(ctx, cfg, logger),
		snapshotCmd(ctx, cfg, logger),
	)

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func withContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger, fn func(*app.Container) error) error {
	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()
	return fn(container)
}

func migrateCmd(ctx context.Context, cfg *config.Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(ctx, cfg, logger, func(c *app.Container) error {
				if err := c.Migrate(ctx); err != nil {
					return err
				}
				fmt.Println("migrations applied")
				return nil
			})
		},
	}
}

func triggerCmd(ctx context.Context, cfg *config.Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <name>",
		Short: "Run one scheduled trigger immediately",
		Long: "Run one trigger outside its schedule. Names: priority_refresh, " +
			"risk_refresh_all, risk_refresh_elevated, risk_refresh_critical, " +
			"metrics_rollup, daily_snapshot, weekly_snapshot.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(ctx, cfg, logger, func(c *app.Container) error {
				summary, err := c.Scheduler.RunTrigger(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s: processed=%d updated=%d skipped=%d failed=%d in %s\n",
					summary.Trigger, summary.Processed, summary.Updated,
					summary.Skipped, summary.Failed, summary.Duration)
				return nil
			})
		},
	}
}

func recalcCmd(ctx context.Context, cfg *config.Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "recalc <task-id>",
		Short: "Recompute complexity, risk and priority for one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}
			return withContainer(ctx, cfg, logger, func(c *app.Container) error {
				update, err := c.Scheduler.RecomputeTask(ctx, id)
				if err != nil {
					return err
				}
				if !update.Updated {
					fmt.Printf("task %s: priority unchanged (%s)\n", id, update.NewPriority)
					return nil
				}
				fmt.Printf("task %s: %s -> %s (score %.1f)\n",
					id, update.OldPriority, update.NewPriority, update.Score)
				for _, reason := range update.Reasoning {
					fmt.Printf("  - %s\n", reason)
				}
				return nil
			})
		},
	}
}

func snapshotCmd(ctx context.Context, cfg *config.Config, logger *slog.Logger) *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "snapshot <user-id>",
		Short: "Take a productivity snapshot for one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			if period != domain.PeriodDaily && period != domain.PeriodWeekly {
				return fmt.Errorf("invalid period %q (want daily or weekly)", period)
			}
			return withContainer(ctx, cfg, logger, func(c *app.Container) error {
				snapshot, err := c.Snapshots.Snapshot(ctx, userID, time.Now(), period)
				if err != nil {
					return err
				}
				fmt.Printf("snapshot %s for user %s: score=%.1f trend=%s (%.1f%%)\n",
					snapshot.SnapshotDate.Format("2006-01-02"), userID,
					snapshot.Score, snapshot.Trend, snapshot.TrendPercent)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", domain.PeriodDaily, "snapshot period type (daily or weekly)")
	return cmd
}

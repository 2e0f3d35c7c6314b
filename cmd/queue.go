package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/wwfm-backend/internal/app"
)

var processQueueCmd = &cobra.Command{
	Use:   "process-queue",
	Short: "Run one aggregation cycle and print the report",
	Long: `Run one aggregation cycle: release stuck claims, re-enqueue dirty links,
process a batch and print the resulting queue metrics as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			rep, err := a.Services.Processor.RunCycle(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"result":           rep.Result,
				"clearedStuckJobs": rep.ClearedStuckJobs,
				"reconciled":       rep.Reconciled,
				"queueMetrics":     rep.QueueMetrics,
			})
		})
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute one link's aggregated fields immediately",
	Long: `Recompute one link's aggregated fields now. The pair is claimed through
the aggregation queue first, so the command fails rather than racing a
running cycle that holds it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		goalRaw, _ := cmd.Flags().GetString("goal")
		implRaw, _ := cmd.Flags().GetString("implementation")
		goalID, err := uuid.Parse(goalRaw)
		if err != nil {
			return fmt.Errorf("invalid --goal: %w", err)
		}
		implID, err := uuid.Parse(implRaw)
		if err != nil {
			return fmt.Errorf("invalid --implementation: %w", err)
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			agg, err := a.Services.Processor.AggregateNow(ctx, goalID, implID)
			if err != nil {
				return err
			}
			if agg == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no ratings for this link")
				return nil
			}
			return printJSON(cmd, agg)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ratings, links and queue tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.Migrate(); err != nil {
				return err
			}
			a.Log.Info("migrations applied")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(processQueueCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(migrateCmd)

	aggregateCmd.Flags().String("goal", "", "goal id")
	aggregateCmd.Flags().String("implementation", "", "implementation id")
	_ = aggregateCmd.MarkFlagRequired("goal")
	_ = aggregateCmd.MarkFlagRequired("implementation")
}

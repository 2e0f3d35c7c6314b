package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/yungbote/wwfm-backend/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		migrate, _ := cmd.Flags().GetBool("migrate")
		schedule, _ := cmd.Flags().GetBool("schedule")
		return withApp(func(ctx context.Context, a *app.App) error {
			if migrate {
				if err := a.Migrate(); err != nil {
					return err
				}
			}
			a.Start(ctx)
			if schedule {
				if err := a.StartScheduler(ctx); err != nil {
					return err
				}
			}
			return a.Serve(ctx)
		})
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run aggregation cycles on CRON_SCHEDULE without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			a.Start(ctx)
			if err := a.StartScheduler(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scheduleCmd)

	serveCmd.Flags().Bool("migrate", true, "auto-migrate tables before serving")
	serveCmd.Flags().Bool("schedule", false, "also run the in-process aggregation schedule")
}

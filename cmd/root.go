package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yungbote/wwfm-backend/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "wwfm",
	Short: "What-worked-for-me aggregation backend",
	Long: `wwfm serves the ratings API and keeps each goal/implementation link's
aggregated field distributions current.

Example usage:
  wwfm serve                   # HTTP API plus cron endpoints
  wwfm serve --schedule        # also run the in-process aggregation schedule
  wwfm process-queue           # run one aggregation cycle and exit
  wwfm migrate                 # create or update tables`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// withApp builds the application, runs fn with a context cancelled on SIGINT
// or SIGTERM, and closes everything afterwards.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

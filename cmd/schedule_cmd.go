package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/xbauto/internal/logger"
	"github.com/kebairia/xbauto/internal/schedule"
)

var scheduleCron string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the lifecycle on a cron schedule until interrupted",
	Long: `schedule stays in the foreground and performs a run on every
activation of the cron expression (UTC). A run still in progress when the
next activation arrives makes that activation be skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		om, log, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync(log)

		expr := scheduleCron
		if expr == "" {
			expr = om.Config().Schedule.Cron
		}
		if expr == "" {
			return fmt.Errorf("no schedule: set schedule.cron or pass --cron")
		}
		runner, err := schedule.New(expr, log)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		return runner.Run(ctx, func(ctx context.Context) error {
			_, err := om.RunBackup(ctx)
			return err
		})
	},
}

func init() {
	scheduleCmd.Flags().
		StringVar(&scheduleCron, "cron", "", "cron expression overriding schedule.cron")
}

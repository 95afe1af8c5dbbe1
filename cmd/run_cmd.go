package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kebairia/xbauto/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Take the next backup in the lifecycle",
	Long: `run scans the active directory and takes a base backup, the next
incremental backup, or archives the current set and starts a new base.
Any failure is logged at FATAL level and exits with status 1.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		om, log, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync(log)

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		report, err := om.RunBackup(ctx)
		if err != nil {
			log.Fatal("backup lifecycle failed",
				"decision", report.Decision,
				"error", err.Error(),
			)
			return err
		}
		log.Console("backup lifecycle finished",
			"decision", report.Decision,
			"artifact", report.ArtifactPath,
			"duration", report.Duration.String(),
		)
		return nil
	},
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/xbauto/internal/logger"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Evict the oldest archive when over the retained count",
	Long: `prune removes at most one archive, the oldest managed one, when the
archive directory holds more than archive.retain_count archives.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		om, log, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync(log)

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		removed, err := om.Prune(ctx)
		if err != nil {
			log.Error("prune failed", "error", err.Error())
			return err
		}
		if removed == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to prune")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", removed)
		return nil
	},
}

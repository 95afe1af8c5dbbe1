package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/xbauto/internal/logger"
)

var extractDest string

var extractCmd = &cobra.Command{
	Use:   "extract <archive>",
	Short: "Unpack an archive for restore",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		om, log, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync(log)

		if err := om.Extract(args[0], extractDest); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "extracted %s into %s\n", args[0], extractDest)
		return nil
	},
}

func init() {
	extractCmd.Flags().
		StringVarP(&extractDest, "dest", "d", "", "directory to unpack into")
	_ = extractCmd.MarkFlagRequired("dest")
}

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kebairia/xbauto/internal/logger"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what the next run would do, without doing it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		om, log, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync(log)

		plan, err := om.Plan()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "decision:          %s\n", plan.Decision)
		if len(plan.Triggers) > 0 {
			names := make([]string, len(plan.Triggers))
			for i, t := range plan.Triggers {
				names[i] = string(t)
			}
			fmt.Fprintf(out, "triggers:          %s\n", strings.Join(names, ", "))
		}
		fmt.Fprintf(out, "base present:      %t\n", plan.State.HasBase)
		fmt.Fprintf(out, "last incremental:  %d\n", plan.State.MaxIncrementalIndex)
		fmt.Fprintf(out, "chain contiguous:  %t (%d artifacts)\n", plan.State.Contiguous(), len(plan.State.Artifacts))
		if !plan.State.NewestArtifactTime.IsZero() {
			fmt.Fprintf(out, "newest artifact:   %s (%s ago)\n",
				plan.State.NewestArtifactTime.UTC().Format(time.RFC3339),
				plan.At.Sub(plan.State.NewestArtifactTime).Truncate(time.Second))
		}
		fmt.Fprintf(out, "archives:          %d (retain %d)\n", len(plan.Archives), om.Config().Archive.RetainCount)
		return nil
	},
}

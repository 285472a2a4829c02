package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var gcDryRun bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Collect errored snapshots and orphaned store copies",
	Long: `Collect garbage left behind by failed operations: snapshots in the Error
state and store copies that are Failed, stuck Destroying or whose snapshot
row has been purged. With --dry-run only the plan is printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.collector.Plan()
		if err != nil {
			return fmt.Errorf("create gc plan: %w", err)
		}
		if gcDryRun {
			if jsonOutput {
				return outputJSON(plan)
			}
			fmt.Printf("GC Plan: %s\n", plan.PlanID)
			fmt.Printf("  Errored snapshots: %d %v\n", len(plan.ErroredSnapshots), plan.ErroredSnapshots)
			fmt.Printf("  Orphaned store refs: %d %v\n", len(plan.OrphanedStoreRefs), plan.OrphanedStoreRefs)
			return nil
		}

		bar := progressBar()
		result, err := a.collector.WithProgress(bar.Callback()).Run(cmd.Context(), plan)
		bar.Finish()
		if err != nil {
			return fmt.Errorf("run gc: %w", err)
		}
		if jsonOutput {
			return outputJSON(result)
		}
		fmt.Printf("GC %s: purged %d snapshots and %d store refs", result.PlanID, result.PurgedSnapshot, result.PurgedRefs)
		if result.Failed > 0 {
			fmt.Printf(", %d failed", result.Failed)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "only print what would be collected")
}

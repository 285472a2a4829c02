package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/volsnap/internal/verify"
	"github.com/jvs-project/volsnap/pkg/color"
	"github.com/jvs-project/volsnap/pkg/errclass"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [snapshot]",
	Short: "Verify store copies against their payload hashes",
	Long: `Verify that the Ready copies of a snapshot are still on their stores and
hash to the payload recorded when they were written. Without an argument
every Ready copy in the catalog is verified.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		bar := progressBar()
		v := verify.NewVerifier(a.catalog, a.stores).WithProgress(bar.Callback())
		var results []*verify.Result
		if len(args) == 1 {
			snap, err := resolveSnapshot(a.catalog, args[0])
			if err != nil {
				return err
			}
			results, err = v.VerifySnapshot(snap.ID)
			if err != nil {
				return err
			}
		} else {
			results, err = v.VerifyAll()
			if err != nil {
				return err
			}
		}
		bar.Finish()

		bad := 0
		for _, r := range results {
			if !r.OK() && r.Severity != verify.SeveritySkipped {
				bad++
			}
		}
		if jsonOutput {
			if err := outputJSON(results); err != nil {
				return err
			}
		} else {
			for _, r := range results {
				switch {
				case r.OK():
					fmt.Printf("%s snapshot %d on store %d\n", color.Success("OK"), r.SnapshotID, r.StoreID)
				case r.Severity == verify.SeveritySkipped:
					fmt.Printf("%s snapshot %d on store %d: %s\n", color.Dim("SKIP"), r.SnapshotID, r.StoreID, r.Error)
				default:
					fmt.Printf("%s snapshot %d on store %d: %s\n", color.Error("FAIL"), r.SnapshotID, r.StoreID, r.Error)
				}
			}
			if len(results) == 0 {
				fmt.Println("No ready copies to verify.")
			}
		}
		if bad > 0 {
			return errclass.ErrPayloadHashMismatch.WithMessagef("%d copies failed verification", bad)
		}
		return nil
	},
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/volsnap/internal/doctor"
	"github.com/jvs-project/volsnap/pkg/color"
	"github.com/jvs-project/volsnap/pkg/errclass"
)

var (
	doctorStrict bool
	doctorRepair bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check catalog and store health",
	Long: `Check for rows left in a transient state by an interrupted operation, store
copies on unknown stores and trees left behind by an interrupted revert.
Run it only while no other volsnap process is working on the catalog.

With --strict every Ready copy is also verified against its payload hash.
With --repair stuck rows are failed so that retry, delete and gc can handle
them, and leftover trees are removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		d := doctor.NewDoctor(a.service.Factory())
		result, err := d.Check(doctorStrict)
		if err != nil {
			return err
		}
		repaired := 0
		if doctorRepair {
			repaired = d.Repair(result)
			if result, err = recheck(d, result); err != nil {
				return err
			}
		}

		if jsonOutput {
			if err := outputJSON(result); err != nil {
				return err
			}
		} else {
			printFindings(result, repaired)
		}
		if !result.Healthy {
			return errclass.ErrUnhealthy.WithMessagef("%d findings", len(result.Findings))
		}
		return nil
	},
}

// recheck runs the checks again after a repair, keeping the repaired
// findings of before so they are still reported.
func recheck(d *doctor.Doctor, before *doctor.Result) (*doctor.Result, error) {
	after, err := d.Check(doctorStrict)
	if err != nil {
		return nil, err
	}
	for _, f := range before.Findings {
		if f.Repaired {
			after.Findings = append(after.Findings, f)
		}
	}
	return after, nil
}

func printFindings(result *doctor.Result, repaired int) {
	if len(result.Findings) == 0 {
		fmt.Println(color.Success("Healthy: no issues found."))
		return
	}
	for _, f := range result.Findings {
		label := f.Severity
		switch f.Severity {
		case doctor.SeverityCritical, doctor.SeverityError:
			label = color.Error(label)
		case doctor.SeverityWarning:
			label = color.Warning(label)
		}
		line := fmt.Sprintf("[%s] %s: %s", label, f.Category, f.Description)
		if f.Path != "" {
			line += " (" + f.Path + ")"
		}
		if f.Repaired {
			line += " " + color.Success("repaired")
		}
		fmt.Println(line)
	}
	if repaired > 0 {
		fmt.Printf("Repaired %d findings.\n", repaired)
	}
	if result.Healthy {
		fmt.Println(color.Success("Healthy."))
	} else {
		fmt.Println(color.Error("Unhealthy."))
	}
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "also verify payload hashes of every ready copy")
	doctorCmd.Flags().BoolVar(&doctorRepair, "repair", false, "repair what can be repaired")
}

package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jvs-project/volsnap/internal/audit"
	"github.com/jvs-project/volsnap/pkg/color"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the state transition audit log",
}

func openAudit() (*audit.FileAppender, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return audit.NewFileAppender(filepath.Join(filepath.Dir(cfg.Database.Path), AuditFileName)), nil
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log hash chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAudit()
		if err != nil {
			return err
		}
		n, err := a.Verify()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(map[string]any{"path": a.Path(), "records": n, "intact": true})
		}
		fmt.Printf("%s %d records in %s\n", color.Success("Audit chain intact:"), n, a.Path())
		return nil
	},
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent audit records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAudit()
		if err != nil {
			return err
		}
		recs, err := a.Records()
		if err != nil {
			return err
		}
		if auditLimit > 0 && len(recs) > auditLimit {
			recs = recs[len(recs)-auditLimit:]
		}
		if jsonOutput {
			return outputJSON(recs)
		}
		for _, r := range recs {
			fmt.Printf("%s  %-9s %-6d %s --%s--> %s\n",
				color.Dim(r.Timestamp.Format("2006-01-02 15:04:05")), r.Machine, r.EntityID,
				r.FromState, r.Event, color.State(r.ToState))
		}
		return nil
	},
}

func init() {
	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "show at most this many records (0 for all)")
	auditCmd.AddCommand(auditVerifyCmd, auditListCmd)
}

package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jvs-project/volsnap/internal/catalog"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/pkg/color"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
	"github.com/jvs-project/volsnap/pkg/pathutil"
	"github.com/jvs-project/volsnap/pkg/template"
)

var (
	snapshotName   string
	snapshotTake   bool
	listVolumeID   uint64
	listState      string
	listIncludeAll bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage volume snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <volume-id>",
	Short: "Allocate a snapshot of a volume",
	Long: `Allocate a snapshot row for a volume. The snapshot stays Allocated until
it is taken, unless --take is given. Without --name the snapshot is named
from the snapshot.name_template setting, "{volume}-{datetime}" by default.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volumeID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return errclass.ErrInvalidParameter.WithMessagef("volume id %q is not a number", args[0])
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		vol, err := a.catalog.FindVolume(volumeID)
		if err != nil {
			return err
		}
		name := snapshotName
		if name == "" {
			name = template.SnapshotName(a.cfg.Snapshot.NameTemplate, vol.Name, vol.ID, time.Now())
		}
		if err := pathutil.ValidateName("snapshot", name); err != nil {
			return err
		}
		s := &model.Snapshot{
			Name:           name,
			VolumeID:       vol.ID,
			AccountID:      vol.AccountID,
			DataCenterID:   vol.DataCenterID,
			HypervisorType: vol.HypervisorType,
			Size:           vol.Size,
		}
		if err := a.catalog.CreateSnapshot(s); err != nil {
			return fmt.Errorf("record snapshot: %w", err)
		}
		if snapshotTake {
			if _, err := a.strategies.TakeSnapshot(cmd.Context(), s.ID); err != nil {
				return err
			}
		}
		return printSnapshot(a.catalog, s.ID, "Created")
	},
}

var snapshotTakeCmd = &cobra.Command{
	Use:   "take <snapshot>",
	Short: "Take an allocated snapshot on the primary store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := resolveSnapshot(a.catalog, args[0])
		if err != nil {
			return err
		}
		if _, err := a.strategies.TakeSnapshot(cmd.Context(), s.ID); err != nil {
			return err
		}
		return printSnapshot(a.catalog, s.ID, "Took")
	},
}

var snapshotBackupCmd = &cobra.Command{
	Use:   "backup <snapshot>",
	Short: "Back a snapshot up to the zone's image store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := resolveSnapshot(a.catalog, args[0])
		if err != nil {
			return err
		}
		if _, err := a.strategies.BackupSnapshot(cmd.Context(), s.ID); err != nil {
			return err
		}
		return printSnapshot(a.catalog, s.ID, "Backed up")
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <snapshot>",
	Short: "Delete a snapshot and every copy it owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := resolveSnapshot(a.catalog, args[0])
		if err != nil {
			return err
		}
		ok, err := a.strategies.DeleteSnapshot(cmd.Context(), s.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errclass.ErrBackendFailure.WithMessagef("snapshot %d was not deleted", s.ID)
		}
		if jsonOutput {
			return outputJSON(map[string]any{"id": s.ID, "deleted": true})
		}
		fmt.Printf("Deleted snapshot %s\n", color.ID(fmt.Sprint(s.ID)))
		return nil
	},
}

var snapshotRevertCmd = &cobra.Command{
	Use:   "revert <snapshot>",
	Short: "Revert a volume to a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := resolveSnapshot(a.catalog, args[0])
		if err != nil {
			return err
		}
		ok, err := a.strategies.RevertSnapshot(cmd.Context(), s.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errclass.ErrBackendFailure.WithMessagef("revert of volume %d to snapshot %d failed", s.VolumeID, s.ID)
		}
		if jsonOutput {
			return outputJSON(map[string]any{"id": s.ID, "volume_id": s.VolumeID, "reverted": true})
		}
		fmt.Printf("Reverted volume %d to snapshot %s\n", s.VolumeID, color.ID(fmt.Sprint(s.ID)))
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List snapshots",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		snaps, err := a.catalog.ListSnapshots(catalog.FilterOptions{
			VolumeID:       listVolumeID,
			State:          model.SnapshotState(listState),
			IncludeRemoved: listIncludeAll,
		})
		if err != nil {
			return err
		}
		if len(args) == 1 {
			matches := snapshot.FindMatches(snaps, args[0], 0)
			snaps = make([]*model.Snapshot, len(matches))
			for i, m := range matches {
				snaps[i] = m.Snapshot
			}
		}

		if jsonOutput {
			return outputJSON(snaps)
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		fmt.Println(color.Header(fmt.Sprintf("%-6s %-6s %-20s %-18s %-6s %-16s %s", "ID", "VOLUME", "NAME", "STATE", "PARENT", "CREATED", "BACKUP")))
		for _, s := range snaps {
			parent := "-"
			if s.HasParent() {
				parent = strconv.FormatUint(*s.ParentID, 10)
			}
			name := s.Name
			if s.IsRemoved() {
				name += " " + color.Dim("(removed)")
			}
			fmt.Printf("%-6d %-6d %-20s %-18s %-6s %-16s %s\n",
				s.ID, s.VolumeID, name, color.State(string(s.State)), parent,
				s.CreatedAt.Format("2006-01-02 15:04"), color.Dim(s.BackupID))
		}
		return nil
	},
}

// printSnapshot reloads snapshot id and reports it after verb.
func printSnapshot(cat *catalog.Catalog, id uint64, verb string) error {
	s, err := cat.FindSnapshotIncludingRemoved(id)
	if err != nil {
		return err
	}
	if jsonOutput {
		return outputJSON(s)
	}
	fmt.Printf("%s snapshot %s (%s) of volume %d: %s\n", verb, color.ID(fmt.Sprint(s.ID)), s.Name, s.VolumeID, color.State(string(s.State)))
	if s.BackupID != "" {
		fmt.Printf("  backup: %s\n", s.BackupID)
	}
	return nil
}

func init() {
	snapshotCreateCmd.Flags().StringVarP(&snapshotName, "name", "n", "", "snapshot name")
	snapshotCreateCmd.Flags().BoolVar(&snapshotTake, "take", false, "take the snapshot right away")
	snapshotListCmd.Flags().Uint64Var(&listVolumeID, "volume", 0, "only list snapshots of this volume")
	snapshotListCmd.Flags().StringVar(&listState, "state", "", "only list snapshots in this state")
	snapshotListCmd.Flags().BoolVar(&listIncludeAll, "all", false, "include deleted snapshots")
	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotTakeCmd, snapshotBackupCmd, snapshotDeleteCmd, snapshotRevertCmd, snapshotListCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jvs-project/volsnap/pkg/color"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
	"github.com/jvs-project/volsnap/pkg/pathutil"
	"github.com/jvs-project/volsnap/pkg/uuidutil"
)

var (
	volumeStoreID    uint64
	volumeSize       int64
	volumeHypervisor string
	volumeAccountID  uint64
)

var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage volumes",
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty volume on a primary store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pathutil.ValidateName("volume", args[0]); err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		drv, ok := a.drivers[volumeStoreID]
		ds, err := a.stores.PrimaryStore(volumeStoreID)
		if !ok || err != nil {
			return errclass.ErrInvalidParameter.WithMessagef("store %d is not a configured primary store", volumeStoreID)
		}

		id := uuidutil.NewV4()
		path, err := drv.CreateVolume(id)
		if err != nil {
			return err
		}
		v := &model.Volume{
			UUID:           id,
			Name:           args[0],
			AccountID:      volumeAccountID,
			DataCenterID:   ds.DataCenterID(),
			PoolID:         volumeStoreID,
			Path:           path,
			Size:           volumeSize,
			HypervisorType: model.HypervisorType(volumeHypervisor),
			State:          model.VolumeReady,
		}
		if err := a.catalog.CreateVolume(v); err != nil {
			return fmt.Errorf("record volume: %w", err)
		}

		if jsonOutput {
			return outputJSON(v)
		}
		fmt.Printf("Created volume %s (%s) on store %d\n", color.ID(fmt.Sprint(v.ID)), v.Name, v.PoolID)
		fmt.Printf("  path: %s\n", v.Path)
		return nil
	},
}

var volumeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List volumes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		vols, err := a.catalog.ListVolumes()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(vols)
		}
		if len(vols) == 0 {
			fmt.Println("No volumes.")
			return nil
		}
		fmt.Println(color.Header(fmt.Sprintf("%-6s %-20s %-20s %-6s %-10s %s", "ID", "NAME", "STATE", "STORE", "HYPERVISOR", "UUID")))
		for _, v := range vols {
			fmt.Printf("%-6d %-20s %-20s %-6d %-10s %s\n",
				v.ID, v.Name, color.State(string(v.State)), v.PoolID, v.HypervisorType, color.Dim(v.UUID))
		}
		return nil
	},
}

func init() {
	volumeCreateCmd.Flags().Uint64Var(&volumeStoreID, "store", 0, "primary store id (required)")
	volumeCreateCmd.Flags().Int64Var(&volumeSize, "size", 0, "volume size in bytes")
	volumeCreateCmd.Flags().StringVar(&volumeHypervisor, "hypervisor", string(model.HypervisorKVM), "hypervisor family (KVM, XenServer, VMware)")
	volumeCreateCmd.Flags().Uint64Var(&volumeAccountID, "account", 0, "owning account id")
	volumeCreateCmd.MarkFlagRequired("store")
	volumeCmd.AddCommand(volumeCreateCmd, volumeListCmd)
}

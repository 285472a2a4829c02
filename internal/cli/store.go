package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jvs-project/volsnap/pkg/color"
	"github.com/jvs-project/volsnap/pkg/model"
)

// storeInfo is the JSON shape of one store in `store list`.
type storeInfo struct {
	ID           uint64              `json:"id"`
	UUID         string              `json:"uuid"`
	Name         string              `json:"name"`
	Role         model.DataStoreRole `json:"role"`
	Zone         uint64              `json:"zone"`
	Root         string              `json:"root"`
	Engine       model.EngineType    `json:"engine"`
	Capabilities map[string]string   `json:"capabilities"`
	Refs         int                 `json:"refs"`
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect data stores",
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured data stores",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		refs, err := a.catalog.ListAllStoreRefs()
		if err != nil {
			return err
		}
		live := make(map[uint64]int)
		for _, r := range refs {
			if r.State != model.RefDestroyed {
				live[r.StoreID]++
			}
		}

		var out []storeInfo
		for _, ds := range a.stores.Stores() {
			caps, err := a.stores.Capabilities(ds.ID())
			if err != nil {
				return err
			}
			info := storeInfo{
				ID:           ds.ID(),
				UUID:         ds.UUID(),
				Name:         ds.Name(),
				Role:         ds.Role(),
				Zone:         ds.DataCenterID(),
				Capabilities: caps,
				Refs:         live[ds.ID()],
			}
			if drv, ok := a.drivers[ds.ID()]; ok {
				info.Root = drv.Root()
				info.Engine = drv.Engine().Name()
			}
			out = append(out, info)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

		if jsonOutput {
			return outputJSON(out)
		}
		if len(out) == 0 {
			fmt.Printf("No stores configured in %s.\n", configPath)
			return nil
		}
		fmt.Println(color.Header(fmt.Sprintf("%-6s %-16s %-8s %-5s %-14s %-5s %s", "ID", "NAME", "ROLE", "ZONE", "ENGINE", "REFS", "CAPABILITIES")))
		for _, s := range out {
			fmt.Printf("%-6d %-16s %-8s %-5d %-14s %-5d %s\n",
				s.ID, s.Name, s.Role, s.Zone, s.Engine, s.Refs, color.Dim(formatCaps(s.Capabilities)))
		}
		return nil
	},
}

func formatCaps(caps map[string]string) string {
	if len(caps) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(caps))
	for k := range caps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + caps[k]
	}
	return strings.Join(parts, ",")
}

func init() {
	storeCmd.AddCommand(storeListCmd)
}

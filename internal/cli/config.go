package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jvs-project/volsnap/pkg/config"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Manage volsnap configuration",
	Long: `Manage the volsnap configuration file (volsnap.yaml by default).

Available commands:
  init              - Write a starter configuration
  show              - Show the effective configuration`,
	DisableFlagsInUseLine: true,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration",
	Long: `Write a configuration with one primary and one image store rooted next to
the config file. An existing file is kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !configForce {
			return errclass.ErrInvalidParameter.WithMessagef("%s already exists (use --force to overwrite)", configPath)
		}
		cfg := config.Default()
		cfg.Stores = []config.StoreConfig{
			{ID: 1, UUID: "primary-1", Name: "primary", Role: model.RolePrimary, DataCenterID: 1, Root: "stores/primary", Engine: "auto"},
			{ID: 2, UUID: "image-1", Name: "image", Role: model.RoleImage, DataCenterID: 1, Root: "stores/image", Engine: "auto"},
		}
		if err := config.Save(configPath, cfg); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cfg)
		}
		fmt.Printf("Wrote %s\n", configPath)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cfg)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("# %s\n", configPath)
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
}

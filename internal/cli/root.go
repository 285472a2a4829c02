package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jvs-project/volsnap/pkg/color"
	"github.com/jvs-project/volsnap/pkg/config"
	"github.com/jvs-project/volsnap/pkg/progress"
)

var (
	jsonOutput bool
	noColor    bool
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "volsnap",
		Short: "volsnap - volume snapshot orchestration",
		Long: `volsnap drives volume snapshots through their lifecycle: taking them on
the primary store, backing them up to an image store as full or delta copies,
reverting volumes and deleting snapshots without breaking delta chains.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(noColor)
		},
	}
)

func init() {
	addGlobalFlags(rootCmd)
	rootCmd.AddCommand(volumeCmd, snapshotCmd, storeCmd, gcCmd, verifyCmd, doctorCmd, auditCmd, configCmd, metricsCmd)
}

func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFileName, "path to the config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmtErr("%v", err)
		os.Exit(1)
	}
}

// outputJSON prints v as JSON if --json flag is set, otherwise does nothing.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// progressBar draws on stderr for interactive, non-JSON output.
func progressBar() *progress.Terminal {
	return progress.NewTerminal(os.Stderr, !jsonOutput && color.Enabled())
}

func fmtErr(format string, args ...any) {
	prefix := "volsnap: "
	if color.Enabled() {
		prefix = color.Error("volsnap:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}

package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var flagConfig string

// defaultConfig returns the config path, checking LANESCHED_CONFIG first.
func defaultConfig() string {
	if s := os.Getenv("LANESCHED_CONFIG"); s != "" {
		return s
	}
	return "./config.json"
}

// NewRootCmd creates the root cobra command. Without a subcommand it runs
// the daemon.
func NewRootCmd() *cobra.Command {
	run := newRunCmd()
	root := &cobra.Command{
		Use:          "lanesched",
		Short:        "Serial-lane job scheduler daemon",
		Long:         "lanesched runs config-declared jobs on a single serializing scheduler lane.",
		Args:         cobra.NoArgs,
		RunE:         run.RunE,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfig(), "path to config json/yaml (or LANESCHED_CONFIG env)")

	root.AddCommand(
		run,
		newValidateCmd(),
		newRunsCmd(),
	)
	return root
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lanesched/internal/app"
	"lanesched/internal/jobs"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and print the parsed jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(flagConfig)
			if err != nil {
				return fmt.Errorf("invalid config %s: %w", flagConfig, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config: %s\n", flagConfig)
			fmt.Fprintf(out, "  Jobs:  %d\n", len(cfg.Jobs))
			for _, j := range cfg.Jobs {
				spec, _ := jobs.ParseSchedule(j.Schedule)
				state := ""
				if j.Disabled {
					state = " (disabled)"
				}
				fmt.Fprintf(out, "    - %s: %s %s%s\n", j.Name, spec.Kind, describe(spec), state)
			}
			return nil
		},
	}
}

func describe(spec jobs.ParsedSpec) string {
	switch spec.Kind {
	case jobs.SpecInterval:
		return "every " + spec.Every.String()
	case jobs.SpecOnce:
		return "after " + spec.After.String()
	default:
		return spec.Cron
	}
}

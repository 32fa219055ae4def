package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lanesched/internal/app"
	"lanesched/internal/storage"
	logx "lanesched/pkg/logx"
)

func newRunsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "runs <job>",
		Short: "List the most recent runs of a job from the run journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(flagConfig)
			if err != nil {
				return fmt.Errorf("invalid config %s: %w", flagConfig, err)
			}
			st, err := app.OpenStore(cfg, logx.Nop())
			if errors.Is(err, storage.ErrDisabled) {
				return errors.New("storage is not configured; no run journal to read")
			}
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			runs, err := st.RecentRuns(ctx, args[0], n)
			if err != nil {
				return fmt.Errorf("read runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintf(out, "No runs recorded for %s\n", args[0])
				return nil
			}
			for _, r := range runs {
				status := "ok"
				if r.Error != "" {
					status = "error: " + r.Error
				}
				fmt.Fprintf(out, "%s  #%-5d %-8s %10s  %s\n",
					r.StartedAt.Format(time.RFC3339), r.Seq, r.Kind, r.Took.Round(time.Microsecond), status)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "number of runs to show")
	return cmd
}

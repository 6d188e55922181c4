package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/qaframe/internal/observability"
	"github.com/xkilldash9x/qaframe/internal/store"
)

// newHistoryCmd creates the `history` command, which lists recorded runs.
func newHistoryCmd() *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists recent suite runs from the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database URL is not configured (QAFRAME_DATABASE_URL)")
			}

			dbStore, closeStore, err := store.Connect(ctx, cfg.Database.URL, observability.GetLogger())
			if err != nil {
				return err
			}
			defer closeStore()

			runs, err := dbStore.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list.")
	return historyCmd
}

func printHistory(w io.Writer, runs []store.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSUITE\tSTARTED\tDURATION\tPASSED\tFAILED\tSKIPPED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, r.Suite, r.StartedAt.Local().Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second), r.Passed, r.Failed, r.Skipped)
	}
	_ = tw.Flush()
}

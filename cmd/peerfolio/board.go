package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/peerfolio/valuation/internal/leaderboard"
)

func newLeaderboardCmd() *cobra.Command {
	var flagMetric string

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank users by portfolio gain",
		Long:  "Values every user with at least one lot and ranks them by total, daily or weekly gain.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			metric, err := leaderboard.ParseMetric(flagMetric)
			if err != nil {
				return err
			}

			rt, err := newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.close()

			entries, err := rt.board.Build(cmd.Context(), metric)
			if err != nil {
				return err
			}

			if wantJSON() {
				return printJSON(entries)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "RANK\tUSER\tVALUE\tTOTAL\tDAILY\tWEEKLY\n")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%.2f\t%+.2f (%+.1f%%)\t%+.2f (%+.1f%%)\t%+.2f (%+.1f%%)\n",
					e.Rank, e.UserID, e.CurrentValue,
					e.TotalGain, e.TotalGainPercent,
					e.DailyGain, e.DailyGainPercent,
					e.WeeklyGain, e.WeeklyGainPercent)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&flagMetric, "metric", "total", "Ranking metric: total, daily or weekly")
	return cmd
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newSeriesCmd() *cobra.Command {
	var (
		flagLookback int
		flagRefresh  bool
		flagForce    bool
	)

	cmd := &cobra.Command{
		Use:   "series <user-id>",
		Short: "Build a user's performance series",
		Long:  "Builds the chronological valuation series over the lookback window: today plus weekly points walking back, weekend points shifted to the preceding Friday.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse user id: %w", err)
			}

			rt, err := newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.close()

			s, err := rt.service.GetPerformanceSeries(cmd.Context(), userID, flagLookback, flagForce, flagRefresh)
			if err != nil {
				return err
			}

			if wantJSON() {
				return printJSON(s)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "DATE\tVALUE\n")
			for _, p := range s.Points {
				fmt.Fprintf(w, "%s\t%.2f\n", p.Date, p.TotalValue)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("generated %s, %d points over %d days\n",
				s.GeneratedAt.Format("2006-01-02 15:04:05 MST"), len(s.Points), s.LookbackDays)
			return nil
		},
	}

	cmd.Flags().IntVar(&flagLookback, "lookback", 30, "Lookback window in days")
	cmd.Flags().BoolVar(&flagRefresh, "refresh", false, "Recompute today's point, keep cached history")
	cmd.Flags().BoolVar(&flagForce, "force", false, "Recompute every point, bypassing caches")
	return cmd
}

package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/peerfolio/valuation/internal/dates"
)

func newValueCmd() *cobra.Command {
	var (
		flagDate  string
		flagForce bool
	)

	cmd := &cobra.Command{
		Use:   "value <user-id>",
		Short: "Value a user's portfolio as of a date",
		Long:  "Computes the total portfolio value for one user, as of today or a given date, through the engine's cache and price fallback rules.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse user id: %w", err)
			}

			on := dates.Today()
			if flagDate != "" {
				if on, err = dates.Parse(flagDate); err != nil {
					return err
				}
			}

			rt, err := newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.close()

			res, err := rt.service.GetPortfolioValue(cmd.Context(), userID, on, flagForce)
			if err != nil {
				return err
			}

			if wantJSON() {
				return printJSON(res)
			}
			fmt.Printf("%s  %s  %.2f\n", userID, res.Date, res.TotalValue)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagDate, "date", "", "Valuation date, YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&flagForce, "force", false, "Recompute today's value instead of serving the cached one")
	return cmd
}

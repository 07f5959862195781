package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/peerfolio/valuation/internal/dates"
	"github.com/peerfolio/valuation/internal/lots"
	"github.com/peerfolio/valuation/internal/symbols"
)

func newLotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lots",
		Short: "Manage a user's lots",
		Long:  "Lists and mutates lots. Every mutation invalidates the user's cached series and valuations, so the next read reflects the changed holdings.",
	}
	cmd.AddCommand(newLotsListCmd(), newLotsAddCmd(), newLotsRemoveCmd())
	return cmd
}

func newLotsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's lots",
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

			ls, err := rt.store.ListLots(cmd.Context(), userID)
			if err != nil {
				return err
			}

			if wantJSON() {
				return printJSON(ls)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tSYMBOL\tQTY\tAVG PRICE\tPURCHASED\n")
			for _, l := range ls {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
					l.ID, l.Symbol, l.Quantity, l.PurchasePrice, l.PurchaseDate)
			}
			return w.Flush()
		},
	}
}

func newLotsAddCmd() *cobra.Command {
	var (
		flagQty    float64
		flagPrice  string
		flagDate   string
		flagCrypto bool
	)

	cmd := &cobra.Command{
		Use:   "add <user-id> <symbol>",
		Short: "Record a buy, merging into an existing lot of the same symbol",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse user id: %w", err)
			}
			price, err := decimal.NewFromString(flagPrice)
			if err != nil {
				return fmt.Errorf("parse price: %w", err)
			}

			purchased := dates.Today()
			if flagDate != "" {
				if purchased, err = dates.Parse(flagDate); err != nil {
					return err
				}
			}

			sym := args[1]
			if flagCrypto {
				sym = symbols.Crypto(sym)
			}

			rt, err := newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.close()

			l, err := rt.store.AddLot(cmd.Context(), userID, lots.NewLot{
				Symbol:        sym,
				Quantity:      flagQty,
				PurchasePrice: price,
				PurchaseDate:  purchased,
			})
			if err != nil {
				return err
			}
			if err := rt.service.InvalidateUserCaches(cmd.Context(), userID); err != nil {
				return err
			}

			if wantJSON() {
				return printJSON(l)
			}
			fmt.Printf("lot %s: %v %s at %s\n", l.ID, l.Quantity, l.Symbol, l.PurchasePrice)
			return nil
		},
	}

	cmd.Flags().Float64Var(&flagQty, "qty", 0, "Quantity bought")
	cmd.Flags().StringVar(&flagPrice, "price", "", "Purchase price per unit")
	cmd.Flags().StringVar(&flagDate, "date", "", "Purchase date, YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&flagCrypto, "crypto", false, "Treat the symbol as a crypto asset")
	_ = cmd.MarkFlagRequired("qty")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newLotsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <user-id> <lot-id>",
		Short: "Delete one lot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse user id: %w", err)
			}
			lotID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("parse lot id: %w", err)
			}

			rt, err := newRuntime(true)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.store.DeleteLot(cmd.Context(), userID, lotID); err != nil {
				return err
			}
			if err := rt.service.InvalidateUserCaches(cmd.Context(), userID); err != nil {
				return err
			}

			fmt.Printf("lot %s removed\n", lotID)
			return nil
		},
	}
}

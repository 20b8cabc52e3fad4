package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/stock-ledger/ledger"
)

func newStockCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Read and correct stock balances",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the quantity of one (branch, warehouse, item)",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.engine.GetStockQuantity(cmd.Context(), stockKeyFrom(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), q.String())
			return nil
		},
	}
	stockKeyFlags(get)

	list := &cobra.Command{
		Use:   "list",
		Short: "List a branch's stock balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			branch, _ := cmd.Flags().GetString("branch")
			balances, err := a.engine.StockBalances(cmd.Context(), ledger.BranchID(branch))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WAREHOUSE\tITEM\tQUANTITY")
			for _, b := range balances {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", b.Key.WarehouseID, b.Key.ItemID, b.Quantity)
			}
			return tw.Flush()
		},
	}
	list.Flags().String("branch", "", "branch id")
	_ = list.MarkFlagRequired("branch")

	movements := &cobra.Command{
		Use:   "movements",
		Short: "Print the movement history of one stock key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := a.engine.Movements(cmd.Context(), stockKeyFrom(cmd))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tDELTA\tBALANCE\tREF")
			for _, m := range ms {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Delta, m.Balance, m.Ref)
			}
			return tw.Flush()
		},
	}
	stockKeyFlags(movements)

	correct := &cobra.Command{
		Use:   "correct",
		Short: "Set a balance to a counted quantity, recording an adjustment",
		Example: `  ledgerctl stock correct --branch br-1 --warehouse wh-1 --item item-a \
    --target 48 --reason "cycle count" --actor emp-2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targetStr, _ := cmd.Flags().GetString("target")
			reason, _ := cmd.Flags().GetString("reason")
			target, err := ledger.ParseQuantity(targetStr)
			if err != nil {
				return err
			}
			adj, err := a.engine.CorrectStock(cmd.Context(), stockKeyFrom(cmd), target, reason, a.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, viewAdjustment(adj))
		},
	}
	stockKeyFlags(correct)
	correct.Flags().String("target", "", "counted quantity")
	correct.Flags().String("reason", "", "why the balance is being corrected")
	_ = correct.MarkFlagRequired("target")
	_ = correct.MarkFlagRequired("reason")

	cmd.AddCommand(get, list, movements, correct)
	return cmd
}

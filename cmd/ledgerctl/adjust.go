package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/warp/stock-ledger/ledger"
)

func newAdjustCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adjust",
		Short: "Record and list audit-log adjustments",
	}

	record := &cobra.Command{
		Use:   "record <table> <reference-id>",
		Short: "Append an adjustment against any referenced row",
		Long: `Appends an adjustment without changing the referenced row. Tables:
transactions, transaction_items, stock_balances, cash_drawer_daily, expenses.`,
		Example: `  ledgerctl adjust record expenses exp-7 --type data_correction \
    --old '{"ledger":"rent"}' --new '{"ledger":"utilities"}' --reason "miscoded"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, _ := cmd.Flags().GetString("type")
			oldValue, _ := cmd.Flags().GetString("old")
			newValue, _ := cmd.Flags().GetString("new")
			reason, _ := cmd.Flags().GetString("reason")
			adj, err := a.engine.RecordAdjustment(cmd.Context(),
				ledger.RefTable(args[0]), args[1], ledger.AdjustmentType(typ),
				json.RawMessage(oldValue), json.RawMessage(newValue), reason, a.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, viewAdjustment(adj))
		},
	}
	record.Flags().String("type", string(ledger.AdjustDataCorrection), "adjustment type")
	record.Flags().String("old", "null", "JSON snapshot before")
	record.Flags().String("new", "null", "JSON snapshot after")
	record.Flags().String("reason", "", "why")
	_ = record.MarkFlagRequired("reason")

	list := &cobra.Command{
		Use:   "list <table> <reference-id>",
		Short: "List adjustments of one referenced row, oldest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := ledger.ParseReference(ledger.RefTable(args[0]), args[1])
			if err != nil {
				return err
			}
			adjs, err := a.engine.Adjustments(cmd.Context(), ref)
			if err != nil {
				return err
			}
			views := make([]adjustmentView, 0, len(adjs))
			for i := range adjs {
				views = append(views, viewAdjustment(&adjs[i]))
			}
			return printJSON(cmd, views)
		},
	}

	cmd.AddCommand(record, list)
	return cmd
}

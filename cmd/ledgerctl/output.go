package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/stock-ledger/ledger"
)

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func stockKeyFlags(cmd *cobra.Command) {
	cmd.Flags().String("branch", "", "branch id")
	cmd.Flags().String("warehouse", "", "warehouse id")
	cmd.Flags().String("item", "", "item id")
	_ = cmd.MarkFlagRequired("branch")
	_ = cmd.MarkFlagRequired("warehouse")
	_ = cmd.MarkFlagRequired("item")
}

func stockKeyFrom(cmd *cobra.Command) ledger.StockKey {
	b, _ := cmd.Flags().GetString("branch")
	w, _ := cmd.Flags().GetString("warehouse")
	i, _ := cmd.Flags().GetString("item")
	return ledger.StockKey{BranchID: ledger.BranchID(b), WarehouseID: ledger.WarehouseID(w), ItemID: ledger.ItemID(i)}
}

// dateFlag reads --date, defaulting to the engine's business today.
func (a *app) dateFlag(cmd *cobra.Command) (ledger.Date, error) {
	s, _ := cmd.Flags().GetString("date")
	if s == "" {
		return a.engine.Today(), nil
	}
	return ledger.ParseDate(s)
}

type adjustmentView struct {
	ID        ledger.AdjustmentID   `json:"id"`
	Table     ledger.RefTable       `json:"reference_table"`
	RefID     string                `json:"reference_id"`
	Type      ledger.AdjustmentType `json:"adjustment_type"`
	OldValue  json.RawMessage       `json:"old_value"`
	NewValue  json.RawMessage       `json:"new_value"`
	Reason    string                `json:"reason"`
	CreatedBy ledger.PartyID        `json:"created_by"`
	CreatedAt string                `json:"created_at"`
}

func viewAdjustment(adj *ledger.Adjustment) adjustmentView {
	return adjustmentView{
		ID:        adj.ID,
		Table:     adj.Ref.Table(),
		RefID:     adj.Ref.ID(),
		Type:      adj.Type,
		OldValue:  adj.OldValue,
		NewValue:  adj.NewValue,
		Reason:    adj.Reason,
		CreatedBy: adj.CreatedBy,
		CreatedAt: adj.CreatedAt.Format(time.RFC3339),
	}
}

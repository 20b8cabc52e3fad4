package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/stock-ledger/ledger"
)

func newTxnCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "txn",
		Short: "Create, transition and audit transactions",
	}

	create := &cobra.Command{
		Use:   "create <file.json|->",
		Short: "Create a transaction in status booked",
		Long: `Reads a transaction as JSON from a file, or from stdin when the
argument is "-". Amounts and quantities are decimal strings.`,
		Example: `  echo '{"branch_id":"br-1","party_id":"sup-1","type":"purchase",
    "items":[{"item_id":"item-a","warehouse_id":"wh-1","quantity":"10","unit_price":"25.00"}]}' \
    | ledgerctl txn create -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in ledger.NewTransaction
			if err := readJSON(cmd, args[0], &in); err != nil {
				return err
			}
			t, err := a.engine.CreateTransaction(cmd.Context(), in, a.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}

	transition := &cobra.Command{
		Use:   "transition <id> <status>",
		Short: "Move a transaction to a new status, applying its stock effects",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ledger.Status(args[1])
			if !target.Valid() {
				return fmt.Errorf("unknown status %q", args[1])
			}
			t, err := a.engine.TransitionTransaction(cmd.Context(), ledger.TransactionID(args[0]), target, a.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.engine.Transaction(cmd.Context(), ledger.TransactionID(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}

	audit := &cobra.Command{
		Use:   "audit <id>",
		Short: "Mark a transaction as audited by the actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.engine.AuditTransaction(cmd.Context(), ledger.TransactionID(args[0]), a.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, t)
		},
	}

	price := &cobra.Command{
		Use:   "correct-price <id> <line-no> <unit-price>",
		Short: "Correct one line's unit price, recording an adjustment",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lineNo int
			if _, err := fmt.Sscan(args[1], &lineNo); err != nil {
				return fmt.Errorf("line number %q: %w", args[1], err)
			}
			p, err := ledger.ParseMoney(args[2])
			if err != nil {
				return err
			}
			reason, _ := cmd.Flags().GetString("reason")
			adj, err := a.engine.CorrectLinePrice(cmd.Context(), ledger.TransactionID(args[0]), lineNo, p, reason, a.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, viewAdjustment(adj))
		},
	}
	price.Flags().String("reason", "", "why the price is being corrected")
	_ = price.MarkFlagRequired("reason")

	cmd.AddCommand(create, transition, show, audit, price)
	return cmd
}

func readJSON(cmd *cobra.Command, path string, v any) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

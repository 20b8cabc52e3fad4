package main

import (
	"github.com/spf13/cobra"

	"github.com/warp/stock-ledger/ledger"
)

func newDrawerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drawer",
		Short: "Run the daily cash drawer cycle",
		Long: `Open, reconcile, audit and reopen a branch's cash drawer for one
business date. --date defaults to today in TIMEZONE.`,
	}

	day := func(use, short string, run func(cmd *cobra.Command, branch ledger.BranchID, date ledger.Date) (any, error)) *cobra.Command {
		c := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				branch, _ := cmd.Flags().GetString("branch")
				date, err := a.dateFlag(cmd)
				if err != nil {
					return err
				}
				out, err := run(cmd, ledger.BranchID(branch), date)
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			},
		}
		c.Flags().String("branch", "", "branch id")
		c.Flags().String("date", "", "business date (YYYY-MM-DD)")
		_ = c.MarkFlagRequired("branch")
		return c
	}

	open := day("open", "Create the day's drawer with the carried-over opening cash",
		func(cmd *cobra.Command, b ledger.BranchID, d ledger.Date) (any, error) {
			return a.engine.OpenCashDrawer(cmd.Context(), b, d, a.actor)
		})

	reconcile := day("reconcile", "Record the counted closing cash",
		func(cmd *cobra.Command, b ledger.BranchID, d ledger.Date) (any, error) {
			s, _ := cmd.Flags().GetString("closing")
			closing, err := ledger.ParseMoney(s)
			if err != nil {
				return nil, err
			}
			return a.engine.ReconcileCashDrawer(cmd.Context(), b, d, closing, a.actor)
		})
	reconcile.Flags().String("closing", "", "counted closing cash")
	_ = reconcile.MarkFlagRequired("closing")

	audit := day("audit", "Stamp the reconciled day as audited",
		func(cmd *cobra.Command, b ledger.BranchID, d ledger.Date) (any, error) {
			return a.engine.AuditCashDrawer(cmd.Context(), b, d, a.actor)
		})

	reopen := day("reopen", "Allow an audited day to be reconciled again",
		func(cmd *cobra.Command, b ledger.BranchID, d ledger.Date) (any, error) {
			reason, _ := cmd.Flags().GetString("reason")
			adj, err := a.engine.ReopenCashDrawer(cmd.Context(), b, d, reason, a.actor)
			if err != nil {
				return nil, err
			}
			return viewAdjustment(adj), nil
		})
	reopen.Flags().String("reason", "", "why the day is reopened")
	_ = reopen.MarkFlagRequired("reason")

	show := day("show", "Print the day's drawer",
		func(cmd *cobra.Command, b ledger.BranchID, d ledger.Date) (any, error) {
			return a.engine.CashDrawerDay(cmd.Context(), b, d)
		})

	cmd.AddCommand(open, reconcile, audit, reopen, show)
	return cmd
}

func newExpenseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expense",
		Short: "Record an expense against a branch",
		Example: `  ledgerctl expense --branch br-1 --ledger rent --amount 1500.00 --payment-method pm-bank`,
		RunE: func(cmd *cobra.Command, args []string) error {
			branch, _ := cmd.Flags().GetString("branch")
			ledgerName, _ := cmd.Flags().GetString("ledger")
			amountStr, _ := cmd.Flags().GetString("amount")
			method, _ := cmd.Flags().GetString("payment-method")
			notes, _ := cmd.Flags().GetString("notes")
			date, err := a.dateFlag(cmd)
			if err != nil {
				return err
			}
			amount, err := ledger.ParseMoney(amountStr)
			if err != nil {
				return err
			}
			e, err := a.engine.RecordExpense(cmd.Context(), ledger.NewExpense{
				BranchID:        ledger.BranchID(branch),
				Ledger:          ledgerName,
				Amount:          amount,
				PaymentMethodID: ledger.PaymentMethodID(method),
				Notes:           notes,
				BusinessDate:    date,
			}, a.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, e)
		},
	}
	cmd.Flags().String("branch", "", "branch id")
	cmd.Flags().String("ledger", "", "expense ledger, e.g. rent")
	cmd.Flags().String("amount", "", "amount")
	cmd.Flags().String("payment-method", "", "payment method id")
	cmd.Flags().String("notes", "", "free text")
	cmd.Flags().String("date", "", "business date (YYYY-MM-DD)")
	for _, f := range []string{"branch", "ledger", "amount", "payment-method"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

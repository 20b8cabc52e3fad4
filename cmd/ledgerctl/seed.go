package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/warp/stock-ledger/ledger"
)

// seedFile is the master-data document read by "ledgerctl seed".
type seedFile struct {
	Branches       []ledger.Branch        `yaml:"branches"`
	Warehouses     []ledger.Warehouse     `yaml:"warehouses"`
	Items          []seedItem             `yaml:"items"`
	Parties        []ledger.Party         `yaml:"parties"`
	PaymentMethods []ledger.PaymentMethod `yaml:"payment_methods"`
}

type seedItem struct {
	ledger.Item `yaml:",inline"`
	TaxPercent  string `yaml:"tax_percent"`
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Upsert branches, warehouses, items, parties and payment methods",
		Long: `Reads a YAML master-data file and upserts every row it names.
Rows are written in dependency order; seeding the same file twice is harmless.`,
		Example: `  ledgerctl seed testdata/master.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			var f seedFile
			if err := yaml.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("parse seed file %s: %w", args[0], err)
			}
			if err := a.seed(cmd, f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d branches, %d warehouses, %d items, %d parties, %d payment methods\n",
				len(f.Branches), len(f.Warehouses), len(f.Items), len(f.Parties), len(f.PaymentMethods))
			return nil
		},
	}
}

func (a *app) seed(cmd *cobra.Command, f seedFile) error {
	ctx := cmd.Context()
	w := a.backend

	for _, b := range f.Branches {
		if err := w.SaveBranch(ctx, b); err != nil {
			return fmt.Errorf("save branch %s: %w", b.ID, err)
		}
	}
	for _, wh := range f.Warehouses {
		if err := w.SaveWarehouse(ctx, wh); err != nil {
			return fmt.Errorf("save warehouse %s: %w", wh.ID, err)
		}
	}
	for _, it := range f.Items {
		item := it.Item
		if it.TaxPercent != "" {
			p, err := ledger.ParsePercent(it.TaxPercent)
			if err != nil {
				return fmt.Errorf("item %s: %w", item.ID, err)
			}
			item.TaxPercent = &p
		}
		if err := w.SaveItem(ctx, item); err != nil {
			return fmt.Errorf("save item %s: %w", item.ID, err)
		}
	}
	for _, p := range f.Parties {
		if err := w.SaveParty(ctx, p); err != nil {
			return fmt.Errorf("save party %s: %w", p.ID, err)
		}
	}
	for _, pm := range f.PaymentMethods {
		if err := w.SavePaymentMethod(ctx, pm); err != nil {
			return fmt.Errorf("save payment method %s: %w", pm.ID, err)
		}
	}

	a.log.Info().
		Int("branches", len(f.Branches)).
		Int("items", len(f.Items)).
		Int("parties", len(f.Parties)).
		Msg("master data seeded")
	return nil
}

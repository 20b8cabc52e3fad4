/*
ledgerctl - command-line access to the stock ledger

PURPOSE:
  Operates the ledger engine against a configured store: seeds master
  data, creates and transitions transactions, corrects stock, runs the
  daily cash drawer cycle and hosts the drawer scheduler.

CONFIGURATION:
  Environment variables, optionally from --env-file (see package config).
  --actor sets the party recorded on every write.

EXAMPLES:
  ledgerctl seed testdata/master.yaml
  ledgerctl txn create purchase.json
  ledgerctl txn transition <id> billed
  ledgerctl stock get --branch br-1 --warehouse wh-1 --item item-a
  ledgerctl drawer reconcile --branch br-1 --date 2024-03-15 --closing 480.00
  ledgerctl schedule
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		a.log.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

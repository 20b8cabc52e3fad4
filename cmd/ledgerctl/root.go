package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/stock-ledger/config"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/store"
	"github.com/warp/stock-ledger/lock"
	"github.com/warp/stock-ledger/logger"
	"github.com/warp/stock-ledger/store/postgres"
	"github.com/warp/stock-ledger/store/sqlite"
)

var version = "0.1.0"

// app is what every subcommand runs against.
type app struct {
	cfg     *config.Config
	backend ledger.Backend
	engine  *ledger.Engine
	actor   ledger.Actor
	log     zerolog.Logger
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{log: zerolog.Nop()}
	var (
		envFile string
		actorID string
		role    string
	)

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the stock ledger and cash drawer engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if err := logger.Setup(cfg.Log); err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.WithComponent("ledgerctl")
			a.actor = ledger.Actor{PartyID: ledger.PartyID(actorID), Role: role}
			return a.open(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment from this file (default .env when present)")
	root.PersistentFlags().StringVar(&actorID, "actor", "system", "party id recorded as the actor of writes")
	root.PersistentFlags().StringVar(&role, "role", "", "role of the actor, recorded for reference only")

	root.AddCommand(
		newSeedCmd(a),
		newStockCmd(a),
		newTxnCmd(a),
		newAdjustCmd(a),
		newDrawerCmd(a),
		newExpenseCmd(a),
		newScheduleCmd(a),
	)
	return root, a
}

// open connects the configured store and locker and builds the engine.
func (a *app) open(ctx context.Context) error {
	cfg := a.cfg

	switch cfg.Store.Backend {
	case "memory":
		a.backend = store.NewMemory()
	case "sqlite":
		s, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		a.backend = s
	case "postgres":
		s, err := postgres.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		a.backend = s
	default:
		return fmt.Errorf("unknown store %q", cfg.Store.Backend)
	}
	a.closers = append(a.closers, a.backend.Close)

	var locker ledger.Locker
	switch cfg.Lock.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Lock.RedisAddress})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("connect redis %s: %w", cfg.Lock.RedisAddress, err)
		}
		a.closers = append(a.closers, client.Close)
		lockLog := logger.WithComponent("lock")
		locker = lock.NewRedisLocker(client, lock.RedisOptions{
			Attempts: cfg.Lock.Attempts,
			Backoff:  cfg.Lock.Backoff,
			Logger:   &lockLog,
		})
	default:
		locker = ledger.NewKeyedLocker(cfg.Lock.Attempts, cfg.Lock.Backoff)
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	engineLog := logger.WithComponent("ledger")
	a.engine = ledger.New(a.backend, ledger.Options{
		NegativeStock: cfg.Ledger.NegativeStock,
		Locker:        locker,
		Location:      loc,
		MaxAttempts:   cfg.Ledger.MaxAttempts,
		Logger:        &engineLog,
	})

	a.log.Debug().
		Str("store", cfg.Store.Backend).
		Str("lock", cfg.Lock.Backend).
		Str("timezone", loc.String()).
		Msg("engine ready")
	return nil
}

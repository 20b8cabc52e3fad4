/*
Package scheduler opens each day's cash drawers on a cron schedule.

PURPOSE:
  A drawer row carries the opening cash forward from the previous day.
  Opening it early in the day, before the first reconciliation, fixes the
  opening amount at a predictable moment. Open is idempotent, so a run that
  overlaps a manual open or a previous run changes nothing.

DESIGN:
  - robfig/cron triggers RunOnce on the configured schedule, in the
    engine's business-date location
  - RunOnce lists active branches and opens their drawers concurrently
    (errgroup, bounded by Concurrency)
  - one branch failing does not stop the others; failures are logged and
    returned joined

USAGE:
  s, err := scheduler.New(eng, store, scheduler.Options{Schedule: "5 0 * * *"})
  s.Start()
  defer s.Stop()
*/
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/stock-ledger/ledger"
)

const (
	DefaultSchedule    = "5 0 * * *"
	DefaultConcurrency = 4
	DefaultRunTimeout  = 2 * time.Minute
)

// DrawerOpener is the part of ledger.Engine the scheduler drives.
type DrawerOpener interface {
	OpenCashDrawer(ctx context.Context, branch ledger.BranchID, date ledger.Date, actor ledger.Actor) (*ledger.CashDrawerDaily, error)
	Today() ledger.Date
}

type Options struct {
	Schedule    string
	Location    *time.Location
	Actor       ledger.Actor
	Concurrency int
	Timeout     time.Duration
	Logger      *zerolog.Logger
}

// RunResult summarizes one pass over all branches.
type RunResult struct {
	Date    ledger.Date
	Opened  []ledger.BranchID
	Skipped []ledger.BranchID // inactive
	Failed  map[ledger.BranchID]error
}

type Scheduler struct {
	cron      *cron.Cron
	opener    DrawerOpener
	directory ledger.Directory
	opts      Options
	log       zerolog.Logger

	mu      sync.Mutex
	started bool
}

func New(opener DrawerOpener, directory ledger.Directory, opts Options) (*Scheduler, error) {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Actor.PartyID == "" {
		opts.Actor = ledger.SystemActor("system")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRunTimeout
	}

	s := &Scheduler{
		cron:      cron.New(cron.WithLocation(opts.Location)),
		opener:    opener,
		directory: directory,
		opts:      opts,
		log:       zerolog.Nop(),
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	}
	if _, err := s.cron.AddFunc(opts.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", opts.Schedule, err)
	}
	return s, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info().Str("schedule", s.opts.Schedule).Msg("drawer scheduler started")
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	<-s.cron.Stop().Done()
	s.log.Info().Msg("drawer scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	res, err := s.RunOnce(ctx, s.opener.Today())
	if res == nil {
		s.log.Error().Err(err).Msg("drawer run failed")
		return
	}
	s.log.Info().
		Str("date", res.Date.String()).
		Int("opened", len(res.Opened)).
		Int("skipped", len(res.Skipped)).
		Int("failed", len(res.Failed)).
		Msg("drawer run finished")
}

// RunOnce opens date's drawer for every active branch.
func (s *Scheduler) RunOnce(ctx context.Context, date ledger.Date) (*RunResult, error) {
	branches, err := s.directory.Branches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}

	res := &RunResult{Date: date, Failed: make(map[ledger.BranchID]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, b := range branches {
		if !b.IsActive {
			res.Skipped = append(res.Skipped, b.ID)
			continue
		}
		id := b.ID
		g.Go(func() error {
			_, err := s.opener.OpenCashDrawer(gctx, id, date, s.opts.Actor)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Warn().Err(err).Str("branch_id", string(id)).Str("date", date.String()).Msg("failed to open cash drawer")
				res.Failed[id] = err
				return nil
			}
			res.Opened = append(res.Opened, id)
			return nil
		})
	}
	_ = g.Wait()

	if len(res.Failed) == 0 {
		return res, nil
	}
	errs := make([]error, 0, len(res.Failed))
	for id, err := range res.Failed {
		errs = append(errs, fmt.Errorf("branch %s: %w", id, err))
	}
	return res, errors.Join(errs...)
}

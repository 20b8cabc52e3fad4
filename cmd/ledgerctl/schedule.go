package main

import (
	"github.com/spf13/cobra"

	"github.com/warp/stock-ledger/logger"
	"github.com/warp/stock-ledger/scheduler"
)

func newScheduleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Open every active branch's cash drawer on DRAWER_CRON_SCHEDULE",
		Long: `Runs until interrupted. With --once, opens today's drawers a single
time and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			once, _ := cmd.Flags().GetBool("once")
			loc, err := a.cfg.Location()
			if err != nil {
				return err
			}
			log := logger.WithComponent("scheduler")
			s, err := scheduler.New(a.engine, a.backend, scheduler.Options{
				Schedule: a.cfg.Scheduler.CronSchedule,
				Location: loc,
				Actor:    a.actor,
				Logger:   &log,
			})
			if err != nil {
				return err
			}

			if once {
				res, err := s.RunOnce(cmd.Context(), a.engine.Today())
				if res == nil {
					return err
				}
				failed := make(map[string]string, len(res.Failed))
				for id, ferr := range res.Failed {
					failed[string(id)] = ferr.Error()
				}
				if perr := printJSON(cmd, map[string]any{
					"date":    res.Date,
					"opened":  res.Opened,
					"skipped": res.Skipped,
					"failed":  failed,
				}); perr != nil {
					return perr
				}
				return err
			}

			s.Start()
			<-cmd.Context().Done()
			s.Stop()
			return nil
		},
	}
	cmd.Flags().Bool("once", false, "run a single pass for today and exit")
	return cmd
}

package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"blog-monitor/pkg/server"
)

func newRunCommand(opts *options) *cobra.Command {
	var (
		now     bool
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and the ops server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return opts.withApp(ctx, func(a *app) error {
				if migrate {
					if err := a.store.Migrate(ctx); err != nil {
						return err
					}
				}

				sched := a.scheduler(a.coordinator())
				if err := sched.Start(ctx); err != nil {
					return err
				}
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
					defer cancel()
					if err := sched.Stop(stopCtx); err != nil {
						a.logger.Warn("Scheduler did not stop cleanly", zap.Error(err))
					}
				}()

				if now {
					go func() {
						if _, err := sched.RunNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
							a.logger.Warn("Initial check skipped", zap.Error(err))
						}
					}()
				}

				srv := server.New(a.cfg.Server.Addr, a.store, sched, a.metrics.Registry(), a.logger)
				return srv.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "run a check cycle immediately instead of waiting for the first tick")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the database schema before starting")
	return cmd
}

func newCheckCommand(opts *options) *cobra.Command {
	var sourceID int64
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one check cycle now",
		Long: `Check every usable source without an open ticket for new posts.
With --source only that source is checked, whatever its health; a source
with an open ticket is refused until the ticket is resolved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				var id *int64
				if sourceID > 0 {
					id = &sourceID
				}
				res := a.coordinator().CheckAll(cmd.Context(), id)
				renderCycle(opts.out, res)
				return res.Err
			})
		},
	}
	cmd.Flags().Int64Var(&sourceID, "source", 0, "check only this source id")
	return cmd
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withStore(cmd.Context(), func(a *app) error {
				if err := a.store.Migrate(cmd.Context()); err != nil {
					return err
				}
				a.logger.Info("Database schema is up to date", zap.String("driver", a.cfg.Database.Driver))
				return nil
			})
		},
	}
}

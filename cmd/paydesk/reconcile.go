package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/migration"
	"github.com/smallbiznis/paydesk/internal/payment"
	"github.com/smallbiznis/paydesk/internal/payment/reconcile"
	"github.com/smallbiznis/paydesk/internal/ratelimit"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func reconcileCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve stale pending payments against the processor once",
		Long: `Resolve pending payments older than --older-than.

Payments whose checkout session never got created are marked failed, paid
sessions are settled and expired sessions are marked failed. Everything else
is left pending.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var reconciler *reconcile.Reconciler
			app := fx.New(
				fx.NopLogger,
				infrastructure(),
				// The interval loop belongs to serve.
				fx.Decorate(func(cfg config.Config) config.Config {
					cfg.Reconcile.Enabled = false
					return cfg
				}),
				migration.Module,
				ratelimit.Module,
				payment.Module,
				fx.Populate(&reconciler),
			)
			return runOnce(app, func(ctx context.Context) error {
				age := olderThan
				if age <= 0 {
					age = reconciler.PendingAfter()
				}
				summary, err := reconciler.RunOnce(ctx, age)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"examined=%d paid=%d failed=%d unchanged=%d errors=%d\n",
					summary.Examined, summary.MarkedPaid, summary.MarkedFailed, summary.Unchanged, summary.Errors,
				)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only pending payments created before now minus this age (default RECONCILE_PENDING_AFTER)")
	return cmd
}

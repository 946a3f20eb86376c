package reconcile

import (
	"context"

	"github.com/smallbiznis/paydesk/internal/config"
	"go.uber.org/fx"
)

// Start runs the sweep loop for the life of the app when enabled. Stop waits
// for the loop to return.
func Start(lc fx.Lifecycle, cfg config.Config, r *Reconciler) {
	if !cfg.Reconcile.Enabled {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				r.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

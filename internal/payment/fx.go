package payment

import (
	"github.com/smallbiznis/paydesk/internal/payment/adapters"
	"github.com/smallbiznis/paydesk/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
	"github.com/smallbiznis/paydesk/internal/payment/events"
	"github.com/smallbiznis/paydesk/internal/payment/reconcile"
	"github.com/smallbiznis/paydesk/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paydesk/internal/payment/service"
	"github.com/smallbiznis/paydesk/internal/payment/webhook"
	"github.com/smallbiznis/paydesk/internal/ratelimit"
	"go.uber.org/fx"
)

// Module wires the payment services. The reconcile loop only starts when
// enabled in config; the CLI uses the Reconciler directly.
var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(stripe.NewGateway),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(stripe.NewFactory())
	}),
	fx.Provide(events.NewPublisher),
	fx.Provide(paymentservice.NewSettlement),
	fx.Provide(func(s *paymentservice.Settlement) paymentdomain.Settlement { return s }),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
	fx.Provide(func(l *ratelimit.Locker) reconcile.Locker {
		if l == nil {
			return nil
		}
		return l
	}),
	fx.Provide(reconcile.New),
	fx.Invoke(reconcile.Start),
)

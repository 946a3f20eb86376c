package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/paydesk/internal/clock"
	obsmetrics "github.com/smallbiznis/paydesk/internal/observability/metrics"
	"github.com/smallbiznis/paydesk/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SettlementParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       paymentdomain.Repository
	Clock      clock.Clock
	Publisher  paymentdomain.EventPublisher `optional:"true"`
	ObsMetrics *obsmetrics.Metrics          `optional:"true"`
}

// Settlement is the single place payments change status. The webhook, the
// success page and the reconciler all go through it.
type Settlement struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       paymentdomain.Repository
	clock      clock.Clock
	publisher  paymentdomain.EventPublisher
	obsMetrics *obsmetrics.Metrics
}

func NewSettlement(p SettlementParams) *Settlement {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Settlement{
		db:         p.DB,
		log:        p.Log.Named("payment.settlement"),
		repo:       p.Repo,
		clock:      clk,
		publisher:  p.Publisher,
		obsMetrics: p.ObsMetrics,
	}
}

// MarkPaid moves the payment to paid. A payment that is already paid is left
// untouched apart from recording an intent id it did not have yet.
func (s *Settlement) MarkPaid(ctx context.Context, payment *paymentdomain.Payment, intentID string, source string) (bool, error) {
	if payment == nil {
		return false, paymentdomain.ErrPaymentNotFound
	}
	intentID = strings.TrimSpace(intentID)
	var intent *string
	if intentID != "" {
		intent = &intentID
	}

	now := s.clock.Now()
	log := logger.WithContext(ctx, s.log).With(
		zap.String("payment_id", payment.ID.String()),
		zap.String("source", source),
	)

	changed, err := s.repo.MarkPaid(ctx, s.db, payment.ID, intent, now)
	if err != nil {
		return false, err
	}
	if !changed {
		log.Info("payment already paid (idempotent)")
		if intent != nil {
			attached, err := s.repo.AttachPaymentIntent(ctx, s.db, payment.ID, intentID, now)
			if err != nil {
				return false, err
			}
			if attached {
				payment.StripePaymentIntent = intent
			}
		}
		return false, nil
	}

	payment.Status = paymentdomain.StatusPaid
	if payment.StripePaymentIntent == nil {
		payment.StripePaymentIntent = intent
	}
	payment.UpdatedAt = now
	log.Info("payment marked paid", zap.String("payment_intent", intentID))
	s.afterTransition(ctx, payment, source)
	return true, nil
}

// MarkFailed only moves pending payments so a late failure never undoes a
// settled payment.
func (s *Settlement) MarkFailed(ctx context.Context, payment *paymentdomain.Payment, source string) (bool, error) {
	if payment == nil {
		return false, paymentdomain.ErrPaymentNotFound
	}
	now := s.clock.Now()
	log := logger.WithContext(ctx, s.log).With(
		zap.String("payment_id", payment.ID.String()),
		zap.String("source", source),
	)

	changed, err := s.repo.MarkFailed(ctx, s.db, payment.ID, now)
	if err != nil {
		return false, err
	}
	if !changed {
		log.Info("payment not pending, failure ignored")
		return false, nil
	}

	payment.Status = paymentdomain.StatusFailed
	payment.UpdatedAt = now
	log.Info("payment marked failed")
	s.afterTransition(ctx, payment, source)
	return true, nil
}

func (s *Settlement) afterTransition(ctx context.Context, payment *paymentdomain.Payment, source string) {
	s.obsMetrics.RecordPaymentTransition(ctx, string(payment.Status), source)
	if s.publisher == nil {
		return
	}
	event := paymentdomain.StatusChangedEvent{
		PaymentID:       payment.ID,
		UserID:          payment.UserID,
		Status:          payment.Status,
		Source:          source,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		SessionID:       payment.SessionID(),
		PaymentIntentID: payment.PaymentIntentID(),
		OccurredAt:      payment.UpdatedAt,
	}
	if err := s.publisher.PublishStatusChanged(ctx, event); err != nil {
		s.log.Warn("publish payment status failed",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
	}
}

package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paydesk/internal/observability/metrics"
	"github.com/smallbiznis/paydesk/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       paymentdomain.Repository
	Settlement paymentdomain.Settlement
	Adapters   *adapters.Registry
	Cfg        config.Config
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       paymentdomain.Repository
	settlement paymentdomain.Settlement
	adapters   *adapters.Registry
	adapterCfg paymentdomain.AdapterConfig
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		repo:       p.Repo,
		settlement: p.Settlement,
		adapters:   p.Adapters,
		adapterCfg: paymentdomain.AdapterConfig{
			WebhookSecret: p.Cfg.Stripe.WebhookSecret,
			Tolerance:     p.Cfg.Stripe.WebhookTolerance,
		},
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

// IngestWebhook verifies, records and applies one provider delivery.
// Nothing is stored until the signature checks out. Redeliveries of a known
// event are counted and processed again.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*paymentdomain.WebhookResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}

	adapter, err := s.adapters.NewAdapter(provider, s.adapterCfg)
	if err != nil {
		return nil, err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return nil, err
	}
	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("provider", provider),
		zap.String("event_id", event.ProviderEventID),
		zap.String("event_type", event.Type),
	)

	stored, duplicate, err := s.recordEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	if duplicate {
		log.Info("webhook event redelivered", zap.Int("delivery_count", stored.DeliveryCount+1))
	}

	outcome, paymentID, procErr := s.dispatch(ctx, log, event)

	completion := paymentdomain.EventCompletion{
		PaymentID:   paymentID,
		Outcome:     outcome,
		ProcessedAt: s.clock.Now(),
	}
	if procErr != nil {
		msg := procErr.Error()
		completion.ProcessingError = &msg
	}
	if err := s.repo.CompleteEvent(ctx, s.db, stored.ID, completion); err != nil {
		return nil, err
	}
	s.obsMetrics.RecordPaymentEvent(ctx, provider, event.Type, outcome)

	if procErr != nil {
		return nil, procErr
	}
	return &paymentdomain.WebhookResult{
		EventType: event.Type,
		Outcome:   outcome,
		PaymentID: paymentID,
		Duplicate: duplicate,
	}, nil
}

func (s *Service) recordEvent(ctx context.Context, event *paymentdomain.WebhookEvent) (*paymentdomain.EventRecord, bool, error) {
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		DeliveryCount:   1,
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return record, false, nil
	}

	existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, paymentdomain.ErrInvalidEvent
	}
	if err := s.repo.IncrementDelivery(ctx, s.db, existing.ID); err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

func (s *Service) dispatch(ctx context.Context, log *zap.Logger, event *paymentdomain.WebhookEvent) (string, *snowflake.ID, error) {
	switch event.Action {
	case paymentdomain.ActionMarkPaid, paymentdomain.ActionMarkFailed:
		return s.settle(ctx, log, event)
	case paymentdomain.ActionLogOnly:
		return s.logOnly(ctx, log, event)
	default:
		log.Debug("webhook event ignored")
		return paymentdomain.OutcomeIgnored, nil, nil
	}
}

func (s *Service) settle(ctx context.Context, log *zap.Logger, event *paymentdomain.WebhookEvent) (string, *snowflake.ID, error) {
	if !event.HasCorrelationKey() {
		log.Warn("webhook event carries no payment reference")
		return paymentdomain.OutcomeIgnored, nil, nil
	}

	payment, err := s.resolvePayment(ctx, event)
	if err != nil {
		log.Error("resolve payment for webhook failed", zap.Error(err))
		return paymentdomain.OutcomeFailed, nil, err
	}
	if payment == nil {
		log.Warn("webhook references an unknown payment",
			zap.String("metadata_payment_id", event.MetadataPaymentID),
			zap.String("session_id", event.SessionID),
			zap.String("payment_intent", event.PaymentIntentID),
		)
		return paymentdomain.OutcomeRejected, nil, paymentdomain.ErrUnresolvedPayment
	}

	var changed bool
	if event.Action == paymentdomain.ActionMarkPaid {
		changed, err = s.settlement.MarkPaid(ctx, payment, event.PaymentIntentID, paymentdomain.SourceWebhook)
	} else {
		changed, err = s.settlement.MarkFailed(ctx, payment, paymentdomain.SourceWebhook)
	}
	paymentID := payment.ID
	if err != nil {
		log.Error("apply webhook transition failed", zap.String("payment_id", paymentID.String()), zap.Error(err))
		return paymentdomain.OutcomeFailed, &paymentID, err
	}
	if !changed {
		return paymentdomain.OutcomeNoop, &paymentID, nil
	}
	return paymentdomain.OutcomeApplied, &paymentID, nil
}

func (s *Service) logOnly(ctx context.Context, log *zap.Logger, event *paymentdomain.WebhookEvent) (string, *snowflake.ID, error) {
	var paymentID *snowflake.ID
	if event.PaymentIntentID != "" {
		payment, err := s.repo.FindByPaymentIntent(ctx, s.db, event.PaymentIntentID)
		if err != nil {
			log.Warn("refund payment lookup failed", zap.Error(err))
		} else if payment != nil {
			id := payment.ID
			paymentID = &id
		}
	}

	switch event.Type {
	case "charge.refunded":
		fields := []zap.Field{
			zap.String("charge_id", event.ObjectID),
			zap.String("payment_intent", event.PaymentIntentID),
			zap.Int64("amount_refunded", event.AmountRefunded),
		}
		if paymentID != nil {
			fields = append(fields, zap.String("payment_id", paymentID.String()))
		}
		log.Info("charge refunded", fields...)
	case "charge.dispute.created":
		log.Warn("charge disputed",
			zap.String("dispute_id", event.ObjectID),
			zap.String("charge_id", event.DisputedCharge),
		)
	default:
		log.Info("webhook event received", zap.String("object_id", event.ObjectID))
	}
	return paymentdomain.OutcomeIgnored, paymentID, nil
}

// resolvePayment tries metadata payment_id, then the session id, then the
// payment intent id.
func (s *Service) resolvePayment(ctx context.Context, event *paymentdomain.WebhookEvent) (*paymentdomain.Payment, error) {
	if event.MetadataPaymentID != "" {
		id, err := snowflake.ParseString(event.MetadataPaymentID)
		if err == nil {
			payment, err := s.repo.FindByID(ctx, s.db, id)
			if err != nil || payment != nil {
				return payment, err
			}
		}
	}
	if event.SessionID != "" {
		payment, err := s.repo.FindBySessionID(ctx, s.db, event.SessionID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	if event.PaymentIntentID != "" {
		return s.repo.FindByPaymentIntent(ctx, s.db, event.PaymentIntentID)
	}
	return nil, nil
}

// IsClientError reports errors caused by the delivery itself rather than by
// this service.
func IsClientError(err error) bool {
	return errors.Is(err, paymentdomain.ErrInvalidSignature) ||
		errors.Is(err, paymentdomain.ErrInvalidPayload) ||
		errors.Is(err, paymentdomain.ErrInvalidEvent) ||
		errors.Is(err, paymentdomain.ErrUnresolvedPayment)
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paydesk/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	dateLayout       = "2006-01-02"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       paymentdomain.Repository
	Gateway    paymentdomain.Gateway
	Catalog    *config.CheckoutCatalogHolder
	Settlement paymentdomain.Settlement
	Clock      clock.Clock
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       paymentdomain.Repository
	gateway    paymentdomain.Gateway
	catalog    *config.CheckoutCatalogHolder
	settlement paymentdomain.Settlement
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	catalog := p.Catalog
	if catalog == nil {
		catalog = config.NewStaticCheckoutCatalog(config.DefaultCheckoutCatalog())
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		gateway:    p.Gateway,
		catalog:    catalog,
		settlement: p.Settlement,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

// CreateCheckout records a pending payment and opens a hosted checkout
// session for it. The row is written before the processor is called so a
// failed call still leaves a trace for the reconciler.
func (s *Service) CreateCheckout(ctx context.Context, req paymentdomain.CreateCheckoutRequest) (*paymentdomain.CheckoutResult, error) {
	if req.UserID == 0 {
		return nil, paymentdomain.ErrInvalidUser
	}
	catalog := s.catalog.Get()
	now := s.clock.Now()
	userID := req.UserID

	payment := &paymentdomain.Payment{
		ID:        s.genID.Generate(),
		UserID:    &userID,
		Amount:    catalog.Amount,
		Currency:  catalog.Currency,
		Status:    paymentdomain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, s.db, payment); err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("payment_id", payment.ID.String()))

	base := strings.TrimRight(strings.TrimSpace(req.BaseURL), "/")
	session, err := s.gateway.CreateCheckoutSession(ctx, paymentdomain.CheckoutSessionRequest{
		PaymentID:     payment.ID,
		UserID:        userID,
		CustomerEmail: req.Email,
		ProductName:   catalog.ProductName,
		Amount:        catalog.Amount,
		Currency:      catalog.Currency,
		SuccessURL:    base + "/payments/success/?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     base + "/payments/cancel/",
	})
	if err != nil {
		log.Warn("checkout session creation failed", zap.Error(err))
		return nil, err
	}

	if err := s.repo.SetSessionID(ctx, s.db, payment.ID, session.ID, s.clock.Now()); err != nil {
		return nil, err
	}
	s.obsMetrics.RecordCheckoutCreated(ctx, s.gateway.Provider())
	log.Info("checkout session created", zap.String("session_id", session.ID))

	return &paymentdomain.CheckoutResult{
		PaymentID:   payment.ID,
		CheckoutURL: session.URL,
		SessionID:   session.ID,
	}, nil
}

func (s *Service) ConfirmFromSuccessPage(ctx context.Context, sessionID string) *paymentdomain.Payment {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("session_id", sessionID))

	payment, err := s.repo.FindBySessionID(ctx, s.db, sessionID)
	if err != nil {
		log.Error("load payment for success page failed", zap.Error(err))
		return nil
	}
	if payment == nil {
		log.Warn("payment not found for session")
		return nil
	}

	session, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		log.Error("retrieve checkout session failed", zap.Error(err))
		return payment
	}
	if session.PaymentStatus != paymentdomain.SessionPaymentStatusPaid {
		return payment
	}
	if _, err := s.settlement.MarkPaid(ctx, payment, session.PaymentIntentID, paymentdomain.SourceSuccessPage); err != nil {
		log.Error("mark payment paid from success page failed", zap.Error(err))
	}
	return payment
}

func (s *Service) Verify(ctx context.Context, userID snowflake.ID, sessionID string) (*paymentdomain.Payment, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, paymentdomain.ErrMissingSessionID
	}
	if userID == 0 {
		return nil, paymentdomain.ErrInvalidUser
	}
	payment, err := s.repo.FindBySessionIDForUser(ctx, s.db, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) Dashboard(ctx context.Context, userID snowflake.ID) (*paymentdomain.Dashboard, error) {
	if userID == 0 {
		return nil, paymentdomain.ErrInvalidUser
	}
	payments, err := s.repo.ListByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.SumPaidByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	return &paymentdomain.Dashboard{
		Payments:   payments,
		TotalSpent: paymentdomain.MinorToMajor(total),
	}, nil
}

func (s *Service) PaidReceipt(ctx context.Context, userID snowflake.ID, sessionID string) (*paymentdomain.Payment, error) {
	payment, err := s.Verify(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if payment.Status != paymentdomain.StatusPaid {
		return nil, paymentdomain.ErrNotPaid
	}
	return payment, nil
}

func (s *Service) List(ctx context.Context, req paymentdomain.ListRequest) (*paymentdomain.ListResponse, error) {
	filter, err := buildListFilter(req)
	if err != nil {
		return nil, err
	}
	items, total, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []paymentdomain.PaymentView{}
	}
	return &paymentdomain.ListResponse{
		Payments: items,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*paymentdomain.PaymentView, error) {
	if id == 0 {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	item, err := s.repo.FindViewByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return item, nil
}

func buildListFilter(req paymentdomain.ListRequest) (paymentdomain.ListFilter, error) {
	filter := paymentdomain.ListFilter{
		Currency: strings.ToLower(strings.TrimSpace(req.Currency)),
		Query:    strings.TrimSpace(req.Query),
		Limit:    req.Limit,
		Offset:   req.Offset,
	}

	if status := strings.ToLower(strings.TrimSpace(req.Status)); status != "" {
		filter.Status = paymentdomain.Status(status)
		if !filter.Status.Valid() {
			return filter, paymentdomain.ErrInvalidStatus
		}
	}

	from, _, err := parseDate(req.CreatedFrom)
	if err != nil {
		return filter, err
	}
	to, wholeDay, err := parseDate(req.CreatedTo)
	if err != nil {
		return filter, err
	}
	if to != nil && wholeDay {
		end := to.Add(24 * time.Hour)
		to = &end
	}
	if from != nil && to != nil && !from.Before(*to) {
		return filter, paymentdomain.ErrInvalidDateRange
	}
	filter.CreatedFrom = from
	filter.CreatedTo = to

	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter, nil
}

// parseDate accepts RFC 3339 timestamps or plain dates. wholeDay reports a
// plain date so an upper bound can include the entire day.
func parseDate(value string) (t *time.Time, wholeDay bool, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, false, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		parsed = parsed.UTC()
		return &parsed, false, nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, false, errors.Join(paymentdomain.ErrInvalidDateRange, err)
	}
	return &parsed, true, nil
}

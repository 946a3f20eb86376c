package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/paydesk/internal/auth/domain"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/migration"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/paydesk/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paydesk/internal/payment/service"
	"github.com/smallbiznis/paydesk/pkg/db"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []paymentdomain.CheckoutSessionRequest
	session  *paymentdomain.CheckoutSession
	lookup   map[string]*paymentdomain.CheckoutSession
	err      error
}

func (g *fakeGateway) Provider() string { return "stripe" }

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req paymentdomain.CheckoutSessionRequest) (*paymentdomain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return g.session, nil
}

func (g *fakeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*paymentdomain.CheckoutSession, error) {
	if g.err != nil {
		return nil, g.err
	}
	session, ok := g.lookup[sessionID]
	if !ok {
		return nil, errors.New("no such checkout session")
	}
	return session, nil
}

type recordingPublisher struct {
	events []paymentdomain.StatusChangedEvent
}

func (p *recordingPublisher) PublishStatusChanged(ctx context.Context, event paymentdomain.StatusChangedEvent) error {
	p.events = append(p.events, event)
	return nil
}

type testEnv struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	gateway    *fakeGateway
	publisher  *recordingPublisher
	repo       paymentdomain.Repository
	settlement *paymentservice.Settlement
	svc        paymentdomain.Service
	logs       *observer.ObservedLogs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migration.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	env := &testEnv{
		db:        conn,
		node:      node,
		clock:     clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		gateway:   &fakeGateway{lookup: map[string]*paymentdomain.CheckoutSession{}},
		publisher: &recordingPublisher{},
		repo:      paymentrepo.Provide(),
		logs:      logs,
	}
	env.settlement = paymentservice.NewSettlement(paymentservice.SettlementParams{
		DB:        conn,
		Log:       log,
		Repo:      env.repo,
		Clock:     env.clock,
		Publisher: env.publisher,
	})
	env.svc = paymentservice.NewService(paymentservice.Params{
		DB:         conn,
		Log:        log,
		GenID:      node,
		Repo:       env.repo,
		Gateway:    env.gateway,
		Catalog:    config.NewStaticCheckoutCatalog(config.DefaultCheckoutCatalog()),
		Settlement: env.settlement,
		Clock:      env.clock,
	})
	return env
}

func (e *testEnv) seedUser(t *testing.T, username string) snowflake.ID {
	t.Helper()
	now := e.clock.Now()
	user := authdomain.User{
		ID:           e.node.Generate(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user.ID
}

func (e *testEnv) seedPayment(t *testing.T, userID snowflake.ID, sessionID string, status paymentdomain.Status, amount int64) *paymentdomain.Payment {
	t.Helper()
	now := e.clock.Now()
	uid := userID
	payment := &paymentdomain.Payment{
		ID:        e.node.Generate(),
		UserID:    &uid,
		Amount:    amount,
		Currency:  "usd",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sessionID != "" {
		sid := sessionID
		payment.StripeSessionID = &sid
	}
	if err := e.repo.Create(context.Background(), e.db, payment); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	e.clock.Advance(time.Second)
	return payment
}

func (e *testEnv) countLogs(message string) int {
	return e.logs.FilterMessage(message).Len()
}

func TestCreateCheckoutPersistsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t, "alice")
	env.gateway.session = &paymentdomain.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}

	result, err := env.svc.CreateCheckout(ctx, paymentdomain.CreateCheckoutRequest{
		UserID:  userID,
		Email:   "alice@example.com",
		BaseURL: "http://localhost:8080/",
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if result.SessionID != "cs_test_1" || result.CheckoutURL == "" {
		t.Fatalf("unexpected result %+v", result)
	}

	req := env.gateway.requests[0]
	if req.PaymentID != result.PaymentID || req.Amount != 2000 || req.Currency != "usd" || req.ProductName != "Test Product" {
		t.Fatalf("unexpected gateway request %+v", req)
	}
	if req.SuccessURL != "http://localhost:8080/payments/success/?session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected success url %s", req.SuccessURL)
	}
	if req.CancelURL != "http://localhost:8080/payments/cancel/" {
		t.Fatalf("unexpected cancel url %s", req.CancelURL)
	}

	stored, err := env.repo.FindByID(ctx, env.db, result.PaymentID)
	if err != nil || stored == nil {
		t.Fatalf("load payment: %v", err)
	}
	if stored.Status != paymentdomain.StatusPending || stored.SessionID() != "cs_test_1" {
		t.Fatalf("unexpected stored payment %+v", stored)
	}
	if stored.UserID == nil || *stored.UserID != userID {
		t.Fatalf("expected payment owned by user")
	}
}

func TestCreateCheckoutFailureLeavesPendingRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t, "bob")
	env.gateway.err = &paymentdomain.CheckoutError{Message: "Invalid API Key provided"}

	_, err := env.svc.CreateCheckout(ctx, paymentdomain.CreateCheckoutRequest{UserID: userID, BaseURL: "http://localhost"})
	var checkoutErr *paymentdomain.CheckoutError
	if !errors.As(err, &checkoutErr) {
		t.Fatalf("expected CheckoutError, got %v", err)
	}

	payments, err := env.repo.ListByUser(ctx, env.db, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("expected one payment row, got %d", len(payments))
	}
	if payments[0].Status != paymentdomain.StatusPending || payments[0].StripeSessionID != nil {
		t.Fatalf("expected orphan pending payment, got %+v", payments[0])
	}
}

func TestCreateCheckoutRequiresUser(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.CreateCheckout(context.Background(), paymentdomain.CreateCheckoutRequest{}); !errors.Is(err, paymentdomain.ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
}

func TestConfirmFromSuccessPageIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.seedUser(t, "carol")
	payment := env.seedPayment(t, userID, "cs_paid", paymentdomain.StatusPending, 2000)
	env.gateway.lookup["cs_paid"] = &paymentdomain.CheckoutSession{
		ID:              "cs_paid",
		PaymentStatus:   paymentdomain.SessionPaymentStatusPaid,
		PaymentIntentID: "pi_paid",
	}

	got := env.svc.ConfirmFromSuccessPage(ctx, "cs_paid")
	if got == nil || got.Status != paymentdomain.StatusPaid || got.PaymentIntentID() != "pi_paid" {
		t.Fatalf("expected paid payment, got %+v", got)
	}
	if env.countLogs("payment marked paid") != 1 {
		t.Fatalf("expected transition log")
	}

	got = env.svc.ConfirmFromSuccessPage(ctx, "cs_paid")
	if got == nil || got.Status != paymentdomain.StatusPaid {
		t.Fatalf("expected paid payment on reload, got %+v", got)
	}
	if env.countLogs("payment already paid (idempotent)") != 1 {
		t.Fatalf("expected idempotent log on second confirmation")
	}
	if len(env.publisher.events) != 1 || env.publisher.events[0].PaymentID != payment.ID {
		t.Fatalf("expected exactly one status event, got %d", len(env.publisher.events))
	}
	if env.publisher.events[0].Source != paymentdomain.SourceSuccessPage {
		t.Fatalf("unexpected source %s", env.publisher.events[0].Source)
	}
}

func TestConfirmFromSuccessPageSwallowsErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if got := env.svc.ConfirmFromSuccessPage(ctx, "cs_unknown"); got != nil {
		t.Fatalf("expected nil for unknown session")
	}

	userID := env.seedUser(t, "dave")
	env.seedPayment(t, userID, "cs_unpaid", paymentdomain.StatusPending, 2000)
	env.gateway.err = errors.New("stripe unavailable")
	got := env.svc.ConfirmFromSuccessPage(ctx, "cs_unpaid")
	if got == nil || got.Status != paymentdomain.StatusPending {
		t.Fatalf("expected pending payment to be returned, got %+v", got)
	}
}

func TestVerifyScopesToOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.seedUser(t, "erin")
	other := env.seedUser(t, "frank")
	env.seedPayment(t, owner, "cs_owned", paymentdomain.StatusPaid, 2000)

	if _, err := env.svc.Verify(ctx, owner, ""); !errors.Is(err, paymentdomain.ErrMissingSessionID) {
		t.Fatalf("expected ErrMissingSessionID, got %v", err)
	}
	if _, err := env.svc.Verify(ctx, other, "cs_owned"); !errors.Is(err, paymentdomain.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound for non-owner, got %v", err)
	}
	payment, err := env.svc.Verify(ctx, owner, "cs_owned")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if payment.AmountMajor().String() != "20" {
		t.Fatalf("unexpected major amount %s", payment.AmountMajor())
	}
}

func TestPaidReceiptRequiresPaidStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.seedUser(t, "gina")
	env.seedPayment(t, owner, "cs_pending", paymentdomain.StatusPending, 2000)

	if _, err := env.svc.PaidReceipt(ctx, owner, "cs_pending"); !errors.Is(err, paymentdomain.ErrNotPaid) {
		t.Fatalf("expected ErrNotPaid, got %v", err)
	}
}

func TestDashboardSumsPaidPayments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.seedUser(t, "hank")
	env.seedPayment(t, owner, "cs_a", paymentdomain.StatusPaid, 2000)
	env.seedPayment(t, owner, "cs_b", paymentdomain.StatusFailed, 5000)
	latest := env.seedPayment(t, owner, "cs_c", paymentdomain.StatusPaid, 1550)

	dashboard, err := env.svc.Dashboard(ctx, owner)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(dashboard.Payments) != 3 {
		t.Fatalf("expected 3 payments, got %d", len(dashboard.Payments))
	}
	if dashboard.Payments[0].ID != latest.ID {
		t.Fatalf("expected newest payment first")
	}
	if dashboard.TotalSpent.String() != "35.5" {
		t.Fatalf("unexpected total %s", dashboard.TotalSpent)
	}
}

func TestListFiltersAndValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ivy := env.seedUser(t, "ivy")
	jack := env.seedUser(t, "jack")
	env.seedPayment(t, ivy, "cs_ivy_1", paymentdomain.StatusPaid, 2000)
	env.seedPayment(t, ivy, "cs_ivy_2", paymentdomain.StatusPending, 2000)
	env.seedPayment(t, jack, "cs_jack_1", paymentdomain.StatusPaid, 2000)

	resp, err := env.svc.List(ctx, paymentdomain.ListRequest{Status: "paid"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.Total != 2 || len(resp.Payments) != 2 || resp.Limit != 50 {
		t.Fatalf("unexpected paid list %+v", resp)
	}

	resp, err = env.svc.List(ctx, paymentdomain.ListRequest{Query: "IVY"})
	if err != nil {
		t.Fatalf("list by query: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected 2 payments for ivy, got %d", resp.Total)
	}
	for _, item := range resp.Payments {
		if item.Username == nil || *item.Username != "ivy" {
			t.Fatalf("unexpected owner %v", item.Username)
		}
	}

	resp, err = env.svc.List(ctx, paymentdomain.ListRequest{CreatedFrom: "2026-03-01", CreatedTo: "2026-03-01", Limit: 1})
	if err != nil {
		t.Fatalf("list by date: %v", err)
	}
	if resp.Total != 3 || len(resp.Payments) != 1 {
		t.Fatalf("unexpected page %+v", resp)
	}

	if _, err := env.svc.List(ctx, paymentdomain.ListRequest{Status: "refunded"}); !errors.Is(err, paymentdomain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := env.svc.List(ctx, paymentdomain.ListRequest{CreatedFrom: "2026-03-05", CreatedTo: "2026-03-01"}); !errors.Is(err, paymentdomain.ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange, got %v", err)
	}
	if _, err := env.svc.List(ctx, paymentdomain.ListRequest{CreatedFrom: "yesterday"}); !errors.Is(err, paymentdomain.ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange for bad date, got %v", err)
	}
}

func TestGetReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Get(context.Background(), env.node.Generate()); !errors.Is(err, paymentdomain.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestSettlementTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.seedUser(t, "kim")

	paid := env.seedPayment(t, owner, "cs_1", paymentdomain.StatusPaid, 2000)
	changed, err := env.settlement.MarkFailed(ctx, paid, paymentdomain.SourceWebhook)
	if err != nil || changed {
		t.Fatalf("paid payment must not fail: changed=%v err=%v", changed, err)
	}
	stored, _ := env.repo.FindByID(ctx, env.db, paid.ID)
	if stored.Status != paymentdomain.StatusPaid {
		t.Fatalf("expected paid, got %s", stored.Status)
	}

	failed := env.seedPayment(t, owner, "cs_2", paymentdomain.StatusFailed, 2000)
	changed, err = env.settlement.MarkPaid(ctx, failed, "pi_late", paymentdomain.SourceWebhook)
	if err != nil || !changed {
		t.Fatalf("failed payment should settle: changed=%v err=%v", changed, err)
	}
	stored, _ = env.repo.FindByID(ctx, env.db, failed.ID)
	if stored.Status != paymentdomain.StatusPaid || stored.PaymentIntentID() != "pi_late" {
		t.Fatalf("unexpected stored payment %+v", stored)
	}

	pending := env.seedPayment(t, owner, "cs_3", paymentdomain.StatusPending, 2000)
	changed, err = env.settlement.MarkFailed(ctx, pending, paymentdomain.SourceWebhook)
	if err != nil || !changed {
		t.Fatalf("pending payment should fail: changed=%v err=%v", changed, err)
	}
}

func TestSettlementAttachesIntentWhenAlreadyPaid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.seedUser(t, "lee")
	payment := env.seedPayment(t, owner, "cs_1", paymentdomain.StatusPaid, 2000)

	changed, err := env.settlement.MarkPaid(ctx, payment, "pi_after", paymentdomain.SourceWebhook)
	if err != nil || changed {
		t.Fatalf("expected no transition: changed=%v err=%v", changed, err)
	}
	stored, _ := env.repo.FindByID(ctx, env.db, payment.ID)
	if stored.PaymentIntentID() != "pi_after" {
		t.Fatalf("expected intent to be attached, got %q", stored.PaymentIntentID())
	}

	if _, err := env.settlement.MarkPaid(ctx, payment, "pi_other", paymentdomain.SourceWebhook); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	stored, _ = env.repo.FindByID(ctx, env.db, payment.ID)
	if stored.PaymentIntentID() != "pi_after" {
		t.Fatalf("intent must not be overwritten, got %q", stored.PaymentIntentID())
	}
}

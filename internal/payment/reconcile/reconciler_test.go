package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/migration"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/paydesk/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paydesk/internal/payment/service"
	"github.com/smallbiznis/paydesk/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubGateway struct {
	sessions map[string]*paymentdomain.CheckoutSession
}

func (g *stubGateway) Provider() string { return "stripe" }

func (g *stubGateway) CreateCheckoutSession(context.Context, paymentdomain.CheckoutSessionRequest) (*paymentdomain.CheckoutSession, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) GetCheckoutSession(_ context.Context, id string) (*paymentdomain.CheckoutSession, error) {
	session, ok := g.sessions[id]
	if !ok {
		return nil, errors.New("stripe unavailable")
	}
	return session, nil
}

type stubLocker struct {
	held     bool
	released bool
}

func (l *stubLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	if l.held {
		return "", false, nil
	}
	return "token", true, nil
}

func (l *stubLocker) Release(context.Context, string, string) error {
	l.released = true
	return nil
}

type fixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	repo    paymentdomain.Repository
	gateway *stubGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migration.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(9)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return &fixture{
		db:      conn,
		node:    node,
		clock:   clock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
		repo:    paymentrepo.Provide(),
		gateway: &stubGateway{sessions: map[string]*paymentdomain.CheckoutSession{}},
	}
}

func (f *fixture) reconciler(locker Locker) *Reconciler {
	settlement := paymentservice.NewSettlement(paymentservice.SettlementParams{
		DB:    f.db,
		Log:   zap.NewNop(),
		Repo:  f.repo,
		Clock: f.clock,
	})
	cfg := config.Config{}
	cfg.Reconcile.PendingAfter = time.Hour
	cfg.Reconcile.Interval = time.Minute
	return New(Params{
		DB:         f.db,
		Log:        zap.NewNop(),
		Repo:       f.repo,
		Gateway:    f.gateway,
		Settlement: settlement,
		Clock:      f.clock,
		Cfg:        cfg,
		Locker:     locker,
	})
}

func (f *fixture) pending(t *testing.T, sessionID string) *paymentdomain.Payment {
	t.Helper()
	now := f.clock.Now()
	payment := &paymentdomain.Payment{
		ID:        f.node.Generate(),
		Amount:    2000,
		Currency:  "usd",
		Status:    paymentdomain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sessionID != "" {
		sid := sessionID
		payment.StripeSessionID = &sid
	}
	if err := f.repo.Create(context.Background(), f.db, payment); err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return payment
}

func (f *fixture) status(t *testing.T, payment *paymentdomain.Payment) paymentdomain.Status {
	t.Helper()
	stored, err := f.repo.FindByID(context.Background(), f.db, payment.ID)
	if err != nil || stored == nil {
		t.Fatalf("load payment: %v", err)
	}
	return stored.Status
}

func TestRunOnceResolvesStalePayments(t *testing.T) {
	f := newFixture(t)
	orphan := f.pending(t, "")
	paid := f.pending(t, "cs_paid")
	expired := f.pending(t, "cs_expired")
	open := f.pending(t, "cs_open")
	broken := f.pending(t, "cs_unreachable")

	f.gateway.sessions["cs_paid"] = &paymentdomain.CheckoutSession{ID: "cs_paid", Status: "complete", PaymentStatus: "paid", PaymentIntentID: "pi_1"}
	f.gateway.sessions["cs_expired"] = &paymentdomain.CheckoutSession{ID: "cs_expired", Status: "expired", PaymentStatus: "unpaid"}
	f.gateway.sessions["cs_open"] = &paymentdomain.CheckoutSession{ID: "cs_open", Status: "open", PaymentStatus: "unpaid"}

	f.clock.Advance(2 * time.Hour)
	fresh := f.pending(t, "")

	summary, err := f.reconciler(nil).RunOnce(context.Background(), 0)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.Examined != 5 || summary.MarkedPaid != 1 || summary.MarkedFailed != 2 || summary.Unchanged != 1 || summary.Errors != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	expect := map[*paymentdomain.Payment]paymentdomain.Status{
		orphan:  paymentdomain.StatusFailed,
		paid:    paymentdomain.StatusPaid,
		expired: paymentdomain.StatusFailed,
		open:    paymentdomain.StatusPending,
		broken:  paymentdomain.StatusPending,
		fresh:   paymentdomain.StatusPending,
	}
	for payment, want := range expect {
		if got := f.status(t, payment); got != want {
			t.Fatalf("payment %s: expected %s, got %s", payment.ID, want, got)
		}
	}
}

func TestRunOnceHonorsOlderThan(t *testing.T) {
	f := newFixture(t)
	payment := f.pending(t, "")
	f.clock.Advance(10 * time.Minute)

	summary, err := f.reconciler(nil).RunOnce(context.Background(), 5*time.Minute)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if summary.MarkedFailed != 1 || f.status(t, payment) != paymentdomain.StatusFailed {
		t.Fatalf("expected payment older than 5m to be failed, summary %+v", summary)
	}
}

func TestRunLockedSkipsWhenHeld(t *testing.T) {
	f := newFixture(t)
	f.pending(t, "")
	f.clock.Advance(2 * time.Hour)

	locker := &stubLocker{held: true}
	ran, err := f.reconciler(locker).RunLocked(context.Background())
	if err != nil || ran {
		t.Fatalf("expected skip, ran=%v err=%v", ran, err)
	}

	locker.held = false
	ran, err = f.reconciler(locker).RunLocked(context.Background())
	if err != nil || !ran {
		t.Fatalf("expected run, ran=%v err=%v", ran, err)
	}
	if !locker.released {
		t.Fatalf("expected lock release")
	}
}

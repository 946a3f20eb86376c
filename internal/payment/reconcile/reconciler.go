package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/config"
	obsmetrics "github.com/smallbiznis/paydesk/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	lockKey        = "paydesk:reconcile:pending"
	defaultBatch   = 50
	defaultAge     = time.Hour
	defaultEvery   = 5 * time.Minute
	sessionTimeout = 15 * time.Second
)

const (
	ResolutionPaid      = "paid"
	ResolutionFailed    = "failed"
	ResolutionUnchanged = "unchanged"
)

// Locker keeps concurrent instances from sweeping at the same time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       paymentdomain.Repository
	Gateway    paymentdomain.Gateway
	Settlement paymentdomain.Settlement
	Clock      clock.Clock
	Cfg        config.Config
	Locker     Locker                       `optional:"true"`
	Metrics    *obsmetrics.ReconcileMetrics `optional:"true"`
}

// Reconciler settles payments whose confirmation never arrived.
type Reconciler struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       paymentdomain.Repository
	gateway    paymentdomain.Gateway
	settlement paymentdomain.Settlement
	clock      clock.Clock
	locker     Locker
	metrics    *obsmetrics.ReconcileMetrics

	interval     time.Duration
	pendingAfter time.Duration
	batchSize    int
}

func New(p Params) *Reconciler {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	cfg := p.Cfg.Reconcile
	if cfg.Interval <= 0 {
		cfg.Interval = defaultEvery
	}
	if cfg.PendingAfter <= 0 {
		cfg.PendingAfter = defaultAge
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatch
	}
	return &Reconciler{
		db:           p.DB,
		log:          p.Log.Named("payment.reconcile"),
		repo:         p.Repo,
		gateway:      p.Gateway,
		settlement:   p.Settlement,
		clock:        clk,
		locker:       p.Locker,
		metrics:      p.Metrics,
		interval:     cfg.Interval,
		pendingAfter: cfg.PendingAfter,
		batchSize:    cfg.BatchSize,
	}
}

func (r *Reconciler) PendingAfter() time.Duration {
	return r.pendingAfter
}

// RunOnce sweeps one batch of payments pending for longer than olderThan.
// A zero olderThan uses the configured age.
func (r *Reconciler) RunOnce(ctx context.Context, olderThan time.Duration) (*paymentdomain.ReconcileSummary, error) {
	if olderThan <= 0 {
		olderThan = r.pendingAfter
	}
	summary := &paymentdomain.ReconcileSummary{StartedAt: r.clock.Now()}
	r.metrics.IncRun()
	defer func() {
		summary.CompletedAt = r.clock.Now()
		r.metrics.ObserveDuration(summary.CompletedAt.Sub(summary.StartedAt))
	}()

	payments, err := r.repo.ListPendingBefore(ctx, r.db, summary.StartedAt.Add(-olderThan), r.batchSize)
	if err != nil {
		r.metrics.IncError(obsmetrics.ReconcileReasonStorage)
		return summary, err
	}

	for i := range payments {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		payment := &payments[i]
		summary.Examined++

		resolution, err := r.resolve(ctx, payment)
		if err != nil {
			summary.Errors++
			r.metrics.IncError(classify(err))
			r.log.Warn("reconcile payment failed",
				zap.String("payment_id", payment.ID.String()),
				zap.Error(err),
			)
			continue
		}
		r.metrics.IncResolution(resolution)
		switch resolution {
		case ResolutionPaid:
			summary.MarkedPaid++
		case ResolutionFailed:
			summary.MarkedFailed++
		default:
			summary.Unchanged++
		}
	}

	if summary.Examined > 0 {
		r.log.Info("reconcile sweep finished",
			zap.Int("examined", summary.Examined),
			zap.Int("marked_paid", summary.MarkedPaid),
			zap.Int("marked_failed", summary.MarkedFailed),
			zap.Int("unchanged", summary.Unchanged),
			zap.Int("errors", summary.Errors),
		)
	}
	return summary, nil
}

func (r *Reconciler) resolve(ctx context.Context, payment *paymentdomain.Payment) (string, error) {
	// No session means the processor call failed at checkout.
	if payment.SessionID() == "" {
		return r.fail(ctx, payment)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()
	session, err := r.gateway.GetCheckoutSession(lookupCtx, payment.SessionID())
	if err != nil {
		return "", &providerError{err: err}
	}

	switch {
	case session.PaymentStatus == paymentdomain.SessionPaymentStatusPaid:
		changed, err := r.settlement.MarkPaid(ctx, payment, session.PaymentIntentID, paymentdomain.SourceReconciler)
		if err != nil {
			return "", err
		}
		if !changed {
			return ResolutionUnchanged, nil
		}
		return ResolutionPaid, nil
	case session.Status == paymentdomain.SessionStatusExpired:
		return r.fail(ctx, payment)
	default:
		return ResolutionUnchanged, nil
	}
}

func (r *Reconciler) fail(ctx context.Context, payment *paymentdomain.Payment) (string, error) {
	changed, err := r.settlement.MarkFailed(ctx, payment, paymentdomain.SourceReconciler)
	if err != nil {
		return "", err
	}
	if !changed {
		return ResolutionUnchanged, nil
	}
	return ResolutionFailed, nil
}

// RunLocked runs a sweep under the distributed lock when one is configured.
// It reports false when another instance holds the lock.
func (r *Reconciler) RunLocked(ctx context.Context) (bool, error) {
	if r.locker == nil {
		_, err := r.RunOnce(ctx, 0)
		return true, err
	}
	token, ok, err := r.locker.TryLock(ctx, lockKey, r.interval)
	if err != nil {
		return false, err
	}
	if !ok {
		r.metrics.IncLockSkipped()
		return false, nil
	}
	defer func() {
		if err := r.locker.Release(context.Background(), lockKey, token); err != nil {
			r.log.Warn("release reconcile lock failed", zap.Error(err))
		}
	}()
	_, err = r.RunOnce(ctx, 0)
	return true, err
}

func (r *Reconciler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reconciler started",
		zap.Duration("interval", r.interval),
		zap.Duration("pending_after", r.pendingAfter),
	)
	for {
		if _, err := r.RunLocked(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("reconcile sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
		}
	}
}

type providerError struct {
	err error
}

func (e *providerError) Error() string { return "checkout session lookup: " + e.err.Error() }

func (e *providerError) Unwrap() error { return e.err }

func classify(err error) string {
	if reason, ok := obsmetrics.ClassifyContextError(err); ok {
		return reason
	}
	var perr *providerError
	if errors.As(err, &perr) {
		return obsmetrics.ReconcileReasonProvider
	}
	return obsmetrics.ReconcileReasonStorage
}

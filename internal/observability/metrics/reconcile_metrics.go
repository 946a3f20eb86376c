package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ReconcileReasonDeadlineExceeded = "deadline_exceeded"
	ReconcileReasonCanceled         = "canceled"
	ReconcileReasonProvider         = "provider_error"
	ReconcileReasonStorage          = "storage_error"
	ReconcileReasonUnknown          = "unknown"
)

// ReconcileMetrics captures health signals of the pending payment sweep.
type ReconcileMetrics struct {
	runs        prometheus.Counter
	duration    prometheus.Histogram
	resolutions *prometheus.CounterVec
	errors      *prometheus.CounterVec
	lockSkipped prometheus.Counter
}

var (
	reconcileMetricsOnce sync.Once
	reconcileMetrics     *ReconcileMetrics
)

// Reconcile returns the singleton reconciler metrics registry.
func Reconcile() *ReconcileMetrics {
	return ReconcileWithConfig(Config{})
}

// ReconcileWithConfig returns the singleton reconciler metrics registry using config labels.
func ReconcileWithConfig(cfg Config) *ReconcileMetrics {
	reconcileMetricsOnce.Do(func() {
		reconcileMetrics = newReconcileMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return reconcileMetrics
}

func newReconcileMetrics(registerer prometheus.Registerer, cfg Config) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	m := &ReconcileMetrics{
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "paydesk_reconcile_runs_total",
			Help:        "Pending payment reconciliation sweeps started.",
			ConstLabels: labels,
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "paydesk_reconcile_duration_seconds",
			Help:        "Pending payment reconciliation sweep latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: labels,
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paydesk_reconcile_resolutions_total",
			Help:        "Pending payments examined by the reconciler, by resolution.",
			ConstLabels: labels,
		}, []string{"resolution"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paydesk_reconcile_errors_total",
			Help:        "Reconciler errors by low-cardinality reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		lockSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "paydesk_reconcile_lock_skipped_total",
			Help:        "Sweeps skipped because another instance held the lock.",
			ConstLabels: labels,
		}),
	}
	registerer.MustRegister(m.runs, m.duration, m.resolutions, m.errors, m.lockSkipped)
	return m
}

func (m *ReconcileMetrics) IncRun() {
	if m == nil {
		return
	}
	m.runs.Inc()
}

func (m *ReconcileMetrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

func (m *ReconcileMetrics) IncResolution(resolution string) {
	if m == nil || resolution == "" {
		return
	}
	m.resolutions.WithLabelValues(resolution).Inc()
}

func (m *ReconcileMetrics) IncError(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = ReconcileReasonUnknown
	}
	m.errors.WithLabelValues(reason).Inc()
}

func (m *ReconcileMetrics) IncLockSkipped() {
	if m == nil {
		return
	}
	m.lockSkipped.Inc()
}

// ClassifyContextError maps context failures to a reason label and reports
// whether err was one.
func ClassifyContextError(err error) (string, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReconcileReasonDeadlineExceeded, true
	case errors.Is(err, context.Canceled):
		return ReconcileReasonCanceled, true
	default:
		return "", false
	}
}

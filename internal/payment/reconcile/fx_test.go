package reconcile

import (
	"testing"

	"github.com/smallbiznis/paydesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStartStopsLoopWithApp(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(nil)
	core, logs := observer.New(zap.InfoLevel)
	r.log = zap.New(core)

	cfg := config.Config{}
	cfg.Reconcile.Enabled = true

	app := fxtest.New(t,
		fx.Supply(cfg, r),
		fx.Invoke(Start),
	)
	app.RequireStart()
	app.RequireStop()

	if n := logs.FilterMessage("reconciler started").Len(); n != 1 {
		t.Fatalf("expected loop to start once, got %d", n)
	}
	if n := logs.FilterMessage("reconciler stopped").Len(); n != 1 {
		t.Fatalf("expected loop to stop with the app, got %d", n)
	}
}

func TestStartDisabled(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(nil)
	core, logs := observer.New(zap.InfoLevel)
	r.log = zap.New(core)

	app := fxtest.New(t,
		fx.Supply(config.Config{}, r),
		fx.Invoke(Start),
	)
	app.RequireStart()
	app.RequireStop()

	if logs.Len() != 0 {
		t.Fatalf("expected no loop when disabled, got %d log entries", logs.Len())
	}
}

package adapters

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/smallbiznis/paydesk/internal/payment/domain"
)

type fakeFactory struct {
	provider string
	seen     domain.AdapterConfig
}

func (f *fakeFactory) Provider() string { return f.provider }

func (f *fakeFactory) NewAdapter(cfg domain.AdapterConfig) (domain.WebhookAdapter, error) {
	f.seen = cfg
	return fakeAdapter{}, nil
}

type fakeAdapter struct{}

func (fakeAdapter) Verify(context.Context, []byte, http.Header) error { return nil }

func (fakeAdapter) Parse(context.Context, []byte) (*domain.WebhookEvent, error) {
	return &domain.WebhookEvent{}, nil
}

func TestRegistryNormalizesProvider(t *testing.T) {
	factory := &fakeFactory{provider: " Stripe "}
	registry := NewRegistry(factory, nil, &fakeFactory{provider: ""})

	if !registry.ProviderExists("STRIPE") {
		t.Fatalf("expected stripe to be registered")
	}
	if _, err := registry.NewAdapter("stripe", domain.AdapterConfig{WebhookSecret: "whsec"}); err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if factory.seen.Provider != "stripe" || factory.seen.WebhookSecret != "whsec" {
		t.Fatalf("unexpected config %+v", factory.seen)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	registry := NewRegistry(&fakeFactory{provider: "stripe"})

	if _, err := registry.NewAdapter("paypal", domain.AdapterConfig{}); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
	if _, err := registry.NewAdapter("  ", domain.AdapterConfig{}); !errors.Is(err, domain.ErrInvalidProvider) {
		t.Fatalf("expected ErrInvalidProvider, got %v", err)
	}

	var nilRegistry *Registry
	if nilRegistry.ProviderExists("stripe") {
		t.Fatalf("nil registry should not report providers")
	}
}

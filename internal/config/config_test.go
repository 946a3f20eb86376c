package config

import (
	"testing"
	"time"
)

func TestLoadStripeDefaults(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", " sk_test_123 ")
	t.Setenv("STRIPE_WEBHOOK_TOLERANCE", "")
	t.Setenv("STRIPE_API_BASE", "http://localhost:12111/")

	cfg := Load()
	if cfg.Stripe.SecretKey != "sk_test_123" {
		t.Fatalf("expected trimmed secret key, got %q", cfg.Stripe.SecretKey)
	}
	if cfg.Stripe.WebhookTolerance != 300*time.Second {
		t.Fatalf("expected default tolerance 300s, got %s", cfg.Stripe.WebhookTolerance)
	}
	if cfg.Stripe.APIBase != "http://localhost:12111" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Stripe.APIBase)
	}
}

func TestGetenvDurationAcceptsSeconds(t *testing.T) {
	t.Setenv("PAYDESK_TEST_DURATION", "45")
	if got := getenvDuration("PAYDESK_TEST_DURATION", time.Second); got != 45*time.Second {
		t.Fatalf("expected 45s, got %s", got)
	}

	t.Setenv("PAYDESK_TEST_DURATION", "2m")
	if got := getenvDuration("PAYDESK_TEST_DURATION", time.Second); got != 2*time.Minute {
		t.Fatalf("expected 2m, got %s", got)
	}

	t.Setenv("PAYDESK_TEST_DURATION", "soon")
	if got := getenvDuration("PAYDESK_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a:9092, ,b:9092 ")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", got)
	}
}

func TestCheckoutCatalogValidation(t *testing.T) {
	if err := validateCheckoutCatalog(DefaultCheckoutCatalog()); err != nil {
		t.Fatalf("default catalog should be valid: %v", err)
	}

	cases := []CheckoutCatalog{
		{ProductName: "", Amount: 100, Currency: "usd"},
		{ProductName: "x", Amount: 0, Currency: "usd"},
		{ProductName: "x", Amount: 100, Currency: "dollars"},
	}
	for _, c := range cases {
		if err := validateCheckoutCatalog(c); err == nil {
			t.Fatalf("expected validation error for %+v", c)
		}
	}
}

func TestStaticCheckoutCatalogNormalizes(t *testing.T) {
	holder := NewStaticCheckoutCatalog(CheckoutCatalog{ProductName: " Widget ", Amount: 500, Currency: "EUR"})
	got := holder.Get()
	if got.ProductName != "Widget" || got.Currency != "eur" || got.Amount != 500 {
		t.Fatalf("unexpected catalog %+v", got)
	}
}

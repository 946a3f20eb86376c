package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/payment/domain"
	"go.uber.org/zap"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) domain.Gateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Config{}
	cfg.Stripe.SecretKey = "sk_test_123"
	cfg.Stripe.APIBase = server.URL
	cfg.Stripe.Timeout = 5 * time.Second
	return NewGateway(cfg, zap.NewNop())
}

func TestCreateCheckoutSession(t *testing.T) {
	var (
		idempotencyKey string
		form           map[string]string
	)
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		idempotencyKey = r.Header.Get("Idempotency-Key")
		form = map[string]string{}
		for key := range r.PostForm {
			form[key] = r.PostForm.Get(key)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1","status":"open","payment_status":"unpaid"}`))
	})

	session, err := gateway.CreateCheckoutSession(context.Background(), domain.CheckoutSessionRequest{
		PaymentID:     snowflake.ID(101),
		UserID:        snowflake.ID(7),
		CustomerEmail: "buyer@example.com",
		ProductName:   "Test Product",
		Amount:        2000,
		Currency:      "usd",
		SuccessURL:    "http://localhost/payments/success/?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "http://localhost/payments/cancel/",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_test_1" || session.URL == "" {
		t.Fatalf("unexpected session %+v", session)
	}
	if idempotencyKey != "checkout:101" {
		t.Fatalf("unexpected idempotency key %q", idempotencyKey)
	}

	expected := map[string]string{
		"mode":                                      "payment",
		"client_reference_id":                       "7",
		"customer_email":                            "buyer@example.com",
		"metadata[payment_id]":                      "101",
		"metadata[user_id]":                         "7",
		"payment_intent_data[metadata][payment_id]": "101",
		"line_items[0][price_data][unit_amount]":    "2000",
		"line_items[0][price_data][currency]":       "usd",
		"line_items[0][quantity]":                   "1",
	}
	for key, want := range expected {
		if got := form[key]; got != want {
			t.Fatalf("form[%s] = %q, want %q", key, got, want)
		}
	}
}

func TestCreateCheckoutSessionSurfacesProcessorMessage(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Invalid currency: zzz"}}`))
	})

	_, err := gateway.CreateCheckoutSession(context.Background(), domain.CheckoutSessionRequest{
		PaymentID: snowflake.ID(1),
		UserID:    snowflake.ID(2),
		Amount:    2000,
		Currency:  "zzz",
	})
	var checkoutErr *domain.CheckoutError
	if !errors.As(err, &checkoutErr) {
		t.Fatalf("expected CheckoutError, got %v", err)
	}
	if checkoutErr.Error() != "Invalid currency: zzz" {
		t.Fatalf("unexpected message %q", checkoutErr.Error())
	}
}

func TestGetCheckoutSession(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/checkout/sessions/cs_test_9" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_9","object":"checkout.session","status":"complete","payment_status":"paid","payment_intent":"pi_9"}`))
	})

	session, err := gateway.GetCheckoutSession(context.Background(), "cs_test_9")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.PaymentStatus != domain.SessionPaymentStatusPaid || session.PaymentIntentID != "pi_9" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestGatewayWithoutKey(t *testing.T) {
	gateway := NewGateway(config.Config{}, nil)
	if _, err := gateway.GetCheckoutSession(context.Background(), "cs"); !errors.Is(err, domain.ErrGatewayNotReady) {
		t.Fatalf("expected ErrGatewayNotReady, got %v", err)
	}
}

package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CheckoutSessionRequest struct {
	PaymentID     snowflake.ID
	UserID        snowflake.ID
	CustomerEmail string
	ProductName   string
	Amount        int64
	Currency      string
	SuccessURL    string
	CancelURL     string
}

type CheckoutSession struct {
	ID              string
	URL             string
	Status          string
	PaymentStatus   string
	PaymentIntentID string
}

const (
	SessionPaymentStatusPaid = "paid"
	SessionStatusExpired     = "expired"
)

// Gateway talks to the hosted checkout provider.
type Gateway interface {
	Provider() string
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
}

type AdapterConfig struct {
	Provider      string
	WebhookSecret string
	Tolerance     time.Duration
}

// WebhookAdapter verifies and normalizes provider webhook deliveries.
type WebhookAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*WebhookEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (WebhookAdapter, error)
}

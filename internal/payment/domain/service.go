package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (*CheckoutResult, error)
	// ConfirmFromSuccessPage never fails: errors are logged and the payment,
	// when known, is returned in its latest state.
	ConfirmFromSuccessPage(ctx context.Context, sessionID string) *Payment
	Verify(ctx context.Context, userID snowflake.ID, sessionID string) (*Payment, error)
	Dashboard(ctx context.Context, userID snowflake.ID) (*Dashboard, error)
	PaidReceipt(ctx context.Context, userID snowflake.ID, sessionID string) (*Payment, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	Get(ctx context.Context, id snowflake.ID) (*PaymentView, error)
}

// Settlement applies status transitions shared by every confirmation path.
type Settlement interface {
	MarkPaid(ctx context.Context, payment *Payment, intentID string, source string) (bool, error)
	MarkFailed(ctx context.Context, payment *Payment, source string) (bool, error)
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*WebhookResult, error)
}

// EventPublisher fans applied transitions out to other systems.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error
}

type CreateCheckoutRequest struct {
	UserID  snowflake.ID
	Email   string
	BaseURL string
}

type CheckoutResult struct {
	PaymentID   snowflake.ID
	CheckoutURL string
	SessionID   string
}

type Dashboard struct {
	Payments   []Payment
	TotalSpent decimal.Decimal
}

type ListRequest struct {
	Status      string
	Currency    string
	Query       string
	CreatedFrom string
	CreatedTo   string
	Limit       int
	Offset      int
}

type ListResponse struct {
	Payments []PaymentView
	Total    int64
	Limit    int
	Offset   int
}

type ReconcileSummary struct {
	Examined     int
	MarkedPaid   int
	MarkedFailed int
	Unchanged    int
	Errors       int
	StartedAt    time.Time
	CompletedAt  time.Time
}

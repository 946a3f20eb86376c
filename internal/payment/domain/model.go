package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed:
		return true
	default:
		return false
	}
}

// Payment is one checkout attempt. Amount is in minor units.
type Payment struct {
	ID                  snowflake.ID  `gorm:"primaryKey"`
	StripeSessionID     *string       `gorm:"column:stripe_session_id;type:varchar(255);uniqueIndex"`
	StripePaymentIntent *string       `gorm:"column:stripe_payment_intent;type:varchar(255);index"`
	UserID              *snowflake.ID `gorm:"column:user_id;index"`
	Amount              int64         `gorm:"column:amount;not null"`
	Currency            string        `gorm:"column:currency;type:text;not null;default:'usd'"`
	Status              Status        `gorm:"column:status;type:varchar(255);not null;default:'pending';index"`
	CreatedAt           time.Time     `gorm:"column:created_at;not null;index"`
	UpdatedAt           time.Time     `gorm:"column:updated_at;not null"`
}

func (Payment) TableName() string { return "payments" }

func (p Payment) SessionID() string {
	if p.StripeSessionID == nil {
		return ""
	}
	return *p.StripeSessionID
}

func (p Payment) PaymentIntentID() string {
	if p.StripePaymentIntent == nil {
		return ""
	}
	return *p.StripePaymentIntent
}

// AmountMajor converts the stored minor units to major units (cents to dollars).
func (p Payment) AmountMajor() decimal.Decimal {
	return MinorToMajor(p.Amount)
}

func MinorToMajor(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// PaymentView is a payment joined with its owner's username.
type PaymentView struct {
	Payment
	Username *string `gorm:"column:username"`
}

const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// EventRecord is the audit row kept for every distinct processor event.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:varchar(255);not null;uniqueIndex:ux_payment_webhook_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_payment_webhook_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:varchar(255);not null;index"`
	PaymentID       *snowflake.ID  `json:"payment_id" gorm:"index"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	Outcome         string         `json:"outcome" gorm:"type:text"`
	ProcessingError *string        `json:"processing_error" gorm:"type:text"`
	DeliveryCount   int            `json:"delivery_count" gorm:"not null;default:1"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_webhook_events" }

// Action is what a verified webhook event asks of the payment lifecycle.
type Action int

const (
	ActionIgnore Action = iota
	ActionLogOnly
	ActionMarkPaid
	ActionMarkFailed
)

// WebhookEvent is the canonical event produced by a provider adapter.
type WebhookEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	Action          Action
	ObjectID        string

	// Correlation keys in lookup order. MetadataPaymentID holds the raw
	// metadata value so an unparsable id still counts as a present key.
	MetadataPaymentID string
	SessionID         string
	PaymentIntentID   string

	CustomerEmail  string
	AmountRefunded int64
	DisputedCharge string
	OccurredAt     time.Time
	RawPayload     []byte
}

// HasCorrelationKey reports whether the event names any payment at all.
func (e *WebhookEvent) HasCorrelationKey() bool {
	return e.MetadataPaymentID != "" || e.correlationFallback() != ""
}

func (e *WebhookEvent) correlationFallback() string {
	if e.SessionID != "" {
		return e.SessionID
	}
	return e.PaymentIntentID
}

// WebhookResult describes how an accepted event was handled.
type WebhookResult struct {
	EventType string
	Outcome   string
	PaymentID *snowflake.ID
	Duplicate bool
}

const (
	SourceWebhook     = "webhook"
	SourceSuccessPage = "success_page"
	SourceReconciler  = "reconciler"
)

// StatusChangedEvent is published after every applied transition.
type StatusChangedEvent struct {
	PaymentID       snowflake.ID  `json:"-"`
	UserID          *snowflake.ID `json:"-"`
	Status          Status        `json:"status"`
	Source          string        `json:"source"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency"`
	SessionID       string        `json:"session_id,omitempty"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	OccurredAt      time.Time     `json:"occurred_at"`
}

package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status      Status
	Currency    string
	Query       string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, payment *Payment) error
	SetSessionID(ctx context.Context, db *gorm.DB, id snowflake.ID, sessionID string, now time.Time) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*Payment, error)
	FindBySessionIDForUser(ctx context.Context, db *gorm.DB, sessionID string, userID snowflake.ID) (*Payment, error)
	FindByPaymentIntent(ctx context.Context, db *gorm.DB, intentID string) (*Payment, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Payment, error)
	SumPaidByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
	ListPendingBefore(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Payment, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]PaymentView, int64, error)
	FindViewByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentView, error)

	// MarkPaid moves any non-paid payment to paid and reports whether a row changed.
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID *string, now time.Time) (bool, error)
	// MarkFailed only moves pending payments.
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	AttachPaymentIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID string, now time.Time) (bool, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	IncrementDelivery(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	CompleteEvent(ctx context.Context, db *gorm.DB, id snowflake.ID, update EventCompletion) error
}

type EventCompletion struct {
	PaymentID       *snowflake.ID
	Outcome         string
	ProcessingError *string
	ProcessedAt     time.Time
}

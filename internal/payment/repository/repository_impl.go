package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paydesk/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const paymentColumns = `p.id, p.stripe_session_id, p.stripe_payment_intent, p.user_id,
	p.amount, p.currency, p.status, p.created_at, p.updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, stripe_session_id, stripe_payment_intent, user_id,
			amount, currency, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.StripeSessionID,
		payment.StripePaymentIntent,
		payment.UserID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) SetSessionID(ctx context.Context, db *gorm.DB, id snowflake.ID, sessionID string, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET stripe_session_id = ?, updated_at = ?
		 WHERE id = ?`,
		sessionID,
		now,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db, `p.id = ?`, id)
}

func (r *repo) FindBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `p.stripe_session_id = ?`, sessionID)
}

func (r *repo) FindBySessionIDForUser(ctx context.Context, db *gorm.DB, sessionID string, userID snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db, `p.stripe_session_id = ? AND p.user_id = ?`, sessionID, userID)
}

func (r *repo) FindByPaymentIntent(ctx context.Context, db *gorm.DB, intentID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `p.stripe_payment_intent = ?`, intentID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments p
		 WHERE `+where+`
		 ORDER BY p.created_at DESC
		 LIMIT 1`,
		args...,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments p
		 WHERE p.user_id = ?
		 ORDER BY p.created_at DESC, p.id DESC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumPaidByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var row struct {
		Total int64 `gorm:"column:total"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS total
		 FROM payments
		 WHERE user_id = ? AND status = ?`,
		userID,
		domain.StatusPaid,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.Total, nil
}

func (r *repo) ListPendingBefore(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments p
		 WHERE p.status = ? AND p.created_at < ?
		 ORDER BY p.created_at ASC, p.id ASC
		 LIMIT ?`,
		domain.StatusPending,
		before,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.PaymentView, int64, error) {
	where := []string{"1 = 1"}
	args := []any{}
	if filter.Status != "" {
		where = append(where, "p.status = ?")
		args = append(args, filter.Status)
	}
	if filter.Currency != "" {
		where = append(where, "p.currency = ?")
		args = append(args, filter.Currency)
	}
	if q := strings.ToLower(strings.TrimSpace(filter.Query)); q != "" {
		like := "%" + q + "%"
		where = append(where, `(LOWER(u.username) LIKE ? OR LOWER(p.stripe_session_id) LIKE ? OR LOWER(p.stripe_payment_intent) LIKE ?)`)
		args = append(args, like, like, like)
	}
	if filter.CreatedFrom != nil {
		where = append(where, "p.created_at >= ?")
		args = append(args, *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		where = append(where, "p.created_at < ?")
		args = append(args, *filter.CreatedTo)
	}
	clauseSQL := strings.Join(where, " AND ")

	var count struct {
		Total int64 `gorm:"column:total"`
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS total
		 FROM payments p
		 LEFT JOIN users u ON u.id = p.user_id
		 WHERE `+clauseSQL,
		args...,
	).Scan(&count).Error; err != nil {
		return nil, 0, err
	}

	var items []domain.PaymentView
	pageArgs := append(append([]any{}, args...), filter.Limit, filter.Offset)
	if err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`, u.username
		 FROM payments p
		 LEFT JOIN users u ON u.id = p.user_id
		 WHERE `+clauseSQL+`
		 ORDER BY p.created_at DESC, p.id DESC
		 LIMIT ? OFFSET ?`,
		pageArgs...,
	).Scan(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, count.Total, nil
}

func (r *repo) FindViewByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentView, error) {
	var item domain.PaymentView
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`, u.username
		 FROM payments p
		 LEFT JOIN users u ON u.id = p.user_id
		 WHERE p.id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID *string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?,
		     stripe_payment_intent = COALESCE(stripe_payment_intent, ?),
		     updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.StatusPaid,
		intentID,
		now,
		id,
		domain.StatusPaid,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusFailed,
		now,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AttachPaymentIntent(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID string, now time.Time) (bool, error) {
	if strings.TrimSpace(intentID) == "" {
		return false, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET stripe_payment_intent = ?, updated_at = ?
		 WHERE id = ? AND stripe_payment_intent IS NULL`,
		intentID,
		now,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payment_id, payload,
			outcome, processing_error, delivery_count, received_at, processed_at
		 FROM payment_webhook_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) IncrementDelivery(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_webhook_events
		 SET delivery_count = delivery_count + 1
		 WHERE id = ?`,
		id,
	).Error
}

func (r *repo) CompleteEvent(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.EventCompletion) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_webhook_events
		 SET payment_id = COALESCE(?, payment_id),
		     outcome = ?,
		     processing_error = ?,
		     processed_at = ?
		 WHERE id = ?`,
		update.PaymentID,
		update.Outcome,
		update.ProcessingError,
		update.ProcessedAt,
		id,
	).Error
}

package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/paydesk/internal/payment/domain"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

const (
	signatureHeader  = "Stripe-Signature"
	defaultTolerance = 300 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.WebhookAdapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	return &Adapter{webhookSecret: secret, tolerance: tolerance}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.webhookSecret, a.tolerance); err != nil {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Parse maps a verified event onto the lifecycle action it requests. Event
// types with no lifecycle meaning still parse, with ActionIgnore.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(string(event.Type)) == "" {
		return nil, domain.ErrInvalidEvent
	}

	out := &domain.WebhookEvent{
		Provider:        ProviderName,
		ProviderEventID: event.ID,
		Type:            string(event.Type),
		Action:          domain.ActionIgnore,
		OccurredAt:      timestamp(event.Created),
		RawPayload:      payload,
	}

	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	var err error
	switch out.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		out.Action = domain.ActionMarkPaid
		err = parseCheckoutSession(raw, out)
	case "charge.succeeded":
		out.Action = domain.ActionMarkPaid
		err = parseCharge(raw, out)
	case "charge.failed":
		out.Action = domain.ActionMarkFailed
		err = parseCharge(raw, out)
	case "payment_intent.succeeded":
		out.Action = domain.ActionMarkPaid
		err = parsePaymentIntent(raw, out)
	case "charge.refunded":
		out.Action = domain.ActionLogOnly
		err = parseCharge(raw, out)
	case "charge.dispute.created":
		out.Action = domain.ActionLogOnly
		err = parseDispute(raw, out)
	case "invoice.payment_succeeded":
		out.Action = domain.ActionLogOnly
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseCheckoutSession(raw json.RawMessage, out *domain.WebhookEvent) error {
	var session stripe.CheckoutSession
	if err := unmarshalObject(raw, &session); err != nil {
		return err
	}
	out.ObjectID = session.ID
	out.SessionID = session.ID
	out.MetadataPaymentID = metadataValue(session.Metadata, "payment_id")
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	out.CustomerEmail = session.CustomerEmail
	if out.CustomerEmail == "" && session.CustomerDetails != nil {
		out.CustomerEmail = session.CustomerDetails.Email
	}
	return nil
}

func parseCharge(raw json.RawMessage, out *domain.WebhookEvent) error {
	var charge stripe.Charge
	if err := unmarshalObject(raw, &charge); err != nil {
		return err
	}
	out.ObjectID = charge.ID
	out.MetadataPaymentID = metadataValue(charge.Metadata, "payment_id")
	if charge.PaymentIntent != nil {
		out.PaymentIntentID = charge.PaymentIntent.ID
	}
	out.AmountRefunded = charge.AmountRefunded
	out.CustomerEmail = charge.ReceiptEmail
	return nil
}

func parsePaymentIntent(raw json.RawMessage, out *domain.WebhookEvent) error {
	var intent stripe.PaymentIntent
	if err := unmarshalObject(raw, &intent); err != nil {
		return err
	}
	out.ObjectID = intent.ID
	out.PaymentIntentID = intent.ID
	out.MetadataPaymentID = metadataValue(intent.Metadata, "payment_id")
	out.CustomerEmail = intent.ReceiptEmail
	return nil
}

func parseDispute(raw json.RawMessage, out *domain.WebhookEvent) error {
	var dispute stripe.Dispute
	if err := unmarshalObject(raw, &dispute); err != nil {
		return err
	}
	out.ObjectID = dispute.ID
	if dispute.Charge != nil {
		out.DisputedCharge = dispute.Charge.ID
	}
	return nil
}

func unmarshalObject(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return domain.ErrInvalidPayload
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return domain.ErrInvalidPayload
	}
	return nil
}

func metadataValue(metadata map[string]string, key string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata[key])
}

func timestamp(created int64) time.Time {
	if created == 0 {
		return time.Now().UTC()
	}
	return time.Unix(created, 0).UTC()
}

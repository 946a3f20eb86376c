package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/payment/domain"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"go.uber.org/zap"
)

const ProviderName = "stripe"

// Gateway creates and retrieves hosted Checkout Sessions. The API key is
// bound to this client instead of the package-level stripe.Key.
type Gateway struct {
	api *client.API
	log *zap.Logger
}

func NewGateway(cfg config.Config, log *zap.Logger) domain.Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("stripe")
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	if key == "" {
		log.Warn("stripe secret key is empty, checkout is disabled")
		return &Gateway{log: log}
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Stripe.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     log.Sugar(),
	}
	apiCfg := *backendCfg
	if cfg.Stripe.APIBase != "" {
		apiCfg.URL = stripe.String(cfg.Stripe.APIBase)
	}

	return &Gateway{
		api: client.New(key, &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, &apiCfg),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
		}),
		log: log,
	}
}

func (g *Gateway) Provider() string { return ProviderName }

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req domain.CheckoutSessionRequest) (*domain.CheckoutSession, error) {
	if g.api == nil {
		return nil, domain.ErrGatewayNotReady
	}

	metadata := map[string]string{
		"payment_id": req.PaymentID.String(),
		"user_id":    req.UserID.String(),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.ProductName),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID.String()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout:" + req.PaymentID.String())

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, &domain.CheckoutError{Message: errorMessage(err), Err: err}
	}
	return toCheckoutSession(session), nil
}

func (g *Gateway) GetCheckoutSession(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	if g.api == nil {
		return nil, domain.ErrGatewayNotReady
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	session, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, err
	}
	return toCheckoutSession(session), nil
}

func toCheckoutSession(session *stripe.CheckoutSession) *domain.CheckoutSession {
	out := &domain.CheckoutSession{
		ID:            session.ID,
		URL:           session.URL,
		Status:        string(session.Status),
		PaymentStatus: string(session.PaymentStatus),
	}
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	return out
}

func errorMessage(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && strings.TrimSpace(stripeErr.Msg) != "" {
		return stripeErr.Msg
	}
	return err.Error()
}

package domain

import "errors"

var (
	ErrInvalidProvider   = errors.New("invalid_provider")
	ErrProviderNotFound  = errors.New("provider_not_found")
	ErrInvalidConfig     = errors.New("invalid_config")
	ErrInvalidSignature  = errors.New("invalid_signature")
	ErrInvalidPayload    = errors.New("invalid_payload")
	ErrInvalidEvent      = errors.New("invalid_event")
	ErrEventIgnored      = errors.New("event_ignored")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrUnresolvedPayment = errors.New("webhook references an unknown payment")
	ErrMissingSessionID  = errors.New("session_id parameter required")
	ErrNotPaid           = errors.New("payment is not paid")
	ErrInvalidUser       = errors.New("invalid user")
	ErrGatewayNotReady   = errors.New("payment gateway is not configured")
	ErrInvalidStatus     = errors.New("invalid status filter")
	ErrInvalidDateRange  = errors.New("invalid created date range")
)

// CheckoutError carries the processor's message for a failed session creation.
type CheckoutError struct {
	Message string
	Err     error
}

func (e *CheckoutError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "checkout session could not be created"
}

func (e *CheckoutError) Unwrap() error { return e.Err }

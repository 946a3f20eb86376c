package pdf

import (
	"context"
	"io"
)

// ReceiptData is everything printed on a payment receipt. Amounts are
// already formatted in major units.
type ReceiptData struct {
	MerchantName    string
	ReceiptNumber   string
	DatePaid        string
	CustomerName    string
	CustomerEmail   string
	Description     string
	Amount          string
	Currency        string
	SessionID       string
	PaymentIntentID string
}

type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error)
}

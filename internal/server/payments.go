package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paydesk/internal/config"
	"github.com/smallbiznis/paydesk/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
	"github.com/smallbiznis/paydesk/internal/providers/pdf"
	"go.uber.org/zap"
)

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

type paymentResponse struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Status    string      `json:"status"`
	CreatedAt string      `json:"created_at"`
}

func newPaymentResponse(p paymentdomain.Payment) paymentResponse {
	return paymentResponse{
		ID:        p.ID.String(),
		SessionID: p.SessionID(),
		Amount:    json.Number(p.AmountMajor().StringFixed(2)),
		Currency:  p.Currency,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	result, err := s.paymentSvc.CreateCheckout(c.Request.Context(), paymentdomain.CreateCheckoutRequest{
		UserID:  user.ID,
		Email:   user.Email,
		BaseURL: s.baseURL(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, checkoutResponse{
		CheckoutURL: result.CheckoutURL,
		SessionID:   result.SessionID,
	})
}

// PaymentSuccess confirms the session with the processor when it can and
// always renders the page.
func (s *Server) PaymentSuccess(c *gin.Context) {
	s.loadPrincipal(c)
	payment := s.paymentSvc.ConfirmFromSuccessPage(c.Request.Context(), c.Query("session_id"))
	s.render(c, http.StatusOK, "success.html", gin.H{
		"Title":   "Payment received",
		"Payment": payment,
	})
}

func (s *Server) PaymentCancel(c *gin.Context) {
	s.loadPrincipal(c)
	s.render(c, http.StatusOK, "cancel.html", gin.H{"Title": "Payment cancelled"})
}

func (s *Server) VerifyPayment(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	payment, err := s.paymentSvc.Verify(c.Request.Context(), userID, c.Query("session_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"payment": newPaymentResponse(*payment),
	})
}

func (s *Server) Dashboard(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	dashboard, err := s.paymentSvc.Dashboard(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	product := s.checkoutCatalog()
	s.render(c, http.StatusOK, "dashboard.html", gin.H{
		"Title":                "Dashboard",
		"Payments":             dashboard.Payments,
		"TotalSpent":           dashboard.TotalSpent,
		"ProductName":          product.ProductName,
		"ProductAmount":        product.Amount,
		"ProductCurrency":      product.Currency,
		"StripePublishableKey": s.cfg.Stripe.PublishableKey,
	})
}

func (s *Server) DownloadReceipt(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	ctx := c.Request.Context()

	payment, err := s.paymentSvc.PaidReceipt(ctx, user.ID, c.Query("session_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	reader, err := s.receipts.GenerateReceipt(ctx, pdf.ReceiptData{
		MerchantName:    s.cfg.AppName,
		ReceiptNumber:   payment.ID.String(),
		DatePaid:        payment.UpdatedAt.UTC().Format("January 2, 2006"),
		CustomerName:    user.Username,
		CustomerEmail:   user.Email,
		Description:     s.checkoutCatalog().ProductName,
		Amount:          payment.AmountMajor().StringFixed(2),
		Currency:        payment.Currency,
		SessionID:       payment.SessionID(),
		PaymentIntentID: payment.PaymentIntentID(),
	})
	if err != nil {
		logger.WithContext(ctx, s.log).Error("render receipt failed",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.DataFromReader(http.StatusOK, -1, "application/pdf", reader, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="receipt-%s.pdf"`, payment.ID.String()),
	})
}

func (s *Server) checkoutCatalog() config.CheckoutCatalog {
	if s.catalog == nil {
		return config.DefaultCheckoutCatalog()
	}
	return s.catalog.Get()
}

// baseURL prefers the configured public URL and falls back to the scheme and
// host the request arrived on.
func (s *Server) baseURL(c *gin.Context) string {
	if base := strings.TrimSpace(s.cfg.BaseURL); base != "" {
		return strings.TrimRight(base, "/")
	}
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

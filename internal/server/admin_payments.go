package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
)

type adminPaymentResponse struct {
	paymentResponse
	UserID          string `json:"user_id,omitempty"`
	Username        string `json:"username,omitempty"`
	PaymentIntentID string `json:"payment_intent,omitempty"`
	AmountMinor     int64  `json:"amount_minor"`
	UpdatedAt       string `json:"updated_at"`
}

type listPaymentsResponse struct {
	Data   []adminPaymentResponse `json:"data"`
	Total  int64                  `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

func newAdminPaymentResponse(view paymentdomain.PaymentView) adminPaymentResponse {
	resp := adminPaymentResponse{
		paymentResponse: newPaymentResponse(view.Payment),
		PaymentIntentID: view.PaymentIntentID(),
		AmountMinor:     view.Amount,
		UpdatedAt:       view.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if view.UserID != nil {
		resp.UserID = view.UserID.String()
	}
	if view.Username != nil {
		resp.Username = *view.Username
	}
	return resp
}

func (s *Server) ListPayments(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	offset, err := parseOptionalInt(c.Query("offset"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.paymentSvc.List(c.Request.Context(), paymentdomain.ListRequest{
		Status:      c.Query("status"),
		Currency:    c.Query("currency"),
		Query:       c.Query("q"),
		CreatedFrom: c.Query("created_from"),
		CreatedTo:   c.Query("created_to"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data := make([]adminPaymentResponse, 0, len(result.Payments))
	for _, view := range result.Payments {
		data = append(data, newAdminPaymentResponse(view))
	}
	c.JSON(http.StatusOK, listPaymentsResponse{
		Data:   data,
		Total:  result.Total,
		Limit:  result.Limit,
		Offset: result.Offset,
	})
}

func (s *Server) GetPayment(c *gin.Context) {
	id, ok := parseSnowflakeID(c.Param("id"))
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}

	view, err := s.paymentSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAdminPaymentResponse(*view))
}

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/paydesk/internal/auth/domain"
	paymentdomain "github.com/smallbiznis/paydesk/internal/payment/domain"
	"github.com/smallbiznis/paydesk/internal/payment/webhook"
	"gorm.io/gorm"
)

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrRateLimited        = errors.New("too many checkout attempts, try again later")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrInternal           = errors.New("internal server error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, payload)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorResponse) {
	if err == nil {
		return http.StatusInternalServerError, errorResponse{Error: ErrInternal.Error(), Type: "internal_error"}
	}

	var checkoutErr *paymentdomain.CheckoutError
	switch {
	case errors.As(err, &checkoutErr),
		errors.Is(err, paymentdomain.ErrGatewayNotReady):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Type: "checkout_error"}
	case webhook.IsClientError(err):
		return http.StatusBadRequest, errorResponse{Error: webhookErrorMessage(err), Type: "invalid_webhook"}
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrMissingSessionID),
		errors.Is(err, paymentdomain.ErrInvalidStatus),
		errors.Is(err, paymentdomain.ErrInvalidDateRange):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Type: "invalid_request"}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrInvalidCredentials),
		errors.Is(err, authdomain.ErrInvalidSession),
		errors.Is(err, authdomain.ErrSessionExpired),
		errors.Is(err, authdomain.ErrSessionRevoked),
		errors.Is(err, authdomain.ErrSessionNotFound):
		return http.StatusUnauthorized, errorResponse{Error: "unauthorized", Type: "unauthorized"}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "forbidden", Type: "forbidden"}
	case isNotFoundError(err):
		return http.StatusNotFound, errorResponse{Error: "Payment not found", Type: "not_found"}
	case errors.Is(err, paymentdomain.ErrNotPaid):
		return http.StatusConflict, errorResponse{Error: err.Error(), Type: "conflict"}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorResponse{Error: err.Error(), Type: "rate_limited"}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorResponse{Error: "service unavailable", Type: "service_unavailable"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: ErrInternal.Error(), Type: "internal_error"}
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func webhookErrorMessage(err error) string {
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return "invalid signature"
	case errors.Is(err, paymentdomain.ErrUnresolvedPayment):
		return "unknown payment"
	default:
		return "invalid payload"
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		return "server_error", payload.Type
	}
	return "client_error", payload.Type
}

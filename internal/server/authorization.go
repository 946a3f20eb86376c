package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paydesk/internal/authorization"
	"github.com/smallbiznis/paydesk/internal/observability/logger"
	"go.uber.org/zap"
)

// authorizeAction checks the casbin policy for the signed-in user. Denials
// surface as 404 so staff-only resources are not revealed.
func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrNotFound)
			return
		}

		err := s.authzSvc.Authorize(c.Request.Context(), "user:"+userID.String(), strings.TrimSpace(object), strings.TrimSpace(action))
		if err == nil {
			c.Next()
			return
		}
		if errors.Is(err, authorization.ErrForbidden) || errors.Is(err, authorization.ErrInvalidActor) {
			AbortWithError(c, ErrNotFound)
			return
		}
		logger.WithContext(c.Request.Context(), s.log).Error("authorization check failed",
			zap.String("action", action),
			zap.Error(err),
		)
		AbortWithError(c, err)
	}
}

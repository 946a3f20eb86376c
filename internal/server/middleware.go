package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/paydesk/internal/auth/domain"
	obscontext "github.com/smallbiznis/paydesk/internal/observability/context"
)

const (
	contextPrincipalKey = "principal"
	loginPath           = "/login/"
	dashboardPath       = "/payments/dashboard/"
)

// LoginRequired resolves the session cookie and redirects anonymous callers
// to the login page, remembering where they were going.
func (s *Server) LoginRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := s.loadPrincipal(c); ok {
			c.Next()
			return
		}
		target := loginPath + "?next=" + url.QueryEscape(c.Request.URL.RequestURI())
		c.Redirect(http.StatusFound, target)
		c.Abort()
	}
}

// loadPrincipal authenticates the request once and caches the result on the
// gin context. A stale cookie is cleared.
func (s *Server) loadPrincipal(c *gin.Context) (*authdomain.Principal, bool) {
	if principal, ok := principalFromContext(c); ok {
		return principal, true
	}

	token, ok := s.sessions.ReadToken(c)
	if !ok {
		return nil, false
	}
	principal, err := s.authsvc.Authenticate(c.Request.Context(), token)
	if err != nil || principal == nil || principal.User == nil {
		s.sessions.Clear(c)
		return nil, false
	}

	c.Set(contextPrincipalKey, principal)
	c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), principal.User.ID.String()))
	return principal, true
}

func principalFromContext(c *gin.Context) (*authdomain.Principal, bool) {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(*authdomain.Principal)
	return principal, ok && principal != nil && principal.User != nil
}

func currentUser(c *gin.Context) (*authdomain.User, bool) {
	principal, ok := principalFromContext(c)
	if !ok {
		return nil, false
	}
	return principal.User, true
}

func currentUserID(c *gin.Context) (snowflake.ID, bool) {
	user, ok := currentUser(c)
	if !ok {
		return 0, false
	}
	return user.ID, true
}

// safeNext only follows same-site relative paths.
func safeNext(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return dashboardPath
	}
	return raw
}

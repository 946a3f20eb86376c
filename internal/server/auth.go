package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/paydesk/internal/auth/domain"
	"github.com/smallbiznis/paydesk/internal/observability/logger"
	"go.uber.org/zap"
)

var registrationErrors = []error{
	authdomain.ErrInvalidUsername,
	authdomain.ErrInvalidEmail,
	authdomain.ErrPasswordTooShort,
	authdomain.ErrPasswordMismatch,
	authdomain.ErrUserExists,
}

func (s *Server) Home(c *gin.Context) {
	if _, ok := s.loadPrincipal(c); ok {
		c.Redirect(http.StatusFound, dashboardPath)
		return
	}
	s.render(c, http.StatusOK, "home.html", gin.H{"Title": "Home"})
}

func (s *Server) RegisterPage(c *gin.Context) {
	if _, ok := s.loadPrincipal(c); ok {
		c.Redirect(http.StatusFound, dashboardPath)
		return
	}
	s.render(c, http.StatusOK, "register.html", gin.H{"Title": "Register"})
}

func (s *Server) Register(c *gin.Context) {
	if _, ok := s.loadPrincipal(c); ok {
		c.Redirect(http.StatusFound, dashboardPath)
		return
	}

	ctx := c.Request.Context()
	username := strings.TrimSpace(c.PostForm("username"))
	email := strings.TrimSpace(c.PostForm("email"))
	page := gin.H{"Title": "Register", "Username": username, "Email": email}

	user, err := s.authsvc.Register(ctx, authdomain.RegisterRequest{
		Username:        username,
		Email:           email,
		Password:        c.PostForm("password1"),
		PasswordConfirm: c.PostForm("password2"),
	})
	if err != nil {
		for _, known := range registrationErrors {
			if errors.Is(err, known) {
				page["Error"] = known.Error()
				s.render(c, http.StatusBadRequest, "register.html", page)
				return
			}
		}
		logger.WithContext(ctx, s.log).Error("register user failed", zap.Error(err))
		page["Error"] = "Registration is unavailable right now, please try again."
		s.render(c, http.StatusInternalServerError, "register.html", page)
		return
	}

	result, err := s.authsvc.StartSession(ctx, user, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		logger.WithContext(ctx, s.log).Error("start session after register failed", zap.Error(err))
		c.Redirect(http.StatusFound, loginPath)
		return
	}
	s.sessions.Set(c, result.RawToken, result.ExpiresAt)
	c.Redirect(http.StatusFound, dashboardPath)
}

func (s *Server) LoginPage(c *gin.Context) {
	next := safeNext(c.Query("next"))
	if _, ok := s.loadPrincipal(c); ok {
		c.Redirect(http.StatusFound, next)
		return
	}
	s.render(c, http.StatusOK, "login.html", gin.H{"Title": "Log in", "Next": next})
}

func (s *Server) Login(c *gin.Context) {
	ctx := c.Request.Context()
	next := safeNext(c.PostForm("next"))
	if _, ok := s.loadPrincipal(c); ok {
		c.Redirect(http.StatusFound, next)
		return
	}

	username := strings.TrimSpace(c.PostForm("username"))
	result, err := s.authsvc.Login(ctx, authdomain.LoginRequest{
		Username:  username,
		Password:  c.PostForm("password"),
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		page := gin.H{"Title": "Log in", "Next": next, "Username": username}
		if errors.Is(err, authdomain.ErrInvalidCredentials) {
			page["Error"] = "Invalid credentials"
			s.render(c, http.StatusUnauthorized, "login.html", page)
			return
		}
		logger.WithContext(ctx, s.log).Error("login failed", zap.Error(err))
		page["Error"] = "Login is unavailable right now, please try again."
		s.render(c, http.StatusInternalServerError, "login.html", page)
		return
	}

	s.sessions.Set(c, result.RawToken, result.ExpiresAt)
	c.Redirect(http.StatusFound, next)
}

func (s *Server) Logout(c *gin.Context) {
	if token, ok := s.sessions.ReadToken(c); ok {
		if err := s.authsvc.Logout(c.Request.Context(), token); err != nil {
			logger.WithContext(c.Request.Context(), s.log).Warn("logout failed", zap.Error(err))
		}
	}
	s.sessions.Clear(c)
	c.Redirect(http.StatusFound, loginPath)
}

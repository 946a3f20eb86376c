package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/paydesk/internal/auth/domain"
	"github.com/smallbiznis/paydesk/internal/auth/repository"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/pkg/db"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (authdomain.Service, *clock.FakeClock) {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo, sessionRepo := repository.New(dbConn)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	return New(Params{
		Log:         zap.NewNop(),
		Repo:        repo,
		SessionRepo: sessionRepo,
		GenID:       node,
		Clock:       clk,
	}), clk
}

func TestRegisterValidatesForm(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  authdomain.RegisterRequest
		want error
	}{
		{"missing email", authdomain.RegisterRequest{Username: "alice", Password: "password1", PasswordConfirm: "password1"}, authdomain.ErrInvalidEmail},
		{"bad email", authdomain.RegisterRequest{Username: "alice", Email: "nope", Password: "password1", PasswordConfirm: "password1"}, authdomain.ErrInvalidEmail},
		{"mismatch", authdomain.RegisterRequest{Username: "alice", Email: "a@example.com", Password: "password1", PasswordConfirm: "password2"}, authdomain.ErrPasswordMismatch},
		{"short", authdomain.RegisterRequest{Username: "alice", Email: "a@example.com", Password: "short", PasswordConfirm: "short"}, authdomain.ErrPasswordTooShort},
		{"bad username", authdomain.RegisterRequest{Username: "al ice", Email: "a@example.com", Password: "password1", PasswordConfirm: "password1"}, authdomain.ErrInvalidUsername},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	req := authdomain.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "password1", PasswordConfirm: "password1"}
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.IsStaff {
		t.Fatalf("registered users must not be staff")
	}
	if _, err := svc.Register(ctx, req); !errors.Is(err, authdomain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, authdomain.CreateUserRequest{Username: "bob", Password: "correct-password"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	_, err := svc.Login(ctx, authdomain.LoginRequest{Username: "bob", Password: "wrong-password"})
	if err != authdomain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	_, err = svc.Login(ctx, authdomain.LoginRequest{Username: "nobody", Password: "correct-password"})
	if err != authdomain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestLoginAuthenticateLogout(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, authdomain.CreateUserRequest{Username: "carol", Email: "Carol@Example.com", Password: "correct-password", IsStaff: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.Email != "carol@example.com" {
		t.Fatalf("expected normalized email, got %q", created.Email)
	}

	result, err := svc.Login(ctx, authdomain.LoginRequest{Username: "carol", Password: "correct-password"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.RawToken == "" {
		t.Fatalf("expected raw token")
	}

	principal, err := svc.Authenticate(ctx, result.RawToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.User.ID != created.ID || !principal.User.IsStaff {
		t.Fatalf("unexpected principal %+v", principal.User)
	}

	if err := svc.Logout(ctx, result.RawToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Authenticate(ctx, result.RawToken); err != authdomain.ErrSessionRevoked {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	if err := svc.Logout(ctx, result.RawToken); err != nil {
		t.Fatalf("second logout should be a no-op, got %v", err)
	}
}

func TestAuthenticateExpiredSession(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, authdomain.CreateUserRequest{Username: "dave", Password: "correct-password"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	result, err := svc.Login(ctx, authdomain.LoginRequest{Username: "dave", Password: "correct-password"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	clk.Advance(sessionTTL + time.Minute)
	if _, err := svc.Authenticate(ctx, result.RawToken); err != authdomain.ErrSessionExpired {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "unknown"); err != authdomain.ErrInvalidSession {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Register validates a sign-up form and creates a non-staff user.
	Register(ctx context.Context, req RegisterRequest) (*User, error)
	// CreateUser creates a user without form confirmation; used by the CLI.
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	// StartSession opens a session for an already verified user.
	StartSession(ctx context.Context, user *User, userAgent, ipAddress string) (*LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	Authenticate(ctx context.Context, rawToken string) (*Principal, error)
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
}

type RegisterRequest struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
}

type CreateUserRequest struct {
	Username string
	Email    string
	Password string
	IsStaff  bool
}

type LoginRequest struct {
	Username  string
	Password  string
	UserAgent string
	IPAddress string
}

type LoginResult struct {
	User      *User
	RawToken  string
	ExpiresAt time.Time
	SessionID snowflake.ID
}

// Principal is the authenticated caller resolved from a session cookie.
type Principal struct {
	Session *Session
	User    *User
}

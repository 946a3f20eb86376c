package domain

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidUsername    = errors.New("enter a valid username: 150 characters or fewer, letters, digits and @/./+/-/_ only")
	ErrInvalidEmail       = errors.New("enter a valid email address")
	ErrPasswordTooShort   = errors.New("password must contain at least 8 characters")
	ErrPasswordMismatch   = errors.New("the two password fields didn't match")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("a user with that username already exists")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrInvalidSession     = errors.New("invalid session")
)

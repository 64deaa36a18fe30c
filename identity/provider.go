// Package identity defines the narrow contract the session layer needs from an
// external identity provider, plus an in-process fixture implementation.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellarion/api/internal/rbac"
)

// User is the provider's view of an authenticated identity.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Role        rbac.Role // role recorded on the account at sign-up; empty when unknown
}

// NewAccount is the sign-up input handed to the provider.
type NewAccount struct {
	Email    string
	Password string
	Role     rbac.Role
}

// StateListener receives the current user (nil when signed out).
type StateListener func(user *User)

// Provider is one client of the identity backend, scoped to a single browser context.
//
// OnAuthStateChanged must notify the listener once with the current state right after
// subscription, and again on every later sign-in or sign-out.
//
// CreateUser signs the new account in. When the account exists but needs confirming
// first, it returns the new user together with a CodeUserNotConfirmed error.
type Provider interface {
	CreateUser(ctx context.Context, account NewAccount) (*User, error)
	SignIn(ctx context.Context, email, password string) (*User, error)
	SignOut(ctx context.Context) error
	UpdateDisplayName(ctx context.Context, displayName string) error
	OnAuthStateChanged(listener StateListener) (unsubscribe func())
}

// Factory builds a fresh Provider client for a new browser context.
type Factory func() Provider

// Credential rejection codes shared by every backend.
const (
	CodeEmailInUse        = "email-already-in-use"
	CodeWeakPassword      = "weak-password"
	CodeInvalidEmail      = "invalid-email"
	CodeInvalidCredential = "invalid-credential"
	CodeUserNotConfirmed  = "user-not-confirmed"
	CodeTooManyRequests   = "too-many-requests"
	CodeNotSignedIn       = "not-signed-in"
)

// MinPasswordLength is the shortest password any backend accepts.
const MinPasswordLength = 6

// ErrCredential matches every *CredentialError via errors.Is.
var ErrCredential = errors.New("credential rejected")

// CredentialError is returned when the provider rejects sign-up or sign-in input.
// Message is safe to show to the user.
type CredentialError struct {
	Code    string
	Message string
	Err     error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the provider error, if any.
func (e *CredentialError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrCredential) match.
func (e *CredentialError) Is(target error) bool {
	return target == ErrCredential
}

// NewCredentialError creates a credential rejection.
func NewCredentialError(code, message string, err error) *CredentialError {
	return &CredentialError{Code: code, Message: message, Err: err}
}

// IsCredentialError reports whether err is a provider credential rejection.
func IsCredentialError(err error) bool {
	var credErr *CredentialError
	return errors.As(err, &credErr)
}

// HasCode reports whether err is a credential rejection with the given code.
func HasCode(err error, code string) bool {
	var credErr *CredentialError
	return errors.As(err, &credErr) && credErr.Code == code
}

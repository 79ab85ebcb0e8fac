// Package identity adapts the external identity provider: it verifies the
// provider's ID tokens, keeps the signed-in session and publishes identity
// changes.
package identity

import (
	"context"
	"errors"
)

// Identity is the authenticated principal as reported by the provider.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Change is one identity-changed notification. A nil Identity with a nil Err
// means signed out; a non-nil Err is a provider stream failure.
type Change struct {
	Identity *Identity
	Err      error
}

// Provider is the identity provider boundary.
type Provider interface {
	// Changes emits the current identity immediately and then every change
	// until ctx ends, when the channel is closed.
	Changes(ctx context.Context) (<-chan Change, error)
	// SignIn runs the interactive sign-in. Success is reported through
	// Changes, not by the return value.
	SignIn(ctx context.Context) error
	SignOut(ctx context.Context) error
}

// Cause classifies sign-in failures.
type Cause int

const (
	CauseOther Cause = iota
	CauseConfigurationMissing
	CauseProviderDisabled
	CauseUserCancelled
	CauseDomainUnauthorized
)

func (c Cause) String() string {
	switch c {
	case CauseConfigurationMissing:
		return "configuration_missing"
	case CauseProviderDisabled:
		return "provider_disabled"
	case CauseUserCancelled:
		return "user_cancelled"
	case CauseDomainUnauthorized:
		return "domain_unauthorized"
	default:
		return "other"
	}
}

type Error struct {
	Cause Cause
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Cause.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(cause Cause, err error) *Error {
	return &Error{Cause: cause, Err: err}
}

// ErrCancelled is returned by a token source when the user backs out.
var ErrCancelled = errors.New("sign-in cancelled")

// Classify returns the cause carried by err, treating cancellation as
// CauseUserCancelled.
func Classify(err error) Cause {
	var e *Error
	if errors.As(err, &e) {
		return e.Cause
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return CauseUserCancelled
	}
	return CauseOther
}

// Message turns a sign-in failure into user-facing text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	switch Classify(err) {
	case CauseConfigurationMissing:
		return "Sign-in is not configured for this workspace. Set auth.jwt_secret to the identity provider's signing secret."
	case CauseProviderDisabled:
		return "Sign-in with the identity provider is disabled in the configuration. Enable it under auth.disabled."
	case CauseUserCancelled:
		return "Sign-in was cancelled before completion."
	case CauseDomainUnauthorized:
		return "This email domain is not authorized to sign in. Add it to auth.authorized_domains."
	default:
		return err.Error()
	}
}

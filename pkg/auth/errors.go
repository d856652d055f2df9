package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure so callers can decide between
// retrying, restarting the device-code flow, or surfacing the condition to
// the user in plain language.
type Kind int

const (
	// KindConfig is a fatal misconfiguration (e.g. missing client id).
	// Never retried.
	KindConfig Kind = iota + 1

	// KindNetwork is a transient transport failure. The caller may retry
	// the same operation.
	KindNetwork

	// KindSessionExpired means the device-code session lapsed before the
	// user completed login. Restart authentication.
	KindSessionExpired

	// KindAccessDenied means the user declined the authorization request.
	KindAccessDenied

	// KindReauthRequired means the refresh token is absent or revoked;
	// the full device-code flow must be run again.
	KindReauthRequired

	// KindUnauthenticated means no completed session exists at all.
	KindUnauthenticated

	// KindRateLimited means the provider or resource API throttled us and
	// bounded retries were exhausted.
	KindRateLimited

	// KindUnexpected is an unclassified provider response.
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindNetwork:
		return "network"
	case KindSessionExpired:
		return "session_expired"
	case KindAccessDenied:
		return "access_denied"
	case KindReauthRequired:
		return "reauth_required"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindRateLimited:
		return "rate_limited"
	case KindUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Error is the typed failure crossing the auth package boundary. Raw
// transport and provider errors are translated into one of these before
// they reach the caller.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError constructs a typed Error. Collaborators translating their own
// failures into the shared taxonomy use this too.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError constructs a typed Error wrapping an underlying cause.
func WrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the classification of err, or KindUnexpected if err does
// not carry one.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnexpected
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

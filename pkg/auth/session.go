package auth

import "time"

// SessionStatus is the lifecycle state of a device-code session. pending is
// the only non-terminal state; there is no transition back from a terminal
// state.
type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusSucceeded SessionStatus = "succeeded"
	StatusExpired   SessionStatus = "expired"
	StatusDenied    SessionStatus = "denied"
)

// AuthSession describes one in-flight device-code login attempt. It is
// created by Provider.Begin and advanced by Poller.PollOnce; polling never
// mutates a session in place, it returns an updated copy so transitions
// stay explicit.
type AuthSession struct {
	// DeviceCode is the opaque code used server-side for polling. Never
	// shown to the user.
	DeviceCode string

	// UserCode is the short code the user types at the verification page.
	UserCode string

	// VerificationURI is the page the user visits to enter the code.
	VerificationURI string

	// VerificationURIComplete, when the provider supplies it, embeds the
	// user code in the URI.
	VerificationURIComplete string

	// ExpiresAt is when the session becomes void on the provider side.
	ExpiresAt time.Time

	// Interval is the minimum wait between polls. The provider may
	// instruct the client to increase it (slow_down).
	Interval time.Duration

	// Status is pending until a terminal transition.
	Status SessionStatus
}

// Terminal reports whether the session has left the pending state.
func (s *AuthSession) Terminal() bool {
	return s.Status != StatusPending
}

// ExpiredAt reports whether the session is void at the given instant.
func (s *AuthSession) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

func (s *AuthSession) withStatus(status SessionStatus) *AuthSession {
	next := *s
	next.Status = status
	return &next
}

package auth

import (
	"context"
	"strings"
	"time"
)

// slowDownIncrement is the minimum amount added to the poll interval when
// the provider answers slow_down. Skipping the increase risks provider-side
// throttling, so it is a correctness requirement, not a tuning knob.
const slowDownIncrement = 5 * time.Second

// defaultAccountID keys the cache when the token response carries no ID
// token to derive the principal from.
const defaultAccountID = "default"

// Poller drives a device-code session to a terminal state. It owns the
// session for the duration of one login attempt; the session is discarded
// once it leaves pending.
type Poller struct {
	provider *Provider
	store    TokenStore
	clock    Clock
}

// NewPoller returns a Poller that writes the resulting token record through
// the given store on success.
func NewPoller(provider *Provider, store TokenStore) *Poller {
	return &Poller{provider: provider, store: store, clock: provider.clock}
}

// PollOnce performs a single poll against the token endpoint and returns an
// updated copy of the session; the input is never mutated. When the session
// reaches succeeded, the token record built from the provider payload is
// returned alongside and has already been written to the store.
func (p *Poller) PollOnce(ctx context.Context, session *AuthSession) (*AuthSession, *TokenRecord, error) {
	if session.Terminal() {
		return session, nil, nil
	}
	if session.ExpiredAt(p.clock.Now()) {
		return session.withStatus(StatusExpired), nil, nil
	}

	payload, err := p.provider.pollToken(ctx, session.DeviceCode)
	if err != nil {
		return session, nil, err
	}

	switch payload.Error {
	case "":
		record, err := p.storeToken(payload)
		if err != nil {
			return session, nil, err
		}
		return session.withStatus(StatusSucceeded), record, nil
	case "authorization_pending":
		return session.withStatus(StatusPending), nil, nil
	case "slow_down":
		next := session.withStatus(StatusPending)
		next.Interval += slowDownIncrement
		return next, nil, nil
	case "expired_token":
		return session.withStatus(StatusExpired), nil, nil
	case "access_denied", "authorization_declined":
		return session.withStatus(StatusDenied), nil, nil
	default:
		return session, nil, NewError(KindUnexpected, "device token error: %s (%s)", payload.Error, payload.ErrorDesc)
	}
}

// DriveToCompletion polls until the session reaches a terminal state,
// honoring the session's poll interval between attempts. The loop is
// bounded by the session's own expiry, and additionally by maxWait when it
// is positive. Cancelling ctx abandons the attempt; the session expires on
// the provider side on its own and needs no cleanup.
func (p *Poller) DriveToCompletion(ctx context.Context, session *AuthSession, maxWait time.Duration) (TokenRecord, error) {
	deadline := session.ExpiresAt
	if maxWait > 0 {
		if waitLimit := p.clock.Now().Add(maxWait); deadline.IsZero() || waitLimit.Before(deadline) {
			deadline = waitLimit
		}
	}

	current := session
	for {
		next, record, err := p.PollOnce(ctx, current)
		if err != nil {
			return TokenRecord{}, err
		}
		current = next

		switch current.Status {
		case StatusSucceeded:
			return *record, nil
		case StatusExpired:
			return TokenRecord{}, NewError(KindSessionExpired, "device code session expired; please restart authentication")
		case StatusDenied:
			return TokenRecord{}, NewError(KindAccessDenied, "authorization was denied; please restart authentication")
		}

		if !deadline.IsZero() && p.clock.Now().After(deadline) {
			return TokenRecord{}, NewError(KindSessionExpired, "timed out waiting for authentication; please restart authentication")
		}

		select {
		case <-ctx.Done():
			return TokenRecord{}, ctx.Err()
		case <-p.clock.After(current.Interval):
		}
	}
}

// storeToken converts a successful token payload into a TokenRecord and
// persists it under the authenticated principal's account id.
func (p *Poller) storeToken(payload *tokenResponse) (*TokenRecord, error) {
	account := accountIDFromIDToken(payload.IDToken)
	if account == "" {
		account = defaultAccountID
	}
	expiry := time.Time{}
	if payload.ExpiresIn > 0 {
		expiry = p.clock.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	record := TokenRecord{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
		ExpiresAt:    expiry,
		Scopes:       strings.Fields(payload.Scope),
		AccountID:    account,
	}
	if err := p.store.Store(account, record); err != nil {
		return nil, WrapError(KindUnexpected, err, "failed to persist token record")
	}
	return &record, nil
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// RefreshMargin is how far ahead of expiry a token is considered stale.
// Inside the margin a refresh-grant request is made; outside it the record
// is returned with no network call.
const RefreshMargin = 2 * time.Minute

// Refresher turns a possibly-stale token record into a guaranteed-valid
// one. Refresh is lazy: nothing happens in the background, a record is only
// refreshed when a caller asks for it within the margin. Concurrent
// refreshes for the same account coalesce into a single refresh-grant call;
// late arrivals reuse the in-flight result instead of issuing their own,
// which also avoids refresh-token rotation races.
type Refresher struct {
	provider *Provider
	store    TokenStore
	clock    Clock
	margin   time.Duration
	group    singleflight.Group
	log      *zap.SugaredLogger
}

// NewRefresher returns a Refresher writing refreshed records through the
// given store.
func NewRefresher(provider *Provider, store TokenStore, log *zap.SugaredLogger) *Refresher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Refresher{
		provider: provider,
		store:    store,
		clock:    provider.clock,
		margin:   RefreshMargin,
		log:      log,
	}
}

// EnsureValid returns record unchanged when its expiry is comfortably in
// the future, otherwise it performs a refresh grant and persists the new
// record before returning it.
func (r *Refresher) EnsureValid(ctx context.Context, record TokenRecord) (TokenRecord, error) {
	if record.ValidFor(r.clock.Now(), r.margin) {
		return record, nil
	}
	return r.refresh(ctx, record)
}

// ForceRefresh performs a refresh grant even when the record looks valid.
// Used after the resource API rejects a just-validated token (clock skew,
// server-side revocation).
func (r *Refresher) ForceRefresh(ctx context.Context, record TokenRecord) (TokenRecord, error) {
	return r.refresh(ctx, record)
}

func (r *Refresher) refresh(ctx context.Context, record TokenRecord) (TokenRecord, error) {
	result, err, _ := r.group.Do(record.AccountID, func() (any, error) {
		// Another caller may have refreshed while we waited for the
		// flight slot; reuse its result rather than rotating again.
		if stored, ok, _ := r.store.Load(record.AccountID); ok &&
			stored.AccessToken != record.AccessToken &&
			stored.ValidFor(r.clock.Now(), r.margin) {
			return stored, nil
		}

		if record.RefreshToken == "" {
			return TokenRecord{}, NewError(KindReauthRequired, "no refresh token available; please restart authentication")
		}

		cfg, err := r.provider.oauthConfig(ctx)
		if err != nil {
			return TokenRecord{}, err
		}

		// The refresh grant must go through the provider's configured
		// transport, not oauth2's http.DefaultClient fallback.
		grantCtx := context.WithValue(ctx, oauth2.HTTPClient, r.provider.http)

		// The expiry handed to the token source is forced into the past
		// so the source always performs the refresh grant instead of
		// returning the current access token.
		source := cfg.TokenSource(grantCtx, &oauth2.Token{
			AccessToken:  record.AccessToken,
			RefreshToken: record.RefreshToken,
			TokenType:    record.TokenType,
			Expiry:       r.clock.Now().Add(-time.Minute),
		})
		refreshed, err := source.Token()
		if err != nil {
			return TokenRecord{}, r.classifyRefreshError(err, record.AccountID)
		}

		next := TokenRecord{
			AccessToken:  refreshed.AccessToken,
			RefreshToken: record.RefreshToken,
			TokenType:    refreshed.TokenType,
			ExpiresAt:    refreshed.Expiry,
			Scopes:       record.Scopes,
			AccountID:    record.AccountID,
		}
		if refreshed.RefreshToken != "" {
			next.RefreshToken = refreshed.RefreshToken
		}
		// Refresh and persistence are one step from the caller's view.
		if err := r.store.Store(record.AccountID, next); err != nil {
			return TokenRecord{}, WrapError(KindUnexpected, err, "failed to persist refreshed token")
		}
		return next, nil
	})
	if err != nil {
		return TokenRecord{}, err
	}
	return result.(TokenRecord), nil
}

func (r *Refresher) classifyRefreshError(err error, accountID string) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		if retrieve.ErrorCode == "invalid_grant" {
			return WrapError(KindReauthRequired, err, "refresh token rejected; please restart authentication")
		}
		if retrieve.Response != nil && retrieve.Response.StatusCode >= http.StatusInternalServerError {
			return WrapError(KindNetwork, err, "token refresh failed")
		}
		r.log.Errorw("unexpected token refresh failure",
			"account", accountID,
			"oauth_error", retrieve.ErrorCode,
			"description", retrieve.ErrorDescription,
		)
		return WrapError(KindUnexpected, err, "token refresh failed")
	}
	return WrapError(KindNetwork, err, "token refresh failed")
}

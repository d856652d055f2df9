package auth

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StatusState summarizes whether a usable credential exists.
type StatusState string

const (
	// StateAuthenticated means a token valid beyond the refresh margin
	// exists.
	StateAuthenticated StatusState = "authenticated"

	// StateNearExpiry means the token is inside the refresh margin (or
	// past expiry) but a refresh token is available, so the next request
	// will refresh it transparently.
	StateNearExpiry StatusState = "near_expiry"

	// StateUnauthenticated means no usable credential exists; the
	// device-code flow must be run.
	StateUnauthenticated StatusState = "unauthenticated"
)

// Status reports the credential state for the active account.
type Status struct {
	State           StatusState `json:"state"`
	Account         string      `json:"account,omitempty"`
	ExpiresAt       time.Time   `json:"expires_at,omitempty"`
	HasRefreshToken bool        `json:"has_refresh_token,omitempty"`
}

// ManagerConfig configures an auth Manager.
type ManagerConfig struct {
	// Authority is the identity provider base URL. Defaults to the
	// Microsoft multi-tenant authority.
	Authority string

	// ClientID identifies the application at the provider. Required.
	ClientID string

	// Scopes requested during the device-code grant.
	Scopes []string

	// Store holds token records. Required.
	Store TokenStore

	// HTTPClient overrides the provider transport (tests).
	HTTPClient *http.Client

	// Clock overrides wall-clock time (tests).
	Clock Clock

	// Logger receives structured diagnostics. Token values are never
	// logged.
	Logger *zap.SugaredLogger
}

// Manager owns the authentication lifecycle: it begins device-code logins,
// drives them to completion, answers status queries, and hands validated
// tokens to the request executor. It is passed explicitly to every
// collaborator that needs authorization; there is no ambient global state.
//
// Beginning and completing a login are separate calls so a host can show
// the user code first and finish the flow on a later invocation, however
// long the user takes in between.
type Manager struct {
	provider  *Provider
	poller    *Poller
	refresher *Refresher
	store     TokenStore
	scopes    []string
	clock     Clock
	log       *zap.SugaredLogger

	mu      sync.Mutex
	session *AuthSession
	account string
}

// NewManager validates the configuration and wires the auth components.
// A missing client id is a fatal misconfiguration, reported immediately.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.ClientID == "" {
		return nil, NewError(KindConfig, "client id is not configured (set CLIENT_ID)")
	}
	if cfg.Store == nil {
		return nil, NewError(KindConfig, "token store is not configured")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	opts := []ProviderOption{}
	if cfg.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Clock != nil {
		opts = append(opts, WithClock(cfg.Clock))
	}
	provider := NewProvider(cfg.Authority, cfg.ClientID, opts...)

	return &Manager{
		provider:  provider,
		poller:    NewPoller(provider, cfg.Store),
		refresher: NewRefresher(provider, cfg.Store, log),
		store:     cfg.Store,
		scopes:    cfg.Scopes,
		clock:     provider.clock,
		log:       log,
	}, nil
}

// BeginLogin starts a device-code session and remembers it for a later
// CompleteLogin. The returned session carries the user code and
// verification URI to display.
func (m *Manager) BeginLogin(ctx context.Context) (*AuthSession, error) {
	session, err := m.provider.Begin(ctx, m.scopes)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	m.log.Infow("device code session started",
		"verification_uri", session.VerificationURI,
		"expires_at", session.ExpiresAt,
	)
	return session, nil
}

// CompleteLogin drives the pending session to a terminal result. On
// success the token record has been persisted and the session is
// discarded. Expired or denied outcomes also discard the session; the
// flow must be restarted. Transient failures keep the session so the
// caller can complete later.
func (m *Manager) CompleteLogin(ctx context.Context, maxWait time.Duration) (TokenRecord, error) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return TokenRecord{}, NewError(KindUnauthenticated, "no authentication flow in progress; begin authentication first")
	}

	record, err := m.poller.DriveToCompletion(ctx, session, maxWait)
	if err != nil {
		if IsKind(err, KindSessionExpired) || IsKind(err, KindAccessDenied) {
			m.mu.Lock()
			m.session = nil
			m.mu.Unlock()
		}
		return TokenRecord{}, err
	}

	m.mu.Lock()
	m.session = nil
	m.account = record.AccountID
	m.mu.Unlock()

	m.log.Infow("authentication completed",
		"account", record.AccountID,
		"expires_at", record.ExpiresAt,
	)
	return record, nil
}

// Session returns the pending login session, if any.
func (m *Manager) Session() *AuthSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Status reports the credential state for the active account without
// triggering a refresh.
func (m *Manager) Status() (Status, error) {
	account, record, ok, err := m.activeRecord()
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{State: StateUnauthenticated}, nil
	}

	status := Status{
		Account:         account,
		ExpiresAt:       record.ExpiresAt,
		HasRefreshToken: record.RefreshToken != "",
	}
	switch {
	case record.ValidFor(m.clock.Now(), RefreshMargin):
		status.State = StateAuthenticated
	case record.RefreshToken != "":
		status.State = StateNearExpiry
	case record.ValidFor(m.clock.Now(), 0):
		status.State = StateNearExpiry
	default:
		status.State = StateUnauthenticated
	}
	return status, nil
}

// Token returns a guaranteed-valid token record for the active account,
// refreshing it first when needed. Absent credentials surface as
// Unauthenticated.
func (m *Manager) Token(ctx context.Context) (TokenRecord, error) {
	_, record, ok, err := m.activeRecord()
	if err != nil {
		return TokenRecord{}, err
	}
	if !ok {
		return TokenRecord{}, NewError(KindUnauthenticated, "not authenticated; begin authentication first")
	}
	return m.refresher.EnsureValid(ctx, record)
}

// ForceRefresh refreshes the active account's token regardless of expiry.
// Used by the executor after the resource API rejects a validated token.
func (m *Manager) ForceRefresh(ctx context.Context) (TokenRecord, error) {
	_, record, ok, err := m.activeRecord()
	if err != nil {
		return TokenRecord{}, err
	}
	if !ok {
		return TokenRecord{}, NewError(KindUnauthenticated, "not authenticated; begin authentication first")
	}
	return m.refresher.ForceRefresh(ctx, record)
}

// Logout removes all cached credentials. Clearing an empty cache is not an
// error.
func (m *Manager) Logout() error {
	accounts, err := m.store.Accounts()
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if err := m.store.Clear(account); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.account = ""
	m.mu.Unlock()

	m.log.Infow("cached credentials cleared", "accounts", len(accounts))
	return nil
}

// activeRecord resolves the account to operate on: the one from the last
// completed login in this process, else the single account found in the
// store (covers restarts).
func (m *Manager) activeRecord() (string, TokenRecord, bool, error) {
	m.mu.Lock()
	account := m.account
	m.mu.Unlock()

	if account == "" {
		accounts, err := m.store.Accounts()
		if err != nil {
			return "", TokenRecord{}, false, err
		}
		if len(accounts) == 0 {
			return "", TokenRecord{}, false, nil
		}
		account = accounts[0]
		m.mu.Lock()
		m.account = account
		m.mu.Unlock()
	}

	record, ok, err := m.store.Load(account)
	if err != nil {
		return account, TokenRecord{}, false, err
	}
	return account, record, ok, nil
}

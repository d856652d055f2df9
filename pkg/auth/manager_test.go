package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, serverURL string, store TokenStore, clock Clock) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerConfig{
		Authority: serverURL,
		ClientID:  "client-id",
		Scopes:    []string{"openid", "offline_access"},
		Store:     store,
		Clock:     clock,
	})
	require.NoError(t, err)
	return manager
}

func TestNewManagerRequiresClientID(t *testing.T) {
	_, err := NewManager(ManagerConfig{Store: NewMemoryStore()})
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
	assert.Contains(t, err.Error(), "CLIENT_ID")
}

func TestNewManagerRequiresStore(t *testing.T) {
	_, err := NewManager(ManagerConfig{ClientID: "client-id"})
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestManagerLoginFlow(t *testing.T) {
	server, _ := newFakeProvider(t, func(w http.ResponseWriter, call int32) {
		if call == 1 {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access",
			"refresh_token": "refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})

	clock := &fakeClock{now: time.Now()}
	store := NewMemoryStore()
	manager := newTestManager(t, server.URL, store, clock)

	session, err := manager.BeginLogin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", session.UserCode)
	assert.NotNil(t, manager.Session())

	record, err := manager.CompleteLogin(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "access", record.AccessToken)

	// The session is consumed on success.
	assert.Nil(t, manager.Session())

	status, err := manager.Status()
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, status.State)
	assert.Equal(t, defaultAccountID, status.Account)
	assert.True(t, status.HasRefreshToken)
}

func TestCompleteLoginWithoutSession(t *testing.T) {
	server, _ := newFakeProvider(t, func(w http.ResponseWriter, _ int32) {})
	manager := newTestManager(t, server.URL, NewMemoryStore(), nil)

	_, err := manager.CompleteLogin(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, KindUnauthenticated, KindOf(err))
}

func TestCompleteLoginDeniedDiscardsSession(t *testing.T) {
	server, _ := newFakeProvider(t, func(w http.ResponseWriter, _ int32) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "access_denied"})
	})

	clock := &fakeClock{now: time.Now()}
	manager := newTestManager(t, server.URL, NewMemoryStore(), clock)

	_, err := manager.BeginLogin(context.Background())
	require.NoError(t, err)

	_, err = manager.CompleteLogin(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, KindAccessDenied, KindOf(err))
	assert.Nil(t, manager.Session())

	// A second completion attempt reports no flow in progress.
	_, err = manager.CompleteLogin(context.Background(), 0)
	assert.Equal(t, KindUnauthenticated, KindOf(err))
}

func TestTokenWithoutCredentials(t *testing.T) {
	server, _ := newFakeProvider(t, func(w http.ResponseWriter, _ int32) {})
	manager := newTestManager(t, server.URL, NewMemoryStore(), nil)

	_, err := manager.Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindUnauthenticated, KindOf(err))
}

func TestTokenAfterRestartFindsStoredAccount(t *testing.T) {
	server, tokenCalls := newFakeProvider(t, func(w http.ResponseWriter, _ int32) {
		t.Error("token endpoint must not be called for a fresh token")
	})

	store := NewMemoryStore()
	require.NoError(t, store.Store("alice", TokenRecord{
		AccessToken: "persisted",
		ExpiresAt:   time.Now().Add(time.Hour),
		AccountID:   "alice",
	}))

	// A fresh manager has no in-process account; it falls back to the
	// store, as after a process restart.
	manager := newTestManager(t, server.URL, store, nil)

	record, err := manager.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "persisted", record.AccessToken)
	assert.EqualValues(t, 0, *tokenCalls)

	status, err := manager.Status()
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, status.State)
	assert.Equal(t, "alice", status.Account)
}

func TestStatusNearExpiry(t *testing.T) {
	server, _ := newFakeProvider(t, func(w http.ResponseWriter, _ int32) {
		t.Error("status must not trigger a refresh")
	})

	store := NewMemoryStore()
	require.NoError(t, store.Store("alice", TokenRecord{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(30 * time.Second),
		AccountID:    "alice",
	}))

	manager := newTestManager(t, server.URL, store, nil)
	status, err := manager.Status()
	require.NoError(t, err)
	assert.Equal(t, StateNearExpiry, status.State)
	assert.True(t, status.HasRefreshToken)
}

func TestStatusExpiredWithoutRefreshToken(t *testing.T) {
	server, _ := newFakeProvider(t, func(w http.ResponseWriter, _ int32) {})

	store := NewMemoryStore()
	require.NoError(t, store.Store("alice", TokenRecord{
		AccessToken: "expired",
		ExpiresAt:   time.Now().Add(-time.Minute),
		AccountID:   "alice",
	}))

	manager := newTestManager(t, server.URL, store, nil)
	status, err := manager.Status()
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, status.State)
}

func TestLogoutClearsAllAccounts(t *testing.T) {
	server, _ := newFakeProvider(t, func(w http.ResponseWriter, _ int32) {})

	store := NewMemoryStore()
	require.NoError(t, store.Store("alice", TokenRecord{AccessToken: "a", AccountID: "alice"}))
	require.NoError(t, store.Store("bob", TokenRecord{AccessToken: "b", AccountID: "bob"}))

	manager := newTestManager(t, server.URL, store, nil)
	require.NoError(t, manager.Logout())

	accounts, err := store.Accounts()
	require.NoError(t, err)
	assert.Empty(t, accounts)

	status, err := manager.Status()
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, status.State)

	// Logging out again is not an error.
	require.NoError(t, manager.Logout())
}

package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notectl/notectl/pkg/auth"
)

// scriptedAuthority serves OIDC discovery plus device and token endpoints
// backed by the given token handler.
func scriptedAuthority(t *testing.T, tokenHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"issuer":                        server.URL,
				"token_endpoint":                server.URL + "/token",
				"device_authorization_endpoint": server.URL + "/device",
			})
		case "/device":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"device_code":               "dev-code",
				"user_code":                 "ABCD-1234",
				"verification_uri":          "https://example.com/device",
				"verification_uri_complete": "https://example.com/device?code=ABCD-1234",
				"expires_in":                900,
				"interval":                  1,
			})
		case "/token":
			tokenHandler(w, r)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestServer(t *testing.T, authority string) *Server {
	t.Helper()
	manager, err := auth.NewManager(auth.ManagerConfig{
		Authority: authority,
		ClientID:  "client-id",
		Store:     auth.NewMemoryStore(),
	})
	require.NoError(t, err)
	return New(manager, nil, nil)
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func TestBeginAuthenticationTool(t *testing.T) {
	authority := scriptedAuthority(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	srv := newTestServer(t, authority.URL)

	result, err := srv.handleBegin(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var response beginResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &response))
	assert.Equal(t, "authentication_required", response.Status)
	assert.Equal(t, "ABCD-1234", response.UserCode)
	// The complete variant embeds the code, so it is preferred.
	assert.Equal(t, "https://example.com/device?code=ABCD-1234", response.VerificationURI)
	assert.Contains(t, response.Message, "ABCD-1234")
	assert.NotEmpty(t, response.ExpiresAt)
}

func TestCompleteAuthenticationTool(t *testing.T) {
	authority := scriptedAuthority(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access",
			"refresh_token": "refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	srv := newTestServer(t, authority.URL)

	_, err := srv.handleBegin(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)

	result, err := srv.handleComplete(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var response completeResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &response))
	assert.Equal(t, "success", response.Status)
	assert.NotEmpty(t, response.Account)
	assert.NotEmpty(t, response.ExpiresAt)
}

func TestCompleteAuthenticationWithoutBegin(t *testing.T) {
	authority := scriptedAuthority(t, func(w http.ResponseWriter, _ *http.Request) {})
	srv := newTestServer(t, authority.URL)

	result, err := srv.handleComplete(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "begin_authentication")
}

func TestCompleteAuthenticationDenied(t *testing.T) {
	authority := scriptedAuthority(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "access_denied"})
	})
	srv := newTestServer(t, authority.URL)

	_, err := srv.handleBegin(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)

	result, err := srv.handleComplete(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "restart authentication")
}

func TestAuthenticationStatusTool(t *testing.T) {
	authority := scriptedAuthority(t, func(w http.ResponseWriter, _ *http.Request) {})
	srv := newTestServer(t, authority.URL)

	result, err := srv.handleStatus(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var status auth.Status
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &status))
	assert.Equal(t, auth.StateUnauthenticated, status.State)
}

func TestClearCredentialsTool(t *testing.T) {
	authority := scriptedAuthority(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	srv := newTestServer(t, authority.URL)

	_, err := srv.handleBegin(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	_, err = srv.handleComplete(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)

	result, err := srv.handleClear(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "cleared")

	statusResult, err := srv.handleStatus(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	var status auth.Status
	require.NoError(t, json.Unmarshal([]byte(resultText(t, statusResult)), &status))
	assert.Equal(t, auth.StateUnauthenticated, status.State)
}

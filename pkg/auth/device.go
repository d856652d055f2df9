package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

const (
	// DefaultAuthority is the multi-tenant Microsoft identity authority.
	DefaultAuthority = "https://login.microsoftonline.com/common"

	// defaultPollInterval applies when the provider declares no interval.
	defaultPollInterval = 5 * time.Second

	// minPollInterval is the floor for provider-declared intervals.
	minPollInterval = time.Second

	// defaultSessionLifetime applies when the provider declares no
	// expires_in for the device session.
	defaultSessionLifetime = 15 * time.Minute
)

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

type providerEndpoints struct {
	TokenEndpoint               string `json:"token_endpoint"`
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint"`
}

type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDesc    string `json:"error_description,omitempty"`
}

// Provider issues device-authorization and token requests against one
// identity provider. Endpoints are discovered once from the authority's
// well-known configuration and reused.
type Provider struct {
	authority string
	clientID  string
	http      *http.Client
	clock     Clock

	mu        sync.Mutex
	endpoints *providerEndpoints
}

// ProviderOption customizes a Provider.
type ProviderOption func(*Provider)

// WithHTTPClient replaces the transport used for provider requests.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) { p.http = client }
}

// WithClock replaces the wall clock, for tests.
func WithClock(clock Clock) ProviderOption {
	return func(p *Provider) { p.clock = clock }
}

// NewProvider returns a Provider for the given authority and client id.
func NewProvider(authority, clientID string, opts ...ProviderOption) *Provider {
	if authority == "" {
		authority = DefaultAuthority
	}
	p := &Provider{
		authority: authority,
		clientID:  clientID,
		http:      &http.Client{Timeout: 30 * time.Second},
		clock:     SystemClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Begin starts a device-authorization grant for the requested scopes and
// returns the pending session. This call carries no partial state; on a
// transport failure the caller may simply retry.
func (p *Provider) Begin(ctx context.Context, scopes []string) (*AuthSession, error) {
	if p.clientID == "" {
		return nil, NewError(KindConfig, "client id is not configured")
	}
	endpoints, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("client_id", p.clientID)
	if len(scopes) > 0 {
		values.Set("scope", strings.Join(scopes, " "))
	}

	var payload deviceCodeResponse
	if err := p.postForm(ctx, endpoints.DeviceAuthorizationEndpoint, values, &payload); err != nil {
		return nil, err
	}
	if payload.DeviceCode == "" || payload.UserCode == "" {
		return nil, NewError(KindUnexpected, "device authorization response missing codes")
	}

	interval := time.Duration(payload.Interval) * time.Second
	if interval == 0 {
		interval = defaultPollInterval
	}
	if interval < minPollInterval {
		interval = minPollInterval
	}
	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime == 0 {
		lifetime = defaultSessionLifetime
	}

	return &AuthSession{
		DeviceCode:              payload.DeviceCode,
		UserCode:                payload.UserCode,
		VerificationURI:         payload.VerificationURI,
		VerificationURIComplete: payload.VerificationURIComplete,
		ExpiresAt:               p.clock.Now().Add(lifetime),
		Interval:                interval,
		Status:                  StatusPending,
	}, nil
}

// pollToken asks the token endpoint whether the user has completed the
// grant. OAuth protocol errors come back in the payload's Error field for
// the poller's state machine to interpret.
func (p *Provider) pollToken(ctx context.Context, deviceCode string) (*tokenResponse, error) {
	endpoints, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("grant_type", deviceGrantType)
	values.Set("device_code", deviceCode)
	values.Set("client_id", p.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoints.TokenEndpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, WrapError(KindUnexpected, err, "failed to build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, WrapError(KindNetwork, err, "token request failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, WrapError(KindUnexpected, err, "failed to decode token response")
	}
	return &payload, nil
}

// oauthConfig builds the oauth2 configuration used for refresh grants,
// discovering the token endpoint through the OIDC provider metadata.
func (p *Provider) oauthConfig(ctx context.Context) (*oauth2.Config, error) {
	if p.clientID == "" {
		return nil, NewError(KindConfig, "client id is not configured")
	}
	ctx = oidc.ClientContext(ctx, p.http)
	provider, err := oidc.NewProvider(ctx, p.authority)
	if err != nil {
		return nil, WrapError(KindNetwork, err, "failed to discover identity provider")
	}
	return &oauth2.Config{
		ClientID: p.clientID,
		Endpoint: provider.Endpoint(),
	}, nil
}

func (p *Provider) discover(ctx context.Context) (*providerEndpoints, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.endpoints != nil {
		return p.endpoints, nil
	}

	wellKnown := strings.TrimRight(p.authority, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, WrapError(KindUnexpected, err, "failed to build discovery request")
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, WrapError(KindNetwork, err, "identity provider discovery failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, NewError(KindUnexpected, "identity provider discovery failed: %s", strings.TrimSpace(string(body)))
	}
	var endpoints providerEndpoints
	if err := json.NewDecoder(resp.Body).Decode(&endpoints); err != nil {
		return nil, WrapError(KindUnexpected, err, "failed to decode discovery document")
	}
	if endpoints.DeviceAuthorizationEndpoint == "" {
		return nil, NewError(KindUnexpected, "device authorization endpoint not advertised")
	}
	if endpoints.TokenEndpoint == "" {
		return nil, NewError(KindUnexpected, "token endpoint not advertised")
	}
	p.endpoints = &endpoints
	return p.endpoints, nil
}

func (p *Provider) postForm(ctx context.Context, endpoint string, values url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return WrapError(KindUnexpected, err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return WrapError(KindNetwork, err, "device authorization request failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return NewError(KindUnexpected, "device authorization failed: %s", strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return WrapError(KindUnexpected, err, "failed to decode device authorization response")
	}
	return nil
}

// accountIDFromIDToken extracts a stable account identifier from an ID
// token without verifying the signature; the token was just received over
// TLS from the token endpoint.
func accountIDFromIDToken(raw string) string {
	if raw == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	for _, name := range []string{"oid", "preferred_username", "sub"} {
		if v, ok := claims[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

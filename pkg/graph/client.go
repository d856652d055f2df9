package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/notectl/notectl/pkg/auth"
)

// Credentials supplies validated bearer tokens. The auth Manager satisfies
// this; tests substitute fakes.
type Credentials interface {
	// Token returns a guaranteed-valid token record, refreshing lazily
	// when needed.
	Token(ctx context.Context) (auth.TokenRecord, error)

	// ForceRefresh refreshes regardless of expiry. Called after the API
	// rejects a just-validated token.
	ForceRefresh(ctx context.Context) (auth.TokenRecord, error)
}

// Config configures an Executor.
type Config struct {
	// BaseURL is the resource API root.
	BaseURL string

	// Timeout bounds each HTTP attempt. Defaults to 30s.
	Timeout time.Duration

	// MaxAttempts bounds retries for rate-limit and transient failures.
	// Defaults to 3.
	MaxAttempts int

	// RequestsPerSecond is the client-side outbound rate. Defaults to 4.
	RequestsPerSecond float64

	// Logger receives structured diagnostics.
	Logger *zap.SugaredLogger
}

// Response is the outcome of a successfully authorized call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// APIError is a non-retryable error response from the resource API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// Executor is the single seam through which the rest of the system calls
// the resource API. It injects the bearer credential on every request,
// recovers from a stale token with exactly one forced refresh and one
// retry, and retries rate-limit and transient transport failures a bounded
// number of times with backoff.
type Executor struct {
	creds   Credentials
	rest    *resty.Client
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewExecutor wires an Executor over the given credential source.
func NewExecutor(creds Credentials, cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 4
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	rest := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "notectl").
		SetRetryCount(cfg.MaxAttempts - 1).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if wait, ok := retryAfterHint(resp); ok {
				return wait, nil
			}
			// Exponential backoff when the server gives no hint.
			backoff := 500 * time.Millisecond << uint(resp.Request.Attempt-1)
			if backoff > 8*time.Second {
				backoff = 8 * time.Second
			}
			return backoff, nil
		})

	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Executor{
		creds:   creds,
		rest:    rest,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		log:     log,
	}
}

// Execute performs one authorized call against the resource API. Auth
// failures come back as typed auth errors; API-level rejections as
// *APIError.
func (e *Executor) Execute(ctx context.Context, method, path string, body any) (*Response, error) {
	record, err := e.creds.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := e.send(ctx, method, path, body, record.AccessToken)
	if err != nil {
		return nil, auth.WrapError(auth.KindNetwork, err, "request failed")
	}

	if resp.StatusCode() == http.StatusUnauthorized {
		// The token was validated moments ago, so this is clock skew or
		// server-side revocation. One forced refresh, one retry; a
		// second rejection is surfaced, not retried further.
		record, err = e.creds.ForceRefresh(ctx)
		if err != nil {
			return nil, err
		}
		resp, err = e.send(ctx, method, path, body, record.AccessToken)
		if err != nil {
			return nil, auth.WrapError(auth.KindNetwork, err, "request failed")
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			return nil, auth.NewError(auth.KindUnauthenticated, "api rejected refreshed credentials; please restart authentication")
		}
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return nil, auth.NewError(auth.KindRateLimited, "rate limited by the api after %d attempts", resp.Request.Attempt)
	case resp.StatusCode() >= http.StatusInternalServerError:
		return nil, auth.NewError(auth.KindNetwork, "api unavailable (%d) after %d attempts", resp.StatusCode(), resp.Request.Attempt)
	case resp.StatusCode() >= http.StatusBadRequest:
		return nil, decodeAPIError(resp)
	}

	e.log.Debugw("api request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode(),
		"attempts", resp.Request.Attempt,
	)
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

// GetJSON performs an authorized GET and decodes the JSON body into out.
func (e *Executor) GetJSON(ctx context.Context, path string, out any) error {
	resp, err := e.Execute(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode api response: %w", err)
	}
	return nil
}

// User is the authenticated principal as reported by the API.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Me fetches the authenticated user's profile. Used as a post-login
// identity probe.
func (e *Executor) Me(ctx context.Context) (*User, error) {
	var user User
	if err := e.GetJSON(ctx, "/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (e *Executor) send(ctx context.Context, method, path string, body any, token string) (*resty.Response, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req := e.rest.R().SetContext(ctx).SetAuthToken(token)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	return req.Execute(method, path)
}

// retryAfterHint extracts a server-declared wait from a 429/503 response.
func retryAfterHint(resp *resty.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	return parseRetryAfter(resp.Header().Get("Retry-After"))
}

// parseRetryAfter understands both delay-seconds and HTTP-date forms.
func parseRetryAfter(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if at, err := http.ParseTime(header); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait, true
		}
	}
	return 0, false
}

func decodeAPIError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err == nil {
		apiErr.Code = payload.Error.Code
		apiErr.Message = payload.Error.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(resp.Body()))
	}
	if apiErr.Message == "" {
		apiErr.Message = resp.Status()
	}
	return apiErr
}

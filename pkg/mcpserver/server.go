package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/notectl/notectl/pkg/auth"
	"github.com/notectl/notectl/pkg/graph"
)

// serverName and serverVersion identify this server to MCP hosts.
const (
	serverName    = "notectl"
	serverVersion = "1.0.0"
)

// Server exposes the authentication operations as MCP tools over stdio.
// The host (a conversational client) calls begin_authentication, shows the
// user code, and calls complete_authentication whenever the user says they
// are done -- the two steps may be separated by an arbitrary, human-scale
// gap.
type Server struct {
	mcp  *server.MCPServer
	auth *auth.Manager
	exec *graph.Executor
	log  *zap.SugaredLogger
}

// New builds the MCP server and registers the authentication tools.
func New(authManager *auth.Manager, exec *graph.Executor, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		mcp: server.NewMCPServer(
			serverName,
			serverVersion,
			server.WithToolCapabilities(true),
		),
		auth: authManager,
		exec: exec,
		log:  log,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("begin_authentication",
		mcp.WithDescription("Start signing in to OneNote. Returns a verification URL and a short code; "+
			"visit the URL, enter the code, then call complete_authentication."),
	), s.handleBegin)

	s.mcp.AddTool(mcp.NewTool("complete_authentication",
		mcp.WithDescription("Finish the sign-in started by begin_authentication after the code has been "+
			"entered in the browser."),
	), s.handleComplete)

	s.mcp.AddTool(mcp.NewTool("authentication_status",
		mcp.WithDescription("Report whether a usable OneNote credential exists and when it expires."),
	), s.handleStatus)

	s.mcp.AddTool(mcp.NewTool("clear_credentials",
		mcp.WithDescription("Remove all cached OneNote credentials. Signing in again requires the full "+
			"device-code flow."),
	), s.handleClear)
}

// Start serves MCP over stdio until the host disconnects.
func (s *Server) Start() error {
	s.log.Infow("serving mcp over stdio", "server", serverName, "version", serverVersion)
	return server.ServeStdio(s.mcp)
}

type beginResponse struct {
	Status          string `json:"status"`
	VerificationURI string `json:"verification_uri"`
	UserCode        string `json:"user_code"`
	ExpiresAt       string `json:"expires_at"`
	Message         string `json:"message"`
}

func (s *Server) handleBegin(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.auth.BeginLogin(ctx)
	if err != nil {
		return s.errorResult("Failed to start authentication", err), nil
	}

	uri := session.VerificationURIComplete
	if uri == "" {
		uri = session.VerificationURI
	}
	return jsonResult(beginResponse{
		Status:          "authentication_required",
		VerificationURI: uri,
		UserCode:        session.UserCode,
		ExpiresAt:       session.ExpiresAt.UTC().Format(time.RFC3339),
		Message: fmt.Sprintf("Go to %s and enter code %s, then call complete_authentication.",
			session.VerificationURI, session.UserCode),
	})
}

type completeResponse struct {
	Status    string `json:"status"`
	Account   string `json:"account,omitempty"`
	User      string `json:"user,omitempty"`
	Email     string `json:"email,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Message   string `json:"message"`
}

func (s *Server) handleComplete(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	record, err := s.auth.CompleteLogin(ctx, 0)
	if err != nil {
		return s.errorResult("Authentication did not complete", err), nil
	}

	response := completeResponse{
		Status:    "success",
		Account:   record.AccountID,
		ExpiresAt: record.ExpiresAt.UTC().Format(time.RFC3339),
		Message:   "Authentication completed successfully.",
	}
	// Identity probe; the login already succeeded, so a probe failure is
	// reported but not fatal.
	if s.exec != nil {
		if user, err := s.exec.Me(ctx); err == nil {
			response.User = user.DisplayName
			response.Email = user.Mail
			if response.Email == "" {
				response.Email = user.UserPrincipalName
			}
		} else {
			s.log.Warnw("post-login identity probe failed", "error", err)
		}
	}
	return jsonResult(response)
}

func (s *Server) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.auth.Status()
	if err != nil {
		return s.errorResult("Failed to read authentication status", err), nil
	}
	return jsonResult(status)
}

type clearResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleClear(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.auth.Logout(); err != nil {
		return s.errorResult("Failed to clear credentials", err), nil
	}
	return jsonResult(clearResponse{
		Status:  "cleared",
		Message: "Cached credentials removed.",
	})
}

// errorResult renders a typed failure as a tool error with a plain-language
// hint the host can show the user.
func (s *Server) errorResult(prefix string, err error) *mcp.CallToolResult {
	s.log.Debugw("tool call failed", "error", err)
	switch auth.KindOf(err) {
	case auth.KindSessionExpired, auth.KindAccessDenied, auth.KindReauthRequired:
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v. Please restart authentication with begin_authentication.", prefix, err))
	case auth.KindUnauthenticated:
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v. Call begin_authentication first.", prefix, err))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
	}
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	content, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(content)), nil
}

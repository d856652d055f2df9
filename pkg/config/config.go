package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Storage mode names accepted by token-storage settings.
const (
	StorageFile     = "file"
	StorageKeychain = "keychain"
	StorageMemory   = "memory"
)

// DefaultScopes are the Microsoft Graph permissions requested during
// login. offline_access makes the provider issue a refresh token; openid
// and profile make it issue an ID token to derive the account id from.
var DefaultScopes = []string{
	"https://graph.microsoft.com/Notes.Read",
	"https://graph.microsoft.com/Notes.ReadWrite",
	"https://graph.microsoft.com/User.Read",
	"openid",
	"profile",
	"offline_access",
}

// DefaultGraphBaseURL is the Microsoft Graph API root.
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// Config is the process-wide configuration, immutable after startup. It is
// read from an optional YAML file and overridden by environment variables.
type Config struct {
	Authority    string   `yaml:"authority,omitempty"`
	ClientID     string   `yaml:"client-id,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty"`
	CacheTokens  *bool    `yaml:"cache-tokens,omitempty"`
	TokenStorage string   `yaml:"token-storage,omitempty"`
	TokenPath    string   `yaml:"token-path,omitempty"`
	GraphBaseURL string   `yaml:"graph-base-url,omitempty"`
}

// Load reads the config file at path. A missing file yields an empty
// config; env overrides and defaults still apply.
func Load(path string) (*Config, error) {
	var cfg Config
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overlays recognized environment variables onto the config.
// CLIENT_ID and CACHE_TOKENS are the primary names; AZURE_CLIENT_ID is
// accepted as a fallback for the client id.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CLIENT_ID"); v != "" {
		c.ClientID = v
	} else if v := os.Getenv("AZURE_CLIENT_ID"); v != "" {
		c.ClientID = v
	}
	if v := os.Getenv("CACHE_TOKENS"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			c.CacheTokens = &parsed
		}
	}
	if v := os.Getenv("NOTECTL_AUTHORITY"); v != "" {
		c.Authority = v
	}
	if v := os.Getenv("NOTECTL_TOKEN_PATH"); v != "" {
		c.TokenPath = v
	}
	if v := os.Getenv("NOTECTL_TOKEN_STORAGE"); v != "" {
		c.TokenStorage = strings.ToLower(v)
	}
	if v := os.Getenv("NOTECTL_SCOPES"); v != "" {
		c.Scopes = strings.Fields(v)
	}
	if v := os.Getenv("NOTECTL_GRAPH_URL"); v != "" {
		c.GraphBaseURL = v
	}
}

// Defaults fills unset fields. CacheTokens defaults to true; disabling it
// forces in-memory storage.
func (c *Config) Defaults() {
	if c.Scopes == nil {
		c.Scopes = DefaultScopes
	}
	if c.CacheTokens == nil {
		enabled := true
		c.CacheTokens = &enabled
	}
	if !*c.CacheTokens {
		c.TokenStorage = StorageMemory
	} else if c.TokenStorage == "" {
		c.TokenStorage = StorageFile
	}
	if c.TokenPath == "" {
		c.TokenPath = DefaultTokenPath()
	}
	if c.GraphBaseURL == "" {
		c.GraphBaseURL = DefaultGraphBaseURL
	}
}

// Validate rejects values that cannot be acted on. The client id is
// checked where authentication actually starts, so status-style commands
// still work without one.
func (c *Config) Validate() error {
	switch c.TokenStorage {
	case "", StorageFile, StorageKeychain, StorageMemory:
	default:
		return fmt.Errorf("unknown token storage %q (expected file, keychain, or memory)", c.TokenStorage)
	}
	return nil
}

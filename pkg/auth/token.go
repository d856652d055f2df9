package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// TokenRecord is the durable credential set for one authenticated account.
// Exactly one record exists per account id in a store; Store replaces the
// prior record atomically.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
	AccountID    string    `json:"account_id"`
}

// ValidFor reports whether the access token is still usable at now plus the
// given safety margin.
func (r TokenRecord) ValidFor(now time.Time, margin time.Duration) bool {
	if r.AccessToken == "" {
		return false
	}
	if r.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(margin).Before(r.ExpiresAt)
}

// TokenStore is the durable key-value store holding one TokenRecord per
// account. Load on a corrupt or unreadable record degrades to absent;
// authentication failures must never crash the host process. Clear is
// idempotent.
type TokenStore interface {
	Load(accountID string) (TokenRecord, bool, error)
	Store(accountID string, record TokenRecord) error
	Clear(accountID string) error

	// Accounts lists the account ids with a stored record. Used to find
	// the active account after a process restart.
	Accounts() ([]string, error)
}

// tokenFile is the on-disk layout: a single JSON document keyed by account
// id, so re-authentication supersedes the prior record for that account
// without touching others.
type tokenFile struct {
	Tokens map[string]TokenRecord `json:"tokens"`
}

// FileStore persists tokens to a JSON file at a user-scoped location. Writes
// go to a temp file in the same directory followed by a rename, so a crash
// mid-write never leaves a half-written record that Load would return.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a file-backed token store rooted at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(accountID string) (TokenRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.read()
	record, ok := file.Tokens[accountID]
	return record, ok, nil
}

func (s *FileStore) Store(accountID string, record TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.read()
	file.Tokens[accountID] = record
	return s.write(file)
}

func (s *FileStore) Clear(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.read()
	if _, ok := file.Tokens[accountID]; !ok {
		return nil
	}
	delete(file.Tokens, accountID)
	return s.write(file)
}

func (s *FileStore) Accounts() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.read()
	accounts := make([]string, 0, len(file.Tokens))
	for id := range file.Tokens {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)
	return accounts, nil
}

// read loads the cache file, treating a missing, unreadable, or corrupt
// file as empty. A stale cache only means the user re-authenticates.
func (s *FileStore) read() *tokenFile {
	file := &tokenFile{Tokens: map[string]TokenRecord{}}
	content, err := os.ReadFile(s.path)
	if err != nil {
		return file
	}
	if err := json.Unmarshal(content, file); err != nil {
		return &tokenFile{Tokens: map[string]TokenRecord{}}
	}
	if file.Tokens == nil {
		file.Tokens = map[string]TokenRecord{}
	}
	return file
}

func (s *FileStore) write(file *tokenFile) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	content, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set token file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to commit token cache: %w", err)
	}
	return nil
}

// MemoryStore keeps tokens in process memory only. Used when persistence is
// disabled; everything is lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]TokenRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: map[string]TokenRecord{}}
}

func (s *MemoryStore) Load(accountID string) (TokenRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.tokens[accountID]
	return record, ok, nil
}

func (s *MemoryStore) Store(accountID string, record TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[accountID] = record
	return nil
}

func (s *MemoryStore) Clear(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, accountID)
	return nil
}

func (s *MemoryStore) Accounts() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts := make([]string, 0, len(s.tokens))
	for id := range s.tokens {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)
	return accounts, nil
}

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zalando/go-keyring"
)

// keychainIndexKey holds the list of account ids stored under the service,
// since the OS keychain offers no enumeration API.
const keychainIndexKey = "accounts"

// KeychainStore keeps token records in the OS keychain (Keychain Access,
// Secret Service, Windows Credential Manager) under one entry per account.
type KeychainStore struct {
	mu      sync.Mutex
	service string
}

// NewKeychainStore returns a keychain-backed token store scoped to the
// given service name.
func NewKeychainStore(service string) *KeychainStore {
	return &KeychainStore{service: service}
}

func (s *KeychainStore) Load(accountID string) (TokenRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, err := keyring.Get(s.service, accountID)
	if errors.Is(err, keyring.ErrNotFound) {
		return TokenRecord{}, false, nil
	}
	if err != nil {
		return TokenRecord{}, false, fmt.Errorf("failed to read keychain entry: %w", err)
	}
	var record TokenRecord
	if err := json.Unmarshal([]byte(secret), &record); err != nil {
		// Unparseable entry degrades to "not authenticated".
		return TokenRecord{}, false, nil
	}
	return record, true, nil
}

func (s *KeychainStore) Store(accountID string, record TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}
	if err := keyring.Set(s.service, accountID, string(content)); err != nil {
		return fmt.Errorf("failed to write keychain entry: %w", err)
	}
	return s.updateIndex(func(ids map[string]struct{}) {
		ids[accountID] = struct{}{}
	})
}

func (s *KeychainStore) Clear(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := keyring.Delete(s.service, accountID); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keychain entry: %w", err)
	}
	return s.updateIndex(func(ids map[string]struct{}) {
		delete(ids, accountID)
	})
}

func (s *KeychainStore) Accounts() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.readIndex()
	accounts := make([]string, 0, len(ids))
	for id := range ids {
		accounts = append(accounts, id)
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (s *KeychainStore) readIndex() map[string]struct{} {
	ids := map[string]struct{}{}
	secret, err := keyring.Get(s.service, keychainIndexKey)
	if err != nil {
		return ids
	}
	var list []string
	if err := json.Unmarshal([]byte(secret), &list); err != nil {
		return ids
	}
	for _, id := range list {
		ids[id] = struct{}{}
	}
	return ids
}

func (s *KeychainStore) updateIndex(apply func(map[string]struct{})) error {
	ids := s.readIndex()
	apply(ids)
	list := make([]string, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	sort.Strings(list)
	content, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal keychain index: %w", err)
	}
	if err := keyring.Set(s.service, keychainIndexKey, string(content)); err != nil {
		return fmt.Errorf("failed to write keychain index: %w", err)
	}
	return nil
}

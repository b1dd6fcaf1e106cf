package storage

import (
	"encoding/json"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the identifier used for all gomend credentials in
	// the system keyring.
	keyringService = "gomend"
	// keyringIndexKey holds the JSON list of stored credential keys.
	keyringIndexKey = "__gomend_index__"
)

// Well-known credential keys.
const (
	// CredentialAPIToken is the bearer token the HTTP API requires.
	CredentialAPIToken = "api-token"
	// CredentialSemanticKey authenticates calls to the semantic scoring
	// service.
	CredentialSemanticKey = "semantic-api-key"
)

// CredentialStore is secure storage for service secrets: the API bearer
// token and the semantic scoring key. Values never land in config files.
type CredentialStore interface {
	Set(key string, value string) error
	Get(key string) (string, error)
	Delete(key string) error
	// List returns stored credential keys, never values.
	List() ([]string, error)
}

// KeyringCredentialStore implements CredentialStore on the system keyring:
// Keychain on macOS, Credential Manager on Windows, Secret Service on
// Linux.
type KeyringCredentialStore struct {
	service string
}

// NewKeyringCredentialStore creates a keyring-backed credential store.
func NewKeyringCredentialStore() *KeyringCredentialStore {
	return &KeyringCredentialStore{service: keyringService}
}

// Set stores a credential in the system keyring.
func (s *KeyringCredentialStore) Set(key string, value string) error {
	if key == "" {
		return fmt.Errorf("credential key cannot be empty")
	}
	if err := keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	// Index update is best effort; the credential itself is stored.
	_ = s.addToIndex(key)
	return nil
}

// Get retrieves a credential from the system keyring.
func (s *KeyringCredentialStore) Get(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("credential key cannot be empty")
	}
	value, err := keyring.Get(s.service, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", fmt.Errorf("credential not found: %s", key)
		}
		return "", fmt.Errorf("failed to retrieve credential: %w", err)
	}
	return value, nil
}

// Delete removes a credential from the system keyring.
func (s *KeyringCredentialStore) Delete(key string) error {
	if key == "" {
		return fmt.Errorf("credential key cannot be empty")
	}
	if err := keyring.Delete(s.service, key); err != nil {
		if err == keyring.ErrNotFound {
			return fmt.Errorf("credential not found: %s", key)
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	_ = s.removeFromIndex(key)
	return nil
}

// List returns all stored credential keys. The index lives in the keyring
// itself under a reserved entry.
func (s *KeyringCredentialStore) List() ([]string, error) {
	indexJSON, err := keyring.Get(s.service, keyringIndexKey)
	if err != nil {
		if err == keyring.ErrNotFound {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to retrieve credential index: %w", err)
	}

	var keys []string
	if err := json.Unmarshal([]byte(indexJSON), &keys); err != nil {
		return nil, fmt.Errorf("failed to parse credential index: %w", err)
	}
	return keys, nil
}

func (s *KeyringCredentialStore) addToIndex(key string) error {
	keys, err := s.List()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	return s.saveIndex(append(keys, key))
}

func (s *KeyringCredentialStore) removeFromIndex(key string) error {
	keys, err := s.List()
	if err != nil {
		return err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return s.saveIndex(out)
}

func (s *KeyringCredentialStore) saveIndex(keys []string) error {
	indexJSON, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("failed to marshal credential index: %w", err)
	}
	if err := keyring.Set(s.service, keyringIndexKey, string(indexJSON)); err != nil {
		return fmt.Errorf("failed to save credential index: %w", err)
	}
	return nil
}

package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "tokscraper"
	keyringPrefix  = "session_"
)

// KeyringStore keeps jars in the system keychain
type KeyringStore struct{}

// NewKeyringStore probes the keychain and fails when it cannot be written
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)
	return &KeyringStore{}, nil
}

func (k *KeyringStore) Save(jar *Jar) error {
	if jar == nil || jar.Account == "" {
		return ErrInvalid
	}
	data, err := json.Marshal(jar)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := keyring.Set(keyringService, keyringPrefix+jar.Account, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return nil
}

func (k *KeyringStore) Load(account string) (*Jar, error) {
	if account == "" {
		return nil, ErrInvalid
	}
	data, err := keyring.Get(keyringService, keyringPrefix+account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var jar Jar
	if err := json.Unmarshal([]byte(data), &jar); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &jar, nil
}

func (k *KeyringStore) Delete(account string) error {
	if account == "" {
		return ErrInvalid
	}
	if err := keyring.Delete(keyringService, keyringPrefix+account); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}

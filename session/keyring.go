package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "apsq"

// KeyringStore keeps the credential pair in the operating system keyring.
// Both values are serialized into a single entry so they are written and
// removed together.
type KeyringStore struct {
	account string
}

// NewKeyringStore creates a store for the given keyring account, usually the
// API base URL so several servers can be used side by side.
func NewKeyringStore(account string) *KeyringStore {
	return &KeyringStore{account: account}
}

func (k *KeyringStore) key() string {
	return fmt.Sprintf("apsq::%s", k.account)
}

func (k *KeyringStore) Load(ctx context.Context) (*Credentials, error) {
	data, err := keyring.Get(keyringService, k.key())
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, fmt.Errorf("invalid keyring entry: %w", err)
	}
	return &creds, nil
}

func (k *KeyringStore) Save(ctx context.Context, creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return keyring.Set(keyringService, k.key(), string(data))
}

func (k *KeyringStore) Clear(ctx context.Context) error {
	err := keyring.Delete(keyringService, k.key())
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

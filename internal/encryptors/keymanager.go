package encryptors

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path"

	vault "github.com/hashicorp/vault/api"
)

// ErrKeyNotFound is returned when the key manager has no key for a reference.
var ErrKeyNotFound = errors.New("key not found")

// KeyManager fetches raw key material by reference.
type KeyManager interface {
	Key(ctx context.Context, keyID string) ([]byte, error)
}

// VaultKeyManager reads volume keys from a Vault KV v2 mount. Each key is a
// secret at <path>/<key id> whose "key" field holds hex-encoded material.
type VaultKeyManager struct {
	client *vault.Client
	mount  string
	path   string
}

// NewVaultKeyManager connects to Vault at address.
// An empty address or token falls back to VAULT_ADDR / VAULT_TOKEN.
func NewVaultKeyManager(address, token, mount, secretPath string) (*VaultKeyManager, error) {
	cfg := vault.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("failed to configure vault client: %w", cfg.Error)
	}
	if address != "" {
		cfg.Address = address
	}

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	return &VaultKeyManager{client: client, mount: mount, path: secretPath}, nil
}

// Key implements KeyManager.
func (v *VaultKeyManager) Key(ctx context.Context, keyID string) ([]byte, error) {
	if keyID == "" {
		return nil, fmt.Errorf("empty key id: %w", ErrKeyNotFound)
	}

	secret, err := v.client.KVv2(v.mount).Get(ctx, path.Join(v.path, keyID))
	if errors.Is(err, vault.ErrSecretNotFound) {
		return nil, fmt.Errorf("key %s: %w", keyID, ErrKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", keyID, err)
	}

	encoded, ok := secret.Data["key"].(string)
	if !ok || encoded == "" {
		return nil, fmt.Errorf("key %s has no key field: %w", keyID, ErrKeyNotFound)
	}

	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("key %s is not hex encoded: %w", keyID, err)
	}
	return key, nil
}

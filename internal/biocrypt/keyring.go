package biocrypt

import (
	"context"
	"encoding/hex"
	"fmt"
)

// Store keys under which key material is persisted.
const (
	SaltConfigKey           = "crypto.kdf_salt"
	PassphraseHashConfigKey = "crypto.passphrase_hash"
)

// ConfigStore is the key-value part of the persistent store.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
}

// LoadSealer verifies passphrase against the stored bcrypt hash and derives the
// template key from the stored salt. On first use it generates the salt and
// records the hash, so later runs with a different passphrase fail before any
// template is decrypted.
func LoadSealer(ctx context.Context, kv ConfigStore, passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	salt, err := loadOrCreateSalt(ctx, kv)
	if err != nil {
		return nil, err
	}

	hash, ok, err := kv.GetConfig(ctx, PassphraseHashConfigKey)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase hash: %w", err)
	}
	if ok {
		if err := VerifyPassphrase(passphrase, hash); err != nil {
			return nil, err
		}
	} else {
		hash, err = HashPassphrase(passphrase)
		if err != nil {
			return nil, err
		}
		if err := kv.SetConfig(ctx, PassphraseHashConfigKey, hash); err != nil {
			return nil, fmt.Errorf("storing passphrase hash: %w", err)
		}
	}

	return NewSealer(DeriveKey(passphrase, salt))
}

func loadOrCreateSalt(ctx context.Context, kv ConfigStore) ([]byte, error) {
	encoded, ok, err := kv.GetConfig(ctx, SaltConfigKey)
	if err != nil {
		return nil, fmt.Errorf("reading kdf salt: %w", err)
	}
	if ok {
		salt, err := hex.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding kdf salt: %w", err)
		}
		return salt, nil
	}

	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	if err := kv.SetConfig(ctx, SaltConfigKey, hex.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("storing kdf salt: %w", err)
	}
	return salt, nil
}

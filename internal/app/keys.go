package app

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/passq/passq/internal/keysource"
)

// DecodeKey decodes a key from hex or base64 encoding to raw bytes.
// It tries hex first, then base64 variants, and finally treats the input as
// raw bytes.
func DecodeKey(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("key value is empty")
	}

	if len(v)%2 == 0 {
		if decoded, err := hex.DecodeString(v); err == nil {
			return decoded, nil
		}
	}

	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(v); err == nil {
		return decoded, nil
	}

	return []byte(v), nil
}

// BuildKeySource constructs the configured key source. The entry point owns
// the returned source for the life of the process and injects it into every
// component that needs key material.
func BuildKeySource(cfg KeysConfig) (keysource.Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "static":
		static := keysource.StaticConfig{}
		var err error
		if static.EncryptionKey, err = decodeOptional(cfg.EncryptionKey); err != nil {
			return nil, fmt.Errorf("keys: encryption key: %w", err)
		}
		if static.SigningKey, err = decodeOptional(cfg.SigningKey); err != nil {
			return nil, fmt.Errorf("keys: signing key: %w", err)
		}
		if static.AuditKey, err = decodeOptional(cfg.AuditKey); err != nil {
			return nil, fmt.Errorf("keys: audit key: %w", err)
		}
		if cfg.MasterSecret != "" {
			static.MasterSecret = []byte(cfg.MasterSecret)
		}
		return keysource.NewStaticSource(static)
	case "vault":
		return keysource.NewVaultSource(keysource.VaultConfig{
			Address:   cfg.Vault.Address,
			Token:     cfg.Vault.Token,
			MountPath: cfg.Vault.MountPath,
			SecretKey: cfg.Vault.SecretKey,
			Timeout:   cfg.Vault.Timeout,
		}, DecodeKey)
	default:
		return nil, fmt.Errorf("keys: unknown provider %q", cfg.Provider)
	}
}

func decodeOptional(value string) ([]byte, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return DecodeKey(value)
}

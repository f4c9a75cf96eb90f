package keysource

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/passq/passq/pkg/crypto"
)

// StaticConfig supplies key material from local configuration. Either the
// per-purpose keys are set explicitly (each exactly 32 bytes), or a single
// MasterSecret is stretched into distinct per-purpose keys with Argon2id.
type StaticConfig struct {
	EncryptionKey []byte
	SigningKey    []byte
	AuditKey      []byte
	MasterSecret  []byte
}

// StaticSource serves keys resolved once at construction time.
type StaticSource struct {
	keys map[Purpose][]byte
	info string
}

// NewStaticSource validates the configured material and precomputes the
// per-purpose keys.
func NewStaticSource(cfg StaticConfig) (*StaticSource, error) {
	src := &StaticSource{keys: make(map[Purpose][]byte, 3), info: "static configuration"}

	explicit := map[Purpose][]byte{
		PurposeEncryption:   cfg.EncryptionKey,
		PurposeTokenSigning: cfg.SigningKey,
		PurposeAudit:        cfg.AuditKey,
	}

	for purpose, key := range explicit {
		if len(key) == 0 {
			continue
		}
		if len(key) != KeyLength {
			return nil, fmt.Errorf("%w: %s key is %d bytes", ErrInvalidKeyLength, purpose, len(key))
		}
		src.keys[purpose] = append([]byte(nil), key...)
	}

	if len(src.keys) < 3 {
		if len(cfg.MasterSecret) == 0 {
			return nil, fmt.Errorf("%w: missing key for %s", ErrKeyUnavailable, firstMissing(src.keys))
		}
		src.info = "static configuration (derived from master secret)"
		for purpose := range explicit {
			if _, ok := src.keys[purpose]; ok {
				continue
			}
			derived, err := derivePurposeKey(cfg.MasterSecret, purpose)
			if err != nil {
				return nil, err
			}
			src.keys[purpose] = derived
		}
	}

	return src, nil
}

// Key implements Source.
func (s *StaticSource) Key(_ context.Context, purpose Purpose) ([]byte, error) {
	key, ok := s.keys[purpose]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPurpose, purpose)
	}
	return append([]byte(nil), key...), nil
}

// ProviderInfo implements Source.
func (s *StaticSource) ProviderInfo() string {
	return s.info
}

// derivePurposeKey stretches the master secret into a purpose-specific
// 32-byte key. The salt embeds the purpose so the three keys are distinct.
func derivePurposeKey(master []byte, purpose Purpose) ([]byte, error) {
	salt := sha256.Sum256([]byte("passq/" + string(purpose)))
	return crypto.DeriveKeyArgon2id(master, salt[:], crypto.DefaultArgon2Params())
}

func firstMissing(keys map[Purpose][]byte) Purpose {
	for _, purpose := range []Purpose{PurposeEncryption, PurposeTokenSigning, PurposeAudit} {
		if _, ok := keys[purpose]; !ok {
			return purpose
		}
	}
	return PurposeEncryption
}

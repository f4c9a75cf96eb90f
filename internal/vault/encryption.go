// Package vault provides the envelope encryption service protecting data
// at rest. Blobs are sealed with AES-256-GCM and laid out as
// nonce || ciphertext || tag so that independently written readers agree
// on the byte format.
package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/passq/passq/internal/keysource"
	"github.com/passq/passq/pkg/crypto"
)

// ErrDecryptionFailed is returned for any blob that cannot be opened,
// whether truncated, tampered with, or sealed under a different key. The
// cause is deliberately not distinguished to the caller.
var ErrDecryptionFailed = errors.New("vault: decryption failed")

// Service seals and opens binary blobs with a key resolved from the
// configured key source at construction time.
type Service struct {
	key  []byte
	info string
}

// NewService resolves the encryption key from the source and validates it.
// Key resolution failures surface as keysource errors so the caller can
// refuse to start rather than run without encryption.
func NewService(ctx context.Context, source keysource.Source) (*Service, error) {
	if source == nil {
		return nil, errors.New("vault: key source is required")
	}

	key, err := source.Key(ctx, keysource.PurposeEncryption)
	if err != nil {
		return nil, fmt.Errorf("vault: resolve encryption key: %w", err)
	}
	if len(key) != keysource.KeyLength {
		return nil, fmt.Errorf("%w: got %d bytes", keysource.ErrInvalidKeyLength, len(key))
	}

	return &Service{key: key, info: source.ProviderInfo()}, nil
}

// Encrypt seals plaintext into a nonce||ciphertext||tag blob. A fresh
// random nonce is drawn for every call.
func (s *Service) Encrypt(plaintext []byte) ([]byte, error) {
	blob, err := crypto.Seal(plaintext, s.key)
	if err != nil {
		return nil, fmt.Errorf("vault: seal: %w", err)
	}
	return blob, nil
}

// Decrypt opens a blob produced by Encrypt. Any failure, including
// truncation or a flipped bit anywhere in the blob, yields
// ErrDecryptionFailed.
func (s *Service) Decrypt(blob []byte) ([]byte, error) {
	plaintext, err := crypto.Open(blob, s.key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// ProviderInfo reports which key provider backs the service.
func (s *Service) ProviderInfo() string {
	return s.info
}

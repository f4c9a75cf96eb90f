// Package keysource resolves the symmetric key material used by the
// encryption, token-signing, and audit components. Keys for different
// purposes are always distinct so that compromise of one does not
// compromise the others.
package keysource

import (
	"context"
	"errors"
)

// KeyLength is the required symmetric key size in bytes (AES-256 / HMAC-SHA256).
const KeyLength = 32

// Purpose identifies which subsystem a key belongs to.
type Purpose string

const (
	PurposeEncryption   Purpose = "encryption"
	PurposeTokenSigning Purpose = "token_signing"
	PurposeAudit        Purpose = "audit"
)

var (
	// ErrKeyUnavailable indicates that no provider could resolve a key.
	ErrKeyUnavailable = errors.New("keysource: key unavailable")
	// ErrInvalidKeyLength indicates configured key material of the wrong size.
	ErrInvalidKeyLength = errors.New("keysource: key must be exactly 32 bytes")
	// ErrUnknownPurpose indicates a purpose the source does not serve.
	ErrUnknownPurpose = errors.New("keysource: unknown key purpose")
)

// Source resolves 32-byte symmetric keys per purpose. Implementations must
// never log returned key material.
type Source interface {
	// Key returns the key for the given purpose, or ErrKeyUnavailable /
	// ErrInvalidKeyLength.
	Key(ctx context.Context, purpose Purpose) ([]byte, error)
	// ProviderInfo describes the backing provider for logging.
	ProviderInfo() string
}

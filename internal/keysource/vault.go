package keysource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// VaultConfig describes a HashiCorp Vault KV v2 secret holding the keys.
// The secret is expected to contain one base64/hex/raw encoded field per
// purpose (encryption_key, token_signing_key, audit_key).
type VaultConfig struct {
	Address   string
	Token     string
	MountPath string
	SecretKey string
	Timeout   time.Duration
}

// VaultSource fetches key material from HashiCorp Vault over HTTPS.
type VaultSource struct {
	cfg    VaultConfig
	client *http.Client
	decode func(string) ([]byte, error)
}

type vaultSecretResponse struct {
	Data struct {
		Data map[string]string `json:"data"`
	} `json:"data"`
}

var purposeFields = map[Purpose]string{
	PurposeEncryption:   "encryption_key",
	PurposeTokenSigning: "token_signing_key",
	PurposeAudit:        "audit_key",
}

// NewVaultSource validates the configuration and builds the HTTP client.
// The decode func converts the stored string field into raw key bytes.
func NewVaultSource(cfg VaultConfig, decode func(string) ([]byte, error)) (*VaultSource, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("keysource: vault address is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("keysource: vault token is required")
	}
	if _, err := url.Parse(cfg.Address); err != nil {
		return nil, fmt.Errorf("keysource: parse vault address: %w", err)
	}

	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = "passq"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	if decode == nil {
		decode = func(v string) ([]byte, error) { return []byte(v), nil }
	}

	return &VaultSource{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		decode: decode,
	}, nil
}

// Key implements Source by reading the KV v2 secret and extracting the
// purpose-specific field.
func (v *VaultSource) Key(ctx context.Context, purpose Purpose) ([]byte, error) {
	field, ok := purposeFields[purpose]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPurpose, purpose)
	}

	endpoint := fmt.Sprintf("%s/v1/%s/data/%s",
		strings.TrimRight(v.cfg.Address, "/"), v.cfg.MountPath, v.cfg.SecretKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build vault request: %v", ErrKeyUnavailable, err)
	}
	req.Header.Set("X-Vault-Token", v.cfg.Token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: vault request: %v", ErrKeyUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: vault returned status %d", ErrKeyUnavailable, resp.StatusCode)
	}

	var secret vaultSecretResponse
	if err := json.NewDecoder(resp.Body).Decode(&secret); err != nil {
		return nil, fmt.Errorf("%w: decode vault response: %v", ErrKeyUnavailable, err)
	}

	encoded, ok := secret.Data.Data[field]
	if !ok || encoded == "" {
		return nil, fmt.Errorf("%w: field %q missing from vault secret", ErrKeyUnavailable, field)
	}

	key, err := v.decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s key: %v", ErrKeyUnavailable, purpose, err)
	}
	if len(key) != KeyLength {
		return nil, fmt.Errorf("%w: %s key from vault is %d bytes", ErrInvalidKeyLength, purpose, len(key))
	}

	return key, nil
}

// ProviderInfo implements Source. The token is never included.
func (v *VaultSource) ProviderInfo() string {
	return fmt.Sprintf("hashicorp vault (%s)", v.cfg.Address)
}

package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/passq/passq/internal/keysource"
)

func TestDecodeKeyFormats(t *testing.T) {
	raw := bytes.Repeat([]byte{0xab}, 32)

	decoded, err := DecodeKey(hex.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, decoded)

	decoded, err = DecodeKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, decoded)

	// Odd-length non-encoded input falls back to raw bytes.
	decoded, err = DecodeKey("raw-secret-value!")
	require.NoError(t, err)
	require.Equal(t, []byte("raw-secret-value!"), decoded)

	_, err = DecodeKey("   ")
	require.Error(t, err)
}

func TestBuildKeySourceStaticExplicit(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, keysource.KeyLength)

	source, err := BuildKeySource(KeysConfig{
		Provider:      "static",
		EncryptionKey: hex.EncodeToString(key),
		SigningKey:    hex.EncodeToString(bytes.Repeat([]byte{0x02}, keysource.KeyLength)),
		AuditKey:      hex.EncodeToString(bytes.Repeat([]byte{0x03}, keysource.KeyLength)),
	})
	require.NoError(t, err)

	resolved, err := source.Key(context.Background(), keysource.PurposeEncryption)
	require.NoError(t, err)
	require.Equal(t, key, resolved)
}

func TestBuildKeySourceStaticMasterSecret(t *testing.T) {
	source, err := BuildKeySource(KeysConfig{MasterSecret: "correct horse battery staple"})
	require.NoError(t, err)

	enc, err := source.Key(context.Background(), keysource.PurposeEncryption)
	require.NoError(t, err)
	require.Len(t, enc, keysource.KeyLength)

	sign, err := source.Key(context.Background(), keysource.PurposeTokenSigning)
	require.NoError(t, err)
	require.NotEqual(t, enc, sign)
}

func TestBuildKeySourceVaultRequiresAddress(t *testing.T) {
	_, err := BuildKeySource(KeysConfig{Provider: "vault"})
	require.Error(t, err)
}

func TestBuildKeySourceUnknownProvider(t *testing.T) {
	_, err := BuildKeySource(KeysConfig{Provider: "kms"})
	require.Error(t, err)
}

func TestApplyRuntimeDefaultsGeneratesMasterSecret(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.True(t, generated["keys.master_secret"])
	require.NotEmpty(t, cfg.Keys.MasterSecret)

	// A second run leaves the generated secret alone.
	secret := cfg.Keys.MasterSecret
	generated, err = ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, secret, cfg.Keys.MasterSecret)
}

func TestApplyRuntimeDefaultsRespectsExplicitKeys(t *testing.T) {
	cfg := &Config{}
	cfg.Keys.EncryptionKey = "a"
	cfg.Keys.SigningKey = "b"
	cfg.Keys.AuditKey = "c"

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Empty(t, cfg.Keys.MasterSecret)

	vaultCfg := &Config{}
	vaultCfg.Keys.Provider = "vault"
	generated, err = ApplyRuntimeDefaults(vaultCfg)
	require.NoError(t, err)
	require.Empty(t, generated)
}

package keysource

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeyLength)
}

func TestStaticSourceExplicitKeys(t *testing.T) {
	src, err := NewStaticSource(StaticConfig{
		EncryptionKey: testKey(1),
		SigningKey:    testKey(2),
		AuditKey:      testKey(3),
	})
	require.NoError(t, err)

	ctx := context.Background()

	enc, err := src.Key(ctx, PurposeEncryption)
	require.NoError(t, err)
	require.Equal(t, testKey(1), enc)

	sign, err := src.Key(ctx, PurposeTokenSigning)
	require.NoError(t, err)
	require.Equal(t, testKey(2), sign)

	audit, err := src.Key(ctx, PurposeAudit)
	require.NoError(t, err)
	require.Equal(t, testKey(3), audit)

	// callers get their own copy
	enc[0] ^= 0xff
	again, err := src.Key(ctx, PurposeEncryption)
	require.NoError(t, err)
	require.Equal(t, testKey(1), again)
}

func TestStaticSourceRejectsBadLength(t *testing.T) {
	_, err := NewStaticSource(StaticConfig{
		EncryptionKey: []byte("too-short"),
		SigningKey:    testKey(2),
		AuditKey:      testKey(3),
	})
	require.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestStaticSourceMissingKeyWithoutMaster(t *testing.T) {
	_, err := NewStaticSource(StaticConfig{
		EncryptionKey: testKey(1),
	})
	require.ErrorIs(t, err, ErrKeyUnavailable)
}

func TestStaticSourceMasterDerivation(t *testing.T) {
	src, err := NewStaticSource(StaticConfig{MasterSecret: []byte("correct horse battery staple")})
	require.NoError(t, err)

	ctx := context.Background()
	keys := make(map[string][]byte)
	for _, purpose := range []Purpose{PurposeEncryption, PurposeTokenSigning, PurposeAudit} {
		key, err := src.Key(ctx, purpose)
		require.NoError(t, err)
		require.Len(t, key, KeyLength)
		keys[string(purpose)] = key
	}

	require.NotEqual(t, keys["encryption"], keys["token_signing"])
	require.NotEqual(t, keys["encryption"], keys["audit"])
	require.NotEqual(t, keys["token_signing"], keys["audit"])

	// derivation is deterministic across sources
	other, err := NewStaticSource(StaticConfig{MasterSecret: []byte("correct horse battery staple")})
	require.NoError(t, err)
	key, err := other.Key(ctx, PurposeEncryption)
	require.NoError(t, err)
	require.Equal(t, keys["encryption"], key)
}

func TestStaticSourceUnknownPurpose(t *testing.T) {
	src, err := NewStaticSource(StaticConfig{MasterSecret: []byte("secret")})
	require.NoError(t, err)

	_, err = src.Key(context.Background(), Purpose("bogus"))
	require.ErrorIs(t, err, ErrUnknownPurpose)
}

func TestVaultSourceFetchesKeys(t *testing.T) {
	encKey := testKey(7)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/secret/data/passq", r.URL.Path)
		require.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))

		resp := map[string]any{
			"data": map[string]any{
				"data": map[string]string{
					"encryption_key":    hex.EncodeToString(encKey),
					"token_signing_key": hex.EncodeToString(testKey(8)),
					"audit_key":         hex.EncodeToString(testKey(9)),
				},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	src, err := NewVaultSource(VaultConfig{
		Address: server.URL,
		Token:   "test-token",
	}, func(v string) ([]byte, error) { return hex.DecodeString(v) })
	require.NoError(t, err)

	key, err := src.Key(context.Background(), PurposeEncryption)
	require.NoError(t, err)
	require.Equal(t, encKey, key)

	require.NotContains(t, src.ProviderInfo(), "test-token")
}

func TestVaultSourceErrors(t *testing.T) {
	t.Run("missing field", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"data":{"encryption_key":"abc"}}}`))
		}))
		defer server.Close()

		src, err := NewVaultSource(VaultConfig{Address: server.URL, Token: "t"}, nil)
		require.NoError(t, err)

		_, err = src.Key(context.Background(), PurposeAudit)
		require.ErrorIs(t, err, ErrKeyUnavailable)
	})

	t.Run("wrong key length", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"data":{"data":{"encryption_key":"short"}}}`))
		}))
		defer server.Close()

		src, err := NewVaultSource(VaultConfig{Address: server.URL, Token: "t"}, nil)
		require.NoError(t, err)

		_, err = src.Key(context.Background(), PurposeEncryption)
		require.ErrorIs(t, err, ErrInvalidKeyLength)
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		src, err := NewVaultSource(VaultConfig{Address: server.URL, Token: "t"}, nil)
		require.NoError(t, err)

		_, err = src.Key(context.Background(), PurposeTokenSigning)
		require.ErrorIs(t, err, ErrKeyUnavailable)
	})

	t.Run("unreachable", func(t *testing.T) {
		src, err := NewVaultSource(VaultConfig{Address: "http://127.0.0.1:1", Token: "t"}, nil)
		require.NoError(t, err)

		_, err = src.Key(context.Background(), PurposeEncryption)
		require.ErrorIs(t, err, ErrKeyUnavailable)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := NewVaultSource(VaultConfig{Address: "http://vault.local"}, nil)
		require.Error(t, err)
	})
}

package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey()

	payloads := [][]byte{
		[]byte("hunter2"),
		[]byte(""),
		bytes.Repeat([]byte{0x00}, 1024),
	}

	for _, plaintext := range payloads {
		blob, err := Seal(plaintext, key)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(blob), NonceSize+TagSize)

		decrypted, err := Open(blob, key)
		require.NoError(t, err)
		require.True(t, bytes.Equal(plaintext, decrypted))
	}
}

func TestSealBlobLayout(t *testing.T) {
	plaintext := []byte("layout probe")

	blob, err := Seal(plaintext, testKey())
	require.NoError(t, err)

	// nonce || ciphertext || tag
	require.Equal(t, NonceSize+len(plaintext)+TagSize, len(blob))
}

func TestSealNonceUniqueness(t *testing.T) {
	key := testKey()
	plaintext := []byte("same input twice")

	first, err := Seal(plaintext, key)
	require.NoError(t, err)
	second, err := Seal(plaintext, key)
	require.NoError(t, err)

	require.False(t, bytes.Equal(first, second))
	require.False(t, bytes.Equal(first[:NonceSize], second[:NonceSize]))
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	key := testKey()

	blob, err := Seal([]byte("integrity matters"), key)
	require.NoError(t, err)

	for i := range blob {
		tampered := append([]byte(nil), blob...)
		tampered[i] ^= 0x01

		_, err := Open(tampered, key)
		require.Error(t, err, "flipping byte %d must fail authentication", i)
	}
}

func TestOpenRejectsShortBlob(t *testing.T) {
	_, err := Open(make([]byte, NonceSize+TagSize-1), testKey())
	require.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	blob, err := Seal([]byte("secret"), testKey())
	require.NoError(t, err)

	other := bytes.Repeat([]byte{0x24}, 32)
	_, err = Open(blob, other)
	require.Error(t, err)
}

func TestGenerateToken(t *testing.T) {
	first, err := GenerateToken(32)
	require.NoError(t, err)
	second, err := GenerateToken(32)
	require.NoError(t, err)

	require.NotEmpty(t, first)
	require.NotEqual(t, first, second)
}

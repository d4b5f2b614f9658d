package secrets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCodecEmptySecret(t *testing.T) {
	_, err := NewCodec("")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	codec, err := NewCodec("a-long-server-held-secret")
	require.NoError(t, err)

	for _, plaintext := range []string{
		"a",
		"sm8-access-token-0123456789",
		"tokens can contain spaces and ünïcode 日本語",
	} {
		blob, err := codec.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, blob)

		got, err := codec.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	codec, err := NewCodec("a-long-server-held-secret")
	require.NoError(t, err)

	first, err := codec.Encrypt("same plaintext")
	require.NoError(t, err)
	second, err := codec.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestDecryptDetectsTampering(t *testing.T) {
	codec, err := NewCodec("a-long-server-held-secret")
	require.NoError(t, err)

	blob, err := codec.Encrypt("sm8-refresh-token")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	// Flipping any single byte must fail authentication, never return
	// incorrect plaintext.
	for i := range raw {
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[i] ^= 0x01

		_, err := codec.Decrypt(base64.StdEncoding.EncodeToString(tampered))
		assert.ErrorIs(t, err, ErrIntegrity, "byte %d", i)
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	codec, err := NewCodec("a-long-server-held-secret")
	require.NoError(t, err)

	_, err = codec.Decrypt("not valid base64 !!!")
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Valid base64 but shorter than nonce+tag.
	_, err = codec.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDecryptWrongSecret(t *testing.T) {
	codec, err := NewCodec("secret-one")
	require.NoError(t, err)
	other, err := NewCodec("secret-two")
	require.NoError(t, err)

	blob, err := codec.Encrypt("sm8-access-token")
	require.NoError(t, err)

	_, err = other.Decrypt(blob)
	assert.ErrorIs(t, err, ErrIntegrity)
}

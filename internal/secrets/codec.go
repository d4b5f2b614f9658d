package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrMissingSecret is returned when a codec is constructed with an empty secret.
	ErrMissingSecret = errors.New("secrets: encryption secret is empty")
	// ErrIntegrity is returned when a ciphertext fails authentication.
	ErrIntegrity = errors.New("secrets: ciphertext integrity check failed")
	// ErrInvalidInput is returned for malformed base64 or truncated ciphertext.
	ErrInvalidInput = errors.New("secrets: invalid ciphertext input")
)

const keySize = 32 // AES-256

// Codec performs authenticated encryption of token strings with AES-256-GCM.
// The cipher key is derived once from the server-held secret via HKDF-SHA256;
// a Codec is immutable after construction and safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the cipher key from secret and returns a ready Codec.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("servicem8-token-encryption"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt authenticated-encrypts plaintext and returns
// base64(nonce || ciphertext || tag). A fresh random nonce is drawn on
// every call; nonces are never reused.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It fails with ErrInvalidInput on malformed input
// and ErrIntegrity when the authentication tag does not verify.
func (c *Codec) Decrypt(blob string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrInvalidInput)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrIntegrity
	}

	return string(plaintext), nil
}

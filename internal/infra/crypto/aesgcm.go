// Package crypto seals secret values before they reach the risk ledger.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
)

var _ domain.SecretEncryptor = (*AESGCM)(nil)

const (
	// Algorithm is recorded on every sealed secret.
	Algorithm = "aes-256-gcm"
	// KeyEncoding names the encoding of the stored ciphertext, IV and tag.
	KeyEncoding = "base64"

	keySize = 32
)

var (
	ErrInvalidKey       = errors.New("encryption key must be 32 bytes")
	ErrUnsupportedAlgo  = errors.New("unsupported encryption algorithm")
	ErrMalformedPayload = errors.New("malformed encrypted payload")
)

// AESGCM encrypts secrets with AES-256 in GCM mode using a random 96-bit IV
// per value.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM creates an encryptor from a raw 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &AESGCM{aead: aead}, nil
}

// NewAESGCMFromBase64 decodes a standard base64 key and creates an encryptor.
func NewAESGCMFromBase64(encoded string) (*AESGCM, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	return NewAESGCM(key)
}

// Encrypt seals plaintext. The tag is stored separately from the ciphertext.
func (e *AESGCM) Encrypt(plaintext string) (domain.EncryptedSecret, error) {
	iv := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return domain.EncryptedSecret{}, fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := e.aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - e.aead.Overhead()

	enc := base64.StdEncoding
	return domain.EncryptedSecret{
		Ciphertext:  enc.EncodeToString(sealed[:split]),
		IV:          enc.EncodeToString(iv),
		Tag:         enc.EncodeToString(sealed[split:]),
		Algorithm:   Algorithm,
		KeyEncoding: KeyEncoding,
	}, nil
}

// Decrypt opens a secret sealed by Encrypt.
func (e *AESGCM) Decrypt(secret domain.EncryptedSecret) (string, error) {
	if secret.Algorithm != Algorithm {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgo, secret.Algorithm)
	}

	enc := base64.StdEncoding
	ciphertext, err := enc.DecodeString(secret.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrMalformedPayload, err)
	}
	iv, err := enc.DecodeString(secret.IV)
	if err != nil || len(iv) != e.aead.NonceSize() {
		return "", fmt.Errorf("%w: iv", ErrMalformedPayload)
	}
	tag, err := enc.DecodeString(secret.Tag)
	if err != nil || len(tag) != e.aead.Overhead() {
		return "", fmt.Errorf("%w: tag", ErrMalformedPayload)
	}

	plaintext, err := e.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, keySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestAESGCMSealAndOpen(t *testing.T) {
	e, err := NewAESGCM(newKey(t))
	require.NoError(t, err)

	sealed, err := e.Encrypt("ghp_secret")
	require.NoError(t, err)
	assert.Equal(t, Algorithm, sealed.Algorithm)
	assert.Equal(t, KeyEncoding, sealed.KeyEncoding)
	assert.NotContains(t, sealed.Ciphertext, "ghp_secret")

	got, err := e.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", got)
}

func TestAESGCMUsesFreshIV(t *testing.T) {
	e, err := NewAESGCM(newKey(t))
	require.NoError(t, err)

	a, err := e.Encrypt("same")
	require.NoError(t, err)
	b, err := e.Encrypt("same")
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext+a.Tag, b.Ciphertext+b.Tag)
}

func TestAESGCMRejectsTampering(t *testing.T) {
	e, err := NewAESGCM(newKey(t))
	require.NoError(t, err)
	sealed, err := e.Encrypt("value")
	require.NoError(t, err)

	other, err := NewAESGCM(newKey(t))
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	assert.Error(t, err, "wrong key")

	bad := sealed
	bad.Algorithm = "aes-128-cbc"
	_, err = e.Decrypt(bad)
	assert.ErrorIs(t, err, ErrUnsupportedAlgo)

	bad = sealed
	bad.Tag = "!!"
	_, err = e.Decrypt(bad)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestNewAESGCMKeys(t *testing.T) {
	_, err := NewAESGCM([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewAESGCMFromBase64("not base64!")
	assert.Error(t, err)

	_, err = NewAESGCMFromBase64(base64.StdEncoding.EncodeToString(newKey(t)))
	assert.NoError(t, err)
}

package chatmodel

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAESGCMSecretBox_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	assert.NoError(t, err)

	box, err := NewAESGCMSecretBox(key)
	assert.NoError(t, err)

	ciphertext, err := box.Encrypt("sk-super-secret")
	assert.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "sk-super-secret")

	plaintext, err := box.Decrypt(ciphertext)
	assert.NoError(t, err)
	assert.Equal(t, "sk-super-secret", plaintext)
}

func TestNewAESGCMSecretBox_RejectsWrongKeyLength(t *testing.T) {
	_, err := NewAESGCMSecretBox([]byte("too short"))
	assert.Error(t, err)
}

func TestAESGCMSecretBox_DecryptRejectsTruncatedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	box, err := NewAESGCMSecretBox(key)
	assert.NoError(t, err)

	_, err = box.Decrypt([]byte("x"))
	assert.Error(t, err)
}

func TestEncodeDecodeKey_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	assert.NoError(t, err)

	encoded := EncodeKey(key)
	decoded, err := DecodeKey(encoded)
	assert.NoError(t, err)
	assert.Equal(t, key, decoded)
}

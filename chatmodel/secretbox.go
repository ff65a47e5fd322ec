package chatmodel

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// AESGCMSecretBox implements SecretBox with AES-256-GCM. No third-party AEAD
// implementation appears anywhere in the retrieval pack, so this one piece
// is stdlib crypto/aes+crypto/cipher rather than an ecosystem library — see
// DESIGN.md for the justification.
type AESGCMSecretBox struct {
	gcm cipher.AEAD
}

// NewAESGCMSecretBox builds a SecretBox from a 32-byte key, per spec §6's
// "symmetric encryption key for provider secrets" environment contract.
func NewAESGCMSecretBox(key []byte) (*AESGCMSecretBox, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secret box key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &AESGCMSecretBox{gcm: gcm}, nil
}

// Encrypt seals plaintext with a fresh random nonce, prefixed to the ciphertext.
func (b *AESGCMSecretBox) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return b.gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (b *AESGCMSecretBox) Decrypt(ciphertext []byte) (string, error) {
	nonceSize := b.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := b.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plaintext), nil
}

// EncodeKey/DecodeKey let operators pass the encryption key as base64 in an
// environment variable.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

func DecodeKey(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

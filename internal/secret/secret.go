// Package secret decrypts wallet keys stored at rest by the dashboard.
//
// Encrypted keys have the form "ENCRYPTED:<iv hex>:<ciphertext hex>" and are
// sealed with AES-256-GCM under a key derived from ENCRYPTION_KEY with
// PBKDF2-SHA256. Anything without the prefix is a legacy plaintext key.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	encryptedPrefix = "ENCRYPTED:"
	ivLength        = 12
	keyLength       = 32
	iterations      = 100000
)

var salt = []byte("bags-sniper-salt-v1")

var ErrInvalidFormat = errors.New("invalid encrypted key format")

// IsEncrypted reports whether stored carries the encrypted prefix.
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, encryptedPrefix)
}

func deriveKey(encryptionKey string) []byte {
	return pbkdf2.Key([]byte(encryptionKey), salt, iterations, keyLength, sha256.New)
}

// DecryptPrivateKey returns the plaintext key. Legacy plaintext keys are
// returned unchanged.
func DecryptPrivateKey(stored, encryptionKey string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}

	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		return "", ErrInvalidFormat
	}

	iv, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrInvalidFormat, err)
	}
	if len(iv) != ivLength {
		return "", fmt.Errorf("%w: iv length %d, expected %d", ErrInvalidFormat, len(iv), ivLength)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrInvalidFormat, err)
	}

	gcm, err := newGCM(encryptionKey)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt private key: %w", err)
	}
	return string(plaintext), nil
}

// EncryptPrivateKey seals plaintext in the stored format with a random IV.
func EncryptPrivateKey(plaintext, encryptionKey string) (string, error) {
	gcm, err := newGCM(encryptionKey)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	ciphertext := gcm.Seal(nil, iv, []byte(plaintext), nil)
	return encryptedPrefix + hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

func newGCM(encryptionKey string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(encryptionKey))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

package tokenstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength      = 32
	kdfIterations  = 100_000
	minSecretBytes = 16
)

// sealer encrypts grant payloads with AES-GCM under a key derived from the
// application secret. The nonce is prepended to the ciphertext.
type sealer struct {
	key []byte
}

func newSealer(secret, salt []byte) (*sealer, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("token store secret must be at least %d bytes", minSecretBytes)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("token store salt must not be empty")
	}

	key := pbkdf2.Key(secret, salt, kdfIterations, keyLength, sha256.New)
	return &sealer{key: key}, nil
}

func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *sealer) open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("sealed payload too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed payload: %w", err)
	}

	return plaintext, nil
}

package crypto

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidKey         = errors.New("sealer key must be 32 bytes")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptFailed      = errors.New("decrypt failed")
)

// CipherService is the contract of the external session-encryption engine
// this store consumes as a black box. The store never looks inside the
// ciphertext it is handed.
type CipherService interface {
	Encrypt(ctx context.Context, plaintext []byte, sessionID string) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte, sessionID string) ([]byte, error)
}

// Sealer wraps bytes for at-rest storage. Queued payloads pass through a
// Sealer before they hit disk and on their way back out.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// XChaChaSealer seals with XChaCha20-Poly1305, nonce prefixed to the box.
type XChaChaSealer struct {
	key []byte
}

func NewXChaChaSealer(key []byte) (*XChaChaSealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return &XChaChaSealer{key: key}, nil
}

// NewXChaChaSealerFromHex builds a sealer from a hex-encoded 32-byte key,
// the form the key arrives in from configuration.
func NewXChaChaSealerFromHex(keyHex string) (*XChaChaSealer, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewXChaChaSealer(key)
}

func (s *XChaChaSealer) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *XChaChaSealer) Open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}
	nonce, box := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// NoopSealer passes bytes through unchanged, for deployments that rely on
// device-level disk encryption alone.
type NoopSealer struct{}

func (NoopSealer) Seal(plaintext []byte) ([]byte, error) { return plaintext, nil }

func (NoopSealer) Open(sealed []byte) ([]byte, error) { return sealed, nil }

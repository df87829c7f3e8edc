package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// FieldEncryptor seals individual field values with AES-GCM. The nonce is
// prepended to the sealed box and the whole blob is base64-encoded so it can
// live in any string column.
type FieldEncryptor struct {
	aead cipher.AEAD
}

// NewFieldEncryptor accepts a 16, 24 or 32 byte key.
func NewFieldEncryptor(key []byte) (*FieldEncryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &FieldEncryptor{aead: aead}, nil
}

func (f *FieldEncryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, f.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := f.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (f *FieldEncryptor) Decrypt(ciphertext string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	ns := f.aead.NonceSize()
	if len(sealed) < ns {
		return "", ErrCiphertextTooShort
	}

	plain, err := f.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}

	return string(plain), nil
}

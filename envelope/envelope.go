// Package envelope seals wallet seeds under a KMS-issued data key with
// AES-256-GCM.
//
// Sealing is deterministic for identical (plaintext, key, nonce). Callers
// must never reuse a nonce with the same data key.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

const (
	KeySize       = 32
	NonceSize     = 12
	PlaintextSize = 64
	TagSize       = 16
	SealedSize    = PlaintextSize + TagSize
)

var (
	ErrInvalidLength          = errors.New("aes256gcm key was invalid (not 32 bytes)")
	ErrInvalidNonceLength     = errors.New("aes256gcm nonce was invalid (not 12 bytes)")
	ErrInvalidPlaintextLength = errors.New("aes256gcm plaintext was invalid (not 64 bytes)")
	ErrEncryptionFailed       = errors.New("encryption operation failed")
	ErrDecryptionFailed       = errors.New("decryption operation failed")
)

// Seal encrypts a 64-byte seed under a 32-byte key and 12-byte nonce.
// The result is the ciphertext followed by the 16-byte tag.
func Seal(plaintext, key, nonce []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	if len(plaintext) != PlaintextSize {
		return nil, ErrInvalidPlaintextLength
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	if len(ciphertext) != SealedSize {
		return nil, ErrEncryptionFailed
	}
	return ciphertext, nil
}

// Unseal authenticates and decrypts ciphertext. Any tampering or key/nonce
// mismatch returns ErrDecryptionFailed and no bytes.
func Unseal(ciphertext, key, nonce []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(plaintext) != PlaintextSize {
		Wipe(plaintext)
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newAEAD(key, nonce []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidLength
	}
	if len(nonce) != NonceSize {
		return nil, ErrInvalidNonceLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrInvalidLength
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrEncryptionFailed
	}
	return aead, nil
}

// Wipe overwrites b with zeros
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

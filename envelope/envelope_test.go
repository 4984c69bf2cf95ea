package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestSealUnsealRoundTrip(t *testing.T) {
	for i := 0; i < 32; i++ {
		plaintext := randomBytes(t, PlaintextSize)
		key := randomBytes(t, KeySize)
		nonce := randomBytes(t, NonceSize)

		sealed, err := Seal(plaintext, key, nonce)
		require.NoError(t, err)
		require.Len(t, sealed, SealedSize)
		assert.NotEqual(t, plaintext, sealed[:PlaintextSize])

		opened, err := Unseal(sealed, key, nonce)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestSealFixedVector(t *testing.T) {
	plaintext := bytes.Repeat([]byte{42}, PlaintextSize)
	key := bytes.Repeat([]byte{1}, KeySize)
	nonce := make([]byte, NonceSize)

	sealed, err := Seal(plaintext, key, nonce)
	require.NoError(t, err)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	assert.Equal(t, gcm.Seal(nil, nonce, plaintext, nil), sealed, "must be plain AES-256-GCM with no associated data")

	again, err := Seal(plaintext, key, nonce)
	require.NoError(t, err)
	assert.Equal(t, sealed, again, "seal is deterministic for identical inputs")
}

func TestUnsealDetectsEveryBitFlip(t *testing.T) {
	plaintext := randomBytes(t, PlaintextSize)
	key := randomBytes(t, KeySize)
	nonce := randomBytes(t, NonceSize)

	sealed, err := Seal(plaintext, key, nonce)
	require.NoError(t, err)

	for i := 0; i < len(sealed)*8; i++ {
		mutated := append([]byte(nil), sealed...)
		mutated[i/8] ^= 1 << (i % 8)

		opened, err := Unseal(mutated, key, nonce)
		require.ErrorIs(t, err, ErrDecryptionFailed, "bit %d", i)
		require.Nil(t, opened, "bit %d", i)
	}
}

func TestUnsealWrongKeyOrNonce(t *testing.T) {
	plaintext := randomBytes(t, PlaintextSize)
	key := bytes.Repeat([]byte{1}, KeySize)
	nonce := make([]byte, NonceSize)

	sealed, err := Seal(plaintext, key, nonce)
	require.NoError(t, err)

	opened, err := Unseal(sealed, bytes.Repeat([]byte{2}, KeySize), nonce)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Nil(t, opened)

	opened, err = Unseal(sealed, key, bytes.Repeat([]byte{1}, NonceSize))
	assert.ErrorIs(t, err, ErrDecryptionFailed)
	assert.Nil(t, opened)
}

func TestUnsealTruncated(t *testing.T) {
	key := randomBytes(t, KeySize)
	nonce := randomBytes(t, NonceSize)
	sealed, err := Seal(randomBytes(t, PlaintextSize), key, nonce)
	require.NoError(t, err)

	for _, n := range []int{0, 1, TagSize, SealedSize - 1} {
		opened, err := Unseal(sealed[:n], key, nonce)
		assert.ErrorIs(t, err, ErrDecryptionFailed, "len %d", n)
		assert.Nil(t, opened)
	}
}

func TestKeyLengthGuard(t *testing.T) {
	plaintext := randomBytes(t, PlaintextSize)
	nonce := make([]byte, NonceSize)

	// 16 and 24 are valid AES key sizes and must still be rejected
	for _, n := range []int{0, 16, 24, 31, 33, 64} {
		key := make([]byte, n)

		sealed, err := Seal(plaintext, key, nonce)
		assert.ErrorIs(t, err, ErrInvalidLength, "seal key len %d", n)
		assert.Nil(t, sealed)

		opened, err := Unseal(make([]byte, SealedSize), key, nonce)
		assert.ErrorIs(t, err, ErrInvalidLength, "unseal key len %d", n)
		assert.Nil(t, opened)
	}
}

func TestNonceAndPlaintextGuards(t *testing.T) {
	key := randomBytes(t, KeySize)

	_, err := Seal(make([]byte, PlaintextSize), key, make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidNonceLength)

	_, err = Unseal(make([]byte, SealedSize), key, make([]byte, 8))
	assert.ErrorIs(t, err, ErrInvalidNonceLength)

	_, err = Seal(make([]byte, 32), key, make([]byte, NonceSize))
	assert.ErrorIs(t, err, ErrInvalidPlaintextLength)
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
	Wipe(nil)
}

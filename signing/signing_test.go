package signing

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeed() []byte {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return seed
}

func TestForScheme(t *testing.T) {
	s, err := ForScheme(Secp256k1)
	require.NoError(t, err)
	assert.IsType(t, Secp256k1Signer{}, s)

	s, err = ForScheme(Ed25519)
	require.NoError(t, err)
	assert.IsType(t, Ed25519Signer{}, s)

	_, err = ForScheme(Scheme("Sr25519"))
	assert.True(t, errors.Is(err, ErrUnknownScheme))
}

func TestSecp256k1SignVerify(t *testing.T) {
	seed := testSeed()
	msg := []byte("transfer 1 ETH")

	sig, err := Secp256k1Signer{}.Sign(seed, msg)
	require.NoError(t, err)
	assert.Len(t, sig.Signature, 65)
	assert.Len(t, sig.PublicKey, 33)
	assert.True(t, VerifySecp256k1(sig.PublicKey, msg, sig.Signature))
	assert.False(t, VerifySecp256k1(sig.PublicKey, []byte("transfer 2 ETH"), sig.Signature))

	again, err := Secp256k1Signer{}.Sign(seed, msg)
	require.NoError(t, err)
	assert.Equal(t, sig.Signature, again.Signature, "RFC 6979 nonces make signatures deterministic")
	assert.Equal(t, testSeed(), seed, "seed must not be modified")
}

func TestSecp256k1RejectsZeroScalar(t *testing.T) {
	seed := make([]byte, SeedSize)
	_, err := Secp256k1Signer{}.Sign(seed, []byte("m"))
	assert.True(t, errors.Is(err, ErrInvalidSeed))
}

func TestSecp256k1RejectsOverflowScalar(t *testing.T) {
	seed := bytes.Repeat([]byte{0xff}, SeedSize)
	_, err := Secp256k1Signer{}.Sign(seed, []byte("m"))
	assert.True(t, errors.Is(err, ErrInvalidSeed))
}

func TestEd25519SignVerify(t *testing.T) {
	seed := testSeed()
	msg := []byte("stake 10 ADA")

	sig, err := Ed25519Signer{}.Sign(seed, msg)
	require.NoError(t, err)
	assert.Len(t, sig.Signature, ed25519.SignatureSize)
	assert.Len(t, sig.PublicKey, ed25519.PublicKeySize)
	assert.True(t, ed25519.Verify(sig.PublicKey, msg, sig.Signature))

	expected := ed25519.NewKeyFromSeed(seed[:32]).Public().(ed25519.PublicKey)
	assert.Equal(t, []byte(expected), sig.PublicKey)
	assert.Equal(t, testSeed(), seed, "seed must not be modified")
}

func TestSignersRejectShortSeed(t *testing.T) {
	for _, s := range []Signer{Secp256k1Signer{}, Ed25519Signer{}} {
		_, err := s.Sign(make([]byte, 32), []byte("m"))
		assert.True(t, errors.Is(err, ErrInvalidSeed), "%T", s)
	}
}

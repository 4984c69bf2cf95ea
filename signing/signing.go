// Package signing produces signatures from an unsealed wallet seed.
//
// Signers never retain the seed or any key derived from it beyond the call.
package signing

import (
	"errors"
	"fmt"
)

// SeedSize is the length of the wallet seed produced at wallet creation
const SeedSize = 64

var (
	// ErrUnknownScheme is returned for a scheme outside the supported set
	ErrUnknownScheme = errors.New("unknown signature scheme")
	// ErrInvalidSeed is returned when the seed has the wrong length or yields an invalid key
	ErrInvalidSeed = errors.New("invalid seed")
)

// Scheme names a signature algorithm. The wire form is the bare name.
type Scheme string

const (
	Secp256k1 Scheme = "Secp256k1"
	Ed25519   Scheme = "Ed25519"
)

// Signature is the output of a Signer
type Signature struct {
	Signature []byte
	PublicKey []byte
}

// Signer signs message with the key derived from seed
type Signer interface {
	Sign(seed, message []byte) (*Signature, error)
}

// ForScheme returns the signer for scheme
func ForScheme(scheme Scheme) (Signer, error) {
	switch scheme {
	case Secp256k1:
		return Secp256k1Signer{}, nil
	case Ed25519:
		return Ed25519Signer{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, string(scheme))
	}
}

func checkSeed(seed []byte) error {
	if len(seed) != SeedSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSeed, len(seed), SeedSize)
	}
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

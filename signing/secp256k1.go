package signing

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Secp256k1Signer uses the first 32 seed bytes as the private scalar and signs
// the Keccak-256 digest of the message.
//
// Signature format is btcec compact: [header][R][S], 65 bytes, where the
// header encodes the recovery id for a compressed key.
// PublicKey is the 33-byte compressed point.
type Secp256k1Signer struct{}

func (Secp256k1Signer) Sign(seed, message []byte) (*Signature, error) {
	if err := checkSeed(seed); err != nil {
		return nil, err
	}

	scalar := make([]byte, 32)
	copy(scalar, seed[:32])
	defer wipe(scalar)

	var k btcec.ModNScalar
	if overflow := k.SetByteSlice(scalar); overflow || k.IsZero() {
		return nil, fmt.Errorf("%w: scalar out of range for secp256k1", ErrInvalidSeed)
	}
	k.Zero()

	priv, pub := btcec.PrivKeyFromBytes(scalar)
	defer priv.Zero()

	digest := keccak256(message)
	sig := ecdsa.SignCompact(priv, digest, true)

	return &Signature{
		Signature: sig,
		PublicKey: pub.SerializeCompressed(),
	}, nil
}

// VerifySecp256k1 checks a compact signature against message and a compressed public key.
func VerifySecp256k1(publicKey, message, signature []byte) bool {
	recovered, _, err := ecdsa.RecoverCompact(signature, keccak256(message))
	if err != nil {
		return false
	}
	expected, err := btcec.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	return recovered.IsEqual(expected)
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

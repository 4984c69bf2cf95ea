package signing

import (
	"crypto/ed25519"
)

// Ed25519Signer uses the first 32 seed bytes as the RFC 8032 private seed and
// signs the raw message.
type Ed25519Signer struct{}

func (Ed25519Signer) Sign(seed, message []byte) (*Signature, error) {
	if err := checkSeed(seed); err != nil {
		return nil, err
	}

	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	defer wipe(priv)

	pub := make([]byte, ed25519.PublicKeySize)
	copy(pub, priv.Public().(ed25519.PublicKey))

	return &Signature{
		Signature: ed25519.Sign(priv, message),
		PublicKey: pub,
	}, nil
}

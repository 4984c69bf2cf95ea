// Package kmstool talks to the KMS proxy from inside the enclave.
//
// The proxy is reached through a Client capability: the production
// implementation spawns kmstool_enclave_cli, a development implementation
// calls KMS directly through the AWS SDK.
package kmstool

import (
	"context"
	"fmt"
)

// KeySpecAES256 is the data key spec used for wallet sealing
const KeySpecAES256 = "AES-256"

// Credentials is the per-request credential bundle handed to the proxy
type Credentials struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ProxyPort       string
}

// DataKey is a KMS data key in wrapped and unwrapped form.
// Plaintext must be wiped by the caller once used.
type DataKey struct {
	Ciphertext []byte
	Plaintext  []byte
}

// Client is the KMS proxy capability used by the request dispatcher
type Client interface {
	// GenRandom returns length cryptographically strong random bytes
	GenRandom(ctx context.Context, creds Credentials, length int) ([]byte, error)
	// GenKey creates a data key under keyID
	GenKey(ctx context.Context, creds Credentials, keyID, keySpec string) (*DataKey, error)
	// Decrypt unwraps a data key ciphertext produced by GenKey
	Decrypt(ctx context.Context, creds Credentials, ciphertext []byte) ([]byte, error)
}

// ErrorKind is the failure domain of an Error
type ErrorKind int

const (
	// KindIo means the proxy could not be spawned or reached
	KindIo ErrorKind = iota
	// KindStdoutParse means an expected labeled field was missing
	KindStdoutParse
	// KindDecode means a labeled field was not valid base64
	KindDecode
)

// Error is returned by every Client operation.
//
// Stdout and Stderr are kept for programmatic inspection only. Stdout can
// carry plaintext key material (a genkey reply missing only its ciphertext
// still holds the data key), so Error() never includes it, it must never be
// logged or sent to the host, and the last holder of the error calls Wipe.
type Error struct {
	Kind   ErrorKind
	Op     string
	Label  string
	Stdout []byte
	Status string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStdoutParse:
		return fmt.Sprintf("kmstool %s: failed to parse command output: missing %q (status: %s)", e.Op, e.Label, e.Status)
	case KindDecode:
		return fmt.Sprintf("kmstool %s: failed to decode %q from base64: %v", e.Op, e.Label, e.Err)
	default:
		return fmt.Sprintf("kmstool %s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wipe zeroes the captured stdout
func (e *Error) Wipe() {
	wipeAll([][]byte{e.Stdout})
}

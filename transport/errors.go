package transport

import (
	"errors"
	"fmt"
)

// ErrFrameTooLarge is returned when a frame header announces a payload larger than MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// SendErrorKind identifies which stage of Send failed
type SendErrorKind int

const (
	// SendIo means the stream write or flush failed
	SendIo SendErrorKind = iota
	// SendSerialization means the message could not be encoded
	SendSerialization
)

// SendError is returned by Conn.Send
type SendError struct {
	Kind SendErrorKind
	Err  error
}

func (e *SendError) Error() string {
	switch e.Kind {
	case SendSerialization:
		return fmt.Sprintf("failed to serialize cbor: %v", e.Err)
	default:
		return fmt.Sprintf("failed to write frame: %v", e.Err)
	}
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ReceiveErrorKind identifies which stage of Receive failed
type ReceiveErrorKind int

const (
	// ReceiveIo means a short read, a closed connection, or an oversized frame
	ReceiveIo ReceiveErrorKind = iota
	// ReceiveDeserialization means the payload was not a valid encoding of the expected type
	ReceiveDeserialization
)

// ReceiveError is returned by Conn.Receive
type ReceiveError struct {
	Kind ReceiveErrorKind
	Err  error
}

func (e *ReceiveError) Error() string {
	switch e.Kind {
	case ReceiveDeserialization:
		return fmt.Sprintf("failed to deserialize cbor: %v", e.Err)
	default:
		return fmt.Sprintf("failed to read frame: %v", e.Err)
	}
}

func (e *ReceiveError) Unwrap() error {
	return e.Err
}

// WalletErrorKind labels the cause carried by a WalletError.
type WalletErrorKind string

const (
	// KmsToolError covers every failure of the KMS proxy tool
	KmsToolError WalletErrorKind = "KmsToolError"
	// Aes256GcmError covers sealing and unsealing failures
	Aes256GcmError WalletErrorKind = "Aes256GcmError"
	// SigningError covers failures of the signature scheme
	SigningError WalletErrorKind = "SigningError"
	// InvalidRequest covers requests rejected before any KMS call
	InvalidRequest WalletErrorKind = "InvalidRequest"
)

func (k WalletErrorKind) valid() bool {
	switch k {
	case KmsToolError, Aes256GcmError, SigningError, InvalidRequest:
		return true
	}
	return false
}

// WalletError is the only error representation that crosses the enclave boundary.
// It carries a display string and nothing else.
//
// Wire form is a single-entry map: {"KmsToolError": "message"}.
type WalletError struct {
	Kind    WalletErrorKind
	Message string
}

// NewWalletError builds a WalletError of the given kind
func NewWalletError(kind WalletErrorKind, message string) *WalletError {
	return &WalletError{Kind: kind, Message: message}
}

func (e *WalletError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// MarshalCBOR encodes the error as a single-key map
func (e WalletError) MarshalCBOR() ([]byte, error) {
	if !e.Kind.valid() {
		return nil, fmt.Errorf("unknown wallet error kind %q", e.Kind)
	}
	return encMode.Marshal(map[string]string{string(e.Kind): e.Message})
}

// UnmarshalCBOR decodes a single-key map into the error
func (e *WalletError) UnmarshalCBOR(data []byte) error {
	var m map[string]string
	if err := decMode.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("wallet error must carry exactly one cause, got %d", len(m))
	}
	for k, v := range m {
		kind := WalletErrorKind(k)
		if !kind.valid() {
			return fmt.Errorf("unknown wallet error kind %q", k)
		}
		e.Kind = kind
		e.Message = v
	}
	return nil
}

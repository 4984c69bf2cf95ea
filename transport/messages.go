package transport

import (
	"errors"
	"fmt"

	"github.com/xes-software/trustvault/signing"
)

// NonceSize is the AES-GCM nonce length carried in requests and records
const NonceSize = 12

// Credentials is the short-lived credential bundle the host forwards per request.
// The enclave never keeps it beyond the request that carried it.
type Credentials struct {
	AWSRegion          string `cbor:"aws_region"`
	AWSAccessKeyID     string `cbor:"aws_access_key_id"`
	AWSSecretAccessKey string `cbor:"aws_secret_access_key"`
	AWSSessionToken    string `cbor:"aws_session_token"`
	KMSProxyPort       string `cbor:"kms_proxy_port"`
}

// CreateWalletRequest asks the enclave for a new sealed wallet key
type CreateWalletRequest struct {
	Credentials
	KMSKeyID    string `cbor:"kms_key_id"`
	AESGCMNonce []byte `cbor:"aes_gcm_nonce"`
}

// SignRequest asks the enclave to unseal a wallet key and sign Message with it
type SignRequest struct {
	Credentials
	KMSKeyID           string         `cbor:"kms_key_id"`
	AESGCMNonce        []byte         `cbor:"aes_gcm_nonce"`
	EncryptedSecretKey []byte         `cbor:"encrypted_secret_key"`
	KMSCiphertext      []byte         `cbor:"kms_ciphertext"`
	SignatureScheme    signing.Scheme `cbor:"signature_scheme"`
	Message            []byte         `cbor:"message"`
}

// RequestKind names the variant held by a HostRequest
type RequestKind int

const (
	KindCreateWallet RequestKind = iota + 1
	KindSign
)

func (k RequestKind) String() string {
	switch k {
	case KindCreateWallet:
		return "CreateWallet"
	case KindSign:
		return "Sign"
	default:
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
}

var errRequestVariant = errors.New("host request must hold exactly one variant")

// HostRequest is the host → enclave union. Exactly one field is set; the
// wire form is a single-key map keyed by variant name.
type HostRequest struct {
	CreateWallet *CreateWalletRequest `cbor:"CreateWallet,omitempty"`
	Sign         *SignRequest         `cbor:"Sign,omitempty"`
}

type hostRequestWire HostRequest

// Kind reports which variant is set
func (r *HostRequest) Kind() (RequestKind, error) {
	switch {
	case r.CreateWallet != nil && r.Sign == nil:
		return KindCreateWallet, nil
	case r.Sign != nil && r.CreateWallet == nil:
		return KindSign, nil
	default:
		return 0, errRequestVariant
	}
}

func (r HostRequest) MarshalCBOR() ([]byte, error) {
	if _, err := r.Kind(); err != nil {
		return nil, err
	}
	return encMode.Marshal(hostRequestWire(r))
}

func (r *HostRequest) UnmarshalCBOR(data []byte) error {
	var w hostRequestWire
	if err := decMode.Unmarshal(data, &w); err != nil {
		return err
	}
	req := HostRequest(w)
	if _, err := req.Kind(); err != nil {
		return err
	}
	*r = req
	return nil
}

// CreateWalletData is the Sealed Key Record: the only durable artifact of
// wallet creation. It is useless without the KMS key that wraps KMSCiphertext.
type CreateWalletData struct {
	EncryptedSecretKey []byte `cbor:"encrypted_secret_key" json:"encrypted_secret_key"`
	AESGCMNonce        []byte `cbor:"aes_gcm_nonce" json:"aes_gcm_nonce"`
	KMSCiphertext      []byte `cbor:"kms_ciphertext" json:"kms_ciphertext"`
	KMSKeyID           string `cbor:"kms_key_id" json:"kms_key_id"`
}

// SignData is the successful result of a Sign request
type SignData struct {
	Signature       []byte         `cbor:"signature" json:"signature"`
	PublicKey       []byte         `cbor:"public_key" json:"public_key"`
	SignatureScheme signing.Scheme `cbor:"signature_scheme" json:"signature_scheme"`
}

var errResultVariant = errors.New("result must hold exactly one of Ok or Err")

// CreateWalletResponse is Result<CreateWalletData, WalletError>
type CreateWalletResponse struct {
	Ok  *CreateWalletData `cbor:"Ok,omitempty"`
	Err *WalletError      `cbor:"Err,omitempty"`
}

type createWalletResponseWire CreateWalletResponse

func (r CreateWalletResponse) MarshalCBOR() ([]byte, error) {
	if (r.Ok == nil) == (r.Err == nil) {
		return nil, errResultVariant
	}
	return encMode.Marshal(createWalletResponseWire(r))
}

func (r *CreateWalletResponse) UnmarshalCBOR(data []byte) error {
	var w createWalletResponseWire
	if err := decMode.Unmarshal(data, &w); err != nil {
		return err
	}
	if (w.Ok == nil) == (w.Err == nil) {
		return errResultVariant
	}
	*r = CreateWalletResponse(w)
	return nil
}

// SignResponse is Result<SignData, WalletError>
type SignResponse struct {
	Ok  *SignData    `cbor:"Ok,omitempty"`
	Err *WalletError `cbor:"Err,omitempty"`
}

type signResponseWire SignResponse

func (r SignResponse) MarshalCBOR() ([]byte, error) {
	if (r.Ok == nil) == (r.Err == nil) {
		return nil, errResultVariant
	}
	return encMode.Marshal(signResponseWire(r))
}

func (r *SignResponse) UnmarshalCBOR(data []byte) error {
	var w signResponseWire
	if err := decMode.Unmarshal(data, &w); err != nil {
		return err
	}
	if (w.Ok == nil) == (w.Err == nil) {
		return errResultVariant
	}
	*r = SignResponse(w)
	return nil
}

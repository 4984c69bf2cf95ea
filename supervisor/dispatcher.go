package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/xes-software/trustvault/envelope"
	"github.com/xes-software/trustvault/kmstool"
	"github.com/xes-software/trustvault/signing"
	"github.com/xes-software/trustvault/transport"
)

// Dispatcher runs one request/response exchange per connection.
//
// Plaintext seeds and data keys live only on the stack of a single workflow
// and are wiped before the response is sent.
type Dispatcher struct {
	kms               kmstool.Client
	ioTimeout         time.Duration
	passThroughStderr bool
}

// NewDispatcher creates a dispatcher calling KMS through kms
func NewDispatcher(kms kmstool.Client, cfg *Config) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Dispatcher{
		kms:               kms,
		ioTimeout:         cfg.IOTimeout,
		passThroughStderr: cfg.PassThroughStderr,
	}
}

// Serve receives one HostRequest from rw, runs its workflow and sends exactly
// one response. A receive failure sends nothing. A send failure discards the
// computed result.
func (d *Dispatcher) Serve(ctx context.Context, rw io.ReadWriter) error {
	logger := zerolog.Ctx(ctx)
	conn := transport.NewConn(rw, d.ioTimeout)

	var req transport.HostRequest
	if err := conn.Receive(&req); err != nil {
		logger.Warn().Err(err).Msg("Failed to receive host request")
		return err
	}

	kind, err := req.Kind()
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected host request")
		return err
	}

	start := time.Now()
	var resp any
	var werr *transport.WalletError
	switch kind {
	case transport.KindCreateWallet:
		data, e := d.CreateWallet(ctx, req.CreateWallet)
		resp, werr = transport.CreateWalletResponse{Ok: data, Err: e}, e
	case transport.KindSign:
		data, e := d.Sign(ctx, req.Sign)
		resp, werr = transport.SignResponse{Ok: data, Err: e}, e
	}

	event := logger.Info()
	if werr != nil {
		event = logger.Warn().Str("error_kind", string(werr.Kind)).Str("error", werr.Message)
	}
	event.
		Str("request", kind.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Request handled")

	if err := conn.Send(resp); err != nil {
		logger.Error().Err(err).Str("request", kind.String()).Msg("Failed to send response, result discarded")
		return err
	}
	return nil
}

// CreateWallet generates a fresh seed and seals it under a new KMS data key
func (d *Dispatcher) CreateWallet(ctx context.Context, req *transport.CreateWalletRequest) (*transport.CreateWalletData, *transport.WalletError) {
	if werr := validateEnvelopeParams(req.KMSKeyID, req.AESGCMNonce); werr != nil {
		return nil, werr
	}
	creds := kmsCredentials(req.Credentials)

	seed, err := d.kms.GenRandom(ctx, creds, signing.SeedSize)
	if err != nil {
		return nil, d.kmsToolError(err)
	}
	defer envelope.Wipe(seed)
	if len(seed) != signing.SeedSize {
		return nil, d.kmsToolError(fmt.Errorf("kmstool genrandom: got %d bytes, want %d", len(seed), signing.SeedSize))
	}

	dataKey, err := d.kms.GenKey(ctx, creds, req.KMSKeyID, kmstool.KeySpecAES256)
	if err != nil {
		return nil, d.kmsToolError(err)
	}
	defer envelope.Wipe(dataKey.Plaintext)
	if len(dataKey.Plaintext) != envelope.KeySize {
		return nil, d.kmsToolError(fmt.Errorf("kmstool genkey: got %d byte data key, want %d", len(dataKey.Plaintext), envelope.KeySize))
	}

	sealed, err := envelope.Seal(seed, dataKey.Plaintext, req.AESGCMNonce)
	if err != nil {
		return nil, aesGCMError(err)
	}

	return &transport.CreateWalletData{
		EncryptedSecretKey: sealed,
		AESGCMNonce:        append([]byte(nil), req.AESGCMNonce...),
		KMSCiphertext:      dataKey.Ciphertext,
		KMSKeyID:           req.KMSKeyID,
	}, nil
}

// Sign unwraps the data key, unseals the seed and signs the request message
func (d *Dispatcher) Sign(ctx context.Context, req *transport.SignRequest) (*transport.SignData, *transport.WalletError) {
	if werr := validateEnvelopeParams(req.KMSKeyID, req.AESGCMNonce); werr != nil {
		return nil, werr
	}
	if len(req.KMSCiphertext) == 0 {
		return nil, invalidRequest("kms_ciphertext is empty")
	}
	signer, err := signing.ForScheme(req.SignatureScheme)
	if err != nil {
		return nil, invalidRequest("%v", err)
	}
	creds := kmsCredentials(req.Credentials)

	key, err := d.kms.Decrypt(ctx, creds, req.KMSCiphertext)
	if err != nil {
		return nil, d.kmsToolError(err)
	}
	defer envelope.Wipe(key)
	if len(key) != envelope.KeySize {
		return nil, d.kmsToolError(fmt.Errorf("kmstool decrypt: got %d byte data key, want %d", len(key), envelope.KeySize))
	}

	seed, err := envelope.Unseal(req.EncryptedSecretKey, key, req.AESGCMNonce)
	if err != nil {
		return nil, aesGCMError(err)
	}
	defer envelope.Wipe(seed)

	sig, err := signer.Sign(seed, req.Message)
	if err != nil {
		return nil, signingError(err)
	}

	return &transport.SignData{
		Signature:       sig.Signature,
		PublicKey:       sig.PublicKey,
		SignatureScheme: req.SignatureScheme,
	}, nil
}

func validateEnvelopeParams(keyID string, nonce []byte) *transport.WalletError {
	if keyID == "" {
		return invalidRequest("kms_key_id is empty")
	}
	if len(nonce) != transport.NonceSize {
		return invalidRequest("aes_gcm_nonce must be %d bytes, got %d", transport.NonceSize, len(nonce))
	}
	return nil
}

func kmsCredentials(c transport.Credentials) kmstool.Credentials {
	return kmstool.Credentials{
		Region:          c.AWSRegion,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
		SessionToken:    c.AWSSessionToken,
		ProxyPort:       c.KMSProxyPort,
	}
}

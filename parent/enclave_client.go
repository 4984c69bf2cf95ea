package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/vsock"
	"github.com/rs/zerolog/log"

	"github.com/xes-software/trustvault/signing"
	"github.com/xes-software/trustvault/transport"
)

// Dialer opens a fresh connection to the enclave
type Dialer func(ctx context.Context) (net.Conn, error)

// WalletService is the enclave capability used by the CLI modes and the NATS bridge
type WalletService interface {
	CreateWallet(ctx context.Context) (*transport.CreateWalletData, error)
	Sign(ctx context.Context, record *transport.CreateWalletData, scheme signing.Scheme, message []byte) (*transport.SignData, error)
}

// EnclaveClient sends one request per connection to the enclave.
// Errors reported by the enclave are returned as *transport.WalletError.
type EnclaveClient struct {
	dial     Dialer
	creds    CredentialSource
	kmsKeyID string
	timeout  time.Duration
}

// NewEnclaveClient creates a client dialing the enclave described by cfg
func NewEnclaveClient(cfg *Config, creds CredentialSource) *EnclaveClient {
	return &EnclaveClient{
		dial:     newDialer(cfg),
		creds:    creds,
		kmsKeyID: cfg.AWS.KMSKeyID,
		timeout:  cfg.EnclaveTimeout(),
	}
}

func newDialer(cfg *Config) Dialer {
	if cfg.DevMode {
		// Development mode: use TCP
		addr := fmt.Sprintf("localhost:%d", cfg.Enclave.Port)
		return func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to dev enclave at %s: %w", addr, err)
			}
			return conn, nil
		}
	}

	// Validate keeps both values within 32 bits
	cid, port := uint32(cfg.Enclave.CID), uint32(cfg.Enclave.Port)
	return func(ctx context.Context) (net.Conn, error) {
		conn, err := vsock.Dial(cid, port, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to enclave CID %d port %d: %w", cid, port, err)
		}
		return conn, nil
	}
}

// CreateWallet asks the enclave for a new sealed wallet key under the configured KMS key
func (c *EnclaveClient) CreateWallet(ctx context.Context) (*transport.CreateWalletData, error) {
	if c.kmsKeyID == "" {
		return nil, fmt.Errorf("no KMS key id configured")
	}
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, transport.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	var resp transport.CreateWalletResponse
	err = c.roundTrip(ctx, transport.HostRequest{CreateWallet: &transport.CreateWalletRequest{
		Credentials: creds,
		KMSKeyID:    c.kmsKeyID,
		AESGCMNonce: nonce,
	}}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Ok, nil
}

// Sign asks the enclave to sign message with the wallet sealed in record
func (c *EnclaveClient) Sign(ctx context.Context, record *transport.CreateWalletData, scheme signing.Scheme, message []byte) (*transport.SignData, error) {
	if record == nil {
		return nil, fmt.Errorf("sealed key record is required")
	}
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	keyID := record.KMSKeyID
	if keyID == "" {
		keyID = c.kmsKeyID
	}

	var resp transport.SignResponse
	err = c.roundTrip(ctx, transport.HostRequest{Sign: &transport.SignRequest{
		Credentials:        creds,
		KMSKeyID:           keyID,
		AESGCMNonce:        record.AESGCMNonce,
		EncryptedSecretKey: record.EncryptedSecretKey,
		KMSCiphertext:      record.KMSCiphertext,
		SignatureScheme:    scheme,
		Message:            message,
	}}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Ok, nil
}

func (c *EnclaveClient) roundTrip(ctx context.Context, req transport.HostRequest, resp any) error {
	kind, err := req.Kind()
	if err != nil {
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			// A connection that cannot take a deadline is already unusable
			return fmt.Errorf("failed to send %s request: %w", kind, &transport.SendError{Kind: transport.SendIo, Err: err})
		}
	}

	start := time.Now()
	tc := transport.NewConn(conn, 0)
	if err := tc.Send(req); err != nil {
		return fmt.Errorf("failed to send %s request: %w", kind, err)
	}
	if err := tc.Receive(resp); err != nil {
		return fmt.Errorf("failed to receive %s response: %w", kind, err)
	}

	log.Debug().
		Str("request", kind.String()).
		Dur("elapsed", time.Since(start)).
		Msg("Enclave exchange complete")
	return nil
}

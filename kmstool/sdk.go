package kmstool

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/rs/zerolog/log"
)

// KMSAPI is the subset of the KMS client used by SDK
type KMSAPI interface {
	GenerateRandom(ctx context.Context, params *kms.GenerateRandomInput, optFns ...func(*kms.Options)) (*kms.GenerateRandomOutput, error)
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// SDK calls KMS directly with the request's credential bundle. It is meant
// for development outside an enclave, where no vsock proxy exists; the
// bundle's proxy port is ignored.
type SDK struct {
	// Timeout bounds a single KMS call. Zero means no bound beyond ctx.
	Timeout time.Duration

	newClient func(ctx context.Context, creds Credentials) (KMSAPI, error)
}

// NewSDK returns an SDK client building a fresh KMS client per call
func NewSDK(timeout time.Duration) *SDK {
	return &SDK{Timeout: timeout, newClient: newKMSClient}
}

func newKMSClient(ctx context.Context, creds Credentials) (KMSAPI, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(creds.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken,
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

func (s *SDK) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout > 0 {
		return context.WithTimeout(ctx, s.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *SDK) client(ctx context.Context, op string, creds Credentials) (KMSAPI, error) {
	c, err := s.newClient(ctx, creds)
	if err != nil {
		return nil, &Error{Kind: KindIo, Op: op, Err: err}
	}
	return c, nil
}

func (s *SDK) GenRandom(ctx context.Context, creds Credentials, length int) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.client(ctx, "genrandom", creds)
	if err != nil {
		return nil, err
	}

	out, err := c.GenerateRandom(ctx, &kms.GenerateRandomInput{
		NumberOfBytes: aws.Int32(int32(length)),
	})
	if err != nil {
		return nil, &Error{Kind: KindIo, Op: "genrandom", Err: fmt.Errorf("KMS generate random failed: %w", err)}
	}
	if out.Plaintext == nil {
		return nil, &Error{Kind: KindStdoutParse, Op: "genrandom", Label: "Plaintext", Status: "ok"}
	}
	return out.Plaintext, nil
}

func (s *SDK) GenKey(ctx context.Context, creds Credentials, keyID, keySpec string) (*DataKey, error) {
	spec, err := dataKeySpec(keySpec)
	if err != nil {
		return nil, &Error{Kind: KindIo, Op: "genkey", Err: err}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.client(ctx, "genkey", creds)
	if err != nil {
		return nil, err
	}

	out, err := c.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(keyID),
		KeySpec: spec,
	})
	if err != nil {
		return nil, &Error{Kind: KindIo, Op: "genkey", Err: fmt.Errorf("KMS generate data key failed: %w", err)}
	}
	if out.CiphertextBlob == nil {
		return nil, &Error{Kind: KindStdoutParse, Op: "genkey", Label: "CiphertextBlob", Status: "ok"}
	}
	if out.Plaintext == nil {
		return nil, &Error{Kind: KindStdoutParse, Op: "genkey", Label: "Plaintext", Status: "ok"}
	}

	log.Debug().
		Str("key_id", aws.ToString(out.KeyId)).
		Int("ciphertext_len", len(out.CiphertextBlob)).
		Msg("KMS generate data key successful")

	return &DataKey{Ciphertext: out.CiphertextBlob, Plaintext: out.Plaintext}, nil
}

func (s *SDK) Decrypt(ctx context.Context, creds Credentials, ciphertext []byte) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c, err := s.client(ctx, "decrypt", creds)
	if err != nil {
		return nil, err
	}

	out, err := c.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: ciphertext})
	if err != nil {
		return nil, &Error{Kind: KindIo, Op: "decrypt", Err: fmt.Errorf("KMS decrypt failed: %w", err)}
	}
	if out.Plaintext == nil {
		return nil, &Error{Kind: KindStdoutParse, Op: "decrypt", Label: "Plaintext", Status: "ok"}
	}
	return out.Plaintext, nil
}

func dataKeySpec(keySpec string) (types.DataKeySpec, error) {
	switch keySpec {
	case "AES-256", string(types.DataKeySpecAes256):
		return types.DataKeySpecAes256, nil
	case "AES-128", string(types.DataKeySpecAes128):
		return types.DataKeySpecAes128, nil
	default:
		return "", fmt.Errorf("unsupported key spec %q", keySpec)
	}
}

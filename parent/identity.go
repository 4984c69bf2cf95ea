package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog/log"

	"github.com/xes-software/trustvault/transport"
)

// sessionNamePrefix identifies parent sessions in CloudTrail
const sessionNamePrefix = "trustvault"

// credentialRefreshWindow is how long before expiry cached credentials are replaced
const credentialRefreshWindow = 5 * time.Minute

// STSAPI is the subset of the STS client used by the parent
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// CredentialSource produces the credential bundle forwarded with each enclave request
type CredentialSource interface {
	Credentials(ctx context.Context) (transport.Credentials, error)
}

// RoleARNFromCaller converts the assumed-role ARN returned by GetCallerIdentity
// into the IAM role ARN it belongs to:
//
//	arn:aws:sts::123456789012:assumed-role/app-role/i-0abc
//	-> arn:aws:iam::123456789012:role/app-role
func RoleARNFromCaller(callerARN string) (string, error) {
	parts := strings.SplitN(callerARN, ":", 6)
	if len(parts) < 6 || parts[0] != "arn" {
		return "", fmt.Errorf("malformed caller ARN %q", callerARN)
	}

	accountID := parts[4]
	if accountID == "" {
		return "", fmt.Errorf("caller ARN %q has no account id", callerARN)
	}

	resource := strings.Split(parts[5], "/")
	if len(resource) < 2 || resource[1] == "" {
		return "", fmt.Errorf("caller ARN %q has no role name", callerARN)
	}

	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, resource[1]), nil
}

// AssumeRole requests role session credentials for roleARN
func AssumeRole(ctx context.Context, client STSAPI, roleARN string, duration time.Duration, now time.Time) (*sts.AssumeRoleOutput, error) {
	sessionName := fmt.Sprintf("%s-%d", sessionNamePrefix, now.Unix())
	out, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(sessionName),
		DurationSeconds: aws.Int32(int32(duration / time.Second)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assume role %s: %w", roleARN, err)
	}
	if out.Credentials == nil {
		return nil, fmt.Errorf("assume role %s returned no credentials", roleARN)
	}

	log.Debug().
		Str("role_arn", roleARN).
		Str("session_name", sessionName).
		Time("expires", aws.ToTime(out.Credentials.Expiration)).
		Msg("Assumed role")

	return out, nil
}

// RoleCredentialSource assumes the instance role and caches the session
// credentials until shortly before they expire
type RoleCredentialSource struct {
	client    STSAPI
	cfg       AWSConfig
	duration  time.Duration
	now       func() time.Time
	mu        sync.Mutex
	roleARN   string
	cached    transport.Credentials
	expiresAt time.Time
}

// NewRoleCredentialSource creates a source using client for STS calls
func NewRoleCredentialSource(client STSAPI, cfg AWSConfig) *RoleCredentialSource {
	return &RoleCredentialSource{
		client:   client,
		cfg:      cfg,
		duration: cfg.SessionTTL(),
		now:      time.Now,
		roleARN:  cfg.RoleARN,
	}
}

func (s *RoleCredentialSource) Credentials(ctx context.Context) (transport.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.expiresAt.IsZero() && now.Add(credentialRefreshWindow).Before(s.expiresAt) {
		return s.cached, nil
	}

	if s.roleARN == "" {
		identity, err := s.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			return transport.Credentials{}, fmt.Errorf("failed to get caller identity: %w", err)
		}
		roleARN, err := RoleARNFromCaller(aws.ToString(identity.Arn))
		if err != nil {
			return transport.Credentials{}, err
		}
		s.roleARN = roleARN
		log.Info().Str("role_arn", roleARN).Msg("Resolved role from caller identity")
	}

	out, err := AssumeRole(ctx, s.client, s.roleARN, s.duration, now)
	if err != nil {
		return transport.Credentials{}, err
	}

	s.cached = transport.Credentials{
		AWSRegion:          s.cfg.Region,
		AWSAccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		AWSSecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		AWSSessionToken:    aws.ToString(out.Credentials.SessionToken),
		KMSProxyPort:       s.cfg.KMSProxyPort,
	}
	s.expiresAt = aws.ToTime(out.Credentials.Expiration)
	return s.cached, nil
}

// ChainCredentialSource forwards whatever the default credential chain resolves
type ChainCredentialSource struct {
	provider aws.CredentialsProvider
	cfg      AWSConfig
}

func (s *ChainCredentialSource) Credentials(ctx context.Context) (transport.Credentials, error) {
	creds, err := s.provider.Retrieve(ctx)
	if err != nil {
		return transport.Credentials{}, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}
	return transport.Credentials{
		AWSRegion:          s.cfg.Region,
		AWSAccessKeyID:     creds.AccessKeyID,
		AWSSecretAccessKey: creds.SecretAccessKey,
		AWSSessionToken:    creds.SessionToken,
		KMSProxyPort:       s.cfg.KMSProxyPort,
	}, nil
}

// NewCredentialSource builds the source selected by cfg.AssumeRole
func NewCredentialSource(ctx context.Context, cfg AWSConfig) (CredentialSource, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.AssumeRole {
		return NewRoleCredentialSource(sts.NewFromConfig(awsCfg), cfg), nil
	}
	return &ChainCredentialSource{provider: awsCfg.Credentials, cfg: cfg}, nil
}

package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the parent process configuration
type Config struct {
	// DevMode enables development mode (TCP instead of vsock)
	DevMode bool `yaml:"dev_mode"`

	// AWS identity and KMS settings
	AWS AWSConfig `yaml:"aws"`

	// Enclave configuration
	Enclave EnclaveConfig `yaml:"enclave"`

	// NATS configuration
	NATS NATSConfig `yaml:"nats"`

	// Health check configuration
	Health HealthConfig `yaml:"health"`
}

// AWSConfig holds the settings used to build each request's credential bundle
type AWSConfig struct {
	Region string `yaml:"region"`
	// KMSKeyID is the key new wallets are sealed under
	KMSKeyID string `yaml:"kms_key_id"`
	// KMSProxyPort is the vsock port of the KMS proxy on the parent instance
	KMSProxyPort string `yaml:"kms_proxy_port"`
	// AssumeRole exchanges the instance identity for role session credentials.
	// When false the default credential chain is forwarded as is.
	AssumeRole bool `yaml:"assume_role"`
	// RoleARN overrides the role derived from the caller identity
	RoleARN string `yaml:"role_arn"`
	// SessionDuration is the lifetime of assumed role credentials in seconds
	SessionDuration int `yaml:"session_duration_seconds"`
}

// EnclaveConfig holds enclave connection settings.
// CID and Port are vsock values and must fit in 32 bits; in dev mode Port is a TCP port.
type EnclaveConfig struct {
	CID  uint `yaml:"cid"`
	Port uint `yaml:"port"`
	// Timeout bounds one request/response exchange, in seconds
	Timeout int `yaml:"timeout_seconds"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	URL             string `yaml:"url"`
	CredentialsFile string `yaml:"credentials_file"`
	ReconnectWait   int    `yaml:"reconnect_wait_ms"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	// SubjectPrefix is prepended to the create and sign subjects
	SubjectPrefix string `yaml:"subject_prefix"`
	// QueueGroup spreads requests across parent instances
	QueueGroup string `yaml:"queue_group"`
}

// HealthConfig holds health check settings
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Use defaults if no config file
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DevMode: false,
		AWS: AWSConfig{
			Region:          "us-east-1",
			KMSProxyPort:    "8000",
			AssumeRole:      true,
			SessionDuration: 3600,
		},
		Enclave: EnclaveConfig{
			CID:     16, // Default enclave CID
			Port:    5000,
			Timeout: 30,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			ReconnectWait: 2000,
			MaxReconnects: -1, // Unlimited
			SubjectPrefix: "trustvault.wallet",
			QueueGroup:    "trustvault-parent",
		},
		Health: HealthConfig{
			Port: 8080,
		},
	}
}

// Validate rejects configurations the parent cannot run with
func (c *Config) Validate() error {
	if c.AWS.Region == "" {
		return fmt.Errorf("aws.region is required")
	}
	if c.AWS.KMSProxyPort == "" {
		return fmt.Errorf("aws.kms_proxy_port is required")
	}
	if c.AWS.AssumeRole && (c.AWS.SessionDuration < 900 || c.AWS.SessionDuration > 43200) {
		return fmt.Errorf("aws.session_duration_seconds must be between 900 and 43200, got %d", c.AWS.SessionDuration)
	}
	if c.Enclave.Port == 0 {
		return fmt.Errorf("enclave.port is required")
	}
	if c.Enclave.CID > math.MaxUint32 {
		return fmt.Errorf("enclave.cid %d out of range", c.Enclave.CID)
	}
	maxPort := uint(math.MaxUint32)
	if c.DevMode {
		maxPort = math.MaxUint16
	}
	if c.Enclave.Port > maxPort {
		return fmt.Errorf("enclave.port %d out of range", c.Enclave.Port)
	}
	if !c.DevMode && c.Enclave.CID < 3 {
		return fmt.Errorf("enclave.cid %d is reserved", c.Enclave.CID)
	}
	if c.Enclave.Timeout < 0 {
		return fmt.Errorf("enclave.timeout_seconds must not be negative")
	}
	return nil
}

// EnclaveTimeout returns the per-exchange timeout
func (c *Config) EnclaveTimeout() time.Duration {
	return time.Duration(c.Enclave.Timeout) * time.Second
}

// SessionTTL returns the assumed role session lifetime
func (c AWSConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionDuration) * time.Second
}

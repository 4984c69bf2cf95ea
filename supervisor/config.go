package main

import (
	"fmt"
	"math"
	"time"

	"github.com/xes-software/trustvault/kmstool"
)

const (
	BackendCLI = "cli"
	BackendSDK = "sdk"
)

// Config holds the enclave configuration
type Config struct {
	// DevMode enables development mode (TCP instead of vsock, no hardening)
	DevMode bool

	// VsockPort is the vsock port to listen on (CID is always 3 inside enclave).
	// It must fit in 32 bits.
	VsockPort uint

	// TCPPort is the TCP port for development mode. It must fit in 16 bits.
	TCPPort uint

	// KMSToolPath is the path to the kmstool_enclave_cli binary
	KMSToolPath string

	// KMSBackend selects the kmstool client: "cli" or "sdk"
	KMSBackend string

	// KMSTimeout bounds a single KMS tool call. Zero disables the bound.
	KMSTimeout time.Duration

	// IOTimeout bounds reading the request and writing the response
	IOTimeout time.Duration

	// PassThroughStderr appends KMS tool stderr to KmsToolError messages
	PassThroughStderr bool
}

// DefaultConfig returns the default enclave configuration
func DefaultConfig() *Config {
	return &Config{
		DevMode:     false,
		VsockPort:   5000,
		TCPPort:     5000,
		KMSToolPath: "/app/" + kmstool.DefaultCLIPath,
		KMSBackend:  BackendCLI,
		KMSTimeout:  30 * time.Second,
		IOTimeout:   30 * time.Second,
	}
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.TCPPort > math.MaxUint16 {
		return fmt.Errorf("tcp port %d out of range", c.TCPPort)
	}
	if c.VsockPort > math.MaxUint32 {
		return fmt.Errorf("vsock port %d out of range", c.VsockPort)
	}
	if c.DevMode {
		if c.TCPPort == 0 {
			return fmt.Errorf("tcp port must be set in dev mode")
		}
	} else if c.VsockPort == 0 {
		return fmt.Errorf("vsock port must be set")
	}

	switch c.KMSBackend {
	case BackendCLI:
		if c.KMSToolPath == "" {
			return fmt.Errorf("kmstool path must be set for the %q backend", BackendCLI)
		}
	case BackendSDK:
	default:
		return fmt.Errorf("unknown kms backend %q", c.KMSBackend)
	}

	if c.KMSTimeout < 0 || c.IOTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// NewKMSClient builds the kmstool client selected by KMSBackend
func (c *Config) NewKMSClient() (kmstool.Client, error) {
	switch c.KMSBackend {
	case BackendCLI:
		return kmstool.NewCLI(c.KMSToolPath, c.KMSTimeout), nil
	case BackendSDK:
		return kmstool.NewSDK(c.KMSTimeout), nil
	default:
		return nil, fmt.Errorf("unknown kms backend %q", c.KMSBackend)
	}
}

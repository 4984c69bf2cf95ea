// Package main implements the trustvault enclave process.
// It accepts one request per vsock connection from the parent instance,
// creates or uses sealed wallet keys through the KMS proxy, and replies.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

func main() {
	defaults := DefaultConfig()

	devMode := flag.Bool("dev-mode", defaults.DevMode, "Run in development mode (TCP instead of vsock)")
	vsockPort := flag.Uint("vsock-port", defaults.VsockPort, "vsock port to listen on (CID is always 3 in enclave)")
	tcpPort := flag.Uint("tcp-port", defaults.TCPPort, "TCP port for dev mode")
	kmsToolPath := flag.String("kmstool-path", defaults.KMSToolPath, "Path to kmstool_enclave_cli")
	kmsBackend := flag.String("kms-backend", defaults.KMSBackend, "KMS client backend: cli or sdk")
	kmsTimeout := flag.Duration("kms-timeout", defaults.KMSTimeout, "Timeout for a single KMS call (0 disables)")
	ioTimeout := flag.Duration("io-timeout", defaults.IOTimeout, "Timeout for request and response I/O (0 disables)")
	passThroughStderr := flag.Bool("pass-through-stderr", false, "Include kmstool stderr in errors returned to the host")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *devMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)
	zerolog.DefaultContextLogger = &log.Logger

	cfg := &Config{
		DevMode:           *devMode,
		VsockPort:         *vsockPort,
		TCPPort:           *tcpPort,
		KMSToolPath:       *kmsToolPath,
		KMSBackend:        *kmsBackend,
		KMSTimeout:        *kmsTimeout,
		IOTimeout:         *ioTimeout,
		PassThroughStderr: *passThroughStderr,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("version", Version).
		Bool("dev_mode", cfg.DevMode).
		Uint("vsock_port", cfg.VsockPort).
		Str("kms_backend", cfg.KMSBackend).
		Dur("kms_timeout", cfg.KMSTimeout).
		Msg("trustvault enclave starting")

	if cfg.PassThroughStderr {
		log.Warn().Msg("kmstool stderr will be forwarded to the host in error messages")
	}

	EnforceIsolation(cfg.DevMode)
	if !cfg.DevMode {
		if err := VerifyIsolation(); err != nil {
			log.Warn().Err(err).Msg("Process isolation incomplete")
		}
		if err := describeNSM(); err != nil {
			log.Warn().Err(err).Msg("NSM description unavailable")
		}
	}

	kms, err := cfg.NewKMSClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create KMS client")
	}

	supervisor, err := NewSupervisor(cfg, NewDispatcher(kms, cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create supervisor")
	}

	// Set up graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Run supervisor (blocks until context is cancelled)
	if err := supervisor.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Supervisor error")
	}

	log.Info().Msg("Enclave shutdown complete")
}

// Package main implements the trustvault parent process.
// The parent runs on the EC2 host, obtains short-lived credentials for the
// enclave and forwards wallet requests to it over vsock.
//
// The parent is in the untrusted zone: it only ever sees sealed key records
// and signatures, never seeds or data keys.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xes-software/trustvault/signing"
	"github.com/xes-software/trustvault/transport"
)

// Version is set at build time
var Version = "dev"

const usage = `usage: parent [flags] <command>

commands:
  create-wallet   create a sealed wallet key and print its record as JSON
  sign            sign -message with the wallet in -record and print the signature as JSON
  serve           answer wallet requests from NATS until interrupted
`

func main() {
	configPath := flag.String("config", "/etc/trustvault/parent.yaml", "Path to configuration file")
	devMode := flag.Bool("dev-mode", false, "Run in development mode (TCP instead of vsock)")
	region := flag.String("aws-region", "", "AWS region (overrides config)")
	kmsKeyID := flag.String("kms-key-id", "", "KMS key id for new wallets (overrides config)")
	kmsProxyPort := flag.String("kms-proxy-port", "", "KMS proxy vsock port (overrides config)")
	enclaveCID := flag.Uint("enclave-cid", 0, "Enclave CID (overrides config)")
	enclavePort := flag.Uint("enclave-port", 0, "Enclave vsock port (overrides config)")
	natsURL := flag.String("nats-url", "", "NATS server URL (overrides config)")
	recordPath := flag.String("record", "", "sign: path to the sealed key record JSON")
	message := flag.String("message", "", "sign: hex encoded message")
	scheme := flag.String("scheme", string(signing.Secp256k1), "sign: signature scheme (Secp256k1 or Ed25519)")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	// Configure logging; stdout is reserved for command output
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Override with command line flags
	if *devMode {
		cfg.DevMode = true
	}
	if *region != "" {
		cfg.AWS.Region = *region
	}
	if *kmsKeyID != "" {
		cfg.AWS.KMSKeyID = *kmsKeyID
	}
	if *kmsProxyPort != "" {
		cfg.AWS.KMSProxyPort = *kmsProxyPort
	}
	if *enclaveCID != 0 {
		cfg.Enclave.CID = *enclaveCID
	}
	if *enclavePort != 0 {
		cfg.Enclave.Port = *enclavePort
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("version", Version).
		Str("command", command).
		Str("config", *configPath).
		Bool("dev_mode", cfg.DevMode).
		Msg("trustvault parent starting")

	// Set up graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	creds, err := NewCredentialSource(ctx, cfg.AWS)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up AWS credentials")
	}
	client := NewEnclaveClient(cfg, creds)

	switch command {
	case "create-wallet":
		err = runCreateWallet(ctx, client, os.Stdout)
	case "sign":
		err = runSign(ctx, client, *recordPath, *scheme, *message, os.Stdout)
	case "serve":
		err = runServe(ctx, cfg, client)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", command).Msg("Command failed")
	}
}

func runCreateWallet(ctx context.Context, wallets WalletService, out io.Writer) error {
	record, err := wallets.CreateWallet(ctx)
	if err != nil {
		return err
	}
	return writeJSON(out, record)
}

func runSign(ctx context.Context, wallets WalletService, recordPath, scheme, messageHex string, out io.Writer) error {
	if recordPath == "" {
		return fmt.Errorf("-record is required")
	}
	data, err := os.ReadFile(recordPath)
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	var record transport.CreateWalletData
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("failed to parse record: %w", err)
	}

	message, err := hex.DecodeString(messageHex)
	if err != nil {
		return fmt.Errorf("-message must be hex: %w", err)
	}

	sig, err := wallets.Sign(ctx, &record, signing.Scheme(scheme), message)
	if err != nil {
		return err
	}
	return writeJSON(out, sig)
}

func runServe(ctx context.Context, cfg *Config, wallets WalletService) error {
	metrics := NewMetrics()
	health := NewHealthServer(cfg.Health.Port, metrics)
	go health.Start()
	defer health.Stop()

	nc, err := NewNATSClient(cfg.NATS, health.SetNATSConnected)
	if err != nil {
		return err
	}
	defer nc.Close()
	health.WatchNATS(nc.IsConnected)

	log.Info().Str("url", cfg.NATS.URL).Str("status", nc.Status()).Msg("NATS client started")

	bridge := NewBridge(nc, wallets, metrics, health, cfg.NATS)
	if err := bridge.Run(ctx); err != nil {
		return err
	}

	log.Info().Msg("Parent process shutdown complete")
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

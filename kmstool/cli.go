package kmstool

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultCLIPath is the kmstool binary shipped in the enclave image
const DefaultCLIPath = "kmstool_enclave_cli"

// CLI runs kmstool_enclave_cli as a subprocess for every call.
//
// A non-zero exit status is tolerated when the expected labeled lines are
// present on stdout; it is logged as a warning.
type CLI struct {
	// Path is the binary to execute
	Path string
	// Timeout bounds a single invocation. Zero means no bound beyond ctx.
	Timeout time.Duration
}

// NewCLI returns a CLI client for the binary at path
func NewCLI(path string, timeout time.Duration) *CLI {
	if path == "" {
		path = DefaultCLIPath
	}
	return &CLI{Path: path, Timeout: timeout}
}

func (c *CLI) GenRandom(ctx context.Context, creds Credentials, length int) ([]byte, error) {
	args := append(credentialArgs("genrandom", creds), "--length", strconv.Itoa(length))
	fields, err := c.run(ctx, "genrandom", args, LabelPlaintext)
	if err != nil {
		return nil, err
	}
	return fields[0], nil
}

func (c *CLI) GenKey(ctx context.Context, creds Credentials, keyID, keySpec string) (*DataKey, error) {
	args := append(credentialArgs("genkey", creds), "--key-id", keyID, "--key-spec", keySpec)
	fields, err := c.run(ctx, "genkey", args, LabelCiphertext, LabelPlaintext)
	if err != nil {
		return nil, err
	}
	return &DataKey{Ciphertext: fields[0], Plaintext: fields[1]}, nil
}

func (c *CLI) Decrypt(ctx context.Context, creds Credentials, ciphertext []byte) ([]byte, error) {
	args := append(credentialArgs("decrypt", creds), "--ciphertext", base64.StdEncoding.EncodeToString(ciphertext))
	fields, err := c.run(ctx, "decrypt", args, LabelPlaintext)
	if err != nil {
		return nil, err
	}
	return fields[0], nil
}

func credentialArgs(subcommand string, creds Credentials) []string {
	return []string{
		subcommand,
		"--region", creds.Region,
		"--aws-access-key-id", creds.AccessKeyID,
		"--aws-secret-access-key", creds.SecretAccessKey,
		"--aws-session-token", creds.SessionToken,
		"--proxy-port", creds.ProxyPort,
	}
}

func (c *CLI) run(ctx context.Context, op string, args []string, labels ...string) ([][]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	defer wipeBuffer(&stdout)

	status := "exit status 0"
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &Error{Kind: KindIo, Op: op, Err: fmt.Errorf("failed to run %s: %w", c.Path, err)}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &Error{Kind: KindIo, Op: op, Status: exitErr.String(), Err: ctxErr}
		}
		status = exitErr.String()
		log.Warn().
			Str("op", op).
			Str("status", status).
			Msg("kmstool exited non-zero, parsing output anyway")
	}

	log.Debug().
		Str("op", op).
		Dur("elapsed", time.Since(start)).
		Int("stdout_len", stdout.Len()).
		Int("stderr_len", stderr.Len()).
		Msg("kmstool finished")

	return ParseOutput(op, labels, Output{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
		Status: status,
	})
}

func wipeBuffer(b *bytes.Buffer) {
	raw := b.Bytes()
	for i := range raw {
		raw[i] = 0
	}
	b.Reset()
}

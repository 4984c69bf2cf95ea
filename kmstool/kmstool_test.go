package kmstool

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestParseOutputSingleField(t *testing.T) {
	for _, status := range []string{"exit status 0", "exit status 1"} {
		out := Output{
			Stdout: []byte("PLAINTEXT: " + b64("Hello World") + "\n"),
			Stderr: []byte("Some warning message\n"),
			Status: status,
		}

		fields, err := ParseOutput("genrandom", []string{LabelPlaintext}, out)
		require.NoError(t, err, status)
		require.Len(t, fields, 1)
		assert.Equal(t, []byte("Hello World"), fields[0])
	}
}

func TestParseOutputRequestedOrder(t *testing.T) {
	cases := map[string]string{
		"in order":     "CIPHERTEXT: " + b64("ciphertext") + "\nPLAINTEXT: " + b64("secretdata!") + "\n",
		"out of order": "PLAINTEXT: " + b64("secretdata!") + "\nCIPHERTEXT: " + b64("ciphertext") + "\n",
		"noise":        "connecting to proxy\n  PLAINTEXT: " + b64("secretdata!") + "  \nfoo\nCIPHERTEXT: " + b64("ciphertext"),
	}
	for name, stdout := range cases {
		t.Run(name, func(t *testing.T) {
			out := Output{Stdout: []byte(stdout), Stderr: []byte("warn\n"), Status: "exit status 1"}

			fields, err := ParseOutput("genkey", []string{LabelCiphertext, LabelPlaintext}, out)
			require.NoError(t, err)
			require.Len(t, fields, 2)
			assert.Equal(t, []byte("ciphertext"), fields[0])
			assert.Equal(t, []byte("secretdata!"), fields[1])
		})
	}
}

func TestParseOutputMissingLabel(t *testing.T) {
	out := Output{
		Stdout: []byte(""),
		Stderr: []byte("Some warning message\n"),
		Status: "exit status 1",
	}

	_, err := ParseOutput("decrypt", []string{LabelPlaintext}, out)
	var kerr *Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, KindStdoutParse, kerr.Kind)
	assert.Equal(t, "Some warning message\n", kerr.Stderr)
	assert.Equal(t, "exit status 1", kerr.Status)
	assert.Equal(t, "PLAINTEXT:", kerr.Label)
}

func TestParseOutputMissingSecondLabel(t *testing.T) {
	out := Output{Stdout: []byte("CIPHERTEXT: " + b64("ct") + "\n"), Stderr: []byte("e"), Status: "exit status 0"}

	_, err := ParseOutput("genkey", []string{LabelCiphertext, LabelPlaintext}, out)
	var kerr *Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, KindStdoutParse, kerr.Kind)
	assert.Equal(t, "PLAINTEXT:", kerr.Label)
}

func TestParseOutputMissingCiphertextKeepsWipeableStdout(t *testing.T) {
	key := b64("0123456789abcdef0123456789abcdef")
	out := Output{Stdout: []byte("PLAINTEXT: " + key + "\n"), Status: "exit status 0"}

	_, err := ParseOutput("genkey", []string{LabelCiphertext, LabelPlaintext}, out)
	var kerr *Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, "CIPHERTEXT:", kerr.Label)
	assert.Contains(t, string(kerr.Stdout), key)

	// The error owns its copy
	kerr.Wipe()
	assert.Equal(t, make([]byte, len(out.Stdout)), kerr.Stdout)
	assert.Contains(t, string(out.Stdout), key)
}

func TestParseOutputBadBase64(t *testing.T) {
	out := Output{Stdout: []byte("PLAINTEXT: not*base64\n"), Status: "exit status 0"}

	_, err := ParseOutput("genrandom", []string{LabelPlaintext}, out)
	var kerr *Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, KindDecode, kerr.Kind)
	assert.Empty(t, kerr.Stdout)
}

func TestErrorMessageOmitsOutput(t *testing.T) {
	secret := b64("top secret key material")
	out := Output{
		Stdout: []byte("CIPHERTEXT: " + secret + "\n"),
		Stderr: []byte("stderr detail"),
		Status: "exit status 2",
	}

	_, err := ParseOutput("genkey", []string{LabelCiphertext, LabelPlaintext}, out)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), secret)
	assert.NotContains(t, err.Error(), "stderr detail")
	assert.Contains(t, err.Error(), "exit status 2")
}

// fakeTool writes a shell script that records its arguments and prints body.
func fakeTool(t *testing.T, body string) (path, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	path = filepath.Join(dir, "kmstool_enclave_cli")
	script := "#!/bin/sh\nfor a in \"$@\"; do echo \"$a\" >> " + argsFile + "; done\n" + body
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path, argsFile
}

func readArgs(t *testing.T, argsFile string) []string {
	t.Helper()
	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

var testCreds = Credentials{
	Region:          "eu-west-1",
	AccessKeyID:     "AKID",
	SecretAccessKey: "SECRET",
	SessionToken:    "TOKEN",
	ProxyPort:       "8000",
}

func TestCLIGenRandom(t *testing.T) {
	path, argsFile := fakeTool(t, "echo 'PLAINTEXT: "+b64("0123456789")+"'\n")
	cli := NewCLI(path, 5*time.Second)

	got, err := cli.GenRandom(context.Background(), testCreds, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), got)
	assert.Equal(t, []string{
		"genrandom",
		"--region", "eu-west-1",
		"--aws-access-key-id", "AKID",
		"--aws-secret-access-key", "SECRET",
		"--aws-session-token", "TOKEN",
		"--proxy-port", "8000",
		"--length", "10",
	}, readArgs(t, argsFile))
}

func TestCLIGenKeyToleratesNonZeroExit(t *testing.T) {
	path, argsFile := fakeTool(t,
		"echo 'PLAINTEXT: "+b64("plain")+"'\necho 'CIPHERTEXT: "+b64("wrapped")+"'\necho oops >&2\nexit 3\n")
	cli := NewCLI(path, 5*time.Second)

	key, err := cli.GenKey(context.Background(), testCreds, "alias/wallet", KeySpecAES256)
	require.NoError(t, err)
	assert.Equal(t, []byte("wrapped"), key.Ciphertext)
	assert.Equal(t, []byte("plain"), key.Plaintext)

	args := readArgs(t, argsFile)
	assert.Equal(t, "genkey", args[0])
	assert.Equal(t, []string{"--key-id", "alias/wallet", "--key-spec", "AES-256"}, args[len(args)-4:])
}

func TestCLIDecryptPassesBase64Ciphertext(t *testing.T) {
	path, argsFile := fakeTool(t, "echo 'PLAINTEXT: "+b64("dk")+"'\n")
	cli := NewCLI(path, 5*time.Second)

	got, err := cli.Decrypt(context.Background(), testCreds, []byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)
	assert.Equal(t, []byte("dk"), got)

	args := readArgs(t, argsFile)
	assert.Equal(t, "decrypt", args[0])
	assert.Equal(t, []string{"--ciphertext", "3q2+7w=="}, args[len(args)-2:])
}

func TestCLIMissingOutputCarriesStderr(t *testing.T) {
	path, _ := fakeTool(t, "echo 'access denied' >&2\nexit 1\n")
	cli := NewCLI(path, 5*time.Second)

	_, err := cli.GenRandom(context.Background(), testCreds, 64)
	var kerr *Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, KindStdoutParse, kerr.Kind)
	assert.Equal(t, "access denied\n", kerr.Stderr)
	assert.Equal(t, "exit status 1", kerr.Status)
}

func TestCLISpawnFailure(t *testing.T) {
	cli := NewCLI(filepath.Join(t.TempDir(), "does-not-exist"), time.Second)

	_, err := cli.GenRandom(context.Background(), testCreds, 64)
	var kerr *Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, KindIo, kerr.Kind)
}

func TestCLITimeout(t *testing.T) {
	path, _ := fakeTool(t, "exec sleep 5\n")
	cli := NewCLI(path, 50*time.Millisecond)

	start := time.Now()
	_, err := cli.GenRandom(context.Background(), testCreds, 64)
	var kerr *Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, KindIo, kerr.Kind)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 4*time.Second)
}

type fakeKMS struct {
	random     []byte
	dataKey    *kms.GenerateDataKeyOutput
	plaintext  []byte
	err        error
	gotKeyID   string
	gotKeySpec types.DataKeySpec
	gotBlob    []byte
}

func (f *fakeKMS) GenerateRandom(_ context.Context, in *kms.GenerateRandomInput, _ ...func(*kms.Options)) (*kms.GenerateRandomOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &kms.GenerateRandomOutput{Plaintext: f.random[:aws.ToInt32(in.NumberOfBytes)]}, nil
}

func (f *fakeKMS) GenerateDataKey(_ context.Context, in *kms.GenerateDataKeyInput, _ ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.gotKeyID = aws.ToString(in.KeyId)
	f.gotKeySpec = in.KeySpec
	return f.dataKey, nil
}

func (f *fakeKMS) Decrypt(_ context.Context, in *kms.DecryptInput, _ ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.gotBlob = in.CiphertextBlob
	return &kms.DecryptOutput{Plaintext: f.plaintext}, nil
}

func sdkWith(f *fakeKMS) *SDK {
	return &SDK{newClient: func(context.Context, Credentials) (KMSAPI, error) { return f, nil }}
}

func TestSDKClient(t *testing.T) {
	f := &fakeKMS{
		random:    []byte("abcdefghijklmnop"),
		dataKey:   &kms.GenerateDataKeyOutput{CiphertextBlob: []byte("wrapped"), Plaintext: []byte("plain"), KeyId: aws.String("arn:key")},
		plaintext: []byte("plain"),
	}
	s := sdkWith(f)
	ctx := context.Background()

	random, err := s.GenRandom(ctx, testCreds, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), random)

	key, err := s.GenKey(ctx, testCreds, "alias/wallet", KeySpecAES256)
	require.NoError(t, err)
	assert.Equal(t, []byte("wrapped"), key.Ciphertext)
	assert.Equal(t, "alias/wallet", f.gotKeyID)
	assert.Equal(t, types.DataKeySpecAes256, f.gotKeySpec)

	plain, err := s.Decrypt(ctx, testCreds, []byte("wrapped"))
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), plain)
	assert.Equal(t, []byte("wrapped"), f.gotBlob)
}

func TestSDKClientErrors(t *testing.T) {
	s := sdkWith(&fakeKMS{err: errors.New("AccessDeniedException")})

	_, err := s.Decrypt(context.Background(), testCreds, []byte("x"))
	var kerr *Error
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, KindIo, kerr.Kind)

	_, err = s.GenKey(context.Background(), testCreds, "k", "RSA-2048")
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, KindIo, kerr.Kind)

	s = sdkWith(&fakeKMS{dataKey: &kms.GenerateDataKeyOutput{CiphertextBlob: []byte("c")}})
	_, err = s.GenKey(context.Background(), testCreds, "k", KeySpecAES256)
	require.True(t, errors.As(err, &kerr))
	assert.Equal(t, KindStdoutParse, kerr.Kind)
}

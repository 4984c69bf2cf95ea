package kmstool

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"strings"
)

const (
	LabelPlaintext  = "PLAINTEXT: "
	LabelCiphertext = "CIPHERTEXT: "
)

// Output is the captured result of one proxy invocation
type Output struct {
	Stdout []byte
	Stderr []byte
	Status string
}

// ParseOutput extracts one base64 field per label, in the order of labels.
// Each label is searched for independently, so the order of lines in stdout
// does not matter. The exit status is not consulted.
func ParseOutput(op string, labels []string, out Output) ([][]byte, error) {
	fields := make([][]byte, 0, len(labels))
	for _, label := range labels {
		value, ok := findLabel(out.Stdout, label)
		if !ok {
			wipeAll(fields)
			return nil, &Error{
				Kind:   KindStdoutParse,
				Op:     op,
				Label:  strings.TrimSpace(label),
				Stdout: bytes.Clone(out.Stdout),
				Status: out.Status,
				Stderr: string(out.Stderr),
			}
		}

		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			wipeAll(fields)
			return nil, &Error{
				Kind:   KindDecode,
				Op:     op,
				Label:  strings.TrimSpace(label),
				Status: out.Status,
				Stderr: string(out.Stderr),
				Err:    err,
			}
		}
		fields = append(fields, decoded)
	}
	return fields, nil
}

func findLabel(stdout []byte, label string) (string, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if value, ok := strings.CutPrefix(line, label); ok {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

func wipeAll(fields [][]byte) {
	for _, f := range fields {
		for i := range f {
			f[i] = 0
		}
	}
}

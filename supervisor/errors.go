package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xes-software/trustvault/kmstool"
	"github.com/xes-software/trustvault/transport"
)

// kmsToolError converts a kmstool failure into the error sent to the host
// and wipes the captured stdout. Stdout is never included. Stderr is appended
// only when the operator enabled pass-through.
func (d *Dispatcher) kmsToolError(err error) *transport.WalletError {
	msg := err.Error()
	var kerr *kmstool.Error
	if errors.As(err, &kerr) {
		kerr.Wipe()
		if stderr := strings.TrimSpace(kerr.Stderr); d.passThroughStderr && stderr != "" {
			msg = fmt.Sprintf("%s (stderr: %s)", msg, stderr)
		}
	}
	return transport.NewWalletError(transport.KmsToolError, msg)
}

func aesGCMError(err error) *transport.WalletError {
	return transport.NewWalletError(transport.Aes256GcmError, err.Error())
}

func signingError(err error) *transport.WalletError {
	return transport.NewWalletError(transport.SigningError, err.Error())
}

func invalidRequest(format string, args ...any) *transport.WalletError {
	return transport.NewWalletError(transport.InvalidRequest, fmt.Sprintf(format, args...))
}

package main

import (
	"fmt"
	"net"

	"github.com/mdlayher/vsock"
)

// Listener accepts host connections. Both vsock and TCP connections are net.Conn,
// so deadlines work the same way in dev mode and in the enclave.
type Listener interface {
	Accept() (net.Conn, error)
	Close() error
	Addr() net.Addr
}

// NewVsockListener listens on port for connections from the parent instance
func NewVsockListener(port uint32) (Listener, error) {
	// The enclave's own CID is implied; any peer CID may connect
	l, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create vsock listener: %w", err)
	}
	return l, nil
}

// NewTCPListener creates a TCP listener for development mode
func NewTCPListener(port uint16) (Listener, error) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP listener: %w", err)
	}
	return l, nil
}

// newListener expects a validated cfg, so the port conversions cannot truncate
func newListener(cfg *Config) (Listener, error) {
	if cfg.DevMode {
		return NewTCPListener(uint16(cfg.TCPPort))
	}
	return NewVsockListener(uint32(cfg.VsockPort))
}

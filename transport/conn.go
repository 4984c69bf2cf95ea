// Package transport implements the framed message channel between the host
// and the enclave.
//
// Every frame is a 4-byte big-endian payload length followed by a CBOR
// payload. A connection carries exactly one request and one response.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds the payload length accepted by Receive (10MB)
const MaxFrameSize = 10 * 1024 * 1024

const headerSize = 4

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("transport: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("transport: cbor dec mode: %v", err))
	}
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type flusher interface {
	Flush() error
}

// Conn wraps one connection-oriented byte stream. It keeps no state between
// calls: each Send and Receive is a complete frame.
type Conn struct {
	rw      io.ReadWriter
	timeout time.Duration
}

// NewConn wraps rw. A positive timeout bounds each Send and Receive when rw
// supports deadlines (net.Conn does).
func NewConn(rw io.ReadWriter, timeout time.Duration) *Conn {
	return &Conn{rw: rw, timeout: timeout}
}

// Send encodes msg and writes it as a single frame, then flushes.
func (c *Conn) Send(msg any) error {
	payload, err := encMode.Marshal(msg)
	if err != nil {
		return &SendError{Kind: SendSerialization, Err: err}
	}
	if len(payload) > MaxFrameSize {
		return &SendError{Kind: SendSerialization, Err: fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))}
	}

	if d, ok := c.rw.(deadliner); ok && c.timeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return &SendError{Kind: SendIo, Err: err}
		}
	}

	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(payload)))
	copy(frame[headerSize:], payload)

	if _, err := c.rw.Write(frame); err != nil {
		return &SendError{Kind: SendIo, Err: err}
	}
	if f, ok := c.rw.(flusher); ok {
		if err := f.Flush(); err != nil {
			return &SendError{Kind: SendIo, Err: err}
		}
	}
	return nil
}

// Receive reads exactly one frame and decodes it into v, which must be a pointer.
func (c *Conn) Receive(v any) error {
	if d, ok := c.rw.(deadliner); ok && c.timeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return &ReceiveError{Kind: ReceiveIo, Err: err}
		}
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(c.rw, header[:]); err != nil {
		return &ReceiveError{Kind: ReceiveIo, Err: err}
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return &ReceiveError{Kind: ReceiveIo, Err: fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.rw, payload); err != nil {
		return &ReceiveError{Kind: ReceiveIo, Err: err}
	}

	if err := decMode.Unmarshal(payload, v); err != nil {
		return &ReceiveError{Kind: ReceiveDeserialization, Err: err}
	}
	return nil
}

// Marshal returns the CBOR payload for msg as Send would write it, without the length prefix.
func Marshal(msg any) ([]byte, error) {
	return encMode.Marshal(msg)
}

package rfb

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// Parse-time protocol violations. Truncated input is deliberately absent:
// a short buffer is reported as zero bytes consumed and retried on the
// next read, never as an error.
var (
	// ErrVersionMismatch: the peer offered a version other than 3.8.
	ErrVersionMismatch = errors.New("unsupported protocol version")

	// ErrUnknownMessageType: a type code with no parser table entry.
	ErrUnknownMessageType = errors.New("unknown RFB packet type")
)

// TransportErrorClass describes how a read/write failure should be
// treated: peer-initiated closes and aborts that routinely accompany
// teardown stay quiet, everything else is surfaced loudly.
type TransportErrorClass int

const (
	// TransportPeerClosed: graceful close from the other end.
	TransportPeerClosed TransportErrorClass = iota
	// TransportResetExpected: an OS-level reset from the expected-abort
	// set, typical when the peer vanishes mid-write.
	TransportResetExpected
	// TransportResetUnexpected: an OS-level failure outside the
	// expected-abort set; logged with full detail.
	TransportResetUnexpected
	// TransportInternal: anything else, treated as a handler bug.
	TransportInternal
)

func (c TransportErrorClass) String() string {
	switch c {
	case TransportPeerClosed:
		return "peer-closed"
	case TransportResetExpected:
		return "reset-expected"
	case TransportResetUnexpected:
		return "reset-unexpected"
	default:
		return "internal"
	}
}

// expectedAborts are errno values that accompany an ordinary peer
// disappearance and do not warrant a full error report.
var expectedAborts = []error{
	syscall.EPIPE,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
}

// ClassifyTransportError maps a connection read/write error onto the
// handling policy for it.
func ClassifyTransportError(err error) TransportErrorClass {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return TransportPeerClosed
	}
	for _, abort := range expectedAborts {
		if errors.Is(err, abort) {
			return TransportResetExpected
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return TransportResetUnexpected
	}
	return TransportInternal
}

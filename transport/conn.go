// Package transport provides the byte-stream connection abstraction the
// protocol engine consumes, plus adapters over TCP and WebSocket.
//
// A Conn has partial-read/partial-write semantics: Read returns whatever is
// currently available up to len(p), Write may write fewer bytes than
// requested, and io.EOF signals that the peer closed its end.
package transport

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Conn is the bidirectional byte channel the protocol engine reads from and
// writes to. Implementations must tolerate Close being called more than
// once and concurrently with pending reads or writes.
type Conn interface {
	// Read fills p with up to len(p) bytes. io.EOF means peer EOF.
	Read(p []byte) (int, error)

	// Write writes bytes from p, possibly fewer than len(p); the caller
	// retries with the remainder.
	Write(p []byte) (int, error)

	// Close shuts down both directions. Safe to call repeatedly.
	Close() error
}

// TCPConn adapts a net.Conn to the Conn contract with idempotent close.
type TCPConn struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

// NewTCPConn wraps an accepted or dialed net.Conn.
func NewTCPConn(conn net.Conn) *TCPConn {
	return &TCPConn{conn: conn}
}

// Read implements Conn.Read.
func (c *TCPConn) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// Write implements Conn.Write.
func (c *TCPConn) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// Close implements Conn.Close. Only the first call closes the socket.
func (c *TCPConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"remote":   c.conn.RemoteAddr().String(),
		}).Debug("closed TCP connection")
	})
	return c.closeErr
}

// RemoteAddr returns the peer address, for logging.
func (c *TCPConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

package transport

import (
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSConn adapts a WebSocket connection carrying binary frames to the Conn
// byte-stream contract. Frame boundaries are not preserved: a Read may
// return part of one frame, and successive frames are concatenated, which
// matches how browser-based viewers tunnel the wire protocol.
type WSConn struct {
	ws        *websocket.Conn
	residual  []byte
	readMu    sync.Mutex
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWSConn wraps an upgraded WebSocket connection.
func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

// Read implements Conn.Read. Text and control frames are skipped; a close
// frame from the peer surfaces as io.EOF.
func (c *WSConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.residual) == 0 {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if messageType != websocket.BinaryMessage {
			logrus.WithFields(logrus.Fields{
				"function":     "Read",
				"message_type": messageType,
			}).Debug("ignoring non-binary WebSocket message")
			continue
		}
		c.residual = data
	}

	n := copy(p, c.residual)
	c.residual = c.residual[n:]
	return n, nil
}

// Write implements Conn.Write. Each call sends one binary frame; WebSocket
// writes are all-or-nothing, so a successful write covers all of p.
func (c *WSConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements Conn.Close. The first call sends a close frame on a
// best-effort basis, then closes the underlying socket.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

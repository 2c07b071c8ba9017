package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsPair upgrades one connection and returns the server-side adapter plus
// the raw client socket.
func wsPair(t *testing.T) (*WSConn, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	serverSide := make(chan *WSConn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverSide <- NewWSConn(ws)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-serverSide:
		t.Cleanup(func() { conn.Close() })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
		return nil, nil
	}
}

func TestWSConnReadSpansFrames(t *testing.T) {
	conn, client := wsPair(t)

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte("RFB ")))
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte("003.008\n")))

	got := make([]byte, 0, 12)
	buf := make([]byte, 5) // force partial reads of each frame
	for len(got) < 12 {
		n, err := conn.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, "RFB 003.008\n", string(got))
}

func TestWSConnSkipsTextFrames(t *testing.T) {
	conn, client := wsPair(t)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("noise")))
	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{0x05}))

	buf := make([]byte, 4)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, buf[:n])
}

func TestWSConnWriteDeliversBinaryFrame(t *testing.T) {
	conn, client := wsPair(t)

	n, err := conn.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	messageType, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
}

func TestWSConnPeerCloseIsEOF(t *testing.T) {
	conn, client := wsPair(t)

	require.NoError(t, client.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second)))

	_, err := conn.Read(make([]byte, 8))
	assert.Equal(t, io.EOF, err)
}

func TestWSConnCloseIsIdempotent(t *testing.T) {
	conn, _ := wsPair(t)
	require.NoError(t, conn.Close())
	assert.NotPanics(t, func() { conn.Close() })
}

// Package security provides the concrete security negotiators that plug
// into the protocol engine: no authentication, and the classic VNC
// password challenge. Each negotiator drives the security stages of the
// RFB 3.8 handshake and hands the connection over to the established
// message parser when done.
package security

import (
	"encoding/binary"

	"github.com/opd-ai/rfbproto/rfb"
)

// Type is an RFB security type code from the server's offer list.
type Type byte

const (
	TypeInvalid Type = 0
	TypeNone    Type = 1
	TypeVNCAuth Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeVNCAuth:
		return "vnc-auth"
	default:
		return "invalid"
	}
}

// resultOK is the SecurityResult success word.
func resultOK() []byte {
	return []byte{0, 0, 0, 0}
}

// resultFailed is the SecurityResult failure word followed by the
// length-prefixed reason string, as RFB 3.8 requires.
func resultFailed(reason string) []byte {
	buf := make([]byte, 8+len(reason))
	binary.BigEndian.PutUint32(buf[0:4], 1)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(reason)))
	copy(buf[8:], reason)
	return buf
}

// offer builds the server's security-type list message.
func offer(types ...Type) []byte {
	buf := make([]byte, 1+len(types))
	buf[0] = byte(len(types))
	for i, t := range types {
		buf[i+1] = byte(t)
	}
	return buf
}

// parseClientInit reads the one-byte shared-session flag that follows a
// successful security result, then enters the established message loop.
func parseClientInit(p *rfb.Protocol) rfb.ParserFunc {
	return func(data []byte) int {
		if len(data) < 1 {
			return 0
		}
		p.SetShare(data[0] != 0)
		p.SetParser(p.EstablishedParser())
		return 1
	}
}

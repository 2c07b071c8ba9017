package security

import (
	"fmt"

	"github.com/opd-ai/rfbproto/rfb"
)

// None negotiates the "no authentication" security type. A None instance
// is stateless and may be shared across connections.
type None struct{}

// NewNone creates a no-authentication negotiator.
func NewNone() *None {
	return &None{}
}

// HandshakeComplete implements rfb.SecurityNegotiator. It offers the None
// security type and waits for the client's choice.
func (n *None) HandshakeComplete(p *rfb.Protocol) rfb.ParserFunc {
	p.Send(offer(TypeNone))
	return n.parseSecurityHandshake(p)
}

func (n *None) parseSecurityHandshake(p *rfb.Protocol) rfb.ParserFunc {
	return func(data []byte) int {
		if len(data) < 1 {
			return 0
		}
		chosen := Type(data[0])
		if chosen != TypeNone {
			p.Invalid(fmt.Sprintf("unsupported security type chosen: %s", chosen), data)
			return 0
		}
		p.Send(resultOK())
		p.SetParser(parseClientInit(p))
		return 1
	}
}

package security

import (
	"crypto/des" // #nosec G502 - DES is what the VNC authentication scheme specifies
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rfbproto/rfb"
)

// VNC authentication constants.
const (
	ChallengeSize     = 16
	desKeySize        = 8
	maxPasswordLength = 8
)

// VNCAuth negotiates the classic VNC password challenge: a random 16-byte
// challenge that the client must return DES-encrypted with the password as
// key. DES is weak and the scheme is kept only because the protocol
// mandates it; anything security-sensitive belongs in an outer transport
// layer. A VNCAuth instance holds only the password and may be shared
// across connections.
type VNCAuth struct {
	password string
}

// NewVNCAuth creates a password-challenge negotiator.
func NewVNCAuth(password string) *VNCAuth {
	return &VNCAuth{password: password}
}

// HandshakeComplete implements rfb.SecurityNegotiator.
func (v *VNCAuth) HandshakeComplete(p *rfb.Protocol) rfb.ParserFunc {
	p.Send(offer(TypeVNCAuth))
	return v.parseSecurityHandshake(p)
}

func (v *VNCAuth) parseSecurityHandshake(p *rfb.Protocol) rfb.ParserFunc {
	return func(data []byte) int {
		if len(data) < 1 {
			return 0
		}
		chosen := Type(data[0])
		if chosen != TypeVNCAuth {
			p.Invalid(fmt.Sprintf("unsupported security type chosen: %s", chosen), data)
			return 0
		}
		challenge := make([]byte, ChallengeSize)
		if _, err := rand.Read(challenge); err != nil {
			p.Invalid(fmt.Sprintf("cannot generate challenge: %v", err), nil)
			return 0
		}
		p.Send(challenge)
		p.SetParser(v.parseChallenge(p, challenge))
		return 1
	}
}

func (v *VNCAuth) parseChallenge(p *rfb.Protocol, challenge []byte) rfb.ParserFunc {
	return func(data []byte) int {
		if len(data) < ChallengeSize {
			return 0
		}
		response := data[:ChallengeSize]
		expected, err := EncryptChallenge(v.password, challenge)
		if err != nil {
			p.Invalid(fmt.Sprintf("cannot verify challenge: %v", err), nil)
			return 0
		}
		if subtle.ConstantTimeCompare(expected, response) != 1 {
			logrus.WithFields(logrus.Fields{
				"function":      "parseChallenge",
				"connection_id": p.ID(),
			}).Warn("VNC authentication failed")
			reason := "authentication failed"
			p.Send(resultFailed(reason))
			p.Invalid(reason, response)
			return ChallengeSize
		}
		p.Send(resultOK())
		p.SetParser(parseClientInit(p))
		return ChallengeSize
	}
}

// EncryptChallenge computes the DES-encrypted challenge the client is
// expected to return for the given password. Exported for clients and
// tests.
func EncryptChallenge(password string, challenge []byte) ([]byte, error) {
	if len(challenge) != ChallengeSize {
		return nil, fmt.Errorf("challenge must be %d bytes, got %d", ChallengeSize, len(challenge))
	}
	block, err := des.NewCipher(desKey(password))
	if err != nil {
		return nil, fmt.Errorf("creating DES cipher: %w", err)
	}
	out := make([]byte, ChallengeSize)
	for offset := 0; offset < ChallengeSize; offset += des.BlockSize {
		block.Encrypt(out[offset:offset+des.BlockSize], challenge[offset:offset+des.BlockSize])
	}
	return out, nil
}

// desKey derives the DES key from a password: truncate or zero-pad to
// eight bytes, then reverse the bit order of each byte, a quirk the
// original VNC implementation established.
func desKey(password string) []byte {
	key := make([]byte, desKeySize)
	copy(key, password)
	for i, b := range key {
		key[i] = reverseBits(b)
	}
	return key
}

func reverseBits(b byte) byte {
	var out byte
	for i := 0; i < 8; i++ {
		out = out<<1 | (b>>i)&1
	}
	return out
}

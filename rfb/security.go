package rfb

// ParserFunc consumes buffered bytes and returns how many it used. Zero
// means not enough data is buffered yet; the engine retries after the next
// read. Parsers signal violations through Protocol.Invalid rather than by
// returning errors.
type ParserFunc func(data []byte) int

// SecurityNegotiator supplies the security stages of the RFB handshake:
// security-type offer, challenge/response, and security result. The engine
// hard-codes none of them, so connection variants (no authentication,
// password challenge, future methods) plug in at construction time.
//
// HandshakeComplete is invoked once the version exchange succeeds. The
// negotiator typically sends its security-type list and returns the parser
// for the next stage; later stage transitions happen inside the returned
// parsers via Protocol.SetParser. A negotiator that finishes immediately
// can return Protocol.EstablishedParser.
type SecurityNegotiator interface {
	HandshakeComplete(p *Protocol) ParserFunc
}

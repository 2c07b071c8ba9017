// Package rfb implements the server-side RFB ("Remote FrameBuffer") wire
// protocol engine: version handshake, security negotiation stages, client
// message framing, and the reader/writer goroutines that translate an
// untrusted byte stream into decoded packets.
//
// Example:
//
//	sched := scheduler.New()
//	proto := rfb.New(sched, conn, sink, security.NewNone())
//	proto.SendProtocolHandshake()
//	proto.Start()
package rfb

// MessageType identifies an RFB client-to-server message by its one-byte
// wire code.
type MessageType byte

const (
	MsgSetPixelFormat           MessageType = 0
	MsgSetEncodings             MessageType = 2
	MsgFramebufferUpdateRequest MessageType = 3
	MsgKeyEvent                 MessageType = 4
	MsgPointerEvent             MessageType = 5
	MsgClientCutText            MessageType = 6
)

// Names of the synthetic packets delivered to the sink alongside decoded
// client messages.
const (
	// PacketInvalid is emitted once when the stream becomes unparseable.
	PacketInvalid = "invalid"
	// PacketConnectionLost is emitted exactly once when the connection
	// is torn down.
	PacketConnectionLost = "connection-lost"
)

// Packet is one decoded client message, or a synthetic marker.
//
// For decoded messages, Fields holds the fixed-layout values in wire order
// with the type code excluded; padding bytes are included so field indices
// line up with the protocol description. Encodings and Text carry the
// variable trailers of SetEncodings and ClientCutText.
type Packet struct {
	Type MessageType
	Name string

	Fields    []uint32
	Encodings []int32
	Text      []byte

	// Reason and Data are set on PacketInvalid markers only: the
	// diagnostic message and the offending bytes.
	Reason string
	Data   []byte
}

// Synthetic reports whether the packet is an engine-generated marker
// rather than a decoded client message.
func (pkt *Packet) Synthetic() bool {
	return pkt.Name == PacketInvalid || pkt.Name == PacketConnectionLost
}

func newInvalidPacket(reason string, data []byte) *Packet {
	offending := make([]byte, len(data))
	copy(offending, data)
	return &Packet{
		Name:   PacketInvalid,
		Reason: reason,
		Data:   offending,
	}
}

func newConnectionLostPacket() *Packet {
	return &Packet{Name: PacketConnectionLost}
}

// PacketSink receives every decoded packet plus the synthetic markers. All
// invocations are marshalled onto the scheduler goroutine, so sinks never
// run concurrently with themselves for the same Protocol.
type PacketSink func(p *Protocol, pkt *Packet)

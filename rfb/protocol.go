package rfb

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/rfbproto/metrics"
	"github.com/opd-ai/rfbproto/scheduler"
	"github.com/opd-ai/rfbproto/transport"
)

// versionString is the only protocol version this engine speaks.
const versionString = "RFB 003.008\n"

const (
	versionMajor = 3
	versionMinor = 8
)

const (
	defaultReadBufferSize = 65536
	defaultGraceDelay     = time.Second
)

// Protocol terminates one RFB connection: it owns the handshake sequence,
// the active parser, packet dispatch, and the reader/writer goroutines.
//
// The residual input buffer and the active parser belong exclusively to
// the reader goroutine. The outbound queue is the only structure shared
// across caller goroutines and the writer. The closed flag is the single
// explicit cross-goroutine synchronization point; every other cross-thread
// notification is marshalled through the scheduler.
type Protocol struct {
	id    string
	sched *scheduler.Scheduler

	// mu guards the conn and sink references, which are released during
	// teardown.
	mu         sync.Mutex
	conn       transport.Conn
	sink       PacketSink
	negotiator SecurityNegotiator

	queue *writeQueue

	// Reader-goroutine state.
	buffer []byte
	parser ParserFunc

	share  atomic.Bool
	closed atomic.Bool

	writerOnce sync.Once

	readBufferSize int
	eofGrace       time.Duration
	invalidGrace   time.Duration

	m   *metrics.Metrics
	log *logrus.Entry

	inputPackets     atomic.Uint64
	inputRawPackets  atomic.Uint64
	outputPackets    atomic.Uint64
	outputRawPackets atomic.Uint64
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithReadBufferSize sets the per-read chunk size.
func WithReadBufferSize(size int) Option {
	return func(p *Protocol) {
		p.readBufferSize = size
	}
}

// WithInitialData seeds the residual buffer with bytes that were already
// read off the connection before the protocol took ownership of it.
func WithInitialData(data []byte) Option {
	return func(p *Protocol) {
		p.buffer = append(p.buffer, data...)
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Protocol) {
		p.m = m
	}
}

// WithEOFGrace sets the delay between peer EOF and teardown, leaving time
// for already-buffered packets to finish dispatching.
func WithEOFGrace(d time.Duration) Option {
	return func(p *Protocol) {
		p.eofGrace = d
	}
}

// WithInvalidGrace sets the delay between an invalid-data notification and
// teardown.
func WithInvalidGrace(d time.Duration) Option {
	return func(p *Protocol) {
		p.invalidGrace = d
	}
}

// New creates a protocol instance for an accepted connection. The engine
// takes exclusive ownership of conn until Close completes. Every decoded
// packet, plus the synthetic invalid and connection-lost markers, is
// delivered to sink on the scheduler goroutine.
func New(sched *scheduler.Scheduler, conn transport.Conn, sink PacketSink,
	negotiator SecurityNegotiator, opts ...Option) *Protocol {
	p := &Protocol{
		id:             uuid.New().String(),
		sched:          sched,
		conn:           conn,
		sink:           sink,
		negotiator:     negotiator,
		queue:          newWriteQueue(),
		readBufferSize: defaultReadBufferSize,
		eofGrace:       defaultGraceDelay,
		invalidGrace:   defaultGraceDelay,
	}
	p.parser = p.parseProtocolHandshake
	for _, opt := range opts {
		opt(p)
	}
	p.log = logrus.WithFields(logrus.Fields{
		"connection_id": p.id,
	})
	p.m.ConnectionOpened()
	return p
}

// ID returns the connection identifier used in log fields.
func (p *Protocol) ID() string {
	return p.id
}

// IsClosed reports whether teardown has begun.
func (p *Protocol) IsClosed() bool {
	return p.closed.Load()
}

// Share reports the shared-session flag from the client-init stage.
func (p *Protocol) Share() bool {
	return p.share.Load()
}

// SetShare records the shared-session flag. Called by negotiators while
// parsing the client-init byte.
func (p *Protocol) SetShare(share bool) {
	p.share.Store(share)
}

// QueueSize returns the number of outbound buffers not yet flushed.
func (p *Protocol) QueueSize() int {
	return p.queue.size()
}

// Info returns diagnostic state: protocol version, teardown status, and
// the packet counters.
func (p *Protocol) Info() map[string]any {
	return map[string]any{
		"protocol":           fmt.Sprintf("%d.%d", versionMajor, versionMinor),
		"connection_id":      p.id,
		"closed":             p.IsClosed(),
		"queue_size":         p.QueueSize(),
		"input_packets":      p.inputPackets.Load(),
		"input_raw_packets":  p.inputRawPackets.Load(),
		"output_packets":     p.outputPackets.Load(),
		"output_raw_packets": p.outputRawPackets.Load(),
	}
}

// Start launches the reader goroutine. The launch is deferred onto the
// scheduler's idle pass so construction and thread start cannot race.
func (p *Protocol) Start() {
	p.sched.IdleAdd(func() bool {
		if !p.IsClosed() {
			go p.readLoop()
		}
		return false
	})
}

// SendProtocolHandshake sends the server's version greeting.
func (p *Protocol) SendProtocolHandshake() {
	p.Send([]byte(versionString))
}

// Send enqueues data for the writer goroutine. Buffers are flushed in
// strict FIFO order regardless of the calling goroutine. After Close this
// is a silent no-op.
func (p *Protocol) Send(data []byte) {
	if p.IsClosed() {
		p.log.WithFields(logrus.Fields{
			"function": "Send",
		}).Debug("connection is closed already, not sending packet")
		return
	}
	if len(data) == 0 {
		return
	}
	p.writerOnce.Do(func() {
		p.log.WithFields(logrus.Fields{
			"function": "Send",
		}).Debug("starting write loop")
		go p.writeLoop()
	})
	p.queue.enqueue(data)
}

// SetParser installs the next stage parser. Must only be called from
// within the currently active parser, which runs on the reader goroutine.
func (p *Protocol) SetParser(fn ParserFunc) {
	p.parser = fn
}

// EstablishedParser returns the steady-state client message parser.
// Negotiators install it once their final stage completes.
func (p *Protocol) EstablishedParser() ParserFunc {
	return p.parseClientMessage
}

func (p *Protocol) connRef() transport.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// notify marshals a sink invocation onto the scheduler goroutine so that
// downstream consumers observe all packets, including the synthetic
// markers, on a single serialization point.
func (p *Protocol) notify(pkt *Packet) {
	p.sched.IdleAdd(func() bool {
		p.mu.Lock()
		sink := p.sink
		p.mu.Unlock()
		if sink != nil {
			sink(p, pkt)
		}
		return false
	})
}

// parseProtocolHandshake expects the exact 12-byte version greeting.
func (p *Protocol) parseProtocolHandshake(data []byte) int {
	if len(data) < 12 {
		return 0
	}
	if !bytes.HasPrefix(data, []byte("RFB ")) {
		p.InvalidHeader("invalid RFB protocol handshake packet header", data)
		return 0
	}
	major, minor, ok := parseVersionTriple(data[4:11])
	if !ok {
		p.InvalidHeader("malformed RFB protocol version", data)
		return 0
	}
	if major != versionMajor || minor != versionMinor {
		msg := ErrVersionMismatch.Error()
		p.log.WithFields(logrus.Fields{
			"function": "parseProtocolHandshake",
			"major":    major,
			"minor":    minor,
		}).Error(msg)
		p.Send(versionErrorReply(msg))
		p.Invalid(msg, data[:12])
		return 0
	}
	p.log.WithFields(logrus.Fields{
		"function": "parseProtocolHandshake",
	}).Debug("protocol handshake complete")
	p.mu.Lock()
	negotiator := p.negotiator
	p.mu.Unlock()
	if negotiator == nil {
		return 0
	}
	p.parser = negotiator.HandshakeComplete(p)
	return 12
}

// parseVersionTriple parses the "ddd.ddd" portion of the greeting.
func parseVersionTriple(data []byte) (major, minor int, ok bool) {
	parts := bytes.Split(data, []byte("."))
	if len(parts) != 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(string(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(string(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// versionErrorReply builds the length-prefixed error message sent to peers
// offering an unsupported version: a zero status byte, a 32-bit big-endian
// length, then the message text.
func versionErrorReply(msg string) []byte {
	reply := make([]byte, 5+len(msg))
	binary.BigEndian.PutUint32(reply[1:5], uint32(len(msg)))
	copy(reply[5:], msg)
	return reply
}

// parseClientMessage is the steady-state parser: one decoded packet per
// call, zero consumed while a message is still incomplete.
func (p *Protocol) parseClientMessage(data []byte) int {
	pkt, consumed, err := decodeClientMessage(data)
	if err != nil {
		p.Invalid(err.Error(), data)
		return 0
	}
	if pkt == nil {
		return 0
	}
	p.inputPackets.Add(1)
	p.m.PacketIn()
	p.log.WithFields(logrus.Fields{
		"function": "parseClientMessage",
		"packet":   pkt.Name,
		"size":     consumed,
	}).Debug("decoded client message")
	p.notify(pkt)
	return consumed
}

// parseDiscard consumes everything without interpretation. Installed after
// a fatal protocol violation so corrupted input cannot cascade into
// further misparses.
func (p *Protocol) parseDiscard(data []byte) int {
	return len(data)
}

// Invalid abandons the stream: it switches to the discard parser, emits
// one invalid marker to the sink, and schedules a delayed disconnect so
// the notification is observable before teardown.
func (p *Protocol) Invalid(reason string, data []byte) {
	p.log.WithFields(logrus.Fields{
		"function": "Invalid",
		"reason":   reason,
		"size":     len(data),
	}).Warn("abandoning unparseable stream")
	p.parser = p.parseDiscard
	p.m.Invalid()
	p.notify(newInvalidPacket(reason, data))
	p.sched.TimeoutAdd(p.invalidGrace, func() bool {
		p.connectionLost(reason)
		return false
	})
}

// InvalidHeader is the Invalid specialization for malformed framing: it
// adds a hex preview of the offending bytes to the diagnostics.
func (p *Protocol) InvalidHeader(reason string, data []byte) {
	preview := data
	if len(preview) > 8 {
		preview = preview[:8]
	}
	msg := fmt.Sprintf("%s: '%s'", reason, hex.EncodeToString(preview))
	if len(data) > 1 {
		msg += fmt.Sprintf(" read buffer=%s (%d bytes)", ellipsize(data), len(data))
	}
	p.Invalid(msg, data)
}

func ellipsize(data []byte) string {
	if len(data) <= 24 {
		return fmt.Sprintf("%q", data)
	}
	return fmt.Sprintf("%q..", data[:24])
}

func (p *Protocol) connectionLost(reason string) {
	p.log.WithFields(logrus.Fields{
		"function": "connectionLost",
		"reason":   reason,
	}).Debug("connection lost")
	p.Close()
}

// handleTransportError classifies a read/write failure and routes it to
// teardown. Errors that race with our own Close are expected and silent.
func (p *Protocol) handleTransportError(loop string, err error) {
	if p.IsClosed() {
		return
	}
	class := ClassifyTransportError(err)
	fields := logrus.Fields{
		"function": "handleTransportError",
		"loop":     loop,
		"class":    class.String(),
	}
	switch class {
	case TransportPeerClosed:
		p.log.WithFields(fields).Info("connection closed by peer")
	case TransportResetExpected:
		p.log.WithFields(fields).Debug("connection reset")
	case TransportResetUnexpected:
		p.log.WithFields(fields).WithError(err).Error("connection reset")
	default:
		p.log.WithFields(fields).WithError(err).Error("internal error on connection")
		p.Close()
		return
	}
	p.sched.IdleAdd(func() bool {
		p.connectionLost(err.Error())
		return false
	})
}

// readLoop pulls bounded chunks off the connection and feeds the active
// parser until it reports that more data is needed.
func (p *Protocol) readLoop() {
	p.log.WithFields(logrus.Fields{
		"function": "readLoop",
	}).Debug("read loop starting")
	for !p.IsClosed() {
		more, err := p.readOnce()
		if err != nil {
			p.handleTransportError("read", err)
			return
		}
		if !more {
			return
		}
	}
}

func (p *Protocol) readOnce() (bool, error) {
	c := p.connRef()
	if c == nil {
		return false, nil
	}
	chunk := make([]byte, p.readBufferSize)
	n, err := c.Read(chunk)
	if n > 0 {
		p.inputRawPackets.Add(1)
		p.m.AddBytesIn(n)
		p.buffer = append(p.buffer, chunk[:n]...)
		for len(p.buffer) > 0 {
			consumed := p.parser(p.buffer)
			if consumed == 0 {
				break
			}
			p.buffer = p.buffer[consumed:]
		}
	}
	if errors.Is(err, io.EOF) {
		// Give the scheduler time to dispatch the last packets
		// before tearing down.
		p.log.WithFields(logrus.Fields{
			"function": "readOnce",
		}).Debug("peer EOF, scheduling close")
		p.sched.TimeoutAdd(p.eofGrace, func() bool {
			p.Close()
			return false
		})
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// writeLoop drains the outbound queue into the connection. Dequeuing the
// shutdown sentinel ends the loop and triggers close.
func (p *Protocol) writeLoop() {
	p.log.WithFields(logrus.Fields{
		"function": "writeLoop",
	}).Debug("write loop starting")
	for !p.IsClosed() {
		more, err := p.writeOnce()
		if err != nil {
			p.handleTransportError("write", err)
			return
		}
		if !more {
			return
		}
	}
}

func (p *Protocol) writeOnce() (bool, error) {
	buf, ok := p.queue.dequeue()
	if !ok {
		p.log.WithFields(logrus.Fields{
			"function": "writeOnce",
		}).Debug("write loop: shutdown sentinel, exiting")
		p.Close()
		return false, nil
	}
	c := p.connRef()
	if c == nil {
		return false, nil
	}
	for len(buf) > 0 && !p.IsClosed() {
		n, err := c.Write(buf)
		if n > 0 {
			buf = buf[n:]
			p.outputRawPackets.Add(1)
			p.m.AddBytesOut(n)
		}
		if err != nil {
			return false, err
		}
	}
	p.outputPackets.Add(1)
	p.m.PacketOut()
	return true, nil
}

// Close tears the connection down. It is idempotent and safe to call from
// any goroutine: the first caller closes the connection, releases the
// writer via the shutdown sentinel, emits the connection-lost marker, and
// defers final reference clearing onto the scheduler so the object graph
// unwinds off the I/O goroutines.
func (p *Protocol) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.log.WithFields(logrus.Fields{
		"function": "Close",
	}).Debug("closing connection")

	p.mu.Lock()
	c := p.conn
	p.conn = nil
	p.mu.Unlock()
	if c != nil {
		if err := c.Close(); err != nil {
			p.log.WithFields(logrus.Fields{
				"function": "Close",
			}).WithError(err).Warn("error closing connection")
		}
	}

	p.queue.shutdown()
	p.notify(newConnectionLostPacket())
	p.sched.IdleAdd(func() bool {
		p.clean()
		return false
	})
}

// clean releases the remaining references once all queued notifications
// have run. It executes on the scheduler goroutine after the
// connection-lost dispatch.
func (p *Protocol) clean() {
	p.mu.Lock()
	p.sink = nil
	p.negotiator = nil
	p.mu.Unlock()
	p.m.ConnectionClosed()
}

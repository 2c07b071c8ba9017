package rfb

import (
	"encoding/binary"
	"fmt"
)

// trailerKind selects the variable-length rule appended to a fixed layout.
type trailerKind int

const (
	trailerNone trailerKind = iota
	// trailerInt32Array: a run of big-endian int32 values whose count is
	// an already-decoded fixed field.
	trailerInt32Array
	// trailerText: a raw blob whose byte length is an already-decoded
	// fixed field.
	trailerText
)

// layout describes the wire format of one client message: the widths of
// the fixed big-endian fields following the type byte, plus an optional
// variable trailer rule keyed to one of those fields.
type layout struct {
	name   string
	widths []int

	trailer      trailerKind
	trailerField int
}

func (l *layout) fixedSize() int {
	size := 1
	for _, w := range l.widths {
		size += w
	}
	return size
}

// clientMessages is the parser table for RFB 3.8 client-to-server
// messages. Field widths follow RFC 6143; padding fields are kept so
// decoded indices match the wire layout.
var clientMessages = map[MessageType]layout{
	MsgSetPixelFormat: {
		name:   "set-pixel-format",
		widths: []int{1, 1, 1, 1, 1, 1, 1, 2, 2, 2, 1, 1, 1, 1, 1, 1},
	},
	MsgSetEncodings: {
		name:         "set-encodings",
		widths:       []int{1, 2},
		trailer:      trailerInt32Array,
		trailerField: 1,
	},
	MsgFramebufferUpdateRequest: {
		name:   "framebuffer-update-request",
		widths: []int{1, 2, 2, 2, 2},
	},
	MsgKeyEvent: {
		name:   "key-event",
		widths: []int{1, 1, 1, 4},
	},
	MsgPointerEvent: {
		name:   "pointer-event",
		widths: []int{1, 2, 2},
	},
	MsgClientCutText: {
		name:         "client-cut-text",
		widths:       []int{1, 1, 1, 4},
		trailer:      trailerText,
		trailerField: 3,
	},
}

// decodeClientMessage decodes the next client message from data.
//
// It returns the decoded packet and the total bytes consumed. A nil packet
// with zero consumed means not enough bytes are buffered yet, which is
// never an error. A non-nil error means the stream is unparseable at this
// position (unknown type code).
func decodeClientMessage(data []byte) (*Packet, int, error) {
	if len(data) == 0 {
		return nil, 0, nil
	}

	msgType := MessageType(data[0])
	l, ok := clientMessages[msgType]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %#x", ErrUnknownMessageType, byte(msgType))
	}

	size := l.fixedSize()
	if len(data) < size {
		return nil, 0, nil
	}

	fields := make([]uint32, len(l.widths))
	offset := 1
	for i, w := range l.widths {
		switch w {
		case 1:
			fields[i] = uint32(data[offset])
		case 2:
			fields[i] = uint32(binary.BigEndian.Uint16(data[offset:]))
		case 4:
			fields[i] = binary.BigEndian.Uint32(data[offset:])
		}
		offset += w
	}

	pkt := &Packet{
		Type:   msgType,
		Name:   l.name,
		Fields: fields,
	}

	switch l.trailer {
	case trailerInt32Array:
		count := int(fields[l.trailerField])
		size += 4 * count
		if len(data) < size {
			return nil, 0, nil
		}
		encodings := make([]int32, count)
		for i := 0; i < count; i++ {
			encodings[i] = int32(binary.BigEndian.Uint32(data[offset:]))
			offset += 4
		}
		pkt.Encodings = encodings

	case trailerText:
		// The declared length is a full uint32; widen so the total
		// cannot wrap on 32-bit platforms.
		length := int64(fields[l.trailerField])
		total := int64(size) + length
		if int64(len(data)) < total {
			return nil, 0, nil
		}
		size = int(total)
		text := make([]byte, length)
		copy(text, data[offset:offset+int(length)])
		pkt.Text = text
	}

	return pkt, size, nil
}

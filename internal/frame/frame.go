// Package frame implements the AMQP 0-9-1 framing layer: the 7-octet frame
// header, the 0xCE frame terminator, and a streaming reader that reassembles
// complete frames from an arbitrarily fragmented byte stream.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Type identifies the kind of payload a frame carries.
type Type byte

const (
	TypeMethod    Type = 1
	TypeHeader    Type = 2
	TypeBody      Type = 3
	TypeHeartbeat Type = 8
)

// End terminates every frame on the wire.
const End byte = 0xCE

// headerLen is the fixed size of the type/channel/size preamble.
const headerLen = 7

// ProtocolHeader opens every connection before any frame is exchanged.
// It pins the protocol version to 0-9-1.
var ProtocolHeader = []byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

// ErrMalformed reports a violation of the framing layer itself. It is fatal:
// the protocol requires the connection to be closed without negotiation.
var ErrMalformed = errors.New("malformed frame")

// Raw is a single frame with an undecoded payload. Interpreting the payload
// (method arguments, content headers) is the caller's concern.
type Raw struct {
	Type    Type
	Channel uint16
	Payload []byte
}

// Heartbeat reports whether the frame is a heartbeat frame.
func (f *Raw) Heartbeat() bool {
	return f.Type == TypeHeartbeat
}

// Write emits the frame with its header and terminator.
func Write(w io.Writer, f Raw) error {
	buf := make([]byte, 0, headerLen+len(f.Payload)+1)
	buf = append(buf, byte(f.Type))
	buf = binary.BigEndian.AppendUint16(buf, f.Channel)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	buf = append(buf, End)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Reader reassembles frames from a fragmented stream. Feed bytes in as they
// arrive and drain completed frames with Next; partial frames are buffered
// until their remainder shows up.
type Reader struct {
	buf bytes.Buffer
}

// Feed appends newly received bytes to the reassembly buffer.
func (r *Reader) Feed(p []byte) {
	r.buf.Write(p)
}

// Next returns the next complete frame, or nil when the buffered bytes do
// not yet form one. A frame that does not end in the frame-end octet returns
// ErrMalformed and the stream must be abandoned.
func (r *Reader) Next() (*Raw, error) {
	data := r.buf.Bytes()
	if len(data) < headerLen {
		return nil, nil
	}

	size := binary.BigEndian.Uint32(data[3:7])
	total := headerLen + int(size) + 1
	if len(data) < total {
		return nil, nil
	}

	if data[total-1] != End {
		return nil, fmt.Errorf("frame ends in %#x, want %#x: %w", data[total-1], End, ErrMalformed)
	}

	payload := make([]byte, size)
	copy(payload, data[headerLen:total-1])
	frame := &Raw{
		Type:    Type(data[0]),
		Channel: binary.BigEndian.Uint16(data[1:3]),
		Payload: payload,
	}
	r.buf.Next(total)
	return frame, nil
}

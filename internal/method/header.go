package method

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vk/amqpgrid/internal/wire"
)

// Property flag bits in the content header, most significant first.
const (
	flagContentType     = 1 << 15
	flagContentEncoding = 1 << 14
	flagHeaders         = 1 << 13
	flagDeliveryMode    = 1 << 12
	flagPriority        = 1 << 11
	flagCorrelationID   = 1 << 10
	flagReplyTo         = 1 << 9
	flagExpiration      = 1 << 8
	flagMessageID       = 1 << 7
	flagTimestamp       = 1 << 6
	flagType            = 1 << 5
	flagUserID          = 1 << 4
	flagAppID           = 1 << 3
)

// Properties are the basic-class content properties. Zero values are absent
// on the wire; the flags word records which fields are present.
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         wire.Table
	DeliveryMode    byte
	Priority        byte
	CorrelationID   string
	ReplyTo         string
	Expiration      string
	MessageID       string
	Timestamp       time.Time
	Type            string
	UserID          string
	AppID           string
}

// ContentHeader is the payload of a content header frame.
type ContentHeader struct {
	ClassID  uint16
	BodySize uint64
	Props    Properties
}

// MarshalHeader encodes a content header frame payload.
func MarshalHeader(h *ContentHeader) ([]byte, error) {
	var buf bytes.Buffer
	wire.WriteShort(&buf, h.ClassID)
	wire.WriteShort(&buf, 0) // weight, always zero
	wire.WriteLongLong(&buf, h.BodySize)

	var flags uint16
	var props bytes.Buffer
	p := &h.Props

	writeStr := func(flag uint16, s string) error {
		if s == "" {
			return nil
		}
		flags |= flag
		return wire.WriteShortString(&props, s)
	}

	if err := writeStr(flagContentType, p.ContentType); err != nil {
		return nil, err
	}
	if err := writeStr(flagContentEncoding, p.ContentEncoding); err != nil {
		return nil, err
	}
	if len(p.Headers) > 0 {
		flags |= flagHeaders
		if err := wire.WriteTable(&props, p.Headers); err != nil {
			return nil, err
		}
	}
	if p.DeliveryMode != 0 {
		flags |= flagDeliveryMode
		wire.WriteOctet(&props, p.DeliveryMode)
	}
	if p.Priority != 0 {
		flags |= flagPriority
		wire.WriteOctet(&props, p.Priority)
	}
	if err := writeStr(flagCorrelationID, p.CorrelationID); err != nil {
		return nil, err
	}
	if err := writeStr(flagReplyTo, p.ReplyTo); err != nil {
		return nil, err
	}
	if err := writeStr(flagExpiration, p.Expiration); err != nil {
		return nil, err
	}
	if err := writeStr(flagMessageID, p.MessageID); err != nil {
		return nil, err
	}
	if !p.Timestamp.IsZero() {
		flags |= flagTimestamp
		wire.WriteTimestamp(&props, p.Timestamp)
	}
	if err := writeStr(flagType, p.Type); err != nil {
		return nil, err
	}
	if err := writeStr(flagUserID, p.UserID); err != nil {
		return nil, err
	}
	if err := writeStr(flagAppID, p.AppID); err != nil {
		return nil, err
	}

	wire.WriteShort(&buf, flags)
	buf.Write(props.Bytes())
	return buf.Bytes(), nil
}

// UnmarshalHeader decodes a content header frame payload.
func UnmarshalHeader(payload []byte) (*ContentHeader, error) {
	r := bytes.NewReader(payload)
	h := &ContentHeader{}

	var err error
	if h.ClassID, err = wire.ReadShort(r); err != nil {
		return nil, err
	}
	if _, err = wire.ReadShort(r); err != nil { // weight
		return nil, err
	}
	if h.BodySize, err = wire.ReadLongLong(r); err != nil {
		return nil, err
	}

	flags, err := wire.ReadShort(r)
	if err != nil {
		return nil, err
	}
	if flags&1 != 0 {
		// A set continuation bit would mean more than 15 properties, which
		// the basic class never has.
		return nil, fmt.Errorf("unexpected property flags continuation: %w", wire.ErrSyntax)
	}

	p := &h.Props
	readStr := func(flag uint16, dst *string) error {
		if flags&flag == 0 {
			return nil
		}
		s, err := wire.ReadShortString(r)
		if err != nil {
			return err
		}
		*dst = s
		return nil
	}

	if err := readStr(flagContentType, &p.ContentType); err != nil {
		return nil, err
	}
	if err := readStr(flagContentEncoding, &p.ContentEncoding); err != nil {
		return nil, err
	}
	if flags&flagHeaders != 0 {
		if p.Headers, err = wire.ReadTable(r); err != nil {
			return nil, err
		}
	}
	if flags&flagDeliveryMode != 0 {
		if p.DeliveryMode, err = wire.ReadOctet(r); err != nil {
			return nil, err
		}
	}
	if flags&flagPriority != 0 {
		if p.Priority, err = wire.ReadOctet(r); err != nil {
			return nil, err
		}
	}
	if err := readStr(flagCorrelationID, &p.CorrelationID); err != nil {
		return nil, err
	}
	if err := readStr(flagReplyTo, &p.ReplyTo); err != nil {
		return nil, err
	}
	if err := readStr(flagExpiration, &p.Expiration); err != nil {
		return nil, err
	}
	if err := readStr(flagMessageID, &p.MessageID); err != nil {
		return nil, err
	}
	if flags&flagTimestamp != 0 {
		if p.Timestamp, err = wire.ReadTimestamp(r); err != nil {
			return nil, err
		}
	}
	if err := readStr(flagType, &p.Type); err != nil {
		return nil, err
	}
	if err := readStr(flagUserID, &p.UserID); err != nil {
		return nil, err
	}
	if err := readStr(flagAppID, &p.AppID); err != nil {
		return nil, err
	}

	return h, nil
}

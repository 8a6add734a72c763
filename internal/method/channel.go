package method

import (
	"bytes"

	"github.com/vk/amqpgrid/internal/wire"
)

// ClassChannel is the channel class id.
const ClassChannel uint16 = 20

// Keys for the channel class.
var (
	KeyChannelOpen    = MakeKey(ClassChannel, 10)
	KeyChannelOpenOK  = MakeKey(ClassChannel, 11)
	KeyChannelFlow    = MakeKey(ClassChannel, 20)
	KeyChannelFlowOK  = MakeKey(ClassChannel, 21)
	KeyChannelClose   = MakeKey(ClassChannel, 40)
	KeyChannelCloseOK = MakeKey(ClassChannel, 41)
)

func init() {
	register(KeyChannelOpen, "channel.open", func() Method { return &ChannelOpen{} })
	register(KeyChannelOpenOK, "channel.open-ok", func() Method { return &ChannelOpenOK{} })
	register(KeyChannelFlow, "channel.flow", func() Method { return &ChannelFlow{} })
	register(KeyChannelFlowOK, "channel.flow-ok", func() Method { return &ChannelFlowOK{} })
	register(KeyChannelClose, "channel.close", func() Method { return &ChannelClose{} })
	register(KeyChannelCloseOK, "channel.close-ok", func() Method { return &ChannelCloseOK{} })
}

// ChannelOpen opens a channel on the connection.
type ChannelOpen struct {
	reserved1 string
}

func (*ChannelOpen) Key() Key { return KeyChannelOpen }

func (m *ChannelOpen) encode(w *bytes.Buffer) error {
	return wire.WriteShortString(w, m.reserved1)
}

func (m *ChannelOpen) decode(r *bytes.Reader) (err error) {
	m.reserved1, err = wire.ReadShortString(r)
	return err
}

// ChannelOpenOK confirms a channel open.
type ChannelOpenOK struct {
	reserved1 string
}

func (*ChannelOpenOK) Key() Key { return KeyChannelOpenOK }

func (m *ChannelOpenOK) encode(w *bytes.Buffer) error {
	wire.WriteLongString(w, m.reserved1)
	return nil
}

func (m *ChannelOpenOK) decode(r *bytes.Reader) (err error) {
	m.reserved1, err = wire.ReadLongString(r)
	return err
}

// ChannelFlow asks the peer to pause or resume content delivery.
type ChannelFlow struct {
	Active bool
}

func (*ChannelFlow) Key() Key { return KeyChannelFlow }

func (m *ChannelFlow) encode(w *bytes.Buffer) error {
	wire.WriteOctet(w, wire.PackBools(m.Active))
	return nil
}

func (m *ChannelFlow) decode(r *bytes.Reader) error {
	bits, err := readBits(r, 1)
	if err != nil {
		return err
	}
	m.Active = bits[0]
	return nil
}

// ChannelFlowOK confirms a flow change.
type ChannelFlowOK struct {
	Active bool
}

func (*ChannelFlowOK) Key() Key { return KeyChannelFlowOK }

func (m *ChannelFlowOK) encode(w *bytes.Buffer) error {
	wire.WriteOctet(w, wire.PackBools(m.Active))
	return nil
}

func (m *ChannelFlowOK) decode(r *bytes.Reader) error {
	bits, err := readBits(r, 1)
	if err != nil {
		return err
	}
	m.Active = bits[0]
	return nil
}

// ChannelClose initiates the channel close handshake, in either direction.
type ChannelClose struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func (*ChannelClose) Key() Key { return KeyChannelClose }

func (m *ChannelClose) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.ReplyCode)
	if err := wire.WriteShortString(w, m.ReplyText); err != nil {
		return err
	}
	wire.WriteShort(w, m.ClassID)
	wire.WriteShort(w, m.MethodID)
	return nil
}

func (m *ChannelClose) decode(r *bytes.Reader) (err error) {
	if m.ReplyCode, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.ReplyText, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.ClassID, err = wire.ReadShort(r); err != nil {
		return err
	}
	m.MethodID, err = wire.ReadShort(r)
	return err
}

// ChannelCloseOK acknowledges a channel close.
type ChannelCloseOK struct{}

func (*ChannelCloseOK) Key() Key { return KeyChannelCloseOK }

func (*ChannelCloseOK) encode(*bytes.Buffer) error { return nil }

func (*ChannelCloseOK) decode(*bytes.Reader) error { return nil }

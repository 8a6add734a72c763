package method

import (
	"bytes"

	"github.com/vk/amqpgrid/internal/wire"
)

// ClassConnection is the connection class id.
const ClassConnection uint16 = 10

// Keys for the connection class.
var (
	KeyConnectionStart   = MakeKey(ClassConnection, 10)
	KeyConnectionStartOK = MakeKey(ClassConnection, 11)
	KeyConnectionTune    = MakeKey(ClassConnection, 30)
	KeyConnectionTuneOK  = MakeKey(ClassConnection, 31)
	KeyConnectionOpen    = MakeKey(ClassConnection, 40)
	KeyConnectionOpenOK  = MakeKey(ClassConnection, 41)
	KeyConnectionClose   = MakeKey(ClassConnection, 50)
	KeyConnectionCloseOK = MakeKey(ClassConnection, 51)
)

func init() {
	register(KeyConnectionStart, "connection.start", func() Method { return &ConnectionStart{} })
	register(KeyConnectionStartOK, "connection.start-ok", func() Method { return &ConnectionStartOK{} })
	register(KeyConnectionTune, "connection.tune", func() Method { return &ConnectionTune{} })
	register(KeyConnectionTuneOK, "connection.tune-ok", func() Method { return &ConnectionTuneOK{} })
	register(KeyConnectionOpen, "connection.open", func() Method { return &ConnectionOpen{} })
	register(KeyConnectionOpenOK, "connection.open-ok", func() Method { return &ConnectionOpenOK{} })
	register(KeyConnectionClose, "connection.close", func() Method { return &ConnectionClose{} })
	register(KeyConnectionCloseOK, "connection.close-ok", func() Method { return &ConnectionCloseOK{} })
}

// ConnectionStart is the server greeting that opens the handshake.
type ConnectionStart struct {
	VersionMajor     byte
	VersionMinor     byte
	ServerProperties wire.Table
	Mechanisms       string
	Locales          string
}

func (*ConnectionStart) Key() Key { return KeyConnectionStart }

func (m *ConnectionStart) encode(w *bytes.Buffer) error {
	wire.WriteOctet(w, m.VersionMajor)
	wire.WriteOctet(w, m.VersionMinor)
	if err := wire.WriteTable(w, m.ServerProperties); err != nil {
		return err
	}
	wire.WriteLongString(w, m.Mechanisms)
	wire.WriteLongString(w, m.Locales)
	return nil
}

func (m *ConnectionStart) decode(r *bytes.Reader) (err error) {
	if m.VersionMajor, err = wire.ReadOctet(r); err != nil {
		return err
	}
	if m.VersionMinor, err = wire.ReadOctet(r); err != nil {
		return err
	}
	if m.ServerProperties, err = wire.ReadTable(r); err != nil {
		return err
	}
	if m.Mechanisms, err = wire.ReadLongString(r); err != nil {
		return err
	}
	m.Locales, err = wire.ReadLongString(r)
	return err
}

// ConnectionStartOK answers the greeting with client identity and credentials.
type ConnectionStartOK struct {
	ClientProperties wire.Table
	Mechanism        string
	Response         string
	Locale           string
}

func (*ConnectionStartOK) Key() Key { return KeyConnectionStartOK }

func (m *ConnectionStartOK) encode(w *bytes.Buffer) error {
	if err := wire.WriteTable(w, m.ClientProperties); err != nil {
		return err
	}
	if err := wire.WriteShortString(w, m.Mechanism); err != nil {
		return err
	}
	wire.WriteLongString(w, m.Response)
	return wire.WriteShortString(w, m.Locale)
}

func (m *ConnectionStartOK) decode(r *bytes.Reader) (err error) {
	if m.ClientProperties, err = wire.ReadTable(r); err != nil {
		return err
	}
	if m.Mechanism, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.Response, err = wire.ReadLongString(r); err != nil {
		return err
	}
	m.Locale, err = wire.ReadShortString(r)
	return err
}

// ConnectionTune carries the server's preferred limits.
type ConnectionTune struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func (*ConnectionTune) Key() Key { return KeyConnectionTune }

func (m *ConnectionTune) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.ChannelMax)
	wire.WriteLong(w, m.FrameMax)
	wire.WriteShort(w, m.Heartbeat)
	return nil
}

func (m *ConnectionTune) decode(r *bytes.Reader) (err error) {
	if m.ChannelMax, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.FrameMax, err = wire.ReadLong(r); err != nil {
		return err
	}
	m.Heartbeat, err = wire.ReadShort(r)
	return err
}

// ConnectionTuneOK confirms the limits the client will honor.
type ConnectionTuneOK struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

func (*ConnectionTuneOK) Key() Key { return KeyConnectionTuneOK }

func (m *ConnectionTuneOK) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.ChannelMax)
	wire.WriteLong(w, m.FrameMax)
	wire.WriteShort(w, m.Heartbeat)
	return nil
}

func (m *ConnectionTuneOK) decode(r *bytes.Reader) (err error) {
	if m.ChannelMax, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.FrameMax, err = wire.ReadLong(r); err != nil {
		return err
	}
	m.Heartbeat, err = wire.ReadShort(r)
	return err
}

// ConnectionOpen selects the virtual host for the connection.
type ConnectionOpen struct {
	VirtualHost string
	reserved1   string
	reserved2   bool
}

func (*ConnectionOpen) Key() Key { return KeyConnectionOpen }

func (m *ConnectionOpen) encode(w *bytes.Buffer) error {
	if err := wire.WriteShortString(w, m.VirtualHost); err != nil {
		return err
	}
	if err := wire.WriteShortString(w, m.reserved1); err != nil {
		return err
	}
	wire.WriteOctet(w, wire.PackBools(m.reserved2))
	return nil
}

func (m *ConnectionOpen) decode(r *bytes.Reader) (err error) {
	if m.VirtualHost, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.reserved1, err = wire.ReadShortString(r); err != nil {
		return err
	}
	bits, err := readBits(r, 1)
	if err != nil {
		return err
	}
	m.reserved2 = bits[0]
	return nil
}

// ConnectionOpenOK completes the handshake.
type ConnectionOpenOK struct {
	reserved1 string
}

func (*ConnectionOpenOK) Key() Key { return KeyConnectionOpenOK }

func (m *ConnectionOpenOK) encode(w *bytes.Buffer) error {
	return wire.WriteShortString(w, m.reserved1)
}

func (m *ConnectionOpenOK) decode(r *bytes.Reader) (err error) {
	m.reserved1, err = wire.ReadShortString(r)
	return err
}

// ConnectionClose initiates the connection close handshake, in either
// direction.
type ConnectionClose struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func (*ConnectionClose) Key() Key { return KeyConnectionClose }

func (m *ConnectionClose) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.ReplyCode)
	if err := wire.WriteShortString(w, m.ReplyText); err != nil {
		return err
	}
	wire.WriteShort(w, m.ClassID)
	wire.WriteShort(w, m.MethodID)
	return nil
}

func (m *ConnectionClose) decode(r *bytes.Reader) (err error) {
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

// ConnectionCloseOK acknowledges a close in either direction.
type ConnectionCloseOK struct{}

func (*ConnectionCloseOK) Key() Key { return KeyConnectionCloseOK }

func (*ConnectionCloseOK) encode(*bytes.Buffer) error { return nil }

func (*ConnectionCloseOK) decode(*bytes.Reader) error { return nil }

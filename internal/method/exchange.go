package method

import (
	"bytes"

	"github.com/vk/amqpgrid/internal/wire"
)

// ClassExchange is the exchange class id.
const ClassExchange uint16 = 40

// Keys for the exchange class.
var (
	KeyExchangeDeclare   = MakeKey(ClassExchange, 10)
	KeyExchangeDeclareOK = MakeKey(ClassExchange, 11)
	KeyExchangeDelete    = MakeKey(ClassExchange, 20)
	KeyExchangeDeleteOK  = MakeKey(ClassExchange, 21)
)

func init() {
	register(KeyExchangeDeclare, "exchange.declare", func() Method { return &ExchangeDeclare{} })
	register(KeyExchangeDeclareOK, "exchange.declare-ok", func() Method { return &ExchangeDeclareOK{} })
	register(KeyExchangeDelete, "exchange.delete", func() Method { return &ExchangeDelete{} })
	register(KeyExchangeDeleteOK, "exchange.delete-ok", func() Method { return &ExchangeDeleteOK{} })
}

// ExchangeDeclare creates an exchange, or verifies one exists when Passive.
type ExchangeDeclare struct {
	reserved1  uint16
	Exchange   string
	Type       string
	Passive    bool
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Arguments  wire.Table
}

func (*ExchangeDeclare) Key() Key { return KeyExchangeDeclare }

func (m *ExchangeDeclare) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.reserved1)
	if err := wire.WriteShortString(w, m.Exchange); err != nil {
		return err
	}
	if err := wire.WriteShortString(w, m.Type); err != nil {
		return err
	}
	wire.WriteOctet(w, wire.PackBools(m.Passive, m.Durable, m.AutoDelete, m.Internal, m.NoWait))
	return wire.WriteTable(w, m.Arguments)
}

func (m *ExchangeDeclare) decode(r *bytes.Reader) (err error) {
	if m.reserved1, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.Exchange, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.Type, err = wire.ReadShortString(r); err != nil {
		return err
	}
	bits, err := readBits(r, 5)
	if err != nil {
		return err
	}
	m.Passive, m.Durable, m.AutoDelete, m.Internal, m.NoWait = bits[0], bits[1], bits[2], bits[3], bits[4]
	m.Arguments, err = wire.ReadTable(r)
	return err
}

// ExchangeDeclareOK confirms a declare.
type ExchangeDeclareOK struct{}

func (*ExchangeDeclareOK) Key() Key { return KeyExchangeDeclareOK }

func (*ExchangeDeclareOK) encode(*bytes.Buffer) error { return nil }

func (*ExchangeDeclareOK) decode(*bytes.Reader) error { return nil }

// ExchangeDelete removes an exchange.
type ExchangeDelete struct {
	reserved1 uint16
	Exchange  string
	IfUnused  bool
	NoWait    bool
}

func (*ExchangeDelete) Key() Key { return KeyExchangeDelete }

func (m *ExchangeDelete) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.reserved1)
	if err := wire.WriteShortString(w, m.Exchange); err != nil {
		return err
	}
	wire.WriteOctet(w, wire.PackBools(m.IfUnused, m.NoWait))
	return nil
}

func (m *ExchangeDelete) decode(r *bytes.Reader) (err error) {
	if m.reserved1, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.Exchange, err = wire.ReadShortString(r); err != nil {
		return err
	}
	bits, err := readBits(r, 2)
	if err != nil {
		return err
	}
	m.IfUnused, m.NoWait = bits[0], bits[1]
	return nil
}

// ExchangeDeleteOK confirms a delete.
type ExchangeDeleteOK struct{}

func (*ExchangeDeleteOK) Key() Key { return KeyExchangeDeleteOK }

func (*ExchangeDeleteOK) encode(*bytes.Buffer) error { return nil }

func (*ExchangeDeleteOK) decode(*bytes.Reader) error { return nil }

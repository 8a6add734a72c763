package method

import (
	"bytes"

	"github.com/vk/amqpgrid/internal/wire"
)

// ClassQueue is the queue class id.
const ClassQueue uint16 = 50

// Keys for the queue class.
var (
	KeyQueueDeclare   = MakeKey(ClassQueue, 10)
	KeyQueueDeclareOK = MakeKey(ClassQueue, 11)
	KeyQueueBind      = MakeKey(ClassQueue, 20)
	KeyQueueBindOK    = MakeKey(ClassQueue, 21)
	KeyQueuePurge     = MakeKey(ClassQueue, 30)
	KeyQueuePurgeOK   = MakeKey(ClassQueue, 31)
	KeyQueueDelete    = MakeKey(ClassQueue, 40)
	KeyQueueDeleteOK  = MakeKey(ClassQueue, 41)
	KeyQueueUnbind    = MakeKey(ClassQueue, 50)
	KeyQueueUnbindOK  = MakeKey(ClassQueue, 51)
)

func init() {
	register(KeyQueueDeclare, "queue.declare", func() Method { return &QueueDeclare{} })
	register(KeyQueueDeclareOK, "queue.declare-ok", func() Method { return &QueueDeclareOK{} })
	register(KeyQueueBind, "queue.bind", func() Method { return &QueueBind{} })
	register(KeyQueueBindOK, "queue.bind-ok", func() Method { return &QueueBindOK{} })
	register(KeyQueuePurge, "queue.purge", func() Method { return &QueuePurge{} })
	register(KeyQueuePurgeOK, "queue.purge-ok", func() Method { return &QueuePurgeOK{} })
	register(KeyQueueDelete, "queue.delete", func() Method { return &QueueDelete{} })
	register(KeyQueueDeleteOK, "queue.delete-ok", func() Method { return &QueueDeleteOK{} })
	register(KeyQueueUnbind, "queue.unbind", func() Method { return &QueueUnbind{} })
	register(KeyQueueUnbindOK, "queue.unbind-ok", func() Method { return &QueueUnbindOK{} })
}

// QueueDeclare creates a queue. An empty name asks the server to generate
// one; the assigned name comes back in QueueDeclareOK.
type QueueDeclare struct {
	reserved1  uint16
	Queue      string
	Passive    bool
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	NoWait     bool
	Arguments  wire.Table
}

func (*QueueDeclare) Key() Key { return KeyQueueDeclare }

func (m *QueueDeclare) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.reserved1)
	if err := wire.WriteShortString(w, m.Queue); err != nil {
		return err
	}
	wire.WriteOctet(w, wire.PackBools(m.Passive, m.Durable, m.Exclusive, m.AutoDelete, m.NoWait))
	return wire.WriteTable(w, m.Arguments)
}

func (m *QueueDeclare) decode(r *bytes.Reader) (err error) {
	if m.reserved1, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.Queue, err = wire.ReadShortString(r); err != nil {
		return err
	}
	bits, err := readBits(r, 5)
	if err != nil {
		return err
	}
	m.Passive, m.Durable, m.Exclusive, m.AutoDelete, m.NoWait = bits[0], bits[1], bits[2], bits[3], bits[4]
	m.Arguments, err = wire.ReadTable(r)
	return err
}

// QueueDeclareOK confirms a declare and reports queue statistics.
type QueueDeclareOK struct {
	Queue         string
	MessageCount  uint32
	ConsumerCount uint32
}

func (*QueueDeclareOK) Key() Key { return KeyQueueDeclareOK }

func (m *QueueDeclareOK) encode(w *bytes.Buffer) error {
	if err := wire.WriteShortString(w, m.Queue); err != nil {
		return err
	}
	wire.WriteLong(w, m.MessageCount)
	wire.WriteLong(w, m.ConsumerCount)
	return nil
}

func (m *QueueDeclareOK) decode(r *bytes.Reader) (err error) {
	if m.Queue, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.MessageCount, err = wire.ReadLong(r); err != nil {
		return err
	}
	m.ConsumerCount, err = wire.ReadLong(r)
	return err
}

// QueueBind binds a queue to an exchange with a routing key.
type QueueBind struct {
	reserved1  uint16
	Queue      string
	Exchange   string
	RoutingKey string
	NoWait     bool
	Arguments  wire.Table
}

func (*QueueBind) Key() Key { return KeyQueueBind }

func (m *QueueBind) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.reserved1)
	if err := wire.WriteShortString(w, m.Queue); err != nil {
		return err
	}
	if err := wire.WriteShortString(w, m.Exchange); err != nil {
		return err
	}
	if err := wire.WriteShortString(w, m.RoutingKey); err != nil {
		return err
	}
	wire.WriteOctet(w, wire.PackBools(m.NoWait))
	return wire.WriteTable(w, m.Arguments)
}

func (m *QueueBind) decode(r *bytes.Reader) (err error) {
	if m.reserved1, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.Queue, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.Exchange, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.RoutingKey, err = wire.ReadShortString(r); err != nil {
		return err
	}
	bits, err := readBits(r, 1)
	if err != nil {
		return err
	}
	m.NoWait = bits[0]
	m.Arguments, err = wire.ReadTable(r)
	return err
}

// QueueBindOK confirms a bind.
type QueueBindOK struct{}

func (*QueueBindOK) Key() Key { return KeyQueueBindOK }

func (*QueueBindOK) encode(*bytes.Buffer) error { return nil }

func (*QueueBindOK) decode(*bytes.Reader) error { return nil }

// QueueUnbind removes a binding.
type QueueUnbind struct {
	reserved1  uint16
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  wire.Table
}

func (*QueueUnbind) Key() Key { return KeyQueueUnbind }

func (m *QueueUnbind) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.reserved1)
	if err := wire.WriteShortString(w, m.Queue); err != nil {
		return err
	}
	if err := wire.WriteShortString(w, m.Exchange); err != nil {
		return err
	}
	if err := wire.WriteShortString(w, m.RoutingKey); err != nil {
		return err
	}
	return wire.WriteTable(w, m.Arguments)
}

func (m *QueueUnbind) decode(r *bytes.Reader) (err error) {
	if m.reserved1, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.Queue, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.Exchange, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.RoutingKey, err = wire.ReadShortString(r); err != nil {
		return err
	}
	m.Arguments, err = wire.ReadTable(r)
	return err
}

// QueueUnbindOK confirms an unbind.
type QueueUnbindOK struct{}

func (*QueueUnbindOK) Key() Key { return KeyQueueUnbindOK }

func (*QueueUnbindOK) encode(*bytes.Buffer) error { return nil }

func (*QueueUnbindOK) decode(*bytes.Reader) error { return nil }

// QueuePurge discards all messages in a queue.
type QueuePurge struct {
	reserved1 uint16
	Queue     string
	NoWait    bool
}

func (*QueuePurge) Key() Key { return KeyQueuePurge }

func (m *QueuePurge) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.reserved1)
	if err := wire.WriteShortString(w, m.Queue); err != nil {
		return err
	}
	wire.WriteOctet(w, wire.PackBools(m.NoWait))
	return nil
}

func (m *QueuePurge) decode(r *bytes.Reader) (err error) {
	if m.reserved1, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.Queue, err = wire.ReadShortString(r); err != nil {
		return err
	}
	bits, err := readBits(r, 1)
	if err != nil {
		return err
	}
	m.NoWait = bits[0]
	return nil
}

// QueuePurgeOK reports how many messages were discarded.
type QueuePurgeOK struct {
	MessageCount uint32
}

func (*QueuePurgeOK) Key() Key { return KeyQueuePurgeOK }

func (m *QueuePurgeOK) encode(w *bytes.Buffer) error {
	wire.WriteLong(w, m.MessageCount)
	return nil
}

func (m *QueuePurgeOK) decode(r *bytes.Reader) (err error) {
	m.MessageCount, err = wire.ReadLong(r)
	return err
}

// QueueDelete removes a queue.
type QueueDelete struct {
	reserved1 uint16
	Queue     string
	IfUnused  bool
	IfEmpty   bool
	NoWait    bool
}

func (*QueueDelete) Key() Key { return KeyQueueDelete }

func (m *QueueDelete) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.reserved1)
	if err := wire.WriteShortString(w, m.Queue); err != nil {
		return err
	}
	wire.WriteOctet(w, wire.PackBools(m.IfUnused, m.IfEmpty, m.NoWait))
	return nil
}

func (m *QueueDelete) decode(r *bytes.Reader) (err error) {
	if m.reserved1, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.Queue, err = wire.ReadShortString(r); err != nil {
		return err
	}
	bits, err := readBits(r, 3)
	if err != nil {
		return err
	}
	m.IfUnused, m.IfEmpty, m.NoWait = bits[0], bits[1], bits[2]
	return nil
}

// QueueDeleteOK reports how many messages were dropped with the queue.
type QueueDeleteOK struct {
	MessageCount uint32
}

func (*QueueDeleteOK) Key() Key { return KeyQueueDeleteOK }

func (m *QueueDeleteOK) encode(w *bytes.Buffer) error {
	wire.WriteLong(w, m.MessageCount)
	return nil
}

func (m *QueueDeleteOK) decode(r *bytes.Reader) (err error) {
	m.MessageCount, err = wire.ReadLong(r)
	return err
}

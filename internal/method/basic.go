package method

import (
	"bytes"

	"github.com/vk/amqpgrid/internal/wire"
)

// ClassBasic is the basic content class id.
const ClassBasic uint16 = 60

// Keys for the basic class.
var (
	KeyBasicQos       = MakeKey(ClassBasic, 10)
	KeyBasicQosOK     = MakeKey(ClassBasic, 11)
	KeyBasicConsume   = MakeKey(ClassBasic, 20)
	KeyBasicConsumeOK = MakeKey(ClassBasic, 21)
	KeyBasicCancel    = MakeKey(ClassBasic, 30)
	KeyBasicCancelOK  = MakeKey(ClassBasic, 31)
	KeyBasicPublish   = MakeKey(ClassBasic, 40)
	KeyBasicReturn    = MakeKey(ClassBasic, 50)
	KeyBasicDeliver   = MakeKey(ClassBasic, 60)
	KeyBasicGet       = MakeKey(ClassBasic, 70)
	KeyBasicGetOK     = MakeKey(ClassBasic, 71)
	KeyBasicGetEmpty  = MakeKey(ClassBasic, 72)
	KeyBasicAck       = MakeKey(ClassBasic, 80)
	KeyBasicReject    = MakeKey(ClassBasic, 90)
	KeyBasicRecover   = MakeKey(ClassBasic, 110)
	KeyBasicRecoverOK = MakeKey(ClassBasic, 111)
)

func init() {
	register(KeyBasicQos, "basic.qos", func() Method { return &BasicQos{} })
	register(KeyBasicQosOK, "basic.qos-ok", func() Method { return &BasicQosOK{} })
	register(KeyBasicConsume, "basic.consume", func() Method { return &BasicConsume{} })
	register(KeyBasicConsumeOK, "basic.consume-ok", func() Method { return &BasicConsumeOK{} })
	register(KeyBasicCancel, "basic.cancel", func() Method { return &BasicCancel{} })
	register(KeyBasicCancelOK, "basic.cancel-ok", func() Method { return &BasicCancelOK{} })
	register(KeyBasicPublish, "basic.publish", func() Method { return &BasicPublish{} })
	register(KeyBasicReturn, "basic.return", func() Method { return &BasicReturn{} })
	register(KeyBasicDeliver, "basic.deliver", func() Method { return &BasicDeliver{} })
	register(KeyBasicGet, "basic.get", func() Method { return &BasicGet{} })
	register(KeyBasicGetOK, "basic.get-ok", func() Method { return &BasicGetOK{} })
	register(KeyBasicGetEmpty, "basic.get-empty", func() Method { return &BasicGetEmpty{} })
	register(KeyBasicAck, "basic.ack", func() Method { return &BasicAck{} })
	register(KeyBasicReject, "basic.reject", func() Method { return &BasicReject{} })
	register(KeyBasicRecover, "basic.recover", func() Method { return &BasicRecover{} })
	register(KeyBasicRecoverOK, "basic.recover-ok", func() Method { return &BasicRecoverOK{} })
}

// BasicQos sets the prefetch window for the channel or connection.
type BasicQos struct {
	PrefetchSize  uint32
	PrefetchCount uint16
	Global        bool
}

func (*BasicQos) Key() Key { return KeyBasicQos }

func (m *BasicQos) encode(w *bytes.Buffer) error {
	wire.WriteLong(w, m.PrefetchSize)
	wire.WriteShort(w, m.PrefetchCount)
	wire.WriteOctet(w, wire.PackBools(m.Global))
	return nil
}

func (m *BasicQos) decode(r *bytes.Reader) (err error) {
	if m.PrefetchSize, err = wire.ReadLong(r); err != nil {
		return err
	}
	if m.PrefetchCount, err = wire.ReadShort(r); err != nil {
		return err
	}
	bits, err := readBits(r, 1)
	if err != nil {
		return err
	}
	m.Global = bits[0]
	return nil
}

// BasicQosOK confirms a qos change.
type BasicQosOK struct{}

func (*BasicQosOK) Key() Key { return KeyBasicQosOK }

func (*BasicQosOK) encode(*bytes.Buffer) error { return nil }

func (*BasicQosOK) decode(*bytes.Reader) error { return nil }

// BasicConsume starts a consumer on a queue.
type BasicConsume struct {
	reserved1   uint16
	Queue       string
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	NoWait      bool
	Arguments   wire.Table
}

func (*BasicConsume) Key() Key { return KeyBasicConsume }

func (m *BasicConsume) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.reserved1)
	if err := wire.WriteShortString(w, m.Queue); err != nil {
		return err
	}
	if err := wire.WriteShortString(w, m.ConsumerTag); err != nil {
		return err
	}
	wire.WriteOctet(w, wire.PackBools(m.NoLocal, m.NoAck, m.Exclusive, m.NoWait))
	return wire.WriteTable(w, m.Arguments)
}

func (m *BasicConsume) decode(r *bytes.Reader) (err error) {
	if m.reserved1, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.Queue, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.ConsumerTag, err = wire.ReadShortString(r); err != nil {
		return err
	}
	bits, err := readBits(r, 4)
	if err != nil {
		return err
	}
	m.NoLocal, m.NoAck, m.Exclusive, m.NoWait = bits[0], bits[1], bits[2], bits[3]
	m.Arguments, err = wire.ReadTable(r)
	return err
}

// BasicConsumeOK confirms a consumer and reports its tag.
type BasicConsumeOK struct {
	ConsumerTag string
}

func (*BasicConsumeOK) Key() Key { return KeyBasicConsumeOK }

func (m *BasicConsumeOK) encode(w *bytes.Buffer) error {
	return wire.WriteShortString(w, m.ConsumerTag)
}

func (m *BasicConsumeOK) decode(r *bytes.Reader) (err error) {
	m.ConsumerTag, err = wire.ReadShortString(r)
	return err
}

// BasicCancel stops a consumer.
type BasicCancel struct {
	ConsumerTag string
	NoWait      bool
}

func (*BasicCancel) Key() Key { return KeyBasicCancel }

func (m *BasicCancel) encode(w *bytes.Buffer) error {
	if err := wire.WriteShortString(w, m.ConsumerTag); err != nil {
		return err
	}
	wire.WriteOctet(w, wire.PackBools(m.NoWait))
	return nil
}

func (m *BasicCancel) decode(r *bytes.Reader) (err error) {
	if m.ConsumerTag, err = wire.ReadShortString(r); err != nil {
		return err
	}
	bits, err := readBits(r, 1)
	if err != nil {
		return err
	}
	m.NoWait = bits[0]
	return nil
}

// BasicCancelOK confirms a consumer cancellation.
type BasicCancelOK struct {
	ConsumerTag string
}

func (*BasicCancelOK) Key() Key { return KeyBasicCancelOK }

func (m *BasicCancelOK) encode(w *bytes.Buffer) error {
	return wire.WriteShortString(w, m.ConsumerTag)
}

func (m *BasicCancelOK) decode(r *bytes.Reader) (err error) {
	m.ConsumerTag, err = wire.ReadShortString(r)
	return err
}

// BasicPublish sends a message to an exchange. Content frames follow.
type BasicPublish struct {
	reserved1  uint16
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Immediate  bool
}

func (*BasicPublish) Key() Key { return KeyBasicPublish }

func (m *BasicPublish) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.reserved1)
	if err := wire.WriteShortString(w, m.Exchange); err != nil {
		return err
	}
	if err := wire.WriteShortString(w, m.RoutingKey); err != nil {
		return err
	}
	wire.WriteOctet(w, wire.PackBools(m.Mandatory, m.Immediate))
	return nil
}

func (m *BasicPublish) decode(r *bytes.Reader) (err error) {
	if m.reserved1, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.Exchange, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.RoutingKey, err = wire.ReadShortString(r); err != nil {
		return err
	}
	bits, err := readBits(r, 2)
	if err != nil {
		return err
	}
	m.Mandatory, m.Immediate = bits[0], bits[1]
	return nil
}

// BasicReturn carries back a message the broker could not route.
// Content frames follow.
type BasicReturn struct {
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}

func (*BasicReturn) Key() Key { return KeyBasicReturn }

func (m *BasicReturn) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.ReplyCode)
	if err := wire.WriteShortString(w, m.ReplyText); err != nil {
		return err
	}
	if err := wire.WriteShortString(w, m.Exchange); err != nil {
		return err
	}
	return wire.WriteShortString(w, m.RoutingKey)
}

func (m *BasicReturn) decode(r *bytes.Reader) (err error) {
	if m.ReplyCode, err = wire.ReadShort(r); err != nil {
		return err
	}
	if m.ReplyText, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.Exchange, err = wire.ReadShortString(r); err != nil {
		return err
	}
	m.RoutingKey, err = wire.ReadShortString(r)
	return err
}

// BasicDeliver pushes a message to a consumer. Content frames follow.
type BasicDeliver struct {
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
}

func (*BasicDeliver) Key() Key { return KeyBasicDeliver }

func (m *BasicDeliver) encode(w *bytes.Buffer) error {
	if err := wire.WriteShortString(w, m.ConsumerTag); err != nil {
		return err
	}
	wire.WriteLongLong(w, m.DeliveryTag)
	wire.WriteOctet(w, wire.PackBools(m.Redelivered))
	if err := wire.WriteShortString(w, m.Exchange); err != nil {
		return err
	}
	return wire.WriteShortString(w, m.RoutingKey)
}

func (m *BasicDeliver) decode(r *bytes.Reader) (err error) {
	if m.ConsumerTag, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.DeliveryTag, err = wire.ReadLongLong(r); err != nil {
		return err
	}
	bits, err := readBits(r, 1)
	if err != nil {
		return err
	}
	m.Redelivered = bits[0]
	if m.Exchange, err = wire.ReadShortString(r); err != nil {
		return err
	}
	m.RoutingKey, err = wire.ReadShortString(r)
	return err
}

// BasicGet synchronously fetches one message from a queue.
type BasicGet struct {
	reserved1 uint16
	Queue     string
	NoAck     bool
}

func (*BasicGet) Key() Key { return KeyBasicGet }

func (m *BasicGet) encode(w *bytes.Buffer) error {
	wire.WriteShort(w, m.reserved1)
	if err := wire.WriteShortString(w, m.Queue); err != nil {
		return err
	}
	wire.WriteOctet(w, wire.PackBools(m.NoAck))
	return nil
}

func (m *BasicGet) decode(r *bytes.Reader) (err error) {
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
	m.NoAck = bits[0]
	return nil
}

// BasicGetOK answers a get with a message. Content frames follow.
type BasicGetOK struct {
	DeliveryTag  uint64
	Redelivered  bool
	Exchange     string
	RoutingKey   string
	MessageCount uint32
}

func (*BasicGetOK) Key() Key { return KeyBasicGetOK }

func (m *BasicGetOK) encode(w *bytes.Buffer) error {
	wire.WriteLongLong(w, m.DeliveryTag)
	wire.WriteOctet(w, wire.PackBools(m.Redelivered))
	if err := wire.WriteShortString(w, m.Exchange); err != nil {
		return err
	}
	if err := wire.WriteShortString(w, m.RoutingKey); err != nil {
		return err
	}
	wire.WriteLong(w, m.MessageCount)
	return nil
}

func (m *BasicGetOK) decode(r *bytes.Reader) (err error) {
	if m.DeliveryTag, err = wire.ReadLongLong(r); err != nil {
		return err
	}
	bits, err := readBits(r, 1)
	if err != nil {
		return err
	}
	m.Redelivered = bits[0]
	if m.Exchange, err = wire.ReadShortString(r); err != nil {
		return err
	}
	if m.RoutingKey, err = wire.ReadShortString(r); err != nil {
		return err
	}
	m.MessageCount, err = wire.ReadLong(r)
	return err
}

// BasicGetEmpty answers a get on an empty queue.
type BasicGetEmpty struct {
	reserved1 string
}

func (*BasicGetEmpty) Key() Key { return KeyBasicGetEmpty }

func (m *BasicGetEmpty) encode(w *bytes.Buffer) error {
	return wire.WriteShortString(w, m.reserved1)
}

func (m *BasicGetEmpty) decode(r *bytes.Reader) (err error) {
	m.reserved1, err = wire.ReadShortString(r)
	return err
}

// BasicAck acknowledges one or more deliveries.
type BasicAck struct {
	DeliveryTag uint64
	Multiple    bool
}

func (*BasicAck) Key() Key { return KeyBasicAck }

func (m *BasicAck) encode(w *bytes.Buffer) error {
	wire.WriteLongLong(w, m.DeliveryTag)
	wire.WriteOctet(w, wire.PackBools(m.Multiple))
	return nil
}

func (m *BasicAck) decode(r *bytes.Reader) (err error) {
	if m.DeliveryTag, err = wire.ReadLongLong(r); err != nil {
		return err
	}
	bits, err := readBits(r, 1)
	if err != nil {
		return err
	}
	m.Multiple = bits[0]
	return nil
}

// BasicReject refuses a delivery, optionally requeueing it.
type BasicReject struct {
	DeliveryTag uint64
	Requeue     bool
}

func (*BasicReject) Key() Key { return KeyBasicReject }

func (m *BasicReject) encode(w *bytes.Buffer) error {
	wire.WriteLongLong(w, m.DeliveryTag)
	wire.WriteOctet(w, wire.PackBools(m.Requeue))
	return nil
}

func (m *BasicReject) decode(r *bytes.Reader) (err error) {
	if m.DeliveryTag, err = wire.ReadLongLong(r); err != nil {
		return err
	}
	bits, err := readBits(r, 1)
	if err != nil {
		return err
	}
	m.Requeue = bits[0]
	return nil
}

// BasicRecover redelivers unacknowledged messages on the channel.
type BasicRecover struct {
	Requeue bool
}

func (*BasicRecover) Key() Key { return KeyBasicRecover }

func (m *BasicRecover) encode(w *bytes.Buffer) error {
	wire.WriteOctet(w, wire.PackBools(m.Requeue))
	return nil
}

func (m *BasicRecover) decode(r *bytes.Reader) error {
	bits, err := readBits(r, 1)
	if err != nil {
		return err
	}
	m.Requeue = bits[0]
	return nil
}

// BasicRecoverOK confirms a recover.
type BasicRecoverOK struct{}

func (*BasicRecoverOK) Key() Key { return KeyBasicRecoverOK }

func (*BasicRecoverOK) encode(*bytes.Buffer) error { return nil }

func (*BasicRecoverOK) decode(*bytes.Reader) error { return nil }

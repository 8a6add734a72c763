// Package method defines typed representations of the AMQP 0-9-1 protocol
// methods this client speaks, and their binary encoding. A method frame
// payload is the two class/method id shorts followed by the method's
// arguments; Marshal and Unmarshal convert between payloads and structs.
package method

import (
	"bytes"
	"fmt"

	"github.com/vk/amqpgrid/internal/wire"
)

// Key identifies a protocol method: the class id in the high 16 bits and the
// method id in the low 16 bits.
type Key uint32

// MakeKey combines a class id and a method id.
func MakeKey(class, method uint16) Key {
	return Key(uint32(class)<<16 | uint32(method))
}

// Class returns the class id half of the key.
func (k Key) Class() uint16 { return uint16(k >> 16) }

// Method returns the method id half of the key.
func (k Key) Method() uint16 { return uint16(k) }

func (k Key) String() string {
	if name, ok := names[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d,%d)", k.Class(), k.Method())
}

// Method is a protocol method with a binary argument encoding.
type Method interface {
	Key() Key
	encode(w *bytes.Buffer) error
	decode(r *bytes.Reader) error
}

// Marshal encodes a method into a method-frame payload.
func Marshal(m Method) ([]byte, error) {
	var buf bytes.Buffer
	wire.WriteShort(&buf, m.Key().Class())
	wire.WriteShort(&buf, m.Key().Method())
	if err := m.encode(&buf); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Key(), err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a method-frame payload. An unknown class/method pair is
// a protocol error and wraps wire.ErrSyntax.
func Unmarshal(payload []byte) (Method, error) {
	r := bytes.NewReader(payload)
	class, err := wire.ReadShort(r)
	if err != nil {
		return nil, err
	}
	methodID, err := wire.ReadShort(r)
	if err != nil {
		return nil, err
	}

	key := MakeKey(class, methodID)
	ctor, ok := constructors[key]
	if !ok {
		return nil, fmt.Errorf("unknown method class=%d method=%d: %w", class, methodID, wire.ErrSyntax)
	}

	m := ctor()
	if err := m.decode(r); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return m, nil
}

var (
	constructors = map[Key]func() Method{}
	names        = map[Key]string{}
)

// register wires a method's constructor and wire name into the decode tables.
// Called from init funcs in the per-class files.
func register(key Key, name string, ctor func() Method) {
	constructors[key] = ctor
	names[key] = name
}

// bit field helpers: consecutive boolean arguments share octets on the wire.

func readBits(r *bytes.Reader, n int) ([]bool, error) {
	octet, err := wire.ReadOctet(r)
	if err != nil {
		return nil, err
	}
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = octet&(1<<i) != 0
	}
	return bits, nil
}

// Package wire implements the AMQP 0-9-1 low-level wire format: integer
// primitives, short and long strings, field tables, field arrays, bit-packed
// booleans, timestamps and decimals. All readers validate lengths against the
// underlying buffer and return ErrSyntax on malformed input instead of
// over-reading or panicking.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrSyntax is the terminal cause for every decoding failure in this package.
// Callers translate it into the protocol-level syntax error (reply code 502).
var ErrSyntax = errors.New("malformed wire data")

// Table is an AMQP field table. Supported value types are bool, int8, int16,
// int32, int64, uint8, uint16, uint32, int, float32, float64, string, []byte,
// time.Time, Decimal, []any, Table and nil.
type Table map[string]any

// Decimal is the AMQP decimal field type: Value scaled down by 10^Scale.
type Decimal struct {
	Scale uint8
	Value int32
}

// ReadOctet reads a single unsigned octet.
func ReadOctet(r *bytes.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("reading octet: %w", ErrSyntax)
	}
	return b, nil
}

// ReadShort reads an unsigned 16-bit big-endian integer.
func ReadShort(r *bytes.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := readFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading short: %w", err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// ReadLong reads an unsigned 32-bit big-endian integer.
func ReadLong(r *bytes.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := readFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading long: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadLongLong reads an unsigned 64-bit big-endian integer.
func ReadLongLong(r *bytes.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := readFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("reading long-long: %w", err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// ReadShortString reads a string with a single-octet length prefix.
func ReadShortString(r *bytes.Reader) (string, error) {
	n, err := ReadOctet(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", fmt.Errorf("reading short string body: %w", err)
	}
	return string(buf), nil
}

// ReadLongString reads a string with a four-octet length prefix.
func ReadLongString(r *bytes.Reader) (string, error) {
	n, err := ReadLong(r)
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.Len()) {
		return "", fmt.Errorf("long string length %d exceeds remaining %d: %w", n, r.Len(), ErrSyntax)
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", fmt.Errorf("reading long string body: %w", err)
	}
	return string(buf), nil
}

// ReadTimestamp reads a POSIX timestamp with millisecond resolution.
// AMQP nominally carries whole seconds; RabbitMQ and this client agree on
// milliseconds. The result is always UTC.
func ReadTimestamp(r *bytes.Reader) (time.Time, error) {
	ms, err := ReadLongLong(r)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

// ReadTable reads a field table: a four-octet byte length followed by
// name/type/value triples. The declared length must exactly cover the
// entries and must not overrun the buffer.
func ReadTable(r *bytes.Reader) (Table, error) {
	size, err := ReadLong(r)
	if err != nil {
		return nil, err
	}
	if uint64(size) > uint64(r.Len()) {
		return nil, fmt.Errorf("table length %d exceeds remaining %d: %w", size, r.Len(), ErrSyntax)
	}
	body := make([]byte, size)
	if _, err := readFull(r, body); err != nil {
		return nil, err
	}

	table := Table{}
	br := bytes.NewReader(body)
	for br.Len() > 0 {
		name, err := ReadShortString(br)
		if err != nil {
			return nil, err
		}
		value, err := readField(br)
		if err != nil {
			return nil, err
		}
		table[name] = value
	}
	return table, nil
}

// ReadArray reads a field array: a four-octet byte length followed by
// type/value pairs.
func ReadArray(r *bytes.Reader) ([]any, error) {
	size, err := ReadLong(r)
	if err != nil {
		return nil, err
	}
	if uint64(size) > uint64(r.Len()) {
		return nil, fmt.Errorf("array length %d exceeds remaining %d: %w", size, r.Len(), ErrSyntax)
	}
	body := make([]byte, size)
	if _, err := readFull(r, body); err != nil {
		return nil, err
	}

	var items []any
	br := bytes.NewReader(body)
	for br.Len() > 0 {
		value, err := readField(br)
		if err != nil {
			return nil, err
		}
		items = append(items, value)
	}
	return items, nil
}

func readField(r *bytes.Reader) (any, error) {
	code, err := ReadOctet(r)
	if err != nil {
		return nil, err
	}

	switch code {
	case 't':
		b, err := ReadOctet(r)
		if err != nil {
			return nil, err
		}
		return b != 0, nil
	case 'b':
		b, err := ReadOctet(r)
		if err != nil {
			return nil, err
		}
		return int8(b), nil
	case 'B':
		return ReadOctet(r)
	case 'U':
		v, err := ReadShort(r)
		return int16(v), err
	case 'u':
		return ReadShort(r)
	case 'I':
		v, err := ReadLong(r)
		return int32(v), err
	case 'i':
		return ReadLong(r)
	case 'l':
		v, err := ReadLongLong(r)
		return int64(v), err
	case 'f':
		v, err := ReadLong(r)
		return math.Float32frombits(v), err
	case 'd':
		v, err := ReadLongLong(r)
		return math.Float64frombits(v), err
	case 'D':
		scale, err := ReadOctet(r)
		if err != nil {
			return nil, err
		}
		v, err := ReadLong(r)
		if err != nil {
			return nil, err
		}
		return Decimal{Scale: scale, Value: int32(v)}, nil
	case 's':
		return ReadShortString(r)
	case 'S':
		return ReadLongString(r)
	case 'x':
		s, err := ReadLongString(r)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	case 'A':
		return ReadArray(r)
	case 'T':
		return ReadTimestamp(r)
	case 'F':
		return ReadTable(r)
	case 'V':
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown field type code %#x: %w", code, ErrSyntax)
	}
}

// WriteOctet appends a single octet.
func WriteOctet(w *bytes.Buffer, v byte) {
	w.WriteByte(v)
}

// WriteShort appends an unsigned 16-bit big-endian integer.
func WriteShort(w *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	w.Write(buf[:])
}

// WriteLong appends an unsigned 32-bit big-endian integer.
func WriteLong(w *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}

// WriteLongLong appends an unsigned 64-bit big-endian integer.
func WriteLongLong(w *bytes.Buffer, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	w.Write(buf[:])
}

// WriteShortString appends a string with a single-octet length prefix.
// Strings longer than 255 bytes cannot be represented.
func WriteShortString(w *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint8 {
		return fmt.Errorf("short string of %d bytes exceeds 255: %w", len(s), ErrSyntax)
	}
	w.WriteByte(byte(len(s)))
	w.WriteString(s)
	return nil
}

// WriteLongString appends a string with a four-octet length prefix.
func WriteLongString(w *bytes.Buffer, s string) {
	WriteLong(w, uint32(len(s)))
	w.WriteString(s)
}

// WriteTimestamp appends a POSIX millisecond timestamp.
func WriteTimestamp(w *bytes.Buffer, t time.Time) {
	WriteLongLong(w, uint64(t.UnixMilli()))
}

// PackBools packs up to eight booleans into one octet, least significant
// bit first.
func PackBools(bools ...bool) byte {
	if len(bools) > 8 {
		panic("wire: at most 8 bools fit in one octet")
	}
	var octet byte
	for i, b := range bools {
		if b {
			octet |= 1 << i
		}
	}
	return octet
}

// WriteTable appends a field table with its four-octet length prefix.
// Map iteration order is not stable, so two encodings of the same table may
// differ byte-for-byte while decoding to the same value.
func WriteTable(w *bytes.Buffer, t Table) error {
	var body bytes.Buffer
	for name, value := range t {
		if err := WriteShortString(&body, name); err != nil {
			return err
		}
		if err := writeField(&body, value); err != nil {
			return fmt.Errorf("table field %q: %w", name, err)
		}
	}
	WriteLong(w, uint32(body.Len()))
	w.Write(body.Bytes())
	return nil
}

// WriteArray appends a field array with its four-octet length prefix.
func WriteArray(w *bytes.Buffer, items []any) error {
	var body bytes.Buffer
	for i, item := range items {
		if err := writeField(&body, item); err != nil {
			return fmt.Errorf("array item %d: %w", i, err)
		}
	}
	WriteLong(w, uint32(body.Len()))
	w.Write(body.Bytes())
	return nil
}

func writeField(w *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case bool:
		w.WriteByte('t')
		if v {
			w.WriteByte(1)
		} else {
			w.WriteByte(0)
		}
	case int8:
		w.WriteByte('b')
		w.WriteByte(byte(v))
	case uint8:
		w.WriteByte('B')
		w.WriteByte(v)
	case int16:
		w.WriteByte('U')
		WriteShort(w, uint16(v))
	case uint16:
		w.WriteByte('u')
		WriteShort(w, v)
	case int32:
		w.WriteByte('I')
		WriteLong(w, uint32(v))
	case uint32:
		w.WriteByte('i')
		WriteLong(w, v)
	case int64:
		w.WriteByte('l')
		WriteLongLong(w, uint64(v))
	case int:
		// Narrow to the smallest long type that holds the value so tables
		// round-trip within the int32/int64 width classes.
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			w.WriteByte('I')
			WriteLong(w, uint32(int32(v)))
		} else {
			w.WriteByte('l')
			WriteLongLong(w, uint64(v))
		}
	case float32:
		w.WriteByte('f')
		WriteLong(w, math.Float32bits(v))
	case float64:
		w.WriteByte('d')
		WriteLongLong(w, math.Float64bits(v))
	case Decimal:
		w.WriteByte('D')
		w.WriteByte(v.Scale)
		WriteLong(w, uint32(v.Value))
	case string:
		w.WriteByte('S')
		WriteLongString(w, v)
	case []byte:
		w.WriteByte('x')
		WriteLong(w, uint32(len(v)))
		w.Write(v)
	case []any:
		w.WriteByte('A')
		return WriteArray(w, v)
	case time.Time:
		w.WriteByte('T')
		WriteTimestamp(w, v)
	case Table:
		w.WriteByte('F')
		return WriteTable(w, v)
	case map[string]any:
		w.WriteByte('F')
		return WriteTable(w, Table(v))
	case nil:
		w.WriteByte('V')
	default:
		return fmt.Errorf("unsupported table value type %T: %w", value, ErrSyntax)
	}
	return nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	// bytes.Reader returns io.EOF at end of input even for an empty read,
	// but a zero-length field (an empty string, say) is valid wire data.
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := r.Read(buf)
	if err != nil || n < len(buf) {
		return n, fmt.Errorf("need %d bytes, have %d: %w", len(buf), n, ErrSyntax)
	}
	return n, nil
}

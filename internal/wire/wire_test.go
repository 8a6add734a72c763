package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  []byte
		want Table
	}{
		{
			name: "bool fields",
			raw:  []byte("\x00\x00\x00\x0E\x04key1t\x00\x04key2t\x01"),
			want: Table{"key1": false, "key2": true},
		},
		{
			name: "short string field",
			raw:  []byte("\x00\x00\x00\x0B\x03keys\x05hello"),
			want: Table{"key": "hello"},
		},
		{
			name: "long string field",
			raw:  []byte("\x00\x00\x00\x0E\x03keyS\x00\x00\x00\x05hello"),
			want: Table{"key": "hello"},
		},
		{
			name: "nested table",
			raw:  []byte("\x00\x00\x00\x16\x03keyF\x00\x00\x00\x0D\x0Aanotherkeyt\x00"),
			want: Table{"key": Table{"anotherkey": false}},
		},
		{
			name: "empty table",
			raw:  []byte("\x00\x00\x00\x00"),
			want: Table{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ReadTable(bytes.NewReader(tc.raw))
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("table mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadTable_Malformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  []byte
	}{
		{"declared length overruns buffer", []byte("\x00\x00\x00\x0F\x04key1t\x00\x04key2t\x01")},
		{"unknown value type code", []byte("\x00\x00\x00\x06\x04key1X")},
		{"unsigned length would be negative as signed", []byte("\xFF\xFF\xFF\xFF\xFF")},
		{"truncated length prefix", []byte("\x00\x00")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ReadTable(bytes.NewReader(tc.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSyntax)
		})
	}
}

func TestTableRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		table Table
	}{
		{"bools", Table{"key1": false, "key2": true}},
		{"strings", Table{"key": "hello"}},
		{"nested", Table{"key": Table{"anotherkey": false}}},
		{"int32 range", Table{"a": int32(1 << 16), "b": int32(-65535)}},
		{"int64 range", Table{"c": int64(1) << 32, "d": int64(-1) << 62}},
		{"floats", Table{"e": float32(1.5), "f": float64(-2.25)}},
		{"decimal", Table{"g": Decimal{Scale: 2, Value: 1999}}},
		{"bytes", Table{"h": []byte{0xDE, 0xAD}}},
		{"array", Table{"i": []any{int32(1), "two", true}}},
		{"void", Table{"j": nil}},
		{"mixed widths", Table{"k": int8(-4), "l": uint8(200), "m": int16(-300), "n": uint16(40000), "o": uint32(1 << 31)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			require.NoError(t, WriteTable(&buf, tc.table))

			got, err := ReadTable(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			if diff := cmp.Diff(tc.table, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTableRoundTrip_IntNarrowing(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, Table{"small": 7, "big": 1 << 40}))

	got, err := ReadTable(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, int32(7), got["small"])
	assert.Equal(t, int64(1)<<40, got["big"])
}

func TestReadLongString(t *testing.T) {
	t.Parallel()

	s, err := ReadLongString(bytes.NewReader([]byte("\x00\x00\x00\x05hello")))
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestReadString_EmptyAtEndOfInput(t *testing.T) {
	t.Parallel()

	// Several methods end in an empty string field (reserved arguments,
	// mostly), so a zero-length read right at the end of the payload must
	// succeed rather than surface the reader's EOF.
	s, err := ReadLongString(bytes.NewReader([]byte("\x00\x00\x00\x00")))
	require.NoError(t, err)
	assert.Equal(t, "", s)

	s, err = ReadShortString(bytes.NewReader([]byte("\x00")))
	require.NoError(t, err)
	assert.Equal(t, "", s)
}

func TestReadLongString_LengthOverrun(t *testing.T) {
	t.Parallel()

	_, err := ReadLongString(bytes.NewReader([]byte("\x00\x00\x00\x10hello")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestWriteShortString_TooLong(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := WriteShortString(&buf, string(make([]byte, 256)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestPackBools(t *testing.T) {
	t.Parallel()

	cases := []struct {
		bools []bool
		want  byte
	}{
		{[]bool{false}, 0x00},
		{[]bool{true}, 0x01},
		{[]bool{true, false, true}, 0x05},
		{[]bool{true, false}, 0x01},
		{[]bool{true, true, true, true, true, true, true, true}, 0xFF},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, PackBools(tc.bools...))
	}
}

func TestReadTimestamp(t *testing.T) {
	t.Parallel()

	epoch, err := ReadTimestamp(bytes.NewReader([]byte("\x00\x00\x00\x00\x00\x00\x00\x00")))
	require.NoError(t, err)
	assert.True(t, epoch.Equal(time.Unix(0, 0)), "zero value should be the epoch")

	oneMilli, err := ReadTimestamp(bytes.NewReader([]byte("\x00\x00\x00\x00\x00\x00\x00\x01")))
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, oneMilli.Sub(epoch))
}

func TestTimestampRoundTrip(t *testing.T) {
	t.Parallel()

	// Round trip must not introduce an offset, whatever the zone of the input.
	zone := time.FixedZone("test", 90*60)
	for _, stamp := range []time.Time{
		time.Unix(0, 0).UTC(),
		time.Date(1979, 1, 1, 0, 0, 0, 0, zone),
		time.Date(2026, 8, 30, 12, 34, 56, 0, time.UTC),
	} {
		var buf bytes.Buffer
		WriteTimestamp(&buf, stamp)

		got, err := ReadTimestamp(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.True(t, got.Equal(stamp), "got %v, want %v", got, stamp)
	}
}

func TestArrayRoundTrip(t *testing.T) {
	t.Parallel()

	items := []any{"one", int32(2), true, Table{"k": "v"}}

	var buf bytes.Buffer
	require.NoError(t, WriteArray(&buf, items))

	got, err := ReadArray(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	if diff := cmp.Diff(items, got); diff != "" {
		t.Errorf("array mismatch (-want +got):\n%s", diff)
	}
}

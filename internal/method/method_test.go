package method

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/amqpgrid/internal/wire"
)

func TestKey(t *testing.T) {
	t.Parallel()

	k := MakeKey(10, 41)
	assert.Equal(t, uint16(10), k.Class())
	assert.Equal(t, uint16(41), k.Method())
	assert.Equal(t, "connection.open-ok", k.String())
	assert.Equal(t, "unknown(9,9)", MakeKey(9, 9).String())
}

func TestUnmarshal_ConnectionOpenOK(t *testing.T) {
	t.Parallel()

	// class 10, method 41, empty reserved short string.
	m, err := Unmarshal([]byte("\x00\x0A\x00\x29\x00"))
	require.NoError(t, err)
	assert.IsType(t, &ConnectionOpenOK{}, m)
	assert.Equal(t, KeyConnectionOpenOK, m.Key())
}

func TestUnmarshal_UnknownMethod(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte("\x00\x63\x00\x63"))
	require.Error(t, err)
	assert.ErrorIs(t, err, wire.ErrSyntax)
}

func TestUnmarshal_TruncatedArguments(t *testing.T) {
	t.Parallel()

	// connection.close with the payload cut mid reply-text.
	_, err := Unmarshal([]byte("\x00\x0A\x00\x32\x00\xC8\x09trunc"))
	require.Error(t, err)
	assert.ErrorIs(t, err, wire.ErrSyntax)
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []Method{
		&ConnectionStart{
			VersionMajor:     0,
			VersionMinor:     9,
			ServerProperties: wire.Table{"product": "RabbitMQ"},
			Mechanisms:       "PLAIN AMQPLAIN",
			Locales:          "en_US",
		},
		&ConnectionStartOK{
			ClientProperties: wire.Table{"product": "amqpgrid"},
			Mechanism:        "AMQPLAIN",
			Response:         "opaque",
			Locale:           "en_US",
		},
		&ConnectionTune{ChannelMax: 2047, FrameMax: 131072, Heartbeat: 60},
		&ConnectionTuneOK{ChannelMax: 2047, FrameMax: 131072, Heartbeat: 60},
		&ConnectionOpen{VirtualHost: "/"},
		&ConnectionClose{ReplyCode: 320, ReplyText: "shutting down", ClassID: 0, MethodID: 0},
		&ConnectionCloseOK{},
		&ChannelOpen{},
		&ChannelOpenOK{},
		&ChannelFlow{Active: true},
		&ChannelClose{ReplyCode: 406, ReplyText: "precondition failed", ClassID: 50, MethodID: 10},
		&ChannelCloseOK{},
		&ExchangeDeclare{Exchange: "logs", Type: "fanout", Durable: true, Arguments: wire.Table{}},
		&ExchangeDeclareOK{},
		&ExchangeDelete{Exchange: "logs", IfUnused: true},
		&QueueDeclare{Queue: "tasks", Durable: true, Exclusive: true, Arguments: wire.Table{}},
		&QueueDeclareOK{Queue: "amq.gen-abc", MessageCount: 3, ConsumerCount: 1},
		&QueueBind{Queue: "tasks", Exchange: "logs", RoutingKey: "#", Arguments: wire.Table{}},
		&QueueUnbind{Queue: "tasks", Exchange: "logs", RoutingKey: "#", Arguments: wire.Table{}},
		&QueuePurge{Queue: "tasks"},
		&QueuePurgeOK{MessageCount: 7},
		&QueueDelete{Queue: "tasks", IfEmpty: true},
		&QueueDeleteOK{MessageCount: 7},
		&BasicQos{PrefetchCount: 10},
		&BasicConsume{Queue: "tasks", ConsumerTag: "ctag-1", NoAck: true, Arguments: wire.Table{}},
		&BasicConsumeOK{ConsumerTag: "ctag-1"},
		&BasicCancel{ConsumerTag: "ctag-1"},
		&BasicCancelOK{ConsumerTag: "ctag-1"},
		&BasicPublish{Exchange: "logs", RoutingKey: "a.b", Mandatory: true},
		&BasicReturn{ReplyCode: 312, ReplyText: "NO_ROUTE", Exchange: "logs", RoutingKey: "a.b"},
		&BasicDeliver{ConsumerTag: "ctag-1", DeliveryTag: 42, Redelivered: true, Exchange: "logs", RoutingKey: "a.b"},
		&BasicGet{Queue: "tasks", NoAck: true},
		&BasicGetOK{DeliveryTag: 42, Exchange: "logs", RoutingKey: "a.b", MessageCount: 2},
		&BasicGetEmpty{},
		&BasicAck{DeliveryTag: 42, Multiple: true},
		&BasicReject{DeliveryTag: 42, Requeue: true},
		&BasicRecover{Requeue: true},
		&BasicRecoverOK{},
	}

	for _, m := range cases {
		t.Run(m.Key().String(), func(t *testing.T) {
			t.Parallel()
			payload, err := Marshal(m)
			require.NoError(t, err)

			got, err := Unmarshal(payload)
			require.NoError(t, err)
			if diff := cmp.Diff(m, got, cmp.AllowUnexported(
				ConnectionOpen{}, ConnectionOpenOK{}, ChannelOpen{}, ChannelOpenOK{},
				ExchangeDeclare{}, ExchangeDelete{}, QueueDeclare{}, QueueDeclareOK{},
				QueueBind{}, QueueUnbind{}, QueuePurge{}, QueueDelete{},
				BasicConsume{}, BasicPublish{}, BasicGet{}, BasicGetEmpty{},
			)); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestContentHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	h := &ContentHeader{
		ClassID:  ClassBasic,
		BodySize: 12,
		Props: Properties{
			ContentType:   "application/json",
			Headers:       wire.Table{"x-retries": int32(2)},
			DeliveryMode:  2,
			Priority:      5,
			CorrelationID: "corr-1",
			ReplyTo:       "replies",
			MessageID:     "msg-1",
			Timestamp:     time.UnixMilli(1700000000000).UTC(),
			AppID:         "amqpgrid",
		},
	}

	payload, err := MarshalHeader(h)
	require.NoError(t, err)

	got, err := UnmarshalHeader(payload)
	require.NoError(t, err)
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestContentHeader_EmptyProperties(t *testing.T) {
	t.Parallel()

	h := &ContentHeader{ClassID: ClassBasic, BodySize: 0}
	payload, err := MarshalHeader(h)
	require.NoError(t, err)

	// class + weight + size + flags, nothing else.
	assert.Len(t, payload, 14)

	got, err := UnmarshalHeader(payload)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestUnmarshalHeader_Truncated(t *testing.T) {
	t.Parallel()

	_, err := UnmarshalHeader([]byte("\x00\x3C\x00\x00"))
	require.Error(t, err)
	assert.ErrorIs(t, err, wire.ErrSyntax)
}

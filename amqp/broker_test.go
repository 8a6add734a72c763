package amqp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vk/amqpgrid/internal/frame"
	"github.com/vk/amqpgrid/internal/method"
	"github.com/vk/amqpgrid/internal/wire"
)

// testBroker plays the server side of the protocol over an in-memory pipe,
// one scripted step at a time.
type testBroker struct {
	t    *testing.T
	conn net.Conn
	fr   frame.Reader
}

func newTestBroker(t *testing.T) (*testBroker, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return &testBroker{t: t, conn: server}, client
}

func (b *testBroker) readFrame() *frame.Raw {
	b.t.Helper()
	require.NoError(b.t, b.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 4096)
	for {
		raw, err := b.fr.Next()
		require.NoError(b.t, err)
		if raw != nil {
			return raw
		}
		n, err := b.conn.Read(buf)
		require.NoError(b.t, err)
		b.fr.Feed(buf[:n])
	}
}

// expectMethod reads one frame and requires it to decode to the given
// method, returning it for argument assertions.
func (b *testBroker) expectMethod(channel uint16, key method.Key) method.Method {
	b.t.Helper()
	raw := b.readFrame()
	require.Equal(b.t, frame.TypeMethod, raw.Type)
	require.Equal(b.t, channel, raw.Channel)
	m, err := method.Unmarshal(raw.Payload)
	require.NoError(b.t, err)
	require.Equal(b.t, key, m.Key(), "got %s, want %s", m.Key(), key)
	return m
}

func (b *testBroker) sendMethod(channel uint16, m method.Method) {
	b.t.Helper()
	payload, err := method.Marshal(m)
	require.NoError(b.t, err)
	require.NoError(b.t, b.conn.SetWriteDeadline(time.Now().Add(5*time.Second)))
	require.NoError(b.t, frame.Write(b.conn, frame.Raw{Type: frame.TypeMethod, Channel: channel, Payload: payload}))
}

func (b *testBroker) sendContent(channel uint16, m method.Method, props method.Properties, body []byte) {
	b.t.Helper()
	b.sendMethod(channel, m)
	header, err := method.MarshalHeader(&method.ContentHeader{
		ClassID:  method.ClassBasic,
		BodySize: uint64(len(body)),
		Props:    props,
	})
	require.NoError(b.t, err)
	require.NoError(b.t, frame.Write(b.conn, frame.Raw{Type: frame.TypeHeader, Channel: channel, Payload: header}))
	if len(body) > 0 {
		require.NoError(b.t, frame.Write(b.conn, frame.Raw{Type: frame.TypeBody, Channel: channel, Payload: body}))
	}
}

// handshake drives the server side of the connection handshake. frameMax
// propagates into the client's body splitting; heartbeat stays disabled so
// tests control every frame on the wire.
func (b *testBroker) handshake(frameMax uint32) {
	b.t.Helper()
	b.handshakeTuned(frameMax, 0)
}

// handshakeTuned is handshake with a caller-chosen heartbeat interval, for
// tests that exercise the heartbeat machinery.
func (b *testBroker) handshakeTuned(frameMax uint32, heartbeat uint16) {
	b.t.Helper()

	header := make([]byte, len(frame.ProtocolHeader))
	require.NoError(b.t, b.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for read := 0; read < len(header); {
		n, err := b.conn.Read(header[read:])
		require.NoError(b.t, err)
		read += n
	}
	require.Equal(b.t, frame.ProtocolHeader, header)

	b.sendMethod(0, &method.ConnectionStart{
		VersionMajor:     0,
		VersionMinor:     9,
		ServerProperties: wire.Table{"product": "testbroker"},
		Mechanisms:       "PLAIN AMQPLAIN",
		Locales:          "en_US",
	})

	startOK := b.expectMethod(0, method.KeyConnectionStartOK).(*method.ConnectionStartOK)
	require.Equal(b.t, "AMQPLAIN", startOK.Mechanism)

	b.sendMethod(0, &method.ConnectionTune{ChannelMax: 2047, FrameMax: frameMax, Heartbeat: heartbeat})
	b.expectMethod(0, method.KeyConnectionTuneOK)

	open := b.expectMethod(0, method.KeyConnectionOpen).(*method.ConnectionOpen)
	require.Equal(b.t, "/", open.VirtualHost)
	b.sendMethod(0, &method.ConnectionOpenOK{})
}

// serveClose answers the client's close handshake.
func (b *testBroker) serveClose() {
	b.t.Helper()
	b.expectMethod(0, method.KeyConnectionClose)
	b.sendMethod(0, &method.ConnectionCloseOK{})
}

type connResult struct {
	conn *Connection
	err  error
}

// openConn establishes a handshaken connection against a scripted broker.
// The broker script runs on the test goroutine; the client side runs in a
// goroutine because every write on the pipe blocks until its peer reads.
func openConn(t *testing.T, frameMax uint32) (*Connection, *testBroker) {
	t.Helper()
	return openConnTuned(t, frameMax, 0)
}

func openConnTuned(t *testing.T, frameMax uint32, heartbeat uint16) (*Connection, *testBroker) {
	t.Helper()
	broker, clientSide := newTestBroker(t)

	results := make(chan connResult, 1)
	go func() {
		conn, err := Open(t.Context(), clientSide, Config{})
		results <- connResult{conn, err}
	}()

	broker.handshakeTuned(frameMax, heartbeat)

	res := <-results
	require.NoError(t, res.err)
	return res.conn, broker
}

// openChannel runs the channel-open script alongside Connection.Channel.
func openChannel(t *testing.T, conn *Connection, broker *testBroker, id uint16) *Channel {
	t.Helper()

	type chanResult struct {
		ch  *Channel
		err error
	}
	results := make(chan chanResult, 1)
	go func() {
		ch, err := conn.Channel(t.Context())
		results <- chanResult{ch, err}
	}()

	broker.expectMethod(id, method.KeyChannelOpen)
	broker.sendMethod(id, &method.ChannelOpenOK{})

	res := <-results
	require.NoError(t, res.err)
	require.Equal(t, id, res.ch.ID())
	return res.ch
}

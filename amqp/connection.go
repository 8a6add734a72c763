// Package amqp is an AMQP 0-9-1 client. A Connection multiplexes numbered
// Channels over one TCP connection; channels declare exchanges and queues,
// publish messages and run consumers. Blocking operations take a
// context.Context and every failure path resolves to a typed error in
// errors.go.
package amqp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/amqpgrid/internal/ctxlog"
	"github.com/vk/amqpgrid/internal/frame"
	"github.com/vk/amqpgrid/internal/method"
	"github.com/vk/amqpgrid/internal/wire"
)

// Version is reported to the broker in the connection handshake.
const Version = "0.1.0"

const (
	defaultPort       = "5672"
	defaultChannelMax = 2047
	defaultFrameMax   = 131072

	// frameOverhead is the non-payload size of a frame: 7 header octets and
	// the terminator. Body chunks are sized so the whole frame fits frameMax.
	frameOverhead = 8
)

// Config tunes a connection. The zero value connects as guest/guest to the
// default virtual host and accepts the server's heartbeat offer.
type Config struct {
	Username    string
	Password    string
	VirtualHost string

	// Heartbeat overrides the server's offered interval when non-zero and
	// smaller than the offer. The server's offer of zero disables heartbeats
	// regardless.
	Heartbeat time.Duration

	// ClientProperties are merged over the defaults announced in start-ok.
	ClientProperties Table

	// TLSConfig enables TLS on the dialed connection when non-nil.
	TLSConfig *tls.Config

	// DialFunc replaces the default net.Dialer, for tests and tunnels.
	DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (cfg *Config) applyDefaults() {
	if cfg.Username == "" {
		cfg.Username = "guest"
	}
	if cfg.Password == "" {
		cfg.Password = "guest"
	}
	if cfg.VirtualHost == "" {
		cfg.VirtualHost = "/"
	}
}

// Connection is a single AMQP connection. It is safe for concurrent use.
type Connection struct {
	cfg    Config
	conn   net.Conn
	logger *slog.Logger

	channelMax uint16
	frameMax   uint32
	interval   time.Duration

	writeMu sync.Mutex

	mu       sync.Mutex
	channels map[uint16]*Channel
	nextID   uint16
	closing  bool
	termErr  error

	sync0    *synchroniser
	lastRecv atomic.Int64

	done   chan struct{}
	stopHB chan struct{}
	hbOnce sync.Once
}

// Dial connects to addr (host:port, port defaulting to 5672) with default
// credentials and performs the protocol handshake.
func Dial(ctx context.Context, addr string) (*Connection, error) {
	return DialConfig(ctx, addr, Config{})
}

// DialConfig connects to addr and performs the protocol handshake with the
// given configuration.
func DialConfig(ctx context.Context, addr string, cfg Config) (*Connection, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultPort)
	}

	dial := cfg.DialFunc
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	if cfg.TLSConfig != nil {
		tlsConn := tls.Client(conn, cfg.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
		}
		conn = tlsConn
	}

	return Open(ctx, conn, cfg)
}

// Open performs the AMQP handshake over an already established transport
// and returns the live connection. On failure the transport is closed.
func Open(ctx context.Context, conn net.Conn, cfg Config) (*Connection, error) {
	cfg.applyDefaults()

	c := &Connection{
		cfg:        cfg,
		conn:       conn,
		logger:     ctxlog.FromContext(ctx).With("component", "amqp"),
		channelMax: defaultChannelMax,
		frameMax:   defaultFrameMax,
		channels:   make(map[uint16]*Channel),
		done:       make(chan struct{}),
		stopHB:     make(chan struct{}),
	}
	c.sync0 = newSynchroniser(c.logger.With("channel", 0))
	c.lastRecv.Store(time.Now().UnixNano())

	go c.readLoop()

	if err := c.handshake(ctx); err != nil {
		conn.Close()
		<-c.done
		return nil, fmt.Errorf("amqp handshake: %w", err)
	}

	c.logger.Info("connection open",
		"vhost", cfg.VirtualHost, "frame_max", c.frameMax, "heartbeat", c.interval)
	return c, nil
}

func (c *Connection) handshake(ctx context.Context) error {
	start, err := c.sync0.register(method.KeyConnectionStart)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(frame.ProtocolHeader); err != nil {
		return fmt.Errorf("writing protocol header: %w", err)
	}
	if _, err := c.sync0.await(ctx, start); err != nil {
		return err
	}

	props := wire.Table{
		"product":  "amqpgrid",
		"version":  Version,
		"platform": runtime.Version(),
	}
	for k, v := range c.cfg.ClientProperties {
		props[k] = v
	}
	tuneWait, err := c.sync0.register(method.KeyConnectionTune)
	if err != nil {
		return err
	}
	err = c.send(0, &method.ConnectionStartOK{
		ClientProperties: props,
		Mechanism:        "AMQPLAIN",
		Response:         amqplainResponse(c.cfg.Username, c.cfg.Password),
		Locale:           "en_US",
	})
	if err != nil {
		c.sync0.forget(tuneWait)
		return err
	}

	res, err := c.sync0.await(ctx, tuneWait)
	if err != nil {
		return err
	}
	tune := res.(*method.ConnectionTune)

	// Agree with whatever the server offers; zero means no limit and maps
	// to the client defaults.
	if tune.ChannelMax != 0 {
		c.channelMax = tune.ChannelMax
	}
	if tune.FrameMax != 0 {
		c.frameMax = tune.FrameMax
	}
	heartbeat := time.Duration(tune.Heartbeat) * time.Second
	if c.cfg.Heartbeat > 0 && heartbeat > 0 && c.cfg.Heartbeat < heartbeat {
		heartbeat = c.cfg.Heartbeat.Round(time.Second)
	}
	c.interval = heartbeat

	err = c.send(0, &method.ConnectionTuneOK{
		ChannelMax: c.channelMax,
		FrameMax:   c.frameMax,
		Heartbeat:  uint16(heartbeat / time.Second),
	})
	if err != nil {
		return err
	}

	openWait, err := c.sync0.register(method.KeyConnectionOpenOK)
	if err != nil {
		return err
	}
	if err := c.send(0, &method.ConnectionOpen{VirtualHost: c.cfg.VirtualHost}); err != nil {
		c.sync0.forget(openWait)
		return err
	}
	c.startHeartbeat()

	_, err = c.sync0.await(ctx, openWait)
	return err
}

// amqplainResponse encodes credentials the way the AMQPLAIN mechanism
// expects: a field table body without its four-octet length prefix.
func amqplainResponse(username, password string) string {
	var buf bytes.Buffer
	// Only string values go in, so this cannot fail.
	_ = wire.WriteTable(&buf, wire.Table{"LOGIN": username, "PASSWORD": password})
	return string(buf.Bytes()[4:])
}

// Channel opens a new channel on the connection.
func (c *Connection) Channel(ctx context.Context) (*Channel, error) {
	c.mu.Lock()
	if c.termErr != nil {
		err := c.termErr
		c.mu.Unlock()
		return nil, err
	}
	if c.closing {
		c.mu.Unlock()
		return nil, ErrClosedByClient
	}
	if c.nextID >= c.channelMax {
		c.mu.Unlock()
		return nil, fmt.Errorf("amqp: channel ids exhausted (max %d)", c.channelMax)
	}
	c.nextID++
	ch := newChannel(c, c.nextID)
	c.channels[ch.id] = ch
	c.mu.Unlock()

	go ch.dispatchLoop()

	if _, err := ch.call(ctx, &method.ChannelOpen{}, method.KeyChannelOpenOK); err != nil {
		c.removeChannel(ch.id)
		ch.shutdown(err)
		return nil, fmt.Errorf("opening channel %d: %w", ch.id, err)
	}
	c.logger.Debug("channel open", "channel", ch.id)
	return ch, nil
}

// Close performs the close handshake with the broker and waits for the
// connection to wind down. Closing an already closed connection is a no-op.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		c.logger.Warn("close called on already closing connection")
		select {
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.closing = true
	c.mu.Unlock()

	p, err := c.sync0.register(method.KeyConnectionCloseOK)
	if err == nil {
		if err = c.send(0, &method.ConnectionClose{ReplyText: "Connection closed by application"}); err != nil {
			c.sync0.forget(p)
		} else {
			_, err = c.sync0.await(ctx, p)
		}
	}
	// Both sides wanting to close at once is not a failure.
	if err != nil && !errors.Is(err, ErrClosed) {
		return err
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the connection has fully shut down, however that came
// about. Err reports the cause.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err returns the terminal error after shutdown began: ErrClosedByClient,
// ErrClosedByServer (wrapping the broker's close notification) or a
// *ConnectionLostError. It returns nil while the connection is live.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.termErr
}

func (c *Connection) send(channelID uint16, m method.Method) error {
	payload, err := method.Marshal(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.termErr != nil {
		err := c.termErr
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return frame.Write(c.conn, frame.Raw{Type: frame.TypeMethod, Channel: channelID, Payload: payload})
}

// sendContent writes a publish method with its content header and body
// frames as one uninterrupted sequence, splitting the body at the
// negotiated frame size.
func (c *Connection) sendContent(channelID uint16, pub *method.BasicPublish, props method.Properties, body []byte) error {
	methodPayload, err := method.Marshal(pub)
	if err != nil {
		return err
	}
	headerPayload, err := method.MarshalHeader(&method.ContentHeader{
		ClassID:  method.ClassBasic,
		BodySize: uint64(len(body)),
		Props:    props,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.termErr != nil {
		err := c.termErr
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := frame.Write(c.conn, frame.Raw{Type: frame.TypeMethod, Channel: channelID, Payload: methodPayload}); err != nil {
		return err
	}
	if err := frame.Write(c.conn, frame.Raw{Type: frame.TypeHeader, Channel: channelID, Payload: headerPayload}); err != nil {
		return err
	}

	// A hostile tune below the frame overhead must not stall the split loop.
	chunk := max(int(c.frameMax)-frameOverhead, 1)
	for start := 0; start < len(body); start += chunk {
		end := min(start+chunk, len(body))
		if err := frame.Write(c.conn, frame.Raw{Type: frame.TypeBody, Channel: channelID, Payload: body[start:end]}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) readLoop() {
	defer close(c.done)

	var fr frame.Reader
	buf := make([]byte, 32*1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.lastRecv.Store(time.Now().UnixNano())
			fr.Feed(buf[:n])
			for {
				raw, ferr := fr.Next()
				if ferr != nil {
					// Framing violations are unrecoverable: the stream offset
					// is lost, so the connection must drop.
					c.logger.Error("dropping connection", "error", ferr)
					c.teardown(&ConnectionLostError{Reason: "framing violated", Cause: ferr})
					c.conn.Close()
					return
				}
				if raw == nil {
					break
				}
				c.dispatch(raw)
			}
		}
		if err != nil {
			if c.Err() == nil {
				c.logger.Warn("transport closed unexpectedly", "error", err)
				c.teardown(&ConnectionLostError{Reason: "transport closed", Cause: err})
			}
			return
		}
	}
}

func (c *Connection) dispatch(raw *frame.Raw) {
	if raw.Heartbeat() {
		return
	}

	if raw.Channel == 0 {
		if raw.Type != frame.TypeMethod {
			c.logger.Error("non-method frame on channel 0", "type", raw.Type)
			return
		}
		m, err := method.Unmarshal(raw.Payload)
		if err != nil {
			c.logger.Error("undecodable method on channel 0", "error", err)
			return
		}
		c.handleMethod0(m)
		return
	}

	c.mu.Lock()
	ch := c.channels[raw.Channel]
	c.mu.Unlock()
	if ch == nil {
		c.logger.Error("frame for unknown channel", "channel", raw.Channel)
		return
	}
	ch.handleFrame(raw)
}

func (c *Connection) handleMethod0(m method.Method) {
	switch m := m.(type) {
	case *method.ConnectionStart, *method.ConnectionTune, *method.ConnectionOpenOK:
		c.sync0.notify(m.Key(), m)
	case *method.ConnectionClose:
		c.logger.Info("server closed connection", "code", m.ReplyCode, "reason", m.ReplyText)
		_ = c.send(0, &method.ConnectionCloseOK{})
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		c.teardown(serverClosed(m.ReplyCode, m.ReplyText, m.ClassID, m.MethodID))
		c.conn.Close()
	case *method.ConnectionCloseOK:
		c.sync0.notify(m.Key(), m)
		c.teardown(ErrClosedByClient)
		c.conn.Close()
	default:
		c.logger.Error("unexpected method on channel 0", "method", m.Key().String())
	}
}

// teardown marks the connection dead and fails everything in flight. It is
// idempotent; the first cause wins.
func (c *Connection) teardown(err error) {
	c.mu.Lock()
	if c.termErr != nil {
		c.mu.Unlock()
		return
	}
	c.termErr = err
	c.closing = true
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.channels = make(map[uint16]*Channel)
	c.mu.Unlock()

	c.stopHeartbeat()
	c.sync0.kill(err)
	for _, ch := range channels {
		ch.shutdown(err)
	}
}

func (c *Connection) removeChannel(id uint16) {
	c.mu.Lock()
	delete(c.channels, id)
	c.mu.Unlock()
}

func (c *Connection) startHeartbeat() {
	if c.interval <= 0 {
		return
	}
	go c.heartbeatSender()
	go c.heartbeatMonitor()
}

func (c *Connection) heartbeatSender() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopHB:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := frame.Write(c.conn, frame.Raw{Type: frame.TypeHeartbeat})
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// heartbeatMonitor drops the connection when nothing at all has arrived for
// two full intervals, the tolerance the protocol recommends.
func (c *Connection) heartbeatMonitor() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopHB:
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastRecv.Load())
			if time.Since(last) > 2*c.interval {
				c.logger.Warn("no traffic for two heartbeat intervals, dropping connection")
				c.teardown(&ConnectionLostError{Reason: "heartbeat timeout"})
				c.conn.Close()
				return
			}
		}
	}
}

func (c *Connection) stopHeartbeat() {
	c.hbOnce.Do(func() { close(c.stopHB) })
}

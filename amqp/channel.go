package amqp

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vk/amqpgrid/internal/frame"
	"github.com/vk/amqpgrid/internal/method"
	"github.com/vk/amqpgrid/internal/wire"
)

// Channel is one independent stream of operations multiplexed over a
// connection. Channels are cheap; open one per concurrent task rather than
// sharing a channel across goroutines that publish and consume heavily.
type Channel struct {
	id     uint16
	conn   *Connection
	logger *slog.Logger
	rpc    *synchroniser

	mu        sync.Mutex
	consumers map[string]*Consumer
	closing   bool
	termErr   error
	returnFn  func(*ReturnedMessage)

	// content assembly state, touched only by the connection read loop
	pendingMethod method.Method
	pendingHeader *method.ContentHeader
	pendingBody   []byte

	jobs chan func()
	quit chan struct{}
	stop sync.Once
}

func newChannel(c *Connection, id uint16) *Channel {
	logger := c.logger.With("channel", id)
	return &Channel{
		id:        id,
		conn:      c,
		logger:    logger,
		rpc:       newSynchroniser(logger),
		consumers: make(map[string]*Consumer),
		jobs:      make(chan func(), 128),
		quit:      make(chan struct{}),
	}
}

// ID returns the channel number on the wire.
func (ch *Channel) ID() uint16 { return ch.id }

// Close performs the channel close handshake. Closing an already closed
// channel is a no-op.
func (ch *Channel) Close(ctx context.Context) error {
	ch.mu.Lock()
	if ch.closing {
		ch.mu.Unlock()
		return nil
	}
	ch.closing = true
	ch.mu.Unlock()

	p, err := ch.rpc.register(method.KeyChannelCloseOK)
	if err == nil {
		if err = ch.conn.send(ch.id, &method.ChannelClose{ReplyText: "Channel closed by application"}); err != nil {
			ch.rpc.forget(p)
		} else {
			_, err = ch.rpc.await(ctx, p)
		}
	}
	if err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

// OnReturn installs the callback invoked for messages the broker hands back
// as unroutable. Without one, returns are logged and dropped.
func (ch *Channel) OnReturn(fn func(*ReturnedMessage)) {
	ch.mu.Lock()
	ch.returnFn = fn
	ch.mu.Unlock()
}

// Qos sets the prefetch window for deliveries on this channel, or for the
// whole connection when global is set.
func (ch *Channel) Qos(ctx context.Context, prefetchCount uint16, global bool) error {
	_, err := ch.call(ctx, &method.BasicQos{PrefetchCount: prefetchCount, Global: global}, method.KeyBasicQosOK)
	return err
}

// Recover asks the broker to redeliver all unacknowledged messages on this
// channel.
func (ch *Channel) Recover(ctx context.Context, requeue bool) error {
	_, err := ch.call(ctx, &method.BasicRecover{Requeue: requeue}, method.KeyBasicRecoverOK)
	return err
}

// DeclareExchange declares an exchange and returns a handle to it. The
// empty name is the default direct exchange, which always exists and is
// returned without a broker round trip.
func (ch *Channel) DeclareExchange(ctx context.Context, name, kind string, opts ExchangeOptions) (*Exchange, error) {
	if name == "" {
		return &Exchange{Name: "", Kind: "direct", ch: ch}, nil
	}

	_, err := ch.call(ctx, &method.ExchangeDeclare{
		Exchange:   name,
		Type:       kind,
		Durable:    opts.Durable,
		AutoDelete: opts.AutoDelete,
		Internal:   opts.Internal,
		Arguments:  wire.Table(opts.Arguments),
	}, method.KeyExchangeDeclareOK)
	if err != nil {
		return nil, err
	}
	return &Exchange{Name: name, Kind: kind, ch: ch}, nil
}

// DeclareQueue declares a queue and returns a handle to it. An empty name
// asks the broker for a generated name, reflected in the handle.
func (ch *Channel) DeclareQueue(ctx context.Context, name string, opts QueueOptions) (*Queue, error) {
	res, err := ch.call(ctx, &method.QueueDeclare{
		Queue:      name,
		Durable:    opts.Durable,
		Exclusive:  opts.Exclusive,
		AutoDelete: opts.AutoDelete,
		Arguments:  wire.Table(opts.Arguments),
	}, method.KeyQueueDeclareOK)
	if err != nil {
		return nil, err
	}
	ok := res.(*method.QueueDeclareOK)
	return &Queue{Name: ok.Queue, ch: ch}, nil
}

// send fails fast once the channel is dead, then writes through the
// connection.
func (ch *Channel) send(m method.Method) error {
	ch.mu.Lock()
	if ch.termErr != nil {
		err := ch.termErr
		ch.mu.Unlock()
		return err
	}
	ch.mu.Unlock()
	return ch.conn.send(ch.id, m)
}

// call sends a method and waits for one of its reply methods. The waiter is
// registered before the request goes out so the read loop cannot deliver the
// reply into a gap.
func (ch *Channel) call(ctx context.Context, m method.Method, replies ...method.Key) (any, error) {
	p, err := ch.rpc.register(replies...)
	if err != nil {
		return nil, err
	}
	if err := ch.send(m); err != nil {
		ch.rpc.forget(p)
		return nil, err
	}
	return ch.rpc.await(ctx, p)
}

// dispatchLoop runs consumer and return callbacks in frame-arrival order,
// off the connection read loop.
func (ch *Channel) dispatchLoop() {
	for {
		select {
		case <-ch.quit:
			return
		case job := <-ch.jobs:
			job()
		}
	}
}

func (ch *Channel) enqueue(job func()) {
	select {
	case ch.jobs <- job:
	case <-ch.quit:
	}
}

// handleFrame processes one inbound frame. It runs on the connection read
// loop, so per-channel ordering is the arrival order.
func (ch *Channel) handleFrame(raw *frame.Raw) {
	switch raw.Type {
	case frame.TypeMethod:
		m, err := method.Unmarshal(raw.Payload)
		if err != nil {
			ch.logger.Error("undecodable method frame", "error", err)
			return
		}
		ch.handleMethod(m)
	case frame.TypeHeader:
		if ch.pendingMethod == nil {
			ch.logger.Error("content header without a content method")
			return
		}
		header, err := method.UnmarshalHeader(raw.Payload)
		if err != nil {
			ch.logger.Error("undecodable content header", "error", err)
			ch.pendingMethod = nil
			return
		}
		ch.pendingHeader = header
		ch.pendingBody = make([]byte, 0, header.BodySize)
		if header.BodySize == 0 {
			ch.completeContent()
		}
	case frame.TypeBody:
		if ch.pendingHeader == nil {
			ch.logger.Error("content body without a content header")
			return
		}
		ch.pendingBody = append(ch.pendingBody, raw.Payload...)
		if uint64(len(ch.pendingBody)) >= ch.pendingHeader.BodySize {
			ch.completeContent()
		}
	default:
		ch.logger.Error("unexpected frame type", "type", raw.Type)
	}
}

func (ch *Channel) handleMethod(m method.Method) {
	switch m := m.(type) {
	case *method.BasicDeliver:
		ch.pendingMethod = m
	case *method.BasicGetOK:
		ch.pendingMethod = m
	case *method.BasicReturn:
		ch.pendingMethod = m
	case *method.BasicGetEmpty:
		ch.rpc.notify(m.Key(), nil)
	case *method.ChannelFlow:
		// Honoring flow control beyond acknowledging it is not implemented.
		_ = ch.conn.send(ch.id, &method.ChannelFlowOK{Active: m.Active})
	case *method.BasicCancel:
		ch.logger.Warn("broker cancelled consumer", "tag", m.ConsumerTag)
		ch.mu.Lock()
		delete(ch.consumers, m.ConsumerTag)
		ch.mu.Unlock()
	case *method.ChannelClose:
		ch.logger.Info("server closed channel", "code", m.ReplyCode, "reason", m.ReplyText)
		_ = ch.conn.send(ch.id, &method.ChannelCloseOK{})
		ch.conn.removeChannel(ch.id)
		ch.shutdown(serverClosed(m.ReplyCode, m.ReplyText, m.ClassID, m.MethodID))
	case *method.ChannelCloseOK:
		ch.rpc.notify(m.Key(), m)
		ch.conn.removeChannel(ch.id)
		ch.shutdown(ErrClosedByClient)
	default:
		switch m.Key() {
		case method.KeyChannelOpenOK, method.KeyChannelFlowOK,
			method.KeyExchangeDeclareOK, method.KeyExchangeDeleteOK,
			method.KeyQueueDeclareOK, method.KeyQueueBindOK, method.KeyQueueUnbindOK,
			method.KeyQueuePurgeOK, method.KeyQueueDeleteOK,
			method.KeyBasicQosOK, method.KeyBasicConsumeOK, method.KeyBasicCancelOK,
			method.KeyBasicRecoverOK:
			ch.rpc.notify(m.Key(), m)
		default:
			ch.logger.Error("unexpected method", "method", m.Key().String())
		}
	}
}

// completeContent routes a fully assembled message to its destination:
// a consumer callback, a pending get, or the return callback.
func (ch *Channel) completeContent() {
	msg := messageFromContent(&ch.pendingHeader.Props, ch.pendingBody)
	content := ch.pendingMethod
	ch.pendingMethod, ch.pendingHeader, ch.pendingBody = nil, nil, nil

	switch m := content.(type) {
	case *method.BasicDeliver:
		in := &IncomingMessage{
			Message:     msg,
			DeliveryTag: m.DeliveryTag,
			Redelivered: m.Redelivered,
			Exchange:    m.Exchange,
			RoutingKey:  m.RoutingKey,
			ConsumerTag: m.ConsumerTag,
			ch:          ch,
		}
		ch.mu.Lock()
		cons := ch.consumers[m.ConsumerTag]
		ch.mu.Unlock()
		if cons == nil {
			ch.logger.Warn("delivery for unknown consumer", "tag", m.ConsumerTag)
			return
		}
		in.noAck = cons.noAck
		ch.enqueue(func() { cons.handler(in) })
	case *method.BasicGetOK:
		ch.rpc.notify(m.Key(), &IncomingMessage{
			Message:     msg,
			DeliveryTag: m.DeliveryTag,
			Redelivered: m.Redelivered,
			Exchange:    m.Exchange,
			RoutingKey:  m.RoutingKey,
			ch:          ch,
		})
	case *method.BasicReturn:
		ret := &ReturnedMessage{
			Message:    msg,
			ReplyCode:  m.ReplyCode,
			ReplyText:  m.ReplyText,
			Exchange:   m.Exchange,
			RoutingKey: m.RoutingKey,
		}
		ch.mu.Lock()
		fn := ch.returnFn
		ch.mu.Unlock()
		if fn == nil {
			ch.logger.Warn("undeliverable message returned",
				"code", ret.ReplyCode, "reason", ret.ReplyText,
				"exchange", ret.Exchange, "routing_key", ret.RoutingKey)
			return
		}
		ch.enqueue(func() { fn(ret) })
	}
}

// shutdown marks the channel dead, fails its waiters and stops its dispatch
// goroutine. Idempotent.
func (ch *Channel) shutdown(err error) {
	ch.mu.Lock()
	if ch.termErr != nil {
		ch.mu.Unlock()
		return
	}
	ch.termErr = err
	ch.closing = true
	ch.consumers = make(map[string]*Consumer)
	ch.mu.Unlock()

	ch.rpc.kill(err)
	ch.stop.Do(func() { close(ch.quit) })
}

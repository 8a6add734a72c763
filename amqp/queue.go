package amqp

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/vk/amqpgrid/internal/method"
	"github.com/vk/amqpgrid/internal/wire"
)

// QueueOptions configure DeclareQueue. The zero value declares a
// non-durable, non-exclusive queue that survives until deleted.
type QueueOptions struct {
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	Arguments  Table
}

// ConsumeOptions configure Consume. An empty ConsumerTag gets a generated
// one.
type ConsumeOptions struct {
	ConsumerTag string
	NoLocal     bool
	NoAck       bool
	Exclusive   bool
	Arguments   Table
}

// DeleteOptions configure Queue.Delete.
type DeleteOptions struct {
	IfUnused bool
	IfEmpty  bool
}

// Queue is a handle to a declared queue on one channel. Name is the broker's
// name for it, which differs from the declared name when the broker
// generated it.
type Queue struct {
	Name string

	ch      *Channel
	deleted atomic.Bool
}

func (q *Queue) live() error {
	if q.deleted.Load() {
		return fmt.Errorf("queue %q: %w", q.Name, ErrDeleted)
	}
	return nil
}

// Bind routes messages from the exchange matching routingKey into the queue.
func (q *Queue) Bind(ctx context.Context, exchange *Exchange, routingKey string) error {
	if err := q.live(); err != nil {
		return err
	}
	_, err := q.ch.call(ctx, &method.QueueBind{
		Queue:      q.Name,
		Exchange:   exchange.Name,
		RoutingKey: routingKey,
	}, method.KeyQueueBindOK)
	return err
}

// Unbind removes a binding created with Bind.
func (q *Queue) Unbind(ctx context.Context, exchange *Exchange, routingKey string) error {
	if err := q.live(); err != nil {
		return err
	}
	_, err := q.ch.call(ctx, &method.QueueUnbind{
		Queue:      q.Name,
		Exchange:   exchange.Name,
		RoutingKey: routingKey,
	}, method.KeyQueueUnbindOK)
	return err
}

// Get synchronously fetches one message. It returns (nil, nil) when the
// queue is empty.
func (q *Queue) Get(ctx context.Context, noAck bool) (*IncomingMessage, error) {
	if err := q.live(); err != nil {
		return nil, err
	}
	res, err := q.ch.call(ctx, &method.BasicGet{Queue: q.Name, NoAck: noAck},
		method.KeyBasicGetOK, method.KeyBasicGetEmpty)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	msg := res.(*IncomingMessage)
	msg.noAck = noAck
	return msg, nil
}

// Consume starts delivering the queue's messages to handler. The handler
// runs on a per-channel dispatch goroutine, in delivery order; a slow
// handler therefore delays later deliveries on the same channel.
func (q *Queue) Consume(ctx context.Context, handler func(*IncomingMessage), opts ConsumeOptions) (*Consumer, error) {
	if err := q.live(); err != nil {
		return nil, err
	}

	tag := opts.ConsumerTag
	if tag == "" {
		tag = "ctag-" + uuid.NewString()
	}
	cons := &Consumer{
		Tag:     tag,
		ch:      q.ch,
		handler: handler,
		noAck:   opts.NoAck,
	}

	// Register before asking the broker: deliveries may arrive immediately
	// after consume-ok, ahead of this goroutine resuming.
	q.ch.mu.Lock()
	if _, dup := q.ch.consumers[tag]; dup {
		q.ch.mu.Unlock()
		return nil, fmt.Errorf("amqp: consumer tag %q already in use", tag)
	}
	q.ch.consumers[tag] = cons
	q.ch.mu.Unlock()

	_, err := q.ch.call(ctx, &method.BasicConsume{
		Queue:       q.Name,
		ConsumerTag: tag,
		NoLocal:     opts.NoLocal,
		NoAck:       opts.NoAck,
		Exclusive:   opts.Exclusive,
		Arguments:   wire.Table(opts.Arguments),
	}, method.KeyBasicConsumeOK)
	if err != nil {
		q.ch.mu.Lock()
		delete(q.ch.consumers, tag)
		q.ch.mu.Unlock()
		return nil, err
	}
	return cons, nil
}

// Purge discards the queue's messages and reports how many were dropped.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	if err := q.live(); err != nil {
		return 0, err
	}
	res, err := q.ch.call(ctx, &method.QueuePurge{Queue: q.Name}, method.KeyQueuePurgeOK)
	if err != nil {
		return 0, err
	}
	return int(res.(*method.QueuePurgeOK).MessageCount), nil
}

// Delete removes the queue and reports how many messages went with it.
// Further operations on the handle fail with ErrDeleted.
func (q *Queue) Delete(ctx context.Context, opts DeleteOptions) (int, error) {
	if err := q.live(); err != nil {
		return 0, err
	}
	res, err := q.ch.call(ctx, &method.QueueDelete{
		Queue:    q.Name,
		IfUnused: opts.IfUnused,
		IfEmpty:  opts.IfEmpty,
	}, method.KeyQueueDeleteOK)
	if err != nil {
		return 0, err
	}
	q.deleted.Store(true)
	return int(res.(*method.QueueDeleteOK).MessageCount), nil
}

// Consumer is an active subscription created with Queue.Consume.
type Consumer struct {
	Tag string

	ch      *Channel
	handler func(*IncomingMessage)
	noAck   bool
}

// Cancel stops the subscription. Deliveries already queued locally still
// reach the handler.
func (c *Consumer) Cancel(ctx context.Context) error {
	_, err := c.ch.call(ctx, &method.BasicCancel{ConsumerTag: c.Tag}, method.KeyBasicCancelOK)
	c.ch.mu.Lock()
	delete(c.ch.consumers, c.Tag)
	c.ch.mu.Unlock()
	return err
}

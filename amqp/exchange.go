package amqp

import (
	"context"

	"github.com/vk/amqpgrid/internal/method"
)

// ExchangeOptions configure DeclareExchange. The zero value declares a
// non-durable, non-internal exchange that survives until deleted.
type ExchangeOptions struct {
	Durable    bool
	AutoDelete bool
	Internal   bool
	Arguments  Table
}

// Exchange is a handle to a declared exchange on one channel.
type Exchange struct {
	Name string
	Kind string

	ch *Channel
}

// Publish sends a message to the exchange with the given routing key.
// Publishing is asynchronous: the broker does not confirm it. Messages are
// sent mandatory, so an unroutable message comes back through the channel's
// return callback rather than disappearing.
func (e *Exchange) Publish(msg *Message, routingKey string) error {
	ch := e.ch
	ch.mu.Lock()
	if ch.termErr != nil {
		err := ch.termErr
		ch.mu.Unlock()
		return err
	}
	ch.mu.Unlock()

	return ch.conn.sendContent(ch.id, &method.BasicPublish{
		Exchange:   e.Name,
		RoutingKey: routingKey,
		Mandatory:  true,
	}, msg.properties(), msg.Body)
}

// Delete removes the exchange. Deleting the default exchange is refused
// locally.
func (e *Exchange) Delete(ctx context.Context, ifUnused bool) error {
	if e.Name == "" {
		return ErrAccessRefused
	}
	_, err := e.ch.call(ctx, &method.ExchangeDelete{
		Exchange: e.Name,
		IfUnused: ifUnused,
	}, method.KeyExchangeDeleteOK)
	return err
}

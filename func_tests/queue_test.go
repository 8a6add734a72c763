//go:build functional

package functests

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/amqpgrid/amqp"
)

func TestQueueGet(t *testing.T) {
	f := setup(t)

	err := f.exchange.Publish(&amqp.Message{Body: []byte("Test message")}, f.queue.Name)
	require.NoError(t, err)

	f.assertMessageArrives(t, []byte("Test message"))

	// The queue is now empty; get resolves to no message.
	msg, err := f.queue.Get(t.Context(), true)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestQueueConsume(t *testing.T) {
	f := setup(t)

	var mu sync.Mutex
	var results []*amqp.IncomingMessage
	consumer, err := f.queue.Consume(t.Context(), func(msg *amqp.IncomingMessage) {
		mu.Lock()
		results = append(results, msg)
		mu.Unlock()
	}, amqp.ConsumeOptions{NoAck: true})
	require.NoError(t, err)

	for range 3 {
		err := f.exchange.Publish(&amqp.Message{Body: []byte("Test message")}, f.queue.Name)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 3
	}, 5*time.Second, 50*time.Millisecond, "not all messages received")

	mu.Lock()
	for _, msg := range results {
		assert.Equal(t, []byte("Test message"), msg.Body)
	}
	mu.Unlock()

	require.NoError(t, consumer.Cancel(t.Context()))
}

func TestQueueAckRedelivery(t *testing.T) {
	f := setup(t)

	err := f.exchange.Publish(&amqp.Message{Body: []byte("redeliver me")}, f.queue.Name)
	require.NoError(t, err)

	var msg *amqp.IncomingMessage
	require.Eventually(t, func() bool {
		var err error
		msg, err = f.queue.Get(t.Context(), false)
		require.NoError(t, err)
		return msg != nil
	}, 5*time.Second, 50*time.Millisecond)

	// Reject with requeue, then the same message comes back flagged as
	// redelivered.
	require.NoError(t, msg.Reject(true))

	var again *amqp.IncomingMessage
	require.Eventually(t, func() bool {
		var err error
		again, err = f.queue.Get(t.Context(), false)
		require.NoError(t, err)
		return again != nil
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, []byte("redeliver me"), again.Body)
	assert.True(t, again.Redelivered)
	require.NoError(t, again.Ack())
}

func TestQueuePurgeAndDelete(t *testing.T) {
	f := setup(t)

	ctx := t.Context()
	q, err := f.channel.DeclareQueue(ctx, "", amqp.QueueOptions{})
	require.NoError(t, err)

	for range 5 {
		require.NoError(t, f.exchange.Publish(&amqp.Message{Body: []byte("bulk")}, q.Name))
	}

	// Give the broker a moment to route everything before purging.
	time.Sleep(200 * time.Millisecond)
	purged, err := q.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, purged)

	n, err := q.Delete(ctx, amqp.DeleteOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)

	// Operations on a deleted queue fail fast without a round trip.
	_, err = q.Get(ctx, true)
	assert.ErrorIs(t, err, amqp.ErrDeleted)
}

func TestQueueBindToNamedExchange(t *testing.T) {
	f := setup(t)
	ctx := t.Context()

	ex, err := f.channel.DeclareExchange(ctx, "amqpgrid.test.topic", "topic", amqp.ExchangeOptions{AutoDelete: true})
	require.NoError(t, err)
	require.NoError(t, f.queue.Bind(ctx, ex, "events.#"))

	require.NoError(t, ex.Publish(&amqp.Message{Body: []byte("routed")}, "events.user.created"))
	f.assertMessageArrives(t, []byte("routed"))

	require.NoError(t, f.queue.Unbind(ctx, ex, "events.#"))
	require.NoError(t, ex.Publish(&amqp.Message{Body: []byte("unrouted")}, "events.user.created"))

	// After unbinding, nothing reaches the queue any more.
	time.Sleep(200 * time.Millisecond)
	msg, err := f.queue.Get(ctx, true)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

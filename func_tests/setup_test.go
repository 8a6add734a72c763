//go:build functional

// Package functests holds end-to-end tests that need a live RabbitMQ broker
// with its management plugin enabled. They run in an isolated virtual host
// that is created before the suite and torn down after it.
//
// Broker location defaults to localhost and can be overridden with
// AMQP_ADDR and AMQP_MGMT_URL.
package functests

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vk/amqpgrid/amqp"
	"github.com/vk/amqpgrid/internal/mgmt"
)

const testVHost = "amqpgrid-tests"

func brokerAddr() string {
	if addr := os.Getenv("AMQP_ADDR"); addr != "" {
		return addr
	}
	return "localhost:5672"
}

func mgmtURL() string {
	if url := os.Getenv("AMQP_MGMT_URL"); url != "" {
		return url
	}
	return "http://localhost:15672"
}

func TestMain(m *testing.M) {
	os.Exit(runSuite(m))
}

func runSuite(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin := mgmt.New(mgmt.Config{URL: mgmtURL()})
	defer admin.Close()

	if err := admin.EnsureVHost(ctx, testVHost); err != nil {
		log.Printf("cannot prepare vhost %q: %v", testVHost, err)
		fmt.Println("functional tests need a reachable RabbitMQ broker with the management plugin")
		return 1
	}
	if err := admin.GrantAll(ctx, testVHost, "guest"); err != nil {
		log.Printf("cannot grant permissions on vhost %q: %v", testVHost, err)
		return 1
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := admin.DeleteVHost(cleanupCtx, testVHost); err != nil {
			log.Printf("cannot delete vhost %q: %v", testVHost, err)
		}
	}()

	return m.Run()
}

// fixture is one connected test environment: a channel on an isolated
// vhost, the default exchange and a fresh server-named queue.
type fixture struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange *amqp.Exchange
	queue    *amqp.Queue
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := t.Context()

	conn, err := amqp.DialConfig(ctx, brokerAddr(), amqp.Config{
		VirtualHost: testVHost,
	})
	require.NoError(t, err, "connecting to the broker")

	channel, err := conn.Channel(ctx)
	require.NoError(t, err)

	exchange, err := channel.DeclareExchange(ctx, "", "direct", amqp.ExchangeOptions{})
	require.NoError(t, err)

	queue, err := channel.DeclareQueue(ctx, "", amqp.QueueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, queue.Name, "broker should have named the queue")

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := queue.Delete(ctx, amqp.DeleteOptions{}); err != nil {
			t.Logf("deleting queue %s: %v", queue.Name, err)
		}
		if err := conn.Close(ctx); err != nil {
			t.Logf("closing connection: %v", err)
		}
	})

	return &fixture{conn: conn, channel: channel, exchange: exchange, queue: queue}
}

// assertMessageArrives polls the queue until the expected body turns up.
// Publishing is asynchronous, so the message may lag the publish call.
func (f *fixture) assertMessageArrives(t *testing.T, expected []byte) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		msg, err := f.queue.Get(t.Context(), true)
		require.NoError(t, err)
		if msg != nil {
			require.Equal(t, expected, msg.Body)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("message never arrived")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

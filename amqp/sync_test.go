package amqp

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/amqpgrid/internal/method"
)

func newTestSynchroniser() *synchroniser {
	return newSynchroniser(slog.Default())
}

func TestSynchroniser_NotifyResolvesWait(t *testing.T) {
	t.Parallel()

	s := newTestSynchroniser()
	done := make(chan any, 1)
	go func() {
		v, err := s.wait(context.Background(), method.KeyConnectionOpenOK)
		require.NoError(t, err)
		done <- v
	}()

	// The waiter registers asynchronously; poll until the notify lands.
	require.Eventually(t, func() bool {
		return s.notify(method.KeyConnectionOpenOK, "result")
	}, time.Second, time.Millisecond)

	assert.Equal(t, "result", <-done)
}

func TestSynchroniser_ReplyBeforeAwaitIsKept(t *testing.T) {
	t.Parallel()

	// The read loop can deliver a reply before the requesting goroutine gets
	// to block on it, so a notify landing between register and await must be
	// buffered for the waiter rather than dropped.
	s := newTestSynchroniser()
	p, err := s.register(method.KeyConnectionTune)
	require.NoError(t, err)
	require.True(t, s.notify(method.KeyConnectionTune, "tune"))

	v, err := s.await(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "tune", v)
}

func TestSynchroniser_ForgetUnregisters(t *testing.T) {
	t.Parallel()

	s := newTestSynchroniser()
	p, err := s.register(method.KeyBasicQosOK)
	require.NoError(t, err)
	s.forget(p)

	// A forgotten waiter (its request never made it to the wire) must not
	// absorb the reply to a later request.
	assert.False(t, s.notify(method.KeyBasicQosOK, nil))
}

func TestSynchroniser_WaitersResolveFIFO(t *testing.T) {
	t.Parallel()

	s := newTestSynchroniser()
	first := make(chan any, 1)
	second := make(chan any, 1)

	go func() {
		v, _ := s.wait(context.Background(), method.KeyBasicConsumeOK)
		first <- v
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.waiters[method.KeyBasicConsumeOK]) == 1
	}, time.Second, time.Millisecond)

	go func() {
		v, _ := s.wait(context.Background(), method.KeyBasicConsumeOK)
		second <- v
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.waiters[method.KeyBasicConsumeOK]) == 2
	}, time.Second, time.Millisecond)

	require.True(t, s.notify(method.KeyBasicConsumeOK, 1))
	require.True(t, s.notify(method.KeyBasicConsumeOK, 2))

	assert.Equal(t, 1, <-first)
	assert.Equal(t, 2, <-second)
}

func TestSynchroniser_MultiMethodWait(t *testing.T) {
	t.Parallel()

	s := newTestSynchroniser()
	got := make(chan any, 1)
	go func() {
		v, err := s.wait(context.Background(), method.KeyBasicGetOK, method.KeyBasicGetEmpty)
		require.NoError(t, err)
		got <- v
	}()

	require.Eventually(t, func() bool {
		return s.notify(method.KeyBasicGetEmpty, nil)
	}, time.Second, time.Millisecond)
	assert.Nil(t, <-got)

	// The untaken alternative must not linger and absorb a later reply.
	s.mu.Lock()
	assert.Empty(t, s.waiters[method.KeyBasicGetOK])
	s.mu.Unlock()
}

func TestSynchroniser_UnexpectedNotify(t *testing.T) {
	t.Parallel()

	s := newTestSynchroniser()
	assert.False(t, s.notify(method.KeyBasicGetOK, nil))
}

func TestSynchroniser_KillFailsPendingAndFutureWaits(t *testing.T) {
	t.Parallel()

	s := newTestSynchroniser()
	boom := errors.New("boom")

	pendingErr := make(chan error, 1)
	go func() {
		_, err := s.wait(context.Background(), method.KeyConnectionCloseOK)
		pendingErr <- err
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.waiters[method.KeyConnectionCloseOK]) == 1
	}, time.Second, time.Millisecond)

	s.kill(boom)
	assert.ErrorIs(t, <-pendingErr, boom)

	_, err := s.wait(context.Background(), method.KeyConnectionCloseOK)
	assert.ErrorIs(t, err, boom)
}

func TestSynchroniser_CancelledWaitStillConsumesItsReply(t *testing.T) {
	t.Parallel()

	s := newTestSynchroniser()

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := s.wait(ctx, method.KeyQueueDeclareOK)
		cancelled <- err
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.waiters[method.KeyQueueDeclareOK]) == 1
	}, time.Second, time.Millisecond)

	second := make(chan any, 1)
	go func() {
		v, _ := s.wait(context.Background(), method.KeyQueueDeclareOK)
		second <- v
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.waiters[method.KeyQueueDeclareOK]) == 2
	}, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-cancelled, context.Canceled)

	// The first reply belongs to the cancelled waiter and is swallowed so
	// the second reply still reaches the second waiter.
	require.True(t, s.notify(method.KeyQueueDeclareOK, "first"))
	require.True(t, s.notify(method.KeyQueueDeclareOK, "second"))
	assert.Equal(t, "second", <-second)
}

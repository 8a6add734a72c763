package amqp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vk/amqpgrid/internal/method"
)

// pending is one in-flight RPC wait. A wait may accept any of several reply
// methods (basic.get-ok or basic.get-empty, for example) and is registered
// under each of them.
type pending struct {
	keys []method.Key
	ch   chan any

	// guarded by the owning synchroniser's mutex
	done      bool
	cancelled bool
}

// synchroniser matches broker replies to the callers waiting for them.
// The protocol guarantees replies arrive in the order the requests were
// written, so waiters queue FIFO per expected method. Once killed, every
// pending and future wait fails with the terminal error.
type synchroniser struct {
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[method.Key][]*pending
	fatal   error
}

func newSynchroniser(logger *slog.Logger) *synchroniser {
	return &synchroniser{
		logger:  logger,
		waiters: make(map[method.Key][]*pending),
	}
}

// register enrols a waiter for a reply matching one of the expected
// methods. It must happen BEFORE the request is written: the read loop may
// deliver the reply before the requesting goroutine runs again, and a reply
// with no registered waiter is dropped.
func (s *synchroniser) register(keys ...method.Key) (*pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal != nil {
		return nil, s.fatal
	}
	p := &pending{keys: keys, ch: make(chan any, 1)}
	for _, k := range keys {
		s.waiters[k] = append(s.waiters[k], p)
	}
	return p, nil
}

// forget withdraws a waiter whose request was never written, so it cannot
// absorb a later request's reply.
func (s *synchroniser) forget(p *pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range p.keys {
		q := s.waiters[k]
		for i, cand := range q {
			if cand == p {
				s.waiters[k] = append(q[:i:i], q[i+1:]...)
				break
			}
		}
	}
}

// await blocks until the registered waiter resolves, the synchroniser is
// killed, or the context ends. A wait abandoned through its context stays
// registered so that the reply which would have resolved it is still
// consumed in order; later replies keep matching their own waiters.
func (s *synchroniser) await(ctx context.Context, p *pending) (any, error) {
	select {
	case v := <-p.ch:
		if err, ok := v.(error); ok {
			return nil, err
		}
		return v, nil
	case <-ctx.Done():
		s.mu.Lock()
		p.cancelled = true
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// wait is register and await in one step. RPC callers use the two halves
// separately so the waiter is in place before the request hits the wire.
func (s *synchroniser) wait(ctx context.Context, keys ...method.Key) (any, error) {
	p, err := s.register(keys...)
	if err != nil {
		return nil, err
	}
	return s.await(ctx, p)
}

// notify resolves the oldest waiter registered for key. It reports false
// when no waiter expected the method.
func (s *synchroniser) notify(key method.Key, result any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.waiters[key]
	if len(q) == 0 {
		s.logger.Error("unexpected method notification", "method", key.String())
		return false
	}
	p := q[0]
	s.waiters[key] = q[1:]

	// A multi-method waiter sits at the front of every queue it registered
	// in; drop its other entries so they cannot absorb later replies.
	for _, k := range p.keys {
		if k == key {
			continue
		}
		if rest := s.waiters[k]; len(rest) > 0 && rest[0] == p {
			s.waiters[k] = rest[1:]
		}
	}

	if !p.done && !p.cancelled {
		p.done = true
		p.ch <- result
	}
	return true
}

// kill fails every pending wait and all subsequent ones with err.
func (s *synchroniser) kill(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fatal != nil {
		return
	}
	s.fatal = err
	for _, q := range s.waiters {
		for _, p := range q {
			if p.done || p.cancelled {
				continue
			}
			p.done = true
			p.ch <- err
		}
	}
	s.waiters = make(map[method.Key][]*pending)
}

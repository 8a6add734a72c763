package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vk/amqpgrid/amqp"
	"github.com/vk/amqpgrid/internal/ctxlog"
	"github.com/vk/amqpgrid/internal/mgmt"
	"github.com/vk/amqpgrid/internal/scenario"
)

// Run executes the loaded scenario: dial, declare topology, then drive all
// publish and consume steps concurrently until their counts are met.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	broker := a.sc.Broker
	conn, err := amqp.DialConfig(ctx, broker.Addr, amqp.Config{
		Username:    broker.Username,
		Password:    broker.Password,
		VirtualHost: broker.VirtualHost,
		Heartbeat:   time.Duration(broker.Heartbeat) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", broker.Addr, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conn.Close(closeCtx); err != nil {
			a.logger.Warn("connection did not close cleanly", "error", err)
		}
	}()

	if err := a.declareTopology(ctx, conn); err != nil {
		return err
	}

	a.logger.Info("🚀 starting run",
		"publish_steps", len(a.sc.Publishes),
		"consume_steps", len(a.sc.Consumes),
		"workers", a.cfg.WorkerCount)
	start := time.Now()

	report := &Report{
		Published: make(map[string]int64, len(a.sc.Publishes)),
		Consumed:  make(map[string]int64, len(a.sc.Consumes)),
	}
	var reportMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	// Consumers first, so a fast publish step cannot finish into a queue
	// nobody is draining yet.
	for _, step := range a.sc.Consumes {
		g.Go(func() error {
			n, err := a.runConsume(gctx, conn, step)
			reportMu.Lock()
			report.Consumed[step.Name] = n
			reportMu.Unlock()
			if err != nil {
				return fmt.Errorf("consume step %q: %w", step.Name, err)
			}
			return nil
		})
	}

	for _, step := range a.sc.Publishes {
		g.Go(func() error {
			n, err := a.runPublish(gctx, conn, step)
			reportMu.Lock()
			report.Published[step.Name] = n
			reportMu.Unlock()
			if err != nil {
				return fmt.Errorf("publish step %q: %w", step.Name, err)
			}
			return nil
		})
	}

	runErr := g.Wait()
	report.Elapsed = time.Since(start)
	report.write(a.outW)
	if runErr != nil {
		return runErr
	}
	a.logger.Info("🏁 run finished", "elapsed", report.Elapsed)

	if a.cfg.Check {
		return a.check(ctx)
	}
	return nil
}

// declareTopology declares every exchange and queue in the scenario on one
// short-lived setup channel.
func (a *App) declareTopology(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel(ctx)
	if err != nil {
		return fmt.Errorf("opening setup channel: %w", err)
	}
	defer func() {
		if err := ch.Close(ctx); err != nil {
			a.logger.Warn("setup channel did not close cleanly", "error", err)
		}
	}()

	exchanges := map[string]*amqp.Exchange{}
	for _, ex := range a.sc.Exchanges {
		declared, err := ch.DeclareExchange(ctx, ex.Name, ex.Kind, amqp.ExchangeOptions{
			Durable:    ex.Durable,
			AutoDelete: ex.AutoDelete,
		})
		if err != nil {
			return fmt.Errorf("declaring exchange %q: %w", ex.Name, err)
		}
		exchanges[ex.Name] = declared
	}

	for _, q := range a.sc.Queues {
		declared, err := ch.DeclareQueue(ctx, q.Name, amqp.QueueOptions{
			Durable:    q.Durable,
			Exclusive:  q.Exclusive,
			AutoDelete: q.AutoDelete,
		})
		if err != nil {
			return fmt.Errorf("declaring queue %q: %w", q.Name, err)
		}
		for _, b := range q.Bindings {
			if err := declared.Bind(ctx, exchanges[b.Exchange], b.RoutingKey); err != nil {
				return fmt.Errorf("binding queue %q to %q: %w", q.Name, b.Exchange, err)
			}
		}
	}

	a.logger.Debug("topology declared",
		"exchanges", len(a.sc.Exchanges), "queues", len(a.sc.Queues))
	return nil
}

// runPublish fans the step's count out over the configured worker pool,
// each worker publishing on its own channel, all sharing one rate limiter.
func (a *App) runPublish(ctx context.Context, conn *amqp.Connection, step *scenario.PublishStep) (int64, error) {
	body := []byte(step.Body)
	if len(body) == 0 {
		body = bytes.Repeat([]byte("x"), step.PayloadSize)
	}
	msg := &amqp.Message{
		Body:        body,
		ContentType: step.ContentType,
	}
	if step.Persistent {
		msg.DeliveryMode = amqp.Persistent
	}

	var limiter *rate.Limiter
	if step.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(step.Rate), 1)
	}

	var next, published atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for range a.cfg.WorkerCount {
		g.Go(func() error {
			ch, err := conn.Channel(gctx)
			if err != nil {
				return err
			}
			defer ch.Close(context.WithoutCancel(gctx))

			kind, opts := a.exchangeSpec(step.Exchange)
			ex, err := ch.DeclareExchange(gctx, step.Exchange, kind, opts)
			if err != nil {
				return err
			}

			for {
				if next.Add(1) > int64(step.Count) {
					return nil
				}
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return err
					}
				}
				if err := ex.Publish(msg, step.RoutingKey); err != nil {
					return err
				}
				published.Add(1)
			}
		})
	}
	err := g.Wait()
	a.logger.Info("publish step done", "step", step.Name, "published", published.Load())
	return published.Load(), err
}

// exchangeSpec looks the step's exchange up in the scenario so worker
// channels re-declare it with the same options.
func (a *App) exchangeSpec(name string) (string, amqp.ExchangeOptions) {
	for _, ex := range a.sc.Exchanges {
		if ex.Name == name {
			return ex.Kind, amqp.ExchangeOptions{Durable: ex.Durable, AutoDelete: ex.AutoDelete}
		}
	}
	return "direct", amqp.ExchangeOptions{}
}

// runConsume consumes and acknowledges messages until the step's count is
// reached or the context ends.
func (a *App) runConsume(ctx context.Context, conn *amqp.Connection, step *scenario.ConsumeStep) (int64, error) {
	ch, err := conn.Channel(ctx)
	if err != nil {
		return 0, err
	}
	defer ch.Close(context.WithoutCancel(ctx))

	if step.Prefetch > 0 {
		if err := ch.Qos(ctx, uint16(step.Prefetch), false); err != nil {
			return 0, err
		}
	}

	q, err := ch.DeclareQueue(ctx, step.Queue, a.queueSpec(step.Queue))
	if err != nil {
		return 0, err
	}

	var consumed atomic.Int64
	done := make(chan struct{})
	cons, err := q.Consume(ctx, func(msg *amqp.IncomingMessage) {
		if err := msg.Ack(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			a.logger.Warn("ack failed", "step", step.Name, "error", err)
		}
		if consumed.Add(1) == int64(step.Count) {
			close(done)
		}
	}, amqp.ConsumeOptions{NoAck: step.NoAck})
	if err != nil {
		return 0, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return consumed.Load(), ctx.Err()
	case <-conn.Done():
		return consumed.Load(), conn.Err()
	}

	if err := cons.Cancel(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, amqp.ErrClosed) {
		a.logger.Warn("consumer cancel failed", "step", step.Name, "error", err)
	}
	a.logger.Info("consume step done", "step", step.Name, "consumed", consumed.Load())
	return consumed.Load(), nil
}

// queueSpec mirrors the declared options for a queue so consumer channels
// can re-declare it safely.
func (a *App) queueSpec(name string) amqp.QueueOptions {
	for _, q := range a.sc.Queues {
		if q.Name == name {
			return amqp.QueueOptions{Durable: q.Durable, Exclusive: q.Exclusive, AutoDelete: q.AutoDelete}
		}
	}
	return amqp.QueueOptions{}
}

// check inspects every scenario queue through the management API and fails
// when any still holds messages.
func (a *App) check(ctx context.Context) error {
	broker := a.sc.Broker
	if broker.Management == "" {
		return errors.New("--check requires a management URL in the broker block")
	}

	client := mgmt.New(mgmt.Config{
		URL:      broker.Management,
		Username: broker.Username,
		Password: broker.Password,
	})
	defer client.Close()

	vhost := broker.VirtualHost
	if vhost == "" {
		vhost = "/"
	}

	var leftover int
	for _, q := range a.sc.Queues {
		info, err := client.Queue(ctx, vhost, q.Name)
		if err != nil {
			return fmt.Errorf("checking queue %q: %w", q.Name, err)
		}
		a.logger.Info("queue state", "queue", q.Name,
			"messages", info.Messages, "consumers", info.Consumers)
		fmt.Fprintf(a.outW, "  queue %-20s messages=%d consumers=%d\n",
			q.Name, info.Messages, info.Consumers)
		leftover += info.Messages
	}
	if leftover > 0 {
		return fmt.Errorf("check failed: %d messages left across scenario queues", leftover)
	}
	return nil
}

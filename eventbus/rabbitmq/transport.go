// Package rabbitmq is an eventbus.Transport backed by a RabbitMQ topic
// exchange. Events are published as persistent messages routed by their
// type and consumed with manual acknowledgement.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xraph/pointledger/event"
	"github.com/xraph/pointledger/eventbus"
)

var _ eventbus.Transport = (*Transport)(nil)

// Config describes the broker topology.
type Config struct {
	URL      string
	Exchange string
	Queue    string
	// MaxRedeliveries is how many times a failed delivery is requeued
	// before it is dropped and dead-lettered.
	MaxRedeliveries int
	Prefetch        int
	DialTimeout     time.Duration
	// RoutingKeys overrides the bindings. By default the queue is bound to
	// every event type the router handles.
	RoutingKeys []string
}

func (c *Config) defaults() {
	if c.Exchange == "" {
		c.Exchange = "pointledger.events"
	}
	if c.Queue == "" {
		c.Queue = "pointledger.handlers"
	}
	if c.MaxRedeliveries <= 0 {
		c.MaxRedeliveries = 5
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 16
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

type Transport struct {
	cfg    Config
	logger *slog.Logger
	router *eventbus.Router

	mu      sync.Mutex
	conn    *amqp.Connection
	pubCh   *amqp.Channel
	subCh   *amqp.Channel
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
	retries map[string]int
}

// New dials the broker and declares the exchange. router supplies the
// routing keys to bind when Start runs.
func New(ctx context.Context, cfg Config, router *eventbus.Router, logger *slog.Logger) (*Transport, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	clean, err := sanitizeURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	var conn *amqp.Connection
	dial := func() error {
		c, dialErr := amqp.DialConfig(clean, amqp.Config{Dial: amqp.DefaultDial(cfg.DialTimeout)})
		if dialErr != nil {
			logger.Warn("rabbitmq dial failed", "error", dialErr)
			return dialErr
		}
		conn = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(dial, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: declare exchange %s: %w", cfg.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: enable confirms: %w", err)
	}

	return &Transport{
		cfg:     cfg,
		logger:  logger,
		router:  router,
		conn:    conn,
		pubCh:   ch,
		done:    make(chan struct{}),
		retries: make(map[string]int),
	}, nil
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("rabbitmq: parse url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", fmt.Errorf("rabbitmq: invalid AMQP scheme %q", u.Scheme)
	}
	return clean, nil
}

// Publish sends e and waits for the broker to confirm it.
func (t *Transport) Publish(ctx context.Context, e *event.Event) error {
	body, err := e.Marshal()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return eventbus.ErrBusClosed
	}

	conf, err := t.pubCh.PublishWithDeferredConfirmWithContext(ctx,
		t.cfg.Exchange,
		string(e.Type),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID.String(),
			Timestamp:    e.OccurredAt,
			Type:         string(e.Type),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", e.ID, err)
	}

	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq: confirm %s: %w", e.ID, err)
	}
	if !ok {
		return fmt.Errorf("rabbitmq: broker nacked %s", e.ID)
	}
	return nil
}

// Start declares and binds the queue, then consumes until Close.
func (t *Transport) Start(ctx context.Context, sink eventbus.Sink) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return eventbus.ErrBusClosed
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: open consumer channel: %w", err)
	}
	if err := ch.Qos(t.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq: qos: %w", err)
	}

	q, err := ch.QueueDeclare(t.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: declare queue %s: %w", t.cfg.Queue, err)
	}

	keys := t.cfg.RoutingKeys
	if len(keys) == 0 && t.router != nil {
		for _, typ := range t.router.Types() {
			keys = append(keys, string(typ))
		}
	}
	if len(keys) == 0 {
		return errors.New("rabbitmq: no routing keys to bind")
	}
	for _, key := range keys {
		if err := ch.QueueBind(q.Name, key, t.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("rabbitmq: bind %s: %w", key, err)
		}
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume %s: %w", q.Name, err)
	}
	t.subCh = ch

	consumeCtx := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go t.consume(consumeCtx, msgs, sink)

	t.logger.Info("rabbitmq consumer started",
		"exchange", t.cfg.Exchange,
		"queue", q.Name,
		"routing_keys", keys,
	)
	return nil
}

func (t *Transport) consume(ctx context.Context, msgs <-chan amqp.Delivery, sink eventbus.Sink) {
	defer t.wg.Done()

	for {
		select {
		case <-t.done:
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			t.handle(ctx, d, sink)
		}
	}
}

func (t *Transport) handle(ctx context.Context, d amqp.Delivery, sink eventbus.Sink) {
	e, err := event.Unmarshal(d.Body)
	if err != nil {
		t.logger.Warn("dropping undecodable message",
			"routing_key", d.RoutingKey,
			"message_id", d.MessageId,
			"error", err,
		)
		_ = d.Ack(false)
		return
	}

	if t.router != nil && !t.router.Handles(e.Type) {
		_ = d.Ack(false)
		return
	}

	if err := sink.Dispatch(ctx, e); err == nil {
		t.forget(d.MessageId)
		_ = d.Ack(false)
		return
	} else if attempts := t.attempt(d); attempts < t.cfg.MaxRedeliveries {
		t.logger.Warn("requeueing failed delivery",
			"event_id", e.ID.String(),
			"attempt", attempts,
			"error", err,
		)
		_ = d.Nack(false, true)
	} else {
		t.forget(d.MessageId)
		sink.DeadLetter(ctx, e, err)
		_ = d.Nack(false, false)
	}
}

// attempt returns how many times d has now failed. Quorum queues report
// it in x-delivery-count; classic queues fall back to a local counter.
func (t *Transport) attempt(d amqp.Delivery) int {
	if v, ok := d.Headers["x-delivery-count"]; ok {
		switch n := v.(type) {
		case int64:
			return int(n) + 1
		case int32:
			return int(n) + 1
		case int:
			return n + 1
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.retries[d.MessageId]++
	return t.retries[d.MessageId]
}

func (t *Transport) forget(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.retries, messageID)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	t.wg.Wait()

	var errs []error
	if t.subCh != nil {
		errs = append(errs, t.subCh.Close())
	}
	if t.pubCh != nil {
		errs = append(errs, t.pubCh.Close())
	}
	if t.conn != nil {
		errs = append(errs, t.conn.Close())
	}
	return errors.Join(errs...)
}

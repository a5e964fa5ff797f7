// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/metrics"
)

// AMQPConfig locates the broker and exchange.
type AMQPConfig struct {
	URL      string
	Exchange string
	// RoutingPrefix is prepended to the event type, e.g. "subclip." gives
	// "subclip.job.succeeded".
	RoutingPrefix string
}

// AMQPPublisher publishes events as persistent JSON messages to a topic
// exchange. The channel is reopened once per publish when the broker
// closed it.
type AMQPPublisher struct {
	cfg    AMQPConfig
	logger zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "subclip.events"
	}
	p := &AMQPPublisher{cfg: cfg, logger: log.WithComponent("events")}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open publisher channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

// RoutingKey returns the key an event is published under.
func (p *AMQPPublisher) RoutingKey(e Event) string {
	return routingKey(p.cfg.RoutingPrefix, e)
}

func routingKey(prefix string, e Event) string {
	return prefix + string(e.Type)
}

func encode(e Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    e.JobID + ":" + string(e.Type),
		Timestamp:    e.At.UTC(),
		Type:         string(e.Type),
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := encode(e)
	if err != nil {
		return err
	}
	key := p.RoutingKey(e)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return errors.New("amqp publisher closed")
	}
	err = p.ch.PublishWithContext(ctx, p.cfg.Exchange, key, false, false, msg)
	if errors.Is(err, amqp.ErrClosed) {
		p.logger.Warn().Str(log.FieldEvent, "events.reconnect").Msg("amqp channel closed, reconnecting")
		_ = p.conn.Close()
		if err = p.connect(); err == nil {
			err = p.ch.PublishWithContext(ctx, p.cfg.Exchange, key, false, false, msg)
		}
	}
	if err != nil {
		metrics.RecordEventPublish("amqp", string(e.Type), "error")
		return fmt.Errorf("publish %s: %w", key, err)
	}
	metrics.RecordEventPublish("amqp", string(e.Type), "ok")
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}

// publishTimeout bounds a publish issued without a caller deadline.
const publishTimeout = 5 * time.Second

// Async decouples job completion from broker latency: events are queued and
// published by one goroutine. A full queue drops the event.
type Async struct {
	inner  Publisher
	queue  chan Event
	done   chan struct{}
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the publishing goroutine.
func NewAsync(inner Publisher, size int) *Async {
	if size <= 0 {
		size = 256
	}
	a := &Async{
		inner:  inner,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
		logger: log.WithComponent("events"),
	}
	go a.loop()
	return a
}

func (a *Async) loop() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := a.inner.Publish(ctx, e); err != nil {
			a.logger.Warn().Err(err).
				Str(log.FieldEvent, "events.publish_failed").
				Str(log.FieldJobID, e.JobID).
				Msg("event publish failed")
		}
		cancel()
	}
}

// Publish enqueues e without waiting for the broker.
func (a *Async) Publish(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errors.New("event queue closed")
	}
	select {
	case a.queue <- e:
		return nil
	default:
		metrics.IncEventDropped("async", "queue_full")
		return errors.New("event queue full")
	}
}

// Close drains the queue, then closes the inner publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
	return a.inner.Close()
}

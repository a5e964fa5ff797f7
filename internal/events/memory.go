// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/metrics"
)

const (
	subscriberBuffer = 64
	dropLogEvery     = 100
)

// MemoryBus delivers events to in-process subscribers. It is not durable;
// a subscriber that falls behind loses events once the publish context is
// done.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	drops  atomic.Uint64
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[*Subscription]struct{})}
}

// Subscription receives events until Close.
type Subscription struct {
	bus  *MemoryBus
	ch   chan Event
	once sync.Once
}

// C is closed when the subscription or the bus is closed.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		delete(s.bus.subs, s)
		close(s.ch)
	})
}

// Subscribe registers a new subscriber.
func (b *MemoryBus) Subscribe() (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("event bus closed")
	}
	s := &Subscription{bus: b, ch: make(chan Event, subscriberBuffer)}
	b.subs[s] = struct{}{}
	return s, nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

func (b *MemoryBus) Publish(ctx context.Context, e Event) error {
	// the read lock keeps Close from closing a channel mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("event bus closed")
	}
	for s := range b.subs {
		select {
		case s.ch <- e:
		case <-ctx.Done():
			reason := dropReason(ctx.Err())
			metrics.IncEventDropped("memory", reason)
			metrics.RecordEventPublish("memory", string(e.Type), "dropped")
			if n := b.drops.Add(1); n%dropLogEvery == 1 {
				log.L().Warn().
					Str(log.FieldEvent, "events.dropped").
					Str("type", string(e.Type)).
					Str("reason", reason).
					Uint64("dropped", n).
					Msg("event bus subscriber fell behind")
			}
			return fmt.Errorf("publish %s: %w", e.Type, ctx.Err())
		}
	}
	metrics.RecordEventPublish("memory", string(e.Type), "ok")
	return nil
}

// Close closes every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		s.closeLocked()
	}
	return nil
}

var _ Publisher = (*MemoryBus)(nil)

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultDeliveryTimeout bounds how long Publish waits on one subscriber
const DefaultDeliveryTimeout = 5 * time.Second

// Publisher is the write side of the bus
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscription receives events until it is cancelled or the bus closes.
// The event channel is never closed; watch Done instead.
type Subscription struct {
	eventType string // empty means all events
	ch        chan Event
	done      chan struct{}
	once      sync.Once
}

// Events returns the delivery channel
func (s *Subscription) Events() <-chan Event { return s.ch }

// Done is closed once the subscription stops receiving
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) cancel() {
	s.once.Do(func() { close(s.done) })
}

// Bus is the central event bus for pub/sub. Publish blocks until every
// live subscriber has taken the event, so a subscriber sees each
// publisher's events in order and none are dropped. A subscriber that
// does not take an event within the delivery timeout is evicted.
type Bus struct {
	mu              sync.RWMutex
	subs            map[*Subscription]struct{}
	deliveryTimeout time.Duration
	logger          *slog.Logger
	closed          bool
}

// BusOption configures a Bus
type BusOption func(*Bus)

// WithDeliveryTimeout sets how long a publisher waits on a single
// subscriber before evicting it
func WithDeliveryTimeout(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.deliveryTimeout = d
		}
	}
}

// NewBus creates a new event bus.
func NewBus(logger *slog.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subs:            make(map[*Subscription]struct{}),
		deliveryTimeout: DefaultDeliveryTimeout,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends an event to all matching subscribers.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	targets := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		if s.eventType == "" || s.eventType == e.EventType() {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if err := b.deliver(ctx, s, e); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, s *Subscription, e Event) error {
	select {
	case s.ch <- e:
		return nil
	default:
	}

	timer := time.NewTimer(b.deliveryTimeout)
	defer timer.Stop()

	select {
	case s.ch <- e:
	case <-s.done:
		// subscriber went away mid-delivery
	case <-timer.C:
		b.logger.Warn("evicting stalled subscriber", "type", e.EventType(), "download_id", e.EntityID(), "timeout", b.deliveryTimeout)
		b.Unsubscribe(s)
	case <-ctx.Done():
		b.logger.Warn("event delivery abandoned", "type", e.EventType(), "download_id", e.EntityID())
		return ctx.Err()
	}
	return nil
}

// Subscribe returns a subscription for events of a specific type.
func (b *Bus) Subscribe(eventType string, bufferSize int) *Subscription {
	return b.subscribe(eventType, bufferSize)
}

// SubscribeAll returns a subscription for all events.
func (b *Bus) SubscribeAll(bufferSize int) *Subscription {
	return b.subscribe("", bufferSize)
}

func (b *Bus) subscribe(eventType string, bufferSize int) *Subscription {
	s := &Subscription{
		eventType: eventType,
		ch:        make(chan Event, bufferSize),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.cancel()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes a subscription. Publishers blocked on it are released.
func (b *Bus) Unsubscribe(s *Subscription) {
	s.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Subscribers returns the number of live subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts down the bus and ends all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for s := range b.subs {
		s.cancel()
	}
	b.subs = nil

	return nil
}

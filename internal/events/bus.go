// Package events provides the in-process publish/subscribe bus that fans
// progress and lifecycle events out to live observers.
package events

import (
	"sync"
	"time"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/models"
)

const (
	// DefaultBufferSize bounds each subscriber's unread backlog.
	DefaultBufferSize = 256
	// DefaultHeartbeatInterval spaces liveness events for idle connections.
	DefaultHeartbeatInterval = 30 * time.Second

	// CloseReasonOverflow is reported when a slow subscriber is dropped.
	CloseReasonOverflow = "overflow"
	// CloseReasonShutdown is reported when the bus stops.
	CloseReasonShutdown = "shutdown"
)

// Bus routes published events to topic subscribers. Publishers never block:
// a subscriber whose buffer is full is disconnected with an overflow reason.
// Within one topic, delivery order matches publication order.
type Bus struct {
	mu         sync.Mutex
	subs       map[*Subscriber]struct{}
	bufferSize int
	heartbeat  time.Duration
	done       chan struct{}
	wg         sync.WaitGroup
	logger     *common.Logger
}

// Subscriber is one bounded-buffer consumer of bus events.
type Subscriber struct {
	bus         *Bus
	topics      map[string]bool
	ch          chan models.Event
	closed      bool
	closeReason string
}

// Option configures the bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber buffer capacity.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithHeartbeatInterval sets the heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// NewBus creates an event bus.
func NewBus(logger *common.Logger, opts ...Option) *Bus {
	b := &Bus{
		subs:       make(map[*Subscriber]struct{}),
		bufferSize: DefaultBufferSize,
		heartbeat:  DefaultHeartbeatInterval,
		done:       make(chan struct{}),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the heartbeat loop.
func (b *Bus) Start() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-b.done:
				return
			case <-ticker.C:
				b.Publish(models.Event{
					Type:      models.EventHeartbeat,
					Timestamp: time.Now().UTC(),
				})
			}
		}
	}()
}

// Stop disconnects all subscribers and stops the heartbeat loop.
func (b *Bus) Stop() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
	b.mu.Lock()
	for sub := range b.subs {
		b.disconnectLocked(sub, CloseReasonShutdown)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Subscribe registers a subscriber for the given topics. An empty topic list
// subscribes to the global topic.
func (b *Bus) Subscribe(topics ...string) *Subscriber {
	if len(topics) == 0 {
		topics = []string{models.TopicGlobal}
	}
	sub := &Subscriber{
		bus:    b,
		topics: make(map[string]bool, len(topics)),
		ch:     make(chan models.Event, b.bufferSize),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug().Int("subscribers", count).Msg("Event bus subscriber attached")
	return sub
}

// Publish routes an event to every subscriber of every topic it matches:
// the global topic always, the collection topic when Collection is set, and
// the job topic when JobID is set. Heartbeats reach every subscriber.
func (b *Bus) Publish(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	topics := []string{models.TopicGlobal}
	if event.Collection != "" {
		topics = append(topics, models.TopicCollection(event.Collection))
	}
	if event.JobID != "" {
		topics = append(topics, models.TopicJob(event.JobID))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var overflowed []*Subscriber
	for sub := range b.subs {
		if !sub.matches(topics, event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	for _, sub := range overflowed {
		b.disconnectLocked(sub, CloseReasonOverflow)
	}
}

// Send delivers an event to a single subscriber only (command replies).
func (b *Bus) Send(sub *Subscriber, event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.ch <- event:
	default:
		b.disconnectLocked(sub, CloseReasonOverflow)
	}
}

// AddTopic subscribes sub to an additional topic.
func (b *Bus) AddTopic(sub *Subscriber, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !sub.closed {
		sub.topics[topic] = true
	}
}

// RemoveTopic unsubscribes sub from a topic.
func (b *Bus) RemoveTopic(sub *Subscriber, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(sub.topics, topic)
}

// Unsubscribe detaches and closes a subscriber.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnectLocked(sub, "")
}

// SubscriberCount returns the number of attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) disconnectLocked(sub *Subscriber, reason string) {
	if sub.closed {
		return
	}
	sub.closed = true
	sub.closeReason = reason
	delete(b.subs, sub)
	close(sub.ch)
	if reason == CloseReasonOverflow {
		b.logger.Warn().Msg("Disconnected slow event bus subscriber")
	}
}

// matches reports whether the subscriber should receive an event published
// on any of the given topics. Heartbeats match unconditionally.
func (s *Subscriber) matches(topics []string, eventType string) bool {
	if eventType == models.EventHeartbeat {
		return true
	}
	for _, t := range topics {
		if s.topics[t] {
			return true
		}
	}
	return false
}

// Events returns the subscriber's receive channel. The channel is closed
// when the subscriber is disconnected.
func (s *Subscriber) Events() <-chan models.Event {
	return s.ch
}

// CloseReason returns why the subscriber was disconnected, if it was.
func (s *Subscriber) CloseReason() string {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.closeReason
}

// Package events fans pipeline events out to log, MQTT and the event store.
package events

import (
	"sync"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// Handler consumes events on its own goroutine
type Handler func(event domain.Event)

type subscriber struct {
	name    string
	queue   chan domain.Event
	handler Handler
	dropped uint64
}

// Bus delivers every published event to all subscribers. Publish never
// blocks: an event is dropped for a subscriber whose queue is full.
type Bus struct {
	logger    application.Logger
	queueSize int

	mu          sync.RWMutex
	subscribers []*subscriber
	published   uint64
	closed      bool
	wg          sync.WaitGroup
}

// NewBus creates a bus with per-subscriber queues of queueSize events
func NewBus(queueSize int, logger application.Logger) *Bus {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Bus{
		logger:    logger,
		queueSize: queueSize,
	}
}

// Subscribe registers a handler under name
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	sub := &subscriber{
		name:    name,
		queue:   make(chan domain.Event, b.queueSize),
		handler: handler,
	}
	b.subscribers = append(b.subscribers, sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range sub.queue {
			b.deliver(sub, event)
		}
	}()

	b.logger.Debug("Event subscriber registered", "subscriber", name, "total", len(b.subscribers))
}

func (b *Bus) deliver(sub *subscriber, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked", "subscriber", sub.name, "kind", event.Kind, "panic", r)
		}
	}()
	sub.handler(event)
}

// Publish implements application.EventPublisher
func (b *Bus) Publish(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.published++
	for _, sub := range b.subscribers {
		select {
		case sub.queue <- event:
		default:
			sub.dropped++
			b.logger.Warn("Event dropped", "subscriber", sub.name, "kind", event.Kind, "camera_id", event.CameraID)
		}
	}
}

// Close stops accepting events and waits for queued ones to be handled
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

// Stats contains bus counters
type Stats struct {
	Published uint64            `json:"published"`
	Dropped   map[string]uint64 `json:"dropped"`
}

// Stats returns a copy of the bus counters
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := make(map[string]uint64, len(b.subscribers))
	for _, sub := range b.subscribers {
		dropped[sub.name] = sub.dropped
	}
	return Stats{Published: b.published, Dropped: dropped}
}

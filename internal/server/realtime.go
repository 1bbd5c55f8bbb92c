package server

import (
	"context"
	"sync"

	"github.com/14vimal2/polarix/internal/accounts"
)

const (
	realtimeEventReady     = "ready"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "polarix-api"
)

// EventDispatcher fans account events out to every connected stream. It
// implements accounts.EventPublisher.
type EventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan accounts.Event
}

var _ accounts.EventPublisher = (*EventDispatcher)(nil)

func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream that lives until ctx ends or cleanup runs.
func (d *EventDispatcher) Subscribe(ctx context.Context) (<-chan accounts.Event, func()) {
	subscriber := &realtimeSubscriber{stream: make(chan accounts.Event, d.bufferSize)}
	d.registerSubscriber(subscriber)
	cleanup := func() {
		d.unregisterSubscriber(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (d *EventDispatcher) Publish(event accounts.Event) {
	if event.Type == "" {
		return
	}
	d.mu.RLock()
	if len(d.subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// Subscribers reports the number of open streams.
func (d *EventDispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *EventDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
}

func (d *EventDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}

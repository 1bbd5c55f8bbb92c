package server

import (
	"context"
	"testing"
	"time"

	"github.com/14vimal2/polarix/internal/accounts"
)

func TestEventDispatcherBroadcastsToSubscribers(t *testing.T) {
	dispatcher := NewEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, cleanupFirst := dispatcher.Subscribe(ctx)
	defer cleanupFirst()
	second, cleanupSecond := dispatcher.Subscribe(ctx)
	defer cleanupSecond()

	dispatcher.Publish(accounts.Event{
		Type:       accounts.EventAccountCreated,
		AccountIDs: []string{"acc-1", "acc-2"},
		OccurredAt: time.Now().UTC(),
	})

	for _, stream := range []<-chan accounts.Event{first, second} {
		select {
		case received := <-stream:
			if received.Type != accounts.EventAccountCreated {
				t.Fatalf("expected event type %s, got %s", accounts.EventAccountCreated, received.Type)
			}
			if len(received.AccountIDs) != 2 {
				t.Fatalf("expected 2 account ids, got %d", len(received.AccountIDs))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatal("expected event within deadline")
		}
	}
}

func TestEventDispatcherDropsSubscriberOnContextEnd(t *testing.T) {
	dispatcher := NewEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()
	if dispatcher.Subscribers() != 1 {
		t.Fatalf("expected one subscriber, got %d", dispatcher.Subscribers())
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber to be removed after cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventDispatcherNeverBlocksOnFullBuffer(t *testing.T) {
	dispatcher := NewEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	done := make(chan struct{})
	go func() {
		for index := 0; index < dispatcher.bufferSize*4; index++ {
			dispatcher.Publish(accounts.Event{Type: accounts.EventAccountUpdated})
		}
		dispatcher.Publish(accounts.Event{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
	if len(stream) != dispatcher.bufferSize {
		t.Fatalf("expected buffer to hold %d events, got %d", dispatcher.bufferSize, len(stream))
	}
}

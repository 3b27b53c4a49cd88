package events

import (
	"sync"
	"testing"
)

func TestBusDeliversToSubscribersOfType(t *testing.T) {
	bus := NewBus()
	pan := bus.Subscribe(EventPanChanged)
	other := bus.Subscribe(EventDuck)

	bus.Publish(EventPanChanged, Payload{"pan": 0.5})

	select {
	case p := <-pan:
		if p["pan"] != 0.5 {
			t.Fatalf("pan = %v, want 0.5", p["pan"])
		}
	default:
		t.Fatal("expected pan_changed payload")
	}
	select {
	case p := <-other:
		t.Fatalf("duck subscriber got %v", p)
	default:
	}
}

func TestBusPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventProgress)

	for i := 0; i < 20; i++ {
		bus.Publish(EventProgress, Payload{"i": i})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("buffered %d, want %d", len(sub), cap(sub))
	}
	if p := <-sub; p["i"] != 0 {
		t.Fatalf("first payload = %v, want the oldest", p["i"])
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventRemote)
	bus.Unsubscribe(EventRemote, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	bus.Publish(EventRemote, Payload{"action": RemotePlay})
}

func TestBusConcurrentPublishAndUnsubscribe(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		sub := bus.Subscribe(EventNowPlaying)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(EventNowPlaying, Payload{"j": j})
			}
		}()
		go func(sub Subscriber) {
			defer wg.Done()
			bus.Unsubscribe(EventNowPlaying, sub)
		}(sub)
	}
	wg.Wait()
}

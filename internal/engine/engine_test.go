package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/tandem/internal/events"
)

func queue() []QueueItem {
	return []QueueItem{
		{ID: "block-2", Duration: 150},
		{ID: "block-3", Duration: 120},
	}
}

func TestMemory_AdvanceRollsOverAndEnds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Add(ctx, queue()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Play(ctx); err != nil {
		t.Fatalf("Play: %v", err)
	}

	m.Advance(160 * time.Second)
	idx, _ := m.ActiveIndex(ctx)
	p, _ := m.Progress(ctx)
	if idx != 1 || p.Position != 10 {
		t.Fatalf("expected block 1 at 10s, got index %d at %v", idx, p.Position)
	}

	m.Advance(500 * time.Second)
	state, _ := m.State(ctx)
	p, _ = m.Progress(ctx)
	if state != TransportEnded || p.Position != 120 {
		t.Fatalf("expected ended at 120s, got %s at %v", state, p.Position)
	}
}

func TestMemory_TransportErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Play(ctx); !errors.Is(err, ErrEmptyQueue) {
		t.Fatalf("expected ErrEmptyQueue, got %v", err)
	}
	_ = m.Add(ctx, queue())
	if err := m.Skip(ctx, 5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	_ = m.Skip(ctx, 1)
	if err := m.SkipToNext(ctx); !errors.Is(err, ErrNoNextItem) {
		t.Fatalf("expected ErrNoNextItem, got %v", err)
	}

	boom := errors.New("boom")
	m.Fail("seek", boom)
	if err := m.SeekTo(ctx, 3); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	m.Fail("seek", nil)
	if err := m.SeekTo(ctx, 3); err != nil {
		t.Fatalf("SeekTo after clearing failure: %v", err)
	}
}

func drain(sub events.Subscriber) []events.Payload {
	var out []events.Payload
	for {
		select {
		case p := <-sub:
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestPoller_PublishesChanges(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	active := bus.Subscribe(events.EventActiveTrack)
	transport := bus.Subscribe(events.EventTransport)
	progress := bus.Subscribe(events.EventProgress)
	ended := bus.Subscribe(events.EventQueueEnded)

	m := NewMemory()
	p := NewPoller(m, bus, time.Second, zerolog.Nop())

	_ = m.Add(ctx, queue())
	_ = m.Play(ctx)
	if err := p.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	got := drain(active)
	if len(got) != 1 || got[0]["track_id"] != "block-2" {
		t.Fatalf("active events = %v", got)
	}
	got = drain(transport)
	if len(got) != 1 || got[0]["playing"] != true {
		t.Fatalf("transport events = %v", got)
	}
	if len(drain(progress)) != 1 {
		t.Fatal("expected one progress tick")
	}

	// Unchanged state publishes only progress.
	_ = p.Poll(ctx)
	if len(drain(active)) != 0 || len(drain(transport)) != 0 {
		t.Fatal("expected no change events on a steady poll")
	}
	if len(drain(progress)) != 1 {
		t.Fatal("expected a progress tick on every poll")
	}

	m.Advance(300 * time.Second)
	_ = p.Poll(ctx)
	got = drain(active)
	if len(got) != 1 || got[0]["track_id"] != "block-3" || got[0]["previous_id"] != "block-2" {
		t.Fatalf("active events after rollover = %v", got)
	}
	got = drain(ended)
	if len(got) != 1 || got[0]["track_id"] != "block-3" {
		t.Fatalf("queue ended events = %v", got)
	}
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(NewMemory(), events.NewBus(), 5*time.Millisecond, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	p.Poke()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

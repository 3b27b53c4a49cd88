package eventbus

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/tandem/internal/events"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subj, data: data})
	return nil
}

func newTestBridge(out publisher) (*NATSBridge, *events.Bus) {
	bus := events.NewBus()
	return &NATSBridge{
		cfg:    DefaultNATSConfig(),
		bus:    bus,
		logger: zerolog.Nop(),
		nodeID: "self",
		out:    out,
	}, bus
}

func receive(t *testing.T, sub events.Subscriber) events.Payload {
	t.Helper()
	select {
	case p := <-sub:
		return p
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func expectNone(t *testing.T, sub events.Subscriber) {
	t.Helper()
	select {
	case p := <-sub:
		t.Fatalf("unexpected event %v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNATSMessageRoundTrip(t *testing.T) {
	data, err := marshalNATSMessage(events.EventTargetChanged, events.Payload{"target_id": "s1"}, "node-a")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := unmarshalNATSMessage(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.EventType != events.EventTargetChanged {
		t.Errorf("EventType = %q", msg.EventType)
	}
	if msg.NodeID != "node-a" {
		t.Errorf("NodeID = %q", msg.NodeID)
	}
	if msg.MessageID == "" {
		t.Error("MessageID is empty")
	}
	if msg.Payload["target_id"] != "s1" {
		t.Errorf("payload = %v", msg.Payload)
	}
}

func TestHandleRemote(t *testing.T) {
	b, bus := newTestBridge(&fakePublisher{})
	sub := bus.Subscribe(events.EventRemote)
	defer bus.Unsubscribe(events.EventRemote, sub)

	tests := []struct {
		name     string
		subject  string
		data     string
		action   string
		position float64
	}{
		{name: "empty body", subject: "tandem.remote.next", action: "next"},
		{name: "bare json", subject: "tandem.remote.seek", data: `{"position": 42.5}`, action: "seek", position: 42.5},
		{name: "envelope", subject: "tandem.remote.pause", data: `{"event_type":"remote","payload":{},"node_id":"phone"}`, action: "pause"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.handleRemote(&nats.Msg{Subject: tt.subject, Data: []byte(tt.data)})
			p := receive(t, sub)
			if p["action"] != tt.action {
				t.Errorf("action = %v, want %s", p["action"], tt.action)
			}
			pos, _ := p["position"].(float64)
			if pos != tt.position {
				t.Errorf("position = %v, want %v", pos, tt.position)
			}
		})
	}
}

func TestHandleRemoteDrops(t *testing.T) {
	b, bus := newTestBridge(&fakePublisher{})
	sub := bus.Subscribe(events.EventRemote)
	defer bus.Unsubscribe(events.EventRemote, sub)

	own, err := marshalNATSMessage(events.EventRemote, events.Payload{}, "self")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	tests := []struct {
		name string
		msg  *nats.Msg
	}{
		{name: "own node", msg: &nats.Msg{Subject: "tandem.remote.play", Data: own}},
		{name: "malformed", msg: &nats.Msg{Subject: "tandem.remote.play", Data: []byte("{")}},
		{name: "no action", msg: &nats.Msg{Subject: "tandem.remote"}},
		{name: "other prefix", msg: &nats.Msg{Subject: "other.remote.play"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.handleRemote(tt.msg)
			expectNone(t, sub)
		})
	}
}

func TestHandleDuck(t *testing.T) {
	b, bus := newTestBridge(&fakePublisher{})
	sub := bus.Subscribe(events.EventDuck)
	defer bus.Unsubscribe(events.EventDuck, sub)

	b.handleDuck(&nats.Msg{Subject: "tandem.duck", Data: []byte(`{"paused": true, "permanent": true}`)})
	p := receive(t, sub)
	if p["paused"] != true || p["permanent"] != true {
		t.Errorf("payload = %v", p)
	}

	b.handleDuck(&nats.Msg{Subject: "tandem.duck", Data: []byte(`{"paused": false}`)})
	p = receive(t, sub)
	if p["paused"] != false || p["permanent"] != false {
		t.Errorf("payload = %v", p)
	}
}

func TestForward(t *testing.T) {
	out := &fakePublisher{}
	b, _ := newTestBridge(out)

	if err := b.forward(events.EventPanChanged, events.Payload{"pan": 0.5}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(out.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(out.msgs))
	}
	if want := "tandem.events." + string(events.EventPanChanged); out.msgs[0].subject != want {
		t.Errorf("subject = %q", out.msgs[0].subject)
	}

	var msg natsMessage
	if err := json.Unmarshal(out.msgs[0].data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.NodeID != "self" || msg.Payload["pan"] != 0.5 {
		t.Errorf("message = %+v", msg)
	}

	out.err = errors.New("disconnected")
	if err := b.forward(events.EventPanChanged, events.Payload{}); err == nil {
		t.Error("expected publish error")
	}
}

func TestSubjectPrefix(t *testing.T) {
	b, _ := newTestBridge(nil)
	b.cfg.SubjectPrefix = "home"
	if got := b.subject("remote", ">"); got != "home.remote.>" {
		t.Errorf("subject = %q", got)
	}
}

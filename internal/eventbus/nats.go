/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus to NATS so that other
// devices can drive the player and follow what it is doing.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/tandem/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	SubjectPrefix string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "tandem",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// outbound lists the local events mirrored to NATS.
var outbound = []events.EventType{
	events.EventNowPlaying,
	events.EventTargetChanged,
	events.EventPlayerClosed,
	events.EventPanChanged,
	events.EventHistoryUpdated,
	events.EventDownloadComplete,
	events.EventDownloadFailed,
}

// publisher is the part of *nats.Conn the bridge publishes through.
type publisher interface {
	Publish(subj string, data []byte) error
}

// NATSBridge forwards remote-control and audio-focus messages from NATS onto
// the local bus, and mirrors player events back out.
//
// Inbound subjects:
//
//	<prefix>.remote.<action>   body: {"position": seconds} (optional)
//	<prefix>.duck              body: {"paused": bool, "permanent": bool}
//
// Outbound subjects: <prefix>.events.<event type>.
type NATSBridge struct {
	cfg    NATSConfig
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	conn *nats.Conn
	out  publisher

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSBridge connects to NATS.
func NewNATSBridge(cfg NATSConfig, bus *events.Bus, logger zerolog.Logger) (*NATSBridge, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultNATSConfig().SubjectPrefix
	}
	b := &NATSBridge{
		cfg:    cfg,
		bus:    bus,
		logger: logger.With().Str("component", "nats").Logger(),
		nodeID: generateNodeID(),
	}

	opts := []nats.Option{
		nats.Name("tandem-" + b.nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	b.conn = conn
	b.out = conn

	b.logger.Info().Str("url", conn.ConnectedUrl()).Str("prefix", cfg.SubjectPrefix).Msg("NATS bridge connected")
	return b, nil
}

// Run subscribes to the inbound subjects and mirrors outbound events until
// the context is cancelled.
func (b *NATSBridge) Run(ctx context.Context) error {
	remote, err := b.conn.Subscribe(b.subject("remote", ">"), b.handleRemote)
	if err != nil {
		return fmt.Errorf("subscribe remote: %w", err)
	}
	duck, err := b.conn.Subscribe(b.subject("duck"), b.handleDuck)
	if err != nil {
		_ = remote.Unsubscribe()
		return fmt.Errorf("subscribe duck: %w", err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, remote, duck)
	b.mu.Unlock()

	local := make(map[events.EventType]events.Subscriber, len(outbound))
	for _, t := range outbound {
		local[t] = b.bus.Subscribe(t)
	}
	defer func() {
		for t, sub := range local {
			b.bus.Unsubscribe(t, sub)
		}
	}()

	merged := make(chan forward, 16)
	var wg sync.WaitGroup
	for t, sub := range local {
		wg.Add(1)
		go func(t events.EventType, sub events.Subscriber) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case p, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- forward{eventType: t, payload: p}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(t, sub)
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case f := <-merged:
			if err := b.forward(f.eventType, f.payload); err != nil {
				b.logger.Debug().Err(err).Str("event", string(f.eventType)).Msg("forward event")
			}
		}
	}
}

type forward struct {
	eventType events.EventType
	payload   events.Payload
}

// Close drains subscriptions and closes the connection.
func (b *NATSBridge) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

func (b *NATSBridge) forward(eventType events.EventType, payload events.Payload) error {
	data, err := marshalNATSMessage(eventType, payload, b.nodeID)
	if err != nil {
		return err
	}
	return b.out.Publish(b.subject("events", string(eventType)), data)
}

func (b *NATSBridge) handleRemote(msg *nats.Msg) {
	action := strings.TrimPrefix(msg.Subject, b.subject("remote")+".")
	if action == "" || action == msg.Subject {
		return
	}
	payload, ok := b.decode(msg.Data)
	if !ok {
		return
	}
	payload["action"] = action
	b.logger.Debug().Str("action", action).Msg("remote action received")
	b.bus.Publish(events.EventRemote, payload)
}

func (b *NATSBridge) handleDuck(msg *nats.Msg) {
	payload, ok := b.decode(msg.Data)
	if !ok {
		return
	}
	paused, _ := payload["paused"].(bool)
	permanent, _ := payload["permanent"].(bool)
	b.bus.Publish(events.EventDuck, events.Payload{"paused": paused, "permanent": permanent})
}

// decode accepts either a bridge envelope or a bare JSON object. Envelopes
// sent by this node are dropped.
func (b *NATSBridge) decode(data []byte) (events.Payload, bool) {
	if len(data) == 0 {
		return events.Payload{}, true
	}
	msg, err := unmarshalNATSMessage(data)
	if err != nil {
		b.logger.Debug().Err(err).Msg("drop malformed NATS message")
		return nil, false
	}
	if msg.NodeID == b.nodeID {
		return nil, false
	}
	if msg.EventType != "" {
		if msg.Payload == nil {
			return events.Payload{}, true
		}
		return msg.Payload, true
	}
	var bare events.Payload
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, false
	}
	return bare, true
}

func (b *NATSBridge) subject(parts ...string) string {
	return b.cfg.SubjectPrefix + "." + strings.Join(parts, ".")
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

// marshalNATSMessage converts payload to NATS message format.
func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal nats message: %w", err)
	}
	return data, nil
}

// unmarshalNATSMessage parses a NATS message.
func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}

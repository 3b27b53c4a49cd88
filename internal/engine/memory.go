/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an engine without audio output. Its clock only moves through
// Advance, which makes it the engine for simulated playback and tests.
type Memory struct {
	mu       sync.Mutex
	items    []QueueItem
	index    int
	position float64
	state    TransportState
	volume   float64
	failures map[string]error
	calls    []string
}

// NewMemory creates an empty in-memory engine.
func NewMemory() *Memory {
	return &Memory{index: -1, state: TransportNone, volume: 1, failures: make(map[string]error)}
}

// Fail makes every later call to op (e.g. "play", "skip") return err.
// A nil err clears the failure.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns the operations invoked so far, in order.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Volume returns the current output volume.
func (m *Memory) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// Advance moves the playback clock forward by d while playing, rolling over
// into following items and ending at the last one.
func (m *Memory) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != TransportPlaying || m.index < 0 {
		return
	}
	m.position += d.Seconds()
	for m.position >= m.items[m.index].Duration {
		if m.index+1 >= len(m.items) {
			m.position = m.items[m.index].Duration
			m.state = TransportEnded
			return
		}
		m.position -= m.items[m.index].Duration
		m.index++
	}
}

func (m *Memory) begin(op string) error {
	m.calls = append(m.calls, op)
	if err := m.failures[op]; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("reset"); err != nil {
		return err
	}
	m.items = nil
	m.index = -1
	m.position = 0
	m.state = TransportNone
	return nil
}

func (m *Memory) Add(_ context.Context, items []QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("add"); err != nil {
		return err
	}
	m.items = append(m.items, items...)
	if m.index < 0 && len(m.items) > 0 {
		m.index = 0
		m.position = 0
		m.state = TransportReady
	}
	return nil
}

func (m *Memory) Play(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("play"); err != nil {
		return err
	}
	if m.index < 0 {
		return ErrEmptyQueue
	}
	m.state = TransportPlaying
	return nil
}

func (m *Memory) Pause(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("pause"); err != nil {
		return err
	}
	if m.state == TransportPlaying || m.state == TransportBuffering {
		m.state = TransportPaused
	}
	return nil
}

func (m *Memory) SeekTo(_ context.Context, seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("seek"); err != nil {
		return err
	}
	if m.index < 0 {
		return ErrEmptyQueue
	}
	d := m.items[m.index].Duration
	if seconds < 0 {
		seconds = 0
	}
	if seconds > d {
		seconds = d
	}
	m.position = seconds
	if m.state == TransportEnded && seconds < d {
		m.state = TransportPaused
	}
	return nil
}

func (m *Memory) Skip(_ context.Context, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("skip"); err != nil {
		return err
	}
	return m.skipLocked(index)
}

func (m *Memory) skipLocked(index int) error {
	if index < 0 || index >= len(m.items) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	m.index = index
	m.position = 0
	if m.state == TransportEnded {
		m.state = TransportPaused
	}
	return nil
}

func (m *Memory) SkipToNext(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("next"); err != nil {
		return err
	}
	if m.index+1 >= len(m.items) {
		return ErrNoNextItem
	}
	return m.skipLocked(m.index + 1)
}

func (m *Memory) SkipToPrevious(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("previous"); err != nil {
		return err
	}
	if m.index < 0 {
		return ErrEmptyQueue
	}
	if m.index == 0 {
		m.position = 0
		return nil
	}
	return m.skipLocked(m.index - 1)
}

func (m *Memory) SetVolume(_ context.Context, volume float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("volume"); err != nil {
		return err
	}
	m.volume = volume
	return nil
}

func (m *Memory) Progress(context.Context) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index < 0 {
		return Progress{}, nil
	}
	return Progress{Position: m.position, Duration: m.items[m.index].Duration}, nil
}

func (m *Memory) ActiveIndex(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index, nil
}

func (m *Memory) State(context.Context) (TransportState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *Memory) Queue(context.Context) ([]QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]QueueItem(nil), m.items...), nil
}

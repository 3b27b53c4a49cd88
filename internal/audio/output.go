/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"context"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// Output mixes streamers into a sink. Lock must be held while mutating any
// streamer that was handed to Play.
type Output interface {
	SampleRate() beep.SampleRate
	Play(s beep.Streamer)
	Lock()
	Unlock()
}

// Speaker plays through the system sound card. The speaker package is a
// process-wide singleton, so only one Speaker may exist.
type Speaker struct {
	rate beep.SampleRate
}

// NewSpeaker initializes the sound card at rate with the given buffer length.
func NewSpeaker(rate beep.SampleRate, buffer time.Duration) (*Speaker, error) {
	if err := speaker.Init(rate, rate.N(buffer)); err != nil {
		return nil, err
	}
	return &Speaker{rate: rate}, nil
}

func (s *Speaker) SampleRate() beep.SampleRate { return s.rate }
func (s *Speaker) Play(st beep.Streamer)       { speaker.Play(st) }
func (s *Speaker) Lock()                       { speaker.Lock() }
func (s *Speaker) Unlock()                     { speaker.Unlock() }

// Close stops all playback and releases the sound card.
func (s *Speaker) Close() {
	speaker.Clear()
	speaker.Close()
}

// Manual is an output without a sound card. Samples move only when Drain is
// called, either directly or through Pump.
type Manual struct {
	mu    sync.Mutex
	rate  beep.SampleRate
	mixer beep.Mixer
}

// NewManual creates a manual output at rate.
func NewManual(rate beep.SampleRate) *Manual {
	return &Manual{rate: rate}
}

func (m *Manual) SampleRate() beep.SampleRate { return m.rate }
func (m *Manual) Lock()                       { m.mu.Lock() }
func (m *Manual) Unlock()                     { m.mu.Unlock() }

func (m *Manual) Play(st beep.Streamer) {
	m.mu.Lock()
	m.mixer.Add(st)
	m.mu.Unlock()
}

// Drain mixes d worth of audio and returns the mixed samples.
func (m *Manual) Drain(d time.Duration) [][2]float64 {
	n := m.rate.N(d)
	out := make([][2]float64, n)

	const chunk = 512
	for i := 0; i < n; i += chunk {
		end := min(i+chunk, n)
		m.mu.Lock()
		m.mixer.Stream(out[i:end])
		m.mu.Unlock()
	}
	return out
}

// Pump drains in real time until ctx is cancelled.
func (m *Manual) Pump(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Drain(now.Sub(last))
			last = now
		}
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/rs/zerolog"

	"github.com/friendsincode/tandem/internal/engine"
)

// decoded is one queue item ready to stream.
type decoded struct {
	index     int
	src       beep.StreamSeekCloser
	format    beep.Format
	stream    beep.Streamer
	resampled bool
}

func (d *decoded) close() {
	if d != nil {
		_ = d.src.Close()
	}
}

// QueueEngine is the primary engine on a beep output. The item after the
// active one is decoded ahead of time so block boundaries play gaplessly.
type QueueEngine struct {
	out    Output
	loader *Loader
	logger zerolog.Logger
	volume *effects.Volume

	// mu guards everything below. The output goroutine takes it in stream,
	// so it is never held while waiting on the output lock.
	mu      sync.Mutex
	gen     uint64
	items   []engine.QueueItem
	index   int
	cur     *decoded
	next    *decoded
	playing bool
	state   engine.TransportState
	endPos  float64
}

// NewQueueEngine creates an empty engine and attaches it to out.
func NewQueueEngine(out Output, loader *Loader, logger zerolog.Logger) *QueueEngine {
	q := &QueueEngine{
		out:    out,
		loader: loader,
		logger: logger.With().Str("component", "queue_engine").Logger(),
		index:  -1,
		state:  engine.TransportNone,
	}
	q.volume = &effects.Volume{Streamer: beep.StreamerFunc(q.stream), Base: 2}
	out.Play(q.volume)
	return q
}

// stream runs on the output goroutine.
func (q *QueueEngine) stream(samples [][2]float64) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for q.playing && q.cur != nil && n < len(samples) {
		m, ok := q.cur.stream.Stream(samples[n:])
		n += m
		if !ok || m == 0 {
			q.advanceLocked()
		}
	}
	clear(samples[n:])
	return len(samples), true
}

// advanceLocked moves past an exhausted item.
func (q *QueueEngine) advanceLocked() {
	if q.index+1 >= len(q.items) {
		q.endPos = q.positionLocked()
		q.cur.close()
		q.cur = nil
		q.playing = false
		q.state = engine.TransportEnded
		return
	}

	q.cur.close()
	q.cur = nil
	q.index++
	if q.next != nil && q.next.index == q.index {
		q.cur, q.next = q.next, nil
		go q.preload(q.gen, q.index+1)
		return
	}
	q.state = engine.TransportBuffering
	go q.loadAsync(q.gen, q.index)
}

func (q *QueueEngine) decode(ctx context.Context, index int, item engine.QueueItem) (*decoded, error) {
	src, format, err := q.loader.Decode(ctx, item.URL)
	if err != nil {
		return nil, err
	}
	d := &decoded{index: index, src: src, format: format, stream: src}
	if format.SampleRate != q.out.SampleRate() {
		d.stream = beep.Resample(resampleQuality, format.SampleRate, q.out.SampleRate(), src)
		d.resampled = true
	}
	return d, nil
}

// install makes d the active item unless gen is stale.
func (q *QueueEngine) install(gen uint64, d *decoded) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen || d.index != q.index {
		d.close()
		return false
	}
	q.cur.close()
	q.cur = d
	if q.playing {
		q.state = engine.TransportPlaying
	} else if q.state == engine.TransportBuffering || q.state == engine.TransportNone {
		q.state = engine.TransportReady
	}
	go q.preload(gen, d.index+1)
	return true
}

func (q *QueueEngine) itemAt(gen uint64, index int) (engine.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen || index < 0 || index >= len(q.items) {
		return engine.QueueItem{}, false
	}
	return q.items[index], true
}

func (q *QueueEngine) loadSync(ctx context.Context, gen uint64, index int) error {
	item, ok := q.itemAt(gen, index)
	if !ok {
		return nil
	}
	d, err := q.decode(ctx, index, item)
	if err != nil {
		q.mu.Lock()
		if gen == q.gen {
			q.state = engine.TransportNone
			q.playing = false
		}
		q.mu.Unlock()
		return fmt.Errorf("load %s: %w", item.ID, err)
	}
	q.install(gen, d)
	return nil
}

func (q *QueueEngine) loadAsync(gen uint64, index int) {
	if err := q.loadSync(context.Background(), gen, index); err != nil {
		q.logger.Error().Err(err).Int("index", index).Msg("queue item failed to load")
	}
}

func (q *QueueEngine) preload(gen uint64, index int) {
	item, ok := q.itemAt(gen, index)
	if !ok {
		return
	}
	d, err := q.decode(context.Background(), index, item)
	if err != nil {
		q.logger.Warn().Err(err).Str("track_id", item.ID).Msg("preload failed")
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen || index != q.index+1 {
		d.close()
		return
	}
	q.next.close()
	q.next = d
}

// clearLocked drops both decoders and bumps the generation.
func (q *QueueEngine) clearLocked() uint64 {
	q.gen++
	q.cur.close()
	q.next.close()
	q.cur, q.next = nil, nil
	return q.gen
}

func (q *QueueEngine) Reset(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clearLocked()
	q.items = nil
	q.index = -1
	q.playing = false
	q.state = engine.TransportNone
	return nil
}

func (q *QueueEngine) Add(ctx context.Context, items []engine.QueueItem) error {
	q.mu.Lock()
	q.items = append(q.items, items...)
	first := q.index < 0 && len(q.items) > 0
	var gen uint64
	if first {
		gen = q.clearLocked()
		q.index = 0
		q.state = engine.TransportBuffering
	} else if q.next == nil && q.cur != nil {
		go q.preload(q.gen, q.index+1)
	}
	q.mu.Unlock()

	if first {
		return q.loadSync(ctx, gen, 0)
	}
	return nil
}

func (q *QueueEngine) Play(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.index < 0 {
		return engine.ErrEmptyQueue
	}
	if q.state == engine.TransportEnded {
		return nil
	}
	q.playing = true
	if q.cur != nil {
		q.state = engine.TransportPlaying
	} else {
		q.state = engine.TransportBuffering
	}
	return nil
}

func (q *QueueEngine) Pause(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.playing = false
	switch q.state {
	case engine.TransportPlaying, engine.TransportBuffering, engine.TransportReady:
		q.state = engine.TransportPaused
	}
	return nil
}

func (q *QueueEngine) SeekTo(ctx context.Context, seconds float64) error {
	q.mu.Lock()
	if q.index < 0 {
		q.mu.Unlock()
		return engine.ErrEmptyQueue
	}
	if q.cur == nil && q.state == engine.TransportEnded {
		// The decoder was closed at the end; reopen the last item.
		gen := q.clearLocked()
		index := q.index
		q.state = engine.TransportPaused
		q.mu.Unlock()
		if err := q.loadSync(ctx, gen, index); err != nil {
			return err
		}
		q.mu.Lock()
	}
	defer q.mu.Unlock()
	if q.cur == nil {
		return fmt.Errorf("seek while buffering: %w", engine.ErrEmptyQueue)
	}

	d := q.cur
	p := d.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	p = max(0, min(p, d.src.Len()))
	if err := d.src.Seek(p); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	if d.resampled {
		d.stream = beep.Resample(resampleQuality, d.format.SampleRate, q.out.SampleRate(), d.src)
	}
	return nil
}

func (q *QueueEngine) Skip(ctx context.Context, index int) error {
	q.mu.Lock()
	if index < 0 || index >= len(q.items) {
		q.mu.Unlock()
		return fmt.Errorf("%w: %d", engine.ErrIndexOutOfRange, index)
	}
	var next *decoded
	if q.next != nil && q.next.index == index {
		next, q.next = q.next, nil
	}
	gen := q.clearLocked()
	q.index = index
	if q.state == engine.TransportEnded {
		q.state = engine.TransportPaused
	}
	if next != nil {
		q.cur = next
		if q.playing {
			q.state = engine.TransportPlaying
		}
		go q.preload(gen, index+1)
		q.mu.Unlock()
		return nil
	}
	if !q.playing {
		q.state = engine.TransportPaused
	} else {
		q.state = engine.TransportBuffering
	}
	q.mu.Unlock()

	return q.loadSync(ctx, gen, index)
}

func (q *QueueEngine) SkipToNext(ctx context.Context) error {
	q.mu.Lock()
	index := q.index + 1
	ok := index < len(q.items)
	q.mu.Unlock()
	if !ok {
		return engine.ErrNoNextItem
	}
	return q.Skip(ctx, index)
}

func (q *QueueEngine) SkipToPrevious(ctx context.Context) error {
	q.mu.Lock()
	index := q.index
	q.mu.Unlock()
	if index < 0 {
		return engine.ErrEmptyQueue
	}
	if index == 0 {
		return q.SeekTo(ctx, 0)
	}
	return q.Skip(ctx, index-1)
}

// SetVolume sets the output gain in [0, 1].
func (q *QueueEngine) SetVolume(_ context.Context, volume float64) error {
	q.out.Lock()
	setGain(q.volume, volume)
	q.out.Unlock()
	return nil
}

func (q *QueueEngine) positionLocked() float64 {
	if q.cur == nil {
		return 0
	}
	return q.cur.format.SampleRate.D(q.cur.src.Position()).Seconds()
}

func (q *QueueEngine) Progress(context.Context) (engine.Progress, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.index < 0 {
		return engine.Progress{}, nil
	}
	duration := q.items[q.index].Duration
	if q.cur != nil {
		if l := q.cur.format.SampleRate.D(q.cur.src.Len()).Seconds(); l > 0 {
			duration = l
		}
	}
	if q.state == engine.TransportEnded && q.cur == nil {
		return engine.Progress{Position: q.endPos, Duration: duration}, nil
	}
	return engine.Progress{Position: q.positionLocked(), Duration: duration}, nil
}

func (q *QueueEngine) ActiveIndex(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.index, nil
}

func (q *QueueEngine) State(context.Context) (engine.TransportState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state, nil
}

func (q *QueueEngine) Queue(context.Context) ([]engine.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]engine.QueueItem(nil), q.items...), nil
}

// Close stops playback and frees the decoders.
func (q *QueueEngine) Close() error {
	return q.Reset(context.Background())
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"

	"github.com/friendsincode/tandem/internal/secondary"
)

// ErrReleased indicates a call on a stream after Release.
var ErrReleased = errors.New("stream released")

const resampleQuality = 4

// PanOpener opens pannable streams on an output. It satisfies
// secondary.Opener.
type PanOpener struct {
	loader *Loader
	out    Output
}

// NewPanOpener creates an opener that decodes with loader and plays on out.
func NewPanOpener(loader *Loader, out Output) *PanOpener {
	return &PanOpener{loader: loader, out: out}
}

// Open decodes source and attaches it, paused, to the output.
func (o *PanOpener) Open(ctx context.Context, source string) (secondary.Stream, error) {
	src, format, err := o.loader.Decode(ctx, source)
	if err != nil {
		return nil, err
	}
	return NewPanStream(o.out, src, format), nil
}

// PanStream is a decoded source behind pause, pan and volume controls.
//
//	decoder -> resample -> feed -> Ctrl -> Pan -> Volume -> output
type PanStream struct {
	out    Output
	src    beep.StreamSeekCloser
	format beep.Format

	// Guarded by the output lock.
	resampled beep.Streamer
	ctrl      *beep.Ctrl
	pan       *effects.Pan
	volume    *effects.Volume
	finished  bool
	released  bool
}

// NewPanStream wraps src and starts it, paused, on out.
func NewPanStream(out Output, src beep.StreamSeekCloser, format beep.Format) *PanStream {
	ps := &PanStream{out: out, src: src, format: format}
	ps.resampled = ps.resample()
	ps.ctrl = &beep.Ctrl{Streamer: beep.StreamerFunc(ps.feed), Paused: true}
	ps.pan = &effects.Pan{Streamer: ps.ctrl}
	ps.volume = &effects.Volume{Streamer: ps.pan, Base: 2}
	out.Play(ps.volume)
	return ps
}

func (ps *PanStream) resample() beep.Streamer {
	if ps.format.SampleRate == ps.out.SampleRate() {
		return ps.src
	}
	return beep.Resample(resampleQuality, ps.format.SampleRate, ps.out.SampleRate(), ps.src)
}

// feed runs on the output goroutine with the output lock held. At the end of
// the source it pads with silence so a later Seek can resume playback.
func (ps *PanStream) feed(samples [][2]float64) (int, bool) {
	if ps.released {
		return 0, false
	}
	n := 0
	if !ps.finished {
		var ok bool
		n, ok = ps.resampled.Stream(samples)
		if !ok || n < len(samples) {
			ps.finished = true
		}
	}
	clear(samples[n:])
	return len(samples), true
}

func (ps *PanStream) Play() error {
	ps.out.Lock()
	defer ps.out.Unlock()
	if ps.released {
		return ErrReleased
	}
	ps.ctrl.Paused = false
	return nil
}

func (ps *PanStream) Pause() error {
	ps.out.Lock()
	defer ps.out.Unlock()
	if ps.released {
		return ErrReleased
	}
	ps.ctrl.Paused = true
	return nil
}

// Playing reports whether the stream is unpaused and has audio left.
func (ps *PanStream) Playing() bool {
	ps.out.Lock()
	defer ps.out.Unlock()
	return !ps.released && !ps.ctrl.Paused && !ps.finished
}

// Position returns the decoder position in seconds. It runs ahead of what is
// audible by the output buffer, the same offset QueueEngine.Progress carries
// on a shared output, so drift between the two is unaffected.
func (ps *PanStream) Position() float64 {
	ps.out.Lock()
	defer ps.out.Unlock()
	if ps.released {
		return 0
	}
	return ps.format.SampleRate.D(ps.src.Position()).Seconds()
}

// Seek moves to seconds, clamped to the stream length.
func (ps *PanStream) Seek(seconds float64) error {
	ps.out.Lock()
	defer ps.out.Unlock()
	if ps.released {
		return ErrReleased
	}
	p := ps.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	p = max(0, min(p, ps.src.Len()))
	if err := ps.src.Seek(p); err != nil {
		return err
	}
	ps.resampled = ps.resample()
	ps.finished = p >= ps.src.Len()
	return nil
}

func (ps *PanStream) SetPan(pan float64) error {
	ps.out.Lock()
	defer ps.out.Unlock()
	if ps.released {
		return ErrReleased
	}
	ps.pan.Pan = pan
	return nil
}

// SetVolume sets a linear gain in [0, 1].
func (ps *PanStream) SetVolume(volume float64) error {
	ps.out.Lock()
	defer ps.out.Unlock()
	if ps.released {
		return ErrReleased
	}
	setGain(ps.volume, volume)
	return nil
}

// Release detaches the stream from the output and closes the decoder.
func (ps *PanStream) Release() error {
	ps.out.Lock()
	if ps.released {
		ps.out.Unlock()
		return nil
	}
	ps.released = true
	ps.ctrl.Streamer = nil
	ps.out.Unlock()
	return ps.src.Close()
}

// setGain maps a linear gain onto a base-2 effects.Volume.
func setGain(v *effects.Volume, gain float64) {
	if gain <= 0 {
		v.Silent = true
		return
	}
	v.Silent = false
	v.Volume = math.Log2(math.Min(gain, 1))
}

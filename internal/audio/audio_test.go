package audio

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"

	"github.com/friendsincode/tandem/internal/engine"
)

const testRate = beep.SampleRate(8000)

func tone(n int, v float64) beep.Streamer {
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if n <= 0 {
			return 0, false
		}
		k := min(n, len(samples))
		for i := range samples[:k] {
			samples[i] = [2]float64{v, v}
		}
		n -= k
		return k, true
	})
}

func writeWAV(t *testing.T, dir, name string, d time.Duration) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create %s: %v", p, err)
	}
	defer f.Close()
	format := beep.Format{SampleRate: testRate, NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, tone(testRate.N(d), 0.5), format); err != nil {
		t.Fatalf("encode %s: %v", p, err)
	}
	return p
}

func writeWAVAt(t *testing.T, dir, name string, rate beep.SampleRate, d time.Duration) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create %s: %v", p, err)
	}
	defer f.Close()
	format := beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, tone(rate.N(d), 0.5), format); err != nil {
		t.Fatalf("encode %s: %v", p, err)
	}
	return p
}

func near(a, b float64) bool { return math.Abs(a-b) < 0.02 }

func TestLoader_Sources(t *testing.T) {
	dir := t.TempDir()
	p := writeWAV(t, dir, "block.wav", time.Second)
	if err := os.MkdirAll(filepath.Join(dir, "audio"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeWAV(t, filepath.Join(dir, "audio"), "bundled.wav", time.Second)

	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/remote.wav" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	l := NewLoader(dir, nil)
	ctx := context.Background()

	for _, source := range []string{p, "file://" + p, "asset://audio/bundled.wav", srv.URL + "/remote.wav"} {
		t.Run(source, func(t *testing.T) {
			s, format, err := l.Decode(ctx, source)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			defer s.Close()
			if format.SampleRate != testRate || s.Len() != testRate.N(time.Second) {
				t.Fatalf("format=%+v len=%d", format, s.Len())
			}
		})
	}

	failures := []string{"ftp://example.com/a.mp3", "s3://bucket/key.mp3", srv.URL + "/missing.wav", filepath.Join(dir, "x.ogg")}
	for _, source := range failures {
		if _, _, err := l.Decode(ctx, source); err == nil {
			t.Errorf("expected %s to fail", source)
		}
	}
	if _, _, err := l.Decode(ctx, "ftp://example.com/a.mp3"); !errors.Is(err, ErrUnsupportedSource) {
		t.Errorf("expected ErrUnsupportedSource, got %v", err)
	}
}

func TestPanStream_PanSeekRelease(t *testing.T) {
	dir := t.TempDir()
	p := writeWAV(t, dir, "pan.wav", 2*time.Second)
	out := NewManual(testRate)
	opener := NewPanOpener(NewLoader(dir, nil), out)

	st, err := opener.Open(context.Background(), p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ps := st.(*PanStream)

	if ps.Playing() {
		t.Fatal("new stream should start paused")
	}
	if s := out.Drain(100 * time.Millisecond); s[10][0] != 0 {
		t.Fatal("paused stream produced audio")
	}

	_ = ps.SetPan(-1)
	_ = ps.SetVolume(1)
	_ = ps.Play()
	samples := out.Drain(500 * time.Millisecond)
	if !near(samples[100][0], 0.5) || samples[100][1] != 0 {
		t.Fatalf("expected left-only audio, got %v", samples[100])
	}
	if !near(ps.Position(), 0.5) {
		t.Fatalf("position = %v, want 0.5", ps.Position())
	}

	if err := ps.Seek(1.5); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	out.Drain(time.Second)
	if ps.Playing() {
		t.Fatal("stream should report finished after its end")
	}
	if err := ps.Seek(0.25); err != nil {
		t.Fatalf("Seek after end: %v", err)
	}
	if !ps.Playing() {
		t.Fatal("seeking back should resume playback")
	}

	_ = ps.SetVolume(0)
	if s := out.Drain(50 * time.Millisecond); s[10][0] != 0 {
		t.Fatal("muted stream produced audio")
	}

	if err := ps.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := ps.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if err := ps.Play(); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQueueEngine_PlaysThroughBlocks(t *testing.T) {
	dir := t.TempDir()
	a := writeWAV(t, dir, "a.wav", time.Second)
	b := writeWAV(t, dir, "b.wav", time.Second)

	out := NewManual(testRate)
	q := NewQueueEngine(out, NewLoader(dir, nil), zerolog.Nop())
	ctx := context.Background()

	if err := q.Play(ctx); !errors.Is(err, engine.ErrEmptyQueue) {
		t.Fatalf("expected ErrEmptyQueue, got %v", err)
	}

	items := []engine.QueueItem{{ID: "a", URL: a, Duration: 1}, {ID: "b", URL: b, Duration: 1}}
	if err := q.Add(ctx, items); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if st, _ := q.State(ctx); st != engine.TransportReady {
		t.Fatalf("state after add = %s", st)
	}

	// Wait for the next block to be decoded ahead.
	waitFor(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.next != nil
	})

	_ = q.Play(ctx)
	out.Drain(1500 * time.Millisecond)

	idx, _ := q.ActiveIndex(ctx)
	p, _ := q.Progress(ctx)
	if idx != 1 || !near(p.Position, 0.5) {
		t.Fatalf("expected block b at 0.5s, got index %d at %v", idx, p.Position)
	}

	_ = q.SetVolume(ctx, 0)
	if s := out.Drain(100 * time.Millisecond); s[10][0] != 0 {
		t.Fatal("muted primary produced audio")
	}

	out.Drain(time.Second)
	if st, _ := q.State(ctx); st != engine.TransportEnded {
		t.Fatalf("expected ended, got %s", st)
	}
	if p, _ := q.Progress(ctx); !near(p.Position, 1) {
		t.Fatalf("expected end position 1s, got %v", p.Position)
	}

	// Restart from the top.
	if err := q.Skip(ctx, 0); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if err := q.SeekTo(ctx, 0.25); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	if p, _ := q.Progress(ctx); !near(p.Position, 0.25) {
		t.Fatalf("expected 0.25s after seek, got %v", p.Position)
	}
	if err := q.SkipToNext(ctx); err != nil {
		t.Fatalf("SkipToNext: %v", err)
	}
	if err := q.SkipToNext(ctx); !errors.Is(err, engine.ErrNoNextItem) {
		t.Fatalf("expected ErrNoNextItem, got %v", err)
	}
	if err := q.SkipToPrevious(ctx); err != nil {
		t.Fatalf("SkipToPrevious: %v", err)
	}
	if idx, _ := q.ActiveIndex(ctx); idx != 0 {
		t.Fatalf("expected index 0, got %d", idx)
	}

	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if idx, _ := q.ActiveIndex(ctx); idx != -1 {
		t.Fatalf("expected empty queue after close, got %d", idx)
	}
}

func TestSharedOutputKeepsStreamsOnOneClock(t *testing.T) {
	dir := t.TempDir()
	voice := writeWAV(t, dir, "voice.wav", 2*time.Second)
	// Secondary at twice the output rate goes through the resampler.
	ambient := writeWAVAt(t, dir, "ambient.wav", 2*testRate, 2*time.Second)

	out := NewManual(testRate)
	loader := NewLoader(dir, nil)
	q := NewQueueEngine(out, loader, zerolog.Nop())
	ctx := context.Background()

	if err := q.Add(ctx, []engine.QueueItem{{ID: "voice", URL: voice, Duration: 2}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	st, err := NewPanOpener(loader, out).Open(ctx, ambient)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Release()

	_ = q.Play(ctx)
	_ = st.Play()

	for _, step := range []time.Duration{300 * time.Millisecond, 450 * time.Millisecond, 600 * time.Millisecond} {
		out.Drain(step)
		p, _ := q.Progress(ctx)
		// The resampler reads up to two 512-frame buffers ahead of what it emits.
		if drift := st.Position() - p.Position; math.Abs(drift) > 0.1 {
			t.Fatalf("primary at %.3fs, secondary at %.3fs: drift %.3fs", p.Position, st.Position(), drift)
		}
	}
}

package playback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/nowplaying"
	"github.com/dgnsrekt/readaloud/internal/synth"
	"github.com/dgnsrekt/readaloud/internal/timing"
	"github.com/dgnsrekt/readaloud/internal/wav"
)

// recorder collects highlights and the finish result.
type recorder struct {
	mu         sync.Mutex
	highlights []Highlight
	finished   chan error
	finishes   int
}

func newRecorder() *recorder {
	return &recorder{finished: make(chan error, 4)}
}

func (r *recorder) onHighlight(h Highlight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.highlights = append(r.highlights, h)
}

func (r *recorder) onFinish(err error) {
	r.mu.Lock()
	r.finishes++
	r.mu.Unlock()
	r.finished <- err
}

func (r *recorder) ranges() []timing.Range {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []timing.Range
	for _, h := range r.highlights {
		if !h.Cleared {
			out = append(out, h.Range)
		}
	}
	return out
}

func (r *recorder) last() (Highlight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.highlights) == 0 {
		return Highlight{}, false
	}
	return r.highlights[len(r.highlights)-1], true
}

func (r *recorder) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.finished:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("playback did not finish")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDeviceBackend_RemapsChunkRanges(t *testing.T) {
	m := &synth.Mock{MaxLength: 10}
	b := NewDeviceBackend(m)
	rec := newRecorder()

	if err := b.SpeakWithHighlight(context.Background(), "One. Two three four", rec.onHighlight, rec.onFinish); err != nil {
		t.Fatal(err)
	}
	if err := rec.wait(t); err != nil {
		t.Fatalf("finish err = %v", err)
	}

	want := []timing.Range{{0, 4}, {5, 8}, {9, 14}, {15, 19}}
	if got := rec.ranges(); !reflect.DeepEqual(got, want) {
		t.Errorf("ranges = %v, want %v", got, want)
	}
	var texts []string
	for _, u := range m.Calls() {
		texts = append(texts, u.Text)
	}
	if want := []string{"One.", " Two three", " four"}; !reflect.DeepEqual(texts, want) {
		t.Errorf("spoke %q, want %q", texts, want)
	}
	if b.Stop() {
		t.Error("Stop reported active playback after finish")
	}
}

func TestDeviceBackend_StopMidChunk(t *testing.T) {
	m := &synth.Mock{MaxLength: 10, Hold: make(chan struct{})}
	b := NewDeviceBackend(m)
	rec := newRecorder()

	if err := b.SpeakWithHighlight(context.Background(), "One. Two three four", rec.onHighlight, rec.onFinish); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first highlight", func() bool { return len(rec.ranges()) == 1 })

	if !b.Stop() {
		t.Fatal("Stop reported nothing playing")
	}
	if err := rec.wait(t); !errors.Is(err, ErrStopped) {
		t.Errorf("finish err = %v, want ErrStopped", err)
	}
	if n := len(m.Calls()); n != 1 {
		t.Errorf("%d chunks started, want 1", n)
	}
	if b.Stop() {
		t.Error("second Stop reported active playback")
	}
	if rec.finishes != 1 {
		t.Errorf("onFinish called %d times", rec.finishes)
	}
}

func TestDeviceBackend_SynthError(t *testing.T) {
	boom := errors.New("boom")
	m := &synth.Mock{MaxLength: 10, Err: boom, FailOn: 2}
	b := NewDeviceBackend(m)
	rec := newRecorder()

	b.SpeakWithHighlight(context.Background(), "One. Two three four", rec.onHighlight, rec.onFinish) //nolint:errcheck
	if err := rec.wait(t); !errors.Is(err, boom) {
		t.Errorf("finish err = %v, want boom", err)
	}
	h, _ := rec.last()
	if !h.Cleared {
		t.Errorf("last highlight = %+v, want cleared", h)
	}
	if len(m.Calls()) != 2 {
		t.Errorf("chunks after failure were spoken: %d calls", len(m.Calls()))
	}
}

func TestDeviceBackend_EmptyText(t *testing.T) {
	b := NewDeviceBackend(&synth.Mock{})
	if err := b.Speak(context.Background(), " \n"); !errors.Is(err, ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
	if err := b.Speak(context.Background(), "hello there"); err != nil {
		t.Errorf("Speak: %v", err)
	}
}

func writeWAV(t *testing.T, dir, name string, seconds int) string {
	t.Helper()
	f := wav.Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, wav.Encode(f, make([]byte, seconds*f.BytesPerSecond())), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

var threeMarks = []timing.Timepoint{
	{MarkName: "0:0:3", TimeSeconds: 0},
	{MarkName: "1:4:7", TimeSeconds: 1.2},
	{MarkName: "2:8:13", TimeSeconds: 2.5},
}

func TestCachedBackend_FollowsPlayerPosition(t *testing.T) {
	player := audio.NewMockPlayer()
	path := writeWAV(t, t.TempDir(), "a.wav", 3)
	b := NewCachedBackend(player, path, threeMarks, WithTickRate(time.Millisecond))
	rec := newRecorder()

	if err := b.SpeakWithHighlight(context.Background(), "one two three", rec.onHighlight, rec.onFinish); err != nil {
		t.Fatal(err)
	}
	if player.LastPath() != path {
		t.Errorf("played %q", player.LastPath())
	}

	waitFor(t, "first mark", func() bool { return len(rec.ranges()) == 1 })
	player.SetPosition(1900 * time.Millisecond)
	waitFor(t, "second mark", func() bool { return len(rec.ranges()) == 2 })
	// Ticks at the same position add nothing.
	time.Sleep(20 * time.Millisecond)
	player.SetPosition(3 * time.Second)
	waitFor(t, "third mark", func() bool { return len(rec.ranges()) == 3 })

	player.Finish()
	if err := rec.wait(t); err != nil {
		t.Errorf("finish err = %v", err)
	}

	want := []timing.Range{{0, 3}, {4, 7}, {8, 13}}
	if got := rec.ranges(); !reflect.DeepEqual(got, want) {
		t.Errorf("ranges = %v, want %v", got, want)
	}
	for _, h := range rec.highlights {
		if h.Backend != KindCached {
			t.Errorf("highlight from %v backend", h.Backend)
		}
	}
}

// drainingPlayer ends its stream during the next Position call, reporting
// 0 the way OtoPlayer does once its stream is released.
type drainingPlayer struct {
	*audio.MockPlayer
	drain atomic.Bool
}

func (p *drainingPlayer) Position() time.Duration {
	if p.drain.Load() {
		p.MockPlayer.Finish()
		return 0
	}
	return p.MockPlayer.Position()
}

func TestCachedBackend_NoRewindAtEnd(t *testing.T) {
	player := &drainingPlayer{MockPlayer: audio.NewMockPlayer()}
	path := writeWAV(t, t.TempDir(), "a.wav", 3)
	b := NewCachedBackend(player, path, threeMarks, WithTickRate(time.Millisecond))
	rec := newRecorder()

	if err := b.SpeakWithHighlight(context.Background(), "one two three", rec.onHighlight, rec.onFinish); err != nil {
		t.Fatal(err)
	}
	player.SetPosition(3 * time.Second)
	waitFor(t, "last mark", func() bool {
		h, ok := rec.last()
		return ok && h.Range == timing.Range{Start: 8, End: 13}
	})

	player.drain.Store(true)
	if err := rec.wait(t); err != nil {
		t.Errorf("finish err = %v", err)
	}
	if h, _ := rec.last(); h.Range != (timing.Range{Start: 8, End: 13}) {
		t.Errorf("last highlight = %v after the stream ended", h.Range)
	}
}

func TestCachedBackend_NoHighlightBeforeFirstMark(t *testing.T) {
	player := audio.NewMockPlayer()
	path := writeWAV(t, t.TempDir(), "a.wav", 1)
	late := []timing.Timepoint{{MarkName: "0:0:3", TimeSeconds: 0.5}}
	b := NewCachedBackend(player, path, late, WithTickRate(time.Millisecond))
	rec := newRecorder()

	b.SpeakWithHighlight(context.Background(), "one", rec.onHighlight, rec.onFinish) //nolint:errcheck
	time.Sleep(20 * time.Millisecond)
	if n := len(rec.ranges()); n != 0 {
		t.Errorf("%d highlights before the first mark", n)
	}
	if !b.Stop() {
		t.Error("Stop reported nothing playing")
	}
	if err := rec.wait(t); !errors.Is(err, ErrStopped) {
		t.Errorf("finish err = %v", err)
	}
	if player.State() != audio.StateStopped {
		t.Errorf("player left %v", player.State())
	}
}

func TestCachedBackend_NoTimepoints(t *testing.T) {
	player := audio.NewMockPlayer()
	path := writeWAV(t, t.TempDir(), "a.wav", 1)
	b := NewCachedBackend(player, path, nil, WithTickRate(time.Millisecond))
	rec := newRecorder()

	b.SpeakWithHighlight(context.Background(), "text", rec.onHighlight, rec.onFinish) //nolint:errcheck
	player.SetPosition(500 * time.Millisecond)
	player.Finish()
	if err := rec.wait(t); err != nil {
		t.Errorf("finish err = %v", err)
	}
	if n := len(rec.highlights); n != 0 {
		t.Errorf("%d highlights without timepoints", n)
	}
}

func TestCachedBackend_PlayError(t *testing.T) {
	player := audio.NewMockPlayer()
	player.PlayErr = audio.ErrInvalidAudioFormat
	b := NewCachedBackend(player, "x.wav", nil)
	if err := b.SpeakWithHighlight(context.Background(), "t", nil, nil); !errors.Is(err, audio.ErrInvalidAudioFormat) {
		t.Errorf("err = %v", err)
	}
	if b.Stop() {
		t.Error("failed start left a run behind")
	}
}

// fakeCache serves files from a map.
type fakeCache struct {
	paths map[string]string
	tps   map[string][]timing.Timepoint
}

func (c *fakeCache) Lookup(id string) (string, bool) {
	p, ok := c.paths[id]
	return p, ok
}

func (c *fakeCache) Timepoints(id string) ([]timing.Timepoint, error) {
	tps, ok := c.tps[id]
	if !ok {
		return nil, cache.ErrFileNotFound
	}
	return tps, nil
}

func newEngine(t *testing.T, m *synth.Mock) (*Engine, *audio.MockPlayer, *fakeCache) {
	t.Helper()
	player := audio.NewMockPlayer()
	fc := &fakeCache{
		paths: map[string]string{
			"cached":     writeWAV(t, t.TempDir(), "cached.wav", 3),
			"compressed": filepath.Join(t.TempDir(), "compressed.mp3"),
		},
		tps:   map[string][]timing.Timepoint{"cached": threeMarks},
	}
	e := NewEngine(NewDeviceBackend(m), player, fc, WithEngineTickRate(time.Millisecond))
	return e, player, fc
}

func TestEngine_SelectsBackend(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		want   Kind
		player bool
	}{
		{"cloud preferred and cached", Request{ContentID: "cached", PreferCloud: true}, KindCached, true},
		{"cloud preferred but missing", Request{ContentID: "other", PreferCloud: true}, KindDevice, false},
		{"device preferred", Request{ContentID: "cached"}, KindDevice, false},
		{"cached but not wav", Request{ContentID: "compressed", PreferCloud: true}, KindDevice, false},
		{"no id", Request{PreferCloud: true}, KindDevice, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, player, _ := newEngine(t, &synth.Mock{Hold: make(chan struct{})})
			tt.req.Text = "one two three"
			s, err := e.Start(context.Background(), tt.req)
			if err != nil {
				t.Fatal(err)
			}
			defer e.Stop()

			if s.Backend != tt.want {
				t.Errorf("backend = %v, want %v", s.Backend, tt.want)
			}
			if played := player.LastPath() != ""; played != tt.player {
				t.Errorf("player used = %v, want %v", played, tt.player)
			}
			if s.ID == "" {
				t.Error("session has no id")
			}
		})
	}
}

func TestEngine_NoDevice(t *testing.T) {
	e := NewEngine(nil, audio.NewMockPlayer(), nil)
	if _, err := e.Start(context.Background(), Request{Text: "hi"}); !errors.Is(err, ErrNoDevice) {
		t.Errorf("err = %v, want ErrNoDevice", err)
	}
	if e.Active() != nil {
		t.Error("failed start left an active session")
	}
}

func TestEngine_NoDeviceForNonWAV(t *testing.T) {
	fc := &fakeCache{paths: map[string]string{"doc": filepath.Join(t.TempDir(), "doc.m4a")}}
	player := audio.NewMockPlayer()
	e := NewEngine(nil, player, fc)
	_, err := e.Start(context.Background(), Request{ContentID: "doc", PreferCloud: true, Text: "hi"})
	if !errors.Is(err, ErrNoDevice) {
		t.Errorf("err = %v, want ErrNoDevice", err)
	}
	if player.LastPath() != "" {
		t.Errorf("played %q", player.LastPath())
	}
}

func TestEngine_StartReplacesSession(t *testing.T) {
	m := &synth.Mock{Hold: make(chan struct{})}
	e, _, _ := newEngine(t, m)
	ctx := context.Background()

	first := newRecorder()
	a, err := e.Start(ctx, Request{Text: "first text", OnHighlight: first.onHighlight, OnFinish: first.onFinish})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first session to speak", func() bool { return len(first.ranges()) == 2 })

	second := newRecorder()
	b, err := e.Start(ctx, Request{ContentID: "cached", PreferCloud: true, Text: "one two three",
		OnHighlight: second.onHighlight, OnFinish: second.onFinish})
	if err != nil {
		t.Fatal(err)
	}

	// The first session ended before Start returned.
	select {
	case <-a.Done():
	default:
		t.Fatal("first session still running")
	}
	if !errors.Is(a.Err(), ErrStopped) {
		t.Errorf("first session err = %v", a.Err())
	}
	if h, _ := first.last(); !h.Cleared {
		t.Errorf("first session's last highlight = %+v, want cleared", h)
	}
	if got := e.Active(); got != b || got.ID == a.ID {
		t.Errorf("active session = %v, want the second", got)
	}
	if first.finishes != 1 {
		t.Errorf("first onFinish called %d times", first.finishes)
	}

	e.Stop()
	if second.wait(t) == nil {
		t.Error("stopped session finished without error")
	}
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	e, player, _ := newEngine(t, &synth.Mock{})
	rec := newRecorder()
	src := nowplaying.Document{ID: "cached", Locator: "p1"}

	s, err := e.Start(context.Background(), Request{ContentID: "cached", PreferCloud: true, Title: "Doc",
		Text: "one two three", Source: src, OnHighlight: rec.onHighlight, OnFinish: rec.onFinish})
	if err != nil {
		t.Fatal(err)
	}
	player.SetPosition(2 * time.Second)
	waitFor(t, "second mark", func() bool {
		h, _ := rec.last()
		return h.Range == timing.Range{Start: 4, End: 7}
	})

	if !e.Stop() {
		t.Fatal("Stop reported nothing playing")
	}
	if e.Stop() {
		t.Error("second Stop reported a session")
	}
	if err := rec.wait(t); !errors.Is(err, ErrStopped) {
		t.Errorf("finish err = %v", err)
	}
	if h, _ := rec.last(); !h.Cleared {
		t.Errorf("last highlight = %+v, want cleared", h)
	}
	if player.State() != audio.StateStopped {
		t.Errorf("player state = %v", player.State())
	}

	// Stop pauses the now-playing record but keeps it.
	np := e.NowPlaying().Snapshot()
	if np.Playing || np.Source == nil || np.Title != "Doc" {
		t.Errorf("now playing after stop = %+v", np)
	}
	if np.Progress != 7.0/13.0 {
		t.Errorf("progress = %v, want %v", np.Progress, 7.0/13.0)
	}
	if s.Err() != ErrStopped {
		t.Errorf("session err = %v", s.Err())
	}
}

func TestEngine_NaturalFinishDismisses(t *testing.T) {
	e, _, _ := newEngine(t, &synth.Mock{})
	rec := newRecorder()

	s, err := e.Start(context.Background(), Request{Title: "t", Text: "a few words",
		Source: nowplaying.RawText{Text: "a few words"}, OnHighlight: rec.onHighlight, OnFinish: rec.onFinish})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("session err = %v", err)
	}
	if e.Active() != nil {
		t.Error("finished session still active")
	}
	if !e.NowPlaying().Snapshot().Idle() {
		t.Errorf("now playing = %+v, want idle", e.NowPlaying().Snapshot())
	}
	if h, _ := rec.last(); !h.Cleared {
		t.Error("highlight not cleared after finish")
	}
}

func TestEngine_Rewrite(t *testing.T) {
	m := &synth.Mock{}
	e, _, _ := newEngine(t, m)
	annotate := func(s string) string { return s + " (rewritten)" }
	ctx := context.Background()

	s, _ := e.Start(ctx, Request{Text: "plain", Rewrite: annotate})
	s.Wait(ctx) //nolint:errcheck
	s, _ = e.Start(ctx, Request{Text: "highlighted", Rewrite: annotate, OnHighlight: func(Highlight) {}})
	s.Wait(ctx) //nolint:errcheck

	calls := m.Calls()
	if len(calls) != 2 || calls[0].Text != "plain (rewritten)" || calls[1].Text != "highlighted" {
		t.Errorf("spoken texts = %+v", calls)
	}
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/chunk"
	"github.com/dgnsrekt/readaloud/internal/timing"
	"github.com/dgnsrekt/readaloud/internal/wav"
)

// oneSecond is a 1 second, 16kHz mono WAV.
var oneSecond = wav.Encode(wav.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}, make([]byte, 32000))

// fakeGenerator serves one WAV per call and one mark per chunk.
type fakeGenerator struct {
	audioURL string
	fail     int // fail on this call number, 1-based

	mu    sync.Mutex
	texts []string
}

func (g *fakeGenerator) Generate(_ context.Context, req Request) (Generated, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Generated{}, ErrEmptyText
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.texts = append(g.texts, req.Text)
	if len(g.texts) == g.fail {
		return Generated{}, &ServerError{Code: 500}
	}
	n := chunk.CodeUnitLen(req.Text)
	return Generated{
		AudioURL: fmt.Sprintf("%s/audio/%d.wav?sig=x", g.audioURL, len(g.texts)),
		Timepoints: []timing.Timepoint{
			{MarkName: fmt.Sprintf("0:0:%d", min(n, 1)), TimeSeconds: 0},
			{MarkName: fmt.Sprintf("1:%d:%d", n-1, n), TimeSeconds: 0.5},
		},
	}, nil
}

func newAudioServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(oneSecond) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRenderer_Render(t *testing.T) {
	srv := newAudioServer(t)
	gen := &fakeGenerator{audioURL: srv.URL}
	mgr, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	text := strings.Repeat("これはテストです。", 20) // 27 bytes per sentence
	r := NewRenderer(gen, mgr, WithChunkBytes(100), WithTempDir(t.TempDir()))

	path, err := r.Render(context.Background(), "doc", Request{Text: text, VoiceID: "ja-jp-female-a"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	chunks, _ := chunk.ByBytes(text, 100)
	if len(gen.texts) != len(chunks) {
		t.Fatalf("generated %d chunks, want %d", len(gen.texts), len(chunks))
	}
	if strings.Join(gen.texts, "") != text {
		t.Error("chunks sent to the server do not reconstruct the text")
	}

	if got := wav.Duration(path); math.Abs(got-float64(len(chunks))) > 1e-9 {
		t.Errorf("joined duration = %v, want %d", got, len(chunks))
	}

	tps, err := mgr.Timepoints("doc")
	if err != nil {
		t.Fatal(err)
	}
	table := timing.Decode(tps, chunk.CodeUnitLen(text))
	if len(table) != 2*len(chunks) {
		t.Fatalf("table has %d marks, want %d", len(table), 2*len(chunks))
	}

	// The second chunk's first mark starts at its source offset, one second in.
	m, ok := table.At(1.0)
	if !ok || m.Range.Start != chunks[1].Offset {
		t.Errorf("At(1.0) = %+v, want start %d", m, chunks[1].Offset)
	}
	last := table[len(table)-1]
	if last.Range.End != chunk.CodeUnitLen(text) {
		t.Errorf("last mark ends at %d, want end of text", last.Range.End)
	}
}

func TestRenderer_GenerateError(t *testing.T) {
	srv := newAudioServer(t)
	gen := &fakeGenerator{audioURL: srv.URL, fail: 2}
	mgr, _ := cache.New(t.TempDir())

	r := NewRenderer(gen, mgr, WithChunkBytes(10), WithTempDir(t.TempDir()))
	_, err := r.Render(context.Background(), "doc", Request{Text: "one two three four five"})

	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want ServerError", err)
	}
	if mgr.Exists("doc") {
		t.Error("partial render was cached")
	}
}

func TestRenderer_BlankTrailingChunk(t *testing.T) {
	srv := newAudioServer(t)
	gen := &fakeGenerator{audioURL: srv.URL}
	mgr, _ := cache.New(t.TempDir())

	text := strings.Repeat("a", 99) + ".\n"
	chunks, _ := chunk.ByBytes(text, 100)
	if len(chunks) != 2 || strings.TrimSpace(chunks[1].Text) != "" {
		t.Fatalf("chunks = %+v, want a blank second chunk", chunks)
	}

	r := NewRenderer(gen, mgr, WithChunkBytes(100), WithTempDir(t.TempDir()))
	path, err := r.Render(context.Background(), "doc", Request{Text: text})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(gen.texts) != 1 || gen.texts[0] != chunks[0].Text {
		t.Errorf("generated %q, want only the first chunk", gen.texts)
	}
	if got := wav.Duration(path); math.Abs(got-1) > 1e-9 {
		t.Errorf("duration = %v, want 1", got)
	}
	if !mgr.Exists("doc") {
		t.Error("render was not cached")
	}
}

func TestRenderer_OnlyBlankText(t *testing.T) {
	gen := &fakeGenerator{}
	mgr, _ := cache.New(t.TempDir())

	r := NewRenderer(gen, mgr, WithTempDir(t.TempDir()))
	_, err := r.Render(context.Background(), "doc", Request{Text: " \n\t"})
	if !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
	if len(gen.texts) != 0 || mgr.Exists("doc") {
		t.Error("blank text reached the server or the cache")
	}
}

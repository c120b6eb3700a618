package jobs

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/chunk"
	"github.com/dgnsrekt/readaloud/internal/timing"
	"github.com/dgnsrekt/readaloud/internal/wav"
)

// Generator renders one request synchronously.
type Generator interface {
	Generate(ctx context.Context, req Request) (Generated, error)
}

// FileStore takes ownership of a finished local file.
type FileStore interface {
	StoreFile(id, path string) (string, error)
	StoreTimepoints(id string, tps []timing.Timepoint) error
}

// Renderer renders long text on the client side: one synchronous request per
// byte-budgeted chunk, joined into a single cached file with one timeline.
type Renderer struct {
	gen      Generator
	store    FileStore
	http     *http.Client
	logger   *log.Logger
	maxBytes int
	tempDir  string
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithChunkBytes overrides the per-request byte budget.
func WithChunkBytes(n int) RendererOption {
	return func(r *Renderer) { r.maxBytes = n }
}

// WithDownloadClient sets the client used to fetch chunk audio.
func WithDownloadClient(c *http.Client) RendererOption {
	return func(r *Renderer) { r.http = c }
}

// WithRendererLogger sets the logger.
func WithRendererLogger(l *log.Logger) RendererOption {
	return func(r *Renderer) { r.logger = l }
}

// WithTempDir sets where chunk audio is staged.
func WithTempDir(dir string) RendererOption {
	return func(r *Renderer) { r.tempDir = dir }
}

// NewRenderer returns a renderer that stores its output in store.
func NewRenderer(gen Generator, store FileStore, opts ...RendererOption) *Renderer {
	r := &Renderer{
		gen:      gen,
		store:    store,
		http:     &http.Client{},
		logger:   log.Default(),
		maxBytes: chunk.CloudMaxBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render synthesizes req.Text and caches the joined audio and timepoints
// under contentID. It returns the cached audio path.
func (r *Renderer) Render(ctx context.Context, contentID string, req Request) (string, error) {
	chunks, err := chunk.ByBytes(req.Text, r.maxBytes)
	if err != nil {
		return "", err
	}

	staging, err := os.MkdirTemp(r.tempDir, "render-*")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging) //nolint:errcheck

	scratch, err := cache.New(staging, cache.WithHTTPClient(r.http), cache.WithLogger(r.logger))
	if err != nil {
		return "", err
	}

	var (
		paths      []string
		timepoints []timing.Timepoint
		elapsed    float64
	)
	for i, c := range chunks {
		// The server rejects blank text; its code units still count
		// toward later offsets through c.Offset.
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		creq := req
		creq.Text = c.Text

		gen, err := r.gen.Generate(ctx, creq)
		if err != nil {
			return "", fmt.Errorf("generate chunk %d at offset %d: %w", i, c.Offset, err)
		}
		p, err := scratch.Store(ctx, fmt.Sprintf("chunk-%04d", i), gen.AudioURL)
		if err != nil {
			return "", fmt.Errorf("fetch chunk %d: %w", i, err)
		}

		timepoints = append(timepoints, timing.Shift(gen.Timepoints, c.Offset, elapsed)...)
		elapsed += wav.Duration(p)
		paths = append(paths, p)
		r.logger.Debug("Rendered chunk", "id", contentID, "chunk", i, "offset", c.Offset, "elapsed", elapsed)
	}

	if len(paths) == 0 {
		return "", ErrEmptyText
	}

	joined := filepath.Join(staging, "joined.wav")
	if err := wav.Concatenate(paths, joined); err != nil {
		return "", fmt.Errorf("join chunks: %w", err)
	}

	out, err := r.store.StoreFile(contentID, joined)
	if err != nil {
		return "", err
	}
	if len(timepoints) > 0 {
		if err := r.store.StoreTimepoints(contentID, timepoints); err != nil {
			return "", err
		}
	}
	r.logger.Info("Rendered audio", "id", contentID, "chunks", len(paths), "seconds", elapsed, "path", out)
	return out, nil
}

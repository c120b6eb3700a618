package playback

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/chunk"
	"github.com/dgnsrekt/readaloud/internal/nowplaying"
	"github.com/dgnsrekt/readaloud/internal/timing"
)

var ErrNoDevice = errors.New("no device synthesizer configured")

// Cache is the part of the audio cache the engine reads.
type Cache interface {
	Lookup(id string) (string, bool)
	Timepoints(id string) ([]timing.Timepoint, error)
}

// Request describes one thing to read aloud.
type Request struct {
	// ContentID names cached audio for the text; it may be empty.
	ContentID string
	Title     string
	Text      string
	// Source is recorded in the now-playing state.
	Source nowplaying.Source
	// PreferCloud plays cached audio for ContentID when there is any.
	PreferCloud bool
	// Rewrite adjusts text before it is spoken. It only runs without
	// OnHighlight, since rewritten text no longer lines up with Text.
	Rewrite func(string) string

	OnHighlight func(Highlight)
	OnFinish    func(error)
}

// Session is one playback started by Engine.Start.
type Session struct {
	ID        string
	ContentID string
	Backend   Kind
	Started   time.Time

	req     Request
	backend Backend
	textLen int

	mu      sync.Mutex
	cleared bool
	once    sync.Once
	done    chan struct{}
	err     error
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended: nil when it played out.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) highlight(h Highlight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.Cleared && s.cleared {
		return
	}
	s.cleared = h.Cleared
	if s.req.OnHighlight != nil {
		s.req.OnHighlight(h)
	}
}

func (s *Session) clear() {
	s.highlight(Highlight{Backend: s.Backend, Cleared: true})
}

func (s *Session) finish(err error) {
	s.once.Do(func() {
		s.err = err
		if s.req.OnFinish != nil {
			s.req.OnFinish(err)
		}
		close(s.done)
	})
}

// Engine runs at most one playback session at a time.
type Engine struct {
	device     Backend
	player     audio.Player
	cache      Cache
	nowPlaying *nowplaying.Controller
	tick       time.Duration
	logger     *log.Logger

	mu      sync.Mutex // serializes Start and Stop
	current atomic.Pointer[Session]
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNowPlaying reports sessions into c.
func WithNowPlaying(c *nowplaying.Controller) EngineOption {
	return func(e *Engine) { e.nowPlaying = c }
}

// WithEngineTickRate sets the cached backend's tick.
func WithEngineTickRate(d time.Duration) EngineOption {
	return func(e *Engine) { e.tick = d }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *log.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine returns an engine. device may be nil when only cached audio
// will be played; cache may be nil when it never will.
func NewEngine(device Backend, player audio.Player, c Cache, opts ...EngineOption) *Engine {
	e := &Engine{
		device:     device,
		player:     player,
		cache:      c,
		nowPlaying: nowplaying.New(),
		tick:       DefaultTickRate,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NowPlaying returns the controller the engine reports into.
func (e *Engine) NowPlaying() *nowplaying.Controller { return e.nowPlaying }

// Active returns the running session, or nil.
func (e *Engine) Active() *Session { return e.current.Load() }

// Start stops whatever is playing and starts req.
func (e *Engine) Start(ctx context.Context, req Request) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	backend, err := e.selectBackend(req)
	if err != nil {
		return nil, err
	}

	text := req.Text
	if req.Rewrite != nil && req.OnHighlight == nil {
		text = req.Rewrite(text)
	}

	s := &Session{
		ID:        uuid.NewString(),
		ContentID: req.ContentID,
		Backend:   backend.Kind(),
		Started:   time.Now(),
		req:       req,
		backend:   backend,
		textLen:   chunk.CodeUnitLen(req.Text),
		done:      make(chan struct{}),
	}
	e.current.Store(s)
	e.nowPlaying.Start(req.Title, req.Text, req.Source)

	onHighlight := func(h Highlight) {
		if e.current.Load() != s {
			return
		}
		if !h.Cleared && s.textLen > 0 {
			e.nowPlaying.UpdateProgress(float64(h.Range.End) / float64(s.textLen))
		}
		s.highlight(h)
	}
	onFinish := func(err error) {
		if !e.current.CompareAndSwap(s, nil) {
			return
		}
		s.clear()
		if err == nil {
			e.nowPlaying.Dismiss()
		} else {
			e.nowPlaying.Stop()
		}
		e.logger.Debug("Playback finished", "session", s.ID, "backend", s.Backend, "err", err)
		s.finish(err)
	}

	if err := backend.SpeakWithHighlight(ctx, text, onHighlight, onFinish); err != nil {
		e.current.CompareAndSwap(s, nil)
		e.nowPlaying.Stop()
		return nil, err
	}
	e.logger.Debug("Playback started", "session", s.ID, "backend", s.Backend, "id", req.ContentID)
	return s, nil
}

func (e *Engine) selectBackend(req Request) (Backend, error) {
	if req.PreferCloud && req.ContentID != "" && e.cache != nil {
		path, ok := e.cache.Lookup(req.ContentID)
		switch {
		case ok && !strings.EqualFold(filepath.Ext(path), ".wav"):
			// The player only decodes WAV.
			e.logger.Debug("Cached audio is not WAV, using device", "id", req.ContentID, "path", path)
		case ok:
			tps, err := e.cache.Timepoints(req.ContentID)
			if err != nil && !errors.Is(err, cache.ErrFileNotFound) {
				e.logger.Warn("Ignoring unreadable timepoints", "id", req.ContentID, "err", err)
			}
			return NewCachedBackend(e.player, path, tps, WithTickRate(e.tick), WithCachedLogger(e.logger)), nil
		}
	}
	if e.device == nil {
		return nil, ErrNoDevice
	}
	return e.device, nil
}

// Stop ends the active session and clears its highlight. It reports whether
// a session was running.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

func (e *Engine) stopLocked() bool {
	s := e.current.Swap(nil)
	if s == nil {
		return false
	}
	s.backend.Stop()
	s.clear()
	e.nowPlaying.Stop()
	s.finish(ErrStopped)
	e.logger.Debug("Playback stopped", "session", s.ID)
	return true
}

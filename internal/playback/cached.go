package playback

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/chunk"
	"github.com/dgnsrekt/readaloud/internal/timing"
)

// DefaultTickRate is how often the cached backend samples the player.
const DefaultTickRate = time.Second / 60

// CachedBackend plays one rendered audio file. When timepoints are present
// it samples the player's position on every tick and highlights the mark
// in effect, emitting only when that mark's range changes.
type CachedBackend struct {
	player     audio.Player
	path       string
	timepoints []timing.Timepoint
	tick       time.Duration
	logger     *log.Logger

	mu  sync.Mutex
	cur *run
}

// CachedOption configures a CachedBackend.
type CachedOption func(*CachedBackend)

// WithTickRate sets the highlight sampling interval.
func WithTickRate(d time.Duration) CachedOption {
	return func(b *CachedBackend) {
		if d > 0 {
			b.tick = d
		}
	}
}

// WithCachedLogger sets the logger.
func WithCachedLogger(l *log.Logger) CachedOption {
	return func(b *CachedBackend) { b.logger = l }
}

// NewCachedBackend returns a backend for the audio at path. tps may be nil.
func NewCachedBackend(player audio.Player, path string, tps []timing.Timepoint, opts ...CachedOption) *CachedBackend {
	b := &CachedBackend{
		player:     player,
		path:       path,
		timepoints: tps,
		tick:       DefaultTickRate,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *CachedBackend) Kind() Kind { return KindCached }

// Speak plays the file and blocks until it ends.
func (b *CachedBackend) Speak(ctx context.Context, text string) error {
	return speak(ctx, b, text)
}

// SpeakWithHighlight starts the file. text is the source the timepoints
// index into; marks outside it are dropped.
func (b *CachedBackend) SpeakWithHighlight(ctx context.Context, text string, onHighlight func(Highlight), onFinish func(error)) error {
	b.Stop()

	table := timing.Decode(b.timepoints, chunk.CodeUnitLen(text))
	if err := b.player.Play(b.path); err != nil {
		return err
	}
	done := b.player.Done()

	ctx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	b.mu.Lock()
	b.cur = r
	b.mu.Unlock()

	b.logger.Debug("Playing cached audio", "path", b.path, "marks", len(table))

	go func() {
		defer close(r.done)
		defer cancel()

		err := b.follow(ctx, done, table, onHighlight)

		b.mu.Lock()
		if b.cur == r {
			b.cur = nil
		}
		b.mu.Unlock()

		if onFinish != nil {
			onFinish(err)
		}
	}()
	return nil
}

// follow runs the highlight tick until the player is done or ctx ends.
func (b *CachedBackend) follow(ctx context.Context, done <-chan struct{}, table timing.Table, onHighlight func(Highlight)) error {
	// No timepoints or nobody listening: no tick at all.
	var tick <-chan time.Time
	if len(table) > 0 && onHighlight != nil {
		ticker := time.NewTicker(b.tick)
		defer ticker.Stop()
		tick = ticker.C
	}

	var (
		last    timing.Range
		emitted bool
	)
	for {
		select {
		case <-ctx.Done():
			b.player.Stop() //nolint:errcheck
			return ErrStopped
		case <-done:
			if ctx.Err() != nil {
				return ErrStopped
			}
			return nil
		case <-tick:
			pos := b.player.Position()
			// A player that has just drained reports 0.
			select {
			case <-done:
				continue
			default:
			}
			m, ok := table.At(pos.Seconds())
			if !ok || (emitted && m.Range == last) {
				continue
			}
			last, emitted = m.Range, true
			onHighlight(Highlight{Range: m.Range, Backend: KindCached})
		}
	}
}

// Stop stops the player, cancels the tick and waits for it to exit.
func (b *CachedBackend) Stop() bool {
	b.mu.Lock()
	r := b.cur
	b.cur = nil
	b.mu.Unlock()

	if r == nil {
		return false
	}
	r.cancel()
	<-r.done
	return true
}

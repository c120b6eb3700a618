package playback

import (
	"context"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/chunk"
	"github.com/dgnsrekt/readaloud/internal/synth"
	"github.com/dgnsrekt/readaloud/internal/timing"
)

// DeviceBackend speaks through an on-device synthesizer. Text longer than
// the synthesizer's limit is split into chunks that are spoken in order;
// ranges reported for a chunk are moved back into source-text offsets.
type DeviceBackend struct {
	synth  synth.Synthesizer
	voice  synth.Utterance
	logger *log.Logger

	mu  sync.Mutex
	cur *run
}

// DeviceOption configures a DeviceBackend.
type DeviceOption func(*DeviceBackend)

// WithVoice sets voice, rate, pitch and volume for every utterance. Text is
// ignored.
func WithVoice(u synth.Utterance) DeviceOption {
	return func(b *DeviceBackend) { b.voice = u }
}

// WithDeviceLogger sets the logger.
func WithDeviceLogger(l *log.Logger) DeviceOption {
	return func(b *DeviceBackend) { b.logger = l }
}

// NewDeviceBackend returns a backend speaking through s.
func NewDeviceBackend(s synth.Synthesizer, opts ...DeviceOption) *DeviceBackend {
	b := &DeviceBackend{synth: s, logger: log.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *DeviceBackend) Kind() Kind { return KindDevice }

// Speak reads text and blocks until it ends.
func (b *DeviceBackend) Speak(ctx context.Context, text string) error {
	return speak(ctx, b, text)
}

// SpeakWithHighlight starts reading text chunk by chunk.
func (b *DeviceBackend) SpeakWithHighlight(ctx context.Context, text string, onHighlight func(Highlight), onFinish func(error)) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	chunks, err := chunk.ByCodeUnits(text, b.synth.Limit())
	if err != nil {
		return err
	}

	b.Stop()

	ctx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	b.mu.Lock()
	b.cur = r
	b.mu.Unlock()

	emit := func(h Highlight) {
		if onHighlight != nil {
			onHighlight(h)
		}
	}

	go func() {
		defer close(r.done)
		defer cancel()

		err := b.speakChunks(ctx, chunks, emit)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			err = ErrStopped
		default:
			b.logger.Debug("Device synthesis failed", "err", err)
			emit(Highlight{Backend: KindDevice, Cleared: true})
		}

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

func (b *DeviceBackend) speakChunks(ctx context.Context, chunks []chunk.Chunk, emit func(Highlight)) error {
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		u := b.voice
		u.Text = c.Text
		b.logger.Debug("Speaking chunk", "chunk", i+1, "of", len(chunks), "offset", c.Offset)

		err := b.synth.Speak(ctx, u, func(r timing.Range) {
			emit(Highlight{Range: r.Shift(c.Offset), Backend: KindDevice})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop halts the synthesizer and waits for the chunk loop to exit.
func (b *DeviceBackend) Stop() bool {
	b.mu.Lock()
	r := b.cur
	b.cur = nil
	b.mu.Unlock()

	if r == nil {
		return false
	}
	r.cancel()
	b.synth.Stop()
	<-r.done
	return true
}

package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/chunk"
	"github.com/dgnsrekt/readaloud/internal/timing"
	"github.com/dgnsrekt/readaloud/internal/wav"
)

const (
	defaultPiperBinary = "piper"
	defaultSampleRate  = 22050
	defaultTimeout     = 30 * time.Second
	defaultTick        = 15 * time.Millisecond
)

// PiperConfig holds configuration for the Piper synthesizer.
type PiperConfig struct {
	// Binary is the piper executable (defaults to "piper" on PATH).
	Binary string

	// Model file path (required)
	ModelPath string

	// Config file path (optional, defaults to model path with .json extension)
	ConfigPath string

	// SampleRate of the model's output (defaults to 22050)
	SampleRate int

	// MaxLength overrides DefaultMaxLength.
	MaxLength int

	// Timeout bounds one piper run (defaults to 30s).
	Timeout time.Duration
}

type volumeSetter interface {
	SetVolume(float64) error
}

// Piper speaks through the offline piper binary. Text is written to piper's
// stdin, raw 16-bit mono PCM is read from stdout and played on the audio
// player. Word ranges are reported as the played position crosses each
// word's share of the audio.
type Piper struct {
	cfg    PiperConfig
	player audio.Player
	logger *log.Logger
	tick   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

// PiperOption configures a Piper.
type PiperOption func(*Piper)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) PiperOption {
	return func(p *Piper) { p.logger = l }
}

// WithTick sets how often the played position is sampled.
func WithTick(d time.Duration) PiperOption {
	return func(p *Piper) { p.tick = d }
}

// NewPiper creates a Piper synthesizer playing through player.
func NewPiper(cfg PiperConfig, player audio.Player, opts ...PiperOption) (*Piper, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: model path is required", ErrNotConfigured)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = strings.TrimSuffix(cfg.ModelPath, filepath.Ext(cfg.ModelPath)) + ".json"
	}
	if cfg.Binary == "" {
		cfg.Binary = defaultPiperBinary
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	p := &Piper{
		cfg:    cfg,
		player: player,
		logger: log.Default(),
		tick:   defaultTick,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Limit returns the maximum input length in UTF-16 code units.
func (p *Piper) Limit() int { return p.cfg.MaxLength }

// Format returns the PCM format piper produces.
func (p *Piper) Format() wav.Format {
	return wav.Format{SampleRate: p.cfg.SampleRate, Channels: 1, BitsPerSample: 16}
}

// Speak synthesizes u and plays it, blocking until playback ends.
func (p *Piper) Speak(ctx context.Context, u Utterance, onRange func(timing.Range)) error {
	if strings.TrimSpace(u.Text) == "" {
		return ErrEmptyText
	}
	if n := chunk.CodeUnitLen(u.Text); n > p.cfg.MaxLength {
		return fmt.Errorf("%w: %d code units (max %d)", ErrTextTooLong, n, p.cfg.MaxLength)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.gen++
	gen := p.gen
	p.mu.Unlock()
	defer p.clear(gen, cancel)

	pcm, err := p.synthesize(ctx, u)
	if err != nil {
		return err
	}
	if v, ok := p.player.(volumeSetter); ok && u.Volume > 0 {
		v.SetVolume(min(u.Volume, 1.0)) //nolint:errcheck
	}
	if err := p.player.PlayPCM(p.Format(), pcm); err != nil {
		return fmt.Errorf("failed to play synthesized audio: %w", err)
	}
	return p.follow(ctx, u.Text, onRange)
}

// follow reports word ranges as playback reaches them and returns when the
// player is done.
func (p *Piper) follow(ctx context.Context, text string, onRange func(timing.Range)) error {
	done := p.player.Done()
	words := Words(text)
	starts := wordStarts(words, chunk.CodeUnitLen(text), p.player.Duration())

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	next := 0
	emit := func() {
		pos := p.player.Position()
		for next < len(words) && starts[next] <= pos {
			if onRange != nil {
				onRange(words[next])
			}
			next++
		}
	}
	emit()

	for {
		select {
		case <-ctx.Done():
			p.player.Stop() //nolint:errcheck
			return ctx.Err()
		case <-done:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		case <-ticker.C:
			emit()
		}
	}
}

// wordStarts spreads duration over the text and returns when each word
// begins.
func wordStarts(words []timing.Range, textLen int, duration time.Duration) []time.Duration {
	starts := make([]time.Duration, len(words))
	if textLen <= 0 {
		return starts
	}
	for i, w := range words {
		starts[i] = time.Duration(float64(duration) * float64(w.Start) / float64(textLen))
	}
	return starts
}

// synthesize runs piper and returns the raw PCM it writes.
func (p *Piper) synthesize(ctx context.Context, u Utterance) ([]byte, error) {
	args := []string{
		"--model", p.cfg.ModelPath,
		"--config", p.cfg.ConfigPath,
		"--output-raw",
		"--length-scale", fmt.Sprintf("%.2f", 1.0/u.rate()),
	}
	if u.Voice != "" {
		args = append(args, "--speaker", u.Voice)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cfg.Binary, args...)
	// Text goes in before the process starts so piper never reads an empty stdin.
	cmd.Stdin = strings.NewReader(u.Text)
	cmd.WaitDelay = 100 * time.Millisecond

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("synthesis cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("piper failed: %w, stderr: %s", err, stderr.String())
	}

	pcm := stdout.Bytes()
	if len(pcm) == 0 {
		return nil, fmt.Errorf("piper produced no audio output, stderr: %s", stderr.String())
	}
	if odd := len(pcm) % 2; odd != 0 {
		pcm = pcm[:len(pcm)-odd]
	}
	p.logger.Debug("Synthesized", "chars", len(u.Text), "bytes", len(pcm), "took", time.Since(start))
	return pcm, nil
}

// Stop halts the current utterance.
func (p *Piper) Stop() bool {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	p.player.Stop() //nolint:errcheck
	return true
}

func (p *Piper) clear(gen uint64, cancel context.CancelFunc) {
	cancel()
	p.mu.Lock()
	defer p.mu.Unlock()
	// A newer Speak may already own the slot.
	if p.gen == gen {
		p.cancel = nil
	}
}

// Validate checks that the piper binary can be found.
func (p *Piper) Validate() error {
	if _, err := exec.LookPath(p.cfg.Binary); err != nil {
		return errors.Join(ErrNotConfigured, fmt.Errorf("piper not found: %w", err))
	}
	return nil
}

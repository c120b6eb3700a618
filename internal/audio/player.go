package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/readaloud/internal/wav"
)

// Common errors for audio playback.
var (
	ErrNothingToPlay      = errors.New("no audio to play")
	ErrInvalidAudioFormat = errors.New("invalid audio format")
	ErrFormatMismatch     = errors.New("audio format differs from the open output device")
	ErrPlayerClosed       = errors.New("player is closed")
)

// Player plays one stream of audio at a time.
type Player interface {
	// Play starts the WAV file at path, replacing anything playing.
	Play(path string) error
	// PlayPCM starts raw PCM in the given format.
	PlayPCM(format wav.Format, pcm []byte) error
	// Position is how much of the current stream the device has played.
	Position() time.Duration
	// Duration is the length of the current stream.
	Duration() time.Duration
	// Done is closed when the current stream finishes or is stopped.
	Done() <-chan struct{}
	Stop() error
}

// PlayerState represents the current state of the player.
type PlayerState int32

const (
	StateStopped PlayerState = iota
	StatePlaying
	StateClosed
)

func (s PlayerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultBufferSize is the device buffer length.
const DefaultBufferSize = 100 * time.Millisecond

// drainPoll is how often the player checks whether oto has drained.
const drainPoll = 10 * time.Millisecond

// OtoPlayer plays PCM through the system audio device. The device is opened
// on first use with that stream's format; oto allows one context per process,
// so later streams must share it.
type OtoPlayer struct {
	bufferSize time.Duration

	mu      sync.Mutex
	context *oto.Context
	format  wav.Format
	player  *oto.Player
	stream  *countingStream
	done    chan struct{}
	stopped chan struct{}

	state  atomic.Int32
	volume float64
}

// NewOtoPlayer returns a player. The device is not opened until Play.
func NewOtoPlayer() *OtoPlayer {
	p := &OtoPlayer{bufferSize: DefaultBufferSize, volume: 1.0}
	p.state.Store(int32(StateStopped))
	return p
}

// validateFormat checks that oto can render format.
func validateFormat(f wav.Format) error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidAudioFormat, f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("%w: channels must be 1 or 2, got %d", ErrInvalidAudioFormat, f.Channels)
	}
	if f.BitsPerSample != 8 && f.BitsPerSample != 16 {
		return fmt.Errorf("%w: bit depth must be 8 or 16, got %d", ErrInvalidAudioFormat, f.BitsPerSample)
	}
	return nil
}

func otoFormat(bits int) oto.Format {
	if bits == 8 {
		return oto.FormatUnsignedInt8
	}
	return oto.FormatSignedInt16LE
}

// Play starts the WAV file at path.
func (p *OtoPlayer) Play(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	h, err := wav.ParseHeader(data)
	if err != nil {
		return err
	}

	pcm := data[wav.HeaderSize:]
	if n := int(h.DataSize); n < len(pcm) {
		pcm = pcm[:n]
	}
	return p.PlayPCM(h.Format, pcm)
}

// PlayPCM starts raw PCM in the given format.
func (p *OtoPlayer) PlayPCM(format wav.Format, pcm []byte) error {
	if len(pcm) == 0 {
		return ErrNothingToPlay
	}
	if err := validateFormat(format); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if PlayerState(p.state.Load()) == StateClosed {
		return ErrPlayerClosed
	}
	p.stopLocked()

	if err := p.ensureContext(format); err != nil {
		return err
	}

	stream := newCountingStream(pcm, format)
	player := p.context.NewPlayer(stream)
	player.SetVolume(p.volume)

	p.player = player
	p.stream = stream
	p.done = make(chan struct{})
	p.stopped = make(chan struct{})

	player.Play()
	p.state.Store(int32(StatePlaying))

	go p.watch(player, p.stopped)
	return nil
}

func (p *OtoPlayer) ensureContext(format wav.Format) error {
	if p.context != nil {
		if format != p.format {
			return fmt.Errorf("%w: have %+v, got %+v", ErrFormatMismatch, p.format, format)
		}
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       otoFormat(format.BitsPerSample),
		BufferSize:   p.bufferSize,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	p.context = ctx
	p.format = format
	return nil
}

// watch closes done once oto has played everything, or when stopped.
func (p *OtoPlayer) watch(player *oto.Player, stopped chan struct{}) {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for {
		select {
		case <-stopped:
			return
		case <-ticker.C:
			if player.IsPlaying() {
				continue
			}
			p.mu.Lock()
			if p.player == player {
				p.releaseLocked()
			}
			p.mu.Unlock()
			return
		}
	}
}

// Position returns how much audio the device has actually played: bytes
// handed to oto minus what is still sitting in its buffer.
func (p *OtoPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.player == nil || p.stream == nil {
		return 0
	}
	played := p.stream.consumed() - int64(p.player.BufferedSize())
	return p.stream.durationOf(played)
}

// Duration returns the length of the current stream.
func (p *OtoPlayer) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return 0
	}
	return p.stream.duration()
}

// Done is closed when the current stream ends. With nothing playing it
// returns a closed channel.
func (p *OtoPlayer) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

// Stop halts playback. Stopping an idle player is a no-op.
func (p *OtoPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	return nil
}

func (p *OtoPlayer) stopLocked() {
	if p.player == nil {
		return
	}
	p.player.Pause()
	close(p.stopped)
	p.releaseLocked()
}

// releaseLocked closes the oto player and signals Done.
func (p *OtoPlayer) releaseLocked() {
	p.player.Close() //nolint:errcheck
	p.player = nil
	p.stream = nil
	close(p.done)
	if PlayerState(p.state.Load()) != StateClosed {
		p.state.Store(int32(StateStopped))
	}
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (p *OtoPlayer) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.volume = volume
	if p.player != nil {
		p.player.SetVolume(volume)
	}
	return nil
}

// State returns the current player state.
func (p *OtoPlayer) State() PlayerState {
	return PlayerState(p.state.Load())
}

// Close stops playback. The oto context stays alive for the process.
func (p *OtoPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.state.Store(int32(StateClosed))
	return nil
}

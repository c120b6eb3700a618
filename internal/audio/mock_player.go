package audio

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/readaloud/internal/wav"
)

// MockPlayer is a Player for tests. Its position only moves when the test
// calls SetPosition, and streams end when the test calls Finish.
type MockPlayer struct {
	mu       sync.Mutex
	path     string
	pcm      []byte
	format   wav.Format
	duration time.Duration
	position time.Duration
	done     chan struct{}

	// PlayErr, when set, is returned by the next Play or PlayPCM.
	PlayErr error

	playCount atomic.Int64
	stopCount atomic.Int64
	state     atomic.Int32
}

// NewMockPlayer returns an idle mock player.
func NewMockPlayer() *MockPlayer {
	mp := &MockPlayer{}
	mp.state.Store(int32(StateStopped))
	return mp
}

// Play records path. If the file is a readable WAV its duration is used.
func (mp *MockPlayer) Play(path string) error {
	var (
		format wav.Format
		pcm    []byte
	)
	if data, err := os.ReadFile(path); err == nil {
		if h, err := wav.ParseHeader(data); err == nil {
			format = h.Format
			pcm = data[wav.HeaderSize:]
		}
	}
	return mp.start(path, format, pcm)
}

// PlayPCM records the stream.
func (mp *MockPlayer) PlayPCM(format wav.Format, pcm []byte) error {
	if len(pcm) == 0 {
		return ErrNothingToPlay
	}
	return mp.start("", format, pcm)
}

func (mp *MockPlayer) start(path string, format wav.Format, pcm []byte) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if err := mp.PlayErr; err != nil {
		mp.PlayErr = nil
		return err
	}
	mp.stopLocked()

	mp.path = path
	mp.format = format
	mp.pcm = pcm
	mp.position = 0
	mp.duration = 0
	if bps := format.BytesPerSecond(); bps > 0 {
		mp.duration = time.Duration(len(pcm)) * time.Second / time.Duration(bps)
	}
	mp.done = make(chan struct{})
	mp.playCount.Add(1)
	mp.state.Store(int32(StatePlaying))
	return nil
}

// Position returns the position last set by SetPosition.
func (mp *MockPlayer) Position() time.Duration {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.position
}

// Duration returns the stream length.
func (mp *MockPlayer) Duration() time.Duration {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.duration
}

// Done behaves like OtoPlayer.Done.
func (mp *MockPlayer) Done() <-chan struct{} {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return mp.done
}

// Stop ends the current stream.
func (mp *MockPlayer) Stop() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.stopLocked() {
		mp.stopCount.Add(1)
	}
	return nil
}

func (mp *MockPlayer) stopLocked() bool {
	if PlayerState(mp.state.Load()) != StatePlaying {
		return false
	}
	close(mp.done)
	mp.state.Store(int32(StateStopped))
	return true
}

// Test helper methods

// SetPosition moves the playback position.
func (mp *MockPlayer) SetPosition(d time.Duration) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.position = d
}

// SetDuration overrides the stream length.
func (mp *MockPlayer) SetDuration(d time.Duration) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.duration = d
}

// Finish ends the current stream as if it had played out.
func (mp *MockPlayer) Finish() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if PlayerState(mp.state.Load()) == StatePlaying {
		mp.position = mp.duration
		mp.stopLocked()
	}
}

// State returns the current player state.
func (mp *MockPlayer) State() PlayerState {
	return PlayerState(mp.state.Load())
}

// LastPath returns the path given to the most recent Play.
func (mp *MockPlayer) LastPath() string {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.path
}

// LastPCM returns a copy of the most recent stream's samples.
func (mp *MockPlayer) LastPCM() (wav.Format, []byte) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.pcm == nil {
		return mp.format, nil
	}
	data := make([]byte, len(mp.pcm))
	copy(data, mp.pcm)
	return mp.format, data
}

// GetMetrics returns playback metrics for testing.
func (mp *MockPlayer) GetMetrics() MockPlayerMetrics {
	return MockPlayerMetrics{
		PlayCount: mp.playCount.Load(),
		StopCount: mp.stopCount.Load(),
	}
}

// MockPlayerMetrics contains playback metrics for testing.
type MockPlayerMetrics struct {
	PlayCount int64
	StopCount int64
}

// Ensure both players implement Player.
var (
	_ Player = (*OtoPlayer)(nil)
	_ Player = (*MockPlayer)(nil)
)

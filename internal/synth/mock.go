package synth

import (
	"context"
	"sync"

	"github.com/dgnsrekt/readaloud/internal/timing"
)

// Mock is a Synthesizer for tests. It reports every word synchronously and
// then, if Hold is set, waits for Hold to close before returning.
type Mock struct {
	// MaxLength overrides DefaultMaxLength.
	MaxLength int
	// Err is returned from the FailOn-th call (1-based); FailOn 0 fails every
	// call when Err is set.
	Err    error
	FailOn int
	// Hold, when non-nil, keeps Speak running until it is closed.
	Hold chan struct{}

	mu     sync.Mutex
	calls  []Utterance
	cancel context.CancelFunc
	gen    uint64
}

// Limit returns the configured maximum input length.
func (m *Mock) Limit() int {
	if m.MaxLength > 0 {
		return m.MaxLength
	}
	return DefaultMaxLength
}

// Speak records u and reports its words.
func (m *Mock) Speak(ctx context.Context, u Utterance, onRange func(timing.Range)) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.calls = append(m.calls, u)
	n := len(m.calls)
	m.cancel = cancel
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		if m.gen == gen {
			m.cancel = nil
		}
		m.mu.Unlock()
	}()

	if m.Err != nil && (m.FailOn == 0 || m.FailOn == n) {
		return m.Err
	}
	for _, w := range Words(u.Text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if onRange != nil {
			onRange(w)
		}
	}
	if m.Hold != nil {
		select {
		case <-m.Hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// Stop cancels the running Speak.
func (m *Mock) Stop() bool {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Calls returns the utterances spoken so far.
func (m *Mock) Calls() []Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Utterance(nil), m.calls...)
}

var (
	_ Synthesizer = (*Mock)(nil)
	_ Synthesizer = (*Piper)(nil)
)

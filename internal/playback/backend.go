// Package playback reads text aloud through one of two backends and keeps a
// highlight in step with what is heard. The device backend speaks through
// an on-device synthesizer; the cached backend plays pre-rendered audio and
// looks the highlight up in its timepoint table.
package playback

import (
	"context"
	"errors"

	"github.com/dgnsrekt/readaloud/internal/timing"
)

var (
	ErrEmptyText = errors.New("nothing to read")
	// ErrStopped is passed to onFinish when playback was stopped.
	ErrStopped = errors.New("playback stopped")
)

// Kind identifies a backend.
type Kind int

const (
	KindDevice Kind = iota
	KindCached
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindCached:
		return "cached"
	default:
		return "unknown"
	}
}

// Highlight is one highlight update: a range of the source text in UTF-16
// code units, or Cleared when the highlight should be removed.
type Highlight struct {
	Range   timing.Range
	Backend Kind
	Cleared bool
}

// Backend speaks text.
type Backend interface {
	// Speak reads text and blocks until it ends.
	Speak(ctx context.Context, text string) error
	// SpeakWithHighlight starts reading text and returns once playback has
	// begun. onHighlight receives ranges of text as they are heard; onFinish
	// is called exactly once with nil, ErrStopped or the failure.
	SpeakWithHighlight(ctx context.Context, text string, onHighlight func(Highlight), onFinish func(error)) error
	// Stop ends playback, waits for it to wind down and reports whether
	// anything was playing. It is safe to call repeatedly.
	Stop() bool
	Kind() Kind
}

// run is a backend's in-flight playback.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// speak is Speak in terms of SpeakWithHighlight.
func speak(ctx context.Context, b Backend, text string) error {
	result := make(chan error, 1)
	err := b.SpeakWithHighlight(ctx, text, nil, func(err error) { result <- err })
	if err != nil {
		return err
	}
	return <-result
}

// Package synth drives on-device speech synthesis. A Synthesizer speaks one
// utterance at a time and reports the range of text it is about to speak.
package synth

import (
	"context"
	"errors"
	"unicode"
	"unicode/utf16"

	"github.com/dgnsrekt/readaloud/internal/chunk"
	"github.com/dgnsrekt/readaloud/internal/timing"
)

// DefaultMaxLength is the longest input, in UTF-16 code units, that a
// synthesizer is trusted to speak without truncating.
const DefaultMaxLength = chunk.DeviceMaxLength

var (
	ErrEmptyText     = errors.New("text cannot be empty")
	ErrTextTooLong   = errors.New("text exceeds synthesizer limit")
	ErrNotConfigured = errors.New("synthesizer is not configured")
)

// Utterance is one piece of text to speak and how to speak it. Zero values
// for Rate and Volume mean 1.0; Pitch is passed through where supported.
type Utterance struct {
	Text   string
	Voice  string
	Rate   float64
	Pitch  float64
	Volume float64
}

func (u Utterance) rate() float64 {
	if u.Rate <= 0 {
		return 1.0
	}
	return u.Rate
}

// Synthesizer speaks text on the local device.
type Synthesizer interface {
	// Speak blocks until u has been spoken, Stop is called or ctx is done.
	// onRange, if set, receives each range of u.Text just before it is
	// heard, in UTF-16 code units local to u.Text.
	Speak(ctx context.Context, u Utterance, onRange func(timing.Range)) error
	// Stop halts the current utterance and reports whether one was active.
	Stop() bool
	// Limit is the maximum input length in UTF-16 code units.
	Limit() int
}

// Words returns the code-unit range of every run of non-space characters
// in text.
func Words(text string) []timing.Range {
	var (
		words []timing.Range
		pos   int
		start = -1
	)
	for _, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, timing.Range{Start: start, End: pos})
				start = -1
			}
		} else if start < 0 {
			start = pos
		}
		if n := utf16.RuneLen(r); n > 0 {
			pos += n
		} else {
			pos++
		}
	}
	if start >= 0 {
		words = append(words, timing.Range{Start: start, End: pos})
	}
	return words
}

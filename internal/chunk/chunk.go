// Package chunk splits long text into segments that fit a synthesis
// backend's input limit, preferring to cut at sentence and line boundaries.
package chunk

import (
	"errors"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	// DeviceMaxLength is the default code-unit budget for on-device synthesis.
	DeviceMaxLength = 4000

	// CloudMaxBytes is the default UTF-8 byte budget per cloud render request.
	// The server wraps every byte in SSML marks, so 1000 bytes keeps a request
	// well under the 5000 character SSML limit.
	CloudMaxBytes = 1000

	// codeUnitLookback is how far back ByCodeUnits searches for a boundary.
	codeUnitLookback = 500
)

// ErrBudgetTooSmall is returned when a budget cannot hold the widest
// possible character.
var ErrBudgetTooSmall = errors.New("chunk budget too small")

// Chunk is a contiguous slice of the source text.
type Chunk struct {
	Text string
	// Offset is the position of Text within the source, in UTF-16 code units.
	Offset int
}

// CodeUnitLen returns the length of s in UTF-16 code units.
func CodeUnitLen(s string) int {
	n := 0
	for _, r := range s {
		n += codeUnits(r)
	}
	return n
}

// ByCodeUnits splits text into chunks of at most maxLength UTF-16 code units.
// A cut is moved back to just after the nearest boundary character within
// the last 500 code units, or made at maxLength when none is found.
func ByCodeUnits(text string, maxLength int) ([]Chunk, error) {
	if maxLength < 2 {
		return nil, ErrBudgetTooSmall
	}
	return split(text, maxLength, codeUnitLookback, codeUnits), nil
}

// ByBytes splits text into chunks of at most maxBytes UTF-8 bytes. The
// boundary search covers the last 20% of the budget.
func ByBytes(text string, maxBytes int) ([]Chunk, error) {
	if maxBytes < utf8.UTFMax {
		return nil, ErrBudgetTooSmall
	}
	return split(text, maxBytes, maxBytes/5, nil), nil
}

// IsBoundary reports whether r ends a sentence or a line.
func IsBoundary(r rune) bool {
	switch r {
	case '\n', '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

type char struct {
	pos   int // byte offset in the source
	width int // encoded byte length
	r     rune
}

// split cuts text into budget-limited chunks. measure returns the cost of a
// rune; a nil measure charges its encoded width in bytes.
func split(text string, budget, lookback int, measure func(rune) int) []Chunk {
	chars := make([]char, 0, len(text))
	for i := 0; i < len(text); {
		r, w := utf8.DecodeRuneInString(text[i:])
		chars = append(chars, char{pos: i, width: w, r: r})
		i += w
	}

	cost := func(c char) int {
		if measure == nil {
			return c.width
		}
		return measure(c.r)
	}

	total := 0
	for _, c := range chars {
		total += cost(c)
	}
	if total <= budget {
		return []Chunk{{Text: text, Offset: 0}}
	}

	byteAt := func(i int) int {
		if i >= len(chars) {
			return len(text)
		}
		return chars[i].pos
	}

	var chunks []Chunk
	offset := 0
	for start := 0; start < len(chars); {
		// Greedily take as many characters as fit.
		end, used := start, 0
		for end < len(chars) && used+cost(chars[end]) <= budget {
			used += cost(chars[end])
			end++
		}

		cut := end
		if end < len(chars) {
			back := 0
			for i := end - 1; i >= start && back <= lookback; i-- {
				if IsBoundary(chars[i].r) {
					cut = i + 1
					break
				}
				back += cost(chars[i])
			}
		}

		piece := text[byteAt(start):byteAt(cut)]
		chunks = append(chunks, Chunk{Text: piece, Offset: offset})
		offset += CodeUnitLen(piece)
		start = cut
	}
	return chunks
}

func codeUnits(r rune) int {
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

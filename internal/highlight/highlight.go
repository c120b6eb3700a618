// Package highlight renders the spoken range of a text as a single terminal
// line.
package highlight

import (
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/dgnsrekt/readaloud/internal/timing"
)

const ellipsis = "…"

// Style is applied to the spoken range.
var Style = lipgloss.NewStyle().
	Background(lipgloss.Color("226")). // Yellow
	Foreground(lipgloss.Color("0")).   // Black
	Bold(true)

// ByteRange converts a UTF-16 code-unit range of s to byte offsets. Offsets
// past the end clamp to len(s); an offset inside a surrogate pair rounds
// down to the start of its rune.
func ByteRange(s string, r timing.Range) (start, end int) {
	return byteOffset(s, r.Start), byteOffset(s, r.End)
}

func byteOffset(s string, units int) int {
	if units <= 0 {
		return 0
	}
	n := 0
	for i, r := range s {
		w := utf16.RuneLen(r)
		if w < 0 {
			w = 1
		}
		if n+w > units {
			return i
		}
		n += w
	}
	return len(s)
}

// Line renders the range of text within width cells: the highlighted words
// with as much surrounding context as fits.
func Line(text string, r timing.Range, width int) string {
	start, end := ByteRange(text, r)
	before := flatten(text[:start])
	spoken := flatten(text[start:end])
	after := flatten(text[end:])

	if width <= 0 {
		return before + Style.Render(spoken) + after
	}

	spoken = runewidth.Truncate(spoken, width, ellipsis)
	room := width - runewidth.StringWidth(spoken)
	before = tail(before, room/2)
	after = runewidth.Truncate(after, room-runewidth.StringWidth(before), ellipsis)
	return before + Style.Render(spoken) + after
}

// tail keeps the last w cells of s, marking a cut with an ellipsis.
func tail(s string, w int) string {
	if runewidth.StringWidth(s) <= w {
		return s
	}
	if w <= 0 {
		return ""
	}
	budget := w - runewidth.StringWidth(ellipsis)
	i := len(s)
	for i > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		rw := runewidth.RuneWidth(r)
		if rw > budget {
			break
		}
		budget -= rw
		i -= size
	}
	return ellipsis + s[i:]
}

// flatten folds every run of whitespace, newlines included, into one space.
func flatten(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// Printer redraws one terminal line per highlight.
type Printer struct {
	w     io.Writer
	text  string
	width int
}

// NewPrinter returns a printer for text on a terminal width cells wide.
func NewPrinter(w io.Writer, text string, width int) *Printer {
	return &Printer{w: w, text: text, width: width}
}

// Show redraws the line for r.
func (p *Printer) Show(r timing.Range) {
	fmt.Fprintf(p.w, "\r\x1b[2K%s", Line(p.text, r, p.width)) //nolint:errcheck
}

// Clear erases the line.
func (p *Printer) Clear() {
	fmt.Fprint(p.w, "\r\x1b[2K") //nolint:errcheck
}

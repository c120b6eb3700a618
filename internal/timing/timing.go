// Package timing maps playback positions in rendered audio to ranges of the
// source text.
package timing

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidMark is returned for mark names that do not encode a text range.
var ErrInvalidMark = errors.New("invalid timing mark")

// Range is a half-open span of the source text in UTF-16 code units.
type Range struct {
	Start int
	End   int
}

// Len returns the number of code units covered by r.
func (r Range) Len() int { return r.End - r.Start }

// Shift returns r moved by offset code units.
func (r Range) Shift(offset int) Range {
	return Range{Start: r.Start + offset, End: r.End + offset}
}

// Timepoint is the wire and side-car form of a timing mark. MarkName
// encodes "index:start:end" over the source text.
type Timepoint struct {
	MarkName    string  `json:"markName"`
	TimeSeconds float64 `json:"timeSeconds"`
}

// Mark is a decoded timepoint.
type Mark struct {
	Index   int
	Range   Range
	Seconds float64
}

// ParseMarkName decodes "index:start:end". The shorter "start:end" form is
// accepted with an index of zero.
func ParseMarkName(name string) (int, Range, error) {
	parts := strings.Split(name, ":")
	if len(parts) == 2 {
		parts = append([]string{"0"}, parts...)
	}
	if len(parts) != 3 {
		return 0, Range{}, fmt.Errorf("%w: %q", ErrInvalidMark, name)
	}

	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, Range{}, fmt.Errorf("%w: %q", ErrInvalidMark, name)
		}
		n[i] = v
	}
	r := Range{Start: n[1], End: n[2]}
	if r.Start < 0 || r.End < r.Start {
		return 0, Range{}, fmt.Errorf("%w: %q", ErrInvalidMark, name)
	}
	return n[0], r, nil
}

// FormatMarkName encodes a mark name in the "index:start:end" form.
func FormatMarkName(index int, r Range) string {
	return fmt.Sprintf("%d:%d:%d", index, r.Start, r.End)
}

// Table is a sequence of marks ordered by non-decreasing time.
type Table []Mark

// Decode converts wire timepoints into a table. Malformed marks, marks with
// negative times, and marks whose range falls outside a text of textLen code
// units are dropped. A negative textLen disables the bounds check.
func Decode(tps []Timepoint, textLen int) Table {
	t := make(Table, 0, len(tps))
	for _, tp := range tps {
		idx, r, err := ParseMarkName(tp.MarkName)
		if err != nil || tp.TimeSeconds < 0 {
			continue
		}
		if textLen >= 0 && r.End > textLen {
			continue
		}
		t = append(t, Mark{Index: idx, Range: r, Seconds: tp.TimeSeconds})
	}
	sort.SliceStable(t, func(i, j int) bool { return t[i].Seconds < t[j].Seconds })
	return t
}

// At returns the mark with the greatest time not after seconds. It reports
// false for an empty table or a position before the first mark.
func (t Table) At(seconds float64) (Mark, bool) {
	// first index whose time is after the position
	i := sort.Search(len(t), func(i int) bool { return t[i].Seconds > seconds })
	if i == 0 {
		return Mark{}, false
	}
	return t[i-1], true
}

// Duration returns the time of the last mark.
func (t Table) Duration() float64 {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].Seconds
}

// Shift offsets every mark's range by charOffset and its time by
// timeOffset. Malformed marks are dropped.
func Shift(tps []Timepoint, charOffset int, timeOffset float64) []Timepoint {
	out := make([]Timepoint, 0, len(tps))
	for _, tp := range tps {
		idx, r, err := ParseMarkName(tp.MarkName)
		if err != nil {
			continue
		}
		out = append(out, Timepoint{
			MarkName:    FormatMarkName(idx, r.Shift(charOffset)),
			TimeSeconds: tp.TimeSeconds + timeOffset,
		})
	}
	return out
}

// SidecarPath returns the timepoint file that belongs to an audio file.
func SidecarPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
}

// Read loads a side-car file.
func Read(path string) ([]Timepoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tps []Timepoint
	if err := json.Unmarshal(data, &tps); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return tps, nil
}

// Write stores timepoints as a JSON side-car, replacing any existing file.
func Write(path string, tps []Timepoint) error {
	if tps == nil {
		tps = []Timepoint{}
	}
	data, err := json.Marshal(tps)
	if err != nil {
		return fmt.Errorf("encode timepoints: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()           //nolint:errcheck
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

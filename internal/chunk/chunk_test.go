package chunk

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func join(chunks []Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return b.String()
}

// checkInvariants verifies the properties every chunking must hold.
func checkInvariants(t *testing.T, text string, chunks []Chunk, budget int, size func(string) int) {
	t.Helper()

	if got := join(chunks); got != text {
		t.Fatalf("chunks do not reconstruct the input:\n got %q\nwant %q", got, text)
	}

	offset := 0
	for i, c := range chunks {
		if c.Offset != offset {
			t.Errorf("chunk %d offset = %d, want %d", i, c.Offset, offset)
		}
		if c.Text == "" && len(chunks) > 1 {
			t.Errorf("chunk %d is empty", i)
		}
		if n := size(c.Text); n > budget {
			t.Errorf("chunk %d is %d long, budget %d", i, n, budget)
		}
		offset += CodeUnitLen(c.Text)
	}
}

func byteLen(s string) int { return len(s) }

func TestByCodeUnits(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxLength int
		want      []Chunk
	}{
		{
			name:      "empty",
			text:      "",
			maxLength: 10,
			want:      []Chunk{{Text: "", Offset: 0}},
		},
		{
			name:      "fits",
			text:      "Hello.",
			maxLength: 10,
			want:      []Chunk{{Text: "Hello.", Offset: 0}},
		},
		{
			name:      "cuts after sentence",
			text:      "One. Two three four",
			maxLength: 10,
			want: []Chunk{
				{Text: "One.", Offset: 0},
				{Text: " Two three", Offset: 4},
				{Text: " four", Offset: 14},
			},
		},
		{
			name:      "hard cut without boundary",
			text:      "abcdefghij",
			maxLength: 4,
			want: []Chunk{
				{Text: "abcd", Offset: 0},
				{Text: "efgh", Offset: 4},
				{Text: "ij", Offset: 8},
			},
		},
		{
			name:      "newline boundary",
			text:      "ab\ncdefgh",
			maxLength: 5,
			want: []Chunk{
				{Text: "ab\n", Offset: 0},
				{Text: "cdefg", Offset: 3},
				{Text: "h", Offset: 8},
			},
		},
		{
			name:      "full width boundary",
			text:      "こんにちは。世界です",
			maxLength: 8,
			want: []Chunk{
				{Text: "こんにちは。", Offset: 0},
				{Text: "世界です", Offset: 6},
			},
		},
		{
			name:      "surrogate pair is not split",
			text:      "ab😀cd",
			maxLength: 3,
			want: []Chunk{
				{Text: "ab", Offset: 0},
				{Text: "😀c", Offset: 2},
				{Text: "d", Offset: 5},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ByCodeUnits(tt.text, tt.maxLength)
			if err != nil {
				t.Fatalf("ByCodeUnits: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d chunks %q, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
			checkInvariants(t, tt.text, got, tt.maxLength, CodeUnitLen)
		})
	}
}

func TestByCodeUnitsLookbackWindow(t *testing.T) {
	// The only boundary is more than 500 units before the cut, so the cut is
	// made hard at the budget.
	text := "x." + strings.Repeat("a", 1000)
	got, err := ByCodeUnits(text, 800)
	if err != nil {
		t.Fatal(err)
	}
	if CodeUnitLen(got[0].Text) != 800 {
		t.Errorf("first chunk is %d units, want a hard cut at 800", CodeUnitLen(got[0].Text))
	}

	// Within the window the cut moves back to the boundary.
	text = strings.Repeat("a", 500) + "." + strings.Repeat("b", 500)
	got, err = ByCodeUnits(text, 800)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Text != strings.Repeat("a", 500)+"." {
		t.Errorf("first chunk did not end at the boundary: %d units", CodeUnitLen(got[0].Text))
	}
	checkInvariants(t, text, got, 800, CodeUnitLen)
}

func TestByCodeUnitsLongText(t *testing.T) {
	sentence := "The quick brown fox jumps over the lazy dog. "
	text := strings.Repeat(sentence, 400)

	got, err := ByCodeUnits(text, DeviceMaxLength)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) < 2 {
		t.Fatalf("expected several chunks, got %d", len(got))
	}
	for i, c := range got[:len(got)-1] {
		if !strings.HasSuffix(c.Text, ".") {
			t.Errorf("chunk %d does not end at a sentence: %q", i, c.Text[len(c.Text)-10:])
		}
	}
	checkInvariants(t, text, got, DeviceMaxLength, CodeUnitLen)
}

func TestByBytes(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxBytes int
	}{
		{"empty", "", 10},
		{"ascii", strings.Repeat("Hello world. ", 50), 100},
		{"no boundaries", strings.Repeat("a", 333), 50},
		{"japanese", strings.Repeat("今日は良い天気です。", 40), 100},
		{"emoji", strings.Repeat("😀😃😄 ", 60), 31},
		{"mixed", "Grüße! " + strings.Repeat("Ünïcödé text? ", 30), 64},
		{"minimum budget", "日本語😀a", utf8.UTFMax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ByBytes(tt.text, tt.maxBytes)
			if err != nil {
				t.Fatalf("ByBytes: %v", err)
			}
			checkInvariants(t, tt.text, got, tt.maxBytes, byteLen)
			for i, c := range got {
				if !utf8.ValidString(c.Text) {
					t.Errorf("chunk %d splits a character", i)
				}
			}
		})
	}
}

func TestByBytesPrefersBoundary(t *testing.T) {
	// 9 three-byte characters then a full stop: the boundary at byte 30 falls
	// inside the last 20% of a 36-byte budget.
	text := strings.Repeat("語", 9) + "。" + strings.Repeat("語", 9)
	got, err := ByBytes(text, 36)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Text != strings.Repeat("語", 9)+"。" {
		t.Errorf("first chunk = %q", got[0].Text)
	}
	if got[1].Offset != 10 {
		t.Errorf("second chunk offset = %d, want 10 code units", got[1].Offset)
	}
}

func TestBudgetTooSmall(t *testing.T) {
	if _, err := ByCodeUnits("abc", 1); !errors.Is(err, ErrBudgetTooSmall) {
		t.Errorf("ByCodeUnits(1): err = %v", err)
	}
	if _, err := ByBytes("abc", 3); !errors.Is(err, ErrBudgetTooSmall) {
		t.Errorf("ByBytes(3): err = %v", err)
	}
}

func TestCodeUnitLen(t *testing.T) {
	tests := map[string]int{
		"":      0,
		"abc":   3,
		"é":     1,
		"日本":    2,
		"😀":     2,
		"a😀b🎉": 6,
	}
	for s, want := range tests {
		if got := CodeUnitLen(s); got != want {
			t.Errorf("CodeUnitLen(%q) = %d, want %d", s, got, want)
		}
	}
}

package audio

import (
	"bytes"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/readaloud/internal/wav"
)

// countingStream feeds PCM to oto and records how much it has pulled. The
// stream owns its copy of the data for as long as oto may read it.
type countingStream struct {
	data   []byte
	reader *bytes.Reader
	format wav.Format
	read   atomic.Int64
}

func newCountingStream(pcm []byte, format wav.Format) *countingStream {
	data := make([]byte, len(pcm))
	copy(data, pcm)
	return &countingStream{
		data:   data,
		reader: bytes.NewReader(data),
		format: format,
	}
}

func (s *countingStream) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	s.read.Add(int64(n))
	return n, err
}

// consumed returns the number of bytes oto has pulled so far.
func (s *countingStream) consumed() int64 {
	return s.read.Load()
}

// durationOf converts a byte count into playback time, clamped to the
// stream.
func (s *countingStream) durationOf(n int64) time.Duration {
	bps := int64(s.format.BytesPerSecond())
	if bps <= 0 || n <= 0 {
		return 0
	}
	if total := int64(len(s.data)); n > total {
		n = total
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

func (s *countingStream) duration() time.Duration {
	return s.durationOf(int64(len(s.data)))
}

// Package wav reads and writes the fixed-header PCM WAV container used for
// rendered speech audio.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// HeaderSize is the size of the canonical PCM WAV header.
const HeaderSize = 44

// Header field offsets.
const (
	offRIFFSize      = 4
	offChannels      = 22
	offSampleRate    = 24
	offBitsPerSample = 34
	offDataSize      = 40
)

// ErrInvalidHeader is returned when a file is too short to carry a header,
// lacks the RIFF/WAVE magic, or has unusable header fields.
var ErrInvalidHeader = errors.New("invalid WAV file header")

// Format describes the PCM layout of a WAV payload.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerFrame returns the number of bytes per sample across all channels.
func (f Format) BytesPerFrame() int {
	return f.BitsPerSample / 8 * f.Channels
}

// BytesPerSecond returns the payload byte rate.
func (f Format) BytesPerSecond() int {
	return f.BytesPerFrame() * f.SampleRate
}

// Header holds the fields read from a WAV header.
type Header struct {
	Format
	RIFFSize uint32
	DataSize uint32
}

// ParseHeader reads the header fields from the first HeaderSize bytes of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Header{}, fmt.Errorf("%w: not a RIFF/WAVE file", ErrInvalidHeader)
	}
	h := Header{
		Format: Format{
			SampleRate:    int(binary.LittleEndian.Uint32(data[offSampleRate:])),
			Channels:      int(binary.LittleEndian.Uint16(data[offChannels:])),
			BitsPerSample: int(binary.LittleEndian.Uint16(data[offBitsPerSample:])),
		},
		RIFFSize: binary.LittleEndian.Uint32(data[offRIFFSize:]),
		DataSize: binary.LittleEndian.Uint32(data[offDataSize:]),
	}
	if h.SampleRate == 0 || h.Channels == 0 || h.BitsPerSample == 0 {
		return h, ErrInvalidHeader
	}
	return h, nil
}

// DurationBytes returns the playback length in seconds of an in-memory WAV
// file. It returns 0 for short or malformed input.
func DurationBytes(data []byte) float64 {
	h, err := ParseHeader(data)
	if err != nil {
		return 0
	}
	frame := h.BytesPerFrame()
	if frame == 0 {
		return 0
	}
	return float64(int(h.DataSize)/frame) / float64(h.SampleRate)
}

// Duration returns the playback length in seconds of the WAV file at path.
// Unreadable or malformed files report 0; the value is only used for display.
func Duration(path string) float64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close() //nolint:errcheck

	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return 0
	}
	return DurationBytes(buf)
}

// Encode builds a canonical 44-byte header for pcm and returns header+pcm.
func Encode(format Format, pcm []byte) []byte {
	out := make([]byte, HeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:], "RIFF")
	le.PutUint32(out[offRIFFSize:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	le.PutUint32(out[16:], 16)
	le.PutUint16(out[20:], 1) // PCM
	le.PutUint16(out[offChannels:], uint16(format.Channels))
	le.PutUint32(out[offSampleRate:], uint32(format.SampleRate))
	le.PutUint32(out[28:], uint32(format.BytesPerSecond()))
	le.PutUint16(out[32:], uint16(format.BytesPerFrame()))
	le.PutUint16(out[offBitsPerSample:], uint16(format.BitsPerSample))
	copy(out[36:], "data")
	le.PutUint32(out[offDataSize:], uint32(len(pcm)))
	copy(out[HeaderSize:], pcm)
	return out
}

// ConcatenateBytes joins in-memory WAV files. The first file's header is
// reused with its RIFF and data sizes rewritten for the joined payload.
// Files no longer than the header contribute nothing.
func ConcatenateBytes(files [][]byte) ([]byte, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if len(files[0]) < HeaderSize {
		return nil, fmt.Errorf("%w: first file has %d bytes", ErrInvalidHeader, len(files[0]))
	}

	var size int
	for _, f := range files {
		if len(f) > HeaderSize {
			size += len(f) - HeaderSize
		}
	}

	out := make([]byte, HeaderSize, HeaderSize+size)
	copy(out, files[0][:HeaderSize])
	for _, f := range files {
		if len(f) > HeaderSize {
			out = append(out, f[HeaderSize:]...)
		}
	}

	binary.LittleEndian.PutUint32(out[offRIFFSize:], uint32(36+size)) //nolint:gosec
	binary.LittleEndian.PutUint32(out[offDataSize:], uint32(size))    //nolint:gosec
	return out, nil
}

// Concatenate joins the WAV files at paths into out. An empty list is a
// no-op. The first file must carry a full header; later files that are
// unreadable or header-only are skipped. The result is written atomically so
// a failure never leaves a truncated file at out.
func Concatenate(paths []string, out string) error {
	if len(paths) == 0 {
		return nil
	}

	first, err := os.ReadFile(paths[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if len(first) < HeaderSize {
		return fmt.Errorf("%w: %s has %d bytes", ErrInvalidHeader, paths[0], len(first))
	}

	files := make([][]byte, 0, len(paths))
	files = append(files, first)
	for _, p := range paths[1:] {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		files = append(files, data)
	}

	joined, err := ConcatenateBytes(files)
	if err != nil {
		return err
	}
	return writeAtomic(out, joined)
}

// writeAtomic writes data to a temp file next to path, then renames it over
// path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}

	_ = os.Remove(path)
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

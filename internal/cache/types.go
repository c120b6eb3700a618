package cache

import (
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrDownloadFailed is returned when the remote audio could not be fetched
	ErrDownloadFailed = errors.New("failed to download audio file")

	// ErrFileNotFound is returned when no audio or side-car exists for an identifier
	ErrFileNotFound = errors.New("audio file not found")

	// ErrSaveFailed is returned when audio could not be written into the cache
	ErrSaveFailed = errors.New("failed to save audio file")

	// ErrInvalidIdentifier is returned for identifiers that cannot name a file
	ErrInvalidIdentifier = errors.New("invalid content identifier")
)

// Extensions lists the audio extensions the cache recognizes, in lookup
// priority order.
var Extensions = []string{"wav", "mp3", "m4a", "aac"}

// DefaultExtension is used when a source carries no recognized extension.
const DefaultExtension = "wav"

const (
	sidecarExt = ".json"
	partExt    = ".part"
)

// Entry describes one cached rendering.
type Entry struct {
	ID            string
	AudioPath     string
	TimepointPath string // empty when the entry has no side-car
	Size          int64  // audio plus side-car, in bytes
	ModTime       time.Time
}

// HasTimepoints reports whether the entry carries a timing side-car.
func (e Entry) HasTimepoints() bool {
	return e.TimepointPath != ""
}

// Stats summarizes the cache directory.
type Stats struct {
	Dir     string
	Entries int   // audio files
	Files   int   // every file, including side-cars and leftovers
	Size    int64 // bytes across all files
}

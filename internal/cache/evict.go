package cache

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"
)

// unit is a set of files evicted together: an audio file with its side-car,
// or a single file that belongs to no audio.
type unit struct {
	files   []fileInfo
	size    int64
	modTime time.Time
}

// EvictToLimit deletes the oldest entries until the directory holds at most
// maxBytes, and returns the number of files deleted. Age is the audio file's
// modification time; a side-car goes with its audio. Entries of equal age are
// deleted in directory order.
func (m *Manager) EvictToLimit(maxBytes int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, err := m.scan()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= maxBytes {
		return 0, nil
	}

	units := groupUnits(files)
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].modTime.Before(units[j].modTime)
	})

	var errs []error
	deleted := 0
	for _, u := range units {
		if total <= maxBytes {
			break
		}
		for _, f := range u.files {
			if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				continue
			}
			deleted++
			total -= f.size
		}
		m.logger.Debug("Evicted cache entry", "file", u.files[0].name, "size", u.size)
	}
	return deleted, errors.Join(errs...)
}

// groupUnits pairs each side-car with the first audio file of the same
// identifier. Units keep the order in which their audio (or lone file)
// appears in files.
func groupUnits(files []fileInfo) []unit {
	sidecars := make(map[string]fileInfo)
	for _, f := range files {
		if id, ok := strings.CutSuffix(f.name, sidecarExt); ok {
			sidecars[id] = f
		}
	}

	owned := make(map[string]bool) // ids whose side-car is already in a unit
	hasAudio := make(map[string]bool)
	for _, f := range files {
		if id, ok := audioID(f.name); ok {
			hasAudio[id] = true
		}
	}

	units := make([]unit, 0, len(files))
	for _, f := range files {
		u := unit{files: []fileInfo{f}, size: f.size, modTime: f.modTime}
		if id, ok := audioID(f.name); ok {
			if sc, ok := sidecars[id]; ok && !owned[id] {
				owned[id] = true
				u.files = append(u.files, sc)
				u.size += sc.size
			}
		} else if id, ok := strings.CutSuffix(f.name, sidecarExt); ok && hasAudio[id] {
			continue
		}
		units = append(units, u)
	}
	return units
}

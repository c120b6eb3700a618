package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/timing"
)

// Manager owns the cache directory. Callers only borrow the paths it hands
// out; every write and delete goes through the manager.
type Manager struct {
	dir    string
	client *http.Client
	logger *log.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used to download remote audio.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the time source used to stamp stored files.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a manager for dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("cache directory not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	m := &Manager{
		dir:    dir,
		client: &http.Client{},
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir returns the cache directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Lookup returns the cached audio file for id, probing the known extensions
// in priority order.
func (m *Manager) Lookup(id string) (string, bool) {
	if validateID(id) != nil {
		return "", false
	}
	for _, ext := range Extensions {
		p := m.audioPath(id, ext)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}

// Exists reports whether audio is cached for id.
func (m *Manager) Exists(id string) bool {
	_, ok := m.Lookup(id)
	return ok
}

// Delete removes every audio file and the side-car cached for id. Deleting
// an identifier with nothing cached is not an error.
func (m *Manager) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.removeLocked(id)
}

func (m *Manager) removeLocked(id string) error {
	var errs []error
	paths := make([]string, 0, len(Extensions)+1)
	for _, ext := range Extensions {
		paths = append(paths, m.audioPath(id, ext))
	}
	paths = append(paths, m.TimepointPath(id))

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TimepointPath returns where the side-car for id lives.
func (m *Manager) TimepointPath(id string) string {
	return filepath.Join(m.dir, id+sidecarExt)
}

// StoreTimepoints writes the timing side-car for id.
func (m *Manager) StoreTimepoints(id string, tps []timing.Timepoint) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := timing.Write(m.TimepointPath(id), tps); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return nil
}

// Timepoints reads the timing side-car for id.
func (m *Manager) Timepoints(id string) ([]timing.Timepoint, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	tps, err := timing.Read(m.TimepointPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: timepoints for %s", ErrFileNotFound, id)
	}
	return tps, err
}

// Entry describes the cached rendering for id.
func (m *Manager) Entry(id string) (Entry, bool) {
	audio, ok := m.Lookup(id)
	if !ok {
		return Entry{}, false
	}
	fi, err := os.Stat(audio)
	if err != nil {
		return Entry{}, false
	}

	e := Entry{ID: id, AudioPath: audio, Size: fi.Size(), ModTime: fi.ModTime()}
	if tfi, err := os.Stat(m.TimepointPath(id)); err == nil {
		e.TimepointPath = m.TimepointPath(id)
		e.Size += tfi.Size()
	}
	return e, true
}

// Entries lists every cached rendering, in directory order. When an
// identifier has audio under more than one extension, the one Lookup would
// return wins.
func (m *Manager) Entries() ([]Entry, error) {
	des, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	seen := make(map[string]bool)
	for _, de := range des {
		id, ok := audioID(de.Name())
		if !ok || !de.Type().IsRegular() || seen[id] {
			continue
		}
		seen[id] = true
		if e, ok := m.Entry(id); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// TotalSize sums the size of every file in the cache directory.
func (m *Manager) TotalSize() int64 {
	files, err := m.scan()
	if err != nil {
		m.logger.Debug("Scanning cache failed", "dir", m.dir, "err", err)
		return 0
	}
	var total int64
	for _, f := range files {
		total += f.size
	}
	return total
}

// Stats summarizes the cache directory.
func (m *Manager) Stats() (Stats, error) {
	files, err := m.scan()
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Dir: m.dir, Files: len(files)}
	for _, f := range files {
		s.Size += f.size
		if _, ok := audioID(f.name); ok {
			s.Entries++
		}
	}
	return s, nil
}

// Clear deletes every file in the cache directory and returns how many were
// removed.
func (m *Manager) Clear() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, err := m.scan()
	if err != nil {
		return 0, err
	}

	var errs []error
	removed := 0
	for _, f := range files {
		if err := os.Remove(f.path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		removed++
	}
	m.logger.Debug("Cleared audio cache", "dir", m.dir, "files", removed)
	return removed, errors.Join(errs...)
}

type fileInfo struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

// scan lists the regular files in the cache directory in directory order.
func (m *Manager) scan() ([]fileInfo, error) {
	des, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache directory: %w", err)
	}

	files := make([]fileInfo, 0, len(des))
	for _, de := range des {
		if !de.Type().IsRegular() {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			// removed since ReadDir
			continue
		}
		files = append(files, fileInfo{
			name:    de.Name(),
			path:    filepath.Join(m.dir, de.Name()),
			size:    fi.Size(),
			modTime: fi.ModTime(),
		})
	}
	return files, nil
}

func (m *Manager) audioPath(id, ext string) string {
	return filepath.Join(m.dir, id+"."+ext)
}

// audioID returns the identifier of a cached audio file name.
func audioID(name string) (string, bool) {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if !knownExtension(ext) {
		return "", false
	}
	id := strings.TrimSuffix(name, "."+ext)
	return id, id != ""
}

func knownExtension(ext string) bool {
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return nil
}

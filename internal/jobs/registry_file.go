package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type registryFile struct {
	Pending map[string]string `yaml:"pending_jobs"`
}

// FileRegistry keeps pending jobs in a YAML file. The file is re-read on
// every call so entries written by another process are seen.
type FileRegistry struct {
	path string

	mu     sync.Mutex
	closed bool
}

// OpenFileRegistry opens the registry at path, creating its directory.
func OpenFileRegistry(path string) (*FileRegistry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	r := &FileRegistry{path: path}
	// surface a corrupt file at open time
	if _, err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the registry file.
func (r *FileRegistry) Path() string {
	return r.path
}

func (r *FileRegistry) Put(_ context.Context, contentID, jobID string) error {
	return r.update(func(m map[string]string) { m[contentID] = jobID })
}

func (r *FileRegistry) Get(_ context.Context, contentID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRegistryClosed
	}
	m, err := r.load()
	if err != nil {
		return "", err
	}
	return m[contentID], nil
}

func (r *FileRegistry) Delete(_ context.Context, contentID string) error {
	return r.update(func(m map[string]string) { delete(m, contentID) })
}

func (r *FileRegistry) All(_ context.Context) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	return r.load()
}

func (r *FileRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	return nil
}

// Watch calls onChange whenever the registry file is written, until ctx is
// done.
func (r *FileRegistry) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	// Watch the directory: the file is replaced by rename on every write.
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Debug("fsnotify watching registry", "file", r.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Debug("fsnotify error", "dir", dir, "error", err)
		}
	}
}

func (r *FileRegistry) update(fn func(map[string]string)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	m, err := r.load()
	if err != nil {
		return err
	}
	fn(m)
	return r.save(m)
}

func (r *FileRegistry) load() (map[string]string, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", r.path, err)
	}
	if f.Pending == nil {
		f.Pending = map[string]string{}
	}
	return f.Pending, nil
}

func (r *FileRegistry) save(m map[string]string) error {
	data, err := yaml.Marshal(registryFile{Pending: m})
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	_, err = tmp.Write(data)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store fetches source into the cache under id and returns the local path.
// source is an http(s) URL, a file:// URL, or a local path. The file is named
// after id and the extension of source, with any query string ignored. Audio
// previously cached for id, and its side-car, is replaced.
func (m *Manager) Store(ctx context.Context, id, source string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}

	tmp, ext, err := m.fetch(ctx, source)
	if err != nil {
		return "", err
	}

	dst, err := m.install(id, ext, tmp)
	if err != nil {
		os.Remove(tmp) //nolint:errcheck
		return "", err
	}
	m.logger.Debug("Stored audio", "id", id, "path", dst)
	return dst, nil
}

// fetch copies source into a temp file in the cache directory and returns it
// with the extension the cached file should carry.
func (m *Manager) fetch(ctx context.Context, source string) (string, string, error) {
	if !strings.Contains(source, "://") {
		tmp, err := m.copyToTemp(source)
		return tmp, detectExtension(filepath.ToSlash(source)), err
	}

	u, err := url.Parse(source)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	ext := detectExtension(u.Path)

	switch u.Scheme {
	case "http", "https":
		tmp, err := m.download(ctx, u)
		return tmp, ext, err
	case "file":
		tmp, err := m.copyToTemp(filepath.FromSlash(u.Path))
		return tmp, ext, err
	default:
		return "", "", fmt.Errorf("%w: unsupported scheme %q", ErrDownloadFailed, u.Scheme)
	}
}

// StoreFile moves a locally produced file into the cache under id, falling
// back to a copy when the file lives on another filesystem.
func (m *Manager) StoreFile(id, src string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}

	tmp, err := m.tempFile()
	if err != nil {
		return "", err
	}
	if err := os.Rename(src, tmp); err != nil {
		os.Remove(tmp) //nolint:errcheck
		if tmp, err = m.copyToTemp(src); err != nil {
			return "", err
		}
		os.Remove(src) //nolint:errcheck
	}

	dst, err := m.install(id, detectExtension(filepath.ToSlash(src)), tmp)
	if err != nil {
		os.Remove(tmp) //nolint:errcheck
		return "", err
	}
	return dst, nil
}

// install replaces whatever is cached for id with the temp file.
func (m *Manager) install(id, ext, tmp string) (string, error) {
	dst := m.audioPath(id, ext)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.removeLocked(id); err != nil {
		m.logger.Warn("Failed to remove stale audio", "id", id, "err", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	now := m.now()
	if err := os.Chtimes(dst, now, now); err != nil {
		m.logger.Debug("Failed to stamp cached audio", "path", dst, "err", err)
	}
	return dst, nil
}

func (m *Manager) download(ctx context.Context, u *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrDownloadFailed, resp.Status)
	}

	tmp, err := m.tempFile()
	if err != nil {
		return "", err
	}
	if err := writeFile(tmp, resp.Body); err != nil {
		os.Remove(tmp) //nolint:errcheck
		if ctx.Err() != nil || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
		return "", fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return tmp, nil
}

func (m *Manager) copyToTemp(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	defer in.Close() //nolint:errcheck

	tmp, err := m.tempFile()
	if err != nil {
		return "", err
	}
	if err := writeFile(tmp, in); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return "", fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return tmp, nil
}

// tempFile reserves a .part file in the cache directory, so the final rename
// never crosses filesystems.
func (m *Manager) tempFile() (string, error) {
	f, err := os.CreateTemp(m.dir, "store-*"+partExt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name) //nolint:errcheck
		return "", fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return name, nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, r)
	closeErr := f.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// detectExtension returns the lower-cased extension of a slash-separated
// path, or DefaultExtension when it has none the cache recognizes.
func detectExtension(p string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if knownExtension(ext) {
		return ext
	}
	return DefaultExtension
}

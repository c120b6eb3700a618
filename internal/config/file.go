package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ErrUnsupportedType is returned for config files viper would not read as
// YAML.
var ErrUnsupportedType = errors.New("config file must end in .yml or .yaml")

// WriteDefault creates path with the Default settings unless it already
// exists. The file may hold cloud.api_key, so only the owner can read it.
// It reports whether the file was created.
func WriteDefault(path string) (bool, error) {
	if ext := filepath.Ext(path); ext != ".yml" && ext != ".yaml" {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedType, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("unable to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("unable to create config file: %w", err)
	}
	if _, err := f.WriteString(Default); err != nil {
		f.Close() //nolint:errcheck
		return false, fmt.Errorf("unable to write config file: %w", err)
	}
	return true, f.Close()
}

// CheckFile loads path on its own, without READALOUD_* overrides, and
// returns the first problem found.
func CheckFile(path string) error {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to read %s: %w", path, err)
	}
	_, err := Load(v)
	return err
}

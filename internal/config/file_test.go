package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", AppName+".yml")

	created, err := WriteDefault(path)
	if err != nil || !created {
		t.Fatalf("WriteDefault = %v, %v", created, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Errorf("mode = %v, want owner only", perm)
	}
	if err := CheckFile(path); err != nil {
		t.Errorf("default file does not load: %v", err)
	}

	// An existing file is left alone.
	if err := os.WriteFile(path, []byte("cache:\n  max_size: 5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	created, err = WriteDefault(path)
	if err != nil || created {
		t.Fatalf("second WriteDefault = %v, %v", created, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "cache:\n  max_size: 5\n" {
		t.Errorf("existing file was overwritten: %q", data)
	}
}

func TestWriteDefault_UnsupportedType(t *testing.T) {
	_, err := WriteDefault(filepath.Join(t.TempDir(), "readaloud.toml"))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("err = %v, want ErrUnsupportedType", err)
	}
}

func TestCheckFile(t *testing.T) {
	tests := []struct {
		name    string
		yml     string
		wantErr bool
	}{
		{"valid", "synth:\n  rate: 1.5\n", false},
		{"bad backend", "registry:\n  backend: postgres\n", true},
		{"bad yaml", "cache: [\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), AppName+".yml")
			if err := os.WriteFile(path, []byte(tt.yml), 0o600); err != nil {
				t.Fatal(err)
			}
			if err := CheckFile(path); (err != nil) != tt.wantErr {
				t.Errorf("CheckFile() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// Package storage manages the controller's persistent volume. Only the
// volume format is persisted; actuator state never is.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrIncompatible means the volume was written by an incompatible format and
// must be erased before use.
var ErrIncompatible = errors.New("storage volume has an incompatible format")

const (
	// FormatVersion is written to the marker of a freshly initialized volume.
	FormatVersion = "ledserver/1"
	markerFile    = "FORMAT"
)

// Volume is a directory carrying a format marker.
type Volume struct {
	dir string
}

func NewVolume(dir string) *Volume {
	return &Volume{dir: dir}
}

func (v *Volume) Dir() string {
	return v.dir
}

// Init creates the volume if needed and checks its format marker.
func (v *Volume) Init() error {
	if err := os.MkdirAll(v.dir, 0o755); err != nil {
		return fmt.Errorf("create volume %s: %w", v.dir, err)
	}

	marker := filepath.Join(v.dir, markerFile)
	data, err := os.ReadFile(marker)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return v.format(marker)
	case err != nil:
		return fmt.Errorf("read volume marker: %w", err)
	}

	if found := strings.TrimSpace(string(data)); found != FormatVersion {
		return fmt.Errorf("%w: found %q, want %q", ErrIncompatible, found, FormatVersion)
	}
	return nil
}

// Erase removes everything in the volume, keeping the directory.
func (v *Volume) Erase() error {
	entries, err := os.ReadDir(v.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list volume %s: %w", v.dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(v.dir, e.Name())); err != nil {
			return fmt.Errorf("erase volume: %w", err)
		}
	}
	return nil
}

func (v *Volume) format(marker string) error {
	tmp := marker + ".tmp"
	if err := os.WriteFile(tmp, []byte(FormatVersion+"\n"), 0o644); err != nil {
		return fmt.Errorf("write volume marker: %w", err)
	}
	if err := os.Rename(tmp, marker); err != nil {
		return fmt.Errorf("write volume marker: %w", err)
	}
	return nil
}

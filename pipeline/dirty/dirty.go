// Package dirty tracks whether the output tree contains watch-mode builds.
// Watch builds embed machine-specific absolute paths in their source maps, so
// a version-control guard refuses to commit while the marker file exists.
package dirty

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Flag is a boolean externalized as a marker file.  Only the file's presence
// matters; its content is a courtesy note for whoever finds it.
type Flag struct {
	Path string
}

// Mark sets the flag.  Marking an already set flag is a no-op, so concurrent
// rebuilds may race here harmlessly.
func (f Flag) Mark() error {
	if f.Set() {
		return nil
	}
	if dir := filepath.Dir(f.Path); dir != `.` {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(f.Path, []byte("watch-mode bundles present; run the build task before committing\n"), 0o644)
}

// Clear removes the flag; clearing an absent flag is a no-op.
func (f Flag) Clear() error {
	err := os.Remove(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Set reports whether the flag is currently set.
func (f Flag) Set() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

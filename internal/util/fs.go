package util

import (
	"fmt"
	"os"
)

// EnsureDir creates each directory with its parents. Data directories are
// not world-readable.
func EnsureDir(paths ...string) error {
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", p, err)
		}
	}
	return nil
}

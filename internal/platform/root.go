package platform

import (
	"errors"
	"os"
	"path/filepath"
)

// SystemDir is the hidden directory inside a config directory that holds
// beacon's own state, such as the service registry file. The store ignores
// directories, so nothing in it is listed as a config document.
const SystemDir = ".beacon"

// ErrRootNotFound is returned by FindRoot when no config directory is found.
var ErrRootNotFound = errors.New("beacon root not found")

// FindRoot walks upwards from startDir looking for a config directory, marked
// by a SystemDir entry, and returns its absolute path.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		if hasFile(dir, SystemDir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", ErrRootNotFound
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

//go:build !windows

package atomicfile

import (
	"os"
	"path/filepath"
)

// syncParentDir fsyncs the directory containing path, required on
// filesystems (e.g. ext4 without journaling data=ordered guarantees) where a
// rename's directory-entry update is not itself durable until the directory
// is synced. Primarily exercised by this package's own tests, which run on
// the development host rather than the Windows target platform.
func syncParentDir(path string) error {
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}

// Package atomicfile provides the write-temp-fsync-rename primitive used by
// every on-disk record in this cache (manifests, object entries, statistics,
// the compression sentinel) so that a reader never observes a partial write.
package atomicfile

import (
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
)

// MkdirForFile ensures the parent directory of fileName exists.
func MkdirForFile(fileName string) error {
	return os.MkdirAll(filepath.Dir(fileName), 0o755)
}

// OpenTemp creates a new, exclusively-owned temp file next to fullPath
// (same directory, so the later rename is same-filesystem and atomic).
func OpenTemp(fullPath string) (*os.File, error) {
	tmpPath := fullPath + ".tmp" + strconv.Itoa(rand.Int())
	return os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
}

// WriteFile writes data to path via the temp-file-fsync-rename sequence:
// the parent directory is created if necessary, the payload is written to a
// sibling temp file, fsynced, and renamed into place. A reader of path will
// therefore only ever see the previous complete contents or the new complete
// contents, never a partial write (spec §5 ordering guarantees).
func WriteFile(path string, data []byte) (err error) {
	if err = MkdirForFile(path); err != nil {
		return err
	}

	f, err := OpenTemp(path)
	if err != nil {
		return err
	}
	tmpPath := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return err
	}
	return syncParentDir(path)
}

// CopyFile copies src to dst via the same temp-fsync-rename sequence, used
// when materializing a cached object into a build directory without
// hardlinks.
func CopyFile(dst, src string) (err error) {
	if err = MkdirForFile(dst); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := OpenTemp(dst)
	if err != nil {
		return err
	}
	tmpPath := out.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	buf := make([]byte, 64*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				_ = out.Close()
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = out.Close()
			return rerr
		}
	}
	if err = out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return err
	}
	return syncParentDir(dst)
}

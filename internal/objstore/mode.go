package objstore

import (
	"fmt"
	"os"

	"github.com/dgehri/clcache/internal/atomicfile"
)

// ErrModeMismatch is returned by CheckMode when the cache's existing
// compression sentinel disagrees with the running configuration (spec
// §4.6: "A cache populated without compression must not be mixed with
// compressed entries"). This is a fatal, distinct-exit-code condition
// (spec §7: "Configuration mismatch").
type ErrModeMismatch struct {
	Configured bool
	Recorded   bool
}

func (e *ErrModeMismatch) Error() string {
	return fmt.Sprintf("objstore: compression mode mismatch: cache was created with compress=%v, this invocation has compress=%v", e.Recorded, e.Configured)
}

const (
	modeCompressed   = "compressed\n"
	modeUncompressed = "uncompressed\n"
)

// CheckMode reads the cache/mode sentinel at modePath. If it doesn't exist
// yet, it is created recording wantCompress (spec §4.6: "A sentinel file
// cache/mode records the compression setting at first creation"). If it
// exists and disagrees with wantCompress, ErrModeMismatch is returned and
// the caller must refuse to write to the cache.
func CheckMode(modePath string, wantCompress bool) error {
	data, err := os.ReadFile(modePath)
	if os.IsNotExist(err) {
		return writeMode(modePath, wantCompress)
	}
	if err != nil {
		return err
	}

	recorded := string(data) == modeCompressed
	if recorded != wantCompress {
		return &ErrModeMismatch{Configured: wantCompress, Recorded: recorded}
	}
	return nil
}

// ResetMode rewrites the sentinel unconditionally, used by the -C clear
// subcommand (spec §4.6: "Clearing (-C) resets the sentinel").
func ResetMode(modePath string, wantCompress bool) error {
	return writeMode(modePath, wantCompress)
}

func writeMode(modePath string, compress bool) error {
	content := modeUncompressed
	if compress {
		content = modeCompressed
	}
	return atomicfile.WriteFile(modePath, []byte(content))
}

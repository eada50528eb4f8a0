// Package stats implements the persisted statistics record (spec §3, §4.8):
// a single small JSON record of counters, updated under the global
// statistics lock and printed by the "-s" maintenance subcommand.
//
// Grounded on this project's ancestor's statsd.go atomic-counter idiom,
// adapted from ephemeral UDP telemetry to a persisted record: spec §4.8
// wants a file surviving across invocations, not wire telemetry to a
// collector.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dgehri/clcache/internal/atomicfile"
	"github.com/dgehri/clcache/internal/lockmgr"
)

// Counters is the statistics record (spec §3).
type Counters struct {
	CallsTotal                int64 `json:"calls_total"`
	CallsForPreprocessing     int64 `json:"calls_for_preprocessing"`
	CallsWithoutSourceFile    int64 `json:"calls_without_source_file"`
	CallsForLinking           int64 `json:"calls_for_linking"`
	CallsForExternalDebugInfo int64 `json:"calls_for_external_debug_info"`
	CallsForMultipleSources   int64 `json:"calls_for_multiple_sources"`
	CacheHits                 int64 `json:"cache_hits"`
	CacheMisses               int64 `json:"cache_misses"`
	EvictedMisses             int64 `json:"evicted_misses"`
	HeaderChangedMisses       int64 `json:"header_changed_misses"`
	SourceChangedMisses       int64 `json:"source_changed_misses"`
	DemotedMisses             int64 `json:"demoted_misses"`
	LockTimeouts              int64 `json:"lock_timeouts"`
	CacheEntries              int64 `json:"cache_entries"`
	CacheSize                 int64 `json:"cache_size"`
	MaxCacheSize              int64 `json:"max_cache_size"`
}

// Load reads the counters at path. A missing file yields a zero record with
// maxCacheSize pre-populated, matching first-run behavior.
func Load(path string, defaultMaxCacheSize int64) (*Counters, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Counters{MaxCacheSize: defaultMaxCacheSize}, nil
	}
	if err != nil {
		return nil, err
	}
	var c Counters
	if err := json.Unmarshal(data, &c); err != nil {
		// spec §7: corrupt stats record is not worth failing a build over;
		// start fresh rather than propagate the error.
		return &Counters{MaxCacheSize: defaultMaxCacheSize}, nil
	}
	return &c, nil
}

// Save writes c atomically.
func Save(path string, c *Counters) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(path, data)
}

// Update performs a read-modify-write of the counters record at path under
// the global statistics lock (spec §4.8: "Updates use read-modify-write
// under the statistics lock"). If the lock cannot be acquired within the
// manager's timeout, bypassed is true and mutate is not called: the caller
// proceeds without recording this particular update rather than failing the
// build (spec §4.7, §7).
func Update(path string, locks *lockmgr.Manager, defaultMaxCacheSize int64, mutate func(*Counters)) (bypassed bool, err error) {
	lock, ok, err := locks.LockStats()
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	defer lock.Unlock()

	c, err := Load(path, defaultMaxCacheSize)
	if err != nil {
		return false, err
	}
	mutate(c)
	return false, Save(path, c)
}

// Reset zeros every counter except MaxCacheSize, which survives "-z" (spec
// §4.8, §6: "-z: zero counters; preserve cache contents and MaxCacheSize").
func Reset(c *Counters) {
	maxSize := c.MaxCacheSize
	*c = Counters{MaxCacheSize: maxSize}
}

// Table renders c as the human-readable table printed by "-s" (spec §6).
func Table(c *Counters) string {
	var b strings.Builder
	row := func(label string, value int64) {
		fmt.Fprintf(&b, "%-34s %d\n", label, value)
	}
	row("Calls total", c.CallsTotal)
	row("Calls for preprocessing", c.CallsForPreprocessing)
	row("Calls without source file", c.CallsWithoutSourceFile)
	row("Calls for linking", c.CallsForLinking)
	row("Calls for external debug info", c.CallsForExternalDebugInfo)
	row("Calls for multiple source files", c.CallsForMultipleSources)
	row("Cache hits", c.CacheHits)
	row("Cache misses", c.CacheMisses)
	row("  evicted", c.EvictedMisses)
	row("  header changed", c.HeaderChangedMisses)
	row("  source changed", c.SourceChangedMisses)
	row("  demoted from direct mode", c.DemotedMisses)
	row("Lock timeouts (bypassed)", c.LockTimeouts)
	row("Cache entries", c.CacheEntries)
	row("Cache size (bytes)", c.CacheSize)
	row("Max cache size (bytes)", c.MaxCacheSize)
	return b.String()
}

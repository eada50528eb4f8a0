// Package manifest implements the per-source manifest store (spec §3, §4.5):
// a small on-disk record mapping a TU's include-set fingerprint to the
// object key produced by direct-mode cache lookups, so repeated compiles of
// the same source under the same normalized command line can skip running
// the compiler at all when the headers it last saw haven't changed.
//
// Grounded on this project's ancestor's general "small record, read under
// lock, atomic rewrite" idiom (obj-cache.go's key derivation plus
// filesystem.go's atomic write); the ancestor keeps no on-disk per-source
// history of its own (its FileCache is an in-memory LRU table), so the
// record shape here follows spec §4.5 directly rather than any one
// ancestor file.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dgehri/clcache/internal/atomicfile"
	"github.com/dgehri/clcache/internal/hash"
)

// DefaultMaxEntries is K from spec §3/§4.5.
const DefaultMaxEntries = 10

// Entry is one manifest record (spec §3).
type Entry struct {
	IncludeSetFingerprint string `json:"include_set_fingerprint"`
	ObjectKey             string `json:"object_key"`
	LastUsedEpoch         int64  `json:"last_used_epoch"`
}

// Manifest is the full per-(source, normalized-cl) record, ordered by
// LastUsedEpoch descending (spec §3: "Ordered by last_used_epoch
// descending; truncated on insert").
type Manifest struct {
	Entries []Entry `json:"entries"`
}

// Hash returns the manifest hash for a (relativized source path, normalized
// command-line) pair (spec §4.5: "hash(source-path-relativized ||
// normalized-cl)").
func Hash(sourcePathRelativized string, normalizedCmdLine []string) hash.Digest {
	h := hash.New()
	h.UpdateTupleStrings(sourcePathRelativized)
	for _, tok := range normalizedCmdLine {
		h.UpdateTupleStrings(tok)
	}
	return h.Finalize()
}

// Path returns the on-disk path for a manifest hash under root
// (manifests/<shard>/<manifest-hash>, spec §6).
func Path(root string, manifestHash hash.Digest) string {
	return filepath.Join(root, "manifests", manifestHash.ShardHex(), manifestHash.RestHex())
}

// Load reads the manifest at path. A missing file is not an error: it
// returns an empty Manifest, matching the "manifests are created on first
// miss" lifecycle (spec §3).
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		// spec §7: cache corruption (unreadable manifest) => treated as
		// absent, proceeds as a miss.
		return &Manifest{}, nil
	}
	return &m, nil
}

// Save writes m to path atomically (spec §4.5: "writes atomically: write to
// temp file in same directory, fsync, rename").
func Save(path string, m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(path, data)
}

// Lookup scans m for an entry whose IncludeSetFingerprint matches fp. If
// found, it is moved to the front and its LastUsedEpoch is bumped to now
// (spec §4.5: "on hit moves the matching entry to the front and updates
// last_used_epoch"). ok is false on no match.
//
// If more than one entry shares fp (only possible via corruption, spec §9
// open question), all matching entries are discarded and ok is false —
// "discard both" rather than guess which object key is correct.
func (m *Manifest) Lookup(fp string, now int64) (objectKey string, ok bool) {
	var matches []Entry
	var rest []Entry
	for _, e := range m.Entries {
		if e.IncludeSetFingerprint == fp {
			matches = append(matches, e)
		} else {
			rest = append(rest, e)
		}
	}

	switch len(matches) {
	case 0:
		return "", false
	case 1:
		hit := matches[0]
		hit.LastUsedEpoch = now
		m.Entries = append([]Entry{hit}, rest...)
		return hit.ObjectKey, true
	default:
		// corrupted manifest: two entries with the same fingerprint but
		// (necessarily) different object keys are indistinguishable;
		// discard all of them rather than guess (spec §9).
		m.Entries = rest
		return "", false
	}
}

// Insert prepends a new entry for fp/objectKey, removing any existing entry
// for the same fingerprint first, then truncates to maxEntries, dropping
// the oldest by LastUsedEpoch if the manifest overflows (spec §3, §4.5:
// "prepends; truncates to K").
func (m *Manifest) Insert(fp, objectKey string, now int64, maxEntries int) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	filtered := m.Entries[:0:0]
	for _, e := range m.Entries {
		if e.IncludeSetFingerprint != fp {
			filtered = append(filtered, e)
		}
	}

	entries := append([]Entry{{IncludeSetFingerprint: fp, ObjectKey: objectKey, LastUsedEpoch: now}}, filtered...)

	if len(entries) > maxEntries {
		// truncate, dropping entries with the oldest LastUsedEpoch first
		// (spec §8 property 4).
		sortByLastUsedDesc(entries)
		entries = entries[:maxEntries]
	}

	m.Entries = entries
}

// sortByLastUsedDesc orders entries by LastUsedEpoch descending, the order
// the manifest is always kept in (spec §3).
func sortByLastUsedDesc(entries []Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].LastUsedEpoch > entries[j-1].LastUsedEpoch; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

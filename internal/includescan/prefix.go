package includescan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgehri/clcache/internal/atomicfile"
	"github.com/dgehri/clcache/internal/compiler"
)

// prefixCacheEntry keys the detected /showIncludes prefix by the compiler
// binary's size+mtime, the same identity spec §3 uses for the cache key, so
// a compiler upgrade invalidates the cached prefix too.
type prefixCacheEntry struct {
	Size   int64  `json:"size"`
	Mtime  int64  `json:"mtime"`
	Prefix string `json:"prefix"`
}

// DetectPrefix returns the locale-specific "Note: including file:"-style
// prefix /showIncludes emits for compilerPath, probing once per compiler
// binary and memorizing the result in cachePath (spec §4.4, §9: "the prefix
// varies by compiler locale ... capture the prefix by compiling a trivial
// known-include file once and memorizing the observed prefix per compiler
// binary").
func DetectPrefix(ctx context.Context, compilerPath, cachePath string) (string, error) {
	size, mtime, err := compiler.FileKey(compilerPath)
	if err != nil {
		return "", err
	}

	if cached, ok := loadCachedPrefix(cachePath, size, mtime); ok {
		return cached, nil
	}

	prefix, err := probePrefix(ctx, compilerPath)
	if err != nil {
		return "", err
	}

	_ = savePrefixCache(cachePath, prefixCacheEntry{Size: size, Mtime: mtime, Prefix: prefix})
	return prefix, nil
}

func loadCachedPrefix(cachePath string, size, mtime int64) (string, bool) {
	data, err := os.ReadFile(cachePath)
	if err != nil {
		return "", false
	}
	var entry prefixCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return "", false
	}
	if entry.Size != size || entry.Mtime != mtime {
		return "", false
	}
	return entry.Prefix, true
}

func savePrefixCache(cachePath string, entry prefixCacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(cachePath, data)
}

// probePrefix compiles a trivial known-include file and scrapes the prefix
// text that precedes the (known, therefore recognizable) absolute path to
// the included header on the matching /showIncludes line.
func probePrefix(ctx context.Context, compilerPath string) (string, error) {
	dir, err := os.MkdirTemp("", "clcache-probe")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	headerPath := filepath.Join(dir, "clcache_probe.h")
	sourcePath := filepath.Join(dir, "clcache_probe.cpp")
	if err := os.WriteFile(headerPath, []byte("\n"), 0o644); err != nil {
		return "", err
	}
	if err := os.WriteFile(sourcePath, []byte(`#include "clcache_probe.h"`+"\n"), 0o644); err != nil {
		return "", err
	}

	res, err := compiler.Run(ctx, compilerPath, []string{"/nologo", "/showIncludes", "/EP", sourcePath}, dir)
	if err != nil {
		return "", err
	}

	resolvedHeader, err := canonicalize(headerPath)
	if err != nil {
		resolvedHeader = headerPath
	}

	lines := strings.Split(string(res.Stderr), "\n")
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		idx := strings.LastIndex(strings.ToLower(trimmed), strings.ToLower(filepath.Base(headerPath)))
		if idx == -1 {
			continue
		}
		// the prefix is everything up to (and not including) the path
		// itself; find where the path begins by looking for the last
		// whitespace run before the matched basename that isn't part of
		// the path (paths can't start mid-word, but can contain spaces on
		// some filesystems, so anchor on the known header's full
		// resolved path when possible).
		pathStart := strings.LastIndex(trimmed, resolvedHeader)
		if pathStart == -1 {
			pathStart = strings.LastIndex(trimmed, headerPath)
		}
		if pathStart == -1 {
			continue
		}
		return trimmed[:pathStart], nil
	}

	return "", fmt.Errorf("includescan: could not detect /showIncludes prefix from probe output: %q", string(res.Stderr))
}

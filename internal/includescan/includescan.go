// Package includescan implements the direct-mode include scanner (spec
// §4.4): given a translation unit and its preprocessor-affecting switches,
// it derives the include-set fingerprint — a hash over every header the TU
// actually uses, plus the source file itself — without needing the
// preprocessed text kept around (that's indirect mode's job).
//
// Grounded on this project's ancestor's includes-collector.go
// (CollectDependentIncludesByCxxM's "run the preprocessor, parse its
// dependency output, hash each file" structure), with the GCC "-M"
// Makefile-output parser replaced by a "/showIncludes" line parser and the
// locale-prefix auto-detection spec §4.4/§9 calls for, since cl.exe's
// "/showIncludes" prefix text varies by the compiler's configured locale.
package includescan

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/dgehri/clcache/internal/cmdline"
	"github.com/dgehri/clcache/internal/compiler"
	"github.com/dgehri/clcache/internal/hash"
	"github.com/dgehri/clcache/internal/memoize"
)

// ErrNoIncludesParsed is returned by Scan when /showIncludes produced no
// recognizable dependency lines at all — spec §4.4: "If /showIncludes
// parsing fails (no matches found), the driver demotes the invocation to
// indirect mode for this call only."
var ErrNoIncludesParsed = fmt.Errorf("includescan: no /showIncludes lines recognized")

// Result is everything the caller needs after a successful scan.
type Result struct {
	Fingerprint hash.Digest
	Headers     []string // resolved, canonicalized absolute paths, for diagnostics/tests
}

// Scan runs the real compiler in preprocess-only mode with /showIncludes to
// discover pcl's header dependencies, then computes the include-set
// fingerprint (spec §4.4): the hash over the sorted sequence of
// (relativized-path, content-hash) pairs for every header, plus the
// content-hash of the source file itself.
func Scan(ctx context.Context, compilerPath string, pcl *cmdline.ParsedCommandLine, prefix string, rel cmdline.RelOptions, memoizer memoize.HashMemoizer) (*Result, error) {
	if len(pcl.SourceFiles) != 1 {
		return nil, fmt.Errorf("includescan: expected exactly one source file, got %d", len(pcl.SourceFiles))
	}
	source := pcl.SourceFiles[0]

	args := buildShowIncludesArgs(pcl, source)
	res, err := compiler.Run(ctx, compilerPath, args, pcl.Cwd)
	if err != nil {
		return nil, err
	}

	headerPaths := parseShowIncludes(res.Stderr, prefix)
	if len(headerPaths) == 0 {
		return nil, ErrNoIncludesParsed
	}

	type entry struct {
		relPath string
		digest  hash.Digest
	}
	entries := make([]entry, 0, len(headerPaths))
	seen := make(map[string]bool, len(headerPaths))
	resolved := make([]string, 0, len(headerPaths))

	for _, raw := range headerPaths {
		canon, cerr := canonicalize(raw)
		if cerr != nil {
			continue // header vanished between the scan and hashing; spec §7 "missing files in an entry" => treat as absent
		}
		if seen[canon] {
			continue
		}
		seen[canon] = true

		st, serr := os.Stat(canon)
		if serr != nil {
			continue
		}
		d, herr := contentHash(canon, st.Size(), st.ModTime().UnixNano(), memoizer)
		if herr != nil {
			return nil, herr
		}
		relPath := cmdline.RelativizePath(canon, rel)
		entries = append(entries, entry{relPath: cmdline.CanonicalPathForHashing(relPath), digest: d})
		resolved = append(resolved, canon)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })

	sourceDigest, err := hash.File(source)
	if err != nil {
		return nil, err
	}

	h := hash.New()
	for _, e := range entries {
		h.UpdateTupleStrings(e.relPath)
		h.Update(e.digest[:])
	}
	h.Update(sourceDigest[:])

	return &Result{Fingerprint: h.Finalize(), Headers: resolved}, nil
}

// contentHash resolves a header's content digest, consulting the remote
// hash-memoization adapter first if configured (spec §4.4: "If a remote
// memoization adapter is configured, content-hash lookups go to it keyed by
// (path, last-modified, size) before falling back to reading the file").
func contentHash(path string, size, mtime int64, memoizer memoize.HashMemoizer) (hash.Digest, error) {
	if memoizer != nil {
		if d, ok, err := memoizer.Lookup(path, mtime, size); err == nil && ok {
			return d, nil
		}
	}
	d, err := hash.File(path)
	if err != nil {
		return hash.Digest{}, err
	}
	if memoizer != nil {
		_ = memoizer.Store(path, mtime, size, d)
	}
	return d, nil
}

// buildShowIncludesArgs constructs the argv for the preprocess-only probe:
// original preprocessor-affecting switches plus /showIncludes /EP /nologo
// (spec §4.4: "run the real compiler with /showIncludes /EP /nologo").
func buildShowIncludesArgs(pcl *cmdline.ParsedCommandLine, source string) []string {
	args := make([]string, 0, len(pcl.Switches)+4)
	for _, sw := range pcl.Switches {
		switch sw.Kind {
		case cmdline.KindInclude, cmdline.KindForcedInclude, cmdline.KindDefine,
			cmdline.KindUndefine, cmdline.KindAdditionalIncludePath, cmdline.KindIgnoreStandardIncludes:
			args = append(args, sw.Raw()...)
		}
	}
	args = append(args, "/showIncludes", "/EP", "/nologo", source)
	return args
}

// parseShowIncludes extracts the absolute header paths from /showIncludes
// output, one per line after the locale-specific prefix (spec §4.4: "parse
// the localized prefix 'Note: including file:'").
func parseShowIncludes(stderrOutput []byte, prefix string) []string {
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(stderrOutput))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		path := strings.TrimSpace(line[len(prefix):])
		if path != "" {
			out = append(out, path)
		}
	}
	return out
}

// canonicalize resolves symlinks and case-folds path on case-insensitive
// filesystems (spec §4.4: "Each path is canonicalized (case-folded on
// case-insensitive filesystems; symlinks resolved) before hashing").
func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "windows" {
		abs = strings.ToLower(abs)
	}
	return abs, nil
}

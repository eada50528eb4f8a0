package cmdline

import "strings"

// Sentinel tokens substituted for absolute paths under the configured
// base/build directories (spec §3 BaseDir/BuildDir relativization), so that
// cache entries remain valid after the project tree is moved.
const (
	BaseDirSentinel  = "@clcache-basedir@"
	BuildDirSentinel = "@clcache-builddir@"
)

// RelOptions carries the configured base/build directories used for
// relativization. Either or both may be empty (disabled).
type RelOptions struct {
	BaseDir  string
	BuildDir string
}

// RelativizePath rewrites path to a sentinel-prefixed relative form if it
// falls under BuildDir or BaseDir (build dir checked first since it is
// commonly nested inside the base dir and is the more specific match).
func RelativizePath(path string, rel RelOptions) string {
	type candidate struct {
		sentinel string
		prefix   string
	}
	candidates := make([]candidate, 0, 2)
	if rel.BuildDir != "" {
		candidates = append(candidates, candidate{BuildDirSentinel, rel.BuildDir})
	}
	if rel.BaseDir != "" {
		candidates = append(candidates, candidate{BaseDirSentinel, rel.BaseDir})
	}

	bestPrefixLen := -1
	best := path
	for _, c := range candidates {
		if rest, ok := stripPrefixFold(path, c.prefix); ok && len(c.prefix) > bestPrefixLen {
			bestPrefixLen = len(c.prefix)
			best = c.sentinel + rest
		}
	}
	return best
}

// stripPrefixFold reports whether path is prefix-or-equal under prefix,
// comparing case-insensitively (paths are compared case-insensitively on
// Windows per spec §4.9), and returns the remainder including its leading
// separator.
func stripPrefixFold(path, prefix string) (string, bool) {
	prefix = strings.TrimRight(prefix, `/\`)
	if prefix == "" {
		return "", false
	}
	if len(path) < len(prefix) || !strings.EqualFold(path[:len(prefix)], prefix) {
		return "", false
	}
	if len(path) == len(prefix) {
		return "", true
	}
	next := path[len(prefix)]
	if next != '/' && next != '\\' {
		return "", false
	}
	return path[len(prefix):], true
}

// CanonicalPathForHashing lowercases path, matching spec §4.9: "Paths ...
// are compared case-insensitively on Windows but hashed in their
// canonicalized (lowercased) form."
func CanonicalPathForHashing(path string) string {
	return strings.ToLower(path)
}

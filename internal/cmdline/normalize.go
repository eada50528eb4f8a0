package cmdline

// Mode selects direct vs. indirect cache-key derivation (spec GLOSSARY),
// which changes how the normalizer treats preprocessor-affecting switches
// (spec §4.2).
type Mode int

const (
	ModeDirect Mode = iota
	ModeIndirect
)

// Normalize walks pcl's switches in original order and returns the
// canonical token sequence that contributes to the cache key (spec §4.2).
// The result is consumed with hash.Hasher.UpdateTuple, so token boundaries
// stay unambiguous without needing to join them into one string.
func Normalize(pcl *ParsedCommandLine, mode Mode, rel RelOptions) []string {
	out := make([]string, 0, len(pcl.Switches))

	for _, sw := range pcl.Switches {
		switch sw.Kind {
		case KindOutputObj, KindOutputPdb, KindOutputPch:
			continue // output locations: dropped

		case KindMultiProcess, KindShowIncludes, KindNoLogo, KindForceSync, KindCompileOnly:
			continue // parallelism / diagnostics / informational: dropped

		case KindInclude, KindForcedInclude, KindDefine, KindUndefine,
			KindAdditionalIncludePath, KindIgnoreStandardIncludes:
			if mode == ModeIndirect {
				continue // already reflected in the preprocessed text
			}
			out = append(out, normalizePreprocessorSwitch(sw, rel))

		default:
			// Code-gen-affecting and Unknown switches: retained verbatim,
			// values taken as-is (spec §4.2).
			out = append(out, sw.Raw()...)
		}
	}

	return out
}

// normalizePreprocessorSwitch retains a direct-mode preprocessor switch in
// original order, relativizing /I and /FI path arguments (spec §4.2).
func normalizePreprocessorSwitch(sw Switch, rel RelOptions) string {
	if !sw.HasValue {
		return sw.Name
	}
	value := sw.Value
	if sw.Kind == KindInclude || sw.Kind == KindForcedInclude || sw.Kind == KindAdditionalIncludePath {
		value = RelativizePath(value, rel)
	}
	return sw.Name + value
}

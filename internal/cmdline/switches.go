package cmdline

import "strings"

// arity describes how a known switch's value (if any) is supplied.
type arity int

const (
	arityNone             arity = iota // plain flag, never takes a value
	arityJoined                        // value is always directly appended, e.g. /Fofoo.obj
	arityJoinedOrSeparate              // value may be joined or the following argv token
)

type switchDef struct {
	arity arity
	kind  Kind
	class SwitchClass
}

// knownSwitches holds the switches this parser gives explicit semantic
// meaning to (spec §3's named flags). Matched by longest-prefix against the
// start of a token, so "/Fo" is tried before a shorter clashing prefix would
// be (there is none here, but the matching logic is written generally).
var knownSwitches = map[string]switchDef{
	"/c":            {arityNone, KindCompileOnly, ClassInformational},
	"/link":         {arityNone, KindLink, ClassInformational},
	"/Zi":           {arityNone, KindDebugFull, ClassCodeGen},
	"/Z7":           {arityNone, KindDebugLine, ClassCodeGen},
	"/E":            {arityNone, KindPreprocessToStdout, ClassInformational},
	"/EP":           {arityNone, KindPreprocessOnly, ClassInformational},
	"/MP":           {arityJoined, KindMultiProcess, ClassInformational},
	"/showIncludes": {arityNone, KindShowIncludes, ClassInformational},
	"/nologo":       {arityNone, KindNoLogo, ClassInformational},
	"/FS":           {arityNone, KindForceSync, ClassInformational},
	"/Fo":           {arityJoined, KindOutputObj, ClassOutputLocation},
	"/Fd":           {arityJoined, KindOutputPdb, ClassOutputLocation},
	"/Fp":           {arityJoined, KindOutputPch, ClassOutputLocation},
	"/Fe":           {arityJoined, KindOutputExe, ClassOutputLocation},
	"/I":            {arityJoinedOrSeparate, KindInclude, ClassPreprocessor},
	"/FI":           {arityJoinedOrSeparate, KindForcedInclude, ClassPreprocessor},
	"/D":            {arityJoinedOrSeparate, KindDefine, ClassPreprocessor},
	"/U":            {arityJoinedOrSeparate, KindUndefine, ClassPreprocessor},
	"/X":            {arityNone, KindIgnoreStandardIncludes, ClassPreprocessor},
	"/AI":           {arityJoinedOrSeparate, KindAdditionalIncludePath, ClassPreprocessor},
	"/Yc":           {arityJoined, KindPrecompiledHeaderCreate, ClassCodeGen},
	"/Yu":           {arityJoined, KindPrecompiledHeaderUse, ClassCodeGen},
}

// codegenPrefixes are switches retained verbatim as code-gen-affecting
// (spec §4.2) without any further special handling: always joined-form in
// cl.exe (e.g. /O2, /EHsc, /MDd, /arch:AVX2, /std:c++20).
var codegenPrefixes = []string{
	"/O", "/arch:", "/GL", "/MD", "/MT", "/LD", "/W", "/EH", "/std:", "/GR",
	"/Gy", "/Gw", "/Gd", "/Gr", "/Gz", "/sdl", "/guard:", "/Qspectre",
	"/permissive-", "/analyze", "/Zc:", "/volatile:", "/favor:", "/Qpar",
	"/fp:", "/GS", "/RTC", "/kernel", "/clr", "/await", "/source-charset:",
	"/execution-charset:", "/utf-8", "/J", "/Za", "/Ze",
}

// denySwitches cause an otherwise-cacheable invocation to be rejected as
// Passthrough(Unsupported): each produces an extra output artifact this
// cache does not track, so the result of compiling "the same way twice"
// would silently drop a file a caller may depend on.
var denySwitches = []string{"/Fa", "/FR", "/Fr", "/doc", "/Yc", "/Yu"}

// matchSwitch attempts to interpret token (and, if needed, the following
// argv entry) as a known or code-gen switch. ok is false if token isn't
// recognized as any switch at all (the caller then falls back to Unknown).
func matchSwitch(token string, next string, hasNext bool) (sw Switch, consumedNext bool, ok bool) {
	// longest-prefix match against knownSwitches
	var bestName string
	var bestDef switchDef
	for name, def := range knownSwitches {
		if strings.HasPrefix(token, name) && len(name) > len(bestName) {
			bestName, bestDef = name, def
		}
	}

	if bestName != "" {
		rest := token[len(bestName):]
		switch bestDef.arity {
		case arityNone:
			if rest != "" {
				// trailing garbage after a no-value switch: treat whole
				// token as unknown rather than guessing.
				break
			}
			return Switch{Name: bestName, Class: bestDef.class, Kind: bestDef.kind}, false, true

		case arityJoined:
			return Switch{Name: bestName, Value: rest, HasValue: rest != "", Joined: true, Class: bestDef.class, Kind: bestDef.kind}, false, true

		case arityJoinedOrSeparate:
			if rest != "" {
				return Switch{Name: bestName, Value: rest, HasValue: true, Joined: true, Class: bestDef.class, Kind: bestDef.kind}, false, true
			}
			if hasNext && !looksLikeSwitch(next) {
				return Switch{Name: bestName, Value: next, HasValue: true, Joined: false, Class: bestDef.class, Kind: bestDef.kind}, true, true
			}
			return Switch{Name: bestName, Class: bestDef.class, Kind: bestDef.kind}, false, true
		}
	}

	for _, prefix := range codegenPrefixes {
		if strings.HasPrefix(token, prefix) {
			return Switch{Name: token, Class: ClassCodeGen}, false, true
		}
	}

	return Switch{}, false, false
}

func looksLikeSwitch(token string) bool {
	return len(token) > 0 && (token[0] == '/' || token[0] == '-')
}

// deniedPrefix reports which deny-listed switch (if any) token begins with.
// Checked against the raw token rather than a parsed Switch.Name, since a
// denied switch like "/Fa" is always joined-form (e.g. "/Faasm.asm") and
// several (like "/Yc", "/Yu") are also in knownSwitches with a full name
// already equal to the prefix.
func deniedPrefix(token string) string {
	for _, d := range denySwitches {
		if strings.HasPrefix(token, d) {
			return d
		}
	}
	return ""
}

// isSourceFileName reports whether fileName looks like a C/C++ translation
// unit cl.exe would compile, by extension.
func isSourceFileName(fileName string) bool {
	lower := strings.ToLower(fileName)
	for _, ext := range []string{".c", ".cc", ".cpp", ".cxx", ".c++"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

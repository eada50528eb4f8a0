// Package cmdline implements the argument model, classifier and normalizer
// (spec §3, §4.1, §4.2): parsing cl.exe argv into a structured form, deciding
// whether an invocation is cacheable, and producing the canonical argument
// string that contributes to the cache key.
package cmdline

import "fmt"

// SwitchClass is the normalizer-relevant category of one parsed switch.
type SwitchClass int

const (
	ClassPreprocessor SwitchClass = iota
	ClassCodeGen
	ClassOutputLocation
	ClassInformational
	ClassUnrecognized
)

func (c SwitchClass) String() string {
	switch c {
	case ClassPreprocessor:
		return "preprocessor-affecting"
	case ClassCodeGen:
		return "code-gen-affecting"
	case ClassOutputLocation:
		return "output-location"
	case ClassInformational:
		return "informational"
	default:
		return "unrecognized"
	}
}

// Kind names the switches the parser gives special handling, beyond the
// normalizer's five classes.
type Kind int

const (
	KindUnknown Kind = iota
	KindCompileOnly
	KindLink
	KindOutputObj
	KindOutputPdb
	KindOutputPch
	KindOutputExe
	KindDebugFull
	KindDebugLine
	KindPreprocessToStdout
	KindPreprocessOnly
	KindMultiProcess
	KindShowIncludes
	KindNoLogo
	KindForceSync
	KindInclude
	KindForcedInclude
	KindDefine
	KindUndefine
	KindIgnoreStandardIncludes
	KindAdditionalIncludePath
	KindPrecompiledHeaderCreate
	KindPrecompiledHeaderUse
)

// Switch is one parsed command-line switch, in original order.
type Switch struct {
	Name     string // canonical name, e.g. "/Fo", "/I", "/D"
	Value    string // attached or following value, verbatim; "" if none
	HasValue bool
	Joined   bool // whether Value was attached directly to Name (no separate argv token)
	Class    SwitchClass
	Kind     Kind
}

// Raw reconstructs the original token(s) for this switch.
func (s Switch) Raw() []string {
	if !s.HasValue {
		return []string{s.Name}
	}
	if s.Joined {
		return []string{s.Name + s.Value}
	}
	return []string{s.Name, s.Value}
}

func (s Switch) String() string {
	if !s.HasValue {
		return s.Name
	}
	return fmt.Sprintf("%s=%s", s.Name, s.Value)
}

// ParsedCommandLine is the structured form of one cl.exe invocation (spec §3).
type ParsedCommandLine struct {
	CompilerPath string
	Cwd          string

	Switches    []Switch // every switch, in original order
	SourceFiles []string // non-switch arguments that look like source files
	OtherArgs   []string // non-switch, non-source arguments (e.g. .obj/.lib passed for linking)

	OutputObj string // from /Fo, or "" if not given
	Link      bool   // /link present
	Zi        bool   // /Zi present
	Z7        bool   // /Z7 present
	E         bool   // /E present
	EP        bool   // /EP present
	MPSet     bool   // /MP or /MPn present
	MPCount   int    // n from /MPn; 0 means bare /MP (use NumCPU)
	ShowIncl  bool   // /showIncludes present

	IncludeDirs     []string // /I values, in order
	ForcedIncludes  []string // /FI values, in order
	Defines         []string // /D values, in order, verbatim (e.g. "FOO", "FOO=1")
	Undefines       []string // /U values, in order

	Denied string // name of a deny-listed switch present, if any
}

// HasSwitch reports whether any parsed switch has the given kind.
func (p *ParsedCommandLine) HasSwitch(kind Kind) bool {
	for _, s := range p.Switches {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

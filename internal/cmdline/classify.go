package cmdline

import "strings"

// Reason names why an invocation is not cacheable (spec §4.1).
type Reason int

const (
	ReasonNone Reason = iota
	ReasonLinking
	ReasonNoSourceFile
	ReasonExternalDebugInfo
	ReasonCallsForMultipleSources // internal marker, never surfaces as Passthrough
	ReasonPreprocessorOnly
	ReasonDisabled
	ReasonUnsupported
)

func (r Reason) String() string {
	switch r {
	case ReasonLinking:
		return "Linking"
	case ReasonNoSourceFile:
		return "NoSourceFile"
	case ReasonExternalDebugInfo:
		return "ExternalDebugInfo"
	case ReasonPreprocessorOnly:
		return "PreprocessorOnly"
	case ReasonDisabled:
		return "Disabled"
	case ReasonUnsupported:
		return "Unsupported"
	default:
		return "None"
	}
}

// Outcome is the tagged-variant classifier result (spec §4.1, §9:
// "Dynamic typing → tagged variants").
type Outcome int

const (
	OutcomeCacheable Outcome = iota
	OutcomeSplitMulti
	OutcomePassthrough
)

// Classification is the classifier's result. Exactly one of the three
// fields is meaningful, selected by Outcome.
type Classification struct {
	Outcome Outcome

	// OutcomeCacheable: the single-source parsed command line.
	Single *ParsedCommandLine

	// OutcomeSplitMulti: one sub-invocation per source file, duplicates
	// preserved in original order (spec §4.9 tie-break policy).
	SubInvocations []*ParsedCommandLine

	// OutcomePassthrough:
	Reason Reason
}

// Classify decides whether pcl is cacheable, must be split into
// single-source sub-invocations, or should pass through to the real
// compiler untouched (spec §4.1 invariants).
func Classify(pcl *ParsedCommandLine) Classification {
	if isLinkingInvocation(pcl) {
		return Classification{Outcome: OutcomePassthrough, Reason: ReasonLinking}
	}
	if len(pcl.SourceFiles) == 0 {
		return Classification{Outcome: OutcomePassthrough, Reason: ReasonNoSourceFile}
	}
	if !pcl.HasCompileOnly() {
		return Classification{Outcome: OutcomePassthrough, Reason: ReasonUnsupported}
	}
	if pcl.Zi {
		return Classification{Outcome: OutcomePassthrough, Reason: ReasonExternalDebugInfo}
	}
	if pcl.E || pcl.EP {
		return Classification{Outcome: OutcomePassthrough, Reason: ReasonPreprocessorOnly}
	}
	if pcl.Denied != "" {
		return Classification{Outcome: OutcomePassthrough, Reason: ReasonUnsupported}
	}

	if len(pcl.SourceFiles) > 1 {
		return Classification{Outcome: OutcomeSplitMulti, SubInvocations: splitMulti(pcl)}
	}

	return Classification{Outcome: OutcomeCacheable, Single: pcl}
}

// isLinkingInvocation reports whether pcl names an invocation that will
// drive the linker, even without an explicit /link: an explicit /Fe output
// (cl.exe only names an executable when it intends to produce one) or an
// .obj/.lib fed in alongside a missing /c (cl.exe would otherwise have
// nothing to do with them but hand them to the linker).
func isLinkingInvocation(pcl *ParsedCommandLine) bool {
	if pcl.Link {
		return true
	}
	if pcl.HasSwitch(KindOutputExe) {
		return true
	}
	if !pcl.HasCompileOnly() && hasObjectOrLibInput(pcl.OtherArgs) {
		return true
	}
	return false
}

func hasObjectOrLibInput(args []string) bool {
	for _, a := range args {
		lower := strings.ToLower(a)
		if strings.HasSuffix(lower, ".obj") || strings.HasSuffix(lower, ".lib") {
			return true
		}
	}
	return false
}

// splitMulti decomposes a multi-source invocation into one single-source
// ParsedCommandLine per entry in pcl.SourceFiles, preserving duplicates
// (spec §4.9: "If the source file is listed multiple times ... treat as
// SplitMulti with duplicates preserved"). Every other switch is carried
// over unchanged; /MP is kept so the driver can read the requested
// parallelism. Argv reproduces /MP in each child's argv; Normalize drops
// it, so it does not affect the child's cache key.
func splitMulti(pcl *ParsedCommandLine) []*ParsedCommandLine {
	subs := make([]*ParsedCommandLine, 0, len(pcl.SourceFiles))
	for _, src := range pcl.SourceFiles {
		sub := *pcl
		sub.SourceFiles = []string{src}
		subs = append(subs, &sub)
	}
	return subs
}

// Argv reconstructs the literal argv (compiler path + original tokens plus
// this invocation's single source file) for a sub-invocation produced by
// splitMulti, suitable for spawning a child clcache process.
func (p *ParsedCommandLine) Argv() []string {
	argv := []string{p.CompilerPath}
	for _, sw := range p.Switches {
		argv = append(argv, sw.Raw()...)
	}
	argv = append(argv, p.SourceFiles...)
	argv = append(argv, p.OtherArgs...)
	return argv
}

package cmdline

import "strconv"

// Parse expands response files and walks argv into a ParsedCommandLine
// (spec §3, §4.1). argv[0] is the compiler executable; the rest are its
// arguments.
func Parse(argv []string, cwd string) (*ParsedCommandLine, error) {
	if len(argv) == 0 {
		return nil, errEmptyArgv
	}

	expanded, err := ExpandResponseFiles(argv[1:])
	if err != nil {
		return nil, err
	}

	pcl := &ParsedCommandLine{
		CompilerPath: argv[0],
		Cwd:          cwd,
	}

	for i := 0; i < len(expanded); i++ {
		tok := expanded[i]
		if !looksLikeSwitch(tok) {
			if isSourceFileName(tok) {
				pcl.SourceFiles = append(pcl.SourceFiles, tok)
			} else {
				pcl.OtherArgs = append(pcl.OtherArgs, tok)
			}
			continue
		}

		var next string
		hasNext := i+1 < len(expanded)
		if hasNext {
			next = expanded[i+1]
		}

		sw, consumedNext, ok := matchSwitch(tok, next, hasNext)
		if !ok {
			sw = Switch{Name: tok, Class: ClassUnrecognized}
		}
		if consumedNext {
			i++
		}

		applySwitch(pcl, sw)
		pcl.Switches = append(pcl.Switches, sw)

		if pcl.Denied == "" {
			if d := deniedPrefix(tok); d != "" {
				pcl.Denied = d
			}
		}
	}

	return pcl, nil
}

func applySwitch(pcl *ParsedCommandLine, sw Switch) {
	switch sw.Kind {
	case KindCompileOnly:
		// tracked implicitly via classify (requires /c); no field needed
	case KindLink:
		pcl.Link = true
	case KindDebugFull:
		pcl.Zi = true
	case KindDebugLine:
		pcl.Z7 = true
	case KindPreprocessToStdout:
		pcl.E = true
	case KindPreprocessOnly:
		pcl.EP = true
	case KindShowIncludes:
		pcl.ShowIncl = true
	case KindOutputObj:
		pcl.OutputObj = sw.Value
	case KindMultiProcess:
		pcl.MPSet = true
		if sw.Value != "" {
			if n, err := strconv.Atoi(sw.Value); err == nil && n > 0 {
				pcl.MPCount = n
			}
		}
	case KindInclude:
		pcl.IncludeDirs = append(pcl.IncludeDirs, sw.Value)
	case KindForcedInclude:
		pcl.ForcedIncludes = append(pcl.ForcedIncludes, sw.Value)
	case KindDefine:
		pcl.Defines = append(pcl.Defines, sw.Value)
	case KindUndefine:
		pcl.Undefines = append(pcl.Undefines, sw.Value)
	}
}

// HasCompileOnly reports whether /c was present.
func (p *ParsedCommandLine) HasCompileOnly() bool {
	return p.HasSwitch(KindCompileOnly)
}

package cmdline

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func mustParse(t *testing.T, argv []string) *ParsedCommandLine {
	t.Helper()
	pcl, err := Parse(argv, `C:\proj`)
	if err != nil {
		t.Fatalf("Parse(%v): %v", argv, err)
	}
	return pcl
}

func TestParseBasicCompile(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/O2", "/I", `C:\inc`, "a.c"})
	if !pcl.HasCompileOnly() {
		t.Error("expected /c to be recognized")
	}
	if len(pcl.SourceFiles) != 1 || pcl.SourceFiles[0] != "a.c" {
		t.Errorf("SourceFiles = %v", pcl.SourceFiles)
	}
	if len(pcl.IncludeDirs) != 1 || pcl.IncludeDirs[0] != `C:\inc` {
		t.Errorf("IncludeDirs = %v", pcl.IncludeDirs)
	}
}

func TestParseJoinedAndSeparateInclude(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/IC:\\inc1", "/I", `C:\inc2`, "a.c"})
	want := []string{`C:\inc1`, `C:\inc2`}
	if !reflect.DeepEqual(pcl.IncludeDirs, want) {
		t.Errorf("IncludeDirs = %v, want %v", pcl.IncludeDirs, want)
	}
}

func TestParseOutputObj(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/Fofoo.obj", "a.c"})
	if pcl.OutputObj != "foo.obj" {
		t.Errorf("OutputObj = %q", pcl.OutputObj)
	}
}

func TestParseMultiProcess(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/MP4", "a.c"})
	if !pcl.MPSet || pcl.MPCount != 4 {
		t.Errorf("MPSet=%v MPCount=%d, want true/4", pcl.MPSet, pcl.MPCount)
	}

	pcl2 := mustParse(t, []string{"cl.exe", "/c", "/MP", "a.c"})
	if !pcl2.MPSet || pcl2.MPCount != 0 {
		t.Errorf("bare /MP: MPSet=%v MPCount=%d, want true/0", pcl2.MPSet, pcl2.MPCount)
	}
}

func TestParseDefineDistinguishesEmptyFromAbsent(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/DFOO", "/DBAR=", "a.c"})
	want := []string{"FOO", "BAR="}
	if !reflect.DeepEqual(pcl.Defines, want) {
		t.Errorf("Defines = %v, want %v", pcl.Defines, want)
	}
}

func TestClassifyLinking(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/Fefoo.exe", "foo.obj", "/link"})
	c := Classify(pcl)
	if c.Outcome != OutcomePassthrough || c.Reason != ReasonLinking {
		t.Errorf("Classify = %v/%v, want Passthrough/Linking", c.Outcome, c.Reason)
	}
}

func TestClassifyNoSourceFile(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/O2"})
	c := Classify(pcl)
	if c.Outcome != OutcomePassthrough || c.Reason != ReasonNoSourceFile {
		t.Errorf("Classify = %v/%v, want Passthrough/NoSourceFile", c.Outcome, c.Reason)
	}
}

func TestClassifyExternalDebugInfo(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/Zi", "a.c"})
	c := Classify(pcl)
	if c.Outcome != OutcomePassthrough || c.Reason != ReasonExternalDebugInfo {
		t.Errorf("Classify = %v/%v, want Passthrough/ExternalDebugInfo", c.Outcome, c.Reason)
	}
}

func TestClassifyZ7IsCacheable(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/Z7", "a.c"})
	c := Classify(pcl)
	if c.Outcome != OutcomeCacheable {
		t.Errorf("Classify with /Z7 = %v, want Cacheable", c.Outcome)
	}
}

func TestClassifyMultiSourceSplits(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/MP", "a.c", "b.c", "a.c"})
	c := Classify(pcl)
	if c.Outcome != OutcomeSplitMulti {
		t.Fatalf("Classify = %v, want SplitMulti", c.Outcome)
	}
	if len(c.SubInvocations) != 3 {
		t.Fatalf("len(SubInvocations) = %d, want 3 (duplicates preserved)", len(c.SubInvocations))
	}
	if c.SubInvocations[0].SourceFiles[0] != "a.c" || c.SubInvocations[2].SourceFiles[0] != "a.c" {
		t.Errorf("expected duplicate a.c entries preserved")
	}
}

func TestClassifyDeniedSwitch(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/Faasm.asm", "a.c"})
	c := Classify(pcl)
	if c.Outcome != OutcomePassthrough || c.Reason != ReasonUnsupported {
		t.Errorf("Classify with /Fa = %v/%v, want Passthrough/Unsupported", c.Outcome, c.Reason)
	}
}

func TestClassifyCacheable(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/O2", "a.c"})
	c := Classify(pcl)
	if c.Outcome != OutcomeCacheable {
		t.Errorf("Classify = %v, want Cacheable", c.Outcome)
	}
}

func TestNormalizeDropsOutputAndParallelism(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/Fofoo.obj", "/MP4", "/showIncludes", "/nologo", "/O2", "a.c"})
	tokens := Normalize(pcl, ModeIndirect, RelOptions{})
	want := []string{"/O2"}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("Normalize = %v, want %v", tokens, want)
	}
}

func TestNormalizeIndirectDropsPreprocessorSwitches(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/I", `C:\inc`, "/DFOO", "/O2", "a.c"})
	tokens := Normalize(pcl, ModeIndirect, RelOptions{})
	want := []string{"/O2"}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("indirect Normalize = %v, want %v", tokens, want)
	}
}

func TestNormalizeDirectKeepsPreprocessorSwitchesInOrder(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/I", `C:\inc`, "/DFOO", "/O2", "a.c"})
	tokens := Normalize(pcl, ModeDirect, RelOptions{})
	want := []string{`/IC:\inc`, "/DFOO", "/O2"}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("direct Normalize = %v, want %v", tokens, want)
	}
}

func TestNormalizeRelativizesIncludeDirs(t *testing.T) {
	pcl := mustParse(t, []string{"cl.exe", "/c", "/I", `C:\proj\src\include`, "a.c"})
	rel := RelOptions{BaseDir: `C:\proj`}
	tokens := Normalize(pcl, ModeDirect, rel)
	want := []string{"/I" + BaseDirSentinel + `\src\include`}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("Normalize = %v, want %v", tokens, want)
	}
}

func TestNormalizeSwitchOrderingIsNotCommutative(t *testing.T) {
	a := mustParse(t, []string{"cl.exe", "/c", "/DFOO", "/DBAR", "a.c"})
	b := mustParse(t, []string{"cl.exe", "/c", "/DBAR", "/DFOO", "a.c"})
	ta := Normalize(a, ModeDirect, RelOptions{})
	tb := Normalize(b, ModeDirect, RelOptions{})
	if reflect.DeepEqual(ta, tb) {
		t.Error("spec requires /D ordering to be preserved, not commutative")
	}
}

func TestExpandResponseFilesOneLevel(t *testing.T) {
	dir := t.TempDir()
	respPath := filepath.Join(dir, "args.rsp")
	if err := os.WriteFile(respPath, []byte("/c /O2 a.c"), 0o644); err != nil {
		t.Fatal(err)
	}

	expanded, err := ExpandResponseFiles([]string{"@" + respPath})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/c", "/O2", "a.c"}
	if !reflect.DeepEqual(expanded, want) {
		t.Errorf("expanded = %v, want %v", expanded, want)
	}
}

func TestExpandResponseFilesRejectsRecursive(t *testing.T) {
	dir := t.TempDir()
	inner := filepath.Join(dir, "inner.rsp")
	outer := filepath.Join(dir, "outer.rsp")
	if err := os.WriteFile(inner, []byte("/O2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(outer, []byte("@"+inner), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ExpandResponseFiles([]string{"@" + outer}); err == nil {
		t.Error("expected error for recursive response file")
	}
}

func TestSplitCommandLineHandlesQuotes(t *testing.T) {
	tokens := splitCommandLine(`/I"C:\path with spaces" /DFOO`)
	want := []string{`/IC:\path with spaces`, "/DFOO"}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("tokens = %v, want %v", tokens, want)
	}
}

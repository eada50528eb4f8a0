package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDisabledLoggerIsNoop(t *testing.T) {
	l, err := New(false, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	// must not panic and must produce nothing observable
	l.Info(0, "hello")
	l.Error("boom")
}

func TestEnabledLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.txt")

	l, err := New(true, path, 1)
	if err != nil {
		t.Fatal(err)
	}
	l.Info(0, "hit", "a.obj")
	l.Info(2, "suppressed because verbosity too low")
	l.Error("boom")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "hit") {
		t.Errorf("expected log to contain 'hit', got %q", content)
	}
	if strings.Contains(content, "suppressed") {
		t.Errorf("verbosity 2 line should have been suppressed, got %q", content)
	}
	if !strings.Contains(content, "ERROR") {
		t.Errorf("expected ERROR line, got %q", content)
	}
}

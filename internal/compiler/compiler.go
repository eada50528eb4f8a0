// Package compiler locates and spawns the real cl.exe, capturing its
// stdout, stderr and exit code (spec §6 process contract; grounded on this
// project's ancestor's compile-locally.go / cxx-launcher.go spawn pattern).
package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/dgehri/clcache/internal/config"
)

// ErrNotFound is returned by Locate when the real compiler cannot be found;
// spec §7 treats this as fatal with a fixed exit code outside the typical
// cl.exe range.
var ErrNotFound = errors.New("compiler: real compiler not found")

// NotFoundExitCode is the fixed non-zero exit code used when the real
// compiler cannot be located (spec §7).
const NotFoundExitCode = 2

// Result is the captured outcome of spawning the real compiler.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Locate resolves the real compiler's path: CLCACHE_CL if set, otherwise
// "cl.exe" resolved against PATH (spec §6: "CLCACHE_CL: Path or filename of
// the real compiler").
func Locate(cfg *config.Config) (string, error) {
	name := cfg.CompilerPath
	if name == "" {
		name = "cl.exe"
	}
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return name, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return path, nil
}

// FileKey returns the real compiler executable's size and modification
// time as a 64-bit integer (spec §3: the cache key includes "the compiler
// executable's file size[] and modification timestamp").
func FileKey(compilerPath string) (size int64, mtime int64, err error) {
	st, err := os.Stat(compilerPath)
	if err != nil {
		return 0, 0, err
	}
	return st.Size(), st.ModTime().UnixNano(), nil
}

// Run spawns compilerPath with args in cwd, capturing stdout/stderr and the
// exit code. Stdin is not connected (spec §6: "Stdin is not read").
func Run(ctx context.Context, compilerPath string, args []string, cwd string) (*Result, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, compilerPath, args...)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if runErr == nil {
		res.ExitCode = 0
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	// the process never started at all (e.g. binary missing, permissions)
	return nil, fmt.Errorf("compiler: spawning %s: %w", compilerPath, runErr)
}

// RunInherited spawns compilerPath with args in cwd with streams connected
// directly to this process's own stdout/stderr, for the Passthrough path
// where output should not be buffered and replayed (spec §6: "On
// passthrough, streams are inherited (not captured)").
func RunInherited(ctx context.Context, compilerPath string, args []string, cwd string) (int, error) {
	cmd := exec.CommandContext(ctx, compilerPath, args...)
	cmd.Dir = cwd
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	runErr := cmd.Run()
	if runErr == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("compiler: spawning %s: %w", compilerPath, runErr)
}

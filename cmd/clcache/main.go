// Command clcache is the compiler-cache executable itself: it either acts as
// a drop-in replacement for cl.exe (spec §6 "any other argv: treat as
// compiler invocation") or dispatches one of the cache-maintenance
// subcommands (--help, -s, -c, -C, -z, -M).
//
// Grounded on this project's ancestor's cmd/nocc-daemon/main.go (flat
// top-level main, env/flag combinator, explicit fmt.Fprintln(os.Stderr, ...)
// failure style) and cmd/nocc-server/main.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dgehri/clcache/internal/compiler"
	"github.com/dgehri/clcache/internal/config"
	"github.com/dgehri/clcache/internal/driver"
	"github.com/dgehri/clcache/internal/lockmgr"
	"github.com/dgehri/clcache/internal/logging"
	"github.com/dgehri/clcache/internal/objstore"
	"github.com/dgehri/clcache/internal/stats"
)

// configMismatchExitCode is the fixed exit code for spec §7's "Configuration
// mismatch (compression sentinel)" fatal error, distinct from
// compiler.NotFoundExitCode.
const configMismatchExitCode = 3

func failedStart(err interface{}) {
	_, _ = fmt.Fprintln(os.Stderr, "clcache:", err)
	os.Exit(1)
}

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		failedStart(err)
	}

	if len(args) >= 2 {
		switch args[1] {
		case "--help":
			printUsage()
			return 0
		case "-s":
			return runPrintStats(cfg)
		case "-c":
			return runClean(cfg)
		case "-C":
			return runClear(cfg)
		case "-z":
			return runZero(cfg)
		case "-M":
			return runSetMaxSize(cfg, args)
		}
	}

	return runCompile(cfg, args)
}

// runCompile is the common case: args is an unmodified cl.exe invocation
// (spec §6 process contract).
func runCompile(cfg *config.Config, args []string) int {
	log, err := logging.New(cfg.LogEnabled, cfg.LogFile, 0)
	if err != nil {
		failedStart(err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		failedStart(err)
	}

	d, err := driver.New(cfg, log)
	if err != nil {
		failedStart(err)
	}

	outcome, err := d.Run(context.Background(), args, cwd)
	if err != nil {
		return handleDriverError(log, outcome, err)
	}

	if outcome.Stdout != nil {
		_, _ = os.Stdout.Write(outcome.Stdout)
	}
	if outcome.Stderr != nil {
		_, _ = os.Stderr.Write(outcome.Stderr)
	}
	return outcome.ExitCode
}

// handleDriverError turns the fatal error kinds named in spec §7 into the
// right exit code: a missing real compiler and a compression-mode
// mismatch are the only two fatal conditions; everything else that
// reaches here is an unexpected internal failure reported to stderr.
func handleDriverError(log *logging.Logger, outcome *driver.Outcome, err error) int {
	var modeErr *objstore.ErrModeMismatch
	if errors.As(err, &modeErr) {
		_, _ = fmt.Fprintln(os.Stderr, "clcache:", err)
		return configMismatchExitCode
	}
	if errors.Is(err, compiler.ErrNotFound) {
		_, _ = fmt.Fprintln(os.Stderr, "clcache:", err)
		if outcome != nil {
			return outcome.ExitCode
		}
		return compiler.NotFoundExitCode
	}
	log.Error("unexpected driver error:", err)
	_, _ = fmt.Fprintln(os.Stderr, "clcache:", err)
	return 1
}

// runPrintStats implements "-s": print statistics table to stdout without
// modifying it (spec §6).
func runPrintStats(cfg *config.Config) int {
	c, err := stats.Load(cfg.StatsPath(), cfg.MaxCacheSizeOrDefault())
	if err != nil {
		failedStart(err)
	}
	fmt.Print(stats.Table(c))
	return 0
}

// runClean implements "-c": evict entries until CacheSize <= 0.9*MaxCacheSize
// (spec §4.6, §6).
func runClean(cfg *config.Config) int {
	locks := lockmgr.New(cfg.LockTimeout)
	store := objstore.New(cfg.ObjectsDir(), locks, cfg.Compress, cfg.CompressLevel)

	c, err := stats.Load(cfg.StatsPath(), cfg.MaxCacheSizeOrDefault())
	if err != nil {
		failedStart(err)
	}

	removed, newSize, err := store.Clean(c.MaxCacheSize)
	if err != nil {
		failedStart(err)
	}

	_, _ = stats.Update(cfg.StatsPath(), locks, cfg.MaxCacheSizeOrDefault(), func(counters *stats.Counters) {
		counters.CacheSize = newSize
		if counters.CacheEntries >= int64(removed) {
			counters.CacheEntries -= int64(removed)
		} else {
			counters.CacheEntries = 0
		}
	})

	fmt.Printf("clcache: evicted %d entries, cache size now %d bytes\n", removed, newSize)
	return 0
}

// runClear implements "-C": remove all object entries and manifests,
// preserve stats, reset the compression sentinel (spec §4.6, §6).
func runClear(cfg *config.Config) int {
	locks := lockmgr.New(cfg.LockTimeout)
	store := objstore.New(cfg.ObjectsDir(), locks, cfg.Compress, cfg.CompressLevel)

	if err := store.Clear(); err != nil {
		failedStart(err)
	}
	if err := os.RemoveAll(cfg.ManifestsDir()); err != nil {
		failedStart(err)
	}
	if err := os.MkdirAll(cfg.ManifestsDir(), 0o755); err != nil {
		failedStart(err)
	}
	if err := objstore.ResetMode(cfg.ModeSentinelPath(), cfg.Compress); err != nil {
		failedStart(err)
	}

	_, _ = stats.Update(cfg.StatsPath(), locks, cfg.MaxCacheSizeOrDefault(), func(counters *stats.Counters) {
		counters.CacheEntries = 0
		counters.CacheSize = 0
	})

	fmt.Println("clcache: cache cleared")
	return 0
}

// runZero implements "-z": zero counters, preserve cache contents and
// MaxCacheSize (spec §4.8, §6).
func runZero(cfg *config.Config) int {
	locks := lockmgr.New(cfg.LockTimeout)
	_, err := stats.Update(cfg.StatsPath(), locks, cfg.MaxCacheSizeOrDefault(), stats.Reset)
	if err != nil {
		failedStart(err)
	}
	fmt.Println("clcache: statistics zeroed")
	return 0
}

// runSetMaxSize implements "-M <bytes>" (spec §6: "Accepts positive integer
// bytes").
func runSetMaxSize(cfg *config.Config, args []string) int {
	if len(args) < 3 {
		_, _ = fmt.Fprintln(os.Stderr, "clcache: -M requires a byte count argument")
		return 1
	}
	n, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil || n <= 0 {
		_, _ = fmt.Fprintln(os.Stderr, "clcache: -M expects a positive integer byte count")
		return 1
	}

	locks := lockmgr.New(cfg.LockTimeout)
	_, err = stats.Update(cfg.StatsPath(), locks, cfg.MaxCacheSizeOrDefault(), func(counters *stats.Counters) {
		counters.MaxCacheSize = n
	})
	if err != nil {
		failedStart(err)
	}
	fmt.Printf("clcache: max cache size set to %d bytes\n", n)
	return 0
}

// printUsage lists every CLCACHE_* environment variable and maintenance
// subcommand, one line each, the way this project's ancestor's
// cmd-env-flags.go customPrintUsage formats its flag/env pairs.
func printUsage() {
	fmt.Println("clcache - a compiler cache for cl.exe")
	fmt.Println()
	fmt.Println("Usage: clcache [subcommand] | clcache <cl.exe arguments...>")
	fmt.Println()
	fmt.Println("Subcommands:")
	fmt.Println("  --help           Show this help and exit.")
	fmt.Println("  -s               Print cache statistics.")
	fmt.Println("  -c               Evict entries down to 90% of the max cache size.")
	fmt.Println("  -C               Clear the cache (entries and manifests); stats preserved.")
	fmt.Println("  -z               Zero the statistics counters.")
	fmt.Println("  -M <bytes>       Set the maximum cache size, in bytes.")
	fmt.Println()
	fmt.Println("Environment variables:")
	rows := [][2]string{
		{"CLCACHE_DIR", "Root directory for the cache (default %HOME%/clcache)."},
		{"CLCACHE_CL", "Path or filename of the real compiler."},
		{"CLCACHE_LOG", "Enables diagnostic logging to stderr if set."},
		{"CLCACHE_DISABLE", "Disables caching entirely."},
		{"CLCACHE_HARDLINK", "Hardlink object into build dir instead of copying."},
		{"CLCACHE_COMPRESS", "Enable zlib-family compression on stored objects."},
		{"CLCACHE_COMPRESSLEVEL", "1-9 (default 6)."},
		{"CLCACHE_NODIRECT", "Force indirect (preprocessor-only) mode."},
		{"CLCACHE_BASEDIR", "Source-tree root for path relativization."},
		{"CLCACHE_BUILDDIR", "Build-tree root for path relativization."},
		{"CLCACHE_OBJECT_CACHE_TIMEOUT_MS", "Lock timeout, default 10000."},
		{"CLCACHE_SERVER", "Enable external hash-memoization adapter."},
		{"CLCACHE_MEMCACHED", "host:port of remote-object adapter."},
		{"CLCACHE_CONFIG", "Optional TOML config file consulted before env/flag defaults."},
	}
	for _, r := range rows {
		fmt.Printf("  %-32s %s\n", r[0], r[1])
	}
}

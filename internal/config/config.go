// Package config loads the single immutable Config record this program runs
// from (spec §9: "Runtime attribute dicts for config → explicit configuration
// record"). Settings come from environment variables (spec §6) with an
// optional TOML file layered underneath them.
//
// Unlike this project's structural ancestor, the CLCACHE_* settings are not
// also registered as command-line flags: argv here is either one of a
// handful of literal maintenance subcommands (-s, -c, -C, -z, -M) or an
// entire, unmodified cl.exe invocation passed straight through (spec §6) —
// running it through the stdlib flag package would misinterpret compiler
// switches as clcache flags. Only the env-var half of the ancestor's
// env+flag combinator survives here; CLI dispatch is handled directly by
// cmd/clcache.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the fully-resolved, immutable configuration for one invocation.
type Config struct {
	Dir                string        `toml:"dir"`
	CompilerPath       string        `toml:"compiler"`
	LogEnabled         bool          `toml:"-"`
	LogFile            string        `toml:"log_file"`
	Disabled           bool          `toml:"-"`
	Hardlink           bool          `toml:"hardlink"`
	Compress           bool          `toml:"compress"`
	CompressLevel      int           `toml:"compress_level"`
	NoDirect           bool          `toml:"no_direct"`
	BaseDir            string        `toml:"base_dir"`
	BuildDir           string        `toml:"build_dir"`
	LockTimeout        time.Duration `toml:"-"`
	ServerURL          string        `toml:"server"`
	MemcachedAddr      string        `toml:"memcached"`
	ManifestMaxEntries int           `toml:"manifest_max_entries"`
}

// DefaultMaxCacheSize seeds the statistics record's MaxCacheSize the first
// time it is created (spec §6 "-M" sets it thereafter).
const DefaultMaxCacheSize int64 = 1 << 30 // 1 GiB

const (
	defaultCompressLevel      = 6
	defaultManifestMaxEntries = 10
	defaultLockTimeoutMs      = 10000
)

func defaultCacheDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "clcache")
	}
	if u, err := user.Current(); err == nil && u.HomeDir != "" {
		return filepath.Join(u.HomeDir, "clcache")
	}
	return filepath.Join(os.TempDir(), "clcache")
}

func defaults() *Config {
	return &Config{
		Dir:                defaultCacheDir(),
		CompilerPath:       "",
		LogEnabled:         false,
		LogFile:            "",
		Disabled:           false,
		Hardlink:           false,
		Compress:           false,
		CompressLevel:      defaultCompressLevel,
		NoDirect:           false,
		BaseDir:            "",
		BuildDir:           "",
		LockTimeout:        defaultLockTimeoutMs * time.Millisecond,
		ServerURL:          "",
		MemcachedAddr:      "",
		ManifestMaxEntries: defaultManifestMaxEntries,
	}
}

// Load builds the Config for this process: hardcoded defaults, then an
// optional CLCACHE_CONFIG TOML file, then CLCACHE_* environment variables
// (each layer overriding only the settings it mentions).
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CLCACHE_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("CLCACHE_DIR"); ok && v != "" {
		cfg.Dir = v
	}
	if v, ok := os.LookupEnv("CLCACHE_CL"); ok && v != "" {
		cfg.CompilerPath = v
	}
	if v, ok := os.LookupEnv("CLCACHE_LOG"); ok {
		cfg.LogEnabled = v != ""
	}
	if _, ok := os.LookupEnv("CLCACHE_DISABLE"); ok {
		cfg.Disabled = true
	}
	if _, ok := os.LookupEnv("CLCACHE_HARDLINK"); ok {
		cfg.Hardlink = true
	}
	if _, ok := os.LookupEnv("CLCACHE_COMPRESS"); ok {
		cfg.Compress = true
	}
	if v, ok := os.LookupEnv("CLCACHE_COMPRESSLEVEL"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 9 {
			cfg.CompressLevel = n
		}
	}
	if _, ok := os.LookupEnv("CLCACHE_NODIRECT"); ok {
		cfg.NoDirect = true
	}
	if v, ok := os.LookupEnv("CLCACHE_BASEDIR"); ok && v != "" {
		cfg.BaseDir = v
	}
	if v, ok := os.LookupEnv("CLCACHE_BUILDDIR"); ok && v != "" {
		cfg.BuildDir = v
	}
	if v, ok := os.LookupEnv("CLCACHE_OBJECT_CACHE_TIMEOUT_MS"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LockTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v, ok := os.LookupEnv("CLCACHE_SERVER"); ok && v != "" {
		cfg.ServerURL = v
	}
	if v, ok := os.LookupEnv("CLCACHE_MEMCACHED"); ok && v != "" {
		cfg.MemcachedAddr = v
	}
}

// ObjectsDir returns <Dir>/objects.
func (c *Config) ObjectsDir() string { return filepath.Join(c.Dir, "objects") }

// ManifestsDir returns <Dir>/manifests.
func (c *Config) ManifestsDir() string { return filepath.Join(c.Dir, "manifests") }

// StatsPath returns <Dir>/stats.
func (c *Config) StatsPath() string { return filepath.Join(c.Dir, "stats") }

// ModeSentinelPath returns <Dir>/mode.
func (c *Config) ModeSentinelPath() string { return filepath.Join(c.Dir, "mode") }

// MaxCacheSizeOrDefault returns DefaultMaxCacheSize, the value used to seed
// a brand-new statistics record; "-M" changes the stored MaxCacheSize
// afterwards (spec §6 "-M"; §3 MaxCacheSize).
func (c *Config) MaxCacheSizeOrDefault() int64 { return DefaultMaxCacheSize }

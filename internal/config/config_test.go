package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearClcacheEnv(t *testing.T) {
	t.Helper()
	names := []string{
		"CLCACHE_CONFIG", "CLCACHE_DIR", "CLCACHE_CL", "CLCACHE_LOG",
		"CLCACHE_DISABLE", "CLCACHE_HARDLINK", "CLCACHE_COMPRESS",
		"CLCACHE_COMPRESSLEVEL", "CLCACHE_NODIRECT", "CLCACHE_BASEDIR",
		"CLCACHE_BUILDDIR", "CLCACHE_OBJECT_CACHE_TIMEOUT_MS",
		"CLCACHE_SERVER", "CLCACHE_MEMCACHED",
	}
	for _, n := range names {
		old, had := os.LookupEnv(n)
		os.Unsetenv(n)
		if had {
			t.Cleanup(func() { os.Setenv(n, old) })
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearClcacheEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CompressLevel != defaultCompressLevel {
		t.Errorf("CompressLevel = %d, want %d", cfg.CompressLevel, defaultCompressLevel)
	}
	if cfg.ManifestMaxEntries != defaultManifestMaxEntries {
		t.Errorf("ManifestMaxEntries = %d, want %d", cfg.ManifestMaxEntries, defaultManifestMaxEntries)
	}
	if cfg.LockTimeout != defaultLockTimeoutMs*time.Millisecond {
		t.Errorf("LockTimeout = %v, want %dms", cfg.LockTimeout, defaultLockTimeoutMs)
	}
	if cfg.Disabled {
		t.Error("Disabled should default to false")
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	clearClcacheEnv(t)
	dir := t.TempDir()
	os.Setenv("CLCACHE_DIR", dir)
	os.Setenv("CLCACHE_COMPRESS", "1")
	os.Setenv("CLCACHE_COMPRESSLEVEL", "9")
	os.Setenv("CLCACHE_DISABLE", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dir != dir {
		t.Errorf("Dir = %q, want %q", cfg.Dir, dir)
	}
	if !cfg.Compress || cfg.CompressLevel != 9 {
		t.Errorf("Compress/CompressLevel = %v/%d, want true/9", cfg.Compress, cfg.CompressLevel)
	}
	if !cfg.Disabled {
		t.Error("Disabled should be true")
	}
}

func TestTomlFileUnderneathEnv(t *testing.T) {
	clearClcacheEnv(t)
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "clcache.toml")
	if err := os.WriteFile(tomlPath, []byte("compress_level = 3\nhardlink = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	os.Setenv("CLCACHE_CONFIG", tomlPath)
	os.Setenv("CLCACHE_COMPRESSLEVEL", "7") // env should win over toml

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Hardlink {
		t.Error("expected Hardlink from toml file")
	}
	if cfg.CompressLevel != 7 {
		t.Errorf("CompressLevel = %d, want 7 (env must override toml)", cfg.CompressLevel)
	}
}

func TestDerivedPaths(t *testing.T) {
	clearClcacheEnv(t)
	os.Setenv("CLCACHE_DIR", "/tmp/cc")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ObjectsDir() != "/tmp/cc/objects" {
		t.Errorf("ObjectsDir = %q", cfg.ObjectsDir())
	}
	if cfg.ManifestsDir() != "/tmp/cc/manifests" {
		t.Errorf("ManifestsDir = %q", cfg.ManifestsDir())
	}
	if cfg.StatsPath() != "/tmp/cc/stats" {
		t.Errorf("StatsPath = %q", cfg.StatsPath())
	}
}

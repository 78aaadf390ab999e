package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigSaneValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Engine.MaxMemoryBytes <= 0 {
		t.Fatal("expected positive default max memory")
	}
	if cfg.Engine.SandboxLevel != "restricted" {
		t.Fatalf("got sandbox level %q", cfg.Engine.SandboxLevel)
	}
	if cfg.Pool.Max < cfg.Pool.Min {
		t.Fatal("pool max must be >= min")
	}
}

func TestLoadFromFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	const body = `{"engine":{"max_memory_bytes":1048576,"sandbox_level":"strict"}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Engine.MaxMemoryBytes != 1048576 {
		t.Fatalf("got %d", cfg.Engine.MaxMemoryBytes)
	}
	if cfg.Engine.SandboxLevel != "strict" {
		t.Fatalf("got %q", cfg.Engine.SandboxLevel)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Pool.Max != DefaultConfig().Pool.Max {
		t.Fatalf("expected pool.max to keep default, got %d", cfg.Pool.Max)
	}
}

func TestLoadFromFileMissingFileErrors(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/path/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("LLMSPELL_MAX_MEMORY_BYTES", "2097152")
	t.Setenv("LLMSPELL_SANDBOX_LEVEL", "none")
	t.Setenv("LLMSPELL_TENANT_ALLOW_IO", "true")
	t.Setenv("LLMSPELL_TENANT_DENIED_GLOBALS", "os,io")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Engine.MaxMemoryBytes != 2097152 {
		t.Fatalf("got %d", cfg.Engine.MaxMemoryBytes)
	}
	if cfg.Engine.SandboxLevel != "none" {
		t.Fatalf("got %q", cfg.Engine.SandboxLevel)
	}
	if !cfg.TenantDefaults.AllowIO {
		t.Fatal("expected AllowIO true")
	}
	if len(cfg.TenantDefaults.DeniedGlobals) != 2 {
		t.Fatalf("got %v", cfg.TenantDefaults.DeniedGlobals)
	}
}

func TestParseBoolVariants(t *testing.T) {
	for _, v := range []string{"true", "1", "yes", "TRUE", "Yes"} {
		if !parseBool(v) {
			t.Fatalf("expected %q to parse true", v)
		}
	}
	for _, v := range []string{"false", "0", "no", ""} {
		if parseBool(v) {
			t.Fatalf("expected %q to parse false", v)
		}
	}
}

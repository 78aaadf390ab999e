// Package config loads the substrate's ambient configuration: engine
// limits, pool sizing, tenant defaults, and observability toggles. It
// keeps the teacher's pattern of a JSON file overlaid by environment
// variables (LoadFromFile then LoadFromEnv).
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// EngineConfig mirrors spec §6's embedding contract: the parameters a
// host passes when creating an engine via the registry.
type EngineConfig struct {
	MaxMemoryBytes       int64  `json:"max_memory_bytes"`
	MaxExecutionTimeMs   int64  `json:"max_execution_time_ms"`
	EnableSnapshots      bool   `json:"enable_snapshots"`
	MaxSnapshots         int    `json:"max_snapshots"`
	MaxSnapshotSizeBytes int64  `json:"max_snapshot_size_bytes"`
	EnableDebugging      bool   `json:"enable_debugging"`
	SandboxLevel         string `json:"sandbox_level"` // none, restricted, strict
	Allocator            string `json:"allocator"`     // general, arena, fixed_buffer
}

// PoolConfig sizes the underlying guest-state pool (statepool.Config).
type PoolConfig struct {
	Min          int           `json:"min"`
	Max          int           `json:"max"`
	IdleEviction time.Duration `json:"idle_eviction"`
	MaxReuse     int           `json:"max_reuse"`
	MaxPreWarm   int           `json:"max_prewarm_workers"`
}

// TenantDefaults seeds a newly registered tenant's Limits (internal/tenant)
// when the caller does not supply its own.
type TenantDefaults struct {
	MaxMemory       int64    `json:"max_memory"`
	MaxCPUMillis    int64    `json:"max_cpu_millis"`
	MaxCalls        int64    `json:"max_calls"`
	AllowIO         bool     `json:"allow_io"`
	AllowOS         bool     `json:"allow_os"`
	AllowDebug      bool     `json:"allow_debug"`
	AllowCoroutines bool     `json:"allow_coroutines"`
	AllowMetatables bool     `json:"allow_metatables"`
	AllowedModules  []string `json:"allowed_modules"`
	DeniedGlobals   []string `json:"denied_globals"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"`     // otlp-http (or otlp); tracing.New rejects other values
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // go-llmspell
	SampleRate  float64 `json:"sample_rate"`  // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`
	Namespace        string    `json:"namespace"`
	HistogramBuckets []float64 `json:"histogram_buckets"` // duration buckets, ms
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `json:"level"`  // debug, info, warn, error
	Format         string `json:"format"` // text, json
	IncludeTraceID bool   `json:"include_trace_id"`
	Console        bool   `json:"console"`
	FilePath       string `json:"file_path"`
}

// ObservabilityConfig groups all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// Config is the central configuration struct for the substrate.
type Config struct {
	Engine         EngineConfig        `json:"engine"`
	Pool           PoolConfig          `json:"pool"`
	TenantDefaults TenantDefaults      `json:"tenant_defaults"`
	Observability  ObservabilityConfig `json:"observability"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxMemoryBytes:       64 << 20, // 64MB
			MaxExecutionTimeMs:   5000,
			EnableSnapshots:      true,
			MaxSnapshots:         16,
			MaxSnapshotSizeBytes: 4 << 20, // 4MB
			EnableDebugging:      false,
			SandboxLevel:         "restricted",
			Allocator:            "general",
		},
		Pool: PoolConfig{
			Min:          1,
			Max:          64,
			IdleEviction: 60 * time.Second,
			MaxReuse:     10000,
			MaxPreWarm:   8,
		},
		TenantDefaults: TenantDefaults{
			MaxMemory:       32 << 20,
			MaxCPUMillis:    1000,
			MaxCalls:        100000,
			AllowIO:         false,
			AllowOS:         false,
			AllowDebug:      false,
			AllowCoroutines: true,
			AllowMetatables: true,
			DeniedGlobals:   []string{"os", "io", "debug"},
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "go-llmspell",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "llmspell",
				HistogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
				Console:        true,
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON file, starting from
// DefaultConfig and overlaying whatever the file specifies.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies LLMSPELL_* environment variable overrides to cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LLMSPELL_MAX_MEMORY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.MaxMemoryBytes = n
		}
	}
	if v := os.Getenv("LLMSPELL_MAX_EXECUTION_TIME_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.MaxExecutionTimeMs = n
		}
	}
	if v := os.Getenv("LLMSPELL_ENABLE_SNAPSHOTS"); v != "" {
		cfg.Engine.EnableSnapshots = parseBool(v)
	}
	if v := os.Getenv("LLMSPELL_MAX_SNAPSHOTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxSnapshots = n
		}
	}
	if v := os.Getenv("LLMSPELL_MAX_SNAPSHOT_SIZE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.MaxSnapshotSizeBytes = n
		}
	}
	if v := os.Getenv("LLMSPELL_ENABLE_DEBUGGING"); v != "" {
		cfg.Engine.EnableDebugging = parseBool(v)
	}
	if v := os.Getenv("LLMSPELL_SANDBOX_LEVEL"); v != "" {
		cfg.Engine.SandboxLevel = v
	}
	if v := os.Getenv("LLMSPELL_ALLOCATOR"); v != "" {
		cfg.Engine.Allocator = v
	}

	// Pool overrides
	if v := os.Getenv("LLMSPELL_POOL_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Min = n
		}
	}
	if v := os.Getenv("LLMSPELL_POOL_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Max = n
		}
	}
	if v := os.Getenv("LLMSPELL_POOL_IDLE_EVICTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pool.IdleEviction = d
		}
	}
	if v := os.Getenv("LLMSPELL_POOL_MAX_REUSE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxReuse = n
		}
	}
	if v := os.Getenv("LLMSPELL_POOL_MAX_PREWARM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxPreWarm = n
		}
	}

	// Tenant defaults overrides
	if v := os.Getenv("LLMSPELL_TENANT_MAX_MEMORY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TenantDefaults.MaxMemory = n
		}
	}
	if v := os.Getenv("LLMSPELL_TENANT_MAX_CPU_MILLIS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TenantDefaults.MaxCPUMillis = n
		}
	}
	if v := os.Getenv("LLMSPELL_TENANT_MAX_CALLS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TenantDefaults.MaxCalls = n
		}
	}
	if v := os.Getenv("LLMSPELL_TENANT_ALLOW_IO"); v != "" {
		cfg.TenantDefaults.AllowIO = parseBool(v)
	}
	if v := os.Getenv("LLMSPELL_TENANT_ALLOW_OS"); v != "" {
		cfg.TenantDefaults.AllowOS = parseBool(v)
	}
	if v := os.Getenv("LLMSPELL_TENANT_ALLOW_DEBUG"); v != "" {
		cfg.TenantDefaults.AllowDebug = parseBool(v)
	}
	if v := os.Getenv("LLMSPELL_TENANT_DENIED_GLOBALS"); v != "" {
		cfg.TenantDefaults.DeniedGlobals = strings.Split(v, ",")
	}
	if v := os.Getenv("LLMSPELL_TENANT_ALLOWED_MODULES"); v != "" {
		cfg.TenantDefaults.AllowedModules = strings.Split(v, ",")
	}

	// Observability overrides
	if v := os.Getenv("LLMSPELL_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("LLMSPELL_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("LLMSPELL_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("LLMSPELL_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("LLMSPELL_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("LLMSPELL_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("LLMSPELL_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("LLMSPELL_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("LLMSPELL_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("LLMSPELL_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}
	if v := os.Getenv("LLMSPELL_LOG_CONSOLE"); v != "" {
		cfg.Observability.Logging.Console = parseBool(v)
	}
	if v := os.Getenv("LLMSPELL_LOG_FILE"); v != "" {
		cfg.Observability.Logging.FilePath = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}

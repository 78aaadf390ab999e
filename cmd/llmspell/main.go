// Command llmspell is a small cobra CLI demonstrating the substrate:
// engine registration, tenant-scoped script execution, and inspection of
// pool/accounter/tenant-call statistics. Mirrors the teacher's cmd/nova
// entry point (register/list/invoke commands over a cobra root), scoped
// down from a FaaS control plane to an embedded-engine demo harness.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexlapax/go-llmspell/internal/accounter"
	"github.com/lexlapax/go-llmspell/internal/cache"
	"github.com/lexlapax/go-llmspell/internal/config"
	"github.com/lexlapax/go-llmspell/internal/engine"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/logging"
	"github.com/lexlapax/go-llmspell/internal/luaengine"
	"github.com/lexlapax/go-llmspell/internal/metrics"
	"github.com/lexlapax/go-llmspell/internal/modules"
	"github.com/lexlapax/go-llmspell/internal/tenant"
	"github.com/lexlapax/go-llmspell/internal/tracing"
	"github.com/lexlapax/go-llmspell/internal/userdata"
	"github.com/lexlapax/go-llmspell/internal/weakref"
)

var (
	configFile string
	logLevel   string
	logFormat  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "llmspell",
		Short: "go-llmspell — embedded scripting-engine substrate CLI",
		Long:  "Demonstrates engine registration, tenant sandboxing, and script execution against the substrate.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.InitStructured(logFormat, logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a JSON config file (optional, env vars always apply on top)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "operational log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "operational log format: text or json")

	rootCmd.AddCommand(
		enginesCmd(),
		runCmd(),
		tenantCmd(),
		metricsServerCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func registerLuaEngine() {
	engine.Register("lua", luaengine.New)
	logging.Op().Debug("engine registered", "name", "lua")
}

// buildFabric assembles the self-contained modules (spec §4.9) that need
// no external host collaborator, so `run` can demonstrate spec §6's
// embedding step "(3) registering modules" against a real script without
// standing up an agent/tool/provider/workflow host. Hosted modules
// (agent, tool, provider, workflow, schema) are the embedder's own
// responsibility and are left for it to Install alongside these.
func buildFabric() *modules.Fabric {
	f := modules.NewFabric()
	f.Install(modules.NewOutputModule())
	f.Install(modules.NewUserdataModule(userdata.NewRegistry()))
	f.Install(modules.NewWeakrefModule(weakref.NewRegistry()))
	f.Install(modules.NewHookModule(modules.NewHooks()))
	f.Install(modules.NewEventModule(modules.NewBus()))
	f.Install(modules.NewTestModule(modules.NewTestRecorder()))
	f.Install(modules.NewMemoryModule(modules.NewMemoryStores(cache.NewInMemoryCache(), 0)))
	return f
}

func enginesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List registered scripting engines",
		RunE: func(cmd *cobra.Command, args []string) error {
			registerLuaEngine()
			for _, name := range engine.List() {
				eng, err := engine.Create(name, luaengine.DefaultConfig())
				if err != nil {
					return err
				}
				md := eng.Metadata()
				fmt.Printf("%s\tv%s\t%v\n", md.Name, md.Version, md.Features)
				eng.Destroy()
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "run <script-file>",
		Short: "Execute a script file inside a fresh tenant-scoped context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			registerLuaEngine()

			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}

			var mtr *metrics.Metrics
			if cfg.Observability.Metrics.Enabled {
				mtr = metrics.Init(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			tracer, err := tracing.New(context.Background(), tracing.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			})
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer tracer.Shutdown(context.Background())

			eng, err := engine.Create("lua", luaengine.DefaultConfig())
			if err != nil {
				return err
			}
			defer eng.Destroy()

			opts := []exectx.Option{exectx.WithTenantID(tenantID), exectx.WithTracer(tracer)}
			if mtr != nil {
				opts = append(opts, exectx.WithMetrics(mtr))
			}

			lua := eng.(*luaengine.LuaEngine)
			ctx, err := lua.CreateContextWithAccounter(tenantID, accounter.New(cfg.TenantDefaults.MaxMemory), opts...)
			if err != nil {
				return err
			}
			defer eng.DestroyContext(ctx)

			if err := lua.InstallFabric(ctx, buildFabric()); err != nil {
				return fmt.Errorf("install modules: %w", err)
			}

			start := time.Now()
			result, err := ctx.Execute(string(source))
			if err != nil {
				logging.Op().Error("script execution failed", "tenant", tenantID, "script", args[0], "error", err)
				return fmt.Errorf("script error: %w", err)
			}
			logging.Op().Info("script executed", "tenant", tenantID, "script", args[0], "duration", time.Since(start))

			fmt.Printf("Result:   %s\n", result.String())
			fmt.Printf("Duration: %s\n", time.Since(start))
			stats := ctx.AllocationStats()
			fmt.Printf("Memory:   %d bytes live (%d allocations, %d failed)\n",
				stats.BytesLive, stats.Allocations, stats.FailedAllocs)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "cli", "tenant id to attribute this run to in logs/metrics")
	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Inspect tenant sandbox policy (demo only; state is process-local)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "defaults",
		Short: "Print the TenantDefaults this process would seed a new tenant with",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			d := cfg.TenantDefaults
			fmt.Printf("max_memory:       %d bytes\n", d.MaxMemory)
			fmt.Printf("max_cpu_millis:   %d\n", d.MaxCPUMillis)
			fmt.Printf("max_calls:        %d\n", d.MaxCalls)
			fmt.Printf("allow_io:         %v\n", d.AllowIO)
			fmt.Printf("allow_os:         %v\n", d.AllowOS)
			fmt.Printf("allow_debug:      %v\n", d.AllowDebug)
			fmt.Printf("allowed_modules:  %v\n", d.AllowedModules)
			fmt.Printf("denied_globals:   %v\n", d.DeniedGlobals)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check-budget <id> <calls>",
		Short: "Simulate <calls> invocations against a tenant created with TenantDefaults, reporting where the call budget trips",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var calls int
			if _, err := fmt.Sscanf(args[1], "%d", &calls); err != nil {
				return fmt.Errorf("invalid call count %q: %w", args[1], err)
			}

			mgr := tenant.NewManager()
			if cfg.Observability.Metrics.Enabled {
				mgr.SetMetrics(metrics.Init(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets))
			}
			if err := mgr.Create(args[0], limitsFromDefaults(cfg.TenantDefaults), noopContextHandle{}); err != nil {
				return err
			}

			for i := 1; i <= calls; i++ {
				if err := mgr.CheckCallBudget(args[0]); err != nil {
					fmt.Printf("call %d: denied (%v)\n", i, err)
					return nil
				}
			}
			fmt.Printf("all %d calls admitted\n", calls)
			return nil
		},
	})

	return cmd
}

type noopContextHandle struct{}

func (noopContextHandle) Close() {}

func limitsFromDefaults(d config.TenantDefaults) tenant.Limits {
	return tenant.Limits{
		MaxMemory:       d.MaxMemory,
		MaxCPUMillis:    d.MaxCPUMillis,
		MaxCalls:        d.MaxCalls,
		AllowIO:         d.AllowIO,
		AllowOS:         d.AllowOS,
		AllowDebug:      d.AllowDebug,
		AllowCoroutines: d.AllowCoroutines,
		AllowMetatables: d.AllowMetatables,
		AllowedModules:  d.AllowedModules,
		DeniedGlobals:   d.DeniedGlobals,
	}
}

func metricsServerCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "metrics-server",
		Short: "Serve this process's Prometheus metrics over HTTP until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			mtr := metrics.Init(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			mux := http.NewServeMux()
			mux.Handle("/metrics", mtr.Handler())
			fmt.Printf("serving /metrics on %s\n", addr)
			return http.ListenAndServe(addr, mux)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9464", "listen address")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the llmspell CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("go-llmspell 0.1.0")
		},
	}
}

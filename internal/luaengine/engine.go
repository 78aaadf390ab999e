package luaengine

import (
	"sync"

	"github.com/lexlapax/go-llmspell/internal/accounter"
	"github.com/lexlapax/go-llmspell/internal/engine"
	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/modules"
	"github.com/lexlapax/go-llmspell/internal/snapshot"
	"github.com/lexlapax/go-llmspell/internal/statepool"
	"github.com/lexlapax/go-llmspell/internal/tenant"
)

// Config configures a LuaEngine. It satisfies engine.Config.
type Config struct {
	CallStackSize int
	RegistrySize  int
	Pool          statepool.Config
	Snapshot      snapshot.Config
}

// DefaultConfig returns the engine defaults: a 256-frame call stack, which
// is gopher-lua's own default, and a 1024*20-slot registry, larger than
// gopher-lua's default of 256*20.
func DefaultConfig() Config {
	return Config{
		CallStackSize: 256,
		RegistrySize:  1024 * 20,
		Pool:          statepool.Config{Min: 1, Max: 64, MaxReuse: 10000},
	}
}

// LuaEngine implements engine.Engine over a pool of *State values, each
// wrapping one *lua.LState.
type LuaEngine struct {
	cfg  Config
	pool *statepool.Pool

	mu       sync.Mutex
	contexts map[*exectx.Context]struct{}
}

var _ engine.Engine = (*LuaEngine)(nil)

// New constructs a LuaEngine as an engine.Factory so it can be installed
// via engine.Register("lua", luaengine.New).
func New(cfg engine.Config) (engine.Engine, error) {
	c, ok := cfg.(Config)
	if !ok {
		c = DefaultConfig()
	}
	e := &LuaEngine{cfg: c, contexts: make(map[*exectx.Context]struct{})}
	e.pool = statepool.New(c.Pool, func() (statepool.State, error) {
		return NewState(c.CallStackSize, c.RegistrySize, 0), nil
	})
	return e, nil
}

// NewWithLimits constructs a LuaEngine whose pooled states enforce a
// tenant's per-call CPU budget and sandbox deny-list trap. tenant.Manager
// does not call it; Manager.Create takes a context built beforehand.
func NewWithLimits(cfg Config, limits tenant.Limits) *LuaEngine {
	e := &LuaEngine{cfg: cfg, contexts: make(map[*exectx.Context]struct{})}
	e.pool = statepool.New(cfg.Pool, func() (statepool.State, error) {
		st := NewState(cfg.CallStackSize, cfg.RegistrySize, limits.MaxCPUMillis)
		for _, g := range limits.DeniedGlobals {
			st.InstallDenyTrap(g)
		}
		return st, nil
	})
	return e
}

// CreateContext acquires a pooled Lua state and wraps it in an execution
// context backed by an unlimited accounter. Callers that need memory
// enforcement or observability wiring should use
// CreateContextWithAccounter directly.
func (e *LuaEngine) CreateContext(name string) (*exectx.Context, error) {
	return e.CreateContextWithAccounter(name, accounter.New(0))
}

// CreateContextWithAccounter acquires a pooled Lua state and wraps it in
// an execution context bound to acc, so guest memory pressure is
// enforced against acc.MaxMemory(). Extra opts (WithTenantID, WithLogger,
// WithMetrics, WithTracer) are forwarded to exectx.New, on top of this
// engine's own snapshot configuration.
func (e *LuaEngine) CreateContextWithAccounter(name string, acc *accounter.Accounter, opts ...exectx.Option) (*exectx.Context, error) {
	allOpts := append([]exectx.Option{exectx.WithSnapshotConfig(e.cfg.Snapshot)}, opts...)
	ctx, err := exectx.New(e.pool, acc, allOpts...)
	if err != nil {
		return nil, errkind.Wrap(errkind.Runtime, "failed to create context "+name, err)
	}
	e.mu.Lock()
	e.contexts[ctx] = struct{}{}
	e.mu.Unlock()
	return ctx, nil
}

// InstallFabric wires fabric's modules onto ctx's guest state as
// root.<module>.<function>, completing spec §6's embedding contract step
// "(3) registering modules" for a context this engine created.
func (e *LuaEngine) InstallFabric(ctx *exectx.Context, fabric *modules.Fabric) error {
	installer, ok := ctx.GuestState().(modules.GuestInstaller)
	if !ok {
		return errkind.New(errkind.Runtime, "guest state does not support module installation")
	}
	return installer.InstallFabric(ctx, fabric)
}

// DestroyContext releases ctx's pooled state back to the engine's pool.
func (e *LuaEngine) DestroyContext(ctx *exectx.Context) {
	e.mu.Lock()
	delete(e.contexts, ctx)
	e.mu.Unlock()
	ctx.Close()
}

// Metadata reports this engine's identity and feature set.
func (e *LuaEngine) Metadata() engine.Metadata {
	return engine.Metadata{
		Name:    "lua",
		Version: "5.1-gopher-lua",
		Features: []engine.Feature{
			engine.FeatureSnapshots,
			engine.FeatureSandboxing,
			engine.FeatureMemoryLimits,
		},
	}
}

// Supports reports whether feature is advertised by Metadata.
func (e *LuaEngine) Supports(feature engine.Feature) bool {
	for _, f := range e.Metadata().Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Destroy tears down every still-open context and the underlying pool.
func (e *LuaEngine) Destroy() {
	e.mu.Lock()
	ctxs := make([]*exectx.Context, 0, len(e.contexts))
	for ctx := range e.contexts {
		ctxs = append(ctxs, ctx)
	}
	e.contexts = make(map[*exectx.Context]struct{})
	e.mu.Unlock()

	for _, ctx := range ctxs {
		ctx.Close()
	}
}

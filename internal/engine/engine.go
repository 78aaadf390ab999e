// Package engine defines the Engine Interface and process-wide Engine
// Registry (spec §4.9): a dispatch-table trait implemented by each
// concrete scripting engine (luaengine today), plus a name→factory map
// so the rest of the substrate never imports a concrete engine package
// directly.
//
// Grounded on the teacher's backend dispatch-table idiom (Backend/Client
// interfaces resolved by name from a registry), generalized from
// provider backends to scripting engines.
package engine

import (
	"sync"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
)

// Feature names an optional capability an Engine may advertise.
type Feature string

const (
	FeatureCoroutines  Feature = "coroutines"
	FeatureSnapshots   Feature = "snapshots"
	FeatureDebugging   Feature = "debugging"
	FeatureSandboxing  Feature = "sandboxing"
	FeatureMemoryLimits Feature = "memory_limits"
)

// Metadata describes an Engine implementation.
type Metadata struct {
	Name     string
	Version  string
	Features []Feature
}

// Config is engine-specific construction configuration. Concrete engines
// type-assert or decode this themselves (e.g. luaengine.Config).
type Config interface{}

// Engine is the dispatch-table trait every concrete scripting engine
// implements. create_context/destroy_context/execute/call/set_global/
// get_global/collect_garbage/last_error/clear_errors all operate through
// the Context values Engine hands back; Engine itself is the factory and
// process-wide metadata surface.
type Engine interface {
	// CreateContext allocates a fresh execution context named name.
	CreateContext(name string) (*exectx.Context, error)
	// DestroyContext releases ctx back to the engine's pool.
	DestroyContext(ctx *exectx.Context)
	// Metadata reports this engine's identity and feature set.
	Metadata() Metadata
	// Supports reports whether feature is available.
	Supports(feature Feature) bool
	// Destroy tears down the engine and all pooled resources. Called once
	// at process teardown.
	Destroy()
}

// Factory constructs an Engine from Config.
type Factory func(cfg Config) (Engine, error)

// Registry is the process-wide map from engine name to factory.
// Guarded: register/create/list may be called concurrently, but no
// registry lock is ever held across a guest call (spec §9).
type Registry struct {
	mu       sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs factory under name. Re-registering the same name
// overwrites the previous factory (used by tests to substitute fakes).
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create looks up name's factory and constructs an Engine from cfg.
func (r *Registry) Create(name string, cfg Config) (Engine, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errkind.New(errkind.ToolNotFound, "no engine registered: "+name)
	}
	return factory(cfg)
}

// List returns all currently registered engine names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}

// global is the process-wide default registry, mirroring the teacher's
// single backend registry instantiated once at process start.
var global = NewRegistry()

// Register installs factory under name in the process-wide registry.
func Register(name string, factory Factory) { global.Register(name, factory) }

// Create constructs an Engine by name from the process-wide registry.
func Create(name string, cfg Config) (Engine, error) { return global.Create(name, cfg) }

// List returns the process-wide registry's registered engine names.
func List() []string { return global.List() }

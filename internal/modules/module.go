// Package modules implements the Module System (spec §4.9): Module and
// FunctionDef types, the fabric that installs them as
// root.<module>.<function> guest-visible callables, and the opt-in
// lazy-loading and memoization paths.
//
// The concrete script-visible modules (agent, tool, workflow, provider,
// event, schema, memory, hook, output, test, userdata, weakref) live in
// sibling files in this package; each is a thin API-bridge surface over
// host-side business logic the substrate does not implement itself
// (spec Non-goals: LLM providers, tool business logic, workflow
// semantics are consumed through stable interfaces, not reimplemented
// here). userdata and weakref are the exception: they are thin surfaces
// over this substrate's own registries (internal/userdata,
// internal/weakref), not external collaborators.
package modules

import (
	"sync"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// Arity is either a fixed argument count or Variadic.
type Arity struct {
	Fixed    int
	Variadic bool
}

// Fixed returns an Arity requiring exactly n arguments.
func Fixed(n int) Arity { return Arity{Fixed: n} }

// VariadicArity returns an Arity accepting any number of arguments.
func VariadicArity() Arity { return Arity{Variadic: true} }

// Callback is a module function's implementation.
type Callback func(ctx *exectx.Context, args []uv.Value) (uv.Value, error)

// FunctionDef describes one guest-visible callable within a Module.
type FunctionDef struct {
	Name        string
	Description string
	Arity       Arity
	Callback    Callback
	// StackSlotEstimate records a function's expected guest stack use.
	// The fabric does not read it; there is no stack pre-sizing path.
	StackSlotEstimate int
	// Memoizable marks a function as side-effect-free, making it
	// eligible for memoization by (name, marshalled args) hash.
	Memoizable bool
}

// ConstantDef describes a guest-visible constant attached to a Module.
type ConstantDef struct {
	Name  string
	Value uv.Value
}

// Module is {name, version, description, functions, constants}.
type Module struct {
	Name        string
	Version     string
	Description string
	Functions   []FunctionDef
	Constants   []ConstantDef
}

// Loader lazily builds a Module on first touch, so the fabric can
// register a stub that only pays a module's initialization cost if a
// script actually uses it.
type Loader func() (Module, error)

// GuestInstaller is satisfied by a concrete engine's pooled guest state
// that can wire a Fabric's modules onto its own guest-visible namespace,
// completing spec §6's embedding contract step "(3) registering
// modules" (e.g. luaengine.State installs root.<module>.<function> Lua
// closures that call back into Invoke).
type GuestInstaller interface {
	InstallFabric(ctx *exectx.Context, fabric *Fabric) error
}

// Fabric owns the set of installed (and lazily-loadable) modules,
// plus the memoization cache for functions that opt in.
type Fabric struct {
	mu      sync.RWMutex
	loaded  map[string]*Module
	loaders map[string]Loader

	memoMu sync.Mutex
	memo   map[string]uv.Value
}

// NewFabric returns an empty Fabric.
func NewFabric() *Fabric {
	return &Fabric{
		loaded:  make(map[string]*Module),
		loaders: make(map[string]Loader),
		memo:    make(map[string]uv.Value),
	}
}

// Install registers an already-built Module for immediate use.
func (f *Fabric) Install(m Module) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mm := m
	f.loaded[m.Name] = &mm
}

// InstallLazy registers a stub: the module's real initialization (via
// loader) only runs the first time Resolve(name) is called.
func (f *Fabric) InstallLazy(name string, loader Loader) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaders[name] = loader
}

// Names returns every module name known to the fabric, whether already
// installed or only registered via InstallLazy, used to build a guest's
// root.<module> namespace and the root.modules() utility entry point.
func (f *Fabric) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	seen := make(map[string]struct{}, len(f.loaded)+len(f.loaders))
	names := make([]string, 0, len(f.loaded)+len(f.loaders))
	for name := range f.loaded {
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for name := range f.loaders {
		if _, ok := seen[name]; ok {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Resolve returns the named module, running its lazy loader on first
// touch if one was registered instead of an eager Install.
func (f *Fabric) Resolve(name string) (*Module, error) {
	f.mu.RLock()
	if m, ok := f.loaded[name]; ok {
		f.mu.RUnlock()
		return m, nil
	}
	loader, ok := f.loaders[name]
	f.mu.RUnlock()
	if !ok {
		return nil, errkind.New(errkind.ToolNotFound, "no such module: "+name)
	}

	m, err := loader()
	if err != nil {
		return nil, errkind.Wrap(errkind.Runtime, "module "+name+" failed to initialize", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.loaded[name]; ok {
		return existing, nil // another goroutine won the race to initialize
	}
	f.loaded[name] = &m
	return &m, nil
}

// Invoke resolves module.function and calls it, arity-checking first and
// consulting the memoization cache when the function opted in.
func (f *Fabric) Invoke(ctx *exectx.Context, module, function string, args []uv.Value) (uv.Value, error) {
	m, err := f.Resolve(module)
	if err != nil {
		return uv.Nil(), err
	}
	var def *FunctionDef
	for i := range m.Functions {
		if m.Functions[i].Name == function {
			def = &m.Functions[i]
			break
		}
	}
	if def == nil {
		return uv.Nil(), errkind.New(errkind.ToolNotFound, "no such function: "+module+"."+function)
	}
	if !def.Arity.Variadic && len(args) != def.Arity.Fixed {
		return uv.Nil(), errkind.New(errkind.InvalidArguments, "wrong arity calling "+module+"."+function)
	}

	if def.Memoizable {
		key := memoKey(module, function, args)
		f.memoMu.Lock()
		if cached, ok := f.memo[key]; ok {
			f.memoMu.Unlock()
			return cached, nil
		}
		f.memoMu.Unlock()

		result, err := def.Callback(ctx, args)
		if err != nil {
			return uv.Nil(), err
		}
		f.memoMu.Lock()
		f.memo[key] = result
		f.memoMu.Unlock()
		return result, nil
	}

	return def.Callback(ctx, args)
}

func memoKey(module, function string, args []uv.Value) string {
	key := module + "." + function
	for _, a := range args {
		key += "|" + a.String()
	}
	return key
}

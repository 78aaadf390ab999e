package modules

import (
	"sort"
	"sync"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// HookFunc transforms a value as it passes through a chained hook point
// (e.g. "before_agent_run"). Unlike an event Handler, a hook's return
// value feeds the next hook in the chain.
type HookFunc func(payload uv.Value) (uv.Value, error)

type hookEntry struct {
	id       int64
	hookType string
	priority Priority
	fn       HookFunc
	enabled  bool
}

// Hooks is a named-chain, priority-ordered interception point registry:
// where Bus fans one event out to every independent handler, Hooks
// threads a single value through each registered hook in turn, letting
// earlier hooks (e.g. input sanitization) shape what later hooks see.
// Grounded on the same eventbus mutex/priority idiom as Bus, reshaped
// for the chain-of-responsibility semantics spec.md's hook module names
// (chain, compose, intercept).
type Hooks struct {
	mu      sync.Mutex
	nextID  int64
	entries map[string][]*hookEntry
}

// NewHooks returns an empty Hooks registry.
func NewHooks() *Hooks {
	return &Hooks{entries: make(map[string][]*hookEntry)}
}

// Register adds an enabled hook of hookType at priority, returning an id
// usable with Unregister/Enable/Disable.
func (h *Hooks) Register(hookType string, priority Priority, fn HookFunc) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	e := &hookEntry{id: h.nextID, hookType: hookType, priority: priority, fn: fn, enabled: true}
	h.entries[hookType] = append(h.entries[hookType], e)
	return e.id
}

// Unregister removes a hook by id, searching every type.
func (h *Hooks) Unregister(id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for t, list := range h.entries {
		for i, e := range list {
			if e.id == id {
				h.entries[t] = append(list[:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// setEnabled flips a hook's enabled flag by id.
func (h *Hooks) setEnabled(id int64, enabled bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, list := range h.entries {
		for _, e := range list {
			if e.id == id {
				e.enabled = enabled
				return true
			}
		}
	}
	return false
}

// Enable re-activates a disabled hook.
func (h *Hooks) Enable(id int64) bool { return h.setEnabled(id, true) }

// Disable deactivates a hook without removing it.
func (h *Hooks) Disable(id int64) bool { return h.setEnabled(id, false) }

// ListByType returns the ids registered under hookType, highest priority
// first, FIFO within a class — the same order Trigger chains them in.
func (h *Hooks) ListByType(hookType string) []int64 {
	h.mu.Lock()
	list := append([]*hookEntry(nil), h.entries[hookType]...)
	h.mu.Unlock()

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].id < list[j].id
	})
	ids := make([]int64, len(list))
	for i, e := range list {
		ids[i] = e.id
	}
	return ids
}

// ClearByType removes every hook registered under hookType.
func (h *Hooks) ClearByType(hookType string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, hookType)
}

// ClearAll removes every registered hook of every type.
func (h *Hooks) ClearAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make(map[string][]*hookEntry)
}

// Trigger threads payload through every enabled hook of hookType, in
// priority order (Critical > High > Normal > Low) and FIFO within a
// class, feeding each hook's output to the next. The first error aborts
// the chain and is returned unwrapped to the caller so callers can tell
// a hook-raised error apart from a dispatch failure.
func (h *Hooks) Trigger(hookType string, payload uv.Value) (uv.Value, error) {
	h.mu.Lock()
	list := append([]*hookEntry(nil), h.entries[hookType]...)
	h.mu.Unlock()

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].id < list[j].id
	})

	cur := payload
	for _, e := range list {
		if !e.enabled {
			continue
		}
		next, err := e.fn(cur)
		if err != nil {
			return uv.Nil(), err
		}
		cur = next
	}
	return cur, nil
}

// NewHookModule builds the "hook" script module over hooks.
func NewHookModule(hooks *Hooks) Module {
	return Module{
		Name:        "hook",
		Version:     "1.0.0",
		Description: "Register and trigger priority-ordered interception chains.",
		Functions: []FunctionDef{
			{
				Name: "register", Description: "Register a named guest-global hook function for a hook type.", Arity: Fixed(3),
				Callback: func(ctx *exectx.Context, args []uv.Value) (uv.Value, error) {
					hookType, ok1 := args[0].AsStr()
					priority, ok2 := args[1].AsInt()
					handlerName, ok3 := args[2].AsStr()
					if !ok1 || !ok2 || !ok3 {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "hook.register requires (hook_type string, priority int, handler_name string)")
					}
					id := hooks.Register(string(hookType), Priority(priority), func(payload uv.Value) (uv.Value, error) {
						return ctx.Call(string(handlerName), []uv.Value{payload})
					})
					return uv.Int(id), nil
				},
			},
			{
				Name: "unregister", Description: "Remove a registered hook by id.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					id, ok := args[0].AsInt()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "hook.unregister requires an integer id")
					}
					return uv.Bool(hooks.Unregister(id)), nil
				},
			},
			{
				Name: "enable", Description: "Re-activate a disabled hook by id.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					id, ok := args[0].AsInt()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "hook.enable requires an integer id")
					}
					return uv.Bool(hooks.Enable(id)), nil
				},
			},
			{
				Name: "disable", Description: "Deactivate a hook by id without removing it.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					id, ok := args[0].AsInt()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "hook.disable requires an integer id")
					}
					return uv.Bool(hooks.Disable(id)), nil
				},
			},
			{
				Name: "list_by_type", Description: "List hook ids registered for a hook type, in trigger order.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					hookType, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "hook.list_by_type requires a string hook_type")
					}
					ids := hooks.ListByType(string(hookType))
					items := make([]uv.Value, len(ids))
					for i, id := range ids {
						items[i] = uv.Int(id)
					}
					return uv.Array(items), nil
				},
			},
			{
				Name: "clear_by_type", Description: "Remove every hook registered for a hook type.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					hookType, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "hook.clear_by_type requires a string hook_type")
					}
					hooks.ClearByType(string(hookType))
					return uv.Nil(), nil
				},
			},
			{
				Name: "clear_all", Description: "Remove every registered hook.", Arity: Fixed(0),
				Callback: func(_ *exectx.Context, _ []uv.Value) (uv.Value, error) {
					hooks.ClearAll()
					return uv.Nil(), nil
				},
			},
			{
				Name: "trigger", Description: "Thread a value through every enabled hook of a type, in priority order.", Arity: Fixed(2),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					hookType, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "hook.trigger requires a string hook_type")
					}
					result, err := hooks.Trigger(string(hookType), args[1])
					if err != nil {
						return uv.Nil(), errkind.Wrap(errkind.Runtime, "hook chain failed for "+string(hookType), err)
					}
					return result, nil
				},
			},
		},
	}
}

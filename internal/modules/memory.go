package modules

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexlapax/go-llmspell/internal/cache"
	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// memoryMessage is one entry in a conversation memory store.
type memoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MemoryStores adapts the teacher's cache.Cache key-value backend (see
// internal/cache) into named, append-only conversation histories: each
// store's ordered message list is the serialized value behind a single
// cache key, so store creation, growth, and eviction all go through the
// same TTL-aware backend the teacher uses for hot-path reads.
type MemoryStores struct {
	backend cache.Cache
	ttl     time.Duration

	mu    sync.Mutex
	names map[string]bool
}

// NewMemoryStores wraps backend (typically cache.NewInMemoryCache()) as a
// named memory-store registry. ttl of zero means stores never expire.
func NewMemoryStores(backend cache.Cache, ttl time.Duration) *MemoryStores {
	return &MemoryStores{backend: backend, ttl: ttl, names: make(map[string]bool)}
}

func storeKey(name string) string { return "memstore:" + name }

func (m *MemoryStores) load(ctx context.Context, name string) ([]memoryMessage, error) {
	raw, err := m.backend.Get(ctx, storeKey(name))
	if err == cache.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []memoryMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (m *MemoryStores) save(ctx context.Context, name string, msgs []memoryMessage) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return m.backend.Set(ctx, storeKey(name), raw, m.ttl)
}

// Create registers name as a known store (idempotent; an empty store is
// materialized lazily on first Add).
func (m *MemoryStores) Create(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[name] = true
}

// Destroy removes a store and its backing entry.
func (m *MemoryStores) Destroy(ctx context.Context, name string) error {
	m.mu.Lock()
	delete(m.names, name)
	m.mu.Unlock()
	return m.backend.Delete(ctx, storeKey(name))
}

// Add appends a message, creating the store if it does not yet exist.
func (m *MemoryStores) Add(ctx context.Context, name, role, content string) error {
	msgs, err := m.load(ctx, name)
	if err != nil {
		return err
	}
	msgs = append(msgs, memoryMessage{Role: role, Content: content})
	m.Create(name)
	return m.save(ctx, name, msgs)
}

// GetLast returns the most recent message, or ok=false if the store is
// empty or unknown.
func (m *MemoryStores) GetLast(ctx context.Context, name string) (memoryMessage, bool, error) {
	msgs, err := m.load(ctx, name)
	if err != nil {
		return memoryMessage{}, false, err
	}
	if len(msgs) == 0 {
		return memoryMessage{}, false, nil
	}
	return msgs[len(msgs)-1], true, nil
}

// Search returns every message whose content contains substr, oldest
// first. This is an intentionally shallow substring scan, not an
// embedding search (spec Non-goal: memory-store internals are host/
// external collaborator territory — the substrate only fixes the
// marshalling contract, not the retrieval algorithm).
func (m *MemoryStores) Search(ctx context.Context, name, substr string) ([]memoryMessage, error) {
	msgs, err := m.load(ctx, name)
	if err != nil {
		return nil, err
	}
	var out []memoryMessage
	for _, msg := range msgs {
		if strings.Contains(msg.Content, substr) {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Clear empties a store's messages without forgetting its name.
func (m *MemoryStores) Clear(ctx context.Context, name string) error {
	return m.save(ctx, name, nil)
}

// Size reports how many messages a store holds.
func (m *MemoryStores) Size(ctx context.Context, name string) (int, error) {
	msgs, err := m.load(ctx, name)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// List returns every known store name, sorted for deterministic output.
func (m *MemoryStores) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.names))
	for n := range m.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func messageToUV(msg memoryMessage) uv.Value {
	o := uv.NewObject()
	o.Set("role", uv.StrFromString(msg.Role))
	o.Set("content", uv.StrFromString(msg.Content))
	return uv.ObjectValue(o)
}

// NewMemoryModule builds the "memory" script module over stores.
func NewMemoryModule(stores *MemoryStores) Module {
	bg := context.Background()
	return Module{
		Name:        "memory",
		Version:     "1.0.0",
		Description: "Named, append-only conversation memory stores.",
		Functions: []FunctionDef{
			{
				Name: "create", Description: "Create (or no-op if it exists) a named memory store.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "memory.create requires a string name")
					}
					stores.Create(string(name))
					return uv.Nil(), nil
				},
			},
			{
				Name: "destroy", Description: "Delete a memory store.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "memory.destroy requires a string name")
					}
					if err := stores.Destroy(bg, string(name)); err != nil {
						return uv.Nil(), errkind.Wrap(errkind.Runtime, "memory.destroy failed", err)
					}
					return uv.Nil(), nil
				},
			},
			{
				Name: "add", Description: "Append a (role, content) message to a store.", Arity: Fixed(3),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok1 := args[0].AsStr()
					role, ok2 := args[1].AsStr()
					content, ok3 := args[2].AsStr()
					if !ok1 || !ok2 || !ok3 {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "memory.add requires (name, role, content) strings")
					}
					if err := stores.Add(bg, string(name), string(role), string(content)); err != nil {
						return uv.Nil(), errkind.Wrap(errkind.Runtime, "memory.add failed", err)
					}
					return uv.Nil(), nil
				},
			},
			{
				Name: "get_last", Description: "Return the most recent message in a store.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "memory.get_last requires a string name")
					}
					msg, found, err := stores.GetLast(bg, string(name))
					if err != nil {
						return uv.Nil(), errkind.Wrap(errkind.Runtime, "memory.get_last failed", err)
					}
					if !found {
						return uv.Nil(), errkind.New(errkind.MemoryStoreNotFound, "store empty or unknown: "+string(name))
					}
					return messageToUV(msg), nil
				},
			},
			{
				Name: "search", Description: "Return messages in a store whose content contains a substring.", Arity: Fixed(2),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok1 := args[0].AsStr()
					substr, ok2 := args[1].AsStr()
					if !ok1 || !ok2 {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "memory.search requires (name, substring) strings")
					}
					matches, err := stores.Search(bg, string(name), string(substr))
					if err != nil {
						return uv.Nil(), errkind.Wrap(errkind.Runtime, "memory.search failed", err)
					}
					items := make([]uv.Value, len(matches))
					for i, msg := range matches {
						items[i] = messageToUV(msg)
					}
					return uv.Array(items), nil
				},
			},
			{
				Name: "clear", Description: "Empty a store's messages.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "memory.clear requires a string name")
					}
					if err := stores.Clear(bg, string(name)); err != nil {
						return uv.Nil(), errkind.Wrap(errkind.Runtime, "memory.clear failed", err)
					}
					return uv.Nil(), nil
				},
			},
			{
				Name: "size", Description: "Return the number of messages in a store.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "memory.size requires a string name")
					}
					n, err := stores.Size(bg, string(name))
					if err != nil {
						return uv.Nil(), errkind.Wrap(errkind.Runtime, "memory.size failed", err)
					}
					return uv.Int(int64(n)), nil
				},
			},
			{
				Name: "list", Description: "List known memory store names.", Arity: Fixed(0),
				Callback: func(_ *exectx.Context, _ []uv.Value) (uv.Value, error) {
					names := stores.List()
					items := make([]uv.Value, len(names))
					for i, n := range names {
						items[i] = uv.StrFromString(n)
					}
					return uv.Array(items), nil
				},
			},
		},
	}
}

// Event fan-out, grounded on the teacher's eventbus.WorkerPool idiom
// (mutex-guarded start/stop, one goroutine per worker) but reshaped from
// a store-polled outbox into an in-process priority fan-out: spec §5
// requires per-handler ordering by priority (Critical > High > Normal >
// Low) and FIFO within a class, which an external queue worker pool
// cannot give without round-tripping through storage.
package modules

import (
	"sort"
	"sync"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// Priority orders handler invocation for a single emitted event.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Handler receives an emitted event's payload.
type Handler func(payload uv.Value) error

type subscription struct {
	seq      int64
	priority Priority
	handler  Handler
}

// Bus is a process-wide, priority-ordered, in-process event fan-out.
// Grounded on the teacher's WorkerPool mutex+slice idiom; there is no
// background goroutine here because emission is synchronous with the
// emitting guest call (spec §5: "no host entry point awaits I/O on
// behalf of the guest").
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription
	seq  int64
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*subscription)}
}

// Subscribe registers handler for eventType at priority, returning a
// subscription id usable with Unsubscribe.
func (b *Bus) Subscribe(eventType string, priority Priority, handler Handler) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	sub := &subscription{seq: b.seq, priority: priority, handler: handler}
	b.subs[eventType] = append(b.subs[eventType], sub)
	return sub.seq
}

// Unsubscribe removes the subscription with the given id, if present.
func (b *Bus) Unsubscribe(eventType string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, s := range subs {
		if s.seq == id {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit fans payload out to every handler subscribed to eventType, in
// priority order (Critical > High > Normal > Low) and FIFO (subscription
// order) within a priority class. The first handler error aborts
// remaining dispatch and is returned to the caller.
func (b *Bus) Emit(eventType string, payload uv.Value) error {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[eventType]...)
	b.mu.RUnlock()

	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].priority != subs[j].priority {
			return subs[i].priority > subs[j].priority
		}
		return subs[i].seq < subs[j].seq
	})

	for _, s := range subs {
		if err := s.handler(payload); err != nil {
			return errkind.Wrap(errkind.Runtime, "event handler failed for "+eventType, err)
		}
	}
	return nil
}

// NewEventModule builds the "event" script module over bus.
func NewEventModule(bus *Bus) Module {
	return Module{
		Name:        "event",
		Version:     "1.0.0",
		Description: "Subscribe to and emit priority-ordered in-process events.",
		Functions: []FunctionDef{
			{
				Name: "emit", Description: "Emit an event to all subscribed handlers.", Arity: Fixed(2),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "event.emit requires a string event type")
					}
					if err := bus.Emit(string(name), args[1]); err != nil {
						return uv.Nil(), err
					}
					return uv.Nil(), nil
				},
			},
			{
				Name: "subscribe", Description: "Register a named guest-global callback for an event type.", Arity: Fixed(3),
				Callback: func(ctx *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "event.subscribe requires a string event type")
					}
					priority, ok := args[1].AsInt()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "event.subscribe requires an integer priority")
					}
					// Handlers are looked up by name at dispatch time
					// rather than captured as a uv.Function handle: the
					// execution Context can only invoke a guest callable
					// through its global name (spec §4.7's call(name,
					// args) contract), so the subscribed callback must
					// itself be a guest global.
					handlerName, ok := args[2].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "event.subscribe requires the handler's global name as a string")
					}
					id := bus.Subscribe(string(name), Priority(priority), func(payload uv.Value) error {
						_, err := ctx.Call(string(handlerName), []uv.Value{payload})
						return err
					})
					return uv.Int(id), nil
				},
			},
		},
	}
}

package modules

import (
	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
	"github.com/lexlapax/go-llmspell/internal/weakref"
)

// NewWeakrefModule builds the "weakref" script module over registry: the
// guest-facing surface for the Weak Reference Registry (internal/weakref).
// A reference is created over a function value (the only guest-held
// handle uv carries, per uv.FunctionHandle's ID/Release contract) so a
// script can hold a non-owning reference to a callback without pinning
// it against garbage collection. get resolves Live/Invalidated/Collected
// without ever panicking on a stale id (spec §4.3).
func NewWeakrefModule(registry *weakref.Registry) Module {
	return Module{
		Name:        "weakref",
		Version:     "1.0.0",
		Description: "Weak references to guest function values, spanning the host/guest boundary.",
		Functions: []FunctionDef{
			{
				Name: "create", Description: "Create a guest-to-host weak reference to a function value, returning its id.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					fn, ok := args[0].AsFunction()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "weakref.create requires a function value")
					}
					id := registry.Create(weakref.GuestToHost, args[0], func(uint64, weakref.Direction, weakref.State) {
						fn.Release()
					})
					return uv.Int(int64(id)), nil
				},
			},
			{
				Name: "get", Description: "Resolve a weak reference id to {state, value}; value is nil unless state is \"live\".", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					id, ok := args[0].AsInt()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "weakref.get requires an integer id")
					}
					res := registry.Get(uint64(id))
					o := uv.NewObject()
					o.Set("state", uv.StrFromString(res.State.String()))
					if res.State == weakref.Live {
						v, ok := res.Handle.(uv.Value)
						if !ok {
							return uv.Nil(), errkind.New(errkind.ConversionError, "weakref.get: stored handle is not a uv.Value")
						}
						o.Set("value", v)
					} else {
						o.Set("value", uv.Nil())
					}
					return uv.ObjectValue(o), nil
				},
			},
			{
				Name: "invalidate", Description: "Explicitly invalidate a weak reference id.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					id, ok := args[0].AsInt()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "weakref.invalidate requires an integer id")
					}
					registry.Invalidate(uint64(id))
					return uv.Nil(), nil
				},
			},
			{
				Name: "stats", Description: "Report {total, active, accesses} for the guest-to-host direction.", Arity: Fixed(0),
				Callback: func(_ *exectx.Context, _ []uv.Value) (uv.Value, error) {
					c := registry.Stats(weakref.GuestToHost)
					o := uv.NewObject()
					o.Set("total", uv.Int(c.Total))
					o.Set("active", uv.Int(c.Active))
					o.Set("accesses", uv.Int(c.Accesses))
					return uv.ObjectValue(o), nil
				},
			},
		},
	}
}

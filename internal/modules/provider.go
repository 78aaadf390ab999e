package modules

import (
	"github.com/lexlapax/go-llmspell/internal/bridge"
	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// ProviderDescriptor is the host-visible shape of a registered LLM
// provider. The substrate never talks to a provider API directly (spec
// Non-goal: LLM providers) — this module only marshals calls to
// whatever host-side client ProviderHost wraps.
type ProviderDescriptor struct {
	Name  string `uv:"name"`
	Model string `uv:"model"`
}

// ProviderHost is implemented by the host application.
type ProviderHost interface {
	Get(name string) (ProviderDescriptor, bool)
	Complete(name, prompt string) (string, error)
	List() []string
}

// NewProviderModule builds the "provider" script module over host.
func NewProviderModule(host ProviderHost) Module {
	return Module{
		Name:        "provider",
		Version:     "1.0.0",
		Description: "Lookup and invoke host-registered LLM providers.",
		Functions: []FunctionDef{
			{
				Name: "get", Description: "Return a provider's descriptor by name.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "provider.get requires a string name")
					}
					desc, found := host.Get(string(name))
					if !found {
						return uv.Nil(), errkind.New(errkind.ToolNotFound, "no such provider: "+string(name))
					}
					return bridge.ToObject(desc, bridge.Options{})
				},
			},
			{
				Name: "complete", Description: "Request a completion from a provider.", Arity: Fixed(2),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok1 := args[0].AsStr()
					prompt, ok2 := args[1].AsStr()
					if !ok1 || !ok2 {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "provider.complete requires (name, prompt) strings")
					}
					out, err := host.Complete(string(name), string(prompt))
					if err != nil {
						return uv.Nil(), errkind.Wrap(errkind.Runtime, "provider completion failed", err)
					}
					return uv.StrFromString(out), nil
				},
			},
			{
				Name: "list", Description: "List registered provider names.", Arity: Fixed(0),
				Callback: func(_ *exectx.Context, _ []uv.Value) (uv.Value, error) {
					names := host.List()
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

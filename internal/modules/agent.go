package modules

import (
	"github.com/lexlapax/go-llmspell/internal/bridge"
	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// AgentDescriptor is the host-visible shape of a registered agent,
// marshalled to the guest via the struct bridge.
type AgentDescriptor struct {
	Name         string   `uv:"name"`
	Description  string   `uv:"description"`
	ProviderName string   `uv:"provider"`
	Tools        []string `uv:"tools"`
}

// AgentHost is implemented by the host application; agent business
// logic (prompting, tool-use loops, memory integration) lives entirely
// on the host side of this interface — the substrate only marshals
// calls across it.
type AgentHost interface {
	Get(name string) (AgentDescriptor, bool)
	Run(name, input string) (string, error)
	List() []string
}

// NewAgentModule builds the "agent" script module over host.
func NewAgentModule(host AgentHost) Module {
	return Module{
		Name:        "agent",
		Version:     "1.0.0",
		Description: "Lookup and invoke host-registered agents.",
		Functions: []FunctionDef{
			{
				Name: "get", Description: "Return an agent's descriptor by name.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "agent.get requires a string name")
					}
					desc, found := host.Get(string(name))
					if !found {
						return uv.Nil(), errkind.New(errkind.AgentNotFound, "no such agent: "+string(name))
					}
					return bridge.ToObject(desc, bridge.Options{})
				},
			},
			{
				Name: "run", Description: "Run an agent with free-form text input, returning its reply.", Arity: Fixed(2),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok1 := args[0].AsStr()
					input, ok2 := args[1].AsStr()
					if !ok1 || !ok2 {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "agent.run requires (name, input) strings")
					}
					out, err := host.Run(string(name), string(input))
					if err != nil {
						return uv.Nil(), errkind.Wrap(errkind.Runtime, "agent run failed", err)
					}
					return uv.StrFromString(out), nil
				},
			},
			{
				Name: "list", Description: "List registered agent names.", Arity: Fixed(0),
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

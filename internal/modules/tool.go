package modules

import (
	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// ToolHost is implemented by the host application. Tool business logic
// (the actual side effect a tool performs) is entirely host-side; the
// substrate only marshals the call and its structured result.
type ToolHost interface {
	Invoke(name string, args uv.Value) (uv.Value, error)
	Exists(name string) bool
	List() []string
}

// NewToolModule builds the "tool" script module over host.
func NewToolModule(host ToolHost) Module {
	return Module{
		Name:        "tool",
		Version:     "1.0.0",
		Description: "Invoke host-registered tools with structured arguments.",
		Functions: []FunctionDef{
			{
				Name: "invoke", Description: "Call a registered tool by name with an argument object.", Arity: Fixed(2),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "tool.invoke requires a string name")
					}
					if !host.Exists(string(name)) {
						return uv.Nil(), errkind.New(errkind.ToolNotFound, "no such tool: "+string(name))
					}
					result, err := host.Invoke(string(name), args[1])
					if err != nil {
						return uv.Nil(), errkind.Wrap(errkind.Runtime, "tool invocation failed", err)
					}
					return result, nil
				},
			},
			{
				Name: "exists", Description: "Report whether a tool name is registered.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "tool.exists requires a string name")
					}
					return uv.Bool(host.Exists(string(name))), nil
				},
			},
			{
				Name: "list", Description: "List registered tool names.", Arity: Fixed(0),
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

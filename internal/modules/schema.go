package modules

import (
	"github.com/lexlapax/go-llmspell/internal/bridge"
	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// SchemaDescriptor is the host-visible shape of a registered JSON-Schema
// document, marshalled to the guest via the struct bridge.
type SchemaDescriptor struct {
	Name   string   `uv:"name"`
	Fields []string `uv:"fields"`
}

// SchemaHost is implemented by the host application; schema storage and
// validation logic (the actual JSON-Schema engine) live host-side.
type SchemaHost interface {
	Get(name string) (SchemaDescriptor, bool)
	Validate(name string, payload uv.Value) ([]string, error)
	List() []string
}

// NewSchemaModule builds the "schema" script module over host.
func NewSchemaModule(host SchemaHost) Module {
	return Module{
		Name:        "schema",
		Version:     "1.0.0",
		Description: "Lookup registered schemas and validate structured values against them.",
		Functions: []FunctionDef{
			{
				Name: "get", Description: "Return a schema's descriptor by name.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "schema.get requires a string name")
					}
					desc, found := host.Get(string(name))
					if !found {
						return uv.Nil(), errkind.New(errkind.SchemaNotFound, "no such schema: "+string(name))
					}
					return bridge.ToObject(desc, bridge.Options{})
				},
			},
			{
				Name: "validate", Description: "Validate a value against a named schema, returning a list of violation messages.", Arity: Fixed(2),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "schema.validate requires a string name")
					}
					violations, err := host.Validate(string(name), args[1])
					if err != nil {
						return uv.Nil(), errkind.Wrap(errkind.Runtime, "schema validation failed", err)
					}
					items := make([]uv.Value, len(violations))
					for i, v := range violations {
						items[i] = uv.StrFromString(v)
					}
					return uv.Array(items), nil
				},
			},
			{
				Name: "list", Description: "List registered schema names.", Arity: Fixed(0),
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

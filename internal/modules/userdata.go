package modules

import (
	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/userdata"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// NewUserdataModule builds the "userdata" script module over registry: the
// guest-facing surface for the Userdata Registry (internal/userdata). A
// type must be registered with register_type before create can stamp
// instances of it; get and release round-trip through registry.Validate
// and registry.Release exactly as the bridge's type-safe accessor does,
// so a stale or wrong-type handle reports "not found" rather than
// panicking (spec §8.8).
func NewUserdataModule(registry *userdata.Registry) Module {
	return Module{
		Name:        "userdata",
		Version:     "1.0.0",
		Description: "Versioned host-type registry for guest-visible opaque values.",
		Functions: []FunctionDef{
			{
				Name: "register_type", Description: "Register a host type under (name, major, minor, patch).", Arity: Fixed(4),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					major, ok2 := args[1].AsInt()
					minor, ok3 := args[2].AsInt()
					patch, ok4 := args[3].AsInt()
					if !ok || !ok2 || !ok3 || !ok4 {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "userdata.register_type requires (name string, major, minor, patch ints)")
					}
					v := userdata.Version{Major: int(major), Minor: int(minor), Patch: int(patch)}
					if err := registry.Register(userdata.TypeInfo{Name: string(name), Version: v, MinCompatibleVersion: v}); err != nil {
						return uv.Nil(), err
					}
					return uv.Nil(), nil
				},
			},
			{
				Name: "create", Description: "Stamp value as an instance of a registered type, returning an opaque handle.", Arity: Fixed(2),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "userdata.create requires a string type name")
					}
					versions, err := registry.VersionHistory(string(name))
					if err != nil {
						return uv.Nil(), err
					}
					latest := versions[len(versions)-1]
					h, err := registry.Store(string(name), latest, args[1])
					if err != nil {
						return uv.Nil(), err
					}
					ud := &uv.UserData{
						Ptr:         h,
						TypeName:    string(name),
						TypeVersion: [3]int{latest.Major, latest.Minor, latest.Patch},
					}
					return uv.UserDataValue(ud), nil
				},
			},
			{
				Name: "get", Description: "Resolve a userdata handle back to its stored value.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					h, typeName, err := handleFromUserData(args[0])
					if err != nil {
						return uv.Nil(), err
					}
					stored, _, ok := registry.Validate(typeName, h)
					if !ok {
						return uv.Nil(), errkind.New(errkind.SchemaNotFound, "userdata handle is stale, released, or wrong-typed")
					}
					v, ok := stored.(uv.Value)
					if !ok {
						return uv.Nil(), errkind.New(errkind.ConversionError, "userdata.get: stored value is not a uv.Value")
					}
					return v, nil
				},
			},
			{
				Name: "release", Description: "Invalidate a userdata handle, running its destructor if one was registered.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					h, _, err := handleFromUserData(args[0])
					if err != nil {
						return uv.Nil(), err
					}
					registry.Release(h)
					return uv.Nil(), nil
				},
			},
		},
	}
}

func handleFromUserData(v uv.Value) (userdata.Handle, string, error) {
	ud, ok := v.AsUserData()
	if !ok {
		return userdata.Handle{}, "", errkind.New(errkind.InvalidArguments, "expected a userdata value")
	}
	h, ok := ud.Ptr.(userdata.Handle)
	if !ok {
		return userdata.Handle{}, "", errkind.New(errkind.ConversionError, "userdata value did not originate from the userdata module")
	}
	return h, ud.TypeName, nil
}

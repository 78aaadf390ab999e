// Package userdata implements the Userdata Registry (spec §4.2): a
// versioned catalog of host types exposed to the guest, each instance
// backed by an arena + generational index rather than a raw pointer with
// a magic prefix (spec's REDESIGN FLAGS call for this explicitly — an
// index+generation compare gives use-after-free safety without an extra
// indirection).
package userdata

import (
	"sort"
	"sync"

	"github.com/lexlapax/go-llmspell/internal/errkind"
)

// Version is a semantic (major, minor, patch) triple.
type Version struct {
	Major, Minor, Patch int
}

// Compare returns -1, 0, 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmp(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmp(v.Minor, o.Minor)
	default:
		return cmp(v.Patch, o.Patch)
	}
}

func cmp(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompatibleWith implements the registry's compatibility rule: a is
// compatible with b iff same major and a >= b.
func (v Version) CompatibleWith(o Version) bool {
	return v.Major == o.Major && v.Compare(o) >= 0
}

// Validator checks a stored instance's structural invariants beyond the
// index/generation compare (e.g. a checksum, a required field range).
type Validator func(ptr interface{}) bool

// MigrateFunc upgrades an instance from one version to another, allocating
// the new instance through the supplied allocate callback (the context's
// accounter in practice) and leaving the old instance for the caller to
// free.
type MigrateFunc func(old interface{}, from, to Version, allocate func(size int) (interface{}, error)) (interface{}, error)

// TypeInfo describes a host type registered for guest visibility.
type TypeInfo struct {
	Name       string
	Size       int
	Alignment  int
	Version    Version
	// MinCompatibleVersion is the oldest version this TypeInfo can
	// directly accept without migration.
	MinCompatibleVersion Version
	Destructor func(interface{})
	Validator  Validator
	Migration  MigrateFunc
}

type slot struct {
	generation uint32
	live       bool
	typeName   string
	version    Version
	ptr        interface{}
}

type typeEntry struct {
	history []*TypeInfo // ordered oldest first by Version
}

// Registry is the process-wide (or per-engine) catalog of registered
// userdata types and the arena of live instances.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*typeEntry

	arenaMu sync.Mutex
	arena   []slot
	free    []uint32
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*typeEntry)}
}

// Register adds a TypeInfo. It is rejected if (name, version) duplicates
// an existing entry, or if size/alignment differ from any already
// registered version for this name without that TypeInfo declaring a
// Migration function.
func (r *Registry) Register(info TypeInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.types[info.Name]
	if !ok {
		entry = &typeEntry{}
		r.types[info.Name] = entry
	}
	for _, existing := range entry.history {
		if existing.Version == info.Version {
			return errkind.New(errkind.InvalidArguments, "userdata type "+info.Name+" version already registered")
		}
		if (existing.Size != info.Size || existing.Alignment != info.Alignment) && info.Migration == nil {
			return errkind.New(errkind.InvalidArguments, "userdata type "+info.Name+" layout changed without a migration function")
		}
	}
	infoCopy := info
	entry.history = append(entry.history, &infoCopy)
	sort.Slice(entry.history, func(i, j int) bool {
		return entry.history[i].Version.Compare(entry.history[j].Version) < 0
	})
	return nil
}

// VersionHistory returns the registered versions for name, oldest first.
func (r *Registry) VersionHistory(name string) ([]Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.types[name]
	if !ok {
		return nil, errkind.New(errkind.SchemaNotFound, "no userdata type registered: "+name)
	}
	out := make([]Version, len(entry.history))
	for i, ti := range entry.history {
		out[i] = ti.Version
	}
	return out, nil
}

// Supports reports whether the current (latest) registered version of
// name is compatible with the requested version, either directly or via
// a migration path through the version history.
func (r *Registry) Supports(name string, version Version) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.types[name]
	if !ok || len(entry.history) == 0 {
		return false
	}
	current := entry.history[len(entry.history)-1]
	if current.Version.CompatibleWith(version) {
		return true
	}
	for _, ti := range entry.history {
		if ti.Version == version {
			return true // reachable via chained migration, validated at Migrate time
		}
	}
	return false
}

// latest returns the most recently registered TypeInfo for name.
func (r *Registry) latest(name string) (*TypeInfo, bool) {
	entry, ok := r.types[name]
	if !ok || len(entry.history) == 0 {
		return nil, false
	}
	return entry.history[len(entry.history)-1], true
}

// Migrate upgrades old (at oldVersion) to newVersion, applying chained
// migration functions in order across the registered version history.
// The registry never frees old; the caller owns its lifetime.
func (r *Registry) Migrate(name string, old interface{}, oldVersion, newVersion Version, allocate func(size int) (interface{}, error)) (interface{}, error) {
	r.mu.RLock()
	entry, ok := r.types[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errkind.New(errkind.SchemaNotFound, "no userdata type registered: "+name)
	}

	// Build the ordered chain of TypeInfos strictly between oldVersion and
	// newVersion (inclusive of the step that produces newVersion).
	var chain []*TypeInfo
	for _, ti := range entry.history {
		if ti.Version.Compare(oldVersion) > 0 && ti.Version.Compare(newVersion) <= 0 {
			chain = append(chain, ti)
		}
	}
	if len(chain) == 0 {
		return nil, errkind.New(errkind.ConversionError, "no migration path from "+versionString(oldVersion)+" to "+versionString(newVersion))
	}

	cur := old
	curVersion := oldVersion
	for _, step := range chain {
		if step.Migration == nil {
			return nil, errkind.New(errkind.ConversionError, "missing migration function at version "+versionString(step.Version))
		}
		next, err := step.Migration(cur, curVersion, step.Version, allocate)
		if err != nil {
			return nil, errkind.Wrap(errkind.ConversionError, "migration step failed", err)
		}
		cur = next
		curVersion = step.Version
	}
	return cur, nil
}

func versionString(v Version) string {
	digits := func(n int) byte { return byte('0' + n) }
	_ = digits
	return itoa(v.Major) + "." + itoa(v.Minor) + "." + itoa(v.Patch)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Handle is the opaque guest-visible reference to a stored instance.
// Equality of two Handles determines identity.
type Handle struct {
	index      uint32
	generation uint32
}

// Store allocates an arena slot for ptr under the given registered type
// and version, returning a generational Handle. The type must already be
// registered; its validator (if any) is not invoked here (Store trusts
// the caller to hand in a freshly constructed instance).
func (r *Registry) Store(name string, version Version, ptr interface{}) (Handle, error) {
	r.mu.RLock()
	_, ok := r.types[name]
	r.mu.RUnlock()
	if !ok {
		return Handle{}, errkind.New(errkind.SchemaNotFound, "no userdata type registered: "+name)
	}

	r.arenaMu.Lock()
	defer r.arenaMu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
		r.arena[idx].generation++
	} else {
		idx = uint32(len(r.arena))
		r.arena = append(r.arena, slot{generation: 1})
	}
	r.arena[idx].live = true
	r.arena[idx].typeName = name
	r.arena[idx].version = version
	r.arena[idx].ptr = ptr
	return Handle{index: idx, generation: r.arena[idx].generation}, nil
}

// Release invalidates h, returning its arena slot to the free list. The
// registered Destructor (if any) is invoked on the stored pointer; the
// registry does not call it more than once per Store.
func (r *Registry) Release(h Handle) {
	r.arenaMu.Lock()
	defer r.arenaMu.Unlock()
	if int(h.index) >= len(r.arena) {
		return
	}
	s := &r.arena[h.index]
	if !s.live || s.generation != h.generation {
		return
	}
	r.mu.RLock()
	ti, _ := r.latest(s.typeName)
	r.mu.RUnlock()
	if ti != nil && ti.Destructor != nil {
		ti.Destructor(s.ptr)
	}
	s.live = false
	s.ptr = nil
	r.free = append(r.free, h.index)
}

// Validate implements get<T>: it returns the stored pointer, the stored
// version, and true iff h resolves to a live slot of the expected type
// name whose validator (if registered) accepts the stored instance.
// A stale or wrong-type handle returns ok=false without panicking —
// exactly the "not present" outcome the bridge's type-safe accessor
// requires (spec §8.8).
func (r *Registry) Validate(name string, h Handle) (ptr interface{}, version Version, ok bool) {
	r.arenaMu.Lock()
	if int(h.index) >= len(r.arena) {
		r.arenaMu.Unlock()
		return nil, Version{}, false
	}
	s := r.arena[h.index]
	r.arenaMu.Unlock()

	if !s.live || s.generation != h.generation || s.typeName != name {
		return nil, Version{}, false
	}

	r.mu.RLock()
	ti, found := r.latest(name)
	r.mu.RUnlock()
	if found && ti.Validator != nil && !ti.Validator(s.ptr) {
		return nil, Version{}, false
	}
	return s.ptr, s.version, true
}

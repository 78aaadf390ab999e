// Package snapshot implements the Snapshot Manager (spec §4.6): it walks
// a context's root set, serializes the reachable nil/bool/int/float/
// string/array/object subset into a compact self-describing form, and
// restores it later. A restore is not atomic; see Manager.Restore.
//
// Grounded on the teacher's checkpoint.Store idiom (an in-memory,
// mutex-guarded map with TTL eviction via a background ticker loop) but
// reshaped from a request-keyed TTL cache into a per-context bounded
// stack: snapshots are addressed by index, evicted oldest-first once
// max_snapshots is reached, and have no time-based expiry of their own.
package snapshot

import (
	"sync"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// RootSetReader supplies the designated root set for a context: the
// guest global environment minus the sandbox base. Walk must call fn
// once per reachable global, in a stable order, stopping early if fn
// returns false.
type RootSetReader interface {
	Walk(fn func(name string, v uv.Value) bool)
}

// RootSetWriter clears the current root set back to the sandbox base
// and then re-materializes a serialized graph.
type RootSetWriter interface {
	Clear()
	SetGlobal(name string, v uv.Value) error
}

// Snapshot is the serialized form of one root-set capture.
type Snapshot struct {
	ID     int
	Values map[string]uv.Value
	Bytes  int64
}

// Config bounds a Manager's memory footprint.
type Config struct {
	MaxSnapshotSizeBytes int64
	MaxSnapshots         int
}

// Manager owns the bounded snapshot stack for a single execution
// context.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	stack  []*Snapshot
	nextID int
}

// New returns an empty Manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// serializable reports whether v belongs to the serializable subset
// (nil, bool, int, float, str, array, object); Function and UserData
// values are not serializable and become Nil placeholders.
func serializable(v uv.Value) bool {
	switch v.Kind() {
	case uv.KindFunction, uv.KindUserData:
		return false
	default:
		return true
	}
}

// sanitize recursively replaces unserializable values with Nil
// placeholders and estimates the serialized byte size.
func sanitize(v uv.Value) (uv.Value, int64) {
	if !serializable(v) {
		return uv.Nil(), 1
	}
	switch v.Kind() {
	case uv.KindArray:
		arr, _ := v.AsArray()
		out := make([]uv.Value, len(arr))
		var size int64 = 1
		for i, e := range arr {
			sv, sz := sanitize(e)
			out[i] = sv
			size += sz
		}
		return uv.Array(out), size
	case uv.KindObject:
		obj, _ := v.AsObject()
		o := uv.NewObject()
		var size int64 = 1
		obj.Range(func(k string, ev uv.Value) bool {
			sv, sz := sanitize(ev)
			o.Set(k, sv)
			size += int64(len(k)) + sz
			return true
		})
		return uv.ObjectValue(o), size
	case uv.KindStr:
		s, _ := v.AsStr()
		return v, int64(len(s)) + 1
	default:
		return v, 8
	}
}

// Snapshot walks reader's root set, sanitizes every reachable value, and
// pushes the result onto the bounded stack, evicting the oldest entry if
// max_snapshots is already reached. Returns the new snapshot's index.
func (m *Manager) Snapshot(reader RootSetReader) (int, error) {
	values := make(map[string]uv.Value)
	var total int64
	reader.Walk(func(name string, v uv.Value) bool {
		sv, sz := sanitize(v)
		values[name] = sv
		total += int64(len(name)) + sz
		return true
	})

	if m.cfg.MaxSnapshotSizeBytes > 0 && total > m.cfg.MaxSnapshotSizeBytes {
		return 0, errkind.New(errkind.CapacityExceeded, "snapshot exceeds max_snapshot_size_bytes")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxSnapshots > 0 && len(m.stack) >= m.cfg.MaxSnapshots {
		m.stack = m.stack[1:]
	}
	id := m.nextID
	m.nextID++
	m.stack = append(m.stack, &Snapshot{ID: id, Values: values, Bytes: total})
	return len(m.stack) - 1, nil
}

// Restore clears writer's root set to the sandbox base and re-materializes
// the snapshot at index. Every value in a stored Snapshot already passed
// through sanitize at capture time, so SetGlobal is not expected to fail
// in ordinary operation; if the guest runtime rejects one anyway the
// error is wrapped and returned immediately: the globals applied before
// it stay set and the rest of the snapshot is not applied.
func (m *Manager) Restore(writer RootSetWriter, index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.stack) {
		m.mu.Unlock()
		return errkind.New(errkind.InvalidArguments, "snapshot index out of range")
	}
	snap := m.stack[index]
	m.mu.Unlock()

	writer.Clear()
	for name, v := range snap.Values {
		if err := writer.SetGlobal(name, v); err != nil {
			return errkind.Wrap(errkind.Runtime, "restore failed applying global "+name, err)
		}
	}
	return nil
}

// Count returns the number of snapshots currently on the stack.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

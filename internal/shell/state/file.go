package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/artpar/berth/internal/core/ports"
)

// lockRetryDelay is how often lock acquisition is retried while blocked on
// a concurrent invocation.
const lockRetryDelay = 100 * time.Millisecond

// =============================================================================
// Allocation Value
// =============================================================================

// Allocation is one persisted entry: a single port or named ports for
// multi-port types. The empty name holds a single unnamed port.
type Allocation map[string]int

// UnmarshalYAML accepts either a bare port number or a name -> port mapping.
func (a *Allocation) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var port int
		if err := value.Decode(&port); err != nil {
			return fmt.Errorf("%w: %s", ErrCorruptState, err)
		}
		*a = Allocation{"": port}
		return nil
	case yaml.MappingNode:
		m := map[string]int{}
		if err := value.Decode(&m); err != nil {
			return fmt.Errorf("%w: %s", ErrCorruptState, err)
		}
		*a = m
		return nil
	default:
		return fmt.Errorf("%w: allocation must be a port or a port mapping", ErrCorruptState)
	}
}

// MarshalYAML renders single-port entries as a bare number, keeping the
// file flat and renderer-friendly.
func (a Allocation) MarshalYAML() (interface{}, error) {
	if port, ok := a[""]; ok && len(a) == 1 {
		return port, nil
	}
	return map[string]int(a), nil
}

// FromAssignment converts an in-memory assignment to its persisted form.
func FromAssignment(asg ports.Assignment) Allocation {
	a := make(Allocation, len(asg.Ports))
	for _, p := range asg.Ports {
		a[p.Name] = p.Port
	}
	return a
}

// Assignment converts back to the ordered in-memory form, ordering named
// ports by the type's layout. Names the layout no longer declares are
// appended in sorted order so nothing recorded is dropped.
func (a Allocation) Assignment(layout ports.Layout) ports.Assignment {
	if port, ok := a[""]; ok && len(a) == 1 {
		return ports.Assignment{Ports: []ports.PortValue{{Port: port}}}
	}

	var asg ports.Assignment
	taken := make(map[string]bool, len(a))
	for _, np := range layout.Ports {
		if port, ok := a[np.Name]; ok {
			asg.Ports = append(asg.Ports, ports.PortValue{Name: np.Name, Port: port})
			taken[np.Name] = true
		}
	}
	var rest []string
	for name := range a {
		if !taken[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		asg.Ports = append(asg.Ports, ports.PortValue{Name: name, Port: a[name]})
	}
	return asg
}

// =============================================================================
// State
// =============================================================================

// State is the in-memory copy of a project's allocation state file.
type State struct {
	// Allocations maps "{type_id}.{instance_name}" to the assigned ports.
	// Entries are only added or confirmed, never silently reassigned.
	Allocations map[string]Allocation `yaml:"allocations"`

	// Removed stamps entries whose declaration disappeared, keyed like
	// Allocations. Ports stay reserved until an explicit gc pass.
	Removed map[string]time.Time `yaml:"removed,omitempty"`
}

// NewState returns an empty allocation state.
func NewState() *State {
	return &State{Allocations: map[string]Allocation{}}
}

// UsedPorts flattens every recorded allocation into a used-port set,
// across all addon types.
func (st *State) UsedPorts() map[int]bool {
	used := make(map[int]bool)
	for _, a := range st.Allocations {
		for _, port := range a {
			used[port] = true
		}
	}
	return used
}

// Keys returns the allocation keys in sorted order.
func (st *State) Keys() []string {
	keys := make([]string, 0, len(st.Allocations))
	for k := range st.Allocations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// Store
// =============================================================================

// Store reads and rewrites the allocation state file. An advisory flock on
// a sibling lock file serializes concurrent invocations; persistence is
// atomic per successful allocation (temp file + rename), so an interrupted
// run never leaves partial state.
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore creates a store for the given state file path.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Lock acquires the exclusive advisory lock for an allocation pass.
// The returned release function must be called when the pass ends.
func (s *Store) Lock(ctx context.Context) (release func(), err error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, NewStoreError("Lock", "", err.Error(), ErrLockFailed)
	}
	ok, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		return nil, NewStoreError("Lock", "", "another invocation holds the allocation lock", ErrLockFailed)
	}
	return func() { _ = s.lock.Unlock() }, nil
}

// Load reads the state file. A missing file yields an empty state.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return nil, NewStoreError("Load", "", err.Error(), ErrCorruptState)
	}

	st := NewState()
	if err := yaml.Unmarshal(data, st); err != nil {
		return nil, NewStoreError("Load", "", err.Error(), ErrCorruptState)
	}
	if st.Allocations == nil {
		st.Allocations = map[string]Allocation{}
	}
	return st, nil
}

// Record adds or confirms one allocation and persists immediately, to
// minimize the window in which two invocations could race. Recording a key
// clears any removed stamp (the declaration reappeared).
func (s *Store) Record(st *State, key string, a Allocation) error {
	if existing, ok := st.Allocations[key]; ok {
		// Existing entries are never reassigned.
		a = existing
	}
	st.Allocations[key] = a
	if _, stamped := st.Removed[key]; stamped {
		delete(st.Removed, key)
	}
	if err := s.persist(st); err != nil {
		return NewStoreError("Record", key, err.Error(), ErrWriteFailed)
	}
	return nil
}

// MarkRemoved stamps an entry whose declaration is gone. The first stamp
// wins so the gc retention window measures from when the removal was first
// observed.
func (s *Store) MarkRemoved(st *State, key string, at time.Time) error {
	if st.Removed == nil {
		st.Removed = map[string]time.Time{}
	}
	if _, stamped := st.Removed[key]; stamped {
		return nil
	}
	st.Removed[key] = at.UTC()
	if err := s.persist(st); err != nil {
		return NewStoreError("MarkRemoved", key, err.Error(), ErrWriteFailed)
	}
	return nil
}

// Collect garbage-collects removed entries, freeing their ports. Only
// entries stamped at least olderThan before now are reclaimed; zero
// reclaims every removed entry. Returns the collected keys sorted.
func (s *Store) Collect(st *State, olderThan time.Duration, now time.Time) ([]string, error) {
	var collected []string
	for key, stamped := range st.Removed {
		if now.Sub(stamped) >= olderThan {
			delete(st.Allocations, key)
			delete(st.Removed, key)
			collected = append(collected, key)
		}
	}
	sort.Strings(collected)

	if len(collected) > 0 {
		if err := s.persist(st); err != nil {
			return nil, NewStoreError("Collect", "", err.Error(), ErrWriteFailed)
		}
	}
	return collected, nil
}

// persist writes the state atomically: marshal to a temp file in the same
// directory, then rename over the target.
func (s *Store) persist(st *State) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".allocations-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

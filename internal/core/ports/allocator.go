// Package ports contains the pure port-allocation search. This is part of
// the Functional Core - the persisted allocation state is read and written
// by the shell; this package only computes collision-free candidates.
package ports

import (
	"strconv"

	"github.com/artpar/berth/internal/core/addon"
)

// maxProbes bounds the candidate search. Exhausting it indicates a
// configuration error (too many instances), not a transient condition.
const maxProbes = 1000

// maxPort is the highest assignable TCP port.
const maxPort = 65535

// =============================================================================
// Layout
// =============================================================================

// Layout describes how a type's ports are derived from a base candidate.
type Layout struct {
	BasePort int
	Step     int               // candidate increment; 0 means 1
	Ports    []addon.NamedPort // empty = one unnamed port
}

// LayoutForType builds the allocation layout for an addon type.
func LayoutForType(t addon.AddonType) Layout {
	return Layout{BasePort: t.BasePort, Step: t.PortStep, Ports: t.Ports}
}

// =============================================================================
// Assignment
// =============================================================================

// PortValue is one allocated port, optionally named for multi-port types.
type PortValue struct {
	Name string `json:"name,omitempty"`
	Port int    `json:"port"`
}

// Assignment is the set of ports allocated to one instance, in the order
// the type declares them.
type Assignment struct {
	Ports []PortValue
}

// Primary returns the instance's first (main) port.
func (a Assignment) Primary() int {
	if len(a.Ports) == 0 {
		return 0
	}
	return a.Ports[0].Port
}

// Named looks up a port by name. The empty name matches the primary port.
func (a Assignment) Named(name string) (int, bool) {
	if name == "" {
		if len(a.Ports) == 0 {
			return 0, false
		}
		return a.Ports[0].Port, true
	}
	for _, p := range a.Ports {
		if p.Name == name {
			return p.Port, true
		}
	}
	return 0, false
}

// Flatten returns all allocated port numbers in declaration order.
func (a Assignment) Flatten() []int {
	out := make([]int, 0, len(a.Ports))
	for _, p := range a.Ports {
		out = append(out, p.Port)
	}
	return out
}

// String renders the assignment for CLI reporting, e.g. "5432" or
// "amqp=5672 management=15672".
func (a Assignment) String() string {
	if len(a.Ports) == 1 && a.Ports[0].Name == "" {
		return strconv.Itoa(a.Ports[0].Port)
	}
	s := ""
	for i, p := range a.Ports {
		if i > 0 {
			s += " "
		}
		s += p.Name + "=" + strconv.Itoa(p.Port)
	}
	return s
}

// =============================================================================
// Allocation
// =============================================================================

// Allocate finds the first collision-free port assignment for the layout.
// Pure function - takes the project's full used-port set as input.
//
// The candidate starts at BasePort and advances by Step. A multi-port block
// (base + each named offset) is taken atomically: either every port in the
// block is free, or the search advances past the whole block. The search is
// bounded at 1,000 probes, after which ErrExhausted is returned.
func Allocate(used map[int]bool, layout Layout) (Assignment, error) {
	step := layout.Step
	if step <= 0 {
		step = 1
	}

	for probe := 0; probe < maxProbes; probe++ {
		base := layout.BasePort + probe*step
		if base > maxPort {
			break
		}
		if a, ok := tryBlock(used, base, layout.Ports); ok {
			return a, nil
		}
	}

	return Assignment{}, NewAllocationError("", "no collision-free port found within search bound", ErrExhausted)
}

// tryBlock builds the assignment rooted at base if every port is free.
func tryBlock(used map[int]bool, base int, names []addon.NamedPort) (Assignment, bool) {
	if len(names) == 0 {
		if base > maxPort || used[base] {
			return Assignment{}, false
		}
		return Assignment{Ports: []PortValue{{Port: base}}}, true
	}

	values := make([]PortValue, 0, len(names))
	for _, np := range names {
		port := base + np.Offset
		if port > maxPort || used[port] {
			return Assignment{}, false
		}
		values = append(values, PortValue{Name: np.Name, Port: port})
	}
	return Assignment{Ports: values}, true
}

// MarkUsed adds an assignment's ports to a used-port set.
func MarkUsed(used map[int]bool, a Assignment) {
	for _, p := range a.Ports {
		used[p.Port] = true
	}
}

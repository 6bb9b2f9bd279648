package authz

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Role is a marketplace role.
type Role string

// Built-in roles.
const (
	RoleAdmin           Role = "ADMIN"
	RolePropertyManager Role = "PROPERTY_MANAGER"
	RoleAgent           Role = "AGENT"
	RoleRenter          Role = "RENTER"
)

// ErrUnknownRole is returned when the role graph references an undeclared role.
var ErrUnknownRole = errors.New("unknown role")

// ParseRole normalizes a role name.
func ParseRole(s string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(s)))
}

// ParseRoles normalizes a list of role names.
func ParseRoles(names []string) []Role {
	roles := make([]Role, 0, len(names))
	for _, n := range names {
		if r := ParseRole(n); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// RoleSet is a set of roles.
type RoleSet map[Role]struct{}

// Has reports whether r is in the set.
func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Slice returns the roles in sorted order.
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultGraph returns the marketplace role graph: each role maps to the
// roles it directly includes.
func DefaultGraph() map[Role][]Role {
	return map[Role][]Role{
		RoleAdmin:           {RolePropertyManager},
		RolePropertyManager: {RoleAgent},
		RoleAgent:           {RoleRenter},
		RoleRenter:          nil,
	}
}

// Hierarchy holds the precomputed effective roles of every declared role.
// It is immutable after construction.
type Hierarchy struct {
	closure map[Role]RoleSet
}

// NewHierarchy computes the reflexive transitive closure of graph. Every
// child must itself be declared as a key. Cycles are tolerated.
func NewHierarchy(graph map[Role][]Role) (*Hierarchy, error) {
	for parent, children := range graph {
		for _, child := range children {
			if _, ok := graph[child]; !ok {
				return nil, fmt.Errorf("%w: %q included by %q", ErrUnknownRole, child, parent)
			}
		}
	}

	h := &Hierarchy{closure: make(map[Role]RoleSet, len(graph))}
	for role := range graph {
		set := RoleSet{}
		collect(graph, role, set)
		h.closure[role] = set
	}

	return h, nil
}

// collect adds role and everything reachable from it to set.
func collect(graph map[Role][]Role, role Role, set RoleSet) {
	if set.Has(role) {
		return
	}
	set[role] = struct{}{}
	for _, child := range graph[role] {
		collect(graph, child, set)
	}
}

// DefaultHierarchy returns the hierarchy of DefaultGraph.
func DefaultHierarchy() *Hierarchy {
	h, err := NewHierarchy(DefaultGraph())
	if err != nil {
		panic(err)
	}
	return h
}

// Effective returns the roles r includes, itself among them. Unknown roles
// have no effective roles.
func (h *Hierarchy) Effective(r Role) RoleSet {
	return h.closure[r]
}

// Includes reports whether role r carries the permissions of other.
func (h *Hierarchy) Includes(r, other Role) bool {
	return h.closure[r].Has(other)
}

// Valid reports whether name is a declared role.
func (h *Hierarchy) Valid(name string) bool {
	_, ok := h.closure[ParseRole(name)]
	return ok
}

// Roles returns every declared role in sorted order.
func (h *Hierarchy) Roles() []Role {
	set := make(RoleSet, len(h.closure))
	for r := range h.closure {
		set[r] = struct{}{}
	}
	return set.Slice()
}

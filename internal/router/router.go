package router

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/vyrodovalexey/rentgw/internal/authz"
)

// Table is an immutable set of compiled routes.
type Table struct {
	routes []*Route
	byName map[string]*Route
}

// NewTable compiles specs. Route names are unique and no two routes may
// claim the same method on the same prefix.
func NewTable(specs []Spec, h *authz.Hierarchy) (*Table, error) {
	t := &Table{byName: make(map[string]*Route, len(specs))}
	claimed := make(map[string]map[string]string)

	for _, s := range specs {
		r, err := Compile(s, h)
		if err != nil {
			return nil, err
		}
		if _, exists := t.byName[r.Name]; exists {
			return nil, fmt.Errorf("duplicate route name: %s", r.Name)
		}
		if err := claim(claimed, r); err != nil {
			return nil, err
		}

		t.byName[r.Name] = r
		t.routes = append(t.routes, r)
	}

	sort.SliceStable(t.routes, func(i, j int) bool {
		return len(t.routes[i].Prefix) > len(t.routes[j].Prefix)
	})

	return t, nil
}

// claim records the (prefix, method) pairs of r. A route without methods
// claims the whole prefix.
func claim(claimed map[string]map[string]string, r *Route) error {
	owners := claimed[r.Prefix]
	if owners == nil {
		owners = make(map[string]string)
		claimed[r.Prefix] = owners
	}

	if len(r.Methods) == 0 {
		for _, owner := range owners {
			return fmt.Errorf("route %s conflicts with %s on %s", r.Name, owner, r.Prefix)
		}
		owners["*"] = r.Name
		return nil
	}

	for _, m := range r.Methods {
		if owner, ok := owners["*"]; ok {
			return fmt.Errorf("route %s conflicts with %s on %s", r.Name, owner, r.Prefix)
		}
		if owner, ok := owners[m]; ok {
			return fmt.Errorf("route %s conflicts with %s on %s %s", r.Name, owner, m, r.Prefix)
		}
		owners[m] = r.Name
	}
	return nil
}

// Routes returns the routes, longest prefix first.
func (t *Table) Routes() []*Route {
	return t.routes
}

// Get returns the route named name.
func (t *Table) Get(name string) (*Route, bool) {
	r, ok := t.byName[name]
	return r, ok
}

// Targets returns the distinct downstream targets.
func (t *Table) Targets() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range t.routes {
		if _, ok := seen[r.Target]; ok {
			continue
		}
		seen[r.Target] = struct{}{}
		out = append(out, r.Target)
	}
	sort.Strings(out)
	return out
}

// Mount registers every route on mux. handler builds the handler serving a
// route. Unmatched paths and methods fall through to mux's NotFound and
// MethodNotAllowed handlers.
func (t *Table) Mount(mux chi.Router, handler func(*Route) http.Handler) {
	for _, r := range t.routes {
		h := handler(r)
		for _, p := range r.patterns() {
			if len(r.Methods) == 0 {
				mux.Handle(p, h)
				continue
			}
			for _, m := range r.Methods {
				mux.Method(m, p, h)
			}
		}
	}
}

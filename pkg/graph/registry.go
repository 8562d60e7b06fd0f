package graph

import (
	"fmt"
	"sort"

	"github.com/justinsb/kgraph/pkg/status"
)

// Registry maps names to operations. It is a lookup index only: the Graph
// owns the operations.
type Registry struct {
	ops map[string]*Operation
}

func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*Operation)}
}

// Register adds name -> op, failing if name is taken.
func (r *Registry) Register(name string, op *Operation) error {
	if _, found := r.ops[name]; found {
		return status.Errorf(status.NameCollision, "operation %q already exists", name)
	}
	r.ops[name] = op
	return nil
}

// Resolve looks up an operation by name.
func (r *Registry) Resolve(name string) (*Operation, error) {
	op, found := r.ops[name]
	if !found {
		return nil, status.Errorf(status.NameNotFound, "operation %q not found", name)
	}
	return op, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, found := r.ops[name]
	return found
}

func (r *Registry) Len() int {
	return len(r.ops)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UniqueName returns base if it is unused, otherwise the first unused
// base_1, base_2, ...
func (r *Registry) UniqueName(base string) string {
	if !r.Has(base) {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !r.Has(candidate) {
			return candidate
		}
	}
}

func (r *Registry) clear() {
	r.ops = make(map[string]*Operation)
}

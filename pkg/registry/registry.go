// Package registry implements the immutable, composable procedure table.
//
// A Registry maps (category, path) to a procedure. It is built once at
// process start by registration and composition; every operation returns a
// new Registry and never mutates the receiver, so a finished registry is
// safe for unsynchronized concurrent reads.
//
// Duplicate (category, path) registrations are rejected, during both
// Register and Compose. The registry is assembled from code at startup, so a
// collision is a programming error; failing fast surfaces it the same way a
// duplicate subject registration would.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/morezero/rpc-dispatch/pkg/procedure"
)

const logPrefix = "registry:registry"

type key struct {
	category procedure.Category
	path     string
}

// Registry is an immutable (category, path) → procedure table.
type Registry struct {
	procs map[key]*procedure.Procedure
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{procs: map[key]*procedure.Procedure{}}
}

// Must panics on a registration or composition error. Registries are built
// at process start from code, so failing loudly there is the right call.
func Must(r *Registry, err error) *Registry {
	if err != nil {
		panic(fmt.Sprintf("%s - %v", logPrefix, err))
	}
	return r
}

// Register returns a new Registry containing the receiver's entries plus the
// given procedure. The path must be non-empty and the (category, path) pair
// must not already be registered.
func (r *Registry) Register(cat procedure.Category, path string, invoke procedure.InvokeFunc) (*Registry, error) {
	return r.RegisterProcedure(&procedure.Procedure{Category: cat, Path: path, Invoke: invoke})
}

// RegisterProcedure is Register for a fully-populated Procedure (e.g. one
// carrying a Validate func).
func (r *Registry) RegisterProcedure(p *procedure.Procedure) (*Registry, error) {
	if p == nil || p.Invoke == nil {
		return nil, fmt.Errorf("%s - procedure and its Invoke func are required", logPrefix)
	}
	if !p.Category.Valid() {
		return nil, fmt.Errorf("%s - unknown category %q", logPrefix, p.Category)
	}
	if p.Path == "" {
		return nil, fmt.Errorf("%s - path must not be empty", logPrefix)
	}

	k := key{category: p.Category, path: p.Path}
	if _, exists := r.procs[k]; exists {
		return nil, fmt.Errorf("%s - duplicate %s procedure on path %q", logPrefix, p.Category, p.Path)
	}

	next := r.clone()
	cp := *p
	next.procs[k] = &cp
	return next, nil
}

// Compose returns a new Registry containing the receiver's entries plus
// every entry of child re-keyed as "prefix/path" within the same category.
// Composition is associative: Compose(p2, Compose(p1, A)) carries the same
// fully-qualified paths as Compose(p2+"/"+p1, A).
func (r *Registry) Compose(prefix string, child *Registry) (*Registry, error) {
	if prefix == "" {
		return nil, fmt.Errorf("%s - compose prefix must not be empty", logPrefix)
	}
	if child == nil {
		return nil, fmt.Errorf("%s - child registry is required", logPrefix)
	}

	next := r.clone()
	for k, p := range child.procs {
		nk := key{category: k.category, path: prefix + "/" + k.path}
		if _, exists := next.procs[nk]; exists {
			return nil, fmt.Errorf("%s - compose collision: %s procedure on path %q", logPrefix, nk.category, nk.path)
		}
		cp := *p
		cp.Path = nk.path
		next.procs[nk] = &cp
	}
	return next, nil
}

// Resolve returns the procedure registered under (cat, path). Lookup is an
// exact string match; a miss yields a structured 404 error, never a panic.
func (r *Registry) Resolve(cat procedure.Category, path string) (*procedure.Procedure, error) {
	p, ok := r.procs[key{category: cat, path: path}]
	if !ok {
		return nil, procedure.NewNotFound(path)
	}
	return p, nil
}

// Has reports whether (cat, path) is registered.
func (r *Registry) Has(cat procedure.Category, path string) bool {
	_, ok := r.procs[key{category: cat, path: path}]
	return ok
}

// Len returns the number of registered procedures.
func (r *Registry) Len() int {
	return len(r.procs)
}

// Paths returns the sorted fully-qualified paths registered under cat.
func (r *Registry) Paths(cat procedure.Category) []string {
	var paths []string
	for k := range r.procs {
		if k.category == cat {
			paths = append(paths, k.path)
		}
	}
	sort.Strings(paths)
	return paths
}

// String summarizes the registry contents, one "category path" per line.
func (r *Registry) String() string {
	var b strings.Builder
	for _, cat := range []procedure.Category{procedure.CategoryQuery, procedure.CategoryMutation, procedure.CategorySubscription} {
		for _, p := range r.Paths(cat) {
			fmt.Fprintf(&b, "%s %s\n", cat, p)
		}
	}
	return b.String()
}

func (r *Registry) clone() *Registry {
	next := &Registry{procs: make(map[key]*procedure.Procedure, len(r.procs))}
	for k, p := range r.procs {
		next.procs[k] = p
	}
	return next
}

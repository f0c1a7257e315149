// Package module is the module subsystem: the module table, import
// resolution, and the core module prelude. Grounded in
// sentra/internal/module.ModuleLoader's cache-by-name and per-name
// builtin-module registration pattern, generalized from sentra's flat
// name->nativeFunction exports map to the spec's Module heap object
// (ordered variable table + Value bindings) and widened from sentra's
// fixed builtin-module list to a generic "core classes live in the
// prelude module" scheme.
package module

import (
	"cardinal/internal/heap"
	"cardinal/internal/value"
)

// Loader is the embedder callback: given a module name, return its source
// text. ok is false when the module cannot be found, which becomes a
// runtime "could not find module" error at the import site.
type Loader func(name string) (source string, ok bool)

// Registry owns the module table: name -> compiled Module object. It does
// not compile anything itself (that needs the compiler, which in turn
// needs the VM's configured limits) — Get returns a cached module; on a
// miss the caller (internal/vm) fetches the raw source text with
// FetchSource, registers an empty module with NewModule, and compiles the
// source into it.
type Registry struct {
	heap        *heap.Heap
	moduleClass heap.Handle
	loader      Loader
	byName      map[string]heap.Handle
	order       []string
}

func NewRegistry(h *heap.Heap, moduleClass heap.Handle, loader Loader) *Registry {
	return &Registry{heap: h, moduleClass: moduleClass, loader: loader, byName: make(map[string]heap.Handle)}
}

func (r *Registry) Get(name string) (heap.Handle, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// FetchSource asks the loader for name's source text. It does not touch
// the cache; callers check Get first.
func (r *Registry) FetchSource(name string) (string, bool) {
	if r.loader == nil {
		return "", false
	}
	return r.loader(name)
}

// NewModule allocates an (as yet unpopulated) Module object and registers
// it in the table under name, for the caller to then compile a body into.
func (r *Registry) NewModule(name string) (heap.Handle, *value.Module) {
	h, m := value.NewModule(r.heap, r.moduleClass, name)
	r.byName[name] = h
	r.order = append(r.order, name)
	return h, m
}

func (r *Registry) Remove(name string) {
	delete(r.byName, name)
}

func (r *Registry) Names() []string { return r.order }

// MarkRoots is registered with the heap as a root provider: every loaded
// module is a GC root as long as the registry itself is reachable (it is,
// via the owning VM).
func (r *Registry) MarkRoots(visit func(heap.Handle)) {
	for _, h := range r.byName {
		visit(h)
	}
}

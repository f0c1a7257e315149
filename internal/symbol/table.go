// Package symbol implements the interned tables the VM dispatches through:
// a single global method-name table (every class's method table is indexed
// by the symbols it hands out) and a per-module top-level-variable table.
// Grounded on sentra's globalMap ("name to index mapping") pattern in
// internal/vm/vm.go, generalized from a single flat map to the two
// separate symbol spaces the spec requires.
package symbol

// Table interns strings to small dense integers and back. Lookups by name
// are O(1) via the map; lookups by index are O(1) via the slice. Table has
// no removal operation, so a symbol is never reused: classes compiled
// against an index always dispatch to the same name.
type Table struct {
	names   []string
	indices map[string]int
}

func New() *Table {
	return &Table{indices: make(map[string]int)}
}

// Ensure returns the existing symbol for name, interning a new one if
// necessary.
func (t *Table) Ensure(name string) int {
	if i, ok := t.indices[name]; ok {
		return i
	}
	i := len(t.names)
	t.names = append(t.names, name)
	t.indices[name] = i
	return i
}

// Find returns the symbol for name without interning it; ok is false if
// name has never been seen.
func (t *Table) Find(name string) (int, bool) {
	i, ok := t.indices[name]
	return i, ok
}

func (t *Table) Name(symbol int) string {
	if symbol < 0 || symbol >= len(t.names) {
		return ""
	}
	return t.names[symbol]
}

func (t *Table) Len() int { return len(t.names) }

package value

import "cardinal/internal/heap"

// Module is a name, an ordered symbol table of top-level variable names, a
// parallel Value array of their bindings, an optional top-level function
// that initializes it, and a pointer to its source text (kept for
// disassembly/error context, not re-executed).
type Module struct {
	Name      string
	VarNames  []string
	VarNameIx map[string]int
	Vars      []Value
	TopLevel  heap.Handle // closure that runs the module body, or Nil once run
	Source    string
	class     heap.Handle
}

func NewModule(h *heap.Heap, class heap.Handle, name string) (heap.Handle, *Module) {
	m := &Module{Name: name, VarNameIx: make(map[string]int), class: class}
	return h.Allocate(m), m
}

// Declare interns name as a module variable, returning its slot index. If
// name already exists its existing slot is returned.
func (m *Module) Declare(name string, initial Value) int {
	if i, ok := m.VarNameIx[name]; ok {
		return i
	}
	i := len(m.VarNames)
	m.VarNames = append(m.VarNames, name)
	m.VarNameIx[name] = i
	m.Vars = append(m.Vars, initial)
	return i
}

func (m *Module) Find(name string) (int, bool) {
	i, ok := m.VarNameIx[name]
	return i, ok
}

func (m *Module) Remove(name string) bool {
	i, ok := m.VarNameIx[name]
	if !ok {
		return false
	}
	delete(m.VarNameIx, name)
	m.VarNames[i] = ""
	m.Vars[i] = Undefined
	return true
}

func (m *Module) ClassOf() heap.Handle { return m.class }

func (m *Module) MarkChildren(visit func(heap.Handle)) {
	visit(m.class)
	visit(m.TopLevel)
	for _, v := range m.Vars {
		if v.IsObj() {
			visit(v.AsHandle())
		}
	}
}

func (m *Module) ByteSize() int { return 48 + len(m.Vars)*24 }

package value

import (
	"cardinal/internal/bytecode"
	"cardinal/internal/heap"
)

// Fn is an immutable compiled unit: the constant pool and bytecode the
// compiler produced, plus the debug metadata (source path, per-instruction
// lines carried on the Chunk, and local variable names) a stack trace or
// disassembler needs.
type Fn struct {
	Chunk        *bytecode.Chunk
	Arity        int
	UpvalueCount int
	Module       heap.Handle
	Name         string
	SourcePath   string
	LocalNames   []string
	// DefiningClass is the class this Fn was installed into as a method,
	// stamped at METHOD_INSTANCE/METHOD_STATIC execution time (heap.Nil for
	// plain functions and block arguments). internal/vm reads it to resolve
	// `super` against the lexical class that declared the currently running
	// method, rather than the receiving Instance's own (possibly more
	// derived) class.
	DefiningClass heap.Handle
	class         heap.Handle
}

func NewFn(h *heap.Heap, class heap.Handle, chunk *bytecode.Chunk, module heap.Handle, name string, arity, upvalues int) (heap.Handle, *Fn) {
	fn := &Fn{
		Chunk: chunk, Arity: arity, UpvalueCount: upvalues,
		Module: module, Name: name, class: class,
	}
	return h.Allocate(fn), fn
}

func (f *Fn) ClassOf() heap.Handle { return f.class }

func (f *Fn) MarkChildren(visit func(heap.Handle)) {
	visit(f.class)
	visit(f.Module)
	visit(f.DefiningClass)
	for _, c := range f.Chunk.Constants {
		switch v := c.(type) {
		case Value:
			if v.IsObj() {
				visit(v.AsHandle())
			}
		case heap.Handle:
			// a Fn or Class constant embedded directly (CLOSURE's inner Fn,
			// a list/map literal's allocator class) rather than wrapped as
			// a Value, since it's never pushed by CONSTANT — only read
			// in-place by CLOSURE/the literal-lowering call sequence.
			visit(v)
		}
	}
}

func (f *Fn) ByteSize() int {
	return 64 + len(f.Chunk.Code) + len(f.Chunk.Constants)*16 + len(f.LocalNames)*16
}

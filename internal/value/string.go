package value

import (
	"unicode/utf8"

	"cardinal/internal/heap"
)

// String is an immutable byte sequence with a precomputed hash.
// Concatenation always produces a new String; interior bytes may be any
// UTF-8 sequence (iteration yields code points, ByteView exposes the raw
// bytes).
type String struct {
	s     string
	hash  uint32
	class heap.Handle
}

// fnv1a32 matches the hash every String constructor below uses, kept as a
// free function so Map/Table key-hashing (package value) can hash a
// *String the same way without re-deriving it from scratch.
func fnv1a32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func NewString(h *heap.Heap, class heap.Handle, s string) (heap.Handle, *String) {
	obj := &String{s: s, hash: fnv1a32(s), class: class}
	return h.Allocate(obj), obj
}

func (s *String) Raw() string          { return s.s }
func (s *String) Hash() uint32         { return s.hash }
func (s *String) Len() int             { return utf8.RuneCountInString(s.s) }
func (s *String) ByteLen() int         { return len(s.s) }
func (s *String) ByteView() []byte     { return []byte(s.s) }
func (s *String) CodePoints() []rune   { return []rune(s.s) }
func (s *String) ClassOf() heap.Handle { return s.class }

func (s *String) MarkChildren(visit func(heap.Handle)) { visit(s.class) }
func (s *String) ByteSize() int                        { return 32 + len(s.s) }

func Concat(h *heap.Heap, class heap.Handle, a, b *String) (heap.Handle, *String) {
	return NewString(h, class, a.s+b.s)
}

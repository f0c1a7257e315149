package heap

// Object is the generic shape the collector needs from anything it
// allocates. Concrete object variants (String, List, Map, Class, Fiber,
// ...) live in package value; heap stays ignorant of what they are beyond
// "something with children and an approximate size", which is what lets
// value import heap without heap importing value back.
type Object interface {
	// MarkChildren reports every handle this object directly references
	// by calling visit once per handle. The collector calls this during
	// the mark phase; visit marks the handle and, the first time it is
	// marked, recurses into it.
	MarkChildren(visit func(Handle))

	// ByteSize approximates this object's heap footprint, accumulated into
	// the collector's bytesInUse counter so freed objects need not be asked
	// their size again at sweep time.
	ByteSize() int
}

// Destroyer is implemented by objects that own a non-GC resource (a
// foreign instance with a host destructor). Destroy is called exactly
// once, during the sweep that reclaims an unreachable object.
type Destroyer interface {
	Destroy()
}

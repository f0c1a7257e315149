package module

import (
	"regexp"

	"cardinal/internal/heap"
	"cardinal/internal/symbol"
	"cardinal/internal/value"
)

// registerRegex wraps the standard library's regexp.Regexp as a foreign
// class, per SPEC_FULL.md §9's supplement. Grounded in
// sentra/internal/vmregister/stdlib.go's regex_match/regex_find/
// regex_find_all/regex_replace/regex_split native functions — generalized
// from five free functions that each recompile the pattern on every call
// into a single class whose `compile(_)` constructor compiles once and
// whose instance methods reuse the *regexp.Regexp, the way the teacher's
// own Regexp-backed stdlib should have worked.
func registerRegex(h *heap.Heap, syms *symbol.Table, c *Core) {
	regexClass := classOf(h, c.RegexClass)
	regexClass.IsForeign = true

	setStaticMethod(h, c.RegexClass, syms, "compile(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		pattern := mustString(h, args[1]).Raw()
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fileError(h, c, err.Error())
		}
		instHandle, inst := value.NewInstance(h, c.RegexClass, 0)
		inst.Foreign = re
		return value.Obj(instHandle), value.PrimValue
	})

	setMethod(h, c.RegexClass, syms, "match(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		re := mustRegex(h, args[0])
		text := mustString(h, args[1]).Raw()
		return value.Bool(re.MatchString(text)), value.PrimValue
	})

	setMethod(h, c.RegexClass, syms, "find(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		re := mustRegex(h, args[0])
		text := mustString(h, args[1]).Raw()
		match := re.FindString(text)
		if match == "" && !re.MatchString(text) {
			return value.Null, value.PrimValue
		}
		hnd, _ := value.NewString(h, c.StringClass, match)
		return value.Obj(hnd), value.PrimValue
	})

	setMethod(h, c.RegexClass, syms, "findAll(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		re := mustRegex(h, args[0])
		text := mustString(h, args[1]).Raw()
		matches := re.FindAllString(text, -1)
		lhnd, l := value.NewList(h, c.ListClass)
		for _, m := range matches {
			shnd, _ := value.NewString(h, c.StringClass, m)
			l.Append(value.Obj(shnd))
		}
		return value.Obj(lhnd), value.PrimValue
	})

	setMethod(h, c.RegexClass, syms, "replace(_,_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		re := mustRegex(h, args[0])
		text := mustString(h, args[1]).Raw()
		replacement := mustString(h, args[2]).Raw()
		result := re.ReplaceAllString(text, replacement)
		hnd, _ := value.NewString(h, c.StringClass, result)
		return value.Obj(hnd), value.PrimValue
	})

	setMethod(h, c.RegexClass, syms, "split(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		re := mustRegex(h, args[0])
		text := mustString(h, args[1]).Raw()
		parts := re.Split(text, -1)
		lhnd, l := value.NewList(h, c.ListClass)
		for _, p := range parts {
			shnd, _ := value.NewString(h, c.StringClass, p)
			l.Append(value.Obj(shnd))
		}
		return value.Obj(lhnd), value.PrimValue
	})

	setMethod(h, c.RegexClass, syms, "toString", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		re := mustRegex(h, args[0])
		hnd, _ := value.NewString(h, c.StringClass, "/"+re.String()+"/")
		return value.Obj(hnd), value.PrimValue
	})
}

func mustRegex(h *heap.Heap, v value.Value) *regexp.Regexp {
	inst := h.MustGet(v.AsHandle()).(*value.Instance)
	return inst.Foreign.(*regexp.Regexp)
}

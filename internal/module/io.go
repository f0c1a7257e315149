package module

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"cardinal/internal/heap"
	"cardinal/internal/symbol"
	"cardinal/internal/value"
)

// registerFile, registerStdout, and registerStdin give scripts ordinary
// file I/O (SPEC_FULL.md §9's supplement) as three small foreign classes
// instead of one do-everything module. Grounded in
// sentra/internal/filesystem.FileSystemModule's os.File-based
// open/read/hash/close handling, generalized from that package's security-
// scanning domain (baselines, malware signatures) down to plain file
// access — the domain the teacher built never had a scripting surface to
// expose, so only its os.File plumbing survives, not its checks.
//
// File wraps an *os.File as an Instance.Foreign pointer rather than a
// MethodForeign class (cardinal.DefineForeignMethod's embedder path);
// these are core classes seeded at VM construction, not something an
// embedder registers at runtime, so they're wired the same plain
// MethodPrimitive way every other core class method is.

var stdinReader *bufio.Reader

func registerFile(h *heap.Heap, syms *symbol.Table, c *Core) {
	fileClass := classOf(h, c.FileClass)
	fileClass.Destructor = value.DestructorFunc(fileClassDestructor)
	fileClass.IsForeign = true

	setStaticMethod(h, c.FileClass, syms, "open(_,_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		path := mustString(h, args[1]).Raw()
		mode := mustString(h, args[2]).Raw()

		var flag int
		switch mode {
		case "r":
			flag = os.O_RDONLY
		case "w":
			flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		case "a":
			flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		default:
			return fileError(h, c, fmt.Sprintf("unknown file mode %q (want r, w, or a)", mode))
		}

		f, err := os.OpenFile(path, flag, 0644)
		if err != nil {
			return fileError(h, c, err.Error())
		}
		instHandle, inst := value.NewInstance(h, c.FileClass, 0)
		inst.Foreign = f
		return value.Obj(instHandle), value.PrimValue
	})

	setMethod(h, c.FileClass, syms, "read", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		f, ok := mustFile(h, args[0])
		if !ok {
			return fileError(h, c, "file is closed")
		}
		data, err := readRemaining(f)
		if err != nil {
			return fileError(h, c, err.Error())
		}
		hnd, _ := value.NewString(h, c.StringClass, string(data))
		return value.Obj(hnd), value.PrimValue
	})

	setMethod(h, c.FileClass, syms, "write(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		f, ok := mustFile(h, args[0])
		if !ok {
			return fileError(h, c, "file is closed")
		}
		n, err := f.WriteString(mustString(h, args[1]).Raw())
		if err != nil {
			return fileError(h, c, err.Error())
		}
		return value.Number(float64(n)), value.PrimValue
	})

	setMethod(h, c.FileClass, syms, "close", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		inst := h.MustGet(args[0].AsHandle()).(*value.Instance)
		if f, ok := inst.Foreign.(*os.File); ok && f != nil {
			f.Close()
			inst.Foreign = nil
		}
		return value.Null, value.PrimValue
	})

	setMethod(h, c.FileClass, syms, "toString", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		name := "<closed file>"
		if f, ok := mustFile(h, args[0]); ok {
			name = fmt.Sprintf("<file %s>", f.Name())
		}
		hnd, _ := value.NewString(h, c.StringClass, name)
		return value.Obj(hnd), value.PrimValue
	})
}

// fileClassDestructor closes the underlying *os.File when a File instance
// is swept without having been explicitly closed, the same
// Instance.Destroy -> Class.Destructor path cardinal.DefineDestructor
// gives embedder-registered foreign classes.
func fileClassDestructor(ptr interface{}) {
	if f, ok := ptr.(*os.File); ok && f != nil {
		f.Close()
	}
}

func mustFile(h *heap.Heap, v value.Value) (*os.File, bool) {
	inst, ok := h.MustGet(v.AsHandle()).(*value.Instance)
	if !ok {
		return nil, false
	}
	f, ok := inst.Foreign.(*os.File)
	return f, ok && f != nil
}

func fileError(h *heap.Heap, c *Core, msg string) (value.Value, value.PrimitiveResult) {
	hnd, _ := value.NewString(h, c.StringClass, msg)
	return value.Obj(hnd), value.PrimError
}

func registerStdout(h *heap.Heap, syms *symbol.Table, c *Core) {
	setStaticMethod(h, c.StdoutClass, syms, "write(_)", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		s := mustString(h, args[1]).Raw()
		n, err := os.Stdout.WriteString(s)
		if err != nil {
			return fileError(h, c, err.Error())
		}
		return value.Number(float64(n)), value.PrimValue
	})
}

func registerStdin(h *heap.Heap, syms *symbol.Table, c *Core) {
	setStaticMethod(h, c.StdinClass, syms, "readLine", func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
		if stdinReader == nil {
			stdinReader = bufio.NewReader(os.Stdin)
		}
		line, err := stdinReader.ReadString('\n')
		if err != nil && line == "" {
			return value.Null, value.PrimValue
		}
		line = trimNewline(line)
		hnd, _ := value.NewString(h, c.StringClass, line)
		return value.Obj(hnd), value.PrimValue
	})
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// readRemaining reads f to the end from its current offset.
func readRemaining(f *os.File) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				return buf, nil
			}
			return buf, err
		}
		if n == 0 {
			return buf, nil
		}
	}
}

// cmd/cardinal/main.go
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"cardinal/internal/bytecode"
	"cardinal/internal/debugger"
	"cardinal/internal/value"
	"cardinal/internal/vm"
)

const version = "0.1.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	switch args[0] {
	case "run":
		cmdRun(args[1:])
	case "repl":
		cmdRepl(args[1:])
	case "compile":
		cmdCompile(args[1:])
	case "disasm":
		cmdDisasm(args[1:])
	case "--version", "-v", "version":
		fmt.Println("cardinal", version)
	case "--help", "-h", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "cardinal: unknown command %q\n", args[0])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`cardinal - the cardinal language interpreter

Usage:
  cardinal run [--debug] <file>    run a script, optionally under the interactive debugger
  cardinal repl                    start an interactive session
  cardinal compile <file> -o <out> write compiled bytecode (stub, see DESIGN.md)
  cardinal disasm <file>           print a script's disassembled bytecode
  cardinal version                 print the version
  cardinal help                    print this message`)
}

// newVM builds a VM whose Print callback writes script output to stdout
// and diagnostics to stderr, and whose LoadModule resolves `import`
// statements against files alongside the entry script.
func newVM(rootDir string) *vm.VM {
	return vm.New(vm.Config{
		Print: func(kind vm.PrintKind, msg string) {
			if kind == vm.PrintError {
				fmt.Fprintln(os.Stderr, msg)
				return
			}
			fmt.Println(msg)
		},
		LoadModule: func(name string) (string, bool) {
			path := filepath.Join(rootDir, name+".crd")
			data, err := os.ReadFile(path)
			if err != nil {
				return "", false
			}
			return string(data), true
		},
		RootDirectory: rootDir,
	})
}

func readSource(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cardinal: %v\n", err)
		os.Exit(1)
	}
	return string(data)
}

func cmdRun(args []string) {
	var debug bool
	var path string
	for _, a := range args {
		if a == "--debug" {
			debug = true
			continue
		}
		if path == "" {
			path = a
		}
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: cardinal run [--debug] <file>")
		os.Exit(1)
	}
	source := readSource(path)
	v := newVM(filepath.Dir(path))
	moduleName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if debug {
		d := debugger.NewDebugger(v)
		d.LoadSourceFile(path, source)
		v.SetDebugHook(debugger.NewVMDebugHook(d))
		d.RunDebugger()
	}

	result := v.Interpret(moduleName, source)
	if result != vm.ResultSuccess {
		os.Exit(exitCodeFor(result))
	}
}

func exitCodeFor(result vm.InterpretResult) int {
	switch result {
	case vm.ResultCompileError:
		return 65
	case vm.ResultRuntimeError:
		return 70
	default:
		return 0
	}
}

// cmdRepl runs one persistent session module across every line the user
// types, so a variable declared on one line is still visible (through
// the ordinary module-variable resolution tier, not any REPL-specific
// magic) on the next — the same module.Declare idempotence the compiler
// relies on for forward-referenced module globals. The module gets a
// fresh uuid-derived name per session so two overlapping `cardinal repl`
// processes sharing a registry (as in a test harness embedding both)
// never collide.
func cmdRepl(args []string) {
	moduleName := "repl-" + uuid.NewString()
	v := newVM(".")
	interactive := isatty.IsTerminal(os.Stdin.Fd())

	if interactive {
		fmt.Printf("cardinal %s | session %s | Ctrl-D to exit\n", version, moduleName)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		v.Interpret(moduleName, line)
	}
	if interactive {
		fmt.Println()
	}
}

// cmdCompile parses a simple `-o <path>` flag and writes the persistence
// stub's magic header + version, per SPEC_FULL.md §9: a concrete bytecode
// file layout is an open question deferred by spec.md, so this writes
// only the two fields the format is committed to so far.
func cmdCompile(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: cardinal compile <file> -o <out.crdc>")
		os.Exit(1)
	}
	path := args[0]
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".crdc"
	for i := 1; i < len(args); i++ {
		if args[i] == "-o" && i+1 < len(args) {
			out = args[i+1]
			i++
		}
	}

	source := readSource(path)
	v := newVM(filepath.Dir(path))
	moduleName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if _, err := v.Compile(moduleName, source); err != nil {
		fmt.Fprintf(os.Stderr, "cardinal: %v\n", err)
		os.Exit(65)
	}

	f, err := os.Create(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cardinal: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := bytecode.WriteStub(f); err != nil {
		fmt.Fprintf(os.Stderr, "cardinal: %v\n", err)
		os.Exit(1)
	}
	info, err := f.Stat()
	size := uint64(len(bytecode.Magic) + 2)
	if err == nil {
		size = uint64(info.Size())
	}
	fmt.Printf("wrote %s (%s, persistence format not yet implemented)\n", out, humanize.Bytes(size))
}

func cmdDisasm(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: cardinal disasm <file>")
		os.Exit(1)
	}
	path := args[0]
	source := readSource(path)
	v := newVM(filepath.Dir(path))
	moduleName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	fnHandle, err := v.Compile(moduleName, source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cardinal: %v\n", err)
		os.Exit(65)
	}

	fn, ok := v.Heap().MustGet(fnHandle).(*value.Fn)
	if !ok {
		fmt.Fprintln(os.Stderr, "cardinal: compiled result is not a function")
		os.Exit(1)
	}
	fmt.Print(bytecode.Disassemble(fn.Chunk, moduleName))
	fmt.Printf("(%s in use)\n", humanize.Bytes(uint64(v.BytesInUse())))
}

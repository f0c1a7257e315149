// Package vm is the bytecode interpreter: opcode dispatch, call frames,
// closure/upvalue capture, superclass field-offset adjustment, and fiber
// scheduling (spec.md §4.4/§4.5). Grounded in sentra/internal/vm/vm.go's
// EnhancedVM/DebugHook shape — regrown from its flat global-array dispatch
// onto the spec's per-class dense method table and per-fiber stack, and
// from its tree-walking call convention onto a single bytecode dispatch
// loop fed by internal/compiler's single-pass output.
package vm

import (
	"fmt"
	"time"

	"cardinal/internal/cerr"
	"cardinal/internal/compiler"
	"cardinal/internal/concurrency"
	"cardinal/internal/heap"
	"cardinal/internal/module"
	"cardinal/internal/symbol"
	"cardinal/internal/value"
)

// PrintKind distinguishes ordinary script output from diagnostic banners,
// so an embedder can route them to different streams.
type PrintKind int

const (
	PrintStdout PrintKind = iota
	PrintError
	PrintWarning
)

// InterpretResult is the exit code Interpret/Run report, mirroring
// spec.md §6's three outcomes.
type InterpretResult int

const (
	ResultSuccess InterpretResult = iota
	ResultCompileError
	ResultRuntimeError
)

// DebugHook is the synchronous per-instruction callback spec.md §4.4/§6
// names, grounded in sentra/internal/debugger's VMDebugHook shape
// (OnInstruction/OnCall/OnReturn/OnError) but typed against this package's
// own VM and *cerr.Error instead of the teacher's EnhancedVM/plain error.
// Returning false from OnInstruction pauses/aborts the run. Exported (and
// DebugLocation along with it) so a hook implementation can live in its
// own package, the way internal/debugger's does.
type DebugHook interface {
	OnInstruction(vm *VM, fiber int, ip int, debug DebugLocation) bool
	OnCall(vm *VM, function string, debug DebugLocation)
	OnReturn(vm *VM, debug DebugLocation)
	OnError(vm *VM, err *cerr.Error, debug DebugLocation)
}

// DebugLocation is the subset of bytecode.DebugInfo a hook needs; kept as
// its own type so internal/vm doesn't force every embedder-side debugger
// to import internal/bytecode just to implement DebugHook.
type DebugLocation struct {
	File     string
	Line     int
	Function string
}

// Breakpointer is an optional DebugHook extension (SPEC_FULL.md §9's
// supplement, adapted from sentra/internal/debugger's breakpoint table)
// for a line-granularity breakpoint set without a wire debugger protocol.
type Breakpointer interface {
	SetBreakpoint(file string, line int)
	ClearBreakpoint(file string, line int)
}

// Config mirrors spec.md §6's external interface, translated to an
// idiomatic Go options struct (the teacher's cmd/sentra flag/env
// conventions configure a CLI around this, not the library itself).
type Config struct {
	Print             func(kind PrintKind, msg string)
	LoadModule        func(name string) (string, bool)
	Debug             DebugHook
	InitialHeapSize   int
	MinHeapSize       int
	HeapGrowthPercent int
	RootDirectory     string
	StackMax          int
	CallDepth         int
}

const (
	defaultInitialHeapSize   = 10 * 1024 * 1024
	defaultMinHeapSize       = 1 * 1024 * 1024
	defaultHeapGrowthPercent = 50
	defaultStackMax          = 1 * 1024 * 1024
	defaultCallDepth         = 255
)

func (cfg *Config) applyDefaults() {
	if cfg.InitialHeapSize <= 0 {
		cfg.InitialHeapSize = defaultInitialHeapSize
	}
	if cfg.MinHeapSize <= 0 {
		cfg.MinHeapSize = defaultMinHeapSize
	}
	if cfg.HeapGrowthPercent <= 0 {
		cfg.HeapGrowthPercent = defaultHeapGrowthPercent
	}
	if cfg.StackMax <= 0 {
		cfg.StackMax = defaultStackMax
	}
	if cfg.CallDepth <= 0 {
		cfg.CallDepth = defaultCallDepth
	}
	if cfg.Print == nil {
		cfg.Print = func(PrintKind, string) {}
	}
}

// VM is one interpreter instance: its own heap, symbol table, core
// classes, module registry, and the single currently-running fiber —
// spec.md §5's single-executor-thread invariant means none of this is
// synchronized.
type VM struct {
	cfg      Config
	heap     *heap.Heap
	syms     *symbol.Table
	core     *module.Core
	registry *module.Registry
	builtins compiler.Builtins

	cur      heap.Handle
	curFiber *value.Fiber

	scheduled *concurrency.TaskQueue
	pending   []scheduledResume

	symNew      int
	symCall0    int
	symToString int
}

type scheduledResume struct {
	fiber   heap.Handle
	dueAt   time.Time
	resumed bool
}

// New bootstraps a fresh VM: heap, symbol table, core class hierarchy,
// module registry, and the built-in Fiber/System primitives that need a
// live VM (StackMax/CallDepth, the embedder's Print callback) rather than
// the context-free prelude in internal/module.
func New(cfg Config) *VM {
	cfg.applyDefaults()
	h := heap.New(cfg.InitialHeapSize, cfg.MinHeapSize, cfg.HeapGrowthPercent)
	syms := symbol.New()
	core := module.RegisterCore(h, syms)

	vm := &VM{
		cfg:  cfg,
		heap: h,
		syms: syms,
		core: core,
		builtins: compiler.Builtins{
			FnClass:      core.FnClass,
			ClosureClass: core.ClosureClass,
			StringClass:  core.StringClass,
			ListClass:    core.ListClass,
			MapClass:     core.MapClass,
		},
		scheduled: &concurrency.TaskQueue{ID: "vm-schedule", Tasks: make(chan concurrency.Task, 256)},
	}
	vm.registry = module.NewRegistry(h, core.ModuleClass, module.Loader(cfg.LoadModule))

	vm.symNew = syms.Ensure("new(_)")
	vm.symCall0 = syms.Ensure("call")
	vm.symToString = syms.Ensure("toString")

	vm.installSystem()
	vm.installFiber()
	vm.installFn()

	h.AddRoot(vm.markRoots)
	h.AddRoot(vm.registry.MarkRoots)

	return vm
}

// markRoots marks the current fiber and every permanent core class handle
// — a class with no live instances yet is still reachable from script
// code (`Fiber.new`, `List.new`, ...) and must survive a collection that
// happens to run before its first instance is allocated.
func (vm *VM) markRoots(visit func(heap.Handle)) {
	visit(vm.cur)
	visit(vm.core.ClassClass)
	visit(vm.core.ObjectClass)
	visit(vm.core.NullClass)
	visit(vm.core.BoolClass)
	visit(vm.core.NumClass)
	visit(vm.core.StringClass)
	visit(vm.core.ListClass)
	visit(vm.core.MapClass)
	visit(vm.core.TableClass)
	visit(vm.core.RangeClass)
	visit(vm.core.FiberClass)
	visit(vm.core.FnClass)
	visit(vm.core.ClosureClass)
	visit(vm.core.ModuleClass)
	visit(vm.core.MethodClass)
	visit(vm.core.SystemClass)
	visit(vm.core.FileClass)
	visit(vm.core.StdoutClass)
	visit(vm.core.StdinClass)
	visit(vm.core.RegexClass)
}

// installSystem wires System.print(_) against the embedder's Print
// callback; internal/module's registerSystem is intentionally a no-op
// stub for exactly this reason (it has no Config to close over).
func (vm *VM) installSystem() {
	cls := vm.heap.MustGet(vm.core.SystemClass).(*value.Class)
	sym := vm.syms.Ensure("print(_)")
	cls.SetStaticMethod(sym, value.MethodSlot{
		Kind: value.MethodPrimitive,
		Name: "print(_)",
		Primitive: func(h *heap.Heap, args []value.Value) (value.Value, value.PrimitiveResult) {
			vm.cfg.Print(PrintStdout, vm.stringify(args[1]))
			return args[1], value.PrimValue
		},
	})
}

// seedModuleGlobals pre-declares every core class name as a module
// variable bound to its Class value, so `Fiber.new(...)`, `List.new()`,
// `42 is Num`, and similar core-class references resolve through the
// compiler's ordinary module-variable path (internal/compiler/expr.go's
// loadOrAssignName falls through to module variables last) without any
// special-cased identifier list in the compiler itself.
func (vm *VM) seedModuleGlobals(mod *value.Module) {
	for name, handle := range map[string]heap.Handle{
		"Class":   vm.core.ClassClass,
		"Object":  vm.core.ObjectClass,
		"Null":    vm.core.NullClass,
		"Bool":    vm.core.BoolClass,
		"Num":     vm.core.NumClass,
		"String":  vm.core.StringClass,
		"List":    vm.core.ListClass,
		"Map":     vm.core.MapClass,
		"Table":   vm.core.TableClass,
		"Range":   vm.core.RangeClass,
		"Fiber":   vm.core.FiberClass,
		"Fn":      vm.core.FnClass,
		"Closure": vm.core.ClosureClass,
		"Module":  vm.core.ModuleClass,
		"Method":  vm.core.MethodClass,
		"System":  vm.core.SystemClass,
		"File":    vm.core.FileClass,
		"Stdout":  vm.core.StdoutClass,
		"Stdin":   vm.core.StdinClass,
		"Regex":   vm.core.RegexClass,
	} {
		mod.Declare(name, value.Obj(handle))
	}
}

// Compile compiles source as module into a callable Fn handle without
// running it, per spec.md §6.
func (vm *VM) Compile(modName, source string) (heap.Handle, error) {
	var modHandle heap.Handle
	var mod *value.Module
	if h, found := vm.registry.Get(modName); found {
		modHandle = h
		mod = vm.heap.MustGet(h).(*value.Module)
	} else {
		modHandle, mod = vm.registry.NewModule(modName)
		vm.seedModuleGlobals(mod)
	}
	mod.Source = source
	fnHandle, _, errs := compiler.Compile(vm.heap, vm.syms, vm.builtins, modHandle, mod, source, modName)
	if len(errs) > 0 {
		return heap.Nil, fmt.Errorf("%s", joinLines(errs))
	}
	return fnHandle, nil
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// Run executes a previously compiled Fn handle as a fresh root fiber.
func (vm *VM) Run(fn heap.Handle) InterpretResult {
	fnObj, ok := vm.heap.Get(fn)
	if !ok {
		return ResultRuntimeError
	}
	scriptFn, ok := fnObj.(*value.Fn)
	if !ok {
		return ResultRuntimeError
	}
	closureHandle, _ := value.NewClosure(vm.heap, vm.core.ClosureClass, fn, scriptFn.UpvalueCount)

	fiberHandle, fiber := value.NewFiber(vm.heap, vm.core.FiberClass, vm.cfg.StackMax, vm.cfg.CallDepth)
	fiber.PushFrame(value.Frame{Closure: closureHandle, IP: 0, Base: 0})
	fiber.State = value.FiberRunning
	vm.heap.Pin(fiberHandle)
	vm.switchTo(fiberHandle)
	vm.heap.Unpin()

	result, err := vm.run()
	if err != nil {
		rendered := err.Render(false)
		vm.cfg.Print(PrintError, rendered)
		return ResultRuntimeError
	}
	_ = result
	return ResultSuccess
}

// Interpret is Compile+Run in one call, per spec.md §6.
func (vm *VM) Interpret(modName, source string) InterpretResult {
	fn, err := vm.Compile(modName, source)
	if err != nil {
		vm.cfg.Print(PrintError, err.Error())
		return ResultCompileError
	}
	return vm.Run(fn)
}

func (vm *VM) switchTo(h heap.Handle) {
	vm.cur = h
	if h.IsNil() {
		vm.curFiber = nil
		return
	}
	vm.curFiber = vm.heap.MustGet(h).(*value.Fiber)
}

// SetDebugHook attaches or replaces the DebugHook after construction, so an
// embedder (cmd/cardinal's `run --debug`) can wire a hook that itself needs
// the constructed *VM, e.g. internal/debugger's Debugger.
func (vm *VM) SetDebugHook(hook DebugHook) { vm.cfg.Debug = hook }

// Collect/SetCollectorEnabled/GCStats/BytesInUse expose the memory
// manager's controls per spec.md §6 and SPEC_FULL.md §6.
func (vm *VM) Collect()                          { vm.heap.Collect() }
func (vm *VM) SetCollectorEnabled(enabled bool)   { vm.heap.SetCollectorEnabled(enabled) }
func (vm *VM) SetStress(enabled bool)             { vm.heap.SetStress(enabled) }
func (vm *VM) GCStats() heap.GCStats              { return vm.heap.Stats() }
func (vm *VM) BytesInUse() int                    { return vm.heap.BytesInUse() }

// Heap/Symbols/Core are exposed for the root `cardinal` embedder package,
// which needs direct access to allocate and inspect values without
// internal/vm re-exposing every value.* constructor by hand.
func (vm *VM) Heap() *heap.Heap           { return vm.heap }
func (vm *VM) Symbols() *symbol.Table     { return vm.syms }
func (vm *VM) Core() *module.Core         { return vm.core }
func (vm *VM) Registry() *module.Registry { return vm.registry }

// Schedule queues fiberHandle (which must be FiberOther or FiberYielded,
// same as a call/run resume target) to be resumed no sooner than delay
// from now by the embarker's own event loop via PollScheduled — never by
// a second goroutine touching VM state concurrently, per spec.md §5's
// single-executor invariant. This is the opt-in deferred-execution
// feature SPEC_FULL.md §4.5 supplements in from original_source's
// cardinalInterpretInNewFiberScheduledLater, grounded on the teacher's
// concurrency.TaskQueue/Task shape for the intake queue only (no worker
// goroutines are started — PollScheduled drains it synchronously).
func (vm *VM) Schedule(fiberHandle heap.Handle, delay time.Duration) {
	task := concurrency.Task{
		ID:      fiberHandle.String(),
		Created: vm.now(),
		Timeout: delay,
		Function: func() (interface{}, error) {
			return fiberHandle, nil
		},
	}
	select {
	case vm.scheduled.Tasks <- task:
	default:
		// intake full: drop rather than block the single executor thread.
	}
}

// now is a seam so a later persistence/test harness can stub time without
// this package reaching for a wall-clock package-level var; production
// code always uses the real clock.
func (vm *VM) now() time.Time { return time.Now() }

// PollScheduled drains any pending Schedule() entries and resumes every
// fiber whose delay has elapsed, pushing value.Nil as its resume value.
// The embedder calls this from its own event loop; it never runs on a
// timer goroutine internal to the VM.
func (vm *VM) PollScheduled() {
	for {
		select {
		case t := <-vm.scheduled.Tasks:
			fh, _ := t.Function()
			vm.pending = append(vm.pending, scheduledResume{fiber: fh.(heap.Handle), dueAt: t.Created.Add(t.Timeout)})
		default:
			goto drained
		}
	}
drained:
	now := vm.now()
	live := vm.pending[:0]
	for _, p := range vm.pending {
		if p.resumed {
			continue
		}
		if now.Before(p.dueAt) {
			live = append(live, p)
			continue
		}
		vm.resumeScheduledFiber(p.fiber)
	}
	vm.pending = live
}

func (vm *VM) resumeScheduledFiber(fiberHandle heap.Handle) {
	obj, ok := vm.heap.Get(fiberHandle)
	if !ok {
		return
	}
	target, ok := obj.(*value.Fiber)
	if !ok || (target.State != value.FiberOther && target.State != value.FiberYielded) {
		return
	}
	prevCur := vm.cur
	vm.startFiber(target, value.Nil)
	vm.switchTo(fiberHandle)
	vm.run()
	vm.switchTo(prevCur)
}

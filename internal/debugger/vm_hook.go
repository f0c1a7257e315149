// internal/debugger/vm_hook.go
package debugger

import (
	"cardinal/internal/cerr"
	"cardinal/internal/vm"
)

// VMDebugHook implements vm.DebugHook (and vm.Breakpointer) against a real
// *vm.VM, driving a Debugger's breakpoint table and step state from the
// VM's OnInstruction/OnCall/OnReturn/OnError callbacks.
type VMDebugHook struct {
	debugger *Debugger
}

// NewVMDebugHook creates a new VM debug hook
func NewVMDebugHook(debugger *Debugger) *VMDebugHook {
	return &VMDebugHook{debugger: debugger}
}

// OnInstruction is called before each VM instruction
func (h *VMDebugHook) OnInstruction(v *vm.VM, fiber int, ip int, debug vm.DebugLocation) bool {
	if h.debugger.CheckBreakpoint(debug.File, debug.Line) {
		h.debugger.ShowCurrentLocation(debug.File, debug.Line)
		h.debugger.RunDebugger()
		return h.debugger.GetState() == Running
	}

	switch h.debugger.GetState() {
	case StepInto:
		h.debugger.ShowCurrentLocation(debug.File, debug.Line)
		h.debugger.SetState(Paused)
		h.debugger.RunDebugger()
		return h.debugger.GetState() == Running

	case StepOver:
		if h.shouldStepOver() {
			h.debugger.ShowCurrentLocation(debug.File, debug.Line)
			h.debugger.SetState(Paused)
			h.debugger.RunDebugger()
		}
		return h.debugger.GetState() == Running

	case StepOut:
		if h.shouldStepOut() {
			h.debugger.ShowCurrentLocation(debug.File, debug.Line)
			h.debugger.SetState(Paused)
			h.debugger.RunDebugger()
		}
		return h.debugger.GetState() == Running

	case Paused:
		return false

	case Terminated:
		return false

	default:
		return true
	}
}

// OnCall is called when entering a function; pushes a frame onto the
// debugger's self-tracked call stack (there's no vm.GetCallStack — the VM
// doesn't expose its fiber stack, so the hook rebuilds an approximation
// purely from the OnCall/OnReturn events it already receives).
func (h *VMDebugHook) OnCall(v *vm.VM, function string, debug vm.DebugLocation) {
	h.debugger.callStack = append(h.debugger.callStack, StackFrame{
		Function: function,
		File:     debug.File,
		Line:     debug.Line,
	})
}

// OnReturn is called when returning from a function
func (h *VMDebugHook) OnReturn(v *vm.VM, debug vm.DebugLocation) {
	if n := len(h.debugger.callStack); n > 0 {
		h.debugger.callStack = h.debugger.callStack[:n-1]
	}
}

// OnError is called when an error occurs. It surfaces the location but
// doesn't force the user into the debugger — the ordinary error rendering
// path (vm.Config.Print) still owns reporting the failure itself.
func (h *VMDebugHook) OnError(v *vm.VM, err *cerr.Error, debug vm.DebugLocation) {
	if debug.File != "" {
		h.debugger.ShowCurrentLocation(debug.File, debug.Line)
	}
}

// SetBreakpoint and ClearBreakpoint satisfy vm.Breakpointer, letting an
// embedder (or cmd/cardinal) manage breakpoints without reaching into the
// Debugger's command-line surface.
func (h *VMDebugHook) SetBreakpoint(file string, line int) {
	h.debugger.AddBreakpoint(file, line)
}

func (h *VMDebugHook) ClearBreakpoint(file string, line int) {
	h.debugger.RemoveBreakpointAt(file, line)
}

// shouldStepOver breaks once the call stack returns to the depth it was
// at when "next" was issued, so a call made from the stepped-over line
// runs to completion instead of pausing inside it.
func (h *VMDebugHook) shouldStepOver() bool {
	return len(h.debugger.callStack) <= h.debugger.stepDepth
}

// shouldStepOut breaks once the call stack is shallower than it was when
// "finish" was issued, i.e. the current frame has returned.
func (h *VMDebugHook) shouldStepOut() bool {
	return len(h.debugger.callStack) < h.debugger.stepDepth
}

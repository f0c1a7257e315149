// Package cerr is the Go-side diagnostic record the print callback and
// CLI render. It is distinct from the script-visible Exception object
// (internal/vm), which is what `try` and `Fiber.throw` hand back to script
// code. Modeled on sentra/internal/errors.SentraError, generalized from a
// single flat struct to the Kind/Location/Frame split the spec's error
// taxonomy needs, and wrapped with github.com/pkg/errors so Go-side
// causes chain the way the rest of the pack's error handling does.
package cerr

import (
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

type Kind string

const (
	KindLex     Kind = "SyntaxError"
	KindCompile Kind = "CompileError"
	KindRuntime Kind = "RuntimeError"
	KindFatal   Kind = "FatalError" // allocation/GC failure
)

type Location struct {
	File string
	Line int
}

func (l Location) String() string {
	if l.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Frame is one entry of a printed stack trace, top to bottom. Frames whose
// File is empty (built-ins) are omitted when rendering.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error is the diagnostic record surfaced to the embedder's print
// callback. It wraps an optional Go cause via github.com/pkg/errors so
// an embedder-side failure (e.g. the module loader returning an I/O
// error) keeps its chain intact.
type Error struct {
	Kind     Kind
	Message  string
	Location Location
	Frames   []Frame
	cause    error
}

func New(kind Kind, loc Location, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Location: loc, Message: fmt.Sprintf(format, args...)}
}

func Wrap(cause error, kind Kind, loc Location, message string) *Error {
	return &Error{Kind: kind, Location: loc, Message: message, cause: pkgerrors.WithStack(cause)}
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) WithFrames(frames []Frame) *Error {
	e.Frames = frames
	return e
}

// Render produces the multi-line, file:line-prefixed banner the print
// callback forwards to the embedder, omitting built-in frames (empty
// File) the way a Wren-family trace does.
func (e *Error) Render(colored bool) string {
	var sb strings.Builder
	label := "error"
	if e.Kind == KindFatal {
		label = "fatal"
	}
	if colored {
		sb.WriteString("\x1b[31m" + label + ":\x1b[0m ")
	} else {
		sb.WriteString(label + ": ")
	}
	if loc := e.Location.String(); loc != "" {
		sb.WriteString(loc + ": ")
	}
	sb.WriteString(e.Message)
	sb.WriteString("\n")
	for _, f := range e.Frames {
		if f.File == "" {
			continue
		}
		if f.Function != "" {
			fmt.Fprintf(&sb, "  at %s (%s:%d)\n", f.Function, f.File, f.Line)
		} else {
			fmt.Fprintf(&sb, "  at %s:%d\n", f.File, f.Line)
		}
	}
	return sb.String()
}

// Warning renders a non-fatal diagnostic with the "warning:" banner.
func Warning(loc Location, colored bool, format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	label := "warning:"
	if colored {
		label = "\x1b[33mwarning:\x1b[0m"
	}
	if l := loc.String(); l != "" {
		return fmt.Sprintf("%s %s: %s", label, l, msg)
	}
	return fmt.Sprintf("%s %s", label, msg)
}

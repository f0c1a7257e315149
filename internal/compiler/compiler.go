// Package compiler is the single-pass compiler: a Pratt parser that lexes,
// parses, and emits bytecode.Chunk bytes in one traversal with no
// intermediate AST. Grounded in sentra/internal/compiler's visitor shape,
// regrown from a tree-walking AST compiler into the spec's direct
// emit-while-parsing design, since a single pass cannot build and then
// walk a tree.
package compiler

import (
	"fmt"

	"cardinal/internal/bytecode"
	"cardinal/internal/heap"
	"cardinal/internal/lexer"
	"cardinal/internal/symbol"
	"cardinal/internal/value"
)

// Builtins are the handles the compiler needs to allocate constants and
// reference core classes while emitting; the VM owns the actual class
// objects (package module) and passes them in to avoid a compiler->module
// import (module never needs to know about the compiler).
type Builtins struct {
	FnClass      heap.Handle
	ClosureClass heap.Handle
	StringClass  heap.Handle
	ListClass    heap.Handle
	MapClass     heap.Handle
}

type localVar struct {
	name     string
	depth    int
	captured bool
}

type upvalueDesc struct {
	index   int
	isLocal bool
}

// classScope tracks field names (so `_name` references inside a method
// body resolve to a stable index) while compiling one class body. The body
// is compiled in a single pass; fields come from an optional leading
// `fields { ... }` block, so their indices are fixed before any method is
// compiled.
type classScope struct {
	enclosing *classScope
	name      string
	fields    map[string]int
	isForeign bool
}

type loopScope struct {
	enclosing  *loopScope
	breakJumps []int
	loopStart  int
}

// frame is one compiling function's local state: its locals stack, scope
// depth (-1 = module top level), upvalue list, and enclosing frame (for
// upvalue resolution) and class (for field/this/super resolution).
type frame struct {
	enclosing *frame
	chunk     *bytecode.Chunk
	locals    []localVar
	scope     int
	upvalues  []upvalueDesc
	loop      *loopScope
	class     *classScope
	name      string
	arity     int
}

// Compiler holds all state for compiling one module's source in one pass.
type Compiler struct {
	h          *heap.Heap
	syms       *symbol.Table // globally interned method-name symbols
	b          Builtins
	mod        *value.Module
	modHandle  heap.Handle
	path       string
	lx         *lexer.Lexer
	cur        lexer.Token
	prev       lexer.Token
	lineBefore bool
	errs       []string
	fr         *frame
}

// Compile compiles source as module's top-level body, returning a handle
// to the resulting Fn (arity 0, no upvalues) and the Fn itself. On any
// lex/parse/resolve error compilation continues (to surface every error)
// and the returned handle is heap.Nil, matching "a null function on any
// error".
func Compile(h *heap.Heap, syms *symbol.Table, b Builtins, modHandle heap.Handle, mod *value.Module, source, path string) (heap.Handle, *value.Fn, []string) {
	c := &Compiler{h: h, syms: syms, b: b, mod: mod, modHandle: modHandle, path: path, lx: lexer.New(source)}
	c.fr = &frame{chunk: bytecode.NewChunk(), scope: -1, name: "(script)"}

	c.advance()
	for !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.emit(bytecode.OpNull, c.debugHere())
	c.emit(bytecode.OpReturn, c.debugHere())

	for _, e := range c.lx.Errors() {
		c.errs = append(c.errs, fmt.Sprintf("%s:%d: %s", path, e.Line, e.Message))
	}

	if len(c.errs) > 0 {
		return heap.Nil, nil, c.errs
	}
	fnHandle, fn := value.NewFn(h, b.FnClass, c.fr.chunk, modHandle, "(script)", 0, 0)
	fn.SourcePath = path
	return fnHandle, fn, nil
}

// ---- token stream -----------------------------------------------------

func (c *Compiler) advance() {
	c.prev = c.cur
	c.lineBefore = false
	for {
		t := c.lx.Next()
		if t.Type == lexer.TokenLine {
			c.lineBefore = true
			continue
		}
		if t.Type == lexer.TokenError {
			c.errorAt(t, t.Lexeme)
			continue
		}
		c.cur = t
		return
	}
}

func (c *Compiler) check(t lexer.TokenType) bool { return c.cur.Type == t }

func (c *Compiler) match(t lexer.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t lexer.TokenType, msg string) {
	if c.cur.Type == t {
		c.advance()
		return
	}
	c.errorAt(c.cur, msg)
}

func (c *Compiler) errorAt(t lexer.Token, msg string) {
	c.errs = append(c.errs, fmt.Sprintf("%s:%d: %s", c.path, t.Line, msg))
}

func (c *Compiler) error(msg string) { c.errorAt(c.prev, msg) }

func (c *Compiler) debugHere() bytecode.DebugInfo {
	return bytecode.DebugInfo{Line: c.prev.Line, File: c.path, Function: c.fr.name}
}

// statementEnd reports + consumes a statement terminator: a line break,
// `}`, or end of file.
func (c *Compiler) statementEnd() {
	if c.lineBefore || c.check(lexer.TokenRBrace) || c.check(lexer.TokenEOF) {
		return
	}
	c.error("expect end of statement")
}

// ---- emission helpers ---------------------------------------------------

func (c *Compiler) emit(op bytecode.OpCode, debug bytecode.DebugInfo) int {
	return c.fr.chunk.WriteOp(op, debug)
}

func (c *Compiler) emitByte(b byte, debug bytecode.DebugInfo) {
	c.fr.chunk.WriteByte(b, debug)
}

func (c *Compiler) emitWide(op bytecode.OpCode, v, width int) {
	d := c.debugHere()
	c.emit(op, d)
	c.fr.chunk.WriteWide(v, width, d)
}

func (c *Compiler) emitConstant(v interface{}) {
	i := c.fr.chunk.AddConstant(v)
	c.emitWide(bytecode.OpConstant, i, bytecode.ConstantWidth)
}

func (c *Compiler) emitJump(op bytecode.OpCode) int {
	d := c.debugHere()
	c.emit(op, d)
	c.fr.chunk.WriteWide(0xFFFF, 2, d)
	return len(c.fr.chunk.Code) - 2
}

func (c *Compiler) patchJump(at int) {
	offset := len(c.fr.chunk.Code) - at - 2
	c.fr.chunk.Code[at] = byte(offset >> 8)
	c.fr.chunk.Code[at+1] = byte(offset)
}

func (c *Compiler) emitLoop(start int) {
	d := c.debugHere()
	c.emit(bytecode.OpLoop, d)
	offset := len(c.fr.chunk.Code) - start + 2
	c.fr.chunk.WriteWide(offset, 2, d)
}

func (c *Compiler) internString(s string) heap.Handle {
	hnd, _ := value.NewString(c.h, c.b.StringClass, s)
	return hnd
}

// ---- scopes & locals -----------------------------------------------------

func (c *Compiler) beginScope() { c.fr.scope++ }

func (c *Compiler) endScope() {
	c.fr.scope--
	for len(c.fr.locals) > 0 && c.fr.locals[len(c.fr.locals)-1].depth > c.fr.scope {
		loc := c.fr.locals[len(c.fr.locals)-1]
		d := c.debugHere()
		if loc.captured {
			c.emit(bytecode.OpCloseUpvalue, d)
		} else {
			c.emit(bytecode.OpPop, d)
		}
		c.fr.locals = c.fr.locals[:len(c.fr.locals)-1]
	}
}

func (c *Compiler) declareLocal(name string) int {
	if len(c.fr.locals) >= bytecode.MaxLocals {
		c.error("too many local variables in one function")
		return 0
	}
	for i := len(c.fr.locals) - 1; i >= 0; i-- {
		if c.fr.locals[i].depth < c.fr.scope {
			break
		}
		if c.fr.locals[i].name == name {
			c.error(fmt.Sprintf("variable %q already declared in this scope", name))
		}
	}
	c.fr.locals = append(c.fr.locals, localVar{name: name, depth: c.fr.scope})
	return len(c.fr.locals) - 1
}

func resolveLocal(fr *frame, name string) (int, bool) {
	for i := len(fr.locals) - 1; i >= 0; i-- {
		if fr.locals[i].name == name {
			return i, true
		}
	}
	return -1, false
}

func addUpvalue(fr *frame, index int, isLocal bool) int {
	for i, u := range fr.upvalues {
		if u.index == index && u.isLocal == isLocal {
			return i
		}
	}
	fr.upvalues = append(fr.upvalues, upvalueDesc{index: index, isLocal: isLocal})
	return len(fr.upvalues) - 1
}

// resolveUpvalue walks enclosing frames, auto-flattening closures by
// adding an intermediate upvalue in every frame between the defining one
// and the one doing the lookup.
func resolveUpvalue(fr *frame, name string) (int, bool) {
	if fr.enclosing == nil {
		return -1, false
	}
	if i, ok := resolveLocal(fr.enclosing, name); ok {
		fr.enclosing.locals[i].captured = true
		return addUpvalue(fr, i, true), true
	}
	if i, ok := resolveUpvalue(fr.enclosing, name); ok {
		return addUpvalue(fr, i, false), true
	}
	return -1, false
}

// ---- declarations & statements ------------------------------------------

func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenClass):
		c.classDeclaration()
	case c.match(lexer.TokenImport):
		c.importDeclaration()
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
}

func (c *Compiler) varDeclaration() {
	c.consume(lexer.TokenIdent, "expect variable name")
	name := c.prev.Lexeme
	d := c.debugHere()
	if c.match(lexer.TokenAssign) {
		c.expression()
	} else {
		c.emit(bytecode.OpNull, d)
	}
	c.defineVariable(name)
	c.statementEnd()
}

// defineVariable stores the value on top of the stack into a fresh
// binding named name: a local slot inside a function scope, or a module
// variable at the top level (scope == -1).
func (c *Compiler) defineVariable(name string) {
	if c.fr.scope > -1 {
		c.declareLocal(name)
		return
	}
	idx := c.mod.Declare(name, value.Nil)
	c.emitWide(bytecode.OpStoreModuleVar, idx, bytecode.ModuleVarWidth)
	c.emit(bytecode.OpPop, c.debugHere())
}

func (c *Compiler) importDeclaration() {
	c.consume(lexer.TokenString, "expect module name string")
	name := c.prev.Lexeme
	d := c.debugHere()
	nameConst := c.fr.chunk.AddConstant(name)
	c.emitWide(bytecode.OpLoadModule, nameConst, bytecode.ConstantWidth)
	c.emit(bytecode.OpPop, d)
	if c.match(lexer.TokenFor) {
		for {
			c.consume(lexer.TokenIdent, "expect imported variable name")
			varName := c.prev.Lexeme
			modConst := c.fr.chunk.AddConstant(name)
			varConst := c.fr.chunk.AddConstant(varName)
			dd := c.debugHere()
			c.emit(bytecode.OpImportVariable, dd)
			c.fr.chunk.WriteWide(modConst, bytecode.ConstantWidth, dd)
			c.fr.chunk.WriteWide(varConst, bytecode.ConstantWidth, dd)
			c.defineVariable(varName)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.statementEnd()
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenBreak):
		c.breakStatement()
	case c.match(lexer.TokenLBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenRBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenRBrace, "expect '}' to close block")
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.emit(bytecode.OpPop, c.debugHere())
	c.statementEnd()
}

func (c *Compiler) ifStatement() {
	c.consume(lexer.TokenLParen, "expect '(' after 'if'")
	c.expression()
	c.consume(lexer.TokenRParen, "expect ')' after condition")
	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emit(bytecode.OpPop, c.debugHere())
	c.statement()
	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emit(bytecode.OpPop, c.debugHere())
	if c.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loop := &loopScope{enclosing: c.fr.loop, loopStart: len(c.fr.chunk.Code)}
	c.fr.loop = loop
	c.consume(lexer.TokenLParen, "expect '(' after 'while'")
	c.expression()
	c.consume(lexer.TokenRParen, "expect ')' after condition")
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emit(bytecode.OpPop, c.debugHere())
	c.statement()
	c.emitLoop(loop.loopStart)
	c.patchJump(exitJump)
	c.emit(bytecode.OpPop, c.debugHere())
	for _, j := range loop.breakJumps {
		c.patchJump(j)
	}
	c.fr.loop = loop.enclosing
}

// forStatement desugars `for (x in seq) body` into the hidden-local form
// the spec names: `var s=seq; var i=null; while ((i=s.iterate(i))) { var x
// = s.iteratorValue(i); body }`, using local names the parser's own
// identifier grammar can never produce so they cannot collide.
func (c *Compiler) forStatement() {
	c.consume(lexer.TokenLParen, "expect '(' after 'for'")
	c.consume(lexer.TokenIdent, "expect loop variable name")
	varName := c.prev.Lexeme
	c.consume(lexer.TokenIn, "expect 'in' in for loop")

	c.beginScope()
	c.expression() // seq
	seqSlot := c.declareLocal(" seq")
	d := c.debugHere()
	c.emit(bytecode.OpNull, d)
	iterSlot := c.declareLocal(" iter")
	c.consume(lexer.TokenRParen, "expect ')' after for clause")

	loop := &loopScope{enclosing: c.fr.loop, loopStart: len(c.fr.chunk.Code)}
	c.fr.loop = loop

	iterateSym := c.syms.Ensure("iterate(_)")
	c.loadLocal(seqSlot)
	c.loadLocal(iterSlot)
	c.emitCall(1, iterateSym)
	c.storeLocal(iterSlot)
	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emit(bytecode.OpPop, c.debugHere())

	c.beginScope()
	ivSym := c.syms.Ensure("iteratorValue(_)")
	c.loadLocal(seqSlot)
	c.loadLocal(iterSlot)
	c.emitCall(1, ivSym)
	c.declareLocal(varName)
	c.statement()
	c.endScope()

	c.emitLoop(loop.loopStart)
	c.patchJump(exitJump)
	c.emit(bytecode.OpPop, c.debugHere())
	for _, j := range loop.breakJumps {
		c.patchJump(j)
	}
	c.fr.loop = loop.enclosing
	c.endScope()
}

func (c *Compiler) breakStatement() {
	if c.fr.loop == nil {
		c.error("'break' outside a loop")
		c.statementEnd()
		return
	}
	j := c.emitJump(bytecode.OpJump)
	c.fr.loop.breakJumps = append(c.fr.loop.breakJumps, j)
	c.statementEnd()
}

func (c *Compiler) returnStatement() {
	d := c.debugHere()
	if c.lineBefore || c.check(lexer.TokenRBrace) || c.check(lexer.TokenEOF) {
		c.emit(bytecode.OpNull, d)
	} else {
		c.expression()
	}
	c.emit(bytecode.OpReturn, d)
	c.statementEnd()
}

func (c *Compiler) loadLocal(slot int) {
	d := c.debugHere()
	if fixed, ok := bytecode.LoadLocalFixed(slot); ok {
		c.emit(fixed, d)
		return
	}
	c.emitWide(bytecode.OpLoadLocal, slot, bytecode.LocalWidth)
}

func (c *Compiler) storeLocal(slot int) {
	c.emitWide(bytecode.OpStoreLocal, slot, bytecode.LocalWidth)
}

func (c *Compiler) emitCall(argCount int, symbol int) {
	d := c.debugHere()
	c.emit(bytecode.OpCall, d)
	c.emitByte(byte(argCount), d)
	c.fr.chunk.WriteWide(symbol, bytecode.SymbolWidth, d)
}

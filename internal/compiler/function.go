package compiler

import (
	"cardinal/internal/bytecode"
	"cardinal/internal/lexer"
	"cardinal/internal/value"
)

// compileFunction compiles params/body as a new Fn+Closure nested inside
// the current frame, emits the CLOSURE instruction (with its upvalue
// descriptors) into the *enclosing* frame's chunk, and restores the
// enclosing frame as current. hasReceiver reserves local slot 0 for an
// implicit `this`/receiver the caller's calling convention always pushes.
func (c *Compiler) compileFunction(name string, params []string, hasReceiver bool, class *classScope) {
	c.compileFunctionBody(name, params, hasReceiver, class, c.runFunctionBody)
}

// compileFunctionBody factors out the frame setup/teardown shared by
// source-parsed method bodies and compiler-synthesized ones (the
// constructor allocator below), with body responsible for emitting
// whatever belongs between the parameter locals and the final RETURN.
func (c *Compiler) compileFunctionBody(name string, params []string, hasReceiver bool, class *classScope, body func()) {
	enclosing := c.fr
	c.fr = &frame{
		enclosing: enclosing,
		chunk:     bytecode.NewChunk(),
		scope:     0,
		name:      name,
		class:     class,
		arity:     len(params),
	}
	if hasReceiver {
		c.declareLocal("this")
	}
	for _, p := range params {
		c.declareLocal(p)
	}

	body()

	chunk := c.fr.chunk
	arity := c.fr.arity
	upvalues := c.fr.upvalues
	c.fr = enclosing

	fnHandle, fn := value.NewFn(c.h, c.b.FnClass, chunk, c.modHandle, name, arity, len(upvalues))
	fn.SourcePath = c.path

	constIdx := c.fr.chunk.AddConstant(fnHandle)
	d := c.debugHere()
	c.emit(bytecode.OpClosure, d)
	c.fr.chunk.WriteWide(constIdx, bytecode.ConstantWidth, d)
	for _, u := range upvalues {
		isLocal := byte(0)
		if u.isLocal {
			isLocal = 1
		}
		c.emitByte(isLocal, d)
		c.fr.chunk.WriteWide(u.index, bytecode.UpvalueWidth, d)
	}
}

// runFunctionBody parses statements until `}`/EOF (the opening `{` having
// already been consumed by the caller), making a trailing bare expression
// statement the function's implicit return value — the block-literal and
// method-body convention the spec's closure scenario relies on
// (`{ |x| x = x + 1; x }` returns the incremented x, no `return` needed).
func (c *Compiler) runFunctionBody() {
	for !c.atBodyEnd() {
		switch {
		case c.match(lexer.TokenVar):
			c.varDeclaration()
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
			c.expression()
			if c.atBodyEnd() {
				c.emit(bytecode.OpReturn, c.debugHere())
				return
			}
			c.emit(bytecode.OpPop, c.debugHere())
			c.statementEnd()
		}
	}
	c.emit(bytecode.OpNull, c.debugHere())
	c.emit(bytecode.OpReturn, c.debugHere())
}

func (c *Compiler) atBodyEnd() bool {
	return c.check(lexer.TokenRBrace) || c.check(lexer.TokenEOF)
}

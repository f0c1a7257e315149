package compiler

import (
	"fmt"
	"strings"

	"cardinal/internal/bytecode"
	"cardinal/internal/lexer"
	"cardinal/internal/value"
)

// precedence levels, weakest to strongest, per the grammar's Pratt table:
// assignment, ternary, or, and, equality, is, comparison, bitwise
// or/xor/and, shift, range, additive, multiplicative, unary, call, primary.
type precedence int

const (
	precNone precedence = iota
	precAssignment
	precTernary
	precOr
	precAnd
	precEquality
	precIs
	precComparison
	precBitOr
	precBitXor
	precBitAnd
	precShift
	precRange
	precAdditive
	precMultiplicative
	precUnary
	precCall
	precPrimary
)

type binOp struct {
	prec precedence
	sig  string
}

// binOps maps a binary operator token to the precedence it binds at and
// the one-argument method signature CALL_1 dispatches to; `||`, `&&`,
// `is`, and `?:` aren't ordinary method calls so they're handled directly
// in parsePrecedence instead of through this table.
var binOps = map[lexer.TokenType]binOp{
	lexer.TokenEq:         {precEquality, "==(_)"},
	lexer.TokenNe:         {precEquality, "!=(_)"},
	lexer.TokenLt:         {precComparison, "<(_)"},
	lexer.TokenGt:         {precComparison, ">(_)"},
	lexer.TokenLe:         {precComparison, "<=(_)"},
	lexer.TokenGe:         {precComparison, ">=(_)"},
	lexer.TokenPipe:       {precBitOr, "|(_)"},
	lexer.TokenCaret:      {precBitXor, "^(_)"},
	lexer.TokenAmp:        {precBitAnd, "&(_)"},
	lexer.TokenShl:        {precShift, "<<(_)"},
	lexer.TokenShr:        {precShift, ">>(_)"},
	lexer.TokenDotDot:     {precRange, "..(_)"},
	lexer.TokenDotDotDot:  {precRange, "...(_)"},
	lexer.TokenPlus:       {precAdditive, "+(_)"},
	lexer.TokenMinus:      {precAdditive, "-(_)"},
	lexer.TokenStar:       {precMultiplicative, "*(_)"},
	lexer.TokenSlash:      {precMultiplicative, "/(_)"},
	lexer.TokenPercent:    {precMultiplicative, "%(_)"},
}

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}

func (c *Compiler) parsePrecedence(min precedence) {
	canAssign := min <= precAssignment
	c.unaryLevel(canAssign)
	for {
		switch {
		case min <= precTernary && c.check(lexer.TokenQuestion):
			c.advance()
			c.ternary()
		case min <= precOr && c.check(lexer.TokenOrOr):
			c.advance()
			c.infixOr()
		case min <= precAnd && c.check(lexer.TokenAndAnd):
			c.advance()
			c.infixAnd()
		case min <= precIs && c.check(lexer.TokenIs):
			c.advance()
			c.parsePrecedence(precIs + 1)
			c.emit(bytecode.OpIs, c.debugHere())
		default:
			op, ok := binOps[c.cur.Type]
			if !ok || op.prec < min {
				return
			}
			c.advance()
			c.parsePrecedence(op.prec + 1)
			c.emitCall(1, c.syms.Ensure(op.sig))
		}
	}
}

// ternary compiles the `? :` branches after the condition (already on the
// stack) and the leading `?` have been consumed.
func (c *Compiler) ternary() {
	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emit(bytecode.OpPop, c.debugHere())
	c.parsePrecedence(precTernary)
	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emit(bytecode.OpPop, c.debugHere())
	c.consume(lexer.TokenColon, "expect ':' in ternary expression")
	c.parsePrecedence(precTernary)
	c.patchJump(elseJump)
}

func (c *Compiler) infixOr() {
	jump := c.emitJump(bytecode.OpOr)
	c.parsePrecedence(precOr + 1)
	c.patchJump(jump)
}

func (c *Compiler) infixAnd() {
	jump := c.emitJump(bytecode.OpAnd)
	c.parsePrecedence(precAnd + 1)
	c.patchJump(jump)
}

// unaryLevel handles prefix `! - ~`, else falls through to a primary
// expression followed by its postfix `. []` call chain.
func (c *Compiler) unaryLevel(canAssign bool) {
	switch {
	case c.match(lexer.TokenBang):
		c.parsePrecedence(precUnary)
		c.emitCall(0, c.syms.Ensure("!"))
	case c.match(lexer.TokenMinus):
		c.parsePrecedence(precUnary)
		c.emitCall(0, c.syms.Ensure("-"))
	case c.match(lexer.TokenTilde):
		c.parsePrecedence(precUnary)
		c.emitCall(0, c.syms.Ensure("~"))
	default:
		c.primary(canAssign)
		c.callSuffixes(canAssign)
	}
}

func (c *Compiler) primary(canAssign bool) {
	d := c.debugHere()
	switch {
	case c.match(lexer.TokenNumber):
		n, err := lexer.ParseNumber(c.prev.Lexeme)
		if err != nil {
			c.error("invalid number literal")
		}
		c.emitConstant(n)
	case c.match(lexer.TokenString):
		c.emitConstant(c.internString(c.prev.Lexeme))
	case c.match(lexer.TokenTrue):
		c.emit(bytecode.OpTrue, d)
	case c.match(lexer.TokenFalse):
		c.emit(bytecode.OpFalse, d)
	case c.match(lexer.TokenNull):
		c.emit(bytecode.OpNull, d)
	case c.match(lexer.TokenThis):
		if c.fr.class == nil {
			c.error("'this' used outside a method")
		}
		c.loadOrAssignName("this", false)
	case c.match(lexer.TokenSuper):
		c.superExpression()
	case c.match(lexer.TokenLParen):
		c.expression()
		c.consume(lexer.TokenRParen, "expect ')' to close grouped expression")
	case c.match(lexer.TokenLBracket):
		c.listLiteral()
	case c.match(lexer.TokenLBrace):
		c.mapLiteral()
	case c.match(lexer.TokenIdent):
		c.loadOrAssignName(c.prev.Lexeme, canAssign)
	default:
		c.errorAt(c.cur, "expect expression")
		c.advance()
	}
}

// loadVariable consumes a bare identifier and loads it by the standard
// resolution order — used for superclass references in a class header,
// which can never themselves be assignment targets.
func (c *Compiler) loadVariable() {
	c.consume(lexer.TokenIdent, "expect name")
	c.loadOrAssignName(c.prev.Lexeme, false)
}

// loadOrAssignName resolves name against, in order: the current frame's
// locals, its upvalues, the enclosing class's instance fields (against the
// implicit `this` receiver), an implicit call on `this` (inside a class,
// for names that do not start with an uppercase letter), and finally the
// running module's variables — declaring a fresh module
// variable on an otherwise-unresolved assignment, the same permissive
// "assigning to an unknown name creates it" top-level behavior scripting
// languages in this family are built around.
func (c *Compiler) loadOrAssignName(name string, canAssign bool) {
	if slot, ok := resolveLocal(c.fr, name); ok {
		if canAssign && c.match(lexer.TokenAssign) {
			c.expression()
			c.storeLocal(slot)
			return
		}
		c.loadLocal(slot)
		return
	}
	if idx, ok := resolveUpvalue(c.fr, name); ok {
		if canAssign && c.match(lexer.TokenAssign) {
			c.expression()
			c.emitWide(bytecode.OpStoreUpvalue, idx, bytecode.UpvalueWidth)
			return
		}
		c.emitWide(bytecode.OpLoadUpvalue, idx, bytecode.UpvalueWidth)
		return
	}
	if c.fr.class != nil {
		if fi, ok := c.fr.class.fields[name]; ok {
			if canAssign && c.match(lexer.TokenAssign) {
				c.expression()
				c.emitWide(bytecode.OpStoreFieldThis, fi, bytecode.FieldWidth)
				return
			}
			c.emitWide(bytecode.OpLoadFieldThis, fi, bytecode.FieldWidth)
			return
		}
		if name[0] < 'A' || name[0] > 'Z' {
			if c.check(lexer.TokenLParen) {
				c.loadLocal(0)
				n := c.argList()
				c.emitCall(n, c.syms.Ensure(signatureN(name, n)))
				return
			}
			if canAssign && c.match(lexer.TokenAssign) {
				c.loadLocal(0)
				c.expression()
				c.emitCall(1, c.syms.Ensure(name+"=(_)"))
				return
			}
			c.loadLocal(0)
			c.emitCall(0, c.syms.Ensure(name))
			return
		}
	}
	if idx, ok := c.mod.Find(name); ok {
		if canAssign && c.match(lexer.TokenAssign) {
			c.expression()
			c.emitWide(bytecode.OpStoreModuleVar, idx, bytecode.ModuleVarWidth)
			return
		}
		c.emitWide(bytecode.OpLoadModuleVar, idx, bytecode.ModuleVarWidth)
		return
	}
	if canAssign && c.match(lexer.TokenAssign) {
		c.expression()
		idx := c.mod.Declare(name, value.Nil)
		c.emitWide(bytecode.OpStoreModuleVar, idx, bytecode.ModuleVarWidth)
		return
	}
	c.error(fmt.Sprintf("undefined name %q", name))
	c.emit(bytecode.OpNull, c.debugHere())
}

// superExpression compiles `super.name(args)` / `super(idx).name(args)`,
// emitting SUPER_n(symbol, superclassIdx). Without a constructed class
// hierarchy available at compile time (classes are built by CLASS at run
// time, single-pass), the compiler cannot itself resolve which ancestor
// defines name; it always targets the primary superclass (index 0) unless
// the caller names a different one explicitly with `super(idx)`.
//
// Inside a constructor (c.fr.name carries the "init " prefix
// synthesizeAllocator/classMember give every initializer), `super.name(args)`
// targets the ancestor's initializer of the same name rather than its
// static allocator: constructors chain field initialization the same way
// ordinary methods chain behavior, and the allocator/CONSTRUCT step has
// already run exactly once by the time any constructor body executes.
func (c *Compiler) superExpression() {
	if c.fr.class == nil {
		c.error("'super' used outside a method")
	}
	superIdx := 0
	if c.match(lexer.TokenLParen) {
		c.consume(lexer.TokenNumber, "expect a superclass index")
		n, err := lexer.ParseNumber(c.prev.Lexeme)
		if err != nil {
			c.error("invalid superclass index")
		}
		superIdx = int(n)
		c.consume(lexer.TokenRParen, "expect ')' after superclass index")
	}
	c.consume(lexer.TokenDot, "expect '.' after 'super'")
	c.consume(lexer.TokenIdent, "expect method name after 'super.'")
	name := c.prev.Lexeme

	c.loadLocal(0)
	argc := 0
	if c.check(lexer.TokenLParen) {
		argc = c.argList()
	}
	sig := signatureN(name, argc)
	if strings.HasPrefix(c.fr.name, "init ") {
		sig = "init " + sig
	}
	sym := c.syms.Ensure(sig)
	d := c.debugHere()
	c.emit(bytecode.OpSuper, d)
	c.emitByte(byte(argc), d)
	c.fr.chunk.WriteWide(sym, bytecode.SymbolWidth, d)
	c.emitByte(byte(superIdx), d)
}

// callSuffixes parses the `. []` postfix chain: dotted getter/setter/
// method calls and bracket subscript get/set. Only the final suffix in a
// chain can ever see a following `=` (anything else would require a `.`
// or `[` first), so no special "is this the last one" bookkeeping beyond
// passing canAssign straight through is needed.
func (c *Compiler) callSuffixes(canAssign bool) {
	for {
		switch {
		case c.match(lexer.TokenDot):
			c.consume(lexer.TokenIdent, "expect property name after '.'")
			name := c.prev.Lexeme
			if c.check(lexer.TokenLParen) {
				n := c.argList()
				c.emitCall(n, c.syms.Ensure(signatureN(name, n)))
				continue
			}
			// A bare trailing block with no parens at all — `Fiber.new { |n| ... }`,
			// `Fn.new { ... }` — is the sole argument; argList only reaches
			// blockArgument after consuming a `(...)`, so a lone `{` here needs its
			// own branch.
			if c.check(lexer.TokenLBrace) {
				c.blockArgument()
				c.emitCall(1, c.syms.Ensure(signatureN(name, 1)))
				continue
			}
			if canAssign && c.match(lexer.TokenAssign) {
				c.expression()
				c.emitCall(1, c.syms.Ensure(name+"=(_)"))
				continue
			}
			c.emitCall(0, c.syms.Ensure(name))
		case c.match(lexer.TokenLBracket):
			n := 0
			for {
				c.expression()
				n++
				if !c.match(lexer.TokenComma) {
					break
				}
			}
			c.consume(lexer.TokenRBracket, "expect ']' to close subscript")
			if canAssign && c.match(lexer.TokenAssign) {
				c.expression()
				c.emitCall(n+1, c.syms.Ensure("["+underscores(n)+"]=(_)"))
			} else {
				c.emitCall(n, c.syms.Ensure("["+underscores(n)+"]"))
			}
		default:
			return
		}
	}
}

// argList parses a parenthesized call argument list, plus an optional
// trailing block-argument closure literal (`list.each { |x| ... }`),
// appended as the call's final argument — the idiom `Fn.new { |x| ... }`
// and `Fiber.new { |n| ... }` both rely on.
func (c *Compiler) argList() int {
	c.consume(lexer.TokenLParen, "expect '(' to start argument list")
	n := 0
	if !c.check(lexer.TokenRParen) {
		for {
			c.expression()
			n++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRParen, "expect ')' to close argument list")
	if c.check(lexer.TokenLBrace) {
		c.blockArgument()
		n++
	}
	return n
}

func (c *Compiler) blockArgument() {
	c.consume(lexer.TokenLBrace, "expect '{' to start block argument")
	var params []string
	if c.match(lexer.TokenPipe) {
		for !c.check(lexer.TokenPipe) {
			c.consume(lexer.TokenIdent, "expect block parameter name")
			params = append(params, c.prev.Lexeme)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
		c.consume(lexer.TokenPipe, "expect '|' to close block parameters")
	}
	c.compileFunction("(block)", params, false, c.fr.class)
	c.consume(lexer.TokenRBrace, "expect '}' to close block argument")
}

// listLiteral and mapLiteral lower to a static allocator call (`List.new`,
// `Map.new`) followed by one add/store call per element — there is no
// dedicated literal-building opcode, so these reuse ordinary CALL_n
// dispatch exactly as hand-written equivalent source would.
func (c *Compiler) listLiteral() {
	d := c.debugHere()
	c.emitConstant(c.b.ListClass)
	c.emitCall(0, c.syms.Ensure("new"))
	addSym := c.syms.Ensure("add(_)")
	if !c.check(lexer.TokenRBracket) {
		for {
			c.emit(bytecode.OpDup, d)
			c.expression()
			c.emitCall(1, addSym)
			c.emit(bytecode.OpPop, d)
			if !c.match(lexer.TokenComma) {
				break
			}
			if c.check(lexer.TokenRBracket) {
				break
			}
		}
	}
	c.consume(lexer.TokenRBracket, "expect ']' to close list literal")
}

func (c *Compiler) mapLiteral() {
	d := c.debugHere()
	c.emitConstant(c.b.MapClass)
	c.emitCall(0, c.syms.Ensure("new"))
	setSym := c.syms.Ensure("[_]=(_)")
	if !c.check(lexer.TokenRBrace) {
		for {
			c.emit(bytecode.OpDup, d)
			c.expression()
			c.consume(lexer.TokenColon, "expect ':' between map key and value")
			c.expression()
			c.emitCall(2, setSym)
			c.emit(bytecode.OpPop, d)
			if !c.match(lexer.TokenComma) {
				break
			}
			if c.check(lexer.TokenRBrace) {
				break
			}
		}
	}
	c.consume(lexer.TokenRBrace, "expect '}' to close map literal")
}

func signatureN(name string, n int) string {
	if n == 0 {
		return name
	}
	return name + "(" + underscores(n) + ")"
}

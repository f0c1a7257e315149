package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble renders chunk as a flat instruction listing, one line per
// opcode: offset, mnemonic, decoded operands, and the source line the
// debug map attributes it to. Adapted from the line-oriented listing
// sentra/internal/debugger's breakpoint view builds from a chunk's debug
// info, generalized from "show the line around a breakpoint" to "show
// every instruction" for the `cardinal disasm` CLI surface.
func Disassemble(chunk *Chunk, name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "== %s ==\n", name)
	ip := 0
	lastLine := -1
	for ip < len(chunk.Code) {
		ip = disassembleInstruction(&sb, chunk, ip, &lastLine)
	}
	return sb.String()
}

func disassembleInstruction(sb *strings.Builder, chunk *Chunk, ip int, lastLine *int) int {
	d := chunk.GetDebugInfo(ip)
	fmt.Fprintf(sb, "%04d ", ip)
	if d.Line == *lastLine {
		sb.WriteString("   | ")
	} else {
		fmt.Fprintf(sb, "%4d ", d.Line)
		*lastLine = d.Line
	}

	op := OpCode(chunk.Code[ip])
	ip++

	switch op {
	case OpConstant:
		idx := chunk.ReadWide(ip, ConstantWidth)
		ip += ConstantWidth
		fmt.Fprintf(sb, "%-16s %4d '%v'\n", op, idx, constantText(chunk, idx))

	case OpLoadLocal, OpStoreLocal:
		slot := chunk.ReadWide(ip, LocalWidth)
		ip += LocalWidth
		fmt.Fprintf(sb, "%-16s %4d\n", op, slot)

	case OpLoadUpvalue, OpStoreUpvalue:
		idx := chunk.ReadWide(ip, UpvalueWidth)
		ip += UpvalueWidth
		fmt.Fprintf(sb, "%-16s %4d\n", op, idx)

	case OpLoadModuleVar, OpStoreModuleVar:
		idx := chunk.ReadWide(ip, ModuleVarWidth)
		ip += ModuleVarWidth
		fmt.Fprintf(sb, "%-16s %4d\n", op, idx)

	case OpLoadField, OpStoreField, OpLoadFieldThis, OpStoreFieldThis:
		fi := chunk.ReadWide(ip, FieldWidth)
		ip += FieldWidth
		fmt.Fprintf(sb, "%-16s %4d\n", op, fi)

	case OpCall:
		argc := int(chunk.Code[ip])
		ip++
		sym := chunk.ReadWide(ip, SymbolWidth)
		ip += SymbolWidth
		fmt.Fprintf(sb, "%-16s argc=%d symbol=%d\n", op, argc, sym)

	case OpSuper:
		argc := int(chunk.Code[ip])
		ip++
		sym := chunk.ReadWide(ip, SymbolWidth)
		ip += SymbolWidth
		superIdx := int(chunk.Code[ip])
		ip++
		fmt.Fprintf(sb, "%-16s argc=%d symbol=%d super=%d\n", op, argc, sym, superIdx)

	case OpJump, OpLoop, OpJumpIfFalse, OpAnd, OpOr:
		offset := chunk.ReadWide(ip, 2)
		ip += 2
		target := ip + offset
		if op == OpLoop {
			target = ip - offset
		}
		fmt.Fprintf(sb, "%-16s %4d -> %04d\n", op, offset, target)

	case OpClass:
		numFields := int(chunk.Code[ip])
		ip++
		existsFlag := chunk.Code[ip]
		ip++
		numSupers := int(chunk.Code[ip])
		ip++
		nameConst := chunk.ReadWide(ip, ConstantWidth)
		ip += ConstantWidth
		fmt.Fprintf(sb, "%-16s fields=%d exists=%d supers=%d name='%v'\n",
			op, numFields, existsFlag, numSupers, constantText(chunk, nameConst))

	case OpMethodInstance, OpMethodStatic:
		sym := chunk.ReadWide(ip, SymbolWidth)
		ip += SymbolWidth
		fmt.Fprintf(sb, "%-16s symbol=%d\n", op, sym)

	case OpClosure:
		constIdx := chunk.ReadWide(ip, ConstantWidth)
		ip += ConstantWidth
		fmt.Fprintf(sb, "%-16s %4d\n", op, constIdx)
		// Upvalue descriptor bytes follow, one (isLocal, idx) pair per
		// upvalue; the count lives on the referenced Fn, not in this
		// chunk, so it can't be decoded without also holding the inner
		// Fn's upvalue count. Left to the caller's Fn-aware listing.

	case OpLoadModule:
		nameConst := chunk.ReadWide(ip, ConstantWidth)
		ip += ConstantWidth
		fmt.Fprintf(sb, "%-16s '%v'\n", op, constantText(chunk, nameConst))

	case OpImportVariable:
		modConst := chunk.ReadWide(ip, ConstantWidth)
		ip += ConstantWidth
		varConst := chunk.ReadWide(ip, ConstantWidth)
		ip += ConstantWidth
		fmt.Fprintf(sb, "%-16s '%v' '%v'\n", op, constantText(chunk, modConst), constantText(chunk, varConst))

	default:
		fmt.Fprintf(sb, "%s\n", op)
	}

	return ip
}

func constantText(chunk *Chunk, idx int) interface{} {
	if idx < 0 || idx >= len(chunk.Constants) {
		return "?"
	}
	switch c := chunk.Constants[idx].(type) {
	case string:
		return c
	case float64:
		return c
	default:
		return "<obj>"
	}
}

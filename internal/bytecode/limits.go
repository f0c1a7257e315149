package bytecode

// Declared maxima the build's operand widths are derived from (spec.md
// §6, "Bytecode operand widths"). A chunk compiled against one set of
// maxima is only valid for a VM built with the same set — there is no
// per-chunk negotiation, matching the spec's "only compatible with the
// runtime that produced it" note.
const (
	MaxLocals        = 256
	MaxUpvalues      = 256
	MaxFields        = 255
	MaxConstants     = 1 << 16
	MaxModuleVars    = 1 << 16
	MaxMethodSymbols = 1 << 16
	MaxCallArity     = 16
	MaxSuperclasses  = 255
)

var (
	LocalWidth     = OperandWidth(MaxLocals)
	UpvalueWidth   = OperandWidth(MaxUpvalues)
	FieldWidth     = OperandWidth(MaxFields)
	ConstantWidth  = OperandWidth(MaxConstants)
	ModuleVarWidth = OperandWidth(MaxModuleVars)
	SymbolWidth    = OperandWidth(MaxMethodSymbols)
)

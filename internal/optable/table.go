package optable

import (
	"fmt"

	"github.com/wasmevm/wasmevm/internal/wasm"
)

// PrimitiveCode names one capability of the macro assembler.
type PrimitiveCode byte

const (
	primitiveUnknown PrimitiveCode = iota

	// Target opcodes without immediates. Operands are the top of the stack.

	PrimAdd
	PrimMul
	PrimSub
	PrimDiv
	PrimSDiv
	PrimMod
	PrimSMod
	PrimLt
	PrimGt
	PrimSlt
	PrimSgt
	PrimEq
	PrimIsZero
	PrimAnd
	PrimOr
	PrimXor
	PrimShl
	PrimShr
	PrimSar
	PrimPop
	PrimSwap1

	// Macros parameterized by a byte width.

	// PrimMask truncates the top of the stack to Width bytes.
	PrimMask
	// PrimSignExtend sign extends the low Width bytes of the top of the stack to the full word.
	PrimSignExtend
	// PrimSignExtendPair sign extends the two topmost values and swaps them.
	PrimSignExtendPair
	// PrimShiftMask reduces a shift count on the top of the stack modulo the bit width.
	PrimShiftMask
	// PrimTrapIfZero traps when the top of the stack is zero, leaving it in place.
	PrimTrapIfZero
	// PrimTrapIfDivOverflow traps when the top of the stack is the minimum signed value of Width bytes and the value
	// below is -1, both sign extended. It leaves them in place.
	PrimTrapIfDivOverflow
	PrimClz
	PrimCtz
	PrimPopcnt
	PrimRotl
	PrimRotr
	// PrimLoad reads Width bytes of linear memory at the address on the top of the stack.
	PrimLoad
	// PrimStore writes the low Width bytes of the top of the stack to linear memory.
	PrimStore

	// Primitives which read the immediates of the instruction.

	PrimConst
	PrimLocalGet
	PrimLocalSet
	PrimLocalTee
	PrimGlobalGet
	PrimGlobalSet
	PrimSelect
	PrimMemorySize
	PrimMemoryGrow
	PrimCall
	PrimCallIndirect
	// PrimFloat is any floating point operation. The macro assembler decides how to handle it.
	PrimFloat
	// PrimNop emits nothing.
	PrimNop

	// Structured control flow, handled by the code generator itself.

	PrimUnreachable
	PrimBlock
	PrimLoop
	PrimIf
	PrimElse
	PrimEnd
	PrimBr
	PrimBrIf
	PrimBrTable
	PrimReturn

	primitiveCount
)

var primitiveNames = [primitiveCount]string{
	primitiveUnknown:      "unknown",
	PrimAdd:               "ADD",
	PrimMul:               "MUL",
	PrimSub:               "SUB",
	PrimDiv:               "DIV",
	PrimSDiv:              "SDIV",
	PrimMod:               "MOD",
	PrimSMod:              "SMOD",
	PrimLt:                "LT",
	PrimGt:                "GT",
	PrimSlt:               "SLT",
	PrimSgt:               "SGT",
	PrimEq:                "EQ",
	PrimIsZero:            "ISZERO",
	PrimAnd:               "AND",
	PrimOr:                "OR",
	PrimXor:               "XOR",
	PrimShl:               "SHL",
	PrimShr:               "SHR",
	PrimSar:               "SAR",
	PrimPop:               "POP",
	PrimSwap1:             "SWAP1",
	PrimMask:              "Mask",
	PrimSignExtend:        "SignExtend",
	PrimSignExtendPair:    "SignExtendPair",
	PrimShiftMask:         "ShiftMask",
	PrimTrapIfZero:        "TrapIfZero",
	PrimTrapIfDivOverflow: "TrapIfDivOverflow",
	PrimClz:               "Clz",
	PrimCtz:               "Ctz",
	PrimPopcnt:            "Popcnt",
	PrimRotl:              "Rotl",
	PrimRotr:              "Rotr",
	PrimLoad:              "Load",
	PrimStore:             "Store",
	PrimConst:             "Const",
	PrimLocalGet:          "LocalGet",
	PrimLocalSet:          "LocalSet",
	PrimLocalTee:          "LocalTee",
	PrimGlobalGet:         "GlobalGet",
	PrimGlobalSet:         "GlobalSet",
	PrimSelect:            "Select",
	PrimMemorySize:        "MemorySize",
	PrimMemoryGrow:        "MemoryGrow",
	PrimCall:              "Call",
	PrimCallIndirect:      "CallIndirect",
	PrimFloat:             "Float",
	PrimNop:               "Nop",
	PrimUnreachable:       "Unreachable",
	PrimBlock:             "Block",
	PrimLoop:              "Loop",
	PrimIf:                "If",
	PrimElse:              "Else",
	PrimEnd:               "End",
	PrimBr:                "Br",
	PrimBrIf:              "BrIf",
	PrimBrTable:           "BrTable",
	PrimReturn:            "Return",
}

func (c PrimitiveCode) String() string {
	if c < primitiveCount {
		return primitiveNames[c]
	}
	return fmt.Sprintf("primitive(%d)", byte(c))
}

// IsControl returns true for primitives the code generator handles without the macro assembler.
func (c PrimitiveCode) IsControl() bool {
	return c >= PrimUnreachable && c < primitiveCount
}

// Primitive is one step of an Entry.
type Primitive struct {
	Code PrimitiveCode
	// Width is the operand width in bytes, for the macros which need one.
	Width uint8
}

func (p Primitive) String() string {
	if p.Width == 0 {
		return p.Code.String()
	}
	return fmt.Sprintf("%s(%d)", p.Code, p.Width)
}

// Kind is how an Entry is translated.
type Kind byte

const (
	// KindUnsupported entries abort compilation.
	KindUnsupported Kind = iota
	// KindDirect entries are a single primitive.
	KindDirect
	// KindSequence entries are more than one primitive, invoked in order.
	KindSequence
)

func (k Kind) String() (ret string) {
	switch k {
	case KindUnsupported:
		ret = "unsupported"
	case KindDirect:
		ret = "direct"
	case KindSequence:
		ret = "sequence"
	}
	return
}

// Dynamic is the stack effect of instructions whose effect depends on their immediates or the enclosing frame.
const Dynamic = -1

// Entry is the translation recipe of one Key.
type Entry struct {
	Kind  Kind
	Steps []Primitive
	// Pop and Push are the count of operands consumed and produced, or Dynamic.
	Pop, Push int
}

func direct(pop, push int, p Primitive) Entry {
	return Entry{Kind: KindDirect, Steps: []Primitive{p}, Pop: pop, Push: push}
}

func sequence(pop, push int, steps ...Primitive) Entry {
	return Entry{Kind: KindSequence, Steps: steps, Pop: pop, Push: push}
}

func prim(c PrimitiveCode) Primitive {
	return Primitive{Code: c}
}

func sized(c PrimitiveCode, width uint8) Primitive {
	return Primitive{Code: c, Width: width}
}

var (
	noType = []Type{TypeNone}
	ints   = []Type{TypeI32, TypeI64}
	floats = []Type{TypeF32, TypeF64}
	all    = []Type{TypeI32, TypeI64, TypeF32, TypeF64}
	i64    = []Type{TypeI64}

	noSign = []Sign{SignNone}
	signs  = []Sign{Signed, Unsigned}
)

// row declares the entries of an operation for every combination of types and signs.
type row struct {
	op    Op
	types []Type
	signs []Sign
	entry func(t Type, s Sign) Entry
}

func fixed(e Entry) func(Type, Sign) Entry {
	return func(Type, Sign) Entry { return e }
}

func unary(c PrimitiveCode) func(Type, Sign) Entry {
	return fixed(direct(1, 1, prim(c)))
}

func binary(c PrimitiveCode) func(Type, Sign) Entry {
	return fixed(direct(2, 1, prim(c)))
}

// wrapping is a binary operation whose result is masked to the type width.
func wrapping(steps ...PrimitiveCode) func(Type, Sign) Entry {
	return func(t Type, _ Sign) Entry {
		e := sequence(2, 1)
		for _, c := range steps {
			e.Steps = append(e.Steps, prim(c))
		}
		e.Steps = append(e.Steps, sized(PrimMask, t.Width()))
		return e
	}
}

func widthMacro(pop int, c PrimitiveCode) func(Type, Sign) Entry {
	return func(t Type, _ Sign) Entry { return direct(pop, 1, sized(c, t.Width())) }
}

// comparison returns the entry of a comparison of [a, b] where b is the top of the stack. The target compares the
// top against the one below, so unsigned operators are swapped rather than the operands. Signed operators first
// sign extend both operands which also swaps them.
func comparison(unsigned []PrimitiveCode, signed []PrimitiveCode) func(Type, Sign) Entry {
	return func(t Type, s Sign) Entry {
		var steps []Primitive
		codes := unsigned
		if s == Signed {
			steps = append(steps, sized(PrimSignExtendPair, t.Width()))
			codes = signed
		}
		for _, c := range codes {
			steps = append(steps, prim(c))
		}
		if len(steps) == 1 {
			return direct(2, 1, steps[0])
		}
		return sequence(2, 1, steps...)
	}
}

// division traps on a zero divisor. Unsigned operators swap so the dividend is on the top. Signed division also
// traps when the quotient overflows; the remainder of the same operands is zero.
func division(unsigned, signed PrimitiveCode) func(Type, Sign) Entry {
	return func(t Type, s Sign) Entry {
		if s == Signed {
			steps := []Primitive{prim(PrimTrapIfZero), sized(PrimSignExtendPair, t.Width())}
			if signed == PrimSDiv {
				steps = append(steps, sized(PrimTrapIfDivOverflow, t.Width()))
			}
			steps = append(steps, prim(signed), sized(PrimMask, t.Width()))
			return sequence(2, 1, steps...)
		}
		return sequence(2, 1, prim(PrimTrapIfZero), prim(PrimSwap1), prim(unsigned))
	}
}

func load(width uint8) func(Type, Sign) Entry {
	return func(t Type, s Sign) Entry {
		w := width
		if w == 0 {
			w = t.Width()
		}
		if s == Signed {
			return sequence(1, 1, sized(PrimLoad, w), sized(PrimSignExtend, w), sized(PrimMask, t.Width()))
		}
		return direct(1, 1, sized(PrimLoad, w))
	}
}

func store(width uint8) func(Type, Sign) Entry {
	return func(t Type, _ Sign) Entry {
		w := width
		if w == 0 {
			w = t.Width()
		}
		return direct(2, 0, sized(PrimStore, w))
	}
}

var (
	float1      = fixed(direct(1, 1, prim(PrimFloat)))
	float2      = fixed(direct(2, 1, prim(PrimFloat)))
	unsupported = fixed(Entry{Kind: KindUnsupported})
	control     = func(c PrimitiveCode) func(Type, Sign) Entry {
		return fixed(direct(Dynamic, Dynamic, prim(c)))
	}
)

var rows = []row{
	// control
	{OpUnreachable, noType, noSign, control(PrimUnreachable)},
	{OpNop, noType, noSign, fixed(direct(0, 0, prim(PrimNop)))},
	{OpBlock, noType, noSign, control(PrimBlock)},
	{OpLoop, noType, noSign, control(PrimLoop)},
	{OpIf, noType, noSign, control(PrimIf)},
	{OpElse, noType, noSign, control(PrimElse)},
	{OpEnd, noType, noSign, control(PrimEnd)},
	{OpBr, noType, noSign, control(PrimBr)},
	{OpBrIf, noType, noSign, control(PrimBrIf)},
	{OpBrTable, noType, noSign, control(PrimBrTable)},
	{OpReturn, noType, noSign, control(PrimReturn)},
	{OpCall, noType, noSign, fixed(direct(Dynamic, Dynamic, prim(PrimCall)))},
	{OpCallIndirect, noType, noSign, fixed(direct(Dynamic, Dynamic, prim(PrimCallIndirect)))},

	// parametric and variable
	{OpDrop, noType, noSign, fixed(direct(1, 0, prim(PrimPop)))},
	{OpSelect, noType, noSign, fixed(direct(3, 1, prim(PrimSelect)))},
	{OpLocalGet, noType, noSign, fixed(direct(0, 1, prim(PrimLocalGet)))},
	{OpLocalSet, noType, noSign, fixed(direct(1, 0, prim(PrimLocalSet)))},
	{OpLocalTee, noType, noSign, fixed(direct(1, 1, prim(PrimLocalTee)))},
	{OpGlobalGet, noType, noSign, fixed(direct(0, 1, prim(PrimGlobalGet)))},
	{OpGlobalSet, noType, noSign, fixed(direct(1, 0, prim(PrimGlobalSet)))},

	// memory, the memarg immediate is read by the macro assembler
	{OpLoad, all, noSign, load(0)},
	{OpLoad8, ints, signs, load(1)},
	{OpLoad16, ints, signs, load(2)},
	{OpLoad32, i64, signs, load(4)},
	{OpStore, all, noSign, store(0)},
	{OpStore8, ints, noSign, store(1)},
	{OpStore16, ints, noSign, store(2)},
	{OpStore32, i64, noSign, store(4)},
	{OpMemorySize, noType, noSign, fixed(direct(0, 1, prim(PrimMemorySize)))},
	{OpMemoryGrow, noType, noSign, fixed(direct(1, 1, prim(PrimMemoryGrow)))},

	// integer
	{OpConst, all, noSign, fixed(direct(0, 1, prim(PrimConst)))},
	{OpEqz, ints, noSign, unary(PrimIsZero)},
	{OpEq, ints, noSign, binary(PrimEq)},
	{OpNe, ints, noSign, fixed(sequence(2, 1, prim(PrimEq), prim(PrimIsZero)))},
	{OpLt, ints, signs, comparison([]PrimitiveCode{PrimGt}, []PrimitiveCode{PrimSlt})},
	{OpGt, ints, signs, comparison([]PrimitiveCode{PrimLt}, []PrimitiveCode{PrimSgt})},
	{OpLe, ints, signs, comparison([]PrimitiveCode{PrimLt, PrimIsZero}, []PrimitiveCode{PrimSgt, PrimIsZero})},
	{OpGe, ints, signs, comparison([]PrimitiveCode{PrimGt, PrimIsZero}, []PrimitiveCode{PrimSlt, PrimIsZero})},
	{OpClz, ints, noSign, widthMacro(1, PrimClz)},
	{OpCtz, ints, noSign, widthMacro(1, PrimCtz)},
	{OpPopcnt, ints, noSign, widthMacro(1, PrimPopcnt)},
	{OpAdd, ints, noSign, wrapping(PrimAdd)},
	{OpSub, ints, noSign, wrapping(PrimSwap1, PrimSub)},
	{OpMul, ints, noSign, wrapping(PrimMul)},
	{OpDiv, ints, signs, division(PrimDiv, PrimSDiv)},
	{OpRem, ints, signs, division(PrimMod, PrimSMod)},
	{OpAnd, ints, noSign, binary(PrimAnd)},
	{OpOr, ints, noSign, binary(PrimOr)},
	{OpXor, ints, noSign, binary(PrimXor)},
	{OpShl, ints, noSign, func(t Type, _ Sign) Entry {
		return sequence(2, 1, sized(PrimShiftMask, t.Width()), prim(PrimShl), sized(PrimMask, t.Width()))
	}},
	{OpShr, ints, signs, func(t Type, s Sign) Entry {
		if s == Signed {
			return sequence(2, 1, sized(PrimShiftMask, t.Width()),
				prim(PrimSwap1), sized(PrimSignExtend, t.Width()), prim(PrimSwap1),
				prim(PrimSar), sized(PrimMask, t.Width()))
		}
		return sequence(2, 1, sized(PrimShiftMask, t.Width()), prim(PrimShr))
	}},
	{OpRotl, ints, noSign, widthMacro(2, PrimRotl)},
	{OpRotr, ints, noSign, widthMacro(2, PrimRotr)},

	// float, see PrimFloat
	{OpEq, floats, noSign, float2},
	{OpNe, floats, noSign, float2},
	{OpLt, floats, noSign, float2},
	{OpGt, floats, noSign, float2},
	{OpLe, floats, noSign, float2},
	{OpGe, floats, noSign, float2},
	{OpAbs, floats, noSign, float1},
	{OpNeg, floats, noSign, float1},
	{OpCeil, floats, noSign, float1},
	{OpFloor, floats, noSign, float1},
	{OpTrunc, floats, noSign, float1},
	{OpNearest, floats, noSign, float1},
	{OpSqrt, floats, noSign, float1},
	{OpAdd, floats, noSign, float2},
	{OpSub, floats, noSign, float2},
	{OpMul, floats, noSign, float2},
	{OpDiv, floats, noSign, float2},
	{OpMin, floats, noSign, float2},
	{OpMax, floats, noSign, float2},
	{OpCopysign, floats, noSign, float2},

	// conversion. Values are held zero extended, so widening without sign is free, and floats are held as their
	// bits, so reinterpretation is too.
	{OpWrap, []Type{TypeI32}, noSign, fixed(direct(1, 1, sized(PrimMask, 4)))},
	{OpExtendI32, i64, signs, func(_ Type, s Sign) Entry {
		if s == Signed {
			return sequence(1, 1, sized(PrimSignExtend, 4), sized(PrimMask, 8))
		}
		return direct(1, 1, prim(PrimNop))
	}},
	{OpReinterpret, all, noSign, fixed(direct(1, 1, prim(PrimNop)))},
	{OpTruncF32, ints, signs, float1},
	{OpTruncF64, ints, signs, float1},
	{OpConvertI32, floats, signs, float1},
	{OpConvertI64, floats, signs, float1},
	{OpDemote, []Type{TypeF32}, noSign, float1},
	{OpPromote, []Type{TypeF64}, noSign, float1},

	// Beyond WebAssembly 1.0
	{OpExtend8, ints, []Sign{Signed}, unsupported},
	{OpExtend16, ints, []Sign{Signed}, unsupported},
	{OpExtend32, i64, []Sign{Signed}, unsupported},
	{OpTruncSatF32, ints, signs, unsupported},
	{OpTruncSatF64, ints, signs, unsupported},
	{OpMemoryInit, noType, noSign, unsupported},
	{OpDataDrop, noType, noSign, unsupported},
	{OpMemoryCopy, noType, noSign, unsupported},
	{OpMemoryFill, noType, noSign, unsupported},
	{OpTableInit, noType, noSign, unsupported},
	{OpElemDrop, noType, noSign, unsupported},
	{OpTableCopy, noType, noSign, unsupported},
	{OpTableGrow, noType, noSign, unsupported},
	{OpTableSize, noType, noSign, unsupported},
	{OpTableFill, noType, noSign, unsupported},
	{OpRefNull, noType, noSign, unsupported},
	{OpRefIsNull, noType, noSign, unsupported},
	{OpRefFunc, noType, noSign, unsupported},
	{OpTypedSelect, noType, noSign, unsupported},
	{OpTableGet, noType, noSign, unsupported},
	{OpTableSet, noType, noSign, unsupported},
	{OpVector, noType, noSign, unsupported},
}

var (
	table = map[Key]Entry{}
	// duplicates are keys declared by more than one row, reported by Validate.
	duplicates []Key
)

func init() {
	for _, r := range rows {
		for _, t := range r.types {
			for _, s := range r.signs {
				k := Key{Op: r.op, Type: t, Sign: s}
				if _, ok := table[k]; ok {
					duplicates = append(duplicates, k)
					continue
				}
				table[k] = r.entry(t, s)
			}
		}
	}
	if err := Validate(); err != nil {
		panic(fmt.Sprintf("BUG: %v", err))
	}
}

// Lookup returns the Entry of the instruction. It never fails for WebAssembly 1.0 instructions, and always fails
// with UnsupportedOperatorError for anything else.
func Lookup(ins *wasm.Instruction) (Entry, error) {
	k, err := Classify(ins)
	if err != nil {
		return Entry{}, err
	}
	e, ok := table[k]
	if !ok || e.Kind == KindUnsupported {
		return Entry{}, &UnsupportedOperatorError{Instruction: ins.Name(), Offset: ins.Offset, Reason: "not in WebAssembly 1.0"}
	}
	return e, nil
}

// Validate checks the table is complete: every WebAssembly 1.0 opcode resolves to exactly one supported entry,
// every other known opcode to an unsupported one, and every declared entry is reachable from an opcode.
func Validate() error {
	if len(duplicates) > 0 {
		return fmt.Errorf("%s declared by more than one row", duplicates[0])
	}

	reached := map[Key]bool{}
	for i, k := range opcodeKeys {
		op := wasm.Opcode(i)
		if wasm.IsMVP(op) {
			if k.Op == OpUnknown {
				return fmt.Errorf("opcode %s is not classified", wasm.InstructionName(op))
			}
			e, ok := table[k]
			if !ok {
				return fmt.Errorf("opcode %s classified as %s has no entry", wasm.InstructionName(op), k)
			}
			if e.Kind == KindUnsupported {
				return fmt.Errorf("opcode %s classified as %s is unsupported", wasm.InstructionName(op), k)
			}
		} else if k.Op != OpUnknown {
			if e := table[k]; e.Kind != KindUnsupported {
				return fmt.Errorf("opcode %#x classified as %s is beyond WebAssembly 1.0 but supported", op, k)
			}
		}
		reached[k] = true
	}
	for misc, k := range miscKeys {
		if e := table[k]; e.Kind != KindUnsupported {
			return fmt.Errorf("misc opcode %s classified as %s is supported", wasm.MiscInstructionName(misc), k)
		}
		reached[k] = true
	}

	for k, e := range table {
		if !reached[k] {
			return fmt.Errorf("entry %s is not reachable from any opcode", k)
		}
		switch e.Kind {
		case KindDirect:
			if len(e.Steps) != 1 {
				return fmt.Errorf("direct entry %s has %d steps", k, len(e.Steps))
			}
		case KindSequence:
			if len(e.Steps) < 2 {
				return fmt.Errorf("sequence entry %s has %d steps", k, len(e.Steps))
			}
		case KindUnsupported:
			if len(e.Steps) != 0 {
				return fmt.Errorf("unsupported entry %s has steps", k)
			}
		}
		for _, p := range e.Steps {
			if p.Code == primitiveUnknown || p.Code >= primitiveCount {
				return fmt.Errorf("entry %s has an invalid primitive %s", k, p)
			}
		}
	}
	return nil
}

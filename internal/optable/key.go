// Package optable classifies WebAssembly instructions by operation, numeric type and signedness, and maps every
// classification onto the EVM primitives which implement it.
//
// The table is built once from declarative rows and checked for completeness by Validate at package initialization.
package optable

import "fmt"

// Type is the numeric type axis of a Key.
type Type byte

const (
	TypeNone Type = iota
	TypeI32
	TypeI64
	TypeF32
	TypeF64
)

func (t Type) String() (ret string) {
	switch t {
	case TypeNone:
		ret = "none"
	case TypeI32:
		ret = "i32"
	case TypeI64:
		ret = "i64"
	case TypeF32:
		ret = "f32"
	case TypeF64:
		ret = "f64"
	}
	return
}

// Width returns the byte width of values of this type, or zero for TypeNone.
func (t Type) Width() uint8 {
	switch t {
	case TypeI32, TypeF32:
		return 4
	case TypeI64, TypeF64:
		return 8
	}
	return 0
}

// IsFloat returns true for TypeF32 and TypeF64.
func (t Type) IsFloat() bool {
	return t == TypeF32 || t == TypeF64
}

// Sign is the signedness axis of a Key. Operations which behave the same on both interpretations use SignNone.
type Sign byte

const (
	SignNone Sign = iota
	Signed
	Unsigned
)

func (s Sign) String() (ret string) {
	switch s {
	case SignNone:
		ret = ""
	case Signed:
		ret = "s"
	case Unsigned:
		ret = "u"
	}
	return
}

// Op is the operation family axis of a Key, independent of the type it applies to.
type Op uint16

const (
	// OpUnknown is the zero value, never the Op of a classified instruction.
	OpUnknown Op = iota

	// control
	OpUnreachable
	OpNop
	OpBlock
	OpLoop
	OpIf
	OpElse
	OpEnd
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpCall
	OpCallIndirect

	// parametric and variable
	OpDrop
	OpSelect
	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet

	// memory
	OpLoad
	OpLoad8
	OpLoad16
	OpLoad32
	OpStore
	OpStore8
	OpStore16
	OpStore32
	OpMemorySize
	OpMemoryGrow

	// numeric
	OpConst
	OpEqz
	OpEq
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
	OpClz
	OpCtz
	OpPopcnt
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpRotl
	OpRotr
	OpAbs
	OpNeg
	OpCeil
	OpFloor
	OpTrunc
	OpNearest
	OpSqrt
	OpMin
	OpMax
	OpCopysign

	// conversion, the suffix names the source type where the result type does not determine it
	OpWrap
	OpTruncF32
	OpTruncF64
	OpExtendI32
	OpConvertI32
	OpConvertI64
	OpDemote
	OpPromote
	OpReinterpret

	// post-MVP
	OpExtend8
	OpExtend16
	OpExtend32
	OpTruncSatF32
	OpTruncSatF64
	OpMemoryInit
	OpDataDrop
	OpMemoryCopy
	OpMemoryFill
	OpTableInit
	OpElemDrop
	OpTableCopy
	OpTableGrow
	OpTableSize
	OpTableFill
	OpRefNull
	OpRefIsNull
	OpRefFunc
	OpTypedSelect
	OpTableGet
	OpTableSet
	OpVector

	opCount
)

var opNames = [opCount]string{
	OpUnknown:      "unknown",
	OpUnreachable:  "unreachable",
	OpNop:          "nop",
	OpBlock:        "block",
	OpLoop:         "loop",
	OpIf:           "if",
	OpElse:         "else",
	OpEnd:          "end",
	OpBr:           "br",
	OpBrIf:         "br_if",
	OpBrTable:      "br_table",
	OpReturn:       "return",
	OpCall:         "call",
	OpCallIndirect: "call_indirect",
	OpDrop:         "drop",
	OpSelect:       "select",
	OpLocalGet:     "local.get",
	OpLocalSet:     "local.set",
	OpLocalTee:     "local.tee",
	OpGlobalGet:    "global.get",
	OpGlobalSet:    "global.set",
	OpLoad:         "load",
	OpLoad8:        "load8",
	OpLoad16:       "load16",
	OpLoad32:       "load32",
	OpStore:        "store",
	OpStore8:       "store8",
	OpStore16:      "store16",
	OpStore32:      "store32",
	OpMemorySize:   "memory.size",
	OpMemoryGrow:   "memory.grow",
	OpConst:        "const",
	OpEqz:          "eqz",
	OpEq:           "eq",
	OpNe:           "ne",
	OpLt:           "lt",
	OpGt:           "gt",
	OpLe:           "le",
	OpGe:           "ge",
	OpClz:          "clz",
	OpCtz:          "ctz",
	OpPopcnt:       "popcnt",
	OpAdd:          "add",
	OpSub:          "sub",
	OpMul:          "mul",
	OpDiv:          "div",
	OpRem:          "rem",
	OpAnd:          "and",
	OpOr:           "or",
	OpXor:          "xor",
	OpShl:          "shl",
	OpShr:          "shr",
	OpRotl:         "rotl",
	OpRotr:         "rotr",
	OpAbs:          "abs",
	OpNeg:          "neg",
	OpCeil:         "ceil",
	OpFloor:        "floor",
	OpTrunc:        "trunc",
	OpNearest:      "nearest",
	OpSqrt:         "sqrt",
	OpMin:          "min",
	OpMax:          "max",
	OpCopysign:     "copysign",
	OpWrap:         "wrap_i64",
	OpTruncF32:     "trunc_f32",
	OpTruncF64:     "trunc_f64",
	OpExtendI32:    "extend_i32",
	OpConvertI32:   "convert_i32",
	OpConvertI64:   "convert_i64",
	OpDemote:       "demote_f64",
	OpPromote:      "promote_f32",
	OpReinterpret:  "reinterpret",
	OpExtend8:      "extend8",
	OpExtend16:     "extend16",
	OpExtend32:     "extend32",
	OpTruncSatF32:  "trunc_sat_f32",
	OpTruncSatF64:  "trunc_sat_f64",
	OpMemoryInit:   "memory.init",
	OpDataDrop:     "data.drop",
	OpMemoryCopy:   "memory.copy",
	OpMemoryFill:   "memory.fill",
	OpTableInit:    "table.init",
	OpElemDrop:     "elem.drop",
	OpTableCopy:    "table.copy",
	OpTableGrow:    "table.grow",
	OpTableSize:    "table.size",
	OpTableFill:    "table.fill",
	OpRefNull:      "ref.null",
	OpRefIsNull:    "ref.is_null",
	OpRefFunc:      "ref.func",
	OpTypedSelect:  "select_t",
	OpTableGet:     "table.get",
	OpTableSet:     "table.set",
	OpVector:       "v128",
}

func (o Op) String() string {
	if o < opCount {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint16(o))
}

// Key is the classification of one instruction.
type Key struct {
	Op   Op
	Type Type
	Sign Sign
}

// String returns the key in the text format of the instruction it classifies, e.g. "i32.lt_s".
func (k Key) String() string {
	name := k.Op.String()
	if k.Type != TypeNone {
		name = k.Type.String() + "." + name
	}
	if k.Sign != SignNone {
		name += "_" + k.Sign.String()
	}
	return name
}

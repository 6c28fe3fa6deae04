package optable

import (
	"github.com/wasmevm/wasmevm/internal/wasm"
)

var (
	opcodeKeys [256]Key
	miscKeys   = map[wasm.OpcodeMisc]Key{}
)

// keyRun is a run of keys assigned to consecutive opcodes.
type keyRun []Key

// intCompare is the order of integer comparison opcodes, starting at i32.eqz and i64.eqz.
var intCompare = []Key{
	{Op: OpEqz}, {Op: OpEq}, {Op: OpNe},
	{Op: OpLt, Sign: Signed}, {Op: OpLt, Sign: Unsigned},
	{Op: OpGt, Sign: Signed}, {Op: OpGt, Sign: Unsigned},
	{Op: OpLe, Sign: Signed}, {Op: OpLe, Sign: Unsigned},
	{Op: OpGe, Sign: Signed}, {Op: OpGe, Sign: Unsigned},
}

// floatCompare is the order of float comparison opcodes, starting at f32.eq and f64.eq.
var floatCompare = []Key{{Op: OpEq}, {Op: OpNe}, {Op: OpLt}, {Op: OpGt}, {Op: OpLe}, {Op: OpGe}}

// intArith is the order of integer arithmetic opcodes, starting at i32.clz and i64.clz.
var intArith = []Key{
	{Op: OpClz}, {Op: OpCtz}, {Op: OpPopcnt},
	{Op: OpAdd}, {Op: OpSub}, {Op: OpMul},
	{Op: OpDiv, Sign: Signed}, {Op: OpDiv, Sign: Unsigned},
	{Op: OpRem, Sign: Signed}, {Op: OpRem, Sign: Unsigned},
	{Op: OpAnd}, {Op: OpOr}, {Op: OpXor},
	{Op: OpShl}, {Op: OpShr, Sign: Signed}, {Op: OpShr, Sign: Unsigned},
	{Op: OpRotl}, {Op: OpRotr},
}

// floatArith is the order of float arithmetic opcodes, starting at f32.abs and f64.abs.
var floatArith = []Key{
	{Op: OpAbs}, {Op: OpNeg}, {Op: OpCeil}, {Op: OpFloor}, {Op: OpTrunc}, {Op: OpNearest}, {Op: OpSqrt},
	{Op: OpAdd}, {Op: OpSub}, {Op: OpMul}, {Op: OpDiv}, {Op: OpMin}, {Op: OpMax}, {Op: OpCopysign},
}

func typed(keys []Key, t Type) keyRun {
	ret := make(keyRun, len(keys))
	for i, k := range keys {
		k.Type = t
		ret[i] = k
	}
	return ret
}

func assignRun(start wasm.Opcode, run keyRun) {
	for i, k := range run {
		opcodeKeys[int(start)+i] = k
	}
}

func init() {
	assignRun(wasm.OpcodeUnreachable, keyRun{{Op: OpUnreachable}, {Op: OpNop}, {Op: OpBlock}, {Op: OpLoop}, {Op: OpIf}, {Op: OpElse}})
	assignRun(wasm.OpcodeEnd, keyRun{
		{Op: OpEnd}, {Op: OpBr}, {Op: OpBrIf}, {Op: OpBrTable}, {Op: OpReturn}, {Op: OpCall}, {Op: OpCallIndirect},
	})
	assignRun(wasm.OpcodeDrop, keyRun{{Op: OpDrop}, {Op: OpSelect}, {Op: OpTypedSelect}})
	assignRun(wasm.OpcodeLocalGet, keyRun{
		{Op: OpLocalGet}, {Op: OpLocalSet}, {Op: OpLocalTee}, {Op: OpGlobalGet}, {Op: OpGlobalSet},
		{Op: OpTableGet}, {Op: OpTableSet},
	})

	assignRun(wasm.OpcodeI32Load, keyRun{
		{OpLoad, TypeI32, SignNone}, {OpLoad, TypeI64, SignNone}, {OpLoad, TypeF32, SignNone}, {OpLoad, TypeF64, SignNone},
		{OpLoad8, TypeI32, Signed}, {OpLoad8, TypeI32, Unsigned}, {OpLoad16, TypeI32, Signed}, {OpLoad16, TypeI32, Unsigned},
		{OpLoad8, TypeI64, Signed}, {OpLoad8, TypeI64, Unsigned}, {OpLoad16, TypeI64, Signed}, {OpLoad16, TypeI64, Unsigned},
		{OpLoad32, TypeI64, Signed}, {OpLoad32, TypeI64, Unsigned},
		{OpStore, TypeI32, SignNone}, {OpStore, TypeI64, SignNone}, {OpStore, TypeF32, SignNone}, {OpStore, TypeF64, SignNone},
		{OpStore8, TypeI32, SignNone}, {OpStore16, TypeI32, SignNone},
		{OpStore8, TypeI64, SignNone}, {OpStore16, TypeI64, SignNone}, {OpStore32, TypeI64, SignNone},
		{Op: OpMemorySize}, {Op: OpMemoryGrow},
		{OpConst, TypeI32, SignNone}, {OpConst, TypeI64, SignNone}, {OpConst, TypeF32, SignNone}, {OpConst, TypeF64, SignNone},
	})

	assignRun(wasm.OpcodeI32Eqz, typed(intCompare, TypeI32))
	assignRun(wasm.OpcodeI64Eqz, typed(intCompare, TypeI64))
	assignRun(wasm.OpcodeF32Eq, typed(floatCompare, TypeF32))
	assignRun(wasm.OpcodeF64Eq, typed(floatCompare, TypeF64))
	assignRun(wasm.OpcodeI32Clz, typed(intArith, TypeI32))
	assignRun(wasm.OpcodeI64Clz, typed(intArith, TypeI64))
	assignRun(wasm.OpcodeF32Abs, typed(floatArith, TypeF32))
	assignRun(wasm.OpcodeF64Abs, typed(floatArith, TypeF64))

	assignRun(wasm.OpcodeI32WrapI64, keyRun{
		{OpWrap, TypeI32, SignNone},
		{OpTruncF32, TypeI32, Signed}, {OpTruncF32, TypeI32, Unsigned},
		{OpTruncF64, TypeI32, Signed}, {OpTruncF64, TypeI32, Unsigned},
		{OpExtendI32, TypeI64, Signed}, {OpExtendI32, TypeI64, Unsigned},
		{OpTruncF32, TypeI64, Signed}, {OpTruncF32, TypeI64, Unsigned},
		{OpTruncF64, TypeI64, Signed}, {OpTruncF64, TypeI64, Unsigned},
		{OpConvertI32, TypeF32, Signed}, {OpConvertI32, TypeF32, Unsigned},
		{OpConvertI64, TypeF32, Signed}, {OpConvertI64, TypeF32, Unsigned},
		{OpDemote, TypeF32, SignNone},
		{OpConvertI32, TypeF64, Signed}, {OpConvertI32, TypeF64, Unsigned},
		{OpConvertI64, TypeF64, Signed}, {OpConvertI64, TypeF64, Unsigned},
		{OpPromote, TypeF64, SignNone},
		{OpReinterpret, TypeI32, SignNone}, {OpReinterpret, TypeI64, SignNone},
		{OpReinterpret, TypeF32, SignNone}, {OpReinterpret, TypeF64, SignNone},
		// sign-extension operators
		{OpExtend8, TypeI32, Signed}, {OpExtend16, TypeI32, Signed},
		{OpExtend8, TypeI64, Signed}, {OpExtend16, TypeI64, Signed}, {OpExtend32, TypeI64, Signed},
	})

	assignRun(wasm.OpcodeRefNull, keyRun{{Op: OpRefNull}, {Op: OpRefIsNull}, {Op: OpRefFunc}})
	opcodeKeys[wasm.OpcodeVecPrefix] = Key{Op: OpVector}

	for i, k := range []Key{
		{OpTruncSatF32, TypeI32, Signed}, {OpTruncSatF32, TypeI32, Unsigned},
		{OpTruncSatF64, TypeI32, Signed}, {OpTruncSatF64, TypeI32, Unsigned},
		{OpTruncSatF32, TypeI64, Signed}, {OpTruncSatF32, TypeI64, Unsigned},
		{OpTruncSatF64, TypeI64, Signed}, {OpTruncSatF64, TypeI64, Unsigned},
		{Op: OpMemoryInit}, {Op: OpDataDrop}, {Op: OpMemoryCopy}, {Op: OpMemoryFill},
		{Op: OpTableInit}, {Op: OpElemDrop}, {Op: OpTableCopy},
		{Op: OpTableGrow}, {Op: OpTableSize}, {Op: OpTableFill},
	} {
		miscKeys[wasm.OpcodeMisc(i)] = k
	}
}

// Classify returns the Key of the instruction, or an UnsupportedOperatorError if the opcode is not known at all.
func Classify(ins *wasm.Instruction) (Key, error) {
	var k Key
	if ins.Opcode == wasm.OpcodeMiscPrefix {
		k = miscKeys[ins.Misc]
	} else {
		k = opcodeKeys[ins.Opcode]
	}
	if k.Op == OpUnknown {
		return k, &UnsupportedOperatorError{Instruction: ins.Name(), Offset: ins.Offset, Reason: "unknown opcode"}
	}
	return k, nil
}

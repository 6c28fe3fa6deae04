package wasm

import (
	"fmt"
	"strings"
)

// BlockType is the signature of a block, loop or if.
//
// See https://www.w3.org/TR/wasm-core-1/#binary-blocktype
type BlockType struct {
	// Results is empty for the 0x40 encoding or has one value type.
	Results []ValueType
	// TypeIndex is set when the block type was encoded as a type index, which is only valid with the multi-value
	// proposal. Params and Results are then copied from TypeSection[*TypeIndex].
	TypeIndex *Index
	Params    []ValueType
}

// MemArg is the immediate of load and store instructions.
//
// See https://www.w3.org/TR/wasm-core-1/#binary-memarg
type MemArg struct {
	// Align is the log2 of the alignment hint. It never affects semantics.
	Align  uint32
	Offset uint32
}

// Instruction is one decoded instruction of a function body.
//
// Only the immediates relevant to Opcode are set.
type Instruction struct {
	// Offset is the position of the opcode in the function body.
	Offset uint64
	Opcode Opcode
	// Misc is the sub-opcode when Opcode is OpcodeMiscPrefix or OpcodeVecPrefix.
	Misc OpcodeMisc

	Block BlockType
	// Index is the local, global, function, type or label depth immediate.
	Index Index
	// TableIndex is the table immediate of call_indirect.
	TableIndex Index
	// Targets and Default are the label depths of br_table.
	Targets []Index
	Default Index
	MemArg  MemArg

	I32 int32
	I64 int64
	// F32 and F64 are the raw IEEE 754 bits of the constant.
	F32 uint32
	F64 uint64
}

// Name returns the text format name of the instruction.
func (i *Instruction) Name() string {
	switch i.Opcode {
	case OpcodeMiscPrefix:
		if n := MiscInstructionName(i.Misc); n != "" {
			return n
		}
		return fmt.Sprintf("misc(%#x)", i.Misc)
	case OpcodeVecPrefix:
		return fmt.Sprintf("vec(%#x)", i.Misc)
	}
	if n := InstructionName(i.Opcode); n != "" {
		return n
	}
	return fmt.Sprintf("unknown(%#x)", i.Opcode)
}

// String includes the immediates, for use in logs and error messages.
func (i *Instruction) String() string {
	var b strings.Builder
	b.WriteString(i.Name())
	switch i.Opcode {
	case OpcodeBr, OpcodeBrIf, OpcodeCall, OpcodeLocalGet, OpcodeLocalSet, OpcodeLocalTee,
		OpcodeGlobalGet, OpcodeGlobalSet, OpcodeCallIndirect:
		fmt.Fprintf(&b, " %d", i.Index)
	case OpcodeBrTable:
		for _, t := range i.Targets {
			fmt.Fprintf(&b, " %d", t)
		}
		fmt.Fprintf(&b, " %d", i.Default)
	case OpcodeI32Const:
		fmt.Fprintf(&b, " %d", i.I32)
	case OpcodeI64Const:
		fmt.Fprintf(&b, " %d", i.I64)
	default:
		if i.IsMemoryAccess() {
			fmt.Fprintf(&b, " offset=%d align=%d", i.MemArg.Offset, 1<<i.MemArg.Align)
		}
	}
	return b.String()
}

// IsMemoryAccess returns true for load and store instructions, the ones with a MemArg immediate.
func (i *Instruction) IsMemoryAccess() bool {
	return i.Opcode >= OpcodeI32Load && i.Opcode <= OpcodeI64Store32
}

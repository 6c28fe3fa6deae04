package codegen

import (
	"github.com/wasmevm/wasmevm/internal/asm"
	"github.com/wasmevm/wasmevm/internal/evm"
	"github.com/wasmevm/wasmevm/internal/optable"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// MacroAssembler is what the generator needs from the target: one method per primitive of the dispatch table plus
// labels for structured control flow. *masm.Assembler implements it.
type MacroAssembler interface {
	// Check is called for every instruction before anything is emitted.
	Check(ins *wasm.Instruction, e optable.Entry) error
	// Enter writes the prologue of the function.
	Enter() error
	// Return leaves the function with its results on the stack.
	Return()

	Op(ops ...evm.OpCode)
	Const(v uint64)
	Dup(n int)
	DropKeep(drop, keep int) error

	Mask(width uint8)
	SignExtend(width uint8)
	SignExtendPair(width uint8)
	ShiftMask(width uint8)
	TrapIfZero()
	TrapIfDivOverflow(width uint8)
	Clz(width uint8)
	Ctz(width uint8)
	Popcnt(width uint8)
	Rotl(width uint8)
	Rotr(width uint8)

	Load(width uint8, arg wasm.MemArg)
	Store(width uint8, arg wasm.MemArg)
	MemorySize()
	MemoryGrow() error

	LocalGet(idx wasm.Index)
	LocalSet(idx wasm.Index)
	LocalTee(idx wasm.Index)
	GlobalGet(idx wasm.Index)
	GlobalSet(idx wasm.Index)
	Select()

	Call(fn wasm.Index) error
	CallIndirect(typeIdx wasm.Index) error
	Float(ins *wasm.Instruction) error
	Trap()

	NewLabel() asm.Label
	Bind(l asm.Label) error
	Jump(l asm.Label)
	JumpI(l asm.Label)
}

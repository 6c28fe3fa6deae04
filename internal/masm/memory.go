package masm

import (
	"github.com/wasmevm/wasmevm/internal/evm"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// addMemoryBase turns the linear memory address on the top of the stack into an EVM memory address. Addresses are
// not bounds checked: EVM memory grows on access and the gas limit bounds it instead.
func (a *Assembler) addMemoryBase(offset uint32) {
	if base := a.p.layout.MemoryBase + uint64(offset); base != 0 {
		a.seg.Push(base)
		a.seg.Op(evm.ADD)
	}
}

// Load pops an address and pushes the width bytes at address+arg.Offset, little-endian as WebAssembly requires.
func (a *Assembler) Load(width uint8, arg wasm.MemArg) {
	a.addMemoryBase(arg.Offset)
	// [W] where the bytes to load are the most significant ones of W.
	a.seg.Op(evm.MLOAD, evm.DUP1, evm.PUSH0, evm.BYTE)
	for i := 1; i < int(width); i++ {
		// [W, acc] -> [W, acc | BYTE(i, W) << 8i]
		a.seg.Op(evm.Dup(2))
		a.seg.Push(uint64(i))
		a.seg.Op(evm.BYTE)
		a.seg.Push(uint64(8 * i))
		a.seg.Op(evm.SHL, evm.OR)
	}
	a.seg.Op(evm.SWAP1, evm.POP)
}

// Store pops [address, value] and writes the low width bytes of value at address+arg.Offset, little-endian.
func (a *Assembler) Store(width uint8, arg wasm.MemArg) {
	a.seg.Op(evm.SWAP1)
	a.addMemoryBase(arg.Offset)
	// [v, addr]
	for i := 0; i < int(width); i++ {
		a.seg.Op(evm.Dup(2))
		if i > 0 {
			a.seg.Push(uint64(8 * i))
			a.seg.Op(evm.SHR)
		}
		a.seg.Op(evm.Dup(2))
		if i > 0 {
			a.seg.Push(uint64(i))
			a.seg.Op(evm.ADD)
		}
		a.seg.Op(evm.MSTORE8)
	}
	a.seg.Op(evm.POP, evm.POP)
}

// MemorySize pushes the current count of pages.
func (a *Assembler) MemorySize() {
	a.seg.Push(MemoryPagesSlot)
	a.seg.Op(evm.MLOAD)
}

// MemoryGrow pops a count of pages to add and pushes the previous count, or -1 if the maximum would be exceeded.
// Only the count changes: EVM memory needs no allocation.
func (a *Assembler) MemoryGrow() error {
	fail, done := a.seg.NewLabel(), a.seg.NewLabel()
	a.MemorySize()
	// [delta, old] -> [old, new]
	a.seg.Op(evm.SWAP1, evm.Dup(2), evm.ADD)
	a.seg.Op(evm.DUP1)
	a.seg.Push(uint64(a.p.maxPages))
	a.seg.Op(evm.LT)
	a.seg.JumpI(fail)
	a.seg.Push(MemoryPagesSlot)
	a.seg.Op(evm.MSTORE)
	a.seg.Jump(done)
	if err := a.seg.Bind(fail); err != nil {
		return err
	}
	a.seg.Op(evm.POP, evm.POP)
	a.seg.Push(0xffffffff)
	return a.seg.Bind(done)
}

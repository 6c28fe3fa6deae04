package masm

import (
	"fmt"

	"github.com/wasmevm/wasmevm/internal/asm"
	"github.com/wasmevm/wasmevm/internal/evm"
	"github.com/wasmevm/wasmevm/internal/optable"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// Assembler emits the code of one function into its own segment.
//
// WebAssembly operands live on the EVM stack. Integers are held zero extended from their width, so every operation
// which can carry past the width masks its result. Locals live in the static frame of the function.
type Assembler struct {
	p     *Program
	fn    wasm.Index
	frame Frame
	seg   *asm.Assembler
}

// Segment returns the code written so far.
func (a *Assembler) Segment() *asm.Assembler {
	return a.seg
}

// Check is called for every instruction of a function before anything is emitted, and rejects those the
// assembler cannot compile.
func (a *Assembler) Check(ins *wasm.Instruction, e optable.Entry) error {
	m := a.p.module
	for _, step := range e.Steps {
		switch step.Code {
		case optable.PrimFloat:
			if err := a.checkFloat(ins); err != nil {
				return err
			}
		case optable.PrimLocalGet, optable.PrimLocalSet, optable.PrimLocalTee:
			if ins.Index >= uint32(a.frame.Params+a.frame.Locals) {
				return fmt.Errorf("offset %#x: %s: local index %d out of range", ins.Offset, ins.Name(), ins.Index)
			}
		case optable.PrimGlobalGet, optable.PrimGlobalSet:
			if int(ins.Index) >= a.p.layout.Globals {
				return fmt.Errorf("offset %#x: %s: global index %d out of range", ins.Offset, ins.Name(), ins.Index)
			}
		case optable.PrimLoad, optable.PrimStore, optable.PrimMemorySize, optable.PrimMemoryGrow:
			if len(m.MemorySection) == 0 {
				return fmt.Errorf("offset %#x: %s: module has no memory", ins.Offset, ins.Name())
			}
		case optable.PrimCall:
			if int(ins.Index) >= int(a.p.imported)+len(m.FunctionSection) {
				return fmt.Errorf("offset %#x: call: function index %d out of range", ins.Offset, ins.Index)
			}
			if ins.Index < a.p.imported && a.p.hosts[ins.Index] == nil {
				imp := m.ImportedFunction(ins.Index)
				return &optable.UnsupportedOperatorError{
					Instruction: ins.Name(),
					Offset:      ins.Offset,
					Reason:      fmt.Sprintf("unknown host function %s.%s", imp.Module, imp.Name),
				}
			}
		case optable.PrimCallIndirect:
			if int(ins.Index) >= len(m.TypeSection) {
				return fmt.Errorf("offset %#x: call_indirect: type index %d out of range", ins.Offset, ins.Index)
			}
			if len(m.TableSection) == 0 {
				return fmt.Errorf("offset %#x: call_indirect: module has no table", ins.Offset)
			}
		}
	}
	return nil
}

// Op writes target instructions without immediates.
func (a *Assembler) Op(ops ...evm.OpCode) {
	a.seg.Op(ops...)
}

// Const pushes a value as held on the stack.
func (a *Assembler) Const(v uint64) {
	a.seg.Push(v)
}

// Dup copies the n-th value from the top, 1 being the top.
func (a *Assembler) Dup(n int) {
	a.seg.Op(evm.Dup(n))
}

// DropKeep removes drop values below the keep topmost ones.
func (a *Assembler) DropKeep(drop, keep int) error {
	switch {
	case drop == 0:
	case keep == 0:
		for i := 0; i < drop; i++ {
			a.seg.Op(evm.POP)
		}
	case keep == 1:
		for i := 0; i < drop; i++ {
			a.seg.Op(evm.SWAP1, evm.POP)
		}
	default:
		return fmt.Errorf("cannot keep %d values across a branch", keep)
	}
	return nil
}

// NewLabel returns a label local to this function.
func (a *Assembler) NewLabel() asm.Label {
	return a.seg.NewLabel()
}

// Bind binds the label to the current position.
func (a *Assembler) Bind(l asm.Label) error {
	return a.seg.Bind(l)
}

// Jump jumps to the label.
func (a *Assembler) Jump(l asm.Label) {
	a.seg.Jump(l)
}

// JumpI pops a condition and jumps to the label when it is not zero.
func (a *Assembler) JumpI(l asm.Label) {
	a.seg.JumpI(l)
}

// Trap stops execution with INVALID, consuming all gas as WebAssembly traps do.
func (a *Assembler) Trap() {
	a.seg.Op(evm.INVALID)
}

// TrapIfZero traps when the top of the stack is zero, leaving it in place.
func (a *Assembler) TrapIfZero() {
	a.seg.Op(evm.DUP1, evm.ISZERO)
	a.seg.PushSymbol(TrapSymbol, 0)
	a.seg.Op(evm.JUMPI)
}

// TrapIfDivOverflow traps when the top of the stack is the minimum value of width bytes and the value below it is
// -1, which is the only signed quotient out of range. Both must be sign extended and are left in place.
func (a *Assembler) TrapIfDivOverflow(width uint8) {
	// [b, a] -> [b, a, a == min]
	a.seg.Op(evm.DUP1)
	a.seg.Push(uint64(1) << (8*uint(width) - 1))
	a.SignExtend(width)
	a.seg.Op(evm.EQ)
	// b == -1 when b + 1 wraps to zero.
	a.seg.Op(evm.Dup(3))
	a.seg.Push(1)
	a.seg.Op(evm.ADD, evm.ISZERO, evm.AND)
	a.seg.PushSymbol(TrapSymbol, 0)
	a.seg.Op(evm.JUMPI)
}

// Mask truncates the top of the stack to width bytes.
func (a *Assembler) Mask(width uint8) {
	a.seg.PushN(int(width), 1<<(8*uint(width))-1)
	a.seg.Op(evm.AND)
}

// SignExtend extends the sign bit of the low width bytes of the top of the stack to the whole word.
func (a *Assembler) SignExtend(width uint8) {
	a.seg.Push(uint64(width - 1))
	a.seg.Op(evm.SIGNEXTEND)
}

// SignExtendPair sign extends the two topmost values, leaving them swapped.
func (a *Assembler) SignExtendPair(width uint8) {
	a.SignExtend(width)
	a.seg.Op(evm.SWAP1)
	a.SignExtend(width)
}

// ShiftMask reduces the shift count on the top of the stack modulo the bit width.
func (a *Assembler) ShiftMask(width uint8) {
	a.seg.Push(uint64(8*width - 1))
	a.seg.Op(evm.AND)
}

// Clz counts leading zero bits by binary search over the bit length.
func (a *Assembler) Clz(width uint8) {
	bits := uint64(8 * width)
	// [x] -> [n, x], the loop keeps n + bitlen(x) constant.
	a.seg.Op(evm.PUSH0, evm.SWAP1)
	for s := bits / 2; s > 0; s /= 2 {
		// k = (x >= 1<<s) * s
		a.seg.Op(evm.DUP1)
		a.seg.Push(1 << s)
		a.seg.Op(evm.GT, evm.ISZERO)
		a.seg.Push(s)
		a.seg.Op(evm.MUL)
		// [n, x, k] -> [n+k, x>>k]
		a.seg.Op(evm.SWAP1, evm.Dup(2), evm.SHR, evm.Swap(2), evm.ADD, evm.SWAP1)
	}
	a.seg.Op(evm.ADD)
	a.seg.Push(bits)
	a.seg.Op(evm.SUB)
}

// Ctz counts trailing zero bits as the population count of the bits below the lowest set bit.
func (a *Assembler) Ctz(width uint8) {
	a.seg.Op(evm.DUP1)
	a.seg.Push(1)
	a.seg.Op(evm.SWAP1, evm.SUB, evm.SWAP1, evm.NOT, evm.AND)
	a.Mask(width)
	a.Popcnt(width)
}

// Popcnt counts set bits with the usual SWAR reduction.
func (a *Assembler) Popcnt(width uint8) {
	w := int(width)
	m1, m2, m4, h01 := uint64(0x5555555555555555), uint64(0x3333333333333333), uint64(0x0f0f0f0f0f0f0f0f), uint64(0x0101010101010101)
	if width == 4 {
		m1, m2, m4, h01 = m1&0xffffffff, m2&0xffffffff, m4&0xffffffff, h01&0xffffffff
	}
	// x -= (x >> 1) & m1
	a.seg.Op(evm.DUP1)
	a.seg.Push(1)
	a.seg.Op(evm.SHR)
	a.seg.PushN(w, m1)
	a.seg.Op(evm.AND, evm.SWAP1, evm.SUB)
	// x = (x & m2) + ((x >> 2) & m2)
	a.seg.Op(evm.DUP1)
	a.seg.PushN(w, m2)
	a.seg.Op(evm.AND, evm.SWAP1)
	a.seg.Push(2)
	a.seg.Op(evm.SHR)
	a.seg.PushN(w, m2)
	a.seg.Op(evm.AND, evm.ADD)
	// x = (x + (x >> 4)) & m4
	a.seg.Op(evm.DUP1)
	a.seg.Push(4)
	a.seg.Op(evm.SHR, evm.ADD)
	a.seg.PushN(w, m4)
	a.seg.Op(evm.AND)
	// (x * h01) >> (bits - 8), the word is wide enough for the product not to wrap.
	a.seg.PushN(w, h01)
	a.seg.Op(evm.MUL)
	a.seg.Push(uint64(8*width - 8))
	a.seg.Op(evm.SHR)
	a.seg.Push(0xff)
	a.seg.Op(evm.AND)
}

// Rotl rotates [x, k] left by k modulo the bit width.
func (a *Assembler) Rotl(width uint8) {
	a.rotate(width, evm.SHL, evm.SHR)
}

// Rotr rotates [x, k] right by k modulo the bit width.
func (a *Assembler) Rotr(width uint8) {
	a.rotate(width, evm.SHR, evm.SHL)
}

func (a *Assembler) rotate(width uint8, by, back evm.OpCode) {
	a.ShiftMask(width)
	// [x, k] -> [x by k, x, k]
	a.seg.Op(evm.Dup(2), evm.Dup(2), by, evm.Swap(2), evm.SWAP1)
	// [x by k, x back (bits-k)]
	a.seg.Push(uint64(8 * width))
	a.seg.Op(evm.SUB, back, evm.OR)
	a.Mask(width)
}

// Select pops [a, b, c] and pushes a if c is not zero, else b, without branching.
func (a *Assembler) Select() {
	// b ^ ((a ^ b) * (c != 0))
	a.seg.Op(evm.ISZERO, evm.ISZERO, evm.Swap(2), evm.Dup(2), evm.XOR, evm.Dup(3), evm.MUL, evm.XOR, evm.SWAP1, evm.POP)
}

// LocalGet pushes a local variable.
func (a *Assembler) LocalGet(idx wasm.Index) {
	a.seg.Push(a.frame.Local(idx))
	a.seg.Op(evm.MLOAD)
}

// LocalSet pops into a local variable.
func (a *Assembler) LocalSet(idx wasm.Index) {
	a.seg.Push(a.frame.Local(idx))
	a.seg.Op(evm.MSTORE)
}

// LocalTee copies the top of the stack into a local variable.
func (a *Assembler) LocalTee(idx wasm.Index) {
	a.seg.Op(evm.DUP1)
	a.LocalSet(idx)
}

// GlobalGet pushes a global.
func (a *Assembler) GlobalGet(idx wasm.Index) {
	a.seg.Push(a.p.layout.GlobalSlot(idx))
	a.seg.Op(evm.MLOAD)
}

// GlobalSet pops into a global.
func (a *Assembler) GlobalSet(idx wasm.Index) {
	a.seg.Push(a.p.layout.GlobalSlot(idx))
	a.seg.Op(evm.MSTORE)
}

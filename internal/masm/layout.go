package masm

import (
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// WordSize is the size of an EVM memory word.
const WordSize = 32

// Fixed regions at the start of EVM memory.
const (
	// ScratchBase is where results are placed before RETURN.
	ScratchBase = 0x00
	// MemoryPagesSlot holds the current count of linear memory pages.
	MemoryPagesSlot = 0x40
	// GlobalsBase is the slot of global 0. Each global takes one word.
	GlobalsBase = 0x60
)

// Frame is the static memory frame of one defined function. Frames are never shared between functions, which is
// why recursion cannot be compiled.
type Frame struct {
	Base   uint64
	Params int
	Locals int
}

// ReturnSlot is where the prologue stores the return address.
func (f Frame) ReturnSlot() uint64 {
	return f.Base
}

// Local returns the slot of a local variable, parameters first.
func (f Frame) Local(idx wasm.Index) uint64 {
	return f.Base + WordSize*(1+uint64(idx))
}

// Size is the count of bytes used by the frame.
func (f Frame) Size() uint64 {
	return WordSize * (1 + uint64(f.Params) + uint64(f.Locals))
}

// Layout assigns EVM memory to globals, function frames and the linear memory.
type Layout struct {
	Globals int
	// Frames is indexed by the index of the function minus the count of imported functions.
	Frames []Frame
	// MemoryBase is the EVM address of linear memory address zero.
	MemoryBase uint64
}

// NewLayout lays out memory for the module: fixed slots, then globals, then one frame per defined function, then
// linear memory.
func NewLayout(m *wasm.Module) *Layout {
	l := &Layout{Globals: len(m.GlobalSection)}
	next := uint64(GlobalsBase + WordSize*l.Globals)
	for i, typeIdx := range m.FunctionSection {
		f := Frame{Base: next, Params: len(m.TypeSection[typeIdx].Params)}
		if i < len(m.CodeSection) {
			f.Locals = len(m.CodeSection[i].LocalTypes)
		}
		l.Frames = append(l.Frames, f)
		next += f.Size()
	}
	l.MemoryBase = next
	return l
}

// GlobalSlot returns the slot of a global.
func (l *Layout) GlobalSlot(idx wasm.Index) uint64 {
	return GlobalsBase + WordSize*uint64(idx)
}

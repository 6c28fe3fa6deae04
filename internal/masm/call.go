package masm

import (
	"fmt"

	"github.com/wasmevm/wasmevm/internal/asm"
	"github.com/wasmevm/wasmevm/internal/evm"
	"github.com/wasmevm/wasmevm/internal/optable"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// Calls between defined functions push the arguments, then the return address, and jump to the callee. The callee
// moves them into its frame and returns by jumping to the stored address with its results on the stack.

// Enter defines the function symbol and writes the prologue: it stores the return address and the parameters into
// the frame and zeroes the other locals, which may hold values of a previous call.
func (a *Assembler) Enter() error {
	if err := a.seg.DefineSymbol(FunctionSymbol(a.fn)); err != nil {
		return err
	}
	a.seg.Push(a.frame.ReturnSlot())
	a.seg.Op(evm.MSTORE)
	for i := a.frame.Params - 1; i >= 0; i-- {
		a.LocalSet(wasm.Index(i))
	}
	for i := a.frame.Params; i < a.frame.Params+a.frame.Locals; i++ {
		a.seg.Op(evm.PUSH0)
		a.LocalSet(wasm.Index(i))
	}
	return nil
}

// Return jumps to the stored return address. Results must be the only operands left of this function.
func (a *Assembler) Return() {
	a.seg.Push(a.frame.ReturnSlot())
	a.seg.Op(evm.MLOAD, evm.JUMP)
}

// Call calls a function with its arguments on the stack. Host functions are inlined.
func (a *Assembler) Call(fn wasm.Index) error {
	if fn < a.p.imported {
		h := a.p.hosts[fn]
		if h == nil {
			imp := a.p.module.ImportedFunction(fn)
			return &optable.UnsupportedOperatorError{
				Instruction: "call",
				Reason:      fmt.Sprintf("unknown host function %s.%s", imp.Module, imp.Name),
			}
		}
		h.emit(a)
		return nil
	}
	ret := a.seg.NewLabel()
	a.callTo(fn, ret)
	return a.seg.Bind(ret)
}

func (a *Assembler) callTo(fn wasm.Index, ret asm.Label) {
	if fn < a.p.imported {
		a.p.hosts[fn].emit(a)
		a.seg.Jump(ret)
		return
	}
	a.seg.PushLabel(ret)
	a.seg.JumpSymbol(FunctionSymbol(fn))
}

// CallIndirect pops a table slot and calls the function in it, with its arguments below on the stack. A slot out
// of range, empty or holding a function of another type traps.
func (a *Assembler) CallIndirect(typeIdx wasm.Index) error {
	want := a.p.module.TypeSection[typeIdx]
	ret := a.seg.NewLabel()
	type target struct {
		label asm.Label
		fn    wasm.Index
	}
	var targets []target
	for _, e := range a.p.table {
		if !a.p.module.TypeOfFunction(e.fn).EqualsSignature(want.Params, want.Results) {
			continue
		}
		t := target{label: a.seg.NewLabel(), fn: e.fn}
		targets = append(targets, t)
		a.seg.Op(evm.DUP1)
		a.seg.Push(uint64(e.slot))
		a.seg.Op(evm.EQ)
		a.seg.JumpI(t.label)
	}
	a.seg.JumpSymbol(TrapSymbol)
	for _, t := range targets {
		if err := a.seg.Bind(t.label); err != nil {
			return err
		}
		a.seg.Op(evm.POP)
		a.callTo(t.fn, ret)
	}
	return a.seg.Bind(ret)
}

package codegen

import (
	"fmt"

	"github.com/wasmevm/wasmevm/abi"
	"github.com/wasmevm/wasmevm/internal/asm"
	"github.com/wasmevm/wasmevm/internal/evm"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// ExportSymbol is the entry of the wrapper of an export, which the dispatcher jumps to.
func ExportSymbol(name string) asm.Symbol {
	return asm.Symbol("export:" + name)
}

// EmitWrapper writes the external entry of an export to seg, through m which must write to seg too.
//
// The dispatcher jumps to it with the selector on the stack. It loads each parameter from its 32-byte word of call
// data, narrowed to the WebAssembly width, and calls the function. A result is returned as one ABI encoded word,
// otherwise execution stops without output.
func EmitWrapper(seg *asm.Assembler, m MacroAssembler, e *Export) error {
	if err := seg.DefineSymbol(ExportSymbol(e.Function.Name)); err != nil {
		return err
	}
	m.Op(evm.POP)
	for i, vt := range e.Type.Params {
		m.Const(uint64(abi.SelectorSize + 32*i))
		m.Op(evm.CALLDATALOAD)
		m.Mask(valueWidth(vt))
	}
	if err := m.Call(e.Index); err != nil {
		return err
	}

	if len(e.Type.Results) == 0 {
		m.Op(evm.STOP)
		return nil
	}
	k, err := parseABIType(e.Function.Outputs[0].Type)
	if err != nil {
		return fmt.Errorf("export %s: output: %w", e.Function.Name, err)
	}
	switch {
	case k.isBool:
		m.Op(evm.ISZERO, evm.ISZERO)
	case k.signed:
		m.SignExtend(k.width)
	case k.width < valueWidth(e.Type.Results[0]):
		m.Mask(k.width)
	}
	m.Op(evm.PUSH0, evm.MSTORE)
	m.Const(32)
	m.Op(evm.PUSH0, evm.RETURN)
	return nil
}

// valueWidth is the width in bytes of an integer value type.
func valueWidth(vt wasm.ValueType) uint8 {
	if vt == wasm.ValueTypeI64 {
		return 8
	}
	return 4
}

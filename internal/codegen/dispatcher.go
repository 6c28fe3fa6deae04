package codegen

import (
	"github.com/wasmevm/wasmevm/internal/asm"
	"github.com/wasmevm/wasmevm/internal/evm"
)

// selectorShift moves the leading 4 bytes of a call data word to the low bytes.
const selectorShift = 256 - 32

// EmitDispatcher writes the selector dispatch of the runtime code: the selector is read from the first 4 bytes of
// call data and compared against each export in table order, jumping to the wrapper of the first match. A call
// matching no export reverts without data.
//
// The selector stays on the stack for the wrapper to pop. Collisions were rejected by NewExportTable, so every
// export is reachable.
func EmitDispatcher(seg *asm.Assembler, table *ExportTable) {
	seg.Op(evm.PUSH0, evm.CALLDATALOAD)
	seg.Push(selectorShift)
	seg.Op(evm.SHR)
	for i := range table.exports {
		e := &table.exports[i]
		seg.Op(evm.DUP1)
		seg.PushBytes(e.Selector[:])
		seg.Op(evm.EQ)
		seg.PushSymbol(ExportSymbol(e.Function.Name), 0)
		seg.Op(evm.JUMPI)
	}
	seg.Op(evm.PUSH0, evm.PUSH0, evm.REVERT)
}

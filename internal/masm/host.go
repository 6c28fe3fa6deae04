package masm

import (
	"github.com/wasmevm/wasmevm/internal/evm"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// HostModule is the import module name of the functions in hostFunctions.
const HostModule = "evm"

// hostFunction is an import compiled inline at every call site.
type hostFunction struct {
	name string
	typ  *wasm.FunctionType
	emit func(a *Assembler)
}

var (
	i32, i64 = wasm.ValueTypeI32, wasm.ValueTypeI64

	// hostFunctions are the functions a module can import from HostModule.
	hostFunctions = map[string]*hostFunction{}
)

func init() {
	for _, h := range []*hostFunction{
		{
			// revert(ptr, len) aborts the call, returning the memory range as revert data.
			name: "revert",
			typ:  &wasm.FunctionType{Params: []wasm.ValueType{i32, i32}},
			emit: func(a *Assembler) { a.memoryRange(evm.REVERT) },
		},
		{
			// finish(ptr, len) ends the call successfully, returning the memory range.
			name: "finish",
			typ:  &wasm.FunctionType{Params: []wasm.ValueType{i32, i32}},
			emit: func(a *Assembler) { a.memoryRange(evm.RETURN) },
		},
		{
			name: "log0",
			typ:  &wasm.FunctionType{Params: []wasm.ValueType{i32, i32}},
			emit: func(a *Assembler) { a.memoryRange(evm.LOG0) },
		},
		{
			name: "sload",
			typ:  &wasm.FunctionType{Params: []wasm.ValueType{i64}, Results: []wasm.ValueType{i64}},
			emit: func(a *Assembler) {
				a.seg.Op(evm.SLOAD)
				a.Mask(8)
			},
		},
		{
			name: "sstore",
			typ:  &wasm.FunctionType{Params: []wasm.ValueType{i64, i64}},
			emit: func(a *Assembler) { a.seg.Op(evm.SWAP1, evm.SSTORE) },
		},
		{
			name: "callvalue",
			typ:  &wasm.FunctionType{Results: []wasm.ValueType{i64}},
			emit: func(a *Assembler) {
				a.seg.Op(evm.CALLVALUE)
				a.Mask(8)
			},
		},
		{
			// caller returns the low 64 bits of the caller address.
			name: "caller",
			typ:  &wasm.FunctionType{Results: []wasm.ValueType{i64}},
			emit: func(a *Assembler) {
				a.seg.Op(evm.CALLER)
				a.Mask(8)
			},
		},
	} {
		hostFunctions[h.name] = h
	}
}

// memoryRange turns [ptr, len] into the [size, offset] operands of REVERT, RETURN or LOG0.
func (a *Assembler) memoryRange(op evm.OpCode) {
	a.seg.Op(evm.SWAP1)
	a.addMemoryBase(0)
	a.seg.Op(op)
}

package codegen

import (
	"fmt"

	"github.com/wasmevm/wasmevm/internal/optable"
	"github.com/wasmevm/wasmevm/internal/wasm"
	"github.com/wasmevm/wasmevm/internal/wasm/binary"
)

// Function is a function defined in a module, the unit of code generation.
type Function struct {
	Module *wasm.Module
	// Index is in the function index namespace, so imported functions come first.
	Index wasm.Index
	Name  string
	Type  *wasm.FunctionType
	Code  *wasm.Code
}

// NewFunction returns the defined function at idx.
func NewFunction(m *wasm.Module, idx wasm.Index) (*Function, error) {
	imported := m.ImportedFunctionCount()
	if idx < imported || int(idx-imported) >= len(m.CodeSection) {
		return nil, fmt.Errorf("function index %d is not a defined function", idx)
	}
	typ := m.TypeOfFunction(idx)
	if typ == nil {
		return nil, fmt.Errorf("function[%d]: type index out of range", idx)
	}
	return &Function{Module: m, Index: idx, Name: m.FunctionName(idx), Type: typ, Code: m.CodeSection[idx-imported]}, nil
}

// Decode returns the instructions of the body. Instructions which cannot be compiled are reported as
// *optable.UnsupportedOperatorError, even when their immediates are unknown to the decoder.
func (f *Function) Decode() (body []*wasm.Instruction, err error) {
	err = binary.VisitInstructions(f.Code.Body, f.Module.TypeSection, func(ins *wasm.Instruction) error {
		if _, err := optable.Lookup(ins); err != nil {
			return err
		}
		body = append(body, ins)
		return nil
	})
	return
}

// Callees returns the defined functions the body can call, with indirect calls resolved through table, which
// returns the candidates of a type index. A call to a function index out of range is an error.
func Callees(m *wasm.Module, body []*wasm.Instruction, table func(typeIdx wasm.Index) []wasm.Index) (ret []wasm.Index, err error) {
	imported := m.ImportedFunctionCount()
	functions := imported + wasm.Index(len(m.FunctionSection))
	seen := map[wasm.Index]bool{}
	add := func(fn wasm.Index) {
		if fn >= imported && !seen[fn] {
			seen[fn] = true
			ret = append(ret, fn)
		}
	}
	for _, ins := range body {
		switch ins.Opcode {
		case wasm.OpcodeCall:
			if ins.Index >= functions {
				return nil, fmt.Errorf("offset %#x: call: function index %d out of range", ins.Offset, ins.Index)
			}
			add(ins.Index)
		case wasm.OpcodeCallIndirect:
			if int(ins.Index) < len(m.TypeSection) {
				for _, fn := range table(ins.Index) {
					add(fn)
				}
			}
		}
	}
	return
}

package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wasmevm/wasmevm/abi"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// Export is an exported function as seen by external callers.
type Export struct {
	Function abi.Function
	Selector abi.Selector
	// Index is the exported function in the function index namespace.
	Index wasm.Index
	Type  *wasm.FunctionType
}

// ExportTable is the ordered set of exports the dispatcher routes. It is immutable once created.
type ExportTable struct {
	exports []Export
}

// NewExportTable returns the table of the exports in order, failing with *SelectorCollisionError when two of them
// share a selector.
func NewExportTable(exports ...Export) (*ExportTable, error) {
	seen := make(map[abi.Selector]string, len(exports))
	for i := range exports {
		e := &exports[i]
		sig := e.Function.Signature()
		if prev, ok := seen[e.Selector]; ok {
			return nil, &SelectorCollisionError{Selector: e.Selector, Signature1: prev, Signature2: sig}
		}
		seen[e.Selector] = sig
	}
	return &ExportTable{exports: append([]Export(nil), exports...)}, nil
}

// Len returns the count of exports.
func (t *ExportTable) Len() int {
	return len(t.exports)
}

// Exports returns a copy of the exports in dispatch order.
func (t *ExportTable) Exports() []Export {
	return append([]Export(nil), t.exports...)
}

// ABI returns the descriptors of the exports in dispatch order.
func (t *ExportTable) ABI() []abi.Function {
	ret := make([]abi.Function, len(t.exports))
	for i := range t.exports {
		ret[i] = t.exports[i].Function
	}
	return ret
}

// DeriveExports returns the function exports of the module in declaration order. The ABI of each is derived from
// its WebAssembly type unless overrides has an entry for the export name, whose types must fit the WebAssembly ones.
func DeriveExports(m *wasm.Module, overrides map[string]abi.Function) ([]Export, error) {
	var ret []Export
	for _, exp := range m.ExportSection {
		if exp.Kind != wasm.ExportKindFunc {
			continue
		}
		typ := m.TypeOfFunction(exp.Index)
		if typ == nil {
			return nil, fmt.Errorf("export %s: function index %d out of range", exp.Name, exp.Index)
		}
		if len(typ.Results) > 1 {
			return nil, fmt.Errorf("export %s: type %s has multiple results", exp.Name, typ)
		}

		var fn abi.Function
		if o, ok := overrides[exp.Name]; ok {
			fn = o
			fn.Name = exp.Name
			if fn.Type == "" {
				fn.Type = "function"
			}
			if err := checkOverride(&fn, typ); err != nil {
				return nil, fmt.Errorf("export %s: %w", exp.Name, err)
			}
		} else {
			var err error
			if fn, err = deriveFunction(exp.Name, typ); err != nil {
				return nil, fmt.Errorf("export %s: %w", exp.Name, err)
			}
		}
		ret = append(ret, Export{Function: fn, Selector: fn.Selector(), Index: exp.Index, Type: typ})
	}
	return ret, nil
}

func deriveFunction(name string, typ *wasm.FunctionType) (abi.Function, error) {
	fn := abi.Function{Name: name, Type: "function", Inputs: []abi.Param{}, Outputs: []abi.Param{}}
	for i, vt := range typ.Params {
		t, err := abiType(vt)
		if err != nil {
			return fn, fmt.Errorf("param[%d]: %w", i, err)
		}
		fn.Inputs = append(fn.Inputs, abi.Param{Name: fmt.Sprintf("arg%d", i), Type: t})
	}
	for i, vt := range typ.Results {
		t, err := abiType(vt)
		if err != nil {
			return fn, fmt.Errorf("result[%d]: %w", i, err)
		}
		fn.Outputs = append(fn.Outputs, abi.Param{Type: t})
	}
	return fn, nil
}

func abiType(vt wasm.ValueType) (string, error) {
	switch vt {
	case wasm.ValueTypeI32:
		return "int32", nil
	case wasm.ValueTypeI64:
		return "int64", nil
	}
	return "", fmt.Errorf("%s has no ABI type", wasm.ValueTypeName(vt))
}

func checkOverride(fn *abi.Function, typ *wasm.FunctionType) error {
	if len(fn.Inputs) != len(typ.Params) {
		return fmt.Errorf("ABI has %d inputs but the function %d params", len(fn.Inputs), len(typ.Params))
	}
	if len(fn.Outputs) != len(typ.Results) {
		return fmt.Errorf("ABI has %d outputs but the function %d results", len(fn.Outputs), len(typ.Results))
	}
	for i, p := range fn.Inputs {
		if err := checkFits(p.Type, typ.Params[i]); err != nil {
			return fmt.Errorf("input[%d]: %w", i, err)
		}
	}
	for i, p := range fn.Outputs {
		if err := checkFits(p.Type, typ.Results[i]); err != nil {
			return fmt.Errorf("output[%d]: %w", i, err)
		}
	}
	return nil
}

func checkFits(t string, vt wasm.ValueType) error {
	k, err := parseABIType(t)
	if err != nil {
		return err
	}
	var width uint8
	switch vt {
	case wasm.ValueTypeI32:
		width = 4
	case wasm.ValueTypeI64:
		width = 8
	default:
		return fmt.Errorf("%s has no ABI type", wasm.ValueTypeName(vt))
	}
	if k.width > width {
		return fmt.Errorf("%s does not fit %s", t, wasm.ValueTypeName(vt))
	}
	return nil
}

// abiKind is how a value of an ABI type is held in a word.
type abiKind struct {
	// width is the count of significant low bytes.
	width  uint8
	signed bool
	isBool bool
}

// parseABIType accepts the elementary types which fit a WebAssembly integer: bool, intN and uintN up to 64 bits.
func parseABIType(t string) (abiKind, error) {
	if t == "bool" {
		return abiKind{width: 1, isBool: true}, nil
	}
	var signed bool
	var bits string
	switch {
	case strings.HasPrefix(t, "uint"):
		bits = t[len("uint"):]
	case strings.HasPrefix(t, "int"):
		signed, bits = true, t[len("int"):]
	default:
		return abiKind{}, fmt.Errorf("unsupported ABI type %q", t)
	}
	n, err := strconv.Atoi(bits)
	if err != nil || n <= 0 || n > 64 || n%8 != 0 {
		return abiKind{}, fmt.Errorf("unsupported ABI type %q", t)
	}
	return abiKind{width: uint8(n / 8), signed: signed}, nil
}

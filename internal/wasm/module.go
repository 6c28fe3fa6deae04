// Package wasm holds the WebAssembly 1.0 (MVP) module model consumed by the compiler.
package wasm

import "fmt"

// Module is a WebAssembly binary representation.
// See https://www.w3.org/TR/wasm-core-1/#modules%E2%91%A8
//
// Differences from the WebAssembly 1.0 format:
// * Custom sections other than "name" are skipped by the decoder.
// * ExportSection keeps declaration order, as the dispatcher routes exports in that order.
type Module struct {
	// TypeSection contains the unique FunctionType of functions imported or defined in this module.
	//
	// See https://www.w3.org/TR/wasm-core-1/#types%E2%91%A0%E2%91%A0
	TypeSection []*FunctionType

	// ImportSection contains imported functions, tables, memories or globals.
	//
	// Note: only function imports from the "evm" module can be compiled, everything else is rejected by the compiler
	// rather than by the decoder.
	ImportSection []*Import

	// FunctionSection contains the index in TypeSection of each function defined in this module.
	//
	// Note: The function Index namespace begins with imported functions and ends with those defined in this module.
	// For example, if there are two imported functions and one defined in this module, the function Index 3 is defined
	// in this module at FunctionSection[0].
	FunctionSection []Index

	TableSection  []*TableType
	MemorySection []*MemoryType
	GlobalSection []*Global

	// ExportSection contains each export defined in this module, in declaration order.
	//
	// See https://www.w3.org/TR/wasm-core-1/#exports%E2%91%A0
	ExportSection []*Export

	// StartSection is the index of a function to call before the contract serves its first call.
	StartSection *Index

	ElementSection []*ElementSegment

	// CodeSection is index-correlated with FunctionSection and contains each function's locals and body.
	CodeSection []*Code

	DataSection []*DataSegment

	// NameSection is set when the SectionIDCustom "name" was successfully decoded from the binary format.
	NameSection *NameSection
}

// Index is the offset in an index namespace, not necessarily an absolute position in a Module section. This is because
// index namespaces are often preceded by a corresponding type in the Module.ImportSection.
//
// See https://www.w3.org/TR/wasm-core-1/#binary-index
type Index = uint32

// FunctionType is a possibly empty function signature.
//
// See https://www.w3.org/TR/wasm-core-1/#function-types%E2%91%A0
type FunctionType struct {
	// Params are the possibly empty sequence of value types accepted by a function with this signature.
	Params []ValueType

	// Results are the possibly empty sequence of value types returned by a function with this signature.
	//
	// Note: In WebAssembly 1.0 (MVP), there can be at most one result.
	Results []ValueType
}

func (t *FunctionType) String() (ret string) {
	for _, b := range t.Params {
		ret += ValueTypeName(b)
	}
	if len(t.Params) == 0 {
		ret += "null"
	}
	ret += "_"
	for _, b := range t.Results {
		ret += ValueTypeName(b)
	}
	if len(t.Results) == 0 {
		ret += "null"
	}
	return
}

// EqualsSignature returns true if the function type has the given parameters and results.
func (t *FunctionType) EqualsSignature(params []ValueType, results []ValueType) bool {
	return string(t.Params) == string(params) && string(t.Results) == string(results)
}

// Import is the binary representation of an import indicated by Kind
// See https://www.w3.org/TR/wasm-core-1/#binary-import
type Import struct {
	Kind ImportKind
	// Module is the possibly empty primary namespace of this import
	Module string
	// Name is the possibly empty secondary namespace of this import
	Name string
	// DescFunc is the index in Module.TypeSection when Kind equals ImportKindFunc
	DescFunc Index
	// DescTable is the inlined TableType when Kind equals ImportKindTable
	DescTable *TableType
	// DescMem is the inlined MemoryType when Kind equals ImportKindMemory
	DescMem *MemoryType
	// DescGlobal is the inlined GlobalType when Kind equals ImportKindGlobal
	DescGlobal *GlobalType
}

type LimitsType struct {
	Min uint32
	Max *uint32
}

type TableType struct {
	ElemType byte
	Limit    *LimitsType
}

type MemoryType = LimitsType

type GlobalType struct {
	ValType ValueType
	Mutable bool
}

type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// ConstantExpression is a single constant instruction (i32.const, i64.const, f32.const, f64.const or global.get)
// and its raw immediate bytes.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte
}

// Export is the binary representation of an export indicated by Kind
// See https://www.w3.org/TR/wasm-core-1/#binary-export
type Export struct {
	Kind ExportKind
	// Name is what the host refers to this definition as.
	Name string
	// Index is the index of the definition to export, the index namespace is by Kind
	Index Index
}

type ElementSegment struct {
	TableIndex Index
	OffsetExpr *ConstantExpression
	Init       []Index
}

// Code is an entry in the Module.CodeSection containing the locals and body of the function.
// See https://www.w3.org/TR/wasm-core-1/#binary-code
type Code struct {
	// LocalTypes are any function-scoped variables in insertion order.
	LocalTypes []ValueType
	// Body is a sequence of expressions ending in OpcodeEnd
	Body []byte
}

type DataSegment struct {
	MemoryIndex      Index // supposed to be zero
	OffsetExpression *ConstantExpression
	Init             []byte
}

// NameSection represent the known custom name subsections defined in the WebAssembly Binary Format
//
// See https://www.w3.org/TR/wasm-core-1/#name-section%E2%91%A0
type NameSection struct {
	ModuleName string
	// FunctionNames is an association of a function index to its symbolic identifier. Ex. add
	FunctionNames NameMap
}

// NameMap associates an index with any associated names.
type NameMap []*NameAssoc

type NameAssoc struct {
	Index Index
	Name  string
}

// ImportedFunctionCount returns the count of ImportKindFunc, which offsets the module-defined function indexes.
func (m *Module) ImportedFunctionCount() (ret uint32) {
	for _, imp := range m.ImportSection {
		if imp.Kind == ImportKindFunc {
			ret++
		}
	}
	return
}

// TypeOfFunction returns the FunctionType for the given function namespace index or nil.
func (m *Module) TypeOfFunction(funcIdx Index) *FunctionType {
	typeSectionLength := uint32(len(m.TypeSection))
	if typeSectionLength == 0 {
		return nil
	}
	funcImportCount := Index(0)
	for _, im := range m.ImportSection {
		if im.Kind == ImportKindFunc {
			if funcIdx == funcImportCount {
				if im.DescFunc >= typeSectionLength {
					return nil
				}
				return m.TypeSection[im.DescFunc]
			}
			funcImportCount++
		}
	}
	funcSectionIdx := funcIdx - funcImportCount
	if funcSectionIdx >= uint32(len(m.FunctionSection)) {
		return nil
	}
	typeIdx := m.FunctionSection[funcSectionIdx]
	if typeIdx >= typeSectionLength {
		return nil
	}
	return m.TypeSection[typeIdx]
}

// ImportedFunction returns the import of the given function namespace index, or nil if it is module-defined.
func (m *Module) ImportedFunction(funcIdx Index) *Import {
	n := Index(0)
	for _, im := range m.ImportSection {
		if im.Kind != ImportKindFunc {
			continue
		}
		if n == funcIdx {
			return im
		}
		n++
	}
	return nil
}

// AllGlobals returns the types of every global, imported ones first.
func (m *Module) AllGlobals() (globals []*GlobalType) {
	for _, imp := range m.ImportSection {
		if imp.Kind == ImportKindGlobal {
			globals = append(globals, imp.DescGlobal)
		}
	}
	for _, g := range m.GlobalSection {
		globals = append(globals, g.Type)
	}
	return
}

// FunctionName returns the name section entry for the function index, or a synthetic "$<index>".
func (m *Module) FunctionName(funcIdx Index) string {
	if m.NameSection != nil {
		for _, n := range m.NameSection.FunctionNames {
			if n.Index == funcIdx {
				return n.Name
			}
		}
	}
	return fmt.Sprintf("$%d", funcIdx)
}

// SectionID identifies the sections of a Module in the WebAssembly 1.0 (MVP) Binary Format.
//
// See https://www.w3.org/TR/wasm-core-1/#sections%E2%91%A0
type SectionID = byte

const (
	// SectionIDCustom includes the standard defined NameSection and possibly others not defined in the standard.
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
)

var sectionIDNames = [...]string{
	SectionIDCustom:   "custom",
	SectionIDType:     "type",
	SectionIDImport:   "import",
	SectionIDFunction: "function",
	SectionIDTable:    "table",
	SectionIDMemory:   "memory",
	SectionIDGlobal:   "global",
	SectionIDExport:   "export",
	SectionIDStart:    "start",
	SectionIDElement:  "element",
	SectionIDCode:     "code",
	SectionIDData:     "data",
}

// SectionIDName returns the canonical name of a module section.
func SectionIDName(sectionID SectionID) string {
	if int(sectionID) < len(sectionIDNames) {
		return sectionIDNames[sectionID]
	}
	return "unknown"
}

// ValueType is the binary encoding of a type such as i32
// See https://www.w3.org/TR/wasm-core-1/#binary-valtype
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

// ValueTypeName returns the type name of the given ValueType as a string.
// These type names match the names used in the WebAssembly text format.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	}
	return "unknown"
}

// ElemTypeFuncref is the only table element type of WebAssembly 1.0.
const ElemTypeFuncref byte = 0x70

// ImportKind indicates which import description is present
type ImportKind = byte

const (
	ImportKindFunc   ImportKind = 0x00
	ImportKindTable  ImportKind = 0x01
	ImportKindMemory ImportKind = 0x02
	ImportKindGlobal ImportKind = 0x03
)

// ExportKind indicates which index Export.Index points to
type ExportKind = byte

const (
	ExportKindFunc   ExportKind = 0x00
	ExportKindTable  ExportKind = 0x01
	ExportKindMemory ExportKind = 0x02
	ExportKindGlobal ExportKind = 0x03
)

// ExportKindName returns the canonical name of the exportdesc.
func ExportKindName(ek ExportKind) string {
	switch ek {
	case ExportKindFunc:
		return "func"
	case ExportKindTable:
		return "table"
	case ExportKindMemory:
		return "mem"
	case ExportKindGlobal:
		return "global"
	}
	return "unknown"
}

// MemoryPageSize is the unit of memory length in WebAssembly.
const MemoryPageSize = uint32(65536)

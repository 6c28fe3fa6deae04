// Package masm implements the macro assembler used by the code generator: it turns WebAssembly level primitives
// into EVM instruction sequences on top of package asm, and owns the layout of EVM memory.
package masm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/wasmevm/wasmevm/internal/asm"
	"github.com/wasmevm/wasmevm/internal/evm"
	"github.com/wasmevm/wasmevm/internal/leb128"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// Symbols shared by every segment of the runtime code.
const (
	// TrapSymbol is an INVALID instruction which every trap jumps to.
	TrapSymbol asm.Symbol = "$trap"
	// DataSymbol is the start of the data segments appended to the runtime code.
	DataSymbol asm.Symbol = "$data"
)

// MaxPages is the limit of linear memory pages when the module declares none.
const MaxPages = 65536

// FunctionSymbol is the entry of the body of a defined function.
func FunctionSymbol(idx wasm.Index) asm.Symbol {
	return asm.Symbol(fmt.Sprintf("func:%d", idx))
}

// tableEntry is one resolved slot of table 0.
type tableEntry struct {
	slot uint32
	fn   wasm.Index
}

// Program is the module wide state of the macro assembler. It is read-only once created, so assemblers of distinct
// functions can be used concurrently.
type Program struct {
	module   *wasm.Module
	layout   *Layout
	floats   FloatPolicy
	imported uint32
	// hosts is indexed by function index, nil for imports which are not host functions.
	hosts    []*hostFunction
	table    []tableEntry
	maxPages uint32
}

// NewProgram checks the module only uses what the macro assembler can compile and lays out its memory.
func NewProgram(m *wasm.Module, floats FloatPolicy) (*Program, error) {
	if err := checkIndices(m); err != nil {
		return nil, err
	}
	p := &Program{module: m, layout: NewLayout(m), floats: floats, imported: m.ImportedFunctionCount()}

	for _, imp := range m.ImportSection {
		if imp.Kind != wasm.ImportKindFunc {
			return nil, fmt.Errorf("import %s.%s: only functions can be imported", imp.Module, imp.Name)
		}
		var h *hostFunction
		if imp.Module == HostModule {
			if h = hostFunctions[imp.Name]; h != nil && !h.typ.EqualsSignature(m.TypeSection[imp.DescFunc].Params, m.TypeSection[imp.DescFunc].Results) {
				return nil, fmt.Errorf("import %s.%s: type %s does not match %s",
					imp.Module, imp.Name, m.TypeSection[imp.DescFunc], h.typ)
			}
		}
		p.hosts = append(p.hosts, h)
	}

	if len(m.MemorySection) > 1 {
		return nil, fmt.Errorf("multiple memories are not supported")
	}
	p.maxPages = MaxPages
	if len(m.MemorySection) == 1 && m.MemorySection[0].Max != nil {
		p.maxPages = *m.MemorySection[0].Max
	}

	for i, g := range m.GlobalSection {
		if _, err := evalConst(g.Init); err != nil {
			return nil, fmt.Errorf("global[%d]: %w", i, err)
		}
	}

	slots := map[uint32]wasm.Index{}
	for i, e := range m.ElementSection {
		offset, err := evalConst(e.OffsetExpr)
		if err != nil {
			return nil, fmt.Errorf("element[%d]: %w", i, err)
		}
		for j, fn := range e.Init {
			if fn < p.imported && p.hosts[fn] == nil {
				imp := m.ImportedFunction(fn)
				return nil, fmt.Errorf("element[%d]: unknown host function %s.%s", i, imp.Module, imp.Name)
			}
			slots[uint32(offset)+uint32(j)] = fn
		}
	}
	for slot, fn := range slots {
		p.table = append(p.table, tableEntry{slot: slot, fn: fn})
	}
	sort.Slice(p.table, func(i, j int) bool { return p.table[i].slot < p.table[j].slot })

	for i, d := range m.DataSection {
		if _, err := evalConst(d.OffsetExpression); err != nil {
			return nil, fmt.Errorf("data[%d]: %w", i, err)
		}
	}
	return p, nil
}

// checkIndices rejects type and function indices out of range, which the decoder leaves unchecked.
func checkIndices(m *wasm.Module) error {
	types := uint32(len(m.TypeSection))
	for _, imp := range m.ImportSection {
		if imp.Kind == wasm.ImportKindFunc && imp.DescFunc >= types {
			return fmt.Errorf("import %s.%s: type index %d out of range", imp.Module, imp.Name, imp.DescFunc)
		}
	}
	for i, typeIdx := range m.FunctionSection {
		if typeIdx >= types {
			return fmt.Errorf("function[%d]: type index %d out of range", i, typeIdx)
		}
	}
	functions := m.ImportedFunctionCount() + uint32(len(m.FunctionSection))
	for i, e := range m.ElementSection {
		for j, fn := range e.Init {
			if fn >= functions {
				return fmt.Errorf("element[%d].init[%d]: function index %d out of range", i, j, fn)
			}
		}
	}
	return nil
}

// Layout returns the memory layout of the module.
func (p *Program) Layout() *Layout {
	return p.layout
}

// TableFunctions returns the functions of table 0 with the given type, which are the possible callees of a
// call_indirect of that type.
func (p *Program) TableFunctions(typeIdx wasm.Index) (ret []wasm.Index) {
	want := p.module.TypeSection[typeIdx]
	for _, e := range p.table {
		if p.module.TypeOfFunction(e.fn).EqualsSignature(want.Params, want.Results) {
			ret = append(ret, e.fn)
		}
	}
	return
}

// NewAssembler returns the assembler of one defined function, writing to its own segment.
func (p *Program) NewAssembler(fn wasm.Index) *Assembler {
	a := &Assembler{p: p, fn: fn, seg: asm.New(p.module.FunctionName(fn))}
	if fn >= p.imported {
		a.frame = p.layout.Frames[fn-p.imported]
	}
	return a
}

// NewSegmentAssembler returns an assembler for code outside any function, like export wrappers.
func (p *Program) NewSegmentAssembler(seg *asm.Assembler) *Assembler {
	return &Assembler{p: p, seg: seg}
}

// EmitInit writes the start of the runtime code, which sets the memory size, the globals and copies the data
// segments into linear memory.
func (p *Program) EmitInit(seg *asm.Assembler) {
	if len(p.module.MemorySection) == 1 {
		if pages := p.module.MemorySection[0].Min; pages > 0 {
			seg.Push(uint64(pages))
			seg.Push(MemoryPagesSlot)
			seg.Op(evm.MSTORE)
		}
	}
	for i, g := range p.module.GlobalSection {
		v, _ := evalConst(g.Init)
		if v == 0 {
			continue
		}
		seg.Push(v)
		seg.Push(p.layout.GlobalSlot(wasm.Index(i)))
		seg.Op(evm.MSTORE)
	}
	var blobOffset int
	for _, d := range p.module.DataSection {
		if len(d.Init) == 0 {
			continue
		}
		offset, _ := evalConst(d.OffsetExpression)
		seg.Push(uint64(len(d.Init)))
		seg.PushSymbol(DataSymbol, blobOffset)
		seg.Push(p.layout.MemoryBase + offset)
		seg.Op(evm.CODECOPY)
		blobOffset += len(d.Init)
	}
}

// EmitTrap writes the target of TrapSymbol.
func (p *Program) EmitTrap(seg *asm.Assembler) error {
	if err := seg.DefineSymbol(TrapSymbol); err != nil {
		return err
	}
	seg.Op(evm.INVALID)
	return nil
}

// DataSegment returns the segment holding the data segments, to be linked last.
func (p *Program) DataSegment() (*asm.Assembler, error) {
	seg := asm.New("data")
	if err := seg.Mark(DataSymbol); err != nil {
		return nil, err
	}
	for _, d := range p.module.DataSection {
		seg.Raw(d.Init)
	}
	return seg, nil
}

// evalConst returns the value of a constant expression as held on the stack: integers zero extended from their
// width and floats as their bits.
func evalConst(expr *wasm.ConstantExpression) (uint64, error) {
	r := bytes.NewReader(expr.Data)
	switch expr.Opcode {
	case wasm.OpcodeI32Const:
		v, _, err := leb128.DecodeInt32(r)
		return uint64(uint32(v)), err
	case wasm.OpcodeI64Const:
		v, _, err := leb128.DecodeInt64(r)
		return uint64(v), err
	case wasm.OpcodeF32Const:
		if len(expr.Data) != 4 {
			return 0, fmt.Errorf("invalid f32.const")
		}
		return uint64(binary.LittleEndian.Uint32(expr.Data)), nil
	case wasm.OpcodeF64Const:
		if len(expr.Data) != 8 {
			return 0, fmt.Errorf("invalid f64.const")
		}
		return binary.LittleEndian.Uint64(expr.Data), nil
	}
	return 0, fmt.Errorf("constant expression %s is not supported", wasm.InstructionName(expr.Opcode))
}

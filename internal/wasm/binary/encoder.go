package binary

import (
	"encoding/binary"

	"github.com/wasmevm/wasmevm/internal/leb128"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// EncodeModule encodes the given module into a byte slice in the WebAssembly 1.0 (MVP) Binary Format.
// See https://www.w3.org/TR/wasm-core-1/#binary-format%E2%91%A0
func EncodeModule(m *wasm.Module) (bytes []byte) {
	bytes = append(append([]byte{}, magic...), version...)
	if len(m.TypeSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDType, len(m.TypeSection), func(i int) []byte {
			return encodeFunctionType(m.TypeSection[i])
		})...)
	}
	if len(m.ImportSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDImport, len(m.ImportSection), func(i int) []byte {
			return encodeImport(m.ImportSection[i])
		})...)
	}
	if len(m.FunctionSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDFunction, len(m.FunctionSection), func(i int) []byte {
			return leb128.EncodeUint32(m.FunctionSection[i])
		})...)
	}
	if len(m.TableSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDTable, len(m.TableSection), func(i int) []byte {
			return encodeTableType(m.TableSection[i])
		})...)
	}
	if len(m.MemorySection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDMemory, len(m.MemorySection), func(i int) []byte {
			return encodeLimitsType(m.MemorySection[i])
		})...)
	}
	if len(m.GlobalSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDGlobal, len(m.GlobalSection), func(i int) []byte {
			g := m.GlobalSection[i]
			return append(encodeGlobalType(g.Type), encodeConstantExpression(g.Init)...)
		})...)
	}
	if len(m.ExportSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDExport, len(m.ExportSection), func(i int) []byte {
			e := m.ExportSection[i]
			data := encodeSizePrefixed([]byte(e.Name))
			data = append(data, e.Kind)
			return append(data, leb128.EncodeUint32(e.Index)...)
		})...)
	}
	if m.StartSection != nil {
		bytes = append(bytes, encodeSection(wasm.SectionIDStart, leb128.EncodeUint32(*m.StartSection))...)
	}
	if len(m.ElementSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDElement, len(m.ElementSection), func(i int) []byte {
			e := m.ElementSection[i]
			data := leb128.EncodeUint32(e.TableIndex)
			data = append(data, encodeConstantExpression(e.OffsetExpr)...)
			data = append(data, leb128.EncodeUint32(uint32(len(e.Init)))...)
			for _, idx := range e.Init {
				data = append(data, leb128.EncodeUint32(idx)...)
			}
			return data
		})...)
	}
	if len(m.CodeSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDCode, len(m.CodeSection), func(i int) []byte {
			return encodeCode(m.CodeSection[i])
		})...)
	}
	if len(m.DataSection) > 0 {
		bytes = append(bytes, encodeVectorSection(wasm.SectionIDData, len(m.DataSection), func(i int) []byte {
			d := m.DataSection[i]
			data := leb128.EncodeUint32(d.MemoryIndex)
			data = append(data, encodeConstantExpression(d.OffsetExpression)...)
			return append(data, encodeSizePrefixed(d.Init)...)
		})...)
	}
	if m.NameSection != nil {
		bytes = append(bytes, encodeSection(wasm.SectionIDCustom, encodeNameSection(m.NameSection))...)
	}
	return
}

// encodeSection encodes the sectionID, the size of its contents in bytes, followed by the contents.
// See https://www.w3.org/TR/wasm-core-1/#sections%E2%91%A0
func encodeSection(sectionID wasm.SectionID, contents []byte) []byte {
	return append([]byte{sectionID}, encodeSizePrefixed(contents)...)
}

func encodeVectorSection(sectionID wasm.SectionID, n int, each func(i int) []byte) []byte {
	contents := leb128.EncodeUint32(uint32(n))
	for i := 0; i < n; i++ {
		contents = append(contents, each(i)...)
	}
	return encodeSection(sectionID, contents)
}

func encodeSizePrefixed(data []byte) []byte {
	size := leb128.EncodeUint32(uint32(len(data)))
	return append(size, data...)
}

func encodeValTypes(vt []wasm.ValueType) []byte {
	return encodeSizePrefixed(vt)
}

// encodeFunctionType returns the wasm.FunctionType encoded in WebAssembly 1.0 (MVP) Binary Format.
//
// See https://www.w3.org/TR/wasm-core-1/#binary-functype
func encodeFunctionType(t *wasm.FunctionType) []byte {
	data := append([]byte{0x60}, encodeValTypes(t.Params)...)
	return append(data, encodeValTypes(t.Results)...)
}

func encodeImport(i *wasm.Import) []byte {
	data := encodeSizePrefixed([]byte(i.Module))
	data = append(data, encodeSizePrefixed([]byte(i.Name))...)
	data = append(data, i.Kind)
	switch i.Kind {
	case wasm.ImportKindFunc:
		data = append(data, leb128.EncodeUint32(i.DescFunc)...)
	case wasm.ImportKindTable:
		data = append(data, encodeTableType(i.DescTable)...)
	case wasm.ImportKindMemory:
		data = append(data, encodeLimitsType(i.DescMem)...)
	case wasm.ImportKindGlobal:
		data = append(data, encodeGlobalType(i.DescGlobal)...)
	}
	return data
}

func encodeTableType(t *wasm.TableType) []byte {
	return append([]byte{t.ElemType}, encodeLimitsType(t.Limit)...)
}

// encodeLimitsType returns the wasm.LimitsType encoded in WebAssembly 1.0 (MVP) Binary Format.
//
// See https://www.w3.org/TR/wasm-core-1/#limits%E2%91%A6
func encodeLimitsType(l *wasm.LimitsType) []byte {
	if l.Max == nil {
		return append(leb128.EncodeUint32(0x00), leb128.EncodeUint32(l.Min)...)
	}
	return append(leb128.EncodeUint32(0x01), append(leb128.EncodeUint32(l.Min), leb128.EncodeUint32(*l.Max)...)...)
}

func encodeGlobalType(t *wasm.GlobalType) []byte {
	if t.Mutable {
		return []byte{t.ValType, 0x01}
	}
	return []byte{t.ValType, 0x00}
}

func encodeConstantExpression(expr *wasm.ConstantExpression) []byte {
	data := append([]byte{expr.Opcode}, expr.Data...)
	return append(data, wasm.OpcodeEnd)
}

// encodeCode returns the wasm.Code encoded in WebAssembly 1.0 (MVP) Binary Format. Consecutive locals of the same
// type are grouped.
//
// See https://www.w3.org/TR/wasm-core-1/#binary-code
func encodeCode(c *wasm.Code) []byte {
	type group struct {
		n  uint32
		vt wasm.ValueType
	}
	var groups []group
	for _, vt := range c.LocalTypes {
		if l := len(groups); l > 0 && groups[l-1].vt == vt {
			groups[l-1].n++
		} else {
			groups = append(groups, group{1, vt})
		}
	}
	data := leb128.EncodeUint32(uint32(len(groups)))
	for _, g := range groups {
		data = append(data, leb128.EncodeUint32(g.n)...)
		data = append(data, g.vt)
	}
	return encodeSizePrefixed(append(data, c.Body...))
}

func encodeNameSection(n *wasm.NameSection) []byte {
	data := encodeSizePrefixed([]byte("name"))
	if n.ModuleName != "" {
		data = append(data, subsectionIDModuleName)
		data = append(data, encodeSizePrefixed(encodeSizePrefixed([]byte(n.ModuleName)))...)
	}
	if len(n.FunctionNames) > 0 {
		sub := leb128.EncodeUint32(uint32(len(n.FunctionNames)))
		for _, a := range n.FunctionNames {
			sub = append(sub, leb128.EncodeUint32(a.Index)...)
			sub = append(sub, encodeSizePrefixed([]byte(a.Name))...)
		}
		data = append(data, subsectionIDFunctionNames)
		data = append(data, encodeSizePrefixed(sub)...)
	}
	return data
}

// EncodeInstructions is the inverse of DecodeInstructions. Block types encoded as a type index are written back as
// such.
func EncodeInstructions(instructions []*wasm.Instruction) (body []byte) {
	for _, ins := range instructions {
		body = append(body, ins.Opcode)
		switch op := ins.Opcode; op {
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			switch {
			case ins.Block.TypeIndex != nil:
				body = append(body, leb128.EncodeInt64(int64(*ins.Block.TypeIndex))...)
			case len(ins.Block.Results) == 0:
				body = append(body, 0x40)
			default:
				body = append(body, ins.Block.Results[0])
			}
		case wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeCall,
			wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
			wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet,
			wasm.OpcodeTableGet, wasm.OpcodeTableSet, wasm.OpcodeRefFunc:
			body = append(body, leb128.EncodeUint32(ins.Index)...)
		case wasm.OpcodeBrTable:
			body = append(body, leb128.EncodeUint32(uint32(len(ins.Targets)))...)
			for _, t := range ins.Targets {
				body = append(body, leb128.EncodeUint32(t)...)
			}
			body = append(body, leb128.EncodeUint32(ins.Default)...)
		case wasm.OpcodeCallIndirect:
			body = append(body, leb128.EncodeUint32(ins.Index)...)
			body = append(body, leb128.EncodeUint32(ins.TableIndex)...)
		case wasm.OpcodeTypedSelect:
			body = append(body, 1, wasm.ValueTypeI32)
		case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow, wasm.OpcodeRefNull:
			body = append(body, 0)
		case wasm.OpcodeI32Const:
			body = append(body, leb128.EncodeInt32(ins.I32)...)
		case wasm.OpcodeI64Const:
			body = append(body, leb128.EncodeInt64(ins.I64)...)
		case wasm.OpcodeF32Const:
			body = binary.LittleEndian.AppendUint32(body, ins.F32)
		case wasm.OpcodeF64Const:
			body = binary.LittleEndian.AppendUint64(body, ins.F64)
		case wasm.OpcodeMiscPrefix:
			body = append(body, leb128.EncodeUint32(ins.Misc)...)
			switch ins.Misc {
			case wasm.OpcodeMiscMemoryInit:
				body = append(append(body, leb128.EncodeUint32(ins.Index)...), 0)
			case wasm.OpcodeMiscDataDrop, wasm.OpcodeMiscElemDrop,
				wasm.OpcodeMiscTableGrow, wasm.OpcodeMiscTableSize, wasm.OpcodeMiscTableFill:
				body = append(body, leb128.EncodeUint32(ins.Index)...)
			case wasm.OpcodeMiscMemoryCopy:
				body = append(body, 0, 0)
			case wasm.OpcodeMiscMemoryFill:
				body = append(body, 0)
			case wasm.OpcodeMiscTableInit, wasm.OpcodeMiscTableCopy:
				body = append(body, leb128.EncodeUint32(ins.Index)...)
				body = append(body, leb128.EncodeUint32(ins.TableIndex)...)
			}
		default:
			if ins.IsMemoryAccess() {
				body = append(body, leb128.EncodeUint32(ins.MemArg.Align)...)
				body = append(body, leb128.EncodeUint32(ins.MemArg.Offset)...)
			}
		}
	}
	return
}

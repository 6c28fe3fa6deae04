package binary

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/wasmevm/wasmevm/internal/leb128"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// decodeVector reads the vector length and calls each for every element.
func decodeVector(r *bytes.Reader, what string, each func(i uint32) error) (uint32, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("get size of vector: %w", err)
	}
	// Every element takes at least a byte, so this bounds allocations on corrupt input.
	if int64(vs) > int64(r.Len()) {
		return 0, fmt.Errorf("%s vector length %d exceeds remaining %d bytes", what, vs, r.Len())
	}
	for i := uint32(0); i < vs; i++ {
		if err = each(i); err != nil {
			return 0, fmt.Errorf("read %d-th %s: %w", i, what, err)
		}
	}
	return vs, nil
}

func decodeTypeSection(r *bytes.Reader) (result []*wasm.FunctionType, err error) {
	_, err = decodeVector(r, "type", func(uint32) error {
		ft, err := decodeFunctionType(r)
		result = append(result, ft)
		return err
	})
	return
}

func decodeFunctionType(r *bytes.Reader) (*wasm.FunctionType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read leading byte: %w", err)
	}

	if b != 0x60 {
		return nil, fmt.Errorf("%w: %#x != 0x60", wasm.ErrInvalidByte, b)
	}

	paramTypes, err := decodeValueTypes(r)
	if err != nil {
		return nil, fmt.Errorf("could not read parameter types: %w", err)
	}

	resultTypes, err := decodeValueTypes(r)
	if err != nil {
		return nil, fmt.Errorf("could not read result types: %w", err)
	} else if len(resultTypes) > 1 {
		return nil, fmt.Errorf("multi value results not supported")
	}

	return &wasm.FunctionType{Params: paramTypes, Results: resultTypes}, nil
}

func decodeValueTypes(r *bytes.Reader) ([]wasm.ValueType, error) {
	var ret []wasm.ValueType
	_, err := decodeVector(r, "value type", func(uint32) error {
		vt, err := decodeValueType(r)
		ret = append(ret, vt)
		return err
	})
	return ret, err
}

func decodeValueType(r *bytes.Reader) (wasm.ValueType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("read value type: %w", err)
	}
	switch b {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		return b, nil
	}
	return 0, fmt.Errorf("%w: invalid value type: %#x", wasm.ErrInvalidByte, b)
}

func decodeImportSection(r *bytes.Reader) (result []*wasm.Import, err error) {
	_, err = decodeVector(r, "import", func(uint32) error {
		i, err := decodeImport(r)
		result = append(result, i)
		return err
	})
	return
}

func decodeImport(r *bytes.Reader) (i *wasm.Import, err error) {
	i = &wasm.Import{}
	if i.Module, err = decodeUTF8(r, "import module"); err != nil {
		return nil, err
	}
	if i.Name, err = decodeUTF8(r, "import name"); err != nil {
		return nil, err
	}
	if i.Kind, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("error decoding import kind: %w", err)
	}
	switch i.Kind {
	case wasm.ImportKindFunc:
		if i.DescFunc, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("error decoding import func typeindex: %w", err)
		}
	case wasm.ImportKindTable:
		if i.DescTable, err = decodeTableType(r); err != nil {
			return nil, fmt.Errorf("error decoding import table desc: %w", err)
		}
	case wasm.ImportKindMemory:
		if i.DescMem, err = decodeLimitsType(r); err != nil {
			return nil, fmt.Errorf("error decoding import mem desc: %w", err)
		}
	case wasm.ImportKindGlobal:
		if i.DescGlobal, err = decodeGlobalType(r); err != nil {
			return nil, fmt.Errorf("error decoding import global desc: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: invalid byte for importdesc: %#x", wasm.ErrInvalidByte, i.Kind)
	}
	return
}

func decodeFunctionSection(r *bytes.Reader) (result []wasm.Index, err error) {
	_, err = decodeVector(r, "function", func(uint32) error {
		idx, _, err := leb128.DecodeUint32(r)
		result = append(result, idx)
		return err
	})
	return
}

func decodeTableSection(r *bytes.Reader) (result []*wasm.TableType, err error) {
	_, err = decodeVector(r, "table", func(uint32) error {
		t, err := decodeTableType(r)
		result = append(result, t)
		return err
	})
	return
}

func decodeTableType(r *bytes.Reader) (*wasm.TableType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read leading byte: %v", err)
	}
	if b != wasm.ElemTypeFuncref {
		return nil, fmt.Errorf("%w: invalid element type %#x != funcref(%#x)", wasm.ErrInvalidByte, b, wasm.ElemTypeFuncref)
	}
	limit, err := decodeLimitsType(r)
	if err != nil {
		return nil, fmt.Errorf("read limits: %v", err)
	}
	return &wasm.TableType{ElemType: b, Limit: limit}, nil
}

func decodeMemorySection(r *bytes.Reader) (result []*wasm.MemoryType, err error) {
	_, err = decodeVector(r, "memory", func(uint32) error {
		m, err := decodeLimitsType(r)
		result = append(result, m)
		return err
	})
	return
}

// decodeLimitsType returns the wasm.LimitsType decoded with the WebAssembly 1.0 (MVP) Binary Format.
//
// See https://www.w3.org/TR/wasm-core-1/#limits%E2%91%A6
func decodeLimitsType(r *bytes.Reader) (*wasm.LimitsType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read leading byte: %v", err)
	}

	ret := &wasm.LimitsType{}
	switch b {
	case 0x00:
		if ret.Min, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read min of limit: %v", err)
		}
	case 0x01:
		if ret.Min, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("read min of limit: %v", err)
		}
		m, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read max of limit: %v", err)
		}
		ret.Max = &m
	default:
		return nil, fmt.Errorf("%v for limits: %#x != 0x00 or 0x01", wasm.ErrInvalidByte, b)
	}
	return ret, nil
}

func decodeGlobalSection(r *bytes.Reader) (result []*wasm.Global, err error) {
	_, err = decodeVector(r, "global", func(uint32) error {
		gt, err := decodeGlobalType(r)
		if err != nil {
			return err
		}
		init, err := decodeConstantExpression(r)
		if err != nil {
			return fmt.Errorf("get init expression: %v", err)
		}
		result = append(result, &wasm.Global{Type: gt, Init: init})
		return nil
	})
	return
}

func decodeGlobalType(r *bytes.Reader) (*wasm.GlobalType, error) {
	vt, err := decodeValueType(r)
	if err != nil {
		return nil, fmt.Errorf("read value type: %w", err)
	}

	ret := &wasm.GlobalType{ValType: vt}

	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read mutablity: %w", err)
	}

	switch mut := b; mut {
	case 0x00:
	case 0x01:
		ret.Mutable = true
	default:
		return nil, fmt.Errorf("%w for mutability: %#x != 0x00 or 0x01", wasm.ErrInvalidByte, mut)
	}
	return ret, nil
}

// recordingReader keeps the bytes read through it, so constant expressions retain their raw immediate.
type recordingReader struct {
	r   *bytes.Reader
	buf []byte
}

func (t *recordingReader) ReadByte() (byte, error) {
	b, err := t.r.ReadByte()
	if err == nil {
		t.buf = append(t.buf, b)
	}
	return b, err
}

func (t *recordingReader) skip(n int) (err error) {
	for i := 0; i < n && err == nil; i++ {
		_, err = t.ReadByte()
	}
	return
}

func decodeConstantExpression(r *bytes.Reader) (*wasm.ConstantExpression, error) {
	opcode, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read opcode: %v", err)
	}

	rr := &recordingReader{r: r}
	switch opcode {
	case wasm.OpcodeI32Const:
		_, _, err = leb128.DecodeInt32(rr)
	case wasm.OpcodeI64Const:
		_, _, err = leb128.DecodeInt64(rr)
	case wasm.OpcodeF32Const:
		err = rr.skip(4)
	case wasm.OpcodeF64Const:
		err = rr.skip(8)
	case wasm.OpcodeGlobalGet:
		_, _, err = leb128.DecodeUint32(rr)
	default:
		return nil, fmt.Errorf("%v for const expression opt code: %#x", wasm.ErrInvalidByte, opcode)
	}
	if err != nil {
		return nil, fmt.Errorf("read value: %v", err)
	}

	if b, err := r.ReadByte(); err != nil {
		return nil, fmt.Errorf("look for end opcode: %v", err)
	} else if b != wasm.OpcodeEnd {
		return nil, fmt.Errorf("constant expression has been not terminated")
	}

	return &wasm.ConstantExpression{Opcode: opcode, Data: rr.buf}, nil
}

func decodeExportSection(r *bytes.Reader) (result []*wasm.Export, err error) {
	names := map[string]struct{}{}
	_, err = decodeVector(r, "export", func(i uint32) error {
		e, err := decodeExport(r)
		if err != nil {
			return err
		}
		if _, ok := names[e.Name]; ok {
			return fmt.Errorf("export[%d] duplicates name %q", i, e.Name)
		}
		names[e.Name] = struct{}{}
		result = append(result, e)
		return nil
	})
	return
}

func decodeExport(r *bytes.Reader) (i *wasm.Export, err error) {
	i = &wasm.Export{}
	if i.Name, err = decodeUTF8(r, "export name"); err != nil {
		return nil, err
	}
	if i.Kind, err = r.ReadByte(); err != nil {
		return nil, fmt.Errorf("error decoding export kind: %w", err)
	}
	switch i.Kind {
	case wasm.ExportKindFunc, wasm.ExportKindTable, wasm.ExportKindMemory, wasm.ExportKindGlobal:
		if i.Index, _, err = leb128.DecodeUint32(r); err != nil {
			return nil, fmt.Errorf("error decoding export index: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: invalid byte for exportdesc: %#x", wasm.ErrInvalidByte, i.Kind)
	}
	return
}

func decodeStartSection(r *bytes.Reader) (*wasm.Index, error) {
	vs, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("get function index: %w", err)
	}
	return &vs, nil
}

func decodeElementSection(r *bytes.Reader) (result []*wasm.ElementSegment, err error) {
	_, err = decodeVector(r, "element", func(uint32) error {
		ti, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return fmt.Errorf("get table index: %w", err)
		} else if ti != 0 {
			return fmt.Errorf("%w: table index %d != 0", wasm.ErrInvalidByte, ti)
		}
		expr, err := decodeConstantExpression(r)
		if err != nil {
			return fmt.Errorf("read expr for offset: %w", err)
		}
		var init []wasm.Index
		if _, err = decodeVector(r, "function index", func(uint32) error {
			idx, _, err := leb128.DecodeUint32(r)
			init = append(init, idx)
			return err
		}); err != nil {
			return err
		}
		result = append(result, &wasm.ElementSegment{TableIndex: ti, OffsetExpr: expr, Init: init})
		return nil
	})
	return
}

func decodeCodeSection(r *bytes.Reader) (result []*wasm.Code, err error) {
	_, err = decodeVector(r, "code", func(uint32) error {
		c, err := decodeCode(r)
		result = append(result, c)
		return err
	})
	return
}

func decodeDataSection(r *bytes.Reader) (result []*wasm.DataSegment, err error) {
	_, err = decodeVector(r, "data segment", func(uint32) error {
		d := &wasm.DataSegment{}
		var err error
		if d.MemoryIndex, _, err = leb128.DecodeUint32(r); err != nil {
			return fmt.Errorf("read memory index: %v", err)
		} else if d.MemoryIndex != 0 {
			return fmt.Errorf("memory index must be zero but was %d", d.MemoryIndex)
		}
		if d.OffsetExpression, err = decodeConstantExpression(r); err != nil {
			return fmt.Errorf("read offset expression: %v", err)
		}
		if d.Init, err = decodeSizePrefixed(r, "init"); err != nil {
			return err
		}
		result = append(result, d)
		return nil
	})
	return
}

func decodeCustomSection(r *bytes.Reader, sectionSize uint32) (name string, data []byte, err error) {
	start := r.Len()
	if name, err = decodeUTF8(r, "custom section name"); err != nil {
		return
	}
	read := uint32(start - r.Len())
	if read > sectionSize {
		return "", nil, fmt.Errorf("custom section name exceeds section size")
	}
	data = make([]byte, sectionSize-read)
	if _, err = io.ReadFull(r, data); err != nil {
		return "", nil, fmt.Errorf("read custom section data: %w", err)
	}
	return
}

// Known subsections of the "name" custom section.
const (
	subsectionIDModuleName    = uint8(0)
	subsectionIDFunctionNames = uint8(1)
)

// decodeNameSection deserializes the module and function names of the "name" custom section. Other subsections
// are skipped.
//
// See https://www.w3.org/TR/wasm-core-1/#binary-namesec
func decodeNameSection(data []byte) (result *wasm.NameSection, err error) {
	r := bytes.NewReader(data)
	result = &wasm.NameSection{}
	for {
		subsectionID, err := r.ReadByte()
		if err == io.EOF {
			return result, nil
		}
		subsectionSize, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read the size of subsection[%d]: %w", subsectionID, err)
		}
		switch subsectionID {
		case subsectionIDModuleName:
			if result.ModuleName, err = decodeUTF8(r, "module name"); err != nil {
				return nil, err
			}
		case subsectionIDFunctionNames:
			if _, err = decodeVector(r, "function name", func(uint32) error {
				idx, _, err := leb128.DecodeUint32(r)
				if err != nil {
					return err
				}
				name, err := decodeUTF8(r, "function[%d] name", idx)
				result.FunctionNames = append(result.FunctionNames, &wasm.NameAssoc{Index: idx, Name: name})
				return err
			}); err != nil {
				return nil, err
			}
		default:
			// Not Seek because it doesn't err when given an offset past EOF.
			if _, err := io.CopyN(io.Discard, r, int64(subsectionSize)); err != nil {
				return nil, fmt.Errorf("failed to skip subsection[%d]: %w", subsectionID, err)
			}
		}
	}
}

func decodeSizePrefixed(r *bytes.Reader, what string) ([]byte, error) {
	size, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s size: %w", what, err)
	}
	if int64(size) > int64(r.Len()) {
		return nil, fmt.Errorf("%s size %d exceeds remaining %d bytes", what, size, r.Len())
	}
	buf := make([]byte, size)
	if _, err = io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", what, err)
	}
	return buf, nil
}

func decodeUTF8(r *bytes.Reader, contextFormat string, contextArgs ...interface{}) (string, error) {
	buf, err := decodeSizePrefixed(r, fmt.Sprintf(contextFormat, contextArgs...))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%s is not valid UTF-8", fmt.Sprintf(contextFormat, contextArgs...))
	}
	return string(buf), nil
}

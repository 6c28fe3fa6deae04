package binary

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/wasmevm/wasmevm/internal/leb128"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

func decodeCode(r *bytes.Reader) (*wasm.Code, error) {
	body, err := decodeSizePrefixed(r, "code")
	if err != nil {
		return nil, err
	}
	br := bytes.NewReader(body)

	// parse locals
	var localTypes []wasm.ValueType
	var sum uint64
	if _, err = decodeVector(br, "local", func(uint32) error {
		n, _, err := leb128.DecodeUint32(br)
		if err != nil {
			return fmt.Errorf("read n of locals: %v", err)
		}
		if sum += uint64(n); sum > math.MaxUint16 {
			return fmt.Errorf("too many locals: %d", sum)
		}
		vt, err := decodeValueType(br)
		if err != nil {
			return fmt.Errorf("read type of local: %v", err)
		}
		for j := uint32(0); j < n; j++ {
			localTypes = append(localTypes, vt)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	expr := body[len(body)-br.Len():]
	if len(expr) == 0 || expr[len(expr)-1] != wasm.OpcodeEnd {
		return nil, fmt.Errorf("expr not end with OpcodeEnd")
	}

	return &wasm.Code{LocalTypes: localTypes, Body: expr}, nil
}

// Visitor is called once per instruction of a function body, in program order. A non-nil error stops the traversal
// and is returned unchanged by VisitInstructions.
type Visitor func(ins *wasm.Instruction) error

// ErrUnknownOpcode is returned after the visitor accepted an instruction whose immediates cannot be decoded.
var ErrUnknownOpcode = errors.New("unknown opcode")

// VisitInstructions decodes the function body, including its final end, and calls visit per instruction. The
// nesting of block, loop, if, else and end is validated before the instruction reaches the visitor, so a body
// whose nesting is broken fails here with the offset of the culprit.
//
// types is the module type section, used to resolve block types encoded as a type index.
func VisitInstructions(body []byte, types []*wasm.FunctionType, visit Visitor) error {
	r := bytes.NewReader(body)
	// nesting holds the opcode of each open structured instruction, OpcodeElse once an if switched branches.
	nesting := []wasm.Opcode{wasm.OpcodeBlock}
	for len(nesting) > 0 {
		offset := uint64(len(body) - r.Len())
		op, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("offset %#x: %w: missing end of function body", offset, wasm.ErrUnbalancedControl)
		}

		ins := &wasm.Instruction{Offset: offset, Opcode: op}
		decodeErr := decodeImmediates(r, ins, types)
		if decodeErr != nil && !errors.Is(decodeErr, ErrUnknownOpcode) {
			return fmt.Errorf("offset %#x: %s: %w", offset, ins.Name(), decodeErr)
		}

		switch op {
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			nesting = append(nesting, op)
		case wasm.OpcodeElse:
			if len(nesting) < 2 || nesting[len(nesting)-1] != wasm.OpcodeIf {
				return fmt.Errorf("offset %#x: %w: else without matching if", offset, wasm.ErrUnbalancedControl)
			}
			nesting[len(nesting)-1] = wasm.OpcodeElse
		case wasm.OpcodeEnd:
			nesting = nesting[:len(nesting)-1]
		}

		if err = visit(ins); err != nil {
			return err
		}
		if decodeErr != nil {
			// The visitor was given a chance to reject it by name. The rest of the body cannot be decoded.
			return fmt.Errorf("offset %#x: %w %s", offset, decodeErr, ins.Name())
		}
	}
	if r.Len() != 0 {
		return fmt.Errorf("offset %#x: %w: %d bytes after the end of function body", len(body)-r.Len(), wasm.ErrUnbalancedControl, r.Len())
	}
	return nil
}

// DecodeInstructions returns every instruction of the body, see VisitInstructions.
func DecodeInstructions(body []byte, types []*wasm.FunctionType) (ret []*wasm.Instruction, err error) {
	err = VisitInstructions(body, types, func(ins *wasm.Instruction) error {
		ret = append(ret, ins)
		return nil
	})
	return
}

func decodeImmediates(r *bytes.Reader, ins *wasm.Instruction, types []*wasm.FunctionType) (err error) {
	switch op := ins.Opcode; op {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		ins.Block, err = decodeBlockType(r, types)
	case wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeCall,
		wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
		wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet,
		wasm.OpcodeTableGet, wasm.OpcodeTableSet, wasm.OpcodeRefFunc:
		ins.Index, _, err = leb128.DecodeUint32(r)
	case wasm.OpcodeBrTable:
		if _, err = decodeVector(r, "label", func(uint32) error {
			l, _, err := leb128.DecodeUint32(r)
			ins.Targets = append(ins.Targets, l)
			return err
		}); err != nil {
			return
		}
		ins.Default, _, err = leb128.DecodeUint32(r)
	case wasm.OpcodeCallIndirect:
		if ins.Index, _, err = leb128.DecodeUint32(r); err != nil {
			return
		}
		ins.TableIndex, _, err = leb128.DecodeUint32(r)
	case wasm.OpcodeTypedSelect:
		_, err = decodeValueTypes(r)
	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		err = expectZeroByte(r, "memory index")
	case wasm.OpcodeI32Const:
		ins.I32, _, err = leb128.DecodeInt32(r)
	case wasm.OpcodeI64Const:
		ins.I64, _, err = leb128.DecodeInt64(r)
	case wasm.OpcodeF32Const:
		var b [4]byte
		if _, err = io.ReadFull(r, b[:]); err == nil {
			ins.F32 = binary.LittleEndian.Uint32(b[:])
		}
	case wasm.OpcodeF64Const:
		var b [8]byte
		if _, err = io.ReadFull(r, b[:]); err == nil {
			ins.F64 = binary.LittleEndian.Uint64(b[:])
		}
	case wasm.OpcodeRefNull:
		_, err = r.ReadByte()
	case wasm.OpcodeMiscPrefix:
		if ins.Misc, _, err = leb128.DecodeUint32(r); err != nil {
			return
		}
		err = decodeMiscImmediates(r, ins)
	case wasm.OpcodeVecPrefix:
		if ins.Misc, _, err = leb128.DecodeUint32(r); err == nil {
			err = ErrUnknownOpcode
		}
	default:
		switch {
		case ins.IsMemoryAccess():
			if ins.MemArg.Align, _, err = leb128.DecodeUint32(r); err != nil {
				return
			}
			ins.MemArg.Offset, _, err = leb128.DecodeUint32(r)
		case wasm.InstructionName(op) == "":
			err = ErrUnknownOpcode
		}
	}
	return
}

func decodeMiscImmediates(r *bytes.Reader, ins *wasm.Instruction) (err error) {
	switch ins.Misc {
	case wasm.OpcodeMiscMemoryInit:
		if ins.Index, _, err = leb128.DecodeUint32(r); err == nil {
			err = expectZeroByte(r, "memory index")
		}
	case wasm.OpcodeMiscDataDrop, wasm.OpcodeMiscElemDrop,
		wasm.OpcodeMiscTableGrow, wasm.OpcodeMiscTableSize, wasm.OpcodeMiscTableFill:
		ins.Index, _, err = leb128.DecodeUint32(r)
	case wasm.OpcodeMiscMemoryCopy:
		if err = expectZeroByte(r, "memory index"); err == nil {
			err = expectZeroByte(r, "memory index")
		}
	case wasm.OpcodeMiscMemoryFill:
		err = expectZeroByte(r, "memory index")
	case wasm.OpcodeMiscTableInit, wasm.OpcodeMiscTableCopy:
		if ins.Index, _, err = leb128.DecodeUint32(r); err == nil {
			ins.TableIndex, _, err = leb128.DecodeUint32(r)
		}
	default:
		if ins.Misc > wasm.OpcodeMiscTableFill {
			err = ErrUnknownOpcode
		}
	}
	return
}

// decodeBlockType decodes the blocktype, which is either empty, a value type or a signed 33-bit type index.
//
// See https://www.w3.org/TR/wasm-core-1/#binary-blocktype
func decodeBlockType(r *bytes.Reader, types []*wasm.FunctionType) (wasm.BlockType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return wasm.BlockType{}, fmt.Errorf("read block type: %w", err)
	}
	switch b {
	case 0x40:
		return wasm.BlockType{}, nil
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		return wasm.BlockType{Results: []wasm.ValueType{b}}, nil
	}
	if err = r.UnreadByte(); err != nil {
		return wasm.BlockType{}, err
	}
	raw, _, err := leb128.DecodeInt33AsInt64(r)
	if err != nil {
		return wasm.BlockType{}, fmt.Errorf("read block type index: %w", err)
	} else if raw < 0 || raw >= int64(len(types)) {
		return wasm.BlockType{}, fmt.Errorf("invalid block type: %d", raw)
	}
	idx := wasm.Index(raw)
	return wasm.BlockType{TypeIndex: &idx, Params: types[idx].Params, Results: types[idx].Results}, nil
}

func expectZeroByte(r *bytes.Reader, what string) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read %s: %w", what, err)
	} else if b != 0 {
		return fmt.Errorf("%w: %s must be zero but was %#x", wasm.ErrInvalidByte, what, b)
	}
	return nil
}

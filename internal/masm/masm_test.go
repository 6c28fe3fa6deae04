package masm

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/wasmevm/wasmevm/internal/asm"
	"github.com/wasmevm/wasmevm/internal/evm"
	"github.com/wasmevm/wasmevm/internal/evm/evmtest"
	"github.com/wasmevm/wasmevm/internal/optable"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

var (
	sub = &wasm.FunctionType{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}}
	two = uint32(2)
)

// testModule imports evm.revert, defines one function subtracting its parameters, and has a memory, a global, a
// table holding the function at slot 0 and a data segment.
func testModule() *wasm.Module {
	return &wasm.Module{
		TypeSection: []*wasm.FunctionType{{Params: []wasm.ValueType{i32, i32}}, sub},
		ImportSection: []*wasm.Import{
			{Module: HostModule, Name: "revert", Kind: wasm.ImportKindFunc, DescFunc: 0},
			{Module: "env", Name: "abort", Kind: wasm.ImportKindFunc, DescFunc: 0},
		},
		FunctionSection: []wasm.Index{1},
		CodeSection:     []*wasm.Code{{LocalTypes: []wasm.ValueType{i64}}},
		TableSection:    []*wasm.TableType{{ElemType: wasm.ElemTypeFuncref, Limit: &wasm.LimitsType{Min: 1}}},
		MemorySection:   []*wasm.MemoryType{{Min: 1, Max: &two}},
		GlobalSection: []*wasm.Global{{
			Type: &wasm.GlobalType{ValType: i64, Mutable: true},
			Init: &wasm.ConstantExpression{Opcode: wasm.OpcodeI64Const, Data: []byte{0x07}},
		}},
		ElementSection: []*wasm.ElementSegment{{
			OffsetExpr: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0x00}},
			Init:       []wasm.Index{2},
		}},
		DataSection: []*wasm.DataSegment{{
			OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0x08}},
			Init:             []byte("boom"),
		}},
	}
}

func newTestProgram(t *testing.T, floats FloatPolicy) *Program {
	p, err := NewProgram(testModule(), floats)
	require.NoError(t, err)
	return p
}

// execute runs code emitted by emit after the runtime initialization, returning the top of the stack.
func execute(t *testing.T, p *Program, emit func(a *Assembler)) (*uint256.Int, error) {
	seg := asm.New("test")
	p.EmitInit(seg)
	emit(p.NewSegmentAssembler(seg))
	seg.Op(evm.PUSH0, evm.MSTORE)
	seg.Push(32)
	seg.Op(evm.PUSH0, evm.RETURN)

	trap := asm.New("trap")
	require.NoError(t, p.EmitTrap(trap))
	body := p.NewAssembler(2)
	require.NoError(t, body.Enter())
	body.LocalGet(0)
	body.LocalGet(1)
	body.Op(evm.SWAP1, evm.SUB)
	body.Mask(4)
	body.Return()
	data, err := p.DataSegment()
	require.NoError(t, err)

	code, err := asm.Link(seg, trap, body.Segment(), data)
	require.NoError(t, err)
	res, err := evmtest.Run(code, nil, nil)
	if err != nil {
		return nil, err
	}
	require.False(t, res.Reverted, "reverted with %q", res.Output)
	return new(uint256.Int).SetBytes(res.Output), nil
}

func consts(vs ...uint64) func(a *Assembler) {
	return func(a *Assembler) {
		for _, v := range vs {
			a.Const(v)
		}
	}
}

func TestAssembler_Macros(t *testing.T) {
	tests := []struct {
		name     string
		emit     func(a *Assembler)
		expected uint64
	}{
		{name: "mask", emit: func(a *Assembler) { consts(0x100000001)(a); a.Mask(4) }, expected: 1},
		{name: "sign extend", emit: func(a *Assembler) { consts(0x80000000)(a); a.SignExtend(4); a.Mask(8) }, expected: 0xffffffff80000000},
		{name: "sign extend pair", emit: func(a *Assembler) {
			consts(0xff, 0x01)(a)
			a.SignExtendPair(1)
			a.Op(evm.SLT)
		}, expected: 1}, // -1 < 1
		{name: "shift mask", emit: func(a *Assembler) { consts(33)(a); a.ShiftMask(4) }, expected: 1},
		{name: "clz32 zero", emit: func(a *Assembler) { consts(0)(a); a.Clz(4) }, expected: 32},
		{name: "clz32 one", emit: func(a *Assembler) { consts(1)(a); a.Clz(4) }, expected: 31},
		{name: "clz32 top bit", emit: func(a *Assembler) { consts(0x80000000)(a); a.Clz(4) }, expected: 0},
		{name: "clz32", emit: func(a *Assembler) { consts(0x00010000)(a); a.Clz(4) }, expected: 15},
		{name: "clz64 zero", emit: func(a *Assembler) { consts(0)(a); a.Clz(8) }, expected: 64},
		{name: "clz64", emit: func(a *Assembler) { consts(1 << 40)(a); a.Clz(8) }, expected: 23},
		{name: "ctz32 zero", emit: func(a *Assembler) { consts(0)(a); a.Ctz(4) }, expected: 32},
		{name: "ctz32", emit: func(a *Assembler) { consts(8)(a); a.Ctz(4) }, expected: 3},
		{name: "ctz32 top bit", emit: func(a *Assembler) { consts(0x80000000)(a); a.Ctz(4) }, expected: 31},
		{name: "ctz64 zero", emit: func(a *Assembler) { consts(0)(a); a.Ctz(8) }, expected: 64},
		{name: "ctz64", emit: func(a *Assembler) { consts(1 << 40)(a); a.Ctz(8) }, expected: 40},
		{name: "popcnt32 all", emit: func(a *Assembler) { consts(0xffffffff)(a); a.Popcnt(4) }, expected: 32},
		{name: "popcnt32", emit: func(a *Assembler) { consts(0xf0f0)(a); a.Popcnt(4) }, expected: 8},
		{name: "popcnt64 all", emit: func(a *Assembler) { consts(0xffffffffffffffff)(a); a.Popcnt(8) }, expected: 64},
		{name: "rotl32", emit: func(a *Assembler) { consts(0x80000001, 1)(a); a.Rotl(4) }, expected: 0x00000003},
		{name: "rotr32", emit: func(a *Assembler) { consts(0x80000001, 1)(a); a.Rotr(4) }, expected: 0xc0000000},
		{name: "rotl32 by zero", emit: func(a *Assembler) { consts(0x12345678, 32)(a); a.Rotl(4) }, expected: 0x12345678},
		{name: "rotl64 modulo", emit: func(a *Assembler) { consts(1, 65)(a); a.Rotl(8) }, expected: 2},
		{name: "select first", emit: func(a *Assembler) { consts(10, 20, 1)(a); a.Select() }, expected: 10},
		{name: "select second", emit: func(a *Assembler) { consts(10, 20, 0)(a); a.Select() }, expected: 20},
		{name: "select any non zero", emit: func(a *Assembler) { consts(10, 20, 7)(a); a.Select() }, expected: 10},
		{name: "drop keep", emit: func(a *Assembler) {
			consts(1, 2, 3, 4)(a)
			require.NoError(t, a.DropKeep(2, 1))
			a.Op(evm.SUB)
		}, expected: 3}, // 4 - 1
		{name: "global init", emit: func(a *Assembler) { a.GlobalGet(0) }, expected: 7},
		{name: "global set", emit: func(a *Assembler) { consts(9)(a); a.GlobalSet(0); a.GlobalGet(0) }, expected: 9},
		{name: "memory size", emit: func(a *Assembler) { a.MemorySize() }, expected: 1},
		{name: "memory grow", emit: func(a *Assembler) { consts(1)(a); require.NoError(t, a.MemoryGrow()) }, expected: 1},
		{name: "memory grow then size", emit: func(a *Assembler) {
			consts(1)(a)
			require.NoError(t, a.MemoryGrow())
			a.Op(evm.POP)
			a.MemorySize()
		}, expected: 2},
		{name: "memory grow past max", emit: func(a *Assembler) { consts(5)(a); require.NoError(t, a.MemoryGrow()) }, expected: 0xffffffff},
		{name: "data segment", emit: func(a *Assembler) { consts(8)(a); a.Load(4, wasm.MemArg{}) }, expected: 0x6d6f6f62}, // "boom"
		{name: "call", emit: func(a *Assembler) { consts(10, 3)(a); require.NoError(t, a.Call(2)) }, expected: 7},
		{name: "call wraps", emit: func(a *Assembler) { consts(3, 10)(a); require.NoError(t, a.Call(2)) }, expected: 0xfffffff9},
		{name: "call indirect", emit: func(a *Assembler) {
			consts(10, 3, 0)(a)
			require.NoError(t, a.CallIndirect(1))
		}, expected: 7},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			actual, err := execute(t, newTestProgram(t, FloatPolicyReject), tc.emit)
			require.NoError(t, err)
			require.Equal(t, uint256.NewInt(tc.expected).Hex(), actual.Hex())
		})
	}
}

func TestAssembler_Memory(t *testing.T) {
	store := func(a *Assembler) {
		consts(8, 0x11223344)(a)
		a.Store(4, wasm.MemArg{Offset: 4})
	}
	tests := []struct {
		name     string
		emit     func(a *Assembler)
		expected uint64
	}{
		{name: "first byte is the least significant", emit: func(a *Assembler) { consts(12)(a); a.Load(1, wasm.MemArg{}) }, expected: 0x44},
		{name: "word", emit: func(a *Assembler) { consts(12)(a); a.Load(4, wasm.MemArg{}) }, expected: 0x11223344},
		{name: "offset", emit: func(a *Assembler) { consts(10)(a); a.Load(2, wasm.MemArg{Offset: 3}) }, expected: 0x2233},
		{name: "wider load sees zeros", emit: func(a *Assembler) { consts(12)(a); a.Load(8, wasm.MemArg{}) }, expected: 0x11223344},
		{name: "narrow store", emit: func(a *Assembler) {
			consts(12, 0xabcd)(a)
			a.Store(1, wasm.MemArg{})
			consts(12)(a)
			a.Load(4, wasm.MemArg{})
		}, expected: 0x112233cd},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			actual, err := execute(t, newTestProgram(t, FloatPolicyReject), func(a *Assembler) {
				store(a)
				tc.emit(a)
			})
			require.NoError(t, err)
			require.Equal(t, uint256.NewInt(tc.expected).Hex(), actual.Hex())
		})
	}
}

func TestAssembler_Traps(t *testing.T) {
	tests := []struct {
		name string
		emit func(a *Assembler)
	}{
		{name: "zero divisor", emit: func(a *Assembler) { consts(0)(a); a.TrapIfZero() }},
		{name: "i32 division overflow", emit: func(a *Assembler) {
			consts(0x80000000, 0xffffffff)(a)
			a.SignExtendPair(4)
			a.TrapIfDivOverflow(4)
		}},
		{name: "i64 division overflow", emit: func(a *Assembler) {
			consts(1<<63, 1<<64-1)(a)
			a.SignExtendPair(8)
			a.TrapIfDivOverflow(8)
		}},
		{name: "unreachable", emit: func(a *Assembler) { a.Trap() }},
		{name: "empty table slot", emit: func(a *Assembler) { consts(10, 3, 1)(a); require.NoError(t, a.CallIndirect(1)) }},
		{name: "table slot of another type", emit: func(a *Assembler) { consts(10, 3, 0)(a); require.NoError(t, a.CallIndirect(0)) }},
		{name: "float", emit: func(a *Assembler) {
			require.NoError(t, a.Float(&wasm.Instruction{Opcode: wasm.OpcodeF32Add}))
		}},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, newTestProgram(t, FloatPolicyTrap), tc.emit)
			require.ErrorIs(t, err, evmtest.ErrInvalid)
		})
	}

	t.Run("division without overflow passes", func(t *testing.T) {
		for _, divisor := range []uint64{1, 2, 0xfffffffe} {
			actual, err := execute(t, newTestProgram(t, FloatPolicyTrap), func(a *Assembler) {
				consts(0x80000000, divisor)(a)
				a.SignExtendPair(4)
				a.TrapIfDivOverflow(4)
				a.Mask(4)
			})
			require.NoError(t, err)
			require.Equal(t, "0x80000000", actual.Hex())
		}
	})

	t.Run("non zero passes", func(t *testing.T) {
		actual, err := execute(t, newTestProgram(t, FloatPolicyTrap), func(a *Assembler) { consts(5)(a); a.TrapIfZero() })
		require.NoError(t, err)
		require.Equal(t, "5", actual.String())
	})
}

func TestAssembler_HostRevert(t *testing.T) {
	p := newTestProgram(t, FloatPolicyReject)
	seg := asm.New("test")
	p.EmitInit(seg)
	a := p.NewSegmentAssembler(seg)
	consts(8, 4)(a)
	require.NoError(t, a.Call(0))
	data, err := p.DataSegment()
	require.NoError(t, err)

	code, err := asm.Link(seg, data)
	require.NoError(t, err)
	res, err := evmtest.Run(code, nil, nil)
	require.NoError(t, err)
	require.True(t, res.Reverted)
	require.Equal(t, []byte("boom"), res.Output)
}

func TestAssembler_Check(t *testing.T) {
	body := newTestProgram(t, FloatPolicyReject).NewAssembler(2)
	check := func(ins *wasm.Instruction) error {
		e, err := optable.Lookup(ins)
		require.NoError(t, err)
		return body.Check(ins, e)
	}

	require.NoError(t, check(&wasm.Instruction{Opcode: wasm.OpcodeLocalGet, Index: 2}))
	require.NoError(t, check(&wasm.Instruction{Opcode: wasm.OpcodeCall, Index: 0}))
	require.NoError(t, check(&wasm.Instruction{Opcode: wasm.OpcodeF32Const}))
	require.EqualError(t, check(&wasm.Instruction{Opcode: wasm.OpcodeLocalGet, Index: 3}),
		"offset 0x0: local.get: local index 3 out of range")
	require.EqualError(t, check(&wasm.Instruction{Opcode: wasm.OpcodeGlobalSet, Index: 1}),
		"offset 0x0: global.set: global index 1 out of range")
	require.EqualError(t, check(&wasm.Instruction{Opcode: wasm.OpcodeCall, Index: 3}),
		"offset 0x0: call: function index 3 out of range")

	var uerr *optable.UnsupportedOperatorError
	err := check(&wasm.Instruction{Opcode: wasm.OpcodeCall, Index: 1, Offset: 5})
	require.True(t, errors.As(err, &uerr))
	require.EqualError(t, err, "offset 0x5: unsupported operator call: unknown host function env.abort")

	err = check(&wasm.Instruction{Opcode: wasm.OpcodeF64Mul})
	require.True(t, errors.As(err, &uerr))
	require.Equal(t, "f64.mul", uerr.Instruction)

	trapping := newTestProgram(t, FloatPolicyTrap).NewAssembler(2)
	require.NoError(t, trapping.Check(&wasm.Instruction{Opcode: wasm.OpcodeF64Mul}, optable.Entry{
		Kind: optable.KindDirect, Steps: []optable.Primitive{{Code: optable.PrimFloat}},
	}))
}

func TestNewProgram_Errors(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(m *wasm.Module)
		expectedErr string
	}{
		{
			name: "host function of the wrong type",
			modify: func(m *wasm.Module) {
				m.ImportSection[0].DescFunc = 1
			},
			expectedErr: "import evm.revert: type i32i32_i32 does not match i32i32_null",
		},
		{
			name: "imported memory",
			modify: func(m *wasm.Module) {
				m.ImportSection = append(m.ImportSection, &wasm.Import{Module: "env", Name: "memory", Kind: wasm.ImportKindMemory})
			},
			expectedErr: "import env.memory: only functions can be imported",
		},
		{
			name: "global initialized from a global",
			modify: func(m *wasm.Module) {
				m.GlobalSection[0].Init = &wasm.ConstantExpression{Opcode: wasm.OpcodeGlobalGet, Data: []byte{0}}
			},
			expectedErr: "global[0]: constant expression global.get is not supported",
		},
		{
			name: "unknown host function in table",
			modify: func(m *wasm.Module) {
				m.ElementSection[0].Init = []wasm.Index{1}
			},
			expectedErr: "element[0]: unknown host function env.abort",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			m := testModule()
			tc.modify(m)
			_, err := NewProgram(m, FloatPolicyReject)
			require.EqualError(t, err, tc.expectedErr)
		})
	}
}

func TestNewLayout(t *testing.T) {
	l := NewLayout(testModule())
	require.Equal(t, 1, l.Globals)
	require.Equal(t, []Frame{{Base: 0x80, Params: 2, Locals: 1}}, l.Frames)
	require.Equal(t, uint64(0x80), l.Frames[0].ReturnSlot())
	require.Equal(t, uint64(0xa0), l.Frames[0].Local(0))
	require.Equal(t, uint64(0xe0), l.Frames[0].Local(2))
	require.Equal(t, uint64(0x100), l.MemoryBase)
	require.Equal(t, uint64(0x60), l.GlobalSlot(0))
}

func TestProgram_TableFunctions(t *testing.T) {
	p := newTestProgram(t, FloatPolicyReject)
	require.Equal(t, []wasm.Index{2}, p.TableFunctions(1))
	require.Nil(t, p.TableFunctions(0))
}

package wasmevm

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wasmevm/wasmevm/abi"
	"github.com/wasmevm/wasmevm/internal/evm/evmtest"
	"github.com/wasmevm/wasmevm/internal/wasm"
	"github.com/wasmevm/wasmevm/internal/wasm/binary"
)

var (
	i32        = wasm.ValueTypeI32
	i32i32_i32 = &wasm.FunctionType{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}}
	i32i32_v   = &wasm.FunctionType{Params: []wasm.ValueType{i32, i32}}
	v_v        = &wasm.FunctionType{}
)

func body(ins ...*wasm.Instruction) *wasm.Code {
	return &wasm.Code{Body: binary.EncodeInstructions(append(ins, &wasm.Instruction{Opcode: wasm.OpcodeEnd}))}
}

func localGet(i wasm.Index) *wasm.Instruction {
	return &wasm.Instruction{Opcode: wasm.OpcodeLocalGet, Index: i}
}

func i32Const(v int32) *wasm.Instruction {
	return &wasm.Instruction{Opcode: wasm.OpcodeI32Const, I32: v}
}

// exampleSource exports add(int32,int32) and run_revert().
func exampleSource() []byte {
	return binary.EncodeModule(&wasm.Module{
		TypeSection: []*wasm.FunctionType{i32i32_v, v_v, i32i32_i32},
		ImportSection: []*wasm.Import{
			{Module: "evm", Name: "revert", Kind: wasm.ImportKindFunc, DescFunc: 0},
		},
		FunctionSection: []wasm.Index{2, 1},
		CodeSection: []*wasm.Code{
			body(localGet(0), localGet(1), &wasm.Instruction{Opcode: wasm.OpcodeI32Add}),
			body(i32Const(0), i32Const(12), &wasm.Instruction{Opcode: wasm.OpcodeCall, Index: 0}),
		},
		MemorySection: []*wasm.MemoryType{{Min: 1}},
		DataSection: []*wasm.DataSegment{{
			OffsetExpression: &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: []byte{0}},
			Init:             []byte("revert works"),
		}},
		ExportSection: []*wasm.Export{
			{Kind: wasm.ExportKindFunc, Name: "add", Index: 1},
			{Kind: wasm.ExportKindMemory, Name: "memory", Index: 0},
			{Kind: wasm.ExportKindFunc, Name: "run_revert", Index: 2},
		},
	})
}

// word is the ABI encoding of v.
func word(v int64) []byte {
	w := new(uint256.Int).ExtendSign(uint256.NewInt(uint64(v)), uint256.NewInt(7)).Bytes32()
	return w[:]
}

func TestCompiler_Compile(t *testing.T) {
	contract, err := NewCompiler(nil).Compile(context.Background(), exampleSource())
	require.NoError(t, err)

	require.Equal(t, []string{"add(int32,int32)", "run_revert()"}, []string{contract.ABI[0].Signature(), contract.ABI[1].Signature()})
	require.Equal(t, []abi.Selector{contract.ABI[0].Selector(), contract.ABI[1].Selector()}, contract.Selectors)

	runtime, err := evmtest.Deploy(contract.Creation)
	require.NoError(t, err)
	require.Equal(t, contract.Runtime, runtime)

	calldata := append(contract.Selectors[0][:], word(-5)...)
	calldata = append(calldata, word(3)...)
	res, err := evmtest.Run(runtime, calldata, nil)
	require.NoError(t, err)
	require.False(t, res.Reverted)
	require.Equal(t, word(-2), res.Output)

	res, err = evmtest.Run(runtime, contract.Selectors[1][:], nil)
	require.NoError(t, err)
	require.True(t, res.Reverted)
	require.Equal(t, "revert works", string(res.Output))
}

func TestCompiler_Compile_ABI(t *testing.T) {
	c := NewCompiler(NewCompilerConfig().WithABI(abi.Function{
		Name:    "add",
		Inputs:  []abi.Param{{Name: "a", Type: "uint8"}, {Name: "b", Type: "uint8"}},
		Outputs: []abi.Param{{Name: "ok", Type: "bool"}},
	}))
	contract, err := c.Compile(context.Background(), exampleSource())
	require.NoError(t, err)
	require.Equal(t, "add(uint8,uint8)", contract.ABI[0].Signature())
	require.Equal(t, abi.ParseSelector([]byte("add(uint8,uint8)")), contract.Selectors[0])
	require.Equal(t, "function", contract.ABI[0].Type)

	runtime, err := evmtest.Deploy(contract.Creation)
	require.NoError(t, err)
	calldata := append(contract.Selectors[0][:], word(1)...)
	calldata = append(calldata, word(1)...)
	res, err := evmtest.Run(runtime, calldata, nil)
	require.NoError(t, err)
	require.Equal(t, word(1), res.Output)
}

func TestCompiler_Compile_Errors(t *testing.T) {
	floats := binary.EncodeModule(&wasm.Module{
		TypeSection:     []*wasm.FunctionType{v_v},
		FunctionSection: []wasm.Index{0},
		CodeSection: []*wasm.Code{body(
			&wasm.Instruction{Opcode: wasm.OpcodeF64Const},
			&wasm.Instruction{Opcode: wasm.OpcodeF64Sqrt},
			&wasm.Instruction{Opcode: wasm.OpcodeDrop},
		)},
	})

	t.Run("invalid binary", func(t *testing.T) {
		_, err := NewCompiler(nil).Compile(context.Background(), []byte{0, 'a', 's'})
		require.Error(t, err)
		require.Contains(t, err.Error(), "invalid binary: ")
	})
	t.Run("unsupported operator", func(t *testing.T) {
		_, err := NewCompiler(nil).Compile(context.Background(), floats)
		var ue *UnsupportedOperatorError
		require.True(t, errors.As(err, &ue))
		require.Equal(t, "f64.sqrt", ue.Instruction)
	})
	t.Run("trapping floats", func(t *testing.T) {
		_, err := NewCompiler(NewCompilerConfig().WithFloatPolicy(FloatPolicyTrap)).Compile(context.Background(), floats)
		require.NoError(t, err)
	})
	t.Run("code size limit", func(t *testing.T) {
		_, err := NewCompiler(NewCompilerConfig().WithCodeSizeLimit(32)).Compile(context.Background(), exampleSource())
		require.True(t, errors.Is(err, ErrCodeSizeLimit))
	})
	t.Run("invalid branch target", func(t *testing.T) {
		source := binary.EncodeModule(&wasm.Module{
			TypeSection:     []*wasm.FunctionType{v_v},
			FunctionSection: []wasm.Index{0},
			CodeSection:     []*wasm.Code{body(&wasm.Instruction{Opcode: wasm.OpcodeBr, Index: 1})},
		})
		_, err := NewCompiler(nil).Compile(context.Background(), source)
		var be *InvalidBranchTargetError
		require.True(t, errors.As(err, &be))
		require.Equal(t, uint32(1), be.Depth)
	})
	t.Run("extra end", func(t *testing.T) {
		source := binary.EncodeModule(&wasm.Module{
			TypeSection:     []*wasm.FunctionType{v_v},
			FunctionSection: []wasm.Index{0},
			CodeSection:     []*wasm.Code{body(&wasm.Instruction{Opcode: wasm.OpcodeEnd})},
		})
		_, err := NewCompiler(nil).Compile(context.Background(), source)
		require.EqualError(t, err, "function $0: offset 0x1: unbalanced control flow: 1 bytes after the end of function body")
		require.True(t, errors.Is(err, ErrUnbalancedControl))
	})
	t.Run("missing end", func(t *testing.T) {
		source := binary.EncodeModule(&wasm.Module{
			TypeSection:     []*wasm.FunctionType{v_v},
			FunctionSection: []wasm.Index{0},
			CodeSection:     []*wasm.Code{{Body: []byte{wasm.OpcodeBlock, 0x40, wasm.OpcodeEnd}}},
		})
		_, err := NewCompiler(nil).Compile(context.Background(), source)
		require.True(t, errors.Is(err, ErrUnbalancedControl))
	})
	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewCompiler(nil).Compile(ctx, exampleSource())
		require.True(t, errors.Is(err, context.Canceled))
	})
}

func TestCompiler_Compile_Logger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	c := NewCompiler(NewCompilerConfig().WithLogger(zap.New(core)))
	_, err := c.Compile(context.Background(), exampleSource())
	require.NoError(t, err)

	// Debug entries are filtered by the core.
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, "contract compiled", entry.Message)
	require.Equal(t, int64(2), entry.ContextMap()["exports"])
}

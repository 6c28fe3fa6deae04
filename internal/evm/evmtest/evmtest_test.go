package evmtest

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/wasmevm/wasmevm/internal/evm"
)

func code(parts ...interface{}) (ret []byte) {
	for _, p := range parts {
		switch v := p.(type) {
		case evm.OpCode:
			ret = append(ret, byte(v))
		case int:
			ret = append(ret, byte(v))
		case byte:
			ret = append(ret, v)
		}
	}
	return
}

// returnTop stores the top of the stack at 0 and returns the 32 byte word.
var returnTop = code(evm.PUSH0, evm.MSTORE, evm.PUSH1, 32, evm.PUSH0, evm.RETURN)

// minus returns the two's complement of v.
func minus(v uint64) *uint256.Int {
	return new(uint256.Int).Neg(uint256.NewInt(v))
}

func TestRun_Arithmetic(t *testing.T) {
	tests := []struct {
		name     string
		code     []byte
		expected *uint256.Int
	}{
		{name: "sub wraps", code: code(evm.PUSH1, 2, evm.PUSH1, 1, evm.SUB), expected: minus(1)},
		{name: "div by zero", code: code(evm.PUSH0, evm.PUSH1, 9, evm.DIV), expected: uint256.NewInt(0)},
		{name: "sdiv", code: code(evm.PUSH1, 2, evm.PUSH1, 7, evm.PUSH0, evm.SUB, evm.SDIV), expected: minus(3)},
		{name: "signextend", code: code(evm.PUSH1, 0xff, evm.PUSH0, evm.SIGNEXTEND), expected: minus(1)},
		{name: "signextend positive", code: code(evm.PUSH1, 0x7f, evm.PUSH0, evm.SIGNEXTEND), expected: uint256.NewInt(0x7f)},
		{name: "shl", code: code(evm.PUSH1, 1, evm.PUSH1, 8, evm.SHL), expected: uint256.NewInt(256)},
		{name: "shl past the word", code: code(evm.PUSH1, 1, evm.PUSH2, 1, 0, evm.SHL), expected: uint256.NewInt(0)},
		{name: "sar negative", code: code(evm.PUSH1, 8, evm.PUSH0, evm.SUB, evm.PUSH1, 2, evm.SAR), expected: minus(2)},
		{name: "sar negative past the word", code: code(evm.PUSH1, 8, evm.PUSH0, evm.SUB, evm.PUSH2, 1, 0, evm.SAR), expected: minus(1)},
		{name: "slt", code: code(evm.PUSH0, evm.PUSH1, 1, evm.PUSH0, evm.SUB, evm.SLT), expected: uint256.NewInt(1)},
		{name: "byte", code: code(evm.PUSH2, 0xab, 0xcd, evm.PUSH1, 30, evm.BYTE), expected: uint256.NewInt(0xab)},
		{name: "swap and dup", code: code(evm.PUSH1, 1, evm.PUSH1, 2, evm.SWAP1, evm.Dup(2), evm.SUB), expected: uint256.NewInt(1)},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			res, err := Run(append(tc.code, returnTop...), nil, nil)
			require.NoError(t, err)
			require.False(t, res.Reverted)
			require.Equal(t, tc.expected.Hex(), new(uint256.Int).SetBytes(res.Output).Hex())
		})
	}
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(code(evm.INVALID), nil, nil)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = Run(code(evm.ADD), nil, nil)
	require.ErrorIs(t, err, ErrStackUnderflow)

	_, err = Run(code(evm.PUSH1, 4, evm.JUMP), nil, nil)
	require.ErrorIs(t, err, ErrBadJump)
	// The target is inside the push immediate.
	_, err = Run(code(evm.PUSH1, 4, evm.JUMP, evm.PUSH1, byte(evm.JUMPDEST)), nil, nil)
	require.ErrorIs(t, err, ErrBadJump)

	_, err = Run(code(evm.JUMPDEST, evm.PUSH0, evm.JUMP), nil, &Env{StepLimit: 100})
	require.ErrorIs(t, err, ErrStepLimit)
}

func TestRun_Calldata_Storage(t *testing.T) {
	// sstore(0, calldataload(0)); revert if calldatasize == 0
	c := code(evm.CALLDATASIZE, evm.PUSH1, 10, evm.JUMPI, evm.PUSH0, evm.PUSH0, evm.REVERT, 0, 0, 0,
		evm.JUMPDEST, evm.PUSH0, evm.CALLDATALOAD, evm.PUSH0, evm.SSTORE, evm.STOP)
	c[7], c[8], c[9] = byte(evm.STOP), byte(evm.STOP), byte(evm.STOP)

	env := &Env{}
	res, err := Run(c, nil, env)
	require.NoError(t, err)
	require.True(t, res.Reverted)
	require.Empty(t, env.Storage)

	res, err = Run(c, []byte{0x01}, env)
	require.NoError(t, err)
	require.False(t, res.Reverted)
	require.Equal(t, map[uint256.Int]uint256.Int{{}: *new(uint256.Int).Lsh(uint256.NewInt(1), 248)}, env.Storage)
}

func TestDeploy(t *testing.T) {
	runtime := code(evm.PUSH1, 42, evm.PUSH0, evm.MSTORE, evm.PUSH1, 32, evm.PUSH0, evm.RETURN)
	initCode := code(evm.PUSH1, len(runtime), evm.DUP1, evm.PUSH1, 10, evm.PUSH0, evm.CODECOPY, evm.PUSH0, evm.RETURN, evm.STOP)
	require.Len(t, initCode, 10)

	deployed, err := Deploy(append(initCode, runtime...))
	require.NoError(t, err)
	require.Equal(t, runtime, deployed)

	res, err := Run(deployed, nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), new(uint256.Int).SetBytes(res.Output).Uint64())
}

func TestRun_Log(t *testing.T) {
	c := code(evm.PUSH1, 0xab, evm.PUSH0, evm.MSTORE8, evm.PUSH1, 1, evm.PUSH0, evm.LOG0, evm.STOP)
	res, err := Run(c, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []Log{{Topics: []uint256.Int{}, Data: []byte{0xab}}}, res.Logs)
}

// Package evmtest is a small EVM interpreter for executing compiled contracts in tests. It models no gas, accounts
// nor sub calls.
package evmtest

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/wasmevm/wasmevm/internal/evm"
)

var (
	// ErrInvalid is returned when execution reaches INVALID or an undefined opcode, the EVM's trap.
	ErrInvalid        = errors.New("invalid opcode")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrBadJump        = errors.New("invalid jump destination")
	ErrStepLimit      = errors.New("step limit exceeded")
)

const (
	stackLimit = 1024
	// memoryLimit bounds memory growth, since no gas is charged.
	memoryLimit = 1 << 24
)

// Log is an emitted LOGn.
type Log struct {
	Topics []uint256.Int
	Data   []byte
}

// Result is the outcome of an execution that did not fail with a Go error.
type Result struct {
	// Output is the RETURN or REVERT data.
	Output   []byte
	Reverted bool
	Logs     []Log
	// Steps is the count of executed instructions.
	Steps int
}

// Env is the environment of an execution. Storage is mutated by SSTORE unless the execution reverts.
type Env struct {
	Caller    uint256.Int
	CallValue uint256.Int
	Storage   map[uint256.Int]uint256.Int
	// StepLimit defaults to one million.
	StepLimit int
}

type machine struct {
	code     []byte
	calldata []byte
	env      *Env
	dests    map[int]bool
	stack    []uint256.Int
	memory   []byte
	storage  map[uint256.Int]uint256.Int
	logs     []Log
}

// Deploy runs the constructor code and returns the runtime code it returned.
func Deploy(initCode []byte) ([]byte, error) {
	res, err := Run(initCode, nil, nil)
	if err != nil {
		return nil, err
	} else if res.Reverted {
		return nil, fmt.Errorf("constructor reverted: %x", res.Output)
	}
	return res.Output, nil
}

// Run executes code with the given call data.
func Run(code, calldata []byte, env *Env) (*Result, error) {
	if env == nil {
		env = &Env{}
	}
	limit := env.StepLimit
	if limit == 0 {
		limit = 1_000_000
	}
	m := &machine{
		code:     code,
		calldata: calldata,
		env:      env,
		dests:    evm.JumpDests(code),
		storage:  make(map[uint256.Int]uint256.Int, len(env.Storage)),
	}
	for k, v := range env.Storage {
		m.storage[k] = v
	}

	res := &Result{}
	for pc := 0; ; res.Steps++ {
		if res.Steps >= limit {
			return nil, ErrStepLimit
		}
		next, done, err := m.step(pc, res)
		if err != nil {
			return nil, fmt.Errorf("pc %#x %s: %w", pc, m.opAt(pc), err)
		}
		if done {
			break
		}
		pc = next
	}
	if !res.Reverted {
		env.Storage = m.storage
		res.Logs = m.logs
	}
	return res, nil
}

func (m *machine) opAt(pc int) evm.OpCode {
	if pc < len(m.code) {
		return evm.OpCode(m.code[pc])
	}
	return evm.STOP
}

func (m *machine) push(v *uint256.Int) error {
	if len(m.stack) == stackLimit {
		return ErrStackOverflow
	}
	m.stack = append(m.stack, *v)
	return nil
}

// pop returns the n top values, the top first.
func (m *machine) pop(n int) ([]uint256.Int, error) {
	if len(m.stack) < n {
		return nil, ErrStackUnderflow
	}
	ret := make([]uint256.Int, n)
	for i := 0; i < n; i++ {
		ret[i] = m.stack[len(m.stack)-1-i]
	}
	m.stack = m.stack[:len(m.stack)-n]
	return ret, nil
}

func (m *machine) expand(offset, size *uint256.Int) (int, int, error) {
	if size.IsZero() {
		return 0, 0, nil
	}
	end, overflow := new(uint256.Int).AddOverflow(offset, size)
	if overflow || !end.IsUint64() || end.Uint64() > memoryLimit {
		return 0, 0, fmt.Errorf("memory access [%s, +%s) out of range", offset.Hex(), size.Hex())
	}
	if need := int(end.Uint64()); need > len(m.memory) {
		need = (need + 31) / 32 * 32
		m.memory = append(m.memory, make([]byte, need-len(m.memory))...)
	}
	return int(offset.Uint64()), int(size.Uint64()), nil
}

func boolWord(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}

// padded returns size bytes of data from offset, zero filled past the end.
func padded(data []byte, offset *uint256.Int, size int) []byte {
	ret := make([]byte, size)
	if offset.IsUint64() && offset.Uint64() < uint64(len(data)) {
		copy(ret, data[offset.Uint64():])
	}
	return ret
}

// shift returns the shift amount of SHL, SHR and SAR, or false when it clears the whole word.
func shift(n *uint256.Int) (uint, bool) {
	if n.LtUint64(256) {
		return uint(n.Uint64()), true
	}
	return 0, false
}

func (m *machine) step(pc int, res *Result) (next int, done bool, err error) {
	op := m.opAt(pc)
	next = pc + 1

	if n := op.PushSize(); n > 0 || op == evm.PUSH0 {
		next = pc + 1 + n
		return next, false, m.push(new(uint256.Int).SetBytes(padded(m.code, uint256.NewInt(uint64(pc+1)), n)))
	}
	switch {
	case op >= evm.DUP1 && op <= evm.DUP16:
		n := int(op-evm.DUP1) + 1
		if len(m.stack) < n {
			return 0, false, ErrStackUnderflow
		}
		v := m.stack[len(m.stack)-n]
		return next, false, m.push(&v)
	case op >= evm.SWAP1 && op <= evm.SWAP16:
		n := int(op-evm.SWAP1) + 1
		if len(m.stack) < n+1 {
			return 0, false, ErrStackUnderflow
		}
		top := len(m.stack) - 1
		m.stack[top], m.stack[top-n] = m.stack[top-n], m.stack[top]
		return next, false, nil
	case op >= evm.LOG0 && op <= evm.LOG4:
		args, err := m.pop(2 + int(op-evm.LOG0))
		if err != nil {
			return 0, false, err
		}
		off, size, err := m.expand(&args[0], &args[1])
		if err != nil {
			return 0, false, err
		}
		m.logs = append(m.logs, Log{Topics: args[2:], Data: append([]byte{}, m.memory[off:off+size]...)})
		return next, false, nil
	}

	binary := func(f func(z, a, b *uint256.Int) *uint256.Int) error {
		args, err := m.pop(2)
		if err != nil {
			return err
		}
		return m.push(f(new(uint256.Int), &args[0], &args[1]))
	}
	unary := func(f func(z, a *uint256.Int) *uint256.Int) error {
		args, err := m.pop(1)
		if err != nil {
			return err
		}
		return m.push(f(new(uint256.Int), &args[0]))
	}

	switch op {
	case evm.STOP:
		return 0, true, nil
	case evm.ADD:
		err = binary((*uint256.Int).Add)
	case evm.MUL:
		err = binary((*uint256.Int).Mul)
	case evm.SUB:
		err = binary((*uint256.Int).Sub)
	case evm.DIV:
		err = binary((*uint256.Int).Div)
	case evm.SDIV:
		err = binary((*uint256.Int).SDiv)
	case evm.MOD:
		err = binary((*uint256.Int).Mod)
	case evm.SMOD:
		err = binary((*uint256.Int).SMod)
	case evm.EXP:
		err = binary((*uint256.Int).Exp)
	case evm.SIGNEXTEND:
		err = binary(func(z, b, x *uint256.Int) *uint256.Int { return z.ExtendSign(x, b) })
	case evm.LT:
		err = binary(func(_, a, b *uint256.Int) *uint256.Int { return boolWord(a.Lt(b)) })
	case evm.GT:
		err = binary(func(_, a, b *uint256.Int) *uint256.Int { return boolWord(a.Gt(b)) })
	case evm.SLT:
		err = binary(func(_, a, b *uint256.Int) *uint256.Int { return boolWord(a.Slt(b)) })
	case evm.SGT:
		err = binary(func(_, a, b *uint256.Int) *uint256.Int { return boolWord(a.Sgt(b)) })
	case evm.EQ:
		err = binary(func(_, a, b *uint256.Int) *uint256.Int { return boolWord(a.Eq(b)) })
	case evm.ISZERO:
		err = unary(func(_, a *uint256.Int) *uint256.Int { return boolWord(a.IsZero()) })
	case evm.AND:
		err = binary((*uint256.Int).And)
	case evm.OR:
		err = binary((*uint256.Int).Or)
	case evm.XOR:
		err = binary((*uint256.Int).Xor)
	case evm.NOT:
		err = unary((*uint256.Int).Not)
	case evm.BYTE:
		err = binary(func(z, i, x *uint256.Int) *uint256.Int { return z.Set(x).Byte(i) })
	case evm.SHL:
		err = binary(func(z, n, v *uint256.Int) *uint256.Int {
			if s, ok := shift(n); ok {
				return z.Lsh(v, s)
			}
			return z.Clear()
		})
	case evm.SHR:
		err = binary(func(z, n, v *uint256.Int) *uint256.Int {
			if s, ok := shift(n); ok {
				return z.Rsh(v, s)
			}
			return z.Clear()
		})
	case evm.SAR:
		err = binary(func(z, n, v *uint256.Int) *uint256.Int {
			if s, ok := shift(n); ok {
				return z.SRsh(v, s)
			}
			if v.Sign() < 0 {
				return z.SetAllOne()
			}
			return z.Clear()
		})
	case evm.KECCAK256:
		var args []uint256.Int
		if args, err = m.pop(2); err != nil {
			return
		}
		var off, size int
		if off, size, err = m.expand(&args[0], &args[1]); err != nil {
			return
		}
		h := sha3.NewLegacyKeccak256()
		h.Write(m.memory[off : off+size])
		err = m.push(new(uint256.Int).SetBytes(h.Sum(nil)))
	case evm.CALLER:
		err = m.push(&m.env.Caller)
	case evm.CALLVALUE:
		err = m.push(&m.env.CallValue)
	case evm.CALLDATALOAD:
		err = unary(func(z, off *uint256.Int) *uint256.Int { return z.SetBytes(padded(m.calldata, off, 32)) })
	case evm.CALLDATASIZE:
		err = m.push(uint256.NewInt(uint64(len(m.calldata))))
	case evm.CODESIZE:
		err = m.push(uint256.NewInt(uint64(len(m.code))))
	case evm.CALLDATACOPY, evm.CODECOPY:
		var args []uint256.Int
		if args, err = m.pop(3); err != nil {
			return
		}
		var off, size int
		if off, size, err = m.expand(&args[0], &args[2]); err != nil {
			return
		}
		src := m.code
		if op == evm.CALLDATACOPY {
			src = m.calldata
		}
		copy(m.memory[off:off+size], padded(src, &args[1], size))
	case evm.POP:
		_, err = m.pop(1)
	case evm.MLOAD:
		var args []uint256.Int
		if args, err = m.pop(1); err != nil {
			return
		}
		var off int
		if off, _, err = m.expand(&args[0], uint256.NewInt(32)); err != nil {
			return
		}
		err = m.push(new(uint256.Int).SetBytes(m.memory[off : off+32]))
	case evm.MSTORE, evm.MSTORE8:
		var args []uint256.Int
		if args, err = m.pop(2); err != nil {
			return
		}
		size := 32
		if op == evm.MSTORE8 {
			size = 1
		}
		var off int
		if off, _, err = m.expand(&args[0], uint256.NewInt(uint64(size))); err != nil {
			return
		}
		word := args[1].Bytes32()
		copy(m.memory[off:off+size], word[32-size:])
	case evm.SLOAD:
		err = unary(func(z, k *uint256.Int) *uint256.Int {
			v := m.storage[*k]
			return z.Set(&v)
		})
	case evm.SSTORE:
		var args []uint256.Int
		if args, err = m.pop(2); err == nil {
			m.storage[args[0]] = args[1]
		}
	case evm.JUMP, evm.JUMPI:
		n := 1
		if op == evm.JUMPI {
			n = 2
		}
		var args []uint256.Int
		if args, err = m.pop(n); err != nil {
			return
		}
		if op == evm.JUMPI && args[1].IsZero() {
			return
		}
		if !args[0].IsUint64() || args[0].Uint64() >= uint64(len(m.code)) || !m.dests[int(args[0].Uint64())] {
			return 0, false, fmt.Errorf("%w: %s", ErrBadJump, args[0].Hex())
		}
		next = int(args[0].Uint64())
	case evm.PC:
		err = m.push(uint256.NewInt(uint64(pc)))
	case evm.MSIZE:
		err = m.push(uint256.NewInt(uint64(len(m.memory))))
	case evm.GAS:
		err = m.push(uint256.NewInt(1 << 40))
	case evm.JUMPDEST:
	case evm.RETURN, evm.REVERT:
		var args []uint256.Int
		if args, err = m.pop(2); err != nil {
			return
		}
		var off, size int
		if off, size, err = m.expand(&args[0], &args[1]); err != nil {
			return
		}
		res.Output = append([]byte{}, m.memory[off:off+size]...)
		res.Reverted = op == evm.REVERT
		return 0, true, nil
	default:
		return 0, false, ErrInvalid
	}
	return
}

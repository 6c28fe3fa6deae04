// Package evm enumerates the instruction set of the Ethereum Virtual Machine targeted by the compiler.
package evm

import "fmt"

// OpCode is a single byte EVM instruction. See also OpCode.String
type OpCode byte

// Stop and arithmetic.
const (
	STOP OpCode = iota
	ADD
	MUL
	SUB
	DIV
	SDIV
	MOD
	SMOD
	ADDMOD
	MULMOD
	EXP
	SIGNEXTEND
)

// Comparison and bitwise.
const (
	LT OpCode = iota + 0x10
	GT
	SLT
	SGT
	EQ
	ISZERO
	AND
	OR
	XOR
	NOT
	BYTE
	SHL
	SHR
	SAR
)

const (
	KECCAK256 OpCode = 0x20
)

// Environment.
const (
	ADDRESS OpCode = iota + 0x30
	BALANCE
	ORIGIN
	CALLER
	CALLVALUE
	CALLDATALOAD
	CALLDATASIZE
	CALLDATACOPY
	CODESIZE
	CODECOPY
	GASPRICE
	EXTCODESIZE
	EXTCODECOPY
	RETURNDATASIZE
	RETURNDATACOPY
	EXTCODEHASH
)

// Stack, memory, storage and flow.
const (
	POP OpCode = iota + 0x50
	MLOAD
	MSTORE
	MSTORE8
	SLOAD
	SSTORE
	JUMP
	JUMPI
	PC
	MSIZE
	GAS
	JUMPDEST
	TLOAD
	TSTORE
	MCOPY
	PUSH0
)

// Push, dup, swap and log ranges.
const (
	PUSH1  OpCode = 0x60
	PUSH2  OpCode = 0x61
	PUSH4  OpCode = 0x63
	PUSH32 OpCode = 0x7f
	DUP1   OpCode = 0x80
	DUP16  OpCode = 0x8f
	SWAP1  OpCode = 0x90
	SWAP16 OpCode = 0x9f
	LOG0   OpCode = 0xa0
	LOG4   OpCode = 0xa4
)

// System.
const (
	CREATE OpCode = iota + 0xf0
	CALL
	CALLCODE
	RETURN
	DELEGATECALL
	CREATE2

	STATICCALL OpCode = 0xfa
	REVERT     OpCode = 0xfd
	INVALID    OpCode = 0xfe
)

var opCodeNames = map[OpCode]string{
	STOP: "STOP", ADD: "ADD", MUL: "MUL", SUB: "SUB", DIV: "DIV", SDIV: "SDIV", MOD: "MOD", SMOD: "SMOD",
	ADDMOD: "ADDMOD", MULMOD: "MULMOD", EXP: "EXP", SIGNEXTEND: "SIGNEXTEND",

	LT: "LT", GT: "GT", SLT: "SLT", SGT: "SGT", EQ: "EQ", ISZERO: "ISZERO", AND: "AND", OR: "OR", XOR: "XOR",
	NOT: "NOT", BYTE: "BYTE", SHL: "SHL", SHR: "SHR", SAR: "SAR",

	KECCAK256: "KECCAK256",

	ADDRESS: "ADDRESS", BALANCE: "BALANCE", ORIGIN: "ORIGIN", CALLER: "CALLER", CALLVALUE: "CALLVALUE",
	CALLDATALOAD: "CALLDATALOAD", CALLDATASIZE: "CALLDATASIZE", CALLDATACOPY: "CALLDATACOPY",
	CODESIZE: "CODESIZE", CODECOPY: "CODECOPY", GASPRICE: "GASPRICE", EXTCODESIZE: "EXTCODESIZE",
	EXTCODECOPY: "EXTCODECOPY", RETURNDATASIZE: "RETURNDATASIZE", RETURNDATACOPY: "RETURNDATACOPY",
	EXTCODEHASH: "EXTCODEHASH",

	POP: "POP", MLOAD: "MLOAD", MSTORE: "MSTORE", MSTORE8: "MSTORE8", SLOAD: "SLOAD", SSTORE: "SSTORE",
	JUMP: "JUMP", JUMPI: "JUMPI", PC: "PC", MSIZE: "MSIZE", GAS: "GAS", JUMPDEST: "JUMPDEST",
	TLOAD: "TLOAD", TSTORE: "TSTORE", MCOPY: "MCOPY", PUSH0: "PUSH0",

	CREATE: "CREATE", CALL: "CALL", CALLCODE: "CALLCODE", RETURN: "RETURN", DELEGATECALL: "DELEGATECALL",
	CREATE2: "CREATE2", STATICCALL: "STATICCALL", REVERT: "REVERT", INVALID: "INVALID",
}

func (op OpCode) String() string {
	switch {
	case op.IsPush() && op != PUSH0:
		return fmt.Sprintf("PUSH%d", op.PushSize())
	case op >= DUP1 && op <= DUP16:
		return fmt.Sprintf("DUP%d", op-DUP1+1)
	case op >= SWAP1 && op <= SWAP16:
		return fmt.Sprintf("SWAP%d", op-SWAP1+1)
	case op >= LOG0 && op <= LOG4:
		return fmt.Sprintf("LOG%d", op-LOG0)
	}
	if n, ok := opCodeNames[op]; ok {
		return n
	}
	return fmt.Sprintf("opcode %#x not defined", byte(op))
}

// IsPush returns true for PUSH0 through PUSH32.
func (op OpCode) IsPush() bool {
	return op == PUSH0 || (op >= PUSH1 && op <= PUSH32)
}

// PushSize returns the count of immediate bytes following a push opcode, zero for any other opcode.
func (op OpCode) PushSize() int {
	if op >= PUSH1 && op <= PUSH32 {
		return int(op-PUSH1) + 1
	}
	return 0
}

// Push returns the PUSHn opcode for an n byte immediate.
func Push(n int) OpCode {
	if n == 0 {
		return PUSH0
	}
	return PUSH1 + OpCode(n-1)
}

// Dup returns DUPn, 1 <= n <= 16.
func Dup(n int) OpCode {
	return DUP1 + OpCode(n-1)
}

// Swap returns SWAPn, 1 <= n <= 16.
func Swap(n int) OpCode {
	return SWAP1 + OpCode(n-1)
}

// Defined returns true if the byte is an instruction of the Cancun instruction set.
func Defined(op OpCode) bool {
	if op.IsPush() || (op >= DUP1 && op <= DUP16) || (op >= SWAP1 && op <= SWAP16) || (op >= LOG0 && op <= LOG4) {
		return true
	}
	_, ok := opCodeNames[op]
	return ok
}

// MinimalBytes returns v big-endian without leading zero bytes. Zero has no bytes, so it is pushed with PUSH0.
func MinimalBytes(v uint64) []byte {
	var b []byte
	for v != 0 {
		b = append([]byte{byte(v)}, b...)
		v >>= 8
	}
	return b
}

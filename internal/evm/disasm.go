package evm

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Instruction is one decoded instruction of EVM bytecode.
type Instruction struct {
	PC   int
	Op   OpCode
	Arg  []byte
	Data bool // Data is true for trailing bytes that do not form a complete push.
}

func (i Instruction) String() string {
	if len(i.Arg) > 0 {
		return fmt.Sprintf("%s 0x%s", i.Op, hex.EncodeToString(i.Arg))
	}
	return i.Op.String()
}

// Disassemble decodes code into instructions. A push whose immediate runs past the end of code is returned with
// Data set, as the EVM pads it with zeros.
func Disassemble(code []byte) (ret []Instruction) {
	for pc := 0; pc < len(code); {
		op := OpCode(code[pc])
		ins := Instruction{PC: pc, Op: op}
		if n := op.PushSize(); n > 0 {
			end := pc + 1 + n
			if end > len(code) {
				end = len(code)
				ins.Data = true
			}
			ins.Arg = code[pc+1 : end]
			pc = end
		} else {
			pc++
		}
		ret = append(ret, ins)
	}
	return
}

// Format renders code as one "pc: instruction" line per instruction.
func Format(code []byte) string {
	var b strings.Builder
	for _, ins := range Disassemble(code) {
		fmt.Fprintf(&b, "%04x: %s\n", ins.PC, ins)
	}
	return b.String()
}

// JumpDests returns the positions of JUMPDEST instructions, skipping push immediates.
func JumpDests(code []byte) map[int]bool {
	ret := map[int]bool{}
	for _, ins := range Disassemble(code) {
		if ins.Op == JUMPDEST {
			ret[ins.PC] = true
		}
	}
	return ret
}

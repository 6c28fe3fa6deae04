package masm

import (
	"github.com/wasmevm/wasmevm/internal/evm"
	"github.com/wasmevm/wasmevm/internal/optable"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// FloatPolicy decides what happens to floating point arithmetic, which the EVM has no instructions for.
// Constants, loads, stores and reinterpretations only move bits, so they are compiled under any policy.
type FloatPolicy byte

const (
	// FloatPolicyReject fails compilation on the first floating point operation.
	FloatPolicyReject FloatPolicy = iota
	// FloatPolicyTrap compiles floating point operations to INVALID, so only executing one fails.
	FloatPolicyTrap
)

func (p FloatPolicy) String() (ret string) {
	switch p {
	case FloatPolicyReject:
		ret = "reject"
	case FloatPolicyTrap:
		ret = "trap"
	}
	return
}

func (a *Assembler) checkFloat(ins *wasm.Instruction) error {
	if a.p.floats == FloatPolicyReject {
		return &optable.UnsupportedOperatorError{
			Instruction: ins.Name(),
			Offset:      ins.Offset,
			Reason:      "floating point arithmetic is rejected",
		}
	}
	return nil
}

// Float emits the floating point operation according to the policy.
func (a *Assembler) Float(ins *wasm.Instruction) error {
	if err := a.checkFloat(ins); err != nil {
		return err
	}
	a.seg.Op(evm.INVALID)
	return nil
}

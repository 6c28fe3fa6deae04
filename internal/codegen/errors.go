package codegen

import (
	"fmt"

	"github.com/wasmevm/wasmevm/internal/wasm"
)

// ErrUnbalancedControl is returned when an end has no open frame to close, or the body ends with frames still open.
// Decoding reports the same error for bodies whose nesting is broken.
var ErrUnbalancedControl = wasm.ErrUnbalancedControl

// InvalidBranchTargetError is returned for a branch whose relative depth exceeds the open frames.
type InvalidBranchTargetError struct {
	Offset      uint64
	Instruction string
	Depth       uint32
	// Frames is the count of frames open at the branch, the function frame included.
	Frames int
}

// Error implements error.
func (e *InvalidBranchTargetError) Error() string {
	return fmt.Sprintf("offset %#x: %s: invalid branch depth %d with %d open frames", e.Offset, e.Instruction, e.Depth, e.Frames)
}

// StackHeightError is returned when the operand stack does not hold what an instruction or the end of a frame
// requires.
type StackHeightError struct {
	Offset      uint64
	Instruction string
	Expected    int
	Actual      int
}

// Error implements error.
func (e *StackHeightError) Error() string {
	return fmt.Sprintf("offset %#x: %s: expected %d operands but have %d", e.Offset, e.Instruction, e.Expected, e.Actual)
}

// SelectorCollisionError is returned when two exports route to the same selector. The dispatcher would otherwise
// silently shadow the later one.
type SelectorCollisionError struct {
	Selector   [4]byte
	Signature1 string
	Signature2 string
}

// Error implements error.
func (e *SelectorCollisionError) Error() string {
	return fmt.Sprintf("selector %#x of %s collides with %s", e.Selector, e.Signature2, e.Signature1)
}

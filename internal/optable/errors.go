package optable

import "fmt"

// UnsupportedOperatorError is returned for instructions which have no translation. Compilation must abort when it
// is encountered, since skipping the instruction would change the semantics of the program.
type UnsupportedOperatorError struct {
	// Instruction is the text name of the instruction, e.g. "i32.extend8_s".
	Instruction string
	// Offset is the position of the instruction in its function body.
	Offset uint64
	// Reason is an optional detail, e.g. the name of an unknown host import.
	Reason string
}

// Error implements error.
func (e *UnsupportedOperatorError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("offset %#x: unsupported operator %s", e.Offset, e.Instruction)
	}
	return fmt.Sprintf("offset %#x: unsupported operator %s: %s", e.Offset, e.Instruction, e.Reason)
}

package codegen

import (
	"errors"
	"fmt"

	"github.com/wasmevm/wasmevm/internal/asm"
	"github.com/wasmevm/wasmevm/internal/evm"
)

// DefaultCodeSizeLimit is the limit of deployed code introduced by EIP-170.
const DefaultCodeSizeLimit = 24576

// ErrCodeSizeLimit is returned when the runtime code is larger than the limit of deployed code.
var ErrCodeSizeLimit = errors.New("runtime code exceeds the code size limit")

// EmitConstructor returns the creation code of a contract whose runtime code is runtime: a prefix copying the
// runtime code to memory and returning it, followed by the runtime code itself. A positive limit bounds the size of
// the runtime code.
func EmitConstructor(runtime []byte, limit int) ([]byte, error) {
	if limit > 0 && len(runtime) > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrCodeSizeLimit, len(runtime), limit)
	}

	seg := asm.New("constructor")
	// [size, size, offset, 0] CODECOPY [size, 0] RETURN
	seg.Push(uint64(len(runtime)))
	seg.Op(evm.DUP1)
	// The prefix is shorter than 256 bytes, so its size always fits PUSH1.
	offset := seg.Len() + 2 + 4
	seg.PushN(1, uint64(offset))
	seg.Op(evm.PUSH0, evm.CODECOPY, evm.PUSH0, evm.RETURN)

	return append(seg.Bytes(), runtime...), nil
}

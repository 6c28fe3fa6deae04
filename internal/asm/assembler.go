// Package asm encodes EVM instructions into segments of bytecode and links segments into one code blob.
//
// Every jump target is pushed with a PUSH2 placeholder, so the size of a segment is known while it is being
// written and offsets never move during linking. The price is that linked code cannot exceed 64KiB, which is far
// above the 24KiB limit a chain enforces on deployed code anyway.
package asm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wasmevm/wasmevm/internal/evm"
)

// MaxCodeSize is the largest code addressable by a PUSH2 jump target.
const MaxCodeSize = 0xffff

var (
	ErrLabelAlreadyBound = errors.New("label already bound")
	ErrUnboundLabel      = errors.New("label never bound")
	ErrUndefinedSymbol   = errors.New("undefined symbol")
	ErrDuplicateSymbol   = errors.New("duplicate symbol")
	ErrCodeTooLarge      = errors.New("code exceeds the range of PUSH2 jump targets")
)

// Label is a jump target local to the Assembler which created it.
type Label uint32

// Symbol is a jump target or data position visible to every segment given to the same Link call.
type Symbol string

type fixup struct {
	// pos is the position of the two placeholder bytes.
	pos    int
	label  Label
	symbol Symbol
	addend int
}

// Assembler writes one segment of code. It is not safe for concurrent use, but distinct assemblers can be written
// concurrently and linked together afterwards.
type Assembler struct {
	name    string
	code    []byte
	labels  []int
	fixups  []fixup
	symbols map[Symbol]int
	// end is the length of code up to the last instruction, so bytes written by Raw afterwards are excluded.
	end int
}

// New returns an empty segment. The name only appears in errors.
func New(name string) *Assembler {
	return &Assembler{name: name, symbols: map[Symbol]int{}}
}

// Name returns the name given to New.
func (a *Assembler) Name() string {
	return a.name
}

// Len returns the count of bytes written so far.
func (a *Assembler) Len() int {
	return len(a.code)
}

// Bytes returns the code written so far, with unresolved jump targets left as zero.
func (a *Assembler) Bytes() []byte {
	return a.code
}

// Op writes instructions without immediates.
func (a *Assembler) Op(ops ...evm.OpCode) {
	for _, op := range ops {
		a.emit(byte(op))
	}
}

// Raw writes bytes unchanged, used for data appended to code. Data is never a jump target, so Link does not hold
// trailing Raw bytes to MaxCodeSize.
func (a *Assembler) Raw(b []byte) {
	a.code = append(a.code, b...)
}

func (a *Assembler) emit(b ...byte) {
	a.code = append(a.code, b...)
	a.end = len(a.code)
}

// Push writes the shortest push of v, PUSH0 for zero.
func (a *Assembler) Push(v uint64) {
	a.PushBytes(evm.MinimalBytes(v))
}

// PushBytes pushes b as a big-endian word, PUSH0 if b is empty. b must not be longer than 32 bytes.
func (a *Assembler) PushBytes(b []byte) {
	if len(b) > 32 {
		panic(fmt.Sprintf("BUG: push of %d bytes", len(b)))
	}
	a.emit(byte(evm.Push(len(b))))
	a.emit(b...)
}

// PushN pushes v in exactly n bytes, whatever its magnitude.
func (a *Assembler) PushN(n int, v uint64) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	if n <= 8 {
		a.PushBytes(b[8-n:])
		return
	}
	a.PushBytes(append(make([]byte, n-8), b...))
}

// NewLabel returns a label to be bound later with Bind.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

// Bind writes a JUMPDEST and binds the label to it.
func (a *Assembler) Bind(l Label) error {
	if a.labels[l] >= 0 {
		return fmt.Errorf("%s: %w: %d", a.name, ErrLabelAlreadyBound, l)
	}
	a.labels[l] = len(a.code)
	a.Op(evm.JUMPDEST)
	return nil
}

// IsBound returns true once Bind was called for the label.
func (a *Assembler) IsBound(l Label) bool {
	return a.labels[l] >= 0
}

// PushLabel pushes the position of the label.
func (a *Assembler) PushLabel(l Label) {
	a.fixups = append(a.fixups, fixup{pos: len(a.code) + 1, label: l})
	a.emit(byte(evm.PUSH2), 0, 0)
}

// Jump writes an unconditional jump to the label.
func (a *Assembler) Jump(l Label) {
	a.PushLabel(l)
	a.Op(evm.JUMP)
}

// JumpI writes a jump to the label taken when the top of the stack is not zero.
func (a *Assembler) JumpI(l Label) {
	a.PushLabel(l)
	a.Op(evm.JUMPI)
}

// DefineSymbol writes a JUMPDEST and makes its position visible to all linked segments.
func (a *Assembler) DefineSymbol(s Symbol) error {
	if err := a.Mark(s); err != nil {
		return err
	}
	a.Op(evm.JUMPDEST)
	return nil
}

// Mark makes the current position visible to all linked segments without writing anything, for data positions.
func (a *Assembler) Mark(s Symbol) error {
	if _, ok := a.symbols[s]; ok {
		return fmt.Errorf("%s: %w: %s", a.name, ErrDuplicateSymbol, s)
	}
	a.symbols[s] = len(a.code)
	return nil
}

// PushSymbol pushes the linked position of the symbol plus addend.
func (a *Assembler) PushSymbol(s Symbol, addend int) {
	a.fixups = append(a.fixups, fixup{pos: len(a.code) + 1, symbol: s, addend: addend})
	a.emit(byte(evm.PUSH2), 0, 0)
}

// JumpSymbol writes an unconditional jump to the symbol.
func (a *Assembler) JumpSymbol(s Symbol) {
	a.PushSymbol(s, 0)
	a.Op(evm.JUMP)
}

// Link concatenates the segments in order and resolves every label and symbol.
func Link(segs ...*Assembler) ([]byte, error) {
	var code []byte
	var end int
	bases := make([]int, len(segs))
	symbols := map[Symbol]int{}
	for i, seg := range segs {
		bases[i] = len(code)
		for s, off := range seg.symbols {
			if _, ok := symbols[s]; ok {
				return nil, fmt.Errorf("%s: %w: %s", seg.name, ErrDuplicateSymbol, s)
			}
			symbols[s] = bases[i] + off
		}
		code = append(code, seg.code...)
		if seg.end > 0 {
			end = bases[i] + seg.end
		}
	}
	if end > MaxCodeSize {
		return nil, fmt.Errorf("%w: %d bytes of instructions", ErrCodeTooLarge, end)
	}

	for i, seg := range segs {
		for _, f := range seg.fixups {
			var target int
			if f.symbol != "" {
				off, ok := symbols[f.symbol]
				if !ok {
					return nil, fmt.Errorf("%s: %w: %s", seg.name, ErrUndefinedSymbol, f.symbol)
				}
				target = off + f.addend
			} else {
				off := seg.labels[f.label]
				if off < 0 {
					return nil, fmt.Errorf("%s: %w: %d", seg.name, ErrUnboundLabel, f.label)
				}
				target = bases[i] + off
			}
			if target < 0 || target > MaxCodeSize {
				return nil, fmt.Errorf("%s: %w: target %d", seg.name, ErrCodeTooLarge, target)
			}
			binary.BigEndian.PutUint16(code[bases[i]+f.pos:], uint16(target))
		}
	}
	return code, nil
}

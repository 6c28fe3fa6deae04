// Package codegen translates WebAssembly functions into EVM code and assembles them into a contract: the function
// bodies, one wrapper per export, the selector dispatcher and the constructor.
package codegen

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/wasmevm/wasmevm/internal/asm"
	"github.com/wasmevm/wasmevm/internal/evm"
	"github.com/wasmevm/wasmevm/internal/optable"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

type controlFrameKind byte

const (
	controlFrameKindFunction controlFrameKind = iota
	controlFrameKindBlock
	controlFrameKindLoop
	controlFrameKindIfWithoutElse
	controlFrameKindIfWithElse
)

type controlFrame struct {
	kind controlFrameKind
	// height is the operand stack height when the frame was entered.
	height int
	// results is the count of values left on the stack by the end of the frame.
	results int
	// header is the branch target of a loop and exit the one of any other frame but the function's, which returns
	// instead. elseLabel is where a false if condition jumps.
	header, exit, elseLabel asm.Label
}

// arity is the count of values carried by a branch to the frame.
func (f *controlFrame) arity() int {
	if f.kind == controlFrameKindLoop {
		return 0
	}
	return f.results
}

// target is the label branches to the frame jump to.
func (f *controlFrame) target() asm.Label {
	if f.kind == controlFrameKindLoop {
		return f.header
	}
	return f.exit
}

type controlFrames struct{ frames []*controlFrame }

func (c *controlFrames) functionFrame() *controlFrame {
	return c.frames[0]
}

func (c *controlFrames) get(n int) *controlFrame {
	return c.frames[len(c.frames)-n-1]
}

func (c *controlFrames) top() *controlFrame {
	return c.frames[len(c.frames)-1]
}

func (c *controlFrames) pop() (frame *controlFrame) {
	frame = c.top()
	c.frames = c.frames[:len(c.frames)-1]
	return
}

func (c *controlFrames) push(frame *controlFrame) {
	c.frames = append(c.frames, frame)
}

// step is an instruction with its dispatch table entry, resolved before emission starts.
type step struct {
	ins   *wasm.Instruction
	entry optable.Entry
}

type generator struct {
	fn   *Function
	masm MacroAssembler
	log  *zap.Logger

	controlFrames controlFrames
	// height is the count of operands on the stack, the ones of enclosing frames included.
	height int
	// unreachableState is on after an instruction which never falls through. The instructions up to the end or else
	// of the current frame are then skipped, and depth counts the frames opened meanwhile.
	unreachableState struct {
		on    bool
		depth int
	}
}

// Translate decodes the body of fn and writes its code with masm.
func Translate(fn *Function, masm MacroAssembler, log *zap.Logger) error {
	body, err := fn.Decode()
	if err != nil {
		return errors.Wrapf(err, "function %s", fn.Name)
	}
	return TranslateInstructions(fn, body, masm, log)
}

// TranslateInstructions writes the code of fn, whose body is given already decoded and must end with the end of the
// function. Every instruction is checked before the first is emitted, so an instruction which cannot be compiled
// fails the function before masm received any code.
func TranslateInstructions(fn *Function, body []*wasm.Instruction, masm MacroAssembler, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	steps, err := check(fn, body, masm)
	if err != nil {
		return errors.Wrapf(err, "function %s", fn.Name)
	}
	g := &generator{fn: fn, masm: masm, log: log}
	if err = g.generate(steps); err != nil {
		return errors.Wrapf(err, "function %s", fn.Name)
	}
	return nil
}

// check resolves every instruction against the dispatch table and masm, and validates the nesting of frames and the
// depth of branches.
func check(fn *Function, body []*wasm.Instruction, masm MacroAssembler) ([]step, error) {
	if len(fn.Type.Results) > 1 {
		return nil, &optable.UnsupportedOperatorError{
			Instruction: "func",
			Reason:      fmt.Sprintf("type %s has multiple results", fn.Type),
		}
	}

	steps := make([]step, 0, len(body))
	// nesting holds the opcode of each open frame, OpcodeElse once an if switched branches. The first is the
	// function frame.
	nesting := []wasm.Opcode{wasm.OpcodeBlock}
	for _, ins := range body {
		if len(nesting) == 0 {
			return nil, errors.Wrapf(ErrUnbalancedControl, "offset %#x: %s after the end of the function", ins.Offset, ins.Name())
		}
		e, err := optable.Lookup(ins)
		if err != nil {
			return nil, err
		}

		switch ins.Opcode {
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			if err = checkBlockType(ins); err != nil {
				return nil, err
			}
			nesting = append(nesting, ins.Opcode)
		case wasm.OpcodeElse:
			if len(nesting) < 2 || nesting[len(nesting)-1] != wasm.OpcodeIf {
				return nil, errors.Wrapf(ErrUnbalancedControl, "offset %#x: else without if", ins.Offset)
			}
			nesting[len(nesting)-1] = wasm.OpcodeElse
		case wasm.OpcodeEnd:
			nesting = nesting[:len(nesting)-1]
		case wasm.OpcodeBr, wasm.OpcodeBrIf:
			if err = checkDepth(ins, ins.Index, len(nesting)); err != nil {
				return nil, err
			}
		case wasm.OpcodeBrTable:
			for _, d := range ins.Targets {
				if err = checkDepth(ins, d, len(nesting)); err != nil {
					return nil, err
				}
			}
			if err = checkDepth(ins, ins.Default, len(nesting)); err != nil {
				return nil, err
			}
		}

		if err = masm.Check(ins, e); err != nil {
			return nil, err
		}
		steps = append(steps, step{ins: ins, entry: e})
	}
	if len(nesting) > 0 {
		return nil, errors.Wrapf(ErrUnbalancedControl, "%d frames open at the end of the body", len(nesting))
	}
	return steps, nil
}

func checkBlockType(ins *wasm.Instruction) error {
	bt := ins.Block
	if len(bt.Params) > 0 || len(bt.Results) > 1 {
		return &optable.UnsupportedOperatorError{Instruction: ins.Name(), Offset: ins.Offset, Reason: "multi-value block type"}
	}
	return nil
}

func checkDepth(ins *wasm.Instruction, depth uint32, frames int) error {
	if int(depth) >= frames {
		return &InvalidBranchTargetError{Offset: ins.Offset, Instruction: ins.Name(), Depth: depth, Frames: frames}
	}
	return nil
}

func (g *generator) generate(steps []step) error {
	if err := g.masm.Enter(); err != nil {
		return err
	}
	g.controlFrames.push(&controlFrame{kind: controlFrameKindFunction, results: len(g.fn.Type.Results)})
	for _, s := range steps {
		if ce := g.log.Check(zap.DebugLevel, "translate"); ce != nil {
			ce.Write(
				zap.String("function", g.fn.Name),
				zap.Uint64("offset", s.ins.Offset),
				zap.Stringer("instruction", s.ins),
				zap.Int("height", g.height),
				zap.Bool("unreachable", g.unreachableState.on),
			)
		}
		var err error
		if g.unreachableState.on {
			err = g.handleUnreachable(s.ins)
		} else {
			err = g.handle(s.ins, s.entry)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// handleUnreachable skips instructions until the else or end of the frame which became unreachable.
func (g *generator) handleUnreachable(ins *wasm.Instruction) error {
	switch ins.Opcode {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		g.unreachableState.depth++
	case wasm.OpcodeElse:
		if g.unreachableState.depth == 0 {
			g.unreachableState.on = false
			return g.handleElse(ins, false)
		}
	case wasm.OpcodeEnd:
		if g.unreachableState.depth > 0 {
			g.unreachableState.depth--
			return nil
		}
		g.unreachableState.on = false
		return g.handleEnd(ins, false)
	}
	return nil
}

func (g *generator) handle(ins *wasm.Instruction, e optable.Entry) error {
	code := e.Steps[0].Code
	if !code.IsControl() {
		return g.handleOperator(ins, e)
	}

	m := g.masm
	switch code {
	case optable.PrimUnreachable:
		m.Trap()
		g.unreachableState.on = true
	case optable.PrimBlock:
		g.controlFrames.push(&controlFrame{
			kind:    controlFrameKindBlock,
			height:  g.height,
			results: len(ins.Block.Results),
			exit:    m.NewLabel(),
		})
	case optable.PrimLoop:
		frame := &controlFrame{
			kind:    controlFrameKindLoop,
			height:  g.height,
			results: len(ins.Block.Results),
			header:  m.NewLabel(),
		}
		g.controlFrames.push(frame)
		return m.Bind(frame.header)
	case optable.PrimIf:
		if err := g.pop(ins, 1); err != nil {
			return err
		}
		frame := &controlFrame{
			kind:      controlFrameKindIfWithoutElse,
			height:    g.height,
			results:   len(ins.Block.Results),
			exit:      m.NewLabel(),
			elseLabel: m.NewLabel(),
		}
		g.controlFrames.push(frame)
		m.Op(evm.ISZERO)
		m.JumpI(frame.elseLabel)
	case optable.PrimElse:
		return g.handleElse(ins, true)
	case optable.PrimEnd:
		return g.handleEnd(ins, true)
	case optable.PrimBr:
		g.unreachableState.on = true
		return g.branch(ins, g.controlFrames.get(int(ins.Index)))
	case optable.PrimBrIf:
		return g.handleBrIf(ins)
	case optable.PrimBrTable:
		g.unreachableState.on = true
		return g.handleBrTable(ins)
	case optable.PrimReturn:
		g.unreachableState.on = true
		return g.branch(ins, g.controlFrames.functionFrame())
	default:
		return fmt.Errorf("BUG: unexpected control primitive %s", code)
	}
	return nil
}

// handleElse ends the then branch of the if on the top of the frames. reachable is false when the then branch
// cannot fall through.
func (g *generator) handleElse(ins *wasm.Instruction, reachable bool) error {
	frame := g.controlFrames.top()
	if reachable {
		if err := g.checkFrameEnd(ins, frame); err != nil {
			return err
		}
		g.masm.Jump(frame.exit)
	}
	frame.kind = controlFrameKindIfWithElse
	g.height = frame.height
	return g.masm.Bind(frame.elseLabel)
}

// handleEnd closes the frame on the top of the frames. reachable is false when its last instruction cannot fall
// through.
func (g *generator) handleEnd(ins *wasm.Instruction, reachable bool) error {
	frame := g.controlFrames.top()
	if reachable {
		if err := g.checkFrameEnd(ins, frame); err != nil {
			return err
		}
	}
	g.controlFrames.pop()
	g.height = frame.height + frame.results

	m := g.masm
	switch frame.kind {
	case controlFrameKindFunction:
		if reachable {
			m.Return()
		}
		return nil
	case controlFrameKindIfWithoutElse:
		// The missing else branch falls through with nothing on the stack.
		if frame.results > 0 {
			return &StackHeightError{Offset: ins.Offset, Instruction: "else", Expected: frame.results, Actual: 0}
		}
		if err := m.Bind(frame.elseLabel); err != nil {
			return err
		}
		return m.Bind(frame.exit)
	case controlFrameKindBlock, controlFrameKindIfWithElse:
		return m.Bind(frame.exit)
	}
	return nil
}

func (g *generator) checkFrameEnd(ins *wasm.Instruction, frame *controlFrame) error {
	if want := frame.height + frame.results; g.height != want {
		return &StackHeightError{Offset: ins.Offset, Instruction: ins.Name(), Expected: frame.results, Actual: g.height - frame.height}
	}
	return nil
}

// dropCount returns how many operands a branch to frame removes below the ones it carries.
func (g *generator) dropCount(ins *wasm.Instruction, frame *controlFrame) (int, error) {
	drop := g.height - frame.height - frame.arity()
	if drop < 0 {
		return 0, &StackHeightError{Offset: ins.Offset, Instruction: ins.Name(), Expected: frame.arity(), Actual: g.height - frame.height}
	}
	return drop, nil
}

// branch emits an unconditional branch to frame: operands of the inner frames are dropped, the ones the branch
// carries are kept, then it jumps or returns.
func (g *generator) branch(ins *wasm.Instruction, frame *controlFrame) error {
	drop, err := g.dropCount(ins, frame)
	if err != nil {
		return err
	}
	if drop > 0 {
		if err = g.masm.DropKeep(drop, frame.arity()); err != nil {
			return err
		}
	}
	if frame.kind == controlFrameKindFunction {
		g.masm.Return()
	} else {
		g.masm.Jump(frame.target())
	}
	return nil
}

func (g *generator) handleBrIf(ins *wasm.Instruction) error {
	if err := g.pop(ins, 1); err != nil {
		return err
	}
	frame := g.controlFrames.get(int(ins.Index))
	drop, err := g.dropCount(ins, frame)
	if err != nil {
		return err
	}
	m := g.masm
	if drop == 0 && frame.kind != controlFrameKindFunction {
		m.JumpI(frame.target())
		return nil
	}
	skip := m.NewLabel()
	m.Op(evm.ISZERO)
	m.JumpI(skip)
	if err = g.branch(ins, frame); err != nil {
		return err
	}
	return m.Bind(skip)
}

// handleBrTable compares the index against each target in turn. Every target has a trampoline which drops the index
// before branching, and the default is taken when no comparison matched.
func (g *generator) handleBrTable(ins *wasm.Instruction) error {
	if err := g.pop(ins, 1); err != nil {
		return err
	}
	m := g.masm
	trampolines := make([]asm.Label, len(ins.Targets))
	for i := range ins.Targets {
		trampolines[i] = m.NewLabel()
		m.Dup(1)
		m.Const(uint64(i))
		m.Op(evm.EQ)
		m.JumpI(trampolines[i])
	}
	m.Op(evm.POP)
	if err := g.branch(ins, g.controlFrames.get(int(ins.Default))); err != nil {
		return err
	}
	for i, depth := range ins.Targets {
		if err := m.Bind(trampolines[i]); err != nil {
			return err
		}
		m.Op(evm.POP)
		if err := g.branch(ins, g.controlFrames.get(int(depth))); err != nil {
			return err
		}
	}
	return nil
}

// pop removes n operands of the current frame from the height.
func (g *generator) pop(ins *wasm.Instruction, n int) error {
	if have := g.height - g.controlFrames.top().height; have < n {
		return &StackHeightError{Offset: ins.Offset, Instruction: ins.Name(), Expected: n, Actual: have}
	}
	g.height -= n
	return nil
}

func (g *generator) handleOperator(ins *wasm.Instruction, e optable.Entry) error {
	pop, push := e.Pop, e.Push
	if pop == optable.Dynamic {
		pop, push = g.callEffect(ins)
	}
	if err := g.pop(ins, pop); err != nil {
		return err
	}
	for _, p := range e.Steps {
		if err := g.emit(ins, p); err != nil {
			return err
		}
	}
	g.height += push
	return nil
}

// callEffect returns the stack effect of call and call_indirect, which depends on the callee type.
func (g *generator) callEffect(ins *wasm.Instruction) (pop, push int) {
	m := g.fn.Module
	if ins.Opcode == wasm.OpcodeCallIndirect {
		t := m.TypeSection[ins.Index]
		return len(t.Params) + 1, len(t.Results)
	}
	t := m.TypeOfFunction(ins.Index)
	return len(t.Params), len(t.Results)
}

// evmOps are the primitives which are a single target instruction.
var evmOps = map[optable.PrimitiveCode]evm.OpCode{
	optable.PrimAdd:    evm.ADD,
	optable.PrimMul:    evm.MUL,
	optable.PrimSub:    evm.SUB,
	optable.PrimDiv:    evm.DIV,
	optable.PrimSDiv:   evm.SDIV,
	optable.PrimMod:    evm.MOD,
	optable.PrimSMod:   evm.SMOD,
	optable.PrimLt:     evm.LT,
	optable.PrimGt:     evm.GT,
	optable.PrimSlt:    evm.SLT,
	optable.PrimSgt:    evm.SGT,
	optable.PrimEq:     evm.EQ,
	optable.PrimIsZero: evm.ISZERO,
	optable.PrimAnd:    evm.AND,
	optable.PrimOr:     evm.OR,
	optable.PrimXor:    evm.XOR,
	optable.PrimShl:    evm.SHL,
	optable.PrimShr:    evm.SHR,
	optable.PrimSar:    evm.SAR,
	optable.PrimPop:    evm.POP,
	optable.PrimSwap1:  evm.SWAP1,
}

// emit invokes the macro assembler capability of one primitive.
func (g *generator) emit(ins *wasm.Instruction, p optable.Primitive) error {
	m := g.masm
	switch p.Code {
	case optable.PrimMask:
		m.Mask(p.Width)
	case optable.PrimSignExtend:
		m.SignExtend(p.Width)
	case optable.PrimSignExtendPair:
		m.SignExtendPair(p.Width)
	case optable.PrimShiftMask:
		m.ShiftMask(p.Width)
	case optable.PrimTrapIfZero:
		m.TrapIfZero()
	case optable.PrimTrapIfDivOverflow:
		m.TrapIfDivOverflow(p.Width)
	case optable.PrimClz:
		m.Clz(p.Width)
	case optable.PrimCtz:
		m.Ctz(p.Width)
	case optable.PrimPopcnt:
		m.Popcnt(p.Width)
	case optable.PrimRotl:
		m.Rotl(p.Width)
	case optable.PrimRotr:
		m.Rotr(p.Width)
	case optable.PrimLoad:
		m.Load(p.Width, ins.MemArg)
	case optable.PrimStore:
		m.Store(p.Width, ins.MemArg)
	case optable.PrimConst:
		m.Const(constValue(ins))
	case optable.PrimLocalGet:
		m.LocalGet(ins.Index)
	case optable.PrimLocalSet:
		m.LocalSet(ins.Index)
	case optable.PrimLocalTee:
		m.LocalTee(ins.Index)
	case optable.PrimGlobalGet:
		m.GlobalGet(ins.Index)
	case optable.PrimGlobalSet:
		m.GlobalSet(ins.Index)
	case optable.PrimSelect:
		m.Select()
	case optable.PrimMemorySize:
		m.MemorySize()
	case optable.PrimMemoryGrow:
		return m.MemoryGrow()
	case optable.PrimCall:
		return m.Call(ins.Index)
	case optable.PrimCallIndirect:
		return m.CallIndirect(ins.Index)
	case optable.PrimFloat:
		return m.Float(ins)
	case optable.PrimNop:
	default:
		op, ok := evmOps[p.Code]
		if !ok {
			return fmt.Errorf("BUG: %s has no translation", p)
		}
		m.Op(op)
	}
	return nil
}

// constValue returns the immediate of a constant as held on the stack: integers zero extended from their width and
// floats as their bits.
func constValue(ins *wasm.Instruction) uint64 {
	switch ins.Opcode {
	case wasm.OpcodeI32Const:
		return uint64(uint32(ins.I32))
	case wasm.OpcodeI64Const:
		return uint64(ins.I64)
	case wasm.OpcodeF32Const:
		return uint64(ins.F32)
	default:
		return ins.F64
	}
}

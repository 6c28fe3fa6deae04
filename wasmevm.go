// Package wasmevm compiles WebAssembly 1.0 (20191205) modules into EVM contracts.
//
// Each exported function becomes an external function of the contract, called by the 4-byte selector of its ABI
// signature. Integer parameters and results are ABI encoded as one 32-byte word each.
//
// Ex.
//
//	c := wasmevm.NewCompiler(wasmevm.NewCompilerConfig())
//	contract, err := c.Compile(ctx, source)
//	// deploy contract.Creation, then call it with abi.ParseSelector([]byte("run()"))
package wasmevm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wasmevm/wasmevm/abi"
	"github.com/wasmevm/wasmevm/internal/codegen"
	"github.com/wasmevm/wasmevm/internal/optable"
	"github.com/wasmevm/wasmevm/internal/wasm/binary"
)

type (
	// UnsupportedOperatorError is returned for an instruction, or an import, which has no EVM translation.
	UnsupportedOperatorError = optable.UnsupportedOperatorError
	// InvalidBranchTargetError is returned for a branch to a depth with no enclosing frame.
	InvalidBranchTargetError = codegen.InvalidBranchTargetError
	// SelectorCollisionError is returned when two exports share a selector, so the dispatcher could not tell them
	// apart.
	SelectorCollisionError = codegen.SelectorCollisionError
	// StackHeightError is returned when a frame ends or branches with the wrong count of operands.
	StackHeightError = codegen.StackHeightError
)

var (
	// ErrUnbalancedControl is returned for an end without a frame to close, or a body with frames left open.
	ErrUnbalancedControl = codegen.ErrUnbalancedControl
	// ErrCodeSizeLimit is returned when the runtime code exceeds CompilerConfig.WithCodeSizeLimit.
	ErrCodeSizeLimit = codegen.ErrCodeSizeLimit
)

// Compiler compiles WebAssembly binaries into contracts. It is safe for concurrent use.
type Compiler interface {
	// Compile decodes and compiles the WebAssembly 1.0 (20191205) binary. Any failure aborts the whole compilation:
	// there is no partial output.
	//
	// The context is checked between functions, so canceling it stops the compilation early.
	Compile(ctx context.Context, source []byte) (*Contract, error)
}

// Contract is the result of Compiler.Compile.
type Contract struct {
	// Runtime is the code executed on calls to the deployed contract.
	Runtime []byte
	// Creation is the code of a deployment transaction: it returns Runtime.
	Creation []byte
	// ABI has one function per export, in export order.
	ABI []abi.Function
	// Selectors are the selectors of ABI in the same order.
	Selectors []abi.Selector
}

// NewCompiler returns a Compiler with the given configuration, or the defaults of NewCompilerConfig if nil.
func NewCompiler(config CompilerConfig) Compiler {
	if config == nil {
		config = NewCompilerConfig()
	}
	c := config.(*compilerConfig).clone()
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return &compiler{config: c}
}

type compiler struct {
	config *compilerConfig
}

// Compile implements Compiler.Compile
func (c *compiler) Compile(ctx context.Context, source []byte) (*Contract, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m, err := binary.DecodeModule(source)
	if err != nil {
		return nil, fmt.Errorf("invalid binary: %w", err)
	}
	c.config.logger.Debug("module decoded",
		zap.Int("types", len(m.TypeSection)),
		zap.Int("imports", len(m.ImportSection)),
		zap.Int("functions", len(m.FunctionSection)),
		zap.Int("exports", len(m.ExportSection)))

	out, err := codegen.Compile(ctx, m, c.config.options())
	if err != nil {
		return nil, err
	}

	exports := out.Exports.Exports()
	ret := &Contract{
		Runtime:   out.Runtime,
		Creation:  out.Creation,
		ABI:       out.Exports.ABI(),
		Selectors: make([]abi.Selector, len(exports)),
	}
	for i := range exports {
		ret.Selectors[i] = exports[i].Selector
	}
	c.config.logger.Info("contract compiled",
		zap.Int("runtime_size", len(ret.Runtime)),
		zap.Int("exports", len(ret.ABI)))
	return ret, nil
}

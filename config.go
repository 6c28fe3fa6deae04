package wasmevm

import (
	"go.uber.org/zap"

	"github.com/wasmevm/wasmevm/abi"
	"github.com/wasmevm/wasmevm/internal/codegen"
	"github.com/wasmevm/wasmevm/internal/masm"
)

// FloatPolicy decides how floating point instructions compile, as the EVM has none.
type FloatPolicy = masm.FloatPolicy

const (
	// FloatPolicyReject fails compilation on the first floating point operation. This is the default.
	FloatPolicyReject = masm.FloatPolicyReject
	// FloatPolicyTrap compiles floating point operations to INVALID, so a contract only fails when executing one.
	FloatPolicyTrap = masm.FloatPolicyTrap
)

// DefaultCodeSizeLimit is the EIP-170 limit on deployed code.
//
// See https://eips.ethereum.org/EIPS/eip-170
const DefaultCodeSizeLimit = codegen.DefaultCodeSizeLimit

// CompilerConfig controls compilation behavior, with the default implementation as NewCompilerConfig
//
// The example below compiles with debug logging of each translated instruction:
//
//	log, _ := zap.NewDevelopment()
//	c := wasmevm.NewCompiler(wasmevm.NewCompilerConfig().WithLogger(log))
//
// Note: CompilerConfig is immutable. Each WithXXX function returns a new instance including the corresponding change.
type CompilerConfig interface {
	// WithLogger sets the logger of compilation phases and, at debug level, of each translated instruction. Defaults
	// to a no-op logger.
	WithLogger(*zap.Logger) CompilerConfig

	// WithCodeSizeLimit bounds the size of the runtime code in bytes. Defaults to DefaultCodeSizeLimit. Zero or a
	// negative value only applies the two byte code offsets limit.
	WithCodeSizeLimit(int) CompilerConfig

	// WithFloatPolicy sets how floating point instructions compile. Defaults to FloatPolicyReject.
	WithFloatPolicy(FloatPolicy) CompilerConfig

	// WithParallelism sets how many functions are translated concurrently. Defaults to one. The output does not
	// depend on it.
	WithParallelism(int) CompilerConfig

	// WithABI overrides the ABI of exports, matched by name. Parameters and results may use narrower integer types
	// than the function, e.g. "uint8" or "bool" for an i32, and the name of each parameter is kept in the ABI.
	//
	// Calling this again replaces the overrides of the same names only.
	WithABI(...abi.Function) CompilerConfig
}

type compilerConfig struct {
	logger        *zap.Logger
	codeSizeLimit int
	floatPolicy   FloatPolicy
	parallelism   int
	abi           map[string]abi.Function
}

// defaultConfig helps avoid copy/pasting the wrong defaults.
var defaultConfig = &compilerConfig{
	codeSizeLimit: DefaultCodeSizeLimit,
	parallelism:   1,
}

// NewCompilerConfig returns a CompilerConfig with the defaults documented on each setting.
func NewCompilerConfig() CompilerConfig {
	return defaultConfig.clone()
}

// clone makes a deep copy of this compiler config.
func (c *compilerConfig) clone() *compilerConfig {
	ret := *c
	if c.abi != nil {
		ret.abi = make(map[string]abi.Function, len(c.abi))
		for k, v := range c.abi {
			ret.abi[k] = v
		}
	}
	return &ret
}

// WithLogger implements CompilerConfig.WithLogger
func (c *compilerConfig) WithLogger(logger *zap.Logger) CompilerConfig {
	ret := c.clone()
	ret.logger = logger
	return ret
}

// WithCodeSizeLimit implements CompilerConfig.WithCodeSizeLimit
func (c *compilerConfig) WithCodeSizeLimit(limit int) CompilerConfig {
	ret := c.clone()
	ret.codeSizeLimit = limit
	return ret
}

// WithFloatPolicy implements CompilerConfig.WithFloatPolicy
func (c *compilerConfig) WithFloatPolicy(policy FloatPolicy) CompilerConfig {
	ret := c.clone()
	ret.floatPolicy = policy
	return ret
}

// WithParallelism implements CompilerConfig.WithParallelism
func (c *compilerConfig) WithParallelism(n int) CompilerConfig {
	if n < 1 {
		n = 1
	}
	ret := c.clone()
	ret.parallelism = n
	return ret
}

// WithABI implements CompilerConfig.WithABI
func (c *compilerConfig) WithABI(fns ...abi.Function) CompilerConfig {
	ret := c.clone()
	if ret.abi == nil {
		ret.abi = make(map[string]abi.Function, len(fns))
	}
	for _, fn := range fns {
		ret.abi[fn.Name] = fn
	}
	return ret
}

func (c *compilerConfig) options() codegen.Options {
	return codegen.Options{
		Logger:        c.logger,
		FloatPolicy:   c.floatPolicy,
		Parallelism:   c.parallelism,
		ABI:           c.abi,
		CodeSizeLimit: c.codeSizeLimit,
	}
}

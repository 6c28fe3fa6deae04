package wasmevm

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wasmevm/wasmevm/abi"
	"github.com/wasmevm/wasmevm/internal/codegen"
)

func TestCompilerConfig(t *testing.T) {
	log := zap.NewExample()
	add := abi.Function{Name: "add", Inputs: []abi.Param{{Name: "a", Type: "uint8"}}}

	tests := []struct {
		name     string
		with     func(CompilerConfig) CompilerConfig
		expected *compilerConfig
	}{
		{
			name:     "defaults",
			with:     func(c CompilerConfig) CompilerConfig { return c },
			expected: &compilerConfig{codeSizeLimit: DefaultCodeSizeLimit, parallelism: 1},
		},
		{
			name:     "WithLogger",
			with:     func(c CompilerConfig) CompilerConfig { return c.WithLogger(log) },
			expected: &compilerConfig{logger: log, codeSizeLimit: DefaultCodeSizeLimit, parallelism: 1},
		},
		{
			name:     "WithCodeSizeLimit",
			with:     func(c CompilerConfig) CompilerConfig { return c.WithCodeSizeLimit(0) },
			expected: &compilerConfig{parallelism: 1},
		},
		{
			name:     "WithFloatPolicy",
			with:     func(c CompilerConfig) CompilerConfig { return c.WithFloatPolicy(FloatPolicyTrap) },
			expected: &compilerConfig{floatPolicy: FloatPolicyTrap, codeSizeLimit: DefaultCodeSizeLimit, parallelism: 1},
		},
		{
			name:     "WithParallelism",
			with:     func(c CompilerConfig) CompilerConfig { return c.WithParallelism(8) },
			expected: &compilerConfig{codeSizeLimit: DefaultCodeSizeLimit, parallelism: 8},
		},
		{
			name:     "WithParallelism not positive",
			with:     func(c CompilerConfig) CompilerConfig { return c.WithParallelism(-2) },
			expected: &compilerConfig{codeSizeLimit: DefaultCodeSizeLimit, parallelism: 1},
		},
		{
			name: "WithABI",
			with: func(c CompilerConfig) CompilerConfig { return c.WithABI(add) },
			expected: &compilerConfig{
				codeSizeLimit: DefaultCodeSizeLimit,
				parallelism:   1,
				abi:           map[string]abi.Function{"add": add},
			},
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			input := NewCompilerConfig()
			rc := tc.with(input)
			require.Equal(t, tc.expected, rc)
			// The source wasn't modified
			require.Equal(t, NewCompilerConfig(), input)
		})
	}
}

func TestCompilerConfig_WithABI_Clones(t *testing.T) {
	f := abi.Function{Name: "f"}
	g := abi.Function{Name: "g"}

	first := NewCompilerConfig().WithABI(f)
	second := first.WithABI(g, abi.Function{Name: "f", Type: "function"})

	require.Equal(t, map[string]abi.Function{"f": f}, first.(*compilerConfig).abi)
	require.Equal(t, map[string]abi.Function{"f": {Name: "f", Type: "function"}, "g": g}, second.(*compilerConfig).abi)
}

func TestCompilerConfig_options(t *testing.T) {
	log := zap.NewNop()
	c := NewCompilerConfig().
		WithLogger(log).
		WithFloatPolicy(FloatPolicyTrap).
		WithParallelism(3).
		WithCodeSizeLimit(100).
		WithABI(abi.Function{Name: "f"})

	require.Equal(t, codegen.Options{
		Logger:        log,
		FloatPolicy:   FloatPolicyTrap,
		Parallelism:   3,
		ABI:           map[string]abi.Function{"f": {Name: "f"}},
		CodeSizeLimit: 100,
	}, c.(*compilerConfig).options())
}

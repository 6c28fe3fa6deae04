package abi

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeccak256(t *testing.T) {
	for _, tc := range []struct {
		input, expected string
	}{
		{"", "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"},
		{"abc", "4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45"},
	} {
		digest := Keccak256([]byte(tc.input))
		require.Equal(t, tc.expected, hex.EncodeToString(digest[:]))
	}
}

func TestFunction_Signature(t *testing.T) {
	tests := []struct {
		name     string
		fn       *Function
		expected string
	}{
		{
			name:     "no parameters",
			fn:       &Function{Name: "run_revert"},
			expected: "run_revert()",
		},
		{
			name:     "argument names and outputs are ignored",
			fn:       &Function{Name: "f", Inputs: []Param{{Name: "x", Type: "int32"}}, Outputs: []Param{{Type: "int64"}}},
			expected: "f(int32)",
		},
		{
			name:     "many",
			fn:       &Function{Name: "transfer", Inputs: []Param{{Type: "address"}, {Type: "uint256"}, {Type: "int64"}}},
			expected: "transfer(address,uint256,int64)",
		},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			sig := tc.fn.Signature()
			require.Equal(t, tc.expected, sig)
			require.Len(t, strings.Split(strings.TrimSuffix(strings.TrimPrefix(sig, tc.fn.Name+"("), ")"), ","),
				maxInt(1, len(tc.fn.Inputs)))
		})
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func TestFunction_Selector(t *testing.T) {
	// Well known ERC-20 selectors.
	transfer := &Function{Name: "transfer", Inputs: []Param{{Type: "address"}, {Type: "uint256"}}}
	require.Equal(t, Selector{0xa9, 0x05, 0x9c, 0xbb}, transfer.Selector())
	balanceOf := &Function{Name: "balanceOf", Inputs: []Param{{Type: "address"}}}
	require.Equal(t, Selector{0x70, 0xa0, 0x82, 0x31}, balanceOf.Selector())

	f := &Function{Name: "f", Inputs: []Param{{Type: "int32"}}}
	require.Equal(t, f.Selector(), f.Selector())
	require.NotEqual(t, f.Selector(), (&Function{Name: "g", Inputs: f.Inputs}).Selector())
	require.NotEqual(t, f.Selector(), (&Function{Name: "f", Inputs: []Param{{Type: "int64"}}}).Selector())

	runRevert := &Function{Name: "run_revert"}
	digest := Keccak256([]byte("run_revert()"))
	sel := runRevert.Selector()
	require.Equal(t, digest[:4], sel[:])
}

func TestParseSelector_Width(t *testing.T) {
	for _, n := range []int{0, 1, 4, 31, 32, 33, 4096} {
		s := ParseSelector(make([]byte, n))
		require.Len(t, s, SelectorSize)
	}
}

func TestFunction_JSON(t *testing.T) {
	b, err := json.Marshal(&Function{Name: "f", Type: "function", Inputs: []Param{{Name: "a", Type: "int32"}}, Outputs: []Param{}})
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"f","type":"function","inputs":[{"name":"a","type":"int32"}],"outputs":[]}`, string(b))
}

package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmevm/wasmevm/abi"
	"github.com/wasmevm/wasmevm/internal/evm/evmtest"
	"github.com/wasmevm/wasmevm/internal/wasm"
	"github.com/wasmevm/wasmevm/internal/wasm/binary"
)

// writeWasm writes a module exporting add(int32,int32) and returns its path.
func writeWasm(t *testing.T, floats bool) string {
	i32 := wasm.ValueTypeI32
	body := []*wasm.Instruction{
		{Opcode: wasm.OpcodeLocalGet, Index: 0},
		{Opcode: wasm.OpcodeLocalGet, Index: 1},
		{Opcode: wasm.OpcodeI32Add},
	}
	if floats {
		body = append(body,
			&wasm.Instruction{Opcode: wasm.OpcodeF32Const},
			&wasm.Instruction{Opcode: wasm.OpcodeF32Neg},
			&wasm.Instruction{Opcode: wasm.OpcodeDrop})
	}
	body = append(body, &wasm.Instruction{Opcode: wasm.OpcodeEnd})

	source := binary.EncodeModule(&wasm.Module{
		TypeSection:     []*wasm.FunctionType{{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: binary.EncodeInstructions(body)}},
		ExportSection:   []*wasm.Export{{Kind: wasm.ExportKindFunc, Name: "add", Index: 0}},
	})
	path := filepath.Join(t.TempDir(), "add.wasm")
	require.NoError(t, os.WriteFile(path, source, 0o600))
	return path
}

func TestCompile(t *testing.T) {
	path := writeWasm(t, false)

	exitCode, stdOut, stdErr := runMain(t, []string{"compile", path})
	require.Equal(t, 0, exitCode, stdErr)
	creation, err := hex.DecodeString(strings.TrimSpace(stdOut))
	require.NoError(t, err)

	exitCode, stdOut, _ = runMain(t, []string{"compile", "-runtime", path})
	require.Equal(t, 0, exitCode)
	runtime, err := hex.DecodeString(strings.TrimSpace(stdOut))
	require.NoError(t, err)

	deployed, err := evmtest.Deploy(creation)
	require.NoError(t, err)
	require.Equal(t, runtime, deployed)
}

func TestCompile_ABI(t *testing.T) {
	path := writeWasm(t, false)

	exitCode, stdOut, _ := runMain(t, []string{"compile", "-abi", path})
	require.Equal(t, 0, exitCode)
	var fns []abi.Function
	require.NoError(t, json.Unmarshal([]byte(stdOut), &fns))
	require.Equal(t, []abi.Function{{
		Name:    "add",
		Type:    "function",
		Inputs:  []abi.Param{{Name: "arg0", Type: "int32"}, {Name: "arg1", Type: "int32"}},
		Outputs: []abi.Param{{Type: "int32"}},
	}}, fns)

	overrides := filepath.Join(t.TempDir(), "abi.json")
	require.NoError(t, os.WriteFile(overrides, []byte(`[{"name":"add","inputs":[{"name":"a","type":"uint8"},{"name":"b","type":"uint8"}],"outputs":[{"name":"","type":"uint16"}]}]`), 0o600))
	exitCode, stdOut, stdErr := runMain(t, []string{"compile", "-abi", "-abi-overrides", overrides, path})
	require.Equal(t, 0, exitCode, stdErr)
	require.NoError(t, json.Unmarshal([]byte(stdOut), &fns))
	require.Equal(t, "add(uint8,uint8)", fns[0].Signature())
}

func TestCompile_Disasm(t *testing.T) {
	path := writeWasm(t, false)

	exitCode, stdOut, _ := runMain(t, []string{"compile", "-disasm", "-runtime", path})
	require.Equal(t, 0, exitCode)
	lines := strings.Split(strings.TrimSpace(stdOut), "\n")
	require.Equal(t, "0000: PUSH0", lines[0])
	require.Equal(t, "0001: CALLDATALOAD", lines[1])
}

func TestCompile_Verbose(t *testing.T) {
	path := writeWasm(t, false)

	exitCode, _, stdErr := runMain(t, []string{"compile", "-v", path})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdErr, "translate")
	require.Contains(t, stdErr, "i32.add")
}

func TestSelector(t *testing.T) {
	exitCode, stdOut, _ := runMain(t, []string{"selector", "transfer(address,uint256)", "burn(uint256)"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "a9059cbb\ttransfer(address,uint256)\n42966c68\tburn(uint256)\n", stdOut)
}

func TestHelp(t *testing.T) {
	exitCode, _, stdErr := runMain(t, []string{"-h"})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdErr, "wasmevm CLI\n\nUsage:")
}

func TestErrors(t *testing.T) {
	floats := writeWasm(t, true)
	notWasm := filepath.Join(t.TempDir(), "not.wasm")
	require.NoError(t, os.WriteFile(notWasm, []byte("not wasm"), 0o600))

	tests := []struct {
		message string
		args    []string
	}{
		{message: "invalid command", args: []string{"run"}},
		{message: "missing path to wasm file", args: []string{"compile"}},
		{message: "missing function signature", args: []string{"selector"}},
		{message: "error reading wasm binary", args: []string{"compile", "nope.wasm"}},
		{message: "error compiling wasm binary: invalid binary", args: []string{"compile", notWasm}},
		{message: "invalid float policy: round", args: []string{"compile", "-float", "round", floats}},
		{message: "unsupported operator f32.neg", args: []string{"compile", floats}},
		{message: "error reading ABI overrides", args: []string{"compile", "-abi-overrides", "nope.json", floats}},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.message, func(t *testing.T) {
			exitCode, _, stdErr := runMain(t, tc.args)

			require.Equal(t, 1, exitCode)
			require.Contains(t, stdErr, tc.message)
		})
	}

	t.Run("trapping floats compile", func(t *testing.T) {
		exitCode, _, stdErr := runMain(t, []string{"compile", "-float", "trap", floats})
		require.Equal(t, 0, exitCode, stdErr)
	})
}

func runMain(t *testing.T, args []string) (int, string, string) {
	t.Helper()
	oldArgs := os.Args
	t.Cleanup(func() {
		os.Args = oldArgs
	})
	os.Args = append([]string{"wasmevm"}, args...)

	var exitCode int
	stdOut := &bytes.Buffer{}
	stdErr := &bytes.Buffer{}
	var exited bool
	func() {
		defer func() {
			if r := recover(); r != nil {
				exited = true
			}
		}()
		flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
		doMain(stdOut, stdErr, func(code int) {
			exitCode = code
			panic(code)
		})
	}()

	require.True(t, exited)

	return exitCode, stdOut.String(), stdErr.String()
}

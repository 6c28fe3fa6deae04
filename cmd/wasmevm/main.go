package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wasmevm/wasmevm"
	"github.com/wasmevm/wasmevm/abi"
	"github.com/wasmevm/wasmevm/internal/evm"
)

func main() {
	doMain(os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut io.Writer, stdErr io.Writer, exit func(code int)) {
	flag.CommandLine.SetOutput(stdErr)

	var help bool
	flag.BoolVar(&help, "h", false, "print usage")

	flag.Parse()

	if help || flag.NArg() == 0 {
		printUsage(stdErr)
		exit(0)
	}

	subCmd := flag.Arg(0)
	switch subCmd {
	case "compile":
		doCompile(flag.Args()[1:], stdOut, stdErr, exit)
	case "selector":
		doSelector(flag.Args()[1:], stdOut, stdErr, exit)
	default:
		fmt.Fprintln(stdErr, "invalid command")
		printUsage(stdErr)
		exit(1)
	}
}

func doCompile(args []string, stdOut io.Writer, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("compile", flag.ExitOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "print usage")

	var printABI bool
	flags.BoolVar(&printABI, "abi", false, "print the ABI of the contract as JSON instead of its code")

	var disasm bool
	flags.BoolVar(&disasm, "disasm", false, "print the code disassembled instead of hex encoded")

	var runtime bool
	flags.BoolVar(&runtime, "runtime", false, "print the runtime code instead of the creation code")

	var floats string
	flags.StringVar(&floats, "float", "reject", "what floating point instructions compile to: reject or trap")

	var overrides string
	flags.StringVar(&overrides, "abi-overrides", "", "path to a JSON ABI whose functions override the derived ABI of exports by name")

	var parallelism int
	flags.IntVar(&parallelism, "parallelism", 1, "count of functions compiled concurrently")

	var sizeLimit int
	flags.IntVar(&sizeLimit, "code-size-limit", wasmevm.DefaultCodeSizeLimit, "maximum size of the runtime code in bytes, 0 to disable")

	var verbose bool
	flags.BoolVar(&verbose, "v", false, "log each compiled instruction to stderr")

	_ = flags.Parse(args)

	if help {
		printCompileUsage(stdErr, flags)
		exit(0)
	}

	if flags.NArg() < 1 {
		fmt.Fprintln(stdErr, "missing path to wasm file")
		printCompileUsage(stdErr, flags)
		exit(1)
	}
	wasmPath := flags.Arg(0)

	source, err := os.ReadFile(wasmPath)
	if err != nil {
		fmt.Fprintf(stdErr, "error reading wasm binary: %v\n", err)
		exit(1)
	}

	c := wasmevm.NewCompilerConfig().
		WithParallelism(parallelism).
		WithCodeSizeLimit(sizeLimit)

	switch floats {
	case "reject":
	case "trap":
		c = c.WithFloatPolicy(wasmevm.FloatPolicyTrap)
	default:
		fmt.Fprintf(stdErr, "invalid float policy: %s\n", floats)
		exit(1)
	}

	if overrides != "" {
		fns, err := readABI(overrides)
		if err != nil {
			fmt.Fprintf(stdErr, "error reading ABI overrides: %v\n", err)
			exit(1)
		}
		c = c.WithABI(fns...)
	}

	if verbose {
		c = c.WithLogger(newLogger(stdErr))
	}

	contract, err := wasmevm.NewCompiler(c).Compile(context.Background(), source)
	if err != nil {
		fmt.Fprintf(stdErr, "error compiling wasm binary: %v\n", err)
		exit(1)
	}

	code := contract.Creation
	if runtime {
		code = contract.Runtime
	}
	switch {
	case printABI:
		enc := json.NewEncoder(stdOut)
		enc.SetIndent("", "  ")
		if err = enc.Encode(contract.ABI); err != nil {
			fmt.Fprintf(stdErr, "error writing ABI: %v\n", err)
			exit(1)
		}
	case disasm:
		fmt.Fprint(stdOut, evm.Format(code))
	default:
		fmt.Fprintln(stdOut, hex.EncodeToString(code))
	}
	exit(0)
}

func doSelector(args []string, stdOut io.Writer, stdErr io.Writer, exit func(code int)) {
	if len(args) == 0 {
		fmt.Fprintln(stdErr, "missing function signature")
		printUsage(stdErr)
		exit(1)
	}
	for _, sig := range args {
		sel := abi.ParseSelector([]byte(sig))
		fmt.Fprintf(stdOut, "%s\t%s\n", hex.EncodeToString(sel[:]), sig)
	}
	exit(0)
}

func readABI(path string) ([]abi.Function, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fns []abi.Function
	if err = json.Unmarshal(b, &fns); err != nil {
		return nil, err
	}
	return fns, nil
}

// newLogger logs at debug level in the human readable format of zap's development logger.
func newLogger(w io.Writer) *zap.Logger {
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), zapcore.DebugLevel))
}

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "wasmevm CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  wasmevm <command>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Commands:")
	fmt.Fprintln(stdErr, "  compile\tCompiles a WebAssembly binary into an EVM contract")
	fmt.Fprintln(stdErr, "  selector\tPrints the selectors of function signatures")
}

func printCompileUsage(stdErr io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "wasmevm CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  wasmevm compile <options> <path to wasm file>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	flags.PrintDefaults()
}

package codegen

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wasmevm/wasmevm/abi"
	"github.com/wasmevm/wasmevm/internal/asm"
	"github.com/wasmevm/wasmevm/internal/masm"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

// Options configure Compile.
type Options struct {
	// Logger defaults to a no-op logger.
	Logger      *zap.Logger
	FloatPolicy masm.FloatPolicy
	// Parallelism is the count of functions translated concurrently, one if not positive.
	Parallelism int
	// ABI overrides the derived ABI of exports by name.
	ABI map[string]abi.Function
	// CodeSizeLimit bounds the runtime code when positive.
	CodeSizeLimit int
}

// Output is a compiled contract.
type Output struct {
	// Runtime is the code executed by calls to the deployed contract.
	Runtime []byte
	// Creation is the code deploying the contract: the constructor followed by Runtime.
	Creation []byte
	Exports  *ExportTable
}

// Compile compiles a decoded module into a contract. Any failure aborts the whole compilation.
//
// The runtime code is laid out as the dispatcher, which starts with the initialization of memory and globals, then
// the export wrappers, the function bodies in index order and the data segments.
func Compile(ctx context.Context, m *wasm.Module, opts Options) (*Output, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	p, err := masm.NewProgram(m, opts.FloatPolicy)
	if err != nil {
		return nil, err
	}

	exports, err := DeriveExports(m, opts.ABI)
	if err != nil {
		return nil, err
	}
	table, err := NewExportTable(exports...)
	if err != nil {
		return nil, err
	}
	log.Debug("exports derived", zap.Int("count", table.Len()))

	imported := m.ImportedFunctionCount()
	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, errors.Errorf("function and code section length mismatch: %d != %d", len(m.FunctionSection), len(m.CodeSection))
	}
	fns := make([]*Function, len(m.CodeSection))
	bodies := make([][]*wasm.Instruction, len(m.CodeSection))
	for i := range m.CodeSection {
		if fns[i], err = NewFunction(m, imported+wasm.Index(i)); err != nil {
			return nil, err
		}
		if bodies[i], err = fns[i].Decode(); err != nil {
			return nil, errors.Wrapf(err, "function %s", fns[i].Name)
		}
	}
	if err = checkRecursion(m, fns, bodies, p.TableFunctions); err != nil {
		return nil, err
	}
	if err = checkStart(m); err != nil {
		return nil, err
	}
	log.Debug("functions decoded", zap.Int("count", len(fns)))

	segs, err := translateAll(ctx, p, fns, bodies, opts.Parallelism, log)
	if err != nil {
		return nil, err
	}

	dispatcher := asm.New("dispatcher")
	p.EmitInit(dispatcher)
	if m.StartSection != nil {
		if err = p.NewSegmentAssembler(dispatcher).Call(*m.StartSection); err != nil {
			return nil, errors.Wrap(err, "start function")
		}
	}
	EmitDispatcher(dispatcher, table)
	if err = p.EmitTrap(dispatcher); err != nil {
		return nil, err
	}

	wrappers := asm.New("exports")
	wm := p.NewSegmentAssembler(wrappers)
	for i := range table.exports {
		if err = EmitWrapper(wrappers, wm, &table.exports[i]); err != nil {
			return nil, err
		}
	}

	data, err := p.DataSegment()
	if err != nil {
		return nil, err
	}
	all := append([]*asm.Assembler{dispatcher, wrappers}, segs...)
	runtime, err := asm.Link(append(all, data)...)
	if err != nil {
		return nil, errors.Wrap(err, "link")
	}
	creation, err := EmitConstructor(runtime, opts.CodeSizeLimit)
	if err != nil {
		return nil, err
	}
	log.Debug("contract assembled", zap.Int("runtime_size", len(runtime)), zap.Int("creation_size", len(creation)))
	return &Output{Runtime: runtime, Creation: creation, Exports: table}, nil
}

// translateAll translates every function into its own segment, with up to parallelism functions at a time. Errors
// are combined in function order, so the result does not depend on scheduling.
func translateAll(ctx context.Context, p *masm.Program, fns []*Function, bodies [][]*wasm.Instruction, parallelism int, log *zap.Logger) ([]*asm.Assembler, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	segs := make([]*asm.Assembler, len(fns))
	errs := make([]error, len(fns))

	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < parallelism; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				a := p.NewAssembler(fns[i].Index)
				if errs[i] = TranslateInstructions(fns[i], bodies[i], a, log); errs[i] == nil {
					segs[i] = a.Segment()
				}
			}
		}()
	}
	for i := range fns {
		work <- i
	}
	close(work)
	wg.Wait()

	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}
	return segs, nil
}

// checkRecursion rejects call cycles, indirect calls included. Frames are static, so a function must not be entered
// again before it returned.
func checkRecursion(m *wasm.Module, fns []*Function, bodies [][]*wasm.Instruction, table func(wasm.Index) []wasm.Index) error {
	imported := m.ImportedFunctionCount()
	callees := make([][]wasm.Index, len(fns))
	for i := range fns {
		var err error
		if callees[i], err = Callees(m, bodies[i], table); err != nil {
			return errors.Wrapf(err, "function %s", fns[i].Name)
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]byte, len(fns))
	var path []wasm.Index
	var visit func(i int) error
	visit = func(i int) error {
		state[i] = visiting
		path = append(path, fns[i].Index)
		for _, callee := range callees[i] {
			j := int(callee - imported)
			switch state[j] {
			case visiting:
				var names []string
				for k := len(path) - 1; k >= 0; k-- {
					names = append([]string{m.FunctionName(path[k])}, names...)
					if path[k] == callee {
						break
					}
				}
				names = append(names, m.FunctionName(callee))
				return errors.Errorf("recursive call %s: recursion is not supported", strings.Join(names, " -> "))
			case unvisited:
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		state[i] = done
		return nil
	}
	for i := range fns {
		if state[i] == unvisited {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkStart(m *wasm.Module) error {
	if m.StartSection == nil {
		return nil
	}
	typ := m.TypeOfFunction(*m.StartSection)
	if typ == nil {
		return errors.Errorf("start function index %d out of range", *m.StartSection)
	}
	if len(typ.Params) > 0 || len(typ.Results) > 0 {
		return errors.Errorf("start function type %s must be null_null", typ)
	}
	return nil
}

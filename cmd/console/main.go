// Command console compiles a program and runs the generated assembly on the
// emulated CPU, so the compiled output can be exercised on any host.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"tapec/pkg/asm"
	"tapec/pkg/compiler"
	"tapec/pkg/cpu"
	"tapec/pkg/interp"
	"tapec/pkg/utils"
)

// stepsPerSlice bounds how long the emulator runs between progress checks.
const stepsPerSlice = 1 << 16

type config struct {
	tape     int
	maxSteps uint64
	showAsm  bool
	progress time.Duration
}

func main() {
	cfg := config{}
	flag.IntVar(&cfg.tape, "tape", interp.DefaultTapeLength, "number of tape cells")
	flag.Uint64Var(&cfg.maxSteps, "max-steps", 0, "stop after this many instructions (0 for no limit)")
	flag.BoolVar(&cfg.showAsm, "show-asm", false, "print the generated assembly before running")
	flag.DurationVar(&cfg.progress, "progress", 0, "report progress on stderr at this interval")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: console [flags] <program>")
		os.Exit(2)
	}

	fullPath, _, err := utils.GetPathInfo(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to resolve path: %v", err)
	}
	sourceBytes, err := os.ReadFile(fullPath)
	if err != nil {
		log.Fatalf("Failed to read source file: %v", err)
	}

	out := bufio.NewWriter(os.Stdout)
	code, err := execute(string(sourceBytes), cfg, os.Stdin, out, os.Stderr)
	out.Flush()
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(code)
}

// execute compiles src, assembles the output and runs it until exit. It
// returns the program's exit status.
func execute(src string, cfg config, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	_, assembly, err := compiler.Compile(src, cfg.tape)
	if err != nil {
		return 0, fmt.Errorf("compilation failed: %w", err)
	}
	if cfg.showAsm {
		fmt.Fprintf(stderr, "Generated Assembly:\n%s\n", assembly)
	}

	prog, err := asm.Assemble(assembly)
	if err != nil {
		return 0, fmt.Errorf("assembly failed: %w", err)
	}

	vm := cpu.NewCPU(prog)
	vm.Input = stdin
	vm.Output = stdout
	vm.MaxSteps = cfg.maxSteps

	var tick <-chan time.Time
	if cfg.progress > 0 {
		ticker := time.NewTicker(cfg.progress)
		defer ticker.Stop()
		tick = ticker.C
	}

	for !vm.Halted {
		for i := 0; i < stepsPerSlice && !vm.Halted; i++ {
			if vm.MaxSteps > 0 && vm.Steps >= vm.MaxSteps {
				return 0, cpu.ErrStepLimit
			}
			if err := vm.Step(); err != nil {
				return 0, err
			}
		}
		select {
		case <-tick:
			fmt.Fprintf(stderr, "[%d steps, cursor %d]\n", vm.Steps, vm.Regs[cpu.R9])
		default:
		}
	}
	return vm.ExitCode, nil
}

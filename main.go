package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tebeka/atexit"

	"tapec/pkg/compiler"
	"tapec/pkg/interp"
	"tapec/pkg/toolchain"
	"tapec/pkg/utils"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

type options struct {
	inPath   string
	outPath  string
	run      bool
	asmOnly  bool
	tape     int
	verbose  bool
	debug    bool
	snapshot string
	keep     bool
}

func main() {
	stdout := bufio.NewWriter(os.Stdout)
	atexit.Register(func() { stdout.Flush() })

	atexit.Exit(run(os.Args[1:], os.Stdin, stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("tapec", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.inPath, "in", "", "input program path (or pass it as the only argument)")
	fs.StringVar(&opts.outPath, "out", "", "output path (default: input name without extension)")
	fs.BoolVar(&opts.run, "run", false, "interpret the program instead of compiling it")
	fs.BoolVar(&opts.asmOnly, "S", false, "write the NASM assembly and stop")
	fs.IntVar(&opts.tape, "tape", interp.DefaultTapeLength, "number of tape cells")
	fs.BoolVar(&opts.verbose, "v", false, "log progress")
	fs.BoolVar(&opts.debug, "d", false, "log debugging detail and assemble with -g")
	fs.StringVar(&opts.snapshot, "snapshot", "", "with -run, write the final machine state to this file")
	fs.BoolVar(&opts.keep, "keep", false, "keep the intermediate .asm and .o files next to the output")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: tapec [flags] <program>\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch {
	case opts.inPath == "" && fs.NArg() == 1:
		opts.inPath = fs.Arg(0)
	case fs.NArg() > 0:
		fs.Usage()
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.inPath == "" {
		fs.Usage()
		return nil, errors.New("no input program")
	}
	if opts.run && opts.asmOnly {
		return nil, errors.New("use either -run or -S, not both")
	}
	if opts.snapshot != "" && !opts.run {
		return nil, errors.New("-snapshot requires -run")
	}
	return opts, nil
}

func newLogger(w io.Writer, opts *options) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case opts.debug:
		level = slog.LevelDebug
	case opts.verbose:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "tapec: %v\n", err)
		return exitUsage
	}

	logger := newLogger(stderr, opts)

	source, err := os.ReadFile(opts.inPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to read input file %q: %v\n", opts.inPath, err)
		return exitFail
	}
	logger.Info("read program", "path", opts.inPath, "bytes", len(source))

	if opts.run {
		err = interpret(string(source), stdin, stdout, opts, logger)
	} else {
		err = compile(string(source), stdout, opts, logger)
	}
	if err != nil {
		fmt.Fprintf(stderr, "tapec: %v\n", err)
		return exitFail
	}
	return exitOK
}

func interpret(source string, stdin io.Reader, stdout io.Writer, opts *options, logger *slog.Logger) error {
	tree, err := compiler.Parse(source)
	if err != nil {
		return err
	}
	logger.Debug("built tree", "nodes", len(tree.Nodes), "loops", tree.Count(compiler.LoopOpen))

	// Program output must reach the terminal before the next read blocks, and
	// must not sit in a buffer if the process is killed mid-run.
	m, err := interp.New(tree, opts.tape, interp.WithInput(stdin), interp.WithOutput(unbuffered(stdout)))
	if err != nil {
		return err
	}
	cursor, err := m.Run()
	if err != nil {
		return err
	}
	logger.Info("run complete", "steps", m.Steps(), "cursor", cursor)

	if opts.snapshot != "" {
		if err := m.SnapshotToFile(opts.snapshot); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		logger.Info("wrote snapshot", "path", opts.snapshot)
	}
	return nil
}

type flusher interface {
	Flush() error
}

// flushWriter flushes the underlying buffer after every write.
type flushWriter struct {
	w io.Writer
	f flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, fw.f.Flush()
}

func unbuffered(w io.Writer) io.Writer {
	if f, ok := w.(flusher); ok {
		return flushWriter{w: w, f: f}
	}
	return w
}

func compile(source string, stdout io.Writer, opts *options, logger *slog.Logger) error {
	tree, assembly, err := compiler.Compile(source, opts.tape)
	if err != nil {
		return err
	}
	logger.Debug("generated assembly", "nodes", len(tree.Nodes), "bytes", len(assembly))

	outPath := opts.outPath
	if opts.asmOnly {
		if outPath == "-" {
			_, err := io.WriteString(stdout, assembly)
			return err
		}
		if outPath == "" {
			outPath = toolchain.DefaultOutputName(opts.inPath) + ".asm"
		}
		if err := os.WriteFile(outPath, []byte(assembly), 0o644); err != nil {
			return err
		}
		logger.Info("wrote assembly", "path", outPath)
		return nil
	}

	if outPath == "" {
		outPath = toolchain.DefaultOutputName(opts.inPath)
	}
	fullPath, parentDir, err := utils.GetPathInfo(outPath)
	if err != nil {
		return err
	}

	tc := toolchain.FromEnv()
	tc.Debug = opts.debug
	if opts.keep {
		tc.WorkDir = parentDir
	}

	res, err := tc.Build(context.Background(), assembly, fullPath)
	if res != nil && !opts.keep {
		defer os.RemoveAll(res.WorkDir)
	}
	if err != nil {
		return err
	}

	logger.Info("built executable", "path", res.Binary)
	if opts.keep {
		logger.Info("kept intermediates", "asm", filepath.Base(res.AsmPath), "object", filepath.Base(res.ObjectPath))
	}
	return nil
}

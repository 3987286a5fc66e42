// Package toolchain turns generated assembly into a native executable by
// running nasm and ld.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"tapec/pkg/utils"
)

// Environment variables that override the tool binaries.
const (
	EnvNASM = "TAPEC_NASM"
	EnvLD   = "TAPEC_LD"
)

// ToolError reports a tool that could not be started or exited unsuccessfully.
type ToolError struct {
	Tool   string
	Output string // combined stdout and stderr
	Err    error
}

func (e *ToolError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v\n%s", e.Tool, e.Err, e.Output)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Assembler describes how to invoke the external tools. The zero value uses
// nasm and ld from PATH, an ELF64 object format and a temporary work directory.
type Assembler struct {
	NASM    string
	LD      string
	Format  string
	Debug   bool   // pass -g to nasm
	WorkDir string // where out.asm and out.o are written
}

// Result lists the files a Build produced.
type Result struct {
	AsmPath    string
	ObjectPath string
	Binary     string
	WorkDir    string
}

// FromEnv returns an Assembler that honours EnvNASM and EnvLD.
func FromEnv() *Assembler {
	return &Assembler{
		NASM: os.Getenv(EnvNASM),
		LD:   os.Getenv(EnvLD),
	}
}

func (a *Assembler) nasm() string {
	if a.NASM != "" {
		return a.NASM
	}
	return "nasm"
}

func (a *Assembler) ld() string {
	if a.LD != "" {
		return a.LD
	}
	return "ld"
}

func (a *Assembler) format() string {
	if a.Format != "" {
		return a.Format
	}
	return "elf64"
}

// NASMArgs returns the nasm command line for assembling asmPath into objPath.
func (a *Assembler) NASMArgs(asmPath, objPath string) []string {
	args := []string{"-f", a.format()}
	if a.Debug {
		args = append(args, "-g")
	}
	return append(args, asmPath, "-o", objPath)
}

// LDArgs returns the ld command line for linking objPath into outPath.
func (a *Assembler) LDArgs(objPath, outPath string) []string {
	return []string{"-o", outPath, objPath}
}

// Build writes source to out.asm in the work directory, assembles it and links
// the object into outPath. When WorkDir is empty a temporary directory is
// created; the caller owns it and may remove Result.WorkDir.
func (a *Assembler) Build(ctx context.Context, source, outPath string) (*Result, error) {
	dir := a.WorkDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "tapec-")
		if err != nil {
			return nil, fmt.Errorf("create work directory: %w", err)
		}
		dir = tmp
	}

	res := &Result{
		AsmPath:    filepath.Join(dir, "out.asm"),
		ObjectPath: filepath.Join(dir, "out.o"),
		Binary:     outPath,
		WorkDir:    dir,
	}

	if err := os.WriteFile(res.AsmPath, []byte(source), 0o644); err != nil {
		return res, fmt.Errorf("write %s: %w", res.AsmPath, err)
	}
	if err := run(ctx, a.nasm(), a.NASMArgs(res.AsmPath, res.ObjectPath)); err != nil {
		return res, err
	}
	if err := run(ctx, a.ld(), a.LDArgs(res.ObjectPath, outPath)); err != nil {
		return res, err
	}
	return res, nil
}

func run(ctx context.Context, tool string, args []string) error {
	cmd := exec.CommandContext(ctx, tool, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return &ToolError{Tool: tool, Output: out.String(), Err: err}
	}
	return nil
}

// DefaultOutputName derives the binary name from the source path: its base
// name without extension, or "a.out" when that would be empty.
func DefaultOutputName(inPath string) string {
	if inPath == "" {
		return "a.out"
	}
	name := utils.TrimExt(inPath)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "a.out"
	}
	return name
}

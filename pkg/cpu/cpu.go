// Package cpu emulates the small slice of x86-64 Linux that the code
// generator emits, so generated programs can be checked without an external
// assembler, linker or host of the right architecture.
package cpu

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Op is a decoded mnemonic.
type Op uint8

const (
	OpMOV Op = iota
	OpADD
	OpINC
	OpDEC
	OpCMP
	OpXOR
	OpJMP
	OpJE
	OpJNZ
	OpCALL
	OpRET
	OpSYSCALL
)

var opNames = [...]string{
	OpMOV:     "mov",
	OpADD:     "add",
	OpINC:     "inc",
	OpDEC:     "dec",
	OpCMP:     "cmp",
	OpXOR:     "xor",
	OpJMP:     "jmp",
	OpJE:      "je",
	OpJNZ:     "jnz",
	OpCALL:    "call",
	OpRET:     "ret",
	OpSYSCALL: "syscall",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Reg indexes the sixteen general purpose registers in hardware order.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("Reg(%d)", int(r))
}

// ParseReg maps a 64-bit register name onto its Reg.
func ParseReg(name string) (Reg, bool) {
	for i, n := range regNames {
		if n == name {
			return Reg(i), true
		}
	}
	return 0, false
}

// OperandKind says which fields of an Operand are meaningful.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandReg              // Reg
	OperandImm              // Imm
	OperandMem              // byte [Base + Index]
)

// Operand is one decoded instruction operand.
type Operand struct {
	Kind  OperandKind
	Reg   Reg
	Imm   int64
	Base  Reg
	Index Reg
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandReg:
		return o.Reg.String()
	case OperandImm:
		return fmt.Sprintf("%d", o.Imm)
	case OperandMem:
		return fmt.Sprintf("byte [%s + %s]", o.Base, o.Index)
	}
	return ""
}

// Instruction is one decoded line of assembly. Jumps and calls carry the
// index of their target instruction.
type Instruction struct {
	Op     Op
	Dst    Operand
	Src    Operand
	Target int
	Line   int // source line, for diagnostics
}

// Program is an assembled image ready to load into a CPU.
type Program struct {
	Code     []Instruction
	Entry    int    // index of the first instruction to execute
	DataBase uint64 // address of the first byte of memory
	DataSize int    // bytes of zero-initialised memory
}

// Linux system call numbers understood by the emulator.
const (
	SysRead  = 0
	SysWrite = 1
	SysExit  = 60
)

var (
	ErrStepLimit      = errors.New("step limit reached")
	ErrSegmentation   = errors.New("memory access out of bounds")
	ErrStackUnderflow = errors.New("ret with empty call stack")
	ErrBadInstruction = errors.New("invalid instruction")
	ErrUnknownSyscall = errors.New("unknown system call")
	ErrPCOutOfProgram = errors.New("program counter outside program")
)

// CPU executes a Program one instruction at a time.
type CPU struct {
	Regs [16]uint64
	PC   int
	ZF   bool

	Halted   bool
	ExitCode int
	Steps    uint64
	// MaxSteps stops Run with ErrStepLimit once reached. Zero means no limit.
	MaxSteps uint64

	// Output receives bytes written to fd 1 and 2. If nil, os.Stdout is used.
	Output io.Writer
	// Input is read for fd 0. If nil, os.Stdin is used.
	Input io.Reader

	prog      *Program
	memory    []byte
	callStack []int
}

// NewCPU loads prog with zeroed memory and the program counter at its entry point.
func NewCPU(prog *Program) *CPU {
	return &CPU{
		PC:     prog.Entry,
		prog:   prog,
		memory: make([]byte, prog.DataSize),
	}
}

func (c *CPU) outputSink() io.Writer {
	if c.Output != nil {
		return c.Output
	}
	return os.Stdout
}

func (c *CPU) inputSource() io.Reader {
	if c.Input != nil {
		return c.Input
	}
	return os.Stdin
}

// Memory returns the emulated data memory.
func (c *CPU) Memory() []byte { return c.memory }

// CallDepth returns the number of pending returns.
func (c *CPU) CallDepth() int { return len(c.callStack) }

// slice translates an address range into the backing memory.
func (c *CPU) slice(addr uint64, n uint64) ([]byte, error) {
	if addr < c.prog.DataBase {
		return nil, fmt.Errorf("%w: address 0x%x", ErrSegmentation, addr)
	}
	off := addr - c.prog.DataBase
	if off > uint64(len(c.memory)) || n > uint64(len(c.memory))-off {
		return nil, fmt.Errorf("%w: address 0x%x", ErrSegmentation, addr)
	}
	return c.memory[off : off+n], nil
}

func (c *CPU) byteAt(o Operand) (*byte, error) {
	b, err := c.slice(c.Regs[o.Base]+c.Regs[o.Index], 1)
	if err != nil {
		return nil, err
	}
	return &b[0], nil
}

func (c *CPU) read(o Operand) (uint64, error) {
	switch o.Kind {
	case OperandReg:
		return c.Regs[o.Reg], nil
	case OperandImm:
		return uint64(o.Imm), nil
	case OperandMem:
		b, err := c.byteAt(o)
		if err != nil {
			return 0, err
		}
		return uint64(*b), nil
	}
	return 0, ErrBadInstruction
}

func (c *CPU) write(o Operand, v uint64) error {
	switch o.Kind {
	case OperandReg:
		c.Regs[o.Reg] = v
		return nil
	case OperandMem:
		b, err := c.byteAt(o)
		if err != nil {
			return err
		}
		*b = byte(v)
		return nil
	}
	return ErrBadInstruction
}

// width masks v to the size of the destination operand.
func width(o Operand, v uint64) uint64 {
	if o.Kind == OperandMem {
		return v & 0xFF
	}
	return v
}

// Step executes one instruction.
func (c *CPU) Step() error {
	if c.Halted {
		return nil
	}
	if c.PC < 0 || c.PC >= len(c.prog.Code) {
		return fmt.Errorf("%w: %d", ErrPCOutOfProgram, c.PC)
	}

	in := c.prog.Code[c.PC]
	c.PC++
	c.Steps++

	if err := c.exec(in); err != nil {
		return fmt.Errorf("line %d: %s: %w", in.Line, in.Op, err)
	}
	return nil
}

func (c *CPU) exec(in Instruction) error {
	switch in.Op {
	case OpMOV:
		v, err := c.read(in.Src)
		if err != nil {
			return err
		}
		return c.write(in.Dst, v)

	case OpADD, OpXOR:
		a, err := c.read(in.Dst)
		if err != nil {
			return err
		}
		b, err := c.read(in.Src)
		if err != nil {
			return err
		}
		r := a + b
		if in.Op == OpXOR {
			r = a ^ b
		}
		r = width(in.Dst, r)
		c.ZF = r == 0
		return c.write(in.Dst, r)

	case OpINC, OpDEC:
		a, err := c.read(in.Dst)
		if err != nil {
			return err
		}
		if in.Op == OpINC {
			a++
		} else {
			a--
		}
		a = width(in.Dst, a)
		c.ZF = a == 0
		return c.write(in.Dst, a)

	case OpCMP:
		a, err := c.read(in.Dst)
		if err != nil {
			return err
		}
		b, err := c.read(in.Src)
		if err != nil {
			return err
		}
		c.ZF = width(in.Dst, a-b) == 0
		return nil

	case OpJMP:
		c.PC = in.Target
	case OpJE:
		if c.ZF {
			c.PC = in.Target
		}
	case OpJNZ:
		if !c.ZF {
			c.PC = in.Target
		}

	case OpCALL:
		c.callStack = append(c.callStack, c.PC)
		c.PC = in.Target
	case OpRET:
		if len(c.callStack) == 0 {
			return ErrStackUnderflow
		}
		c.PC = c.callStack[len(c.callStack)-1]
		c.callStack = c.callStack[:len(c.callStack)-1]

	case OpSYSCALL:
		return c.syscall()

	default:
		return ErrBadInstruction
	}
	return nil
}

// syscall follows the Linux calling convention: number in rax, arguments in
// rdi, rsi, rdx, result in rax. rcx and r11 are clobbered as on hardware.
func (c *CPU) syscall() error {
	defer func() {
		c.Regs[RCX] = uint64(c.PC)
		c.Regs[R11] = 0
	}()

	switch c.Regs[RAX] {
	case SysWrite:
		fd := c.Regs[RDI]
		if fd != 1 && fd != 2 {
			c.Regs[RAX] = negErrno(9) // EBADF
			return nil
		}
		buf, err := c.slice(c.Regs[RSI], c.Regs[RDX])
		if err != nil {
			return err
		}
		n, err := c.outputSink().Write(buf)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		c.Regs[RAX] = uint64(n)

	case SysRead:
		if c.Regs[RDI] != 0 {
			c.Regs[RAX] = negErrno(9)
			return nil
		}
		buf, err := c.slice(c.Regs[RSI], c.Regs[RDX])
		if err != nil {
			return err
		}
		n, err := c.inputSource().Read(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read: %w", err)
		}
		c.Regs[RAX] = uint64(n)

	case SysExit:
		c.Halted = true
		c.ExitCode = int(int32(c.Regs[RDI]))

	default:
		return fmt.Errorf("%w: %d", ErrUnknownSyscall, c.Regs[RAX])
	}
	return nil
}

func negErrno(errno int64) uint64 {
	return uint64(-errno)
}

// Run executes until the program exits, an instruction fails, or MaxSteps is reached.
func (c *CPU) Run() error {
	for !c.Halted {
		if c.MaxSteps > 0 && c.Steps >= c.MaxSteps {
			return ErrStepLimit
		}
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

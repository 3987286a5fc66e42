package cpu_test

import (
	"bytes"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tapec/pkg/asm"
	"tapec/pkg/cpu"
)

const prologue = "global _start\nsection .data\nsize: equ 4\nsection .bss\narray: resb size\nsection .text\n"

const exit = "mov rax, 60\nxor rdi, rdi\nsyscall\n"

func load(body string) *cpu.CPU {
	prog, err := asm.Assemble(prologue + body)
	Expect(err).NotTo(HaveOccurred())
	c := cpu.NewCPU(prog)
	c.MaxSteps = 10000
	return c
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

var _ = Describe("CPU", func() {
	var out *bytes.Buffer

	BeforeEach(func() {
		out = new(bytes.Buffer)
	})

	Context("arithmetic", func() {
		It("wraps byte-sized increments at 256", func() {
			c := load("_start:\nmov rdx, array\nmov r9, 0\ndec byte [rdx + r9]\n" + exit)
			Expect(c.Run()).To(Succeed())
			Expect(c.Memory()[0]).To(Equal(byte(255)))
		})

		It("sets ZF from cmp without touching the operand", func() {
			c := load("_start:\nmov r9, 3\ncmp r9, 3\n" + exit)
			Expect(c.Step()).To(Succeed())
			Expect(c.Step()).To(Succeed())
			Expect(c.ZF).To(BeTrue())
			Expect(c.Regs[cpu.R9]).To(Equal(uint64(3)))
		})

		It("adds registers", func() {
			c := load("_start:\nmov rdx, 5\nmov r9, 7\nadd rdx, r9\n" + exit)
			Expect(c.Run()).To(Succeed())
			Expect(c.Regs[cpu.RDX]).To(Equal(uint64(12)))
		})

		It("clears a register with xor", func() {
			c := load("_start:\nmov rdi, 9\nxor rdi, rdi\nmov rax, 60\nsyscall\n")
			Expect(c.Run()).To(Succeed())
			Expect(c.ExitCode).To(Equal(0))
		})
	})

	Context("control flow", func() {
		It("follows je and jnz", func() {
			c := load(`_start:
mov rdx, array
mov r9, 0
mov rax, 0
top:
inc byte [rdx + r9]
inc rax
cmp rax, 5
jnz top
` + exit)
			Expect(c.Run()).To(Succeed())
			Expect(c.Memory()[0]).To(Equal(byte(5)))
		})

		It("returns to the instruction after call", func() {
			c := load(`helper:
inc r9
ret
_start:
mov r9, 0
call helper
call helper
` + exit)
			Expect(c.Run()).To(Succeed())
			Expect(c.Regs[cpu.R9]).To(Equal(uint64(2)))
			Expect(c.CallDepth()).To(Equal(0))
		})

		It("rejects ret with an empty call stack", func() {
			c := load("_start:\nret\n")
			err := c.Run()
			Expect(errors.Is(err, cpu.ErrStackUnderflow)).To(BeTrue())
		})

		It("stops at the step limit", func() {
			c := load("_start:\nspin:\njmp spin\n")
			c.MaxSteps = 50
			Expect(c.Run()).To(MatchError(cpu.ErrStepLimit))
			Expect(c.Steps).To(Equal(uint64(50)))
		})
	})

	Context("memory", func() {
		It("faults outside the reserved range", func() {
			c := load("_start:\nmov rdx, array\nmov r9, 4\ninc byte [rdx + r9]\n" + exit)
			err := c.Run()
			Expect(errors.Is(err, cpu.ErrSegmentation)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("line"))
		})
	})

	Context("system calls", func() {
		It("writes memory to the output sink", func() {
			c := load(`_start:
mov rdx, array
mov r9, 0
mov rax, 0
fill:
inc byte [rdx + r9]
inc rax
cmp rax, 65
jnz fill
mov rax, 1
mov rdi, 1
mov rsi, rdx
mov rdx, 1
syscall
` + exit)
			c.Output = out
			Expect(c.Run()).To(Succeed())
			Expect(out.String()).To(Equal("A"))
		})

		It("reads input into memory", func() {
			c := load("_start:\nmov rax, 0\nmov rdi, 0\nmov rsi, array\nmov rdx, 2\nsyscall\nmov r9, rax\n" + exit)
			c.Input = strings.NewReader("hi")
			Expect(c.Run()).To(Succeed())
			Expect(c.Memory()[:2]).To(Equal([]byte("hi")))
			Expect(c.Regs[cpu.R9]).To(Equal(uint64(2)))
		})

		It("leaves memory unchanged at end of input", func() {
			c := load("_start:\nmov rdx, array\nmov r9, 0\ninc byte [rdx + r9]\nmov rax, 0\nmov rdi, 0\nmov rsi, array\nmov rdx, 1\nsyscall\nmov r9, rax\n" + exit)
			c.Input = strings.NewReader("")
			Expect(c.Run()).To(Succeed())
			Expect(c.Memory()[0]).To(Equal(byte(1)))
			Expect(c.Regs[cpu.R9]).To(Equal(uint64(0)))
		})

		It("reports the exit status", func() {
			c := load("_start:\nmov rax, 60\nmov rdi, 3\nsyscall\n")
			Expect(c.Run()).To(Succeed())
			Expect(c.Halted).To(BeTrue())
			Expect(c.ExitCode).To(Equal(3))
		})

		It("surfaces write failures", func() {
			c := load("_start:\nmov rax, 1\nmov rdi, 1\nmov rsi, array\nmov rdx, 1\nsyscall\n" + exit)
			c.Output = failingWriter{}
			Expect(c.Run()).To(MatchError(ContainSubstring("broken pipe")))
		})

		It("rejects unknown system calls", func() {
			c := load("_start:\nmov rax, 999\nsyscall\n")
			Expect(errors.Is(c.Run(), cpu.ErrUnknownSyscall)).To(BeTrue())
		})
	})
})

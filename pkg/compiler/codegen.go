package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSectionLimit bounds how large any one output section may grow.
const DefaultSectionLimit = 64 << 20

// Register use in the generated code:
//
//	rdx  base address of the tape (restored after every syscall)
//	r9   cursor
//
// The subroutine bodies below are emitted at most once per program.
const (
	entryDirective = "global _start\n"
	dataHeader     = "section .data\n"
	sizeDef        = "size: equ %d\n"
	bssHeader      = "section .bss\n" +
		"array: resb size\n"
	textHeader  = "section .text\n"
	startHeader = "_start:\n" +
		"mov rdx, array\n" +
		"mov r9, 0\n"

	srPointerRightBody = "pointer_right:\n" +
		"cmp r9, size - 1\n" +
		"je pointer_right_overflow\n" +
		"inc r9\n" +
		"ret\n" +
		"pointer_right_overflow:\n" +
		"mov r9, 0\n" +
		"ret\n"
	srPointerLeftBody = "pointer_left:\n" +
		"cmp r9, 0\n" +
		"je pointer_left_overflow\n" +
		"dec r9\n" +
		"ret\n" +
		"pointer_left_overflow:\n" +
		"mov r9, size - 1\n" +
		"ret\n"
	srPrintBody = "print:\n" +
		"mov rax, 1\n" +
		"mov rdi, 1\n" +
		"add rdx, r9\n" +
		"mov rsi, rdx\n" +
		"mov rdx, 1\n" +
		"syscall\n" +
		"mov rdx, array\n" +
		"ret\n"
	srReadBody = "read:\n" +
		"add rdx, r9\n" +
		"mov rax, 0\n" +
		"mov rdi, 0\n" +
		"mov rsi, rdx\n" +
		"mov rdx, 1\n" +
		"syscall\n" +
		"mov rdx, array\n" +
		"ret\n"

	callPointerRight = "call pointer_right\n"
	callPointerLeft  = "call pointer_left\n"
	callPrint        = "call print\n"
	callRead         = "call read\n"
	incrementCell    = "inc byte [rdx + r9]\n"
	decrementCell    = "dec byte [rdx + r9]\n"

	loopStart = "loop_%d:\n" +
		"cmp byte [rdx + r9], 0\n" +
		"je loop_%d_end\n"
	loopEnd = "cmp byte [rdx + r9], 0\n" +
		"jnz loop_%d\n" +
		"loop_%d_end:\n"

	done = "done:\n" +
		"mov rax, 60\n" +
		"xor rdi, rdi\n" +
		"syscall\n" +
		"\n"
)

// subroutine flags which helper bodies are already in the text section.
type subroutine uint8

const (
	srPointerRight subroutine = 1 << iota
	srPointerLeft
	srPrint
	srRead
)

// section is one ordered output buffer.
type section struct {
	name string
	buf  strings.Builder
}

// CodeGen walks a Tree and emits NASM x86-64 assembly for Linux.
type CodeGen struct {
	limit int

	global section
	data   section
	bss    section
	text   section
	start  section

	included  subroutine
	loopStack LoopStack
	err       error
}

// Option configures a CodeGen.
type Option func(*CodeGen)

// WithSectionLimit caps the size of every output section in bytes.
func WithSectionLimit(n int) Option {
	return func(cg *CodeGen) { cg.limit = n }
}

// NewCodeGen returns a generator. Each Generate call starts from empty sections.
func NewCodeGen(opts ...Option) *CodeGen {
	cg := &CodeGen{
		limit:  DefaultSectionLimit,
		global: section{name: "global section"},
		data:   section{name: "data section"},
		bss:    section{name: "bss section"},
		text:   section{name: "text section"},
		start:  section{name: "start section"},
	}
	for _, opt := range opts {
		opt(cg)
	}
	return cg
}

// emit appends text to s. The first failure sticks in cg.err and every later
// write is dropped.
func (cg *CodeGen) emit(s *section, text string) {
	if cg.err != nil {
		return
	}
	if size := s.buf.Len() + len(text); size > cg.limit {
		cg.err = &AllocationError{What: s.name, Size: size, Limit: cg.limit}
		return
	}
	s.buf.WriteString(text)
}

func (cg *CodeGen) emitf(s *section, format string, args ...any) {
	cg.emit(s, fmt.Sprintf(format, args...))
}

func (cg *CodeGen) reset() {
	for _, s := range []*section{&cg.global, &cg.data, &cg.bss, &cg.text, &cg.start} {
		s.buf.Reset()
	}
	cg.included = 0
	cg.err = nil
}

// include emits a subroutine body the first time it is needed.
func (cg *CodeGen) include(sr subroutine, body string) {
	if cg.included&sr != 0 {
		return
	}
	cg.included |= sr
	cg.emit(&cg.text, body)
}

// Generate translates tree into assembly source for a tape of tapeLen cells.
// Sections are concatenated in the order global, data, bss, text, start.
func (cg *CodeGen) Generate(tree *Tree, tapeLen int) (string, error) {
	if tapeLen < 1 {
		return "", ErrInvalidTapeLength
	}
	cg.reset()

	cg.emit(&cg.global, entryDirective)
	cg.emit(&cg.data, dataHeader)
	cg.emitf(&cg.data, sizeDef, tapeLen)
	cg.emit(&cg.bss, bssHeader)
	cg.emit(&cg.text, textHeader)
	cg.emit(&cg.start, startHeader)

	if err := cg.walk(tree); err != nil {
		return "", err
	}
	if cg.err != nil {
		return "", cg.err
	}

	var out strings.Builder
	out.Grow(cg.global.buf.Len() + cg.data.buf.Len() + cg.bss.buf.Len() + cg.text.buf.Len() + cg.start.buf.Len())
	for _, s := range []*section{&cg.global, &cg.data, &cg.bss, &cg.text, &cg.start} {
		out.WriteString(s.buf.String())
	}
	return out.String(), nil
}

// walk follows the same path through the tree as the interpreter does on its
// first pass over every loop: into each body, then past it.
func (cg *CodeGen) walk(tree *Tree) error {
	cg.loopStack.Reset()
	current := tree.Root

	for {
		if current == NoNode {
			return errors.New("malformed tree: walked off the end without reaching End")
		}

		flowLeft := false
		switch tree.Kind(current) {
		case MoveRight:
			cg.include(srPointerRight, srPointerRightBody)
			cg.emit(&cg.start, callPointerRight)
		case MoveLeft:
			cg.include(srPointerLeft, srPointerLeftBody)
			cg.emit(&cg.start, callPointerLeft)
		case Increment:
			cg.emit(&cg.start, incrementCell)
		case Decrement:
			cg.emit(&cg.start, decrementCell)
		case Output:
			cg.include(srPrint, srPrintBody)
			cg.emit(&cg.start, callPrint)
		case Input:
			cg.include(srRead, srReadBody)
			cg.emit(&cg.start, callRead)
		case LoopOpen:
			id := tree.Node(current).ID
			cg.emitf(&cg.start, loopStart, id, id)
			cg.loopStack.Push(current)
			flowLeft = true
		case LoopClose:
			open, ok := cg.loopStack.Pop()
			if !ok {
				return &StructuralError{Token: tree.Token(current), Msg: "unmatched ']'"}
			}
			id := tree.Node(open).ID
			cg.emitf(&cg.start, loopEnd, id, id)
			current = open
		case End:
			cg.emit(&cg.start, done)
			return nil
		default:
			return fmt.Errorf("unexpected %s node #%d", tree.Kind(current), current)
		}

		if cg.err != nil {
			return cg.err
		}

		if flowLeft {
			current = tree.Node(current).Left
		} else {
			current = tree.Node(current).Right
		}
	}
}

// Generate is a convenience wrapper around NewCodeGen(opts...).Generate.
func Generate(tree *Tree, tapeLen int, opts ...Option) (string, error) {
	return NewCodeGen(opts...).Generate(tree, tapeLen)
}

// Package asm assembles the NASM subset produced by the code generator into a
// cpu.Program.
package asm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"tapec/pkg/cpu"
)

// DefaultDataBase is the address at which the first reserved byte lives.
const DefaultDataBase = 0x402000

var noOperandOps = map[string]cpu.Op{
	"ret":     cpu.OpRET,
	"syscall": cpu.OpSYSCALL,
}

var oneOperandOps = map[string]cpu.Op{
	"inc": cpu.OpINC,
	"dec": cpu.OpDEC,
}

var twoOperandOps = map[string]cpu.Op{
	"mov": cpu.OpMOV,
	"add": cpu.OpADD,
	"cmp": cpu.OpCMP,
	"xor": cpu.OpXOR,
}

var branchOps = map[string]cpu.Op{
	"jmp":  cpu.OpJMP,
	"je":   cpu.OpJE,
	"jz":   cpu.OpJE,
	"jnz":  cpu.OpJNZ,
	"jne":  cpu.OpJNZ,
	"call": cpu.OpCALL,
}

// Assembler resolves symbols in a first pass and decodes instructions in a second.
type Assembler struct {
	labels  map[string]int   // text labels -> instruction index
	symbols map[string]int64 // equ constants and reserved addresses
	entry   string
	bssSize int64
}

type parsedLine struct {
	lineNo   int
	labels   []string
	mnemonic string
	operands []string
}

func NewAssembler() *Assembler {
	return &Assembler{
		labels:  make(map[string]int),
		symbols: make(map[string]int64),
	}
}

// Assemble is a convenience wrapper around NewAssembler().Assemble.
func Assemble(code string) (*cpu.Program, error) {
	return NewAssembler().Assemble(code)
}

func (a *Assembler) Assemble(code string) (*cpu.Program, error) {
	a.labels = make(map[string]int)
	a.symbols = make(map[string]int64)
	a.entry = ""
	a.bssSize = 0

	lines := strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n")
	parsed := make([]parsedLine, 0, len(lines))
	for i, raw := range lines {
		p, err := parseLine(raw, i+1)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, p)
	}

	if err := a.pass1(parsed); err != nil {
		return nil, err
	}
	return a.pass2(parsed)
}

// Labels returns the instruction index of every text label.
func (a *Assembler) Labels() map[string]int { return a.labels }

// Symbols returns every equ constant and reserved address.
func (a *Assembler) Symbols() map[string]int64 { return a.symbols }

func (a *Assembler) define(name string, lineNo int) error {
	_, isLabel := a.labels[name]
	_, isSymbol := a.symbols[name]
	if isLabel || isSymbol {
		return fmt.Errorf("duplicate label '%s' on line %d", name, lineNo)
	}
	return nil
}

func (a *Assembler) pass1(lines []parsedLine) error {
	section := ""
	count := 0

	for _, p := range lines {
		switch p.mnemonic {
		case "equ":
			if len(p.labels) != 1 || len(p.operands) != 1 {
				return fmt.Errorf("equ needs one label and one value on line %d", p.lineNo)
			}
			if err := a.define(p.labels[0], p.lineNo); err != nil {
				return err
			}
			v, err := a.eval(p.operands[0], p.lineNo)
			if err != nil {
				return err
			}
			a.symbols[p.labels[0]] = v
			continue

		case "resb":
			if section != ".bss" {
				return fmt.Errorf("resb outside .bss on line %d", p.lineNo)
			}
			if len(p.operands) != 1 {
				return fmt.Errorf("resb expects one operand on line %d", p.lineNo)
			}
			n, err := a.eval(p.operands[0], p.lineNo)
			if err != nil {
				return err
			}
			if n < 0 {
				return fmt.Errorf("negative reservation on line %d", p.lineNo)
			}
			for _, label := range p.labels {
				if err := a.define(label, p.lineNo); err != nil {
					return err
				}
				a.symbols[label] = DefaultDataBase + a.bssSize
			}
			a.bssSize += n
			continue

		case "section":
			if len(p.operands) != 1 {
				return fmt.Errorf("section expects a name on line %d", p.lineNo)
			}
			section = p.operands[0]
			continue

		case "global":
			if len(p.operands) != 1 {
				return fmt.Errorf("global expects one symbol on line %d", p.lineNo)
			}
			a.entry = p.operands[0]
			continue
		}

		for _, label := range p.labels {
			if section != ".text" {
				return fmt.Errorf("label '%s' outside .text on line %d", label, p.lineNo)
			}
			if err := a.define(label, p.lineNo); err != nil {
				return err
			}
			a.labels[label] = count
		}

		if p.mnemonic == "" {
			continue
		}
		if !isInstruction(p.mnemonic) {
			return fmt.Errorf("unknown instruction on line %d: %s", p.lineNo, p.mnemonic)
		}
		if section != ".text" {
			return fmt.Errorf("instruction outside .text on line %d: %s", p.lineNo, p.mnemonic)
		}
		count++
	}
	return nil
}

func (a *Assembler) pass2(lines []parsedLine) (*cpu.Program, error) {
	prog := &cpu.Program{
		DataBase: DefaultDataBase,
		DataSize: int(a.bssSize),
	}

	for _, p := range lines {
		if p.mnemonic == "" || !isInstruction(p.mnemonic) {
			continue
		}
		in := cpu.Instruction{Line: p.lineNo}

		if op, ok := noOperandOps[p.mnemonic]; ok {
			if len(p.operands) != 0 {
				return nil, fmt.Errorf("%s takes no operands on line %d", p.mnemonic, p.lineNo)
			}
			in.Op = op
		} else if op, ok := oneOperandOps[p.mnemonic]; ok {
			if len(p.operands) != 1 {
				return nil, fmt.Errorf("%s expects one operand on line %d", p.mnemonic, p.lineNo)
			}
			dst, err := a.parseOperand(p.operands[0], p.lineNo)
			if err != nil {
				return nil, err
			}
			if dst.Kind == cpu.OperandImm {
				return nil, fmt.Errorf("%s cannot modify an immediate on line %d", p.mnemonic, p.lineNo)
			}
			in.Op, in.Dst = op, dst
		} else if op, ok := twoOperandOps[p.mnemonic]; ok {
			if len(p.operands) != 2 {
				return nil, fmt.Errorf("%s expects two operands on line %d", p.mnemonic, p.lineNo)
			}
			dst, err := a.parseOperand(p.operands[0], p.lineNo)
			if err != nil {
				return nil, err
			}
			src, err := a.parseOperand(p.operands[1], p.lineNo)
			if err != nil {
				return nil, err
			}
			if dst.Kind == cpu.OperandImm {
				return nil, fmt.Errorf("%s destination cannot be an immediate on line %d", p.mnemonic, p.lineNo)
			}
			if dst.Kind == cpu.OperandMem && src.Kind == cpu.OperandMem {
				return nil, fmt.Errorf("%s cannot take two memory operands on line %d", p.mnemonic, p.lineNo)
			}
			in.Op, in.Dst, in.Src = op, dst, src
		} else if op, ok := branchOps[p.mnemonic]; ok {
			if len(p.operands) != 1 {
				return nil, fmt.Errorf("%s expects a label on line %d", p.mnemonic, p.lineNo)
			}
			target, ok := a.labels[p.operands[0]]
			if !ok {
				return nil, fmt.Errorf("undefined label '%s' on line %d", p.operands[0], p.lineNo)
			}
			in.Op, in.Target = op, target
		}

		prog.Code = append(prog.Code, in)
	}

	entry := a.entry
	if entry == "" {
		entry = "_start"
	}
	idx, ok := a.labels[entry]
	if !ok {
		return nil, fmt.Errorf("entry point '%s' is not defined", entry)
	}
	prog.Entry = idx
	return prog, nil
}

func isInstruction(mnemonic string) bool {
	if _, ok := noOperandOps[mnemonic]; ok {
		return true
	}
	if _, ok := oneOperandOps[mnemonic]; ok {
		return true
	}
	if _, ok := twoOperandOps[mnemonic]; ok {
		return true
	}
	_, ok := branchOps[mnemonic]
	return ok
}

func parseLine(raw string, lineNo int) (parsedLine, error) {
	p := parsedLine{lineNo: lineNo}

	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return p, nil
	}

	for {
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			break
		}

		beforeColon := strings.TrimSpace(line[:colon])
		if strings.ContainsAny(beforeColon, " \t[") {
			break
		}
		if !isIdentifier(beforeColon) {
			return p, fmt.Errorf("invalid label '%s' on line %d", beforeColon, lineNo)
		}

		p.labels = append(p.labels, beforeColon)
		line = strings.TrimSpace(line[colon+1:])
		if line == "" {
			return p, nil
		}
	}

	mnemonic, rest := line, ""
	if sp := strings.IndexFunc(line, unicode.IsSpace); sp >= 0 {
		mnemonic, rest = line[:sp], line[sp+1:]
	}
	p.mnemonic = strings.ToLower(mnemonic)

	// "size equ 5" is the colon-less spelling of "size: equ 5".
	if len(p.labels) == 0 && isIdentifier(mnemonic) {
		fields := strings.Fields(rest)
		if len(fields) > 0 && strings.EqualFold(fields[0], "equ") {
			p.labels = []string{mnemonic}
			p.mnemonic = "equ"
			rest = strings.Join(fields[1:], " ")
		}
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return p, nil
	}
	for _, op := range strings.Split(rest, ",") {
		op = strings.TrimSpace(op)
		if op == "" {
			return p, fmt.Errorf("empty operand on line %d", lineNo)
		}
		p.operands = append(p.operands, op)
	}
	return p, nil
}

func stripComments(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		return line[:i]
	}
	return line
}

// parseOperand decodes a register, a "byte [base + index]" memory reference
// or a constant expression.
func (a *Assembler) parseOperand(token string, lineNo int) (cpu.Operand, error) {
	t := strings.TrimSpace(token)
	lower := strings.ToLower(t)

	if strings.HasPrefix(lower, "byte") {
		t = strings.TrimSpace(t[len("byte"):])
		if !strings.HasPrefix(t, "[") {
			return cpu.Operand{}, fmt.Errorf("expected memory operand after byte on line %d: %s", lineNo, token)
		}
	}

	if strings.HasPrefix(t, "[") {
		if !strings.HasSuffix(t, "]") {
			return cpu.Operand{}, fmt.Errorf("unterminated memory operand on line %d: %s", lineNo, token)
		}
		base, index, ok := strings.Cut(t[1:len(t)-1], "+")
		if !ok {
			return cpu.Operand{}, fmt.Errorf("memory operand must be [base + index] on line %d: %s", lineNo, token)
		}
		b, err := parseRegister(base, lineNo)
		if err != nil {
			return cpu.Operand{}, err
		}
		i, err := parseRegister(index, lineNo)
		if err != nil {
			return cpu.Operand{}, err
		}
		return cpu.Operand{Kind: cpu.OperandMem, Base: b, Index: i}, nil
	}

	if r, ok := cpu.ParseReg(lower); ok {
		return cpu.Operand{Kind: cpu.OperandReg, Reg: r}, nil
	}

	v, err := a.eval(t, lineNo)
	if err != nil {
		return cpu.Operand{}, err
	}
	return cpu.Operand{Kind: cpu.OperandImm, Imm: v}, nil
}

func parseRegister(token string, lineNo int) (cpu.Reg, error) {
	name := strings.ToLower(strings.TrimSpace(token))
	r, ok := cpu.ParseReg(name)
	if !ok {
		return 0, fmt.Errorf("invalid register on line %d: %s", lineNo, token)
	}
	return r, nil
}

// eval computes a sum of terms such as "size - 1" or "array + 4". Each term is
// a number or a previously defined symbol.
func (a *Assembler) eval(expr string, lineNo int) (int64, error) {
	var total int64
	sign := int64(1)
	term := strings.Builder{}
	seen := false

	flush := func() error {
		t := strings.TrimSpace(term.String())
		term.Reset()
		if t == "" {
			return fmt.Errorf("malformed expression on line %d: %s", lineNo, expr)
		}
		v, err := a.term(t, lineNo)
		if err != nil {
			return err
		}
		total += sign * v
		seen = true
		return nil
	}

	for _, r := range expr {
		switch r {
		case '+', '-':
			if strings.TrimSpace(term.String()) == "" && !seen {
				// leading sign
				if r == '-' {
					sign = -sign
				}
				continue
			}
			if err := flush(); err != nil {
				return 0, err
			}
			sign = 1
			if r == '-' {
				sign = -1
			}
		default:
			term.WriteRune(r)
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return total, nil
}

func (a *Assembler) term(t string, lineNo int) (int64, error) {
	if v, err := strconv.ParseInt(t, 0, 64); err == nil {
		return v, nil
	}
	if isIdentifier(t) {
		if v, ok := a.symbols[t]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("undefined label '%s' on line %d", t, lineNo)
	}
	return 0, fmt.Errorf("invalid value on line %d: %s", lineNo, t)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' && r != '.' {
				return false
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			return false
		}
	}

	return true
}

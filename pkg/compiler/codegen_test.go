package compiler

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// assertContains checks if the generated code contains the expected substring.
func assertContains(t *testing.T, code, expected string) {
	t.Helper()
	if !strings.Contains(code, expected) {
		t.Errorf("Expected code to contain %q, but it didn't.\nCode:\n%s", expected, code)
	}
}

func generate(t *testing.T, src string, tapeLen int) string {
	t.Helper()
	_, code, err := Compile(src, tapeLen)
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	return code
}

func TestGenerate_SectionOrder(t *testing.T) {
	code := generate(t, "+>.", 30000)

	markers := []string{"global _start", "section .data", "size: equ 30000", "section .bss", "array: resb size", "section .text", "_start:", "done:"}
	last := -1
	for _, m := range markers {
		idx := strings.Index(code, m)
		if idx < 0 {
			t.Fatalf("missing %q in:\n%s", m, code)
		}
		if idx < last {
			t.Errorf("%q appears out of order in:\n%s", m, code)
		}
		last = idx
	}
	if !strings.HasPrefix(code, "global _start\n") {
		t.Errorf("output does not start with the entry directive:\n%s", code)
	}
	if !strings.HasSuffix(code, "syscall\n\n") {
		t.Errorf("output does not end with the exit sequence:\n%s", code)
	}
}

func TestGenerate_CellOps(t *testing.T) {
	code := generate(t, "+-", 10)
	assertContains(t, code, "_start:\nmov rdx, array\nmov r9, 0\ninc byte [rdx + r9]\ndec byte [rdx + r9]\ndone:\n")
	for _, sub := range []string{"pointer_right:", "pointer_left:", "print:", "read:"} {
		if strings.Contains(code, sub) {
			t.Errorf("unused subroutine %q emitted", sub)
		}
	}
}

func TestGenerate_SubroutinesOncePerProgram(t *testing.T) {
	code := generate(t, ">>><<<....,,,", 30000)
	for _, sub := range []string{"pointer_right:", "pointer_left:", "print:", "read:"} {
		if n := strings.Count(code, sub+"\n"); n != 1 {
			t.Errorf("%q emitted %d times", sub, n)
		}
	}
	if n := strings.Count(code, "call pointer_right\n"); n != 3 {
		t.Errorf("call pointer_right emitted %d times; want 3", n)
	}
	if n := strings.Count(code, "call print\n"); n != 4 {
		t.Errorf("call print emitted %d times; want 4", n)
	}

	// Subroutines live in the text section, before the entry point.
	if strings.Index(code, "pointer_right:") > strings.Index(code, "_start:") {
		t.Errorf("subroutine emitted after _start:\n%s", code)
	}
}

func TestGenerate_PointerWrapUsesSize(t *testing.T) {
	code := generate(t, "><", 5)
	assertContains(t, code, "size: equ 5\n")
	assertContains(t, code, "cmp r9, size - 1\nje pointer_right_overflow\n")
	assertContains(t, code, "pointer_left_overflow:\nmov r9, size - 1\nret\n")
}

func TestGenerate_LoopLabels(t *testing.T) {
	tree, code, err := Compile("[-[+]]>[.]", 30000)
	if err != nil {
		t.Fatal(err)
	}

	var ids []int
	tree.Walk(func(id NodeID, _ int) bool {
		if tree.Kind(id) == LoopOpen {
			ids = append(ids, tree.Node(id).ID)
		}
		return true
	})
	if len(ids) != 3 {
		t.Fatalf("got %d loops; want 3", len(ids))
	}

	for _, id := range ids {
		head := fmt.Sprintf("loop_%d:\ncmp byte [rdx + r9], 0\nje loop_%d_end\n", id, id)
		tail := fmt.Sprintf("cmp byte [rdx + r9], 0\njnz loop_%d\nloop_%d_end:\n", id, id)
		assertContains(t, code, head)
		assertContains(t, code, tail)
		if n := strings.Count(code, fmt.Sprintf("loop_%d:\n", id)); n != 1 {
			t.Errorf("label loop_%d defined %d times", id, n)
		}
		if strings.Index(code, head) > strings.Index(code, tail) {
			t.Errorf("loop_%d closes before it opens", id)
		}
	}

	// The inner loop closes before the outer one.
	inner := strings.Index(code, fmt.Sprintf("loop_%d_end:", ids[1]))
	outer := strings.Index(code, fmt.Sprintf("loop_%d_end:", ids[0]))
	if inner > outer {
		t.Errorf("nested loop labels out of order:\n%s", code)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	src := "++++++++[>++++++++<-]>.,[-]"
	first := generate(t, src, 30000)
	for i := 0; i < 5; i++ {
		if got := generate(t, src, 30000); got != first {
			t.Fatalf("run %d produced different output", i)
		}
	}
}

func TestGenerate_InvalidTapeLength(t *testing.T) {
	tree, err := Parse("+")
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{0, -1} {
		if _, err := Generate(tree, n); !errors.Is(err, ErrInvalidTapeLength) {
			t.Errorf("Generate(tapeLen=%d) error = %v; want ErrInvalidTapeLength", n, err)
		}
	}
}

func TestGenerate_SectionLimit(t *testing.T) {
	tree, err := Parse(strings.Repeat("+", 100))
	if err != nil {
		t.Fatal(err)
	}

	_, err = Generate(tree, 30000, WithSectionLimit(256))
	var aerr *AllocationError
	if !errors.As(err, &aerr) {
		t.Fatalf("error = %v; want *AllocationError", err)
	}
	if aerr.What != "start section" || aerr.Limit != 256 {
		t.Errorf("AllocationError = %+v", aerr)
	}

	if _, err := Generate(tree, 30000, WithSectionLimit(1<<20)); err != nil {
		t.Errorf("generous limit failed: %v", err)
	}
}

func TestGenerate_MalformedTree(t *testing.T) {
	tree, err := Parse("+")
	if err != nil {
		t.Fatal(err)
	}
	tree.Nodes[0].Right = NoNode
	if _, err := Generate(tree, 10); err == nil {
		t.Error("Generate accepted a tree without a reachable End")
	}
}

func TestCodeGenReuse(t *testing.T) {
	tree, err := Parse("+[>.<-],")
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := NewCodeGen().Generate(tree, 8)
	if err != nil {
		t.Fatal(err)
	}

	cg := NewCodeGen()
	for i := 0; i < 3; i++ {
		got, err := cg.Generate(tree, 8)
		if err != nil {
			t.Fatal(err)
		}
		if got != fresh {
			t.Fatalf("call %d on a reused generator differs from a fresh one:\n%s", i+1, got)
		}
	}

	// A failed call must not poison the next one.
	small := NewCodeGen(WithSectionLimit(16))
	if _, err := small.Generate(tree, 8); err == nil {
		t.Fatal("expected an AllocationError")
	}
	small.limit = DefaultSectionLimit
	if got, err := small.Generate(tree, 8); err != nil || got != fresh {
		t.Errorf("generate after failure: err = %v, equal = %v", err, got == fresh)
	}
}

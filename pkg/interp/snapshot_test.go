package interp

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

const multiply = "++++++++[>++++++++<-]>+.+.+."

func TestSnapshotRoundTrip(t *testing.T) {
	tree := mustParse(t, multiply)

	// Reference run without interruption.
	want := new(bytes.Buffer)
	if _, err := Execute(tree, 16, strings.NewReader(""), want); err != nil {
		t.Fatal(err)
	}

	for _, pause := range []int{0, 1, 9, 20, 57, 200} {
		out := new(bytes.Buffer)
		m, err := New(tree, 16, WithOutput(out))
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < pause && !m.Halted(); i++ {
			if err := m.Step(); err != nil {
				t.Fatal(err)
			}
		}

		data, err := m.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot after %d steps: %v", pause, err)
		}

		resumed, err := Resume(tree, data, WithOutput(out))
		if err != nil {
			t.Fatalf("Resume after %d steps: %v", pause, err)
		}
		if resumed.Cursor() != m.Cursor() || resumed.Steps() != m.Steps() ||
			resumed.Current() != m.Current() || resumed.LoopDepth() != m.LoopDepth() {
			t.Errorf("pause %d: resumed state differs from the original", pause)
		}
		if !bytes.Equal(resumed.Tape(), m.Tape()) {
			t.Errorf("pause %d: tape differs after resume", pause)
		}

		if _, err := resumed.Run(); err != nil {
			t.Fatal(err)
		}
		if out.String() != want.String() {
			t.Errorf("pause %d: output %q; want %q", pause, out.String(), want.String())
		}
	}
}

func TestSnapshotFile(t *testing.T) {
	tree := mustParse(t, "+++>++")
	m, err := New(tree, 8, WithOutput(new(bytes.Buffer)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Run(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "machine.zip")
	if err := m.SnapshotToFile(path); err != nil {
		t.Fatalf("SnapshotToFile: %v", err)
	}
	resumed, err := ResumeFromFile(tree, path)
	if err != nil {
		t.Fatalf("ResumeFromFile: %v", err)
	}
	if !resumed.Halted() || resumed.Tape()[0] != 3 || resumed.Tape()[1] != 2 || resumed.Cursor() != 1 {
		t.Errorf("resumed machine: halted=%v tape=%v cursor=%d", resumed.Halted(), resumed.Tape()[:2], resumed.Cursor())
	}
}

func TestResumeRejectsMismatchedTree(t *testing.T) {
	m, err := New(mustParse(t, "+[-]"), 4)
	if err != nil {
		t.Fatal(err)
	}
	data, err := m.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Resume(mustParse(t, "+"), data); err == nil {
		t.Error("Resume accepted a snapshot taken from a different tree")
	}
	if _, err := Resume(mustParse(t, "+[-]"), []byte("not a zip")); err == nil {
		t.Error("Resume accepted garbage")
	}
}

func TestResumeRejectsSameSizedProgram(t *testing.T) {
	m, err := New(mustParse(t, "+++>++"), 8)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Step(); err != nil {
		t.Fatal(err)
	}
	data, err := m.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	other := mustParse(t, "..,,<<")
	if len(other.Nodes) != len(m.tree.Nodes) {
		t.Fatalf("node counts differ: %d vs %d", len(other.Nodes), len(m.tree.Nodes))
	}
	if resumed, err := Resume(other, data); err == nil {
		t.Errorf("Resume accepted a snapshot from a different program: %v", resumed)
	}

	// Whitespace and comments do not change the program.
	if _, err := Resume(mustParse(t, "+++ move >++\n"), data); err != nil {
		t.Errorf("Resume rejected the same program reformatted: %v", err)
	}
}

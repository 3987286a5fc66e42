// Package interp executes a program tree directly over an in-memory byte tape.
package interp

import (
	"errors"
	"fmt"
	"io"
	"os"

	"tapec/pkg/compiler"
)

const (
	// DefaultTapeLength is the classic 30000-cell tape.
	DefaultTapeLength = 30000
	// MaxTapeLength is the largest tape New will allocate.
	MaxTapeLength = 1 << 30
)

// Machine is one execution of a program tree. It is not safe for concurrent use.
type Machine struct {
	tree *compiler.Tree
	tape []byte

	cursor    int
	current   compiler.NodeID
	flowLeft  bool
	loopStack compiler.LoopStack
	halted    bool
	steps     uint64

	// Input is read one byte per Input instruction. If nil, os.Stdin is used.
	Input io.Reader
	// Output receives one byte per Output instruction. If nil, os.Stdout is used.
	Output io.Writer

	inBuf  [1]byte
	outBuf [1]byte
}

// Option configures a Machine.
type Option func(*Machine)

// WithInput sets the input source.
func WithInput(r io.Reader) Option {
	return func(m *Machine) { m.Input = r }
}

// WithOutput sets the output sink.
func WithOutput(w io.Writer) Option {
	return func(m *Machine) { m.Output = w }
}

// New returns a Machine positioned at the root of tree with a zeroed tape of
// tapeLen cells and the cursor on cell 0.
func New(tree *compiler.Tree, tapeLen int, opts ...Option) (*Machine, error) {
	if tapeLen < 1 {
		return nil, compiler.ErrInvalidTapeLength
	}
	if tapeLen > MaxTapeLength {
		return nil, &compiler.AllocationError{What: "tape", Size: tapeLen, Limit: MaxTapeLength}
	}
	if tree == nil || tree.Root == compiler.NoNode {
		return nil, errors.New("empty program tree")
	}

	m := &Machine{
		tree:    tree,
		tape:    make([]byte, tapeLen),
		current: tree.Root,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Machine) inputSource() io.Reader {
	if m.Input != nil {
		return m.Input
	}
	return os.Stdin
}

func (m *Machine) outputSink() io.Writer {
	if m.Output != nil {
		return m.Output
	}
	return os.Stdout
}

// Halted reports whether the End node has been executed.
func (m *Machine) Halted() bool { return m.halted }

// Cursor returns the current tape index.
func (m *Machine) Cursor() int { return m.cursor }

// Tape returns the live tape. Callers must not resize it.
func (m *Machine) Tape() []byte { return m.tape }

// Steps returns the number of instructions executed so far.
func (m *Machine) Steps() uint64 { return m.steps }

// Current returns the node that the next Step will execute.
func (m *Machine) Current() compiler.NodeID { return m.current }

// LoopDepth returns the number of loop bodies currently entered.
func (m *Machine) LoopDepth() int { return m.loopStack.Len() }

// Step executes the current node and moves to the next one. Stepping a
// halted machine does nothing.
func (m *Machine) Step() error {
	if m.halted {
		return nil
	}
	if m.current == compiler.NoNode {
		return errors.New("malformed tree: walked off the end without reaching End")
	}

	cell := &m.tape[m.cursor]
	switch kind := m.tree.Kind(m.current); kind {
	case compiler.MoveRight:
		m.cursor++
		if m.cursor == len(m.tape) {
			m.cursor = 0
		}
		m.flowLeft = false

	case compiler.MoveLeft:
		if m.cursor == 0 {
			m.cursor = len(m.tape) - 1
		} else {
			m.cursor--
		}
		m.flowLeft = false

	case compiler.Increment:
		*cell++
		m.flowLeft = false

	case compiler.Decrement:
		*cell--
		m.flowLeft = false

	case compiler.Output:
		m.outBuf[0] = *cell
		if _, err := m.outputSink().Write(m.outBuf[:]); err != nil {
			return &compiler.IOError{Op: "write", Err: err}
		}
		m.flowLeft = false

	case compiler.Input:
		// At end of input the cell keeps its value.
		_, err := io.ReadFull(m.inputSource(), m.inBuf[:])
		switch {
		case err == nil:
			*cell = m.inBuf[0]
		case errors.Is(err, io.EOF):
		default:
			return &compiler.IOError{Op: "read", Err: err}
		}
		m.flowLeft = false

	case compiler.LoopOpen:
		if *cell == 0 {
			m.flowLeft = false
		} else {
			m.loopStack.Push(m.current)
			m.flowLeft = true
		}

	case compiler.LoopClose:
		open, ok := m.loopStack.Pop()
		if !ok {
			tok := m.tree.Token(m.current)
			return &compiler.StructuralError{Token: tok, Msg: "unmatched ']'"}
		}
		if *cell != 0 {
			m.loopStack.Push(open)
			m.flowLeft = true
		} else {
			m.flowLeft = false
		}
		m.current = open

	case compiler.End:
		m.halted = true
		m.steps++
		return nil

	default:
		return fmt.Errorf("unexpected %s node #%d", kind, m.current)
	}

	m.steps++
	node := m.tree.Node(m.current)
	if m.flowLeft {
		m.current = node.Left
	} else {
		m.current = node.Right
	}
	return nil
}

// Run steps until the End node is reached and returns the final cursor.
// A program that never terminates makes Run never return.
func (m *Machine) Run() (int, error) {
	for !m.halted {
		if err := m.Step(); err != nil {
			return m.cursor, err
		}
	}
	return m.cursor, nil
}

// Execute runs tree on a fresh tape of tapeLen cells and returns the final cursor.
func Execute(tree *compiler.Tree, tapeLen int, in io.Reader, out io.Writer) (int, error) {
	m, err := New(tree, tapeLen, WithInput(in), WithOutput(out))
	if err != nil {
		return 0, err
	}
	return m.Run()
}

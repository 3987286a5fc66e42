// Command repl runs programs interactively. Each entry runs on a fresh tape;
// an entry with unclosed loops continues on the next line.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/peterh/liner"

	"tapec/pkg/compiler"
	"tapec/pkg/grid"
	"tapec/pkg/interp"
)

const (
	historyFile = ".tapec_history"
	promptMain  = "tape> "
	promptCont  = "....> "
	tapeColumns = 16
	tapeRows    = 4
)

const helpText = `:tape          show the tape around the cursor after the last run
:asm           show the assembly for the last program
:input <text>  feed <text> to the next program's input instructions
:quit          leave`

type session struct {
	tape    int
	input   string
	last    *interp.Machine
	lastSrc string
}

func main() {
	tape := flag.Int("tape", interp.DefaultTapeLength, "number of tape cells")
	flag.Parse()
	os.Exit(repl(*tape))
}

func repl(tape int) int {
	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	s := &session{tape: tape}
	fmt.Println("type :help for commands")
	for {
		src, ok := readEntry(ln)
		if !ok {
			fmt.Println()
			return 0
		}
		if strings.TrimSpace(src) == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))

		if quit := s.handle(os.Stdout, src); quit {
			return 0
		}
	}
}

// readEntry reads lines until the loops opened so far are closed.
func readEntry(ln *liner.State) (string, bool) {
	var b strings.Builder
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			return "", true
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if strings.HasPrefix(strings.TrimSpace(src), ":") || !incomplete(src) {
			return src, true
		}
	}
}

// incomplete reports whether src opens more loops than it closes.
func incomplete(src string) bool {
	depth := 0
	for _, tok := range compiler.Lex(src) {
		switch tok.Kind {
		case compiler.LoopOpen:
			depth++
		case compiler.LoopClose:
			depth--
		}
	}
	return depth > 0
}

// handle runs one entry and reports whether the session should end.
func (s *session) handle(w io.Writer, src string) bool {
	entry := strings.TrimSpace(src)
	if strings.HasPrefix(entry, ":") {
		cmd, arg, _ := strings.Cut(entry, " ")
		switch strings.ToLower(cmd) {
		case ":quit", ":q":
			return true
		case ":help":
			fmt.Fprintln(w, helpText)
		case ":tape":
			if s.last == nil {
				fmt.Fprintln(w, "nothing has run yet")
				break
			}
			fmt.Fprintln(w, tapeTable(s.last))
		case ":asm":
			if s.lastSrc == "" {
				fmt.Fprintln(w, "nothing has run yet")
				break
			}
			_, assembly, err := compiler.Compile(s.lastSrc, s.tape)
			if err != nil {
				fmt.Fprintln(w, "error:", err)
				break
			}
			fmt.Fprint(w, assembly)
		case ":input":
			s.input = arg
		default:
			fmt.Fprintln(w, "unknown command. Type :help for a list.")
		}
		return false
	}

	m, err := s.eval(w, src)
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return false
	}
	s.last, s.lastSrc = m, src
	fmt.Fprintf(w, "\n[cursor %d, cell %d, %d steps]\n", m.Cursor(), m.Tape()[m.Cursor()], m.Steps())
	return false
}

func (s *session) eval(w io.Writer, src string) (*interp.Machine, error) {
	tree, err := compiler.Parse(src)
	if err != nil {
		return nil, err
	}
	m, err := interp.New(tree, s.tape, interp.WithInput(strings.NewReader(s.input)), interp.WithOutput(w))
	if err != nil {
		return nil, err
	}
	s.input = ""
	if _, err := m.Run(); err != nil {
		return nil, err
	}
	return m, nil
}

// tapeTable renders the cells around the cursor, marking the cursor cell.
func tapeTable(m *interp.Machine) string {
	tape := m.Tape()
	start, count := grid.Window(m.Cursor(), len(tape), tapeColumns*tapeRows)

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Cells %d-%d of %d", start, start+count-1, len(tape)))
	header := table.Row{"Offset"}
	for c := 0; c < tapeColumns; c++ {
		header = append(header, fmt.Sprintf("+%d", c))
	}
	t.AppendHeader(header)

	var row table.Row
	for i := 0; i < count; i++ {
		x, _ := grid.GetGridCoords(i, tapeColumns)
		if x == 0 {
			if row != nil {
				t.AppendRow(row)
			}
			row = table.Row{start + i}
		}
		cell := fmt.Sprintf("%d", tape[start+i])
		if start+i == m.Cursor() {
			cell = "[" + cell + "]"
		}
		row = append(row, cell)
	}
	if row != nil {
		t.AppendRow(row)
	}
	return t.Render()
}

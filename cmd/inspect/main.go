// Command inspect prints every stage of the compiler for one program: its
// tokens, its tree, the generated assembly and a summary.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"tapec/pkg/compiler"
	"tapec/pkg/interp"
)

const testSource = `++++++++[>++++++++<-]>+.
read one byte and echo it ,.
`

func main() {
	tape := flag.Int("tape", interp.DefaultTapeLength, "number of tape cells")
	showTokens := flag.Bool("tokens", true, "print the token table")
	showTree := flag.Bool("tree", true, "print the program tree")
	showAsm := flag.Bool("asm", true, "print the generated assembly")
	flag.Parse()

	src := testSource
	if flag.NArg() > 0 {
		data, err := os.ReadFile(flag.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, "read error:", err)
			os.Exit(1)
		}
		src = string(data)
	}

	if err := inspect(os.Stdout, src, *tape, *showTokens, *showTree, *showAsm); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func inspect(w io.Writer, src string, tape int, showTokens, showTree, showAsm bool) error {
	tokens := compiler.Lex(src)
	if showTokens {
		fmt.Fprintln(w, tokenTable(tokens))
		fmt.Fprintln(w)
	}

	tree, err := compiler.Build(tokens)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	if showTree {
		fmt.Fprintln(w, "Tree")
		fmt.Fprint(w, tree)
		fmt.Fprintln(w)
	}

	assembly, err := compiler.Generate(tree, tape)
	if err != nil {
		return fmt.Errorf("codegen error: %w", err)
	}
	if showAsm {
		fmt.Fprintln(w, "Generated Assembly")
		fmt.Fprint(w, assembly)
	}

	fmt.Fprintln(w, summaryTable(tree, assembly, tape))
	return nil
}

func tokenTable(tokens []compiler.Token) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Tokens (%d)", len(tokens)))
	t.AppendHeader(table.Row{"#", "Kind", "Symbol", "Row", "Column"})
	for i, tok := range tokens {
		sym := ""
		if r := tok.Kind.Symbol(); r != 0 {
			sym = string(r)
		}
		t.AppendRow(table.Row{i, tok.Kind, sym, tok.Row, tok.Column})
	}
	return t.Render()
}

func summaryTable(tree *compiler.Tree, assembly string, tape int) string {
	depth := 0
	tree.Walk(func(_ compiler.NodeID, d int) bool {
		depth = max(depth, d)
		return true
	})

	t := table.NewWriter()
	t.SetTitle("Summary")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"Nodes", len(tree.Nodes)})
	for kind := compiler.MoveRight; kind <= compiler.LoopOpen; kind++ {
		t.AppendRow(table.Row{kind, tree.Count(kind)})
	}
	t.AppendRow(table.Row{"Max loop depth", depth})
	t.AppendRow(table.Row{"Tape cells", tape})
	t.AppendRow(table.Row{"Assembly lines", strings.Count(assembly, "\n")})
	return t.Render()
}

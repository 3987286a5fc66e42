package compiler

import "fmt"

// Kind identifies the instruction a token stands for.
type Kind int

const (
	MoveRight Kind = iota // >
	MoveLeft              // <
	Increment             // +
	Decrement             // -
	Output                // .
	Input                 // ,
	LoopOpen              // [
	LoopClose             // ]
	End                   // sentinel: end of input

	// Comment is only produced while classifying characters; the lexer drops it
	// before a token is ever emitted.
	Comment
)

// kindNames is indexed by Kind.
var kindNames = [...]string{
	MoveRight: "MoveRight",
	MoveLeft:  "MoveLeft",
	Increment: "Increment",
	Decrement: "Decrement",
	Output:    "Output",
	Input:     "Input",
	LoopOpen:  "LoopOpen",
	LoopClose: "LoopClose",
	End:       "End",
	Comment:   "Comment",
}

// kindSymbols is the source character for each Kind. End and Comment have none.
var kindSymbols = [...]rune{
	MoveRight: '>',
	MoveLeft:  '<',
	Increment: '+',
	Decrement: '-',
	Output:    '.',
	Input:     ',',
	LoopOpen:  '[',
	LoopClose: ']',
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Symbol returns the source character for k, or 0 for End and Comment.
func (k Kind) Symbol() rune {
	if int(k) >= 0 && int(k) < len(kindSymbols) {
		return kindSymbols[k]
	}
	return 0
}

// classify maps a source rune onto its Kind. Anything that is not one of the
// eight instruction characters is a Comment.
func classify(r rune) Kind {
	switch r {
	case '>':
		return MoveRight
	case '<':
		return MoveLeft
	case '+':
		return Increment
	case '-':
		return Decrement
	case '.':
		return Output
	case ',':
		return Input
	case '[':
		return LoopOpen
	case ']':
		return LoopClose
	}
	return Comment
}

// Token is one significant source character.
type Token struct {
	Kind   Kind
	Column int // 1-based rune position on the line
	Row    int // 1-based source line
}

func (t Token) String() string {
	if sym := t.Kind.Symbol(); sym != 0 {
		return fmt.Sprintf("%-10s %q  %d:%d", t.Kind, sym, t.Row, t.Column)
	}
	return fmt.Sprintf("%-10s      %d:%d", t.Kind, t.Row, t.Column)
}

package compiler

// Lexer holds the mutable state for a single scanning pass over src.
type Lexer struct {
	src    []rune
	pos    int // index of the next rune to consume
	row    int // current 1-based source line
	column int // 1-based column of the next rune
}

func newLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), row: 1, column: 1}
}

// advance consumes one rune and returns it along with the position it was read at.
func (l *Lexer) advance() (r rune, row, column int) {
	r = l.src[l.pos]
	row, column = l.row, l.column
	l.pos++

	// "\r\n" needs no special case: the '\n' that follows ends the line.
	if r == '\n' {
		l.row++
		l.column = 1
	} else {
		l.column++
	}
	return r, row, column
}

// Lex classifies every rune of src and returns the instruction tokens in source
// order, terminated by exactly one End token. Comments are dropped.
func Lex(src string) []Token {
	l := newLexer(src)
	tokens := make([]Token, 0, len(l.src)+1)

	for l.pos < len(l.src) {
		r, row, column := l.advance()
		kind := classify(r)
		if kind == Comment {
			continue
		}
		tokens = append(tokens, Token{Kind: kind, Column: column, Row: row})
	}

	return append(tokens, Token{Kind: End, Column: l.column, Row: l.row})
}

package compiler

// Build links tokens into a program tree. Each new node becomes the Right
// child of the previous one, or its Left child when the previous node opened a
// loop. A LoopClose is attached as a leaf and the loop it closes becomes the
// node that the next instruction is linked to.
//
// The stream must end with its only End token. An unmatched LoopClose, or a
// LoopOpen still open when End is reached, fails with a *StructuralError.
func Build(tokens []Token) (*Tree, error) {
	if len(tokens) == 0 {
		return nil, &StructuralError{Msg: "empty token stream"}
	}

	t := &Tree{
		Tokens: tokens,
		Nodes:  make([]Node, 0, len(tokens)),
		Root:   NoNode,
	}

	var stack LoopStack
	prev := NoNode
	linkLeft := false

	for i, tok := range tokens {
		if tok.Kind == Comment {
			return nil, &StructuralError{Token: tok, Msg: "comment token in token stream"}
		}

		id := t.newNode(i)
		switch {
		case prev == NoNode:
			t.Root = id
		case linkLeft:
			t.Nodes[prev].Left = id
		default:
			t.Nodes[prev].Right = id
		}

		switch tok.Kind {
		case LoopOpen:
			stack.Push(id)
			linkLeft = true
			prev = id

		case LoopClose:
			open, ok := stack.Pop()
			if !ok {
				return nil, &StructuralError{Token: tok, Msg: "unmatched ']'"}
			}
			linkLeft = false
			prev = open

		case End:
			if open, ok := stack.Peek(); ok {
				return nil, &StructuralError{Token: t.Token(open), Msg: "unmatched '['"}
			}
			if i != len(tokens)-1 {
				return nil, &StructuralError{Token: tokens[i+1], Msg: "instruction after end of program"}
			}
			return t, nil

		default:
			linkLeft = false
			prev = id
		}
	}

	last := tokens[len(tokens)-1]
	if open, ok := stack.Peek(); ok {
		return nil, &StructuralError{Token: t.Token(open), Msg: "unmatched '['"}
	}
	return nil, &StructuralError{Token: last, Msg: "token stream is not terminated by End"}
}

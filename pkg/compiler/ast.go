package compiler

import (
	"fmt"
	"strings"
)

// NodeID is a handle into Tree.Nodes.
type NodeID int

// NoNode marks an absent child.
const NoNode NodeID = -1

// Node is one instruction in the program tree.
//
//	+[-]>.
//
//	  +          Right: [
//	  [          Left: -   Right: >
//	    -        Right: ]
//	    ]        leaf
//	  >          Right: .
//	  .          Right: End
//	  End        leaf
//
// Right always links to the next instruction in program order. A LoopOpen also
// has Left, the first node of its body (its own LoopClose when the body is
// empty). LoopClose and End are leaves.
type Node struct {
	Token int    // index into Tree.Tokens
	Left  NodeID // loop body, LoopOpen only
	Right NodeID // next instruction
	ID    int    // assigned in build order, used for labels
}

// Tree is the program representation shared by both backends. Nodes live in an
// arena and refer to each other and to their tokens by index.
type Tree struct {
	Tokens []Token
	Nodes  []Node
	Root   NodeID
}

func (t *Tree) newNode(token int) NodeID {
	id := NodeID(len(t.Nodes))
	t.Nodes = append(t.Nodes, Node{Token: token, Left: NoNode, Right: NoNode, ID: int(id)})
	return id
}

// Node returns the node for id.
func (t *Tree) Node(id NodeID) *Node {
	return &t.Nodes[id]
}

// Token returns the source token that id was built from.
func (t *Tree) Token(id NodeID) Token {
	return t.Tokens[t.Nodes[id].Token]
}

// Kind is shorthand for t.Token(id).Kind.
func (t *Tree) Kind(id NodeID) Kind {
	return t.Tokens[t.Nodes[id].Token].Kind
}

// Count returns the number of nodes of the given kind.
func (t *Tree) Count(kind Kind) int {
	n := 0
	t.Walk(func(id NodeID, _ int) bool {
		if t.Kind(id) == kind {
			n++
		}
		return true
	})
	return n
}

// Walk visits every node reachable from the root, loop bodies before what
// follows the loop, which is source order. depth is the loop nesting depth.
// Returning false from fn stops the walk.
func (t *Tree) Walk(fn func(id NodeID, depth int) bool) {
	type frame struct {
		id    NodeID
		depth int
	}
	if t.Root == NoNode || len(t.Nodes) == 0 {
		return
	}

	stack := []frame{{t.Root, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(f.id, f.depth) {
			return
		}

		n := t.Nodes[f.id]
		if n.Right != NoNode {
			stack = append(stack, frame{n.Right, f.depth})
		}
		if n.Left != NoNode {
			stack = append(stack, frame{n.Left, f.depth + 1})
		}
	}
}

func (t *Tree) String() string {
	var sb strings.Builder
	t.Walk(func(id NodeID, depth int) bool {
		n := t.Nodes[id]
		tok := t.Tokens[n.Token]
		fmt.Fprintf(&sb, "%s#%d %s (%d:%d)", strings.Repeat("  ", depth), n.ID, tok.Kind, tok.Row, tok.Column)
		if n.Left != NoNode {
			fmt.Fprintf(&sb, " left=#%d", n.Left)
		}
		if n.Right != NoNode {
			fmt.Fprintf(&sb, " right=#%d", n.Right)
		}
		sb.WriteByte('\n')
		return true
	})
	return sb.String()
}

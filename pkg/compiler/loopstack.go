package compiler

// LoopStack tracks the LoopOpen nodes whose bodies are currently open. The
// builder uses it to pair brackets; the interpreter and the code generator use
// it to find their way back out of a body when they reach a LoopClose leaf.
type LoopStack struct {
	nodes []NodeID
}

// Push records id as the innermost open loop.
func (s *LoopStack) Push(id NodeID) {
	s.nodes = append(s.nodes, id)
}

// Pop removes and returns the innermost open loop. ok is false when the stack is empty.
func (s *LoopStack) Pop() (id NodeID, ok bool) {
	if len(s.nodes) == 0 {
		return NoNode, false
	}
	id = s.nodes[len(s.nodes)-1]
	s.nodes = s.nodes[:len(s.nodes)-1]
	return id, true
}

// Peek returns the innermost open loop without removing it.
func (s *LoopStack) Peek() (NodeID, bool) {
	if len(s.nodes) == 0 {
		return NoNode, false
	}
	return s.nodes[len(s.nodes)-1], true
}

func (s *LoopStack) Len() int { return len(s.nodes) }

// Reset empties the stack, keeping its storage.
func (s *LoopStack) Reset() {
	s.nodes = s.nodes[:0]
}

// Nodes returns a copy of the stack contents, outermost loop first.
func (s *LoopStack) Nodes() []NodeID {
	return append([]NodeID(nil), s.nodes...)
}

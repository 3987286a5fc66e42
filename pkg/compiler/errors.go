package compiler

import (
	"errors"
	"fmt"
)

// ErrInvalidTapeLength is returned by both backends when the tape length is not positive.
var ErrInvalidTapeLength = errors.New("tape length must be at least 1")

// StructuralError reports a loop boundary that has no partner, or a token
// stream that is not terminated by a single End token.
type StructuralError struct {
	Token Token
	Msg   string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Token.Row, e.Token.Column, e.Msg)
}

// AllocationError reports a buffer that would have grown past its limit.
type AllocationError struct {
	What  string // the buffer being grown, e.g. "text section" or "tape"
	Size  int    // size that was requested
	Limit int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("cannot allocate %s: %d bytes exceeds limit of %d", e.What, e.Size, e.Limit)
}

// IOError wraps a failure of the input source or output sink.
type IOError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

package ir

import "fmt"

// Span is a source location attached to statements and terminators.
type Span struct {
	File   string
	Line   int
	Column int
	Offset int
}

// Returns a string representation of the Span
func (s Span) String() string {
	if s.File == "" {
		return fmt.Sprintf("%d:%d", s.Line, s.Column)
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Column)
}

// IsZero reports whether the span carries no location.
func (s Span) IsZero() bool {
	return s == Span{}
}

// NewSpan creates a new Span instance
func NewSpan(file string, line, column, offset int) Span {
	return Span{
		File:   file,
		Line:   line,
		Column: column,
		Offset: offset,
	}
}

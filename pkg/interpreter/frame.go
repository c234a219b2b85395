package interpreter

import (
	"fmt"

	"mire/pkg/ir"
	"mire/pkg/memory"
)

type CleanupKind uint8

const (
	// CleanupNone: there is no caller to resume (root frame or diverging call).
	CleanupNone CleanupKind = iota
	// CleanupGoto resumes the caller at Block.
	CleanupGoto
	// CleanupFreeze freezes Alloc; the frame computed an immutable global.
	CleanupFreeze
)

// StackPopCleanup is what happens when a frame returns.
type StackPopCleanup struct {
	Kind  CleanupKind
	Block ir.BlockID
	Alloc memory.AllocID
}

func (c StackPopCleanup) String() string {
	switch c.Kind {
	case CleanupGoto:
		return fmt.Sprintf("goto bb%d", c.Block)
	case CleanupFreeze:
		return fmt.Sprintf("freeze alloc%d", c.Alloc)
	}
	return "none"
}

// Frame represents a function call frame.
type Frame struct {
	Def     ir.DefID         // item being evaluated
	Body    *ir.Body         // control-flow graph of Def
	Substs  ir.Substs        // generic arguments of this instantiation
	Span    ir.Span          // call site
	Locals  []memory.Pointer // slot 0 is the caller's return destination
	Block   ir.BlockID       // current basic block
	Stmt    int              // next statement in Block
	Cleanup StackPopCleanup  // action on return

	// deallocs are freed after the frame returns; drop glue uses this to
	// release a box once the drop code for its contents has run.
	deallocs []memory.Pointer
}

// CurrentSpan is the location of the statement or terminator about to run.
func (f *Frame) CurrentSpan() ir.Span {
	if int(f.Block) >= len(f.Body.Blocks) {
		return f.Body.Span
	}
	bb := f.Body.Blocks[f.Block]
	if f.Stmt < len(bb.Statements) {
		return bb.Statements[f.Stmt].Span
	}
	return bb.Terminator.Span
}

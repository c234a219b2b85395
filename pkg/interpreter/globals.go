package interpreter

import (
	"mire/pkg/ir"
	"mire/pkg/memory"
)

// globalScheduler finds the constants, statics and promoted constants used
// by a statement or terminator and pushes a frame for each one that has
// not been computed yet.
type globalScheduler struct {
	ecx    *EvalContext
	frame  *Frame
	pushed bool
	err    error
}

func (ecx *EvalContext) scheduleStatementGlobals(frame *Frame, stmt *ir.Statement) (bool, error) {
	g := &globalScheduler{ecx: ecx, frame: frame}
	switch s := stmt.Kind.(type) {
	case ir.Assign:
		g.place(s.Place)
		g.rvalue(s.Rvalue)
	case ir.SetDiscriminant:
		g.place(s.Place)
	}
	return g.pushed, g.err
}

func (ecx *EvalContext) scheduleTerminatorGlobals(frame *Frame, term *ir.Terminator) (bool, error) {
	g := &globalScheduler{ecx: ecx, frame: frame}
	switch t := term.Kind.(type) {
	case ir.If:
		g.operand(t.Cond)
	case ir.SwitchInt:
		g.place(t.Discr)
	case ir.Switch:
		g.place(t.Discr)
	case ir.Drop:
		g.place(t.Place)
	case ir.Call:
		g.operand(t.Func)
		g.operands(t.Args)
		if t.Destination != nil {
			g.place(t.Destination.Place)
		}
	case ir.Assert:
		g.operand(t.Cond)
		if t.Msg.Kind == ir.AssertBoundsCheck {
			g.operand(t.Msg.Len)
			g.operand(t.Msg.Index)
		}
	}
	return g.pushed, g.err
}

func (g *globalScheduler) rvalue(rv ir.Rvalue) {
	switch rv := rv.(type) {
	case ir.Use:
		g.operand(rv.Operand)
	case ir.Repeat:
		g.operand(rv.Operand)
	case ir.Ref:
		g.place(rv.Place)
	case ir.Len:
		g.place(rv.Place)
	case ir.Cast:
		g.operand(rv.Operand)
	case ir.BinaryOp:
		g.operand(rv.Left)
		g.operand(rv.Right)
	case ir.CheckedBinaryOp:
		g.operand(rv.Left)
		g.operand(rv.Right)
	case ir.UnaryOp:
		g.operand(rv.Operand)
	case ir.Aggregate:
		g.operands(rv.Operands)
	}
}

func (g *globalScheduler) operands(ops []ir.Operand) {
	for _, op := range ops {
		g.operand(op)
	}
}

func (g *globalScheduler) operand(op ir.Operand) {
	if op.Kind == ir.OperandConsume {
		g.place(op.Place)
		return
	}
	c := op.Constant
	if c == nil {
		return
	}
	switch c.Kind {
	case ir.LiteralItem:
		if c.Ty != nil && c.Ty.Kind == ir.TyFnDef {
			return
		}
		item, err := g.ecx.program.Item(c.Def)
		if err != nil {
			g.fail(err)
			return
		}
		if item.Body == nil || (item.Kind != ir.ItemConst && item.Kind != ir.ItemStatic) {
			return
		}
		substs := c.Substs.Subst(g.frame.Substs)
		immutable := item.Kind == ir.ItemConst || !item.Mutable
		g.global(globalID{def: c.Def, substs: substs.String(), promoted: -1}, item.Body, substs, immutable)
	case ir.LiteralPromoted:
		if c.Promoted < 0 || c.Promoted >= len(g.frame.Body.Promoted) {
			g.fail(invalid(ErrInvalidProgram, "%s has no promoted constant %d", g.frame.Def, c.Promoted))
			return
		}
		id := globalID{def: g.frame.Def, substs: g.frame.Substs.String(), promoted: c.Promoted}
		g.global(id, g.frame.Body.Promoted[c.Promoted], g.frame.Substs, true)
	}
}

func (g *globalScheduler) place(place ir.Lvalue) {
	if place.IsStatic() {
		item, err := g.ecx.program.Item(place.Static)
		if err != nil {
			g.fail(err)
			return
		}
		if item.Body == nil {
			g.fail(invalid(ErrNoBody, "static %s", place.Static))
			return
		}
		g.global(globalID{def: place.Static, promoted: -1}, item.Body, nil, !item.Mutable)
	}
	for _, proj := range place.Projections {
		if proj.Kind == ir.ProjIndex {
			g.operand(proj.Index)
		}
	}
}

func (g *globalScheduler) global(id globalID, body *ir.Body, substs ir.Substs, immutable bool) {
	if g.err != nil {
		return
	}
	if _, ok := g.ecx.globals[id]; ok {
		return
	}

	l, err := g.ecx.layouts.Layout(body.ReturnTy().Subst(substs))
	if err != nil {
		g.fail(err)
		return
	}
	ptr, err := g.ecx.memory.Allocate(l.Size(), l.Align())
	if err != nil {
		g.fail(err)
		return
	}
	g.ecx.globals[id] = ptr

	cleanup := StackPopCleanup{Kind: CleanupNone}
	if immutable {
		cleanup = StackPopCleanup{Kind: CleanupFreeze, Alloc: ptr.Alloc}
	}
	g.ecx.logger.Debug("schedule global", "def", id.def, "promoted", id.promoted, "frozen", immutable)
	if err := g.ecx.PushStackFrame(id.def, body.Span, body, substs, ptr, cleanup); err != nil {
		g.fail(err)
		return
	}
	g.pushed = true
}

func (g *globalScheduler) fail(err error) {
	if g.err == nil {
		g.err = err
	}
}

// globalPtr returns the memoized address of a computed global.
func (ecx *EvalContext) globalPtr(id globalID) (memory.Pointer, error) {
	ptr, ok := ecx.globals[id]
	if !ok {
		return memory.Pointer{}, invalid(ErrMissingGlobal, "%s%s promoted=%d", id.def, id.substs, id.promoted)
	}
	return ptr, nil
}

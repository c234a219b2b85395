package interpreter

import (
	"mire/pkg/ir"
	"mire/pkg/layout"
	"mire/pkg/memory"
)

// evalStatement executes one statement of the current frame.
func (ecx *EvalContext) evalStatement(stmt *ir.Statement) error {
	switch s := stmt.Kind.(type) {
	case ir.Assign:
		return ecx.evalRvalueIntoLvalue(s.Rvalue, s.Place)

	case ir.SetDiscriminant:
		lv, ty, err := ecx.EvalLvalue(s.Place)
		if err != nil {
			return err
		}
		dest, err := lv.ToPtr()
		if err != nil {
			return err
		}
		return ecx.writeDiscriminant(dest, ty, s.Variant)

	case ir.StorageLive, ir.StorageDead, ir.Nop:
		// locals live for the whole frame
		return nil
	}
	return invalid(ErrInvalidProgram, "unknown statement %T", stmt.Kind)
}

// writeDiscriminant tags the enum at dest as variant without touching the
// payload.
func (ecx *EvalContext) writeDiscriminant(dest memory.Pointer, ty *ir.Ty, variant int) error {
	if ty.Kind != ir.TyAdt || variant < 0 || variant >= len(ty.Adt.Variants) {
		return invalid(ErrInvalidProgram, "%s has no variant %d", ty, variant)
	}
	discr := ty.Adt.Variants[variant].Discr

	l, err := ecx.layouts.Layout(ty)
	if err != nil {
		return err
	}
	switch l := l.(type) {
	case *layout.General:
		return ecx.memory.WriteUint(dest, uint64(discr), l.Discr.Size())
	case *layout.CEnum:
		return ecx.writeCEnumDiscr(dest, l, discr)
	case *layout.RawNullablePointer:
		if uint64(variant) == l.NonNullDiscr {
			return nil
		}
		return ecx.memory.WriteUint(dest, 0, l.Value.Bytes)
	case *layout.StructWrappedNullablePointer:
		if uint64(variant) == l.NonNullDiscr {
			return nil
		}
		return ecx.writeNullSentinel(dest, ty, l)
	case *layout.Univariant:
		if variant == 0 {
			return nil
		}
	}
	return unsupported("set discriminant %d on %s with layout %T", variant, ty, l)
}

func (ecx *EvalContext) writeCEnumDiscr(dest memory.Pointer, l *layout.CEnum, discr int64) error {
	if l.Signed {
		return ecx.memory.WriteInt(dest, discr, l.Discr.Size())
	}
	return ecx.memory.WriteUint(dest, uint64(discr), l.Discr.Size())
}

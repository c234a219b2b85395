package interpreter

import (
	"mire/pkg/ir"
	"mire/pkg/layout"
	"mire/pkg/memory"
	"mire/pkg/primval"
)

// evalRvalueIntoLvalue evaluates rv and stores the result in place.
func (ecx *EvalContext) evalRvalueIntoLvalue(rv ir.Rvalue, place ir.Lvalue) error {
	lv, destTy, err := ecx.EvalLvalue(place)
	if err != nil {
		return err
	}
	dest, err := lv.ToPtr()
	if err != nil {
		return err
	}

	switch rv := rv.(type) {
	case ir.Use:
		return ecx.writeOperand(rv.Operand, dest, destTy)

	case ir.UnaryOp:
		v, _, err := ecx.evalOperandToPrimVal(rv.Operand)
		if err != nil {
			return err
		}
		res, err := primval.UnaryOp(rv.Op, v)
		if err != nil {
			return err
		}
		return ecx.writePrimVal(dest, res)

	case ir.BinaryOp:
		res, _, err := ecx.binaryOp(rv.Op, rv.Left, rv.Right)
		if err != nil {
			return err
		}
		return ecx.writePrimVal(dest, res)

	case ir.CheckedBinaryOp:
		res, overflowed, err := ecx.binaryOp(rv.Op, rv.Left, rv.Right)
		if err != nil {
			return err
		}
		return ecx.writeOverflowPair(res, overflowed, dest, destTy)

	case ir.Aggregate:
		return ecx.evalAggregate(rv, dest, destTy)

	case ir.Repeat:
		elem, ok := destTy.SequenceElem()
		if !ok {
			return invalid(ErrInvalidProgram, "repeat into %s", destTy)
		}
		size, err := ecx.typeSize(elem)
		if err != nil {
			return err
		}
		v, err := ecx.evalOperand(rv.Operand)
		if err != nil {
			return err
		}
		for i := uint64(0); i < rv.Count; i++ {
			if err := ecx.writeValue(v, dest.Add(i*size), elem); err != nil {
				return err
			}
		}
		return nil

	case ir.Len:
		src, srcTy, err := ecx.EvalLvalue(rv.Place)
		if err != nil {
			return err
		}
		_, n, err := src.elemTyAndLen(srcTy)
		if err != nil {
			return err
		}
		return ecx.memory.WriteUsize(dest, n)

	case ir.Ref:
		src, _, err := ecx.EvalLvalue(rv.Place)
		if err != nil {
			return err
		}
		switch src.Extra.Kind {
		case ExtraNone:
			return ecx.memory.WritePtr(dest, src.Ptr)
		case ExtraLength:
			return ecx.writePair(primval.FromPtr(src.Ptr), ecx.usize(src.Extra.Len), dest, destTy)
		case ExtraVtable:
			return ecx.writePair(primval.FromPtr(src.Ptr), primval.FromPtr(src.Extra.Vtable), dest, destTy)
		}
		return invalid(ErrInvalidProgram, "reference to %s taken while downcast", rv.Place)

	case ir.Box:
		ty := rv.Ty.Subst(ecx.substs())
		l, err := ecx.layouts.Layout(ty)
		if err != nil {
			return err
		}
		ptr, err := ecx.memory.Allocate(l.Size(), l.Align())
		if err != nil {
			return err
		}
		return ecx.memory.WritePtr(dest, ptr)

	case ir.Cast:
		return ecx.evalCast(rv, dest, destTy)

	case ir.InlineAsm:
		return evalErr(KindUnsupportedOperation, ErrInlineAsm, "%q", rv.Asm)
	}
	return invalid(ErrInvalidProgram, "unknown rvalue %T", rv)
}

// writeOperand evaluates op and stores it at dest as a ty.
func (ecx *EvalContext) writeOperand(op ir.Operand, dest memory.Pointer, ty *ir.Ty) error {
	v, err := ecx.evalOperand(op)
	if err != nil {
		return err
	}
	return ecx.writeValue(v, dest, ty)
}

func (ecx *EvalContext) binaryOp(op ir.BinOp, left, right ir.Operand) (primval.PrimVal, bool, error) {
	l, _, err := ecx.evalOperandToPrimVal(left)
	if err != nil {
		return primval.PrimVal{}, false, err
	}
	r, _, err := ecx.evalOperandToPrimVal(right)
	if err != nil {
		return primval.PrimVal{}, false, err
	}
	return primval.BinaryOp(op, l, r)
}

// writeOverflowPair stores (res, overflowed) into a two-field tuple.
func (ecx *EvalContext) writeOverflowPair(res primval.PrimVal, overflowed bool, dest memory.Pointer, ty *ir.Ty) error {
	first, second, err := ecx.pairOffsets(ty)
	if err != nil {
		return err
	}
	if err := ecx.writePrimVal(dest.Add(first), res); err != nil {
		return err
	}
	return ecx.memory.WriteBool(dest.Add(second), overflowed)
}

func (ecx *EvalContext) evalAggregate(agg ir.Aggregate, dest memory.Pointer, ty *ir.Ty) error {
	l, err := ecx.layouts.Layout(ty)
	if err != nil {
		return err
	}

	switch l := l.(type) {
	case *layout.Array:
		elem, ok := ty.SequenceElem()
		if !ok {
			return invalid(ErrInvalidProgram, "array aggregate into %s", ty)
		}
		for i, op := range agg.Operands {
			if err := ecx.writeOperand(op, dest.Add(uint64(i)*l.ElemSize), elem); err != nil {
				return err
			}
		}
		return nil

	case *layout.Univariant:
		if ty.Kind == ir.TyAdt && ty.Adt.IsEnum() && agg.Variant != 0 {
			return invalid(ErrInvalidProgram, "variant %d of single-variant %s", agg.Variant, ty)
		}
		return ecx.assignFields(dest, l.Variant.Offsets, ecx.aggregateFieldTys(ty, agg.Variant), agg.Operands)

	case *layout.General:
		if agg.Variant < 0 || agg.Variant >= len(l.Variants) {
			return invalid(ErrInvalidProgram, "%s has no variant %d", ty, agg.Variant)
		}
		discr := ty.Adt.Variants[agg.Variant].Discr
		if err := ecx.memory.WriteUint(dest, uint64(discr), l.Discr.Size()); err != nil {
			return err
		}
		return ecx.assignFields(dest, l.Variants[agg.Variant].Offsets[1:], ecx.aggregateFieldTys(ty, agg.Variant), agg.Operands)

	case *layout.RawNullablePointer:
		if uint64(agg.Variant) == l.NonNullDiscr {
			if len(agg.Operands) != 1 {
				return invalid(ErrInvalidProgram, "nullable pointer variant of %s takes one field, got %d", ty, len(agg.Operands))
			}
			fields := ty.Adt.FieldTys(agg.Variant, ty.Substs)
			return ecx.writeOperand(agg.Operands[0], dest, fields[0])
		}
		if len(agg.Operands) != 0 {
			return invalid(ErrInvalidProgram, "null variant of %s has fields", ty)
		}
		return ecx.memory.WriteUint(dest, 0, l.Value.Bytes)

	case *layout.StructWrappedNullablePointer:
		if uint64(agg.Variant) == l.NonNullDiscr {
			return ecx.assignFields(dest, l.NonNull.Offsets, ecx.aggregateFieldTys(ty, agg.Variant), agg.Operands)
		}
		if len(agg.Operands) != 0 {
			return invalid(ErrInvalidProgram, "null variant of %s has fields", ty)
		}
		return ecx.writeNullSentinel(dest, ty, l)

	case *layout.CEnum:
		if len(agg.Operands) != 0 {
			return invalid(ErrInvalidProgram, "fieldless %s built with fields", ty)
		}
		return ecx.writeCEnumDiscr(dest, l, ty.Adt.Variants[agg.Variant].Discr)
	}
	return unsupported("aggregate %s into layout %T", ty, l)
}

// aggregateFieldTys returns the field types of variant v of ty.
func (ecx *EvalContext) aggregateFieldTys(ty *ir.Ty, v int) []*ir.Ty {
	switch ty.Kind {
	case ir.TyTuple:
		return ty.Elems
	case ir.TyAdt:
		if v < len(ty.Adt.Variants) {
			return ty.Adt.FieldTys(v, ty.Substs)
		}
	}
	return nil
}

func (ecx *EvalContext) assignFields(dest memory.Pointer, offsets []uint64, tys []*ir.Ty, ops []ir.Operand) error {
	if len(ops) > len(offsets) || len(ops) > len(tys) {
		return invalid(ErrInvalidProgram, "%d operands for %d fields", len(ops), len(tys))
	}
	for i, op := range ops {
		if err := ecx.writeOperand(op, dest.Add(offsets[i]), tys[i]); err != nil {
			return err
		}
	}
	return nil
}

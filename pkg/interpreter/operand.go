package interpreter

import (
	"mire/pkg/ir"
	"mire/pkg/layout"
	"mire/pkg/memory"
	"mire/pkg/primval"
)

// operandTy returns the monomorphized type of op in the current frame.
func (ecx *EvalContext) operandTy(op ir.Operand) (*ir.Ty, error) {
	if op.Kind == ir.OperandConsume {
		return ecx.LvalueTy(op.Place)
	}
	if op.Constant == nil || op.Constant.Ty == nil {
		return nil, invalid(ErrInvalidProgram, "constant operand without a type")
	}
	return op.Constant.Ty.Subst(ecx.substs()), nil
}

// evalOperand evaluates op without copying values that live in memory.
func (ecx *EvalContext) evalOperand(op ir.Operand) (Value, error) {
	if op.Kind == ir.OperandConsume {
		lv, ty, err := ecx.EvalLvalue(op.Place)
		if err != nil {
			return Value{}, err
		}
		ptr, err := lv.ToPtr()
		if err != nil {
			return Value{}, err
		}
		return ecx.readValue(ptr, ty)
	}

	c := op.Constant
	if c == nil {
		return Value{}, invalid(ErrInvalidProgram, "empty constant operand")
	}
	ty, err := ecx.operandTy(op)
	if err != nil {
		return Value{}, err
	}

	switch c.Kind {
	case ir.LiteralValue:
		return ecx.constValue(c.Value, ty)

	case ir.LiteralItem:
		if ty.Kind == ir.TyFnDef {
			return ByRef(memory.ZSTPointer()), nil
		}
		item, err := ecx.program.Item(c.Def)
		if err != nil {
			return Value{}, err
		}
		if item.Kind != ir.ItemConst && item.Kind != ir.ItemStatic {
			return ByRef(memory.ZSTPointer()), nil
		}
		substs := c.Substs.Subst(ecx.substs())
		ptr, err := ecx.globalPtr(globalID{def: c.Def, substs: substs.String(), promoted: -1})
		if err != nil {
			return Value{}, err
		}
		return ByRef(ptr), nil

	case ir.LiteralPromoted:
		frame, err := ecx.frame()
		if err != nil {
			return Value{}, err
		}
		ptr, err := ecx.globalPtr(globalID{def: frame.Def, substs: frame.Substs.String(), promoted: c.Promoted})
		if err != nil {
			return Value{}, err
		}
		return ByRef(ptr), nil
	}
	return Value{}, invalid(ErrInvalidProgram, "unknown constant kind %d", c.Kind)
}

// evalOperandToPrimVal evaluates op and returns its single machine value.
func (ecx *EvalContext) evalOperandToPrimVal(op ir.Operand) (primval.PrimVal, *ir.Ty, error) {
	ty, err := ecx.operandTy(op)
	if err != nil {
		return primval.PrimVal{}, nil, err
	}
	v, err := ecx.evalOperand(op)
	if err != nil {
		return primval.PrimVal{}, nil, err
	}
	pv, err := ecx.valueToPrimVal(v, ty)
	return pv, ty, err
}

// constValue materializes a literal of type ty.
func (ecx *EvalContext) constValue(cv ir.ConstVal, ty *ir.Ty) (Value, error) {
	switch cv.Kind {
	case ir.ConstInt:
		if ty.Kind == ir.TyChar {
			v, err := primval.FromChar(cv.Bits)
			return ByVal(v), err
		}
		k, err := ecx.primKind(ty)
		if err != nil {
			return Value{}, err
		}
		if k == primval.Ptr {
			return ByVal(primval.FromPtr(memory.IntPointer(cv.Bits))), nil
		}
		return ByVal(primval.FromBits(k, cv.Bits)), nil

	case ir.ConstFloat:
		if ty.Kind == ir.TyFloat && ty.Width == 32 {
			return ByVal(primval.FromF32(float32(cv.Float))), nil
		}
		return ByVal(primval.FromF64(cv.Float)), nil

	case ir.ConstBool:
		return ByVal(primval.FromBool(cv.Bits != 0)), nil

	case ir.ConstChar:
		v, err := primval.FromChar(cv.Bits)
		return ByVal(v), err

	case ir.ConstStr:
		ptr, err := ecx.frozenBytes(cv.Str)
		if err != nil {
			return Value{}, err
		}
		return ByValPair(primval.FromPtr(ptr), ecx.usize(uint64(len(cv.Str)))), nil

	case ir.ConstByteStr:
		ptr, err := ecx.frozenBytes(string(cv.Bytes))
		if err != nil {
			return Value{}, err
		}
		return ByVal(primval.FromPtr(ptr)), nil

	case ir.ConstZST:
		return ByRef(memory.ZSTPointer()), nil
	}
	return Value{}, invalid(ErrInvalidProgram, "unknown literal kind %d", cv.Kind)
}

// frozenBytes returns a frozen allocation holding s. Equal literals share
// storage.
func (ecx *EvalContext) frozenBytes(s string) (memory.Pointer, error) {
	if ptr, ok := ecx.strs[s]; ok {
		return ptr, nil
	}
	ptr, err := ecx.memory.Allocate(uint64(len(s)), 1)
	if err != nil {
		return memory.Pointer{}, err
	}
	if err := ecx.memory.WriteBytes(ptr, []byte(s)); err != nil {
		return memory.Pointer{}, err
	}
	if err := ecx.memory.Freeze(ptr.Alloc); err != nil {
		return memory.Pointer{}, err
	}
	ecx.strs[s] = ptr
	return ptr, nil
}

// typeSize returns the size of a sized type.
func (ecx *EvalContext) typeSize(ty *ir.Ty) (uint64, error) {
	l, err := ecx.layouts.Layout(ty)
	if err != nil {
		return 0, err
	}
	return l.Size(), nil
}

func (ecx *EvalContext) typeAlign(ty *ir.Ty) (uint64, error) {
	l, err := ecx.layouts.Layout(ty)
	if err != nil {
		return 0, err
	}
	return l.Align(), nil
}

// fnDefSig returns the signature of the function a FnDef type names.
func (ecx *EvalContext) fnDefSig(ty *ir.Ty) (*ir.FnSig, error) {
	if ty.Sig != nil {
		return ty.Sig, nil
	}
	sig, err := ecx.program.FnSig(ty.Def)
	if err != nil {
		return nil, err
	}
	return sig.Subst(ty.Substs), nil
}

// readCEnum reads a fieldless enum as its discriminant integer. ok is false
// for enums with another layout.
func (ecx *EvalContext) readCEnum(ptr memory.Pointer, ty *ir.Ty) (Value, bool, error) {
	l, err := ecx.layouts.Layout(ty)
	if err != nil {
		return Value{}, false, err
	}
	ce, isCEnum := l.(*layout.CEnum)
	if !isCEnum {
		return Value{}, false, nil
	}
	k, err := primval.IntKind(ce.Discr.Size(), ce.Signed)
	if err != nil {
		return Value{}, false, err
	}
	n, err := ecx.memory.ReadUint(ptr, ce.Discr.Size())
	if err != nil {
		return Value{}, false, err
	}
	return ByVal(primval.FromBits(k, n)), true, nil
}

// readDiscriminantValue returns the declared discriminant of the enum
// stored at ptr.
func (ecx *EvalContext) readDiscriminantValue(ptr memory.Pointer, ty *ir.Ty) (uint64, error) {
	if ty.Kind != ir.TyAdt {
		return 0, nil
	}
	l, err := ecx.layouts.Layout(ty)
	if err != nil {
		return 0, err
	}
	switch l := l.(type) {
	case *layout.CEnum:
		if l.Signed {
			n, err := ecx.memory.ReadInt(ptr, l.Discr.Size())
			return uint64(n), err
		}
		return ecx.memory.ReadUint(ptr, l.Discr.Size())
	case *layout.General:
		return ecx.memory.ReadUint(ptr, l.Discr.Size())
	case *layout.RawNullablePointer:
		return ecx.readNonNull(ptr, l.Value.Bytes, l.NonNullDiscr)
	case *layout.StructWrappedNullablePointer:
		offset, fty, err := ecx.nonNullOffsetAndTy(ty, l)
		if err != nil {
			return 0, err
		}
		size, err := ecx.typeSize(fty)
		if err != nil {
			return 0, err
		}
		return ecx.readNonNull(ptr.Add(offset), size, l.NonNullDiscr)
	case *layout.Univariant:
		if len(ty.Adt.Variants) > 0 {
			return uint64(ty.Adt.Variants[0].Discr), nil
		}
		return 0, nil
	}
	return 0, unsupported("discriminant of %s with layout %T", ty, l)
}

// readNonNull reads the niche field at ptr: nndiscr when it is non-zero,
// the other variant otherwise.
func (ecx *EvalContext) readNonNull(ptr memory.Pointer, size, nndiscr uint64) (uint64, error) {
	var null bool
	if size == ecx.pointerSize {
		p, err := ecx.memory.ReadPtr(ptr)
		if err != nil {
			return 0, err
		}
		null = p.IsNull()
	} else {
		n, err := ecx.memory.ReadUint(ptr, size)
		if err != nil {
			return 0, err
		}
		null = n == 0
	}
	if null {
		return 1 - nndiscr, nil
	}
	return nndiscr, nil
}

// nonNullOffsetAndTy locates the field whose zero value encodes the
// payload-less variant of a struct-wrapped nullable pointer.
func (ecx *EvalContext) nonNullOffsetAndTy(ty *ir.Ty, l *layout.StructWrappedNullablePointer) (uint64, *ir.Ty, error) {
	if len(l.DiscrField) == 0 {
		return 0, nil, invalid(ErrInvalidProgram, "%s has an empty niche path", ty)
	}
	first := l.DiscrField[0]
	fields := ty.Adt.FieldTys(int(l.NonNullDiscr), ty.Substs)
	if first >= len(fields) || first >= len(l.NonNull.Offsets) {
		return 0, nil, invalid(ErrInvalidProgram, "%s niche path %v", ty, l.DiscrField)
	}
	offset, fty := l.NonNull.Offsets[first], fields[first]
	for _, i := range l.DiscrField[1:] {
		inner, next, err := ecx.fieldOffsetAndTy(fty, i)
		if err != nil {
			return 0, nil, err
		}
		offset += inner
		fty = next
	}
	return offset, fty, nil
}

// writeNullSentinel zeroes the niche field of a struct-wrapped nullable
// pointer at dest.
func (ecx *EvalContext) writeNullSentinel(dest memory.Pointer, ty *ir.Ty, l *layout.StructWrappedNullablePointer) error {
	offset, fty, err := ecx.nonNullOffsetAndTy(ty, l)
	if err != nil {
		return err
	}
	size, err := ecx.typeSize(fty)
	if err != nil {
		return err
	}
	return ecx.memory.WriteUint(dest.Add(offset), 0, size)
}

package interpreter

import (
	"math"

	"mire/pkg/ir"
	"mire/pkg/memory"
	"mire/pkg/primval"
)

func (ecx *EvalContext) evalCast(c ir.Cast, dest memory.Pointer, destTy *ir.Ty) error {
	srcTy, err := ecx.operandTy(c.Operand)
	if err != nil {
		return err
	}
	v, err := ecx.evalOperand(c.Operand)
	if err != nil {
		return err
	}

	switch c.Kind {
	case ir.CastUnsize:
		return ecx.unsizeInto(v, srcTy, dest, destTy)

	case ir.CastMisc:
		if ecx.isFatPointer(srcTy) {
			a, b, err := ecx.valueToPair(v, srcTy)
			if err != nil {
				return err
			}
			if ecx.isFatPointer(destTy) {
				return ecx.writePair(a, b, dest, destTy)
			}
			return ecx.writePrimVal(dest, a)
		}
		pv, err := ecx.valueToPrimVal(v, srcTy)
		if err != nil {
			return err
		}
		res, err := ecx.castPrimVal(pv, destTy)
		if err != nil {
			return err
		}
		return ecx.writePrimVal(dest, res)

	case ir.CastReifyFnPointer:
		if srcTy.Kind != ir.TyFnDef {
			return invalid(ErrInvalidProgram, "reify of non-function %s", srcTy)
		}
		sig, err := ecx.fnDefSig(srcTy)
		if err != nil {
			return err
		}
		return ecx.memory.WritePtr(dest, ecx.memory.CreateFnPtr(srcTy.Def, srcTy.Substs, sig))

	case ir.CastUnsafeFnPointer:
		if destTy.Kind != ir.TyFnPtr {
			return invalid(ErrInvalidProgram, "unsafe fn pointer cast to %s", destTy)
		}
		pv, err := ecx.valueToPrimVal(v, srcTy)
		if err != nil {
			return err
		}
		ptr, err := pv.ToFnPtr()
		if err != nil {
			return err
		}
		fn, err := ecx.memory.GetFn(ptr.Alloc)
		if err != nil {
			return err
		}
		return ecx.memory.WritePtr(dest, ecx.memory.CreateFnPtr(fn.Def, fn.Substs, destTy.Sig))
	}
	return unsupported("cast kind %s", c.Kind)
}

// isFatPointer reports whether ty is a pointer carrying metadata.
func (ecx *EvalContext) isFatPointer(ty *ir.Ty) bool {
	pointee, ok := ty.Pointee()
	return ok && !ecx.layouts.IsSized(pointee)
}

// castPrimVal converts v to the primitive representation of destTy.
func (ecx *EvalContext) castPrimVal(v primval.PrimVal, destTy *ir.Ty) (primval.PrimVal, error) {
	switch {
	case v.Kind.IsInt(), v.Kind == primval.Bool, v.Kind == primval.Char:
		return ecx.castInt(v, destTy)
	case v.Kind.IsFloat():
		return ecx.castFloat(v, destTy)
	case v.Kind == primval.Ptr, v.Kind == primval.FnPtr:
		return ecx.castPtr(v, destTy)
	}
	return primval.PrimVal{}, unsupported("cast of %s to %s", v, destTy)
}

func (ecx *EvalContext) castInt(v primval.PrimVal, destTy *ir.Ty) (primval.PrimVal, error) {
	switch destTy.Kind {
	case ir.TyInt, ir.TyUint:
		k, err := ecx.primKind(destTy)
		if err != nil {
			return primval.PrimVal{}, err
		}
		return primval.FromBits(k, v.Bits), nil
	case ir.TyFloat:
		f := float64(v.Bits)
		if v.Kind.IsSigned() {
			f = float64(int64(v.Bits))
		}
		if destTy.Width == 32 {
			return primval.FromF32(float32(f)), nil
		}
		return primval.FromF64(f), nil
	case ir.TyChar:
		if v.Kind != primval.U8 {
			return primval.PrimVal{}, invalid(ErrInvalidProgram, "only u8 casts to char, got %s", v.Kind)
		}
		return primval.FromChar(v.Bits)
	case ir.TyBool:
		if v.Kind == primval.Bool {
			return v, nil
		}
	case ir.TyRawPtr:
		return primval.FromPtr(memory.IntPointer(v.Bits)), nil
	}
	return primval.PrimVal{}, unsupported("cast of %s to %s", v, destTy)
}

func (ecx *EvalContext) castFloat(v primval.PrimVal, destTy *ir.Ty) (primval.PrimVal, error) {
	f := math.Float64frombits(v.Bits)
	if v.Kind == primval.F32 {
		f = float64(math.Float32frombits(uint32(v.Bits)))
	}

	switch destTy.Kind {
	case ir.TyFloat:
		if destTy.Width == 32 {
			return primval.FromF32(float32(f)), nil
		}
		return primval.FromF64(f), nil
	case ir.TyInt, ir.TyUint:
		k, err := ecx.primKind(destTy)
		if err != nil {
			return primval.PrimVal{}, err
		}
		return primval.FromBits(k, saturate(f, k)), nil
	}
	return primval.PrimVal{}, unsupported("cast of %s to %s", v, destTy)
}

// saturate converts f to the integer kind k, clamping to its range. NaN
// becomes zero.
func saturate(f float64, k primval.Kind) uint64 {
	if math.IsNaN(f) {
		return 0
	}
	bits := k.Size() * 8
	if k.IsSigned() {
		lo := -math.Ldexp(1, int(bits-1))
		hi := math.Ldexp(1, int(bits-1))
		switch {
		case f <= lo:
			return uint64(int64(-1) << (bits - 1))
		case f >= hi:
			return uint64(1)<<(bits-1) - 1
		}
		return uint64(int64(f))
	}
	hi := math.Ldexp(1, int(bits))
	switch {
	case f <= 0:
		return 0
	case f >= hi:
		if bits == 64 {
			return math.MaxUint64
		}
		return uint64(1)<<bits - 1
	}
	return uint64(f)
}

func (ecx *EvalContext) castPtr(v primval.PrimVal, destTy *ir.Ty) (primval.PrimVal, error) {
	switch destTy.Kind {
	case ir.TyRef, ir.TyRawPtr, ir.TyBox:
		return primval.FromPtr(v.Ptr), nil
	case ir.TyFnPtr:
		return primval.FromFnPtr(v.Ptr), nil
	case ir.TyInt, ir.TyUint:
		n, err := v.Ptr.ToInt()
		if err != nil {
			return primval.PrimVal{}, err
		}
		k, err := ecx.primKind(destTy)
		if err != nil {
			return primval.PrimVal{}, err
		}
		return primval.FromBits(k, n), nil
	}
	return primval.PrimVal{}, unsupported("cast of %s to %s", v, destTy)
}

// unsizeInto writes src, a value of srcTy, to dest as the unsized destTy.
func (ecx *EvalContext) unsizeInto(src Value, srcTy *ir.Ty, dest memory.Pointer, destTy *ir.Ty) error {
	srcPointee, srcIsPtr := srcTy.Pointee()
	destPointee, destIsPtr := destTy.Pointee()
	if srcIsPtr && destIsPtr {
		return ecx.unsizePointer(src, srcTy, srcPointee, dest, destTy, destPointee)
	}

	if srcTy.Kind == ir.TyAdt && destTy.Kind == ir.TyAdt && srcTy.Adt == destTy.Adt && !srcTy.Adt.IsEnum() {
		if src.Kind != ValueByRef {
			return invalid(ErrInvalidUnsize, "%s held by value", srcTy)
		}
		for i := range srcTy.Adt.StructVariant().Fields {
			srcOff, srcField, err := ecx.fieldOffsetAndTy(srcTy, i)
			if err != nil {
				return err
			}
			destOff, destField, err := ecx.fieldOffsetAndTy(destTy, i)
			if err != nil {
				return err
			}
			size, err := ecx.typeSize(destField)
			if err != nil {
				return err
			}
			if size == 0 {
				continue
			}
			fieldPtr := src.Ptr.Add(srcOff)
			if srcField.Equal(destField) {
				if err := ecx.writeValue(ByRef(fieldPtr), dest.Add(destOff), destField); err != nil {
					return err
				}
				continue
			}
			fv, err := ecx.readValue(fieldPtr, srcField)
			if err != nil {
				return err
			}
			if err := ecx.unsizeInto(fv, srcField, dest.Add(destOff), destField); err != nil {
				return err
			}
		}
		return nil
	}
	return invalid(ErrInvalidUnsize, "%s to %s", srcTy, destTy)
}

func (ecx *EvalContext) unsizePointer(src Value, srcTy, srcPointee *ir.Ty, dest memory.Pointer, destTy, destPointee *ir.Ty) error {
	from, to := lockstepTails(srcPointee, destPointee)
	switch {
	case from.Kind == ir.TyArray && to.Kind == ir.TySlice:
		ptr, err := ecx.readPtr(src, srcTy)
		if err != nil {
			return err
		}
		return ecx.writePair(primval.FromPtr(ptr), ecx.usize(from.Len), dest, destTy)

	case from.Kind == ir.TyDynamic && to.Kind == ir.TyDynamic:
		a, b, err := ecx.valueToPair(src, srcTy)
		if err != nil {
			return err
		}
		return ecx.writePair(a, b, dest, destTy)

	case to.Kind == ir.TyDynamic:
		ptr, err := ecx.readPtr(src, srcTy)
		if err != nil {
			return err
		}
		vtable, err := ecx.getVtable(from, to.Trait)
		if err != nil {
			return err
		}
		return ecx.writePair(primval.FromPtr(ptr), primval.FromPtr(vtable), dest, destTy)
	}
	return invalid(ErrInvalidUnsize, "%s to %s", srcTy, destTy)
}

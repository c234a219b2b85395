package interpreter

import (
	"fmt"

	"mire/pkg/ir"
	"mire/pkg/layout"
	"mire/pkg/memory"
	"mire/pkg/primval"
)

type ValueKind uint8

const (
	ValueByRef ValueKind = iota
	ValueByVal
	ValueByValPair
)

// Value is the result of evaluating an operand. Small values are held
// directly; anything else stays in memory and is referenced by address.
type Value struct {
	Kind ValueKind
	Ptr  memory.Pointer  // ByRef
	A    primval.PrimVal // ByVal, ByValPair
	B    primval.PrimVal // ByValPair
}

func ByRef(p memory.Pointer) Value { return Value{Kind: ValueByRef, Ptr: p} }
func ByVal(v primval.PrimVal) Value { return Value{Kind: ValueByVal, A: v} }

// ByValPair is a fat pointer or an (integer, overflowed) pair.
func ByValPair(a, b primval.PrimVal) Value {
	return Value{Kind: ValueByValPair, A: a, B: b}
}

// String renders the value for debug logs.
func (v Value) String() string {
	switch v.Kind {
	case ValueByRef:
		return "ByRef(" + v.Ptr.String() + ")"
	case ValueByVal:
		return "ByVal(" + v.A.String() + ")"
	}
	return fmt.Sprintf("ByValPair(%s, %s)", v.A, v.B)
}

// valueToPrimVal returns the single machine value of v, reading it from
// memory when v is held by reference.
func (ecx *EvalContext) valueToPrimVal(v Value, ty *ir.Ty) (primval.PrimVal, error) {
	switch v.Kind {
	case ValueByRef:
		read, err := ecx.readValue(v.Ptr, ty)
		if err != nil {
			return primval.PrimVal{}, err
		}
		if read.Kind != ValueByVal {
			return primval.PrimVal{}, invalid(ErrInvalidValue, "expected a primitive %s at %s, found %s", ty, v.Ptr, read)
		}
		return read.A, nil
	case ValueByVal:
		return v.A, nil
	}
	return primval.PrimVal{}, invalid(ErrInvalidValue, "expected a primitive %s, found %s", ty, v)
}

// valueToPair returns both words of a fat value.
func (ecx *EvalContext) valueToPair(v Value, ty *ir.Ty) (primval.PrimVal, primval.PrimVal, error) {
	if v.Kind == ValueByRef {
		read, err := ecx.readValue(v.Ptr, ty)
		if err != nil {
			return primval.PrimVal{}, primval.PrimVal{}, err
		}
		v = read
	}
	if v.Kind != ValueByValPair {
		return primval.PrimVal{}, primval.PrimVal{}, invalid(ErrInvalidValue, "expected a fat %s, found %s", ty, v)
	}
	return v.A, v.B, nil
}

// readPtr returns the thin pointer held by v.
func (ecx *EvalContext) readPtr(v Value, ty *ir.Ty) (memory.Pointer, error) {
	if v.Kind == ValueByValPair {
		return v.A.ToPtr()
	}
	pv, err := ecx.valueToPrimVal(v, ty)
	if err != nil {
		return memory.Pointer{}, err
	}
	return pv.ToPtr()
}

func (ecx *EvalContext) usize(n uint64) primval.PrimVal {
	v, _ := primval.FromUint(n, ecx.pointerSize)
	return v
}

func (ecx *EvalContext) isize(n int64) primval.PrimVal {
	v, _ := primval.FromInt(n, ecx.pointerSize)
	return v
}

// primKind maps a scalar type to the kind of its machine value.
func (ecx *EvalContext) primKind(ty *ir.Ty) (primval.Kind, error) {
	switch ty.Kind {
	case ir.TyBool:
		return primval.Bool, nil
	case ir.TyChar:
		return primval.Char, nil
	case ir.TyInt, ir.TyUint:
		size := uint64(ty.Width / 8)
		if ty.Width == 0 {
			size = ecx.pointerSize
		}
		return primval.IntKind(size, ty.Kind == ir.TyInt)
	case ir.TyFloat:
		if ty.Width == 32 {
			return primval.F32, nil
		}
		return primval.F64, nil
	case ir.TyRef, ir.TyRawPtr, ir.TyBox:
		return primval.Ptr, nil
	case ir.TyFnPtr:
		return primval.FnPtr, nil
	}
	return 0, invalid(ErrInvalidValue, "%s is not a primitive type", ty)
}

// readValue loads a value of type ty from ptr. Types without a direct
// machine representation are returned by reference.
func (ecx *EvalContext) readValue(ptr memory.Pointer, ty *ir.Ty) (Value, error) {
	mem := ecx.memory
	switch ty.Kind {
	case ir.TyBool:
		b, err := mem.ReadBool(ptr)
		if err != nil {
			return Value{}, err
		}
		return ByVal(primval.FromBool(b)), nil

	case ir.TyChar:
		c, err := mem.ReadUint(ptr, 4)
		if err != nil {
			return Value{}, err
		}
		v, err := primval.FromChar(c)
		if err != nil {
			return Value{}, err
		}
		return ByVal(v), nil

	case ir.TyInt, ir.TyUint:
		k, err := ecx.primKind(ty)
		if err != nil {
			return Value{}, err
		}
		n, err := mem.ReadUint(ptr, k.Size())
		if err != nil {
			return Value{}, err
		}
		return ByVal(primval.FromBits(k, n)), nil

	case ir.TyFloat:
		if ty.Width == 32 {
			f, err := mem.ReadF32(ptr)
			if err != nil {
				return Value{}, err
			}
			return ByVal(primval.FromF32(f)), nil
		}
		f, err := mem.ReadF64(ptr)
		if err != nil {
			return Value{}, err
		}
		return ByVal(primval.FromF64(f)), nil

	case ir.TyFnDef:
		sig, err := ecx.fnDefSig(ty)
		if err != nil {
			return Value{}, err
		}
		return ByVal(primval.FromFnPtr(mem.CreateFnPtr(ty.Def, ty.Substs, sig))), nil

	case ir.TyFnPtr:
		p, err := mem.ReadPtr(ptr)
		if err != nil {
			return Value{}, err
		}
		return ByVal(primval.FromFnPtr(p)), nil

	case ir.TyRef, ir.TyRawPtr, ir.TyBox:
		p, err := mem.ReadPtr(ptr)
		if err != nil {
			return Value{}, err
		}
		if ecx.layouts.IsSized(ty.Elem) {
			return ByVal(primval.FromPtr(p)), nil
		}
		extra := ptr.Add(ecx.pointerSize)
		switch ecx.unsizedTail(ty.Elem).Kind {
		case ir.TyDynamic:
			vtable, err := mem.ReadPtr(extra)
			if err != nil {
				return Value{}, err
			}
			return ByValPair(primval.FromPtr(p), primval.FromPtr(vtable)), nil
		case ir.TySlice, ir.TyStr:
			n, err := mem.ReadUsize(extra)
			if err != nil {
				return Value{}, err
			}
			return ByValPair(primval.FromPtr(p), ecx.usize(n)), nil
		}
		return Value{}, invalid(ErrInvalidValue, "unsized pointee %s has no metadata", ty.Elem)

	case ir.TyAdt:
		if ty.Adt.IsEnum() {
			v, ok, err := ecx.readCEnum(ptr, ty)
			if err != nil || ok {
				return v, err
			}
		}
	}
	return ByRef(ptr), nil
}

// writeValue stores v at dest using the representation of ty.
func (ecx *EvalContext) writeValue(v Value, dest memory.Pointer, ty *ir.Ty) error {
	switch v.Kind {
	case ValueByRef:
		l, err := ecx.layouts.Layout(ty)
		if err != nil {
			return err
		}
		return ecx.memory.Copy(v.Ptr, dest, l.Size(), l.Align(), false)
	case ValueByVal:
		return ecx.writePrimVal(dest, v.A)
	}
	return ecx.writePair(v.A, v.B, dest, ty)
}

func (ecx *EvalContext) writePrimVal(dest memory.Pointer, v primval.PrimVal) error {
	mem := ecx.memory
	switch {
	case v.Kind == primval.Bool:
		return mem.WriteBool(dest, v.Bits != 0)
	case v.Kind == primval.Ptr, v.Kind == primval.FnPtr:
		return mem.WritePtr(dest, v.Ptr)
	case v.Kind.IsInt(), v.Kind.IsFloat(), v.Kind == primval.Char:
		return mem.WriteUint(dest, v.Bits, v.Kind.Size())
	}
	return invalid(ErrInvalidValue, "cannot store %s", v)
}

func (ecx *EvalContext) writePair(a, b primval.PrimVal, dest memory.Pointer, ty *ir.Ty) error {
	first, second, err := ecx.pairOffsets(ty)
	if err != nil {
		return err
	}
	if err := ecx.writePrimVal(dest.Add(first), a); err != nil {
		return err
	}
	return ecx.writePrimVal(dest.Add(second), b)
}

// pairOffsets returns where the two words of a pair of type ty live.
func (ecx *EvalContext) pairOffsets(ty *ir.Ty) (uint64, uint64, error) {
	l, err := ecx.layouts.Layout(ty)
	if err != nil {
		return 0, 0, err
	}
	switch l := l.(type) {
	case *layout.FatPointer:
		return 0, l.PointerSize, nil
	case *layout.Univariant:
		if len(l.Variant.Offsets) == 2 {
			return l.Variant.Offsets[0], l.Variant.Offsets[1], nil
		}
	}
	return 0, 0, invalid(ErrInvalidValue, "a pair cannot be stored as %s", ty)
}

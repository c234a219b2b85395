package interpreter

import (
	"fmt"

	"mire/pkg/ir"
	"mire/pkg/layout"
	"mire/pkg/memory"
)

type ExtraKind uint8

const (
	ExtraNone ExtraKind = iota
	ExtraLength
	ExtraVtable
	ExtraDowncastVariant
)

// LvalueExtra is the metadata carried next to an address: the length of
// an unsized sequence, the vtable of a trait object, or the enum variant
// the place is currently viewed as.
type LvalueExtra struct {
	Kind    ExtraKind
	Len     uint64
	Vtable  memory.Pointer
	Variant int
}

// Lvalue is a resolved place.
type Lvalue struct {
	Ptr   memory.Pointer
	Extra LvalueExtra
}

func LvalueFromPtr(p memory.Pointer) Lvalue {
	return Lvalue{Ptr: p}
}

func (e LvalueExtra) String() string {
	switch e.Kind {
	case ExtraLength:
		return fmt.Sprintf("len=%d", e.Len)
	case ExtraVtable:
		return "vtable=" + e.Vtable.String()
	case ExtraDowncastVariant:
		return fmt.Sprintf("variant=%d", e.Variant)
	}
	return "none"
}

// ToPtr returns the address of a place without metadata.
func (lv Lvalue) ToPtr() (memory.Pointer, error) {
	if lv.Extra.Kind != ExtraNone {
		return memory.Pointer{}, invalid(ErrUnsizedLvalue, "%s with %s", lv.Ptr, lv.Extra)
	}
	return lv.Ptr, nil
}

// elemTyAndLen returns the element type and length of a sequence place.
func (lv Lvalue) elemTyAndLen(ty *ir.Ty) (*ir.Ty, uint64, error) {
	switch ty.Kind {
	case ir.TyArray:
		return ty.Elem, ty.Len, nil
	case ir.TySlice, ir.TyStr:
		if lv.Extra.Kind != ExtraLength {
			return nil, 0, invalid(ErrUnsizedLvalue, "%s place without a length", ty)
		}
		elem, _ := ty.SequenceElem()
		return elem, lv.Extra.Len, nil
	}
	return nil, 0, invalid(ErrInvalidProgram, "%s is not a sequence", ty)
}

// EvalLvalue resolves place in the current frame.
func (ecx *EvalContext) EvalLvalue(place ir.Lvalue) (Lvalue, *ir.Ty, error) {
	frame, err := ecx.frame()
	if err != nil {
		return Lvalue{}, nil, err
	}

	var lv Lvalue
	var ty *ir.Ty
	if place.IsStatic() {
		item, err := ecx.program.Item(place.Static)
		if err != nil {
			return Lvalue{}, nil, err
		}
		ptr, ok := ecx.globals[globalID{def: place.Static, promoted: -1}]
		if !ok {
			return Lvalue{}, nil, invalid(ErrMissingGlobal, "static %s", place.Static)
		}
		lv, ty = LvalueFromPtr(ptr), item.Ty
	} else {
		if int(place.Local) >= len(frame.Locals) || place.Local < 0 {
			return Lvalue{}, nil, invalid(ErrInvalidProgram, "local _%d out of range in %s", place.Local, frame.Def)
		}
		lv = LvalueFromPtr(frame.Locals[place.Local])
		ty = frame.Body.Locals[place.Local].Ty.Subst(frame.Substs)
	}

	variant := -1
	for _, proj := range place.Projections {
		lv, ty, variant, err = ecx.project(lv, ty, variant, proj)
		if err != nil {
			return Lvalue{}, nil, err
		}
	}
	return lv, ty, nil
}

// LvalueTy computes the type of place without touching memory.
func (ecx *EvalContext) LvalueTy(place ir.Lvalue) (*ir.Ty, error) {
	frame, err := ecx.frame()
	if err != nil {
		return nil, err
	}
	var ty *ir.Ty
	if place.IsStatic() {
		item, err := ecx.program.Item(place.Static)
		if err != nil {
			return nil, err
		}
		ty = item.Ty
	} else {
		decl, err := frame.Body.LocalTy(place.Local)
		if err != nil {
			return nil, err
		}
		ty = decl.Subst(frame.Substs)
	}
	variant := -1
	for _, proj := range place.Projections {
		ty, variant, err = ecx.projectedTy(ty, variant, proj)
		if err != nil {
			return nil, err
		}
	}
	return ty, nil
}

func (ecx *EvalContext) projectedTy(ty *ir.Ty, variant int, proj ir.Projection) (*ir.Ty, int, error) {
	switch proj.Kind {
	case ir.ProjDeref:
		pointee, ok := ty.Pointee()
		if !ok {
			return nil, 0, invalid(ErrInvalidProgram, "dereference of non-pointer %s", ty)
		}
		return pointee, -1, nil
	case ir.ProjField:
		if proj.FieldTy != nil {
			return proj.FieldTy.Subst(ecx.substs()), -1, nil
		}
		fty, err := fieldTy(ty, variant, proj.Field)
		return fty, -1, err
	case ir.ProjIndex, ir.ProjConstantIndex:
		elem, ok := ty.SequenceElem()
		if !ok {
			return nil, 0, invalid(ErrInvalidProgram, "index into non-sequence %s", ty)
		}
		return elem, -1, nil
	case ir.ProjSubslice:
		if ty.Kind == ir.TyArray {
			return ir.ArrayTy(ty.Elem, ty.Len-proj.From-proj.To), -1, nil
		}
		return ty, -1, nil
	case ir.ProjDowncast:
		return ty, proj.Variant, nil
	}
	return nil, 0, invalid(ErrInvalidProgram, "unknown projection %d", proj.Kind)
}

// fieldTy returns the type of field i of ty, looking inside variant for
// enums.
func fieldTy(ty *ir.Ty, variant, i int) (*ir.Ty, error) {
	switch ty.Kind {
	case ir.TyTuple:
		if i < len(ty.Elems) {
			return ty.Elems[i], nil
		}
	case ir.TyAdt:
		v := max(variant, 0)
		if v < len(ty.Adt.Variants) {
			fields := ty.Adt.FieldTys(v, ty.Substs)
			if i < len(fields) {
				return fields[i], nil
			}
		}
	case ir.TyRef, ir.TyRawPtr, ir.TyBox:
		switch i {
		case layout.FatPtrAddr:
			return ir.RawPtrTy(ir.U8, false), nil
		case layout.FatPtrExtra:
			return ir.Usize, nil
		}
	case ir.TyArray:
		if uint64(i) < ty.Len {
			return ty.Elem, nil
		}
	}
	return nil, invalid(ErrInvalidProgram, "%s has no field %d", ty, i)
}

func (ecx *EvalContext) project(base Lvalue, ty *ir.Ty, variant int, proj ir.Projection) (Lvalue, *ir.Ty, int, error) {
	projTy, nextVariant, err := ecx.projectedTy(ty, variant, proj)
	if err != nil {
		return Lvalue{}, nil, 0, err
	}

	switch proj.Kind {
	case ir.ProjField:
		offset, err := ecx.fieldOffset(base, ty, proj.Field)
		if err != nil {
			return Lvalue{}, nil, 0, err
		}
		lv := LvalueFromPtr(base.Ptr.Add(offset))
		if !ecx.layouts.IsSized(projTy) {
			lv.Extra = base.Extra
		}
		return lv, projTy, nextVariant, nil

	case ir.ProjDowncast:
		l, err := ecx.layouts.Layout(ty)
		if err != nil {
			return Lvalue{}, nil, 0, err
		}
		switch l.(type) {
		case *layout.General:
			ptr, err := base.ToPtr()
			if err != nil {
				return Lvalue{}, nil, 0, err
			}
			lv := LvalueFromPtr(ptr)
			lv.Extra = LvalueExtra{Kind: ExtraDowncastVariant, Variant: proj.Variant}
			return lv, projTy, nextVariant, nil
		case *layout.RawNullablePointer, *layout.StructWrappedNullablePointer, *layout.Univariant:
			return base, projTy, nextVariant, nil
		}
		return Lvalue{}, nil, 0, invalid(ErrInvalidProgram, "downcast of %s with layout %T", ty, l)

	case ir.ProjDeref:
		ptr, err := base.ToPtr()
		if err != nil {
			return Lvalue{}, nil, 0, err
		}
		val, err := ecx.readValue(ptr, ty)
		if err != nil {
			return Lvalue{}, nil, 0, err
		}
		switch val.Kind {
		case ValueByVal:
			p, err := val.A.ToPtr()
			if err != nil {
				return Lvalue{}, nil, 0, err
			}
			return LvalueFromPtr(p), projTy, nextVariant, nil
		case ValueByValPair:
			p, err := val.A.ToPtr()
			if err != nil {
				return Lvalue{}, nil, 0, err
			}
			lv := LvalueFromPtr(p)
			if ecx.unsizedTail(projTy).Kind == ir.TyDynamic {
				vtable, err := val.B.ToPtr()
				if err != nil {
					return Lvalue{}, nil, 0, err
				}
				lv.Extra = LvalueExtra{Kind: ExtraVtable, Vtable: vtable}
			} else {
				n, err := val.B.ToUint()
				if err != nil {
					return Lvalue{}, nil, 0, err
				}
				lv.Extra = LvalueExtra{Kind: ExtraLength, Len: n}
			}
			return lv, projTy, nextVariant, nil
		}
		return Lvalue{}, nil, 0, invalid(ErrInvalidValue, "dereference of %s", val)

	case ir.ProjIndex:
		elem, n, err := base.elemTyAndLen(ty)
		if err != nil {
			return Lvalue{}, nil, 0, err
		}
		idxTy, err := ecx.operandTy(proj.Index)
		if err != nil {
			return Lvalue{}, nil, 0, err
		}
		idxVal, err := ecx.evalOperand(proj.Index)
		if err != nil {
			return Lvalue{}, nil, 0, err
		}
		pv, err := ecx.valueToPrimVal(idxVal, idxTy)
		if err != nil {
			return Lvalue{}, nil, 0, err
		}
		idx, err := pv.ToUint()
		if err != nil {
			return Lvalue{}, nil, 0, err
		}
		lv, err := ecx.indexLvalue(base, elem, idx, n)
		return lv, projTy, nextVariant, err

	case ir.ProjConstantIndex:
		elem, n, err := base.elemTyAndLen(ty)
		if err != nil {
			return Lvalue{}, nil, 0, err
		}
		if n < proj.MinLength {
			return Lvalue{}, nil, 0, invalid(ErrIndexOutOfBounds, "length %d is below the minimum %d", n, proj.MinLength)
		}
		idx := proj.Offset
		if proj.FromEnd {
			idx = n - proj.Offset
		}
		lv, err := ecx.indexLvalue(base, elem, idx, n)
		return lv, projTy, nextVariant, err

	case ir.ProjSubslice:
		elem, n, err := base.elemTyAndLen(ty)
		if err != nil {
			return Lvalue{}, nil, 0, err
		}
		if proj.From+proj.To > n {
			return Lvalue{}, nil, 0, invalid(ErrIndexOutOfBounds, "subslice %d..%d-%d of length %d", proj.From, n, proj.To, n)
		}
		size, err := ecx.typeSize(elem)
		if err != nil {
			return Lvalue{}, nil, 0, err
		}
		lv := LvalueFromPtr(base.Ptr.Add(proj.From * size))
		if ty.Kind != ir.TyArray {
			lv.Extra = LvalueExtra{Kind: ExtraLength, Len: n - proj.From - proj.To}
		}
		return lv, projTy, nextVariant, nil
	}
	return Lvalue{}, nil, 0, invalid(ErrInvalidProgram, "unknown projection %d", proj.Kind)
}

// indexLvalue addresses element idx of a sequence of length n.
func (ecx *EvalContext) indexLvalue(base Lvalue, elem *ir.Ty, idx, n uint64) (Lvalue, error) {
	if idx >= n {
		return Lvalue{}, invalid(ErrIndexOutOfBounds, "the len is %d but the index is %d", n, idx)
	}
	size, err := ecx.typeSize(elem)
	if err != nil {
		return Lvalue{}, err
	}
	return LvalueFromPtr(base.Ptr.Add(idx * size)), nil
}

// fieldOffset returns the offset of field i inside a place of type ty,
// following the representation of ty.
func (ecx *EvalContext) fieldOffset(base Lvalue, ty *ir.Ty, i int) (uint64, error) {
	l, err := ecx.layouts.Layout(ty)
	if err != nil {
		return 0, err
	}
	switch l := l.(type) {
	case *layout.Univariant:
		return structFieldOffset(&l.Variant, ty, i)
	case *layout.General:
		if base.Extra.Kind != ExtraDowncastVariant {
			return 0, invalid(ErrInvalidProgram, "field %d of %s accessed without a downcast", i, ty)
		}
		v := base.Extra.Variant
		if v < 0 || v >= len(l.Variants) {
			return 0, invalid(ErrInvalidProgram, "%s has no variant %d", ty, v)
		}
		return structFieldOffset(&l.Variants[v], ty, i+1)
	case *layout.RawNullablePointer:
		if i != 0 {
			return 0, invalid(ErrInvalidProgram, "field %d of the nullable pointer %s", i, ty)
		}
		return 0, nil
	case *layout.StructWrappedNullablePointer:
		return structFieldOffset(&l.NonNull, ty, i)
	case *layout.FatPointer:
		if i > layout.FatPtrExtra {
			return 0, invalid(ErrInvalidProgram, "field %d of fat pointer %s", i, ty)
		}
		return uint64(i) * l.PointerSize, nil
	}
	return 0, unsupported("field access on %s with layout %T", ty, l)
}

func structFieldOffset(st *layout.Struct, ty *ir.Ty, i int) (uint64, error) {
	if i < 0 || i >= len(st.Offsets) {
		return 0, invalid(ErrInvalidProgram, "%s has no field %d", ty, i)
	}
	return st.Offsets[i], nil
}

// fieldOffsetAndTy walks into field i of a sized value of type ty.
func (ecx *EvalContext) fieldOffsetAndTy(ty *ir.Ty, i int) (uint64, *ir.Ty, error) {
	fty, err := fieldTy(ty, -1, i)
	if err != nil {
		return 0, nil, err
	}
	if ty.Kind == ir.TyArray {
		size, err := ecx.typeSize(ty.Elem)
		return uint64(i) * size, fty, err
	}
	offset, err := ecx.fieldOffset(Lvalue{}, ty, i)
	return offset, fty, err
}

// unsizedTail strips structs and tuples down to their last field until an
// unsized type, or a type that is not a record, is reached.
func (ecx *EvalContext) unsizedTail(ty *ir.Ty) *ir.Ty {
	for {
		switch {
		case ty.Kind == ir.TyTuple && len(ty.Elems) > 0:
			ty = ty.Elems[len(ty.Elems)-1]
		case ty.Kind == ir.TyAdt && !ty.Adt.IsEnum() && len(ty.Adt.StructVariant().Fields) > 0:
			fields := ty.Adt.StructVariant().Fields
			ty = fields[len(fields)-1].Ty.Subst(ty.Substs)
		default:
			return ty
		}
	}
}

// lockstepTails strips matching struct wrappers off a and b together.
func lockstepTails(a, b *ir.Ty) (*ir.Ty, *ir.Ty) {
	for {
		switch {
		case a.Kind == ir.TyAdt && b.Kind == ir.TyAdt && a.Adt == b.Adt && !a.Adt.IsEnum():
			fields := a.Adt.StructVariant().Fields
			if len(fields) == 0 {
				return a, b
			}
			last := fields[len(fields)-1].Ty
			a, b = last.Subst(a.Substs), last.Subst(b.Substs)
		case a.Kind == ir.TyTuple && b.Kind == ir.TyTuple && len(a.Elems) == len(b.Elems) && len(a.Elems) > 0:
			a, b = a.Elems[len(a.Elems)-1], b.Elems[len(b.Elems)-1]
		default:
			return a, b
		}
	}
}

package interpreter

import (
	"mire/pkg/ir"
	"mire/pkg/layout"
	"mire/pkg/memory"
	"mire/pkg/primval"
)

// pendingDrop is one step of drop glue: a call of a drop method with a
// pointer to the value, or the release of a box.
type pendingDrop struct {
	def    ir.DefID
	substs ir.Substs
	arg    Value
	free   *memory.Pointer
}

// dropPlace runs the drop glue of the value at lv. Drop methods run in
// field order; a box is released once the drop code for its contents has
// returned.
func (ecx *EvalContext) dropPlace(lv Lvalue, ty *ir.Ty, span ir.Span) error {
	var drops []pendingDrop
	if err := ecx.dropGlue(lv, ty, &drops); err != nil {
		return err
	}
	if len(drops) == 0 {
		return nil
	}

	// frees attach to the closest preceding call
	deallocs := make(map[int][]memory.Pointer)
	last := -1
	for i, d := range drops {
		if d.free == nil {
			last = i
			continue
		}
		if last < 0 {
			if err := ecx.memory.Deallocate(*d.free); err != nil {
				return err
			}
			continue
		}
		deallocs[last] = append(deallocs[last], *d.free)
	}

	for i := len(drops) - 1; i >= 0; i-- {
		d := drops[i]
		if d.free != nil {
			continue
		}
		if err := ecx.pushCall(d.def, d.substs, []Value{d.arg}, nil, span); err != nil {
			return err
		}
		frame, err := ecx.frame()
		if err != nil {
			return err
		}
		// the drop frame returns into the caller's next block
		frame.Locals[ir.ReturnPointer] = memory.ZSTPointer()
		frame.deallocs = deallocs[i]
	}
	return nil
}

// dropGlue appends the drop steps for the value at lv to out.
func (ecx *EvalContext) dropGlue(lv Lvalue, ty *ir.Ty, out *[]pendingDrop) error {
	if !ecx.layouts.NeedsDrop(ty) {
		return nil
	}

	switch ty.Kind {
	case ir.TyAdt:
		if def, substs, ok := ecx.program.DropFn(ty); ok {
			*out = append(*out, pendingDrop{def: def, substs: substs, arg: ecx.placeRef(lv)})
		}
		return ecx.dropFields(lv, ty, out)

	case ir.TyTuple:
		for i, elem := range ty.Elems {
			offset, _, err := ecx.fieldOffsetAndTy(ty, i)
			if err != nil {
				return err
			}
			field := LvalueFromPtr(lv.Ptr.Add(offset))
			if i == len(ty.Elems)-1 && !ecx.layouts.IsSized(elem) {
				field.Extra = lv.Extra
			}
			if err := ecx.dropGlue(field, elem, out); err != nil {
				return err
			}
		}
		return nil

	case ir.TyBox:
		v, err := ecx.readValue(lv.Ptr, ty)
		if err != nil {
			return err
		}
		contents := Lvalue{}
		switch v.Kind {
		case ValueByVal:
			p, err := v.A.ToPtr()
			if err != nil {
				return err
			}
			contents = LvalueFromPtr(p)
		case ValueByValPair:
			p, err := v.A.ToPtr()
			if err != nil {
				return err
			}
			contents = LvalueFromPtr(p)
			if ecx.unsizedTail(ty.Elem).Kind == ir.TyDynamic {
				vtable, err := v.B.ToPtr()
				if err != nil {
					return err
				}
				contents.Extra = LvalueExtra{Kind: ExtraVtable, Vtable: vtable}
			} else {
				n, err := v.B.ToUint()
				if err != nil {
					return err
				}
				contents.Extra = LvalueExtra{Kind: ExtraLength, Len: n}
			}
		default:
			return invalid(ErrInvalidValue, "box %s held as %s", ty, v)
		}
		if err := ecx.dropGlue(contents, ty.Elem, out); err != nil {
			return err
		}
		free := contents.Ptr
		*out = append(*out, pendingDrop{free: &free})
		return nil

	case ir.TyArray, ir.TySlice:
		elem, n, err := lv.elemTyAndLen(ty)
		if err != nil {
			return err
		}
		size, err := ecx.typeSize(elem)
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			if err := ecx.dropGlue(LvalueFromPtr(lv.Ptr.Add(i*size)), elem, out); err != nil {
				return err
			}
		}
		return nil

	case ir.TyDynamic:
		if lv.Extra.Kind != ExtraVtable {
			return invalid(ErrUnsizedLvalue, "trait object without a vtable")
		}
		fnPtr, err := ecx.vtableSlot(lv.Extra.Vtable, vtableDrop)
		if err != nil {
			return err
		}
		if fnPtr.IsNull() {
			return nil
		}
		fn, err := ecx.memory.GetFn(fnPtr.Alloc)
		if err != nil {
			return err
		}
		*out = append(*out, pendingDrop{def: fn.Def, substs: fn.Substs, arg: ByVal(primval.FromPtr(lv.Ptr))})
		return nil
	}
	return nil
}

// dropFields appends the drop steps of the fields of the active variant.
func (ecx *EvalContext) dropFields(lv Lvalue, ty *ir.Ty, out *[]pendingDrop) error {
	variant := 0
	if ty.Adt.IsEnum() {
		discr, err := ecx.readDiscriminantValue(lv.Ptr, ty)
		if err != nil {
			return err
		}
		v, ok := ty.Adt.VariantWithDiscr(discr)
		if !ok {
			return invalid(ErrInvalidDiscriminant, "%d for %s", discr, ty)
		}
		variant = v

		l, err := ecx.layouts.Layout(ty)
		if err != nil {
			return err
		}
		switch l := l.(type) {
		case *layout.General:
			lv = Lvalue{Ptr: lv.Ptr, Extra: LvalueExtra{Kind: ExtraDowncastVariant, Variant: variant}}
		case *layout.RawNullablePointer, *layout.StructWrappedNullablePointer:
			if nndiscr := nonNullDiscr(l); uint64(variant) != nndiscr {
				return nil
			}
		}
	}

	fields := ty.Adt.FieldTys(variant, ty.Substs)
	for i, fty := range fields {
		offset, err := ecx.fieldOffset(lv, ty, i)
		if err != nil {
			return err
		}
		field := LvalueFromPtr(lv.Ptr.Add(offset))
		if i == len(fields)-1 && !ecx.layouts.IsSized(fty) {
			field.Extra = lv.Extra
		}
		if err := ecx.dropGlue(field, fty, out); err != nil {
			return err
		}
	}
	return nil
}

func nonNullDiscr(l layout.Layout) uint64 {
	switch l := l.(type) {
	case *layout.RawNullablePointer:
		return l.NonNullDiscr
	case *layout.StructWrappedNullablePointer:
		return l.NonNullDiscr
	}
	return 0
}

// placeRef is the `&mut` reference to lv passed to a drop method.
func (ecx *EvalContext) placeRef(lv Lvalue) Value {
	switch lv.Extra.Kind {
	case ExtraLength:
		return ByValPair(primval.FromPtr(lv.Ptr), ecx.usize(lv.Extra.Len))
	case ExtraVtable:
		return ByValPair(primval.FromPtr(lv.Ptr), primval.FromPtr(lv.Extra.Vtable))
	}
	return ByVal(primval.FromPtr(lv.Ptr))
}

package interpreter

import (
	"mire/pkg/ir"
	"mire/pkg/memory"
)

// Vtable slots preceding the trait methods.
const (
	vtableDrop = iota
	vtableSize
	vtableAlign
	vtableMethods
)

// getVtable returns the frozen vtable of ty as an implementation of trait:
// [drop, size, align, methods...], one pointer-sized word each.
func (ecx *EvalContext) getVtable(ty *ir.Ty, trait string) (memory.Pointer, error) {
	key := trait + "|" + ty.String()
	if ptr, ok := ecx.vtables[key]; ok {
		return ptr, nil
	}

	def, ok := ecx.program.Traits[trait]
	if !ok {
		return memory.Pointer{}, invalid(ErrInvalidProgram, "unknown trait %s", trait)
	}
	l, err := ecx.layouts.Layout(ty)
	if err != nil {
		return memory.Pointer{}, err
	}

	ps := ecx.pointerSize
	vtable, err := ecx.memory.Allocate(uint64(vtableMethods+len(def.Methods))*ps, ps)
	if err != nil {
		return memory.Pointer{}, err
	}

	drop := memory.IntPointer(0)
	if dropDef, substs, ok := ecx.program.DropFn(ty); ok {
		fn, err := ecx.methodFnPtr(dropDef, substs)
		if err != nil {
			return memory.Pointer{}, err
		}
		drop = fn
	}
	if err := ecx.memory.WritePtr(vtable.Add(vtableDrop*ps), drop); err != nil {
		return memory.Pointer{}, err
	}
	if err := ecx.memory.WriteUsize(vtable.Add(vtableSize*ps), l.Size()); err != nil {
		return memory.Pointer{}, err
	}
	if err := ecx.memory.WriteUsize(vtable.Add(vtableAlign*ps), l.Align()); err != nil {
		return memory.Pointer{}, err
	}

	for i, name := range def.Methods {
		fn := memory.IntPointer(0)
		if mdef, substs, err := ecx.program.ResolveMethod(trait, name, ty, nil); err == nil {
			fn, err = ecx.methodFnPtr(mdef, substs)
			if err != nil {
				return memory.Pointer{}, err
			}
		}
		if err := ecx.memory.WritePtr(vtable.Add(uint64(vtableMethods+i)*ps), fn); err != nil {
			return memory.Pointer{}, err
		}
	}

	if err := ecx.memory.Freeze(vtable.Alloc); err != nil {
		return memory.Pointer{}, err
	}
	ecx.vtables[key] = vtable
	ecx.logger.Debug("vtable", "trait", trait, "ty", ty, "ptr", vtable)
	return vtable, nil
}

func (ecx *EvalContext) methodFnPtr(def ir.DefID, substs ir.Substs) (memory.Pointer, error) {
	sig, err := ecx.program.FnSig(def)
	if err != nil {
		return memory.Pointer{}, err
	}
	return ecx.memory.CreateFnPtr(def, substs, sig.Subst(substs)), nil
}

// vtableSizeAndAlign reads slots 1 and 2 of a vtable.
func (ecx *EvalContext) vtableSizeAndAlign(vtable memory.Pointer) (uint64, uint64, error) {
	size, err := ecx.memory.ReadUsize(vtable.Add(vtableSize * ecx.pointerSize))
	if err != nil {
		return 0, 0, err
	}
	align, err := ecx.memory.ReadUsize(vtable.Add(vtableAlign * ecx.pointerSize))
	if err != nil {
		return 0, 0, err
	}
	return size, align, nil
}

// vtableSlot reads a function pointer out of a vtable.
func (ecx *EvalContext) vtableSlot(vtable memory.Pointer, slot int) (memory.Pointer, error) {
	return ecx.memory.ReadPtr(vtable.Add(uint64(slot) * ecx.pointerSize))
}

package interpreter

import (
	"mire/pkg/ir"
	"mire/pkg/memory"
	"mire/pkg/primval"
)

// evalTerminator executes the terminator of the current block.
func (ecx *EvalContext) evalTerminator(term *ir.Terminator) error {
	switch t := term.Kind.(type) {
	case ir.Goto:
		ecx.gotoBlock(t.Target)
		return nil

	case ir.If:
		pv, _, err := ecx.evalOperandToPrimVal(t.Cond)
		if err != nil {
			return err
		}
		cond, err := pv.ToBool()
		if err != nil {
			return err
		}
		if cond {
			ecx.gotoBlock(t.Then)
		} else {
			ecx.gotoBlock(t.Else)
		}
		return nil

	case ir.SwitchInt:
		return ecx.evalSwitchInt(t)

	case ir.Switch:
		lv, ty, err := ecx.EvalLvalue(t.Discr)
		if err != nil {
			return err
		}
		ptr, err := lv.ToPtr()
		if err != nil {
			return err
		}
		if ty.Kind != ir.TyAdt {
			return invalid(ErrInvalidProgram, "switch on non-enum %s", ty)
		}
		discr, err := ecx.readDiscriminantValue(ptr, ty)
		if err != nil {
			return err
		}
		variant, ok := ty.Adt.VariantWithDiscr(discr)
		if !ok || variant >= len(t.Targets) {
			return invalid(ErrInvalidDiscriminant, "%d for %s", discr, ty)
		}
		ecx.gotoBlock(t.Targets[variant])
		return nil

	case ir.Return:
		return ecx.PopStackFrame()

	case ir.Unreachable:
		return invalid(ErrUnreachable, "")

	case ir.Resume:
		return evalErr(KindUnsupportedOperation, ErrUnwinding, "")

	case ir.Drop:
		lv, ty, err := ecx.EvalLvalue(t.Place)
		if err != nil {
			return err
		}
		ecx.gotoBlock(t.Target)
		return ecx.dropPlace(lv, ty, term.Span)

	case ir.Assert:
		pv, _, err := ecx.evalOperandToPrimVal(t.Cond)
		if err != nil {
			return err
		}
		cond, err := pv.ToBool()
		if err != nil {
			return err
		}
		if cond == t.Expected {
			ecx.gotoBlock(t.Target)
			return nil
		}
		if t.Msg.Kind == ir.AssertBoundsCheck {
			n, err := ecx.evalOperandToUint(t.Msg.Len)
			if err != nil {
				return err
			}
			idx, err := ecx.evalOperandToUint(t.Msg.Index)
			if err != nil {
				return err
			}
			return invalid(ErrArrayIndexOutOfBounds, "the len is %d but the index is %d", n, idx)
		}
		return invalid(ErrMath, "%s", t.Msg.Text)

	case ir.Call:
		return ecx.evalCall(t, term.Span)
	}
	return invalid(ErrInvalidProgram, "unknown terminator %T", term.Kind)
}

func (ecx *EvalContext) evalOperandToUint(op ir.Operand) (uint64, error) {
	pv, _, err := ecx.evalOperandToPrimVal(op)
	if err != nil {
		return 0, err
	}
	return pv.ToUint()
}

func (ecx *EvalContext) evalSwitchInt(t ir.SwitchInt) error {
	if len(t.Targets) != len(t.Values)+1 {
		return invalid(ErrInvalidProgram, "switchInt with %d values and %d targets", len(t.Values), len(t.Targets))
	}
	lv, ty, err := ecx.EvalLvalue(t.Discr)
	if err != nil {
		return err
	}
	ptr, err := lv.ToPtr()
	if err != nil {
		return err
	}
	v, err := ecx.readValue(ptr, ty)
	if err != nil {
		return err
	}
	discr, err := ecx.valueToPrimVal(v, ty)
	if err != nil {
		return err
	}

	switchTy := ty
	if t.SwitchTy != nil {
		switchTy = t.SwitchTy.Subst(ecx.substs())
	}
	for i, cv := range t.Values {
		c, err := ecx.constValue(cv, switchTy)
		if err != nil {
			return err
		}
		eq, _, err := primval.BinaryOp(ir.Eq, discr, c.A)
		if err != nil {
			return err
		}
		if eq.Bits != 0 {
			ecx.gotoBlock(t.Targets[i])
			return nil
		}
	}
	ecx.gotoBlock(t.Targets[len(t.Values)])
	return nil
}

func (ecx *EvalContext) evalCall(t ir.Call, span ir.Span) error {
	funcTy, err := ecx.operandTy(t.Func)
	if err != nil {
		return err
	}

	var (
		def    ir.DefID
		substs ir.Substs
		sig    *ir.FnSig
	)
	switch funcTy.Kind {
	case ir.TyFnDef:
		def, substs = funcTy.Def, funcTy.Substs
		if sig, err = ecx.fnDefSig(funcTy); err != nil {
			return err
		}
	case ir.TyFnPtr:
		pv, _, err := ecx.evalOperandToPrimVal(t.Func)
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
		if fn.Sig.String() != funcTy.Sig.String() {
			return invalid(ErrFunctionPointerTyMismatch, "%s called as %s", fn.Sig, funcTy.Sig)
		}
		def, substs, sig = fn.Def, fn.Substs, fn.Sig
	default:
		return invalid(ErrInvalidProgram, "call of non-function %s", funcTy)
	}

	switch sig.Abi {
	case ir.AbiRustIntrinsic:
		if t.Destination == nil {
			return unsupported("diverging intrinsic %s", def.Name())
		}
		dest, destTy, err := ecx.destination(t.Destination)
		if err != nil {
			return err
		}
		if err := ecx.callIntrinsic(def.Name(), substs, t.Args, dest, destTy); err != nil {
			return err
		}
		ecx.gotoBlock(t.Destination.Target)
		return nil

	case ir.AbiC:
		var dest memory.Pointer
		var destTy *ir.Ty
		if t.Destination != nil {
			if dest, destTy, err = ecx.destination(t.Destination); err != nil {
				return err
			}
		}
		if err := ecx.callCFunction(def.Name(), t.Args, dest, destTy); err != nil {
			return err
		}
		if t.Destination == nil {
			return unsupported("C function %s diverged", def.Name())
		}
		ecx.gotoBlock(t.Destination.Target)
		return nil
	}

	args, argTys, err := ecx.evalArgs(t.Args)
	if err != nil {
		return err
	}

	if trait, method, ok := ecx.program.TraitOf(def); ok {
		def, substs, err = ecx.resolveTraitCall(trait, method, substs, args, argTys)
		if err != nil {
			return err
		}
	}

	if sig.Abi == ir.AbiRustCall && len(args) > 0 {
		if args, argTys, err = ecx.untuple(args, argTys); err != nil {
			return err
		}
	}

	return ecx.pushCall(def, substs, args, t.Destination, span)
}

// destination resolves the place a call writes its result to.
func (ecx *EvalContext) destination(d *ir.Destination) (memory.Pointer, *ir.Ty, error) {
	lv, ty, err := ecx.EvalLvalue(d.Place)
	if err != nil {
		return memory.Pointer{}, nil, err
	}
	ptr, err := lv.ToPtr()
	return ptr, ty, err
}

func (ecx *EvalContext) evalArgs(ops []ir.Operand) ([]Value, []*ir.Ty, error) {
	args := make([]Value, len(ops))
	tys := make([]*ir.Ty, len(ops))
	for i, op := range ops {
		ty, err := ecx.operandTy(op)
		if err != nil {
			return nil, nil, err
		}
		v, err := ecx.evalOperand(op)
		if err != nil {
			return nil, nil, err
		}
		args[i], tys[i] = v, ty
	}
	return args, tys, nil
}

// resolveTraitCall picks the body a trait method call runs. Calls on a
// trait object go through its vtable, and the receiver is replaced by the
// object's data pointer.
func (ecx *EvalContext) resolveTraitCall(trait, method string, substs ir.Substs, args []Value, argTys []*ir.Ty) (ir.DefID, ir.Substs, error) {
	self, err := substs.TypeAt(0)
	if err != nil {
		return "", nil, invalid(ErrInvalidProgram, "trait method %s::%s without Self: %v", trait, method, err)
	}

	if self.Kind != ir.TyDynamic {
		def, resolved, err := ecx.program.ResolveMethod(trait, method, self, substs[1:])
		if err != nil {
			return "", nil, invalid(ErrInvalidProgram, "%v", err)
		}
		return def, resolved, nil
	}

	if len(args) == 0 {
		return "", nil, invalid(ErrInvalidProgram, "virtual call of %s::%s without a receiver", trait, method)
	}
	tdef, ok := ecx.program.Traits[self.Trait]
	if !ok {
		return "", nil, invalid(ErrInvalidProgram, "unknown trait %s", self.Trait)
	}
	idx, ok := tdef.MethodIndex(method)
	if !ok {
		return "", nil, invalid(ErrInvalidProgram, "trait %s has no method %s", self.Trait, method)
	}
	data, vtable, err := ecx.valueToPair(args[0], argTys[0])
	if err != nil {
		return "", nil, err
	}
	vptr, err := vtable.ToPtr()
	if err != nil {
		return "", nil, err
	}
	fnPtr, err := ecx.vtableSlot(vptr, vtableMethods+idx)
	if err != nil {
		return "", nil, err
	}
	if fnPtr.IsNull() {
		return "", nil, invalid(ErrInvalidProgram, "%s::%s is not implemented", self.Trait, method)
	}
	fn, err := ecx.memory.GetFn(fnPtr.Alloc)
	if err != nil {
		return "", nil, err
	}
	args[0] = ByVal(data)
	argTys[0] = ir.RawPtrTy(ir.U8, true)
	return fn.Def, fn.Substs, nil
}

// untuple spreads the trailing tuple argument of a rust-call call into
// separate arguments.
func (ecx *EvalContext) untuple(args []Value, argTys []*ir.Ty) ([]Value, []*ir.Ty, error) {
	n := len(args) - 1
	last, lastTy := args[n], argTys[n]
	if lastTy.Kind != ir.TyTuple {
		return args, argTys, nil
	}
	if len(lastTy.Elems) > 0 && last.Kind != ValueByRef {
		return nil, nil, invalid(ErrInvalidValue, "rust-call tuple argument %s", last)
	}

	outArgs := append([]Value(nil), args[:n]...)
	outTys := append([]*ir.Ty(nil), argTys[:n]...)
	for i, elem := range lastTy.Elems {
		offset, _, err := ecx.fieldOffsetAndTy(lastTy, i)
		if err != nil {
			return nil, nil, err
		}
		v, err := ecx.readValue(last.Ptr.Add(offset), elem)
		if err != nil {
			return nil, nil, err
		}
		outArgs = append(outArgs, v)
		outTys = append(outTys, elem)
	}
	return outArgs, outTys, nil
}

// pushCall pushes the frame of def and moves args into its locals. A nil
// destination marks a call that never returns.
func (ecx *EvalContext) pushCall(def ir.DefID, substs ir.Substs, args []Value, dest *ir.Destination, span ir.Span) error {
	item, err := ecx.program.Item(def)
	if err != nil {
		return err
	}
	body := item.Body
	if body == nil {
		return evalErr(KindUnsupportedOperation, ErrNoBody, "%s", def)
	}
	if len(args) > len(body.Locals)-1 {
		return invalid(ErrInvalidProgram, "%s takes %d locals, called with %d arguments", def, len(body.Locals)-1, len(args))
	}

	retPtr := memory.IntPointer(0)
	cleanup := StackPopCleanup{Kind: CleanupNone}
	if dest != nil {
		if retPtr, _, err = ecx.destination(dest); err != nil {
			return err
		}
		cleanup = StackPopCleanup{Kind: CleanupGoto, Block: dest.Target}
	}

	if err := ecx.PushStackFrame(def, span, body, substs, retPtr, cleanup); err != nil {
		return err
	}
	frame, err := ecx.frame()
	if err != nil {
		return err
	}
	for i, arg := range args {
		local := ir.Local(i + 1)
		ty := body.Locals[local].Ty.Subst(substs)
		if err := ecx.writeValue(arg, frame.Locals[local], ty); err != nil {
			return err
		}
	}
	return nil
}

package interpreter

import (
	"bytes"
	"fmt"
	"math"
	"math/bits"

	"github.com/zeebo/xxh3"

	"mire/pkg/ir"
	"mire/pkg/layout"
	"mire/pkg/memory"
	"mire/pkg/primval"
)

// intrinsicCall is one invocation of a compiler intrinsic.
type intrinsicCall struct {
	name   string
	substs ir.Substs
	args   []Value
	tys    []*ir.Ty
	dest   memory.Pointer
	destTy *ir.Ty
}

type intrinsicFunc func(ecx *EvalContext, c *intrinsicCall) error

var intrinsics map[string]intrinsicFunc

func init() {
	intrinsics = map[string]intrinsicFunc{
		"add_with_overflow": overflowOp(ir.Add, true),
		"sub_with_overflow": overflowOp(ir.Sub, true),
		"mul_with_overflow": overflowOp(ir.Mul, true),
		"overflowing_add":   overflowOp(ir.Add, false),
		"overflowing_sub":   overflowOp(ir.Sub, false),
		"overflowing_mul":   overflowOp(ir.Mul, false),

		"arith_offset": offsetIntrinsic(false),
		"offset":       offsetIntrinsic(true),

		"assume":     assumeIntrinsic,
		"breakpoint": breakpointIntrinsic,

		"copy":                copyIntrinsic(false),
		"copy_nonoverlapping": copyIntrinsic(true),

		"ctpop": bitIntrinsic(func(x uint64, width int) uint64 { return uint64(bits.OnesCount64(x)) }),
		"cttz": bitIntrinsic(func(x uint64, width int) uint64 {
			if x == 0 {
				return uint64(width)
			}
			return uint64(bits.TrailingZeros64(x))
		}),
		"ctlz": bitIntrinsic(func(x uint64, width int) uint64 {
			return uint64(bits.LeadingZeros64(x) - (64 - width))
		}),
		"bswap": bitIntrinsic(func(x uint64, width int) uint64 {
			return bits.ReverseBytes64(x) >> (64 - width)
		}),

		"discriminant_value": discriminantIntrinsic,

		"fabsf32":   floatIntrinsic(math.Abs),
		"fabsf64":   floatIntrinsic(math.Abs),
		"sqrtf32":   floatIntrinsic(math.Sqrt),
		"sqrtf64":   floatIntrinsic(math.Sqrt),
		"powif32":   powiIntrinsic,
		"powif64":   powiIntrinsic,
		"fadd_fast": binaryIntrinsic(ir.Add),
		"fsub_fast": binaryIntrinsic(ir.Sub),
		"fmul_fast": binaryIntrinsic(ir.Mul),
		"fdiv_fast": binaryIntrinsic(ir.Div),
		"frem_fast": binaryIntrinsic(ir.Rem),

		"exact_div":     binaryIntrinsic(ir.Div),
		"unchecked_div": binaryIntrinsic(ir.Div),
		"unchecked_rem": binaryIntrinsic(ir.Rem),

		"likely":   passThroughIntrinsic,
		"unlikely": passThroughIntrinsic,
		"forget":   func(*EvalContext, *intrinsicCall) error { return nil },

		"init":   initIntrinsic,
		"uninit": uninitIntrinsic,

		"min_align_of":     alignOfIntrinsic,
		"pref_align_of":    alignOfIntrinsic,
		"size_of":          sizeOfIntrinsic,
		"min_align_of_val": ofValIntrinsic(false),
		"size_of_val":      ofValIntrinsic(true),
		"needs_drop":       needsDropIntrinsic,
		"type_name":        typeNameIntrinsic,
		"type_id":          typeIDIntrinsic,

		"move_val_init":  storeIntrinsic,
		"volatile_store": storeIntrinsic,
		"volatile_load":  loadIntrinsic,
		"transmute":      transmuteIntrinsic,
		"write_bytes":    writeBytesIntrinsic,
	}
}

// callIntrinsic evaluates the intrinsic name and writes its result to dest.
func (ecx *EvalContext) callIntrinsic(name string, substs ir.Substs, ops []ir.Operand, dest memory.Pointer, destTy *ir.Ty) error {
	fn, ok := intrinsics[name]
	if !ok {
		return evalErr(KindUnsupportedOperation, ErrUnimplementedIntrinsic, "%s", name)
	}
	args, tys, err := ecx.evalArgs(ops)
	if err != nil {
		return err
	}
	ecx.logger.Debug("intrinsic", "name", name, "substs", substs)
	return fn(ecx, &intrinsicCall{name: name, substs: substs, args: args, tys: tys, dest: dest, destTy: destTy})
}

func (c *intrinsicCall) arg(ecx *EvalContext, i int) (primval.PrimVal, error) {
	if i >= len(c.args) {
		return primval.PrimVal{}, invalid(ErrInvalidProgram, "%s expects at least %d arguments, got %d", c.name, i+1, len(c.args))
	}
	return ecx.valueToPrimVal(c.args[i], c.tys[i])
}

func (c *intrinsicCall) ptrArg(ecx *EvalContext, i int) (memory.Pointer, error) {
	pv, err := c.arg(ecx, i)
	if err != nil {
		return memory.Pointer{}, err
	}
	return pv.ToPtr()
}

func (c *intrinsicCall) uintArg(ecx *EvalContext, i int) (uint64, error) {
	pv, err := c.arg(ecx, i)
	if err != nil {
		return 0, err
	}
	return pv.ToUint()
}

// typeArg returns the i-th generic argument of the call.
func (c *intrinsicCall) typeArg(i int) (*ir.Ty, error) {
	ty, err := c.substs.TypeAt(i)
	if err != nil {
		return nil, invalid(ErrInvalidProgram, "%s: %v", c.name, err)
	}
	return ty, nil
}

func overflowOp(op ir.BinOp, pair bool) intrinsicFunc {
	return func(ecx *EvalContext, c *intrinsicCall) error {
		l, err := c.arg(ecx, 0)
		if err != nil {
			return err
		}
		r, err := c.arg(ecx, 1)
		if err != nil {
			return err
		}
		res, overflowed, err := primval.BinaryOp(op, l, r)
		if err != nil {
			return err
		}
		if pair {
			return ecx.writeOverflowPair(res, overflowed, c.dest, c.destTy)
		}
		return ecx.writePrimVal(c.dest, res)
	}
}

func binaryIntrinsic(op ir.BinOp) intrinsicFunc {
	return func(ecx *EvalContext, c *intrinsicCall) error {
		l, err := c.arg(ecx, 0)
		if err != nil {
			return err
		}
		r, err := c.arg(ecx, 1)
		if err != nil {
			return err
		}
		res, _, err := primval.BinaryOp(op, l, r)
		if err != nil {
			return err
		}
		return ecx.writePrimVal(c.dest, res)
	}
}

// offsetIntrinsic moves a pointer by a count of elements. The checked form
// must stay within the pointer's allocation, one past the end included.
func offsetIntrinsic(checked bool) intrinsicFunc {
	return func(ecx *EvalContext, c *intrinsicCall) error {
		ptr, err := c.ptrArg(ecx, 0)
		if err != nil {
			return err
		}
		pv, err := c.arg(ecx, 1)
		if err != nil {
			return err
		}
		n, err := pv.ToInt()
		if err != nil {
			return err
		}
		ty, err := c.typeArg(0)
		if err != nil {
			return err
		}
		size, err := ecx.typeSize(ty)
		if err != nil {
			return err
		}
		res := ptr.SignedAdd(n * int64(size))
		if checked && !ptr.IsInt() {
			a, err := ecx.memory.Get(ptr.Alloc)
			if err != nil {
				return err
			}
			if res.Offset > uint64(len(a.Bytes)) {
				return fmt.Errorf("%w: %s offset by %d elements of %s", memory.ErrPointerOutOfBounds, ptr, n, ty)
			}
		}
		return ecx.memory.WritePtr(c.dest, res)
	}
}

func assumeIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	pv, err := c.arg(ecx, 0)
	if err != nil {
		return err
	}
	ok, err := pv.ToBool()
	if err != nil {
		return err
	}
	if !ok {
		return invalid(ErrAssumptionNotHeld, "")
	}
	return nil
}

func breakpointIntrinsic(*EvalContext, *intrinsicCall) error {
	return unsupported("breakpoint")
}

func copyIntrinsic(nonoverlapping bool) intrinsicFunc {
	return func(ecx *EvalContext, c *intrinsicCall) error {
		ty, err := c.typeArg(0)
		if err != nil {
			return err
		}
		l, err := ecx.layouts.Layout(ty)
		if err != nil {
			return err
		}
		src, err := c.ptrArg(ecx, 0)
		if err != nil {
			return err
		}
		dest, err := c.ptrArg(ecx, 1)
		if err != nil {
			return err
		}
		count, err := c.uintArg(ecx, 2)
		if err != nil {
			return err
		}
		return ecx.memory.Copy(src, dest, count*l.Size(), l.Align(), nonoverlapping)
	}
}

// bitIntrinsic applies f to the bits of an integer at its own width.
func bitIntrinsic(f func(x uint64, width int) uint64) intrinsicFunc {
	return func(ecx *EvalContext, c *intrinsicCall) error {
		pv, err := c.arg(ecx, 0)
		if err != nil {
			return err
		}
		if !pv.Kind.IsInt() {
			return invalid(ErrInvalidProgram, "%s of %s", c.name, pv.Kind)
		}
		width := int(pv.Kind.Size() * 8)
		x := pv.Bits
		if width < 64 {
			x &= 1<<width - 1
		}
		return ecx.writePrimVal(c.dest, primval.FromBits(pv.Kind, f(x, width)))
	}
}

func discriminantIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	ty, err := c.typeArg(0)
	if err != nil {
		return err
	}
	ptr, err := c.ptrArg(ecx, 0)
	if err != nil {
		return err
	}
	discr, err := ecx.readDiscriminantValue(ptr, ty)
	if err != nil {
		return err
	}
	return ecx.memory.WriteUint(c.dest, discr, 8)
}

func floatIntrinsic(f func(float64) float64) intrinsicFunc {
	return func(ecx *EvalContext, c *intrinsicCall) error {
		pv, err := c.arg(ecx, 0)
		if err != nil {
			return err
		}
		switch pv.Kind {
		case primval.F32:
			x, _ := pv.ToF32()
			return ecx.writePrimVal(c.dest, primval.FromF32(float32(f(float64(x)))))
		case primval.F64:
			x, _ := pv.ToF64()
			return ecx.writePrimVal(c.dest, primval.FromF64(f(x)))
		}
		return invalid(ErrInvalidProgram, "%s of %s", c.name, pv.Kind)
	}
}

func powiIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	pv, err := c.arg(ecx, 0)
	if err != nil {
		return err
	}
	ev, err := c.arg(ecx, 1)
	if err != nil {
		return err
	}
	e, err := ev.ToInt()
	if err != nil {
		return err
	}
	switch pv.Kind {
	case primval.F32:
		x, _ := pv.ToF32()
		return ecx.writePrimVal(c.dest, primval.FromF32(float32(math.Pow(float64(x), float64(int32(e))))))
	case primval.F64:
		x, _ := pv.ToF64()
		return ecx.writePrimVal(c.dest, primval.FromF64(math.Pow(x, float64(int32(e)))))
	}
	return invalid(ErrInvalidProgram, "%s of %s", c.name, pv.Kind)
}

func passThroughIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	pv, err := c.arg(ecx, 0)
	if err != nil {
		return err
	}
	return ecx.writePrimVal(c.dest, pv)
}

func initIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	size, err := ecx.typeSize(c.destTy)
	if err != nil {
		return err
	}
	return ecx.memory.WriteRepeat(c.dest, 0, size)
}

func uninitIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	size, err := ecx.typeSize(c.destTy)
	if err != nil {
		return err
	}
	return ecx.memory.MarkDefinedness(c.dest, size, false)
}

func sizeOfIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	ty, err := c.typeArg(0)
	if err != nil {
		return err
	}
	size, err := ecx.typeSize(ty)
	if err != nil {
		return err
	}
	return ecx.memory.WriteUsize(c.dest, size)
}

func alignOfIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	ty, err := c.typeArg(0)
	if err != nil {
		return err
	}
	align, err := ecx.typeAlign(ty)
	if err != nil {
		return err
	}
	return ecx.memory.WriteUsize(c.dest, align)
}

// ofValIntrinsic implements size_of_val and min_align_of_val, which also
// accept references to unsized values.
func ofValIntrinsic(wantSize bool) intrinsicFunc {
	return func(ecx *EvalContext, c *intrinsicCall) error {
		ty, err := c.typeArg(0)
		if err != nil {
			return err
		}
		if len(c.args) == 0 {
			return invalid(ErrInvalidProgram, "%s without an argument", c.name)
		}
		size, align, err := ecx.sizeAndAlignOfDst(ty, c.args[0], c.tys[0])
		if err != nil {
			return err
		}
		if wantSize {
			return ecx.memory.WriteUsize(c.dest, size)
		}
		return ecx.memory.WriteUsize(c.dest, align)
	}
}

// sizeAndAlignOfDst computes the dynamic size and alignment of the value a
// (possibly fat) reference ref of type refTy points to.
func (ecx *EvalContext) sizeAndAlignOfDst(ty *ir.Ty, ref Value, refTy *ir.Ty) (uint64, uint64, error) {
	if ecx.layouts.IsSized(ty) {
		l, err := ecx.layouts.Layout(ty)
		if err != nil {
			return 0, 0, err
		}
		return l.Size(), l.Align(), nil
	}

	_, extra, err := ecx.valueToPair(ref, refTy)
	if err != nil {
		return 0, 0, err
	}

	switch ty.Kind {
	case ir.TyAdt, ir.TyTuple:
		l, err := ecx.layouts.Layout(ty)
		if err != nil {
			return 0, 0, err
		}
		u, ok := l.(*layout.Univariant)
		if !ok || len(u.Variant.Offsets) == 0 {
			return 0, 0, unsupported("dynamic size of %s with layout %T", ty, l)
		}
		n := len(u.Variant.Offsets) - 1
		_, tailTy, err := ecx.fieldOffsetAndTy(ty, n)
		if err != nil {
			return 0, 0, err
		}
		tailSize, tailAlign, err := ecx.sizeAndAlignOfDst(tailTy, ref, refTy)
		if err != nil {
			return 0, 0, err
		}
		align := max(u.Variant.Alignment, tailAlign)
		size := u.Variant.Offsets[n] + tailSize
		return (size + align - 1) &^ (align - 1), align, nil

	case ir.TyDynamic:
		vtable, err := extra.ToPtr()
		if err != nil {
			return 0, 0, err
		}
		return ecx.vtableSizeAndAlign(vtable)

	case ir.TySlice, ir.TyStr:
		elem, _ := ty.SequenceElem()
		l, err := ecx.layouts.Layout(elem)
		if err != nil {
			return 0, 0, err
		}
		n, err := extra.ToUint()
		if err != nil {
			return 0, 0, err
		}
		return n * l.Size(), l.Align(), nil
	}
	return 0, 0, unsupported("dynamic size of %s", ty)
}

func needsDropIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	ty, err := c.typeArg(0)
	if err != nil {
		return err
	}
	return ecx.memory.WriteBool(c.dest, ecx.layouts.NeedsDrop(ty))
}

func typeNameIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	ty, err := c.typeArg(0)
	if err != nil {
		return err
	}
	name := ty.String()
	ptr, err := ecx.frozenBytes(name)
	if err != nil {
		return err
	}
	return ecx.writePair(primval.FromPtr(ptr), ecx.usize(uint64(len(name))), c.dest, c.destTy)
}

func typeIDIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	ty, err := c.typeArg(0)
	if err != nil {
		return err
	}
	return ecx.memory.WriteUint(c.dest, xxh3.HashString(ty.String()), 8)
}

// storeIntrinsic writes args[1] through the pointer args[0].
func storeIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	ty, err := c.typeArg(0)
	if err != nil {
		return err
	}
	ptr, err := c.ptrArg(ecx, 0)
	if err != nil {
		return err
	}
	if len(c.args) < 2 {
		return invalid(ErrInvalidProgram, "%s without a value", c.name)
	}
	return ecx.writeValue(c.args[1], ptr, ty)
}

func loadIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	ty, err := c.typeArg(0)
	if err != nil {
		return err
	}
	ptr, err := c.ptrArg(ecx, 0)
	if err != nil {
		return err
	}
	v, err := ecx.readValue(ptr, ty)
	if err != nil {
		return err
	}
	return ecx.writeValue(v, c.dest, c.destTy)
}

func transmuteIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	if len(c.args) == 0 {
		return invalid(ErrInvalidProgram, "transmute without an argument")
	}
	return ecx.writeValue(c.args[0], c.dest, c.destTy)
}

func writeBytesIntrinsic(ecx *EvalContext, c *intrinsicCall) error {
	ty, err := c.typeArg(0)
	if err != nil {
		return err
	}
	size, err := ecx.typeSize(ty)
	if err != nil {
		return err
	}
	ptr, err := c.ptrArg(ecx, 0)
	if err != nil {
		return err
	}
	val, err := c.uintArg(ecx, 1)
	if err != nil {
		return err
	}
	count, err := c.uintArg(ecx, 2)
	if err != nil {
		return err
	}
	return ecx.memory.WriteRepeat(ptr, byte(val), count*size)
}

// callCFunction models the few C functions programs reach through the
// allocator shims and slice comparison.
func (ecx *EvalContext) callCFunction(name string, ops []ir.Operand, dest memory.Pointer, destTy *ir.Ty) error {
	args, tys, err := ecx.evalArgs(ops)
	if err != nil {
		return err
	}
	c := &intrinsicCall{name: name, args: args, tys: tys, dest: dest, destTy: destTy}

	switch name {
	case "__rust_allocate":
		size, err := c.uintArg(ecx, 0)
		if err != nil {
			return err
		}
		align, err := c.uintArg(ecx, 1)
		if err != nil {
			return err
		}
		ptr, err := ecx.memory.Allocate(size, align)
		if err != nil {
			return err
		}
		return ecx.memory.WritePtr(dest, ptr)

	case "__rust_deallocate":
		ptr, err := c.ptrArg(ecx, 0)
		if err != nil {
			return err
		}
		return ecx.memory.Deallocate(ptr)

	case "__rust_reallocate":
		ptr, err := c.ptrArg(ecx, 0)
		if err != nil {
			return err
		}
		size, err := c.uintArg(ecx, 2)
		if err != nil {
			return err
		}
		align, err := c.uintArg(ecx, 3)
		if err != nil {
			return err
		}
		moved, err := ecx.memory.Reallocate(ptr, size, align)
		if err != nil {
			return err
		}
		return ecx.memory.WritePtr(dest, moved)

	case "memcmp":
		left, err := c.ptrArg(ecx, 0)
		if err != nil {
			return err
		}
		right, err := c.ptrArg(ecx, 1)
		if err != nil {
			return err
		}
		n, err := c.uintArg(ecx, 2)
		if err != nil {
			return err
		}
		lb, err := ecx.memory.ReadBytes(left, n)
		if err != nil {
			return err
		}
		rb, err := ecx.memory.ReadBytes(right, n)
		if err != nil {
			return err
		}
		return ecx.memory.WriteInt(dest, int64(bytes.Compare(lb, rb)), 4)
	}
	return unsupported("can't call C ABI function: %s", name)
}

package layout

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"mire/pkg/ir"
)

var (
	ErrGenericType     = errors.New("layout of a type with unresolved generic parameters")
	ErrInfiniteSize    = errors.New("recursive type has infinite size")
	ErrInvalidRepr     = errors.New("invalid enum representation")
	ErrDiscrOutOfRange = errors.New("enum discriminant does not fit its representation")
)

// Computer derives layouts with the classic sequential struct rules and
// the nullable-pointer enum optimization. Results are cached per type.
type Computer struct {
	prog        *ir.Program
	pointerSize uint64
	cache       map[string]Layout
	inProgress  map[string]bool
}

var _ Oracle = (*Computer)(nil)

func New(prog *ir.Program, pointerSize uint64) *Computer {
	return &Computer{
		prog:        prog,
		pointerSize: pointerSize,
		cache:       make(map[string]Layout),
		inProgress:  make(map[string]bool),
	}
}

func (c *Computer) PointerSize() uint64 {
	return c.pointerSize
}

// Layout returns the layout of a fully monomorphized type.
func (c *Computer) Layout(ty *ir.Ty) (Layout, error) {
	if ty.HasParams() {
		return nil, fmt.Errorf("%w: %s", ErrGenericType, ty)
	}
	key := ty.String()
	if l, ok := c.cache[key]; ok {
		return l, nil
	}
	if c.inProgress[key] {
		return nil, fmt.Errorf("%w: %s", ErrInfiniteSize, ty)
	}
	c.inProgress[key] = true
	defer delete(c.inProgress, key)

	l, err := c.compute(ty)
	if err != nil {
		return nil, err
	}
	c.cache[key] = l
	return l, nil
}

func (c *Computer) compute(ty *ir.Ty) (Layout, error) {
	switch ty.Kind {
	case ir.TyBool:
		return &Scalar{Bytes: 1}, nil
	case ir.TyChar:
		return &Scalar{Bytes: 4}, nil
	case ir.TyInt, ir.TyUint, ir.TyFloat:
		if ty.Width == 0 {
			return &Scalar{Bytes: c.pointerSize}, nil
		}
		return &Scalar{Bytes: uint64(ty.Width / 8)}, nil
	case ir.TyRef, ir.TyRawPtr, ir.TyBox:
		nonNull := ty.Kind != ir.TyRawPtr
		if c.IsSized(ty.Elem) {
			return &Scalar{Bytes: c.pointerSize, NonNull: nonNull}, nil
		}
		return &FatPointer{PointerSize: c.pointerSize, NonNull: nonNull}, nil
	case ir.TyFnPtr:
		return &Scalar{Bytes: c.pointerSize, NonNull: true}, nil
	case ir.TyFnDef, ir.TyNever:
		return &Univariant{Variant: Struct{Alignment: 1, Sized: true}}, nil
	case ir.TyArray, ir.TySlice:
		elem, err := c.Layout(ty.Elem)
		if err != nil {
			return nil, err
		}
		a := &Array{ElemSize: stride(elem), ElemAlign: elem.Align(), Sized: ty.Kind == ir.TyArray}
		if ty.Kind == ir.TyArray {
			a.Count = ty.Len
		}
		return a, nil
	case ir.TyStr:
		return &Array{ElemSize: 1, ElemAlign: 1}, nil
	case ir.TyDynamic:
		return &Univariant{Variant: Struct{Alignment: 1}}, nil
	case ir.TyTuple:
		st, err := c.structOf(ty.Elems)
		if err != nil {
			return nil, err
		}
		return &Univariant{Variant: st, NonZero: st.NonZero}, nil
	case ir.TyAdt:
		if ty.Adt.IsEnum() {
			return c.enumLayout(ty)
		}
		st, err := c.structOf(ty.Adt.FieldTys(0, ty.Substs))
		if err != nil {
			return nil, err
		}
		return &Univariant{Variant: st, NonZero: st.NonZero}, nil
	case ir.TyParam:
		return nil, fmt.Errorf("%w: %s", ErrGenericType, ty)
	}
	return nil, fmt.Errorf("no layout for %s", ty)
}

// stride is the distance between consecutive elements of an array.
func stride(l Layout) uint64 {
	return alignTo(l.Size(), l.Align())
}

func (c *Computer) structOf(fields []*ir.Ty) (Struct, error) {
	st := Struct{Alignment: 1, Sized: true}
	var offset uint64
	for i, f := range fields {
		fl, err := c.Layout(f)
		if err != nil {
			return Struct{}, err
		}
		if !c.IsSized(f) {
			if i != len(fields)-1 {
				return Struct{}, fmt.Errorf("unsized field %d of type %s is not the last field", i, f)
			}
			st.Sized = false
		}
		align := fl.Align()
		offset = alignTo(offset, align)
		st.Offsets = append(st.Offsets, offset)
		offset += fl.Size()
		if align > st.Alignment {
			st.Alignment = align
		}
		if isNonZero(fl) {
			st.NonZero = true
		}
	}
	st.MinSize = offset
	return st, nil
}

func isNonZero(l Layout) bool {
	switch l := l.(type) {
	case *Scalar:
		return l.NonNull
	case *FatPointer:
		return l.NonNull
	case *CEnum:
		return l.NonZero
	case *Univariant:
		return l.NonZero
	}
	return false
}

func (c *Computer) enumLayout(ty *ir.Ty) (Layout, error) {
	def := ty.Adt
	if len(def.Variants) == 0 {
		return &Univariant{Variant: Struct{Alignment: 1, Sized: true}}, nil
	}

	fieldless := true
	for _, v := range def.Variants {
		if len(v.Fields) > 0 {
			fieldless = false
			break
		}
	}
	if fieldless {
		minD, maxD := int64(math.MaxInt64), int64(math.MinInt64)
		nonZero := true
		for _, v := range def.Variants {
			minD = min(minD, v.Discr)
			maxD = max(maxD, v.Discr)
			if v.Discr == 0 {
				nonZero = false
			}
		}
		discr, signed, err := reprDiscr(def.Repr, minD, maxD)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", def.Name, err)
		}
		return &CEnum{Discr: discr, Signed: signed, NonZero: nonZero, Min: minD, Max: maxD}, nil
	}

	for i, v := range def.Variants {
		if v.Discr != int64(i) {
			return nil, fmt.Errorf("%w: %s::%s has explicit discriminant %d on an enum with fields",
				ErrInvalidRepr, def.Name, v.Name, v.Discr)
		}
	}

	variants := make([][]*ir.Ty, len(def.Variants))
	for i := range def.Variants {
		variants[i] = def.FieldTys(i, ty.Substs)
	}

	if len(variants) == 1 {
		st, err := c.structOf(variants[0])
		if err != nil {
			return nil, err
		}
		return &Univariant{Variant: st}, nil
	}

	if len(variants) == 2 && def.Repr == "" {
		for discr := 0; discr < 2; discr++ {
			empty, err := c.zeroSized(variants[1-discr])
			if err != nil {
				return nil, err
			}
			if !empty {
				continue
			}
			path, err := c.nonZeroFieldPath(variants[discr])
			if err != nil {
				return nil, err
			}
			if path == nil {
				continue
			}
			if len(path) == 1 && len(variants[discr]) == 1 {
				fl, err := c.Layout(variants[discr][0])
				if err != nil {
					return nil, err
				}
				scalar, ok := fl.(*Scalar)
				if !ok {
					return nil, fmt.Errorf("non-zero field %s of %s is not a scalar", variants[discr][0], ty)
				}
				return &RawNullablePointer{NonNullDiscr: uint64(discr), Value: *scalar}, nil
			}
			st, err := c.structOf(variants[discr])
			if err != nil {
				return nil, err
			}
			return &StructWrappedNullablePointer{NonNullDiscr: uint64(discr), NonNull: st, DiscrField: path}, nil
		}
	}

	return c.generalLayout(def, variants)
}

func (c *Computer) generalLayout(def *ir.AdtDef, variants [][]*ir.Ty) (Layout, error) {
	minIty, _, err := reprDiscr(def.Repr, 0, int64(len(variants)-1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", def.Name, err)
	}

	g := &General{Alignment: 1}
	startAlign := uint64(256)
	discrTy := integerTy(minIty)
	for _, fields := range variants {
		st, err := c.structOf(append([]*ir.Ty{discrTy}, fields...))
		if err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			fl, err := c.Layout(fields[0])
			if err != nil {
				return nil, err
			}
			startAlign = min(startAlign, fl.Align())
		}
		g.Bytes = max(g.Bytes, st.MinSize)
		g.Alignment = max(g.Alignment, st.Alignment)
		g.Variants = append(g.Variants, st)
	}

	// Widen the discriminant into padding shared by every variant.
	ity := minIty
	if wide, ok := integerForAlign(startAlign); ok && wide > minIty {
		ity = wide
		for _, st := range g.Variants {
			for i := 1; i < len(st.Offsets); i++ {
				if st.Offsets[i] > minIty.Size() {
					break
				}
				st.Offsets[i] = ity.Size()
			}
		}
	}
	g.Discr = ity
	g.Bytes = alignTo(g.Bytes, g.Alignment)
	return g, nil
}

func (c *Computer) zeroSized(fields []*ir.Ty) (bool, error) {
	for _, f := range fields {
		fl, err := c.Layout(f)
		if err != nil {
			return false, err
		}
		if fl.Size() != 0 {
			return false, nil
		}
	}
	return true, nil
}

// nonZeroFieldPath finds the first field that can never hold zero. The
// path lists field indexes from the outermost structure inwards; an empty,
// non-nil path means ty itself is non-zero.
func (c *Computer) nonZeroFieldPath(fields []*ir.Ty) ([]int, error) {
	for i, f := range fields {
		inner, err := c.nonZeroIn(f)
		if err != nil {
			return nil, err
		}
		if inner != nil {
			return append([]int{i}, inner...), nil
		}
	}
	return nil, nil
}

func (c *Computer) nonZeroIn(ty *ir.Ty) ([]int, error) {
	l, err := c.Layout(ty)
	if err != nil {
		return nil, err
	}
	switch l := l.(type) {
	case *Scalar:
		if l.NonNull {
			return []int{}, nil
		}
	case *CEnum:
		if l.NonZero {
			return []int{}, nil
		}
	case *FatPointer:
		if l.NonNull {
			return []int{FatPtrAddr}, nil
		}
	}
	switch ty.Kind {
	case ir.TyAdt:
		if !ty.Adt.IsEnum() {
			return c.nonZeroFieldPath(ty.Adt.FieldTys(0, ty.Substs))
		}
	case ir.TyTuple:
		return c.nonZeroFieldPath(ty.Elems)
	case ir.TyArray:
		if ty.Len > 0 {
			return c.nonZeroFieldPath([]*ir.Ty{ty.Elem})
		}
	}
	return nil, nil
}

// IsSized reports whether values of ty have a statically known size.
func (c *Computer) IsSized(ty *ir.Ty) bool {
	switch ty.Kind {
	case ir.TyStr, ir.TySlice, ir.TyDynamic:
		return false
	case ir.TyTuple:
		if n := len(ty.Elems); n > 0 {
			return c.IsSized(ty.Elems[n-1])
		}
	case ir.TyAdt:
		if !ty.Adt.IsEnum() {
			fields := ty.Adt.StructVariant().Fields
			if n := len(fields); n > 0 {
				return c.IsSized(fields[n-1].Ty.Subst(ty.Substs))
			}
		}
	}
	return true
}

// NeedsDrop reports whether discarding a value of ty runs any code or
// frees any memory.
func (c *Computer) NeedsDrop(ty *ir.Ty) bool {
	switch ty.Kind {
	case ir.TyBox, ir.TyDynamic:
		return true
	case ir.TyArray, ir.TySlice:
		return c.NeedsDrop(ty.Elem)
	case ir.TyTuple:
		for _, e := range ty.Elems {
			if c.NeedsDrop(e) {
				return true
			}
		}
	case ir.TyAdt:
		if _, _, ok := c.prog.DropFn(ty); ok {
			return true
		}
		for v := range ty.Adt.Variants {
			for _, f := range ty.Adt.FieldTys(v, ty.Substs) {
				if c.NeedsDrop(f) {
					return true
				}
			}
		}
	}
	return false
}

// reprDiscr picks the discriminant integer for the range [lo, hi].
func reprDiscr(repr string, lo, hi int64) (Integer, bool, error) {
	var atLeast Integer
	switch {
	case repr == "":
		atLeast = I8
	case repr == "C":
		atLeast = I32
	default:
		ity, signed, err := parseReprInt(repr)
		if err != nil {
			return 0, false, err
		}
		fit := fitUnsigned(uint64(max(lo, hi)))
		if signed {
			fit = max(fitSigned(lo), fitSigned(hi))
		}
		if ity < fit {
			return 0, false, fmt.Errorf("%w: [%d, %d] in %s", ErrDiscrOutOfRange, lo, hi, repr)
		}
		return ity, signed, nil
	}
	if lo >= 0 {
		return max(fitUnsigned(uint64(hi)), atLeast), false, nil
	}
	return max(fitSigned(lo), fitSigned(hi), atLeast), true, nil
}

func parseReprInt(repr string) (Integer, bool, error) {
	signed := strings.HasPrefix(repr, "i")
	if !signed && !strings.HasPrefix(repr, "u") {
		return 0, false, fmt.Errorf("%w: %q", ErrInvalidRepr, repr)
	}
	switch repr[1:] {
	case "8":
		return I8, signed, nil
	case "16":
		return I16, signed, nil
	case "32":
		return I32, signed, nil
	case "64":
		return I64, signed, nil
	}
	return 0, false, fmt.Errorf("%w: %q", ErrInvalidRepr, repr)
}

func fitUnsigned(v uint64) Integer {
	switch {
	case v <= math.MaxUint8:
		return I8
	case v <= math.MaxUint16:
		return I16
	case v <= math.MaxUint32:
		return I32
	}
	return I64
}

func fitSigned(v int64) Integer {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return I8
	case v >= math.MinInt16 && v <= math.MaxInt16:
		return I16
	case v >= math.MinInt32 && v <= math.MaxInt32:
		return I32
	}
	return I64
}

func integerForAlign(align uint64) (Integer, bool) {
	for _, i := range []Integer{I8, I16, I32, I64} {
		if i.Size() == align {
			return i, true
		}
	}
	return 0, false
}

func integerTy(i Integer) *ir.Ty {
	return ir.UintTy(int(i.Size() * 8))
}

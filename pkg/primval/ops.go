package primval

import (
	"fmt"
	"math"
	"math/bits"

	"mire/pkg/ir"
)

// BinaryOp evaluates l op r and reports whether the operation overflowed.
// Overflowing results wrap. Shifts overflow when the amount is not smaller
// than the width of the left operand.
func BinaryOp(op ir.BinOp, l, r PrimVal) (PrimVal, bool, error) {
	if isPointerLike(l.Kind) || isPointerLike(r.Kind) {
		res, err := pointerOp(op, l, r)
		return res, false, err
	}
	if op == ir.Shl || op == ir.Shr {
		return shiftOp(op, l, r)
	}
	if l.Kind != r.Kind {
		return PrimVal{}, false, fmt.Errorf("%w: %s %s %s", ErrKindMismatch, l.Kind, op, r.Kind)
	}

	switch {
	case l.Kind == Bool:
		res, err := boolOp(op, l.Bits != 0, r.Bits != 0)
		return res, false, err
	case l.Kind == Char:
		if !op.IsComparison() {
			return PrimVal{}, false, fmt.Errorf("%w: %s on char", ErrKindMismatch, op)
		}
		return compare(op, l.Bits < r.Bits, l.Bits == r.Bits), false, nil
	case l.Kind == F32:
		a, b := math.Float32frombits(uint32(l.Bits)), math.Float32frombits(uint32(r.Bits))
		res, err := floatOp(op, float64(a), float64(b), F32)
		return res, false, err
	case l.Kind == F64:
		res, err := floatOp(op, math.Float64frombits(l.Bits), math.Float64frombits(r.Bits), F64)
		return res, false, err
	case l.Kind.IsSigned():
		return signedOp(op, l.Kind, int64(l.Bits), int64(r.Bits))
	case l.Kind.IsUnsigned():
		return unsignedOp(op, l.Kind, l.Bits, r.Bits)
	}
	return PrimVal{}, false, fmt.Errorf("%w: %s on %s", ErrKindMismatch, op, l.Kind)
}

func isPointerLike(k Kind) bool {
	return k == Ptr || k == FnPtr
}

func compare(op ir.BinOp, less, equal bool) PrimVal {
	switch op {
	case ir.Eq:
		return FromBool(equal)
	case ir.Ne:
		return FromBool(!equal)
	case ir.Lt:
		return FromBool(less)
	case ir.Le:
		return FromBool(less || equal)
	case ir.Gt:
		return FromBool(!less && !equal)
	}
	return FromBool(!less)
}

func boolOp(op ir.BinOp, a, b bool) (PrimVal, error) {
	switch op {
	case ir.BitAnd:
		return FromBool(a && b), nil
	case ir.BitOr:
		return FromBool(a || b), nil
	case ir.BitXor:
		return FromBool(a != b), nil
	}
	if op.IsComparison() {
		return compare(op, !a && b, a == b), nil
	}
	return PrimVal{}, fmt.Errorf("%w: %s on bool", ErrKindMismatch, op)
}

func floatOp(op ir.BinOp, a, b float64, k Kind) (PrimVal, error) {
	if op.IsComparison() {
		switch op {
		case ir.Eq:
			return FromBool(a == b), nil
		case ir.Ne:
			return FromBool(a != b), nil
		case ir.Lt:
			return FromBool(a < b), nil
		case ir.Le:
			return FromBool(a <= b), nil
		case ir.Gt:
			return FromBool(a > b), nil
		}
		return FromBool(a >= b), nil
	}

	var res float64
	switch op {
	case ir.Add:
		res = a + b
	case ir.Sub:
		res = a - b
	case ir.Mul:
		res = a * b
	case ir.Div:
		res = a / b
	case ir.Rem:
		res = math.Mod(a, b)
	default:
		return PrimVal{}, fmt.Errorf("%w: %s on %s", ErrKindMismatch, op, k)
	}
	if k == F32 {
		return FromF32(float32(res)), nil
	}
	return FromF64(res), nil
}

func signedOp(op ir.BinOp, k Kind, a, b int64) (PrimVal, bool, error) {
	if op.IsComparison() {
		return compare(op, a < b, a == b), false, nil
	}

	width := k.Size() * 8
	minVal := int64(-1) << (width - 1)
	var res int64
	var overflow bool

	switch op {
	case ir.Add, ir.Sub, ir.Mul:
		if width < 64 {
			var exact int64
			switch op {
			case ir.Add:
				exact = a + b
			case ir.Sub:
				exact = a - b
			default:
				exact = a * b
			}
			res = int64(normalize(k, uint64(exact)))
			overflow = res != exact
			break
		}
		switch op {
		case ir.Add:
			res = a + b
			overflow = (a >= 0) == (b >= 0) && (res >= 0) != (a >= 0)
		case ir.Sub:
			res = a - b
			overflow = (a >= 0) != (b >= 0) && (res >= 0) != (a >= 0)
		default:
			res = a * b
			overflow = a != 0 && (res/a != b || (a == -1 && b == minVal))
		}
	case ir.Div, ir.Rem:
		if b == 0 {
			return PrimVal{}, false, ErrDivisionByZero
		}
		if a == minVal && b == -1 {
			overflow = true
			if op == ir.Div {
				res = minVal
			}
			break
		}
		if op == ir.Div {
			res = a / b
		} else {
			res = a % b
		}
	case ir.BitAnd:
		res = a & b
	case ir.BitOr:
		res = a | b
	case ir.BitXor:
		res = a ^ b
	default:
		return PrimVal{}, false, fmt.Errorf("%w: %s on %s", ErrKindMismatch, op, k)
	}

	return FromBits(k, uint64(res)), overflow, nil
}

func unsignedOp(op ir.BinOp, k Kind, a, b uint64) (PrimVal, bool, error) {
	if op.IsComparison() {
		return compare(op, a < b, a == b), false, nil
	}

	width := k.Size() * 8
	mask := uint64(math.MaxUint64)
	if width < 64 {
		mask = 1<<width - 1
	}
	var res uint64
	var overflow bool

	switch op {
	case ir.Add:
		sum, carry := bits.Add64(a, b, 0)
		res = sum & mask
		overflow = carry != 0 || sum > mask
	case ir.Sub:
		res = (a - b) & mask
		overflow = b > a
	case ir.Mul:
		hi, lo := bits.Mul64(a, b)
		res = lo & mask
		overflow = hi != 0 || lo > mask
	case ir.Div:
		if b == 0 {
			return PrimVal{}, false, ErrDivisionByZero
		}
		res = a / b
	case ir.Rem:
		if b == 0 {
			return PrimVal{}, false, ErrDivisionByZero
		}
		res = a % b
	case ir.BitAnd:
		res = a & b
	case ir.BitOr:
		res = a | b
	case ir.BitXor:
		res = a ^ b
	default:
		return PrimVal{}, false, fmt.Errorf("%w: %s on %s", ErrKindMismatch, op, k)
	}

	return FromBits(k, res), overflow, nil
}

func shiftOp(op ir.BinOp, l, r PrimVal) (PrimVal, bool, error) {
	if !l.Kind.IsInt() || !r.Kind.IsInt() {
		return PrimVal{}, false, fmt.Errorf("%w: %s %s %s", ErrKindMismatch, l.Kind, op, r.Kind)
	}
	width := l.Kind.Size() * 8
	amount := normalize(unsignedOf(r.Kind), r.Bits)
	if r.Kind.IsSigned() && int64(r.Bits) < 0 {
		amount = math.MaxUint64
	}
	overflow := amount >= width
	amount &= width - 1

	var res uint64
	switch {
	case op == ir.Shl:
		res = l.Bits << amount
	case l.Kind.IsSigned():
		res = uint64(int64(l.Bits) >> amount)
	default:
		res = l.Bits >> amount
	}
	return FromBits(l.Kind, res), overflow, nil
}

func pointerOp(op ir.BinOp, l, r PrimVal) (PrimVal, error) {
	lp, err := l.ToPtr()
	if err != nil {
		return PrimVal{}, err
	}
	rp, err := r.ToPtr()
	if err != nil {
		return PrimVal{}, err
	}

	switch op {
	case ir.Eq, ir.Ne:
		equal := lp.Alloc == rp.Alloc && lp.Offset == rp.Offset
		return compare(op, false, equal), nil
	case ir.Lt, ir.Le, ir.Gt, ir.Ge:
		if lp.Alloc != rp.Alloc {
			return PrimVal{}, fmt.Errorf("%w: comparing %s and %s", ErrInvalidPointerMath, lp, rp)
		}
		return compare(op, lp.Offset < rp.Offset, lp.Offset == rp.Offset), nil
	}
	return PrimVal{}, fmt.Errorf("%w: %s %s %s", ErrInvalidPointerMath, lp, op, rp)
}

// UnaryOp evaluates op v; negation wraps.
func UnaryOp(op ir.UnOp, v PrimVal) (PrimVal, error) {
	switch op {
	case ir.Not:
		switch {
		case v.Kind == Bool:
			return FromBool(v.Bits == 0), nil
		case v.Kind.IsInt():
			return FromBits(v.Kind, ^v.Bits), nil
		}
	case ir.Neg:
		switch {
		case v.Kind.IsSigned():
			return FromBits(v.Kind, -v.Bits), nil
		case v.Kind == F32:
			return FromF32(-math.Float32frombits(uint32(v.Bits))), nil
		case v.Kind == F64:
			return FromF64(-math.Float64frombits(v.Bits)), nil
		}
	}
	return PrimVal{}, fmt.Errorf("%w: %s on %s", ErrKindMismatch, op, v.Kind)
}

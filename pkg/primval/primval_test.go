package primval_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mire/pkg/ir"
	"mire/pkg/memory"
	"mire/pkg/primval"
)

func i(v int64, size uint64) primval.PrimVal {
	p, err := primval.FromInt(v, size)
	if err != nil {
		panic(err)
	}
	return p
}

func u(v uint64, size uint64) primval.PrimVal {
	p, err := primval.FromUint(v, size)
	if err != nil {
		panic(err)
	}
	return p
}

func TestBinaryOp(t *testing.T) {
	tests := []struct {
		op          ir.BinOp
		l, r        primval.PrimVal
		expected    primval.PrimVal
		overflow    bool
		description string
	}{
		{ir.Add, i(7, 4), i(5, 4), i(12, 4), false, "i32 add"},
		{ir.Add, u(255, 1), u(1, 1), u(0, 1), true, "u8 add wraps"},
		{ir.Add, i(127, 1), i(1, 1), i(-128, 1), true, "i8 add wraps"},
		{ir.Sub, u(0, 4), u(1, 4), u(math.MaxUint32, 4), true, "u32 sub underflows"},
		{ir.Mul, i(-3, 2), i(4, 2), i(-12, 2), false, "i16 mul"},
		{ir.Mul, u(1<<63, 8), u(2, 8), u(0, 8), true, "u64 mul overflows"},
		{ir.Add, i(math.MaxInt64, 8), i(1, 8), i(math.MinInt64, 8), true, "i64 add overflows"},
		{ir.Div, i(math.MinInt32, 4), i(-1, 4), i(math.MinInt32, 4), true, "i32 min / -1"},
		{ir.Rem, i(-7, 4), i(2, 4), i(-1, 4), false, "signed remainder keeps the sign"},
		{ir.Shl, u(1, 4), u(32, 4), u(1, 4), true, "shift by the width overflows and masks"},
		{ir.Shl, u(1, 1), u(7, 4), u(128, 1), false, "shift amount of another kind"},
		{ir.Shr, i(-8, 1), u(1, 4), i(-4, 1), false, "arithmetic right shift"},
		{ir.Lt, u(3, 1), u(5, 1), primval.FromBool(true), false, "unsigned compare"},
		{ir.Lt, i(-1, 4), i(0, 4), primval.FromBool(true), false, "signed compare"},
		{ir.Ge, primval.FromBool(false), primval.FromBool(true), primval.FromBool(false), false, "bool compare"},
		{ir.BitXor, primval.FromBool(true), primval.FromBool(true), primval.FromBool(false), false, "bool xor"},
		{ir.Add, primval.FromF64(1.5), primval.FromF64(2.25), primval.FromF64(3.75), false, "f64 add"},
		{ir.Mul, primval.FromF32(1.5), primval.FromF32(2), primval.FromF32(3), false, "f32 mul"},
	}

	for _, tt := range tests {
		got, overflow, err := primval.BinaryOp(tt.op, tt.l, tt.r)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}
		if diff := cmp.Diff(tt.expected, got); diff != "" {
			t.Errorf("%s: result mismatch (-want +got):\n%s", tt.description, diff)
		}
		if overflow != tt.overflow {
			t.Errorf("%s: expected overflow %t, got %t", tt.description, tt.overflow, overflow)
		}
	}
}

func TestBinaryOpErrors(t *testing.T) {
	a := memory.Pointer{Alloc: 2}
	b := memory.Pointer{Alloc: 3}
	char, err := primval.FromChar('x')
	if err != nil {
		t.Fatalf("FromChar: unexpected error: %v", err)
	}

	tests := []struct {
		op          ir.BinOp
		l, r        primval.PrimVal
		expected    error
		description string
	}{
		{ir.Div, u(1, 4), u(0, 4), primval.ErrDivisionByZero, "unsigned division by zero"},
		{ir.Rem, i(1, 8), i(0, 8), primval.ErrDivisionByZero, "signed remainder by zero"},
		{ir.Add, u(1, 1), u(1, 2), primval.ErrKindMismatch, "mixed widths"},
		{ir.Add, char, char, primval.ErrKindMismatch, "char arithmetic"},
		{ir.Lt, primval.FromPtr(a), primval.FromPtr(b), primval.ErrInvalidPointerMath, "ordering across allocations"},
		{ir.Add, primval.FromPtr(a), primval.FromPtr(a), primval.ErrInvalidPointerMath, "pointer addition"},
	}

	for _, tt := range tests {
		_, _, err := primval.BinaryOp(tt.op, tt.l, tt.r)
		if !errors.Is(err, tt.expected) {
			t.Errorf("%s: expected %v, got %v", tt.description, tt.expected, err)
		}
	}
}

func TestPointerComparison(t *testing.T) {
	p := memory.Pointer{Alloc: 2, Offset: 4}

	tests := []struct {
		op          ir.BinOp
		l, r        memory.Pointer
		expected    bool
		description string
	}{
		{ir.Eq, p, p, true, "same pointer"},
		{ir.Ne, p, p.Add(1), true, "different offsets"},
		{ir.Eq, p, memory.Pointer{Alloc: 3, Offset: 4}, false, "different allocations"},
		{ir.Lt, p, p.Add(1), true, "ordered within an allocation"},
		{ir.Eq, memory.IntPointer(0), memory.IntPointer(0), true, "null"},
	}

	for _, tt := range tests {
		got, _, err := primval.BinaryOp(tt.op, primval.FromPtr(tt.l), primval.FromPtr(tt.r))
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}
		if b, _ := got.ToBool(); b != tt.expected {
			t.Errorf("%s: expected %t, got %t", tt.description, tt.expected, b)
		}
	}
}

func TestUnaryOp(t *testing.T) {
	tests := []struct {
		op          ir.UnOp
		v           primval.PrimVal
		expected    primval.PrimVal
		description string
	}{
		{ir.Not, u(0, 1), u(255, 1), "u8 not"},
		{ir.Not, primval.FromBool(true), primval.FromBool(false), "bool not"},
		{ir.Neg, i(5, 4), i(-5, 4), "i32 neg"},
		{ir.Neg, i(math.MinInt8, 1), i(math.MinInt8, 1), "neg of min wraps"},
		{ir.Neg, primval.FromF64(2), primval.FromF64(-2), "f64 neg"},
	}

	for _, tt := range tests {
		got, err := primval.UnaryOp(tt.op, tt.v)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}
		if diff := cmp.Diff(tt.expected, got); diff != "" {
			t.Errorf("%s: result mismatch (-want +got):\n%s", tt.description, diff)
		}
	}

	if _, err := primval.UnaryOp(ir.Neg, u(1, 4)); !errors.Is(err, primval.ErrKindMismatch) {
		t.Errorf("unsigned neg: expected %v, got %v", primval.ErrKindMismatch, err)
	}
}

func TestConversions(t *testing.T) {
	neg := i(-1, 2)
	if got, err := neg.ToUint(); err != nil || got != 0xffff {
		t.Errorf("ToUint of -1i16: expected 0xffff, got %#x (%v)", got, err)
	}
	if got, err := neg.ToInt(); err != nil || got != -1 {
		t.Errorf("ToInt of -1i16: expected -1, got %d (%v)", got, err)
	}

	if got := primval.FromBits(primval.U8, 0x1ff); got.Bits != 0xff {
		t.Errorf("FromBits truncates: expected 0xff, got %#x", got.Bits)
	}

	if _, err := primval.FromChar(0xd800); !errors.Is(err, primval.ErrInvalidChar) {
		t.Errorf("surrogate char: expected %v, got %v", primval.ErrInvalidChar, err)
	}
	if _, err := primval.FromChar(0x110000); !errors.Is(err, primval.ErrInvalidChar) {
		t.Errorf("char past the last scalar: expected %v, got %v", primval.ErrInvalidChar, err)
	}

	if _, err := primval.FromF64(1).ToBool(); !errors.Is(err, primval.ErrKindMismatch) {
		t.Errorf("float as bool: expected %v, got %v", primval.ErrKindMismatch, err)
	}

	p, err := u(16, 8).ToPtr()
	if err != nil || p != memory.IntPointer(16) {
		t.Errorf("integer as pointer: expected 0x10, got %s (%v)", p, err)
	}
	if _, err := primval.FromPtr(memory.Pointer{Alloc: 2}).ToUint(); !errors.Is(err, memory.ErrReadPointerAsBytes) {
		t.Errorf("real pointer as integer: expected %v, got %v", memory.ErrReadPointerAsBytes, err)
	}

	if _, err := primval.IntKind(3, false); err == nil {
		t.Error("IntKind(3): expected an error")
	}
}

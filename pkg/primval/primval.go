package primval

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"mire/pkg/memory"
)

type Kind uint8

const (
	Bool Kind = iota
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F32
	F64
	Char
	Ptr
	FnPtr
)

var kindNames = [...]string{
	Bool: "bool", I8: "i8", I16: "i16", I32: "i32", I64: "i64",
	U8: "u8", U16: "u16", U32: "u32", U64: "u64",
	F32: "f32", F64: "f64", Char: "char", Ptr: "ptr", FnPtr: "fn ptr",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

func (k Kind) IsInt() bool      { return k >= I8 && k <= U64 }
func (k Kind) IsSigned() bool   { return k >= I8 && k <= I64 }
func (k Kind) IsUnsigned() bool { return k >= U8 && k <= U64 }
func (k Kind) IsFloat() bool    { return k == F32 || k == F64 }

// Size is the width of an integer or float kind in bytes.
func (k Kind) Size() uint64 {
	switch k {
	case Bool, I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32, F32, Char:
		return 4
	case I64, U64, F64:
		return 8
	}
	return 0
}

// IntKind returns the integer kind with the given byte size and signedness.
func IntKind(size uint64, signed bool) (Kind, error) {
	var k Kind
	switch size {
	case 1:
		k = U8
	case 2:
		k = U16
	case 4:
		k = U32
	case 8:
		k = U64
	default:
		return 0, fmt.Errorf("no integer kind of %d bytes", size)
	}
	if signed {
		k -= U8 - I8
	}
	return k, nil
}

var (
	ErrKindMismatch       = errors.New("primitive value has an unexpected kind")
	ErrDivisionByZero     = errors.New("attempted to divide by zero")
	ErrInvalidPointerMath = errors.New("attempted to do invalid arithmetic on pointers that would leak base addresses")
	ErrInvalidChar        = errors.New("invalid character")
)

// PrimVal is a single machine value. Integer bits are kept normalized:
// sign-extended for signed kinds, zero-extended for unsigned ones.
type PrimVal struct {
	Kind Kind
	Bits uint64
	Ptr  memory.Pointer
}

func normalize(k Kind, raw uint64) uint64 {
	size := k.Size()
	if size == 0 || size == 8 {
		return raw
	}
	shift := 64 - size*8
	if k.IsSigned() {
		return uint64(int64(raw<<shift) >> shift)
	}
	return raw << shift >> shift
}

// FromBits builds an integer value of kind k, truncating raw to its width.
func FromBits(k Kind, raw uint64) PrimVal {
	return PrimVal{Kind: k, Bits: normalize(k, raw)}
}

func FromBool(b bool) PrimVal {
	if b {
		return PrimVal{Kind: Bool, Bits: 1}
	}
	return PrimVal{Kind: Bool}
}

// FromInt builds a signed integer of size bytes.
func FromInt(v int64, size uint64) (PrimVal, error) {
	k, err := IntKind(size, true)
	if err != nil {
		return PrimVal{}, err
	}
	return FromBits(k, uint64(v)), nil
}

// FromUint builds an unsigned integer of size bytes.
func FromUint(v uint64, size uint64) (PrimVal, error) {
	k, err := IntKind(size, false)
	if err != nil {
		return PrimVal{}, err
	}
	return FromBits(k, v), nil
}

func FromF32(f float32) PrimVal { return PrimVal{Kind: F32, Bits: uint64(math.Float32bits(f))} }
func FromF64(f float64) PrimVal { return PrimVal{Kind: F64, Bits: math.Float64bits(f)} }

// FromChar validates r as a Unicode scalar value.
func FromChar(r uint64) (PrimVal, error) {
	if r > utf8.MaxRune || !utf8.ValidRune(rune(r)) {
		return PrimVal{}, fmt.Errorf("%w: %#x", ErrInvalidChar, r)
	}
	return PrimVal{Kind: Char, Bits: r}, nil
}

func FromPtr(p memory.Pointer) PrimVal   { return PrimVal{Kind: Ptr, Ptr: p} }
func FromFnPtr(p memory.Pointer) PrimVal { return PrimVal{Kind: FnPtr, Ptr: p} }

func (p PrimVal) mismatch(want string) error {
	return fmt.Errorf("%w: expected %s, got %s", ErrKindMismatch, want, p.Kind)
}

func (p PrimVal) ToBool() (bool, error) {
	if p.Kind != Bool {
		return false, p.mismatch("bool")
	}
	return p.Bits != 0, nil
}

// ToUint returns the raw bits of any integer-like value.
func (p PrimVal) ToUint() (uint64, error) {
	switch {
	case p.Kind.IsInt(), p.Kind == Bool, p.Kind == Char:
		return normalize(unsignedOf(p.Kind), p.Bits), nil
	case p.Kind == Ptr:
		return p.Ptr.ToInt()
	}
	return 0, p.mismatch("integer")
}

// ToInt returns the value of an integer as int64.
func (p PrimVal) ToInt() (int64, error) {
	switch {
	case p.Kind.IsInt(), p.Kind == Bool, p.Kind == Char:
		return int64(p.Bits), nil
	case p.Kind == Ptr:
		n, err := p.Ptr.ToInt()
		return int64(n), err
	}
	return 0, p.mismatch("integer")
}

func (p PrimVal) ToF32() (float32, error) {
	if p.Kind != F32 {
		return 0, p.mismatch("f32")
	}
	return math.Float32frombits(uint32(p.Bits)), nil
}

func (p PrimVal) ToF64() (float64, error) {
	if p.Kind != F64 {
		return 0, p.mismatch("f64")
	}
	return math.Float64frombits(p.Bits), nil
}

// ToPtr returns the pointer held by p; integers become integer pointers.
func (p PrimVal) ToPtr() (memory.Pointer, error) {
	switch {
	case p.Kind == Ptr, p.Kind == FnPtr:
		return p.Ptr, nil
	case p.Kind.IsInt():
		return memory.IntPointer(p.Bits), nil
	}
	return memory.Pointer{}, p.mismatch("pointer")
}

func (p PrimVal) ToFnPtr() (memory.Pointer, error) {
	if p.Kind != FnPtr && p.Kind != Ptr {
		return memory.Pointer{}, p.mismatch("function pointer")
	}
	return p.Ptr, nil
}

func unsignedOf(k Kind) Kind {
	if k.IsSigned() {
		return k + (U8 - I8)
	}
	return k
}

func (p PrimVal) String() string {
	switch {
	case p.Kind == Bool:
		return fmt.Sprintf("%t", p.Bits != 0)
	case p.Kind.IsSigned():
		return fmt.Sprintf("%d%s", int64(p.Bits), p.Kind)
	case p.Kind.IsUnsigned():
		return fmt.Sprintf("%d%s", p.Bits, p.Kind)
	case p.Kind == F32:
		return fmt.Sprintf("%gf32", math.Float32frombits(uint32(p.Bits)))
	case p.Kind == F64:
		return fmt.Sprintf("%gf64", math.Float64frombits(p.Bits))
	case p.Kind == Char:
		return fmt.Sprintf("%q", rune(p.Bits))
	case p.Kind == Ptr:
		return p.Ptr.String()
	case p.Kind == FnPtr:
		return "fn " + p.Ptr.String()
	}
	return fmt.Sprintf("<%s %#x>", p.Kind, p.Bits)
}

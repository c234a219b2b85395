// Package layout answers size, alignment, field offset and enum
// representation questions for fully instantiated IR types.
package layout

import (
	"fmt"

	"mire/pkg/ir"
)

// Word indexes of a fat pointer.
const (
	FatPtrAddr  = 0
	FatPtrExtra = 1
)

// Integer is the width of an enum discriminant.
type Integer uint8

const (
	I8 Integer = iota
	I16
	I32
	I64
)

func (i Integer) Size() uint64 {
	return 1 << i
}

func (i Integer) String() string {
	return fmt.Sprintf("i%d", i.Size()*8)
}

// Layout is the representation strategy of a type. The set of strategies is
// closed; consumers switch over the concrete types below.
type Layout interface {
	Size() uint64
	Align() uint64
	isLayout()
}

// Struct places fields sequentially, each at its own alignment.
type Struct struct {
	Offsets   []uint64
	MinSize   uint64 // size before rounding to the alignment
	Alignment uint64
	Sized     bool
	NonZero   bool // the struct contains a field that is never zero
}

// StrideSize is the size rounded up to the alignment.
func (s *Struct) StrideSize() uint64 {
	return alignTo(s.MinSize, s.Alignment)
}

// Scalar covers bool, char, integers, floats and thin pointers.
type Scalar struct {
	Bytes   uint64
	NonNull bool
}

// Univariant lays out structs, tuples, closures and single-variant enums.
type Univariant struct {
	Variant Struct
	NonZero bool
}

// Array covers arrays, slices and str.
type Array struct {
	ElemSize  uint64
	ElemAlign uint64
	Count     uint64
	Sized     bool
}

// FatPointer is a pointer followed by a length or vtable word.
type FatPointer struct {
	PointerSize uint64
	NonNull     bool
}

// CEnum is a fieldless enum represented by its discriminant only.
type CEnum struct {
	Discr   Integer
	Signed  bool
	NonZero bool // no variant has discriminant zero
	Min     int64
	Max     int64
}

// General is a tagged union; the discriminant is field 0 of every variant.
type General struct {
	Discr     Integer
	Variants  []Struct
	Bytes     uint64
	Alignment uint64
}

// RawNullablePointer is a two-variant enum whose payload variant holds a
// single non-null scalar; the other variant is encoded as zero.
type RawNullablePointer struct {
	NonNullDiscr uint64
	Value        Scalar
}

// StructWrappedNullablePointer is a two-variant enum whose payload variant
// contains a non-null field at DiscrField; zero there encodes the other
// variant. DiscrField starts with the field index inside the payload variant
// and continues through nested fields.
type StructWrappedNullablePointer struct {
	NonNullDiscr uint64
	NonNull      Struct
	DiscrField   []int
}

func (l *Scalar) Size() uint64  { return l.Bytes }
func (l *Scalar) Align() uint64 { return l.Bytes }

func (l *Univariant) Size() uint64  { return l.Variant.StrideSize() }
func (l *Univariant) Align() uint64 { return l.Variant.Alignment }

func (l *Array) Size() uint64  { return l.ElemSize * l.Count }
func (l *Array) Align() uint64 { return l.ElemAlign }

func (l *FatPointer) Size() uint64  { return 2 * l.PointerSize }
func (l *FatPointer) Align() uint64 { return l.PointerSize }

func (l *CEnum) Size() uint64  { return l.Discr.Size() }
func (l *CEnum) Align() uint64 { return l.Discr.Size() }

func (l *General) Size() uint64  { return l.Bytes }
func (l *General) Align() uint64 { return l.Alignment }

func (l *RawNullablePointer) Size() uint64  { return l.Value.Bytes }
func (l *RawNullablePointer) Align() uint64 { return l.Value.Bytes }

func (l *StructWrappedNullablePointer) Size() uint64  { return l.NonNull.StrideSize() }
func (l *StructWrappedNullablePointer) Align() uint64 { return l.NonNull.Alignment }

func (*Scalar) isLayout()                       {}
func (*Univariant) isLayout()                   {}
func (*Array) isLayout()                        {}
func (*FatPointer) isLayout()                   {}
func (*CEnum) isLayout()                        {}
func (*General) isLayout()                      {}
func (*RawNullablePointer) isLayout()           {}
func (*StructWrappedNullablePointer) isLayout() {}

func alignTo(size, align uint64) uint64 {
	if align == 0 {
		return size
	}
	return (size + align - 1) / align * align
}

// Oracle is the query interface the interpreter consumes.
type Oracle interface {
	Layout(ty *ir.Ty) (Layout, error)
	IsSized(ty *ir.Ty) bool
	NeedsDrop(ty *ir.Ty) bool
	PointerSize() uint64
}

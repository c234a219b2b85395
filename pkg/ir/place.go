package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Lvalue names a place: a local or a static followed by projections.
type Lvalue struct {
	Local       Local
	Static      DefID // when set, the base is this static instead of Local
	Projections []Projection
}

type ProjectionKind uint8

const (
	ProjDeref ProjectionKind = iota
	ProjField
	ProjIndex
	ProjConstantIndex
	ProjSubslice
	ProjDowncast
)

type Projection struct {
	Kind ProjectionKind

	Field   int // ProjField
	FieldTy *Ty // ProjField

	Index Operand // ProjIndex

	Offset    uint64 // ProjConstantIndex
	MinLength uint64 // ProjConstantIndex
	FromEnd   bool   // ProjConstantIndex

	From uint64 // ProjSubslice
	To   uint64 // ProjSubslice

	Variant int // ProjDowncast
}

// LocalPlace returns the place of local l.
func LocalPlace(l Local) Lvalue {
	return Lvalue{Local: l}
}

// StaticPlace returns the place of the static def.
func StaticPlace(def DefID) Lvalue {
	return Lvalue{Static: def}
}

func (lv Lvalue) IsStatic() bool {
	return lv.Static != ""
}

func (lv Lvalue) project(p Projection) Lvalue {
	projs := make([]Projection, len(lv.Projections), len(lv.Projections)+1)
	copy(projs, lv.Projections)
	return Lvalue{Local: lv.Local, Static: lv.Static, Projections: append(projs, p)}
}

func (lv Lvalue) Deref() Lvalue {
	return lv.project(Projection{Kind: ProjDeref})
}

func (lv Lvalue) Field(i int, ty *Ty) Lvalue {
	return lv.project(Projection{Kind: ProjField, Field: i, FieldTy: ty})
}

func (lv Lvalue) Index(op Operand) Lvalue {
	return lv.project(Projection{Kind: ProjIndex, Index: op})
}

func (lv Lvalue) ConstantIndex(offset, minLength uint64, fromEnd bool) Lvalue {
	return lv.project(Projection{Kind: ProjConstantIndex, Offset: offset, MinLength: minLength, FromEnd: fromEnd})
}

func (lv Lvalue) Subslice(from, to uint64) Lvalue {
	return lv.project(Projection{Kind: ProjSubslice, From: from, To: to})
}

func (lv Lvalue) Downcast(variant int) Lvalue {
	return lv.project(Projection{Kind: ProjDowncast, Variant: variant})
}

func (lv Lvalue) String() string {
	s := "_" + strconv.Itoa(int(lv.Local))
	if lv.IsStatic() {
		s = string(lv.Static)
	}
	for _, p := range lv.Projections {
		switch p.Kind {
		case ProjDeref:
			s = "(*" + s + ")"
		case ProjField:
			s = fmt.Sprintf("%s.%d", s, p.Field)
		case ProjIndex:
			s = fmt.Sprintf("%s[%s]", s, p.Index)
		case ProjConstantIndex:
			if p.FromEnd {
				s = fmt.Sprintf("%s[-%d of %d]", s, p.Offset, p.MinLength)
			} else {
				s = fmt.Sprintf("%s[%d of %d]", s, p.Offset, p.MinLength)
			}
		case ProjSubslice:
			s = fmt.Sprintf("%s[%d:-%d]", s, p.From, p.To)
		case ProjDowncast:
			s = fmt.Sprintf("(%s as %d)", s, p.Variant)
		}
	}
	return s
}

type OperandKind uint8

const (
	OperandConsume OperandKind = iota
	OperandConstant
)

type Operand struct {
	Kind     OperandKind
	Place    Lvalue
	Constant *Constant
}

// Consume reads the value stored at place.
func Consume(place Lvalue) Operand {
	return Operand{Kind: OperandConsume, Place: place}
}

func ConstOperand(c *Constant) Operand {
	return Operand{Kind: OperandConstant, Constant: c}
}

func (o Operand) String() string {
	if o.Kind == OperandConstant {
		return o.Constant.String()
	}
	return o.Place.String()
}

type LiteralKind uint8

const (
	LiteralValue LiteralKind = iota
	LiteralItem
	LiteralPromoted
)

// Constant is a typed literal, a reference to a global item, or a promoted
// constant of the enclosing body.
type Constant struct {
	Ty       *Ty
	Kind     LiteralKind
	Value    ConstVal
	Def      DefID
	Substs   Substs
	Promoted int
}

func (c *Constant) String() string {
	switch c.Kind {
	case LiteralItem:
		return fmt.Sprintf("const %s%s", c.Def, c.Substs)
	case LiteralPromoted:
		return fmt.Sprintf("promoted[%d]", c.Promoted)
	}
	return fmt.Sprintf("const %s: %s", c.Value, c.Ty)
}

type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstBool
	ConstChar
	ConstStr
	ConstByteStr
	ConstZST
)

// ConstVal is a literal value; integers keep their two's complement bits and
// are interpreted through the constant's type.
type ConstVal struct {
	Kind  ConstKind
	Bits  uint64
	Float float64
	Str   string
	Bytes []byte
}

func (v ConstVal) String() string {
	switch v.Kind {
	case ConstFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ConstBool:
		return strconv.FormatBool(v.Bits != 0)
	case ConstChar:
		return strconv.QuoteRune(rune(v.Bits))
	case ConstStr:
		return strconv.Quote(v.Str)
	case ConstByteStr:
		return "b" + strconv.Quote(string(v.Bytes))
	case ConstZST:
		return "{}"
	}
	return strconv.FormatUint(v.Bits, 10)
}

func IntVal(n int64) ConstVal      { return ConstVal{Kind: ConstInt, Bits: uint64(n)} }
func UintVal(n uint64) ConstVal    { return ConstVal{Kind: ConstInt, Bits: n} }
func FloatVal(f float64) ConstVal  { return ConstVal{Kind: ConstFloat, Float: f} }
func CharVal(r rune) ConstVal      { return ConstVal{Kind: ConstChar, Bits: uint64(r)} }
func StrVal(s string) ConstVal     { return ConstVal{Kind: ConstStr, Str: s} }
func ByteStrVal(b []byte) ConstVal { return ConstVal{Kind: ConstByteStr, Bytes: b} }

func BoolVal(b bool) ConstVal {
	if b {
		return ConstVal{Kind: ConstBool, Bits: 1}
	}
	return ConstVal{Kind: ConstBool}
}

// Lit builds a literal operand of type ty.
func Lit(ty *Ty, v ConstVal) Operand {
	return ConstOperand(&Constant{Ty: ty, Kind: LiteralValue, Value: v})
}

// ZST builds an operand for the only value of a zero-sized type.
func ZST(ty *Ty) Operand {
	return Lit(ty, ConstVal{Kind: ConstZST})
}

// ItemOperand references a global item; for function items ty is a FnDef.
func ItemOperand(ty *Ty, def DefID, substs ...*Ty) Operand {
	return ConstOperand(&Constant{Ty: ty, Kind: LiteralItem, Def: def, Substs: substs})
}

// FnOperand references a function item by its FnDef type.
func FnOperand(def DefID, sig *FnSig, substs ...*Ty) Operand {
	return ItemOperand(FnDefTy(def, sig, substs...), def, substs...)
}

func PromotedOperand(ty *Ty, index int) Operand {
	return ConstOperand(&Constant{Ty: ty, Kind: LiteralPromoted, Promoted: index})
}

// DefID identifies a global item by its path, e.g. "core::mem::size_of".
type DefID string

// Name returns the last path segment.
func (d DefID) Name() string {
	s := string(d)
	if i := strings.LastIndex(s, "::"); i >= 0 {
		return s[i+2:]
	}
	return s
}

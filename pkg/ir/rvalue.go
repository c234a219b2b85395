package ir

import (
	"fmt"
	"strings"
)

type BinOp uint8

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Rem
	BitXor
	BitAnd
	BitOr
	Shl
	Shr
	Eq
	Lt
	Le
	Ne
	Ge
	Gt
)

var binOpNames = [...]string{
	Add: "Add", Sub: "Sub", Mul: "Mul", Div: "Div", Rem: "Rem",
	BitXor: "BitXor", BitAnd: "BitAnd", BitOr: "BitOr", Shl: "Shl", Shr: "Shr",
	Eq: "Eq", Lt: "Lt", Le: "Le", Ne: "Ne", Ge: "Ge", Gt: "Gt",
}

func (op BinOp) String() string {
	if int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return fmt.Sprintf("BinOp(%d)", op)
}

// IsComparison reports whether op yields a bool.
func (op BinOp) IsComparison() bool {
	return op >= Eq
}

// ParseBinOp accepts the operator name in any case ("add", "Add").
func ParseBinOp(s string) (BinOp, error) {
	for i, n := range binOpNames {
		if strings.EqualFold(n, s) {
			return BinOp(i), nil
		}
	}
	return 0, fmt.Errorf("unknown binary operator %q", s)
}

type UnOp uint8

const (
	Not UnOp = iota
	Neg
)

func (op UnOp) String() string {
	if op == Neg {
		return "Neg"
	}
	return "Not"
}

type CastKind uint8

const (
	CastMisc CastKind = iota
	CastReifyFnPointer
	CastUnsafeFnPointer
	CastUnsize
)

func (k CastKind) String() string {
	switch k {
	case CastReifyFnPointer:
		return "ReifyFnPointer"
	case CastUnsafeFnPointer:
		return "UnsafeFnPointer"
	case CastUnsize:
		return "Unsize"
	}
	return "Misc"
}

type Rvalue interface {
	isRvalue()
}

type Use struct{ Operand Operand }

// Repeat builds [Operand; Count].
type Repeat struct {
	Operand Operand
	Count   uint64
}

type Ref struct {
	Mutable bool
	Place   Lvalue
}

type Len struct{ Place Lvalue }

type Cast struct {
	Kind    CastKind
	Operand Operand
	Ty      *Ty
}

type BinaryOp struct {
	Op    BinOp
	Left  Operand
	Right Operand
}

// CheckedBinaryOp yields (result, overflowed).
type CheckedBinaryOp struct {
	Op    BinOp
	Left  Operand
	Right Operand
}

type UnaryOp struct {
	Op      UnOp
	Operand Operand
}

// Box allocates storage for Ty; the contents stay uninitialized.
type Box struct{ Ty *Ty }

type AggregateKind uint8

const (
	AggregateArray AggregateKind = iota
	AggregateTuple
	AggregateAdt
)

type Aggregate struct {
	Kind     AggregateKind
	Adt      *AdtDef
	Variant  int
	Substs   Substs
	Operands []Operand
}

type InlineAsm struct{ Asm string }

func (Use) isRvalue()             {}
func (Repeat) isRvalue()          {}
func (Ref) isRvalue()             {}
func (Len) isRvalue()             {}
func (Cast) isRvalue()            {}
func (BinaryOp) isRvalue()        {}
func (CheckedBinaryOp) isRvalue() {}
func (UnaryOp) isRvalue()         {}
func (Box) isRvalue()             {}
func (Aggregate) isRvalue()       {}
func (InlineAsm) isRvalue()       {}

func operandList(ops []Operand) string {
	parts := make([]string, len(ops))
	for i, o := range ops {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}

// RvalueString renders rv for IR dumps.
func RvalueString(rv Rvalue) string {
	switch rv := rv.(type) {
	case Use:
		return rv.Operand.String()
	case Repeat:
		return fmt.Sprintf("[%s; %d]", rv.Operand, rv.Count)
	case Ref:
		if rv.Mutable {
			return "&mut " + rv.Place.String()
		}
		return "&" + rv.Place.String()
	case Len:
		return fmt.Sprintf("Len(%s)", rv.Place)
	case Cast:
		return fmt.Sprintf("%s as %s (%s)", rv.Operand, rv.Ty, rv.Kind)
	case BinaryOp:
		return fmt.Sprintf("%s(%s, %s)", rv.Op, rv.Left, rv.Right)
	case CheckedBinaryOp:
		return fmt.Sprintf("Checked%s(%s, %s)", rv.Op, rv.Left, rv.Right)
	case UnaryOp:
		return fmt.Sprintf("%s(%s)", rv.Op, rv.Operand)
	case Box:
		return fmt.Sprintf("box %s", rv.Ty)
	case Aggregate:
		switch rv.Kind {
		case AggregateArray:
			return "[" + operandList(rv.Operands) + "]"
		case AggregateTuple:
			return "(" + operandList(rv.Operands) + ")"
		}
		return fmt.Sprintf("%s::%s(%s)", rv.Adt.Name, rv.Adt.Variants[rv.Variant].Name, operandList(rv.Operands))
	case InlineAsm:
		return fmt.Sprintf("asm!(%q)", rv.Asm)
	}
	return fmt.Sprintf("%T", rv)
}

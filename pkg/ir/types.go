package ir

import (
	"fmt"
	"strings"
)

type TyKind uint8

const (
	TyBool TyKind = iota
	TyChar
	TyInt
	TyUint
	TyFloat
	TyStr
	TyArray
	TySlice
	TyRef
	TyRawPtr
	TyBox
	TyTuple
	TyAdt
	TyFnDef
	TyFnPtr
	TyDynamic
	TyParam
	TyNever
)

// Ty is a (possibly generic) type of the IR. Types are immutable once built
// and may be shared freely.
type Ty struct {
	Kind    TyKind
	Width   int    // bits for Int/Uint/Float; 0 means pointer-sized
	Elem    *Ty    // Array, Slice, Ref, RawPtr, Box
	Len     uint64 // Array
	Mutable bool   // Ref, RawPtr
	Elems   []*Ty  // Tuple
	Adt     *AdtDef
	Substs  Substs // Adt, FnDef
	Def     DefID  // FnDef
	Sig     *FnSig // FnDef (optional), FnPtr
	Trait   string // Dynamic
	Index   int    // Param
	Name    string // Param display name
}

var (
	Bool  = &Ty{Kind: TyBool}
	Char  = &Ty{Kind: TyChar}
	I8    = &Ty{Kind: TyInt, Width: 8}
	I16   = &Ty{Kind: TyInt, Width: 16}
	I32   = &Ty{Kind: TyInt, Width: 32}
	I64   = &Ty{Kind: TyInt, Width: 64}
	Isize = &Ty{Kind: TyInt}
	U8    = &Ty{Kind: TyUint, Width: 8}
	U16   = &Ty{Kind: TyUint, Width: 16}
	U32   = &Ty{Kind: TyUint, Width: 32}
	U64   = &Ty{Kind: TyUint, Width: 64}
	Usize = &Ty{Kind: TyUint}
	F32   = &Ty{Kind: TyFloat, Width: 32}
	F64   = &Ty{Kind: TyFloat, Width: 64}
	Str   = &Ty{Kind: TyStr}
	Unit  = &Ty{Kind: TyTuple}
	Never = &Ty{Kind: TyNever}
)

func ArrayTy(elem *Ty, n uint64) *Ty { return &Ty{Kind: TyArray, Elem: elem, Len: n} }
func SliceTy(elem *Ty) *Ty           { return &Ty{Kind: TySlice, Elem: elem} }
func RefTy(elem *Ty, mutable bool) *Ty {
	return &Ty{Kind: TyRef, Elem: elem, Mutable: mutable}
}
func RawPtrTy(elem *Ty, mutable bool) *Ty {
	return &Ty{Kind: TyRawPtr, Elem: elem, Mutable: mutable}
}
func BoxTy(elem *Ty) *Ty         { return &Ty{Kind: TyBox, Elem: elem} }
func TupleTy(elems ...*Ty) *Ty   { return &Ty{Kind: TyTuple, Elems: elems} }
func DynTy(trait string) *Ty     { return &Ty{Kind: TyDynamic, Trait: trait} }
func FnPtrTy(sig *FnSig) *Ty     { return &Ty{Kind: TyFnPtr, Sig: sig} }
func ParamTy(index int, name string) *Ty {
	return &Ty{Kind: TyParam, Index: index, Name: name}
}

func AdtTy(def *AdtDef, substs ...*Ty) *Ty {
	return &Ty{Kind: TyAdt, Adt: def, Substs: substs}
}

func FnDefTy(def DefID, sig *FnSig, substs ...*Ty) *Ty {
	return &Ty{Kind: TyFnDef, Def: def, Sig: sig, Substs: substs}
}

// IntTy returns the signed integer type of the given bit width (0 = isize).
func IntTy(width int) *Ty { return &Ty{Kind: TyInt, Width: width} }

// UintTy returns the unsigned integer type of the given bit width (0 = usize).
func UintTy(width int) *Ty { return &Ty{Kind: TyUint, Width: width} }

func FloatTy(width int) *Ty { return &Ty{Kind: TyFloat, Width: width} }

// IsIntegral reports whether t is a signed or unsigned integer.
func (t *Ty) IsIntegral() bool {
	return t.Kind == TyInt || t.Kind == TyUint
}

func (t *Ty) IsSigned() bool {
	return t.Kind == TyInt
}

func (t *Ty) IsUnit() bool {
	return t.Kind == TyTuple && len(t.Elems) == 0
}

// IsPointer reports whether t is a reference, raw pointer or box.
func (t *Ty) IsPointer() bool {
	return t.Kind == TyRef || t.Kind == TyRawPtr || t.Kind == TyBox
}

// Pointee returns the pointed-to type of a reference, raw pointer or box.
func (t *Ty) Pointee() (*Ty, bool) {
	if t.IsPointer() {
		return t.Elem, true
	}
	return nil, false
}

// SequenceElem returns the element type of an array or slice, and str's u8.
func (t *Ty) SequenceElem() (*Ty, bool) {
	switch t.Kind {
	case TyArray, TySlice:
		return t.Elem, true
	case TyStr:
		return U8, true
	}
	return nil, false
}

// HasParams reports whether t mentions any generic parameter.
func (t *Ty) HasParams() bool {
	switch t.Kind {
	case TyParam:
		return true
	case TyArray, TySlice, TyRef, TyRawPtr, TyBox:
		return t.Elem.HasParams()
	case TyTuple:
		for _, e := range t.Elems {
			if e.HasParams() {
				return true
			}
		}
	case TyAdt, TyFnDef:
		if t.Substs.HasParams() {
			return true
		}
		if t.Kind == TyFnDef && t.Sig != nil {
			return t.Sig.HasParams()
		}
	case TyFnPtr:
		return t.Sig.HasParams()
	}
	return false
}

// Subst replaces generic parameters in t by the matching entries of substs.
func (t *Ty) Subst(substs Substs) *Ty {
	if len(substs) == 0 || !t.HasParams() {
		return t
	}
	switch t.Kind {
	case TyParam:
		if t.Index < len(substs) {
			return substs[t.Index]
		}
		return t
	case TyArray, TySlice, TyRef, TyRawPtr, TyBox:
		c := *t
		c.Elem = t.Elem.Subst(substs)
		return &c
	case TyTuple:
		elems := make([]*Ty, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = e.Subst(substs)
		}
		return TupleTy(elems...)
	case TyAdt:
		return AdtTy(t.Adt, t.Substs.Subst(substs)...)
	case TyFnDef:
		c := *t
		c.Substs = t.Substs.Subst(substs)
		if t.Sig != nil {
			c.Sig = t.Sig.Subst(substs)
		}
		return &c
	case TyFnPtr:
		return FnPtrTy(t.Sig.Subst(substs))
	}
	return t
}

// Equal compares two types by their canonical form.
func (t *Ty) Equal(o *Ty) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	return t.String() == o.String()
}

// String renders the canonical form of t, also used as a cache key.
func (t *Ty) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TyBool:
		return "bool"
	case TyChar:
		return "char"
	case TyInt:
		if t.Width == 0 {
			return "isize"
		}
		return fmt.Sprintf("i%d", t.Width)
	case TyUint:
		if t.Width == 0 {
			return "usize"
		}
		return fmt.Sprintf("u%d", t.Width)
	case TyFloat:
		return fmt.Sprintf("f%d", t.Width)
	case TyStr:
		return "str"
	case TyArray:
		return fmt.Sprintf("[%s; %d]", t.Elem, t.Len)
	case TySlice:
		return fmt.Sprintf("[%s]", t.Elem)
	case TyRef:
		if t.Mutable {
			return "&mut " + t.Elem.String()
		}
		return "&" + t.Elem.String()
	case TyRawPtr:
		if t.Mutable {
			return "*mut " + t.Elem.String()
		}
		return "*const " + t.Elem.String()
	case TyBox:
		return fmt.Sprintf("Box<%s>", t.Elem)
	case TyTuple:
		if len(t.Elems) == 1 {
			return fmt.Sprintf("(%s,)", t.Elems[0])
		}
		return "(" + joinTys(t.Elems) + ")"
	case TyAdt:
		return t.Adt.Name + t.Substs.String()
	case TyFnDef:
		return fmt.Sprintf("fn(%s)%s", t.Def, t.Substs)
	case TyFnPtr:
		return t.Sig.String()
	case TyDynamic:
		return "dyn " + t.Trait
	case TyParam:
		if t.Name != "" {
			return t.Name
		}
		return fmt.Sprintf("T%d", t.Index)
	case TyNever:
		return "!"
	}
	return fmt.Sprintf("<ty %d>", t.Kind)
}

func joinTys(tys []*Ty) string {
	parts := make([]string, len(tys))
	for i, e := range tys {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// Substs is the generic-argument binding of an item or type.
type Substs []*Ty

// TypeAt returns the i-th generic argument.
func (s Substs) TypeAt(i int) (*Ty, error) {
	if i < 0 || i >= len(s) {
		return nil, fmt.Errorf("generic argument %d out of range for %s", i, s)
	}
	return s[i], nil
}

func (s Substs) HasParams() bool {
	for _, t := range s {
		if t.HasParams() {
			return true
		}
	}
	return false
}

// Subst applies an outer binding to every argument of s.
func (s Substs) Subst(outer Substs) Substs {
	if len(s) == 0 {
		return s
	}
	out := make(Substs, len(s))
	for i, t := range s {
		out[i] = t.Subst(outer)
	}
	return out
}

func (s Substs) String() string {
	if len(s) == 0 {
		return ""
	}
	return "<" + joinTys(s) + ">"
}

type Abi uint8

const (
	AbiRust Abi = iota
	AbiRustCall
	AbiRustIntrinsic
	AbiC
)

func (a Abi) String() string {
	switch a {
	case AbiRustCall:
		return "rust-call"
	case AbiRustIntrinsic:
		return "rust-intrinsic"
	case AbiC:
		return "C"
	}
	return "Rust"
}

// FnSig is a function signature.
type FnSig struct {
	Abi    Abi
	Inputs []*Ty
	Output *Ty
}

func (s *FnSig) HasParams() bool {
	for _, t := range s.Inputs {
		if t.HasParams() {
			return true
		}
	}
	return s.Output != nil && s.Output.HasParams()
}

func (s *FnSig) Subst(substs Substs) *FnSig {
	if !s.HasParams() {
		return s
	}
	inputs := make([]*Ty, len(s.Inputs))
	for i, t := range s.Inputs {
		inputs[i] = t.Subst(substs)
	}
	out := s.Output
	if out != nil {
		out = out.Subst(substs)
	}
	return &FnSig{Abi: s.Abi, Inputs: inputs, Output: out}
}

func (s *FnSig) ReturnTy() *Ty {
	if s.Output == nil {
		return Unit
	}
	return s.Output
}

func (s *FnSig) String() string {
	if s == nil {
		return "fn()"
	}
	prefix := "fn"
	if s.Abi != AbiRust {
		prefix = fmt.Sprintf("extern %q fn", s.Abi.String())
	}
	out := prefix + "(" + joinTys(s.Inputs) + ")"
	if s.Output != nil && !s.Output.IsUnit() {
		out += " -> " + s.Output.String()
	}
	return out
}

type AdtKind uint8

const (
	AdtStruct AdtKind = iota
	AdtEnum
)

// AdtDef declares a struct or enum.
type AdtDef struct {
	Name     string
	Kind     AdtKind
	Params   []string
	Variants []*VariantDef
	Repr     string // "", "C", or an integer type name such as "u8"
}

type VariantDef struct {
	Name   string
	Discr  int64
	Fields []*FieldDef
}

type FieldDef struct {
	Name string
	Ty   *Ty
}

func (a *AdtDef) IsEnum() bool { return a.Kind == AdtEnum }

// StructVariant returns the single variant of a struct.
func (a *AdtDef) StructVariant() *VariantDef {
	return a.Variants[0]
}

// VariantWithDiscr finds the variant whose declared discriminant is d.
func (a *AdtDef) VariantWithDiscr(d uint64) (int, bool) {
	for i, v := range a.Variants {
		if uint64(v.Discr) == d {
			return i, true
		}
	}
	return 0, false
}

// VariantByName returns the index of the named variant.
func (a *AdtDef) VariantByName(name string) (int, bool) {
	for i, v := range a.Variants {
		if v.Name == name {
			return i, true
		}
	}
	return 0, false
}

// FieldTys returns the monomorphized field types of variant v.
func (a *AdtDef) FieldTys(v int, substs Substs) []*Ty {
	fields := a.Variants[v].Fields
	tys := make([]*Ty, len(fields))
	for i, f := range fields {
		tys[i] = f.Ty.Subst(substs)
	}
	return tys
}

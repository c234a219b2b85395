package ir

import (
	"errors"
	"fmt"
)

var ErrUnknownItem = errors.New("unknown item")

type ItemKind uint8

const (
	ItemFn ItemKind = iota
	ItemConst
	ItemStatic
	ItemIntrinsic
	ItemForeign
)

func (k ItemKind) String() string {
	switch k {
	case ItemConst:
		return "const"
	case ItemStatic:
		return "static"
	case ItemIntrinsic:
		return "intrinsic"
	case ItemForeign:
		return "foreign"
	}
	return "fn"
}

// Item is an entry of the global item table.
type Item struct {
	Def     DefID
	Kind    ItemKind
	Sig     *FnSig // functions
	Ty      *Ty    // constants and statics
	Mutable bool   // statics
	Body    *Body
	Trait   string // set for trait method declarations
	Method  string
}

// TraitDef lists a trait's methods in vtable order. Defaults maps method
// names to provided bodies.
type TraitDef struct {
	Name     string
	Methods  []string
	Defaults map[string]DefID
}

// MethodIndex returns the declaration index of a method.
func (t *TraitDef) MethodIndex(name string) (int, bool) {
	for i, m := range t.Methods {
		if m == name {
			return i, true
		}
	}
	return 0, false
}

// Impl implements Trait for Self. Self may mention parameters 0..Params-1,
// which are bound when the impl is matched against a concrete type.
type Impl struct {
	Trait   string
	Self    *Ty
	Params  int
	Methods map[string]DefID
}

// DropTrait is the trait whose "drop" method runs before a value is discarded.
const DropTrait = "Drop"

// Program is the global item table of one IR document.
type Program struct {
	Items  map[DefID]*Item
	Adts   map[string]*AdtDef
	Traits map[string]*TraitDef
	Impls  []*Impl
}

func NewProgram() *Program {
	return &Program{
		Items:  make(map[DefID]*Item),
		Adts:   make(map[string]*AdtDef),
		Traits: make(map[string]*TraitDef),
	}
}

func (p *Program) AddItem(it *Item)      { p.Items[it.Def] = it }
func (p *Program) AddAdt(a *AdtDef)      { p.Adts[a.Name] = a }
func (p *Program) AddTrait(t *TraitDef)  { p.Traits[t.Name] = t }
func (p *Program) AddImpl(impl *Impl)    { p.Impls = append(p.Impls, impl) }

// Item looks up def in the item table.
func (p *Program) Item(def DefID) (*Item, error) {
	it, ok := p.Items[def]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, def)
	}
	return it, nil
}

// FnSig returns the declared signature of a function item.
func (p *Program) FnSig(def DefID) (*FnSig, error) {
	it, err := p.Item(def)
	if err != nil {
		return nil, err
	}
	if it.Sig == nil {
		return nil, fmt.Errorf("item %s is a %s, not a function", def, it.Kind)
	}
	return it.Sig, nil
}

// TraitOf reports the trait and method name when def declares a trait method.
func (p *Program) TraitOf(def DefID) (trait, method string, ok bool) {
	it, found := p.Items[def]
	if !found || it.Trait == "" {
		return "", "", false
	}
	return it.Trait, it.Method, true
}

// FindImpl returns the impl of trait for self together with the impl's
// parameter binding.
func (p *Program) FindImpl(trait string, self *Ty) (*Impl, Substs, bool) {
	for _, impl := range p.Impls {
		if impl.Trait != trait {
			continue
		}
		binds := make(Substs, impl.Params)
		if Match(impl.Self, self, binds) {
			return impl, binds, true
		}
	}
	return nil, nil, false
}

// ResolveMethod finds the body implementing trait method for self. The
// returned binding is the impl's parameters followed by methodSubsts; for a
// trait default body it is self followed by methodSubsts.
func (p *Program) ResolveMethod(trait, method string, self *Ty, methodSubsts Substs) (DefID, Substs, error) {
	if impl, binds, ok := p.FindImpl(trait, self); ok {
		if def, ok := impl.Methods[method]; ok {
			return def, append(append(Substs{}, binds...), methodSubsts...), nil
		}
	}
	if t, ok := p.Traits[trait]; ok {
		if def, ok := t.Defaults[method]; ok {
			return def, append(Substs{self}, methodSubsts...), nil
		}
	}
	return "", nil, fmt.Errorf("no implementation of %s::%s for %s", trait, method, self)
}

// DropFn returns the user drop method for ty, if it has one.
func (p *Program) DropFn(ty *Ty) (DefID, Substs, bool) {
	if ty.Kind != TyAdt {
		return "", nil, false
	}
	impl, binds, ok := p.FindImpl(DropTrait, ty)
	if !ok {
		return "", nil, false
	}
	def, ok := impl.Methods["drop"]
	return def, binds, ok
}

// Match unifies pattern against a concrete type, recording parameter
// bindings in binds.
func Match(pattern, ty *Ty, binds Substs) bool {
	if pattern.Kind == TyParam {
		if pattern.Index >= len(binds) {
			return false
		}
		if binds[pattern.Index] == nil {
			binds[pattern.Index] = ty
			return true
		}
		return binds[pattern.Index].Equal(ty)
	}
	if pattern.Kind != ty.Kind {
		return false
	}
	switch pattern.Kind {
	case TyInt, TyUint, TyFloat:
		return pattern.Width == ty.Width
	case TyArray:
		return pattern.Len == ty.Len && Match(pattern.Elem, ty.Elem, binds)
	case TyRef, TyRawPtr:
		return pattern.Mutable == ty.Mutable && Match(pattern.Elem, ty.Elem, binds)
	case TySlice, TyBox:
		return Match(pattern.Elem, ty.Elem, binds)
	case TyTuple:
		return matchAll(pattern.Elems, ty.Elems, binds)
	case TyAdt:
		return pattern.Adt.Name == ty.Adt.Name && matchAll(pattern.Substs, ty.Substs, binds)
	case TyFnDef:
		return pattern.Def == ty.Def && matchAll(pattern.Substs, ty.Substs, binds)
	case TyDynamic:
		return pattern.Trait == ty.Trait
	case TyFnPtr:
		return pattern.Sig.String() == ty.Sig.String()
	}
	return true
}

func matchAll(patterns, tys []*Ty, binds Substs) bool {
	if len(patterns) != len(tys) {
		return false
	}
	for i := range patterns {
		if !Match(patterns[i], tys[i], binds) {
			return false
		}
	}
	return true
}

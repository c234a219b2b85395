package ir

import (
	"fmt"
	"strings"
)

// Local indexes a body's local slots. Slot 0 holds the return value and the
// arguments follow in slots 1..ArgCount.
type Local int

const ReturnPointer Local = 0

type BlockID int

type LocalDecl struct {
	Name string
	Ty   *Ty
}

// Body is the control-flow graph of one function, constant or static.
type Body struct {
	Name     string
	Span     Span
	ArgCount int
	Locals   []LocalDecl
	Blocks   []*BasicBlock
	Promoted []*Body
}

func (b *Body) ReturnTy() *Ty {
	return b.Locals[ReturnPointer].Ty
}

// LocalTy returns the declared type of local l.
func (b *Body) LocalTy(l Local) (*Ty, error) {
	if int(l) < 0 || int(l) >= len(b.Locals) {
		return nil, fmt.Errorf("local _%d out of range in %s", l, b.Name)
	}
	return b.Locals[l].Ty, nil
}

func (b *Body) Block(id BlockID) (*BasicBlock, error) {
	if int(id) < 0 || int(id) >= len(b.Blocks) {
		return nil, fmt.Errorf("block bb%d out of range in %s", id, b.Name)
	}
	return b.Blocks[id], nil
}

// BasicBlock is a straight-line run of statements closed by one terminator.
type BasicBlock struct {
	Statements []Statement
	Terminator Terminator
}

type Statement struct {
	Span Span
	Kind StatementKind
}

type StatementKind interface {
	isStatementKind()
}

type Assign struct {
	Place  Lvalue
	Rvalue Rvalue
}

// SetDiscriminant writes the tag of an enum place without touching the payload.
type SetDiscriminant struct {
	Place   Lvalue
	Variant int
}

type StorageLive struct{ Local Local }
type StorageDead struct{ Local Local }
type Nop struct{}

func (Assign) isStatementKind()          {}
func (SetDiscriminant) isStatementKind() {}
func (StorageLive) isStatementKind()     {}
func (StorageDead) isStatementKind()     {}
func (Nop) isStatementKind()             {}

type Terminator struct {
	Span Span
	Kind TerminatorKind
}

type TerminatorKind interface {
	isTerminatorKind()
}

type Goto struct{ Target BlockID }

type If struct {
	Cond Operand
	Then BlockID
	Else BlockID
}

// SwitchInt compares Discr against Values; Targets has one more entry than
// Values, the last being the otherwise branch.
type SwitchInt struct {
	Discr    Lvalue
	SwitchTy *Ty
	Values   []ConstVal
	Targets  []BlockID
}

// Switch branches on the variant of an enum place, one target per variant.
type Switch struct {
	Discr   Lvalue
	Adt     *AdtDef
	Targets []BlockID
}

type Return struct{}
type Unreachable struct{}
type Resume struct{}

type Drop struct {
	Place  Lvalue
	Target BlockID
}

// Call invokes Func. A nil Destination marks a diverging call.
type Call struct {
	Func        Operand
	Args        []Operand
	Destination *Destination
}

type Destination struct {
	Place  Lvalue
	Target BlockID
}

type Assert struct {
	Cond     Operand
	Expected bool
	Msg      AssertMessage
	Target   BlockID
}

type AssertKind uint8

const (
	AssertBoundsCheck AssertKind = iota
	AssertMath
)

type AssertMessage struct {
	Kind  AssertKind
	Len   Operand
	Index Operand
	Text  string
}

func (Goto) isTerminatorKind()        {}
func (If) isTerminatorKind()          {}
func (SwitchInt) isTerminatorKind()   {}
func (Switch) isTerminatorKind()      {}
func (Return) isTerminatorKind()      {}
func (Unreachable) isTerminatorKind() {}
func (Resume) isTerminatorKind()      {}
func (Drop) isTerminatorKind()        {}
func (Call) isTerminatorKind()        {}
func (Assert) isTerminatorKind()      {}

// Dump renders the body in a compact textual form for verbose output.
func (b *Body) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fn %s (args: %d)\n", b.Name, b.ArgCount)
	for i, l := range b.Locals {
		name := l.Name
		if name != "" {
			name = " // " + name
		}
		fmt.Fprintf(&sb, "    let _%d: %s;%s\n", i, l.Ty, name)
	}
	for i, bb := range b.Blocks {
		fmt.Fprintf(&sb, "  bb%d:\n", i)
		for _, s := range bb.Statements {
			fmt.Fprintf(&sb, "    %s;\n", StatementString(s.Kind))
		}
		fmt.Fprintf(&sb, "    %s;\n", TerminatorString(bb.Terminator.Kind))
	}
	for i, p := range b.Promoted {
		fmt.Fprintf(&sb, "  promoted[%d]: %s", i, p.Dump())
	}
	return sb.String()
}

// StatementString renders one statement the way Dump does.
func StatementString(s StatementKind) string {
	switch s := s.(type) {
	case Assign:
		return fmt.Sprintf("%s = %s", s.Place, RvalueString(s.Rvalue))
	case SetDiscriminant:
		return fmt.Sprintf("discriminant(%s) = %d", s.Place, s.Variant)
	case StorageLive:
		return fmt.Sprintf("StorageLive(_%d)", s.Local)
	case StorageDead:
		return fmt.Sprintf("StorageDead(_%d)", s.Local)
	case Nop:
		return "nop"
	}
	return fmt.Sprintf("%T", s)
}

// TerminatorString renders one terminator the way Dump does.
func TerminatorString(t TerminatorKind) string {
	switch t := t.(type) {
	case Goto:
		return fmt.Sprintf("goto -> bb%d", t.Target)
	case If:
		return fmt.Sprintf("if(%s) -> [true: bb%d, false: bb%d]", t.Cond, t.Then, t.Else)
	case SwitchInt:
		return fmt.Sprintf("switchInt(%s) -> %v", t.Discr, t.Targets)
	case Switch:
		return fmt.Sprintf("switch(%s) -> %v", t.Discr, t.Targets)
	case Return:
		return "return"
	case Unreachable:
		return "unreachable"
	case Resume:
		return "resume"
	case Drop:
		return fmt.Sprintf("drop(%s) -> bb%d", t.Place, t.Target)
	case Call:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.String()
		}
		call := fmt.Sprintf("%s(%s)", t.Func, strings.Join(args, ", "))
		if t.Destination == nil {
			return call
		}
		return fmt.Sprintf("%s = %s -> bb%d", t.Destination.Place, call, t.Destination.Target)
	case Assert:
		return fmt.Sprintf("assert(%s == %t) -> bb%d", t.Cond, t.Expected, t.Target)
	}
	return fmt.Sprintf("%T", t)
}

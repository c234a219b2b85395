package ir

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

type rawProgram struct {
	Adts   []rawAdt   `yaml:"adts"`
	Traits []rawTrait `yaml:"traits"`
	Impls  []rawImpl  `yaml:"impls"`
	Items  []rawItem  `yaml:"items"`
}

type rawAdt struct {
	Name     string       `yaml:"name"`
	Kind     string       `yaml:"kind"`
	Params   []string     `yaml:"params"`
	Repr     string       `yaml:"repr"`
	Fields   []rawField   `yaml:"fields"`
	Variants []rawVariant `yaml:"variants"`
}

type rawVariant struct {
	Name   string     `yaml:"name"`
	Discr  *int64     `yaml:"discr"`
	Fields []rawField `yaml:"fields"`
}

type rawField struct {
	Name string    `yaml:"name"`
	Ty   yaml.Node `yaml:"ty"`
}

type rawTrait struct {
	Name     string            `yaml:"name"`
	Methods  []string          `yaml:"methods"`
	Defaults map[string]string `yaml:"defaults"`
}

type rawImpl struct {
	Trait    string            `yaml:"trait"`
	Generics []string          `yaml:"generics"`
	Self     yaml.Node         `yaml:"self"`
	Methods  map[string]string `yaml:"methods"`
}

type rawItem struct {
	Def      string    `yaml:"def"`
	Kind     string    `yaml:"kind"`
	Generics []string  `yaml:"generics"`
	Sig      yaml.Node `yaml:"sig"`
	Ty       yaml.Node `yaml:"ty"`
	Mutable  bool      `yaml:"mutable"`
	Body     *rawBody  `yaml:"body"`
	Trait    string    `yaml:"trait"`
	Method   string    `yaml:"method"`
}

type rawSig struct {
	Abi    string      `yaml:"abi"`
	Inputs []yaml.Node `yaml:"inputs"`
	Output yaml.Node   `yaml:"output"`
}

type rawBody struct {
	Args     int         `yaml:"args"`
	Line     int         `yaml:"line"`
	Locals   []yaml.Node `yaml:"locals"`
	Blocks   []rawBlock  `yaml:"blocks"`
	Promoted []rawBody   `yaml:"promoted"`
}

type rawBlock struct {
	Stmts []yaml.Node `yaml:"stmts"`
	Term  yaml.Node   `yaml:"term"`
}

// LoadFile reads an IR program from a YAML file.
func LoadFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Load(f, path)
}

// Load decodes an IR program from YAML. Unknown keys are rejected.
func Load(r io.Reader, file string) (*Program, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var raw rawProgram
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty program", file)
		}
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}

	l := &loader{prog: NewProgram(), file: file}
	if err := l.load(&raw); err != nil {
		return nil, err
	}

	return l.prog, nil
}

type loader struct {
	prog   *Program
	file   string
	params []string // generic parameter names in scope
}

func (l *loader) errorf(n *yaml.Node, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if n != nil && n.Line > 0 {
		return fmt.Errorf("%s:%d:%d: %s", l.file, n.Line, n.Column, msg)
	}
	return fmt.Errorf("%s: %s", l.file, msg)
}

func (l *loader) load(raw *rawProgram) error {
	for _, ra := range raw.Adts {
		kind := AdtStruct
		switch ra.Kind {
		case "", "struct":
		case "enum":
			kind = AdtEnum
		default:
			return l.errorf(nil, "adt %s: unknown kind %q", ra.Name, ra.Kind)
		}
		if _, dup := l.prog.Adts[ra.Name]; dup {
			return l.errorf(nil, "adt %s declared twice", ra.Name)
		}
		l.prog.AddAdt(&AdtDef{Name: ra.Name, Kind: kind, Params: ra.Params, Repr: ra.Repr})
	}

	for _, ra := range raw.Adts {
		def := l.prog.Adts[ra.Name]
		l.params = ra.Params
		if def.Kind == AdtStruct {
			fields, err := l.fields(ra.Fields)
			if err != nil {
				return fmt.Errorf("adt %s: %w", ra.Name, err)
			}
			def.Variants = []*VariantDef{{Name: ra.Name, Fields: fields}}
			continue
		}

		next := int64(0)
		for _, rv := range ra.Variants {
			if rv.Discr != nil {
				next = *rv.Discr
			}
			fields, err := l.fields(rv.Fields)
			if err != nil {
				return fmt.Errorf("adt %s::%s: %w", ra.Name, rv.Name, err)
			}
			def.Variants = append(def.Variants, &VariantDef{Name: rv.Name, Discr: next, Fields: fields})
			next++
		}
	}
	l.params = nil

	for _, rt := range raw.Traits {
		t := &TraitDef{Name: rt.Name, Methods: rt.Methods, Defaults: make(map[string]DefID)}
		for m, def := range rt.Defaults {
			t.Defaults[m] = DefID(def)
		}
		l.prog.AddTrait(t)
	}

	for _, ri := range raw.Impls {
		l.params = ri.Generics
		self, err := l.ty(&ri.Self)
		if err != nil {
			return fmt.Errorf("impl %s: %w", ri.Trait, err)
		}
		impl := &Impl{Trait: ri.Trait, Self: self, Params: len(ri.Generics), Methods: make(map[string]DefID)}
		for m, def := range ri.Methods {
			impl.Methods[m] = DefID(def)
		}
		l.prog.AddImpl(impl)
	}
	l.params = nil

	for i := range raw.Items {
		it, err := l.item(&raw.Items[i])
		if err != nil {
			return fmt.Errorf("item %s: %w", raw.Items[i].Def, err)
		}
		if _, dup := l.prog.Items[it.Def]; dup {
			return l.errorf(nil, "item %s declared twice", it.Def)
		}
		l.prog.AddItem(it)
	}

	return nil
}

func (l *loader) fields(raw []rawField) ([]*FieldDef, error) {
	fields := make([]*FieldDef, len(raw))
	for i := range raw {
		ty, err := l.ty(&raw[i].Ty)
		if err != nil {
			return nil, err
		}
		fields[i] = &FieldDef{Name: raw[i].Name, Ty: ty}
	}
	return fields, nil
}

func (l *loader) item(ri *rawItem) (*Item, error) {
	l.params = ri.Generics
	defer func() { l.params = nil }()

	it := &Item{Def: DefID(ri.Def), Mutable: ri.Mutable, Trait: ri.Trait, Method: ri.Method}
	switch ri.Kind {
	case "", "fn":
		it.Kind = ItemFn
	case "const":
		it.Kind = ItemConst
	case "static":
		it.Kind = ItemStatic
	case "intrinsic":
		it.Kind = ItemIntrinsic
	case "foreign":
		it.Kind = ItemForeign
	default:
		return nil, l.errorf(nil, "unknown item kind %q", ri.Kind)
	}
	if it.Trait != "" && it.Method == "" {
		it.Method = it.Def.Name()
	}

	if ri.Body != nil {
		body, err := l.body(ri.Body, ri.Def)
		if err != nil {
			return nil, err
		}
		it.Body = body
	}

	if ri.Sig.Kind != 0 {
		sig, err := l.sig(&ri.Sig)
		if err != nil {
			return nil, err
		}
		it.Sig = sig
	}
	if ri.Ty.Kind != 0 {
		ty, err := l.ty(&ri.Ty)
		if err != nil {
			return nil, err
		}
		it.Ty = ty
	}

	switch it.Kind {
	case ItemFn:
		if it.Sig == nil && it.Body != nil {
			it.Sig = sigOfBody(it.Body)
		}
	case ItemConst, ItemStatic:
		if it.Ty == nil && it.Body != nil {
			it.Ty = it.Body.ReturnTy()
		}
	case ItemIntrinsic:
		if it.Sig == nil {
			return nil, l.errorf(nil, "intrinsic needs a signature")
		}
		it.Sig.Abi = AbiRustIntrinsic
	case ItemForeign:
		if it.Sig == nil {
			return nil, l.errorf(nil, "foreign function needs a signature")
		}
		it.Sig.Abi = AbiC
	}
	if it.Sig == nil && it.Ty == nil {
		return nil, l.errorf(nil, "item has neither a signature nor a type")
	}

	return it, nil
}

func sigOfBody(b *Body) *FnSig {
	inputs := make([]*Ty, 0, b.ArgCount)
	for i := 1; i <= b.ArgCount && i < len(b.Locals); i++ {
		inputs = append(inputs, b.Locals[i].Ty)
	}
	return &FnSig{Abi: AbiRust, Inputs: inputs, Output: b.ReturnTy()}
}

func (l *loader) body(rb *rawBody, name string) (*Body, error) {
	b := &Body{Name: name, ArgCount: rb.Args, Span: Span{File: l.file, Line: rb.Line}}
	for i := range rb.Locals {
		n := &rb.Locals[i]
		decl := LocalDecl{}
		tyNode := n
		if n.Kind == yaml.MappingNode {
			m, err := l.mapping(n)
			if err != nil {
				return nil, err
			}
			// {name, ty} declares a named local; any other mapping is a type.
			if t, ok := m["ty"]; ok {
				tyNode = t
				if name, ok := m["name"]; ok {
					decl.Name = name.Value
				}
			} else if _, ok := m["name"]; ok {
				return nil, l.errorf(n, "local _%d has no type", i)
			}
		}
		ty, err := l.ty(tyNode)
		if err != nil {
			return nil, err
		}
		decl.Ty = ty
		b.Locals = append(b.Locals, decl)
	}
	if len(b.Locals) == 0 {
		return nil, l.errorf(nil, "body %s has no return slot", name)
	}
	if b.ArgCount >= len(b.Locals) {
		return nil, l.errorf(nil, "body %s declares %d args but only %d locals", name, b.ArgCount, len(b.Locals))
	}

	for i := range rb.Blocks {
		bb, err := l.block(&rb.Blocks[i])
		if err != nil {
			return nil, fmt.Errorf("bb%d: %w", i, err)
		}
		b.Blocks = append(b.Blocks, bb)
	}
	if len(b.Blocks) == 0 {
		return nil, l.errorf(nil, "body %s has no blocks", name)
	}

	for i := range rb.Promoted {
		p, err := l.body(&rb.Promoted[i], fmt.Sprintf("%s::promoted[%d]", name, i))
		if err != nil {
			return nil, err
		}
		b.Promoted = append(b.Promoted, p)
	}

	return b, nil
}

func (l *loader) block(rb *rawBlock) (*BasicBlock, error) {
	bb := &BasicBlock{}
	for i := range rb.Stmts {
		s, err := l.statement(&rb.Stmts[i])
		if err != nil {
			return nil, err
		}
		bb.Statements = append(bb.Statements, s)
	}
	if rb.Term.Kind == 0 {
		return nil, l.errorf(nil, "block has no terminator")
	}
	t, err := l.terminator(&rb.Term)
	if err != nil {
		return nil, err
	}
	bb.Terminator = t
	return bb, nil
}

func (l *loader) mapping(n *yaml.Node) (map[string]*yaml.Node, error) {
	if n.Kind != yaml.MappingNode {
		return nil, l.errorf(n, "expected a mapping")
	}
	m := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		m[n.Content[i].Value] = n.Content[i+1]
	}
	return m, nil
}

// tagged splits a mapping into its single kind key and an optional "at" span.
func (l *loader) tagged(n *yaml.Node) (string, *yaml.Node, Span, error) {
	if n.Kind == yaml.ScalarNode {
		return n.Value, nil, Span{File: l.file, Line: n.Line, Column: n.Column}, nil
	}
	m, err := l.mapping(n)
	if err != nil {
		return "", nil, Span{}, err
	}
	span := Span{File: l.file, Line: n.Line, Column: n.Column}
	if at, ok := m["at"]; ok {
		if span, err = l.span(at); err != nil {
			return "", nil, Span{}, err
		}
		delete(m, "at")
	}
	if len(m) != 1 {
		return "", nil, Span{}, l.errorf(n, "expected exactly one kind key")
	}
	for k, v := range m {
		return k, v, span, nil
	}
	return "", nil, span, nil
}

func (l *loader) span(n *yaml.Node) (Span, error) {
	parts := strings.Split(n.Value, ":")
	if len(parts) != 2 {
		return Span{}, l.errorf(n, "span must be line:column, got %q", n.Value)
	}
	line, err := strconv.Atoi(parts[0])
	if err != nil {
		return Span{}, l.errorf(n, "bad span line: %v", err)
	}
	col, err := strconv.Atoi(parts[1])
	if err != nil {
		return Span{}, l.errorf(n, "bad span column: %v", err)
	}
	return Span{File: l.file, Line: line, Column: col}, nil
}

func (l *loader) seq(n *yaml.Node, want int) ([]*yaml.Node, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, l.errorf(n, "expected a sequence")
	}
	if want >= 0 && len(n.Content) != want {
		return nil, l.errorf(n, "expected %d elements, got %d", want, len(n.Content))
	}
	return n.Content, nil
}

func (l *loader) uint(n *yaml.Node) (uint64, error) {
	v, err := strconv.ParseUint(n.Value, 0, 64)
	if err != nil {
		return 0, l.errorf(n, "expected an unsigned integer: %v", err)
	}
	return v, nil
}

func (l *loader) int(n *yaml.Node) (int, error) {
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, l.errorf(n, "expected an integer: %v", err)
	}
	return v, nil
}

func (l *loader) blockID(n *yaml.Node) (BlockID, error) {
	v, err := l.int(n)
	return BlockID(v), err
}

func (l *loader) statement(n *yaml.Node) (Statement, error) {
	kind, v, span, err := l.tagged(n)
	if err != nil {
		return Statement{}, err
	}
	s := Statement{Span: span}
	switch kind {
	case "assign":
		parts, err := l.seq(v, 2)
		if err != nil {
			return s, err
		}
		place, err := l.place(parts[0])
		if err != nil {
			return s, err
		}
		rv, err := l.rvalue(parts[1])
		if err != nil {
			return s, err
		}
		s.Kind = Assign{Place: place, Rvalue: rv}
	case "set_discriminant":
		parts, err := l.seq(v, 2)
		if err != nil {
			return s, err
		}
		place, err := l.place(parts[0])
		if err != nil {
			return s, err
		}
		variant, err := l.int(parts[1])
		if err != nil {
			return s, err
		}
		s.Kind = SetDiscriminant{Place: place, Variant: variant}
	case "storage_live", "storage_dead":
		local, err := l.int(v)
		if err != nil {
			return s, err
		}
		if kind == "storage_live" {
			s.Kind = StorageLive{Local: Local(local)}
		} else {
			s.Kind = StorageDead{Local: Local(local)}
		}
	case "nop":
		s.Kind = Nop{}
	default:
		return s, l.errorf(n, "unknown statement %q", kind)
	}
	return s, nil
}

func (l *loader) terminator(n *yaml.Node) (Terminator, error) {
	kind, v, span, err := l.tagged(n)
	if err != nil {
		return Terminator{}, err
	}
	t := Terminator{Span: span}
	switch kind {
	case "goto":
		target, err := l.blockID(v)
		if err != nil {
			return t, err
		}
		t.Kind = Goto{Target: target}
	case "if":
		parts, err := l.seq(v, 3)
		if err != nil {
			return t, err
		}
		cond, err := l.operand(parts[0])
		if err != nil {
			return t, err
		}
		then, err := l.blockID(parts[1])
		if err != nil {
			return t, err
		}
		els, err := l.blockID(parts[2])
		if err != nil {
			return t, err
		}
		t.Kind = If{Cond: cond, Then: then, Else: els}
	case "switch_int":
		t.Kind, err = l.switchInt(v)
	case "switch":
		t.Kind, err = l.switchAdt(v)
	case "return":
		t.Kind = Return{}
	case "unreachable":
		t.Kind = Unreachable{}
	case "resume":
		t.Kind = Resume{}
	case "drop":
		parts, err := l.seq(v, 2)
		if err != nil {
			return t, err
		}
		place, err := l.place(parts[0])
		if err != nil {
			return t, err
		}
		target, err := l.blockID(parts[1])
		if err != nil {
			return t, err
		}
		t.Kind = Drop{Place: place, Target: target}
	case "call":
		t.Kind, err = l.call(v)
	case "assert":
		t.Kind, err = l.assert(v)
	default:
		return t, l.errorf(n, "unknown terminator %q", kind)
	}
	return t, err
}

func (l *loader) targets(n *yaml.Node) ([]BlockID, error) {
	nodes, err := l.seq(n, -1)
	if err != nil {
		return nil, err
	}
	out := make([]BlockID, len(nodes))
	for i, tn := range nodes {
		if out[i], err = l.blockID(tn); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (l *loader) switchInt(n *yaml.Node) (TerminatorKind, error) {
	m, err := l.mapping(n)
	if err != nil {
		return nil, err
	}
	if m["discr"] == nil || m["ty"] == nil || m["values"] == nil || m["targets"] == nil {
		return nil, l.errorf(n, "switch_int needs discr, ty, values and targets")
	}
	discr, err := l.place(m["discr"])
	if err != nil {
		return nil, err
	}
	ty, err := l.ty(m["ty"])
	if err != nil {
		return nil, err
	}
	valueNodes, err := l.seq(m["values"], -1)
	if err != nil {
		return nil, err
	}
	values := make([]ConstVal, len(valueNodes))
	for i, vn := range valueNodes {
		if values[i], err = l.constVal(vn, ty); err != nil {
			return nil, err
		}
	}
	targets, err := l.targets(m["targets"])
	if err != nil {
		return nil, err
	}
	if len(targets) != len(values)+1 {
		return nil, l.errorf(n, "switch_int needs %d targets, got %d", len(values)+1, len(targets))
	}
	return SwitchInt{Discr: discr, SwitchTy: ty, Values: values, Targets: targets}, nil
}

func (l *loader) switchAdt(n *yaml.Node) (TerminatorKind, error) {
	m, err := l.mapping(n)
	if err != nil {
		return nil, err
	}
	if m["discr"] == nil || m["adt"] == nil || m["targets"] == nil {
		return nil, l.errorf(n, "switch needs discr, adt and targets")
	}
	discr, err := l.place(m["discr"])
	if err != nil {
		return nil, err
	}
	adt, ok := l.prog.Adts[m["adt"].Value]
	if !ok {
		return nil, l.errorf(m["adt"], "unknown adt %q", m["adt"].Value)
	}
	targets, err := l.targets(m["targets"])
	if err != nil {
		return nil, err
	}
	if len(targets) != len(adt.Variants) {
		return nil, l.errorf(n, "switch on %s needs %d targets", adt.Name, len(adt.Variants))
	}
	return Switch{Discr: discr, Adt: adt, Targets: targets}, nil
}

func (l *loader) call(n *yaml.Node) (TerminatorKind, error) {
	m, err := l.mapping(n)
	if err != nil {
		return nil, err
	}
	if m["fn"] == nil {
		return nil, l.errorf(n, "call needs fn")
	}
	fn, err := l.operand(m["fn"])
	if err != nil {
		return nil, err
	}
	c := Call{Func: fn}
	if an, ok := m["args"]; ok {
		nodes, err := l.seq(an, -1)
		if err != nil {
			return nil, err
		}
		for _, a := range nodes {
			op, err := l.operand(a)
			if err != nil {
				return nil, err
			}
			c.Args = append(c.Args, op)
		}
	}
	if dn, ok := m["dest"]; ok {
		place, err := l.place(dn)
		if err != nil {
			return nil, err
		}
		tn, ok := m["target"]
		if !ok {
			return nil, l.errorf(n, "call with dest needs target")
		}
		target, err := l.blockID(tn)
		if err != nil {
			return nil, err
		}
		c.Destination = &Destination{Place: place, Target: target}
	}
	return c, nil
}

func (l *loader) assert(n *yaml.Node) (TerminatorKind, error) {
	m, err := l.mapping(n)
	if err != nil {
		return nil, err
	}
	if m["cond"] == nil || m["target"] == nil {
		return nil, l.errorf(n, "assert needs cond and target")
	}
	cond, err := l.operand(m["cond"])
	if err != nil {
		return nil, err
	}
	target, err := l.blockID(m["target"])
	if err != nil {
		return nil, err
	}
	a := Assert{Cond: cond, Expected: true, Target: target, Msg: AssertMessage{Kind: AssertMath}}
	if en, ok := m["expected"]; ok {
		if a.Expected, err = strconv.ParseBool(en.Value); err != nil {
			return nil, l.errorf(en, "expected must be a bool")
		}
	}
	if bn, ok := m["bounds"]; ok {
		parts, err := l.seq(bn, 2)
		if err != nil {
			return nil, err
		}
		a.Msg.Kind = AssertBoundsCheck
		if a.Msg.Len, err = l.operand(parts[0]); err != nil {
			return nil, err
		}
		if a.Msg.Index, err = l.operand(parts[1]); err != nil {
			return nil, err
		}
	} else if mn, ok := m["msg"]; ok {
		a.Msg.Text = mn.Value
	}
	return a, nil
}

func (l *loader) local(s string) (Local, bool) {
	if !strings.HasPrefix(s, "_") {
		return 0, false
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return Local(n), true
}

func (l *loader) place(n *yaml.Node) (Lvalue, error) {
	if n.Kind == yaml.ScalarNode {
		local, ok := l.local(n.Value)
		if !ok {
			return Lvalue{}, l.errorf(n, "bad local %q", n.Value)
		}
		return LocalPlace(local), nil
	}
	m, err := l.mapping(n)
	if err != nil {
		return Lvalue{}, err
	}
	var lv Lvalue
	switch {
	case m["static"] != nil:
		lv = StaticPlace(DefID(m["static"].Value))
	case m["base"] != nil:
		local, ok := l.local(m["base"].Value)
		if !ok {
			return Lvalue{}, l.errorf(m["base"], "bad local %q", m["base"].Value)
		}
		lv = LocalPlace(local)
	default:
		return Lvalue{}, l.errorf(n, "place needs base or static")
	}
	pn, ok := m["proj"]
	if !ok {
		return lv, nil
	}
	projs, err := l.seq(pn, -1)
	if err != nil {
		return Lvalue{}, err
	}
	for _, p := range projs {
		if lv, err = l.projection(lv, p); err != nil {
			return Lvalue{}, err
		}
	}
	return lv, nil
}

func (l *loader) projection(lv Lvalue, n *yaml.Node) (Lvalue, error) {
	if n.Kind == yaml.ScalarNode {
		if n.Value == "deref" {
			return lv.Deref(), nil
		}
		return lv, l.errorf(n, "unknown projection %q", n.Value)
	}
	m, err := l.mapping(n)
	if err != nil {
		return lv, err
	}
	switch {
	case m["field"] != nil:
		i, err := l.int(m["field"])
		if err != nil {
			return lv, err
		}
		if m["ty"] == nil {
			return lv, l.errorf(n, "field projection needs ty")
		}
		ty, err := l.ty(m["ty"])
		if err != nil {
			return lv, err
		}
		return lv.Field(i, ty), nil
	case m["index"] != nil:
		op, err := l.operand(m["index"])
		if err != nil {
			return lv, err
		}
		return lv.Index(op), nil
	case m["const_index"] != nil:
		off, err := l.uint(m["const_index"])
		if err != nil {
			return lv, err
		}
		var minLen uint64
		if mn, ok := m["min"]; ok {
			if minLen, err = l.uint(mn); err != nil {
				return lv, err
			}
		}
		fromEnd := false
		if fe, ok := m["from_end"]; ok {
			fromEnd = fe.Value == "true"
		}
		return lv.ConstantIndex(off, minLen, fromEnd), nil
	case m["subslice"] != nil:
		parts, err := l.seq(m["subslice"], 2)
		if err != nil {
			return lv, err
		}
		from, err := l.uint(parts[0])
		if err != nil {
			return lv, err
		}
		to, err := l.uint(parts[1])
		if err != nil {
			return lv, err
		}
		return lv.Subslice(from, to), nil
	case m["downcast"] != nil:
		v, err := l.int(m["downcast"])
		if err != nil {
			return lv, err
		}
		return lv.Downcast(v), nil
	}
	return lv, l.errorf(n, "unknown projection")
}

func (l *loader) operand(n *yaml.Node) (Operand, error) {
	if n.Kind == yaml.ScalarNode {
		place, err := l.place(n)
		if err != nil {
			return Operand{}, err
		}
		return Consume(place), nil
	}
	m, err := l.mapping(n)
	if err != nil {
		return Operand{}, err
	}
	switch {
	case m["copy"] != nil:
		place, err := l.place(m["copy"])
		return Consume(place), err
	case m["move"] != nil:
		place, err := l.place(m["move"])
		return Consume(place), err
	case m["const"] != nil:
		if m["ty"] == nil {
			return Operand{}, l.errorf(n, "const needs ty")
		}
		ty, err := l.ty(m["ty"])
		if err != nil {
			return Operand{}, err
		}
		v, err := l.constVal(m["const"], ty)
		if err != nil {
			return Operand{}, err
		}
		return Lit(ty, v), nil
	case m["zst"] != nil:
		ty, err := l.ty(m["zst"])
		if err != nil {
			return Operand{}, err
		}
		return ZST(ty), nil
	case m["fn"] != nil:
		def := DefID(m["fn"].Value)
		args, err := l.tyList(m["args"])
		if err != nil {
			return Operand{}, err
		}
		var sig *FnSig
		if sn, ok := m["sig"]; ok {
			if sig, err = l.sig(sn); err != nil {
				return Operand{}, err
			}
		}
		return FnOperand(def, sig, args...), nil
	case m["item"] != nil:
		if m["ty"] == nil {
			return Operand{}, l.errorf(n, "item operand needs ty")
		}
		ty, err := l.ty(m["ty"])
		if err != nil {
			return Operand{}, err
		}
		args, err := l.tyList(m["args"])
		if err != nil {
			return Operand{}, err
		}
		return ItemOperand(ty, DefID(m["item"].Value), args...), nil
	case m["promoted"] != nil:
		if m["ty"] == nil {
			return Operand{}, l.errorf(n, "promoted operand needs ty")
		}
		ty, err := l.ty(m["ty"])
		if err != nil {
			return Operand{}, err
		}
		idx, err := l.int(m["promoted"])
		if err != nil {
			return Operand{}, err
		}
		return PromotedOperand(ty, idx), nil
	}
	return Operand{}, l.errorf(n, "unknown operand")
}

func (l *loader) constVal(n *yaml.Node, ty *Ty) (ConstVal, error) {
	switch ty.Kind {
	case TyBool:
		b, err := strconv.ParseBool(n.Value)
		if err != nil {
			return ConstVal{}, l.errorf(n, "bad bool %q", n.Value)
		}
		return BoolVal(b), nil
	case TyChar:
		r, size := utf8.DecodeRuneInString(n.Value)
		if r == utf8.RuneError || size != len(n.Value) {
			return ConstVal{}, l.errorf(n, "bad char %q", n.Value)
		}
		return CharVal(r), nil
	case TyInt:
		v, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return ConstVal{}, l.errorf(n, "bad integer %q", n.Value)
		}
		return IntVal(v), nil
	case TyUint:
		v, err := strconv.ParseUint(n.Value, 0, 64)
		if err != nil {
			return ConstVal{}, l.errorf(n, "bad integer %q", n.Value)
		}
		return UintVal(v), nil
	case TyFloat:
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return ConstVal{}, l.errorf(n, "bad float %q", n.Value)
		}
		return FloatVal(v), nil
	case TyRef:
		switch {
		case ty.Elem.Kind == TyStr:
			return StrVal(n.Value), nil
		case ty.Elem.Kind == TyArray && ty.Elem.Elem.Kind == TyUint && ty.Elem.Elem.Width == 8:
			if uint64(len(n.Value)) != ty.Elem.Len {
				return ConstVal{}, l.errorf(n, "byte string has length %d, type wants %d", len(n.Value), ty.Elem.Len)
			}
			return ByteStrVal([]byte(n.Value)), nil
		}
	}
	return ConstVal{}, l.errorf(n, "no literal form for type %s", ty)
}

func (l *loader) rvalue(n *yaml.Node) (Rvalue, error) {
	kind, v, _, err := l.tagged(n)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "use":
		op, err := l.operand(v)
		return Use{Operand: op}, err
	case "repeat":
		parts, err := l.seq(v, 2)
		if err != nil {
			return nil, err
		}
		op, err := l.operand(parts[0])
		if err != nil {
			return nil, err
		}
		count, err := l.uint(parts[1])
		return Repeat{Operand: op, Count: count}, err
	case "ref", "ref_mut":
		place, err := l.place(v)
		return Ref{Mutable: kind == "ref_mut", Place: place}, err
	case "len":
		place, err := l.place(v)
		return Len{Place: place}, err
	case "cast":
		return l.cast(v)
	case "binop", "checked":
		parts, err := l.seq(v, 3)
		if err != nil {
			return nil, err
		}
		op, err := ParseBinOp(parts[0].Value)
		if err != nil {
			return nil, l.errorf(parts[0], "%v", err)
		}
		left, err := l.operand(parts[1])
		if err != nil {
			return nil, err
		}
		right, err := l.operand(parts[2])
		if err != nil {
			return nil, err
		}
		if kind == "checked" {
			return CheckedBinaryOp{Op: op, Left: left, Right: right}, nil
		}
		return BinaryOp{Op: op, Left: left, Right: right}, nil
	case "unop":
		parts, err := l.seq(v, 2)
		if err != nil {
			return nil, err
		}
		var op UnOp
		switch strings.ToLower(parts[0].Value) {
		case "not":
			op = Not
		case "neg":
			op = Neg
		default:
			return nil, l.errorf(parts[0], "unknown unary operator %q", parts[0].Value)
		}
		operand, err := l.operand(parts[1])
		return UnaryOp{Op: op, Operand: operand}, err
	case "box":
		ty, err := l.ty(v)
		return Box{Ty: ty}, err
	case "array", "tuple":
		ops, err := l.operands(v)
		if err != nil {
			return nil, err
		}
		if kind == "array" {
			return Aggregate{Kind: AggregateArray, Operands: ops}, nil
		}
		return Aggregate{Kind: AggregateTuple, Operands: ops}, nil
	case "adt":
		return l.adtAggregate(v)
	case "asm":
		return InlineAsm{Asm: v.Value}, nil
	}
	return nil, l.errorf(n, "unknown rvalue %q", kind)
}

func (l *loader) operands(n *yaml.Node) ([]Operand, error) {
	nodes, err := l.seq(n, -1)
	if err != nil {
		return nil, err
	}
	ops := make([]Operand, len(nodes))
	for i, on := range nodes {
		if ops[i], err = l.operand(on); err != nil {
			return nil, err
		}
	}
	return ops, nil
}

func (l *loader) cast(n *yaml.Node) (Rvalue, error) {
	m, err := l.mapping(n)
	if err != nil {
		return nil, err
	}
	if m["op"] == nil || m["ty"] == nil {
		return nil, l.errorf(n, "cast needs op and ty")
	}
	c := Cast{Kind: CastMisc}
	if kn, ok := m["kind"]; ok {
		switch kn.Value {
		case "misc":
		case "unsize":
			c.Kind = CastUnsize
		case "reify":
			c.Kind = CastReifyFnPointer
		case "unsafe_fn":
			c.Kind = CastUnsafeFnPointer
		default:
			return nil, l.errorf(kn, "unknown cast kind %q", kn.Value)
		}
	}
	if c.Operand, err = l.operand(m["op"]); err != nil {
		return nil, err
	}
	if c.Ty, err = l.ty(m["ty"]); err != nil {
		return nil, err
	}
	return c, nil
}

func (l *loader) adtAggregate(n *yaml.Node) (Rvalue, error) {
	m, err := l.mapping(n)
	if err != nil {
		return nil, err
	}
	if m["name"] == nil {
		return nil, l.errorf(n, "adt aggregate needs name")
	}
	def, ok := l.prog.Adts[m["name"].Value]
	if !ok {
		return nil, l.errorf(m["name"], "unknown adt %q", m["name"].Value)
	}
	agg := Aggregate{Kind: AggregateAdt, Adt: def}
	if vn, ok := m["variant"]; ok {
		idx, found := def.VariantByName(vn.Value)
		if !found {
			if idx, err = l.int(vn); err != nil {
				return nil, l.errorf(vn, "unknown variant %q of %s", vn.Value, def.Name)
			}
		}
		if idx < 0 || idx >= len(def.Variants) {
			return nil, l.errorf(vn, "variant %d out of range for %s", idx, def.Name)
		}
		agg.Variant = idx
	}
	if agg.Substs, err = l.tyList(m["args"]); err != nil {
		return nil, err
	}
	if fn, ok := m["fields"]; ok {
		if agg.Operands, err = l.operands(fn); err != nil {
			return nil, err
		}
	}
	return agg, nil
}

func (l *loader) tyList(n *yaml.Node) ([]*Ty, error) {
	if n == nil {
		return nil, nil
	}
	nodes, err := l.seq(n, -1)
	if err != nil {
		return nil, err
	}
	tys := make([]*Ty, len(nodes))
	for i, tn := range nodes {
		if tys[i], err = l.ty(tn); err != nil {
			return nil, err
		}
	}
	return tys, nil
}

func (l *loader) sig(n *yaml.Node) (*FnSig, error) {
	var rs rawSig
	if err := n.Decode(&rs); err != nil {
		return nil, l.errorf(n, "bad signature: %v", err)
	}
	sig := &FnSig{Output: Unit}
	switch strings.ToLower(rs.Abi) {
	case "", "rust":
		sig.Abi = AbiRust
	case "rust-call":
		sig.Abi = AbiRustCall
	case "rust-intrinsic", "intrinsic":
		sig.Abi = AbiRustIntrinsic
	case "c":
		sig.Abi = AbiC
	default:
		return nil, l.errorf(n, "unknown abi %q", rs.Abi)
	}
	for i := range rs.Inputs {
		ty, err := l.ty(&rs.Inputs[i])
		if err != nil {
			return nil, err
		}
		sig.Inputs = append(sig.Inputs, ty)
	}
	if rs.Output.Kind != 0 {
		out, err := l.ty(&rs.Output)
		if err != nil {
			return nil, err
		}
		sig.Output = out
	}
	return sig, nil
}

var primitiveTys = map[string]*Ty{
	"bool": Bool, "char": Char, "str": Str, "()": Unit, "!": Never,
	"i8": I8, "i16": I16, "i32": I32, "i64": I64, "isize": Isize,
	"u8": U8, "u16": U16, "u32": U32, "u64": U64, "usize": Usize,
	"f32": F32, "f64": F64,
}

func (l *loader) ty(n *yaml.Node) (*Ty, error) {
	if n == nil || n.Kind == 0 {
		return nil, l.errorf(n, "missing type")
	}
	switch n.Kind {
	case yaml.ScalarNode:
		if t, ok := primitiveTys[n.Value]; ok {
			return t, nil
		}
		for i, p := range l.params {
			if p == n.Value {
				return ParamTy(i, p), nil
			}
		}
		if def, ok := l.prog.Adts[n.Value]; ok {
			return AdtTy(def), nil
		}
		return nil, l.errorf(n, "unknown type %q", n.Value)
	case yaml.SequenceNode:
		elems, err := l.tyList(n)
		if err != nil {
			return nil, err
		}
		return TupleTy(elems...), nil
	}

	m, err := l.mapping(n)
	if err != nil {
		return nil, err
	}
	elem := func(key string) (*Ty, error) { return l.ty(m[key]) }
	switch {
	case m["ref"] != nil:
		e, err := elem("ref")
		return wrap(e, err, func(e *Ty) *Ty { return RefTy(e, false) })
	case m["ref_mut"] != nil:
		e, err := elem("ref_mut")
		return wrap(e, err, func(e *Ty) *Ty { return RefTy(e, true) })
	case m["ptr"] != nil:
		e, err := elem("ptr")
		return wrap(e, err, func(e *Ty) *Ty { return RawPtrTy(e, false) })
	case m["ptr_mut"] != nil:
		e, err := elem("ptr_mut")
		return wrap(e, err, func(e *Ty) *Ty { return RawPtrTy(e, true) })
	case m["box"] != nil:
		e, err := elem("box")
		return wrap(e, err, BoxTy)
	case m["slice"] != nil:
		e, err := elem("slice")
		return wrap(e, err, SliceTy)
	case m["array"] != nil:
		if m["len"] == nil {
			return nil, l.errorf(n, "array type needs len")
		}
		length, err := l.uint(m["len"])
		if err != nil {
			return nil, err
		}
		e, err := elem("array")
		return wrap(e, err, func(e *Ty) *Ty { return ArrayTy(e, length) })
	case m["tuple"] != nil:
		elems, err := l.tyList(m["tuple"])
		if err != nil {
			return nil, err
		}
		return TupleTy(elems...), nil
	case m["adt"] != nil:
		def, ok := l.prog.Adts[m["adt"].Value]
		if !ok {
			return nil, l.errorf(m["adt"], "unknown adt %q", m["adt"].Value)
		}
		args, err := l.tyList(m["args"])
		if err != nil {
			return nil, err
		}
		return AdtTy(def, args...), nil
	case m["fn"] != nil:
		args, err := l.tyList(m["args"])
		if err != nil {
			return nil, err
		}
		var sig *FnSig
		if sn, ok := m["sig"]; ok {
			if sig, err = l.sig(sn); err != nil {
				return nil, err
			}
		}
		return FnDefTy(DefID(m["fn"].Value), sig, args...), nil
	case m["fn_ptr"] != nil:
		sig, err := l.sig(m["fn_ptr"])
		if err != nil {
			return nil, err
		}
		return FnPtrTy(sig), nil
	case m["dyn"] != nil:
		return DynTy(m["dyn"].Value), nil
	case m["param"] != nil:
		idx, err := l.int(m["param"])
		if err != nil {
			return nil, err
		}
		name := ""
		if idx < len(l.params) {
			name = l.params[idx]
		}
		return ParamTy(idx, name), nil
	}
	return nil, l.errorf(n, "unknown type form")
}

func wrap(e *Ty, err error, mk func(*Ty) *Ty) (*Ty, error) {
	if err != nil {
		return nil, err
	}
	return mk(e), nil
}

package layout_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mire/pkg/ir"
	"mire/pkg/layout"
)

func optionDef() *ir.AdtDef {
	return &ir.AdtDef{
		Name:   "Option",
		Kind:   ir.AdtEnum,
		Params: []string{"T"},
		Variants: []*ir.VariantDef{
			{Name: "None", Discr: 0},
			{Name: "Some", Discr: 1, Fields: []*ir.FieldDef{{Ty: ir.ParamTy(0, "T")}}},
		},
	}
}

func TestScalarSizes(t *testing.T) {
	c := layout.New(ir.NewProgram(), 8)

	tests := []struct {
		ty          *ir.Ty
		size, align uint64
		description string
	}{
		{ir.Bool, 1, 1, "bool"},
		{ir.Char, 4, 4, "char"},
		{ir.I16, 2, 2, "i16"},
		{ir.Usize, 8, 8, "usize follows the pointer size"},
		{ir.F64, 8, 8, "f64"},
		{ir.RefTy(ir.U8, false), 8, 8, "thin reference"},
		{ir.RefTy(ir.SliceTy(ir.U8), false), 16, 8, "slice reference is fat"},
		{ir.BoxTy(ir.DynTy("Trait")), 16, 8, "trait object box is fat"},
		{ir.ArrayTy(ir.U16, 3), 6, 2, "array"},
		{ir.Unit, 0, 1, "unit"},
		{ir.TupleTy(ir.U8, ir.U32), 8, 4, "tuple padding"},
		{ir.TupleTy(ir.U32, ir.U8), 8, 4, "tuple tail padding"},
	}

	for _, tt := range tests {
		l, err := c.Layout(tt.ty)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}
		if l.Size() != tt.size || l.Align() != tt.align {
			t.Errorf("%s: got size %d align %d, want %d/%d", tt.description, l.Size(), l.Align(), tt.size, tt.align)
		}
	}
}

func TestStructOffsets(t *testing.T) {
	def := &ir.AdtDef{
		Name: "S",
		Kind: ir.AdtStruct,
		Variants: []*ir.VariantDef{{Fields: []*ir.FieldDef{
			{Name: "a", Ty: ir.U8},
			{Name: "b", Ty: ir.U64},
			{Name: "c", Ty: ir.U16},
		}}},
	}
	c := layout.New(ir.NewProgram(), 8)
	l, err := c.Layout(ir.AdtTy(def))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, ok := l.(*layout.Univariant)
	if !ok {
		t.Fatalf("got %T, want *layout.Univariant", l)
	}
	if diff := cmp.Diff([]uint64{0, 8, 16}, u.Variant.Offsets); diff != "" {
		t.Errorf("offsets mismatch (-want +got):\n%s", diff)
	}
	if u.Size() != 24 {
		t.Errorf("size = %d, want 24", u.Size())
	}
}

func TestNullablePointerEnums(t *testing.T) {
	opt := optionDef()
	c := layout.New(ir.NewProgram(), 8)

	l, err := c.Layout(ir.AdtTy(opt, ir.RefTy(ir.I32, false)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, ok := l.(*layout.RawNullablePointer)
	if !ok {
		t.Fatalf("Option<&i32>: got %T, want *layout.RawNullablePointer", l)
	}
	if raw.NonNullDiscr != 1 || raw.Size() != 8 {
		t.Errorf("Option<&i32>: got discr %d size %d", raw.NonNullDiscr, raw.Size())
	}

	l, err = c.Layout(ir.AdtTy(opt, ir.RefTy(ir.SliceTy(ir.U8), false)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wrapped, ok := l.(*layout.StructWrappedNullablePointer)
	if !ok {
		t.Fatalf("Option<&[u8]>: got %T, want *layout.StructWrappedNullablePointer", l)
	}
	if diff := cmp.Diff([]int{0, layout.FatPtrAddr}, wrapped.DiscrField); diff != "" {
		t.Errorf("discriminant path mismatch (-want +got):\n%s", diff)
	}
	if wrapped.Size() != 16 {
		t.Errorf("Option<&[u8]>: size = %d, want 16", wrapped.Size())
	}

	l, err = c.Layout(ir.AdtTy(opt, ir.TupleTy(ir.U32, ir.BoxTy(ir.U8))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wrapped, ok = l.(*layout.StructWrappedNullablePointer)
	if !ok {
		t.Fatalf("Option<(u32, Box<u8>)>: got %T", l)
	}
	if diff := cmp.Diff([]int{0, 1}, wrapped.DiscrField); diff != "" {
		t.Errorf("nested path mismatch (-want +got):\n%s", diff)
	}

	l, err = c.Layout(ir.AdtTy(opt, ir.U32))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.(*layout.General); !ok {
		t.Errorf("Option<u32>: got %T, want *layout.General", l)
	}
}

func TestCEnum(t *testing.T) {
	tests := []struct {
		discrs      []int64
		repr        string
		expected    layout.Integer
		signed      bool
		description string
	}{
		{[]int64{0, 1, 2}, "", layout.I8, false, "small unsigned"},
		{[]int64{-1, 1}, "", layout.I8, true, "negative discriminant"},
		{[]int64{0, 300}, "", layout.I16, false, "wide discriminant"},
		{[]int64{0, 1}, "C", layout.I32, false, "C representation"},
		{[]int64{0, 1}, "u64", layout.I64, false, "explicit integer"},
		{[]int64{-40000, 0}, "", layout.I32, true, "wide negative"},
	}

	for _, tt := range tests {
		def := &ir.AdtDef{Name: "E", Kind: ir.AdtEnum, Repr: tt.repr}
		for _, d := range tt.discrs {
			def.Variants = append(def.Variants, &ir.VariantDef{Discr: d})
		}
		c := layout.New(ir.NewProgram(), 8)
		l, err := c.Layout(ir.AdtTy(def))
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}
		ce, ok := l.(*layout.CEnum)
		if !ok {
			t.Errorf("%s: got %T, want *layout.CEnum", tt.description, l)
			continue
		}
		if ce.Discr != tt.expected || ce.Signed != tt.signed {
			t.Errorf("%s: got %s signed=%t, want %s signed=%t", tt.description, ce.Discr, ce.Signed, tt.expected, tt.signed)
		}
	}
}

func TestGeneralEnum(t *testing.T) {
	def := &ir.AdtDef{
		Name: "E",
		Kind: ir.AdtEnum,
		Variants: []*ir.VariantDef{
			{Name: "A", Discr: 0, Fields: []*ir.FieldDef{{Ty: ir.U8}}},
			{Name: "B", Discr: 1, Fields: []*ir.FieldDef{{Ty: ir.U32}}},
			{Name: "C", Discr: 2},
		},
	}
	c := layout.New(ir.NewProgram(), 8)
	l, err := c.Layout(ir.AdtTy(def))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, ok := l.(*layout.General)
	if !ok {
		t.Fatalf("got %T, want *layout.General", l)
	}
	if g.Discr != layout.I8 {
		t.Errorf("discriminant = %s, want i8", g.Discr)
	}
	if diff := cmp.Diff([]uint64{0, 1}, g.Variants[0].Offsets); diff != "" {
		t.Errorf("variant A offsets (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{0, 4}, g.Variants[1].Offsets); diff != "" {
		t.Errorf("variant B offsets (-want +got):\n%s", diff)
	}
	if g.Size() != 8 || g.Align() != 4 {
		t.Errorf("got size %d align %d, want 8/4", g.Size(), g.Align())
	}
}

func TestEmptyEnumIsZeroSized(t *testing.T) {
	c := layout.New(ir.NewProgram(), 8)
	l, err := c.Layout(ir.AdtTy(&ir.AdtDef{Name: "Void", Kind: ir.AdtEnum}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := l.(*layout.Univariant); !ok || l.Size() != 0 {
		t.Errorf("got %T of size %d, want empty univariant", l, l.Size())
	}
}

func TestGenericTypeRejected(t *testing.T) {
	c := layout.New(ir.NewProgram(), 8)
	_, err := c.Layout(ir.TupleTy(ir.ParamTy(0, "T")))
	if !errors.Is(err, layout.ErrGenericType) {
		t.Errorf("got %v, want ErrGenericType", err)
	}
}

func TestSizedAndNeedsDrop(t *testing.T) {
	prog := ir.NewProgram()
	guard := &ir.AdtDef{Name: "Guard", Kind: ir.AdtStruct, Variants: []*ir.VariantDef{{}}}
	prog.AddAdt(guard)
	prog.AddImpl(&ir.Impl{Trait: ir.DropTrait, Self: ir.AdtTy(guard), Methods: map[string]ir.DefID{"drop": "Guard::drop"}})
	c := layout.New(prog, 8)

	tests := []struct {
		ty          *ir.Ty
		sized       bool
		needsDrop   bool
		description string
	}{
		{ir.I32, true, false, "integer"},
		{ir.Str, false, false, "str"},
		{ir.SliceTy(ir.BoxTy(ir.U8)), false, true, "slice of boxes"},
		{ir.BoxTy(ir.U8), true, true, "box"},
		{ir.TupleTy(ir.U8, ir.SliceTy(ir.U8)), false, false, "tuple with unsized tail"},
		{ir.AdtTy(guard), true, true, "type with a drop impl"},
		{ir.RefTy(ir.AdtTy(guard), false), true, false, "reference to a droppable type"},
		{ir.AdtTy(optionDef(), ir.AdtTy(guard)), true, true, "enum holding a droppable payload"},
	}

	for _, tt := range tests {
		if got := c.IsSized(tt.ty); got != tt.sized {
			t.Errorf("%s: IsSized = %t, want %t", tt.description, got, tt.sized)
		}
		if got := c.NeedsDrop(tt.ty); got != tt.needsDrop {
			t.Errorf("%s: NeedsDrop = %t, want %t", tt.description, got, tt.needsDrop)
		}
	}
}

package interpreter_test

import (
	"fmt"
	"testing"

	"mire/pkg/ir"
	"mire/pkg/layout"
)

func TestStructWrappedNullablePointer(t *testing.T) {
	src := `
adts:
  - name: Option
    kind: enum
    params: [T]
    variants:
      - {name: None}
      - {name: Some, fields: [{ty: T}]}
items:
  - def: main
    body:
      locals: [usize, {array: u8, len: 3}, {ref: {array: u8, len: 3}}, {ref: {slice: u8}}, {adt: Option, args: [{ref: {slice: u8}}]}]
      blocks:
        - stmts:
            - assign: [_1, {repeat: [{const: 7, ty: u8}, 3]}]
            - assign: [_2, {ref: _1}]
            - assign: [_3, {cast: {op: _2, ty: {ref: {slice: u8}}, kind: unsize}}]
            - assign: [_4, {adt: {name: Option, args: [{ref: {slice: u8}}], variant: %s}}]
            - %s
          term: {switch: {discr: _4, adt: Option, targets: [1, 2]}}
        - stmts: [{assign: [_0, {use: {const: 100, ty: usize}}]}]
          term: return
        - stmts:
            - assign: [_0, {len: {base: _4, proj: [{downcast: 1}, {field: 0, ty: {ref: {slice: u8}}}, deref]}}]
          term: return
`

	tests := []struct {
		variant     string
		stmt        string
		expected    int64
		description string
	}{
		{"None", "nop", 100, "null data pointer is None"},
		{"Some, fields: [_3]", "nop", 3, "a slice reference is Some"},
		{"Some, fields: [_3]", "set_discriminant: [_4, 0]", 100, "tagging Some as None nulls the data pointer"},
		{"Some, fields: [_3]", "set_discriminant: [_4, 1]", 3, "tagging Some as Some keeps the payload"},
	}

	for _, tt := range tests {
		ecx, err := run(t, fmt.Sprintf(src, tt.variant, tt.stmt), "main")
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}
		if got := result(t, ecx, 8); got != tt.expected {
			t.Errorf("%s: expected %d, got %d", tt.description, tt.expected, got)
		}

		optTy := ecx.Program().Items["main"].Body.Locals[4].Ty
		l, err := ecx.Layouts().Layout(optTy)
		if err != nil {
			t.Fatalf("layout: unexpected error: %v", err)
		}
		swnp, ok := l.(*layout.StructWrappedNullablePointer)
		if !ok || l.Size() != 16 {
			t.Fatalf("%s: expected a 16-byte struct-wrapped nullable pointer, got %T of size %d", tt.description, l, l.Size())
		}
		if len(swnp.DiscrField) != 2 || swnp.DiscrField[0] != 0 || swnp.DiscrField[1] != layout.FatPtrAddr {
			t.Errorf("%s: expected the discriminant at the data pointer, got path %v", tt.description, swnp.DiscrField)
		}
	}
}

func TestCheckedPairs(t *testing.T) {
	src := `
items:
  - {def: add_with_overflow, kind: intrinsic, generics: [T], sig: {inputs: [T, T], output: [T, bool]}}
  - def: checked_add
    body:
      locals: [[u32, bool]]
      blocks:
        - stmts:
            - assign: [_0, {checked: [add, {const: 7, ty: u32}, {const: 5, ty: u32}]}]
          term: return
  - def: checked_sub
    body:
      locals: [[u32, bool]]
      blocks:
        - stmts:
            - assign: [_0, {checked: [sub, {const: 0, ty: u32}, {const: 1, ty: u32}]}]
          term: return
  - def: intrinsic_add
    body:
      locals: [[u8, bool]]
      blocks:
        - term: {call: {fn: {fn: add_with_overflow, args: [u8]}, args: [{const: 255, ty: u8}, {const: 1, ty: u8}], dest: _0, target: 1}}
        - term: return
`

	tests := []struct {
		entry       string
		size        uint64
		value       uint64
		overflowed  bool
		description string
	}{
		{"checked_add", 4, 12, false, "checked add in range"},
		{"checked_sub", 4, 0xffffffff, true, "checked sub wraps below zero"},
		{"intrinsic_add", 1, 0, true, "add_with_overflow wraps at u8"},
	}

	for _, tt := range tests {
		ecx, err := run(t, src, tt.entry)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}

		l, err := ecx.Layouts().Layout(ecx.Program().Items[ir.DefID(tt.entry)].Body.ReturnTy())
		if err != nil {
			t.Fatalf("layout: unexpected error: %v", err)
		}
		pair, ok := l.(*layout.Univariant)
		if !ok || len(pair.Variant.Offsets) != 2 {
			t.Fatalf("%s: expected a two-field record layout, got %T", tt.description, l)
		}

		ret := ecx.ReturnPtr()
		value, err := ecx.Memory().ReadUint(ret.Add(pair.Variant.Offsets[0]), tt.size)
		if err != nil {
			t.Fatalf("%s: read value: %v", tt.description, err)
		}
		overflowed, err := ecx.Memory().ReadBool(ret.Add(pair.Variant.Offsets[1]))
		if err != nil {
			t.Fatalf("%s: read flag: %v", tt.description, err)
		}
		if value != tt.value || overflowed != tt.overflowed {
			t.Errorf("%s: expected (%d, %t), got (%d, %t)", tt.description, tt.value, tt.overflowed, value, overflowed)
		}
	}
}

func TestBitIntrinsics(t *testing.T) {
	src := `
items:
  - {def: %[1]s, kind: intrinsic, generics: [T], sig: {inputs: [T], output: T}}
  - def: main
    body:
      locals: [%[2]s]
      blocks:
        - term: {call: {fn: {fn: %[1]s, args: [%[2]s]}, args: [{const: %[3]d, ty: %[2]s}], dest: _0, target: 1}}
        - term: return
`

	tests := []struct {
		name        string
		ty          string
		size        uint64
		arg         int64
		expected    int64
		description string
	}{
		{"ctlz", "i16", 2, 1, 15, "leading zeros count only the low 16 bits"},
		{"ctlz", "i16", 2, -1, 0, "negative i16 has no leading zeros"},
		{"ctlz", "i8", 1, 1, 7, "leading zeros of an i8"},
		{"cttz", "i16", 2, 0, 16, "trailing zeros of zero is the width"},
		{"cttz", "i16", 2, -32768, 15, "trailing zeros of the sign bit"},
		{"bswap", "i16", 2, 0x0080, -32768, "byte swap into the sign bit"},
		{"bswap", "i16", 2, 0x1234, 0x3412, "byte swap of an i16"},
		{"ctpop", "i16", 2, -1, 16, "population count ignores sign extension"},
		{"ctpop", "i32", 4, -1, 32, "population count of an i32"},
	}

	for _, tt := range tests {
		ecx, err := run(t, fmt.Sprintf(src, tt.name, tt.ty, tt.arg), "main")
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}
		if got := result(t, ecx, tt.size); got != tt.expected {
			t.Errorf("%s: expected %d, got %d", tt.description, tt.expected, got)
		}
	}
}

const dstProgram = `
adts:
  - {name: W, params: [T], fields: [{name: n, ty: u32}, {name: data, ty: T}]}
  - {name: Holder, params: [T], fields: [{name: tag, ty: u8}, {name: r, ty: {ref: T}}]}
  - {name: Circle, fields: [{name: r, ty: u32}]}
traits:
  - {name: Shape, methods: [area]}
impls:
  - {trait: Shape, self: Circle, methods: {area: circle_area}}
items:
  - {def: size_of_val, kind: intrinsic, generics: [T], sig: {inputs: [{ref: T}], output: usize}}
  - {def: min_align_of_val, kind: intrinsic, generics: [T], sig: {inputs: [{ref: T}], output: usize}}
  - def: "Shape::area"
    trait: Shape
    generics: [Self]
    sig: {inputs: [{ref: Self}], output: u32}
  - def: circle_area
    body:
      args: 1
      locals: [u32, {ref: Circle}]
      blocks:
        - stmts:
            - assign: [_0, {binop: [mul, {copy: {base: _1, proj: [deref, {field: 0, ty: u32}]}}, {const: 3, ty: u32}]}]
          term: return
  - def: tail
    body:
      locals:
        - usize
        - {array: u16, len: 3}
        - {adt: W, args: [{array: u16, len: 3}]}
        - {ref: {adt: W, args: [{array: u16, len: 3}]}}
        - {ref: {adt: W, args: [{slice: u16}]}}
      blocks:
        - stmts:
            - assign: [_1, {repeat: [{const: 40, ty: u16}, 3]}]
            - assign: [_2, {adt: {name: W, args: [{array: u16, len: 3}], fields: [{const: 1, ty: u32}, _1]}}]
            - assign: [_3, {ref: _2}]
            - assign: [_4, {cast: {op: _3, ty: {ref: {adt: W, args: [{slice: u16}]}}, kind: unsize}}]
          term: {call: {fn: {fn: %[1]s, args: [{adt: W, args: [{slice: u16}]}]}, args: [_4], dest: _0, target: 1}}
        - term: return
  - def: slice
    body:
      locals: [usize, {array: u16, len: 3}, {ref: {array: u16, len: 3}}, {ref: {slice: u16}}]
      blocks:
        - stmts:
            - assign: [_1, {repeat: [{const: 40, ty: u16}, 3]}]
            - assign: [_2, {ref: _1}]
            - assign: [_3, {cast: {op: _2, ty: {ref: {slice: u16}}, kind: unsize}}]
          term: {call: {fn: {fn: %[1]s, args: [{slice: u16}]}, args: [_3], dest: _0, target: 1}}
        - term: return
  - def: dyn
    body:
      locals: [usize, Circle, {ref: Circle}, {ref: {dyn: Shape}}]
      blocks:
        - stmts:
            - assign: [_1, {adt: {name: Circle, fields: [{const: 2, ty: u32}]}}]
            - assign: [_2, {ref: _1}]
            - assign: [_3, {cast: {op: _2, ty: {ref: {dyn: Shape}}, kind: unsize}}]
          term: {call: {fn: {fn: %[1]s, args: [{dyn: Shape}]}, args: [_3], dest: _0, target: 1}}
        - term: return
  - def: tail_len
    body:
      locals:
        - usize
        - {array: u16, len: 3}
        - {adt: W, args: [{array: u16, len: 3}]}
        - {ref: {adt: W, args: [{array: u16, len: 3}]}}
        - {ref: {adt: W, args: [{slice: u16}]}}
        - u16
        - usize
      blocks:
        - stmts:
            - assign: [_1, {repeat: [{const: 40, ty: u16}, 3]}]
            - assign: [_2, {adt: {name: W, args: [{array: u16, len: 3}], fields: [{const: 1, ty: u32}, _1]}}]
            - assign: [_3, {ref: _2}]
            - assign: [_4, {cast: {op: _3, ty: {ref: {adt: W, args: [{slice: u16}]}}, kind: unsize}}]
            - assign: [_0, {len: {base: _4, proj: [deref, {field: 1, ty: {slice: u16}}]}}]
            - assign: [_5, {use: {copy: {base: _4, proj: [deref, {field: 1, ty: {slice: u16}}, {const_index: 2, min: 3}]}}}]
            - assign: [_6, {cast: {op: _5, ty: usize}}]
            - assign: [_0, {binop: [add, _0, _6]}]
          term: return
  - def: holder
    body:
      locals:
        - usize
        - {array: u8, len: 4}
        - {ref: {array: u8, len: 4}}
        - {adt: Holder, args: [{array: u8, len: 4}]}
        - {adt: Holder, args: [{slice: u8}]}
        - u8
        - usize
      blocks:
        - stmts:
            - assign: [_1, {repeat: [{const: 0, ty: u8}, 4]}]
            - assign: [_2, {ref: _1}]
            - assign: [_3, {adt: {name: Holder, args: [{array: u8, len: 4}], fields: [{const: 7, ty: u8}, _2]}}]
            - assign: [_4, {cast: {op: _3, ty: {adt: Holder, args: [{slice: u8}]}, kind: unsize}}]
            - assign: [_0, {len: {base: _4, proj: [{field: 1, ty: {ref: {slice: u8}}}, deref]}}]
            - assign: [_5, {use: {copy: {base: _4, proj: [{field: 0, ty: u8}]}}}]
            - assign: [_6, {cast: {op: _5, ty: usize}}]
            - assign: [_0, {binop: [add, _0, _6]}]
          term: return
  - def: dyn_to_dyn
    body:
      locals: [u32, Circle, {ref: Circle}, {ref: {dyn: Shape}}, {ref: {dyn: Shape}}]
      blocks:
        - stmts:
            - assign: [_1, {adt: {name: Circle, fields: [{const: 2, ty: u32}]}}]
            - assign: [_2, {ref: _1}]
            - assign: [_3, {cast: {op: _2, ty: {ref: {dyn: Shape}}, kind: unsize}}]
            - assign: [_4, {cast: {op: _3, ty: {ref: {dyn: Shape}}, kind: unsize}}]
          term: {call: {fn: {fn: "Shape::area", args: [{dyn: Shape}]}, args: [_4], dest: _0, target: 1}}
        - term: return
`

func TestDynamicSizeAndAlign(t *testing.T) {
	tests := []struct {
		intrinsic   string
		entry       string
		expected    int64
		description string
	}{
		{"size_of_val", "tail", 12, "record with a slice tail rounds up to its alignment"},
		{"min_align_of_val", "tail", 4, "record with a slice tail takes its widest field"},
		{"size_of_val", "slice", 6, "slice of three u16"},
		{"min_align_of_val", "slice", 2, "slice aligns like its element"},
		{"size_of_val", "dyn", 4, "trait object reads its vtable size"},
		{"min_align_of_val", "dyn", 4, "trait object reads its vtable alignment"},
	}

	for _, tt := range tests {
		ecx, err := run(t, fmt.Sprintf(dstProgram, tt.intrinsic), tt.entry)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}
		if got := result(t, ecx, 8); got != tt.expected {
			t.Errorf("%s: expected %d, got %d", tt.description, tt.expected, got)
		}
	}
}

func TestUnsizeRecords(t *testing.T) {
	tests := []struct {
		entry       string
		size        uint64
		expected    int64
		description string
	}{
		{"tail_len", 8, 3 + 40, "pointer to a record unsizes its array tail"},
		{"holder", 8, 4 + 7, "record value unsizes its pointer field"},
		{"dyn_to_dyn", 4, 6, "trait object to the same trait keeps its vtable"},
	}

	for _, tt := range tests {
		ecx, err := run(t, fmt.Sprintf(dstProgram, "size_of_val"), tt.entry)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}
		if got := result(t, ecx, tt.size); got != tt.expected {
			t.Errorf("%s: expected %d, got %d", tt.description, tt.expected, got)
		}
	}
}

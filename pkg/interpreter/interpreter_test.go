package interpreter_test

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/google/go-cmp/cmp"

	"mire/pkg/interpreter"
	"mire/pkg/ir"
	"mire/pkg/layout"
	"mire/pkg/memory"
)

func load(t *testing.T, src string) *ir.Program {
	t.Helper()
	prog, err := ir.Load(strings.NewReader(src), "test.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return prog
}

func run(t *testing.T, src, entry string, opts ...interpreter.Option) (*interpreter.EvalContext, error) {
	t.Helper()
	opts = append([]interpreter.Option{interpreter.WithLogger(log.New(io.Discard))}, opts...)
	return interpreter.EvalMain(load(t, src), ir.DefID(entry), opts...)
}

// result reads the integer the entry function returned.
func result(t *testing.T, ecx *interpreter.EvalContext, size uint64) int64 {
	t.Helper()
	n, err := ecx.Memory().ReadInt(ecx.ReturnPtr(), size)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	return n
}

func expectFailure(t *testing.T, description string, err error, sentinel error, kind interpreter.Kind) *interpreter.RunError {
	t.Helper()
	if !errors.Is(err, sentinel) {
		t.Errorf("%s: expected %v, got %v", description, sentinel, err)
		return nil
	}
	var re *interpreter.RunError
	if !errors.As(err, &re) {
		t.Errorf("%s: expected a *RunError, got %T", description, err)
		return nil
	}
	if re.Kind() != kind {
		t.Errorf("%s: expected kind %s, got %s", description, kind, re.Kind())
	}
	return re
}

const addProgram = `
items:
  - def: add
    body:
      args: 2
      locals: [i32, i32, i32, [i32, bool]]
      blocks:
        - stmts:
            - assign: [_3, {checked: [add, _1, _2]}]
          term:
            assert:
              cond: {copy: {base: _3, proj: [{field: 1, ty: bool}]}}
              expected: false
              msg: attempt to add with overflow
              target: 1
            at: "5:9"
        - stmts:
            - assign: [_0, {use: {copy: {base: _3, proj: [{field: 0, ty: i32}]}}}]
          term: return
  - def: main
    body:
      locals: [i32]
      blocks:
        - term:
            call:
              fn: {fn: add}
              args: [{const: %d, ty: i32}, {const: 2, ty: i32}]
              dest: _0
              target: 1
        - term: return
`

func TestCall(t *testing.T) {
	ecx, err := run(t, fmt.Sprintf(addProgram, 40), "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result(t, ecx, 4); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if len(ecx.Stack()) != 0 {
		t.Errorf("expected an empty stack, got %d frames", len(ecx.Stack()))
	}
}

func TestCheckedOverflow(t *testing.T) {
	_, err := run(t, fmt.Sprintf(addProgram, 2147483647), "main")
	re := expectFailure(t, "i32 overflow", err, interpreter.ErrMath, interpreter.KindInvalidProgramState)
	if re == nil {
		return
	}

	var defs []ir.DefID
	for _, f := range re.Trace {
		defs = append(defs, f.Def)
	}
	if diff := cmp.Diff([]ir.DefID{"add", "main"}, defs); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ir.Span{File: "test.yaml", Line: 5, Column: 9}, re.Span); diff != "" {
		t.Errorf("span mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(re.Error(), "attempt to add with overflow") {
		t.Errorf("expected the assert message in %q", re.Error())
	}
}

func TestResourceLimits(t *testing.T) {
	recursion := `
items:
  - def: main
    body:
      locals: ["()"]
      blocks:
        - term: {call: {fn: {fn: main}, dest: _0, target: 1}}
        - term: return
`
	loop := `
items:
  - def: main
    body:
      locals: ["()"]
      blocks:
        - term: {goto: 0}
`
	big := `
items:
  - def: main
    body:
      locals: ["()", {array: u8, len: 64}]
      blocks:
        - term: return
`

	ecx, err := run(t, recursion, "main", interpreter.WithStackLimit(5))
	if re := expectFailure(t, "recursion", err, interpreter.ErrStackFrameLimitReached, interpreter.KindResourceExhausted); re != nil {
		if len(ecx.Stack()) != 5 || len(re.Trace) != 5 {
			t.Errorf("recursion: expected 5 frames, got %d (trace %d)", len(ecx.Stack()), len(re.Trace))
		}
	}

	ecx, err = run(t, loop, "main", interpreter.WithMaxSteps(50))
	if re := expectFailure(t, "infinite loop", err, interpreter.ErrMaxStepsExceeded, interpreter.KindResourceExhausted); re != nil {
		if ecx.Steps() != 50 || re.Steps != 50 {
			t.Errorf("infinite loop: expected 50 steps, got %d (error says %d)", ecx.Steps(), re.Steps)
		}
	}

	_, err = run(t, big, "main", interpreter.WithMemoryLimit(16))
	expectFailure(t, "memory limit", err, memory.ErrOutOfMemory, interpreter.KindResourceExhausted)
}

func TestStepping(t *testing.T) {
	prog := load(t, `
items:
  - def: main
    body:
      locals: ["()"]
      blocks:
        - stmts: [nop, {storage_live: 0}]
          term: return
`)
	item, err := prog.Item("main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ecx := interpreter.NewEvalContext(prog, interpreter.WithStackLimit(1), interpreter.WithLogger(log.New(io.Discard)))
	push := func() error {
		return ecx.PushStackFrame("main", item.Body.Span, item.Body, nil, memory.ZSTPointer(), interpreter.StackPopCleanup{})
	}
	if err := push(); err != nil {
		t.Fatalf("push: unexpected error: %v", err)
	}
	if err := push(); !errors.Is(err, interpreter.ErrStackFrameLimitReached) {
		t.Errorf("push past the limit: expected %v, got %v", interpreter.ErrStackFrameLimitReached, err)
	}
	if len(ecx.Stack()) != 1 {
		t.Errorf("a failed push must leave the stack alone, got %d frames", len(ecx.Stack()))
	}

	for i := 0; i < 3; i++ {
		halted, err := ecx.Step()
		if err != nil || halted {
			t.Fatalf("step %d: expected progress, got halted=%t err=%v", i, halted, err)
		}
	}
	if halted, err := ecx.Step(); err != nil || !halted {
		t.Errorf("expected the machine to halt, got halted=%t err=%v", halted, err)
	}
	if ecx.Steps() != 3 {
		t.Errorf("expected 3 steps, got %d", ecx.Steps())
	}
	if err := ecx.PopStackFrame(); !errors.Is(err, interpreter.ErrEmptyStack) {
		t.Errorf("pop of an empty stack: expected %v, got %v", interpreter.ErrEmptyStack, err)
	}
}

const globalsProgram = `
items:
  - def: COUNTER
    kind: static
    mutable: true
    body:
      locals: [u32]
      blocks:
        - stmts: [{assign: [_0, {use: {const: 5, ty: u32}}]}]
          term: return
  - def: TABLE
    kind: static
    body:
      locals: [u32]
      blocks:
        - stmts: [{assign: [_0, {use: {const: 7, ty: u32}}]}]
          term: return
  - def: LIMIT
    kind: const
    body:
      locals: [u32]
      blocks:
        - stmts: [{assign: [_0, {use: {const: 10, ty: u32}}]}]
          term: return
  - def: main
    body:
      locals: [u32, u32]
      blocks:
        - stmts:
            - assign: [{static: COUNTER}, {binop: [add, {copy: {static: COUNTER}}, {item: LIMIT, ty: u32}]}]
            - assign: [_1, {use: {copy: {static: TABLE}}}]
            - assign: [_0, {binop: [add, {copy: {static: COUNTER}}, _1]}]
          term: return
  - def: promoted
    body:
      locals: [u32]
      blocks:
        - stmts:
            - assign: [_0, {use: {promoted: 0, ty: u32}}]
          term: return
      promoted:
        - locals: [u32]
          blocks:
            - stmts: [{assign: [_0, {binop: [mul, {const: 6, ty: u32}, {const: 7, ty: u32}]}]}]
              term: return
  - def: write_immutable
    body:
      locals: ["()"]
      blocks:
        - stmts:
            - assign: [{static: TABLE}, {use: {const: 1, ty: u32}}]
          term: return
`

func TestGlobals(t *testing.T) {
	tests := []struct {
		entry       string
		expected    int64
		description string
	}{
		{"main", 22, "mutable static updated with a constant, plus an immutable static"},
		{"promoted", 42, "promoted constant"},
	}

	for _, tt := range tests {
		ecx, err := run(t, globalsProgram, tt.entry)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}
		if got := result(t, ecx, 4); got != tt.expected {
			t.Errorf("%s: expected %d, got %d", tt.description, tt.expected, got)
		}
	}

	_, err := run(t, globalsProgram, "write_immutable")
	expectFailure(t, "write to an immutable static", err, memory.ErrModifiedFrozenMemory, interpreter.KindMemoryFault)
}

func TestIndexing(t *testing.T) {
	src := `
items:
  - def: main
    body:
      locals: [u8, {array: u8, len: 3}, usize]
      blocks:
        - stmts:
            - assign: [_1, {array: [{const: 1, ty: u8}, {const: 2, ty: u8}, {const: 3, ty: u8}]}]
            - assign: [_2, {use: {const: %d, ty: usize}}]
            - assign: [_0, {use: {copy: {base: _1, proj: [{index: _2}]}}}]
          term: return
  - def: checked
    body:
      locals: [u8, usize, bool]
      blocks:
        - stmts:
            - assign: [_1, {use: {const: %d, ty: usize}}]
            - assign: [_2, {binop: [lt, _1, {const: 3, ty: usize}]}]
          term: {assert: {cond: _2, target: 1, bounds: [{const: 3, ty: usize}, _1]}}
        - stmts: [{assign: [_0, {use: {const: 1, ty: u8}}]}]
          term: return
`

	ecx, err := run(t, fmt.Sprintf(src, 2, 0), "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result(t, ecx, 1); got != 3 {
		t.Errorf("expected element 2 to be 3, got %d", got)
	}

	_, err = run(t, fmt.Sprintf(src, 5, 0), "main")
	if re := expectFailure(t, "index projection", err, interpreter.ErrIndexOutOfBounds, interpreter.KindInvalidProgramState); re != nil {
		if !strings.Contains(re.Error(), "the len is 3 but the index is 5") {
			t.Errorf("index projection: unexpected message %q", re.Error())
		}
	}

	_, err = run(t, fmt.Sprintf(src, 0, 4), "checked")
	if re := expectFailure(t, "bounds check", err, interpreter.ErrArrayIndexOutOfBounds, interpreter.KindInvalidProgramState); re != nil {
		if !strings.Contains(re.Error(), "the len is 3 but the index is 4") {
			t.Errorf("bounds check: unexpected message %q", re.Error())
		}
	}
}

func TestEnums(t *testing.T) {
	src := `
adts:
  - name: Msg
    kind: enum
    variants:
      - {name: Quit}
      - {name: Move, fields: [{ty: i32}]}
      - {name: Echo, fields: [{ty: u8}]}
items:
  - def: main
    body:
      locals: [i32, Msg, u8]
      blocks:
        - stmts:
            - assign: [_1, {adt: {name: Msg, variant: %s}}]
          term: {switch: {discr: _1, adt: Msg, targets: [1, 2, 3]}}
        - stmts: [{assign: [_0, {use: {const: 0, ty: i32}}]}]
          term: return
        - stmts: [{assign: [_0, {use: {copy: {base: _1, proj: [{downcast: 1}, {field: 0, ty: i32}]}}}]}]
          term: return
        - stmts:
            - assign: [_2, {use: {copy: {base: _1, proj: [{downcast: 2}, {field: 0, ty: u8}]}}}]
            - assign: [_0, {cast: {op: _2, ty: i32}}]
          term: return
`

	tests := []struct {
		variant     string
		expected    int64
		description string
	}{
		{"Quit", 0, "fieldless variant"},
		{"Move, fields: [{const: -5, ty: i32}]", -5, "i32 payload"},
		{"Echo, fields: [{const: 7, ty: u8}]", 7, "u8 payload"},
	}

	for _, tt := range tests {
		ecx, err := run(t, fmt.Sprintf(src, tt.variant), "main")
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}
		if got := result(t, ecx, 4); got != tt.expected {
			t.Errorf("%s: expected %d, got %d", tt.description, tt.expected, got)
		}
	}
}

func TestNullablePointer(t *testing.T) {
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
      locals: [u8, u8, {adt: Option, args: [{ref: u8}]}, {ref: u8}]
      blocks:
        - stmts:
            - assign: [_1, {use: {const: 9, ty: u8}}]
            - assign: [_3, {ref: _1}]
            - assign: [_2, {adt: {name: Option, args: [{ref: u8}], variant: %s}}]
          term: {switch: {discr: _2, adt: Option, targets: [1, 2]}}
        - stmts: [{assign: [_0, {use: {const: 0, ty: u8}}]}]
          term: return
        - stmts:
            - assign: [_0, {use: {copy: {base: _2, proj: [{downcast: 1}, {field: 0, ty: {ref: u8}}, deref]}}}]
          term: return
`

	tests := []struct {
		variant     string
		expected    int64
		description string
	}{
		{"None", 0, "null is None"},
		{"Some, fields: [_3]", 9, "a reference is Some"},
	}

	for _, tt := range tests {
		ecx, err := run(t, fmt.Sprintf(src, tt.variant), "main")
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.description, err)
			continue
		}
		if got := result(t, ecx, 1); got != tt.expected {
			t.Errorf("%s: expected %d, got %d", tt.description, tt.expected, got)
		}

		optTy := ecx.Program().Items["main"].Body.Locals[2].Ty
		l, err := ecx.Layouts().Layout(optTy)
		if err != nil {
			t.Fatalf("layout: unexpected error: %v", err)
		}
		if _, ok := l.(*layout.RawNullablePointer); !ok || l.Size() != 8 {
			t.Errorf("%s: expected a pointer-sized nullable pointer, got %T of size %d", tt.description, l, l.Size())
		}
	}
}

func TestUnsizeAndLen(t *testing.T) {
	src := `
items:
  - def: main
    body:
      locals: [usize, {array: u8, len: 4}, {ref: {array: u8, len: 4}}, {ref: {slice: u8}}, {ref: str}, usize]
      blocks:
        - stmts:
            - assign: [_1, {repeat: [{const: 0, ty: u8}, 4]}]
            - assign: [_2, {ref: _1}]
            - assign: [_3, {cast: {op: _2, ty: {ref: {slice: u8}}, kind: unsize}}]
            - assign: [_0, {len: {base: _3, proj: [deref]}}]
            - assign: [_4, {use: {const: hello, ty: {ref: str}}}]
            - assign: [_5, {len: {base: _4, proj: [deref]}}]
            - assign: [_0, {binop: [add, _0, _5]}]
          term: return
`
	ecx, err := run(t, src, "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result(t, ecx, 8); got != 9 {
		t.Errorf("expected 4 + 5, got %d", got)
	}
}

const dropProgram = `
adts:
  - {name: Guard, fields: [{name: id, ty: u32}]}
impls:
  - {trait: Drop, self: Guard, methods: {drop: guard_drop}}
items:
  - def: DROPPED
    kind: static
    mutable: true
    body:
      locals: [u32]
      blocks:
        - stmts: [{assign: [_0, {use: {const: 0, ty: u32}}]}]
          term: return
  - def: guard_drop
    body:
      args: 1
      locals: ["()", {ref_mut: Guard}, u32]
      blocks:
        - stmts:
            - assign: [_2, {binop: [mul, {copy: {static: DROPPED}}, {const: 100, ty: u32}]}]
            - assign: [{static: DROPPED}, {binop: [add, _2, {copy: {base: _1, proj: [deref, {field: 0, ty: u32}]}}]}]
          term: return
  - def: tuple
    body:
      locals: [u32, [Guard, Guard], Guard, Guard]
      blocks:
        - stmts:
            - assign: [_2, {adt: {name: Guard, fields: [{const: 10, ty: u32}]}}]
            - assign: [_3, {adt: {name: Guard, fields: [{const: 20, ty: u32}]}}]
            - assign: [_1, {tuple: [_2, _3]}]
          term: {drop: [_1, 1]}
        - stmts:
            - assign: [_0, {use: {copy: {static: DROPPED}}}]
          term: return
  - def: boxed
    body:
      locals: [u32, {box: Guard}, {ptr: Guard}]
      blocks:
        - stmts:
            - assign: [_1, {box: Guard}]
            - assign: [{base: _1, proj: [deref]}, {adt: {name: Guard, fields: [{const: 5, ty: u32}]}}]
            - assign: [_2, {cast: {op: _1, ty: {ptr: Guard}}}]
          term: {drop: [_1, 1]}
        - stmts:
            - assign: [_0, {use: {copy: {base: _2, proj: [deref, {field: 0, ty: u32}]}}}]
          term: return
`

func TestDrop(t *testing.T) {
	ecx, err := run(t, dropProgram, "tuple")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result(t, ecx, 4); got != 1020 {
		t.Errorf("expected the fields to drop in order (1020), got %d", got)
	}

	_, err = run(t, dropProgram, "boxed")
	expectFailure(t, "read through a dropped box", err, memory.ErrDanglingPointer, interpreter.KindMemoryFault)
}

func TestTraitCalls(t *testing.T) {
	src := `
adts:
  - {name: Circle, fields: [{name: r, ty: u32}]}
  - {name: Square, fields: [{name: side, ty: u32}]}
traits:
  - {name: Shape, methods: [area]}
impls:
  - {trait: Shape, self: Circle, methods: {area: circle_area}}
  - {trait: Shape, self: Square, methods: {area: square_area}}
items:
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
  - def: square_area
    body:
      args: 1
      locals: [u32, {ref: Square}]
      blocks:
        - stmts:
            - assign: [_0, {binop: [mul, {copy: {base: _1, proj: [deref, {field: 0, ty: u32}]}}, {copy: {base: _1, proj: [deref, {field: 0, ty: u32}]}}]}]
          term: return
  - def: main
    body:
      locals: [u32, Circle, {ref: {dyn: Shape}}, {ref: Circle}, u32, Square, {ref: Square}, u32]
      blocks:
        - stmts:
            - assign: [_1, {adt: {name: Circle, fields: [{const: 2, ty: u32}]}}]
            - assign: [_3, {ref: _1}]
            - assign: [_2, {cast: {op: _3, ty: {ref: {dyn: Shape}}, kind: unsize}}]
          term: {call: {fn: {fn: "Shape::area", args: [{dyn: Shape}]}, args: [_2], dest: _4, target: 1}}
        - stmts:
            - assign: [_5, {adt: {name: Square, fields: [{const: 4, ty: u32}]}}]
            - assign: [_6, {ref: _5}]
          term: {call: {fn: {fn: "Shape::area", args: [Square]}, args: [_6], dest: _7, target: 2}}
        - stmts:
            - assign: [_0, {binop: [add, _4, _7]}]
          term: return
`
	ecx, err := run(t, src, "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result(t, ecx, 4); got != 6+16 {
		t.Errorf("expected the virtual and static calls to sum to 22, got %d", got)
	}
}

func TestFunctionPointers(t *testing.T) {
	src := `
items:
  - def: double
    body:
      args: 1
      locals: [i32, i32]
      blocks:
        - stmts: [{assign: [_0, {binop: [mul, _1, {const: 2, ty: i32}]}]}]
          term: return
  - def: main
    body:
      locals: [i32, {fn_ptr: {inputs: [i32], output: %s}}]
      blocks:
        - stmts:
            - assign: [_1, {cast: {op: {fn: double}, ty: {fn_ptr: {inputs: [i32], output: %s}}, kind: reify}}]
          term: {call: {fn: _1, args: [{const: 21, ty: i32}], dest: _0, target: 1}}
        - term: return
`
	ecx, err := run(t, fmt.Sprintf(src, "i32", "i32"), "main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result(t, ecx, 4); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	_, err = run(t, fmt.Sprintf(src, "i64", "i64"), "main")
	expectFailure(t, "mismatched pointer type", err, interpreter.ErrFunctionPointerTyMismatch, interpreter.KindInvalidProgramState)
}

func TestIntrinsics(t *testing.T) {
	src := `
items:
  - {def: size_of, kind: intrinsic, generics: [T], sig: {output: usize}}
  - {def: transmute, kind: intrinsic, generics: [T, U], sig: {inputs: [T], output: U}}
  - {def: copy, kind: intrinsic, generics: [T], sig: {inputs: [{ptr: T}, {ptr_mut: T}, usize]}}
  - {def: copy_nonoverlapping, kind: intrinsic, generics: [T], sig: {inputs: [{ptr: T}, {ptr_mut: T}, usize]}}
  - {def: black_box, kind: intrinsic, generics: [T], sig: {inputs: [T], output: T}}
  - def: sizes
    body:
      locals: [u32, usize, u32]
      blocks:
        - term: {call: {fn: {fn: size_of, args: [[u8, u32]]}, dest: _1, target: 1}}
        - term: {call: {fn: {fn: transmute, args: [f32, u32]}, args: [{const: 1.0, ty: f32}], dest: _2, target: 2}}
        - stmts:
            - assign: [_0, {cast: {op: _1, ty: u32}}]
            - assign: [_0, {binop: [add, _0, _2]}]
          term: return
  - def: copy_within
    body:
      locals: [u8, {array: u8, len: 4}, {ref: u8}, {ref_mut: u8}, {ptr: u8}, {ptr_mut: u8}, "()"]
      blocks:
        - stmts:
            - assign: [_1, {array: [{const: 1, ty: u8}, {const: 2, ty: u8}, {const: 3, ty: u8}, {const: 4, ty: u8}]}]
            - assign: [_2, {ref: {base: _1, proj: [{const_index: 0, min: 4}]}}]
            - assign: [_3, {ref_mut: {base: _1, proj: [{const_index: 1, min: 4}]}}]
            - assign: [_4, {cast: {op: _2, ty: {ptr: u8}}}]
            - assign: [_5, {cast: {op: _3, ty: {ptr_mut: u8}}}]
          term: {call: {fn: {fn: %s, args: [u8]}, args: [_4, _5, {const: 2, ty: usize}], dest: _6, target: 1}}
        - stmts:
            - assign: [_0, {use: {copy: {base: _1, proj: [{const_index: 2, min: 4}]}}}]
          term: return
  - def: unknown
    body:
      locals: [u8]
      blocks:
        - term: {call: {fn: {fn: black_box, args: [u8]}, args: [{const: 1, ty: u8}], dest: _0, target: 1}}
        - term: return
`

	ecx, err := run(t, fmt.Sprintf(src, "copy"), "sizes")
	if err != nil {
		t.Fatalf("sizes: unexpected error: %v", err)
	}
	if got := result(t, ecx, 4); got != 0x3f800000+8 {
		t.Errorf("sizes: expected %#x, got %#x", 0x3f800000+8, got)
	}

	ecx, err = run(t, fmt.Sprintf(src, "copy"), "copy_within")
	if err != nil {
		t.Fatalf("copy: unexpected error: %v", err)
	}
	if got := result(t, ecx, 1); got != 2 {
		t.Errorf("copy: expected the overlapping copy to behave like memmove, got %d", got)
	}

	_, err = run(t, fmt.Sprintf(src, "copy_nonoverlapping"), "copy_within")
	expectFailure(t, "copy_nonoverlapping", err, memory.ErrOverlappingCopy, interpreter.KindInvalidProgramState)

	_, err = run(t, fmt.Sprintf(src, "copy"), "unknown")
	expectFailure(t, "unknown intrinsic", err, interpreter.ErrUnimplementedIntrinsic, interpreter.KindUnsupportedOperation)
}

func TestTerminalFailures(t *testing.T) {
	tests := []struct {
		block       string
		expected    error
		kind        interpreter.Kind
		description string
	}{
		{"{term: unreachable}", interpreter.ErrUnreachable, interpreter.KindInvalidProgramState, "unreachable"},
		{"{term: resume}", interpreter.ErrUnwinding, interpreter.KindUnsupportedOperation, "unwinding"},
		{`{stmts: [{assign: [_0, {asm: "nop"}]}], term: return}`, interpreter.ErrInlineAsm, interpreter.KindUnsupportedOperation, "inline assembly"},
		{"{term: {call: {fn: {fn: extern_fn}, dest: _0, target: 0}}}", interpreter.ErrNoBody, interpreter.KindUnsupportedOperation, "function without a body"},
		{"{term: {call: {fn: {fn: write}, dest: _0, target: 0}}}", interpreter.ErrUnsupported, interpreter.KindUnsupportedOperation, "unknown C function"},
	}

	for _, tt := range tests {
		src := fmt.Sprintf(`
items:
  - {def: extern_fn, sig: {}}
  - {def: write, kind: foreign, sig: {}}
  - def: main
    body:
      locals: ["()"]
      blocks:
        - %s
`, tt.block)
		_, err := run(t, src, "main")
		expectFailure(t, tt.description, err, tt.expected, tt.kind)
	}

	_, err := run(t, "items: [{def: f, sig: {}}]", "f")
	expectFailure(t, "entry without a body", err, interpreter.ErrNoBody, interpreter.KindUnsupportedOperation)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err         error
		expected    interpreter.Kind
		description string
	}{
		{nil, interpreter.KindUnknown, "no error"},
		{memory.ErrReadUndefBytes, interpreter.KindMemoryFault, "memory sentinel"},
		{fmt.Errorf("wrapped: %w", memory.ErrOutOfMemory), interpreter.KindResourceExhausted, "wrapped sentinel"},
		{errors.New("something else"), interpreter.KindInvalidProgramState, "unclassified"},
	}

	for _, tt := range tests {
		if got := interpreter.KindOf(tt.err); got != tt.expected {
			t.Errorf("%s: expected %s, got %s", tt.description, tt.expected, got)
		}
	}
}

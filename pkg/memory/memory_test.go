package memory_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mire/pkg/ir"
	"mire/pkg/memory"
)

func alloc(t *testing.T, m *memory.Memory, size, align uint64) memory.Pointer {
	t.Helper()
	p, err := m.Allocate(size, align)
	if err != nil {
		t.Fatalf("Allocate(%d, %d): unexpected error: %v", size, align, err)
	}
	return p
}

func TestIntegers(t *testing.T) {
	m := memory.New(0, 8)
	p := alloc(t, m, 16, 8)

	tests := []struct {
		offset, size uint64
		value        uint64
		description  string
	}{
		{0, 1, 0xab, "byte"},
		{2, 2, 0xbeef, "u16"},
		{4, 4, 0xdeadbeef, "u32"},
		{8, 8, 0x0123456789abcdef, "u64"},
	}

	for _, tt := range tests {
		if err := m.WriteUint(p.Add(tt.offset), tt.value, tt.size); err != nil {
			t.Errorf("%s: write: unexpected error: %v", tt.description, err)
			continue
		}
		got, err := m.ReadUint(p.Add(tt.offset), tt.size)
		if err != nil {
			t.Errorf("%s: read: unexpected error: %v", tt.description, err)
			continue
		}
		if got != tt.value {
			t.Errorf("%s: expected %#x, got %#x", tt.description, tt.value, got)
		}
	}

	b, err := m.ReadBytes(p.Add(4), 4)
	if err != nil {
		t.Fatalf("ReadBytes: unexpected error: %v", err)
	}
	if diff := cmp.Diff([]byte{0xef, 0xbe, 0xad, 0xde}, b); diff != "" {
		t.Errorf("bytes are not little endian (-want +got):\n%s", diff)
	}

	if err := m.WriteInt(p, -2, 2); err != nil {
		t.Fatalf("WriteInt: unexpected error: %v", err)
	}
	if got, err := m.ReadInt(p, 2); err != nil || got != -2 {
		t.Errorf("ReadInt: expected -2, got %d (%v)", got, err)
	}
}

func TestAccessErrors(t *testing.T) {
	tests := []struct {
		run         func(m *memory.Memory, p memory.Pointer) error
		expected    error
		description string
	}{
		{
			func(m *memory.Memory, p memory.Pointer) error {
				_, err := m.ReadUint(p, 4)
				return err
			},
			memory.ErrReadUndefBytes, "fresh allocations are undefined",
		},
		{
			func(m *memory.Memory, p memory.Pointer) error {
				return m.WriteUint(p.Add(8), 1, 8)
			},
			memory.ErrPointerOutOfBounds, "write past the end",
		},
		{
			func(m *memory.Memory, p memory.Pointer) error {
				_, err := m.ReadUint(p.Add(2), 4)
				return err
			},
			memory.ErrAlignment, "misaligned read",
		},
		{
			func(m *memory.Memory, p memory.Pointer) error {
				_, err := m.ReadUint(memory.IntPointer(16), 4)
				return err
			},
			memory.ErrInvalidMemoryAccess, "integer pointer",
		},
		{
			func(m *memory.Memory, p memory.Pointer) error {
				if err := m.WriteUint(p, 2, 1); err != nil {
					return err
				}
				_, err := m.ReadBool(p)
				return err
			},
			memory.ErrInvalidBool, "bool out of range",
		},
		{
			func(m *memory.Memory, p memory.Pointer) error {
				if err := m.Deallocate(p); err != nil {
					return err
				}
				return m.Deallocate(p)
			},
			memory.ErrDanglingPointer, "double free",
		},
		{
			func(m *memory.Memory, p memory.Pointer) error {
				return m.Deallocate(p.Add(4))
			},
			memory.ErrInvalidDeallocation, "free from the middle",
		},
		{
			func(m *memory.Memory, p memory.Pointer) error {
				_, err := m.GetFn(p.Alloc)
				return err
			},
			memory.ErrInvalidFunctionPointer, "data pointer called as a function",
		},
	}

	for _, tt := range tests {
		m := memory.New(0, 8)
		p := alloc(t, m, 8, 8)
		err := tt.run(m, p)
		if !errors.Is(err, tt.expected) {
			t.Errorf("%s: expected %v, got %v", tt.description, tt.expected, err)
		}
	}
}

func TestPointers(t *testing.T) {
	m := memory.New(0, 8)
	target := alloc(t, m, 4, 4)
	slot := alloc(t, m, 16, 8)

	if err := m.WritePtr(slot, target.Add(2)); err != nil {
		t.Fatalf("WritePtr: unexpected error: %v", err)
	}
	got, err := m.ReadPtr(slot)
	if err != nil {
		t.Fatalf("ReadPtr: unexpected error: %v", err)
	}
	if diff := cmp.Diff(target.Add(2), got); diff != "" {
		t.Errorf("pointer did not keep its provenance (-want +got):\n%s", diff)
	}

	if _, err := m.ReadBytes(slot.Add(4), 2); !errors.Is(err, memory.ErrReadPointerAsBytes) {
		t.Errorf("reading pointer bytes: expected %v, got %v", memory.ErrReadPointerAsBytes, err)
	}

	if err := m.Copy(slot, slot.Add(8), 8, 8, true); err != nil {
		t.Fatalf("Copy: unexpected error: %v", err)
	}
	if got, err := m.ReadPtr(slot.Add(8)); err != nil || got != target.Add(2) {
		t.Errorf("copied pointer: expected %s, got %s (%v)", target.Add(2), got, err)
	}

	// overwriting half a pointer leaves the other half undefined
	if err := m.WriteUint(slot, 0, 4); err != nil {
		t.Fatalf("WriteUint: unexpected error: %v", err)
	}
	if _, err := m.ReadUint(slot.Add(4), 4); !errors.Is(err, memory.ErrReadUndefBytes) {
		t.Errorf("partially overwritten pointer: expected %v, got %v", memory.ErrReadUndefBytes, err)
	}

	if err := m.WriteUsize(slot.Add(8), 0x40); err != nil {
		t.Fatalf("WriteUsize: unexpected error: %v", err)
	}
	if got, err := m.ReadPtr(slot.Add(8)); err != nil || got != memory.IntPointer(0x40) {
		t.Errorf("integer read as pointer: expected 0x40, got %s (%v)", got, err)
	}
}

func TestCopyOverlap(t *testing.T) {
	m := memory.New(0, 8)
	p := alloc(t, m, 6, 1)
	if err := m.WriteBytes(p, []byte{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("WriteBytes: unexpected error: %v", err)
	}

	if err := m.Copy(p, p.Add(2), 4, 1, true); !errors.Is(err, memory.ErrOverlappingCopy) {
		t.Errorf("nonoverlapping copy of overlapping ranges: expected %v, got %v", memory.ErrOverlappingCopy, err)
	}
	if err := m.Copy(p, p.Add(2), 4, 1, false); err != nil {
		t.Fatalf("Copy: unexpected error: %v", err)
	}
	got, err := m.ReadBytes(p, 6)
	if err != nil {
		t.Fatalf("ReadBytes: unexpected error: %v", err)
	}
	if diff := cmp.Diff([]byte{1, 2, 1, 2, 3, 4}, got); diff != "" {
		t.Errorf("overlapping copy mismatch (-want +got):\n%s", diff)
	}
}

func TestFreeze(t *testing.T) {
	m := memory.New(0, 8)
	p := alloc(t, m, 4, 4)
	if err := m.WriteUint(p, 7, 4); err != nil {
		t.Fatalf("WriteUint: unexpected error: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := m.Freeze(p.Alloc); err != nil {
			t.Fatalf("Freeze #%d: unexpected error: %v", i+1, err)
		}
	}
	if !m.IsFrozen(p.Alloc) {
		t.Error("allocation is not frozen")
	}

	if err := m.WriteUint(p, 8, 4); !errors.Is(err, memory.ErrModifiedFrozenMemory) {
		t.Errorf("write: expected %v, got %v", memory.ErrModifiedFrozenMemory, err)
	}
	if err := m.Deallocate(p); !errors.Is(err, memory.ErrDeallocatedFrozenMemory) {
		t.Errorf("deallocate: expected %v, got %v", memory.ErrDeallocatedFrozenMemory, err)
	}
	if got, err := m.ReadUint(p, 4); err != nil || got != 7 {
		t.Errorf("read: expected 7, got %d (%v)", got, err)
	}
}

func TestLimitAndUsage(t *testing.T) {
	m := memory.New(16, 8)
	a := alloc(t, m, 8, 8)
	alloc(t, m, 8, 8)
	if m.Usage() != 16 {
		t.Errorf("expected usage 16, got %d", m.Usage())
	}

	if _, err := m.Allocate(1, 1); !errors.Is(err, memory.ErrOutOfMemory) {
		t.Errorf("allocation over the limit: expected %v, got %v", memory.ErrOutOfMemory, err)
	}

	if err := m.Deallocate(a); err != nil {
		t.Fatalf("Deallocate: unexpected error: %v", err)
	}
	if m.Usage() != 8 {
		t.Errorf("expected usage 8 after a free, got %d", m.Usage())
	}

	if _, err := m.Allocate(4, 3); !errors.Is(err, memory.ErrInvalidAlignment) {
		t.Errorf("alignment 3: expected %v, got %v", memory.ErrInvalidAlignment, err)
	}
}

func TestZeroSized(t *testing.T) {
	m := memory.New(0, 8)
	p := alloc(t, m, 0, 8)
	if p != memory.ZSTPointer() {
		t.Errorf("expected the ZST pointer, got %s", p)
	}
	if err := m.Copy(p, p, 0, 8, true); err != nil {
		t.Errorf("zero-sized copy: unexpected error: %v", err)
	}
	if err := m.Deallocate(p); err != nil {
		t.Errorf("zero-sized free: unexpected error: %v", err)
	}
	if m.Usage() != 0 {
		t.Errorf("expected no usage, got %d", m.Usage())
	}
}

func TestReallocate(t *testing.T) {
	m := memory.New(0, 8)
	p := alloc(t, m, 2, 1)
	if err := m.WriteBytes(p, []byte{9, 8}); err != nil {
		t.Fatalf("WriteBytes: unexpected error: %v", err)
	}

	grown, err := m.Reallocate(p, 4, 1)
	if err != nil {
		t.Fatalf("Reallocate: unexpected error: %v", err)
	}
	if got, err := m.ReadBytes(grown, 2); err != nil || !cmp.Equal([]byte{9, 8}, got) {
		t.Errorf("contents after growing: expected [9 8], got %v (%v)", got, err)
	}
	if _, err := m.ReadBytes(grown.Add(2), 2); !errors.Is(err, memory.ErrReadUndefBytes) {
		t.Errorf("grown tail: expected %v, got %v", memory.ErrReadUndefBytes, err)
	}
	if m.Usage() != 4 {
		t.Errorf("expected usage 4, got %d", m.Usage())
	}

	if _, err := m.Reallocate(grown.Add(1), 8, 1); !errors.Is(err, memory.ErrInvalidDeallocation) {
		t.Errorf("reallocate from the middle: expected %v, got %v", memory.ErrInvalidDeallocation, err)
	}
}

func TestFunctionPointers(t *testing.T) {
	m := memory.New(0, 8)
	sig := &ir.FnSig{Abi: ir.AbiRust, Inputs: []*ir.Ty{ir.I32}, Output: ir.I32}

	u8 := ir.Substs{ir.U8}
	a := m.CreateFnPtr("foo", u8, sig)
	b := m.CreateFnPtr("foo", u8, sig)
	c := m.CreateFnPtr("foo", ir.Substs{ir.U16}, sig)
	if a != b {
		t.Errorf("same instantiation: expected %s, got %s", a, b)
	}
	if a == c {
		t.Errorf("different instantiations share %s", a)
	}

	fn, err := m.GetFn(a.Alloc)
	if err != nil {
		t.Fatalf("GetFn: unexpected error: %v", err)
	}
	if fn.Def != "foo" || fn.Substs.String() != u8.String() {
		t.Errorf("expected foo<u8>, got %s%s", fn.Def, fn.Substs)
	}
	if _, err := m.ReadUint(a, 1); !errors.Is(err, memory.ErrInvalidMemoryAccess) {
		t.Errorf("reading a function: expected %v, got %v", memory.ErrInvalidMemoryAccess, err)
	}
}

func TestSnapshot(t *testing.T) {
	m := memory.New(0, 8)
	target := alloc(t, m, 2, 1)
	slot := alloc(t, m, 8, 8)
	if err := m.WriteBytes(target, []byte{1, 2}); err != nil {
		t.Fatalf("WriteBytes: unexpected error: %v", err)
	}
	if err := m.WritePtr(slot, target); err != nil {
		t.Fatalf("WritePtr: unexpected error: %v", err)
	}
	if err := m.Freeze(target.Alloc); err != nil {
		t.Fatalf("Freeze: unexpected error: %v", err)
	}
	m.CreateFnPtr("main", nil, &ir.FnSig{Abi: ir.AbiRust, Output: ir.Unit})

	snap := m.Snapshot()
	data, err := snap.Encode()
	if err != nil {
		t.Fatalf("Encode: unexpected error: %v", err)
	}
	again, err := m.Snapshot().Encode()
	if err != nil {
		t.Fatalf("Encode: unexpected error: %v", err)
	}
	if !cmp.Equal(data, again) {
		t.Error("encoding the same state twice produced different bytes")
	}

	decoded, err := memory.DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: unexpected error: %v", err)
	}
	if diff := cmp.Diff(snap, decoded); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	if len(decoded.Allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(decoded.Allocations))
	}
	want := map[uint64]uint64{0: uint64(target.Alloc)}
	if diff := cmp.Diff(want, decoded.Allocations[1].Relocations); diff != "" {
		t.Errorf("relocations mismatch (-want +got):\n%s", diff)
	}
	if !decoded.Allocations[0].Frozen {
		t.Error("frozen flag was lost")
	}
}

package memory

import "fmt"

// AllocID identifies an allocation. The first two ids are reserved.
type AllocID uint64

const (
	// IntAllocID is the pseudo allocation of pointers made from integers,
	// including the null pointer.
	IntAllocID AllocID = 0
	// ZSTAllocID backs every zero-sized allocation.
	ZSTAllocID AllocID = 1

	firstAllocID AllocID = 2
)

// Pointer is an address inside an allocation.
type Pointer struct {
	Alloc  AllocID
	Offset uint64
}

// IntPointer turns an integer address into a pointer.
func IntPointer(n uint64) Pointer {
	return Pointer{Alloc: IntAllocID, Offset: n}
}

// ZSTPointer returns the address shared by zero-sized values.
func ZSTPointer() Pointer {
	return Pointer{Alloc: ZSTAllocID}
}

// Add moves the pointer n bytes forward.
func (p Pointer) Add(n uint64) Pointer {
	return Pointer{Alloc: p.Alloc, Offset: p.Offset + n}
}

// SignedAdd moves the pointer by n bytes in either direction.
func (p Pointer) SignedAdd(n int64) Pointer {
	return Pointer{Alloc: p.Alloc, Offset: uint64(int64(p.Offset) + n)}
}

func (p Pointer) IsNull() bool {
	return p.Alloc == IntAllocID && p.Offset == 0
}

// IsInt reports whether p carries no provenance.
func (p Pointer) IsInt() bool {
	return p.Alloc == IntAllocID
}

// ToInt returns the integer address of p; pointers into real allocations have
// no integer address.
func (p Pointer) ToInt() (uint64, error) {
	if !p.IsInt() {
		return 0, fmt.Errorf("%w: %s", ErrReadPointerAsBytes, p)
	}
	return p.Offset, nil
}

func (p Pointer) String() string {
	switch p.Alloc {
	case IntAllocID:
		return fmt.Sprintf("0x%x", p.Offset)
	case ZSTAllocID:
		return fmt.Sprintf("zst+%d", p.Offset)
	}
	return fmt.Sprintf("alloc%d+%d", p.Alloc, p.Offset)
}

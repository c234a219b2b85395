package memory

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"mire/pkg/ir"
)

// Allocation is one contiguous block of simulated memory.
type Allocation struct {
	Bytes   []byte
	Defined []bool
	Align   uint64
	Frozen  bool

	// relocations maps byte offsets (uint64) to the AllocID of the pointer
	// stored there.
	relocations *treemap.Map
}

func newAllocation(size, align uint64) *Allocation {
	return &Allocation{
		Bytes:       make([]byte, size),
		Defined:     make([]bool, size),
		Align:       align,
		relocations: treemap.NewWith(utils.UInt64Comparator),
	}
}

// Relocations returns a copy of the allocation's pointer table.
func (a *Allocation) Relocations() map[uint64]AllocID {
	out := make(map[uint64]AllocID, a.relocations.Size())
	it := a.relocations.Iterator()
	for it.Next() {
		out[it.Key().(uint64)] = it.Value().(AllocID)
	}
	return out
}

// relocationsIn lists relocation offsets in [start, end).
func (a *Allocation) relocationsIn(start, end uint64) []uint64 {
	var offsets []uint64
	k, _ := a.relocations.Ceiling(start)
	for k != nil {
		off := k.(uint64)
		if off >= end {
			break
		}
		offsets = append(offsets, off)
		k, _ = a.relocations.Ceiling(off + 1)
	}
	return offsets
}

// FunctionDefinition is what a function pointer points to.
type FunctionDefinition struct {
	Def    ir.DefID
	Substs ir.Substs
	Sig    *ir.FnSig
}

// Memory is the allocation table of one evaluation run.
type Memory struct {
	allocs      map[AllocID]*Allocation
	functions   map[AllocID]FunctionDefinition
	functionIDs map[string]AllocID
	next        AllocID
	usage       uint64
	limit       uint64 // 0 means unlimited
	pointerSize uint64
}

var zstAllocation = newAllocation(0, 1)

// New creates an empty memory with the given byte limit (0 = unlimited) and
// pointer size in bytes.
func New(limit, pointerSize uint64) *Memory {
	return &Memory{
		allocs:      make(map[AllocID]*Allocation),
		functions:   make(map[AllocID]FunctionDefinition),
		functionIDs: make(map[string]AllocID),
		next:        firstAllocID,
		limit:       limit,
		pointerSize: pointerSize,
	}
}

func (m *Memory) PointerSize() uint64 { return m.pointerSize }

// Usage returns the number of bytes currently allocated.
func (m *Memory) Usage() uint64 { return m.usage }

func (m *Memory) Limit() uint64 { return m.limit }

// Allocate reserves size bytes with the given alignment. The bytes start out
// undefined. Zero-sized requests share the ZST allocation.
func (m *Memory) Allocate(size, align uint64) (Pointer, error) {
	if align == 0 || align&(align-1) != 0 {
		return Pointer{}, fmt.Errorf("%w: %d", ErrInvalidAlignment, align)
	}
	if size == 0 {
		return ZSTPointer(), nil
	}
	if m.limit > 0 && m.usage+size > m.limit {
		return Pointer{}, fmt.Errorf("%w: tried to allocate %s with %s of %s in use",
			ErrOutOfMemory, humanize.IBytes(size), humanize.IBytes(m.usage), humanize.IBytes(m.limit))
	}

	id := m.next
	m.next++
	m.allocs[id] = newAllocation(size, align)
	m.usage += size

	return Pointer{Alloc: id}, nil
}

// Reallocate resizes the allocation starting at ptr, keeping its contents.
func (m *Memory) Reallocate(ptr Pointer, newSize, align uint64) (Pointer, error) {
	if ptr.Alloc == ZSTAllocID {
		return m.Allocate(newSize, align)
	}
	if ptr.Offset != 0 {
		return Pointer{}, fmt.Errorf("%w: %s", ErrInvalidDeallocation, ptr)
	}
	a, err := m.getMut(ptr.Alloc)
	if err != nil {
		return Pointer{}, err
	}
	if newSize == 0 {
		if err := m.Deallocate(ptr); err != nil {
			return Pointer{}, err
		}
		return ZSTPointer(), nil
	}

	oldSize := uint64(len(a.Bytes))
	if newSize > oldSize {
		grow := newSize - oldSize
		if m.limit > 0 && m.usage+grow > m.limit {
			return Pointer{}, fmt.Errorf("%w: tried to grow %s by %s", ErrOutOfMemory, ptr, humanize.IBytes(grow))
		}
		a.Bytes = append(a.Bytes, make([]byte, grow)...)
		a.Defined = append(a.Defined, make([]bool, grow)...)
		m.usage += grow
	} else {
		m.clearRelocations(a, newSize, oldSize)
		a.Bytes = a.Bytes[:newSize]
		a.Defined = a.Defined[:newSize]
		m.usage -= oldSize - newSize
	}
	if align > a.Align {
		a.Align = align
	}

	return ptr, nil
}

// Deallocate frees the allocation starting at ptr.
func (m *Memory) Deallocate(ptr Pointer) error {
	if ptr.Alloc == ZSTAllocID {
		return nil
	}
	if ptr.Offset != 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDeallocation, ptr)
	}
	a, ok := m.allocs[ptr.Alloc]
	if !ok {
		return fmt.Errorf("%w: deallocating %s", ErrDanglingPointer, ptr)
	}
	if a.Frozen {
		return fmt.Errorf("%w: %s", ErrDeallocatedFrozenMemory, ptr)
	}

	m.usage -= uint64(len(a.Bytes))
	delete(m.allocs, ptr.Alloc)
	return nil
}

// Freeze makes an allocation immutable. Freezing is idempotent.
func (m *Memory) Freeze(id AllocID) error {
	if id == IntAllocID || id == ZSTAllocID {
		return nil
	}
	a, ok := m.allocs[id]
	if !ok {
		return fmt.Errorf("%w: freezing alloc%d", ErrDanglingPointer, id)
	}
	a.Frozen = true
	return nil
}

func (m *Memory) IsFrozen(id AllocID) bool {
	a, ok := m.allocs[id]
	return ok && a.Frozen
}

// Get returns the allocation with the given id.
func (m *Memory) Get(id AllocID) (*Allocation, error) {
	switch id {
	case IntAllocID:
		return nil, ErrInvalidMemoryAccess
	case ZSTAllocID:
		return zstAllocation, nil
	}
	a, ok := m.allocs[id]
	if !ok {
		if _, isFn := m.functions[id]; isFn {
			return nil, fmt.Errorf("%w: alloc%d is a function", ErrInvalidMemoryAccess, id)
		}
		return nil, fmt.Errorf("%w: alloc%d", ErrDanglingPointer, id)
	}
	return a, nil
}

func (m *Memory) getMut(id AllocID) (*Allocation, error) {
	a, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if a.Frozen {
		return nil, fmt.Errorf("%w: alloc%d", ErrModifiedFrozenMemory, id)
	}
	return a, nil
}

func checkBounds(a *Allocation, ptr Pointer, size uint64) error {
	if ptr.Offset+size > uint64(len(a.Bytes)) || ptr.Offset+size < ptr.Offset {
		return fmt.Errorf("%w: %s with size %d, allocation has %d bytes",
			ErrPointerOutOfBounds, ptr, size, len(a.Bytes))
	}
	return nil
}

func checkAlign(a *Allocation, ptr Pointer, align uint64) error {
	if align <= 1 {
		return nil
	}
	if a.Align < align || ptr.Offset%align != 0 {
		return fmt.Errorf("%w: %s requires %d, allocation aligned to %d", ErrAlignment, ptr, align, a.Align)
	}
	return nil
}

// overlappingRelocations lists relocations whose pointer bytes intersect
// [start, end).
func (m *Memory) overlappingRelocations(a *Allocation, start, end uint64) []uint64 {
	from := uint64(0)
	if start >= m.pointerSize {
		from = start - m.pointerSize + 1
	}
	return a.relocationsIn(from, end)
}

// clearRelocations drops pointers overlapping [start, end). Bytes of a
// partially overwritten pointer outside the range become undefined.
func (m *Memory) clearRelocations(a *Allocation, start, end uint64) {
	for _, off := range m.overlappingRelocations(a, start, end) {
		for i := off; i < off+m.pointerSize && i < uint64(len(a.Defined)); i++ {
			if i < start || i >= end {
				a.Defined[i] = false
			}
		}
		a.relocations.Remove(off)
	}
}

// readBytes returns the defined, pointer-free bytes at ptr.
func (m *Memory) readBytes(ptr Pointer, size, align uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	a, err := m.Get(ptr.Alloc)
	if err != nil {
		return nil, err
	}
	if err := checkAlign(a, ptr, align); err != nil {
		return nil, err
	}
	if err := checkBounds(a, ptr, size); err != nil {
		return nil, err
	}
	if len(m.overlappingRelocations(a, ptr.Offset, ptr.Offset+size)) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrReadPointerAsBytes, ptr)
	}
	for i := ptr.Offset; i < ptr.Offset+size; i++ {
		if !a.Defined[i] {
			return nil, fmt.Errorf("%w: %s+%d", ErrReadUndefBytes, ptr, i-ptr.Offset)
		}
	}
	return a.Bytes[ptr.Offset : ptr.Offset+size], nil
}

// writeBytes returns the writable bytes at ptr, with any pointers there
// removed and the range marked defined.
func (m *Memory) writeBytes(ptr Pointer, size, align uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	a, err := m.getMut(ptr.Alloc)
	if err != nil {
		return nil, err
	}
	if err := checkAlign(a, ptr, align); err != nil {
		return nil, err
	}
	if err := checkBounds(a, ptr, size); err != nil {
		return nil, err
	}
	m.clearRelocations(a, ptr.Offset, ptr.Offset+size)
	for i := ptr.Offset; i < ptr.Offset+size; i++ {
		a.Defined[i] = true
	}
	return a.Bytes[ptr.Offset : ptr.Offset+size], nil
}

// ReadBytes copies size defined bytes starting at ptr.
func (m *Memory) ReadBytes(ptr Pointer, size uint64) ([]byte, error) {
	b, err := m.readBytes(ptr, size, 1)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) WriteBytes(ptr Pointer, src []byte) error {
	b, err := m.writeBytes(ptr, uint64(len(src)), 1)
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

// WriteRepeat fills count bytes at ptr with val.
func (m *Memory) WriteRepeat(ptr Pointer, val byte, count uint64) error {
	b, err := m.writeBytes(ptr, count, 1)
	if err != nil {
		return err
	}
	for i := range b {
		b[i] = val
	}
	return nil
}

// Copy moves size bytes from src to dest, carrying definedness and
// pointers along. Overlapping ranges behave like memmove unless
// nonoverlapping is set, in which case they are rejected.
func (m *Memory) Copy(src, dest Pointer, size, align uint64, nonoverlapping bool) error {
	if size == 0 {
		return nil
	}
	sa, err := m.Get(src.Alloc)
	if err != nil {
		return err
	}
	if err := checkAlign(sa, src, align); err != nil {
		return err
	}
	if err := checkBounds(sa, src, size); err != nil {
		return err
	}
	if nonoverlapping && src.Alloc == dest.Alloc &&
		src.Offset < dest.Offset+size && dest.Offset < src.Offset+size {
		return fmt.Errorf("%w: %s and %s with size %d", ErrOverlappingCopy, src, dest, size)
	}

	bytes := append([]byte(nil), sa.Bytes[src.Offset:src.Offset+size]...)
	defined := append([]bool(nil), sa.Defined[src.Offset:src.Offset+size]...)
	relocs := make(map[uint64]AllocID)
	for _, off := range sa.relocationsIn(src.Offset, src.Offset+size) {
		v, _ := sa.relocations.Get(off)
		relocs[off-src.Offset] = v.(AllocID)
	}

	da, err := m.getMut(dest.Alloc)
	if err != nil {
		return err
	}
	if err := checkAlign(da, dest, align); err != nil {
		return err
	}
	if err := checkBounds(da, dest, size); err != nil {
		return err
	}
	m.clearRelocations(da, dest.Offset, dest.Offset+size)
	copy(da.Bytes[dest.Offset:], bytes)
	copy(da.Defined[dest.Offset:], defined)
	for off, id := range relocs {
		da.relocations.Put(dest.Offset+off, id)
	}
	return nil
}

// MarkDefinedness sets the definedness of size bytes at ptr.
func (m *Memory) MarkDefinedness(ptr Pointer, size uint64, defined bool) error {
	if size == 0 {
		return nil
	}
	a, err := m.getMut(ptr.Alloc)
	if err != nil {
		return err
	}
	if err := checkBounds(a, ptr, size); err != nil {
		return err
	}
	if !defined {
		m.clearRelocations(a, ptr.Offset, ptr.Offset+size)
	}
	for i := ptr.Offset; i < ptr.Offset+size; i++ {
		a.Defined[i] = defined
	}
	return nil
}

// ReadPtr reads a pointer-sized value, keeping its provenance.
func (m *Memory) ReadPtr(ptr Pointer) (Pointer, error) {
	size := m.pointerSize
	a, err := m.Get(ptr.Alloc)
	if err != nil {
		return Pointer{}, err
	}
	if err := checkAlign(a, ptr, size); err != nil {
		return Pointer{}, err
	}
	if err := checkBounds(a, ptr, size); err != nil {
		return Pointer{}, err
	}
	for i := ptr.Offset; i < ptr.Offset+size; i++ {
		if !a.Defined[i] {
			return Pointer{}, fmt.Errorf("%w: pointer at %s", ErrReadUndefBytes, ptr)
		}
	}
	offset := readUint(a.Bytes[ptr.Offset : ptr.Offset+size])
	if id, ok := a.relocations.Get(ptr.Offset); ok {
		return Pointer{Alloc: id.(AllocID), Offset: offset}, nil
	}
	return IntPointer(offset), nil
}

// WritePtr stores p at dest, recording its provenance.
func (m *Memory) WritePtr(dest, p Pointer) error {
	if err := m.WriteUint(dest, p.Offset, m.pointerSize); err != nil {
		return err
	}
	if !p.IsInt() {
		a, err := m.getMut(dest.Alloc)
		if err != nil {
			return err
		}
		a.relocations.Put(dest.Offset, p.Alloc)
	}
	return nil
}

func (m *Memory) ReadBool(ptr Pointer) (bool, error) {
	b, err := m.readBytes(ptr, 1, 1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: %d at %s", ErrInvalidBool, b[0], ptr)
}

func (m *Memory) WriteBool(ptr Pointer, v bool) error {
	var b byte
	if v {
		b = 1
	}
	return m.WriteUint(ptr, uint64(b), 1)
}

func readUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	panic(fmt.Sprintf("memory: bad integer size %d", len(b)))
}

func writeUint(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	default:
		panic(fmt.Sprintf("memory: bad integer size %d", len(b)))
	}
}

func checkIntSize(size uint64) error {
	switch size {
	case 1, 2, 4, 8:
		return nil
	}
	return fmt.Errorf("memory: unsupported integer size %d", size)
}

// ReadUint reads a little-endian unsigned integer of size bytes.
func (m *Memory) ReadUint(ptr Pointer, size uint64) (uint64, error) {
	if err := checkIntSize(size); err != nil {
		return 0, err
	}
	b, err := m.readBytes(ptr, size, size)
	if err != nil {
		return 0, err
	}
	return readUint(b), nil
}

// ReadInt reads a little-endian signed integer of size bytes.
func (m *Memory) ReadInt(ptr Pointer, size uint64) (int64, error) {
	u, err := m.ReadUint(ptr, size)
	if err != nil {
		return 0, err
	}
	shift := 64 - size*8
	return int64(u<<shift) >> shift, nil
}

func (m *Memory) WriteUint(ptr Pointer, v uint64, size uint64) error {
	if err := checkIntSize(size); err != nil {
		return err
	}
	b, err := m.writeBytes(ptr, size, size)
	if err != nil {
		return err
	}
	writeUint(b, v)
	return nil
}

func (m *Memory) WriteInt(ptr Pointer, v int64, size uint64) error {
	return m.WriteUint(ptr, uint64(v), size)
}

func (m *Memory) ReadUsize(ptr Pointer) (uint64, error) {
	return m.ReadUint(ptr, m.pointerSize)
}

func (m *Memory) ReadIsize(ptr Pointer) (int64, error) {
	return m.ReadInt(ptr, m.pointerSize)
}

func (m *Memory) WriteUsize(ptr Pointer, v uint64) error {
	return m.WriteUint(ptr, v, m.pointerSize)
}

func (m *Memory) WriteIsize(ptr Pointer, v int64) error {
	return m.WriteInt(ptr, v, m.pointerSize)
}

func (m *Memory) ReadF32(ptr Pointer) (float32, error) {
	u, err := m.ReadUint(ptr, 4)
	return math.Float32frombits(uint32(u)), err
}

func (m *Memory) ReadF64(ptr Pointer) (float64, error) {
	u, err := m.ReadUint(ptr, 8)
	return math.Float64frombits(u), err
}

func (m *Memory) WriteF32(ptr Pointer, f float32) error {
	return m.WriteUint(ptr, uint64(math.Float32bits(f)), 4)
}

func (m *Memory) WriteF64(ptr Pointer, f float64) error {
	return m.WriteUint(ptr, math.Float64bits(f), 8)
}

// CreateFnPtr returns the function pointer for def instantiated with substs.
// The same instantiation always yields the same pointer.
func (m *Memory) CreateFnPtr(def ir.DefID, substs ir.Substs, sig *ir.FnSig) Pointer {
	key := string(def) + substs.String() + "|" + sig.String()
	if id, ok := m.functionIDs[key]; ok {
		return Pointer{Alloc: id}
	}
	id := m.next
	m.next++
	m.functions[id] = FunctionDefinition{Def: def, Substs: substs, Sig: sig}
	m.functionIDs[key] = id
	return Pointer{Alloc: id}
}

// GetFn resolves a function pointer's allocation.
func (m *Memory) GetFn(id AllocID) (FunctionDefinition, error) {
	fn, ok := m.functions[id]
	if !ok {
		return FunctionDefinition{}, fmt.Errorf("%w: alloc%d", ErrInvalidFunctionPointer, id)
	}
	return fn, nil
}

// Dump renders the given allocations as hex, with "__" for undefined bytes
// and the targets of stored pointers listed below each row.
func (m *Memory) Dump(ids ...AllocID) string {
	var sb strings.Builder
	for _, id := range ids {
		if fn, ok := m.functions[id]; ok {
			fmt.Fprintf(&sb, "alloc%d: function %s%s\n", id, fn.Def, fn.Substs)
			continue
		}
		a, ok := m.allocs[id]
		if !ok {
			fmt.Fprintf(&sb, "alloc%d: (deallocated)\n", id)
			continue
		}
		fmt.Fprintf(&sb, "alloc%d:", id)
		for i, b := range a.Bytes {
			if a.Defined[i] {
				fmt.Fprintf(&sb, " %02x", b)
			} else {
				sb.WriteString(" __")
			}
		}
		frozen := ""
		if a.Frozen {
			frozen = " (frozen)"
		}
		fmt.Fprintf(&sb, " (%d bytes, align %d)%s\n", len(a.Bytes), a.Align, frozen)
		it := a.relocations.Iterator()
		for it.Next() {
			fmt.Fprintf(&sb, "    +%d -> alloc%d\n", it.Key(), it.Value())
		}
	}
	return sb.String()
}

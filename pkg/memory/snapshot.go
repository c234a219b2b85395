package memory

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot is a serializable copy of the allocation table.
type Snapshot struct {
	PointerSize uint64               `cbor:"pointer_size"`
	Usage       uint64               `cbor:"usage"`
	Allocations []AllocationSnapshot `cbor:"allocations"`
	Functions   []FunctionSnapshot   `cbor:"functions"`
}

type AllocationSnapshot struct {
	ID          uint64            `cbor:"id"`
	Bytes       []byte            `cbor:"bytes"`
	Undefined   []uint64          `cbor:"undefined,omitempty"` // offsets of undefined bytes
	Relocations map[uint64]uint64 `cbor:"relocations,omitempty"`
	Align       uint64            `cbor:"align"`
	Frozen      bool              `cbor:"frozen"`
}

type FunctionSnapshot struct {
	ID     uint64 `cbor:"id"`
	Def    string `cbor:"def"`
	Substs string `cbor:"substs,omitempty"`
	Sig    string `cbor:"sig"`
}

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("memory: cbor encoder: %v", err))
	}
	snapshotEncMode = em
}

// Snapshot copies the current state, ordered by allocation id.
func (m *Memory) Snapshot() *Snapshot {
	s := &Snapshot{PointerSize: m.pointerSize, Usage: m.usage}

	ids := make([]AllocID, 0, len(m.allocs))
	for id := range m.allocs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		a := m.allocs[id]
		as := AllocationSnapshot{
			ID:     uint64(id),
			Bytes:  append([]byte(nil), a.Bytes...),
			Align:  a.Align,
			Frozen: a.Frozen,
		}
		for i, d := range a.Defined {
			if !d {
				as.Undefined = append(as.Undefined, uint64(i))
			}
		}
		if relocs := a.Relocations(); len(relocs) > 0 {
			as.Relocations = make(map[uint64]uint64, len(relocs))
			for off, target := range relocs {
				as.Relocations[off] = uint64(target)
			}
		}
		s.Allocations = append(s.Allocations, as)
	}

	fnIDs := make([]AllocID, 0, len(m.functions))
	for id := range m.functions {
		fnIDs = append(fnIDs, id)
	}
	sort.Slice(fnIDs, func(i, j int) bool { return fnIDs[i] < fnIDs[j] })
	for _, id := range fnIDs {
		fn := m.functions[id]
		s.Functions = append(s.Functions, FunctionSnapshot{
			ID:     uint64(id),
			Def:    string(fn.Def),
			Substs: fn.Substs.String(),
			Sig:    fn.Sig.String(),
		})
	}

	return s
}

// Encode serializes the snapshot in canonical CBOR, so equal states encode
// to equal bytes.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := snapshotEncMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("memory: marshal snapshot: %w", err)
	}
	return data, nil
}

func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("memory: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

package loom

import (
	"fmt"
	"sort"
)

// ArchetypeLayout is the derived, immutable SoA byte-layout for one exact
// component mask (spec §4.4): where the entity-id strip lives, how many
// entities fit per chunk, and each component's base offset within a
// chunk.
type ArchetypeLayout struct {
	Mask            Mask
	EntriesPerChunk int

	order       []ComponentID // placement order: alignment desc, id asc
	baseOffsets []int32       // indexed by ComponentID; -1 if absent
	sizes       []uint32      // indexed by ComponentID; 0 for tags/absent
	totalBytes  int
}

// entityStripOffset is always 0: the entity-id strip is the first thing
// in every chunk regardless of mask.
const entityStripOffset = 0

// entityIDSize is the byte width of one entry in the entity-id strip.
const entityIDSize = 4

// BuildLayout derives the ArchetypeLayout for mask from the currently
// registered component metadata. It fails with an error (not a panic;
// callers choose whether an over-capacity mask is fatal) if the
// composition cannot fit in one chunk.
func BuildLayout(mask Mask) (*ArchetypeLayout, error) {
	infos := ComponentTypeInfos()

	var ids []ComponentID
	for i := 0; i < Config.BitMaskWidth; i++ {
		if mask.Get(i) {
			ids = append(ids, ComponentID(i))
		}
	}

	sumSize := uintptr(0)
	for _, id := range ids {
		sumSize += infos[id].Size
	}
	perEntity := entityIDSize + int(sumSize)
	epc := chunkSizeBytes / perEntity
	if epc < 1 {
		epc = 1
	}

	// Components are placed by decreasing alignment, ties broken by
	// ascending component id — spec §3's pinned tie-break, since "name"
	// ordering (the reference's tie-break) has no stable analogue here.
	sort.Slice(ids, func(i, j int) bool {
		ai, aj := infos[ids[i]].Align, infos[ids[j]].Align
		if ai != aj {
			return ai > aj
		}
		return ids[i] < ids[j]
	})

	baseOffsets := make([]int32, Config.BitMaskWidth)
	sizes := make([]uint32, Config.BitMaskWidth)
	for i := range baseOffsets {
		baseOffsets[i] = -1
	}

	offset := entityIDSize * epc
	for _, id := range ids {
		info := infos[id]
		sizes[id] = uint32(info.Size)
		if info.Size == 0 {
			baseOffsets[id] = 0 // tag component: presence-only, no bytes
			continue
		}
		align := int(info.Align)
		if align < 1 {
			align = 1
		}
		offset = alignUp(offset, align)
		baseOffsets[id] = int32(offset)
		offset += epc * int(info.Size)
	}

	if offset > chunkSizeBytes {
		return nil, fmt.Errorf("loom: mask requires %d bytes per chunk, exceeds chunk size %d", offset, chunkSizeBytes)
	}

	return &ArchetypeLayout{
		Mask:            mask,
		EntriesPerChunk: epc,
		order:           ids,
		baseOffsets:     baseOffsets,
		sizes:           sizes,
		totalBytes:      offset,
	}, nil
}

func alignUp(x, align int) int {
	return (x + align - 1) / align * align
}

// OffsetOf returns the byte offset of component id's value at localIndex
// within a chunk, or -1 if the component is not part of this layout.
// Zero-size components always return their fixed base offset of 0;
// callers must treat them as presence-only and never dereference through
// the offset.
func (l *ArchetypeLayout) OffsetOf(id ComponentID, localIndex int) int {
	if int(id) >= len(l.baseOffsets) {
		return -1
	}
	base := l.baseOffsets[id]
	if base < 0 {
		return -1
	}
	return int(base) + localIndex*int(l.sizes[id])
}

// Has reports whether the layout includes component id.
func (l *ArchetypeLayout) Has(id ComponentID) bool {
	return int(id) < len(l.baseOffsets) && l.baseOffsets[id] >= 0
}

// ComponentSize returns the registered byte size of component id.
func (l *ArchetypeLayout) ComponentSize(id ComponentID) int {
	if int(id) >= len(l.sizes) {
		return 0
	}
	return int(l.sizes[id])
}

// Components returns the component ids in this layout's chunk placement
// order (decreasing alignment, ties by ascending id).
func (l *ArchetypeLayout) Components() []ComponentID {
	out := make([]ComponentID, len(l.order))
	copy(out, l.order)
	return out
}

// TotalBytes returns the number of bytes of a chunk this layout actually
// uses (entity strip + every component array), always <= chunk size.
func (l *ArchetypeLayout) TotalBytes() int {
	return l.totalBytes
}

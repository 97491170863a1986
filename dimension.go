package spreadsheet

import (
	"maps"
	"slices"
	"sort"
)

// DimensionIndex maps row or column indices to pixel sizes. sizes equal to
// the default are not stored. offset <-> index conversion runs in O(log n)
// over a sorted cache of the overrides.
type DimensionIndex struct {
	defaultSize int
	overrides   map[int]int
	cache       dimensionCache
}

// dimensionCache is derived from overrides. every write method marks it
// dirty and then rebuilds it before returning, so readers never see a
// stale cache.
type dimensionCache struct {
	dirty   bool
	indices []int // sorted override keys
	sizes   []int // sizes[k] is the size at indices[k]
	deltas  []int // deltas[k] is the total size delta of indices[:k]
	starts  []int // starts[k] is the pixel offset of indices[k]
}

// NewDimensionIndex creates an index where every item has defaultSize
func NewDimensionIndex(defaultSize int) *DimensionIndex {
	d := &DimensionIndex{
		defaultSize: clampMin(defaultSize, 0),
		overrides:   make(map[int]int),
	}
	d.rebuild()
	return d
}

// Default returns the size used for indices without an override
func (d *DimensionIndex) Default() int {
	return d.defaultSize
}

// Size returns the size of a 1-based index
func (d *DimensionIndex) Size(index int) int {
	if size, ok := d.overrides[index]; ok {
		return size
	}
	return d.defaultSize
}

// Set overrides the size at index. setting the default size removes the
// override.
func (d *DimensionIndex) Set(index, size int) {
	if index < 1 {
		return
	}
	d.invalidate()
	size = clampMin(size, 0)
	if size == d.defaultSize {
		delete(d.overrides, index)
	} else {
		d.overrides[index] = size
	}
	d.rebuild()
}

// Delete restores the default size at index
func (d *DimensionIndex) Delete(index int) {
	if _, ok := d.overrides[index]; !ok {
		return
	}
	d.invalidate()
	delete(d.overrides, index)
	d.rebuild()
}

// Shift inserts (count > 0) or deletes (count < 0) items at index, moving
// overrides along with their items and dropping deleted ones
func (d *DimensionIndex) Shift(index, count int) {
	d.Remap(ShiftRemap(index, count))
}

// Move relocates count items starting at src to just before dst
func (d *DimensionIndex) Move(src, count, dst int) {
	d.Remap(MoveRemap(src, count, dst))
}

// Remap rewrites every override key through remap
func (d *DimensionIndex) Remap(remap IndexRemap) {
	d.invalidate()
	next := make(map[int]int, len(d.overrides))
	for index, size := range d.overrides {
		if to, ok := remap(index); ok {
			next[to] = size
		}
	}
	d.overrides = next
	d.rebuild()
}

// Overrides returns a copy of the sparse override table
func (d *DimensionIndex) Overrides() map[int]int {
	return maps.Clone(d.overrides)
}

// Offset returns the pixel offset where index starts:
// (index-1)*default plus the deltas of all overrides before index
func (d *DimensionIndex) Offset(index int) int {
	if index < 1 {
		return 0
	}
	k := sort.SearchInts(d.cache.indices, index)
	return (index-1)*d.defaultSize + d.cache.deltas[k]
}

// IndexAt returns the 1-based index whose span contains the pixel offset
func (d *DimensionIndex) IndexAt(offset int) int {
	if offset < 0 {
		return 1
	}
	c := &d.cache
	if len(c.starts) == 0 || offset < c.starts[0] {
		return d.gapIndex(0, 0, offset)
	}

	// last override starting at or before offset
	k := sort.Search(len(c.starts), func(i int) bool { return c.starts[i] > offset }) - 1
	end := c.starts[k] + c.sizes[k]
	if offset < end {
		return c.indices[k]
	}
	return d.gapIndex(c.indices[k], end, offset)
}

// gapIndex resolves an offset inside the default-sized run that starts
// right after index `after`, whose first pixel is `start`
func (d *DimensionIndex) gapIndex(after, start, offset int) int {
	if d.defaultSize == 0 {
		return after + 1
	}
	return after + 1 + (offset-start)/d.defaultSize
}

func (d *DimensionIndex) invalidate() {
	d.cache.dirty = true
}

// rebuild recomputes the sorted cache from the overrides and clears the
// dirty tag. it is a no-op on a clean cache.
func (d *DimensionIndex) rebuild() {
	if !d.cache.dirty && d.cache.deltas != nil {
		return
	}
	indices := slices.Sorted(maps.Keys(d.overrides))
	c := dimensionCache{
		indices: indices,
		sizes:   make([]int, len(indices)),
		deltas:  make([]int, len(indices)+1),
		starts:  make([]int, len(indices)),
	}
	for k, index := range indices {
		size := d.overrides[index]
		c.sizes[k] = size
		c.starts[k] = (index-1)*d.defaultSize + c.deltas[k]
		c.deltas[k+1] = c.deltas[k] + size - d.defaultSize
	}
	d.cache = c
}

// Clone returns an independent copy of the index
func (d *DimensionIndex) Clone() *DimensionIndex {
	c := &DimensionIndex{
		defaultSize: d.defaultSize,
		overrides:   maps.Clone(d.overrides),
	}
	c.rebuild()
	return c
}

// Equal reports whether both indexes hold the same default and overrides
func (d *DimensionIndex) Equal(other *DimensionIndex) bool {
	return d.defaultSize == other.defaultSize && maps.Equal(d.overrides, other.overrides)
}

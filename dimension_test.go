package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDimensionIndexSizes(t *testing.T) {
	d := NewDimensionIndex(20)
	assert.Equal(t, 20, d.Size(5))

	d.Set(5, 50)
	assert.Equal(t, 50, d.Size(5))
	assert.Equal(t, map[int]int{5: 50}, d.Overrides())

	// the default size is never stored
	d.Set(5, 20)
	assert.Empty(t, d.Overrides())

	d.Set(3, 0)
	assert.Equal(t, 0, d.Size(3))
	d.Delete(3)
	assert.Equal(t, 20, d.Size(3))

	d.Set(0, 99)
	assert.Empty(t, d.Overrides())
}

func TestDimensionIndexOffsets(t *testing.T) {
	d := NewDimensionIndex(10)
	d.Set(2, 30)
	d.Set(4, 0)

	assert.Equal(t, 0, d.Offset(1))
	assert.Equal(t, 10, d.Offset(2))
	assert.Equal(t, 40, d.Offset(3))
	assert.Equal(t, 50, d.Offset(4))
	assert.Equal(t, 50, d.Offset(5))
	assert.Equal(t, 60, d.Offset(6))

	assert.Equal(t, 1, d.IndexAt(0))
	assert.Equal(t, 1, d.IndexAt(9))
	assert.Equal(t, 2, d.IndexAt(10))
	assert.Equal(t, 2, d.IndexAt(39))
	assert.Equal(t, 3, d.IndexAt(40))
	assert.Equal(t, 5, d.IndexAt(50))
	assert.Equal(t, 6, d.IndexAt(65))
	assert.Equal(t, 1, d.IndexAt(-3))

	// offset and index agree for every index with a non-zero size
	for i := 1; i < 50; i++ {
		if d.Size(i) > 0 {
			assert.Equal(t, i, d.IndexAt(d.Offset(i)), "index %d", i)
		}
	}
}

func TestDimensionIndexShift(t *testing.T) {
	d := NewDimensionIndex(10)
	d.Set(2, 30)
	d.Set(5, 50)

	d.Shift(3, 2)
	assert.Equal(t, map[int]int{2: 30, 7: 50}, d.Overrides())
	assert.Equal(t, 80, d.Offset(7))

	d.Shift(1, -2)
	assert.Equal(t, map[int]int{5: 50}, d.Overrides())
	assert.Equal(t, 40, d.Offset(5))
}

func TestDimensionIndexMove(t *testing.T) {
	d := NewDimensionIndex(10)
	d.Set(1, 11)
	d.Set(2, 22)
	d.Set(5, 55)

	// rows 1-2 move to just before row 5
	d.Move(1, 2, 5)
	assert.Equal(t, map[int]int{3: 11, 4: 22, 5: 55}, d.Overrides())

	// and back again
	d.Move(3, 2, 1)
	assert.Equal(t, map[int]int{1: 11, 2: 22, 5: 55}, d.Overrides())
}

func TestDimensionIndexEqual(t *testing.T) {
	a := NewDimensionIndex(21)
	b := NewDimensionIndex(21)
	a.Set(3, 40)
	assert.False(t, a.Equal(b))
	b.Set(3, 40)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(NewDimensionIndex(20)))
}

func TestDimensionIndexClone(t *testing.T) {
	d := NewDimensionIndex(20)
	d.Set(3, 50)
	c := d.Clone()
	assert.True(t, c.Equal(d))
	assert.Equal(t, d.Offset(10), c.Offset(10))

	c.Set(4, 5)
	assert.False(t, c.Equal(d))
	assert.Equal(t, 20, d.Size(4))
}

package spreadsheet

import (
	"iter"
	"slices"
)

// Direction is a navigation direction for FindEdge
type Direction int

const (
	DirectionUp Direction = iota
	DirectionDown
	DirectionLeft
	DirectionRight
)

// step returns the row and column delta for one move in d
func (d Direction) step() (int, int) {
	switch d {
	case DirectionUp:
		return -1, 0
	case DirectionDown:
		return 1, 0
	case DirectionLeft:
		return 0, -1
	default:
		return 0, 1
	}
}

// ExistenceIndex tracks which addresses are populated, indexed both by row
// and by column. it is derived from the grid's key set and never holds
// values. empty per-row and per-column sets are removed so memory follows
// occupied cells, not sheet dimensions.
type ExistenceIndex struct {
	rows  map[int]map[int]struct{} // row -> occupied columns
	cols  map[int]map[int]struct{} // column -> occupied rows
	count int
}

// NewExistenceIndex creates an empty index
func NewExistenceIndex() *ExistenceIndex {
	return &ExistenceIndex{
		rows: make(map[int]map[int]struct{}),
		cols: make(map[int]map[int]struct{}),
	}
}

// NewExistenceIndexFromGrid rebuilds an index from a grid's key set
func NewExistenceIndexFromGrid(grid Grid) *ExistenceIndex {
	idx := NewExistenceIndex()
	for ref := range grid {
		idx.Add(ref)
	}
	return idx
}

// Add marks ref as populated
func (e *ExistenceIndex) Add(ref Ref) {
	cols, ok := e.rows[ref.Row]
	if !ok {
		cols = make(map[int]struct{})
		e.rows[ref.Row] = cols
	}
	if _, exists := cols[ref.Column]; exists {
		return
	}
	cols[ref.Column] = struct{}{}

	rows, ok := e.cols[ref.Column]
	if !ok {
		rows = make(map[int]struct{})
		e.cols[ref.Column] = rows
	}
	rows[ref.Row] = struct{}{}
	e.count++
}

// Remove clears ref, dropping row and column sets that become empty
func (e *ExistenceIndex) Remove(ref Ref) {
	cols, ok := e.rows[ref.Row]
	if !ok {
		return
	}
	if _, exists := cols[ref.Column]; !exists {
		return
	}
	delete(cols, ref.Column)
	if len(cols) == 0 {
		delete(e.rows, ref.Row)
	}

	rows := e.cols[ref.Column]
	delete(rows, ref.Row)
	if len(rows) == 0 {
		delete(e.cols, ref.Column)
	}
	e.count--
}

// Has reports whether ref is populated
func (e *ExistenceIndex) Has(ref Ref) bool {
	_, ok := e.rows[ref.Row][ref.Column]
	return ok
}

// Len returns the number of populated cells
func (e *ExistenceIndex) Len() int {
	return e.count
}

// All iterates every populated address in no particular order
func (e *ExistenceIndex) All() iter.Seq[Ref] {
	return func(yield func(Ref) bool) {
		for row, cols := range e.rows {
			for col := range cols {
				if !yield(Ref{Row: row, Column: col}) {
					return
				}
			}
		}
	}
}

// CellsInRange returns the populated addresses inside r in row-major order.
// only populated rows are visited.
func (e *ExistenceIndex) CellsInRange(r Range) []Ref {
	r = NormalizeRange(r)
	var out []Ref
	for row, cols := range e.rows {
		if row < r.Start.Row || row > r.End.Row {
			continue
		}
		for col := range cols {
			if col >= r.Start.Column && col <= r.End.Column {
				out = append(out, Ref{Row: row, Column: col})
			}
		}
	}
	slices.SortFunc(out, CompareRefs)
	return out
}

// HasAnyInRange reports whether any address inside r is populated, stopping
// at the first hit
func (e *ExistenceIndex) HasAnyInRange(r Range) bool {
	r = NormalizeRange(r)
	for row, cols := range e.rows {
		if row < r.Start.Row || row > r.End.Row {
			continue
		}
		for col := range cols {
			if col >= r.Start.Column && col <= r.End.Column {
				return true
			}
		}
	}
	return false
}

// FindEdge returns the target of a "jump to data edge" from `from` in
// direction d, staying inside bounds. when from and its neighbour are both
// populated it walks to the end of that contiguous run. otherwise it jumps
// to the first populated address strictly ahead, or to the boundary when
// there is none.
func (e *ExistenceIndex) FindEdge(from Ref, d Direction, bounds Range) Ref {
	bounds = NormalizeRange(bounds)
	dr, dc := d.step()
	next := Ref{Row: from.Row + dr, Column: from.Column + dc}
	if !InRange(next, bounds) {
		return from
	}

	if e.Has(from) && e.Has(next) {
		cur := next
		for {
			ahead := Ref{Row: cur.Row + dr, Column: cur.Column + dc}
			if !InRange(ahead, bounds) || !e.Has(ahead) {
				return cur
			}
			cur = ahead
		}
	}

	if hit, ok := e.firstAhead(from, d, bounds); ok {
		return hit
	}
	return boundary(from, d, bounds)
}

// firstAhead finds the nearest populated address strictly ahead of from
// along d, using the per-line set rather than stepping cell by cell
func (e *ExistenceIndex) firstAhead(from Ref, d Direction, bounds Range) (Ref, bool) {
	var line map[int]struct{}
	var pos, lo, hi int
	switch d {
	case DirectionUp, DirectionDown:
		line, pos, lo, hi = e.cols[from.Column], from.Row, bounds.Start.Row, bounds.End.Row
	default:
		line, pos, lo, hi = e.rows[from.Row], from.Column, bounds.Start.Column, bounds.End.Column
	}

	best, found := 0, false
	forward := d == DirectionDown || d == DirectionRight
	for i := range line {
		if i < lo || i > hi {
			continue
		}
		if forward && i > pos && (!found || i < best) {
			best, found = i, true
		}
		if !forward && i < pos && (!found || i > best) {
			best, found = i, true
		}
	}
	if !found {
		return Ref{}, false
	}
	if d == DirectionUp || d == DirectionDown {
		return Ref{Row: best, Column: from.Column}, true
	}
	return Ref{Row: from.Row, Column: best}, true
}

func boundary(from Ref, d Direction, bounds Range) Ref {
	switch d {
	case DirectionUp:
		return Ref{Row: bounds.Start.Row, Column: from.Column}
	case DirectionDown:
		return Ref{Row: bounds.End.Row, Column: from.Column}
	case DirectionLeft:
		return Ref{Row: from.Row, Column: bounds.Start.Column}
	default:
		return Ref{Row: from.Row, Column: bounds.End.Column}
	}
}

// Equal reports whether two indexes hold the same address set
func (e *ExistenceIndex) Equal(other *ExistenceIndex) bool {
	if e.count != other.count || len(e.rows) != len(other.rows) || len(e.cols) != len(other.cols) {
		return false
	}
	for ref := range e.All() {
		if !other.Has(ref) {
			return false
		}
	}
	return true
}

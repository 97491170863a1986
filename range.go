package spreadsheet

import (
	"iter"
	"strings"

	"golang.org/x/exp/constraints"
)

// Range is a rectangle of cells. constructors and parsers always return it
// normalized: Start is the top-left corner and End the bottom-right.
type Range struct {
	Start Ref
	End   Ref
}

// NewRange builds a normalized range from two corners
func NewRange(a, b Ref) Range {
	return NormalizeRange(Range{Start: a, End: b})
}

// NormalizeRange swaps components so Start <= End on both axes
func NormalizeRange(r Range) Range {
	return Range{
		Start: Ref{Row: min(r.Start.Row, r.End.Row), Column: min(r.Start.Column, r.End.Column)},
		End:   Ref{Row: max(r.Start.Row, r.End.Row), Column: max(r.Start.Column, r.End.Column)},
	}
}

// ParseRange parses "A1:B3". a bare address parses as a single-cell range.
func ParseRange(text string) (Range, error) {
	parts := strings.Split(text, ":")
	switch len(parts) {
	case 1:
		ref, err := ParseRef(parts[0])
		if err != nil {
			return Range{}, err
		}
		return Range{Start: ref, End: ref}, nil
	case 2:
		start, err := ParseRef(parts[0])
		if err != nil {
			return Range{}, err
		}
		end, err := ParseRef(parts[1])
		if err != nil {
			return Range{}, err
		}
		return NewRange(start, end), nil
	default:
		return Range{}, invalidReference(text)
	}
}

// MustParseRange is ParseRange for literals known to be valid
func MustParseRange(text string) Range {
	r, err := ParseRange(text)
	if err != nil {
		panic(err)
	}
	return r
}

// FormatRange renders "A1:B3", or just "A1" for a single cell
func FormatRange(r Range) string {
	if r.Start == r.End {
		return FormatRef(r.Start)
	}
	return FormatRef(r.Start) + ":" + FormatRef(r.End)
}

func (r Range) String() string {
	return FormatRange(r)
}

// InRange reports whether ref lies inside r (inclusive)
func InRange(ref Ref, r Range) bool {
	return ref.Row >= r.Start.Row && ref.Row <= r.End.Row &&
		ref.Column >= r.Start.Column && ref.Column <= r.End.Column
}

// RangesIntersect reports whether two normalized ranges overlap
func RangesIntersect(a, b Range) bool {
	return a.Start.Row <= b.End.Row && b.Start.Row <= a.End.Row &&
		a.Start.Column <= b.End.Column && b.Start.Column <= a.End.Column
}

// ExpandRange grows r by rate cells on every side, clamped at row and
// column 1. used to prefetch around a viewport.
func ExpandRange(r Range, rate int) Range {
	r = NormalizeRange(r)
	return Range{
		Start: Ref{Row: clampMin(r.Start.Row-rate, 1), Column: clampMin(r.Start.Column-rate, 1)},
		End:   Ref{Row: r.End.Row + rate, Column: r.End.Column + rate},
	}
}

// Rows returns the number of rows spanned
func (r Range) Rows() int {
	return r.End.Row - r.Start.Row + 1
}

// Columns returns the number of columns spanned
func (r Range) Columns() int {
	return r.End.Column - r.Start.Column + 1
}

// Size returns the number of cells in the range
func (r Range) Size() int {
	return r.Rows() * r.Columns()
}

// Cells iterates every address in the range in row-major order, empty or
// not. prefer ExistenceIndex.CellsInRange for large sparse ranges.
func (r Range) Cells() iter.Seq[Ref] {
	return func(yield func(Ref) bool) {
		for row := r.Start.Row; row <= r.End.Row; row++ {
			for col := r.Start.Column; col <= r.End.Column; col++ {
				if !yield(Ref{Row: row, Column: col}) {
					return
				}
			}
		}
	}
}

func clampMin[T constraints.Integer](v, lo T) T {
	if v < lo {
		return lo
	}
	return v
}

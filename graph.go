package spreadsheet

import (
	"maps"
	"slices"
	"strings"
)

// Precedent is something a formula reads: one cell or a range, on the
// formula's own sheet (Sheet == "") or on another sheet (Sheet holds its
// SheetKey). a single cell has Range.Start == Range.End.
type Precedent struct {
	Sheet string
	Range Range
}

// ParsePrecedent converts an extracted reference such as "A1", "B2:C9" or
// "SHEET2!A1" into a precedent. malformed references report false.
func ParsePrecedent(text string) (Precedent, bool) {
	sheet, address := SplitSheet(text)
	rng, err := ParseRange(address)
	if err != nil {
		return Precedent{}, false
	}
	if sheet != "" {
		sheet = SheetKey(sheet)
	}
	return Precedent{Sheet: sheet, Range: rng}, true
}

// IsCell reports whether the precedent names a single cell
func (p Precedent) IsCell() bool {
	return p.Range.Start == p.Range.End
}

func (p Precedent) String() string {
	return QualifyAddress(p.Sheet, FormatRange(p.Range))
}

// observerBlock is the column span of one range index bucket
const observerBlock = 32

// observerBucket groups the ranges on one sheet that overlap a block of
// observerBlock columns
type observerBucket struct {
	sheet string
	block int
}

func columnBlock(column int) int {
	return (column - 1) / observerBlock
}

// DependencyGraph is the reverse reference map of one sheet: for every
// cell or range a formula reads, the formula cells reading it. it is
// derived state, patched per formula write and rebuildable from the
// formulas alone.
type DependencyGraph struct {
	precedents     map[Ref][]Precedent            // formula cell -> what it reads
	cellDependents map[Precedent]map[Ref]struct{} // single cell -> formula cells
	rangeObservers map[Precedent]map[Ref]struct{} // range -> formula cells
	rangeIndex     map[observerBucket]map[Precedent]struct{}
	volatileCells  map[Ref]struct{} // cells calling NOW, TODAY or RAND
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		precedents:     make(map[Ref][]Precedent),
		cellDependents: make(map[Precedent]map[Ref]struct{}),
		rangeObservers: make(map[Precedent]map[Ref]struct{}),
		rangeIndex:     make(map[observerBucket]map[Precedent]struct{}),
		volatileCells:  make(map[Ref]struct{}),
	}
}

// SetFormula records that the formula at `at` reads refs, replacing whatever
// it read before. references that do not parse are skipped.
func (dg *DependencyGraph) SetFormula(at Ref, refs []string) {
	dg.Clear(at)

	var precedents []Precedent
	seen := make(map[Precedent]struct{}, len(refs))
	for _, text := range refs {
		p, ok := ParsePrecedent(text)
		if !ok {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		precedents = append(precedents, p)

		index := dg.rangeObservers
		if p.IsCell() {
			index = dg.cellDependents
		}
		if index[p] == nil {
			index[p] = make(map[Ref]struct{})
			if !p.IsCell() {
				dg.indexRange(p)
			}
		}
		index[p][at] = struct{}{}
	}
	// a formula with no references is still a formula cell
	if precedents == nil {
		precedents = []Precedent{}
	}
	dg.precedents[at] = precedents
}

// Clear removes the formula at `at` and every edge it contributed
func (dg *DependencyGraph) Clear(at Ref) {
	precedents, exists := dg.precedents[at]
	if !exists {
		return
	}
	for _, p := range precedents {
		index := dg.rangeObservers
		if p.IsCell() {
			index = dg.cellDependents
		}
		if observers, ok := index[p]; ok {
			delete(observers, at)
			if len(observers) == 0 {
				delete(index, p)
				if !p.IsCell() {
					dg.unindexRange(p)
				}
			}
		}
	}
	delete(dg.precedents, at)
	delete(dg.volatileCells, at)
}

func (dg *DependencyGraph) indexRange(p Precedent) {
	for b := columnBlock(p.Range.Start.Column); b <= columnBlock(p.Range.End.Column); b++ {
		key := observerBucket{sheet: p.Sheet, block: b}
		if dg.rangeIndex[key] == nil {
			dg.rangeIndex[key] = make(map[Precedent]struct{})
		}
		dg.rangeIndex[key][p] = struct{}{}
	}
}

func (dg *DependencyGraph) unindexRange(p Precedent) {
	for b := columnBlock(p.Range.Start.Column); b <= columnBlock(p.Range.End.Column); b++ {
		key := observerBucket{sheet: p.Sheet, block: b}
		delete(dg.rangeIndex[key], p)
		if len(dg.rangeIndex[key]) == 0 {
			delete(dg.rangeIndex, key)
		}
	}
}

// SetVolatile marks or unmarks a formula cell as volatile
func (dg *DependencyGraph) SetVolatile(at Ref, volatile bool) {
	if volatile {
		dg.volatileCells[at] = struct{}{}
	} else {
		delete(dg.volatileCells, at)
	}
}

// VolatileCells returns the volatile formula cells in row-major order
func (dg *DependencyGraph) VolatileCells() []Ref {
	return slices.SortedFunc(maps.Keys(dg.volatileCells), CompareRefs)
}

// HasFormula reports whether the graph tracks a formula at `at`
func (dg *DependencyGraph) HasFormula(at Ref) bool {
	_, ok := dg.precedents[at]
	return ok
}

// Precedents returns what the formula at `at` reads
func (dg *DependencyGraph) Precedents(at Ref) []Precedent {
	return slices.Clone(dg.precedents[at])
}

// FormulaCells returns every tracked formula cell in row-major order
func (dg *DependencyGraph) FormulaCells() []Ref {
	return slices.SortedFunc(maps.Keys(dg.precedents), CompareRefs)
}

// Dependents returns the formula cells that read ref on sheet ("" for the
// graph's own sheet), directly or through a range containing it, in
// row-major order. only ranges sharing ref's column block are scanned.
func (dg *DependencyGraph) Dependents(sheet string, ref Ref) []Ref {
	if sheet != "" {
		sheet = SheetKey(sheet)
	}
	found := make(map[Ref]struct{})
	for dep := range dg.cellDependents[Precedent{Sheet: sheet, Range: Range{Start: ref, End: ref}}] {
		found[dep] = struct{}{}
	}
	for p := range dg.rangeIndex[observerBucket{sheet: sheet, block: columnBlock(ref.Column)}] {
		if InRange(ref, p.Range) {
			for dep := range dg.rangeObservers[p] {
				found[dep] = struct{}{}
			}
		}
	}
	return slices.SortedFunc(maps.Keys(found), CompareRefs)
}

// ReferencedSheets returns the keys of every other sheet some formula reads
func (dg *DependencyGraph) ReferencedSheets() []string {
	sheets := make(map[string]struct{})
	for p := range dg.cellDependents {
		if p.Sheet != "" {
			sheets[p.Sheet] = struct{}{}
		}
	}
	for p := range dg.rangeObservers {
		if p.Sheet != "" {
			sheets[p.Sheet] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(sheets))
}

// ReadsSheet reports whether any formula reads the given sheet
func (dg *DependencyGraph) ReadsSheet(sheet string) bool {
	return slices.Contains(dg.ReferencedSheets(), SheetKey(sheet))
}

// ReadersOf returns the formula cells reading anything on sheet, in
// row-major order
func (dg *DependencyGraph) ReadersOf(sheet string) []Ref {
	key := SheetKey(sheet)
	var readers []Ref
	for at, precedents := range dg.precedents {
		if slices.ContainsFunc(precedents, func(p Precedent) bool { return p.Sheet == key }) {
			readers = append(readers, at)
		}
	}
	slices.SortFunc(readers, CompareRefs)
	return readers
}

// Rebuild discards all edges and re-derives them from formulas
func (dg *DependencyGraph) Rebuild(formulas map[Ref]*CompiledFormula) {
	*dg = *NewDependencyGraph()
	for at, compiled := range formulas {
		dg.SetFormula(at, compiled.References)
		dg.SetVolatile(at, compiled.Volatile)
	}
}

// NodeCount returns the number of formula cells
func (dg *DependencyGraph) NodeCount() int {
	return len(dg.precedents)
}

// RangeBucketCount returns the number of populated range index buckets
func (dg *DependencyGraph) RangeBucketCount() int {
	return len(dg.rangeIndex)
}

// RangeObserverCount returns the number of distinct ranges being observed
func (dg *DependencyGraph) RangeObserverCount() int {
	return len(dg.rangeObservers)
}

// Snapshot renders the graph as formula cell -> sorted precedent strings,
// for integrity checks and debugging
func (dg *DependencyGraph) Snapshot() map[string][]string {
	out := make(map[string][]string, len(dg.precedents))
	for at, precedents := range dg.precedents {
		texts := make([]string, len(precedents))
		for i, p := range precedents {
			texts[i] = p.String()
		}
		slices.SortFunc(texts, strings.Compare)
		out[FormatRef(at)] = texts
	}
	return out
}

// Equal reports whether both graphs hold the same edges
func (dg *DependencyGraph) Equal(other *DependencyGraph) bool {
	return maps.EqualFunc(dg.Snapshot(), other.Snapshot(), func(a, b []string) bool {
		return slices.Equal(a, b)
	})
}

package spreadsheet

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// SheetResolver supplies cells from another sheet for cross-sheet
// references. addresses are single cells or ranges without the sheet
// qualifier. ok is false when no sheet by that name exists, in which case
// its references read as empty.
type SheetResolver func(ctx context.Context, sheet string, addresses []string) (grid Grid, ok bool, err error)

// cellKey names one cell in a workbook. sheet holds the SheetKey of the
// owning sheet.
type cellKey struct {
	sheet string
	ref   Ref
}

func (k cellKey) String() string {
	return QualifyAddress(k.sheet, FormatRef(k.ref))
}

// recalcPlan is the evaluation order for one recalculation. every cell
// appears after the cells it reads, except inside a cycle.
type recalcPlan struct {
	order  []cellKey
	cycled map[cellKey]bool
}

// planRecalculation orders every cell reachable from seeds through
// dependents. a strongly connected component of more than one cell, or a
// cell reading itself, is a cycle and all of its members are marked. cells
// that merely read a cycle are not.
func planRecalculation(seeds []cellKey, dependents func(cellKey) []cellKey) recalcPlan {
	t := &tarjan{
		dependents: dependents,
		index:      make(map[cellKey]int),
		low:        make(map[cellKey]int),
		onStack:    make(map[cellKey]bool),
		cycled:     make(map[cellKey]bool),
	}
	for _, seed := range seeds {
		if _, seen := t.index[seed]; !seen {
			t.visit(seed)
		}
	}
	// components come out sinks first
	slices.Reverse(t.emitted)
	return recalcPlan{order: t.emitted, cycled: t.cycled}
}

type tarjan struct {
	dependents func(cellKey) []cellKey
	next       int
	index      map[cellKey]int
	low        map[cellKey]int
	stack      []cellKey
	onStack    map[cellKey]bool
	emitted    []cellKey
	cycled     map[cellKey]bool
}

func (t *tarjan) visit(v cellKey) {
	t.index[v] = t.next
	t.low[v] = t.next
	t.next++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	selfLoop := false
	for _, w := range t.dependents(v) {
		if w == v {
			selfLoop = true
			continue
		}
		if _, seen := t.index[w]; !seen {
			t.visit(w)
			t.low[v] = min(t.low[v], t.low[w])
		} else if t.onStack[w] {
			t.low[v] = min(t.low[v], t.index[w])
		}
	}
	if t.low[v] != t.index[v] {
		return
	}

	start := len(t.stack) - 1
	for t.stack[start] != v {
		start--
	}
	component := t.stack[start:]
	cyclic := len(component) > 1 || selfLoop
	for i := len(component) - 1; i >= 0; i-- {
		w := component[i]
		t.onStack[w] = false
		if cyclic {
			t.cycled[w] = true
		}
		t.emitted = append(t.emitted, w)
	}
	t.stack = t.stack[:start]
}

// localDependents returns the formula cells of this sheet reading ref,
// whether they name it plainly or qualified with this sheet's own name
func (s *Sheet) localDependents(ref Ref) []Ref {
	deps := s.graph.Dependents("", ref)
	if s.name == "" {
		return deps
	}
	qualified := s.graph.Dependents(s.name, ref)
	if len(qualified) == 0 {
		return deps
	}
	return slices.Compact(slices.SortedFunc(slices.Values(append(deps, qualified...)), CompareRefs))
}

// recalc re-evaluates seeds and everything downstream of them on this
// sheet, returning the cells whose display text changed. the caller holds
// s.mu.
func (s *Sheet) recalc(ctx context.Context, seeds []Ref) ([]Ref, error) {
	key := SheetKey(s.name)
	keys := make([]cellKey, len(seeds))
	for i, ref := range seeds {
		keys[i] = cellKey{sheet: key, ref: ref}
	}
	plan := planRecalculation(keys, func(k cellKey) []cellKey {
		deps := s.localDependents(k.ref)
		out := make([]cellKey, len(deps))
		for i, ref := range deps {
			out[i] = cellKey{sheet: key, ref: ref}
		}
		return out
	})
	if len(plan.cycled) > 0 {
		s.logger.Printf("sheet %q: %d cells in dependency cycles", s.name, len(plan.cycled))
	}

	var changed []Ref
	for _, k := range plan.order {
		ok, err := s.evaluateCell(ctx, k.ref, plan.cycled[k])
		if err != nil {
			return changed, err
		}
		if ok {
			changed = append(changed, k.ref)
		}
	}
	if len(plan.order) > 1 {
		s.logger.Printf("sheet %q: recalculated %d cells from %d seeds, %d changed", s.name, len(plan.order), len(seeds), len(changed))
	}
	return changed, nil
}

// evaluateCell recomputes the formula at ref and stores the result when
// it differs from what is stored. cells without a formula are left alone.
func (s *Sheet) evaluateCell(ctx context.Context, ref Ref, cycled bool) (bool, error) {
	if !s.graph.HasFormula(ref) {
		return false, nil
	}
	cell, ok, err := s.store.Get(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", ref, err)
	}
	if !ok || !cell.HasFormula() {
		return false, nil
	}

	display, err := s.compute(ctx, cell.Formula, cycled)
	if err != nil {
		return false, err
	}
	if display == cell.Value {
		return false, nil
	}
	cell.Value = display
	if err := s.store.Set(ctx, ref, cell); err != nil {
		return false, fmt.Errorf("write %s: %w", ref, err)
	}
	return true, nil
}

// compute returns the display text of formula on this sheet
func (s *Sheet) compute(ctx context.Context, formula string, cycled bool) (string, error) {
	if cycled {
		return ErrorCodeRef.String(), nil
	}
	compiled := s.formulas.Get(formula)
	if compiled.Err != nil {
		return ErrorCodeOther.String(), nil
	}
	snap, err := s.snapshotFor(ctx, compiled)
	if err != nil {
		return "", err
	}
	return s.evaluator.EvaluateTree(compiled.Tree, snap), nil
}

// snapshotFor fetches exactly the cells a formula reads. references to
// this sheet by name are read locally; other sheets go through the
// resolver, and read as empty without one.
func (s *Sheet) snapshotFor(ctx context.Context, compiled *CompiledFormula) (*Snapshot, error) {
	local := Grid{}
	var own Grid
	var sheets []string
	foreign := make(map[string][]string)

	for _, text := range compiled.References {
		sheet, address := SplitSheet(text)
		if sheet != "" && SheetKey(sheet) != SheetKey(s.name) {
			key := SheetKey(sheet)
			if _, ok := foreign[key]; !ok {
				sheets = append(sheets, sheet)
			}
			foreign[key] = append(foreign[key], address)
			continue
		}
		rng, err := ParseRange(address)
		if err != nil {
			continue
		}
		target := local
		if sheet != "" {
			if own == nil {
				own = Grid{}
			}
			target = own
		}
		if err := fetchRange(ctx, s.store, rng, target); err != nil {
			return nil, fmt.Errorf("read %s: %w", text, err)
		}
	}

	snap := NewSnapshot(local)
	if own != nil {
		snap.AddSheet(s.name, own)
	}
	if s.resolver == nil {
		return snap, nil
	}
	for _, sheet := range sheets {
		grid, ok, err := s.resolver(ctx, sheet, foreign[SheetKey(sheet)])
		if err != nil {
			return nil, fmt.Errorf("resolve sheet %q: %w", sheet, err)
		}
		if ok {
			snap.AddSheet(sheet, grid)
		}
	}
	return snap, nil
}

// fetchRange copies the stored cells inside rng into dst
func fetchRange(ctx context.Context, store Storage, rng Range, dst Grid) error {
	if rng.Start == rng.End {
		cell, ok, err := store.Get(ctx, rng.Start)
		if err != nil {
			return err
		}
		if ok {
			dst[rng.Start] = cell
		}
		return nil
	}
	grid, err := store.GetRange(ctx, rng)
	if err != nil {
		return err
	}
	maps.Copy(dst, grid)
	return nil
}

package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"maps"
	"slices"
	"sync"
)

// AppErrorCode represents gRPC-style error codes for application-level errors.
// note that we are skipping error codes that don't make sense for our use-case,
// like unauthenticated, or permission denied.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error. Errors raised by APIs that do not return enough error
	// information may be converted to this error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates client specified an invalid argument.
	InvalidArgument AppErrorCode = 3

	// NotFound means some requested entity (e.g., a sheet) was not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists AppErrorCode = 6

	// FailedPrecondition indicates operation was rejected because the
	// system is not in a state required for the operation's execution.
	FailedPrecondition AppErrorCode = 9

	// OutOfRange means operation was attempted past the valid range.
	OutOfRange AppErrorCode = 11

	// Internal errors. Means some invariants expected by underlying
	// system has been broken.
	Internal AppErrorCode = 13
)

// AppError represents errors at the application level (not
// spreadsheet formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// ErrorCodeOf returns the code of an *AppError anywhere in err's chain, or
// Unknown for any other error
func ErrorCodeOf(err error) AppErrorCode {
	if err == nil {
		return OK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

const (
	DefaultMaxRows      = 700_000
	DefaultMaxColumns   = 18_278 // ZZZ
	DefaultRowHeight    = 21
	DefaultColumnWidth  = 100
	defaultLoggerPrefix = "spreadsheet: "
)

// Option configures a Sheet
type Option func(*Sheet)

// WithLogger sets the logger used for recalculation and structural edits.
// sheets log nowhere by default.
func WithLogger(logger *log.Logger) Option {
	return func(s *Sheet) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFunctions replaces the function table formulas dispatch through
func WithFunctions(functions *FunctionTable) Option {
	return func(s *Sheet) { s.functions = functions }
}

// WithClock sets the clock TODAY and NOW read
func WithClock(clock Clock) Option {
	return func(s *Sheet) { s.clock = clock }
}

// WithResolver sets how references to other sheets are resolved
func WithResolver(resolver SheetResolver) Option {
	return func(s *Sheet) { s.resolver = resolver }
}

// WithBounds limits the addressable grid
func WithBounds(rows, columns int) Option {
	return func(s *Sheet) {
		if rows > 0 {
			s.maxRows = rows
		}
		if columns > 0 {
			s.maxCols = columns
		}
	}
}

// WithDimensions sets the default row height and column width
func WithDimensions(rowHeight, columnWidth int) Option {
	return func(s *Sheet) {
		if rowHeight > 0 {
			s.rows = NewDimensionIndex(rowHeight)
		}
		if columnWidth > 0 {
			s.cols = NewDimensionIndex(columnWidth)
		}
	}
}

// Sheet combines storage, parsing, dependency tracking and formula
// evaluation for one grid. every exported method holds the sheet's lock
// for the whole edit-and-recalculate operation.
type Sheet struct {
	mu sync.Mutex

	name      string
	store     Storage
	graph     *DependencyGraph
	exists    *ExistenceIndex
	formulas  *FormulaCache
	held      map[Ref]string // formula text each cell holds in the cache
	rows      *DimensionIndex
	cols      *DimensionIndex
	functions *FunctionTable
	clock     Clock
	evaluator *Evaluator
	resolver  SheetResolver
	logger    *log.Logger
	maxRows   int
	maxCols   int
}

// NewSheet creates a sheet over store. a nil store means a fresh
// MemoryStorage. call Load when store already holds cells.
func NewSheet(name string, store Storage, opts ...Option) *Sheet {
	if store == nil {
		store = NewMemoryStorage()
	}
	s := &Sheet{
		name:     name,
		store:    store,
		graph:    NewDependencyGraph(),
		exists:   NewExistenceIndex(),
		formulas: NewFormulaCache(),
		held:     make(map[Ref]string),
		rows:     NewDimensionIndex(DefaultRowHeight),
		cols:     NewDimensionIndex(DefaultColumnWidth),
		logger:   log.New(io.Discard, defaultLoggerPrefix, log.LstdFlags),
		maxRows:  DefaultMaxRows,
		maxCols:  DefaultMaxColumns,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.evaluator = NewEvaluator(s.functions, s.clock)
	return s
}

// Name returns the sheet's name
func (s *Sheet) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Bounds returns the addressable area of the sheet
func (s *Sheet) Bounds() Range {
	return Range{Start: Ref{Row: 1, Column: 1}, End: Ref{Row: s.maxRows, Column: s.maxCols}}
}

// Rows returns a copy of the row height index. use Resize to change it.
func (s *Sheet) Rows() *DimensionIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows.Clone()
}

// Columns returns a copy of the column width index
func (s *Sheet) Columns() *DimensionIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols.Clone()
}

func (s *Sheet) axisIndex(axis Axis) *DimensionIndex {
	if axis == AxisColumn {
		return s.cols
	}
	return s.rows
}

// Resize overrides the size of one row or column. a negative size restores
// the default. it returns the resulting size and pixel offset of index.
func (s *Sheet) Resize(axis Axis, index, size int) (int, int, error) {
	if index < 1 {
		return 0, 0, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid %s index %d", axis, index))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.axisIndex(axis)
	if size < 0 {
		d.Delete(index)
	} else {
		d.Set(index, size)
	}
	return d.Size(index), d.Offset(index), nil
}

// Dimensions returns a copy of the size overrides along axis
func (s *Sheet) Dimensions(axis Axis) map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.axisIndex(axis).Overrides()
}

// Storage returns the grid the sheet reads and writes
func (s *Sheet) Storage() Storage {
	return s.store
}

// Load rebuilds the dependency graph, existence index and formula cache
// from what storage currently holds. stored display values are trusted;
// call RecalculateAll to recompute them.
func (s *Sheet) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grid, err := s.store.GetRange(ctx, s.Bounds())
	if err != nil {
		return fmt.Errorf("load sheet %q: %w", s.name, err)
	}
	s.rebuildDerived(grid)
	return nil
}

// Get returns the cell at address. a missing cell is returned empty.
func (s *Sheet) Get(ctx context.Context, address string) (Cell, error) {
	ref, err := s.parseAddress(address)
	if err != nil {
		return Cell{}, err
	}
	cell, _, err := s.store.Get(ctx, ref)
	if err != nil {
		return Cell{}, fmt.Errorf("read %s: %w", ref, err)
	}
	return cell, nil
}

// Set writes user input to address and recalculates everything that
// depends on it. input starting with "=" is a formula; empty input removes
// the cell. it returns every cell whose stored content changed.
func (s *Sheet) Set(ctx context.Context, address, input string) ([]Ref, error) {
	ref, err := s.parseAddress(address)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAndRecalc(ctx, ref, ParseInput(input))
}

// SetCell writes a cell as stored: a formula cell keeps its Value until it
// is recalculated
func (s *Sheet) SetCell(ctx context.Context, ref Ref, cell Cell) ([]Ref, error) {
	if err := s.checkBounds(ref); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAndRecalc(ctx, ref, cell)
}

// Remove deletes the cell at address and recalculates its dependents
func (s *Sheet) Remove(ctx context.Context, address string) ([]Ref, error) {
	return s.Set(ctx, address, "")
}

// Recalculate re-evaluates seeds and all of their dependents
func (s *Sheet) Recalculate(ctx context.Context, seeds ...Ref) ([]Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recalc(ctx, seeds)
}

// RecalculateAll re-evaluates every formula on the sheet
func (s *Sheet) RecalculateAll(ctx context.Context) ([]Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recalc(ctx, s.graph.FormulaCells())
}

// RecalculateVolatile re-evaluates formulas calling NOW, TODAY or RAND,
// and everything reading them
func (s *Sheet) RecalculateVolatile(ctx context.Context) ([]Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recalc(ctx, s.graph.VolatileCells())
}

// Shift inserts (count > 0) or deletes (count < 0) rows or columns at
// index. it returns every cell whose stored content changed.
func (s *Sheet) Shift(ctx context.Context, axis Axis, index, count int) ([]Ref, error) {
	if index < 1 || count == 0 {
		return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid shift: index %d, count %d", index, count))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyEdit(ctx, ShiftEdit(axis, index, count))
}

// Move relocates count rows or columns starting at src to just before dst
func (s *Sheet) Move(ctx context.Context, axis Axis, src, count, dst int) ([]Ref, error) {
	if src < 1 || count < 1 || dst < 1 {
		return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid move: src %d, count %d, dst %d", src, count, dst))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyEdit(ctx, MoveEdit(axis, src, count, dst))
}

// FindEdge jumps from address to the edge of a data block in direction d
func (s *Sheet) FindEdge(address string, d Direction) (Ref, error) {
	ref, err := s.parseAddress(address)
	if err != nil {
		return Ref{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists.FindEdge(ref, d, s.Bounds()), nil
}

// Dependents returns the formula cells directly reading address
func (s *Sheet) Dependents(address string) ([]Ref, error) {
	ref, err := s.parseAddress(address)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localDependents(ref), nil
}

// Graph returns the sheet's dependency graph. it must not be modified.
func (s *Sheet) Graph() *DependencyGraph {
	return s.graph
}

// Verify rebuilds the derived state from storage and reports whether it
// matches what the sheet maintained incrementally
func (s *Sheet) Verify(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grid, err := s.store.GetRange(ctx, s.Bounds())
	if err != nil {
		return fmt.Errorf("verify sheet %q: %w", s.name, err)
	}

	formulas := make(map[Ref]*CompiledFormula)
	for ref, cell := range grid {
		if cell.HasFormula() {
			formulas[ref] = Compile(cell.Formula)
		}
	}
	graph := NewDependencyGraph()
	graph.Rebuild(formulas)
	if !graph.Equal(s.graph) {
		return NewApplicationError(Internal, fmt.Sprintf("sheet %q: dependency graph out of sync with storage", s.name))
	}
	if !NewExistenceIndexFromGrid(grid).Equal(s.exists) {
		return NewApplicationError(Internal, fmt.Sprintf("sheet %q: existence index out of sync with storage", s.name))
	}
	if len(s.held) != len(formulas) {
		return NewApplicationError(Internal, fmt.Sprintf("sheet %q: formula cache holds %d cells, storage %d", s.name, len(s.held), len(formulas)))
	}
	return nil
}

func (s *Sheet) parseAddress(address string) (Ref, error) {
	ref, err := ParseRef(address)
	if err != nil {
		return Ref{}, err
	}
	return ref, s.checkBounds(ref)
}

func (s *Sheet) checkBounds(ref Ref) error {
	if !ref.Valid() || ref.Row > s.maxRows || ref.Column > s.maxCols {
		return NewApplicationError(OutOfRange, fmt.Sprintf("%s is outside the sheet", ref))
	}
	return nil
}

func (s *Sheet) setAndRecalc(ctx context.Context, ref Ref, cell Cell) ([]Ref, error) {
	old, err := s.write(ctx, ref, cell)
	if err != nil {
		return nil, err
	}
	changed, err := s.recalc(ctx, []Ref{ref})
	if err != nil {
		return changed, err
	}
	if !slices.Contains(changed, ref) {
		current, _, err := s.store.Get(ctx, ref)
		if err != nil {
			return changed, fmt.Errorf("read %s: %w", ref, err)
		}
		if current != old {
			changed = append([]Ref{ref}, changed...)
		}
	}
	return changed, nil
}

// write stores cell at ref and patches the derived state without
// recalculating anything. it returns the cell previously stored.
func (s *Sheet) write(ctx context.Context, ref Ref, cell Cell) (Cell, error) {
	old, _, err := s.store.Get(ctx, ref)
	if err != nil {
		return Cell{}, fmt.Errorf("read %s: %w", ref, err)
	}

	if cell.IsEmpty() {
		if _, err := s.store.Delete(ctx, ref); err != nil {
			return old, fmt.Errorf("delete %s: %w", ref, err)
		}
	} else {
		if err := s.store.Set(ctx, ref, cell); err != nil {
			return old, fmt.Errorf("write %s: %w", ref, err)
		}
	}
	s.track(ref, cell)
	return old, nil
}

// track updates the graph, cache and existence index for one cell
func (s *Sheet) track(ref Ref, cell Cell) {
	if previous, ok := s.held[ref]; ok && previous != cell.Formula {
		s.formulas.Release(previous)
		delete(s.held, ref)
	}
	if cell.HasFormula() {
		if _, ok := s.held[ref]; !ok {
			s.held[ref] = cell.Formula
			compiled := s.formulas.Acquire(cell.Formula)
			s.graph.SetFormula(ref, compiled.References)
			s.graph.SetVolatile(ref, compiled.Volatile)
		}
	} else {
		s.graph.Clear(ref)
	}

	if cell.IsEmpty() {
		s.exists.Remove(ref)
	} else {
		s.exists.Add(ref)
	}
}

// rebuildDerived discards the graph, cache and existence index and
// derives them again from grid
func (s *Sheet) rebuildDerived(grid Grid) {
	s.formulas.Reset()
	s.held = make(map[Ref]string)
	formulas := make(map[Ref]*CompiledFormula)
	for ref, cell := range grid {
		if cell.HasFormula() {
			s.held[ref] = cell.Formula
			formulas[ref] = s.formulas.Acquire(cell.Formula)
		}
	}
	s.graph.Rebuild(formulas)
	s.exists = NewExistenceIndexFromGrid(grid)
}

// applies reports whether a reference qualifier names this sheet
func (s *Sheet) applies(sheet string) bool {
	return sheet == "" || SheetKey(sheet) == SheetKey(s.name)
}

// applyEdit runs a structural edit over the stored grid, the dimension
// tables and the derived state, then recalculates every formula reading a
// cell that moved or vanished
func (s *Sheet) applyEdit(ctx context.Context, edit StructuralEdit) ([]Ref, error) {
	writes, err := s.remapStored(ctx, edit)
	if err != nil {
		return nil, err
	}

	if edit.Axis == AxisColumn {
		s.cols.Remap(edit.Remap)
	} else {
		s.rows.Remap(edit.Remap)
	}

	grid, err := s.store.GetRange(ctx, s.Bounds())
	if err != nil {
		return nil, fmt.Errorf("reload sheet %q: %w", s.name, err)
	}
	s.rebuildDerived(grid)
	s.logger.Printf("sheet %q: %s rewrote %d cells", s.name, edit, len(writes))

	seeds := slices.SortedFunc(maps.Keys(writes), CompareRefs)
	recalculated, err := s.recalc(ctx, seeds)
	if err != nil {
		return seeds, err
	}
	return mergeRefs(seeds, recalculated), nil
}

// remapStored moves every stored cell through edit and rewrites formulas.
// it returns the writes it made; an empty cell in the result was deleted.
func (s *Sheet) remapStored(ctx context.Context, edit StructuralEdit) (Grid, error) {
	bounds := s.Bounds()
	grid, err := s.store.GetRange(ctx, bounds)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", s.name, err)
	}
	moved := RemapGrid(grid, edit, s.applies)

	writes := make(Grid)
	for ref := range grid {
		if _, ok := moved[ref]; !ok {
			writes[ref] = Cell{}
		}
	}
	for ref, cell := range moved {
		if !InRange(ref, bounds) {
			continue
		}
		if old, ok := grid[ref]; !ok || old != cell {
			writes[ref] = cell
		}
	}
	if err := s.store.SetGrid(ctx, writes); err != nil {
		return nil, fmt.Errorf("write sheet %q: %w", s.name, err)
	}
	return writes, nil
}

// rewriteQualified rewrites the formulas on this sheet that reference
// another sheet by name. it returns the cells whose formula changed.
func (s *Sheet) rewriteQualified(ctx context.Context, rewrite func(formula string) string) ([]Ref, error) {
	writes := make(Grid)
	for ref, formula := range s.held {
		if next := rewrite(formula); next != formula {
			cell, _, err := s.store.Get(ctx, ref)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", ref, err)
			}
			cell.Formula = next
			writes[ref] = cell
		}
	}
	if len(writes) == 0 {
		return nil, nil
	}
	if err := s.store.SetGrid(ctx, writes); err != nil {
		return nil, fmt.Errorf("write sheet %q: %w", s.name, err)
	}
	for ref, cell := range writes {
		s.track(ref, cell)
	}
	return slices.SortedFunc(maps.Keys(writes), CompareRefs), nil
}

// mergeRefs returns the sorted union of a and b
func mergeRefs(a, b []Ref) []Ref {
	out := slices.Concat(a, b)
	slices.SortFunc(out, CompareRefs)
	return slices.Compact(out)
}

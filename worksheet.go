package spreadsheet

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"sync"

	"github.com/elliotchance/orderedmap/v3"
)

// StorageFactory creates the storage backing a newly added sheet
type StorageFactory func(name string) (Storage, error)

// SheetRef is a cell on a named sheet
type SheetRef struct {
	Sheet string
	Ref   Ref
}

func (r SheetRef) String() string {
	return QualifyAddress(r.Sheet, FormatRef(r.Ref))
}

// Workbook holds named sheets, resolves references between them and
// carries recalculation across sheet boundaries. sheet names compare
// case-insensitively and are listed in the order they were added.
type Workbook struct {
	mu       sync.Mutex   // serializes workbook operations
	sheetsMu sync.RWMutex // guards sheets; the resolver only takes this one
	sheets   *orderedmap.OrderedMap[string, *Sheet]
	factory  StorageFactory
	options  []Option
	logger   *log.Logger
}

// NewWorkbook creates an empty workbook. factory supplies storage for
// sheets added with AddSheet; nil means in-memory storage. opts apply to
// every sheet, except that the workbook always installs its own resolver.
func NewWorkbook(factory StorageFactory, opts ...Option) *Workbook {
	if factory == nil {
		factory = func(string) (Storage, error) { return NewMemoryStorage(), nil }
	}
	w := &Workbook{
		sheets:  orderedmap.NewOrderedMap[string, *Sheet](),
		factory: factory,
		options: opts,
		logger:  log.New(io.Discard, defaultLoggerPrefix, log.LstdFlags),
	}
	holder := &Sheet{logger: w.logger}
	for _, opt := range opts {
		opt(holder)
	}
	w.logger = holder.logger
	return w
}

// AddSheet creates an empty sheet
func (w *Workbook) AddSheet(ctx context.Context, name string) (*Sheet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkNewName(name); err != nil {
		return nil, err
	}
	store, err := w.factory(name)
	if err != nil {
		return nil, fmt.Errorf("create storage for %q: %w", name, err)
	}
	return w.attach(ctx, name, store)
}

// AttachSheet adds a sheet over storage that may already hold cells. its
// formulas, and every formula elsewhere reading it, are recalculated.
func (w *Workbook) AttachSheet(ctx context.Context, name string, store Storage) (*Sheet, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkNewName(name); err != nil {
		return nil, err
	}
	return w.attach(ctx, name, store)
}

func (w *Workbook) attach(ctx context.Context, name string, store Storage) (*Sheet, error) {
	opts := append(slices.Clone(w.options), WithResolver(w.resolve))
	sheet := NewSheet(name, store, opts...)
	if err := sheet.Load(ctx); err != nil {
		return nil, err
	}

	key := SheetKey(name)
	w.sheetsMu.Lock()
	w.sheets.Set(key, sheet)
	w.sheetsMu.Unlock()

	seeds := w.readersOf(key)
	sheet.mu.Lock()
	for _, ref := range sheet.graph.FormulaCells() {
		seeds = append(seeds, cellKey{sheet: key, ref: ref})
	}
	sheet.mu.Unlock()
	if _, err := w.recalc(ctx, seeds); err != nil {
		return sheet, err
	}
	w.logger.Printf("added sheet %q", name)
	return sheet, nil
}

// RemoveSheet drops a sheet. formulas elsewhere that read it now read
// empty cells.
func (w *Workbook) RemoveSheet(ctx context.Context, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := SheetKey(name)
	if _, ok := w.lookup(key); !ok {
		return NewApplicationError(NotFound, fmt.Sprintf("sheet %q not found", name))
	}
	w.sheetsMu.Lock()
	w.sheets.Delete(key)
	w.sheetsMu.Unlock()

	_, err := w.recalc(ctx, w.readersOf(key))
	w.logger.Printf("removed sheet %q", name)
	return err
}

// RenameSheet renames a sheet and rewrites every reference qualified with
// the old name
func (w *Workbook) RenameSheet(ctx context.Context, oldName, newName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	oldKey, newKey := SheetKey(oldName), SheetKey(newName)
	sheet, ok := w.lookup(oldKey)
	if !ok {
		return NewApplicationError(NotFound, fmt.Sprintf("sheet %q not found", oldName))
	}
	if oldKey != newKey {
		if err := w.checkNewName(newName); err != nil {
			return err
		}
	}

	w.sheetsMu.Lock()
	renamed := orderedmap.NewOrderedMap[string, *Sheet]()
	for key, s := range w.sheets.AllFromFront() {
		if key == oldKey {
			key = newKey
		}
		renamed.Set(key, s)
	}
	w.sheets = renamed
	w.sheetsMu.Unlock()

	sheet.mu.Lock()
	sheet.name = newName
	sheet.mu.Unlock()

	seeds := w.readersOf(newKey)
	for key, s := range w.all() {
		s.mu.Lock()
		rewritten, err := s.rewriteQualified(ctx, func(formula string) string {
			return RenameSheetReferences(formula, oldName, newName)
		})
		s.mu.Unlock()
		if err != nil {
			return err
		}
		for _, ref := range rewritten {
			seeds = append(seeds, cellKey{sheet: key, ref: ref})
		}
	}
	_, err := w.recalc(ctx, seeds)
	w.logger.Printf("renamed sheet %q to %q", oldName, newName)
	return err
}

// Sheet returns the sheet with the given name
func (w *Workbook) Sheet(name string) (*Sheet, bool) {
	return w.lookup(SheetKey(name))
}

// Sheets lists sheet names in the order they were added
func (w *Workbook) Sheets() []string {
	w.sheetsMu.RLock()
	var sheets []*Sheet
	for _, s := range w.sheets.AllFromFront() {
		sheets = append(sheets, s)
	}
	w.sheetsMu.RUnlock()
	names := make([]string, 0, len(sheets))
	for _, s := range sheets {
		names = append(names, s.Name())
	}
	return names
}

// UndefinedSheets lists the sheet names formulas refer to that do not
// exist, as sheet keys
func (w *Workbook) UndefinedSheets() []string {
	undefined := make(map[string]struct{})
	sheets := w.all()
	for _, s := range sheets {
		s.mu.Lock()
		referenced := s.graph.ReferencedSheets()
		s.mu.Unlock()
		for _, key := range referenced {
			if _, ok := sheets[key]; !ok {
				undefined[key] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(undefined))
	for key := range undefined {
		names = append(names, key)
	}
	slices.Sort(names)
	return names
}

// Get returns a cell from a named sheet
func (w *Workbook) Get(ctx context.Context, sheet, address string) (Cell, error) {
	s, err := w.mustSheet(sheet)
	if err != nil {
		return Cell{}, err
	}
	return s.Get(ctx, address)
}

// Set writes input to a cell and recalculates its dependents on every
// sheet. it returns every cell whose stored content changed.
func (w *Workbook) Set(ctx context.Context, sheet, address, input string) ([]SheetRef, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.mustSheet(sheet)
	if err != nil {
		return nil, err
	}
	ref, err := s.parseAddress(address)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	old, err := s.write(ctx, ref, ParseInput(input))
	key := SheetKey(s.name)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	changed, err := w.recalc(ctx, []cellKey{{sheet: key, ref: ref}})
	if err != nil {
		return changed, err
	}
	self := SheetRef{Sheet: s.Name(), Ref: ref}
	if !slices.Contains(changed, self) {
		current, _, err := s.store.Get(ctx, ref)
		if err != nil {
			return changed, fmt.Errorf("read %s: %w", ref, err)
		}
		if current != old {
			changed = append([]SheetRef{self}, changed...)
		}
	}
	return changed, nil
}

// Remove deletes a cell and recalculates its dependents on every sheet
func (w *Workbook) Remove(ctx context.Context, sheet, address string) ([]SheetRef, error) {
	return w.Set(ctx, sheet, address, "")
}

// Shift inserts or deletes rows or columns on a sheet, rewriting the
// references other sheets hold into it
func (w *Workbook) Shift(ctx context.Context, sheet string, axis Axis, index, count int) ([]SheetRef, error) {
	if index < 1 || count == 0 {
		return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid shift: index %d, count %d", index, count))
	}
	return w.structural(ctx, sheet, ShiftEdit(axis, index, count))
}

// Move relocates rows or columns on a sheet, rewriting the references
// other sheets hold into it
func (w *Workbook) Move(ctx context.Context, sheet string, axis Axis, src, count, dst int) ([]SheetRef, error) {
	if src < 1 || count < 1 || dst < 1 {
		return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid move: src %d, count %d, dst %d", src, count, dst))
	}
	return w.structural(ctx, sheet, MoveEdit(axis, src, count, dst))
}

func (w *Workbook) structural(ctx context.Context, sheet string, edit StructuralEdit) ([]SheetRef, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.mustSheet(sheet)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	local, err := s.applyEdit(ctx, edit)
	key := SheetKey(s.name)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	seeds := make([]cellKey, 0, len(local))
	for _, ref := range local {
		seeds = append(seeds, cellKey{sheet: key, ref: ref})
	}
	foreign := func(q string) bool { return q != "" && SheetKey(q) == key }
	for other, o := range w.all() {
		if other == key {
			continue
		}
		o.mu.Lock()
		rewritten, err := o.rewriteQualified(ctx, func(formula string) string {
			return RewriteFormula(formula, edit, foreign)
		})
		o.mu.Unlock()
		if err != nil {
			return nil, err
		}
		for _, ref := range rewritten {
			seeds = append(seeds, cellKey{sheet: other, ref: ref})
		}
	}

	recalculated, err := w.recalc(ctx, seeds)
	changed := w.sheetRefs(seeds)
	for _, r := range recalculated {
		if !slices.Contains(changed, r) {
			changed = append(changed, r)
		}
	}
	return changed, err
}

// RecalculateAll re-evaluates every formula in the workbook
func (w *Workbook) RecalculateAll(ctx context.Context) ([]SheetRef, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var seeds []cellKey
	for key, s := range w.all() {
		s.mu.Lock()
		for _, ref := range s.graph.FormulaCells() {
			seeds = append(seeds, cellKey{sheet: key, ref: ref})
		}
		s.mu.Unlock()
	}
	return w.recalc(ctx, seeds)
}

// RecalculateVolatile re-evaluates NOW, TODAY and RAND formulas in the
// workbook and everything reading them
func (w *Workbook) RecalculateVolatile(ctx context.Context) ([]SheetRef, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var seeds []cellKey
	for key, s := range w.all() {
		s.mu.Lock()
		for _, ref := range s.graph.VolatileCells() {
			seeds = append(seeds, cellKey{sheet: key, ref: ref})
		}
		s.mu.Unlock()
	}
	return w.recalc(ctx, seeds)
}

// Verify checks every sheet's derived state against its storage
func (w *Workbook) Verify(ctx context.Context) error {
	for _, s := range w.all() {
		if err := s.Verify(ctx); err != nil {
			return err
		}
	}
	return nil
}

// recalc evaluates everything reachable from seeds across all sheets.
// cycles spanning several sheets are detected like local ones.
func (w *Workbook) recalc(ctx context.Context, seeds []cellKey) ([]SheetRef, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	plan := planRecalculation(seeds, w.dependents)
	if len(plan.cycled) > 0 {
		w.logger.Printf("%d cells in dependency cycles", len(plan.cycled))
	}

	var changed []cellKey
	for _, k := range plan.order {
		s, ok := w.lookup(k.sheet)
		if !ok {
			continue
		}
		s.mu.Lock()
		ok, err := s.evaluateCell(ctx, k.ref, plan.cycled[k])
		s.mu.Unlock()
		if err != nil {
			return w.sheetRefs(changed), err
		}
		if ok {
			changed = append(changed, k)
		}
	}
	return w.sheetRefs(changed), nil
}

// dependents returns the formula cells on any sheet reading k
func (w *Workbook) dependents(k cellKey) []cellKey {
	var out []cellKey
	for key, s := range w.all() {
		s.mu.Lock()
		var refs []Ref
		if key == k.sheet {
			refs = s.localDependents(k.ref)
		} else {
			refs = s.graph.Dependents(k.sheet, k.ref)
		}
		s.mu.Unlock()
		for _, ref := range refs {
			out = append(out, cellKey{sheet: key, ref: ref})
		}
	}
	return out
}

// readersOf returns the formula cells on other sheets reading sheet key
func (w *Workbook) readersOf(key string) []cellKey {
	var out []cellKey
	for other, s := range w.all() {
		if other == key {
			continue
		}
		s.mu.Lock()
		readers := s.graph.ReadersOf(key)
		s.mu.Unlock()
		for _, ref := range readers {
			out = append(out, cellKey{sheet: other, ref: ref})
		}
	}
	return out
}

// resolve serves cross-sheet references straight from the target sheet's
// storage. it never takes a sheet lock, so a sheet evaluating under its own
// lock can read any other sheet.
func (w *Workbook) resolve(ctx context.Context, sheet string, addresses []string) (Grid, bool, error) {
	target, ok := w.lookup(SheetKey(sheet))
	if !ok {
		return nil, false, nil
	}
	grid := Grid{}
	for _, address := range addresses {
		rng, err := ParseRange(address)
		if err != nil {
			continue
		}
		if err := fetchRange(ctx, target.store, rng, grid); err != nil {
			return nil, true, err
		}
	}
	return grid, true, nil
}

func (w *Workbook) lookup(key string) (*Sheet, bool) {
	w.sheetsMu.RLock()
	defer w.sheetsMu.RUnlock()
	return w.sheets.Get(key)
}

func (w *Workbook) mustSheet(name string) (*Sheet, error) {
	s, ok := w.lookup(SheetKey(name))
	if !ok {
		return nil, NewApplicationError(NotFound, fmt.Sprintf("sheet %q not found", name))
	}
	return s, nil
}

// all returns a copy of the sheets by key
func (w *Workbook) all() map[string]*Sheet {
	w.sheetsMu.RLock()
	defer w.sheetsMu.RUnlock()
	out := make(map[string]*Sheet, w.sheets.Len())
	for key, s := range w.sheets.AllFromFront() {
		out[key] = s
	}
	return out
}

func (w *Workbook) checkNewName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "!'") {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("invalid sheet name %q", name))
	}
	if _, ok := w.lookup(SheetKey(name)); ok {
		return NewApplicationError(AlreadyExists, fmt.Sprintf("sheet %q already exists", name))
	}
	return nil
}

func (w *Workbook) sheetRefs(keys []cellKey) []SheetRef {
	out := make([]SheetRef, 0, len(keys))
	for _, k := range keys {
		name := k.sheet
		if s, ok := w.lookup(k.sheet); ok {
			name = s.Name()
		}
		out = append(out, SheetRef{Sheet: name, Ref: k.ref})
	}
	return out
}

// RenameSheetReferences rewrites references qualified with oldName to use
// newName. everything else in the formula is kept byte for byte.
func RenameSheetReferences(formula, oldName, newName string) string {
	oldKey := SheetKey(oldName)
	var sb strings.Builder
	changed := false
	for _, tok := range Tokenize(formula) {
		if tok.Type.IsReference() {
			if sheet, address := SplitSheet(tok.Text); sheet != "" && SheetKey(sheet) == oldKey {
				sb.WriteString(QualifyAddress(newName, address))
				changed = true
				continue
			}
		}
		sb.WriteString(tok.Text)
	}
	if !changed {
		return formula
	}
	return sb.String()
}

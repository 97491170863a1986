package spreadsheet

import (
	"context"
	"sync"
)

// Storage is the grid a sheet reads and writes. every call may block, so
// each takes a context. implementations report a missing cell with ok ==
// false rather than an error.
type Storage interface {
	Get(ctx context.Context, ref Ref) (Cell, bool, error)
	Set(ctx context.Context, ref Ref, cell Cell) error
	Delete(ctx context.Context, ref Ref) (bool, error)
	GetRange(ctx context.Context, r Range) (Grid, error)
	SetGrid(ctx context.Context, grid Grid) error
}

// storedCell is a cell with both texts interned
type storedCell struct {
	value   StringID
	formula StringID
}

// MemoryStorage is an in-process Storage. values and formulas are interned
// and an existence index keeps range reads proportional to populated cells.
type MemoryStorage struct {
	mu      sync.RWMutex
	cells   map[Ref]storedCell
	strings *StringTable
	exists  *ExistenceIndex
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory grid
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		cells:   make(map[Ref]storedCell),
		strings: NewStringTable(),
		exists:  NewExistenceIndex(),
	}
}

// NewMemoryStorageFromGrid creates an in-memory grid holding a copy of grid
func NewMemoryStorageFromGrid(grid Grid) *MemoryStorage {
	m := NewMemoryStorage()
	for ref, cell := range grid {
		m.put(ref, cell)
	}
	return m
}

func (m *MemoryStorage) Get(ctx context.Context, ref Ref) (Cell, bool, error) {
	if err := ctx.Err(); err != nil {
		return Cell{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored, ok := m.cells[ref]
	if !ok {
		return Cell{}, false, nil
	}
	return m.load(stored), true, nil
}

// Set writes a cell. writing an empty cell deletes it.
func (m *MemoryStorage) Set(ctx context.Context, ref Ref, cell Cell) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(ref, cell)
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, ref Ref) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remove(ref), nil
}

// GetRange returns the populated cells inside r
func (m *MemoryStorage) GetRange(ctx context.Context, r Range) (Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	grid := make(Grid)
	for _, ref := range m.exists.CellsInRange(r) {
		grid[ref] = m.load(m.cells[ref])
	}
	return grid, nil
}

// SetGrid writes every cell in grid. empty cells are deleted.
func (m *MemoryStorage) SetGrid(ctx context.Context, grid Grid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for ref, cell := range grid {
		m.put(ref, cell)
	}
	return nil
}

// Len returns the number of stored cells
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cells)
}

// UniqueStrings returns how many distinct texts are interned
func (m *MemoryStorage) UniqueStrings() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strings.Len()
}

func (m *MemoryStorage) load(stored storedCell) Cell {
	return Cell{
		Value:   m.strings.Lookup(stored.value),
		Formula: m.strings.Lookup(stored.formula),
	}
}

func (m *MemoryStorage) put(ref Ref, cell Cell) {
	if cell.IsEmpty() {
		m.remove(ref)
		return
	}
	// intern before releasing so an unchanged text keeps its ID
	next := storedCell{
		value:   m.strings.Intern(cell.Value),
		formula: m.strings.Intern(cell.Formula),
	}
	if old, ok := m.cells[ref]; ok {
		m.strings.Release(old.value)
		m.strings.Release(old.formula)
	}
	m.cells[ref] = next
	m.exists.Add(ref)
}

func (m *MemoryStorage) remove(ref Ref) bool {
	old, ok := m.cells[ref]
	if !ok {
		return false
	}
	m.strings.Release(old.value)
	m.strings.Release(old.formula)
	delete(m.cells, ref)
	m.exists.Remove(ref)
	return true
}

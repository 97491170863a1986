package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	spreadsheet "github.com/vogtb/go-spreadsheet"
)

// DB is a SQLite file holding any number of sheets
type DB struct {
	db *sql.DB
}

// Open opens a SQLite database at path with WAL mode enabled
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the tables. Idempotent.
func (d *DB) Migrate() error {
	if _, err := d.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sheets (
  id              TEXT PRIMARY KEY,
  name            TEXT NOT NULL UNIQUE COLLATE NOCASE,
  created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cells (
  sheet_id        TEXT NOT NULL REFERENCES sheets(id) ON DELETE CASCADE,
  row_num         INTEGER NOT NULL,
  col_num         INTEGER NOT NULL,
  value           TEXT NOT NULL DEFAULT '',
  formula         TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (sheet_id, row_num, col_num)
);

CREATE INDEX IF NOT EXISTS idx_cells_col ON cells(sheet_id, col_num, row_num);

CREATE TABLE IF NOT EXISTS dimensions (
  sheet_id        TEXT NOT NULL REFERENCES sheets(id) ON DELETE CASCADE,
  axis            TEXT NOT NULL,
  idx             INTEGER NOT NULL,
  size            INTEGER NOT NULL,
  PRIMARY KEY (sheet_id, axis, idx)
);
`

// SheetInfo describes one stored sheet
type SheetInfo struct {
	ID   string
	Name string
}

// Sheets lists stored sheets in creation order
func (d *DB) Sheets(ctx context.Context) ([]SheetInfo, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id, name FROM sheets ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}
	defer rows.Close()
	var out []SheetInfo
	for rows.Next() {
		var info SheetInfo
		if err := rows.Scan(&info.ID, &info.Name); err != nil {
			return nil, fmt.Errorf("scan sheet: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Sheet returns the storage for the named sheet, creating the sheet when
// it does not exist yet
func (d *DB) Sheet(ctx context.Context, name string) (*SheetStore, error) {
	var id string
	err := d.db.QueryRowContext(ctx, "SELECT id FROM sheets WHERE name = ?", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		id = uuid.NewString()
		if _, err := d.db.ExecContext(ctx, "INSERT INTO sheets (id, name) VALUES (?, ?)", id, name); err != nil {
			return nil, fmt.Errorf("create sheet %q: %w", name, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("find sheet %q: %w", name, err)
	}
	return &SheetStore{db: d.db, id: id}, nil
}

// RenameSheet renames a stored sheet
func (d *DB) RenameSheet(ctx context.Context, oldName, newName string) error {
	res, err := d.db.ExecContext(ctx, "UPDATE sheets SET name = ? WHERE name = ?", newName, oldName)
	if err != nil {
		return fmt.Errorf("rename sheet %q: %w", oldName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return spreadsheet.NewApplicationError(spreadsheet.NotFound, fmt.Sprintf("sheet %q not found", oldName))
	}
	return nil
}

// DeleteSheet removes a sheet and all of its cells
func (d *DB) DeleteSheet(ctx context.Context, name string) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM sheets WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete sheet %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return spreadsheet.NewApplicationError(spreadsheet.NotFound, fmt.Sprintf("sheet %q not found", name))
	}
	return nil
}

// SaveDimensions replaces the size overrides stored for one axis of a sheet
func (d *DB) SaveDimensions(ctx context.Context, sheet string, axis spreadsheet.Axis, overrides map[int]int) error {
	store, err := d.Sheet(ctx, sheet)
	if err != nil {
		return err
	}
	return store.SaveDimensions(ctx, axis, overrides)
}

// Factory adapts the database to a workbook's storage factory
func (d *DB) Factory(ctx context.Context) spreadsheet.StorageFactory {
	return func(name string) (spreadsheet.Storage, error) {
		return d.Sheet(ctx, name)
	}
}

// SheetStore is the grid of one sheet
type SheetStore struct {
	db *sql.DB
	id string
}

var _ spreadsheet.Storage = (*SheetStore)(nil)

// ID returns the sheet's UUID
func (s *SheetStore) ID() string {
	return s.id
}

func (s *SheetStore) Get(ctx context.Context, ref spreadsheet.Ref) (spreadsheet.Cell, bool, error) {
	var cell spreadsheet.Cell
	err := s.db.QueryRowContext(ctx,
		"SELECT value, formula FROM cells WHERE sheet_id = ? AND row_num = ? AND col_num = ?",
		s.id, ref.Row, ref.Column,
	).Scan(&cell.Value, &cell.Formula)
	if errors.Is(err, sql.ErrNoRows) {
		return spreadsheet.Cell{}, false, nil
	}
	if err != nil {
		return spreadsheet.Cell{}, false, fmt.Errorf("get cell: %w", err)
	}
	return cell, true, nil
}

// Set writes a cell. writing an empty cell deletes it.
func (s *SheetStore) Set(ctx context.Context, ref spreadsheet.Ref, cell spreadsheet.Cell) error {
	if cell.IsEmpty() {
		_, err := s.Delete(ctx, ref)
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertCell, s.id, ref.Row, ref.Column, cell.Value, cell.Formula); err != nil {
		return fmt.Errorf("set cell: %w", err)
	}
	return nil
}

func (s *SheetStore) Delete(ctx context.Context, ref spreadsheet.Ref) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cells WHERE sheet_id = ? AND row_num = ? AND col_num = ?",
		s.id, ref.Row, ref.Column,
	)
	if err != nil {
		return false, fmt.Errorf("delete cell: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete cell: %w", err)
	}
	return n > 0, nil
}

func (s *SheetStore) GetRange(ctx context.Context, r spreadsheet.Range) (spreadsheet.Grid, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT row_num, col_num, value, formula FROM cells
WHERE sheet_id = ? AND row_num BETWEEN ? AND ? AND col_num BETWEEN ? AND ?`,
		s.id, r.Start.Row, r.End.Row, r.Start.Column, r.End.Column,
	)
	if err != nil {
		return nil, fmt.Errorf("get range: %w", err)
	}
	defer rows.Close()

	grid := make(spreadsheet.Grid)
	for rows.Next() {
		var ref spreadsheet.Ref
		var cell spreadsheet.Cell
		if err := rows.Scan(&ref.Row, &ref.Column, &cell.Value, &cell.Formula); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		grid[ref] = cell
	}
	return grid, rows.Err()
}

// SetGrid writes every cell in one transaction. empty cells are deleted.
func (s *SheetStore) SetGrid(ctx context.Context, grid spreadsheet.Grid) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for ref, cell := range grid {
		if cell.IsEmpty() {
			_, err = tx.ExecContext(ctx,
				"DELETE FROM cells WHERE sheet_id = ? AND row_num = ? AND col_num = ?",
				s.id, ref.Row, ref.Column)
		} else {
			_, err = tx.ExecContext(ctx, upsertCell, s.id, ref.Row, ref.Column, cell.Value, cell.Formula)
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", ref, err)
		}
	}
	return tx.Commit()
}

const upsertCell = `
INSERT INTO cells (sheet_id, row_num, col_num, value, formula) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (sheet_id, row_num, col_num) DO UPDATE SET value = excluded.value, formula = excluded.formula`

// SaveDimensions replaces the stored size overrides for one axis
func (s *SheetStore) SaveDimensions(ctx context.Context, axis spreadsheet.Axis, overrides map[int]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM dimensions WHERE sheet_id = ? AND axis = ?", s.id, axis.String()); err != nil {
		return fmt.Errorf("clear dimensions: %w", err)
	}
	indices := make([]int, 0, len(overrides))
	for index := range overrides {
		indices = append(indices, index)
	}
	slices.Sort(indices)
	for _, index := range indices {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO dimensions (sheet_id, axis, idx, size) VALUES (?, ?, ?, ?)",
			s.id, axis.String(), index, overrides[index],
		); err != nil {
			return fmt.Errorf("save dimension %d: %w", index, err)
		}
	}
	return tx.Commit()
}

// LoadDimensions returns the stored size overrides for one axis
func (s *SheetStore) LoadDimensions(ctx context.Context, axis spreadsheet.Axis) (map[int]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT idx, size FROM dimensions WHERE sheet_id = ? AND axis = ?", s.id, axis.String())
	if err != nil {
		return nil, fmt.Errorf("load dimensions: %w", err)
	}
	defer rows.Close()
	out := make(map[int]int)
	for rows.Next() {
		var index, size int
		if err := rows.Scan(&index, &size); err != nil {
			return nil, fmt.Errorf("scan dimension: %w", err)
		}
		out[index] = size
	}
	return out, rows.Err()
}

package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	spreadsheet "github.com/vogtb/go-spreadsheet"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func ref(text string) spreadsheet.Ref {
	return spreadsheet.MustParseRef(text)
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	require.NoError(t, db.Migrate())
}

func TestSheet_CreatesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	first, err := db.Sheet(ctx, "Sheet1")
	require.NoError(t, err)
	_, err = uuid.Parse(first.ID())
	require.NoError(t, err)

	again, err := db.Sheet(ctx, "sheet1")
	require.NoError(t, err)
	assert.Equal(t, first.ID(), again.ID(), "names are case-insensitive")

	infos, err := db.Sheets(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "Sheet1", infos[0].Name)
}

func TestSheetStore_CellLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := newTestDB(t).Sheet(ctx, "Sheet1")
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, ref("A1"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, ref("A1"), spreadsheet.Cell{Value: "10"}))
	require.NoError(t, store.Set(ctx, ref("B1"), spreadsheet.Cell{Value: "30", Formula: "=A1+20"}))

	cell, ok, err := store.Get(ctx, ref("B1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, spreadsheet.Cell{Value: "30", Formula: "=A1+20"}, cell)

	require.NoError(t, store.Set(ctx, ref("A1"), spreadsheet.Cell{Value: "11"}))
	cell, _, err = store.Get(ctx, ref("A1"))
	require.NoError(t, err)
	assert.Equal(t, "11", cell.Value)

	deleted, err := store.Delete(ctx, ref("A1"))
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.Delete(ctx, ref("A1"))
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, store.Set(ctx, ref("B1"), spreadsheet.Cell{}))
	_, ok, err = store.Get(ctx, ref("B1"))
	require.NoError(t, err)
	assert.False(t, ok, "empty cell deletes")
}

func TestSheetStore_RangeAndGrid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	store, err := db.Sheet(ctx, "Data")
	require.NoError(t, err)
	other, err := db.Sheet(ctx, "Other")
	require.NoError(t, err)

	require.NoError(t, store.SetGrid(ctx, spreadsheet.Grid{
		ref("A1"): {Value: "1"},
		ref("A2"): {Value: "2"},
		ref("C5"): {Value: "5"},
	}))
	require.NoError(t, other.Set(ctx, ref("A1"), spreadsheet.Cell{Value: "other"}))

	grid, err := store.GetRange(ctx, spreadsheet.MustParseRange("A1:B3"))
	require.NoError(t, err)
	assert.Equal(t, spreadsheet.Grid{
		ref("A1"): {Value: "1"},
		ref("A2"): {Value: "2"},
	}, grid)

	require.NoError(t, store.SetGrid(ctx, spreadsheet.Grid{
		ref("A1"): {},
		ref("C5"): {Value: "50"},
	}))
	grid, err = store.GetRange(ctx, spreadsheet.MustParseRange("A1:Z100"))
	require.NoError(t, err)
	assert.Equal(t, spreadsheet.Grid{
		ref("A2"): {Value: "2"},
		ref("C5"): {Value: "50"},
	}, grid)
}

func TestRenameAndDeleteSheet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	store, err := db.Sheet(ctx, "Old")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, ref("A1"), spreadsheet.Cell{Value: "x"}))

	require.NoError(t, db.RenameSheet(ctx, "Old", "New"))
	renamed, err := db.Sheet(ctx, "New")
	require.NoError(t, err)
	assert.Equal(t, store.ID(), renamed.ID())

	err = db.RenameSheet(ctx, "Missing", "Other")
	assert.Equal(t, spreadsheet.NotFound, spreadsheet.ErrorCodeOf(err))

	require.NoError(t, db.DeleteSheet(ctx, "New"))
	infos, err := db.Sheets(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	recreated, err := db.Sheet(ctx, "New")
	require.NoError(t, err)
	_, ok, err := recreated.Get(ctx, ref("A1"))
	require.NoError(t, err)
	assert.False(t, ok, "cells are deleted with their sheet")
}

func TestDimensions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := newTestDB(t).Sheet(ctx, "Sheet1")
	require.NoError(t, err)

	require.NoError(t, store.SaveDimensions(ctx, spreadsheet.AxisRow, map[int]int{2: 40, 7: 10}))
	require.NoError(t, store.SaveDimensions(ctx, spreadsheet.AxisColumn, map[int]int{1: 200}))

	rows, err := store.LoadDimensions(ctx, spreadsheet.AxisRow)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{2: 40, 7: 10}, rows)

	require.NoError(t, store.SaveDimensions(ctx, spreadsheet.AxisRow, map[int]int{3: 40}))
	rows, err = store.LoadDimensions(ctx, spreadsheet.AxisRow)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{3: 40}, rows)

	cols, err := store.LoadDimensions(ctx, spreadsheet.AxisColumn)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 200}, cols)
}

func TestDB_SaveDimensionsByName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.SaveDimensions(ctx, "Sizes", spreadsheet.AxisColumn, map[int]int{4: 250}))
	store, err := db.Sheet(ctx, "Sizes")
	require.NoError(t, err)
	cols, err := store.LoadDimensions(ctx, spreadsheet.AxisColumn)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{4: 250}, cols)

	require.NoError(t, db.SaveDimensions(ctx, "Sizes", spreadsheet.AxisColumn, nil))
	cols, err = store.LoadDimensions(ctx, spreadsheet.AxisColumn)
	require.NoError(t, err)
	assert.Empty(t, cols)
}

func TestWorkbookOnSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	book := spreadsheet.NewWorkbook(db.Factory(ctx))
	_, err := book.AddSheet(ctx, "Sheet1")
	require.NoError(t, err)
	_, err = book.Set(ctx, "Sheet1", "A1", "4")
	require.NoError(t, err)
	_, err = book.Set(ctx, "Sheet1", "A2", "=A1*2")
	require.NoError(t, err)

	// a second workbook over the same file sees the computed values
	reopened := spreadsheet.NewWorkbook(db.Factory(ctx))
	store, err := db.Sheet(ctx, "Sheet1")
	require.NoError(t, err)
	sheet, err := reopened.AttachSheet(ctx, "Sheet1", store)
	require.NoError(t, err)

	cell, err := sheet.Get(ctx, "A2")
	require.NoError(t, err)
	assert.Equal(t, spreadsheet.Cell{Value: "8", Formula: "=A1*2"}, cell)
	require.NoError(t, sheet.Verify(ctx))
}

// Package xlsx moves workbooks between Excel files and the engine. values
// and formulas travel both ways, row and column sizes are only exported,
// styles are dropped.
package xlsx

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	spreadsheet "github.com/vogtb/go-spreadsheet"
)

// Import reads every sheet of an xlsx document into book and recalculates
// the workbook. sheets already present in book are rejected.
func Import(ctx context.Context, r io.Reader, book *spreadsheet.Workbook) error {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	for _, name := range f.GetSheetList() {
		grid, err := readGrid(f, name)
		if err != nil {
			return err
		}
		sheet, err := book.AddSheet(ctx, name)
		if err != nil {
			return err
		}
		if err := sheet.Storage().SetGrid(ctx, grid); err != nil {
			return fmt.Errorf("store sheet %q: %w", name, err)
		}
		if err := sheet.Load(ctx); err != nil {
			return err
		}
	}
	if _, err := book.RecalculateAll(ctx); err != nil {
		return fmt.Errorf("recalculate: %w", err)
	}
	return nil
}

// readGrid collects the values and formulas of one sheet
func readGrid(f *excelize.File, name string) (spreadsheet.Grid, error) {
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}
	grid := make(spreadsheet.Grid)
	for r, row := range rows {
		for c, value := range row {
			axis, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			formula, err := f.GetCellFormula(name, axis)
			if err != nil {
				return nil, fmt.Errorf("read formula %s!%s: %w", name, axis, err)
			}
			cell := spreadsheet.Cell{Value: value}
			if formula != "" {
				cell.Formula = "=" + strings.TrimPrefix(formula, "=")
			}
			if cell.IsEmpty() {
				continue
			}
			grid[spreadsheet.Ref{Row: r + 1, Column: c + 1}] = cell
		}
	}
	return grid, nil
}

// Export writes every sheet of book, in order, as an xlsx document.
// numeric display values are written as numbers.
func Export(ctx context.Context, book *spreadsheet.Workbook, w io.Writer) error {
	names := book.Sheets()
	if len(names) == 0 {
		return spreadsheet.NewApplicationError(spreadsheet.FailedPrecondition, "workbook has no sheets")
	}

	f := excelize.NewFile()
	defer f.Close()
	for i, name := range names {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return fmt.Errorf("name sheet %q: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("add sheet %q: %w", name, err)
		}

		sheet, _ := book.Sheet(name)
		if err := writeSheet(ctx, f, sheet); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(ctx context.Context, f *excelize.File, sheet *spreadsheet.Sheet) error {
	name := sheet.Name()
	grid, err := sheet.Storage().GetRange(ctx, sheet.Bounds())
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", name, err)
	}

	refs := make([]spreadsheet.Ref, 0, len(grid))
	for ref := range grid {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, spreadsheet.CompareRefs)

	for _, ref := range refs {
		cell := grid[ref]
		axis := spreadsheet.FormatRef(ref)
		var value any = cell.Value
		if n, err := strconv.ParseFloat(cell.Value, 64); err == nil {
			value = n
		}
		if err := f.SetCellValue(name, axis, value); err != nil {
			return fmt.Errorf("write %s!%s: %w", name, axis, err)
		}
		if cell.HasFormula() {
			if err := f.SetCellFormula(name, axis, strings.TrimPrefix(cell.Formula, "=")); err != nil {
				return fmt.Errorf("write formula %s!%s: %w", name, axis, err)
			}
		}
	}

	for row, px := range sheet.Dimensions(spreadsheet.AxisRow) {
		if err := f.SetRowHeight(name, row, pixelsToPoints(px)); err != nil {
			return fmt.Errorf("row %d height: %w", row, err)
		}
	}
	for col, px := range sheet.Dimensions(spreadsheet.AxisColumn) {
		label := spreadsheet.ColumnLabel(col)
		if err := f.SetColWidth(name, label, label, pixelsToCharacters(px)); err != nil {
			return fmt.Errorf("column %s width: %w", label, err)
		}
	}
	return nil
}

// row heights are stored in points, column widths in character units
func pixelsToPoints(px int) float64 {
	return float64(px) * 0.75
}

func pixelsToCharacters(px int) float64 {
	return float64(px) / 7
}

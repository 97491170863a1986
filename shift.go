package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
)

// IndexRemap maps a 1-based row or column index to its position after a
// structural edit. ok is false when the item was deleted.
type IndexRemap func(i int) (int, bool)

// ShiftRemap inserts (count > 0) or deletes (count < 0) items at index.
// on insert every i >= index moves down by count. on delete the items in
// [index, index+|count|) are destroyed and everything after moves up.
func ShiftRemap(index, count int) IndexRemap {
	return func(i int) (int, bool) {
		switch {
		case count > 0:
			if i >= index {
				return i + count, true
			}
			return i, true
		case count < 0:
			if i >= index && i < index-count {
				return 0, false
			}
			if i >= index-count {
				return i + count, true
			}
			return i, true
		default:
			return i, true
		}
	}
}

// MoveRemap relocates count items starting at src to just before dst. the
// items between the block and dst close the gap it leaves behind. a dst
// inside or touching the block is a no-op.
func MoveRemap(src, count, dst int) IndexRemap {
	return func(i int) (int, bool) {
		if count <= 0 || (dst >= src && dst <= src+count) {
			return i, true
		}
		inBlock := i >= src && i < src+count
		if dst > src {
			switch {
			case inBlock:
				return dst - count + (i - src), true
			case i >= src+count && i < dst:
				return i - count, true
			}
			return i, true
		}
		switch {
		case inBlock:
			return dst + (i - src), true
		case i >= dst && i < src:
			return i + count, true
		}
		return i, true
	}
}

// Axis selects rows or columns
type Axis int

const (
	AxisRow Axis = iota
	AxisColumn
)

func (a Axis) String() string {
	if a == AxisColumn {
		return "column"
	}
	return "row"
}

// ParseAxis accepts "row"/"rows" and "column"/"columns"/"col"
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "row", "rows":
		return AxisRow, nil
	case "column", "columns", "col", "cols":
		return AxisColumn, nil
	}
	return 0, NewApplicationError(InvalidArgument, fmt.Sprintf("unknown axis: %q", s))
}

// StructuralEdit is one row or column insert, delete or move
type StructuralEdit struct {
	Axis  Axis
	Remap IndexRemap
	Label string
}

// ShiftEdit builds an insert (count > 0) or delete (count < 0) edit
func ShiftEdit(axis Axis, index, count int) StructuralEdit {
	return StructuralEdit{
		Axis:  axis,
		Remap: ShiftRemap(index, count),
		Label: fmt.Sprintf("shift %s %d by %d", axis, index, count),
	}
}

// MoveEdit builds a move of count items from src to before dst
func MoveEdit(axis Axis, src, count, dst int) StructuralEdit {
	return StructuralEdit{
		Axis:  axis,
		Remap: MoveRemap(src, count, dst),
		Label: fmt.Sprintf("move %s %d+%d to %d", axis, src, count, dst),
	}
}

func (e StructuralEdit) String() string {
	return e.Label
}

// RemapRef moves a single address through the edit. ok is false when the
// address was deleted.
func RemapRef(ref Ref, edit StructuralEdit) (Ref, bool) {
	if edit.Axis == AxisColumn {
		col, ok := edit.Remap(ref.Column)
		return Ref{Row: ref.Row, Column: col}, ok
	}
	row, ok := edit.Remap(ref.Row)
	return Ref{Row: row, Column: ref.Column}, ok
}

// RemapGrid moves every cell through the edit and rewrites the formulas it
// holds. cells whose address is deleted are dropped. applies decides which
// sheet qualifiers name this grid's sheet, see RewriteFormula.
func RemapGrid(grid Grid, edit StructuralEdit, applies func(sheet string) bool) Grid {
	out := make(Grid, len(grid))
	for ref, cell := range grid {
		to, ok := RemapRef(ref, edit)
		if !ok {
			continue
		}
		if cell.HasFormula() {
			cell.Formula = RewriteFormula(cell.Formula, edit, applies)
		}
		out[to] = cell
	}
	return out
}

// RewriteFormula rewrites every reference in formula that points at the
// edited sheet. applies is called with the reference's sheet qualifier, or
// "" for an unqualified reference; a nil applies matches unqualified
// references only. deleted references, and ranges with a deleted endpoint,
// become #REF!. absolute markers and sheet prefixes are kept.
func RewriteFormula(formula string, edit StructuralEdit, applies func(sheet string) bool) string {
	if applies == nil {
		applies = func(sheet string) bool { return sheet == "" }
	}

	var sb strings.Builder
	changed := false
	for _, tok := range Tokenize(formula) {
		if !tok.Type.IsReference() {
			sb.WriteString(tok.Text)
			continue
		}
		rewritten := rewriteReference(tok.Text, edit, applies)
		if rewritten != tok.Text {
			changed = true
		}
		sb.WriteString(rewritten)
	}
	if !changed {
		return formula
	}
	return sb.String()
}

func rewriteReference(text string, edit StructuralEdit, applies func(string) bool) string {
	sheet, _ := SplitSheet(text)
	if !applies(sheet) {
		return text
	}
	cut := strings.LastIndex(text, "!") + 1
	prefix, address := text[:cut], text[cut:]

	parts := strings.Split(address, ":")
	for i, part := range parts {
		moved, ok := remapAddressText(part, edit)
		if !ok {
			return ErrorCodeRef.String()
		}
		parts[i] = moved
	}
	return prefix + strings.Join(parts, ":")
}

// remapAddressText remaps one address such as "$B7", keeping its absolute
// markers and letter case
func remapAddressText(text string, edit StructuralEdit) (string, bool) {
	i := 0
	colAbs := i < len(text) && text[i] == '$'
	if colAbs {
		i++
	}
	letterStart := i
	for i < len(text) && isAlpha(text[i]) {
		i++
	}
	letters := text[letterStart:i]
	rowAbs := i < len(text) && text[i] == '$'
	if rowAbs {
		i++
	}
	digits := text[i:]

	col, err := ColumnIndex(letters)
	if err != nil {
		return text, false
	}
	row, err := strconv.Atoi(digits)
	if err != nil {
		return text, false
	}

	moved, ok := RemapRef(Ref{Row: row, Column: col}, edit)
	if !ok || !moved.Valid() {
		return text, false
	}

	var sb strings.Builder
	if colAbs {
		sb.WriteByte('$')
	}
	if moved.Column == col {
		sb.WriteString(letters)
	} else {
		sb.WriteString(ColumnLabel(moved.Column))
	}
	if rowAbs {
		sb.WriteByte('$')
	}
	sb.WriteString(strconv.Itoa(moved.Row))
	return sb.String(), true
}

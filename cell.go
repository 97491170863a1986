package spreadsheet

import (
	"math"
	"strconv"
	"strings"
)

// ErrorCode is one of the formula error markers a cell can display
type ErrorCode uint8

const (
	ErrorCodeRef   ErrorCode = 1 // #REF! - unresolvable, cyclic or destroyed reference
	ErrorCodeValue ErrorCode = 2 // #VALUE! - wrong type or domain of argument or operand
	ErrorCodeNA    ErrorCode = 3 // #N/A! - wrong number of arguments for function
	ErrorCodeOther ErrorCode = 4 // #ERROR! - parse failures and everything else
)

// ErrorMapper maps error codes to the text shown in cells. these strings are
// persisted alongside formulas so they must never change.
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeRef:   "#REF!",
	ErrorCodeValue: "#VALUE!",
	ErrorCodeNA:    "#N/A!",
	ErrorCodeOther: "#ERROR!",
}

func (c ErrorCode) String() string {
	if s, ok := ErrorMapper[c]; ok {
		return s
	}
	return ErrorMapper[ErrorCodeOther]
}

// ParseErrorMarker maps displayed error text back to its code
func ParseErrorMarker(text string) (ErrorCode, bool) {
	for code, marker := range ErrorMapper {
		if strings.EqualFold(text, marker) {
			return code, true
		}
	}
	return 0, false
}

// Kind tags the variant held by a Value
type Kind uint8

const (
	KindNumber Kind = iota
	KindString
	KindBoolean
	KindReference
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	case KindReference:
		return "reference"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Value is the result of evaluating any node. exactly one payload field is
// meaningful, selected by Kind. Ref holds an address (possibly a range or
// sheet-qualified) that the caller resolves against its snapshot.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
	Ref  string
	Err  ErrorCode
}

func NumberValue(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

func StringValue(s string) Value {
	return Value{Kind: KindString, Str: s}
}

func BooleanValue(b bool) Value {
	return Value{Kind: KindBoolean, Bool: b}
}

func ReferenceValue(address string) Value {
	return Value{Kind: KindReference, Ref: address}
}

func ErrorValue(code ErrorCode) Value {
	return Value{Kind: KindError, Err: code}
}

// IsError reports whether v carries an error code
func (v Value) IsError() bool {
	return v.Kind == KindError
}

// Display renders the value the way a cell shows it. references render as
// their address; callers resolve them before display.
func (v Value) Display() string {
	switch v.Kind {
	case KindNumber:
		return FormatNumber(v.Num)
	case KindString:
		return v.Str
	case KindBoolean:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case KindReference:
		return v.Ref
	case KindError:
		return v.Err.String()
	}
	return ErrorCodeOther.String()
}

// FormatNumber renders a float with the shortest representation that
// round-trips. non-finite results are a domain violation.
func FormatNumber(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return ErrorCodeValue.String()
	}
	if n == 0 {
		// avoid "-0"
		return "0"
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Cell is a stored grid entry. a formula cell keeps its last computed
// display text in Value; Formula includes the leading "=".
type Cell struct {
	Value   string
	Formula string
}

// IsEmpty reports whether the cell carries neither value nor formula
func (c Cell) IsEmpty() bool {
	return c.Value == "" && c.Formula == ""
}

// HasFormula reports whether the cell is computed
func (c Cell) HasFormula() bool {
	return c.Formula != ""
}

// ParseInput classifies user input: text starting with "=" is a formula,
// anything else is a literal value
func ParseInput(input string) Cell {
	if strings.HasPrefix(input, "=") && len(input) > 1 {
		return Cell{Formula: input}
	}
	return Cell{Value: input}
}

// Grid is a sparse address-keyed table of cells
type Grid map[Ref]Cell

// Clone returns a shallow copy
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for ref, cell := range g {
		out[ref] = cell
	}
	return out
}

// Snapshot is the read-only view handed to the evaluator: the local cells a
// formula reads plus any foreign-sheet cells, keyed by SheetKey
type Snapshot struct {
	Cells  Grid
	Sheets map[string]Grid
}

// NewSnapshot wraps a local grid
func NewSnapshot(cells Grid) *Snapshot {
	if cells == nil {
		cells = Grid{}
	}
	return &Snapshot{Cells: cells, Sheets: map[string]Grid{}}
}

// AddSheet registers cells from another sheet
func (s *Snapshot) AddSheet(name string, cells Grid) {
	if s.Sheets == nil {
		s.Sheets = map[string]Grid{}
	}
	key := SheetKey(name)
	existing, ok := s.Sheets[key]
	if !ok {
		s.Sheets[key] = cells
		return
	}
	for ref, cell := range cells {
		existing[ref] = cell
	}
}

// Lookup returns the cell at ref on sheet ("" for the local grid)
func (s *Snapshot) Lookup(sheet string, ref Ref) (Cell, bool) {
	grid := s.Cells
	if sheet != "" {
		grid = s.Sheets[SheetKey(sheet)]
	}
	if grid == nil {
		return Cell{}, false
	}
	cell, ok := grid[ref]
	return cell, ok
}

package spreadsheet

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setInput applies "ADDRESS=INPUT", so "B1==A1*2" stores the formula =A1*2
func setInput(t *testing.T, s *Sheet, input string) []Ref {
	t.Helper()
	address, value, _ := strings.Cut(input, "=")
	changed, err := s.Set(context.Background(), address, value)
	require.NoError(t, err, "Set(%s)", input)
	return changed
}

func newTestSheet(t *testing.T, name string, inputs ...string) *Sheet {
	t.Helper()
	s := NewSheet(name, nil)
	for _, input := range inputs {
		setInput(t, s, input)
	}
	return s
}

func assertCell(t *testing.T, s *Sheet, address string, want Cell) {
	t.Helper()
	got, err := s.Get(context.Background(), address)
	require.NoError(t, err)
	assert.Equal(t, want, got, address)
}

func TestSheetSetAndRecalculate(t *testing.T) {
	ctx := context.Background()
	s := newTestSheet(t, "Sheet1", "A1=1", "B1==A1*2")
	assertCell(t, s, "B1", Cell{Formula: "=A1*2", Value: "2"})

	changed := setInput(t, s, "A1=5")
	assert.Equal(t, mustRefs("A1", "B1"), changed)
	assertCell(t, s, "B1", Cell{Formula: "=A1*2", Value: "10"})

	// writing the same content changes nothing
	assert.Empty(t, setInput(t, s, "A1=5"))

	changed, err := s.Remove(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, mustRefs("A1", "B1"), changed)
	assertCell(t, s, "A1", Cell{})
	assertCell(t, s, "B1", Cell{Formula: "=A1*2", Value: "0"})
	require.NoError(t, s.Verify(ctx))
}

func TestSheetFormulaReadingRange(t *testing.T) {
	s := newTestSheet(t, "Sheet1", "C1==SUM(A1:B3)", "A1=1", "B3=2")
	assertCell(t, s, "C1", Cell{Formula: "=SUM(A1:B3)", Value: "3"})

	changed := setInput(t, s, "A2=10")
	assert.Equal(t, mustRefs("A2", "C1"), changed)
	assertCell(t, s, "C1", Cell{Formula: "=SUM(A1:B3)", Value: "13"})

	// a cell outside the range does not trigger it
	assert.Equal(t, mustRefs("A4"), setInput(t, s, "A4=100"))
}

func TestSheetInvalidFormulas(t *testing.T) {
	s := newTestSheet(t, "Sheet1", "A1==SUM(", "B1==A1+1", "C1==", "D1==NOPE(1)")
	assertCell(t, s, "A1", Cell{Formula: "=SUM(", Value: "#ERROR!"})
	assertCell(t, s, "B1", Cell{Formula: "=A1+1", Value: "1"})
	assertCell(t, s, "C1", Cell{Value: "="})
	assertCell(t, s, "D1", Cell{Formula: "=NOPE(1)", Value: "#ERROR!"})
	require.NoError(t, s.Verify(context.Background()))
}

func TestSheetBounds(t *testing.T) {
	ctx := context.Background()
	s := NewSheet("Small", nil, WithBounds(10, 3))
	assert.Equal(t, MustParseRange("A1:C10"), s.Bounds())

	_, err := s.Set(ctx, "D1", "1")
	assert.Equal(t, OutOfRange, ErrorCodeOf(err))
	_, err = s.Set(ctx, "A11", "1")
	assert.Equal(t, OutOfRange, ErrorCodeOf(err))
	_, err = s.Get(ctx, "1A")
	assert.Equal(t, InvalidArgument, ErrorCodeOf(err))
	assert.True(t, IsInvalidReference(err))
	_, err = s.SetCell(ctx, Ref{Row: 0, Column: 1}, Cell{Value: "x"})
	assert.Equal(t, OutOfRange, ErrorCodeOf(err))

	// a formula may still name cells past the bounds; they read as empty
	setInput(t, s, "A1==Z99+1")
	assertCell(t, s, "A1", Cell{Formula: "=Z99+1", Value: "1"})

	d := NewSheet("Defaults", nil)
	assert.Equal(t, Ref{Row: DefaultMaxRows, Column: DefaultMaxColumns}, d.Bounds().End)
	assert.Equal(t, "ZZZ", ColumnLabel(DefaultMaxColumns))
}

func TestSheetCycles(t *testing.T) {
	ctx := context.Background()
	s := newTestSheet(t, "Sheet1", "A1==B1+1", "B1==A1+1", "C1==A1+1")
	assertCell(t, s, "A1", Cell{Formula: "=B1+1", Value: "#REF!"})
	assertCell(t, s, "B1", Cell{Formula: "=A1+1", Value: "#REF!"})
	// reading a cycle is not itself a cycle
	assertCell(t, s, "C1", Cell{Formula: "=A1+1", Value: "1"})

	changed, err := s.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, changed)

	// breaking the cycle restores every member
	setInput(t, s, "B1=5")
	assertCell(t, s, "A1", Cell{Formula: "=B1+1", Value: "6"})
	assertCell(t, s, "C1", Cell{Formula: "=A1+1", Value: "7"})

	setInput(t, s, "D1==D1*2")
	assertCell(t, s, "D1", Cell{Formula: "=D1*2", Value: "#REF!"})
	require.NoError(t, s.Verify(ctx))
}

func TestSheetDiamondIsNotACycle(t *testing.T) {
	s := newTestSheet(t, "Sheet1", "A1=1", "B1==A1+1", "C1==A1*2", "D1==B1+C1", "E1==D1+A1")
	assertCell(t, s, "E1", Cell{Formula: "=D1+A1", Value: "5"})

	changed := setInput(t, s, "A1=2")
	assert.ElementsMatch(t, mustRefs("A1", "B1", "C1", "D1", "E1"), changed)
	assert.Equal(t, MustParseRef("A1"), changed[0])
	assertCell(t, s, "D1", Cell{Formula: "=B1+C1", Value: "7"})
	assertCell(t, s, "E1", Cell{Formula: "=D1+A1", Value: "9"})
}

func TestSheetRecalculateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestSheet(t, "Sheet1", "A1=3", "A2==A1^2", "A3==SUM(A1:A2)", "A4==IF(A3>10,\"big\",\"small\")")
	assertCell(t, s, "A4", Cell{Formula: `=IF(A3>10,"big","small")`, Value: "big"})

	changed, err := s.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, changed)

	changed, err = s.Recalculate(ctx, MustParseRef("A1"))
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestSheetVolatileRecalculation(t *testing.T) {
	ctx := context.Background()
	clock := &FixedClock{Time: time.Date(2024, 12, 31, 9, 0, 0, 0, time.UTC)}
	s := NewSheet("Sheet1", nil, WithClock(clock))
	for _, input := range []string{"A1==TODAY()", "B1==YEAR(A1)", "C1=static", "D1==C1&\"!\""} {
		setInput(t, s, input)
	}
	assertCell(t, s, "B1", Cell{Formula: "=YEAR(A1)", Value: "2024"})
	assert.Equal(t, mustRefs("A1"), s.Graph().VolatileCells())

	changed, err := s.RecalculateVolatile(ctx)
	require.NoError(t, err)
	assert.Empty(t, changed)

	clock.Time = clock.Time.Add(24 * time.Hour)
	changed, err = s.RecalculateVolatile(ctx)
	require.NoError(t, err)
	assert.Equal(t, mustRefs("A1", "B1"), changed)
	assertCell(t, s, "A1", Cell{Formula: "=TODAY()", Value: "2025-01-01"})
	assertCell(t, s, "B1", Cell{Formula: "=YEAR(A1)", Value: "2025"})

	// replacing the formula drops its volatility
	setInput(t, s, "A1==1")
	assert.Empty(t, s.Graph().VolatileCells())
}

func TestSheetFindEdgeAndDependents(t *testing.T) {
	s := newTestSheet(t, "Sheet1", "A1=1", "A2=2", "A3=3", "A7=7", "B1==SUM(A1:A3)", "C1==A2")

	edge, err := s.FindEdge("A1", DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, "A3", edge.String())
	edge, err = s.FindEdge("A3", DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, "A7", edge.String())
	edge, err = s.FindEdge("A7", DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRows, edge.Row)

	deps, err := s.Dependents("A2")
	require.NoError(t, err)
	assert.Equal(t, mustRefs("B1", "C1"), deps)
	deps, err = s.Dependents("A7")
	require.NoError(t, err)
	assert.Empty(t, deps)

	_, err = s.FindEdge("??", DirectionUp)
	assert.Error(t, err)
}

func TestSheetSelfQualifiedReferences(t *testing.T) {
	s := newTestSheet(t, "Main", "A1=4", "B1==Main!A1*2", "C1==main!A1+MAIN!B1")
	assertCell(t, s, "B1", Cell{Formula: "=Main!A1*2", Value: "8"})
	assertCell(t, s, "C1", Cell{Formula: "=main!A1+MAIN!B1", Value: "12"})

	setInput(t, s, "A1=5")
	assertCell(t, s, "C1", Cell{Formula: "=main!A1+MAIN!B1", Value: "15"})
}

func TestSheetLoadFromStorage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorageFromGrid(Grid{
		MustParseRef("A1"): {Value: "2"},
		MustParseRef("A2"): {Formula: "=A1*3", Value: "stale"},
	})
	s := NewSheet("Loaded", store)
	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.Verify(ctx))

	// stored display values are trusted until recalculated
	assertCell(t, s, "A2", Cell{Formula: "=A1*3", Value: "stale"})
	changed, err := s.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, mustRefs("A2"), changed)
	assertCell(t, s, "A2", Cell{Formula: "=A1*3", Value: "6"})
}

func TestSheetVerifyDetectsDrift(t *testing.T) {
	ctx := context.Background()
	s := newTestSheet(t, "Sheet1", "A1=1", "B1==A1")

	// writing behind the sheet's back leaves the derived state stale
	require.NoError(t, s.Storage().Set(ctx, MustParseRef("C1"), Cell{Formula: "=B1"}))
	err := s.Verify(ctx)
	require.Error(t, err)
	assert.Equal(t, Internal, ErrorCodeOf(err))

	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.Verify(ctx))
}

func TestSheetSharesCompiledFormulas(t *testing.T) {
	s := newTestSheet(t, "Sheet1", "A1==1+1", "A2==1+1", "A3==2+2")
	assert.Equal(t, 2, s.formulas.Len())
	assert.Equal(t, 2, s.formulas.References("=1+1"))

	setInput(t, s, "A1=plain")
	setInput(t, s, "A2=")
	assert.Equal(t, 1, s.formulas.Len())
	assert.Equal(t, 0, s.formulas.References("=1+1"))
}

func TestSheetLogger(t *testing.T) {
	var buf bytes.Buffer
	s := NewSheet("Logged", nil, WithLogger(log.New(&buf, "", 0)))
	for _, input := range []string{"A1==B1", "B1==A1"} {
		setInput(t, s, input)
	}
	assert.Contains(t, buf.String(), `sheet "Logged": 2 cells in dependency cycles`)

	// a nil logger keeps the default
	assert.NotPanics(t, func() {
		NewSheet("Quiet", nil, WithLogger(nil)).Set(context.Background(), "A1", "=A1")
	})
}

func TestSheetResize(t *testing.T) {
	s := NewSheet("Sheet1", nil)
	size, offset, err := s.Resize(AxisColumn, 2, 150)
	require.NoError(t, err)
	assert.Equal(t, 150, size)
	assert.Equal(t, DefaultColumnWidth, offset)

	_, offset, err = s.Resize(AxisColumn, 3, DefaultColumnWidth)
	require.NoError(t, err)
	assert.Equal(t, DefaultColumnWidth+150, offset)
	assert.Equal(t, map[int]int{2: 150}, s.Dimensions(AxisColumn))
	assert.Empty(t, s.Dimensions(AxisRow))

	size, _, err = s.Resize(AxisColumn, 2, -1)
	require.NoError(t, err)
	assert.Equal(t, DefaultColumnWidth, size)
	assert.Empty(t, s.Dimensions(AxisColumn))

	_, _, err = s.Resize(AxisRow, 0, 10)
	assert.Equal(t, InvalidArgument, ErrorCodeOf(err))

	// Rows and Columns hand out copies
	rows := s.Rows()
	rows.Set(4, 99)
	assert.Equal(t, 99, rows.Size(4))
	assert.Equal(t, DefaultRowHeight, s.Rows().Size(4))
	assert.Empty(t, s.Dimensions(AxisRow))
}

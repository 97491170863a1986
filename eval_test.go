package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// gridOf builds a grid from address -> display text pairs
func gridOf(pairs map[string]string) Grid {
	grid := make(Grid, len(pairs))
	for address, value := range pairs {
		grid[MustParseRef(address)] = Cell{Value: value}
	}
	return grid
}

type evalCase struct {
	formula string
	want    string
}

func runEvalCases(t *testing.T, e *Evaluator, snap *Snapshot, cases []evalCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.formula, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Evaluate(tc.formula, snap))
		})
	}
}

func TestEvaluateWithoutGrid(t *testing.T) {
	runEvalCases(t, NewEvaluator(nil, nil), nil, []evalCase{
		{"=SUM(1,2,3)", "6"},
		{"=1+2*3", "7"},
		{"=(1+2)*3", "9"},
		{"=2^3^2", "512"},
		{"=-2^2", "4"},
		{"=10/4", "2.5"},
		{"=1e3", "1000"},
		{"=50%", "0.5"},
		{"=1/0", "#VALUE!"},
		{"=0-0", "0"},
		{"=TRUE+1", "2"},
		{`="abc"+1`, "1"},
		{`="2"*"3"`, "6"},
		{`="a"&1&TRUE`, "a1TRUE"},
		{`="say ""hi"""`, `say "hi"`},
		{"=A1", "#REF!"},
		{"=A1+1", "#REF!"},
		{"=FOO(1)", "#ERROR!"},
		{"=SUM(", "#ERROR!"},
		{"=A1+#REF!", "#ERROR!"},
		{"=10^400", "#VALUE!"},
	})
}

func TestEvaluateComparisons(t *testing.T) {
	snap := NewSnapshot(gridOf(map[string]string{"A1": "10", "B1": "20", "C1": "apple"}))
	runEvalCases(t, NewEvaluator(nil, nil), snap, []evalCase{
		{"=1=1", "TRUE"},
		{"=1<>1", "FALSE"},
		{"=A1<B1", "TRUE"},
		{"=A1>=10", "TRUE"},
		{`="10">9`, "TRUE"},
		// text that is not numeric compares as 0
		{`="abc"="ABC"`, "TRUE"},
		{`="b">"a"`, "FALSE"},
		{`="a"="b"`, "TRUE"},
		{`="abc"<>"xyz"`, "FALSE"},
		{`=C1="APPLE"`, "TRUE"},
		{`=C1<"banana"`, "FALSE"},
		{`=C1<1`, "TRUE"},
		{"=TRUE=1", "TRUE"},
		{"=Z9=0", "TRUE"},
		{"=(1/0)=1", "#VALUE!"},
	})
}

func TestEvaluateReferences(t *testing.T) {
	snap := NewSnapshot(gridOf(map[string]string{
		"A1": "10",
		"B1": "20",
		"C1": "hello",
		"D1": "#REF!",
	}))
	snap.AddSheet("Data", gridOf(map[string]string{"A1": "5"}))
	snap.AddSheet("My Sheet", gridOf(map[string]string{"B2": "7"}))

	runEvalCases(t, NewEvaluator(nil, nil), snap, []evalCase{
		{"=A1+B1", "30"},
		{"=a1*$B$1", "200"},
		{"=C1", "hello"},
		{"=C1&\" world\"", "hello world"},
		{"=C1+1", "1"},
		{"=E1", ""},
		{"=E1+1", "1"},
		{"=A1:B1", "#VALUE!"},
		{"=Data!A1*2", "10"},
		{"=DATA!A1*2", "10"},
		{"='My Sheet'!B2+1", "8"},
		{"=Missing!A1+1", "1"},
		{"=D1", "#REF!"},
		{"=D1+1", "1"},
	})
}

func TestEvaluatePropagatesFirstError(t *testing.T) {
	snap := NewSnapshot(nil)
	runEvalCases(t, NewEvaluator(nil, nil), snap, []evalCase{
		{"=SQRT(-1)+FOO()", "#VALUE!"},
		{"=FOO()+SQRT(-1)", "#ERROR!"},
		{"=1+SUM()", "#N/A!"},
		{"=-SQRT(-1)", "#VALUE!"},
		{"=SQRT(-1)&\"x\"", "#VALUE!"},
	})
}

func TestEvaluateWithNilFunctionTable(t *testing.T) {
	e := &Evaluator{}
	assert.Equal(t, "#ERROR!", e.Evaluate("=SUM(1)", nil))
	assert.Equal(t, "3", e.Evaluate("=1+2", nil))
}

func TestEvaluateCustomFunctions(t *testing.T) {
	double := func(c *CallContext, args []Node) Value {
		if len(args) != 1 {
			return ErrorValue(ErrorCodeNA)
		}
		n := c.numberArg(args[0])
		if n.IsError() {
			return n
		}
		return NumberValue(n.Num * 2)
	}
	functions := DefaultFunctions().With(FunctionDef{Name: "double", Fn: double})
	e := NewEvaluator(functions, nil)

	assert.Equal(t, "42", e.Evaluate("=DOUBLE(21)", nil))
	assert.Equal(t, "44", e.Evaluate("=double(SUM(10,11))+2", nil))
	assert.Equal(t, "#N/A!", e.Evaluate("=DOUBLE()", nil))
	assert.Equal(t, "#ERROR!", Evaluate("=DOUBLE(1)", nil))
	assert.Equal(t, DefaultFunctions().Len()+1, functions.Len())
}

func TestEvaluatorRecoversFromPanics(t *testing.T) {
	boom := func(c *CallContext, args []Node) Value {
		panic("boom")
	}
	e := NewEvaluator(NewFunctionTable(FunctionDef{Name: "BOOM", Fn: boom}), nil)
	assert.Equal(t, "#ERROR!", e.Evaluate("=BOOM()", nil))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", FormatNumber(0))
	assert.Equal(t, "-1.5", FormatNumber(-1.5))
	assert.Equal(t, "100000000000000000000", FormatNumber(1e20))
	assert.Equal(t, "0.001", FormatNumber(0.001))
}

func TestErrorMarkers(t *testing.T) {
	for code, marker := range ErrorMapper {
		assert.Equal(t, marker, code.String())
		parsed, ok := ParseErrorMarker(marker)
		assert.True(t, ok)
		assert.Equal(t, code, parsed)
	}
	_, ok := ParseErrorMarker("#NAME?")
	assert.False(t, ok)
	code, ok := ParseErrorMarker("#ref!")
	assert.True(t, ok)
	assert.Equal(t, ErrorCodeRef, code)
}

func TestParseInput(t *testing.T) {
	assert.Equal(t, Cell{Formula: "=A1"}, ParseInput("=A1"))
	assert.Equal(t, Cell{Value: "="}, ParseInput("="))
	assert.Equal(t, Cell{Value: "42"}, ParseInput("42"))
	assert.True(t, ParseInput("").IsEmpty())
}

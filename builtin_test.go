package spreadsheet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

func functionTestSnapshot() *Snapshot {
	return NewSnapshot(gridOf(map[string]string{
		"A1": "1",
		"A2": "2",
		"A3": "text",
		"A4": "TRUE",
		"B1": "#REF!",
		"C1": "2024-03-15",
		"C2": "  padded  value ",
	}))
}

func TestAggregateFunctions(t *testing.T) {
	runEvalCases(t, NewEvaluator(nil, nil), functionTestSnapshot(), []evalCase{
		{"=SUM(A1:A4)", "4"},
		{`=SUM(A1:A4,"3",TRUE)`, "8"},
		{`=SUM("abc")`, "0"},
		{"=SUM(A1:A5,A1)", "5"},
		{"=SUM(B1)", "0"},
		{"=SUM(1,1/0)", "#VALUE!"},
		{"=SUM()", "#N/A!"},
		{"=SUM(Z1:Z100)", "0"},
		{"=AVERAGE(A1:A2)", "1.5"},
		{"=AVERAGE(A3)", "#VALUE!"},
		{"=MIN(A1:A4)", "1"},
		{"=MAX(A1:A4,-5)", "2"},
		{"=MIN(A3)", "0"},
		{"=COUNT(A1:A4)", "2"},
		{`=COUNT(A1:A4,"5","x")`, "3"},
		{"=COUNT(1,1/0)", "1"},
		{"=COUNTA(A1:A5)", "4"},
		{"=COUNTA(1,1/0)", "2"},
		{`=COUNTA("")`, "0"},
	})
}

func TestLogicalFunctions(t *testing.T) {
	runEvalCases(t, NewEvaluator(nil, nil), functionTestSnapshot(), []evalCase{
		{`=IF(A1>0,"pos","neg")`, "pos"},
		{`=IF(A1>5,"pos","neg")`, "neg"},
		{`=IF(0,"x")`, "FALSE"},
		{`=IF("TRUE",1,2)`, "1"},
		{"=IF(1/0,1,2)", "#VALUE!"},
		{"=IF(1,2,3,4)", "#N/A!"},
		{"=AND(TRUE,1)", "TRUE"},
		{"=AND(A1:A4)", "TRUE"},
		{"=AND(1,0)", "FALSE"},
		{"=OR(0,FALSE)", "FALSE"},
		{"=OR(0,A2)", "TRUE"},
		{"=NOT(0)", "TRUE"},
		{`=NOT("")`, "TRUE"},
		{`=IFERROR(1/0,"bad")`, "bad"},
		{`=IFERROR(5,"bad")`, "5"},
		{"=IFERROR(1)", "#N/A!"},
	})
}

func TestTextFunctions(t *testing.T) {
	runEvalCases(t, NewEvaluator(nil, nil), functionTestSnapshot(), []evalCase{
		{`=LEFT("hello",2)`, "he"},
		{`=LEFT("hello")`, "h"},
		{`=LEFT("hi",10)`, "hi"},
		{`=LEFT("hi",-1)`, "#VALUE!"},
		{`=LEFT("abc","x")`, "#VALUE!"},
		{`=RIGHT("hello",3)`, "llo"},
		{`=MID("hello",2,3)`, "ell"},
		{`=MID("hello",9,3)`, ""},
		{`=MID("hello",0,1)`, "#VALUE!"},
		{`=LEFT("abc",1e300)`, "abc"},
		{`=RIGHT("abc",1e19)`, "abc"},
		{`=MID("abc",2,1e300)`, "bc"},
		{`=MID("abc",1e300,1)`, ""},
		{`=LEN("héllo")`, "5"},
		{"=LEN(A3)", "4"},
		{"=LEN(Z9)", "0"},
		{"=TRIM(C2)", "padded value"},
		{`=CONCATENATE("a",1,TRUE,A1)`, "a1TRUE1"},
		{"=UPPER(A3)", "TEXT"},
		{"=LOWER(A4)", "true"},
		{"=LEFT(12345,2)", "12"},
	})
}

func TestMathFunctions(t *testing.T) {
	runEvalCases(t, NewEvaluator(nil, nil), functionTestSnapshot(), []evalCase{
		{"=ABS(-3)", "3"},
		{`=ABS("x")`, "#VALUE!"},
		{"=ABS(Z1)", "0"},
		{"=ROUND(2.567,2)", "2.57"},
		{"=ROUND(2.5)", "3"},
		{"=ROUND(1234,-2)", "1200"},
		{"=FLOOR(7,2)", "6"},
		{"=FLOOR(2.7)", "2"},
		{"=FLOOR(1,0)", "#VALUE!"},
		{"=CEILING(7,2)", "8"},
		{"=CEILING(2.1)", "3"},
		{"=SQRT(16)", "4"},
		{"=SQRT(-1)", "#VALUE!"},
		{"=POWER(2,10)", "1024"},
		{"=MOD(7,3)", "1"},
		{"=MOD(-7,3)", "2"},
		{"=MOD(7,-3)", "-2"},
		{"=MOD(1,0)", "#VALUE!"},
		{"=PI()", "3.141592653589793"},
		{"=PI(1)", "#N/A!"},
		{"=SQRT(A1+A2+1)", "2"},
	})
}

func TestDateFunctions(t *testing.T) {
	clock := &FixedClock{Time: time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)}
	runEvalCases(t, NewEvaluator(nil, clock), functionTestSnapshot(), []evalCase{
		{"=TODAY()", "2024-03-15"},
		{"=NOW()", "2024-03-15 13:45:00"},
		{"=YEAR(C1)", "2024"},
		{`=MONTH("2024-03-15")`, "3"},
		{"=DAY(TODAY())", "15"},
		{"=MONTH(NOW())", "3"},
		{`=YEAR("2023/7/4")`, "2023"},
		{`=YEAR("nope")`, "#VALUE!"},
		{"=YEAR(1/0)", "#VALUE!"},
		{"=TODAY(1)", "#N/A!"},
	})
}

func TestRandUsesGenerator(t *testing.T) {
	e := NewEvaluator(nil, nil)
	e.Random = fixedRandom(0.25)
	assert.Equal(t, "0.25", e.Evaluate("=RAND()", nil))
	assert.Equal(t, "1.25", e.Evaluate("=RAND()+1", nil))
}

func TestInformationFunctions(t *testing.T) {
	runEvalCases(t, NewEvaluator(nil, nil), functionTestSnapshot(), []evalCase{
		{"=ISBLANK(Z9)", "TRUE"},
		{"=ISBLANK(A1)", "FALSE"},
		{`=ISBLANK("")`, "FALSE"},
		{"=ISNUMBER(A1)", "TRUE"},
		{"=ISNUMBER(A3)", "FALSE"},
		{"=ISNUMBER(5)", "TRUE"},
		{`=ISNUMBER("5")`, "FALSE"},
		{"=ISERROR(B1)", "TRUE"},
		{"=ISERROR(A1)", "FALSE"},
		{"=ISERROR(1/0)", "TRUE"},
		{"=ISERROR(A1:A2)", "TRUE"},
		{"=ISERROR(FOO())", "TRUE"},
	})
}

func TestFunctionTable(t *testing.T) {
	table := DefaultFunctions()
	assert.GreaterOrEqual(t, table.Len(), 30)
	assert.Equal(t, "SUM", table.Names()[0])

	_, ok := table.Lookup("sum")
	assert.True(t, ok)
	_, ok = table.Lookup("VLOOKUP")
	assert.False(t, ok)

	// later definitions replace earlier ones in place
	replaced := table.With(FunctionDef{Name: "sum", Fn: fnPi})
	assert.Equal(t, table.Len(), replaced.Len())
	assert.Equal(t, "3.141592653589793", NewEvaluator(replaced, nil).Evaluate("=SUM()", nil))
	assert.Equal(t, "#N/A!", NewEvaluator(table, nil).Evaluate("=SUM()", nil))

	for _, name := range []string{"NOW", "today", "Rand"} {
		assert.True(t, isVolatileFunction(name), name)
	}
	assert.False(t, isVolatileFunction("SUM"))
}

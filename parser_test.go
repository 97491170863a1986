package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFormula(formula string) bool {
	_, err := Parse(formula)
	return err == nil
}

func TestParserBasicFormulas(t *testing.T) {
	validFormulas := []string{
		"=1+2",
		"=A1",
		"=SUM(A1:A10)",
		"=Sheet2!A1",
		"=Sheet2!A1:B2",
		"=SUM(Sheet2!A1:A10)",
		"=Sheet2!A1 + Sheet3!B1",
		"=SUM(B2:A1)",
		"=SUM(A1:A1)",
		"=SUM(A1:Z1000)",
		`="Hello 世界"`,
		`="Test 😀 emoji"`,
		`=CONCATENATE("Hello ", "世界")`,
		"=PI()",
		"=LOG10(100)",
		"='My Sheet'!A1*2",
		"=-(-1)",
		"=1!=2",
		"=A1%%",
	}

	for _, formula := range validFormulas {
		t.Run(formula, func(t *testing.T) {
			assert.True(t, parseFormula(formula), "failed to parse valid formula: %s", formula)
		})
	}
}

func TestParserInvalidFormulas(t *testing.T) {
	invalidFormulas := []string{
		"",
		"=",
		"=SUM(",
		"=A1:",
		`="hello`,
		"=1 2",
		"=foo",
		"=foo+1",
		"=A1+#REF!",
		"1+2",
		"=SUM(1,)",
		"=(1",
		"=1)",
		"=*2",
	}

	for _, formula := range invalidFormulas {
		t.Run(formula, func(t *testing.T) {
			_, err := Parse(formula)
			require.Error(t, err, "expected formula to fail: %s", formula)
			assert.Equal(t, InvalidArgument, ErrorCodeOf(err))
		})
	}
}

func TestParserPrecedence(t *testing.T) {
	tests := []struct {
		formula string
		want    string
	}{
		{"=1+2*3", "1+2*3"},
		{"=(1+2)*3", "(1+2)*3"},
		{"=sum(a1:b2, $c$3)", "SUM(A1:B2,C3)"},
		{"=SUM(B2:A1)", "SUM(A1:B2)"},
		{"=A1:A1", "A1:A1"},
		{"=sheet2!a1", "sheet2!A1"},
		{"='My Sheet'!b2", "'My Sheet'!B2"},
		{"=-A1%", "-A1%"},
		{`="a"&"b"=C1`, `"a"&"b"=C1`},
		{`="say ""hi"""`, `"say ""hi"""`},
		{"=1<>2", "1<>2"},
		{"=TRUE", "TRUE"},
	}
	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			node, err := Parse(tt.formula)
			require.NoError(t, err)
			assert.Equal(t, tt.want, node.ToString())
		})
	}
}

func TestParserTreeShape(t *testing.T) {
	node, err := Parse("=1+2*3")
	require.NoError(t, err)
	add, ok := node.(*BinaryNode)
	require.True(t, ok)
	assert.Equal(t, BinOpAdd, add.Op)
	mul, ok := add.Right.(*BinaryNode)
	require.True(t, ok)
	assert.Equal(t, BinOpMultiply, mul.Op)

	// power is right-associative
	node, err = Parse("=2^3^2")
	require.NoError(t, err)
	pow := node.(*BinaryNode)
	assert.IsType(t, &NumberNode{}, pow.Left)
	assert.IsType(t, &BinaryNode{}, pow.Right)

	// the sign binds tighter than percent's operand
	node, err = Parse("=-A1%")
	require.NoError(t, err)
	neg := node.(*UnaryNode)
	assert.Equal(t, UnaryOpMinus, neg.Op)
	assert.Equal(t, UnaryOpPercent, neg.Operand.(*UnaryNode).Op)

	node, err = Parse("=1!=2")
	require.NoError(t, err)
	assert.Equal(t, CmpNotEqual, node.(*CompareNode).Op)
}

func TestParserReferences(t *testing.T) {
	node, err := Parse("=Data!$b$2:a1")
	require.NoError(t, err)
	ref := node.(*ReferenceNode)
	assert.Equal(t, "Data", ref.Sheet)
	assert.Equal(t, "A1:B2", ref.Address)
	assert.True(t, ref.IsRange)

	node, err = Parse("=SUM(A1, 2)")
	require.NoError(t, err)
	call := node.(*FunctionNode)
	assert.Equal(t, "SUM", call.Name)
	assert.Len(t, call.Args, 2)
	assert.Equal(t, NodePosition{Start: 1, End: 11}, call.Position)
	assert.Equal(t, NodePosition{Start: 5, End: 7}, call.Args[0].GetPosition())

	node, err = Parse("=PI()")
	require.NoError(t, err)
	assert.Empty(t, node.(*FunctionNode).Args)
}

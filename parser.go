package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
)

type NodePosition struct {
	Start int
	End   int
}

// Node is a parsed formula expression. the set of node types is closed;
// the evaluator and the formula rewriter switch over it exhaustively.
type Node interface {
	GetPosition() NodePosition
	ToString() string
	node()
}

// BinaryOp represents arithmetic and concatenation operators
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
)

var binaryOpText = map[BinaryOp]string{
	BinOpAdd:      "+",
	BinOpSubtract: "-",
	BinOpMultiply: "*",
	BinOpDivide:   "/",
	BinOpPower:    "^",
	BinOpConcat:   "&",
}

// CompareOp represents comparison operators
type CompareOp int

const (
	CmpEqual CompareOp = iota
	CmpNotEqual
	CmpLess
	CmpLessEqual
	CmpGreater
	CmpGreaterEqual
)

var compareOpText = map[CompareOp]string{
	CmpEqual:        "=",
	CmpNotEqual:     "<>",
	CmpLess:         "<",
	CmpLessEqual:    "<=",
	CmpGreater:      ">",
	CmpGreaterEqual: ">=",
}

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

// NumberNode represents a numeric literal
type NumberNode struct {
	Value    float64
	Position NodePosition
}

func (n *NumberNode) GetPosition() NodePosition { return n.Position }
func (n *NumberNode) ToString() string          { return FormatNumber(n.Value) }
func (*NumberNode) node()                       {}

// StringNode represents a string literal
type StringNode struct {
	Value    string
	Position NodePosition
}

func (n *StringNode) GetPosition() NodePosition { return n.Position }
func (*StringNode) node()                       {}

func (n *StringNode) ToString() string {
	escaped := strings.ReplaceAll(n.Value, `"`, `""`)
	return `"` + escaped + `"`
}

// BooleanNode represents a boolean literal
type BooleanNode struct {
	Value    bool
	Position NodePosition
}

func (n *BooleanNode) GetPosition() NodePosition { return n.Position }
func (*BooleanNode) node()                       {}

func (n *BooleanNode) ToString() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// ReferenceNode is a cell or range reference, optionally qualified with a
// sheet name. Address is uppercased with absolute markers removed.
type ReferenceNode struct {
	Sheet    string
	Address  string
	IsRange  bool
	Position NodePosition
}

func (n *ReferenceNode) GetPosition() NodePosition { return n.Position }
func (*ReferenceNode) node()                       {}

func (n *ReferenceNode) ToString() string {
	return QualifyAddress(n.Sheet, n.Address)
}

// ParenNode is a parenthesized expression
type ParenNode struct {
	Inner    Node
	Position NodePosition
}

func (n *ParenNode) GetPosition() NodePosition { return n.Position }
func (n *ParenNode) ToString() string          { return "(" + n.Inner.ToString() + ")" }
func (*ParenNode) node()                       {}

// FunctionNode represents a function call. Name is uppercased.
type FunctionNode struct {
	Name     string
	Args     []Node
	Position NodePosition
}

func (n *FunctionNode) GetPosition() NodePosition { return n.Position }
func (*FunctionNode) node()                       {}

func (n *FunctionNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.ToString()
	}
	return n.Name + "(" + strings.Join(args, ",") + ")"
}

// BinaryNode represents arithmetic or concatenation
type BinaryNode struct {
	Op       BinaryOp
	Left     Node
	Right    Node
	Position NodePosition
}

func (n *BinaryNode) GetPosition() NodePosition { return n.Position }
func (*BinaryNode) node()                       {}

func (n *BinaryNode) ToString() string {
	return n.Left.ToString() + binaryOpText[n.Op] + n.Right.ToString()
}

// CompareNode represents a comparison
type CompareNode struct {
	Op       CompareOp
	Left     Node
	Right    Node
	Position NodePosition
}

func (n *CompareNode) GetPosition() NodePosition { return n.Position }
func (*CompareNode) node()                       {}

func (n *CompareNode) ToString() string {
	return n.Left.ToString() + compareOpText[n.Op] + n.Right.ToString()
}

// UnaryNode represents a prefix sign or a postfix percent
type UnaryNode struct {
	Op       UnaryOp
	Operand  Node
	Position NodePosition
}

func (n *UnaryNode) GetPosition() NodePosition { return n.Position }
func (*UnaryNode) node()                       {}

func (n *UnaryNode) ToString() string {
	switch n.Op {
	case UnaryOpMinus:
		return "-" + n.Operand.ToString()
	case UnaryOpPercent:
		return n.Operand.ToString() + "%"
	default:
		return "+" + n.Operand.ToString()
	}
}

func parseError(message string) *AppError {
	return NewApplicationError(InvalidArgument, "parse error: "+message)
}

// Parser parses tokens into an AST
type Parser struct {
	tokens []Token
	pos    int
}

// Parse lexes and parses a formula such as "=SUM(A1:A3)*2". a malformed
// formula returns an error and no tree.
func Parse(formula string) (Node, error) {
	tokens, err := NewLexer(formula).Lex()
	if err != nil {
		return nil, err
	}
	return NewParser(tokens).Parse()
}

// NewParser creates a parser over tokens produced by Lexer.Lex
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse parses the tokens into an AST
func (p *Parser) Parse() (Node, error) {
	if len(p.tokens) == 0 {
		return nil, parseError("no tokens to parse")
	}
	if p.tokens[p.pos].Type != TokenEquals {
		return nil, parseError("formula must start with '='")
	}
	p.pos++ // consume the equals token

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	if p.peek().Type != TokenEOF {
		return nil, parseError(fmt.Sprintf("unexpected token after expression: %q", p.peek().Text))
	}
	return node, nil
}

// peek returns the current token, or EOF past the end
func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseConcatenation()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}

		var op CompareOp
		switch tok.Text {
		case "=":
			op = CmpEqual
		case "<>", "!=":
			op = CmpNotEqual
		case "<":
			op = CmpLess
		case "<=":
			op = CmpLessEqual
		case ">":
			op = CmpGreater
		case ">=":
			op = CmpGreaterEqual
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseConcatenation()
		if err != nil {
			return nil, err
		}
		left = &CompareNode{Op: op, Left: left, Right: right, Position: span(left, right)}
	}
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (Node, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenBinaryOp && p.peek().Text == "&" {
		p.pos++
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: BinOpConcat, Left: left, Right: right, Position: span(left, right)}
	}
	return left, nil
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (Node, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}
		var op BinaryOp
		switch tok.Text {
		case "+":
			op = BinOpAdd
		case "-":
			op = BinOpSubtract
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right, Position: span(left, right)}
	}
}

// parseMultiplication handles multiplication and division
func (p *Parser) parseMultiplication() (Node, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}
		var op BinaryOp
		switch tok.Text {
		case "*":
			op = BinOpMultiply
		case "/":
			op = BinOpDivide
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right, Position: span(left, right)}
	}
}

// parsePower handles exponentiation
func (p *Parser) parsePower() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	// right-associative
	if tok := p.peek(); tok.Type == TokenBinaryOp && tok.Text == "^" {
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return &BinaryNode{Op: BinOpPower, Left: left, Right: right, Position: span(left, right)}, nil
	}
	return left, nil
}

// parseUnary handles unary operators
func (p *Parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.Type != TokenUnaryPrefixOp {
		return p.parsePostfix()
	}

	op := UnaryOpPlus
	if tok.Text == "-" {
		op = UnaryOpMinus
	}
	p.pos++
	operand, err := p.parseUnary() // recurse for chained unary operators
	if err != nil {
		return nil, err
	}
	return &UnaryNode{
		Op:       op,
		Operand:  operand,
		Position: NodePosition{Start: tok.Start, End: operand.GetPosition().End},
	}, nil
}

// parsePostfix handles postfix operators (percent)
func (p *Parser) parsePostfix() (Node, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for p.peek().Type == TokenUnaryPostfixOp {
		tok := p.peek()
		p.pos++
		node = &UnaryNode{
			Op:       UnaryOpPercent,
			Operand:  node,
			Position: NodePosition{Start: node.GetPosition().Start, End: tok.Stop},
		}
	}
	return node, nil
}

// parsePrimary handles primary expressions (literals, references,
// functions, parentheses)
func (p *Parser) parsePrimary() (Node, error) {
	tok := p.peek()
	pos := NodePosition{Start: tok.Start, End: tok.Stop}

	switch tok.Type {
	case TokenNumber:
		p.pos++
		val, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return nil, parseError(fmt.Sprintf("invalid number: %s", tok.Text))
		}
		return &NumberNode{Value: val, Position: pos}, nil

	case TokenString:
		p.pos++
		return &StringNode{Value: unquoteString(tok.Text), Position: pos}, nil

	case TokenBoolean:
		p.pos++
		return &BooleanNode{Value: strings.EqualFold(tok.Text, "TRUE"), Position: pos}, nil

	case TokenCell, TokenRange:
		p.pos++
		return p.parseReference(tok)

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.pos++
		inner, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		closing := p.peek()
		if closing.Type != TokenRightParen {
			return nil, parseError("expected closing parenthesis")
		}
		p.pos++
		return &ParenNode{Inner: inner, Position: NodePosition{Start: tok.Start, End: closing.Stop}}, nil

	case TokenIdentifier:
		return nil, parseError(fmt.Sprintf("unknown name: %s", tok.Text))

	case TokenEOF:
		return nil, parseError("unexpected end of expression")

	default:
		return nil, parseError(fmt.Sprintf("unexpected token: %q", tok.Text))
	}
}

// parseReference validates a cell or range token and splits off its sheet
func (p *Parser) parseReference(tok Token) (Node, error) {
	sheet, address := SplitSheet(tok.Text)
	node := &ReferenceNode{
		Sheet:    sheet,
		IsRange:  tok.Type == TokenRange,
		Position: NodePosition{Start: tok.Start, End: tok.Stop},
	}
	if node.IsRange {
		rng, err := ParseRange(address)
		if err != nil {
			return nil, err
		}
		node.Address = FormatRange(rng)
		// keep a 1x1 range a range, e.g. A1:A1
		if rng.Start == rng.End {
			node.Address += ":" + FormatRef(rng.End)
		}
		return node, nil
	}

	ref, err := ParseRef(address)
	if err != nil {
		return nil, err
	}
	node.Address = FormatRef(ref)
	return node, nil
}

// parseFunctionCall parses a function call
func (p *Parser) parseFunctionCall() (Node, error) {
	funcTok := p.peek()
	p.pos++

	// expect opening parenthesis
	if p.peek().Type != TokenLeftParen {
		return nil, parseError("expected '(' after function name")
	}
	p.pos++

	call := &FunctionNode{Name: strings.ToUpper(funcTok.Text), Args: []Node{}}

	// check for empty argument list
	if tok := p.peek(); tok.Type == TokenRightParen {
		p.pos++
		call.Position = NodePosition{Start: funcTok.Start, End: tok.Stop}
		return call, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)

		tok := p.peek()
		switch tok.Type {
		case TokenRightParen:
			p.pos++
			call.Position = NodePosition{Start: funcTok.Start, End: tok.Stop}
			return call, nil
		case TokenComma:
			p.pos++
		default:
			return nil, parseError("expected ',' or ')' in function arguments")
		}
	}
}

func span(left, right Node) NodePosition {
	return NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End}
}

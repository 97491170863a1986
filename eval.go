package spreadsheet

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Evaluator walks parsed formulas and produces a Value per node. it holds no
// per-call state and is safe to share.
type Evaluator struct {
	Functions *FunctionTable
	Clock     Clock
	Random    RandomGenerator
}

// NewEvaluator creates an evaluator over functions. nil arguments fall back
// to the default function table and the wall clock.
func NewEvaluator(functions *FunctionTable, clock Clock) *Evaluator {
	if functions == nil {
		functions = DefaultFunctions()
	}
	if clock == nil {
		clock = &WallClock{}
	}
	return &Evaluator{Functions: functions, Clock: clock, Random: &DefaultRandomGenerator{}}
}

var defaultEvaluator = NewEvaluator(nil, nil)

// Evaluate computes the display text of a formula with the default
// function table. snap may be nil, in which case references are #REF!.
func Evaluate(formula string, snap *Snapshot) string {
	return defaultEvaluator.Evaluate(formula, snap)
}

// Evaluate computes the display text of a formula. it never fails: parse
// errors and unexpected panics both display as #ERROR!.
func (e *Evaluator) Evaluate(formula string, snap *Snapshot) string {
	node, err := Parse(formula)
	if err != nil {
		return ErrorCodeOther.String()
	}
	return e.EvaluateTree(node, snap)
}

// EvaluateTree is Evaluate for an already parsed formula
func (e *Evaluator) EvaluateTree(node Node, snap *Snapshot) (display string) {
	defer func() {
		if r := recover(); r != nil {
			display = ErrorCodeOther.String()
		}
	}()
	c := &CallContext{evaluator: e, snapshot: snap}
	return c.resolveTop(c.Visit(node)).Display()
}

// CallContext is handed to functions so they can evaluate their arguments
// lazily and read the snapshot
type CallContext struct {
	evaluator *Evaluator
	snapshot  *Snapshot
}

// Visit evaluates one node
func (c *CallContext) Visit(n Node) Value {
	switch n := n.(type) {
	case *NumberNode:
		return NumberValue(n.Value)
	case *StringNode:
		return StringValue(n.Value)
	case *BooleanNode:
		return BooleanValue(n.Value)
	case *ReferenceNode:
		if c.snapshot == nil {
			return ErrorValue(ErrorCodeRef)
		}
		return ReferenceValue(QualifyAddress(n.Sheet, n.Address))
	case *ParenNode:
		return c.Visit(n.Inner)
	case *FunctionNode:
		return c.call(n)
	case *BinaryNode:
		return c.binary(n)
	case *CompareNode:
		return c.compare(n)
	case *UnaryNode:
		return c.unary(n)
	}
	return ErrorValue(ErrorCodeOther)
}

// Now returns the evaluator's notion of the current time
func (c *CallContext) Now() time.Time {
	clock := c.evaluator.Clock
	if clock == nil {
		return time.Now()
	}
	return clock.Now()
}

func (c *CallContext) random() float64 {
	if c.evaluator.Random == nil {
		return (&DefaultRandomGenerator{}).Float64()
	}
	return c.evaluator.Random.Float64()
}

func (c *CallContext) call(n *FunctionNode) Value {
	functions := c.evaluator.Functions
	if functions == nil {
		return ErrorValue(ErrorCodeOther)
	}
	fn, ok := functions.Lookup(n.Name)
	if !ok {
		return ErrorValue(ErrorCodeOther)
	}
	return fn(c, n.Args)
}

// resolveTop turns a final reference result into something displayable: a
// single cell shows its stored display text, a range has no array context
func (c *CallContext) resolveTop(v Value) Value {
	if v.Kind != KindReference {
		return v
	}
	return c.deref(v)
}

// deref replaces a single-cell reference with the cell's display text.
// ranges are #VALUE! in a scalar context. other kinds pass through.
func (c *CallContext) deref(v Value) Value {
	if v.Kind != KindReference {
		return v
	}
	text, errVal, ok := c.cellText(v.Ref)
	if !ok {
		return errVal
	}
	return StringValue(text)
}

// cellText reads the display text of a single-cell reference. an empty or
// missing cell reads as "".
func (c *CallContext) cellText(address string) (string, Value, bool) {
	if c.snapshot == nil {
		return "", ErrorValue(ErrorCodeRef), false
	}
	sheet, local := SplitSheet(address)
	if strings.Contains(local, ":") {
		return "", ErrorValue(ErrorCodeValue), false
	}
	ref, err := ParseRef(local)
	if err != nil {
		return "", ErrorValue(ErrorCodeRef), false
	}
	cell, _ := c.snapshot.Lookup(sheet, ref)
	return cell.Value, Value{}, true
}

// rangeTexts returns the display text of every populated cell a reference
// covers, in row-major order
func (c *CallContext) rangeTexts(address string) ([]string, Value, bool) {
	if c.snapshot == nil {
		return nil, ErrorValue(ErrorCodeRef), false
	}
	sheet, local := SplitSheet(address)
	rng, err := ParseRange(local)
	if err != nil {
		return nil, ErrorValue(ErrorCodeRef), false
	}

	grid := c.snapshot.Cells
	if sheet != "" {
		grid = c.snapshot.Sheets[SheetKey(sheet)]
	}

	var refs []Ref
	if rng.Size() > len(grid) {
		for ref := range grid {
			if InRange(ref, rng) {
				refs = append(refs, ref)
			}
		}
		slices.SortFunc(refs, CompareRefs)
	} else {
		for ref := range rng.Cells() {
			if _, ok := grid[ref]; ok {
				refs = append(refs, ref)
			}
		}
	}

	texts := make([]string, 0, len(refs))
	for _, ref := range refs {
		if text := grid[ref].Value; text != "" {
			texts = append(texts, text)
		}
	}
	return texts, Value{}, true
}

// toNumber applies the numeric coercion: booleans are 1 or 0, text parses
// as a float or reads as 0, references read their cell's text, errors pass
// through unchanged
func (c *CallContext) toNumber(v Value) Value {
	switch v.Kind {
	case KindNumber:
		return v
	case KindBoolean:
		if v.Bool {
			return NumberValue(1)
		}
		return NumberValue(0)
	case KindString:
		return NumberValue(numberOrZero(v.Str))
	case KindReference:
		resolved := c.deref(v)
		if resolved.IsError() {
			return resolved
		}
		return NumberValue(numberOrZero(resolved.Str))
	case KindError:
		return v
	}
	return ErrorValue(ErrorCodeOther)
}

// toText applies the string coercion
func (c *CallContext) toText(v Value) Value {
	switch v.Kind {
	case KindNumber, KindBoolean, KindString:
		return StringValue(v.Display())
	case KindReference:
		return c.deref(v)
	case KindError:
		return v
	}
	return ErrorValue(ErrorCodeOther)
}

// toBool applies the boolean coercion: numbers are true when non-zero, text
// is TRUE/FALSE, a number, or true when non-empty
func (c *CallContext) toBool(v Value) Value {
	switch v.Kind {
	case KindBoolean:
		return v
	case KindNumber:
		return BooleanValue(v.Num != 0)
	case KindString:
		return BooleanValue(textTruth(v.Str))
	case KindReference:
		resolved := c.deref(v)
		if resolved.IsError() {
			return resolved
		}
		return BooleanValue(textTruth(resolved.Str))
	case KindError:
		return v
	}
	return ErrorValue(ErrorCodeOther)
}

func textTruth(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE":
		return true
	case "FALSE", "":
		return false
	}
	if n, ok := parseNumber(s); ok {
		return n != 0
	}
	return true
}

// parseNumber parses numeric text. NaN and infinities are not numbers here.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func numberOrZero(s string) float64 {
	n, _ := parseNumber(s)
	return n
}

// finite maps NaN and infinities to #VALUE!
func finite(n float64) Value {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return ErrorValue(ErrorCodeValue)
	}
	return NumberValue(n)
}

// binary evaluates left to right and returns the first error it meets
// without evaluating anything after it
func (c *CallContext) binary(n *BinaryNode) Value {
	left := c.Visit(n.Left)
	if left.IsError() {
		return left
	}

	if n.Op == BinOpConcat {
		lt := c.toText(left)
		if lt.IsError() {
			return lt
		}
		rt := c.toText(c.Visit(n.Right))
		if rt.IsError() {
			return rt
		}
		return StringValue(lt.Str + rt.Str)
	}

	ln := c.toNumber(left)
	if ln.IsError() {
		return ln
	}
	rn := c.toNumber(c.Visit(n.Right))
	if rn.IsError() {
		return rn
	}

	a, b := ln.Num, rn.Num
	switch n.Op {
	case BinOpAdd:
		return finite(a + b)
	case BinOpSubtract:
		return finite(a - b)
	case BinOpMultiply:
		return finite(a * b)
	case BinOpDivide:
		if b == 0 {
			return ErrorValue(ErrorCodeValue)
		}
		return finite(a / b)
	case BinOpPower:
		return finite(math.Pow(a, b))
	}
	return ErrorValue(ErrorCodeOther)
}

// compare coerces both operands to numbers, so text that is not numeric
// compares as 0
func (c *CallContext) compare(n *CompareNode) Value {
	left := c.toNumber(c.Visit(n.Left))
	if left.IsError() {
		return left
	}
	right := c.toNumber(c.Visit(n.Right))
	if right.IsError() {
		return right
	}

	a, b := left.Num, right.Num
	switch n.Op {
	case CmpEqual:
		return BooleanValue(a == b)
	case CmpNotEqual:
		return BooleanValue(a != b)
	case CmpLess:
		return BooleanValue(a < b)
	case CmpLessEqual:
		return BooleanValue(a <= b)
	case CmpGreater:
		return BooleanValue(a > b)
	case CmpGreaterEqual:
		return BooleanValue(a >= b)
	}
	return ErrorValue(ErrorCodeOther)
}

func (c *CallContext) unary(n *UnaryNode) Value {
	operand := c.toNumber(c.Visit(n.Operand))
	if operand.IsError() {
		return operand
	}
	switch n.Op {
	case UnaryOpPlus:
		return operand
	case UnaryOpMinus:
		return NumberValue(-operand.Num)
	case UnaryOpPercent:
		return NumberValue(operand.Num / 100)
	}
	return ErrorValue(ErrorCodeOther)
}

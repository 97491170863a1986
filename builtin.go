package spreadsheet

import (
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/elliotchance/orderedmap/v3"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// FixedClock always reports the same instant
type FixedClock struct {
	Time time.Time
}

func (f *FixedClock) Now() time.Time {
	return f.Time
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// Function implements a built-in. it receives its arguments unevaluated so
// it can short-circuit, and evaluates them through c.Visit.
type Function func(c *CallContext, args []Node) Value

// FunctionDef names a function for registration
type FunctionDef struct {
	Name string
	Fn   Function
}

// FunctionTable is an immutable name -> function registry. names are
// uppercased and listed in registration order.
type FunctionTable struct {
	entries *orderedmap.OrderedMap[string, Function]
}

// NewFunctionTable builds a table. later definitions replace earlier ones
// with the same name.
func NewFunctionTable(defs ...FunctionDef) *FunctionTable {
	entries := orderedmap.NewOrderedMap[string, Function]()
	for _, def := range defs {
		entries.Set(strings.ToUpper(def.Name), def.Fn)
	}
	return &FunctionTable{entries: entries}
}

// With returns a new table holding t's functions plus defs
func (t *FunctionTable) With(defs ...FunctionDef) *FunctionTable {
	all := make([]FunctionDef, 0, t.Len()+len(defs))
	for name, fn := range t.entries.AllFromFront() {
		all = append(all, FunctionDef{Name: name, Fn: fn})
	}
	return NewFunctionTable(append(all, defs...)...)
}

// Lookup finds a function by case-insensitive name
func (t *FunctionTable) Lookup(name string) (Function, bool) {
	return t.entries.Get(strings.ToUpper(name))
}

// Names lists registered names in registration order
func (t *FunctionTable) Names() []string {
	names := make([]string, 0, t.entries.Len())
	for name := range t.entries.AllFromFront() {
		names = append(names, name)
	}
	return names
}

func (t *FunctionTable) Len() int {
	return t.entries.Len()
}

// DefaultFunctions returns the shared table of built-in functions, built
// once on first use
var DefaultFunctions = sync.OnceValue(func() *FunctionTable {
	return NewFunctionTable(
		FunctionDef{"SUM", fnSum},
		FunctionDef{"AVERAGE", fnAverage},
		FunctionDef{"MIN", fnMin},
		FunctionDef{"MAX", fnMax},
		FunctionDef{"COUNT", fnCount},
		FunctionDef{"COUNTA", fnCountA},
		FunctionDef{"IF", fnIf},
		FunctionDef{"AND", fnAnd},
		FunctionDef{"OR", fnOr},
		FunctionDef{"NOT", fnNot},
		FunctionDef{"IFERROR", fnIfError},
		FunctionDef{"LEFT", fnLeft},
		FunctionDef{"RIGHT", fnRight},
		FunctionDef{"MID", fnMid},
		FunctionDef{"TRIM", textFunc(func(s string) string { return strings.Join(strings.Fields(s), " ") })},
		FunctionDef{"LEN", fnLen},
		FunctionDef{"CONCATENATE", fnConcatenate},
		FunctionDef{"UPPER", textFunc(strings.ToUpper)},
		FunctionDef{"LOWER", textFunc(strings.ToLower)},
		FunctionDef{"ABS", mathFunc(math.Abs)},
		FunctionDef{"ROUND", fnRound},
		FunctionDef{"FLOOR", fnFloor},
		FunctionDef{"CEILING", fnCeiling},
		FunctionDef{"SQRT", fnSqrt},
		FunctionDef{"POWER", fnPower},
		FunctionDef{"MOD", fnMod},
		FunctionDef{"PI", fnPi},
		FunctionDef{"RAND", fnRand},
		FunctionDef{"TODAY", fnToday},
		FunctionDef{"NOW", fnNow},
		FunctionDef{"YEAR", datePart(func(t time.Time) int { return t.Year() })},
		FunctionDef{"MONTH", datePart(func(t time.Time) int { return int(t.Month()) })},
		FunctionDef{"DAY", datePart(func(t time.Time) int { return t.Day() })},
		FunctionDef{"ISBLANK", fnIsBlank},
		FunctionDef{"ISNUMBER", fnIsNumber},
		FunctionDef{"ISERROR", fnIsError},
	)
})

// isVolatileFunction returns true if the function result changes without
// any input changing
func isVolatileFunction(name string) bool {
	switch strings.ToUpper(name) {
	case "NOW", "TODAY", "RAND":
		return true
	default:
		return false
	}
}

var errNA = ErrorValue(ErrorCodeNA)

// arity reports whether len(args) is within [lo, hi]. hi < 0 means no limit.
func arity(args []Node, lo, hi int) bool {
	return len(args) >= lo && (hi < 0 || len(args) <= hi)
}

// argItem is one flattened aggregate argument. fromCell marks values read
// out of a referenced cell rather than written directly in the call.
type argItem struct {
	value    Value
	fromCell bool
}

// flatten evaluates every argument, expanding references cell by cell in
// row-major order and skipping empty cells. a direct error stops the walk
// unless keepErrors is set.
func (c *CallContext) flatten(args []Node, keepErrors bool) ([]argItem, Value, bool) {
	var items []argItem
	for _, arg := range args {
		v := c.Visit(arg)
		switch v.Kind {
		case KindReference:
			texts, errVal, ok := c.rangeTexts(v.Ref)
			if !ok {
				if !keepErrors {
					return nil, errVal, false
				}
				items = append(items, argItem{value: errVal})
				continue
			}
			for _, text := range texts {
				items = append(items, argItem{value: classifyText(text), fromCell: true})
			}
		case KindError:
			if !keepErrors {
				return nil, v, false
			}
			items = append(items, argItem{value: v})
		default:
			items = append(items, argItem{value: v})
		}
	}
	return items, Value{}, true
}

// classifyText types a cell's display text
func classifyText(text string) Value {
	if n, ok := parseNumber(text); ok {
		return NumberValue(n)
	}
	switch strings.ToUpper(text) {
	case "TRUE":
		return BooleanValue(true)
	case "FALSE":
		return BooleanValue(false)
	}
	return StringValue(text)
}

// numbers reduces aggregate items to numbers: booleans are 0 or 1, text in
// a cell is skipped and text written directly is coerced
func numbers(items []argItem) []float64 {
	out := make([]float64, 0, len(items))
	for _, item := range items {
		v := item.value
		switch v.Kind {
		case KindNumber:
			out = append(out, v.Num)
		case KindBoolean:
			if v.Bool {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		case KindString:
			if !item.fromCell {
				out = append(out, numberOrZero(v.Str))
			}
		case KindReference, KindError:
		}
	}
	return out
}

func aggregate(reduce func([]float64) Value) Function {
	return func(c *CallContext, args []Node) Value {
		if !arity(args, 1, -1) {
			return errNA
		}
		items, errVal, ok := c.flatten(args, false)
		if !ok {
			return errVal
		}
		return reduce(numbers(items))
	}
}

var fnSum = aggregate(func(nums []float64) Value {
	sum := 0.0
	for _, n := range nums {
		sum += n
	}
	return finite(sum)
})

var fnAverage = aggregate(func(nums []float64) Value {
	if len(nums) == 0 {
		return ErrorValue(ErrorCodeValue)
	}
	sum := 0.0
	for _, n := range nums {
		sum += n
	}
	return finite(sum / float64(len(nums)))
})

var fnMin = aggregate(func(nums []float64) Value {
	if len(nums) == 0 {
		return NumberValue(0)
	}
	return NumberValue(slices.Min(nums))
})

var fnMax = aggregate(func(nums []float64) Value {
	if len(nums) == 0 {
		return NumberValue(0)
	}
	return NumberValue(slices.Max(nums))
})

// fnCount counts numbers and numeric-looking text
func fnCount(c *CallContext, args []Node) Value {
	if !arity(args, 1, -1) {
		return errNA
	}
	items, _, _ := c.flatten(args, true)
	count := 0
	for _, item := range items {
		switch item.value.Kind {
		case KindNumber:
			count++
		case KindString:
			if _, ok := parseNumber(item.value.Str); ok {
				count++
			}
		case KindBoolean, KindReference, KindError:
		}
	}
	return NumberValue(float64(count))
}

// fnCountA counts every non-empty value, errors included
func fnCountA(c *CallContext, args []Node) Value {
	if !arity(args, 1, -1) {
		return errNA
	}
	items, _, _ := c.flatten(args, true)
	count := 0
	for _, item := range items {
		if item.value.Kind == KindString && item.value.Str == "" {
			continue
		}
		count++
	}
	return NumberValue(float64(count))
}

func fnIf(c *CallContext, args []Node) Value {
	if !arity(args, 2, 3) {
		return errNA
	}
	cond := c.toBool(c.Visit(args[0]))
	if cond.IsError() {
		return cond
	}
	if cond.Bool {
		return c.Visit(args[1])
	}
	if len(args) == 3 {
		return c.Visit(args[2])
	}
	return BooleanValue(false)
}

// logical folds the truth of every argument. text inside ranges is
// skipped, empty cells never reach here.
func logical(c *CallContext, args []Node, all bool) Value {
	if !arity(args, 1, -1) {
		return errNA
	}
	items, errVal, ok := c.flatten(args, false)
	if !ok {
		return errVal
	}
	result := all
	for _, item := range items {
		if item.fromCell && item.value.Kind == KindString {
			continue
		}
		b := c.toBool(item.value)
		if b.IsError() {
			return b
		}
		if all {
			result = result && b.Bool
		} else {
			result = result || b.Bool
		}
	}
	return BooleanValue(result)
}

func fnAnd(c *CallContext, args []Node) Value {
	return logical(c, args, true)
}

func fnOr(c *CallContext, args []Node) Value {
	return logical(c, args, false)
}

func fnNot(c *CallContext, args []Node) Value {
	if !arity(args, 1, 1) {
		return errNA
	}
	b := c.toBool(c.Visit(args[0]))
	if b.IsError() {
		return b
	}
	return BooleanValue(!b.Bool)
}

func fnIfError(c *CallContext, args []Node) Value {
	if !arity(args, 2, 2) {
		return errNA
	}
	v := c.Visit(args[0])
	if v.IsError() {
		return c.Visit(args[1])
	}
	return v
}

// textArg evaluates an argument with the string coercion
func (c *CallContext) textArg(n Node) Value {
	return c.toText(c.Visit(n))
}

// numberArg evaluates an argument that must be numeric. empty text reads
// as 0 and any other non-numeric text is #VALUE!.
func (c *CallContext) numberArg(n Node) Value {
	v := c.deref(c.Visit(n))
	if v.Kind == KindString {
		if strings.TrimSpace(v.Str) == "" {
			return NumberValue(0)
		}
		num, ok := parseNumber(v.Str)
		if !ok {
			return ErrorValue(ErrorCodeValue)
		}
		return NumberValue(num)
	}
	return c.toNumber(v)
}

// countArg evaluates an optional character count, which must be >= 0
func (c *CallContext) countArg(args []Node, i int, fallback int) (int, Value, bool) {
	if len(args) <= i {
		return fallback, Value{}, true
	}
	n := c.numberArg(args[i])
	if n.IsError() {
		return 0, n, false
	}
	if n.Num < 0 {
		return 0, ErrorValue(ErrorCodeValue), false
	}
	return int(min(n.Num, math.MaxInt32)), Value{}, true
}

func fnLeft(c *CallContext, args []Node) Value {
	if !arity(args, 1, 2) {
		return errNA
	}
	text := c.textArg(args[0])
	if text.IsError() {
		return text
	}
	n, errVal, ok := c.countArg(args, 1, 1)
	if !ok {
		return errVal
	}
	runes := []rune(text.Str)
	return StringValue(string(runes[:min(n, len(runes))]))
}

func fnRight(c *CallContext, args []Node) Value {
	if !arity(args, 1, 2) {
		return errNA
	}
	text := c.textArg(args[0])
	if text.IsError() {
		return text
	}
	n, errVal, ok := c.countArg(args, 1, 1)
	if !ok {
		return errVal
	}
	runes := []rune(text.Str)
	return StringValue(string(runes[len(runes)-min(n, len(runes)):]))
}

func fnMid(c *CallContext, args []Node) Value {
	if !arity(args, 3, 3) {
		return errNA
	}
	text := c.textArg(args[0])
	if text.IsError() {
		return text
	}
	start := c.numberArg(args[1])
	if start.IsError() {
		return start
	}
	if start.Num < 1 {
		return ErrorValue(ErrorCodeValue)
	}
	n, errVal, ok := c.countArg(args, 2, 0)
	if !ok {
		return errVal
	}
	runes := []rune(text.Str)
	from := int(min(start.Num, math.MaxInt32)) - 1
	if from >= len(runes) {
		return StringValue("")
	}
	return StringValue(string(runes[from:min(from+n, len(runes))]))
}

func fnLen(c *CallContext, args []Node) Value {
	if !arity(args, 1, 1) {
		return errNA
	}
	text := c.textArg(args[0])
	if text.IsError() {
		return text
	}
	return NumberValue(float64(utf8.RuneCountInString(text.Str)))
}

func fnConcatenate(c *CallContext, args []Node) Value {
	if !arity(args, 1, -1) {
		return errNA
	}
	var sb strings.Builder
	for _, arg := range args {
		text := c.textArg(arg)
		if text.IsError() {
			return text
		}
		sb.WriteString(text.Str)
	}
	return StringValue(sb.String())
}

// textFunc adapts a one-argument string transform
func textFunc(fn func(string) string) Function {
	return func(c *CallContext, args []Node) Value {
		if !arity(args, 1, 1) {
			return errNA
		}
		text := c.textArg(args[0])
		if text.IsError() {
			return text
		}
		return StringValue(fn(text.Str))
	}
}

// mathFunc adapts a one-argument numeric function
func mathFunc(fn func(float64) float64) Function {
	return func(c *CallContext, args []Node) Value {
		if !arity(args, 1, 1) {
			return errNA
		}
		n := c.numberArg(args[0])
		if n.IsError() {
			return n
		}
		return finite(fn(n.Num))
	}
}

// numberArgs evaluates every argument as a number, stopping at the first
// error
func (c *CallContext) numberArgs(args []Node) ([]float64, Value, bool) {
	out := make([]float64, len(args))
	for i, arg := range args {
		n := c.numberArg(arg)
		if n.IsError() {
			return nil, n, false
		}
		out[i] = n.Num
	}
	return out, Value{}, true
}

func fnRound(c *CallContext, args []Node) Value {
	if !arity(args, 1, 2) {
		return errNA
	}
	nums, errVal, ok := c.numberArgs(args)
	if !ok {
		return errVal
	}
	places := 0.0
	if len(nums) == 2 {
		places = math.Trunc(nums[1])
	}
	multiplier := math.Pow(10, places)
	return finite(math.Round(nums[0]*multiplier) / multiplier)
}

// roundTo rounds n to a multiple of significance using step
func roundTo(c *CallContext, args []Node, step func(float64) float64) Value {
	if !arity(args, 1, 2) {
		return errNA
	}
	nums, errVal, ok := c.numberArgs(args)
	if !ok {
		return errVal
	}
	significance := 1.0
	if len(nums) == 2 {
		significance = nums[1]
	}
	if significance == 0 {
		return ErrorValue(ErrorCodeValue)
	}
	return finite(step(nums[0]/significance) * significance)
}

func fnFloor(c *CallContext, args []Node) Value {
	return roundTo(c, args, math.Floor)
}

func fnCeiling(c *CallContext, args []Node) Value {
	return roundTo(c, args, math.Ceil)
}

func fnSqrt(c *CallContext, args []Node) Value {
	if !arity(args, 1, 1) {
		return errNA
	}
	n := c.numberArg(args[0])
	if n.IsError() {
		return n
	}
	if n.Num < 0 {
		return ErrorValue(ErrorCodeValue)
	}
	return NumberValue(math.Sqrt(n.Num))
}

func fnPower(c *CallContext, args []Node) Value {
	if !arity(args, 2, 2) {
		return errNA
	}
	nums, errVal, ok := c.numberArgs(args)
	if !ok {
		return errVal
	}
	return finite(math.Pow(nums[0], nums[1]))
}

// fnMod returns a result with the sign of the divisor
func fnMod(c *CallContext, args []Node) Value {
	if !arity(args, 2, 2) {
		return errNA
	}
	nums, errVal, ok := c.numberArgs(args)
	if !ok {
		return errVal
	}
	dividend, divisor := nums[0], nums[1]
	if divisor == 0 {
		return ErrorValue(ErrorCodeValue)
	}
	return finite(dividend - divisor*math.Floor(dividend/divisor))
}

func fnPi(c *CallContext, args []Node) Value {
	if !arity(args, 0, 0) {
		return errNA
	}
	return NumberValue(math.Pi)
}

func fnRand(c *CallContext, args []Node) Value {
	if !arity(args, 0, 0) {
		return errNA
	}
	return NumberValue(c.random())
}

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// dateLayouts are the ISO-like forms the date functions accept
var dateLayouts = []string{
	dateLayout,
	dateTimeLayout,
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-1-2",
	"2006/01/02",
	"2006/1/2",
}

func parseDate(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fnToday(c *CallContext, args []Node) Value {
	if !arity(args, 0, 0) {
		return errNA
	}
	return StringValue(c.Now().Format(dateLayout))
}

func fnNow(c *CallContext, args []Node) Value {
	if !arity(args, 0, 0) {
		return errNA
	}
	return StringValue(c.Now().Format(dateTimeLayout))
}

// datePart adapts a function extracting one component of a date
func datePart(part func(time.Time) int) Function {
	return func(c *CallContext, args []Node) Value {
		if !arity(args, 1, 1) {
			return errNA
		}
		text := c.textArg(args[0])
		if text.IsError() {
			return text
		}
		t, ok := parseDate(text.Str)
		if !ok {
			return ErrorValue(ErrorCodeValue)
		}
		return NumberValue(float64(part(t)))
	}
}

// fnIsBlank is true only for a reference to an empty cell
func fnIsBlank(c *CallContext, args []Node) Value {
	if !arity(args, 1, 1) {
		return errNA
	}
	v := c.Visit(args[0])
	if v.Kind != KindReference {
		return BooleanValue(false)
	}
	text, _, ok := c.cellText(v.Ref)
	return BooleanValue(ok && text == "")
}

func fnIsNumber(c *CallContext, args []Node) Value {
	if !arity(args, 1, 1) {
		return errNA
	}
	v := c.Visit(args[0])
	switch v.Kind {
	case KindNumber:
		return BooleanValue(true)
	case KindReference:
		text, _, ok := c.cellText(v.Ref)
		if !ok {
			return BooleanValue(false)
		}
		_, numeric := parseNumber(text)
		return BooleanValue(numeric)
	case KindString, KindBoolean, KindError:
	}
	return BooleanValue(false)
}

// fnIsError is true for error values and for references to cells that
// display an error marker
func fnIsError(c *CallContext, args []Node) Value {
	if !arity(args, 1, 1) {
		return errNA
	}
	v := c.Visit(args[0])
	switch v.Kind {
	case KindError:
		return BooleanValue(true)
	case KindReference:
		text, _, ok := c.cellText(v.Ref)
		if !ok {
			return BooleanValue(true)
		}
		_, isMarker := ParseErrorMarker(text)
		return BooleanValue(isMarker)
	case KindNumber, KindString, KindBoolean:
	}
	return BooleanValue(false)
}

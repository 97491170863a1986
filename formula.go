package spreadsheet

import "sync"

// CompiledFormula is the parsed form of one formula text. a formula that
// fails to parse keeps its error and still reports its references, so the
// dependency graph tracks it like any other formula.
type CompiledFormula struct {
	Text       string
	Tree       Node
	Err        error
	References []string
	Volatile   bool
}

// FormulaCache shares compiled formulas between cells holding the same
// text. entries are reference counted and dropped when the last cell
// using them releases them.
type FormulaCache struct {
	mu        sync.Mutex
	entries   map[string]*CompiledFormula
	refCounts map[string]int
}

// NewFormulaCache creates an empty cache
func NewFormulaCache() *FormulaCache {
	return &FormulaCache{
		entries:   make(map[string]*CompiledFormula),
		refCounts: make(map[string]int),
	}
}

// Compile parses a formula without caching it
func Compile(formula string) *CompiledFormula {
	compiled := &CompiledFormula{
		Text:       formula,
		References: ExtractReferences(formula),
	}
	compiled.Tree, compiled.Err = Parse(formula)
	if compiled.Err == nil {
		compiled.Volatile = hasVolatileCall(compiled.Tree)
	}
	return compiled
}

// Acquire returns the compiled formula and adds a reference to it
func (fc *FormulaCache) Acquire(formula string) *CompiledFormula {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	compiled, ok := fc.entries[formula]
	if !ok {
		compiled = Compile(formula)
		fc.entries[formula] = compiled
	}
	fc.refCounts[formula]++
	return compiled
}

// Get returns the compiled formula, compiling it without retaining it when
// no cell holds it
func (fc *FormulaCache) Get(formula string) *CompiledFormula {
	fc.mu.Lock()
	compiled, ok := fc.entries[formula]
	fc.mu.Unlock()
	if ok {
		return compiled
	}
	return Compile(formula)
}

// Release drops one reference, evicting the entry when none remain
func (fc *FormulaCache) Release(formula string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if _, ok := fc.refCounts[formula]; !ok {
		return
	}
	fc.refCounts[formula]--
	if fc.refCounts[formula] <= 0 {
		delete(fc.refCounts, formula)
		delete(fc.entries, formula)
	}
}

// Reset drops every entry
func (fc *FormulaCache) Reset() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.entries = make(map[string]*CompiledFormula)
	fc.refCounts = make(map[string]int)
}

// Len returns the number of distinct cached formulas
func (fc *FormulaCache) Len() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.entries)
}

// References returns how many cells hold formula
func (fc *FormulaCache) References(formula string) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.refCounts[formula]
}

// hasVolatileCall reports whether the tree calls a function whose result
// changes on its own, like NOW or RAND
func hasVolatileCall(n Node) bool {
	switch n := n.(type) {
	case *FunctionNode:
		if isVolatileFunction(n.Name) {
			return true
		}
		for _, arg := range n.Args {
			if hasVolatileCall(arg) {
				return true
			}
		}
	case *ParenNode:
		return hasVolatileCall(n.Inner)
	case *BinaryNode:
		return hasVolatileCall(n.Left) || hasVolatileCall(n.Right)
	case *CompareNode:
		return hasVolatileCall(n.Left) || hasVolatileCall(n.Right)
	case *UnaryNode:
		return hasVolatileCall(n.Operand)
	case *NumberNode, *StringNode, *BooleanNode, *ReferenceNode:
	}
	return false
}

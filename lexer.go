package spreadsheet

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenEquals
	TokenNumber
	TokenString
	TokenBoolean
	TokenCell
	TokenRange
	TokenFunction
	TokenUnaryPrefixOp
	TokenUnaryPostfixOp
	TokenBinaryOp
	TokenComma
	TokenColon
	TokenLeftParen
	TokenRightParen
	TokenIdentifier
	TokenErrorMarker // #REF! and friends left behind by structural edits
	TokenWhitespace
	TokenText // anything the tolerant scanner could not classify
	TokenError
)

var tokenTypeNames = map[TokenType]string{
	TokenEOF:            "EOF",
	TokenEquals:         "EQUALS",
	TokenNumber:         "NUMBER",
	TokenString:         "STRING",
	TokenBoolean:        "BOOLEAN",
	TokenCell:           "CELL",
	TokenRange:          "RANGE",
	TokenFunction:       "FUNCTION",
	TokenUnaryPrefixOp:  "UNARY_PREFIX",
	TokenUnaryPostfixOp: "UNARY_POSTFIX",
	TokenBinaryOp:       "BINARY_OP",
	TokenComma:          "COMMA",
	TokenColon:          "COLON",
	TokenLeftParen:      "LPAREN",
	TokenRightParen:     "RPAREN",
	TokenIdentifier:     "IDENTIFIER",
	TokenErrorMarker:    "ERROR_MARKER",
	TokenWhitespace:     "WHITESPACE",
	TokenText:           "TEXT",
	TokenError:          "ERROR",
}

func (t TokenType) String() string {
	if name, ok := tokenTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// IsReference reports whether the token names a cell or a range
func (t TokenType) IsReference() bool {
	return t == TokenCell || t == TokenRange
}

// character classification constants. slightly easier to read.
const (
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charApostrophe = '\''
	charPercent    = '%'
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charColon      = ':'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
	charExclaim    = '!'
	charDollar     = '$'
	charHash       = '#'
)

// Token is a lexical token. Start and Stop are byte offsets into the
// formula (Stop exclusive) and Text is always formula[Start:Stop].
type Token struct {
	Type  TokenType
	Start int
	Stop  int
	Text  string
}

// TokenState represents the lexer state for validation
type TokenState int

const (
	StateStart TokenState = iota
	StateAfterEquals
	StateAfterValue
	StateAfterOperator
	StateAfterLeftParen
	StateAfterRightParen
	StateAfterComma
	StateAfterFunction
)

// tokenTransitions maps the current state to valid next token types
var tokenTransitions = map[TokenState]map[TokenType]bool{
	StateStart: {
		TokenEquals: true, // formula prefix
	},
	StateAfterEquals: {
		TokenNumber:        true,
		TokenString:        true,
		TokenBoolean:       true,
		TokenCell:          true,
		TokenRange:         true,
		TokenFunction:      true,
		TokenIdentifier:    true,
		TokenLeftParen:     true,
		TokenUnaryPrefixOp: true, // unary +/-
	},
	StateAfterValue: { // after number, string, boolean, cell, range
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true, // for %
		TokenRightParen:     true,
		TokenComma:          true, // only if in function
		TokenEOF:            true,
		// whitespace is significant - no consecutive values
	},
	StateAfterOperator: {
		TokenNumber:        true,
		TokenString:        true,
		TokenBoolean:       true,
		TokenCell:          true,
		TokenRange:         true,
		TokenFunction:      true,
		TokenIdentifier:    true,
		TokenLeftParen:     true,
		TokenUnaryPrefixOp: true, // only unary after binary
	},
	StateAfterLeftParen: {
		TokenNumber:        true,
		TokenString:        true,
		TokenBoolean:       true,
		TokenCell:          true,
		TokenRange:         true,
		TokenFunction:      true,
		TokenIdentifier:    true,
		TokenLeftParen:     true, // nested
		TokenUnaryPrefixOp: true, // unary
		TokenRightParen:    true, // empty parens for arg-less functions like PI()
	},
	StateAfterRightParen: {
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true, // for %
		TokenRightParen:     true, // if nested
		TokenComma:          true, // if in function
		TokenEOF:            true,
	},
	StateAfterComma: { // only valid in function context
		TokenNumber:        true,
		TokenString:        true,
		TokenBoolean:       true,
		TokenCell:          true,
		TokenRange:         true,
		TokenFunction:      true,
		TokenIdentifier:    true,
		TokenLeftParen:     true,
		TokenUnaryPrefixOp: true, // unary
	},
	StateAfterFunction: {
		TokenLeftParen: true,
	},
}

// Lexer scans formula text. the same scanner backs the strict Lex used by
// the parser and the tolerant Tokenize used for highlighting and rewriting.
type Lexer struct {
	input      string
	pos        int
	state      TokenState
	parenDepth int
}

// NewLexer creates a new lexer for the given formula input
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, state: StateStart}
}

// Lex tokenizes a complete formula, validating every state transition.
// whitespace is dropped and a trailing EOF token is appended.
func (l *Lexer) Lex() ([]Token, error) {
	if !strings.HasPrefix(l.input, "=") {
		return nil, parseError("formula must start with '='")
	}

	var tokens []Token
	for l.pos < len(l.input) {
		tok := l.nextToken()
		switch tok.Type {
		case TokenWhitespace:
			continue
		case TokenError:
			return nil, parseError(fmt.Sprintf("unexpected input at %d: %q", tok.Start, tok.Text))
		}
		if !l.validateTransition(tok.Type) {
			return nil, parseError(fmt.Sprintf("unexpected token at %d: %q", tok.Start, tok.Text))
		}
		switch tok.Type {
		case TokenLeftParen:
			l.parenDepth++
		case TokenRightParen:
			l.parenDepth--
			if l.parenDepth < 0 {
				return nil, parseError("unbalanced parentheses: too many closing parentheses")
			}
		}
		tokens = append(tokens, tok)
		l.updateState(tok.Type)
	}

	if !l.validateTransition(TokenEOF) {
		return nil, parseError("unexpected end of formula")
	}
	if l.parenDepth > 0 {
		return nil, parseError("unbalanced parentheses: missing closing parenthesis")
	}
	return append(tokens, Token{Type: TokenEOF, Start: l.pos, Stop: l.pos}), nil
}

// Tokenize scans a formula without ever failing. every byte of the input is
// covered by exactly one token, in order. whitespace and unrecognized spans
// are reported as TokenText, with adjacent text merged into one token.
func Tokenize(formula string) []Token {
	l := NewLexer(formula)
	var tokens []Token
	for l.pos < len(l.input) {
		tok := l.nextToken()
		switch tok.Type {
		case TokenWhitespace, TokenError:
			tok.Type = TokenText
		default:
			l.updateState(tok.Type)
		}
		if tok.Type == TokenText && len(tokens) > 0 && tokens[len(tokens)-1].Type == TokenText {
			last := &tokens[len(tokens)-1]
			last.Stop = tok.Stop
			last.Text = formula[last.Start:last.Stop]
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// ExtractReferences returns every cell and range reference in a formula,
// uppercased with absolute markers removed, de-duplicated in the order they
// first appear
func ExtractReferences(formula string) []string {
	var refs []string
	seen := make(map[string]struct{})
	for _, tok := range Tokenize(formula) {
		if !tok.Type.IsReference() {
			continue
		}
		ref := normalizeReferenceText(tok.Text)
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

// normalizeReferenceText uppercases a reference token and strips "$" from
// its address part, leaving any quoted sheet name intact
func normalizeReferenceText(text string) string {
	idx := strings.LastIndex(text, "!")
	prefix, address := text[:idx+1], text[idx+1:]
	return strings.ToUpper(prefix) + strings.ToUpper(strings.ReplaceAll(address, "$", ""))
}

// validateTransition checks if the token type is valid in current state
func (l *Lexer) validateTransition(tokenType TokenType) bool {
	validTokens, exists := tokenTransitions[l.state]
	if !exists {
		return false
	}
	return validTokens[tokenType]
}

// updateState updates the lexer state based on the token type
func (l *Lexer) updateState(tokenType TokenType) {
	switch tokenType {
	case TokenEquals:
		l.state = StateAfterEquals
	case TokenNumber, TokenString, TokenBoolean, TokenCell, TokenRange, TokenIdentifier, TokenErrorMarker:
		l.state = StateAfterValue
	case TokenUnaryPrefixOp, TokenBinaryOp, TokenColon:
		l.state = StateAfterOperator
	case TokenUnaryPostfixOp:
		// postfix operators don't change state
	case TokenLeftParen:
		l.state = StateAfterLeftParen
	case TokenRightParen:
		l.state = StateAfterRightParen
	case TokenComma:
		l.state = StateAfterComma
	case TokenFunction:
		l.state = StateAfterFunction
	}
}

// nextToken scans one token. it always consumes at least one byte.
func (l *Lexer) nextToken() Token {
	start := l.pos
	ch := l.input[l.pos]

	switch {
	case isSpace(ch):
		for l.pos < len(l.input) && isSpace(l.input[l.pos]) {
			l.pos++
		}
		return l.token(TokenWhitespace, start)
	case ch == charQuote:
		return l.scanString()
	case ch == charApostrophe:
		return l.scanQuotedSheetRef()
	case ch == charHash:
		return l.scanErrorMarker()
	case isDigit(ch) || (ch == charPeriod && isDigit(l.peek(1))):
		return l.scanNumber()
	case isAlpha(ch) || ch == charUnderscore || ch == charDollar:
		return l.scanIdentifierOrCell()
	}

	switch ch {
	case charLParen:
		l.pos++
		return l.token(TokenLeftParen, start)
	case charRParen:
		l.pos++
		return l.token(TokenRightParen, start)
	case charComma:
		l.pos++
		return l.token(TokenComma, start)
	case charColon:
		l.pos++
		return l.token(TokenColon, start)
	case charPlus, charMinus:
		l.pos++
		if l.isUnaryContext() {
			return l.token(TokenUnaryPrefixOp, start)
		}
		return l.token(TokenBinaryOp, start)
	case charAsterisk, charSlash, charCaret, charAmpersand:
		l.pos++
		return l.token(TokenBinaryOp, start)
	case charPercent:
		l.pos++
		return l.token(TokenUnaryPostfixOp, start)
	case charEqual:
		l.pos++
		// distinguish between formula prefix = and comparison operator =
		if start == 0 {
			return l.token(TokenEquals, start)
		}
		return l.token(TokenBinaryOp, start)
	case charLess:
		l.pos++
		if l.current() == charEqual || l.current() == charGreater {
			l.pos++
		}
		return l.token(TokenBinaryOp, start)
	case charGreater:
		l.pos++
		if l.current() == charEqual {
			l.pos++
		}
		return l.token(TokenBinaryOp, start)
	case charExclaim:
		l.pos++
		if l.current() == charEqual {
			l.pos++
			return l.token(TokenBinaryOp, start)
		}
		return l.token(TokenError, start)
	}

	// unknown character, consumed whole so multi-byte runes stay intact
	_, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	return l.token(TokenError, start)
}

func (l *Lexer) token(t TokenType, start int) Token {
	return Token{Type: t, Start: start, Stop: l.pos, Text: l.input[start:l.pos]}
}

// helper methods for character navigation and classification

func (l *Lexer) current() byte {
	return l.peek(0)
}

func (l *Lexer) peek(offset int) byte {
	pos := l.pos + offset
	if pos >= len(l.input) || pos < 0 {
		return 0
	}
	return l.input[pos]
}

func isSpace(ch byte) bool {
	return ch == charSpace || ch == charTab || ch == charNewline || ch == charReturn
}

func isWordChar(ch byte) bool {
	return isAlpha(ch) || isDigit(ch) || ch == charUnderscore || ch == charDollar
}

// scanNumber scans a number token including decimals and scientific notation
func (l *Lexer) scanNumber() Token {
	start := l.pos

	for isDigit(l.current()) {
		l.pos++
	}

	if l.current() == charPeriod {
		l.pos++ // consume '.'
		for isDigit(l.current()) {
			l.pos++
		}
	}

	// scientific notation (e or E) needs at least one exponent digit
	if l.current() == 'e' || l.current() == 'E' {
		saved := l.pos
		l.pos++
		if l.current() == charPlus || l.current() == charMinus {
			l.pos++
		}
		if !isDigit(l.current()) {
			l.pos = saved
		} else {
			for isDigit(l.current()) {
				l.pos++
			}
		}
	}

	return l.token(TokenNumber, start)
}

// scanString scans a string literal with support for double-quote escapes.
// an unclosed literal swallows the rest of the input as an error token.
func (l *Lexer) scanString() Token {
	start := l.pos
	l.pos++ // consume opening quote

	for l.pos < len(l.input) {
		if l.current() == charQuote {
			if l.peek(1) == charQuote {
				l.pos += 2
				continue
			}
			l.pos++ // consume closing quote
			return l.token(TokenString, start)
		}
		l.pos++
	}
	return l.token(TokenError, start)
}

// unquoteString returns the content of a string literal token
func unquoteString(text string) string {
	if len(text) >= 2 {
		text = text[1 : len(text)-1]
	}
	return strings.ReplaceAll(text, `""`, `"`)
}

var errorMarkers = []string{"#REF!", "#VALUE!", "#N/A!", "#ERROR!"}

// scanErrorMarker scans one of the literal error markers
func (l *Lexer) scanErrorMarker() Token {
	start := l.pos
	rest := l.input[l.pos:]
	for _, marker := range errorMarkers {
		if len(rest) >= len(marker) && strings.EqualFold(rest[:len(marker)], marker) {
			l.pos += len(marker)
			return l.token(TokenErrorMarker, start)
		}
	}
	l.pos++
	return l.token(TokenError, start)
}

// scanIdentifierOrCell scans identifiers, functions, cells, ranges,
// booleans and unquoted sheet-qualified references
func (l *Lexer) scanIdentifierOrCell() Token {
	start := l.pos
	for isWordChar(l.current()) {
		l.pos++
	}
	word := l.input[start:l.pos]
	hasDollar := strings.IndexByte(word, charDollar) >= 0

	// worksheet qualifier (identifier followed by !)
	if l.current() == charExclaim && !hasDollar {
		wordEnd := l.pos
		if tok, ok := l.scanQualifiedReference(start); ok {
			return tok
		}
		l.pos = wordEnd
		return l.token(TokenIdentifier, start)
	}

	// functions are checked before cells so names like LOG10 work
	if l.current() == charLParen && !hasDollar {
		return l.token(TokenFunction, start)
	}

	upper := strings.ToUpper(word)
	if upper == "TRUE" || upper == "FALSE" {
		return l.token(TokenBoolean, start)
	}

	if isCellText(word) {
		return l.scanRangeTail(start)
	}

	return l.token(TokenIdentifier, start)
}

// scanRangeTail is called right after a cell address. it extends the token
// to a range when ":" and a second address follow.
func (l *Lexer) scanRangeTail(start int) Token {
	if l.current() != charColon {
		return l.token(TokenCell, start)
	}
	saved := l.pos
	l.pos++ // consume ':'
	secondStart := l.pos
	for isWordChar(l.current()) {
		l.pos++
	}
	if isCellText(l.input[secondStart:l.pos]) {
		return l.token(TokenRange, start)
	}
	// not a valid range, restore position and return just the cell
	l.pos = saved
	return l.token(TokenCell, start)
}

// scanQualifiedReference scans "!A1" or "!A1:B2" following a sheet name
// that starts at start. it reports false without a usable reference.
func (l *Lexer) scanQualifiedReference(start int) (Token, bool) {
	if l.current() != charExclaim {
		return Token{}, false
	}
	l.pos++ // consume !

	cellStart := l.pos
	for isWordChar(l.current()) {
		l.pos++
	}
	if !isCellText(l.input[cellStart:l.pos]) {
		return Token{}, false
	}
	return l.scanRangeTail(start), true
}

// scanQuotedSheetRef scans a reference qualified with a quoted sheet name,
// e.g. 'My Sheet'!A1. a lone apostrophe becomes a one-byte error token.
func (l *Lexer) scanQuotedSheetRef() Token {
	start := l.pos
	l.pos++ // consume opening quote

	for l.pos < len(l.input) {
		if l.current() == charApostrophe {
			if l.peek(1) == charApostrophe {
				l.pos += 2
				continue
			}
			l.pos++ // consume closing quote
			if tok, ok := l.scanQualifiedReference(start); ok {
				return tok
			}
			break
		}
		l.pos++
	}

	l.pos = start + 1
	return l.token(TokenError, start)
}

// isCellText checks for an address like A1, $B$12 or c7
func isCellText(s string) bool {
	i := 0
	if i < len(s) && s[i] == charDollar {
		i++
	}
	letters := i
	for i < len(s) && isAlpha(s[i]) {
		i++
	}
	if i == letters || i-letters > maxColumnLetters {
		return false
	}
	if i < len(s) && s[i] == charDollar {
		i++
	}
	// rows start at 1, so no leading zero
	if i >= len(s) || s[i] < '1' || s[i] > '9' {
		return false
	}
	for ; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

// isUnaryContext checks if the current context allows for unary operators
func (l *Lexer) isUnaryContext() bool {
	// unary operators are allowed after:
	// - start of expression
	// - after equals (=)
	// - after another operator
	// - after left paren
	// - after comma
	switch l.state {
	case StateStart, StateAfterEquals, StateAfterOperator, StateAfterLeftParen, StateAfterComma:
		return true
	default:
		return false
	}
}

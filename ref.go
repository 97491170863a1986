package spreadsheet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Ref is a 1-based cell coordinate
type Ref struct {
	Row    int
	Column int
}

// Less orders refs row-major
func (r Ref) Less(other Ref) bool {
	if r.Row != other.Row {
		return r.Row < other.Row
	}
	return r.Column < other.Column
}

// String returns the canonical address, e.g. "B7"
func (r Ref) String() string {
	return FormatRef(r)
}

// Valid reports whether both components are positive
func (r Ref) Valid() bool {
	return r.Row >= 1 && r.Column >= 1
}

// CompareRefs returns -1, 0 or 1 in row-major order
func CompareRefs(a, b Ref) int {
	switch {
	case a == b:
		return 0
	case a.Less(b):
		return -1
	default:
		return 1
	}
}

const invalidReferencePrefix = "invalid reference: "

func invalidReference(text string) *AppError {
	return NewApplicationError(InvalidArgument, fmt.Sprintf("%s%q", invalidReferencePrefix, text))
}

// IsInvalidReference reports whether err came from a malformed address
func IsInvalidReference(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == InvalidArgument &&
		strings.HasPrefix(appErr.Message, invalidReferencePrefix)
}

// ParseRef parses an address like "A1" or "$ab$12". absolute markers are
// stripped and letters are uppercased before parsing.
func ParseRef(text string) (Ref, error) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(text), "$", ""))

	// find where letters end and numbers begin
	letterEnd := 0
	for letterEnd < len(s) && s[letterEnd] >= 'A' && s[letterEnd] <= 'Z' {
		letterEnd++
	}
	if letterEnd == 0 || letterEnd == len(s) {
		return Ref{}, invalidReference(text)
	}

	col, err := ColumnIndex(s[:letterEnd])
	if err != nil {
		return Ref{}, invalidReference(text)
	}

	digits := s[letterEnd:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Ref{}, invalidReference(text)
		}
	}
	row, err := strconv.Atoi(digits)
	if err != nil || row < 1 {
		return Ref{}, invalidReference(text)
	}

	return Ref{Row: row, Column: col}, nil
}

// MustParseRef is ParseRef for literals known to be valid
func MustParseRef(text string) Ref {
	ref, err := ParseRef(text)
	if err != nil {
		panic(err)
	}
	return ref
}

// FormatRef renders a ref as its canonical address
func FormatRef(r Ref) string {
	return ColumnLabel(r.Column) + strconv.Itoa(r.Row)
}

// ColumnLabel converts a 1-based column index to bijective base-26
// letters (1 -> A, 26 -> Z, 27 -> AA). non-positive input yields "".
func ColumnLabel(col int) string {
	if col < 1 {
		return ""
	}
	var buf [16]byte
	i := len(buf)
	for col > 0 {
		col--
		i--
		buf[i] = byte('A' + col%26)
		col /= 26
	}
	return string(buf[i:])
}

// maxColumnLetters bounds column labels well past any real sheet width
// while keeping the index inside an int
const maxColumnLetters = 12

// ColumnIndex is the inverse of ColumnLabel. case-insensitive.
func ColumnIndex(label string) (int, error) {
	if label == "" || len(label) > maxColumnLetters {
		return 0, invalidReference(label)
	}
	col := 0
	for i := 0; i < len(label); i++ {
		ch := label[i]
		if ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}
		if ch < 'A' || ch > 'Z' {
			return 0, invalidReference(label)
		}
		col = col*26 + int(ch-'A'+1)
	}
	return col, nil
}

// SheetKey normalizes a sheet name for case-insensitive comparison
func SheetKey(name string) string {
	return strings.ToUpper(name)
}

// SplitSheet separates an optional sheet qualifier from an address.
// "'My Sheet'!A1" -> ("My Sheet", "A1"); "A1" -> ("", "A1").
func SplitSheet(text string) (sheet string, address string) {
	idx := strings.LastIndex(text, "!")
	if idx == -1 {
		return "", text
	}
	sheet = text[:idx]
	address = text[idx+1:]
	if len(sheet) >= 2 && sheet[0] == '\'' && sheet[len(sheet)-1] == '\'' {
		sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}
	return sheet, address
}

// QualifyAddress prefixes an address with a sheet name, quoting names
// that are not plain identifiers
func QualifyAddress(sheet, address string) string {
	if sheet == "" {
		return address
	}
	if needsQuoting(sheet) {
		return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + address
	}
	return sheet + "!" + address
}

func needsQuoting(sheet string) bool {
	for i := 0; i < len(sheet); i++ {
		ch := sheet[i]
		if !(isAlpha(ch) || isDigit(ch) || ch == '_') {
			return true
		}
	}
	return isDigit(sheet[0])
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

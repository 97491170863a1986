package spreadsheet

// StringID identifies an interned string. 0 is never assigned.
type StringID uint32

// StringTable interns cell text with reference counting, so repeated
// values across a large sheet share one copy
type StringTable struct {
	ids       map[string]StringID
	values    map[StringID]string
	refCounts map[StringID]int // reference count for each string ID
	nextID    StringID
}

// NewStringTable creates a new string table
func NewStringTable() *StringTable {
	return &StringTable{
		ids:       make(map[string]StringID),
		values:    make(map[StringID]string),
		refCounts: make(map[StringID]int),
		nextID:    1, // start at 1, reserve 0 for the empty string
	}
}

// Intern adds a string to the table or increments its reference count if
// it already exists. the empty string is always ID 0 and is not counted.
func (st *StringTable) Intern(s string) StringID {
	if s == "" {
		return 0
	}
	if id, exists := st.ids[s]; exists {
		st.refCounts[id]++
		return id
	}

	id := st.nextID
	st.ids[s] = id
	st.values[id] = s
	st.refCounts[id] = 1
	st.nextID++
	return id
}

// Lookup retrieves a string by its ID
func (st *StringTable) Lookup(id StringID) string {
	return st.values[id]
}

// Release drops one reference. the string is removed once no reference is
// left. returns true if the string was removed.
func (st *StringTable) Release(id StringID) bool {
	s, exists := st.values[id]
	if !exists {
		return false
	}

	st.refCounts[id]--
	if st.refCounts[id] <= 0 {
		delete(st.ids, s)
		delete(st.values, id)
		delete(st.refCounts, id)
		return true
	}
	return false
}

// References returns the reference count for a string ID
func (st *StringTable) References(id StringID) int {
	return st.refCounts[id]
}

// Len returns the number of unique strings in the table
func (st *StringTable) Len() int {
	return len(st.ids)
}

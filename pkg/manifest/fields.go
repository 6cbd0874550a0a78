package manifest

// FieldTable interns manifest field names into stable small integers.
// IDs are assigned in first-seen order and never invalidated; the table
// only grows. The compiler builds command trajectories out of these IDs
// and the workflow log resolves them back to names, so both sides must
// share the same table.
type FieldTable struct {
	names []string
	ids   map[string]int
}

// NewFieldTable returns an empty field table.
func NewFieldTable() *FieldTable {
	return &FieldTable{ids: make(map[string]int)}
}

// ID returns the index for name, interning it if unseen.
func (t *FieldTable) ID(name string) int {
	if id, ok := t.ids[name]; ok {
		return id
	}
	id := len(t.names)
	t.names = append(t.names, name)
	t.ids[name] = id
	return id
}

// Lookup returns the index for name without interning it.
func (t *FieldTable) Lookup(name string) (int, bool) {
	id, ok := t.ids[name]
	return id, ok
}

// Name maps an index back to its field name.
func (t *FieldTable) Name(id int) (string, bool) {
	if id < 0 || id >= len(t.names) {
		return "", false
	}
	return t.names[id], true
}

// Len reports how many names have been interned.
func (t *FieldTable) Len() int {
	return len(t.names)
}

// Names returns the interned names in ID order. The returned slice is a
// copy and safe to retain.
func (t *FieldTable) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

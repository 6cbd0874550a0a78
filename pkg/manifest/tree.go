// Package manifest holds the instantiated workflow manifest as an arena of
// indexed nodes. Objects keep their document field order, field names are
// interned into a FieldTable, and every node is addressed by index, so a
// trajectory of field IDs is a cheap, stable handle into the tree.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Reserved field names that mark an object as a step node. FieldActive is
// an optional string boolean; an inactive step compiles but never runs.
const (
	FieldExecutionOrder = "Execution Order"
	FieldProgramName    = "Program Name"
	FieldActive         = "Active"
)

// MetaInfoField names the top-level section the compiler ignores.
const MetaInfoField = "meta_info"

// Kind discriminates arena nodes.
type Kind uint8

const (
	// KindObject is a JSON object with ordered fields.
	KindObject Kind = iota
	// KindLeaf is any non-object value, kept as its raw JSON encoding.
	KindLeaf
)

// Field is one named edge of an object node. Name is a FieldTable ID and
// Child an index into the arena.
type Field struct {
	Name  int
	Child int
}

// Node is one arena slot: an ordered object or a raw leaf.
type Node struct {
	Kind   Kind
	Fields []Field
	Raw    json.RawMessage
}

// Tree is a parsed manifest document. Nodes[Root] is the document object.
type Tree struct {
	Fields *FieldTable
	Nodes  []Node
	Root   int
}

// Load reads and parses a manifest JSON file.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a manifest document into an arena tree. Field IDs are
// assigned in document order during this single pass, so the assignment is
// deterministic for a given input encoding. The document root must be an
// object.
func Parse(data []byte) (*Tree, error) {
	t := &Tree{Fields: NewFieldTable()}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("manifest root must be a JSON object")
	}
	root, err := t.parseObject(trimmed)
	if err != nil {
		return nil, err
	}
	t.Root = root
	return t, nil
}

func (t *Tree) parseObject(raw []byte) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil { // consume '{'
		return 0, fmt.Errorf("decode object: %w", err)
	}
	idx := t.add(Node{Kind: KindObject})
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return 0, fmt.Errorf("decode object key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return 0, fmt.Errorf("object key is not a string: %v", tok)
		}
		if seen[key] {
			return 0, fmt.Errorf("duplicate key %q in object", key)
		}
		seen[key] = true
		child, err := t.parseValue(dec)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		t.Nodes[idx].Fields = append(t.Nodes[idx].Fields, Field{
			Name:  t.Fields.ID(key),
			Child: child,
		})
	}
	if _, err := dec.Token(); err != nil { // consume '}'
		return 0, fmt.Errorf("decode object end: %w", err)
	}
	return idx, nil
}

func (t *Tree) parseValue(dec *json.Decoder) (int, error) {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return 0, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return t.parseObject(trimmed)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return 0, fmt.Errorf("compact value: %w", err)
	}
	return t.add(Node{Kind: KindLeaf, Raw: append(json.RawMessage(nil), compact.Bytes()...)}), nil
}

func (t *Tree) add(n Node) int {
	t.Nodes = append(t.Nodes, n)
	return len(t.Nodes) - 1
}

// Resolve walks a field trajectory from the root and returns the node index
// it lands on. Trajectories are produced by the compiler and resolve through
// the same table that produced them, so failure here indicates corruption.
func (t *Tree) Resolve(traj []int) (int, error) {
	cur := t.Root
	for _, fid := range traj {
		node := t.Nodes[cur]
		if node.Kind != KindObject {
			name, _ := t.Fields.Name(fid)
			return 0, fmt.Errorf("trajectory enters non-object at field %q", name)
		}
		next := -1
		for _, f := range node.Fields {
			if f.Name == fid {
				next = f.Child
				break
			}
		}
		if next < 0 {
			name, _ := t.Fields.Name(fid)
			return 0, fmt.Errorf("trajectory field %q not found", name)
		}
		cur = next
	}
	return cur, nil
}

// Child returns the node index of the named field of object node obj.
func (t *Tree) Child(obj int, name string) (int, bool) {
	fid, ok := t.Fields.Lookup(name)
	if !ok {
		return 0, false
	}
	node := t.Nodes[obj]
	if node.Kind != KindObject {
		return 0, false
	}
	for _, f := range node.Fields {
		if f.Name == fid {
			return f.Child, true
		}
	}
	return 0, false
}

// LeafString returns the decoded string value of a leaf node.
func (t *Tree) LeafString(idx int) (string, error) {
	node := t.Nodes[idx]
	if node.Kind != KindLeaf {
		return "", fmt.Errorf("node is not a leaf")
	}
	var s string
	if err := json.Unmarshal(node.Raw, &s); err != nil {
		return "", fmt.Errorf("leaf is not a string: %s", node.Raw)
	}
	return s, nil
}

// SetLeaf replaces the raw value of a leaf node.
func (t *Tree) SetLeaf(idx int, raw json.RawMessage) error {
	if idx < 0 || idx >= len(t.Nodes) || t.Nodes[idx].Kind != KindLeaf {
		return fmt.Errorf("node %d is not a leaf", idx)
	}
	t.Nodes[idx].Raw = append(json.RawMessage(nil), raw...)
	return nil
}

// RewriteLeaves replaces every leaf reachable through a field named name
// with raw, returning how many were rewritten. Used by post-instantiation
// patching, which is plain key replacement on the flat manifest.
func (t *Tree) RewriteLeaves(name string, raw json.RawMessage) int {
	fid, ok := t.Fields.Lookup(name)
	if !ok {
		return 0
	}
	count := 0
	for i := range t.Nodes {
		if t.Nodes[i].Kind != KindObject {
			continue
		}
		for _, f := range t.Nodes[i].Fields {
			if f.Name == fid && t.Nodes[f.Child].Kind == KindLeaf {
				t.Nodes[f.Child].Raw = append(json.RawMessage(nil), raw...)
				count++
			}
		}
	}
	return count
}

// Clone returns a deep copy of the tree sharing nothing with the receiver
// except interned name strings.
func (t *Tree) Clone() *Tree {
	ft := NewFieldTable()
	for _, name := range t.Fields.Names() {
		ft.ID(name)
	}
	nodes := make([]Node, len(t.Nodes))
	for i, n := range t.Nodes {
		cp := Node{Kind: n.Kind}
		if n.Fields != nil {
			cp.Fields = append([]Field(nil), n.Fields...)
		}
		if n.Raw != nil {
			cp.Raw = append(json.RawMessage(nil), n.Raw...)
		}
		nodes[i] = cp
	}
	return &Tree{Fields: ft, Nodes: nodes, Root: t.Root}
}

// Encode renders the tree as indented JSON, preserving document field order.
// Leaves are re-indented from their compact form, so encoding is
// deterministic and re-parsing the output reproduces the same tree.
func (t *Tree) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.writeNode(&buf, t.Root, ""); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *Tree) writeNode(buf *bytes.Buffer, idx int, prefix string) error {
	node := t.Nodes[idx]
	if node.Kind == KindLeaf {
		return json.Indent(buf, node.Raw, prefix, "  ")
	}
	if len(node.Fields) == 0 {
		buf.WriteString("{}")
		return nil
	}
	inner := prefix + "  "
	buf.WriteString("{\n")
	for i, f := range node.Fields {
		name, ok := t.Fields.Name(f.Name)
		if !ok {
			return fmt.Errorf("unknown field ID %d", f.Name)
		}
		quoted, err := json.Marshal(name)
		if err != nil {
			return fmt.Errorf("encode field name: %w", err)
		}
		buf.WriteString(inner)
		buf.Write(quoted)
		buf.WriteString(": ")
		if err := t.writeNode(buf, f.Child, inner); err != nil {
			return err
		}
		if i < len(node.Fields)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString(prefix)
	buf.WriteByte('}')
	return nil
}

// MetaInfo returns the node index of the top-level meta_info object, if any.
func (t *Tree) MetaInfo() (int, bool) {
	idx, ok := t.Child(t.Root, MetaInfoField)
	if !ok || t.Nodes[idx].Kind != KindObject {
		return 0, false
	}
	return idx, true
}

// MetaString reads a string-valued field from the meta_info section.
func (t *Tree) MetaString(name string) (string, bool) {
	meta, ok := t.MetaInfo()
	if !ok {
		return "", false
	}
	child, ok := t.Child(meta, name)
	if !ok {
		return "", false
	}
	s, err := t.LeafString(child)
	if err != nil {
		return "", false
	}
	return s, true
}

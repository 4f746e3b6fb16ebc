// Package formschema decodes form-builder schemas into a typed node tree and
// flattens that tree into the ordered list of field paths used as export
// columns.
//
// A stored schema is decoded exactly once into one of four node variants:
//
//   - [Leaf]: an input component that owns a value in submission data
//   - [Columns]: a layout row of columns, each holding components
//   - [Rows]: a table layout, rows of cells, each cell holding components
//   - [Group]: any container with a plain component list (panels, fieldsets,
//     tabs, data grids, containers), and any component carrying more than
//     one child collection
//
// Malformed entries (null components, non-object entries, container
// collections of the wrong JSON type) are dropped while decoding so that a
// broken sub-tree never blocks export of the rest of the form.
package formschema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Node is one decoded schema component. The concrete type is one of Leaf,
// Columns, Rows or Group.
type Node interface {
	node()
}

// Leaf is an input component. Input is false for display-only components
// (content blocks, HTML elements) that never carry submission data.
type Leaf struct {
	Type  string
	Key   string
	Input bool
}

// Columns is a layout component whose children are split across columns.
type Columns struct {
	Type    string
	Key     string
	Columns [][]Node
}

// Rows is a table layout: Rows[row][cell] holds the cell's components.
type Rows struct {
	Type string
	Key  string
	Rows [][][]Node
}

// Group is a container with a single component list. When Tree is set the
// container stores its children's values nested under its own key.
type Group struct {
	Type       string
	Key        string
	Tree       bool
	Components []Node
}

func (Leaf) node()    {}
func (Columns) node() {}
func (Rows) node()    {}
func (Group) node()   {}

// dataContainers nest their children's values under the container key even
// when the schema omits the tree flag.
var dataContainers = map[string]bool{
	"datagrid":  true,
	"editgrid":  true,
	"container": true,
	"datamap":   true,
	"tagpad":    true,
}

// rawComponent is the subset of a form-builder component the decoder reads.
type rawComponent struct {
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	Tree       bool            `json:"tree"`
	Input      *bool           `json:"input"`
	Columns    json.RawMessage `json:"columns"`
	Rows       json.RawMessage `json:"rows"`
	Components json.RawMessage `json:"components"`
}

// rawColumn is a column or table cell: only its component list matters.
type rawColumn struct {
	Components json.RawMessage `json:"components"`
}

// Decode parses a stored form schema. It accepts either the full schema
// document ({"components": [...]}) or a bare component array. A null or empty
// document decodes to no nodes. Only input that is not JSON at all is an
// error; every structural problem below the top level is skipped.
func Decode(raw []byte) ([]Node, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("decode form schema: invalid JSON")
	}

	switch raw[0] {
	case '[':
		return decodeList(raw), nil
	case '{':
		var doc struct {
			Components json.RawMessage `json:"components"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode form schema: %w", err)
		}
		return decodeList(doc.Components), nil
	default:
		return nil, nil
	}
}

// decodeList decodes a JSON array of components, dropping entries that are
// not objects. Anything other than an array yields nil.
func decodeList(raw json.RawMessage) []Node {
	items, ok := rawArray(raw)
	if !ok {
		return nil
	}

	nodes := make([]Node, 0, len(items))
	for _, item := range items {
		if n, ok := decodeComponent(item); ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// decodeComponent picks the node variant from the child collections present.
// A component carrying more than one collection becomes a Group holding its
// columns, its rows and then its components, so none of them is lost.
func decodeComponent(raw json.RawMessage) (Node, bool) {
	if !isObject(raw) {
		return nil, false
	}
	var c rawComponent
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false
	}

	var parts []Node
	if cols, ok := rawArray(c.Columns); ok {
		out := make([][]Node, 0, len(cols))
		for _, col := range cols {
			if children, ok := decodeCell(col); ok {
				out = append(out, children)
			}
		}
		parts = append(parts, Columns{Type: c.Type, Key: c.Key, Columns: out})
	}

	if rows, ok := rawArray(c.Rows); ok {
		out := make([][][]Node, 0, len(rows))
		for _, row := range rows {
			cells, ok := rawArray(row)
			if !ok {
				continue
			}
			decoded := make([][]Node, 0, len(cells))
			for _, cell := range cells {
				if children, ok := decodeCell(cell); ok {
					decoded = append(decoded, children)
				}
			}
			out = append(out, decoded)
		}
		parts = append(parts, Rows{Type: c.Type, Key: c.Key, Rows: out})
	}

	_, hasComponents := rawArray(c.Components)
	if len(parts) == 1 && !hasComponents {
		return parts[0], true
	}
	if len(parts) > 0 || hasComponents {
		return Group{
			Type:       c.Type,
			Key:        c.Key,
			Tree:       c.Tree || dataContainers[c.Type],
			Components: append(parts, decodeList(c.Components)...),
		}, true
	}

	input := true
	if c.Input != nil {
		input = *c.Input
	}
	return Leaf{Type: c.Type, Key: c.Key, Input: input}, true
}

// decodeCell decodes one column or table cell object.
func decodeCell(raw json.RawMessage) ([]Node, bool) {
	if !isObject(raw) {
		return nil, false
	}
	var col rawColumn
	if err := json.Unmarshal(raw, &col); err != nil {
		return nil, false
	}
	return decodeList(col.Components), true
}

// rawArray splits a raw JSON array into its elements. It reports false for
// anything that is not an array.
func rawArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

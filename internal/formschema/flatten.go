package formschema

// Flatten walks the node tree depth-first in declaration order and returns
// the field path of every input leaf. Layout containers contribute nothing
// to the path; tree containers prefix their children with their own key.
// The result never contains duplicates and is never nil.
func Flatten(nodes []Node) []string {
	w := &walker{
		paths: make([]string, 0),
		seen:  make(map[string]struct{}),
	}
	w.walk(nodes, "")
	return w.paths
}

// FlattenSchema decodes raw and flattens it in one step.
func FlattenSchema(raw []byte) ([]string, error) {
	nodes, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return Flatten(nodes), nil
}

// walker accumulates paths for a single Flatten call.
type walker struct {
	paths []string
	seen  map[string]struct{}
}

func (w *walker) walk(nodes []Node, prefix string) {
	for _, n := range nodes {
		switch n := n.(type) {
		case Columns:
			for _, col := range n.Columns {
				w.walk(col, prefix)
			}
		case Rows:
			for _, row := range n.Rows {
				for _, cell := range row {
					w.walk(cell, prefix)
				}
			}
		case Group:
			childPrefix := prefix
			if n.Tree && n.Key != "" {
				childPrefix = join(prefix, n.Key)
			}
			w.walk(n.Components, childPrefix)
		case Leaf:
			if !n.Input || n.Key == "" {
				continue
			}
			w.emit(join(prefix, n.Key))
		}
	}
}

func (w *walker) emit(path string) {
	if _, dup := w.seen[path]; dup {
		return
	}
	w.seen[path] = struct{}{}
	w.paths = append(w.paths, path)
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

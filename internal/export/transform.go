package export

import (
	"strconv"
	"strings"
)

// unwindPaths lists every array-valued path found in rows, in first-seen
// order. Arrays inside array elements are reported under the parent path,
// since that is where the element sits once the parent has been unwound.
// A parent path always precedes its nested paths.
func unwindPaths(rows []*Object) [][]string {
	var (
		paths [][]string
		seen  = make(map[string]struct{})
	)

	var walk func(o *Object, prefix []string)
	visit := func(path []string, v any) {
		switch v := v.(type) {
		case []any:
			id := strings.Join(path, "\x00")
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				paths = append(paths, path)
			}
			for _, el := range v {
				if child, ok := el.(*Object); ok {
					walk(child, path)
				}
			}
		case *Object:
			walk(v, path)
		}
	}
	walk = func(o *Object, prefix []string) {
		for _, k := range o.keys {
			path := make([]string, len(prefix)+1)
			copy(path, prefix)
			path[len(prefix)] = k
			visit(path, o.vals[k])
		}
	}

	for _, row := range rows {
		walk(row, nil)
	}
	return paths
}

// unwind expands row into one row per array element. The arrays currently
// reachable in row are unwound together: row i holds element i of each of
// them, and an array shorter than the longest leaves null in its place. An
// empty array becomes a single null. Arrays inside an element are unwound
// the same way beneath that element's row.
//
// The first row keeps every other value of row. Continuation rows repeat
// those values, or leave them out when blankOut is set. Both modes yield
// the same rows with the same unwound values.
func unwind(row *Object, paths [][]string, blankOut bool) []*Object {
	var (
		level  [][]string
		arrays [][]any
		n      = 1
	)
	for _, path := range paths {
		v, _ := getPath(row, path)
		arr, ok := v.([]any)
		if !ok {
			continue
		}
		level = append(level, path)
		arrays = append(arrays, arr)
		n = max(n, len(arr))
	}
	if len(level) == 0 {
		return []*Object{row}
	}

	out := make([]*Object, 0, n)
	for i := 0; i < n; i++ {
		next := row
		if blankOut && i > 0 {
			next = NewObject()
		}
		for j, path := range level {
			var el any
			if i < len(arrays[j]) {
				el = arrays[j][i]
			}
			next = setPath(next, path, el)
		}
		out = append(out, unwind(next, paths, blankOut)...)
	}
	return out
}

func getPath(o *Object, path []string) (any, bool) {
	var cur any = o
	for _, k := range path {
		obj, ok := cur.(*Object)
		if !ok {
			return nil, false
		}
		if cur, ok = obj.Get(k); !ok {
			return nil, false
		}
	}
	return cur, true
}

// setPath returns a copy of o with v stored at path. Intermediate objects
// along the path are copied; o itself is left untouched.
func setPath(o *Object, path []string, v any) *Object {
	out := o.Clone()
	if len(path) == 1 {
		out.Set(path[0], v)
		return out
	}
	child, _ := out.vals[path[0]].(*Object)
	if child == nil {
		child = NewObject()
	}
	out.Set(path[0], setPath(child, path[1:], v))
	return out
}

// flatten turns nested objects and arrays into dotted keys. Array elements
// are addressed by index. An empty object is kept as a value; an empty array
// contributes no key.
func flatten(row *Object) *Object {
	out := NewObject()
	for _, k := range row.keys {
		flattenValue(out, k, row.vals[k])
	}
	return out
}

func flattenValue(out *Object, path string, v any) {
	switch v := v.(type) {
	case *Object:
		if v.Len() == 0 {
			out.Set(path, v)
			return
		}
		for _, k := range v.keys {
			flattenValue(out, path+"."+k, v.vals[k])
		}
	case []any:
		for i, el := range v {
			flattenValue(out, path+"."+strconv.Itoa(i), el)
		}
	default:
		out.Set(path, v)
	}
}

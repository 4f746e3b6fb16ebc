package store

import (
	"fmt"
	"strings"
)

// whereBuilder assembles a WHERE clause with numbered placeholders.
type whereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

func newWhereBuilder() *whereBuilder {
	return &whereBuilder{argIndex: 1}
}

// Add adds "col = $n". Empty values are skipped.
func (wb *whereBuilder) Add(col, val string) {
	if val == "" {
		return
	}
	wb.AddCond(col+" = %s", val)
}

// AddCond adds a condition whose single %s is replaced by the next
// placeholder.
func (wb *whereBuilder) AddCond(format string, val any) {
	wb.conditions = append(wb.conditions, fmt.Sprintf(format, fmt.Sprintf("$%d", wb.argIndex)))
	wb.args = append(wb.args, val)
	wb.argIndex++
}

// Build returns the clause, with a leading space, and its arguments. Both
// are empty when no condition was added.
func (wb *whereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}
